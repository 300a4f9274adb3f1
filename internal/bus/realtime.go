package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/gorilla/websocket"

	"github.com/quartershq/quarters/internal/store"
)

const (
	// writeWait bounds outbound frame writes.
	writeWait = 10 * time.Second

	// pongWait is how long to wait for the server's pong; pings go out at
	// a fraction of this.
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// reconnect backoff bounds
	reconnectDelay    = time.Second
	reconnectMaxDelay = 30 * time.Second
)

// frame is the realtime wire format: one JSON object per change event or
// control message.
type frame struct {
	Topic  string    `json:"topic"`
	Event  string    `json:"event"` // "subscribe", "unsubscribe", "insert", "update"
	Record store.Row `json:"record,omitempty"`
}

// Client is a websocket Bus speaking the hosted store's realtime protocol.
// One connection multiplexes every subscription; topics are derived from
// (table, entity id). A dropped connection is redialed with backoff and
// every open topic is re-announced, so subscriptions outlive network blips.
type Client struct {
	url    string
	apiKey string
	logger *slog.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	subs   map[string][]*rtSub // by topic
	closed bool

	// dialCtx is the context Connect was given; redials inherit it.
	dialCtx context.Context

	done chan struct{}
}

// NewClient creates a realtime client for the given websocket URL.
func NewClient(url, apiKey string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		url:    url,
		apiKey: apiKey,
		logger: logger,
		subs:   make(map[string][]*rtSub),
		done:   make(chan struct{}),
	}
}

// Connect dials the realtime endpoint and starts the read and ping loops.
func (c *Client) Connect(ctx context.Context) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return fmt.Errorf("failed to dial realtime endpoint: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.dialCtx = ctx
	c.mu.Unlock()

	go c.readLoop(conn)
	go c.pingLoop(conn)

	c.logger.Info("realtime connection established", "url", c.url)
	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	header := map[string][]string{}
	if c.apiKey != "" {
		header["Authorization"] = []string{"Bearer " + c.apiKey}
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, header)
	return conn, err
}

// Subscribe opens a topic on the shared connection.
func (c *Client) Subscribe(ctx context.Context, table string, filter Filter) (Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrBusClosed
	}

	topic := topicFor(table, filter.EntityID)
	sub := &rtSub{
		client: c,
		topic:  topic,
		table:  table,
		filter: filter,
		events: make(chan Event, subBuffer),
	}

	// First subscription on a topic announces it to the server. A nil
	// conn means a reconnect is in flight; the reconnect pass announces
	// every open topic once the new connection is up.
	if c.conn != nil && len(c.subs[topic]) == 0 {
		if err := c.writeFrame(frame{Topic: topic, Event: "subscribe"}); err != nil {
			return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
		}
	}
	c.subs[topic] = append(c.subs[topic], sub)

	c.logger.Debug("realtime subscription opened", "topic", topic)
	return sub, nil
}

// Close stops the client and tears down every subscription.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	conn := c.conn
	var all []*rtSub
	for _, subs := range c.subs {
		all = append(all, subs...)
	}
	c.subs = make(map[string][]*rtSub)
	c.mu.Unlock()

	for _, sub := range all {
		sub.closeChan()
	}
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn) {
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.logger.Warn("realtime connection lost", "error", err)
				c.reconnect()
			}
			return
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.logger.Warn("malformed realtime frame", "error", err)
			continue
		}
		c.dispatch(f)
	}
}

// reconnect redials with backoff and re-announces every open topic.
// Subscriptions stay registered throughout, so subscribers only see a
// gap in events, never a closed channel.
func (c *Client) reconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	ctx := c.dialCtx
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	var conn *websocket.Conn
	err := retry.Do(
		func() error {
			select {
			case <-c.done:
				return retry.Unrecoverable(ErrBusClosed)
			default:
			}
			var derr error
			conn, derr = c.dial(ctx)
			return derr
		},
		retry.Context(ctx),
		retry.Attempts(0), // until the context or client closes
		retry.Delay(reconnectDelay),
		retry.MaxDelay(reconnectMaxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Warn("realtime reconnect failed", "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		c.logger.Error("realtime reconnect abandoned", "error", err)
		_ = c.Close()
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.conn = conn
	topics := 0
	for topic := range c.subs {
		if werr := c.writeFrame(frame{Topic: topic, Event: "subscribe"}); werr != nil {
			c.logger.Warn("failed to re-announce topic", "topic", topic, "error", werr)
			continue
		}
		topics++
	}
	c.mu.Unlock()

	go c.readLoop(conn)
	go c.pingLoop(conn)

	c.logger.Info("realtime connection re-established", "url", c.url, "topics", topics)
}

func (c *Client) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// dispatch routes a change frame to subscriptions on its topic.
func (c *Client) dispatch(f frame) {
	kind := Kind(f.Event)
	if kind != KindInsert && kind != KindUpdate {
		return // control frame
	}

	table := tableFromTopic(f.Topic)
	event := Event{Kind: kind, Table: table, Row: f.Record}

	c.mu.Lock()
	subs := make([]*rtSub, len(c.subs[f.Topic]))
	copy(subs, c.subs[f.Topic])
	c.mu.Unlock()

	for _, sub := range subs {
		if !sub.filter.Matches(event) {
			continue
		}
		if !sub.trySend(event) {
			c.logger.Warn("subscriber buffer full, dropping event",
				"topic", f.Topic,
				"kind", kind)
		}
	}
}

// writeFrame sends a control frame; callers hold c.mu.
func (c *Client) writeFrame(f frame) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(f)
}

func (c *Client) removeSub(sub *rtSub) {
	c.mu.Lock()
	defer c.mu.Unlock()

	subs := c.subs[sub.topic]
	for i, s := range subs {
		if s == sub {
			c.subs[sub.topic] = append(subs[:i], subs[i+1:]...)
			break
		}
	}

	// Last subscription on a topic releases it server-side.
	if len(c.subs[sub.topic]) == 0 {
		delete(c.subs, sub.topic)
		if !c.closed && c.conn != nil {
			_ = c.writeFrame(frame{Topic: sub.topic, Event: "unsubscribe"})
		}
	}
}

func topicFor(table, entityID string) string {
	if entityID == "" {
		return "changes:" + table
	}
	return "changes:" + table + ":" + entityID
}

func tableFromTopic(topic string) string {
	parts := strings.Split(topic, ":")
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}

type rtSub struct {
	client *Client
	topic  string
	table  string
	filter Filter

	mu     sync.Mutex
	events chan Event
	closed bool
}

func (s *rtSub) Events() <-chan Event {
	return s.events
}

func (s *rtSub) Close() error {
	s.client.removeSub(s)
	s.closeChan()
	return nil
}

func (s *rtSub) trySend(event Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.events <- event:
		return true
	default:
		return false
	}
}

func (s *rtSub) closeChan() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
}
