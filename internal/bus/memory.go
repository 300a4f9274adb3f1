package bus

import (
	"context"
	"log/slog"
	"sync"
)

// subBuffer is the per-subscription event buffer. Deliveries beyond it are
// dropped rather than blocking the publisher.
const subBuffer = 16

// Broker is an in-memory Bus. It backs tests and the embedded dev store,
// where the process producing store writes can publish its own notifications.
type Broker struct {
	mu     sync.Mutex
	subs   map[int]*memSub
	nextID int
	closed bool
	logger *slog.Logger
}

// NewBroker creates a new in-memory broker.
func NewBroker(logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		subs:   make(map[int]*memSub),
		logger: logger,
	}
}

// Subscribe registers a new subscription for a table and filter.
func (b *Broker) Subscribe(ctx context.Context, table string, filter Filter) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBusClosed
	}

	id := b.nextID
	b.nextID++

	sub := &memSub{
		id:     id,
		broker: b,
		table:  table,
		filter: filter,
		events: make(chan Event, subBuffer),
	}
	b.subs[id] = sub

	b.logger.Debug("bus subscription opened",
		"table", table,
		"entity_id", filter.EntityID,
		"total_subscriptions", len(b.subs))
	return sub, nil
}

// Publish fans an event out to every matching subscription. Events for a
// subscriber whose buffer is full are dropped with a warning; delivery is
// best-effort by design and the watcher's poll fallback covers gaps.
func (b *Broker) Publish(event Event) {
	b.mu.Lock()
	subs := make([]*memSub, 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		if sub.table != event.Table || !sub.filter.Matches(event) {
			continue
		}
		if !sub.trySend(event) {
			b.logger.Warn("subscriber buffer full, dropping event",
				"table", event.Table,
				"kind", event.Kind)
		}
	}
}

// Close tears down the broker and every open subscription.
func (b *Broker) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := make([]*memSub, 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}
	b.subs = make(map[int]*memSub)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.closeChan()
	}
	b.logger.Info("bus closed", "subscriptions_torn_down", len(subs))
}

// SubscriptionCount returns the number of open subscriptions.
func (b *Broker) SubscriptionCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

type memSub struct {
	id     int
	broker *Broker
	table  string
	filter Filter

	mu     sync.Mutex
	events chan Event
	closed bool
}

func (s *memSub) Events() <-chan Event {
	return s.events
}

func (s *memSub) Close() error {
	s.broker.mu.Lock()
	delete(s.broker.subs, s.id)
	s.broker.mu.Unlock()
	s.closeChan()
	return nil
}

// trySend delivers an event unless the subscription is closed or full.
func (s *memSub) trySend(event Event) bool {
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

func (s *memSub) closeChan() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
}
