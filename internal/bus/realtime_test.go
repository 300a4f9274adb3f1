package bus

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/quartershq/quarters/internal/store"
)

// fakeRealtime is a minimal realtime server: it records subscribe frames
// and lets the test push change frames back down the socket.
type fakeRealtime struct {
	upgrader websocket.Upgrader

	mu     sync.Mutex
	conn   *websocket.Conn
	topics []string
}

func (f *fakeRealtime) handler(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()

	for {
		var fr frame
		if err := conn.ReadJSON(&fr); err != nil {
			return
		}
		f.mu.Lock()
		f.topics = append(f.topics, fr.Event+" "+fr.Topic)
		f.mu.Unlock()
	}
}

func (f *fakeRealtime) push(t *testing.T, fr frame) {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn == nil {
		t.Fatal("no client connected")
	}
	data, _ := json.Marshal(fr)
	if err := f.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("push: %v", err)
	}
}

func (f *fakeRealtime) sawTopic(want string) bool {
	return f.countTopic(want) > 0
}

func (f *fakeRealtime) countTopic(want string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, topic := range f.topics {
		if topic == want {
			n++
		}
	}
	return n
}

// drop severs the current connection from the server side.
func (f *fakeRealtime) drop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn != nil {
		_ = f.conn.Close()
	}
}

func newRealtimePair(t *testing.T) (*Client, *fakeRealtime) {
	t.Helper()

	fake := &fakeRealtime{}
	server := httptest.NewServer(http.HandlerFunc(fake.handler))
	t.Cleanup(server.Close)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	client := NewClient(wsURL, "test-key", nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	return client, fake
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestRealtimeClient_SubscribeAndReceive(t *testing.T) {
	client, fake := newRealtimePair(t)

	sub, err := client.Subscribe(context.Background(), store.TablePropertyImages, Filter{EntityID: "prop-1"})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	waitFor(t, time.Second, func() bool {
		return fake.sawTopic("subscribe changes:property_images:prop-1")
	})

	fake.push(t, frame{
		Topic:  "changes:property_images:prop-1",
		Event:  "insert",
		Record: store.Row{"id": "img-1", store.EntityColumn: "prop-1"},
	})

	select {
	case event := <-sub.Events():
		if event.Kind != KindInsert {
			t.Errorf("event kind = %q, want insert", event.Kind)
		}
		if event.Table != store.TablePropertyImages {
			t.Errorf("event table = %q, want %q", event.Table, store.TablePropertyImages)
		}
		if event.Row.ID() != "img-1" {
			t.Errorf("event row id = %q, want img-1", event.Row.ID())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestRealtimeClient_ControlFramesIgnored(t *testing.T) {
	client, fake := newRealtimePair(t)

	sub, err := client.Subscribe(context.Background(), store.TableOffers, Filter{EntityID: "prop-1"})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	waitFor(t, time.Second, func() bool {
		return fake.sawTopic("subscribe changes:offers:prop-1")
	})

	fake.push(t, frame{Topic: "changes:offers:prop-1", Event: "ack"})
	fake.push(t, frame{
		Topic:  "changes:offers:prop-1",
		Event:  "update",
		Record: store.Row{"id": "offer-1", store.EntityColumn: "prop-1"},
	})

	select {
	case event := <-sub.Events():
		if event.Kind != KindUpdate || event.Row.ID() != "offer-1" {
			t.Errorf("got %+v, want the update frame (ack skipped)", event)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestRealtimeClient_UnsubscribeOnLastClose(t *testing.T) {
	client, fake := newRealtimePair(t)

	sub1, err := client.Subscribe(context.Background(), store.TableReviews, Filter{EntityID: "prop-1"})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	sub2, err := client.Subscribe(context.Background(), store.TableReviews, Filter{EntityID: "prop-1"})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	if err := sub1.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if fake.sawTopic("unsubscribe changes:reviews:prop-1") {
		t.Error("unsubscribe sent while a subscription remained")
	}

	if err := sub2.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	waitFor(t, time.Second, func() bool {
		return fake.sawTopic("unsubscribe changes:reviews:prop-1")
	})

	// Closing again is a no-op.
	if err := sub2.Close(); err != nil {
		t.Errorf("repeat Close() error = %v", err)
	}
}

func TestRealtimeClient_ReconnectResubscribes(t *testing.T) {
	client, fake := newRealtimePair(t)

	sub, err := client.Subscribe(context.Background(), store.TablePropertyImages, Filter{EntityID: "prop-1"})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	waitFor(t, time.Second, func() bool {
		return fake.countTopic("subscribe changes:property_images:prop-1") == 1
	})

	// Sever the connection; the client must redial and re-announce the
	// open topic instead of tearing the subscription down.
	fake.drop()
	waitFor(t, 5*time.Second, func() bool {
		return fake.countTopic("subscribe changes:property_images:prop-1") == 2
	})

	fake.push(t, frame{
		Topic:  "changes:property_images:prop-1",
		Event:  "update",
		Record: store.Row{"id": "img-9", store.EntityColumn: "prop-1"},
	})

	select {
	case event := <-sub.Events():
		if event.Kind != KindUpdate || event.Row.ID() != "img-9" {
			t.Errorf("got %+v, want the post-reconnect update", event)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event after reconnect")
	}
}

func TestRealtimeClient_SubscribeAfterClose(t *testing.T) {
	client, _ := newRealtimePair(t)
	_ = client.Close()

	if _, err := client.Subscribe(context.Background(), store.TableOffers, Filter{}); err != ErrBusClosed {
		t.Errorf("Subscribe() error = %v, want ErrBusClosed", err)
	}
}
