package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/quartershq/quarters/internal/bus"
	"github.com/quartershq/quarters/internal/extraction"
	"github.com/quartershq/quarters/internal/store"
	"github.com/quartershq/quarters/internal/worker"
)

type stubInvoker struct {
	mu     sync.Mutex
	result worker.Result
	err    error
	calls  int
}

func (s *stubInvoker) Invoke(ctx context.Context, jobType, entityID string, opts map[string]any) (worker.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.result, s.err
}

type stubFetcher struct {
	mu   sync.Mutex
	rows []store.Row
	err  error
}

func (s *stubFetcher) Rows(ctx context.Context, table, entityID string) ([]store.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows, s.err
}

func newTestManager(broker *bus.Broker) (*Manager, *stubFetcher) {
	fetcher := &stubFetcher{}
	m := NewManager(ManagerConfig{
		Invoker:      &stubInvoker{result: worker.Result{Accepted: true}},
		Fetcher:      fetcher,
		Bus:          broker,
		PollInterval: time.Minute,
		Debounce:     -1,
	})
	return m, fetcher
}

func TestManager_OpenGetClose(t *testing.T) {
	broker := bus.NewBroker(nil)
	defer broker.Close()
	m, _ := newTestManager(broker)

	s := m.Open()
	if s.ID == "" {
		t.Fatal("session id empty")
	}
	if m.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", m.Count())
	}

	got, err := m.Get(s.ID)
	if err != nil || got != s {
		t.Fatalf("Get() = %v, %v", got, err)
	}

	if err := m.Close(s.ID); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := m.Get(s.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after close error = %v, want ErrNotFound", err)
	}
	if err := m.Close(s.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Close() error = %v, want ErrNotFound", err)
	}
}

func TestSession_CloseTearsDownSubscriptions(t *testing.T) {
	broker := bus.NewBroker(nil)
	defer broker.Close()
	m, _ := newTestManager(broker)

	s := m.Open()
	if err := s.Jobs().Start(context.Background(), extraction.TypeImageSet, "prop-1", nil); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if broker.SubscriptionCount() != 1 {
		t.Fatalf("SubscriptionCount() = %d, want 1", broker.SubscriptionCount())
	}

	_ = m.Close(s.ID)

	deadline := time.Now().Add(time.Second)
	for broker.SubscriptionCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := broker.SubscriptionCount(); got != 0 {
		t.Errorf("SubscriptionCount() after session close = %d, want 0", got)
	}
}

func TestSession_GallerySharedPerView(t *testing.T) {
	broker := bus.NewBroker(nil)
	defer broker.Close()
	m, _ := newTestManager(broker)
	s := m.Open()

	a := s.Gallery(store.TablePropertyImages, "prop-1")
	b := s.Gallery(store.TablePropertyImages, "prop-1")
	if a != b {
		t.Error("same view returned distinct reconcilers")
	}
	if c := s.Gallery(store.TableFloorPlans, "prop-1"); c == a {
		t.Error("different tables share a reconciler")
	}
}

func TestSession_RefreshGallery(t *testing.T) {
	broker := bus.NewBroker(nil)
	defer broker.Close()
	m, fetcher := newTestManager(broker)
	s := m.Open()

	fetcher.rows = []store.Row{
		{"id": "img-1", "position": float64(0)},
		{"id": "img-2", "position": float64(1)},
	}
	v, err := s.RefreshGallery(context.Background(), store.TablePropertyImages, "prop-1")
	if err != nil {
		t.Fatalf("RefreshGallery() error = %v", err)
	}
	if len(v.Items) != 2 || v.FocusID != "img-1" {
		t.Errorf("view = %+v", v)
	}

	fetcher.err = errors.New("store down")
	if _, err := s.RefreshGallery(context.Background(), store.TablePropertyImages, "prop-1"); err == nil {
		t.Error("RefreshGallery() swallowed fetch error")
	}
}

func TestManager_PruneIdle(t *testing.T) {
	broker := bus.NewBroker(nil)
	defer broker.Close()

	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	now := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return clock
	}

	m := NewManager(ManagerConfig{
		Invoker:  &stubInvoker{},
		Fetcher:  &stubFetcher{},
		Bus:      broker,
		Debounce: -1,
		Now:      now,
	})

	idle := m.Open()
	mu.Lock()
	clock = clock.Add(time.Hour)
	mu.Unlock()
	fresh := m.Open()

	if n := m.PruneIdle(30 * time.Minute); n != 1 {
		t.Fatalf("PruneIdle() = %d, want 1", n)
	}
	if _, err := m.Get(idle.ID); !errors.Is(err, ErrNotFound) {
		t.Error("idle session still reachable")
	}
	if _, err := m.Get(fresh.ID); err != nil {
		t.Error("fresh session pruned")
	}
}
