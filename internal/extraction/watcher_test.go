package extraction

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/quartershq/quarters/internal/bus"
	"github.com/quartershq/quarters/internal/store"
)

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestWatcher_EventTriggersCheck(t *testing.T) {
	broker := bus.NewBroker(nil)
	defer broker.Close()

	fetcher := &stubFetcher{}
	w := NewWatcher(WatcherConfig{Bus: broker, Fetcher: fetcher, PollInterval: time.Minute})
	defer w.Close()

	done := make(chan error, 1)
	subscribed := w.Activate(context.Background(), TypeImageSet, "prop-1", time.Minute,
		func(rows []store.Row) bool { return len(rows) > 0 },
		func(err error) { done <- err })
	if !subscribed {
		t.Fatal("Activate() reported degraded against a live broker")
	}

	// An event for a different entity must not complete the watch.
	broker.Publish(bus.Event{Kind: bus.KindInsert, Table: store.TablePropertyImages, Row: store.Row{store.EntityColumn: "prop-2"}})
	select {
	case <-done:
		t.Fatal("watch completed on another entity's event")
	case <-time.After(50 * time.Millisecond):
	}

	fetcher.set([]store.Row{{"id": "img-1"}})
	broker.Publish(bus.Event{Kind: bus.KindInsert, Table: store.TablePropertyImages, Row: store.Row{store.EntityColumn: "prop-1"}})

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("onDone error = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("watch never completed")
	}
	waitFor(t, func() bool { return w.ActiveCount() == 0 }, "watch not removed after completion")
}

func TestWatcher_EventAloneIsNotCompletion(t *testing.T) {
	// A delivery whose refetch does not satisfy the predicate leaves the
	// watch running.
	broker := bus.NewBroker(nil)
	defer broker.Close()

	fetcher := &stubFetcher{} // always empty
	w := NewWatcher(WatcherConfig{Bus: broker, Fetcher: fetcher, PollInterval: time.Minute})
	defer w.Close()

	done := make(chan error, 1)
	w.Activate(context.Background(), TypeReviewSet, "prop-1", time.Minute,
		func(rows []store.Row) bool { return len(rows) > 0 },
		func(err error) { done <- err })

	broker.Publish(bus.Event{Kind: bus.KindUpdate, Table: store.TableReviews, Row: store.Row{store.EntityColumn: "prop-1"}})

	select {
	case <-done:
		t.Fatal("watch completed without satisfying predicate")
	case <-time.After(50 * time.Millisecond):
	}
	if w.ActiveCount() != 1 {
		t.Errorf("ActiveCount() = %d, want 1", w.ActiveCount())
	}
}

func TestWatcher_PollFallback(t *testing.T) {
	fetcher := &stubFetcher{}
	w := NewWatcher(WatcherConfig{Bus: failingBus{}, Fetcher: fetcher, PollInterval: 10 * time.Millisecond})
	defer w.Close()

	done := make(chan error, 1)
	subscribed := w.Activate(context.Background(), TypeAmenitySet, "prop-1", time.Minute,
		func(rows []store.Row) bool { return len(rows) > 0 },
		func(err error) { done <- err })
	if subscribed {
		t.Fatal("Activate() reported subscribed against a failing bus")
	}

	fetcher.set([]store.Row{{"id": "am-1"}})
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("onDone error = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("poll fallback never detected completion")
	}
}

func TestWatcher_Timeout(t *testing.T) {
	broker := bus.NewBroker(nil)
	defer broker.Close()

	w := NewWatcher(WatcherConfig{Bus: broker, Fetcher: &stubFetcher{}, PollInterval: time.Minute})
	defer w.Close()

	done := make(chan error, 1)
	w.Activate(context.Background(), TypeOfferSet, "prop-1", 30*time.Millisecond,
		func(rows []store.Row) bool { return false },
		func(err error) { done <- err })

	select {
	case err := <-done:
		if !errors.Is(err, ErrTimeout) {
			t.Fatalf("onDone error = %v, want ErrTimeout", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout never fired")
	}
	waitFor(t, func() bool { return broker.SubscriptionCount() == 0 }, "subscription not closed after timeout")
}

func TestWatcher_DeactivateIdempotent(t *testing.T) {
	broker := bus.NewBroker(nil)
	defer broker.Close()

	w := NewWatcher(WatcherConfig{Bus: broker, Fetcher: &stubFetcher{}, PollInterval: time.Minute})
	defer w.Close()

	w.Activate(context.Background(), TypeImageSet, "prop-1", time.Minute,
		func(rows []store.Row) bool { return false },
		func(err error) {})

	w.Deactivate(TypeImageSet, "prop-1")
	w.Deactivate(TypeImageSet, "prop-1") // second call is a no-op
	w.Deactivate(TypeOfferSet, "prop-9") // never activated

	if w.ActiveCount() != 0 {
		t.Errorf("ActiveCount() = %d, want 0", w.ActiveCount())
	}
	waitFor(t, func() bool { return broker.SubscriptionCount() == 0 }, "subscription not closed on deactivate")
}

func TestWatcher_ReactivateReplacesWatch(t *testing.T) {
	broker := bus.NewBroker(nil)
	defer broker.Close()

	fetcher := &stubFetcher{}
	w := NewWatcher(WatcherConfig{Bus: broker, Fetcher: fetcher, PollInterval: time.Minute})
	defer w.Close()

	first := make(chan error, 1)
	w.Activate(context.Background(), TypeImageSet, "prop-1", time.Minute,
		func(rows []store.Row) bool { return false },
		func(err error) { first <- err })

	second := make(chan error, 1)
	w.Activate(context.Background(), TypeImageSet, "prop-1", time.Minute,
		func(rows []store.Row) bool { return len(rows) > 0 },
		func(err error) { second <- err })

	if w.ActiveCount() != 1 {
		t.Fatalf("ActiveCount() = %d, want 1 after replacement", w.ActiveCount())
	}

	fetcher.set([]store.Row{{"id": "img-1"}})
	broker.Publish(bus.Event{Kind: bus.KindInsert, Table: store.TablePropertyImages, Row: store.Row{store.EntityColumn: "prop-1"}})

	select {
	case <-second:
	case <-time.After(3 * time.Second):
		t.Fatal("replacement watch never completed")
	}
	select {
	case <-first:
		t.Fatal("superseded watch fired its callback")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWatcher_CloseStopsEverything(t *testing.T) {
	broker := bus.NewBroker(nil)
	defer broker.Close()

	w := NewWatcher(WatcherConfig{Bus: broker, Fetcher: &stubFetcher{}, PollInterval: time.Minute})

	for _, entity := range []string{"prop-1", "prop-2", "prop-3"} {
		w.Activate(context.Background(), TypeImageSet, entity, time.Minute,
			func(rows []store.Row) bool { return false },
			func(err error) {})
	}
	if w.ActiveCount() != 3 {
		t.Fatalf("ActiveCount() = %d, want 3", w.ActiveCount())
	}

	w.Close()
	if w.ActiveCount() != 0 {
		t.Errorf("ActiveCount() after Close = %d, want 0", w.ActiveCount())
	}
	waitFor(t, func() bool { return broker.SubscriptionCount() == 0 }, "subscriptions not closed on Close")
}
