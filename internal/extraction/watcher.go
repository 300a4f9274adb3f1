package extraction

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/quartershq/quarters/internal/bus"
	"github.com/quartershq/quarters/internal/store"
)

// ErrTimeout is passed to a job's completion callback when its output never
// appeared within the configured running window.
var ErrTimeout = errors.New("extraction timed out")

// Fetcher reads the authoritative rows feeding completion predicates.
// *store.Client implements it.
type Fetcher interface {
	Rows(ctx context.Context, table, entityID string) ([]store.Row, error)
}

// Watcher owns exactly one bus subscription per running job and maps change
// deliveries to "check completion now". It never decides success itself; it
// refetches and asks the job's predicate.
//
// The bus is the primary signal but not the only one: a bounded fallback
// poll fires on the same refetch-and-check path so a dropped delivery can
// only delay completion, not lose it.
type Watcher struct {
	bus    bus.Bus
	fetch  Fetcher
	logger *slog.Logger

	pollInterval time.Duration

	mu     sync.Mutex
	active map[jobKey]*watch
}

// WatcherConfig configures a completion watcher.
type WatcherConfig struct {
	Bus          bus.Bus
	Fetcher      Fetcher
	PollInterval time.Duration // fallback poll cadence (default: 15s)
	Logger       *slog.Logger
}

// NewWatcher creates a completion watcher.
func NewWatcher(cfg WatcherConfig) *Watcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 15 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Watcher{
		bus:          cfg.Bus,
		fetch:        cfg.Fetcher,
		logger:       cfg.Logger,
		pollInterval: cfg.PollInterval,
		active:       make(map[jobKey]*watch),
	}
}

type watch struct {
	sub  bus.Subscription // nil when the subscribe call failed (degraded)
	stop chan struct{}
	once sync.Once
}

func (w *watch) teardown() {
	w.once.Do(func() {
		close(w.stop)
		if w.sub != nil {
			_ = w.sub.Close()
		}
	})
}

// Activate opens a subscription for (type, entity) and starts checking for
// the job's output. A second Activate for the same key first deactivates the
// prior watch. onDone fires exactly once: with nil when the predicate is
// satisfied, or with ErrTimeout when the running window expires.
//
// The returned flag reports whether the bus subscription was established;
// false means the watch is degraded to poll-only.
func (w *Watcher) Activate(ctx context.Context, typ Type, entityID string, timeout time.Duration, predicate Predicate, onDone func(error)) bool {
	key := jobKey{Type: typ, EntityID: entityID}
	table := typ.Table()

	sub, err := w.bus.Subscribe(ctx, table, bus.Filter{
		EntityID: entityID,
		Kinds:    []bus.Kind{bus.KindInsert, bus.KindUpdate},
	})
	subscribed := err == nil
	if err != nil {
		w.logger.Warn("bus subscribe failed, watch degraded to poll-only",
			"type", typ,
			"entity_id", entityID,
			"error", err)
		sub = nil
	}

	wa := &watch{sub: sub, stop: make(chan struct{})}

	w.mu.Lock()
	if prior, ok := w.active[key]; ok {
		prior.teardown()
	}
	w.active[key] = wa
	w.mu.Unlock()

	w.logger.Debug("watch activated",
		"type", typ,
		"entity_id", entityID,
		"subscribed", subscribed)

	go w.run(ctx, key, table, wa, timeout, predicate, onDone)
	return subscribed
}

// Deactivate tears down the watch for a key. Idempotent: a missing or
// already-closed watch is a no-op.
func (w *Watcher) Deactivate(typ Type, entityID string) {
	key := jobKey{Type: typ, EntityID: entityID}

	w.mu.Lock()
	wa, ok := w.active[key]
	if ok {
		delete(w.active, key)
	}
	w.mu.Unlock()

	if ok {
		wa.teardown()
		w.logger.Debug("watch deactivated", "type", typ, "entity_id", entityID)
	}
}

// deactivateIf removes a specific watch from the active map. A watch that
// was already replaced by a newer Activate leaves the newer one untouched.
func (w *Watcher) deactivateIf(key jobKey, wa *watch) {
	w.mu.Lock()
	if cur, ok := w.active[key]; ok && cur == wa {
		delete(w.active, key)
	}
	w.mu.Unlock()
	wa.teardown()
}

// ActiveCount returns the number of open watches.
func (w *Watcher) ActiveCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.active)
}

// Close deactivates every watch. The external worker is not cancelled;
// its eventual write is consumed by any other session watching the entity.
func (w *Watcher) Close() {
	w.mu.Lock()
	watches := make([]*watch, 0, len(w.active))
	for _, wa := range w.active {
		watches = append(watches, wa)
	}
	w.active = make(map[jobKey]*watch)
	w.mu.Unlock()

	for _, wa := range watches {
		wa.teardown()
	}
}

func (w *Watcher) run(ctx context.Context, key jobKey, table string, wa *watch, timeout time.Duration, predicate Predicate, onDone func(error)) {
	var events <-chan bus.Event
	if wa.sub != nil {
		events = wa.sub.Events()
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	check := func() bool {
		rows, err := w.fetch.Rows(ctx, table, key.EntityID)
		if err != nil {
			w.logger.Debug("completion refetch failed",
				"type", key.Type,
				"entity_id", key.EntityID,
				"error", err)
			return false
		}
		if !predicate(rows) {
			return false
		}
		w.deactivateIf(key, wa)
		onDone(nil)
		return true
	}

	for {
		select {
		case <-wa.stop:
			return

		case <-ctx.Done():
			w.deactivateIf(key, wa)
			return

		case _, ok := <-events:
			if !ok {
				// Bus went away mid-watch; the poll keeps the job alive.
				events = nil
				continue
			}
			if check() {
				return
			}

		case <-ticker.C:
			if check() {
				return
			}

		case <-deadline:
			w.deactivateIf(key, wa)
			onDone(ErrTimeout)
			return
		}
	}
}
