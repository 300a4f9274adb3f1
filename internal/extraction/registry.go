package extraction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/quartershq/quarters/internal/bus"
	"github.com/quartershq/quarters/internal/metrics"
	"github.com/quartershq/quarters/internal/worker"
)

// Sentinel errors for job operations.
var (
	// ErrAlreadyRunning signals that a start was a no-op because the keyed
	// job is already running.
	ErrAlreadyRunning = errors.New("extraction already running")

	// ErrNoPriorStart is returned by Retry when the job was never started.
	ErrNoPriorStart = errors.New("nothing to retry")
)

type jobKey struct {
	Type     Type
	EntityID string
}

// job is the tracked state for one (type, entity id) pair. Fields are
// guarded by the registry mutex.
type job struct {
	state          State
	errorMessage   string
	successMessage string
	degraded       bool // bus subscribe failed; completion rides the poll
	startedAt      time.Time
	lastOpts       map[string]any
	started        bool // a start has been attempted at least once
	starting       bool // a start command is in flight
}

// Snapshot is a read-only view of a job for the UI layer.
type Snapshot struct {
	Type           Type      `json:"type"`
	EntityID       string    `json:"entity_id"`
	State          State     `json:"state"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	SuccessMessage string    `json:"success_message,omitempty"`
	Degraded       bool      `json:"degraded,omitempty"`
	StartedAt      time.Time `json:"started_at,omitempty"`
}

// RegistryConfig configures a job registry.
type RegistryConfig struct {
	Invoker      worker.Invoker
	Fetcher      Fetcher
	Bus          bus.Bus
	Logger       *slog.Logger
	Metrics      *metrics.Recorder // optional
	JobTimeout   time.Duration     // max running duration (default: 10m)
	PollInterval time.Duration     // watcher fallback poll (default: 15s)
	Now          func() time.Time  // injectable clock (default: time.Now)
}

// Registry owns every extraction job for one session, keyed by
// (type, entity id), so two views of the same entity share one job and one
// subscription instead of racing independently. Jobs are never persisted.
type Registry struct {
	invoker worker.Invoker
	watcher *Watcher
	logger  *slog.Logger
	metrics *metrics.Recorder

	jobTimeout time.Duration
	now        func() time.Time

	mu   sync.Mutex
	jobs map[jobKey]*job
}

// NewRegistry creates a job registry and its completion watcher.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 10 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Registry{
		invoker: cfg.Invoker,
		watcher: NewWatcher(WatcherConfig{
			Bus:          cfg.Bus,
			Fetcher:      cfg.Fetcher,
			PollInterval: cfg.PollInterval,
			Logger:       cfg.Logger,
		}),
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
		jobTimeout: cfg.JobTimeout,
		now:        cfg.Now,
	}
}

// Start begins an extraction for (type, entity id).
//
// Starting while the keyed job is running is a no-op returning
// ErrAlreadyRunning. A synchronous worker rejection or a command channel
// failure moves the job straight to error without ever entering running.
// On acceptance the job runs until the watcher's predicate sees the output
// appear, the timeout fires, or the session closes.
func (r *Registry) Start(ctx context.Context, typ Type, entityID string, opts map[string]any) error {
	r.mu.Lock()
	if r.jobs == nil {
		r.jobs = make(map[jobKey]*job)
	}
	key := jobKey{Type: typ, EntityID: entityID}
	j, ok := r.jobs[key]
	if !ok {
		j = &job{state: StateIdle}
		r.jobs[key] = j
	}
	if j.state == StateRunning || j.starting {
		r.mu.Unlock()
		return ErrAlreadyRunning
	}

	// A new run clears prior messages before anything else happens.
	j.state = StateIdle
	j.errorMessage = ""
	j.successMessage = ""
	j.degraded = false
	j.starting = true
	j.started = true
	j.lastOpts = opts
	r.mu.Unlock()

	r.logger.Info("extraction starting", "type", typ, "entity_id", entityID)

	result, err := r.invoker.Invoke(ctx, string(typ), entityID, opts)

	r.mu.Lock()
	j.starting = false
	switch {
	case err != nil:
		j.state = StateError
		j.errorMessage = fmt.Sprintf("could not reach extraction worker: %v", err)
		r.mu.Unlock()
		r.logger.Error("extraction command failed", "type", typ, "entity_id", entityID, "error", err)
		r.record(typ, StateError, 0)
		return nil

	case !result.Accepted:
		j.state = StateError
		j.errorMessage = result.Message
		if j.errorMessage == "" {
			j.errorMessage = "extraction worker rejected the request"
		}
		r.mu.Unlock()
		r.logger.Warn("extraction rejected", "type", typ, "entity_id", entityID, "message", result.Message)
		r.record(typ, StateError, 0)
		return nil
	}

	startedAt := r.now()
	j.state = StateRunning
	j.startedAt = startedAt
	r.mu.Unlock()

	subscribed := r.watcher.Activate(ctx, typ, entityID, r.jobTimeout, typ.NewPredicate(startedAt), func(doneErr error) {
		r.finish(typ, entityID, startedAt, doneErr)
	})

	if !subscribed {
		r.mu.Lock()
		j.degraded = true
		r.mu.Unlock()
	}

	r.logger.Info("extraction running", "type", typ, "entity_id", entityID, "subscribed", subscribed)
	return nil
}

// finish is the watcher's completion callback.
func (r *Registry) finish(typ Type, entityID string, startedAt time.Time, doneErr error) {
	key := jobKey{Type: typ, EntityID: entityID}

	r.mu.Lock()
	j, ok := r.jobs[key]
	if !ok || j.state != StateRunning || !j.startedAt.Equal(startedAt) {
		// A stale callback from a superseded run; the current run owns the job.
		r.mu.Unlock()
		return
	}

	duration := r.now().Sub(startedAt)
	if doneErr != nil {
		j.state = StateError
		j.errorMessage = doneErr.Error()
	} else {
		j.state = StateSuccess
		j.successMessage = typ.successMessage()
	}
	state := j.state
	r.mu.Unlock()

	if doneErr != nil {
		r.logger.Warn("extraction failed", "type", typ, "entity_id", entityID, "error", doneErr)
	} else {
		r.logger.Info("extraction succeeded", "type", typ, "entity_id", entityID, "duration", duration)
	}
	r.record(typ, state, duration)
}

// Retry replays the last Start with identical arguments.
func (r *Registry) Retry(ctx context.Context, typ Type, entityID string) error {
	r.mu.Lock()
	key := jobKey{Type: typ, EntityID: entityID}
	j, ok := r.jobs[key]
	if !ok || !j.started {
		r.mu.Unlock()
		return ErrNoPriorStart
	}
	opts := j.lastOpts
	r.mu.Unlock()

	return r.Start(ctx, typ, entityID, opts)
}

// ClearMessages resets the job's success and error messages. A terminal
// job returns to idle, ready for its next run.
func (r *Registry) ClearMessages(typ Type, entityID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[jobKey{Type: typ, EntityID: entityID}]
	if !ok {
		return
	}
	j.errorMessage = ""
	j.successMessage = ""
	if j.state == StateSuccess || j.state == StateError {
		j.state = StateIdle
	}
}

// Snapshot returns the current view of a job. A job that was never started
// reports idle.
func (r *Registry) Snapshot(typ Type, entityID string) Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := Snapshot{Type: typ, EntityID: entityID, State: StateIdle}
	j, ok := r.jobs[jobKey{Type: typ, EntityID: entityID}]
	if !ok {
		return snap
	}
	snap.State = j.state
	snap.ErrorMessage = j.errorMessage
	snap.SuccessMessage = j.successMessage
	snap.Degraded = j.degraded
	snap.StartedAt = j.startedAt
	return snap
}

// List returns snapshots for every tracked job of an entity.
func (r *Registry) List(entityID string) []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	var snaps []Snapshot
	for _, typ := range Types {
		j, ok := r.jobs[jobKey{Type: typ, EntityID: entityID}]
		if !ok {
			continue
		}
		snap := Snapshot{
			Type:           typ,
			EntityID:       entityID,
			State:          j.state,
			ErrorMessage:   j.errorMessage,
			SuccessMessage: j.successMessage,
			Degraded:       j.degraded,
			StartedAt:      j.startedAt,
		}
		snaps = append(snaps, snap)
	}
	return snaps
}

// Close tears down every watch and discards local job state. It does not
// cancel the external worker; its eventual writes remain visible to any
// other session watching the same entities.
func (r *Registry) Close() {
	r.watcher.Close()

	r.mu.Lock()
	r.jobs = make(map[jobKey]*job)
	r.mu.Unlock()
}

// Watcher exposes the completion watcher, mainly for tests asserting
// subscription teardown.
func (r *Registry) Watcher() *Watcher {
	return r.watcher
}

func (r *Registry) record(typ Type, state State, duration time.Duration) {
	if r.metrics == nil {
		return
	}
	r.metrics.JobFinished(string(typ), string(state), duration)
}
