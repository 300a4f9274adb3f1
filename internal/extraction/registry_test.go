package extraction

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/quartershq/quarters/internal/bus"
	"github.com/quartershq/quarters/internal/metrics"
	"github.com/quartershq/quarters/internal/store"
	"github.com/quartershq/quarters/internal/worker"
)

// stubInvoker records invocations and plays back a scripted result.
type stubInvoker struct {
	mu     sync.Mutex
	result worker.Result
	err    error
	calls  []stubCall
}

type stubCall struct {
	JobType  string
	EntityID string
	Opts     map[string]any
}

func (s *stubInvoker) Invoke(ctx context.Context, jobType, entityID string, opts map[string]any) (worker.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, stubCall{JobType: jobType, EntityID: entityID, Opts: opts})
	return s.result, s.err
}

func (s *stubInvoker) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// stubFetcher serves a settable row set.
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

func (s *stubFetcher) set(rows []store.Row) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = rows
}

// failingBus always fails to subscribe, forcing poll-only watches.
type failingBus struct{}

func (failingBus) Subscribe(ctx context.Context, table string, filter bus.Filter) (bus.Subscription, error) {
	return nil, errors.New("realtime unavailable")
}

func waitForState(t *testing.T, reg *Registry, typ Type, entityID string, want State) Snapshot {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		snap := reg.Snapshot(typ, entityID)
		if snap.State == want {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job never reached state %q (last: %+v)", want, reg.Snapshot(typ, entityID))
	return Snapshot{}
}

func TestRegistry_StartToSuccessViaBusEvent(t *testing.T) {
	broker := bus.NewBroker(nil)
	defer broker.Close()

	invoker := &stubInvoker{result: worker.Result{Accepted: true}}
	fetcher := &stubFetcher{}

	reg := NewRegistry(RegistryConfig{
		Invoker:      invoker,
		Fetcher:      fetcher,
		Bus:          broker,
		PollInterval: time.Minute, // bus delivery must drive this test
	})
	defer reg.Close()

	if err := reg.Start(context.Background(), TypeImageSet, "prop-1", nil); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	snap := reg.Snapshot(TypeImageSet, "prop-1")
	if snap.State != StateRunning {
		t.Fatalf("state after accepted start = %q, want running", snap.State)
	}
	if broker.SubscriptionCount() != 1 {
		t.Fatalf("SubscriptionCount() = %d, want 1", broker.SubscriptionCount())
	}

	// Worker output lands in the store, then the bus announces it.
	fetcher.set([]store.Row{{"id": "img-1", store.EntityColumn: "prop-1"}})
	broker.Publish(bus.Event{
		Kind:  bus.KindInsert,
		Table: store.TablePropertyImages,
		Row:   store.Row{"id": "img-1", store.EntityColumn: "prop-1"},
	})

	snap = waitForState(t, reg, TypeImageSet, "prop-1", StateSuccess)
	if snap.SuccessMessage == "" {
		t.Error("success snapshot missing success message")
	}

	// Subscription torn down on terminal success.
	deadline := time.Now().Add(time.Second)
	for broker.SubscriptionCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := broker.SubscriptionCount(); got != 0 {
		t.Errorf("SubscriptionCount() after success = %d, want 0", got)
	}
	if got := reg.Watcher().ActiveCount(); got != 0 {
		t.Errorf("ActiveCount() after success = %d, want 0", got)
	}
}

func TestRegistry_StartRejected(t *testing.T) {
	broker := bus.NewBroker(nil)
	defer broker.Close()

	invoker := &stubInvoker{result: worker.Result{Accepted: false, Message: "no source configured"}}
	reg := NewRegistry(RegistryConfig{Invoker: invoker, Fetcher: &stubFetcher{}, Bus: broker})
	defer reg.Close()

	if err := reg.Start(context.Background(), TypeOfferSet, "prop-1", nil); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	snap := reg.Snapshot(TypeOfferSet, "prop-1")
	if snap.State != StateError {
		t.Errorf("state = %q, want error", snap.State)
	}
	if snap.ErrorMessage != "no source configured" {
		t.Errorf("error message = %q", snap.ErrorMessage)
	}
	if broker.SubscriptionCount() != 0 {
		t.Error("rejected start must not open a subscription")
	}
}

func TestRegistry_CommandChannelFailure(t *testing.T) {
	broker := bus.NewBroker(nil)
	defer broker.Close()

	invoker := &stubInvoker{err: errors.New("connection refused")}
	reg := NewRegistry(RegistryConfig{Invoker: invoker, Fetcher: &stubFetcher{}, Bus: broker})
	defer reg.Close()

	if err := reg.Start(context.Background(), TypeReviewSet, "prop-1", nil); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	snap := reg.Snapshot(TypeReviewSet, "prop-1")
	if snap.State != StateError {
		t.Errorf("state = %q, want error", snap.State)
	}
	if snap.ErrorMessage == "" {
		t.Error("command channel failure must carry a user-displayable message")
	}
}

func TestRegistry_StartWhileRunning(t *testing.T) {
	broker := bus.NewBroker(nil)
	defer broker.Close()

	invoker := &stubInvoker{result: worker.Result{Accepted: true}}
	reg := NewRegistry(RegistryConfig{
		Invoker:      invoker,
		Fetcher:      &stubFetcher{},
		Bus:          broker,
		PollInterval: time.Minute,
	})
	defer reg.Close()

	if err := reg.Start(context.Background(), TypeImageSet, "prop-1", nil); err != nil {
		t.Fatalf("first Start() error = %v", err)
	}
	if err := reg.Start(context.Background(), TypeImageSet, "prop-1", nil); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start() error = %v, want ErrAlreadyRunning", err)
	}
	if invoker.callCount() != 1 {
		t.Errorf("worker invoked %d times, want 1", invoker.callCount())
	}

	// A different type for the same entity runs independently.
	if err := reg.Start(context.Background(), TypeAmenitySet, "prop-1", nil); err != nil {
		t.Errorf("independent type Start() error = %v", err)
	}
}

func TestRegistry_RetryReplaysArguments(t *testing.T) {
	broker := bus.NewBroker(nil)
	defer broker.Close()

	invoker := &stubInvoker{result: worker.Result{Accepted: false, Message: "worker busy"}}
	reg := NewRegistry(RegistryConfig{Invoker: invoker, Fetcher: &stubFetcher{}, Bus: broker})
	defer reg.Close()

	opts := map[string]any{"max_images": 25}
	if err := reg.Start(context.Background(), TypeImageSet, "prop-1", opts); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := reg.Retry(context.Background(), TypeImageSet, "prop-1"); err != nil {
		t.Fatalf("Retry() error = %v", err)
	}

	invoker.mu.Lock()
	defer invoker.mu.Unlock()
	if len(invoker.calls) != 2 {
		t.Fatalf("worker invoked %d times, want 2", len(invoker.calls))
	}
	if invoker.calls[1].Opts["max_images"] != 25 {
		t.Errorf("retry opts = %+v, want original opts", invoker.calls[1].Opts)
	}
}

func TestRegistry_RetryWithoutStart(t *testing.T) {
	reg := NewRegistry(RegistryConfig{Invoker: &stubInvoker{}, Fetcher: &stubFetcher{}, Bus: bus.NewBroker(nil)})
	defer reg.Close()

	if err := reg.Retry(context.Background(), TypeImageSet, "prop-1"); !errors.Is(err, ErrNoPriorStart) {
		t.Errorf("Retry() error = %v, want ErrNoPriorStart", err)
	}
}

func TestRegistry_ClearMessages(t *testing.T) {
	broker := bus.NewBroker(nil)
	defer broker.Close()

	invoker := &stubInvoker{result: worker.Result{Accepted: false, Message: "nope"}}
	reg := NewRegistry(RegistryConfig{Invoker: invoker, Fetcher: &stubFetcher{}, Bus: broker})
	defer reg.Close()

	_ = reg.Start(context.Background(), TypeOfferSet, "prop-1", nil)
	reg.ClearMessages(TypeOfferSet, "prop-1")

	snap := reg.Snapshot(TypeOfferSet, "prop-1")
	if snap.State != StateIdle {
		t.Errorf("state after clear = %q, want idle", snap.State)
	}
	if snap.ErrorMessage != "" || snap.SuccessMessage != "" {
		t.Errorf("messages not cleared: %+v", snap)
	}
}

func TestRegistry_JobTimeout(t *testing.T) {
	broker := bus.NewBroker(nil)
	defer broker.Close()

	invoker := &stubInvoker{result: worker.Result{Accepted: true}}
	reg := NewRegistry(RegistryConfig{
		Invoker:      invoker,
		Fetcher:      &stubFetcher{}, // output never appears
		Bus:          broker,
		JobTimeout:   50 * time.Millisecond,
		PollInterval: 10 * time.Millisecond,
	})
	defer reg.Close()

	if err := reg.Start(context.Background(), TypeCompetitorSet, "prop-1", nil); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	snap := waitForState(t, reg, TypeCompetitorSet, "prop-1", StateError)
	if snap.ErrorMessage != ErrTimeout.Error() {
		t.Errorf("error message = %q, want %q", snap.ErrorMessage, ErrTimeout.Error())
	}
	if got := reg.Watcher().ActiveCount(); got != 0 {
		t.Errorf("ActiveCount() after timeout = %d, want 0", got)
	}
}

func TestRegistry_DegradedFallsBackToPoll(t *testing.T) {
	invoker := &stubInvoker{result: worker.Result{Accepted: true}}
	fetcher := &stubFetcher{}

	reg := NewRegistry(RegistryConfig{
		Invoker:      invoker,
		Fetcher:      fetcher,
		Bus:          failingBus{},
		PollInterval: 10 * time.Millisecond,
	})
	defer reg.Close()

	if err := reg.Start(context.Background(), TypeAmenitySet, "prop-1", nil); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	snap := reg.Snapshot(TypeAmenitySet, "prop-1")
	if snap.State != StateRunning || !snap.Degraded {
		t.Fatalf("snapshot = %+v, want running+degraded", snap)
	}

	// The poll fallback alone detects completion.
	fetcher.set([]store.Row{{"id": "am-1", store.EntityColumn: "prop-1"}})
	waitForState(t, reg, TypeAmenitySet, "prop-1", StateSuccess)
}

func TestRegistry_SuccessOnlyViaWatcher(t *testing.T) {
	// Even with the output already present, acceptance alone must not flip
	// the job to success; the watcher's refetch does.
	broker := bus.NewBroker(nil)
	defer broker.Close()

	fetcher := &stubFetcher{}
	fetcher.set([]store.Row{{"id": "img-1", store.EntityColumn: "prop-1"}})

	reg := NewRegistry(RegistryConfig{
		Invoker:      &stubInvoker{result: worker.Result{Accepted: true}},
		Fetcher:      fetcher,
		Bus:          broker,
		PollInterval: time.Hour,
	})
	defer reg.Close()

	if err := reg.Start(context.Background(), TypeImageSet, "prop-1", nil); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if snap := reg.Snapshot(TypeImageSet, "prop-1"); snap.State != StateRunning {
		t.Errorf("state = %q, want running until a signal arrives", snap.State)
	}

	broker.Publish(bus.Event{
		Kind:  bus.KindUpdate,
		Table: store.TablePropertyImages,
		Row:   store.Row{"id": "img-1", store.EntityColumn: "prop-1"},
	})
	waitForState(t, reg, TypeImageSet, "prop-1", StateSuccess)
}

func TestRegistry_MetricsRecorded(t *testing.T) {
	broker := bus.NewBroker(nil)
	defer broker.Close()

	recorder := metrics.NewRecorder()
	invoker := &stubInvoker{result: worker.Result{Accepted: false, Message: "denied"}}
	reg := NewRegistry(RegistryConfig{Invoker: invoker, Fetcher: &stubFetcher{}, Bus: broker, Metrics: recorder})
	defer reg.Close()

	_ = reg.Start(context.Background(), TypeImageSet, "prop-1", nil)

	summary := recorder.Snapshot()
	if len(summary.Jobs) != 1 || summary.Jobs[0].State != string(StateError) {
		t.Errorf("metrics summary = %+v", summary)
	}
}
