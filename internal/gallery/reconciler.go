package gallery

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/quartershq/quarters/internal/metrics"
	"github.com/quartershq/quarters/internal/store"
)

// ErrUnknownItem is returned for edits addressing an id not in the view.
var ErrUnknownItem = errors.New("unknown item")

// Persister issues the reconciler's single-row writes. *store.Writer
// implements it.
type Persister interface {
	SendSync(ctx context.Context, op store.WriteOp) (store.WriteResult, error)
}

// Config configures a reconciler for one open collection view.
type Config struct {
	Table     string
	EntityID  string
	Persister Persister
	Logger    *slog.Logger
	Metrics   *metrics.Recorder // optional

	SaveWindow time.Duration // focus guard after an edit begins (default: 1s)
	NavWindow  time.Duration // focus guard after a destructive navigation (default: 1s)
	Debounce   time.Duration // delay before pending edits are written (default: 400ms; <0 disables the auto-flush)
	Now        func() time.Time
}

// pendingEdit is a not-yet-settled local mutation overlaying remote values.
type pendingEdit struct {
	patch   map[string]any
	seq     int
	settled bool
}

// Reconciler owns the displayed order, focus, and pending edits of one
// collection view. Remote refetches are merged through Reconcile; local
// mutations apply immediately and persist on a debounce.
type Reconciler struct {
	table    string
	entityID string
	persist  Persister
	logger   *slog.Logger
	metrics  *metrics.Recorder

	saveWindow time.Duration
	navWindow  time.Duration
	debounce   time.Duration
	now        func() time.Time

	mu                 sync.Mutex
	items              map[string]Item
	localOrder         []string
	focusID            string
	lastFocusIdx       int
	pendingSaveUntil   time.Time
	justNavigatedUntil time.Time
	orderDirty         bool
	unavailable        map[string]struct{}
	edits              map[string]*pendingEdit
	writeErrs          map[string]string
	seq                int
	timer              *time.Timer
}

// NewReconciler creates a reconciler for one (table, entity) collection.
func NewReconciler(cfg Config) *Reconciler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.SaveWindow <= 0 {
		cfg.SaveWindow = time.Second
	}
	if cfg.NavWindow <= 0 {
		cfg.NavWindow = time.Second
	}
	if cfg.Debounce == 0 {
		cfg.Debounce = 400 * time.Millisecond
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Reconciler{
		table:       cfg.Table,
		entityID:    cfg.EntityID,
		persist:     cfg.Persister,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
		saveWindow:  cfg.SaveWindow,
		navWindow:   cfg.NavWindow,
		debounce:    cfg.Debounce,
		now:         cfg.Now,
		items:       make(map[string]Item),
		unavailable: make(map[string]struct{}),
		edits:       make(map[string]*pendingEdit),
		writeErrs:   make(map[string]string),
	}
}

// Reconcile merges an authoritative refetch into the local view.
//
// Unavailable ids are dropped first. A refetch with the same id-set is a
// reorder-or-refresh: field values refresh from remote and the remote order
// is adopted, unless a local reorder is still inside its save window, in
// which case the prior local order stays so a position-only echo cannot
// bounce items. A different id-set is a structural change and the remote
// order is adopted as-is. Unsettled local edits overlay the fresh values
// either way, so a stale refetch never reverts an in-flight edit.
//
// Focus follows the item id. During an open save or navigation window a
// reorder-or-refresh never reassigns the focused id; only its reported
// index moves with the adopted order. Once the windows pass, focus is
// recomputed, clamping the index into range when the focused item is gone.
func (r *Reconciler) Reconcile(remote []Item) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()

	filtered := make([]Item, 0, len(remote))
	remoteOrder := make([]string, 0, len(remote))
	for _, item := range remote {
		if _, gone := r.unavailable[item.ID]; gone {
			continue
		}
		filtered = append(filtered, item)
		remoteOrder = append(remoteOrder, item.ID)
	}

	structural := !sameIDSet(remoteOrder, r.localOrder)

	items := make(map[string]Item, len(filtered))
	for _, item := range filtered {
		items[item.ID] = item
	}

	newOrder := remoteOrder
	if !structural && r.orderDirty {
		if now.Before(r.pendingSaveUntil) {
			// A local reorder is awaiting its echo; keep the local order.
			newOrder = r.localOrder
		} else {
			r.orderDirty = false
		}
	}

	// Overlay unsettled edits; settled ones expire with the save window.
	for id, edit := range r.edits {
		if edit.settled && !now.Before(r.pendingSaveUntil) {
			delete(r.edits, id)
			continue
		}
		if item, ok := items[id]; ok {
			items[id] = applyPatch(item, edit.patch)
		}
	}

	r.items = items
	r.localOrder = newOrder

	suppressed := false
	if !structural && (now.Before(r.pendingSaveUntil) || now.Before(r.justNavigatedUntil)) {
		suppressed = true
		// Focus keeps following its id; the index still tracks wherever
		// the adopted order put that id.
		if idx := indexOf(newOrder, r.focusID); idx >= 0 {
			r.lastFocusIdx = idx
		}
	} else if idx := indexOf(newOrder, r.focusID); idx >= 0 {
		r.lastFocusIdx = idx
	} else {
		r.lastFocusIdx = clamp(r.lastFocusIdx, len(newOrder))
		if len(newOrder) == 0 {
			r.focusID = ""
		} else {
			r.focusID = newOrder[r.lastFocusIdx]
		}
	}

	if r.metrics != nil {
		r.metrics.ReconcilePass(structural, suppressed)
	}
	r.logger.Debug("reconcile pass",
		"table", r.table,
		"entity_id", r.entityID,
		"items", len(newOrder),
		"structural", structural,
		"focus_suppressed", suppressed)
}

// ApplyTags replaces an item's full ordered tag list; the first tag is
// primary. The change applies locally at once and persists on the debounce.
func (r *Reconciler) ApplyTags(itemID string, tags []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.items[itemID]
	if !ok {
		return ErrUnknownItem
	}
	item.Tags = tags
	r.items[itemID] = item

	r.mergeEditLocked(itemID, map[string]any{"tags": tags})
	r.pendingSaveUntil = r.now().Add(r.saveWindow)
	r.scheduleFlushLocked()
	return nil
}

// ToggleVisibility flips an item's hidden flag. Hiding the focused item
// auto-advances focus to the next item (previous when at the end) and opens
// the navigation guard so the next refetch cannot reassign focus from stale
// remote data.
func (r *Reconciler) ToggleVisibility(itemID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.items[itemID]
	if !ok {
		return ErrUnknownItem
	}
	item.Hidden = !item.Hidden
	r.items[itemID] = item

	if item.Hidden && itemID == r.focusID {
		r.advanceLocked()
		r.justNavigatedUntil = r.now().Add(r.navWindow)
	}

	r.mergeEditLocked(itemID, map[string]any{"hidden": item.Hidden})
	r.pendingSaveUntil = r.now().Add(r.saveWindow)
	r.scheduleFlushLocked()
	return nil
}

// SetOrder applies a local reorder. The order persists as per-item position
// writes; until they echo back, same-set refetches keep this order.
func (r *Reconciler) SetOrder(order []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !sameIDSet(order, r.localOrder) {
		return ErrUnknownItem
	}
	r.localOrder = append([]string(nil), order...)
	r.orderDirty = true
	for i, id := range order {
		r.mergeEditLocked(id, map[string]any{"position": i})
	}
	if idx := indexOf(r.localOrder, r.focusID); idx >= 0 {
		r.lastFocusIdx = idx
	}
	r.pendingSaveUntil = r.now().Add(r.saveWindow)
	r.scheduleFlushLocked()
	return nil
}

// Navigate moves focus by delta positions through the displayed order,
// clamped at both ends. It returns the newly focused id.
func (r *Reconciler) Navigate(delta int) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.localOrder) == 0 {
		r.focusID = ""
		return ""
	}
	r.lastFocusIdx = clamp(r.lastFocusIdx+delta, len(r.localOrder))
	r.focusID = r.localOrder[r.lastFocusIdx]
	return r.focusID
}

// Focus moves focus to a specific item.
func (r *Reconciler) Focus(itemID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := indexOf(r.localOrder, itemID)
	if idx < 0 {
		return ErrUnknownItem
	}
	r.focusID = itemID
	r.lastFocusIdx = idx
	return nil
}

// RemoveItem deletes an item: it leaves the displayed order immediately, is
// never reintroduced by later refetches, and a row delete is issued to the
// store.
func (r *Reconciler) RemoveItem(ctx context.Context, itemID string) error {
	r.mu.Lock()
	if _, ok := r.items[itemID]; !ok {
		r.mu.Unlock()
		return ErrUnknownItem
	}
	r.dropLocked(itemID)
	r.mu.Unlock()

	if r.persist == nil {
		return nil
	}
	res, err := r.persist.SendSync(ctx, store.WriteOp{
		Table: r.table,
		RowID: itemID,
		Op:    store.OpDelete,
	})
	if err == nil {
		err = res.Err
	}
	if err != nil {
		r.recordWriteFailure(itemID, err)
		return err
	}
	return nil
}

// MarkUnavailable records that an item's underlying resource failed to
// resolve. The item leaves the displayed order immediately and no later
// refetch reintroduces it. One-way terminal; nothing is written.
func (r *Reconciler) MarkUnavailable(itemID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dropLocked(itemID)
}

// dropLocked removes an item from the local view and blocks reintroduction.
func (r *Reconciler) dropLocked(itemID string) {
	r.unavailable[itemID] = struct{}{}
	delete(r.items, itemID)
	delete(r.edits, itemID)
	delete(r.writeErrs, itemID)

	if idx := indexOf(r.localOrder, itemID); idx >= 0 {
		r.localOrder = append(r.localOrder[:idx], r.localOrder[idx+1:]...)
	}
	if r.focusID == itemID {
		r.lastFocusIdx = clamp(r.lastFocusIdx, len(r.localOrder))
		if len(r.localOrder) == 0 {
			r.focusID = ""
		} else {
			r.focusID = r.localOrder[r.lastFocusIdx]
		}
	} else if idx := indexOf(r.localOrder, r.focusID); idx >= 0 {
		r.lastFocusIdx = idx
	}
}

// Flush writes every unsettled edit. Failures keep the local state and the
// pending overlay; the per-item error surfaces through View and clears when
// the edit is re-triggered or finally settles.
func (r *Reconciler) Flush(ctx context.Context) {
	r.mu.Lock()
	type out struct {
		id    string
		seq   int
		patch map[string]any
	}
	var batch []out
	for id, edit := range r.edits {
		if edit.settled {
			continue
		}
		batch = append(batch, out{id: id, seq: edit.seq, patch: edit.patch})
	}
	r.mu.Unlock()

	if r.persist == nil {
		return
	}

	for _, o := range batch {
		res, err := r.persist.SendSync(ctx, store.WriteOp{
			Table: r.table,
			RowID: o.id,
			Patch: o.patch,
			Op:    store.OpUpdate,
		})
		if err == nil {
			err = res.Err
		}

		r.mu.Lock()
		edit, ok := r.edits[o.id]
		if !ok || edit.seq != o.seq {
			// A newer edit arrived meanwhile; it flushes on its own turn.
			r.mu.Unlock()
			continue
		}
		if err != nil {
			r.writeErrs[o.id] = err.Error()
			r.mu.Unlock()
			r.recordWriteFailureMetric()
			r.logger.Warn("edit write failed",
				"table", r.table,
				"row_id", o.id,
				"error", err)
			continue
		}
		edit.settled = true
		delete(r.writeErrs, o.id)
		r.mu.Unlock()
	}
}

// View is the displayed state of the collection.
type View struct {
	Items       []Item            `json:"items"`
	FocusID     string            `json:"focus_id,omitempty"`
	FocusIndex  int               `json:"focus_index"`
	WriteErrors map[string]string `json:"write_errors,omitempty"`
}

// View returns the collection in display order with pending edits applied.
func (r *Reconciler) View() View {
	r.mu.Lock()
	defer r.mu.Unlock()

	v := View{
		Items:      make([]Item, 0, len(r.localOrder)),
		FocusID:    r.focusID,
		FocusIndex: r.lastFocusIdx,
	}
	for i, id := range r.localOrder {
		item, ok := r.items[id]
		if !ok {
			continue
		}
		item.Order = i
		v.Items = append(v.Items, item)
	}
	if len(r.writeErrs) > 0 {
		v.WriteErrors = make(map[string]string, len(r.writeErrs))
		for id, msg := range r.writeErrs {
			v.WriteErrors[id] = msg
		}
	}
	return v
}

// Close stops the debounce timer. Pending writes are abandoned; the view's
// local state is discarded with the session.
func (r *Reconciler) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

func (r *Reconciler) mergeEditLocked(itemID string, patch map[string]any) {
	r.seq++
	edit, ok := r.edits[itemID]
	if !ok {
		edit = &pendingEdit{patch: make(map[string]any)}
		r.edits[itemID] = edit
	}
	for k, v := range patch {
		edit.patch[k] = v
	}
	edit.seq = r.seq
	edit.settled = false
	delete(r.writeErrs, itemID)
}

// advanceLocked moves focus off the current item: forward, or backward when
// focus is already last.
func (r *Reconciler) advanceLocked() {
	n := len(r.localOrder)
	if n <= 1 {
		return
	}
	if r.lastFocusIdx >= n-1 {
		r.lastFocusIdx = n - 2
	} else {
		r.lastFocusIdx++
	}
	r.focusID = r.localOrder[r.lastFocusIdx]
}

func (r *Reconciler) scheduleFlushLocked() {
	if r.debounce < 0 {
		return
	}
	if r.timer == nil {
		r.timer = time.AfterFunc(r.debounce, func() {
			r.Flush(context.Background())
		})
		return
	}
	r.timer.Reset(r.debounce)
}

func (r *Reconciler) recordWriteFailure(itemID string, err error) {
	r.mu.Lock()
	r.writeErrs[itemID] = err.Error()
	r.mu.Unlock()
	r.recordWriteFailureMetric()
}

func (r *Reconciler) recordWriteFailureMetric() {
	if r.metrics != nil {
		r.metrics.WriteFailure()
	}
}

// applyPatch overlays a pending edit onto a freshly fetched item.
func applyPatch(item Item, patch map[string]any) Item {
	if tags, ok := patch["tags"].([]string); ok {
		item.Tags = tags
	}
	if hidden, ok := patch["hidden"].(bool); ok {
		item.Hidden = hidden
	}
	if pos, ok := patch["position"].(int); ok {
		item.Order = pos
	}
	return item
}
