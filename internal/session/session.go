// Package session is the engine's UI-facing surface. A Session owns one
// extraction job registry and one gallery reconciler per open collection
// view; the server keeps a registry of sessions keyed by id.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/quartershq/quarters/internal/extraction"
	"github.com/quartershq/quarters/internal/gallery"
	"github.com/quartershq/quarters/internal/metrics"
)

// Session scopes all engine state to one UI session. Jobs, subscriptions,
// and gallery views live and die with it; nothing here is persisted.
type Session struct {
	ID        string
	CreatedAt time.Time

	registry *extraction.Registry
	logger   *slog.Logger

	fetcher   extraction.Fetcher
	persister gallery.Persister
	metrics   *metrics.Recorder

	saveWindow time.Duration
	navWindow  time.Duration
	debounce   time.Duration
	now        func() time.Time

	mu        sync.Mutex
	galleries map[string]*gallery.Reconciler
	lastSeen  time.Time
	closed    bool
}

// Jobs returns the session's extraction job registry.
func (s *Session) Jobs() *extraction.Registry {
	return s.registry
}

// Gallery returns the reconciler for one (table, entity) collection view,
// creating it on first use. Two callers asking for the same view share one
// reconciler, one focus, and one set of pending edits.
func (s *Session) Gallery(table, entityID string) *gallery.Reconciler {
	key := table + "/" + entityID

	s.mu.Lock()
	defer s.mu.Unlock()

	if r, ok := s.galleries[key]; ok {
		return r
	}
	r := gallery.NewReconciler(gallery.Config{
		Table:      table,
		EntityID:   entityID,
		Persister:  s.persister,
		Logger:     s.logger,
		Metrics:    s.metrics,
		SaveWindow: s.saveWindow,
		NavWindow:  s.navWindow,
		Debounce:   s.debounce,
		Now:        s.now,
	})
	s.galleries[key] = r
	return r
}

// RefreshGallery refetches a collection from the store and reconciles the
// result into the view. This is the refetch path behind both bus-driven
// refreshes and manual reloads.
func (s *Session) RefreshGallery(ctx context.Context, table, entityID string) (gallery.View, error) {
	r := s.Gallery(table, entityID)

	rows, err := s.fetcher.Rows(ctx, table, entityID)
	if err != nil {
		return gallery.View{}, fmt.Errorf("refetching %s for %s: %w", table, entityID, err)
	}
	r.Reconcile(gallery.ItemsFromRows(rows))
	return r.View(), nil
}

// Touch records activity for idle expiry.
func (s *Session) Touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

// LastSeen returns the last recorded activity time.
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// Close tears down the session's subscriptions, pending timers, and local
// state. It never cancels the external worker; its eventual writes remain
// visible to any other session watching the same entities.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	galleries := make([]*gallery.Reconciler, 0, len(s.galleries))
	for _, r := range s.galleries {
		galleries = append(galleries, r)
	}
	s.galleries = make(map[string]*gallery.Reconciler)
	s.mu.Unlock()

	s.registry.Close()
	for _, r := range galleries {
		r.Close()
	}
	s.logger.Info("session closed", "session_id", s.ID)
}
