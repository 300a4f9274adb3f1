// Package bus consumes change notifications from the shared store.
//
// The engine never polls the store as its primary completion signal: it
// subscribes to (table, entity) change events and reacts to deliveries.
// Two implementations exist - an in-memory Broker used by tests and the
// embedded dev store, and a websocket Client speaking the hosted store's
// realtime protocol.
package bus

import (
	"context"
	"errors"

	"github.com/quartershq/quarters/internal/store"
)

// ErrBusClosed is returned when subscribing on a closed bus.
var ErrBusClosed = errors.New("bus closed")

// Kind is the change kind carried by an event.
type Kind string

const (
	KindInsert Kind = "insert"
	KindUpdate Kind = "update"
)

// Event is a single change notification from the store.
type Event struct {
	Kind  Kind
	Table string
	Row   store.Row
}

// Filter narrows a subscription to events for one entity and,
// optionally, specific change kinds. An empty Kinds slice matches all.
type Filter struct {
	EntityID string
	Kinds    []Kind
}

// Matches reports whether an event passes the filter.
func (f Filter) Matches(e Event) bool {
	if f.EntityID != "" && e.Row.String(store.EntityColumn) != f.EntityID {
		return false
	}
	if len(f.Kinds) == 0 {
		return true
	}
	for _, k := range f.Kinds {
		if k == e.Kind {
			return true
		}
	}
	return false
}

// Subscription is an open change-notification channel for one (table, filter)
// pair. Close is idempotent; the Events channel is closed on teardown.
type Subscription interface {
	// Events delivers matching events in emission order.
	Events() <-chan Event

	// Close tears the subscription down. Safe to call multiple times.
	Close() error
}

// Bus hands out subscriptions keyed by table and filter.
type Bus interface {
	Subscribe(ctx context.Context, table string, filter Filter) (Subscription, error)
}
