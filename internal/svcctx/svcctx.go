// Package svcctx provides service context for dependency injection via context.
// This package is separate from server to avoid import cycles with endpoints.
package svcctx

import (
	"context"
	"log/slog"

	"github.com/quartershq/quarters/internal/bus"
	"github.com/quartershq/quarters/internal/config"
	"github.com/quartershq/quarters/internal/home"
	"github.com/quartershq/quarters/internal/metrics"
	"github.com/quartershq/quarters/internal/session"
	"github.com/quartershq/quarters/internal/store"
	"github.com/quartershq/quarters/internal/worker"
)

// Services holds all core services that flow through context.
// Components extract what they need via the individual extractors.
type Services struct {
	StoreClient   *store.Client
	StoreWriter   *store.Writer
	Bus           bus.Bus
	Invoker       worker.Invoker
	Sessions      *session.Manager
	SettingsStore config.Store
	Metrics       *metrics.Recorder
	Logger        *slog.Logger
	Home          *home.Dir
}

type servicesKey struct{}

// WithServices returns a new context with services attached.
func WithServices(ctx context.Context, s *Services) context.Context {
	return context.WithValue(ctx, servicesKey{}, s)
}

// ServicesFrom extracts the full Services struct from context.
// Returns nil if not present.
func ServicesFrom(ctx context.Context) *Services {
	s, _ := ctx.Value(servicesKey{}).(*Services)
	return s
}

// StoreClientFrom extracts the store client from context.
func StoreClientFrom(ctx context.Context) *store.Client {
	if s := ServicesFrom(ctx); s != nil {
		return s.StoreClient
	}
	return nil
}

// StoreWriterFrom extracts the async store writer from context.
func StoreWriterFrom(ctx context.Context) *store.Writer {
	if s := ServicesFrom(ctx); s != nil {
		return s.StoreWriter
	}
	return nil
}

// BusFrom extracts the change-notification bus from context.
func BusFrom(ctx context.Context) bus.Bus {
	if s := ServicesFrom(ctx); s != nil {
		return s.Bus
	}
	return nil
}

// InvokerFrom extracts the extraction worker client from context.
func InvokerFrom(ctx context.Context) worker.Invoker {
	if s := ServicesFrom(ctx); s != nil {
		return s.Invoker
	}
	return nil
}

// SessionsFrom extracts the session manager from context.
func SessionsFrom(ctx context.Context) *session.Manager {
	if s := ServicesFrom(ctx); s != nil {
		return s.Sessions
	}
	return nil
}

// SettingsStoreFrom extracts the settings store from context.
func SettingsStoreFrom(ctx context.Context) config.Store {
	if s := ServicesFrom(ctx); s != nil {
		return s.SettingsStore
	}
	return nil
}

// MetricsFrom extracts the metrics recorder from context.
func MetricsFrom(ctx context.Context) *metrics.Recorder {
	if s := ServicesFrom(ctx); s != nil {
		return s.Metrics
	}
	return nil
}

// LoggerFrom extracts the logger from context.
func LoggerFrom(ctx context.Context) *slog.Logger {
	if s := ServicesFrom(ctx); s != nil {
		return s.Logger
	}
	return nil
}

// HomeFrom extracts the home directory from context.
func HomeFrom(ctx context.Context) *home.Dir {
	if s := ServicesFrom(ctx); s != nil {
		return s.Home
	}
	return nil
}
