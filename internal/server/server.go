package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/quartershq/quarters/internal/api"
	"github.com/quartershq/quarters/internal/bus"
	"github.com/quartershq/quarters/internal/config"
	"github.com/quartershq/quarters/internal/metrics"
	"github.com/quartershq/quarters/internal/server/endpoints"
	"github.com/quartershq/quarters/internal/session"
	"github.com/quartershq/quarters/internal/store"
	"github.com/quartershq/quarters/internal/svcctx"
	"github.com/quartershq/quarters/internal/worker"
)

// Server is the main Quarters HTTP server. When ManageStore is set it also
// owns the dev store container lifecycle, starting it on server start and
// stopping it on shutdown.
type Server struct {
	httpServer   *http.Server
	storeManager *store.DockerManager
	storeClient  *store.Client
	storeWriter  *store.Writer
	changeBus    bus.Bus
	sessions     *session.Manager
	recorder     *metrics.Recorder
	configMgr    *config.Manager
	logger       *slog.Logger
	cfg          Config

	// services holds all core services for context enrichment
	services *svcctx.Services

	// endpoints registry for HTTP routes
	endpointRegistry *api.Registry

	mu      sync.RWMutex
	running bool
}

// Config holds server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1)
	Host string
	// Port is the port to listen on (default: 7780)
	Port string

	// StoreURL is the base URL of the relational store.
	StoreURL string
	// StoreAPIKey authenticates store requests.
	StoreAPIKey string
	// ManageStore runs the local dev store container alongside the server.
	ManageStore bool
	// StoreDocker holds dev store container settings (used when ManageStore).
	StoreDocker store.DockerConfig

	// RealtimeURL is the websocket change feed. Empty means an in-process
	// broker, which leaves completion detection to the fallback poll.
	RealtimeURL string

	// WorkerURL is the extraction worker command endpoint.
	WorkerURL string
	// WorkerToken is the bearer token for worker commands.
	WorkerToken string

	// Engine tuning. Zero values fall back to package defaults.
	JobTimeout   time.Duration
	PollInterval time.Duration
	SaveWindow   time.Duration
	NavWindow    time.Duration
	Debounce     time.Duration
	SessionIdle  time.Duration

	// ConfigManager provides configuration with hot-reload support.
	ConfigManager *config.Manager
	// Logger is the structured logger to use.
	Logger *slog.Logger
}

// New creates a new Server with the given configuration.
func New(cfg Config) (*Server, error) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == "" {
		cfg.Port = "7780"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.SessionIdle <= 0 {
		cfg.SessionIdle = 30 * time.Minute
	}

	s := &Server{
		configMgr: cfg.ConfigManager,
		recorder:  metrics.NewRecorder(),
		logger:    cfg.Logger,
	}

	if cfg.ManageStore {
		mgr, err := store.NewDockerManager(cfg.StoreDocker)
		if err != nil {
			return nil, fmt.Errorf("failed to create store manager: %w", err)
		}
		s.storeManager = mgr
		if cfg.StoreURL == "" {
			cfg.StoreURL = mgr.URL()
		}
	}
	if cfg.StoreURL == "" {
		return nil, errors.New("store URL is required")
	}

	s.cfg = cfg

	// Create endpoint registry and register all endpoints
	s.endpointRegistry = api.NewRegistry()
	for _, ep := range endpoints.All(endpoints.Config{StoreManager: s.storeManager}) {
		s.endpointRegistry.Register(ep)
	}

	// Set up HTTP server
	mux := http.NewServeMux()
	s.endpointRegistry.RegisterRoutes(mux, s.requireInit)

	s.httpServer = &http.Server{
		Addr:         net.JoinHostPort(cfg.Host, cfg.Port),
		Handler:      s.withServices(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// Start starts the server and its backing services.
// It blocks until the context is cancelled or an error occurs.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.mu.Unlock()

	if s.storeManager != nil {
		s.logger.Info("starting dev store")
		if err := s.storeManager.Start(ctx); err != nil {
			s.setNotRunning()
			return fmt.Errorf("failed to start dev store: %w", err)
		}
	}

	s.storeClient = store.NewClient(s.cfg.StoreURL, s.cfg.StoreAPIKey)
	if err := s.storeClient.HealthCheck(ctx); err != nil {
		_ = s.shutdown()
		return fmt.Errorf("store health check failed: %w", err)
	}
	s.logger.Info("store is ready", "url", s.cfg.StoreURL)

	s.storeWriter = store.NewWriter(store.WriterConfig{
		Client: s.storeClient,
		Logger: s.logger,
	})
	s.storeWriter.Start(ctx)

	if s.cfg.RealtimeURL != "" {
		rt := bus.NewClient(s.cfg.RealtimeURL, s.cfg.StoreAPIKey, s.logger)
		if err := rt.Connect(ctx); err != nil {
			_ = s.shutdown()
			return fmt.Errorf("realtime connect failed: %w", err)
		}
		s.changeBus = rt
		s.logger.Info("realtime change feed connected", "url", s.cfg.RealtimeURL)
	} else {
		s.changeBus = bus.NewBroker(s.logger)
		s.logger.Info("using in-process change broker")
	}

	invoker := worker.NewClient(s.cfg.WorkerURL, s.cfg.WorkerToken)

	settings := config.NewStore(s.storeClient)
	if err := config.SeedDefaults(ctx, settings, s.logger); err != nil {
		s.logger.Warn("failed to seed default settings", "error", err)
	}

	s.sessions = session.NewManager(session.ManagerConfig{
		Invoker:      invoker,
		Fetcher:      s.storeClient,
		Bus:          s.changeBus,
		Persister:    s.storeWriter,
		Logger:       s.logger,
		Metrics:      s.recorder,
		JobTimeout:   s.cfg.JobTimeout,
		PollInterval: s.cfg.PollInterval,
		SaveWindow:   s.cfg.SaveWindow,
		NavWindow:    s.cfg.NavWindow,
		Debounce:     s.cfg.Debounce,
	})

	// Create services struct for context enrichment
	s.services = &svcctx.Services{
		StoreClient:   s.storeClient,
		StoreWriter:   s.storeWriter,
		Bus:           s.changeBus,
		Invoker:       invoker,
		Sessions:      s.sessions,
		SettingsStore: settings,
		Metrics:       s.recorder,
		Logger:        s.logger,
	}

	// Drop sessions nobody has touched for a while
	pruneCtx, stopPrune := context.WithCancel(ctx)
	defer stopPrune()
	go s.pruneLoop(pruneCtx)

	// Start HTTP server in goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for context cancellation or error
	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			_ = s.shutdown()
			return fmt.Errorf("HTTP server error: %w", err)
		}
	}

	return s.shutdown()
}

// pruneLoop periodically closes sessions idle beyond the configured window.
func (s *Server) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SessionIdle / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.sessions.PruneIdle(s.cfg.SessionIdle); n > 0 {
				s.logger.Info("pruned idle sessions", "count", n)
			}
		}
	}
}

// shutdown performs graceful shutdown of the HTTP server and backing services.
func (s *Server) shutdown() error {
	s.logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	// Sessions first so their bus subscriptions close before the bus does.
	if s.sessions != nil {
		s.sessions.CloseAll()
	}

	switch b := s.changeBus.(type) {
	case *bus.Broker:
		b.Close()
	case *bus.Client:
		if err := b.Close(); err != nil {
			s.logger.Error("realtime close error", "error", err)
		}
	}

	if s.storeWriter != nil {
		s.storeWriter.Stop()
	}

	if s.storeManager != nil {
		s.logger.Info("stopping dev store")
		if err := s.storeManager.Stop(shutdownCtx); err != nil {
			s.logger.Error("dev store stop error", "error", err)
		}
		if err := s.storeManager.Close(); err != nil {
			s.logger.Error("store manager close error", "error", err)
		}
	}

	s.setNotRunning()
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) setNotRunning() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// IsRunning returns whether the server is currently running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// StoreClient returns the store client.
// Returns nil if the server hasn't started yet.
func (s *Server) StoreClient() *store.Client {
	return s.storeClient
}

// Sessions returns the session manager.
// Returns nil if the server hasn't started yet.
func (s *Server) Sessions() *session.Manager {
	return s.sessions
}

// Addr returns the server's listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Metrics returns the engine metrics recorder.
func (s *Server) Metrics() *metrics.Recorder {
	return s.recorder
}

// withServices wraps a handler to enrich the request context with services.
func (s *Server) withServices(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if s.services != nil {
			ctx = svcctx.WithServices(ctx, s.services)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireInit is middleware that ensures the server is fully initialized.
// Returns 503 Service Unavailable if the store or session manager aren't ready.
func (s *Server) requireInit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.storeClient == nil || s.sessions == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":"server not fully initialized"}`))
			return
		}
		next(w, r)
	}
}
