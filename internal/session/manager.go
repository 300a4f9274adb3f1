package session

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quartershq/quarters/internal/bus"
	"github.com/quartershq/quarters/internal/extraction"
	"github.com/quartershq/quarters/internal/gallery"
	"github.com/quartershq/quarters/internal/metrics"
	"github.com/quartershq/quarters/internal/worker"
)

// ErrNotFound is returned when a session id is unknown or already closed.
var ErrNotFound = errors.New("session not found")

// ManagerConfig carries the shared collaborators every session is built on.
type ManagerConfig struct {
	Invoker   worker.Invoker
	Fetcher   extraction.Fetcher
	Bus       bus.Bus
	Persister gallery.Persister
	Logger    *slog.Logger
	Metrics   *metrics.Recorder // optional

	JobTimeout   time.Duration
	PollInterval time.Duration
	SaveWindow   time.Duration
	NavWindow    time.Duration
	Debounce     time.Duration
	Now          func() time.Time
}

// Manager is the server-side session registry.
type Manager struct {
	cfg    ManagerConfig
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a session manager.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Manager{
		cfg:      cfg,
		logger:   cfg.Logger,
		sessions: make(map[string]*Session),
	}
}

// Open creates a new session with a fresh id.
func (m *Manager) Open() *Session {
	now := m.cfg.Now()
	s := &Session{
		ID:        uuid.NewString(),
		CreatedAt: now,
		registry: extraction.NewRegistry(extraction.RegistryConfig{
			Invoker:      m.cfg.Invoker,
			Fetcher:      m.cfg.Fetcher,
			Bus:          m.cfg.Bus,
			Logger:       m.cfg.Logger,
			Metrics:      m.cfg.Metrics,
			JobTimeout:   m.cfg.JobTimeout,
			PollInterval: m.cfg.PollInterval,
			Now:          m.cfg.Now,
		}),
		logger:     m.cfg.Logger,
		fetcher:    m.cfg.Fetcher,
		persister:  m.cfg.Persister,
		metrics:    m.cfg.Metrics,
		saveWindow: m.cfg.SaveWindow,
		navWindow:  m.cfg.NavWindow,
		debounce:   m.cfg.Debounce,
		now:        m.cfg.Now,
		galleries:  make(map[string]*gallery.Reconciler),
		lastSeen:   now,
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	m.logger.Info("session opened", "session_id", s.ID)
	return s
}

// Get looks up an open session and records activity on it.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	s.Touch(m.cfg.Now())
	return s, nil
}

// Close tears down one session and forgets it.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	s.Close()
	return nil
}

// CloseAll tears down every session, typically on server shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}

// PruneIdle closes sessions with no activity for the given duration and
// returns how many were closed.
func (m *Manager) PruneIdle(idle time.Duration) int {
	cutoff := m.cfg.Now().Add(-idle)

	m.mu.Lock()
	var stale []*Session
	for id, s := range m.sessions {
		if s.LastSeen().Before(cutoff) {
			stale = append(stale, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range stale {
		s.Close()
		m.logger.Info("idle session pruned", "session_id", s.ID)
	}
	return len(stale)
}

// Count returns the number of open sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
