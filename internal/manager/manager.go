// Package manager picks the engine for a race URL, runs it, and turns its
// provider payloads into canonical updates.
package manager

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"live-timing/internal/common/errors"
	"live-timing/internal/common/logging"
	"live-timing/internal/common/utils"
	"live-timing/internal/engines"
	"live-timing/internal/models"
)

// Options are the per-session callbacks and tuning
type Options struct {
	SearchType     models.SearchType
	OnUpdate       func(models.CanonicalUpdate)
	OnError        func(err error, consecutiveErrors int)
	OnFatalError   func(err error)
	UpdateInterval time.Duration
}

// Stats describes the current or most recent session
type Stats struct {
	SessionID  string            `json:"sessionId,omitempty"`
	Provider   models.Provider   `json:"provider,omitempty"`
	RaceURL    string            `json:"raceUrl,omitempty"`
	SearchTerm string            `json:"searchTerm,omitempty"`
	SearchType models.SearchType `json:"searchType,omitempty"`
	Running    bool              `json:"running"`
	StartedAt  time.Time         `json:"startedAt,omitempty"`
	Updates    int64             `json:"updates"`
	Found      bool              `json:"found"`
	Engine     *engines.Stats    `json:"engine,omitempty"`
}

// session is one Start..Stop lifetime. Engine callbacks close over it so a
// stopped session can never emit again.
type session struct {
	id         string
	provider   models.Provider
	raceURL    string
	searchTerm string
	opts       Options
	startedAt  time.Time
	engine     engines.Engine

	stopped atomic.Bool
	updates atomic.Int64
	found   atomic.Bool
}

// Manager runs at most one engine at a time
type Manager struct {
	registry *engines.Registry
	logger   logging.Logger

	mu      sync.Mutex
	current *session

	lastMu sync.RWMutex
	last   *models.CanonicalUpdate
}

// New creates a manager using registry to build engines
func New(registry *engines.Registry, logger logging.Logger) *Manager {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Manager{
		registry: registry,
		logger:   logger.WithFields(logging.String("component", "manager")),
	}
}

// Start detects the provider of rawURL and starts its engine. An
// unrecognised URL is a start-time error and nothing is started. The engine
// lives until ctx is done or Stop is called.
func (m *Manager) Start(ctx context.Context, rawURL, searchTerm string, opts Options) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil && !m.current.stopped.Load() && m.current.engine.IsRunning() {
		return engines.ErrEngineAlreadyRunning
	}

	raceURL := strings.TrimSpace(rawURL)
	provider, err := engines.Detect(raceURL)
	if err != nil {
		appErr := errors.ConfigError("unsupported race url").WithContext("race_url", raceURL)
		appErr.Cause = err
		return appErr
	}

	s := &session{
		id:         utils.NewSessionID(),
		provider:   provider,
		raceURL:    raceURL,
		searchTerm: strings.TrimSpace(searchTerm),
		opts:       opts,
		startedAt:  time.Now(),
	}
	logger := m.logger.WithContext(logging.ContextWithSession(ctx, s.id, raceURL))

	engine, err := m.registry.Create(provider, engines.Config{
		RaceURL:        raceURL,
		UpdateInterval: opts.UpdateInterval,
		Handler:        m.handler(s, logger),
		Logger:         logger,
	})
	if err != nil {
		return err
	}
	s.engine = engine

	if err := engine.Start(ctx); err != nil {
		return err
	}
	m.current = s

	logger.Info("Session started",
		logging.String("provider", string(provider)),
		logging.String("search_term", s.searchTerm),
		logging.String("search_type", string(opts.SearchType)),
	)
	return nil
}

// Stop stops the running engine. No update is delivered once Stop returns,
// apart from a callback that was already executing.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.current
	if s == nil || s.stopped.Load() {
		return engines.ErrEngineNotRunning
	}
	s.stopped.Store(true)

	err := s.engine.Stop()
	if stderrors.Is(err, engines.ErrEngineNotRunning) {
		// The engine already gave up on its own.
		err = nil
	}
	m.logger.Info("Session stopped",
		logging.String("session_id", s.id),
		logging.Int64("updates", s.updates.Load()),
	)
	return err
}

// Restart stops any running session and starts a new one
func (m *Manager) Restart(ctx context.Context, rawURL, searchTerm string, opts Options) error {
	if err := m.Stop(); err != nil && !stderrors.Is(err, engines.ErrEngineNotRunning) {
		return fmt.Errorf("stopping previous session: %w", err)
	}
	return m.Start(ctx, rawURL, searchTerm, opts)
}

// IsRunning reports whether a session is active
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil && !m.current.stopped.Load() && m.current.engine.IsRunning()
}

// Stats returns the current session's statistics
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	s := m.current
	m.mu.Unlock()

	if s == nil {
		return Stats{}
	}
	engineStats := s.engine.Stats()
	return Stats{
		SessionID:  s.id,
		Provider:   s.provider,
		RaceURL:    s.raceURL,
		SearchTerm: s.searchTerm,
		SearchType: s.opts.SearchType,
		Running:    !s.stopped.Load() && engineStats.Running,
		StartedAt:  s.startedAt,
		Updates:    s.updates.Load(),
		Found:      s.found.Load(),
		Engine:     &engineStats,
	}
}

// LastUpdate returns the most recent update of any session
func (m *Manager) LastUpdate() (models.CanonicalUpdate, bool) {
	m.lastMu.RLock()
	defer m.lastMu.RUnlock()
	if m.last == nil {
		return models.CanonicalUpdate{}, false
	}
	return *m.last, true
}

func (m *Manager) handler(s *session, logger logging.Logger) engines.Handler {
	return engines.Handler{
		OnPayload: func(p engines.Payload) {
			if s.stopped.Load() {
				return
			}
			update := Normalize(p, s.id, s.searchTerm, s.opts.SearchType)

			s.updates.Add(1)
			if s.found.Swap(update.Found) != update.Found {
				logger.Debug("Team match changed", logging.Bool("found", update.Found))
			}
			m.lastMu.Lock()
			m.last = &update
			m.lastMu.Unlock()

			if s.opts.OnUpdate != nil && !s.stopped.Load() {
				s.opts.OnUpdate(update)
			}
		},
		OnError: func(err error, count int) {
			if s.stopped.Load() || s.opts.OnError == nil {
				return
			}
			s.opts.OnError(err, count)
		},
		OnFatal: func(err error) {
			if s.stopped.Swap(true) {
				return
			}
			logger.Error("Session ended by fatal engine error", err)
			if s.opts.OnFatalError != nil {
				s.opts.OnFatalError(err)
			}
		},
	}
}
