package circuitbreaker

import (
	"context"
	"sort"
	"sync"

	"live-timing/internal/common/logging"
)

// GoBreakerManager owns a set of named breakers sharing one config, such as
// the proxies of one polling engine.
type GoBreakerManager struct {
	breakers map[string]*GoBreakerAdapter
	config   Config
	logger   logging.Logger
	mu       sync.RWMutex
}

// NewGoBreakerManager creates a manager whose breakers all use config
func NewGoBreakerManager(config Config, logger logging.Logger) *GoBreakerManager {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &GoBreakerManager{
		breakers: make(map[string]*GoBreakerAdapter),
		config:   config,
		logger:   logger,
	}
}

// GetOrCreate gets an existing circuit breaker or creates a new one
func (m *GoBreakerManager) GetOrCreate(name string) *GoBreakerAdapter {
	m.mu.RLock()
	breaker, exists := m.breakers[name]
	m.mu.RUnlock()
	if exists {
		return breaker
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if breaker, exists := m.breakers[name]; exists {
		return breaker
	}
	breaker = NewGoBreaker(name, m.config, m.logger)
	m.breakers[name] = breaker
	return breaker
}

// Execute executes fn under the named breaker
func (m *GoBreakerManager) Execute(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	return m.GetOrCreate(name).Execute(ctx, fn)
}

// IsOpen reports whether the named breaker exists and is open
func (m *GoBreakerManager) IsOpen(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	breaker, exists := m.breakers[name]
	return exists && breaker.IsOpen()
}

// AllStats returns stats for every breaker, sorted by name
func (m *GoBreakerManager) AllStats() []Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := make([]Stats, 0, len(m.breakers))
	for _, breaker := range m.breakers {
		stats = append(stats, breaker.Stats())
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })
	return stats
}
