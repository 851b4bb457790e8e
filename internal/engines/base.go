package engines

import (
	"context"
	"fmt"
	"sync"
	"time"

	"live-timing/internal/common/errors"
	"live-timing/internal/common/logging"
	"live-timing/internal/models"
)

// Base carries the lifecycle, error accounting and guarded emission shared by
// all engines. Engines embed it and drive it from their loop goroutine.
type Base struct {
	provider models.Provider
	raceURL  string
	handler  Handler
	logger   logging.Logger

	mu                sync.RWMutex
	running           bool
	ctx               context.Context
	cancel            context.CancelFunc
	state             State
	startedAt         time.Time
	consecutiveErrors int
	totalErrors       int
	updates           int
	lastUpdate        time.Time
	lastSuccess       time.Time
	lastError         string
	fatalSent         bool
}

// NewBase creates a stopped base for provider
func NewBase(provider models.Provider, cfg Config) *Base {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Base{
		provider: provider,
		raceURL:  cfg.RaceURL,
		handler:  cfg.Handler,
		logger: logger.WithFields(
			logging.String("component", "engine"),
			logging.String("provider", string(provider)),
			logging.String("race_url", cfg.RaceURL),
		),
		state: StateIdle,
	}
}

// Logger returns the engine-scoped logger
func (b *Base) Logger() logging.Logger {
	return b.logger
}

// Begin marks the engine running and derives its context from parent
func (b *Base) Begin(parent context.Context, initial State) (context.Context, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return nil, ErrEngineAlreadyRunning
	}
	b.ctx, b.cancel = context.WithCancel(parent)
	b.running = true
	b.state = initial
	b.startedAt = time.Now()
	b.consecutiveErrors = 0
	b.fatalSent = false
	return b.ctx, nil
}

// Go runs fn on a new goroutine, logging instead of crashing on panic
func (b *Base) Go(name string, fn func()) {
	go func() {
		defer b.recoverPanic(name)
		fn()
	}()
}

// Stop cancels the engine context and marks it stopped
func (b *Base) Stop() error {
	if !b.halt() {
		return ErrEngineNotRunning
	}
	b.logger.Info("Engine stopped")
	return nil
}

func (b *Base) halt() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.running {
		return false
	}
	b.running = false
	b.state = StateStopped
	if b.cancel != nil {
		b.cancel()
	}
	return true
}

// IsRunning returns whether the engine is currently running
func (b *Base) IsRunning() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.running
}

// SetState records a new state unless the engine is stopped
func (b *Base) SetState(state State) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		b.state = state
	}
}

// State returns the current lifecycle state
func (b *Base) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// ConsecutiveErrors returns the current failure streak
func (b *Base) ConsecutiveErrors() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.consecutiveErrors
}

// RecordSuccess resets the failure streak
func (b *Base) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveErrors = 0
	b.lastSuccess = time.Now()
}

// Emit hands a payload to OnPayload if the engine is still running. It
// reports whether the payload was delivered.
func (b *Base) Emit(payload Payload) bool {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return false
	}
	b.updates++
	b.lastUpdate = time.Now()
	b.mu.Unlock()

	if payload.Provider == "" {
		payload.Provider = b.provider
	}
	if payload.ReceivedAt.IsZero() {
		payload.ReceivedAt = time.Now()
	}

	if b.handler.OnPayload != nil {
		b.call("OnPayload", func() { b.handler.OnPayload(payload) })
	}
	return true
}

// Fail records a cycle or connection failure and reports it through OnError.
// Once the streak exceeds MaxConsecutiveErrors the engine halts and OnFatal
// fires exactly once. It returns the new streak and whether the engine gave
// up; failures after Stop are ignored.
func (b *Base) Fail(err error) (int, bool) {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return 0, false
	}
	b.consecutiveErrors++
	b.totalErrors++
	b.lastError = err.Error()
	count := b.consecutiveErrors
	b.mu.Unlock()

	b.logger.Warn("Engine cycle failed",
		logging.Int("consecutive_errors", count),
		logging.String("error_type", string(errors.GetType(err))),
		logging.Err(err),
	)

	if b.handler.OnError != nil {
		b.call("OnError", func() { b.handler.OnError(err, count) })
	}

	if count <= MaxConsecutiveErrors {
		return count, false
	}

	b.mu.Lock()
	alreadySent := b.fatalSent
	b.fatalSent = true
	b.mu.Unlock()

	stopped := b.halt()
	if alreadySent || !stopped {
		return count, true
	}

	fatal := errors.FatalError(
		fmt.Sprintf("%s engine gave up after %d consecutive errors", b.provider, count),
		fmt.Errorf("%w: %v", ErrTooManyErrors, err),
	)
	b.logger.Error("Engine stopped permanently", fatal, logging.Int("consecutive_errors", count))

	if b.handler.OnFatal != nil {
		b.call("OnFatal", func() { b.handler.OnFatal(fatal) })
	}
	return count, true
}

// BaseStats fills the fields of Stats that Base owns
func (b *Base) BaseStats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Stats{
		Provider:          b.provider,
		State:             b.state,
		Running:           b.running,
		RaceURL:           b.raceURL,
		StartedAt:         b.startedAt,
		ConsecutiveErrors: b.consecutiveErrors,
		TotalErrors:       b.totalErrors,
		Updates:           b.updates,
		LastUpdate:        b.lastUpdate,
		LastSuccess:       b.lastSuccess,
		LastError:         b.lastError,
	}
}

func (b *Base) call(name string, fn func()) {
	defer b.recoverPanic(name)
	fn()
}

func (b *Base) recoverPanic(name string) {
	if r := recover(); r != nil {
		b.logger.Error("Recovered panic", errors.InternalError(fmt.Sprintf("panic in %s: %v", name, r), nil))
	}
}
