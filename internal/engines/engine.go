// Package engines defines the contract shared by the live-timing engines,
// the registry that builds them and provider detection from race URLs.
package engines

import (
	"context"
	"time"

	"live-timing/internal/circuitbreaker"
	"live-timing/internal/common/logging"
	"live-timing/internal/models"
)

// MaxConsecutiveErrors is the number of consecutive cycle or connection
// failures an engine tolerates. One more stops it for good.
const MaxConsecutiveErrors = 15

// Engine is one running connection to a timing provider.
type Engine interface {
	// Start begins ingestion in the background. It fails if already running.
	Start(ctx context.Context) error
	// Stop cancels pending I/O and timers. No payload is emitted afterwards.
	Stop() error
	IsRunning() bool
	Stats() Stats
}

// State is the lifecycle state reported in Stats
type State string

const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateReconnecting State = "reconnecting"
	StatePolling      State = "polling"
	StateStopped      State = "stopped"
)

// Payload is what an engine emits after applying a snapshot or delta. The
// competitor slice is a copy owned by the receiver.
type Payload struct {
	Provider    models.Provider
	Race        *models.RaceState
	Competitors []models.Competitor
	ReceivedAt  time.Time
}

// Handler receives engine events. Nil callbacks are skipped. Callbacks run on
// the engine's loop goroutine and must not block for long.
type Handler struct {
	OnPayload func(Payload)
	OnError   func(err error, consecutiveErrors int)
	OnFatal   func(err error)
}

// Stats is a point-in-time view of an engine
type Stats struct {
	Provider          models.Provider        `json:"provider"`
	State             State                  `json:"state"`
	Running           bool                   `json:"running"`
	RaceURL           string                 `json:"raceUrl"`
	StartedAt         time.Time              `json:"startedAt"`
	ConsecutiveErrors int                    `json:"consecutiveErrors"`
	TotalErrors       int                    `json:"totalErrors"`
	Updates           int                    `json:"updates"`
	LastUpdate        time.Time              `json:"lastUpdate"`
	LastSuccess       time.Time              `json:"lastSuccess"`
	LastError         string                 `json:"lastError,omitempty"`
	Rows              int                    `json:"rows"`
	PollInterval      time.Duration          `json:"pollInterval,omitempty"`
	ProxyIndex        int                    `json:"proxyIndex,omitempty"`
	Breakers          []circuitbreaker.Stats `json:"breakers,omitempty"`
}

// Config is what every engine factory receives
type Config struct {
	RaceURL        string
	UpdateInterval time.Duration
	Handler        Handler
	Logger         logging.Logger
}
