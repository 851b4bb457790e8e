package server

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"live-timing/internal/common/errors"
	"live-timing/internal/common/logging"
	"live-timing/internal/common/validation"
	"live-timing/internal/engines"
	"live-timing/internal/manager"
	"live-timing/internal/models"
)

// Sessions is the part of the manager the API drives
type Sessions interface {
	Restart(ctx context.Context, rawURL, searchTerm string, opts manager.Options) error
	Stop() error
	IsRunning() bool
	Stats() manager.Stats
}

// Relay is the same-origin proxy mounted at /api/proxy
type Relay interface {
	http.Handler
	Stats() map[string]interface{}
}

// Config configures the API
type Config struct {
	Sessions        Sessions
	Relay           Relay
	LatestTTL       time.Duration
	DefaultInterval time.Duration
	// Sinks receive every update after the cache and the hub
	Sinks  []func(models.CanonicalUpdate)
	Logger logging.Logger
}

// API serves the HTTP and WebSocket surface of the service
type API struct {
	// ctx bounds engines started through the API; request contexts end too soon
	ctx       context.Context
	sessions  Sessions
	relay     Relay
	hub       *Hub
	latest    *LatestStore
	validator *validation.CentralizedValidator
	sinks     []func(models.CanonicalUpdate)
	interval  time.Duration
	logger    logging.Logger
	startedAt time.Time
}

type sessionRequest struct {
	URL              string `json:"url" validate:"required,race_url"`
	SearchTerm       string `json:"searchTerm" validate:"max=100"`
	SearchType       string `json:"searchType" validate:"search_type"`
	UpdateIntervalMs int    `json:"updateIntervalMs" validate:"omitempty,min=100,max=60000"`
}

type errorResponse struct {
	Error  string                  `json:"error"`
	Type   errors.ErrorType        `json:"type,omitempty"`
	Fields []validation.FieldError `json:"fields,omitempty"`
}

// NewAPI creates the API. Engines started through it live until ctx is done.
func NewAPI(ctx context.Context, cfg Config) (*API, error) {
	if cfg.Sessions == nil {
		return nil, errors.ConfigError("session manager is required")
	}
	if cfg.LatestTTL <= 0 {
		return nil, errors.ConfigError("latest update ttl must be positive")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	v := validation.NewCentralizedValidator()
	if err := v.RegisterValidation("race_url", "field '%s' must be an Apex or RaceFacer race URL", func(value string) bool {
		_, err := engines.Detect(value)
		return err == nil
	}); err != nil {
		return nil, err
	}

	a := &API{
		ctx:       ctx,
		sessions:  cfg.Sessions,
		relay:     cfg.Relay,
		hub:       NewHub(logger),
		latest:    NewLatestStore(cfg.LatestTTL),
		validator: v,
		sinks:     cfg.Sinks,
		interval:  cfg.DefaultInterval,
		logger:    logger.WithFields(logging.String("component", "api")),
		startedAt: time.Now(),
	}
	a.hub.greeting = func() (Message, bool) {
		update, ok := a.latest.Get()
		return Message{Type: MessageUpdate, Data: update}, ok
	}
	return a, nil
}

// Hub returns the WebSocket hub
func (a *API) Hub() *Hub {
	return a.hub
}

// Router builds the route table
func (a *API) Router(middlewares ...mux.MiddlewareFunc) *mux.Router {
	router := mux.NewRouter()
	for _, mw := range middlewares {
		router.Use(mw)
	}

	router.HandleFunc("/health", a.handleHealth).Methods(http.MethodGet)
	router.Handle("/ws", a.hub).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/stats", a.handleStats).Methods(http.MethodGet)
	api.HandleFunc("/latest", a.handleLatest).Methods(http.MethodGet)
	api.HandleFunc("/session", a.handleStartSession).Methods(http.MethodPost)
	api.HandleFunc("/session", a.handleStopSession).Methods(http.MethodDelete)
	if a.relay != nil {
		api.Handle("/proxy", a.relay).Methods(http.MethodGet, http.MethodOptions)
	}
	return router
}

// Dispatch fans an update out to the cache, the subscribers and the sinks
func (a *API) Dispatch(update models.CanonicalUpdate) {
	a.latest.Set(update)
	a.hub.Broadcast(MessageUpdate, update)
	for _, sink := range a.sinks {
		sink(update)
	}
}

// SessionOptions builds manager options whose callbacks feed this API
func (a *API) SessionOptions(searchType models.SearchType, interval time.Duration) manager.Options {
	if interval <= 0 {
		interval = a.interval
	}
	return manager.Options{
		SearchType:     searchType,
		UpdateInterval: interval,
		OnUpdate:       a.Dispatch,
		OnError: func(err error, consecutiveErrors int) {
			a.logger.Warn("Engine error",
				logging.Err(err),
				logging.Int("consecutive_errors", consecutiveErrors),
			)
			a.hub.Broadcast(MessageError, map[string]interface{}{
				"message":           err.Error(),
				"consecutiveErrors": consecutiveErrors,
			})
		},
		OnFatalError: func(err error) {
			a.logger.Error("Session ended", err)
			a.hub.Broadcast(MessageFatal, map[string]interface{}{
				"message": err.Error(),
			})
		},
	}
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"running": a.sessions.IsRunning(),
	})
}

func (a *API) handleStats(w http.ResponseWriter, _ *http.Request) {
	stats := map[string]interface{}{
		"session":     a.sessions.Stats(),
		"subscribers": a.hub.Count(),
		"uptime":      time.Since(a.startedAt).Round(time.Second).String(),
	}
	if a.relay != nil {
		stats["relay"] = a.relay.Stats()
	}
	writeJSON(w, http.StatusOK, stats)
}

func (a *API) handleLatest(w http.ResponseWriter, r *http.Request) {
	var (
		update models.CanonicalUpdate
		ok     bool
	)
	if id := r.URL.Query().Get("session"); id != "" {
		update, ok = a.latest.GetSession(id)
	} else {
		update, ok = a.latest.Get()
	}
	if !ok {
		writeError(w, errors.NotFoundError("update"))
		return
	}
	writeJSON(w, http.StatusOK, update)
}

func (a *API) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 16<<10)).Decode(&req); err != nil {
		writeError(w, errors.ValidationError("invalid JSON body"))
		return
	}
	if err := a.validator.ValidateStruct(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:  err.Error(),
			Type:   errors.ErrTypeValidation,
			Fields: a.validator.FieldErrors(&req),
		})
		return
	}

	opts := a.SessionOptions(models.SearchType(req.SearchType), time.Duration(req.UpdateIntervalMs)*time.Millisecond)
	if err := a.sessions.Restart(a.ctx, req.URL, req.SearchTerm, opts); err != nil {
		a.logger.Warn("Failed to start session", logging.Err(err), logging.String("race_url", req.URL))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, a.sessions.Stats())
}

func (a *API) handleStopSession(w http.ResponseWriter, _ *http.Request) {
	if err := a.sessions.Stop(); err != nil {
		if stderrors.Is(err, engines.ErrEngineNotRunning) {
			writeError(w, errors.NotFoundError("running session"))
			return
		}
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorResponse{Error: err.Error(), Type: errors.GetType(err)})
}

func statusFor(err error) int {
	switch errors.GetType(err) {
	case errors.ErrTypeValidation, errors.ErrTypeConfig:
		return http.StatusBadRequest
	case errors.ErrTypeNotFound:
		return http.StatusNotFound
	case errors.ErrTypeForbidden:
		return http.StatusForbidden
	case errors.ErrTypeRateLimit:
		return http.StatusTooManyRequests
	case errors.ErrTypeTimeout:
		return http.StatusGatewayTimeout
	case errors.ErrTypeConnection:
		return http.StatusBadGateway
	}
	if stderrors.Is(err, engines.ErrEngineAlreadyRunning) {
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}
