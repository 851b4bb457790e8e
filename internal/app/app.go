package app

import (
	"context"

	"live-timing/internal/common/logging"
	"live-timing/internal/config"
	"live-timing/internal/manager"
	"live-timing/internal/redis"
	"live-timing/internal/relay"
	"live-timing/internal/server"
)

// App holds all the application dependencies
type App struct {
	Config      *config.Config
	Relay       *relay.Handler
	Manager     *manager.Manager
	API         *server.API
	Server      *server.Server
	RedisClient *redis.Client
	Publisher   *redis.Publisher
	Logger      logging.Logger
}

// New creates a new application instance with all dependencies. Engines
// started later live until ctx is done.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logging.GetGlobalLogger().WithFields(logging.String("component", "app")),
	}

	// Initialize components in order of dependency
	app.initializeRedis(ctx)

	if err := app.initializeRelay(); err != nil {
		return nil, err
	}

	app.initializeManager()

	if err := app.initializeServer(ctx); err != nil {
		return nil, err
	}

	return app, nil
}

// Cleanup stops the session and closes connections
func (app *App) Cleanup() {
	if app.Manager != nil && app.Manager.IsRunning() {
		if err := app.Manager.Stop(); err != nil {
			app.Logger.Warn("Failed to stop session", logging.Err(err))
		}
	}

	if app.API != nil {
		app.API.Hub().Close()
	}

	if app.RedisClient != nil {
		if err := app.RedisClient.Close(); err != nil {
			app.Logger.Warn("Failed to close Redis", logging.Err(err))
		}
	}
}
