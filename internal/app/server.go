package app

import (
	"context"

	"live-timing/internal/middleware"
	"live-timing/internal/models"
	"live-timing/internal/server"
)

func (app *App) initializeServer(ctx context.Context) error {
	var sinks []func(models.CanonicalUpdate)
	if app.Publisher != nil {
		sinks = append(sinks, app.Publisher.Enqueue)
	}

	api, err := server.NewAPI(ctx, server.Config{
		Sessions:        app.Manager,
		Relay:           app.Relay,
		LatestTTL:       app.Config.LatestUpdateTTL,
		DefaultInterval: app.Config.UpdateInterval,
		Sinks:           sinks,
		Logger:          app.Logger,
	})
	if err != nil {
		return err
	}
	app.API = api

	router := api.Router(
		middleware.Recover(app.Logger),
		middleware.Logging(app.Logger),
	)
	app.Server = server.New(router, app.Config.Port)
	return nil
}

// autostart starts the session named by RACE_URL, if any
func (app *App) autostart(ctx context.Context) error {
	if app.Config.RaceURL == "" {
		app.Logger.Info("No RACE_URL configured, waiting for POST /api/session")
		return nil
	}
	opts := app.API.SessionOptions(models.SearchType(app.Config.SearchType), app.Config.UpdateInterval)
	return app.Manager.Start(ctx, app.Config.RaceURL, app.Config.SearchTerm, opts)
}
