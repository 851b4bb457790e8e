package app

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"golang.org/x/sync/errgroup"

	"live-timing/internal/common/logging"
	"live-timing/internal/config"
)

// Version is stamped at build time with -ldflags
var Version = "dev"

// Run is the main entry point for the application
func Run() error {
	var envFile string
	flag.StringVar(&envFile, "env-file", ".env", "Path of a .env file to load")
	flag.Parse()

	// Load environment variables
	if err := config.LoadDotEnv(envFile); err != nil {
		return err
	}

	cfg := config.Load()

	// Initialize logging
	if err := logging.InitGlobalLogger(cfg.LogLevel, cfg.LogFile); err != nil {
		return err
	}
	defer logging.MustSync()

	logging.Info("Starting live timing service",
		logging.Int("cpus", runtime.NumCPU()),
		logging.String("version", Version),
	)

	if err := cfg.Validate(); err != nil {
		logging.Error("Configuration validation failed", err)
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := New(ctx, cfg)
	if err != nil {
		logging.Error("Failed to initialize application", err)
		return err
	}
	defer app.Cleanup()

	return app.Serve(ctx)
}

// Serve runs the HTTP server and the publisher until ctx is done or one of
// them fails
func (app *App) Serve(ctx context.Context) error {
	// Bind before autostart so the in-process relay is reachable on the
	// first poll.
	if err := app.Server.Listen(); err != nil {
		app.Logger.Error("Server failed to start", err)
		return err
	}
	app.Logger.Info("Server listening", logging.String("addr", app.Server.Addr()))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return app.Server.Run(gctx, app.Config.ShutdownTimeout)
	})

	if app.Publisher != nil {
		g.Go(func() error {
			return app.Publisher.Run(gctx)
		})
	}

	if err := app.autostart(gctx); err != nil {
		// The API can still start a session.
		app.Logger.Warn("Failed to start configured session", logging.Err(err))
	}

	err := g.Wait()
	if err != nil {
		app.Logger.Error("Server stopped with error", err)
		return err
	}
	app.Logger.Info("Server exited")
	return nil
}
