// Command relay runs the same-origin relay on its own, for deployments where
// the poll engine and the relay live on different hosts.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"live-timing/internal/common/logging"
	"live-timing/internal/common/ratelimit"
	"live-timing/internal/config"
	"live-timing/internal/middleware"
	"live-timing/internal/relay"
	"live-timing/internal/server"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	envFile := flag.String("env-file", ".env", "Path of a .env file to load")
	flag.Parse()

	if err := config.LoadDotEnv(*envFile); err != nil {
		return err
	}
	cfg := config.Load()

	if err := logging.InitGlobalLogger(cfg.LogLevel, cfg.LogFile); err != nil {
		return err
	}
	defer logging.MustSync()

	if err := cfg.Validate(); err != nil {
		logging.Error("Configuration validation failed", err)
		return err
	}

	limit := ratelimit.DefaultConfig()
	limit.RequestsPerSecond = cfg.RelayRateLimit
	limit.BurstSize = cfg.RelayBurst

	logger := logging.GetGlobalLogger()
	handler, err := relay.New(relay.Config{
		AllowedHosts:   cfg.RelayAllowedHosts,
		Timeout:        cfg.RelayTimeout,
		RateLimit:      limit,
		TrustedProxies: cfg.RelayTrustedProxies,
	}, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	router := relay.NewRouter(handler, middleware.Recover(logger), middleware.Logging(logger))
	srv := server.New(router, cfg.Port)
	if err := srv.Listen(); err != nil {
		return err
	}
	logger.Info("Relay listening",
		logging.String("addr", srv.Addr()),
		logging.Strings("allowed_hosts", cfg.RelayAllowedHosts),
	)
	return srv.Run(ctx, cfg.ShutdownTimeout)
}
