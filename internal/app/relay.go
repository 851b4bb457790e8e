package app

import (
	"live-timing/internal/common/logging"
	"live-timing/internal/common/ratelimit"
	"live-timing/internal/relay"
)

// relayRateLimit derives the relay limiter from RELAY_RATE_LIMIT and
// RELAY_BURST; a single client gets a quarter of the global budget.
func relayRateLimit(rps float64, burst int) ratelimit.Config {
	cfg := ratelimit.DefaultConfig()
	cfg.RequestsPerSecond = rps
	cfg.BurstSize = burst
	cfg.PerKeyRequestsPerSecond = rps / 4
	cfg.PerKeyBurstSize = max(burst/4, 1)
	return cfg
}

func (app *App) initializeRelay() error {
	handler, err := relay.New(relay.Config{
		AllowedHosts:   app.Config.RelayAllowedHosts,
		Timeout:        app.Config.RelayTimeout,
		RateLimit:      relayRateLimit(app.Config.RelayRateLimit, app.Config.RelayBurst),
		TrustedProxies: app.Config.RelayTrustedProxies,
	}, app.Logger)
	if err != nil {
		return err
	}

	app.Relay = handler
	app.Logger.Info("Relay: Ready",
		logging.Strings("allowed_hosts", app.Config.RelayAllowedHosts),
	)
	return nil
}
