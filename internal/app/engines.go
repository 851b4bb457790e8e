package app

import (
	"live-timing/internal/common/logging"
	"live-timing/internal/engines/apex"
	"live-timing/internal/engines/racefacer"
	"live-timing/internal/manager"
)

// raceFacerOptions builds the proxy chain: relay first, then fallbacks
func (app *App) raceFacerOptions() racefacer.Options {
	return racefacer.Options{
		Proxies: racefacer.ProxyChain(
			app.Config.RelayEndpoint(),
			app.Config.FallbackProxies,
			app.Config.RelayTimeout,
			app.Config.FallbackTimeout,
		),
	}
}

func (app *App) initializeManager() {
	rfOpts := app.raceFacerOptions()
	registry := manager.DefaultRegistry(apex.Options{}, rfOpts)
	app.Manager = manager.New(registry, logging.GetGlobalLogger())

	names := make([]string, 0, len(rfOpts.Proxies))
	for _, p := range rfOpts.Proxies {
		names = append(names, p.Name)
	}
	app.Logger.Info("Session manager: Ready", logging.Strings("racefacer_proxies", names))
}
