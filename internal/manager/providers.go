package manager

import (
	"live-timing/internal/engines"
	"live-timing/internal/engines/apex"
	"live-timing/internal/engines/racefacer"
	"live-timing/internal/models"
)

// DefaultRegistry registers both built-in providers
func DefaultRegistry(apexOpts apex.Options, raceFacerOpts racefacer.Options) *engines.Registry {
	registry := engines.NewRegistry()
	registry.Register(models.ProviderApex, apex.Factory(apexOpts))
	registry.Register(models.ProviderRaceFacer, racefacer.Factory(raceFacerOpts))
	return registry
}
