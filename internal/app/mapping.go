package app

import (
	"strings"
	"time"

	"wisdombot/internal/admission"
	"wisdombot/internal/broadcast"
	"wisdombot/internal/catalog"
	"wisdombot/internal/config"
	"wisdombot/internal/observability"
	"wisdombot/internal/storage"
)

func mapStorageConfig(cfg *config.Config) storage.Config {
	sc := storage.Config{
		Driver: strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)),
		Path:   strings.TrimSpace(cfg.Storage.Path),
	}
	if sc.Driver == "sqlite" || sc.Driver == "sqlite3" {
		sc.BusyTimeout = cfg.Storage.BusyTimeoutDuration()
		if sc.BusyTimeout <= 0 {
			sc.BusyTimeout = time.Second
		}
	}
	return sc
}

func mapAdmissionConfig(cfg *config.Config) admission.Config {
	return admission.Config{Deadline: cfg.Admission.DeadlineDuration()}
}

func mapBroadcastConfig(cfg *config.Config) broadcast.Config {
	bc := broadcast.Config{
		Schedule:   cfg.Broadcast.Schedule,
		UTCOffset:  cfg.Broadcast.UTCOffset,
		RatePerSec: cfg.Broadcast.RatePerSec,
	}
	if bc.RatePerSec == 0 {
		bc.RatePerSec = broadcast.DefaultRatePerSec
	}
	return bc
}

func mapObservabilityConfig(cfg *config.Config) observability.Config {
	return observability.Config{
		Enabled: cfg.Observability.Enabled,
		Addr:    cfg.Observability.Addr,
		Pprof:   cfg.Observability.Pprof,
	}
}

func loadCatalog(cfg *config.Config) (*catalog.Catalog, error) {
	if p := strings.TrimSpace(cfg.Catalog.Path); p != "" {
		return catalog.Load(p)
	}
	return catalog.Default()
}
