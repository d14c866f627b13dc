package config

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMissingToken is the only startup condition the bot cannot work around.
var ErrMissingToken = errors.New("telegram token missing (set telegram.token or " + EnvToken + ")")

// Validate checks values that would otherwise fail deep inside a component.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		errs = append(errs, ErrMissingToken)
	}
	if cfg.Telegram.UpdateBuffer < 0 {
		errs = append(errs, errors.New("telegram.update_buffer: must be >= 0"))
	}

	durations := []struct{ path, raw string }{
		{"telegram.poll_timeout", cfg.Telegram.PollTimeout},
		{"telegram.handler_timeout", cfg.Telegram.HandlerTimeout},
		{"storage.busy_timeout", cfg.Storage.BusyTimeout},
		{"admission.deadline", cfg.Admission.Deadline},
	}
	for _, d := range durations {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			errs = append(errs, err)
		}
	}

	switch cfg.Logging.Level {
	case "", "trace", "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level))
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "file", "sqlite", "sqlite3":
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}

	if cfg.Broadcast.RatePerSec < 0 {
		errs = append(errs, errors.New("broadcast.rate_per_sec: must be >= 0"))
	}

	return errors.Join(errs...)
}
