package config

import (
	"strings"

	logx "wisdombot/pkg/logx"
)

// Sections that take effect without a restart.
var liveSections = map[string]bool{"logging": true}

// Change describes the difference between two configs.
type Change struct {
	Sections []string     // changed top-level sections, in document order
	Attrs    []logx.Field // safe to log; never includes the token
}

// NeedsRestart reports whether a changed section is only read at startup.
func (c Change) NeedsRestart() bool {
	for _, s := range c.Sections {
		if !liveSections[s] {
			return true
		}
	}
	return false
}

func (c Change) Has(section string) bool {
	for _, s := range c.Sections {
		if s == section {
			return true
		}
	}
	return false
}

// Diff summarizes what changed from oldCfg to newCfg.
func Diff(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var c Change
	add := func(section string, attrs ...logx.Field) {
		c.Sections = append(c.Sections, section)
		c.Attrs = append(c.Attrs, attrs...)
	}

	if oldCfg.Telegram.Token != newCfg.Telegram.Token ||
		oldCfg.Telegram.PollTimeout != newCfg.Telegram.PollTimeout ||
		oldCfg.Telegram.HandlerTimeout != newCfg.Telegram.HandlerTimeout ||
		oldCfg.Telegram.UpdateBuffer != newCfg.Telegram.UpdateBuffer {
		add("telegram",
			logx.Bool("telegram.token_changed", oldCfg.Telegram.Token != newCfg.Telegram.Token),
			logx.Duration("telegram.poll_timeout", newCfg.Telegram.PollTimeoutDuration()),
		)
	}
	if oldCfg.Logging != newCfg.Logging {
		add("logging",
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
		)
	}
	if oldCfg.Storage != newCfg.Storage {
		add("storage", logx.String("storage.driver", newCfg.Storage.Driver))
	}
	if oldCfg.Admission != newCfg.Admission {
		add("admission", logx.Duration("admission.deadline", newCfg.Admission.DeadlineDuration()))
	}
	if oldCfg.Broadcast.IsEnabled() != newCfg.Broadcast.IsEnabled() ||
		strings.TrimSpace(oldCfg.Broadcast.Schedule) != strings.TrimSpace(newCfg.Broadcast.Schedule) ||
		strings.TrimSpace(oldCfg.Broadcast.UTCOffset) != strings.TrimSpace(newCfg.Broadcast.UTCOffset) ||
		oldCfg.Broadcast.RatePerSec != newCfg.Broadcast.RatePerSec {
		add("broadcast",
			logx.Bool("broadcast.enabled", newCfg.Broadcast.IsEnabled()),
			logx.String("broadcast.schedule", newCfg.Broadcast.Schedule),
		)
	}
	if oldCfg.Observability != newCfg.Observability {
		add("observability",
			logx.Bool("observability.enabled", newCfg.Observability.Enabled),
			logx.String("observability.addr", newCfg.Observability.Addr),
		)
	}
	if oldCfg.Catalog != newCfg.Catalog {
		add("catalog", logx.String("catalog.path", newCfg.Catalog.Path))
	}
	return c
}
