package config

import (
	"time"

	logx "wisdombot/pkg/logx"
)

// Config is the root document. It may be JSON or YAML (by file extension);
// unknown keys are rejected. Durations are Go duration strings ("10s", "1m").
type Config struct {
	Telegram      TelegramConfig      `json:"telegram"`
	Logging       LoggingConfig       `json:"logging"`
	Storage       StorageConfig       `json:"storage"`
	Admission     AdmissionConfig     `json:"admission"`
	Broadcast     BroadcastConfig     `json:"broadcast"`
	Observability ObservabilityConfig `json:"observability"`
	Catalog       CatalogConfig       `json:"catalog"`
}

type TelegramConfig struct {
	// Token may be left empty and supplied via TELEGRAM_TOKEN instead.
	Token          string `json:"token"`
	PollTimeout    string `json:"poll_timeout,omitempty"`    // default "10s"
	HandlerTimeout string `json:"handler_timeout,omitempty"` // default "15s"
	UpdateBuffer   int    `json:"update_buffer,omitempty"`   // default 256
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

// LoggingFile enables a size-rotated log file.
type LoggingFile struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty"`
	MaxAgeDays int    `json:"max_age_days,omitempty"`
	Compress   bool   `json:"compress,omitempty"`
}

// StorageConfig selects the persistence backend.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./data" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

type AdmissionConfig struct {
	Deadline string `json:"deadline,omitempty"` // default "10s"
}

type BroadcastConfig struct {
	// Enabled is a pointer so an omitted key means "on".
	Enabled    *bool   `json:"enabled,omitempty"`
	Schedule   string  `json:"schedule,omitempty"`   // cron, default "0 9 * * *"
	UTCOffset  string  `json:"utc_offset,omitempty"` // default "+03:00"
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
}

// ObservabilityConfig controls the optional HTTP server.
//
// Security note: pprof routes are unauthenticated, keep Addr on loopback.
type ObservabilityConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default "127.0.0.1:9090"
	Pprof   bool   `json:"pprof,omitempty"`
}

// CatalogConfig points at an optional quotes file replacing the built-in one.
type CatalogConfig struct {
	Path string `json:"path,omitempty"`
}

const (
	defaultPollTimeout    = 10 * time.Second
	defaultHandlerTimeout = 15 * time.Second
	defaultUpdateBuffer   = 256
	defaultDeadline       = 10 * time.Second
)

// Durations below were checked by Validate; a bad value falls back to the default.

func (t TelegramConfig) PollTimeoutDuration() time.Duration {
	d, _ := ParseDurationOrDefault("telegram.poll_timeout", t.PollTimeout, defaultPollTimeout)
	return d
}

func (t TelegramConfig) HandlerTimeoutDuration() time.Duration {
	d, _ := ParseDurationOrDefault("telegram.handler_timeout", t.HandlerTimeout, defaultHandlerTimeout)
	return d
}

func (t TelegramConfig) UpdateBufferSize() int {
	if t.UpdateBuffer <= 0 {
		return defaultUpdateBuffer
	}
	return t.UpdateBuffer
}

func (a AdmissionConfig) DeadlineDuration() time.Duration {
	d, _ := ParseDurationOrDefault("admission.deadline", a.Deadline, defaultDeadline)
	return d
}

func (s StorageConfig) BusyTimeoutDuration() time.Duration {
	d, _ := ParseDurationField("storage.busy_timeout", s.BusyTimeout)
	return d
}

func (b BroadcastConfig) IsEnabled() bool {
	return b.Enabled == nil || *b.Enabled
}

// Logx converts the section into the logger's own config.
func (l LoggingConfig) Logx() logx.Config {
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File: logx.FileConfig{
			Enabled:    l.File.Enabled,
			Path:       l.File.Path,
			MaxSizeMB:  l.File.MaxSizeMB,
			MaxBackups: l.File.MaxBackups,
			MaxAgeDays: l.File.MaxAgeDays,
			Compress:   l.File.Compress,
		},
	}
}
