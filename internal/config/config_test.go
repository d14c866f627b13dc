package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestParseYAMLWithDefaults(t *testing.T) {
	t.Setenv(EnvToken, "")
	p := writeFile(t, t.TempDir(), "config.yaml", `
telegram:
  token: "123:abc"
admission:
  deadline: 20s
broadcast:
  rate_per_sec: 10
`)
	cfg, err := NewManager(p).Parse()
	require.NoError(t, err)

	assert.Equal(t, "123:abc", cfg.Telegram.Token)
	assert.Equal(t, 20*time.Second, cfg.Admission.DeadlineDuration())
	assert.Equal(t, 15*time.Second, cfg.Telegram.HandlerTimeoutDuration())
	assert.Equal(t, 10*time.Second, cfg.Telegram.PollTimeoutDuration())
	assert.Equal(t, 256, cfg.Telegram.UpdateBufferSize())
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Console)
	assert.Equal(t, "file", cfg.Storage.Driver)
	assert.Equal(t, "./data", cfg.Storage.Path)
	assert.True(t, cfg.Broadcast.IsEnabled())
	assert.Equal(t, 10.0, cfg.Broadcast.RatePerSec)
}

func TestParseJSON(t *testing.T) {
	t.Setenv(EnvToken, "")
	p := writeFile(t, t.TempDir(), "config.json",
		`{"telegram":{"token":"t"},"storage":{"driver":"sqlite"},"broadcast":{"enabled":false}}`)
	cfg, err := NewManager(p).Parse()
	require.NoError(t, err)
	assert.Equal(t, "./data/wisdombot.db", cfg.Storage.Path)
	assert.False(t, cfg.Broadcast.IsEnabled())
}

func TestParseRejects(t *testing.T) {
	t.Setenv(EnvToken, "")
	tests := map[string]string{
		"unknown key":    "telegram: {token: t}\nplugins: {}\n",
		"bad duration":   "telegram: {token: t}\nadmission: {deadline: soon}\n",
		"negative":       "telegram: {token: t}\nadmission: {deadline: -1s}\n",
		"unknown driver": "telegram: {token: t}\nstorage: {driver: redis}\n",
		"bad level":      "telegram: {token: t}\nlogging: {level: loud}\n",
		"no token":       "logging: {level: info}\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			p := writeFile(t, t.TempDir(), "config.yaml", body)
			_, err := NewManager(p).Parse()
			assert.Error(t, err)
		})
	}
}

func TestParseJSONTrailingData(t *testing.T) {
	t.Setenv(EnvToken, "")
	p := writeFile(t, t.TempDir(), "config.json", `{"telegram":{"token":"t"}}{}`)
	_, err := NewManager(p).Parse()
	assert.ErrorContains(t, err, "trailing data")
}

func TestTokenFromEnvironment(t *testing.T) {
	t.Setenv(EnvToken, "from-env")
	p := writeFile(t, t.TempDir(), "config.yaml", "telegram: {token: from-file}\n")
	cfg, err := NewManager(p).Parse()
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Telegram.Token)

	t.Setenv(EnvToken, "")
	p = writeFile(t, t.TempDir(), "config.yaml", "")
	t.Setenv(EnvToken, "only-env")
	cfg, err = NewManager(p).Parse()
	require.NoError(t, err)
	assert.Equal(t, "only-env", cfg.Telegram.Token)
}

func TestMissingTokenError(t *testing.T) {
	t.Setenv(EnvToken, "")
	p := writeFile(t, t.TempDir(), "config.yaml", "")
	_, err := NewManager(p).Parse()
	assert.ErrorIs(t, err, ErrMissingToken)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := writeFile(t, dir, ".env", "WISDOMBOT_TEST_VAR=hello\n")
	t.Setenv("WISDOMBOT_TEST_VAR", "")
	require.NoError(t, os.Unsetenv("WISDOMBOT_TEST_VAR"))

	require.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env"), envFile))
	assert.Equal(t, "hello", os.Getenv("WISDOMBOT_TEST_VAR"))
}

func TestDiff(t *testing.T) {
	oldCfg := &Config{Telegram: TelegramConfig{Token: "a"}, Logging: LoggingConfig{Level: "info"}}

	c := Diff(oldCfg, &Config{Telegram: TelegramConfig{Token: "a"}, Logging: LoggingConfig{Level: "debug"}})
	assert.Equal(t, []string{"logging"}, c.Sections)
	assert.False(t, c.NeedsRestart())
	assert.True(t, c.Has("logging"))

	c = Diff(oldCfg, &Config{Telegram: TelegramConfig{Token: "b"}, Logging: LoggingConfig{Level: "info"}})
	assert.Equal(t, []string{"telegram"}, c.Sections)
	assert.True(t, c.NeedsRestart())

	assert.Empty(t, Diff(oldCfg, oldCfg).Sections)
}

func TestWatchPublishesChanges(t *testing.T) {
	t.Setenv(EnvToken, "")
	dir := t.TempDir()
	p := writeFile(t, dir, "config.yaml", "telegram: {token: t}\nlogging: {level: info}\n")

	m := NewManager(p)
	_, err := m.Load()
	require.NoError(t, err)
	ch := m.Subscribe(1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()

	// give the watcher time to register
	time.Sleep(100 * time.Millisecond)

	writeFile(t, dir, "config.yaml", "telegram: {token: t}\nlogging: {level: broken}\n")
	time.Sleep(2 * reloadDebounce)
	writeFile(t, dir, "config.yaml", "telegram: {token: t}\nlogging: {level: debug}\n")

	select {
	case cfg := <-ch:
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.Equal(t, "debug", m.Get().Logging.Level)
	case <-time.After(5 * time.Second):
		t.Fatal("no config published")
	}

	cancel()
	assert.NoError(t, <-done)
}

func TestExampleConfigParses(t *testing.T) {
	t.Setenv(EnvToken, "123:abc")
	cfg, err := NewManager(filepath.Join("..", "..", "config.example.yaml")).Parse()
	require.NoError(t, err)
	assert.Equal(t, "123:abc", cfg.Telegram.Token)
	assert.Equal(t, "file", cfg.Storage.Driver)
	assert.True(t, cfg.Broadcast.IsEnabled())
	assert.Equal(t, 10*time.Second, cfg.Admission.DeadlineDuration())
}
