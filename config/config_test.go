package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "sagalog", cfg.App.Name)
	assert.Equal(t, "development", cfg.App.Environment)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.False(t, cfg.Server.RateLimit.Enabled)

	assert.Equal(t, "memory", cfg.Storage.Type)
	assert.True(t, cfg.Storage.SyncWrites)

	assert.False(t, cfg.Cleanup.Enabled)
	assert.Equal(t, 7*24*time.Hour, cfg.Cleanup.CompletedRetention)
	assert.Equal(t, 30*24*time.Hour, cfg.Cleanup.AbortedRetention)
	assert.Equal(t, time.Hour, cfg.Cleanup.ScanInterval)

	assert.False(t, cfg.Relay.Enabled)
	assert.Equal(t, "sagalog:", cfg.Relay.ChannelPrefix)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)

	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, 9091, cfg.Metrics.Port)

	assert.False(t, cfg.Tracing.Enabled)
	assert.InDelta(t, 0.1, cfg.Tracing.SampleRate, 1e-9)

	require.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid defaults", func(*Config) {}, false},
		{"missing app name", func(c *Config) { c.App.Name = "" }, true},
		{"bad environment", func(c *Config) { c.App.Environment = "qa" }, true},
		{"port out of range", func(c *Config) { c.Server.Port = 70000 }, true},
		{"bad storage type", func(c *Config) { c.Storage.Type = "postgres" }, true},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, true},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, true},
		{"sample rate too high", func(c *Config) { c.Tracing.SampleRate = 1.5 }, true},
		{"negative redis db", func(c *Config) { c.Relay.DB = -1 }, true},
		{"badger storage", func(c *Config) { c.Storage.Type = "badger" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateWithDetails(t *testing.T) {
	cfg := DefaultConfig()
	cfg.App.Name = ""
	cfg.Logging.Level = "verbose"

	err := ValidateWithDetails(cfg)
	require.Error(t, err)

	var details ValidationErrors
	require.ErrorAs(t, err, &details)
	require.Len(t, details, 2)
	assert.Contains(t, details[0].Field, "App.Name")
	assert.Contains(t, err.Error(), "must be one of")
}

func TestConfigString(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Relay.Password = "s3cret"
	s := cfg.String()
	assert.Contains(t, s, "sagalog")
	assert.Contains(t, s, "8080")
	assert.NotContains(t, s, cfg.Relay.Password)
}

func TestLoadDefaultsOnly(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Server.Port, cfg.Server.Port)
	assert.Equal(t, DefaultConfig().Cleanup.ScanInterval, cfg.Cleanup.ScanInterval)
}

func TestLoadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
app:
  name: orders
  environment: production
server:
  port: 9000
storage:
  type: badger
  path: /tmp/sagalog-test
cleanup:
  enabled: true
  completed_retention: 48h
  scan_interval: 10m
logging:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, "orders", cfg.App.Name)
	assert.Equal(t, "production", cfg.App.Environment)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "badger", cfg.Storage.Type)
	assert.Equal(t, "/tmp/sagalog-test", cfg.Storage.Path)
	assert.True(t, cfg.Cleanup.Enabled)
	assert.Equal(t, 48*time.Hour, cfg.Cleanup.CompletedRetention)
	assert.Equal(t, 10*time.Minute, cfg.Cleanup.ScanInterval)
	assert.Equal(t, "debug", cfg.Logging.Level)

	// Untouched sections keep their defaults.
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 9091, cfg.Metrics.Port)
}

func TestLoadJSONFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	content := `{"server": {"port": 9100}, "relay": {"enabled": true, "addr": "redis:6379"}}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.True(t, cfg.Relay.Enabled)
	assert.Equal(t, "redis:6379", cfg.Relay.Addr)
}

func TestLoadUnsupportedFormat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("x = 1"), 0o600))

	_, err := Load(path, nil)
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/does/not/exist/config.yaml", nil)
	assert.Error(t, err)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SAGALOG_SERVER__PORT", "9200")
	t.Setenv("SAGALOG_LOGGING__LEVEL", "warn")
	t.Setenv("SAGALOG_STORAGE__TYPE", "badger")

	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, 9200, cfg.Server.Port)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "badger", cfg.Storage.Type)
}

func TestLoadExplicitOverridesWin(t *testing.T) {
	t.Setenv("SAGALOG_SERVER__PORT", "9200")

	cfg, err := Load("", map[string]interface{}{
		"server.port": 9300,
	})
	require.NoError(t, err)
	assert.Equal(t, 9300, cfg.Server.Port)
}

func TestLoadRejectsInvalidFileValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: loud\n"), 0o600))

	_, err := Load(path, nil)
	require.Error(t, err)
	var details ValidationErrors
	assert.ErrorAs(t, err, &details)
}

func TestLoaderGetSet(t *testing.T) {
	loader := NewLoader()
	_, err := loader.Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, "sagalog", loader.GetString("app.name"))
	assert.Equal(t, 8080, loader.GetInt("server.port"))
	assert.True(t, loader.GetBool("metrics.enabled"))

	require.NoError(t, loader.Set("app.name", "renamed"))
	assert.Equal(t, "renamed", loader.GetString("app.name"))
	assert.NotEmpty(t, loader.Print())
}

func TestLoadOrDie(t *testing.T) {
	cfg := LoadOrDie("", nil)
	assert.Equal(t, "sagalog", cfg.App.Name)

	assert.Panics(t, func() {
		LoadOrDie("/does/not/exist/config.yaml", nil)
	})
}

func TestFormatValidationError(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Port = 0

	err := ValidateWithDetails(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required")
}
