package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWithPathAppliesDefaults(t *testing.T) {
	cfg, err := LoadWithPath(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 47823, cfg.Server.Port)
	assert.Equal(t, "acpbroker.events", cfg.NATS.Subject)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadWithPathReadsConfigFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(`
server:
  host: 0.0.0.0
  port: 9999
logging:
  level: debug
  format: json
`), 0o644))

	cfg, err := LoadWithPath(dir)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadWithPathEnvOverride(t *testing.T) {
	t.Setenv("ACPBROKER_SERVER_PORT", "6000")
	cfg, err := LoadWithPath(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 6000, cfg.Server.Port)
}

func TestValidateRejectsBadPort(t *testing.T) {
	cfg := &Config{
		Server:  ServerConfig{Port: 0},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
	assert.Error(t, validate(cfg))
}

func TestValidateRejectsBadLogLevel(t *testing.T) {
	cfg := &Config{
		Server:  ServerConfig{Port: 8080},
		Logging: LoggingConfig{Level: "verbose", Format: "text"},
	}
	assert.Error(t, validate(cfg))
}
