package logger

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	log, err := NewFromSettings(Settings{Level: "info", Format: "json", OutputPath: path})
	require.NoError(t, err)

	log.Info("hello")
	require.NoError(t, log.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	line := strings.TrimSpace(string(data))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &decoded))
	assert.Equal(t, "hello", decoded["msg"])
}

func TestNewRejectsInvalidOutputPath(t *testing.T) {
	_, err := NewFromSettings(Settings{Level: "info", Format: "json", OutputPath: filepath.Join(t.TempDir(), "missing-dir", "out.log")})
	assert.Error(t, err)
}

func TestNewFallsBackToInfoOnBadLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	log, err := NewFromSettings(Settings{Level: "not-a-level", Format: "json", OutputPath: path})
	require.NoError(t, err)
	assert.NotNil(t, log)
}

func TestWithContextAttachesCorrelationID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	log, err := NewFromSettings(Settings{Level: "info", Format: "json", OutputPath: path})
	require.NoError(t, err)

	ctx := context.WithValue(context.Background(), CorrelationIDKey, "corr-1")
	derived := log.WithContext(ctx)
	derived.Info("traced")
	require.NoError(t, derived.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "corr-1")
}

func TestWithContextIsNoOpWithoutValues(t *testing.T) {
	log := Default()
	derived := log.WithContext(context.Background())
	assert.Same(t, log, derived)
}

func TestWithAgentIDAndWithSessionIDAttachFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	log, err := NewFromSettings(Settings{Level: "info", Format: "json", OutputPath: path})
	require.NoError(t, err)

	log.WithAgentID("claude-code").WithSessionID("sess-1").Info("scoped")
	require.NoError(t, log.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "claude-code")
	assert.Contains(t, string(data), "sess-1")
}

func TestDefaultReturnsSingleton(t *testing.T) {
	a := Default()
	b := Default()
	assert.Same(t, a, b)
}
