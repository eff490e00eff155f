package audit

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestLog(t *testing.T) *Log {
	t.Helper()
	log, err := Open(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })
	return log
}

func TestRecordAndRecentForAgent(t *testing.T) {
	log := openTestLog(t)
	ctx := context.Background()

	require.NoError(t, log.Record(ctx, ActionInstall, "claude-code", "", "runner-A"))
	require.NoError(t, log.Record(ctx, ActionLaunch, "claude-code", "conn-1", "/repo"))
	require.NoError(t, log.Record(ctx, ActionLaunch, "other-agent", "conn-2", "/repo"))

	entries, err := log.RecentForAgent(ctx, "claude-code", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, ActionLaunch, entries[0].Action)
	assert.Equal(t, ActionInstall, entries[1].Action)
}

func TestRecentForAgentRespectsLimit(t *testing.T) {
	log := openTestLog(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, log.Record(ctx, ActionLaunch, "agent-x", "conn", ""))
	}

	entries, err := log.RecentForAgent(ctx, "agent-x", 3)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestRecentForAgentEmptyWhenUnknown(t *testing.T) {
	log := openTestLog(t)
	entries, err := log.RecentForAgent(context.Background(), "missing", 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
