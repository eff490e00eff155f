package agentmgr

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openagentbroker/acpbroker/internal/apperror"
	"github.com/openagentbroker/acpbroker/internal/logger"
	"github.com/openagentbroker/acpbroker/internal/registry"
	"github.com/openagentbroker/acpbroker/internal/settingsstore"
)

func newTestManagerWithStore(t *testing.T) (*Manager, string) {
	t.Helper()
	root := t.TempDir()
	settings, err := settingsstore.Open(filepath.Join(root, "settings.json"))
	require.NoError(t, err)

	reg := registry.NewService(filepath.Join(root, "registry.json"))
	dl := registry.NewDownloader(filepath.Join(root, "downloads"), filepath.Join(root, "agents"))

	m, err := NewManager(logger.Default(), reg, dl, settings, filepath.Join(root, "installed-agents.json"), nil, nil)
	require.NoError(t, err)
	return m, root
}

func isNotFound(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	ae, ok := err.(*apperror.Error)
	require.True(t, ok, "expected *apperror.Error, got %T", err)
	assert.Equal(t, apperror.NotFound, ae.Code)
}

func TestListInstalledStartsEmpty(t *testing.T) {
	m, _ := newTestManagerWithStore(t)
	assert.Empty(t, m.ListInstalled())
}

func TestListInstalledReflectsUpsertedAgents(t *testing.T) {
	m, _ := newTestManagerWithStore(t)
	require.NoError(t, m.installed.upsert(InstalledAgent{ID: "claude-code", Kind: DistributionRunnerA, RunnerAPackage: "@anthropic/claude-code-acp"}))

	list := m.ListInstalled()
	require.Len(t, list, 1)
	assert.Equal(t, "claude-code", list[0].ID)
}

func TestLaunchUnknownAgentReturnsNotFound(t *testing.T) {
	m, _ := newTestManagerWithStore(t)
	_, err := m.Launch(context.Background(), "missing", t.TempDir(), nil)
	isNotFound(t, err)
}

func TestUninstallRemovesAgentAndIsIdempotent(t *testing.T) {
	m, _ := newTestManagerWithStore(t)
	require.NoError(t, m.installed.upsert(InstalledAgent{ID: "claude-code", Kind: DistributionRunnerA}))

	require.NoError(t, m.Uninstall("claude-code"))
	assert.Empty(t, m.ListInstalled())

	require.NoError(t, m.Uninstall("claude-code"))
}

func TestTerminateOnUnknownConnectionIsNoOp(t *testing.T) {
	m, _ := newTestManagerWithStore(t)
	assert.NotPanics(t, func() { m.Terminate("nonexistent") })
}

func TestAuthenticateAndLogoutRequireLiveConnection(t *testing.T) {
	m, _ := newTestManagerWithStore(t)
	isNotFound(t, m.Authenticate(context.Background(), "missing", "method", nil))
	isNotFound(t, m.Logout(context.Background(), "missing"))
}

func TestDetectCLIReportsResolvableCommands(t *testing.T) {
	m, _ := newTestManagerWithStore(t)
	result := m.DetectCLI([]string{"sh", "definitely-not-a-real-binary-xyz"})
	assert.True(t, result["sh"])
	assert.False(t, result["definitely-not-a-real-binary-xyz"])
}

func TestListConnectionsStartsEmpty(t *testing.T) {
	m, _ := newTestManagerWithStore(t)
	assert.Empty(t, m.ListConnections())
}

func TestBroadcastPermissionResolutionIsSafeWithNoConnections(t *testing.T) {
	m, _ := newTestManagerWithStore(t)
	assert.NotPanics(t, func() { m.BroadcastPermissionResolution("req-1", "allow_once") })
}

func TestResolveSpawnForRunnerA(t *testing.T) {
	m, _ := newTestManagerWithStore(t)
	agent := InstalledAgent{ID: "claude-code", Kind: DistributionRunnerA, RunnerAPackage: "@anthropic/claude-code-acp"}
	entry := registry.Entry{Distribution: registry.Distribution{NPX: &registry.NpxDistribution{Package: "@anthropic/claude-code-acp"}}}

	tuple, err := m.resolveSpawn(agent, entry)
	require.NoError(t, err)
	assert.Equal(t, runnerACommand, tuple.Command)
	assert.Contains(t, tuple.Args, "-y")
	assert.Contains(t, tuple.Args, "@anthropic/claude-code-acp")
}

func TestResolveSpawnForRunnerADoesNotDuplicateYesFlag(t *testing.T) {
	m, _ := newTestManagerWithStore(t)
	agent := InstalledAgent{ID: "claude-code", Kind: DistributionRunnerA, RunnerAPackage: "pkg"}
	entry := registry.Entry{Distribution: registry.Distribution{NPX: &registry.NpxDistribution{Package: "pkg", Args: []string{"--yes"}}}}

	tuple, err := m.resolveSpawn(agent, entry)
	require.NoError(t, err)
	count := 0
	for _, a := range tuple.Args {
		if a == "-y" || a == "--yes" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestResolveSpawnForRunnerB(t *testing.T) {
	m, _ := newTestManagerWithStore(t)
	agent := InstalledAgent{ID: "gemini-cli", Kind: DistributionRunnerB, RunnerBPackage: "gemini-acp"}
	entry := registry.Entry{Distribution: registry.Distribution{UVX: &registry.UvxDistribution{Package: "gemini-acp"}}}

	tuple, err := m.resolveSpawn(agent, entry)
	require.NoError(t, err)
	assert.Equal(t, runnerBCommand, tuple.Command)
	assert.Equal(t, []string{"gemini-acp"}, tuple.Args)
}

func TestResolveSpawnForBinary(t *testing.T) {
	m, _ := newTestManagerWithStore(t)
	agent := InstalledAgent{ID: "local-agent", Kind: DistributionBinary, ExecutablePath: "/opt/agent/bin/agent"}
	entry := registry.Entry{Distribution: registry.Distribution{Binary: map[string]registry.BinaryTarget{
		hostTargetKey(): {Command: "agent", Args: []string{"--acp"}},
	}}}

	tuple, err := m.resolveSpawn(agent, entry)
	require.NoError(t, err)
	assert.Equal(t, "/opt/agent/bin/agent", tuple.Command)
	assert.Equal(t, []string{"--acp"}, tuple.Args)
}

func TestResolveSpawnUnknownKindIsAnError(t *testing.T) {
	m, _ := newTestManagerWithStore(t)
	_, err := m.resolveSpawn(InstalledAgent{ID: "broken", Kind: DistributionKind("unknown")}, registry.Entry{})
	assert.Error(t, err)
}
