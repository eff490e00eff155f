package agentmgr

import (
	"context"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/openagentbroker/acpbroker/internal/acp"
	"github.com/openagentbroker/acpbroker/internal/apperror"
	"github.com/openagentbroker/acpbroker/internal/audit"
	"github.com/openagentbroker/acpbroker/internal/logger"
	"github.com/openagentbroker/acpbroker/internal/registry"
	"github.com/openagentbroker/acpbroker/internal/settingsstore"
)

const (
	runnerACommand = "npx"
	runnerBCommand = "uvx"
)

// StatusSink receives agent:status-change events during launch.
type StatusSink interface {
	AgentStatusChange(connectionID, status string)
}

// Manager is the agent lifecycle manager (base spec component C2).
type Manager struct {
	log        *logger.Logger
	registry   *registry.Service
	downloader *registry.Downloader
	settings   *settingsstore.Store
	installed  *installedStore
	sink       acp.EventSink
	status     StatusSink
	audit      *audit.Log

	mu          sync.RWMutex
	connections map[string]*acp.Transport
}

// SetAuditLog wires an optional audit log in after construction; nil is
// a valid value and disables auditing.
func (m *Manager) SetAuditLog(log *audit.Log) { m.audit = log }

func (m *Manager) recordAudit(action, agentID, connectionID, detail string) {
	if m.audit == nil {
		return
	}
	if err := m.audit.Record(context.Background(), action, agentID, connectionID, detail); err != nil {
		m.log.Warn("failed to record audit entry", zap.String("action", action), zap.Error(err))
	}
}

// NewManager constructs a Manager, loading any previously installed agents
// from installedAgentsPath.
func NewManager(log *logger.Logger, reg *registry.Service, dl *registry.Downloader, settings *settingsstore.Store, installedAgentsPath string, sink acp.EventSink, status StatusSink) (*Manager, error) {
	store, err := openInstalledStore(installedAgentsPath)
	if err != nil {
		return nil, err
	}
	return &Manager{
		log:         log.WithFields(zap.String("component", "agent-manager")),
		registry:    reg,
		downloader:  dl,
		settings:    settings,
		installed:   store,
		sink:        sink,
		status:      status,
		connections: make(map[string]*acp.Transport),
	}, nil
}

// ListInstalled returns every installed agent record.
func (m *Manager) ListInstalled() []InstalledAgent { return m.installed.list() }

// Install fetches the registry, resolves a distribution for agentID, and
// (for native-binary distributions) downloads and extracts the archive.
func (m *Manager) Install(ctx context.Context, agentID string) (InstalledAgent, error) {
	catalog, err := m.registry.Fetch(ctx)
	if err != nil {
		return InstalledAgent{}, err
	}
	entry, ok := catalog.Find(agentID)
	if !ok {
		return InstalledAgent{}, apperror.NotFoundErr(apperror.KindAgent, agentID)
	}

	agent := InstalledAgent{
		ID:          entry.ID,
		Name:        entry.Name,
		Version:     entry.Version,
		Description: entry.Description,
		Icon:        entry.Icon,
		Authors:     entry.Authors,
		License:     entry.License,
		InstalledAt: time.Now(),
	}

	switch {
	case entry.Distribution.NPX != nil:
		agent.Kind = DistributionRunnerA
		agent.RunnerAPackage = entry.Distribution.NPX.Package
	case entry.Distribution.UVX != nil:
		agent.Kind = DistributionRunnerB
		agent.RunnerBPackage = entry.Distribution.UVX.Package
	case entry.Distribution.Binary != nil:
		target, ok := entry.Distribution.Binary[hostTargetKey()]
		if !ok {
			return InstalledAgent{}, apperror.OtherErr("no binary distribution for target %s", hostTargetKey())
		}
		path, err := m.downloader.DownloadAndExtract(ctx, entry.ID, entry.Version, target.URL, target.Command)
		if err != nil {
			return InstalledAgent{}, err
		}
		agent.Kind = DistributionBinary
		agent.ExecutablePath = path
	default:
		return InstalledAgent{}, apperror.OtherErr("agent %s has no usable distribution", agentID)
	}

	if err := m.installed.upsert(agent); err != nil {
		return InstalledAgent{}, err
	}
	m.recordAudit(audit.ActionInstall, agent.ID, "", string(agent.Kind))
	return agent, nil
}

func hostTargetKey() string {
	osName := map[string]string{"darwin": "macos", "linux": "linux", "windows": "windows"}[runtime.GOOS]
	archName := map[string]string{"amd64": "x86_64", "arm64": "aarch64"}[runtime.GOARCH]
	return osName + "-" + archName
}

// Uninstall terminates every connection for agentID, removes it from the
// installed map, and persists.
func (m *Manager) Uninstall(agentID string) error {
	m.mu.Lock()
	var toTerminate []string
	for connID, t := range m.connections {
		if t.AgentID == agentID {
			toTerminate = append(toTerminate, connID)
		}
	}
	m.mu.Unlock()
	for _, connID := range toTerminate {
		m.Terminate(connID)
	}
	if err := m.installed.remove(agentID); err != nil {
		return err
	}
	m.recordAudit(audit.ActionUninstall, agentID, "", "")
	return nil
}

// spawnTuple is the resolved (command, args, env) the transport spawns.
type spawnTuple struct {
	Command string
	Args    []string
	Env     map[string]string
}

func (m *Manager) resolveSpawn(agent InstalledAgent, entry registry.Entry) (spawnTuple, error) {
	switch agent.Kind {
	case DistributionRunnerA:
		command := runnerACommand
		if runtime.GOOS == "windows" {
			command += ".cmd"
		}
		args := []string{}
		extra := []string{}
		env := map[string]string{}
		if entry.Distribution.NPX != nil {
			extra = entry.Distribution.NPX.Args
			env = entry.Distribution.NPX.Env
		}
		if !containsAny(extra, "-y", "--yes") {
			args = append(args, "-y")
		}
		args = append(args, agent.RunnerAPackage)
		args = append(args, extra...)
		return spawnTuple{Command: command, Args: args, Env: env}, nil

	case DistributionRunnerB:
		args := []string{agent.RunnerBPackage}
		env := map[string]string{}
		if entry.Distribution.UVX != nil {
			args = append(args, entry.Distribution.UVX.Args...)
			env = entry.Distribution.UVX.Env
		}
		return spawnTuple{Command: runnerBCommand, Args: args, Env: env}, nil

	case DistributionBinary:
		var args []string
		if target, ok := entry.Distribution.Binary[hostTargetKey()]; ok {
			args = target.Args
		}
		return spawnTuple{Command: agent.ExecutablePath, Args: args, Env: map[string]string{}}, nil
	}
	return spawnTuple{}, apperror.OtherErr("installed agent %s has unknown distribution kind %q", agent.ID, agent.Kind)
}

func containsAny(list []string, candidates ...string) bool {
	for _, item := range list {
		for _, c := range candidates {
			if item == c {
				return true
			}
		}
	}
	return false
}

// Launch resolves the spawn tuple for agentID, builds its environment,
// spawns a Transport, performs the handshake, attempts automatic
// env_var authentication, and registers the resulting connection.
func (m *Manager) Launch(ctx context.Context, agentID, projectPath string, extraEnv map[string]string) (AgentConnection, error) {
	agent, ok := m.installed.get(agentID)
	if !ok {
		return AgentConnection{}, apperror.NotFoundErr(apperror.KindAgent, agentID)
	}

	catalog, _ := m.registry.Fetch(ctx)
	entry, _ := catalog.Find(agentID)

	tuple, err := m.resolveSpawn(agent, entry)
	if err != nil {
		return AgentConnection{}, err
	}

	settings := m.settings.Agent(agentID)
	finalEnv := map[string]string{}
	for k, v := range tuple.Env {
		finalEnv[k] = v
	}
	for _, varName := range apiKeyEnvVars[agentID] {
		if v, ok := settings.APIKeys[varName]; ok && v != "" {
			finalEnv[varName] = v
		} else if settings.APIKey != "" {
			finalEnv[varName] = settings.APIKey
		}
	}
	for k, v := range settings.CustomEnv {
		finalEnv[k] = v
	}
	for k, v := range extraEnv {
		if _, blocked := envBlocklist[strings.ToUpper(k)]; blocked {
			m.log.Warn("rejected blocklisted environment variable from caller", zap.String("key", k))
			continue
		}
		finalEnv[k] = v
	}

	args := append(append([]string{}, tuple.Args...), settings.CustomArgs...)

	if m.status != nil {
		m.status.AgentStatusChange("", "launching")
	}

	t, err := acp.Start(acp.SpawnConfig{
		AgentID: agentID,
		Command: tuple.Command,
		Args:    args,
		Env:     finalEnv,
		Cwd:     projectPath,
	}, m.sink, m.log)
	if err != nil {
		return AgentConnection{}, err
	}

	if err := t.Initialize(ctx); err != nil {
		t.Terminate()
		return AgentConnection{}, err
	}

	for _, method := range t.AuthMethods {
		if method.Type != "env_var" || method.VarName == "" {
			continue
		}
		if _, ok := settings.APIKeys[method.VarName]; !ok {
			continue
		}
		if err := t.Authenticate(ctx, method.ID, nil); err != nil {
			m.log.Warn("automatic authentication failed", zap.String("method", method.ID), zap.Error(err))
		}
	}

	if m.status != nil {
		m.status.AgentStatusChange(t.ConnectionID, "connected")
	}

	m.mu.Lock()
	m.connections[t.ConnectionID] = t
	m.mu.Unlock()

	// Drop the connection once the agent's stdio closes, so a dead agent
	// no longer counts as a live connection.
	go func() {
		t.Wait()
		m.mu.Lock()
		if m.connections[t.ConnectionID] == t {
			delete(m.connections, t.ConnectionID)
		}
		m.mu.Unlock()
	}()

	m.recordAudit(audit.ActionLaunch, agentID, t.ConnectionID, projectPath)

	return connectionFromTransport(t), nil
}

// Terminate removes the transport for connectionID and tears it down.
func (m *Manager) Terminate(connectionID string) {
	m.mu.Lock()
	t, ok := m.connections[connectionID]
	delete(m.connections, connectionID)
	m.mu.Unlock()
	if ok {
		t.Terminate()
		m.recordAudit(audit.ActionTerminate, t.AgentID, connectionID, "")
	}
}

// Authenticate delegates to the named connection's transport.
func (m *Manager) Authenticate(ctx context.Context, connectionID, method string, credentials map[string]string) error {
	t, ok := m.GetClient(connectionID)
	if !ok {
		return apperror.NotFoundErr(apperror.KindConnection, connectionID)
	}
	if err := t.Authenticate(ctx, method, credentials); err != nil {
		return err
	}
	m.recordAudit(audit.ActionAuthenticate, t.AgentID, connectionID, method)
	return nil
}

// Logout delegates to the named connection's transport.
func (m *Manager) Logout(ctx context.Context, connectionID string) error {
	t, ok := m.GetClient(connectionID)
	if !ok {
		return apperror.NotFoundErr(apperror.KindConnection, connectionID)
	}
	if err := t.Logout(ctx); err != nil {
		return err
	}
	m.recordAudit(audit.ActionLogout, t.AgentID, connectionID, "")
	return nil
}

// ListConnections returns the frontend-facing view of every live connection.
func (m *Manager) ListConnections() []AgentConnection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]AgentConnection, 0, len(m.connections))
	for _, t := range m.connections {
		out = append(out, connectionFromTransport(t))
	}
	return out
}

// GetClient returns the transport for connectionID, if live.
func (m *Manager) GetClient(connectionID string) (*acp.Transport, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.connections[connectionID]
	return t, ok
}

// BroadcastPermissionResolution delivers optionID to every live
// transport's pending-permission table for requestID. Exactly one
// transport holds a matching entry; the rest no-op, mirroring the
// original implementation's iteration over every connection since the
// broker does not track which transport issued which permission
// request.
func (m *Manager) BroadcastPermissionResolution(requestID, optionID string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.connections {
		t.ResolvePermission(requestID, optionID)
	}
}

// FindClientForAgent returns the first live transport for agentID, if any.
func (m *Manager) FindClientForAgent(agentID string) (*acp.Transport, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.connections {
		if t.AgentID == agentID {
			return t, true
		}
	}
	return nil, false
}

// DetectCLI reports, for each command name, whether it resolves on PATH.
func (m *Manager) DetectCLI(commands []string) map[string]bool {
	out := make(map[string]bool, len(commands))
	for _, c := range commands {
		_, err := exec.LookPath(c)
		out[c] = err == nil
	}
	return out
}

// CheckAuth implements the supplemented agent_check_auth command: reuse an
// existing connection for agentID, or launch a throwaway one against
// projectPath, and report its auth methods.
func (m *Manager) CheckAuth(ctx context.Context, agentID, projectPath string) (CheckAuthResult, error) {
	conn, ok := m.FindClientForAgent(agentID)
	var connection AgentConnection
	if ok {
		connection = connectionFromTransport(conn)
	} else {
		launched, err := m.Launch(ctx, agentID, projectPath, nil)
		if err != nil {
			return CheckAuthResult{}, err
		}
		connection = launched
	}

	return CheckAuthResult{
		AgentID:                agentID,
		CheckedAt:              time.Now(),
		ProjectPath:            projectPath,
		IsAuthenticated:        true,
		RequiresAuthentication: false,
		AuthMethods:            connection.AuthMethods,
		Connection:             connection,
	}, nil
}
