package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openagentbroker/acpbroker/internal/agentmgr"
	"github.com/openagentbroker/acpbroker/internal/apperror"
	"github.com/openagentbroker/acpbroker/internal/logger"
	"github.com/openagentbroker/acpbroker/internal/settingsstore"
	"github.com/openagentbroker/acpbroker/internal/threadstore"
)

const cancelledPermissionOption = "__cancelled__"

// Manager owns the in-memory session map and the pending-permissions
// table, and is the single entry point for session lifecycle operations.
type Manager struct {
	log      *logger.Logger
	agents   *agentmgr.Manager
	threads  *threadstore.Store
	settings *settingsstore.Store

	mu                 sync.RWMutex
	sessions           map[string]*Info
	pendingPermissions map[string][]string // sessionId -> pending requestIds
}

// NewManager constructs a session Manager.
func NewManager(log *logger.Logger, agents *agentmgr.Manager, threads *threadstore.Store, settings *settingsstore.Store) *Manager {
	return &Manager{
		log:                log.WithFields(zap.String("component", "session-manager")),
		agents:             agents,
		threads:            threads,
		settings:           settings,
		sessions:           make(map[string]*Info),
		pendingPermissions: make(map[string][]string),
	}
}

func getEnabledMCPServers(settings *settingsstore.Store) []json.RawMessage {
	enabled := settings.EnabledMCPServers()
	out := make([]json.RawMessage, 0, len(enabled))
	for _, srv := range enabled {
		raw, err := json.Marshal(srv)
		if err != nil {
			continue
		}
		out = append(out, raw)
	}
	return out
}

// CreateSession requires that connectionId exist, opens a remote session
// against it, optionally applies mode/model, persists the new session,
// and returns it.
func (m *Manager) CreateSession(ctx context.Context, req CreateRequest) (Info, error) {
	client, ok := m.agents.GetClient(req.ConnectionID)
	if !ok {
		return Info{}, apperror.NotFoundErr(apperror.KindConnection, req.ConnectionID)
	}

	sessionID := uuid.NewString()

	workingDir := req.WorkingDir
	if req.UseWorktree && req.WorktreePath != "" {
		workingDir = req.WorktreePath
	}

	mcpServers := getEnabledMCPServers(m.settings)

	if _, err := client.NewSession(ctx, workingDir, mcpServers, sessionID, req.InteractionMode); err != nil {
		return Info{}, err
	}

	if req.InteractionMode != "" {
		if err := client.SetMode(ctx, sessionID, req.InteractionMode); err != nil {
			m.log.Warn("advisory set-mode failed during session creation", zap.Error(err))
		}
	}
	if req.ModelID != "" {
		if err := client.SetModel(ctx, sessionID, req.ModelID); err != nil {
			m.log.Warn("advisory set-model failed during session creation", zap.Error(err))
		}
	}

	title := req.Title
	if title == "" {
		title = "Session " + sessionID[:8]
	}

	info := &Info{
		SessionID:       sessionID,
		ConnectionID:    req.ConnectionID,
		AgentID:         client.AgentID,
		AgentName:       client.AgentName,
		Title:           title,
		CreatedAt:       time.Now(),
		WorkingDir:      workingDir,
		WorktreePath:    req.WorktreePath,
		WorktreeBranch:  req.WorktreeBranch,
		Status:          StatusActive,
		Messages:        []Message{},
		InteractionMode: req.InteractionMode,
		UseWorktree:     req.UseWorktree,
		WorkspaceID:     req.WorkspaceID,
		BranchName:      req.BranchName,
	}

	if err := m.persist(info); err != nil {
		m.log.Warn("failed to persist newly created session", zap.Error(err))
	}

	m.mu.Lock()
	m.sessions[sessionID] = info
	m.mu.Unlock()

	return *info, nil
}

// Prompt sets the session to "prompting", appends the user message, sends
// the prompt, and settles the status to "active" or "error". The message
// log is persisted regardless of the prompt's outcome.
func (m *Manager) Prompt(ctx context.Context, sessionID string, content json.RawMessage, mode string) (string, error) {
	info, err := m.requireSession(sessionID)
	if err != nil {
		return "", err
	}
	client, ok := m.agents.GetClient(info.ConnectionID)
	if !ok {
		return "", apperror.NotFoundErr(apperror.KindConnection, info.ConnectionID)
	}

	m.mu.Lock()
	info.Status = StatusPrompting
	info.Messages = append(info.Messages, Message{ID: uuid.NewString(), Role: "user", Content: content, Timestamp: time.Now()})
	if mode != "" {
		info.InteractionMode = mode
	}
	snapshot := *info
	m.mu.Unlock()

	stopReason, promptErr := client.Prompt(ctx, sessionID, content, mode)

	m.mu.Lock()
	if promptErr != nil {
		info.Status = StatusError
	} else {
		info.Status = StatusActive
	}
	snapshot = *info
	m.mu.Unlock()

	if err := m.persistMessages(snapshot); err != nil {
		m.log.Warn("failed to persist prompt message log", zap.Error(err))
	}

	return stopReason, promptErr
}

// Cancel resolves any pending permission requests for sessionID with
// "__cancelled__", sends session/cancel, and marks the session cancelled.
func (m *Manager) Cancel(sessionID string) error {
	info, err := m.requireSession(sessionID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	pending := m.pendingPermissions[sessionID]
	delete(m.pendingPermissions, sessionID)
	m.mu.Unlock()
	for _, requestID := range pending {
		m.agents.BroadcastPermissionResolution(requestID, cancelledPermissionOption)
	}

	client, ok := m.agents.GetClient(info.ConnectionID)
	if !ok {
		return apperror.NotFoundErr(apperror.KindConnection, info.ConnectionID)
	}
	if err := client.Cancel(sessionID); err != nil {
		return err
	}

	m.mu.Lock()
	info.Status = StatusCancelled
	m.mu.Unlock()
	return nil
}

// TrackPermissionRequest records that requestID is outstanding for
// sessionID, so Cancel can resolve it. Called by the event sink wiring
// when a session/request_permission event is emitted.
func (m *Manager) TrackPermissionRequest(sessionID, requestID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pendingPermissions[sessionID] = append(m.pendingPermissions[sessionID], requestID)
}

// ResolvePermission removes requestID from the pending table and
// broadcasts the decision to every live connection (the broker does not
// track which connection issued which request).
func (m *Manager) ResolvePermission(sessionID, requestID, optionID string) {
	m.mu.Lock()
	pending := m.pendingPermissions[sessionID]
	for i, id := range pending {
		if id == requestID {
			m.pendingPermissions[sessionID] = append(pending[:i], pending[i+1:]...)
			break
		}
	}
	m.mu.Unlock()
	m.agents.BroadcastPermissionResolution(requestID, optionID)
}

// EnsureConnected implements session_ensure_connected (base spec §6,
// scenario 5): it reports whether sessionID's owning connection still has
// a live transport. A session whose agent process has exited (e.g. after
// a failed Prompt) fails here with a transport error rather than a
// not-found, since the session record itself still exists.
func (m *Manager) EnsureConnected(sessionID string) error {
	info, err := m.requireSession(sessionID)
	if err != nil {
		return err
	}
	if _, ok := m.agents.GetClient(info.ConnectionID); !ok {
		return apperror.TransportErr("Session %s is not connected", sessionID)
	}
	return nil
}

// GetSession returns a snapshot of sessionID's in-memory record.
func (m *Manager) GetSession(sessionID string) (Info, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info, ok := m.sessions[sessionID]
	if !ok {
		return Info{}, false
	}
	return *info, true
}

// ListSessions returns a snapshot of every in-memory session.
func (m *Manager) ListSessions() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Info, 0, len(m.sessions))
	for _, info := range m.sessions {
		out = append(out, *info)
	}
	return out
}

// Rename sets a session's title, in memory and on disk.
func (m *Manager) Rename(sessionID, title string) error {
	info, err := m.requireSession(sessionID)
	if err != nil {
		return err
	}
	m.mu.Lock()
	info.Title = title
	m.mu.Unlock()
	return m.threads.Rename(sessionID, info.WorkingDir, title)
}

// RemoveSession drops sessionID from memory and deletes its persisted
// thread.
func (m *Manager) RemoveSession(sessionID string) error {
	info, err := m.requireSession(sessionID)
	if err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.sessions, sessionID)
	delete(m.pendingPermissions, sessionID)
	m.mu.Unlock()
	return m.threads.Remove(sessionID, info.WorkingDir)
}

// SetMode sets a session's interaction mode, remotely and in memory.
func (m *Manager) SetMode(ctx context.Context, sessionID, modeID string) error {
	info, err := m.requireSession(sessionID)
	if err != nil {
		return err
	}
	client, ok := m.agents.GetClient(info.ConnectionID)
	if !ok {
		return apperror.NotFoundErr(apperror.KindConnection, info.ConnectionID)
	}
	if err := client.SetMode(ctx, sessionID, modeID); err != nil {
		return err
	}
	m.mu.Lock()
	info.InteractionMode = modeID
	m.mu.Unlock()
	return m.threads.UpdateInteractionMode(sessionID, info.WorkingDir, modeID)
}

// SetModel sets a session's active model.
func (m *Manager) SetModel(ctx context.Context, sessionID, modelID string) error {
	info, err := m.requireSession(sessionID)
	if err != nil {
		return err
	}
	client, ok := m.agents.GetClient(info.ConnectionID)
	if !ok {
		return apperror.NotFoundErr(apperror.KindConnection, info.ConnectionID)
	}
	return client.SetModel(ctx, sessionID, modelID)
}

// SetConfigOption sets an opaque agent-declared config option.
func (m *Manager) SetConfigOption(ctx context.Context, sessionID, configID, value string) (json.RawMessage, error) {
	info, err := m.requireSession(sessionID)
	if err != nil {
		return nil, err
	}
	client, ok := m.agents.GetClient(info.ConnectionID)
	if !ok {
		return nil, apperror.NotFoundErr(apperror.KindConnection, info.ConnectionID)
	}
	return client.SetConfigOption(ctx, sessionID, configID, value)
}

// Fork forks sourceSessionID into a new session rooted at cwd, if the
// agent advertises fork support.
func (m *Manager) Fork(ctx context.Context, sourceSessionID, cwd string) (Info, error) {
	source, err := m.requireSession(sourceSessionID)
	if err != nil {
		return Info{}, err
	}
	client, ok := m.agents.GetClient(source.ConnectionID)
	if !ok {
		return Info{}, apperror.NotFoundErr(apperror.KindConnection, source.ConnectionID)
	}
	if !client.SupportsFork() {
		return Info{}, apperror.OtherErr("agent %s does not support session fork", source.AgentID)
	}

	newID := uuid.NewString()
	if _, err := client.ForkSession(ctx, sourceSessionID, cwd, newID); err != nil {
		return Info{}, err
	}

	info := &Info{
		SessionID:       newID,
		ConnectionID:    source.ConnectionID,
		AgentID:         source.AgentID,
		AgentName:       source.AgentName,
		Title:           "Session " + newID[:8],
		CreatedAt:       time.Now(),
		WorkingDir:      cwd,
		Status:          StatusActive,
		Messages:        []Message{},
		WorkspaceID:     source.WorkspaceID,
		ParentSessionID: sourceSessionID,
	}
	if err := m.persist(info); err != nil {
		m.log.Warn("failed to persist forked session", zap.Error(err))
	}

	m.mu.Lock()
	m.sessions[newID] = info
	m.mu.Unlock()

	return *info, nil
}

func (m *Manager) requireSession(sessionID string) (*Info, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info, ok := m.sessions[sessionID]
	if !ok {
		return nil, apperror.NotFoundErr(apperror.KindSession, sessionID)
	}
	return info, nil
}

func (m *Manager) persist(info *Info) error {
	manifest := manifestFromInfo(*info)
	return m.threads.Save(manifest, encodeMessages(info.Messages))
}

func (m *Manager) persistMessages(info Info) error {
	return m.threads.UpdateMessages(info.SessionID, info.WorkingDir, encodeMessages(info.Messages))
}

func manifestFromInfo(info Info) threadstore.Manifest {
	return threadstore.Manifest{
		SessionID:       info.SessionID,
		Title:           info.Title,
		AgentID:         info.AgentID,
		AgentName:       info.AgentName,
		WorkingDir:      info.WorkingDir,
		CreatedAt:       info.CreatedAt,
		WorkspaceID:     info.WorkspaceID,
		WorktreePath:    info.WorktreePath,
		WorktreeBranch:  info.WorktreeBranch,
		UseWorktree:     info.UseWorktree,
		InteractionMode: info.InteractionMode,
		ParentSessionID: info.ParentSessionID,
	}
}

func encodeMessages(messages []Message) []json.RawMessage {
	out := make([]json.RawMessage, 0, len(messages))
	for _, msg := range messages {
		raw, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		out = append(out, raw)
	}
	return out
}
