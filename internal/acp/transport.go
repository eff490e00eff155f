// Package acp implements the ACP transport and dispatch layer (base spec
// component C1): one instance per spawned agent subprocess, owning stdio,
// the request table, the session-id map, and the permission table.
//
// Grounded on original_source/src-tauri/src/services/acp_client.rs,
// translated from tokio tasks/oneshot channels into goroutines/channels,
// and on kdlbs-kandev's internal/agent/agentctl/launcher/launcher.go for
// subprocess spawn/kill idiom.
package acp

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/openagentbroker/acpbroker/internal/apperror"
	"github.com/openagentbroker/acpbroker/internal/logger"
)

// EventSink receives frontend-facing events emitted by a transport's reader
// loop. Implementations must not block meaningfully; forward to a queue.
type EventSink interface {
	SessionUpdate(internalSessionID string, update UpdateEvent)
	PermissionRequest(event PermissionRequestEvent)
	PermissionResolved(requestID string)
}

// SpawnConfig describes how to start one agent subprocess.
type SpawnConfig struct {
	AgentID string
	Command string
	Args    []string
	Env     map[string]string
	Cwd     string
}

type pendingRequest struct {
	method string
	result chan requestResult
}

type requestResult struct {
	value json.RawMessage
	err   error
}

type pendingPermission struct {
	sessionID string
	decision  chan string
}

// Transport owns one agent subprocess and the JSON-RPC 2.0 dialogue with it.
type Transport struct {
	ConnectionID string
	AgentID      string

	AgentName         string
	AgentVersion      string
	Capabilities      json.RawMessage
	AuthMethods       []AuthMethod

	log  *logger.Logger
	sink EventSink

	cmd   *exec.Cmd
	stdin io.WriteCloser

	writerMu sync.Mutex // serializes writes to stdin

	nextID  uint32
	idMu    sync.Mutex

	pendingMu sync.Mutex
	pending   map[uint32]*pendingRequest

	permMu sync.Mutex
	perms  map[string]*pendingPermission

	sessionMu       sync.Mutex
	remoteToInternal map[string]string
	internalToRemote map[string]string

	group  *errgroup.Group
	done   chan struct{}
	doneMu sync.Once
}

// Start spawns the agent subprocess and begins its reader/stderr loops.
func Start(cfg SpawnConfig, sink EventSink, log *logger.Logger) (*Transport, error) {
	log = log.WithFields(zap.String("component", "acp-transport"), zap.String("agent_id", cfg.AgentID))
	log.Info("spawning agent", zap.String("command", cfg.Command), zap.Strings("args", cfg.Args))

	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Dir = cfg.Cwd
	cmd.Env = envSlice(cfg.Env)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Pdeathsig: syscall.SIGTERM,
		Setpgid:   true,
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, apperror.TransportErr("failed to acquire stdin: %v", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, apperror.TransportErr("failed to acquire stdout: %v", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, apperror.TransportErr("failed to acquire stderr: %v", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, apperror.TransportErr("failed to spawn agent %q: %v", cfg.Command, err)
	}

	t := &Transport{
		ConnectionID:     uuid.NewString(),
		AgentID:          cfg.AgentID,
		log:              log,
		sink:             sink,
		cmd:              cmd,
		stdin:            stdin,
		nextID:           1,
		pending:          make(map[uint32]*pendingRequest),
		perms:            make(map[string]*pendingPermission),
		remoteToInternal: make(map[string]string),
		internalToRemote: make(map[string]string),
		done:             make(chan struct{}),
	}

	group := &errgroup.Group{}
	group.Go(func() error { return t.readLoop(stdout) })
	group.Go(func() error { return t.stderrLoop(stderr) })
	t.group = group

	go func() {
		_ = group.Wait()
		t.closeDone()
	}()

	return t, nil
}

func (t *Transport) closeDone() {
	t.doneMu.Do(func() { close(t.done) })
}

func envSlice(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

// readLoop reads stdout line by line, dispatching responses and
// server-initiated calls. On EOF it drains the request table with a
// transport-terminated error, per base spec §4.1.
func (t *Transport) readLoop(stdout io.Reader) error {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(trimSpace(line)) == 0 {
			continue
		}
		var msg inboundMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			t.log.Debug("non-JSON stdout line", zap.ByteString("line", line))
			continue
		}
		t.dispatch(msg)
	}

	t.drainPending(apperror.TransportErr("Agent process exited"))
	t.log.Info("stdout reader exited")
	return nil
}

func trimSpace(b []byte) []byte {
	i, j := 0, len(b)
	for i < j && (b[i] == ' ' || b[i] == '\t' || b[i] == '\r' || b[i] == '\n') {
		i++
	}
	for j > i && (b[j-1] == ' ' || b[j-1] == '\t' || b[j-1] == '\r' || b[j-1] == '\n') {
		j--
	}
	return b[i:j]
}

func (t *Transport) stderrLoop(stderr io.Reader) error {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := string(trimSpace(scanner.Bytes()))
		if line != "" {
			t.log.Warn("agent stderr", zap.String("line", line))
		}
	}
	return nil
}

func (t *Transport) dispatch(msg inboundMessage) {
	if msg.Method == "" && msg.ID != nil {
		t.handleResponse(msg)
		return
	}
	switch msg.Method {
	case MethodSessionUpdate:
		t.handleSessionUpdate(msg.Params)
	case MethodSessionRequestPermission:
		t.handleRequestPermission(msg.Params)
	case "":
		// id-less, method-less: drop silently.
	default:
		if len(msg.Method) > 0 && msg.Method[0] != '_' && !hasPrefix(msg.Method, "$/") {
			t.log.Warn("unhandled server-initiated method", zap.String("method", msg.Method))
		}
	}
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

func (t *Transport) handleResponse(msg inboundMessage) {
	idFloat, err := msg.ID.Float64()
	if err != nil {
		return
	}
	id := uint32(idFloat)

	t.pendingMu.Lock()
	entry, ok := t.pending[id]
	if ok {
		delete(t.pending, id)
	}
	t.pendingMu.Unlock()
	if !ok {
		return
	}

	if msg.Error != nil {
		entry.result <- requestResult{err: apperror.ACPErr(msg.Error.Code, msg.Error.Message)}
		return
	}
	entry.result <- requestResult{value: msg.Result}
}

type sessionUpdateEnvelope struct {
	SessionID string          `json:"sessionId"`
	Update    json.RawMessage `json:"update"`
}

func (t *Transport) handleSessionUpdate(params json.RawMessage) {
	var env sessionUpdateEnvelope
	if err := json.Unmarshal(params, &env); err != nil {
		t.log.Debug("malformed session/update params", zap.Error(err))
		return
	}
	internal := t.remoteToInternalID(env.SessionID)
	t.sink.SessionUpdate(internal, transformUpdate(env.Update))
}

type requestPermissionParams struct {
	SessionID string             `json:"sessionId"`
	ToolCall  json.RawMessage    `json:"toolCall"`
	Options   []PermissionOption `json:"options"`
}

func (t *Transport) handleRequestPermission(params json.RawMessage) {
	var p requestPermissionParams
	if err := json.Unmarshal(params, &p); err != nil {
		t.log.Debug("malformed session/request_permission params", zap.Error(err))
		return
	}
	if len(p.Options) == 0 {
		p.Options = defaultPermissionOptions()
	}

	requestID := uuid.NewString()
	internal := t.remoteToInternalID(p.SessionID)

	decision := make(chan string, 1)
	t.permMu.Lock()
	t.perms[requestID] = &pendingPermission{sessionID: internal, decision: decision}
	t.permMu.Unlock()

	t.sink.PermissionRequest(PermissionRequestEvent{
		SessionID: internal,
		RequestID: requestID,
		ToolCall:  p.ToolCall,
		Options:   p.Options,
	})

	go t.waitForPermissionDecision(requestID, decision)
}

func (t *Transport) waitForPermissionDecision(requestID string, decision chan string) {
	var optionID string
	select {
	case d, ok := <-decision:
		if !ok {
			// Terminate closed the slot and already cleared the table.
			return
		}
		optionID = d
	case <-time.After(300 * time.Second):
		optionID = "__cancelled__"
	}

	t.permMu.Lock()
	delete(t.perms, requestID)
	t.permMu.Unlock()

	t.log.Info("permission resolved", zap.String("request_id", requestID), zap.String("option_id", optionID))
	t.sink.PermissionResolved(requestID)
}

func (t *Transport) drainPending(err error) {
	t.pendingMu.Lock()
	pending := t.pending
	t.pending = make(map[uint32]*pendingRequest)
	t.pendingMu.Unlock()
	for _, entry := range pending {
		entry.result <- requestResult{err: err}
	}
}

// ---- outbound RPCs ----

func (t *Transport) allocateID() uint32 {
	t.idMu.Lock()
	defer t.idMu.Unlock()
	id := t.nextID
	t.nextID++
	return id
}

// sendRequest writes a JSON-RPC request and blocks until a response
// arrives, ctx is cancelled, or the transport terminates.
func (t *Transport) sendRequest(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := t.allocateID()
	result := make(chan requestResult, 1)

	t.pendingMu.Lock()
	t.pending[id] = &pendingRequest{method: method, result: result}
	t.pendingMu.Unlock()

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, apperror.OtherErr("failed to marshal params for %s: %v", method, err)
	}
	req := Request{JSONRPC: jsonrpcVersion, ID: id, Method: method, Params: paramsJSON}
	line, err := json.Marshal(req)
	if err != nil {
		return nil, apperror.OtherErr("failed to marshal request %s: %v", method, err)
	}

	if err := t.writeLine(line); err != nil {
		return nil, err
	}

	select {
	case r := <-result:
		return r.value, r.err
	case <-ctx.Done():
		return nil, apperror.TimeoutErr("request %q timed out: %v", method, ctx.Err())
	case <-t.done:
		return nil, apperror.TransportErr("Agent process exited")
	}
}

func (t *Transport) writeLine(line []byte) error {
	t.writerMu.Lock()
	defer t.writerMu.Unlock()
	if _, err := t.stdin.Write(append(line, '\n')); err != nil {
		return apperror.TransportErr("failed to write to agent stdin: %v", err)
	}
	return nil
}

func (t *Transport) sendNotification(method string, params any) error {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return apperror.OtherErr("failed to marshal params for %s: %v", method, err)
	}
	n := Notification{JSONRPC: jsonrpcVersion, Method: method, Params: paramsJSON}
	line, err := json.Marshal(n)
	if err != nil {
		return apperror.OtherErr("failed to marshal notification %s: %v", method, err)
	}
	return t.writeLine(line)
}

// Initialize performs the ACP capability handshake with a 30-second deadline.
func (t *Transport) Initialize(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	raw, err := t.sendRequest(ctx, MethodInitialize, map[string]any{
		"protocolVersion": acpProtocolVersion,
		"clientInfo": ClientInfo{
			Name:    "acpbroker",
			Title:   "ACP Broker",
			Version: "0.1.0",
		},
		"clientCapabilities": ClientCapabilities{
			Fs:       FsCapabilities{ReadTextFile: true, WriteTextFile: true},
			Terminal: true,
		},
	})
	if err != nil {
		return err
	}

	var result InitializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return apperror.OtherErr("malformed initialize result: %v", err)
	}

	t.AgentName = result.AgentInfo.Name
	if t.AgentName == "" {
		t.AgentName = t.AgentID
	}
	t.AgentVersion = result.AgentInfo.Version
	t.Capabilities = result.AgentCapabilities
	t.AuthMethods = result.AuthMethods

	t.log.Info("agent initialized", zap.String("agent_name", t.AgentName), zap.String("agent_version", t.AgentVersion))
	return nil
}

// Authenticate tries the modern method name, falling back to the legacy
// name exactly once on a method-not-found error.
func (t *Transport) Authenticate(ctx context.Context, methodID string, credentials map[string]string) error {
	params := map[string]any{"authMethodId": methodID}
	for k, v := range credentials {
		params[k] = v
	}
	_, err := t.sendRequest(ctx, MethodAuthenticate, params)
	if err == nil {
		return nil
	}
	if !isMethodNotFoundErr(err) {
		return err
	}

	legacy := map[string]any{"methodId": methodID}
	for k, v := range credentials {
		legacy[k] = v
	}
	_, err = t.sendRequest(ctx, MethodAuthenticateLegacy, legacy)
	return err
}

// Logout tries the modern method name, falling back to the legacy name
// exactly once on a method-not-found error.
func (t *Transport) Logout(ctx context.Context) error {
	_, err := t.sendRequest(ctx, MethodLogout, map[string]any{})
	if err == nil {
		return nil
	}
	if !isMethodNotFoundErr(err) {
		return err
	}
	_, err = t.sendRequest(ctx, MethodLogoutLegacy, map[string]any{})
	return err
}

// isMethodNotFoundErr mirrors the original's `e.contains("-32601") ||
// e.to_lowercase().contains("method not found")` check against the
// formatted ACP error string, used to trigger the legacy-name fallback.
func isMethodNotFoundErr(err error) bool {
	ae, ok := err.(*apperror.Error)
	if !ok || ae.Code != apperror.ACP {
		return false
	}
	return apperror.IsMethodNotFound(0, ae.Message)
}

// NewSession opens a new remote session and, if internalSessionID is
// supplied, registers the bidirectional session-id mapping.
func (t *Transport) NewSession(ctx context.Context, cwd string, mcpServers []json.RawMessage, internalSessionID, preferredModeID string) (SessionNewResult, error) {
	raw, err := t.sendRequest(ctx, MethodSessionNew, map[string]any{"cwd": cwd, "mcpServers": mcpServers})
	if err != nil {
		return SessionNewResult{}, err
	}
	var result SessionNewResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return SessionNewResult{}, apperror.OtherErr("malformed session/new result: %v", err)
	}
	if result.SessionID == "" {
		return SessionNewResult{}, apperror.OtherErr("session/new: missing sessionId")
	}
	if internalSessionID != "" {
		t.registerSessionMapping(internalSessionID, result.SessionID)
		t.emitSessionNewDerivedEvents(internalSessionID, result, preferredModeID)
	}
	return result, nil
}

// emitSessionNewDerivedEvents synthesizes the config_options_update and
// current_mode_update frontend events derived from a session/new response,
// per base spec §4.1's "new_session" paragraph. Available modes are
// presented to the frontend as a single synthetic `_mode` config option;
// the agent's own configOptions, if any, are emitted as a second update.
func (t *Transport) emitSessionNewDerivedEvents(internalSessionID string, result SessionNewResult, preferredModeID string) {
	if result.Modes != nil && len(result.Modes.AvailableModes) > 0 {
		chosen := preferredModeID
		if !modeIDAvailable(result.Modes.AvailableModes, chosen) {
			chosen = result.Modes.CurrentModeID
		}
		if !modeIDAvailable(result.Modes.AvailableModes, chosen) {
			chosen = result.Modes.AvailableModes[0].ID
		}

		options := make([]map[string]any, 0, len(result.Modes.AvailableModes))
		for _, m := range result.Modes.AvailableModes {
			options = append(options, map[string]any{"id": m.ID, "name": m.Name})
		}
		t.sink.SessionUpdate(internalSessionID, UpdateEvent{
			Type: "config_options_update",
			Fields: mustJSON([]map[string]any{{
				"id":           "_mode",
				"name":         "Mode",
				"description":  "",
				"category":     "",
				"type":         "select",
				"currentValue": chosen,
				"options":      options,
			}}),
		})
		t.sink.SessionUpdate(internalSessionID, UpdateEvent{
			Type:   "current_mode_update",
			Fields: mustJSON(map[string]any{"modeId": chosen}),
		})
	}

	if len(result.ConfigOptions) > 0 {
		options := make([]map[string]any, 0, len(result.ConfigOptions))
		for _, o := range result.ConfigOptions {
			options = append(options, map[string]any{
				"id":           o.ID,
				"name":         o.Name,
				"description":  o.Description,
				"category":     o.Category,
				"type":         "select",
				"currentValue": rawOrNull(o.CurrentValue),
				"options":      rawOrNull(o.Options),
			})
		}
		t.sink.SessionUpdate(internalSessionID, UpdateEvent{Type: "config_options_update", Fields: mustJSON(options)})
	}
}

func modeIDAvailable(modes []ModeInfo, id string) bool {
	if id == "" {
		return false
	}
	for _, m := range modes {
		if m.ID == id {
			return true
		}
	}
	return false
}

// Prompt sends a prompt for sessionID (internal) and returns the stop reason.
func (t *Transport) Prompt(ctx context.Context, sessionID string, content json.RawMessage, mode string) (string, error) {
	params := map[string]any{
		"sessionId": t.internalToRemoteID(sessionID),
		"prompt":    content,
	}
	if mode != "" {
		params["interactionMode"] = mode
	}
	raw, err := t.sendRequest(ctx, MethodSessionPrompt, params)
	if err != nil {
		return "", err
	}
	var result SessionPromptResult
	_ = json.Unmarshal(raw, &result)
	if result.StopReason == "" {
		return "end_turn", nil
	}
	return result.StopReason, nil
}

// Cancel fires a session/cancel notification; there is no response.
func (t *Transport) Cancel(sessionID string) error {
	return t.sendNotification(MethodSessionCancel, map[string]any{"sessionId": t.internalToRemoteID(sessionID)})
}

// SetMode sets the active interaction mode for a session.
func (t *Transport) SetMode(ctx context.Context, sessionID, modeID string) error {
	_, err := t.sendRequest(ctx, MethodSessionSetMode, map[string]any{
		"sessionId": t.internalToRemoteID(sessionID),
		"modeId":    modeID,
	})
	return err
}

// SetModel sets the active model for a session.
func (t *Transport) SetModel(ctx context.Context, sessionID, modelID string) error {
	_, err := t.sendRequest(ctx, MethodSessionSetModel, map[string]any{
		"sessionId": t.internalToRemoteID(sessionID),
		"modelId":   modelID,
	})
	return err
}

// SetConfigOption sets an opaque agent-declared config option for a session.
func (t *Transport) SetConfigOption(ctx context.Context, sessionID, configID, value string) (json.RawMessage, error) {
	return t.sendRequest(ctx, MethodSessionSetConfigOpt, map[string]any{
		"sessionId": t.internalToRemoteID(sessionID),
		"configId":  configID,
		"value":     value,
	})
}

// ForkSession forks sourceSessionID (internal) into a new working directory.
// If newInternalSessionID is supplied, the mapping is registered and it is
// returned; otherwise the raw remote id is returned.
func (t *Transport) ForkSession(ctx context.Context, sourceSessionID, cwd, newInternalSessionID string) (string, error) {
	raw, err := t.sendRequest(ctx, MethodSessionFork, map[string]any{
		"sessionId": t.internalToRemoteID(sourceSessionID),
		"cwd":       cwd,
	})
	if err != nil {
		return "", err
	}
	var result SessionNewResult
	if err := json.Unmarshal(raw, &result); err != nil || result.SessionID == "" {
		return "", apperror.OtherErr("session/fork: missing sessionId")
	}
	if newInternalSessionID != "" {
		t.registerSessionMapping(newInternalSessionID, result.SessionID)
		return newInternalSessionID, nil
	}
	return result.SessionID, nil
}

// ResolvePermission completes a pending permission wait, if it exists.
func (t *Transport) ResolvePermission(requestID, optionID string) {
	t.permMu.Lock()
	entry, ok := t.perms[requestID]
	t.permMu.Unlock()
	if !ok {
		return
	}
	select {
	case entry.decision <- optionID:
	default:
	}
}

// SupportsFork reports the agent's advertised session-fork capability.
func (t *Transport) SupportsFork() bool {
	if len(t.Capabilities) == 0 {
		return false
	}
	var caps struct {
		SessionCapabilities struct {
			Fork bool `json:"fork"`
		} `json:"sessionCapabilities"`
	}
	if err := json.Unmarshal(t.Capabilities, &caps); err != nil {
		return false
	}
	return caps.SessionCapabilities.Fork
}

// Terminate kills the subprocess and drains all pending requests with a
// "terminated" error, clearing the permission table so any waiters exit
// without emitting a late decision.
func (t *Transport) Terminate() {
	if t.cmd != nil && t.cmd.Process != nil {
		_ = t.cmd.Process.Kill()
	}
	t.drainPending(apperror.TransportErr("Agent terminated"))

	t.permMu.Lock()
	perms := t.perms
	t.perms = make(map[string]*pendingPermission)
	t.permMu.Unlock()
	for _, p := range perms {
		close(p.decision)
	}
}

// Wait blocks until the reader/stderr goroutines have both returned,
// i.e. the subprocess's stdio has fully closed.
func (t *Transport) Wait() { <-t.done }

func (t *Transport) registerSessionMapping(internalID, remoteID string) {
	t.sessionMu.Lock()
	defer t.sessionMu.Unlock()
	t.internalToRemote[internalID] = remoteID
	t.remoteToInternal[remoteID] = internalID
}

func (t *Transport) internalToRemoteID(internalID string) string {
	t.sessionMu.Lock()
	defer t.sessionMu.Unlock()
	if remote, ok := t.internalToRemote[internalID]; ok {
		return remote
	}
	return internalID
}

func (t *Transport) remoteToInternalID(remoteID string) string {
	t.sessionMu.Lock()
	defer t.sessionMu.Unlock()
	if internal, ok := t.remoteToInternal[remoteID]; ok {
		return internal
	}
	return remoteID
}

func newUUIDString() string { return uuid.NewString() }
