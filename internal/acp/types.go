package acp

import "encoding/json"

// ClientInfo identifies the broker to the agent during initialize.
type ClientInfo struct {
	Name    string `json:"name"`
	Title   string `json:"title,omitempty"`
	Version string `json:"version"`
}

// ClientCapabilities advertises what the broker can do on the agent's behalf.
type ClientCapabilities struct {
	Fs       FsCapabilities `json:"fs"`
	Terminal bool           `json:"terminal"`
}

type FsCapabilities struct {
	ReadTextFile  bool `json:"readTextFile"`
	WriteTextFile bool `json:"writeTextFile"`
}

// AuthMethod is one authentication method an agent advertises after initialize.
type AuthMethod struct {
	ID      string `json:"id"`
	Name    string `json:"name,omitempty"`
	Type    string `json:"type,omitempty"`
	VarName string `json:"varName,omitempty"`
}

// InitializeResult is the agent's reply to `initialize`.
type InitializeResult struct {
	AgentInfo        AgentInfo       `json:"agentInfo"`
	AgentCapabilities json.RawMessage `json:"agentCapabilities,omitempty"`
	AuthMethods      []AuthMethod    `json:"authMethods,omitempty"`
}

type AgentInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// SessionNewResult is the agent's reply to `session/new`.
type SessionNewResult struct {
	SessionID     string          `json:"sessionId"`
	Modes         *ModesInfo      `json:"modes,omitempty"`
	ConfigOptions []ConfigOption  `json:"configOptions,omitempty"`
}

type ModesInfo struct {
	AvailableModes []ModeInfo `json:"availableModes,omitempty"`
	CurrentModeID  string     `json:"currentModeId,omitempty"`
}

type ModeInfo struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type ConfigOption struct {
	ID           string          `json:"id"`
	Name         string          `json:"name,omitempty"`
	Description  string          `json:"description,omitempty"`
	Category     string          `json:"category,omitempty"`
	Type         string          `json:"type,omitempty"`
	CurrentValue json.RawMessage `json:"currentValue,omitempty"`
	Options      json.RawMessage `json:"options,omitempty"`
}

// SessionPromptResult is the agent's reply to `session/prompt`.
type SessionPromptResult struct {
	StopReason string `json:"stopReason,omitempty"`
}

// UpdateEvent is the broker-internal, transformed shape of a `session/update`
// payload, emitted to the frontend as `session:update{sessionId, update}`.
type UpdateEvent struct {
	Type   string          `json:"type"`
	Fields json.RawMessage `json:"fields,omitempty"`
}

// PermissionOption is one choice offered to the frontend when an agent asks
// for permission.
type PermissionOption struct {
	OptionID string `json:"optionId"`
	Kind     string `json:"kind,omitempty"`
	Name     string `json:"name,omitempty"`
}

// defaultPermissionOptions is synthesized when the agent's request/update
// carries no options, per base spec §4.1 and the boundary behavior in §8.
func defaultPermissionOptions() []PermissionOption {
	return []PermissionOption{
		{OptionID: "deny", Kind: "reject_once"},
		{OptionID: "allow", Kind: "allow_once"},
	}
}

// PermissionRequestEvent is emitted to the frontend as
// `session:permission-request{sessionId, requestId, toolCall, options}`.
type PermissionRequestEvent struct {
	SessionID string             `json:"sessionId"`
	RequestID string             `json:"requestId"`
	ToolCall  json.RawMessage    `json:"toolCall,omitempty"`
	Options   []PermissionOption `json:"options"`
}
