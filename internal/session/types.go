// Package session implements the session manager (base spec component
// C3): the in-memory session map, the pending-permissions map, and the
// session-lifecycle operations layered on top of the agent manager and
// the thread store.
//
// Grounded on original_source/src-tauri/src/services/session_manager.rs.
package session

import (
	"encoding/json"
	"time"
)

// Status is a session's lifecycle state, per base spec §3 "Session".
type Status string

const (
	StatusActive    Status = "active"
	StatusPrompting Status = "prompting"
	StatusCancelled Status = "cancelled"
	StatusError     Status = "error"
)

// Message is one entry in a session's ordered message list.
type Message struct {
	ID        string          `json:"id"`
	Role      string          `json:"role"`
	Content   json.RawMessage `json:"content"`
	Timestamp time.Time       `json:"timestamp"`
}

// Info is the full in-memory record of a session (base spec §3
// "Session"), serialized camelCase for the frontend.
type Info struct {
	SessionID       string    `json:"sessionId"`
	ConnectionID    string    `json:"connectionId"`
	AgentID         string    `json:"agentId"`
	AgentName       string    `json:"agentName"`
	Title           string    `json:"title"`
	CreatedAt       time.Time `json:"createdAt"`
	WorkingDir      string    `json:"workingDir"`
	WorktreePath    string    `json:"worktreePath,omitempty"`
	WorktreeBranch  string    `json:"worktreeBranch,omitempty"`
	Status          Status    `json:"status"`
	Messages        []Message `json:"messages"`
	InteractionMode string    `json:"interactionMode,omitempty"`
	UseWorktree     bool      `json:"useWorktree,omitempty"`
	WorkspaceID     string    `json:"workspaceId,omitempty"`
	ParentSessionID string    `json:"parentSessionId,omitempty"`
	BranchName      string    `json:"branchName,omitempty"`
}

// CreateRequest is the caller-supplied shape for create_session.
type CreateRequest struct {
	ConnectionID    string
	WorkingDir      string
	Title           string
	UseWorktree     bool
	WorktreePath    string // supplied by an external Git collaborator, if any
	WorktreeBranch  string
	InteractionMode string
	ModelID         string
	WorkspaceID     string
	BranchName      string
}
