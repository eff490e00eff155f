package control

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/openagentbroker/acpbroker/internal/session"
	"github.com/openagentbroker/acpbroker/internal/threadstore"
)

type sessionCreateRequest struct {
	ConnectionID    string `json:"connectionId" binding:"required"`
	WorkingDir      string `json:"workingDir" binding:"required"`
	Title           string `json:"title,omitempty"`
	UseWorktree     bool   `json:"useWorktree,omitempty"`
	WorktreePath    string `json:"worktreePath,omitempty"`
	WorktreeBranch  string `json:"worktreeBranch,omitempty"`
	InteractionMode string `json:"interactionMode,omitempty"`
	ModelID         string `json:"modelId,omitempty"`
	WorkspaceID     string `json:"workspaceId,omitempty"`
	BranchName      string `json:"branchName,omitempty"`
}

func (h *Handlers) sessionCreate(c *gin.Context) {
	var req sessionCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}
	result, err := h.sessions.CreateSession(c.Request.Context(), session.CreateRequest{
		ConnectionID:    req.ConnectionID,
		WorkingDir:      req.WorkingDir,
		Title:           req.Title,
		UseWorktree:     req.UseWorktree,
		WorktreePath:    req.WorktreePath,
		WorktreeBranch:  req.WorktreeBranch,
		InteractionMode: req.InteractionMode,
		ModelID:         req.ModelID,
		WorkspaceID:     req.WorkspaceID,
		BranchName:      req.BranchName,
	})
	writeResult(c, result, err)
}

type sessionIDRequest struct {
	SessionID string `json:"sessionId" binding:"required"`
}

type sessionPromptRequest struct {
	SessionID string          `json:"sessionId" binding:"required"`
	Content   json.RawMessage `json:"content" binding:"required"`
	Mode      string          `json:"mode,omitempty"`
}

func (h *Handlers) sessionPrompt(c *gin.Context) {
	var req sessionPromptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}
	stopReason, err := h.sessions.Prompt(c.Request.Context(), req.SessionID, req.Content, req.Mode)
	writeResult(c, gin.H{"stopReason": stopReason}, err)
}

// sessionEnsureConnected serves session_ensure_connected (base spec §6,
// scenario 5).
func (h *Handlers) sessionEnsureConnected(c *gin.Context) {
	var req sessionIDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}
	err := h.sessions.EnsureConnected(req.SessionID)
	writeResult(c, gin.H{"sessionId": req.SessionID}, err)
}

func (h *Handlers) sessionCancel(c *gin.Context) {
	var req sessionIDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}
	err := h.sessions.Cancel(req.SessionID)
	writeResult(c, gin.H{"sessionId": req.SessionID}, err)
}

func (h *Handlers) sessionList(c *gin.Context) {
	c.JSON(http.StatusOK, h.sessions.ListSessions())
}

func (h *Handlers) sessionListPersisted(c *gin.Context) {
	threads, err := h.threads.LoadAll()
	writeResult(c, threads, err)
}

func (h *Handlers) sessionRemove(c *gin.Context) {
	var req sessionIDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}
	err := h.sessions.RemoveSession(req.SessionID)
	writeResult(c, gin.H{"sessionId": req.SessionID}, err)
}

type sessionPermissionResponseRequest struct {
	SessionID string `json:"sessionId" binding:"required"`
	RequestID string `json:"requestId" binding:"required"`
	OptionID  string `json:"optionId" binding:"required"`
}

func (h *Handlers) sessionPermissionResponse(c *gin.Context) {
	var req sessionPermissionResponseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}
	h.sessions.ResolvePermission(req.SessionID, req.RequestID, req.OptionID)
	c.JSON(http.StatusOK, gin.H{"requestId": req.RequestID})
}

func (h *Handlers) sessionRebuildCache(c *gin.Context) {
	workspaces := h.workspaces.List()
	targets := make([]threadstore.Workspace, 0, len(workspaces))
	for _, ws := range workspaces {
		targets = append(targets, threadstore.Workspace{ID: ws.ID, Root: ws.Root})
	}
	err := h.threads.RebuildCache(targets)
	writeResult(c, gin.H{"workspaces": len(targets)}, err)
}

type sessionSetModeRequest struct {
	SessionID string `json:"sessionId" binding:"required"`
	ModeID    string `json:"modeId" binding:"required"`
}

func (h *Handlers) sessionSetMode(c *gin.Context) {
	var req sessionSetModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}
	err := h.sessions.SetMode(c.Request.Context(), req.SessionID, req.ModeID)
	writeResult(c, gin.H{"sessionId": req.SessionID}, err)
}

type sessionSetModelRequest struct {
	SessionID string `json:"sessionId" binding:"required"`
	ModelID   string `json:"modelId" binding:"required"`
}

func (h *Handlers) sessionSetModel(c *gin.Context) {
	var req sessionSetModelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}
	err := h.sessions.SetModel(c.Request.Context(), req.SessionID, req.ModelID)
	writeResult(c, gin.H{"sessionId": req.SessionID}, err)
}

type sessionSetConfigOptionRequest struct {
	SessionID string `json:"sessionId" binding:"required"`
	ConfigID  string `json:"configId" binding:"required"`
	Value     string `json:"value"`
}

func (h *Handlers) sessionSetConfigOption(c *gin.Context) {
	var req sessionSetConfigOptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}
	result, err := h.sessions.SetConfigOption(c.Request.Context(), req.SessionID, req.ConfigID, req.Value)
	writeResult(c, result, err)
}

type sessionRenameRequest struct {
	SessionID string `json:"sessionId" binding:"required"`
	Title     string `json:"title" binding:"required"`
}

func (h *Handlers) sessionRename(c *gin.Context) {
	var req sessionRenameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}
	err := h.sessions.Rename(req.SessionID, req.Title)
	writeResult(c, gin.H{"sessionId": req.SessionID}, err)
}

type sessionForkRequest struct {
	SourceSessionID string `json:"sourceSessionId" binding:"required"`
	Cwd             string `json:"cwd" binding:"required"`
}

func (h *Handlers) sessionFork(c *gin.Context) {
	var req sessionForkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}
	result, err := h.sessions.Fork(c.Request.Context(), req.SourceSessionID, req.Cwd)
	writeResult(c, result, err)
}
