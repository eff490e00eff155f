package control

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (h *Handlers) agentRegistry(c *gin.Context) {
	catalog, err := h.registry.Fetch(c.Request.Context())
	writeResult(c, catalog, err)
}

// agentRegistryCached serves registry_get_cached (base spec §6): the best
// available catalog without a network round trip.
func (h *Handlers) agentRegistryCached(c *gin.Context) {
	catalog, ok := h.registry.GetCached()
	if !ok {
		c.JSON(http.StatusOK, nil)
		return
	}
	c.JSON(http.StatusOK, catalog)
}

// agentGetIconSVG serves registry_get_icon_svg{agentId, icon?} (base spec
// §6). A nil result on HTTP failure is not an error, per §4.5.
func (h *Handlers) agentGetIconSVG(c *gin.Context) {
	agentID := c.Query("agentId")
	if agentID == "" {
		badRequest(c)
		return
	}
	icon := c.Query("icon")
	svg, err := h.registry.GetIconSVG(c.Request.Context(), agentID, icon)
	writeResult(c, svg, err)
}

type agentIDRequest struct {
	AgentID string `json:"agentId" binding:"required"`
}

func (h *Handlers) agentInstall(c *gin.Context) {
	var req agentIDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}
	result, err := h.agents.Install(c.Request.Context(), req.AgentID)
	writeResult(c, result, err)
}

func (h *Handlers) agentUninstall(c *gin.Context) {
	var req agentIDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}
	err := h.agents.Uninstall(req.AgentID)
	writeResult(c, gin.H{"agentId": req.AgentID}, err)
}

func (h *Handlers) agentListInstalled(c *gin.Context) {
	c.JSON(http.StatusOK, h.agents.ListInstalled())
}

type agentLaunchRequest struct {
	AgentID     string            `json:"agentId" binding:"required"`
	ProjectPath string            `json:"projectPath" binding:"required"`
	Env         map[string]string `json:"extraEnv,omitempty"`
}

func (h *Handlers) agentLaunch(c *gin.Context) {
	var req agentLaunchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}
	result, err := h.agents.Launch(c.Request.Context(), req.AgentID, req.ProjectPath, req.Env)
	writeResult(c, result, err)
}

type connectionIDRequest struct {
	ConnectionID string `json:"connectionId" binding:"required"`
}

func (h *Handlers) agentTerminate(c *gin.Context) {
	var req connectionIDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}
	h.agents.Terminate(req.ConnectionID)
	c.JSON(http.StatusOK, gin.H{"connectionId": req.ConnectionID})
}

type agentAuthenticateRequest struct {
	ConnectionID string            `json:"connectionId" binding:"required"`
	MethodID     string            `json:"method" binding:"required"`
	Credentials  map[string]string `json:"credentials,omitempty"`
}

func (h *Handlers) agentAuthenticate(c *gin.Context) {
	var req agentAuthenticateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}
	err := h.agents.Authenticate(c.Request.Context(), req.ConnectionID, req.MethodID, req.Credentials)
	writeResult(c, gin.H{"connectionId": req.ConnectionID}, err)
}

func (h *Handlers) agentLogout(c *gin.Context) {
	var req connectionIDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}
	err := h.agents.Logout(c.Request.Context(), req.ConnectionID)
	writeResult(c, gin.H{"connectionId": req.ConnectionID}, err)
}

func (h *Handlers) agentListConnections(c *gin.Context) {
	c.JSON(http.StatusOK, h.agents.ListConnections())
}

type agentCheckAuthRequest struct {
	AgentID     string `json:"agentId" binding:"required"`
	ProjectPath string `json:"projectPath" binding:"required"`
}

func (h *Handlers) agentCheckAuth(c *gin.Context) {
	var req agentCheckAuthRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}
	result, err := h.agents.CheckAuth(c.Request.Context(), req.AgentID, req.ProjectPath)
	writeResult(c, result, err)
}

type agentDetectCLIRequest struct {
	Commands []string `json:"commands" binding:"required"`
}

func (h *Handlers) agentDetectCLI(c *gin.Context) {
	var req agentDetectCLIRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}
	c.JSON(http.StatusOK, h.agents.DetectCLI(req.Commands))
}
