// Package control exposes the broker's command surface (base spec §6
// "Frontend-facing interface") as a local gin HTTP API plus a websocket
// stream of eventbus events.
//
// Grounded on kdlbs-kandev's internal/editors/handlers/handlers.go for
// the gin handler/binding idiom.
package control

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/openagentbroker/acpbroker/internal/agentmgr"
	"github.com/openagentbroker/acpbroker/internal/apperror"
	"github.com/openagentbroker/acpbroker/internal/eventbus"
	"github.com/openagentbroker/acpbroker/internal/logger"
	"github.com/openagentbroker/acpbroker/internal/registry"
	"github.com/openagentbroker/acpbroker/internal/session"
	"github.com/openagentbroker/acpbroker/internal/settingsstore"
	"github.com/openagentbroker/acpbroker/internal/threadstore"
	"github.com/openagentbroker/acpbroker/internal/workspacestore"
)

// Handlers wires every core component to its HTTP command.
type Handlers struct {
	log        *logger.Logger
	agents     *agentmgr.Manager
	sessions   *session.Manager
	threads    *threadstore.Store
	workspaces *workspacestore.Store
	settings   *settingsstore.Store
	registry   *registry.Service
	bus        *eventbus.Bus
}

// New constructs the Handlers struct; every argument is the broker's
// single shared instance of that component.
func New(log *logger.Logger, agents *agentmgr.Manager, sessions *session.Manager, threads *threadstore.Store, workspaces *workspacestore.Store, settings *settingsstore.Store, reg *registry.Service, bus *eventbus.Bus) *Handlers {
	return &Handlers{
		log:        log.WithFields(zap.String("component", "control-handlers")),
		agents:     agents,
		sessions:   sessions,
		threads:    threads,
		workspaces: workspaces,
		settings:   settings,
		registry:   reg,
		bus:        bus,
	}
}

// RegisterRoutes mounts every command under /commands plus /ws and /health.
func (h *Handlers) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", h.health)
	router.GET("/ws", h.websocket)

	agent := router.Group("/commands/agent")
	agent.GET("/registry", h.agentRegistry)
	agent.POST("/install", h.agentInstall)
	agent.POST("/uninstall", h.agentUninstall)
	agent.GET("/list-installed", h.agentListInstalled)
	agent.POST("/launch", h.agentLaunch)
	agent.POST("/terminate", h.agentTerminate)
	agent.POST("/authenticate", h.agentAuthenticate)
	agent.POST("/logout", h.agentLogout)
	agent.GET("/list-connections", h.agentListConnections)
	agent.POST("/check-auth", h.agentCheckAuth)
	agent.POST("/detect-cli", h.agentDetectCLI)
	agent.GET("/registry-cached", h.agentRegistryCached)
	agent.GET("/icon", h.agentGetIconSVG)
	agent.GET("/get-models", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"availableModels": []any{}}) })
	agent.GET("/get-modes", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"availableModes": []any{}}) })

	sess := router.Group("/commands/session")
	sess.POST("/create", h.sessionCreate)
	sess.POST("/prompt", h.sessionPrompt)
	sess.POST("/cancel", h.sessionCancel)
	sess.GET("/list", h.sessionList)
	sess.GET("/list-persisted", h.sessionListPersisted)
	sess.POST("/remove", h.sessionRemove)
	sess.POST("/permission-response", h.sessionPermissionResponse)
	sess.POST("/rebuild-cache", h.sessionRebuildCache)
	sess.POST("/set-mode", h.sessionSetMode)
	sess.POST("/set-model", h.sessionSetModel)
	sess.POST("/set-config-option", h.sessionSetConfigOption)
	sess.POST("/rename", h.sessionRename)
	sess.POST("/fork", h.sessionFork)
	sess.POST("/ensure-connected", h.sessionEnsureConnected)
}

func (h *Handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "acpbroker"})
}

func badRequest(c *gin.Context) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
}

// writeResult maps an apperror.Code to an HTTP status and writes either
// the result or the error.
func writeResult(c *gin.Context, result any, err error) {
	if err == nil {
		c.JSON(http.StatusOK, result)
		return
	}
	c.JSON(statusForError(err), gin.H{"error": err.Error()})
}

func statusForError(err error) int {
	ae, ok := err.(*apperror.Error)
	if !ok {
		return http.StatusInternalServerError
	}
	switch ae.Code {
	case apperror.NotFound:
		return http.StatusNotFound
	case apperror.Timeout:
		return http.StatusGatewayTimeout
	case apperror.Transport, apperror.ACP:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
