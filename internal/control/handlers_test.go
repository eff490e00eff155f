package control

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openagentbroker/acpbroker/internal/agentmgr"
	"github.com/openagentbroker/acpbroker/internal/eventbus"
	"github.com/openagentbroker/acpbroker/internal/logger"
	"github.com/openagentbroker/acpbroker/internal/registry"
	"github.com/openagentbroker/acpbroker/internal/session"
	"github.com/openagentbroker/acpbroker/internal/settingsstore"
	"github.com/openagentbroker/acpbroker/internal/threadstore"
	"github.com/openagentbroker/acpbroker/internal/workspacestore"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestHandlers(t *testing.T) *Handlers {
	t.Helper()
	root := t.TempDir()
	log := logger.Default()

	settings, err := settingsstore.Open(filepath.Join(root, "settings.json"))
	require.NoError(t, err)
	workspaces, err := workspacestore.Open(filepath.Join(root, "workspaces.json"))
	require.NoError(t, err)
	threads := threadstore.Open(filepath.Join(root, "thread-cache.json"))
	bus := eventbus.New(log, "", "")

	agents, err := agentmgr.NewManager(log, registry.NewService(filepath.Join(root, "registry.json")), registry.NewDownloader(filepath.Join(root, "downloads"), filepath.Join(root, "agents")), settings, filepath.Join(root, "installed-agents.json"), bus, bus)
	require.NoError(t, err)

	sessions := session.NewManager(log, agents, threads, settings)
	bus.SetPermissionTracker(sessions)

	return New(log, agents, sessions, threads, workspaces, settings, registry.NewService(filepath.Join(root, "registry2.json")), bus)
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	h := newTestHandlers(t)
	router := gin.New()
	h.RegisterRoutes(router)
	return router
}

func doRequest(router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	router := newTestRouter(t)
	rec := doRequest(router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestAgentListInstalledEmpty(t *testing.T) {
	router := newTestRouter(t)
	rec := doRequest(router, http.MethodGet, "/commands/agent/list-installed", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestAgentListConnectionsEmpty(t *testing.T) {
	router := newTestRouter(t)
	rec := doRequest(router, http.MethodGet, "/commands/agent/list-connections", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestAgentDetectCLI(t *testing.T) {
	router := newTestRouter(t)
	rec := doRequest(router, http.MethodPost, "/commands/agent/detect-cli", agentDetectCLIRequest{Commands: []string{"sh", "definitely-not-a-real-binary-xyz"}})
	assert.Equal(t, http.StatusOK, rec.Code)

	var result map[string]bool
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result["sh"])
	assert.False(t, result["definitely-not-a-real-binary-xyz"])
}

func TestAgentInstallUnknownAgentDoesNotReturnOK(t *testing.T) {
	router := newTestRouter(t)
	rec := doRequest(router, http.MethodPost, "/commands/agent/install", agentIDRequest{AgentID: "unknown-agent"})
	assert.NotEqual(t, http.StatusOK, rec.Code)
}

func TestAgentTerminateMissingConnectionIsIdempotent(t *testing.T) {
	router := newTestRouter(t)
	rec := doRequest(router, http.MethodPost, "/commands/agent/terminate", connectionIDRequest{ConnectionID: "nonexistent"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSessionCreateMissingConnectionReturnsNotFoundStatus(t *testing.T) {
	router := newTestRouter(t)
	rec := doRequest(router, http.MethodPost, "/commands/session/create", sessionCreateRequest{
		ConnectionID: "missing",
		WorkingDir:   t.TempDir(),
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessionListEmpty(t *testing.T) {
	router := newTestRouter(t)
	rec := doRequest(router, http.MethodGet, "/commands/session/list", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestSessionListPersistedEmpty(t *testing.T) {
	router := newTestRouter(t)
	rec := doRequest(router, http.MethodGet, "/commands/session/list-persisted", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestSessionRebuildCacheWithNoWorkspaces(t *testing.T) {
	router := newTestRouter(t)
	rec := doRequest(router, http.MethodPost, "/commands/session/rebuild-cache", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAgentRegistryCachedReturnsNullWithoutAPriorFetch(t *testing.T) {
	router := newTestRouter(t)
	rec := doRequest(router, http.MethodGet, "/commands/agent/registry-cached", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "null", rec.Body.String())
}

func TestAgentGetIconSVGRequiresAgentID(t *testing.T) {
	router := newTestRouter(t)
	rec := doRequest(router, http.MethodGet, "/commands/agent/icon", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSessionEnsureConnectedUnknownSessionReturnsNotFound(t *testing.T) {
	router := newTestRouter(t)
	rec := doRequest(router, http.MethodPost, "/commands/session/ensure-connected", sessionIDRequest{SessionID: "unknown"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBadRequestOnMalformedPayload(t *testing.T) {
	router := newTestRouter(t)
	req := httptest.NewRequest(http.MethodPost, "/commands/agent/install", bytes.NewReader([]byte("not json")))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
