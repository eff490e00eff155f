package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/openagentbroker/acpbroker/internal/agentmgr"
	"github.com/openagentbroker/acpbroker/internal/audit"
	"github.com/openagentbroker/acpbroker/internal/config"
	"github.com/openagentbroker/acpbroker/internal/control"
	"github.com/openagentbroker/acpbroker/internal/eventbus"
	"github.com/openagentbroker/acpbroker/internal/logger"
	"github.com/openagentbroker/acpbroker/internal/paths"
	"github.com/openagentbroker/acpbroker/internal/registry"
	"github.com/openagentbroker/acpbroker/internal/session"
	"github.com/openagentbroker/acpbroker/internal/settingsstore"
	"github.com/openagentbroker/acpbroker/internal/threadstore"
	"github.com/openagentbroker/acpbroker/internal/workspacestore"
)

func newServeCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the broker's HTTP command surface and event stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), flags)
		},
	}
}

func runServe(ctx context.Context, flags *rootFlags) error {
	cfg, err := config.LoadWithPath(flags.configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if flags.debugMode {
		cfg.Logging.Level = "debug"
	}

	log, err := logger.NewFromSettings(logger.Settings{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("starting acpbrokerd", zap.String("version", version))

	shutdownTracing, err := initTracing(ctx, cfg.Tracing)
	if err != nil {
		log.Warn("tracing disabled", zap.Error(err))
		shutdownTracing = func(context.Context) error { return nil }
	}

	layout, err := paths.New(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("resolving data directory: %w", err)
	}
	log.Info("data directory resolved", zap.String("root", layout.Root))

	settings, err := settingsstore.Open(layout.SettingsFile())
	if err != nil {
		return fmt.Errorf("opening settings store: %w", err)
	}
	workspaces, err := workspacestore.Open(layout.WorkspacesFile())
	if err != nil {
		return fmt.Errorf("opening workspace store: %w", err)
	}
	threads := threadstore.Open(layout.ThreadCacheFile())

	reg := registry.NewService(layout.RegistryCacheFile())
	downloader := registry.NewDownloader(layout.DownloadsDir(), layout.AgentsDir())

	bus := eventbus.New(log, cfg.NATS.URL, cfg.NATS.Subject)
	defer bus.Close()

	agents, err := agentmgr.NewManager(log, reg, downloader, settings, layout.InstalledAgentsFile(), bus, bus)
	if err != nil {
		return fmt.Errorf("initializing agent manager: %w", err)
	}

	auditLog, err := audit.Open(layout.AuditDBFile())
	if err != nil {
		log.Warn("audit log disabled", zap.Error(err))
	} else {
		defer auditLog.Close()
		agents.SetAuditLog(auditLog)
	}

	sessions := session.NewManager(log, agents, threads, settings)
	bus.SetPermissionTracker(sessions)

	handlers := control.New(log, agents, sessions, threads, workspaces, settings, reg, bus)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	handlers.RegisterRoutes(router)

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Info("control-plane server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("control-plane server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down acpbrokerd")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("control-plane server shutdown error", zap.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error("tracing shutdown error", zap.Error(err))
	}

	log.Info("acpbrokerd stopped")
	return nil
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, Upgrade, Connection, Sec-WebSocket-Key, Sec-WebSocket-Version, Sec-WebSocket-Protocol")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
