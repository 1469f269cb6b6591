// Package main is the OpenGate server entry point. One binary runs the
// whole engine: HTTP API, WebSocket event stream, background loops, and
// outbound webhook delivery over a shared store.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	agenthandlers "github.com/opengate/opengate/internal/agent/handlers"
	agentservice "github.com/opengate/opengate/internal/agent/service"
	agentstore "github.com/opengate/opengate/internal/agent/store"
	"github.com/opengate/opengate/internal/common/config"
	"github.com/opengate/opengate/internal/common/httpmw"
	"github.com/opengate/opengate/internal/common/logger"
	"github.com/opengate/opengate/internal/common/tracing"
	"github.com/opengate/opengate/internal/db"
	"github.com/opengate/opengate/internal/events/bus"
	"github.com/opengate/opengate/internal/events/dispatch"
	eventstore "github.com/opengate/opengate/internal/events/store"
	"github.com/opengate/opengate/internal/gateway/websocket"
	"github.com/opengate/opengate/internal/inbox"
	"github.com/opengate/opengate/internal/loops"
	"github.com/opengate/opengate/internal/mcpserver"
	"github.com/opengate/opengate/internal/metrics"
	"github.com/opengate/opengate/internal/notifications"
	"github.com/opengate/opengate/internal/seed"
	taskhandlers "github.com/opengate/opengate/internal/task/handlers"
	"github.com/opengate/opengate/internal/task/repository/sqlite"
	taskservice "github.com/opengate/opengate/internal/task/service"
	"github.com/opengate/opengate/internal/trigger"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	logger.SetDefault(log)

	log.Info("Starting OpenGate...")

	// 3. Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. Initialize tracing (no-op unless an OTLP endpoint is configured)
	if err := tracing.Init(ctx, cfg.Tracing.OTLPEndpoint); err != nil {
		log.Warn("Tracing disabled", zap.Error(err))
	}

	// ============================================
	// STORAGE
	// ============================================
	pool, err := openPool(cfg, log)
	if err != nil {
		log.Fatal("Failed to open database", zap.Error(err))
	}

	taskRepo, err := sqlite.New(pool)
	if err != nil {
		log.Fatal("Failed to initialize task store", zap.Error(err))
	}
	eventStore, err := eventstore.New(pool)
	if err != nil {
		log.Fatal("Failed to initialize event log", zap.Error(err))
	}
	agentStore, err := agentstore.New(pool)
	if err != nil {
		log.Fatal("Failed to initialize agent store", zap.Error(err))
	}
	notifStore, err := notifications.NewStore(pool)
	if err != nil {
		log.Fatal("Failed to initialize notification store", zap.Error(err))
	}
	triggerStore, err := trigger.NewStore(pool)
	if err != nil {
		log.Fatal("Failed to initialize trigger store", zap.Error(err))
	}

	// ============================================
	// EVENT FAN-OUT
	// ============================================
	broadcaster := bus.NewBroadcaster(cfg.Events.Buffer)

	mirror, err := bus.NewMirror(cfg.Events.NATSURL, cfg.Events.NATSSubjectPrefix, log)
	if err != nil {
		log.Fatal("Failed to connect to NATS", zap.Error(err))
	}

	deliverer := notifications.NewDeliverer(notifStore, notifications.DelivererConfig{
		Workers:     cfg.Webhooks.Workers,
		Timeout:     cfg.Webhooks.Timeout(),
		MaxAttempts: cfg.Webhooks.MaxAttempts,
		QueueSize:   cfg.Webhooks.QueueSize,
	}, log)

	dispatcher := dispatch.New(eventStore, notifStore, agentStore, broadcaster, mirror, deliverer, log)

	var mtr *metrics.Metrics
	if cfg.Metrics.Enabled {
		mtr, err = metrics.New()
		if err != nil {
			log.Fatal("Failed to initialize metrics", zap.Error(err))
		}
		dispatcher.SetMetrics(mtr)
		deliverer.SetMetrics(mtr)
	}

	// ============================================
	// SERVICES
	// ============================================
	taskSvc := taskservice.NewService(taskRepo, agentStore, dispatcher, eventStore, log)
	agentSvc := agentservice.NewService(agentStore, taskRepo, pool, dispatcher, cfg.Server.SetupToken, log)
	triggerSvc := trigger.NewService(triggerStore, taskSvc, log)
	composer := inbox.NewComposer(taskRepo, notifStore)

	if cfg.Seed.Path != "" {
		if err := seed.New(taskRepo, agentStore, log).Apply(ctx, cfg.Seed.Path); err != nil {
			log.Fatal("Failed to apply seed file", zap.Error(err), zap.String("path", cfg.Seed.Path))
		}
	}
	if cfg.Server.SetupToken == "" {
		log.Warn("No setup token configured, agent registration is disabled")
	}

	// ============================================
	// HTTP API + WEBSOCKET GATEWAY
	// ============================================
	resolver := agenthandlers.NewResolver(agentSvc)

	gateway := websocket.New(broadcaster, resolver, log)
	if mtr != nil {
		gateway.SetMetrics(mtr)
	}

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(httpmw.RequestLogger(log, "opengate"))
	if cfg.Tracing.OTLPEndpoint != "" {
		router.Use(httpmw.OtelTracing("opengate"))
	}
	if mtr != nil {
		router.Use(httpmw.Metrics(mtr))
	}

	taskH := taskhandlers.NewHandlers(taskSvc, triggerSvc, log)
	agentH := agenthandlers.NewHandlers(agentSvc, taskSvc, composer, notifStore, log)

	api := router.Group("/api")
	api.Use(httpmw.Identity(resolver))
	taskhandlers.RegisterRoutes(api, taskH)
	agenthandlers.RegisterRoutes(api, agentH)

	taskhandlers.RegisterPublicRoutes(router, taskH)

	router.GET("/ws", gateway.Handle)
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "opengate"})
	})
	if mtr != nil {
		router.GET("/metrics", gin.WrapH(mtr.Handler()))
	}

	// ============================================
	// BACKGROUND WORK
	// ============================================
	deliverer.Start(ctx)

	runner := loops.New(taskSvc, loops.Config{
		Interval:  cfg.Loops.ReaperInterval(),
		ReapGrace: cfg.Loops.ReaperGrace(),
	}, log)
	if err := runner.Start(ctx); err != nil {
		log.Fatal("Failed to start background loops", zap.Error(err))
	}

	// Optional embedded MCP server for editor and agent integrations.
	var mcpCleanup func() error
	if mcpPort := os.Getenv("OPENGATE_MCP_PORT"); mcpPort != "" {
		mcpCfg := mcpserver.DefaultConfig()
		if p, err := strconv.Atoi(mcpPort); err == nil {
			mcpCfg.Port = p
		}
		mcpCfg.ServerURL = fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
		_, mcpCleanup, err = mcpserver.Provide(ctx, mcpCfg, log)
		if err != nil {
			log.Fatal("Failed to start MCP server", zap.Error(err))
		}
	}

	// ============================================
	// HTTP SERVER
	// ============================================
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	go func() {
		log.Info("OpenGate listening",
			zap.String("addr", server.Addr),
			zap.String("http", "/api"),
			zap.String("websocket", "/ws"),
			zap.String("health", "/health"))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// ============================================
	// GRACEFUL SHUTDOWN
	// ============================================
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down OpenGate...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeoutDuration())
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
	runner.Stop()
	deliverer.Stop()
	if mcpCleanup != nil {
		_ = mcpCleanup()
	}
	broadcaster.Close()
	mirror.Close()

	// Flush the WAL so a cold restart reads a compact store.
	if err := pool.Checkpoint(shutdownCtx); err != nil {
		log.Warn("WAL checkpoint failed", zap.Error(err))
	}
	if err := pool.Close(); err != nil {
		log.Error("Database close error", zap.Error(err))
	}
	if err := tracing.Shutdown(shutdownCtx); err != nil {
		log.Warn("Tracer shutdown error", zap.Error(err))
	}

	log.Info("OpenGate stopped")
}

// openPool opens the configured database engine. SQLite splits writer and
// reader connections; Postgres shares one pgx pool for both.
func openPool(cfg *config.Config, log *logger.Logger) (*db.Pool, error) {
	if cfg.Database.Driver == "postgres" {
		pg, err := db.OpenPostgres(cfg.Database.DSN, 0, 0)
		if err != nil {
			return nil, err
		}
		pgx := sqlx.NewDb(pg, "pgx")
		log.Info("Connected to Postgres")
		return db.NewPool(pgx, pgx), nil
	}

	busyTimeout := time.Duration(cfg.Database.BusyTimeoutMS) * time.Millisecond
	pool, err := db.OpenSQLitePool(cfg.Database.Path, busyTimeout)
	if err != nil {
		return nil, err
	}
	log.Info("SQLite database initialized", zap.String("db_path", cfg.Database.Path))
	return pool, nil
}

// corsMiddleware allows browser dashboards to call the API and open the
// WebSocket from any origin. Access control is the bearer token, not CORS.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, Upgrade, Connection, Sec-WebSocket-Key, Sec-WebSocket-Version, Sec-WebSocket-Protocol")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
