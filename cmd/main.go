package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"

	"infra-rag-platform/internal/bootstrap"
	"infra-rag-platform/internal/config"
	"infra-rag-platform/internal/logger"
	"infra-rag-platform/internal/telemetry"
	"infra-rag-platform/middleware"
	"infra-rag-platform/routes"
	"infra-rag-platform/services"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.InitLogger(cfg)
	ctx := context.Background()

	if cfg.OTelEnabled {
		shutdown, err := telemetry.InitTracer(ctx, cfg.ServiceName, cfg.OTelEndpoint, cfg.OTelSampleRatio)
		if err != nil {
			log.Warn("tracing disabled", "error", err)
		} else {
			defer shutdown()
		}
	}

	app, err := bootstrap.New(ctx, cfg, log, bootstrap.Options{Redis: true})
	if err != nil {
		log.Error("failed to initialize services", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	// An in-memory index lives in this process only, so uploads are never handed to a worker.
	var queueClient *asynq.Client
	if app.Redis != nil && cfg.StoreBackend != "memory" {
		redisOpt, err := config.RedisOptions(cfg)
		if err == nil {
			queueClient = asynq.NewClient(asynq.RedisClientOpt{
				Addr:      redisOpt.Addr,
				Password:  redisOpt.Password,
				DB:        redisOpt.DB,
				TLSConfig: redisOpt.TLSConfig,
			})
			defer queueClient.Close()
		}
	}

	scheduler := services.NewRoleScheduler(app.Roles, log)
	if err := scheduler.Start(cfg.RoleSweepInterval); err != nil {
		log.Warn("role sweep not scheduled", "error", err)
	}
	defer scheduler.Stop()

	if cfg.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(middleware.RequestIDMiddleware())
	router.Use(gin.Recovery())
	router.Use(middleware.CORSMiddlewareWithOrigins(cfg.CORSOrigins))
	router.Use(middleware.TracingMiddleware(cfg.ServiceName))
	router.Use(middleware.EnrichTrace())
	router.Use(middleware.MetricsMiddleware(app.Metrics))
	router.Use(middleware.AuditMiddleware(log))
	router.Use(middleware.TenantMiddleware())
	router.Use(middleware.RequestSizeLimit(cfg.MaxFileSize))
	router.Use(middleware.RateLimitMiddleware(app.Redis, cfg.RateLimitReqs, time.Duration(cfg.RateLimitWindow)*time.Second, log))

	deps := routes.RAGDeps{
		Converter: app.Converter,
		Ingester:  app.Pipeline,
		Answerer:  app.Synthesizer,
		Store:     app.Store,
		Objects:   app.Objects,
		Cache:     app.Cache,
		Logger:    log,
	}
	if queueClient != nil {
		deps.Queue = queueClient
	}
	routes.SetupRAGRoutes(router, cfg, deps)
	routes.SetupRoleRoutes(router, app.Roles, app.Router)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("server starting", "port", cfg.Port, "store", cfg.StoreBackend, "queue", queueClient != nil)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", "error", err)
	}

	log.Info("server exited")
}
