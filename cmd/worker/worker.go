package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/hibiken/asynq"

	"infra-rag-platform/internal/bootstrap"
	"infra-rag-platform/internal/config"
	"infra-rag-platform/internal/logger"
	"infra-rag-platform/internal/queue"
	"infra-rag-platform/internal/telemetry"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	log := logger.InitLogger(cfg).With("component", "worker")
	ctx := context.Background()

	if cfg.StoreBackend == "memory" {
		log.Error("the worker needs a shared store, STORE_BACKEND=memory is not supported")
		os.Exit(1)
	}

	if cfg.OTelEnabled {
		shutdown, err := telemetry.InitTracer(ctx, cfg.ServiceName+"-worker", cfg.OTelEndpoint, cfg.OTelSampleRatio)
		if err != nil {
			log.Warn("tracing disabled", "error", err)
		} else {
			defer shutdown()
		}
	}

	// Redis is needed here too so that ingestion invalidates the API's answer cache.
	app, err := bootstrap.New(ctx, cfg, log, bootstrap.Options{Redis: true})
	if err != nil {
		log.Error("failed to initialize services", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	redisOpt, err := config.RedisOptions(cfg)
	if err != nil {
		log.Error("invalid redis configuration", "error", err)
		os.Exit(1)
	}

	server := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:      redisOpt.Addr,
			Password:  redisOpt.Password,
			DB:        redisOpt.DB,
			TLSConfig: redisOpt.TLSConfig,
		},
		asynq.Config{
			Concurrency: 20,
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
			},
			StrictPriority: true,
			Logger:         newAsynqLogger(log),
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retried, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				log.Error("task failed", "type", task.Type(), "retry", retried, "max_retry", maxRetry, "error", err)
			}),
		},
	)

	processor := queue.NewTaskProcessor(app.Converter, app.Pipeline, app.Roles, app.Store, log)
	mux := asynq.NewServeMux()
	processor.Register(mux)

	log.Info("starting asynq worker",
		"concurrency", 20,
		"queues", "critical(6), default(3), low(1)",
		"redis", redisOpt.Addr)

	if err := server.Run(mux); err != nil {
		log.Error("worker stopped", "error", err)
		os.Exit(1)
	}
}
