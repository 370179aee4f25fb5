// Package bootstrap assembles the storage backends, model clients and services
// shared by the API server, the queue worker and the operator CLI.
package bootstrap

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"infra-rag-platform/internal/ai"
	"infra-rag-platform/internal/config"
	"infra-rag-platform/internal/convert"
	"infra-rag-platform/internal/database"
	"infra-rag-platform/internal/telemetry"
	"infra-rag-platform/services"
)

// Store is everything the services persist.
type Store interface {
	services.DocumentStore
	services.RoleStore
	services.AssignmentStore
}

// ObjectStore stores and streams binary objects.
type ObjectStore interface {
	services.ObjectStore
	Open(ctx context.Context, path string) (io.ReadCloser, string, int64, error)
}

// Options toggles the optional Redis-backed parts.
type Options struct {
	Redis bool
}

// App is the wired service graph.
type App struct {
	Config  *config.Config
	Logger  *slog.Logger
	Metrics *telemetry.Metrics

	Store   Store
	Objects ObjectStore
	Redis   *redis.Client
	Cache   services.QueryCache

	Converter      *convert.Registry
	Embedder       services.Embedder
	EmbeddingModel string
	Generator      services.Generator
	Pipeline       *services.IngestionPipeline
	Retriever      *services.HybridRetriever
	Synthesizer    *services.CitationSynthesizer
	Router         *services.RoleRouter
	Roles          *services.RoleService

	closers []func()
}

// New connects the configured backends and builds every service.
// Redis is optional: when it is unreachable the app runs without cache, rate limit and queue.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (*App, error) {
	app := &App{Config: cfg, Logger: logger, Converter: convert.NewRegistry()}

	metrics, err := telemetry.InitMetrics()
	if err != nil {
		logger.Warn("metrics disabled", "error", err)
	}
	app.Metrics = metrics

	if err := app.openStore(ctx); err != nil {
		app.Close()
		return nil, err
	}

	if opts.Redis {
		rdb, err := config.NewRedisClient(cfg)
		if err != nil {
			logger.Warn("redis unavailable, continuing without cache and queue", "error", err)
		} else {
			app.Redis = rdb
			app.closers = append(app.closers, func() { rdb.Close() })
			if cfg.QueryCacheEnabled {
				app.Cache = services.NewRedisQueryCache(rdb, cfg.QueryCacheTTL, logger)
			}
		}
	}

	embedder, err := ai.NewGeminiEmbedder(ctx, cfg, metrics, logger)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("init embedder: %w", err)
	}
	app.closers = append(app.closers, func() { embedder.Close() })
	app.Embedder = embedder
	app.EmbeddingModel = embedder.ModelName()
	logger.Info("embedder ready", "model", app.EmbeddingModel, "dimensions", embedder.Dimensions())

	generator, closeGenerator, err := ai.NewGenerator(ctx, cfg, metrics, logger)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.closers = append(app.closers, func() { closeGenerator() })
	app.Generator = generator

	app.wire()
	return app, nil
}

func (a *App) openStore(ctx context.Context) error {
	cfg := a.Config
	switch cfg.StoreBackend {
	case "memory":
		mem := database.NewMemoryStore(cfg.PublicBaseURL)
		a.Store, a.Objects = mem, mem
		a.Logger.Info("using in-memory store")
		return nil
	default:
		client, err := config.ConnectMongoDB(cfg)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() { disconnect(client) })

		db := client.Database(cfg.DBName)
		objects, err := database.NewGridFSObjectStore(db, cfg.PublicBaseURL)
		if err != nil {
			return fmt.Errorf("init object store: %w", err)
		}
		store := database.NewMongoStore(db, cfg, a.Logger)
		if err := store.Migrate(ctx); err != nil {
			return err
		}
		a.Store = store
		a.Objects = objects
		a.Logger.Info("using mongo store", "database", cfg.DBName, "vector_search", cfg.VectorSearchEnabled)
		return nil
	}
}

// wire builds the services on top of the connected backends.
func (a *App) wire() {
	cfg := a.Config

	a.Router = services.NewRoleRouter(a.Embedder, a.Store, a.Store, services.AssignmentPolicy{
		MaxGap:             cfg.AssignMaxGap,
		MinSecondary:       cfg.AssignMinSecondary,
		FallbackSimilarity: cfg.FallbackSimilarity,
	}, cfg.RouteTopK, cfg.RouteThreshold, a.Metrics, a.Logger)

	a.Roles = services.NewRoleService(a.Store, a.Store, a.Embedder, a.EmbeddingModel, a.Logger)

	a.Pipeline = services.NewIngestionPipeline(services.PipelineDeps{
		Chunker: services.NewTextChunker(
			services.WithChunkSize(cfg.TextChunkSize),
			services.WithOverlap(cfg.TextChunkOverlap),
			services.WithMinChunkSize(cfg.MinChunkSize),
		),
		Summarizer: services.NewMultimodalSummarizer(a.Generator, a.Objects, a.Logger),
		Embedder:   a.Embedder,
		Store:      a.Store,
		Objects:    a.Objects,
		Router:     a.Router,
		Cache:      a.Cache,
		Workers:    cfg.IngestWorkers,
		Metrics:    a.Metrics,
		Logger:     a.Logger,
	})

	a.Retriever = services.NewHybridRetriever(a.Embedder, a.Store, cfg.RetrievalThreshold, a.Logger)
	a.Synthesizer = services.NewCitationSynthesizer(a.Retriever, a.Generator, a.Cache, cfg.DefaultTopK, a.Metrics, a.Logger)
}

// Close releases connections in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func disconnect(client *mongo.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client.Disconnect(ctx)
}
