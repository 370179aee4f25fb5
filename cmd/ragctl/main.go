// Command ragctl ingests documents, answers questions and manages roles from the terminal.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"infra-rag-platform/internal/bootstrap"
	"infra-rag-platform/internal/config"
	"infra-rag-platform/internal/logger"
	"infra-rag-platform/internal/queue"
	"infra-rag-platform/models"
	"infra-rag-platform/services"
)

// Answerer produces cited answers.
type Answerer interface {
	Answer(ctx context.Context, req models.QueryRequest) (*models.QueryResponse, error)
}

// Router ranks roles for a summary.
type Router interface {
	Route(ctx context.Context, req services.RouteRequest) (*models.RoutingResult, error)
}

// RoleAdmin manages roles and their vectors.
type RoleAdmin interface {
	CreateRole(ctx context.Context, in services.RoleInput) (*models.Role, error)
	ListRoles(ctx context.Context, filter models.RoleFilter) ([]models.Role, error)
	VectorizeAll(ctx context.Context) (int, error)
	VectorizeMissing(ctx context.Context) (int, error)
}

// Searcher lists retrieved passages without generating an answer.
type Searcher interface {
	Search(ctx context.Context, query string, opts services.SearchOptions) ([]models.RetrievalResult, error)
	SearchTables(ctx context.Context, query string, topK int, tenantID string) ([]models.RetrievalResult, error)
	SearchImages(ctx context.Context, query string, topK int, tenantID string) ([]models.RetrievalResult, error)
	SearchText(ctx context.Context, query string, topK int, tenantID string) ([]models.RetrievalResult, error)
}

// Purger drops the document index.
type Purger interface {
	Purge(ctx context.Context) error
}

// Services wired by the root command. Tests replace them before executing.
var (
	converter  queue.Converter
	ingester   queue.Ingester
	answerer   Answerer
	searcher   Searcher
	roleRouter Router
	roleAdmin  RoleAdmin
	purger     Purger
	queryCache services.QueryCache

	app      *bootstrap.App
	tenantID string
)

var rootCmd = &cobra.Command{
	Use:           "ragctl",
	Short:         "Operate the infrastructure document RAG engine",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if ingester != nil {
			return nil
		}
		return connect(cmd.Context())
	},
	PersistentPostRun: func(*cobra.Command, []string) {
		if app != nil {
			app.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&tenantID, "tenant", "", "tenant identifier applied to ingested documents, queries and roles")
}

// connect builds the services from the environment.
func connect(ctx context.Context) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	log := logger.InitLogger(cfg)

	a, err := bootstrap.New(ctx, cfg, log, bootstrap.Options{Redis: cfg.QueryCacheEnabled})
	if err != nil {
		return err
	}
	app = a
	converter = a.Converter
	ingester = a.Pipeline
	answerer = a.Synthesizer
	searcher = a.Retriever
	roleRouter = a.Router
	roleAdmin = a.Roles
	purger = a.Store
	queryCache = a.Cache
	return nil
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
