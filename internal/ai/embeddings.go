package ai

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"

	"github.com/google/generative-ai-go/genai"

	"infra-rag-platform/internal/config"
	"infra-rag-platform/internal/telemetry"
	"infra-rag-platform/internal/vector"
)

// Gemini accepts at most 100 contents per batch request.
const maxEmbedBatch = 100

// GeminiEmbedder turns text into normalized vectors with a Google embedding model.
type GeminiEmbedder struct {
	client      *genai.Client
	model       *genai.EmbeddingModel
	modelName   string
	dimensions  int
	breaker     *gobreaker.CircuitBreaker
	rateLimiter *rate.Limiter
}

func NewGeminiEmbedder(ctx context.Context, cfg *config.Config, metrics *telemetry.Metrics, logger *slog.Logger) (*GeminiEmbedder, error) {
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("missing GEMINI_API_KEY for embeddings")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.GeminiAPIKey))
	if err != nil {
		return nil, err
	}

	return &GeminiEmbedder{
		client:      client,
		model:       client.EmbeddingModel(cfg.GoogleEmbeddingsModel),
		modelName:   cfg.GoogleEmbeddingsModel,
		dimensions:  cfg.VectorDimensions,
		breaker:     newBreaker("GeminiEmbeddings", metrics, logger),
		rateLimiter: rate.NewLimiter(rate.Limit(25), 50),
	}, nil
}

// Embed returns the embedding of text. Blank text maps to a zero vector.
func (e *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in order. Blank entries map to zero vectors without an API call.
func (e *GeminiEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, span := otel.Tracer("gemini-client").Start(ctx, "gemini.embed_batch")
	defer span.End()
	span.SetAttributes(attribute.Int("embed.inputs", len(texts)), attribute.String("embed.model", e.modelName))

	out := make([][]float32, len(texts))
	var pending []int
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			out[i] = make([]float32, e.dimensions)
			continue
		}
		pending = append(pending, i)
	}

	for start := 0; start < len(pending); start += maxEmbedBatch {
		end := min(start+maxEmbedBatch, len(pending))
		idx := pending[start:end]

		if err := e.rateLimiter.Wait(ctx); err != nil {
			return nil, err
		}

		result, err := e.breaker.Execute(func() (interface{}, error) {
			batch := e.model.NewBatch()
			for _, i := range idx {
				batch.AddContent(genai.Text(texts[i]))
			}
			return e.model.BatchEmbedContents(ctx, batch)
		})
		if err != nil {
			span.SetAttributes(attribute.Bool("embed.error", true))
			return nil, fmt.Errorf("embed batch: %w", err)
		}

		resp := result.(*genai.BatchEmbedContentsResponse)
		if len(resp.Embeddings) != len(idx) {
			return nil, fmt.Errorf("embed batch: expected %d embeddings, got %d", len(idx), len(resp.Embeddings))
		}
		for j, emb := range resp.Embeddings {
			if emb == nil {
				return nil, fmt.Errorf("no embedding returned for input %d", idx[j])
			}
			out[idx[j]] = vector.Normalize(emb.Values)
		}
	}

	return out, nil
}

func (e *GeminiEmbedder) Dimensions() int { return e.dimensions }

func (e *GeminiEmbedder) ModelName() string { return e.modelName }

func (e *GeminiEmbedder) Close() error {
	if e.client != nil {
		return e.client.Close()
	}
	return nil
}
