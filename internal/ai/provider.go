package ai

import (
	"context"
	"fmt"
	"log/slog"

	"infra-rag-platform/internal/config"
	"infra-rag-platform/internal/telemetry"
)

// Generator is the language model contract shared by the Gemini and Anthropic clients.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	GenerateWithImage(ctx context.Context, prompt string, image []byte, mimeType string) (string, error)
}

// NewGenerator picks the generator named by GENERATOR_PROVIDER. The returned close func is never nil.
func NewGenerator(ctx context.Context, cfg *config.Config, metrics *telemetry.Metrics, logger *slog.Logger) (Generator, func() error, error) {
	switch cfg.GeneratorProvider {
	case "anthropic":
		logger.Info("using anthropic generator", "model", cfg.AnthropicModel)
		return NewAnthropicClient(cfg, metrics, logger), func() error { return nil }, nil
	case "gemini", "":
		gc, err := NewGeminiClient(ctx, cfg, metrics, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("init gemini client: %w", err)
		}
		logger.Info("using gemini generator", "model", cfg.GeminiModel)
		return gc, gc.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown generator provider: %s", cfg.GeneratorProvider)
	}
}
