package ai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"infra-rag-platform/internal/config"
	"infra-rag-platform/internal/telemetry"
)

// AnthropicClient is the Claude-backed alternative to GeminiClient.
type AnthropicClient struct {
	client      anthropic.Client
	model       string
	maxTokens   int64
	temperature float64
	breaker     *gobreaker.CircuitBreaker
	metrics     *telemetry.Metrics
}

func NewAnthropicClient(cfg *config.Config, metrics *telemetry.Metrics, logger *slog.Logger) *AnthropicClient {
	return &AnthropicClient{
		client:      anthropic.NewClient(anthropicoption.WithAPIKey(cfg.AnthropicAPIKey)),
		model:       cfg.AnthropicModel,
		maxTokens:   2048,
		temperature: cfg.SynthesisTemperature,
		breaker:     newBreaker("AnthropicAPI", metrics, logger),
		metrics:     metrics,
	}
}

func (ac *AnthropicClient) Generate(ctx context.Context, prompt string) (string, error) {
	return ac.send(ctx, anthropic.NewTextBlock(prompt))
}

func (ac *AnthropicClient) GenerateWithImage(ctx context.Context, prompt string, image []byte, mimeType string) (string, error) {
	if mimeType == "" {
		mimeType = "image/png"
	}
	encoded := base64.StdEncoding.EncodeToString(image)
	return ac.send(ctx, anthropic.NewImageBlockBase64(mimeType, encoded), anthropic.NewTextBlock(prompt))
}

func (ac *AnthropicClient) send(ctx context.Context, blocks ...anthropic.ContentBlockParamUnion) (string, error) {
	ctx, span := otel.Tracer("anthropic-client").Start(ctx, "anthropic.messages_new")
	defer span.End()
	span.SetAttributes(attribute.String("anthropic.model", ac.model))

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(ac.model),
		MaxTokens:   ac.maxTokens,
		Temperature: anthropic.Float(ac.temperature),
		Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(blocks...)},
	}

	result, err := ac.breaker.Execute(func() (interface{}, error) {
		return ac.client.Messages.New(ctx, params)
	})
	if err != nil {
		span.SetAttributes(attribute.Bool("anthropic.error", true))
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", ErrGeneratorUnavailable
		}
		return "", fmt.Errorf("anthropic generate: %w", err)
	}

	resp := result.(*anthropic.Message)
	ac.metrics.RecordTokensUsed(resp.Usage.InputTokens+resp.Usage.OutputTokens, ac.model)

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", ErrEmptyResponse
	}
	return strings.TrimSpace(sb.String()), nil
}
