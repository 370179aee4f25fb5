package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"infra-rag-platform/internal/telemetry"
	"infra-rag-platform/models"
)

// NoResultsAnswer is returned without calling the generator when retrieval finds nothing.
const NoResultsAnswer = "I couldn't find any relevant information to answer your question."

// QueryCache stores synthesized answers. Invalidate drops every cached answer.
type QueryCache interface {
	Get(ctx context.Context, req models.QueryRequest) (*models.QueryResponse, bool)
	Set(ctx context.Context, req models.QueryRequest, resp *models.QueryResponse)
	Invalidate(ctx context.Context) error
}

// CitationSynthesizer answers questions from retrieved parents with [Source N] citations.
type CitationSynthesizer struct {
	retriever   *HybridRetriever
	generator   Generator
	cache       QueryCache
	defaultTopK int
	metrics     *telemetry.Metrics
	logger      *slog.Logger
}

// NewCitationSynthesizer builds a synthesizer. cache may be nil.
func NewCitationSynthesizer(retriever *HybridRetriever, generator Generator, cache QueryCache, defaultTopK int, metrics *telemetry.Metrics, logger *slog.Logger) *CitationSynthesizer {
	if defaultTopK <= 0 {
		defaultTopK = 5
	}
	return &CitationSynthesizer{
		retriever:   retriever,
		generator:   generator,
		cache:       cache,
		defaultTopK: defaultTopK,
		metrics:     metrics,
		logger:      logger,
	}
}

// Answer retrieves context for req.Question and generates a cited answer.
// Generator failures are reported in the answer text; the sources are kept.
func (cs *CitationSynthesizer) Answer(ctx context.Context, req models.QueryRequest) (*models.QueryResponse, error) {
	start := time.Now()
	if strings.TrimSpace(req.Question) == "" {
		return nil, fmt.Errorf("%w: question is required", models.ErrInvalidInput)
	}
	if req.TopK <= 0 {
		req.TopK = cs.defaultTopK
	}

	if cs.cache != nil {
		if cached, ok := cs.cache.Get(ctx, req); ok {
			cached.Cached = true
			cached.ProcessingTimeMS = time.Since(start).Milliseconds()
			cs.metrics.RecordQuery(time.Since(start).Seconds(), true, cached.RetrievedFragmentCount)
			return cached, nil
		}
	}

	results, err := cs.retriever.Search(ctx, req.Question, SearchOptions{
		TopK:     req.TopK,
		Kinds:    kindsFor(req),
		TenantID: req.TenantID,
	})
	if err != nil {
		return nil, err
	}

	resp := &models.QueryResponse{Sources: []models.Source{}}
	if len(results) == 0 {
		resp.Answer = NoResultsAnswer
		resp.ProcessingTimeMS = time.Since(start).Milliseconds()
		cs.metrics.RecordQuery(time.Since(start).Seconds(), false, 0)
		return resp, nil
	}

	resp.Sources = buildSources(results)
	resp.RetrievedFragmentCount = len(results)

	answer, genErr := cs.generator.Generate(ctx, buildAnswerPrompt(req.Question, results))
	if genErr != nil {
		cs.logger.Error("answer generation failed", "error", genErr, "sources", len(results))
		resp.Answer = fmt.Sprintf("Error generating response: %v", genErr)
	} else {
		resp.Answer = answer
		if cs.cache != nil {
			cs.cache.Set(ctx, req, resp)
		}
	}

	resp.ProcessingTimeMS = time.Since(start).Milliseconds()
	cs.metrics.RecordQuery(time.Since(start).Seconds(), false, len(results))
	return resp, nil
}

// kindsFor maps the include flags to a kind filter. Nil flags mean included.
func kindsFor(req models.QueryRequest) []models.ContentKind {
	tables := req.IncludeTables == nil || *req.IncludeTables
	images := req.IncludeImages == nil || *req.IncludeImages
	if tables && images {
		return nil
	}
	kinds := []models.ContentKind{models.KindText}
	if tables {
		kinds = append(kinds, models.KindTable)
	}
	if images {
		kinds = append(kinds, models.KindImage)
	}
	return kinds
}

func buildSources(results []models.RetrievalResult) []models.Source {
	sources := make([]models.Source, len(results))
	for i, r := range results {
		meta := r.Parent.Metadata
		sources[i] = models.Source{
			Rank:         i + 1,
			DocumentName: meta.Source,
			Page:         meta.Page,
			SectionPath:  meta.SectionPath,
			ContentKind:  r.Parent.Kind,
			Timestamp:    meta.UploadedAt,
			Similarity:   r.Similarity,
		}
	}
	return sources
}

func buildContextBlocks(results []models.RetrievalResult) string {
	blocks := make([]string, len(results))
	for i, r := range results {
		meta := r.Parent.Metadata
		header := []string{"Document: " + orUnknown(meta.Source)}
		if meta.Page > 0 {
			header = append(header, fmt.Sprintf("Page: %d", meta.Page))
		}
		if meta.SectionPath != "" {
			header = append(header, "Section: "+meta.SectionPath)
		}
		if !meta.UploadedAt.IsZero() {
			header = append(header, "Date: "+meta.UploadedAt.UTC().Format("2006-01-02"))
		}
		blocks[i] = fmt.Sprintf("[Source %d] (%s)\n%s", i+1, strings.Join(header, ", "), r.Parent.Content)
	}
	return strings.Join(blocks, "\n---\n")
}

func buildCitationGuide(results []models.RetrievalResult) string {
	lines := make([]string, len(results))
	for i, r := range results {
		meta := r.Parent.Metadata
		line := fmt.Sprintf("Source %d: '%s'", i+1, orUnknown(meta.Source))
		if meta.Page > 0 {
			line += fmt.Sprintf(" (Page %d)", meta.Page)
		}
		if meta.SectionPath != "" {
			line += " Section: " + meta.SectionPath
		}
		line += fmt.Sprintf(" [%s]", r.Parent.Kind)
		lines[i] = line
	}
	return strings.Join(lines, "\n")
}

func buildAnswerPrompt(question string, results []models.RetrievalResult) string {
	return fmt.Sprintf(`You answer questions about technical documentation using only the context below.

Context:
%s

Available sources:
%s

Rules:
1. Use only information found in the context. Do not add outside knowledge.
2. Mark every factual claim with its source, for example [Source 1].
3. When a claim is supported by several sources, join them: [Source 1, Source 3].
4. Keep exact figures, units, identifiers and names as written in the sources.
5. When sources disagree, say so and cite each side.
6. Tables and image descriptions are sources too; cite them the same way.
7. If the context does not contain enough information, say so explicitly and state what is missing.
8. Be concise and structure longer answers with short paragraphs or lists.

Question: %s

Answer:`, buildContextBlocks(results), buildCitationGuide(results), question)
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}
