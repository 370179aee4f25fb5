package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"infra-rag-platform/models"
)

// DefaultRetrievalThreshold is the minimum child similarity considered a candidate.
const DefaultRetrievalThreshold = 0.3

// candidateOversample compensates for parent deduplication shrinking the candidate set.
const candidateOversample = 2

// SearchOptions controls one retrieval call.
type SearchOptions struct {
	TopK     int
	Kinds    []models.ContentKind
	TenantID string
}

// HybridRetriever searches child fragments and returns their deduplicated parents.
type HybridRetriever struct {
	embedder  Embedder
	store     DocumentStore
	threshold float64
	logger    *slog.Logger
}

func NewHybridRetriever(embedder Embedder, store DocumentStore, threshold float64, logger *slog.Logger) *HybridRetriever {
	return &HybridRetriever{embedder: embedder, store: store, threshold: threshold, logger: logger}
}

// Search returns at most opts.TopK results, distinct by parent, best first.
// Equal similarities are ordered by document ID, sequence index and parent ID.
func (r *HybridRetriever) Search(ctx context.Context, query string, opts SearchOptions) ([]models.RetrievalResult, error) {
	ctx, span := otel.Tracer("retriever").Start(ctx, "retriever.search")
	defer span.End()

	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: empty query", models.ErrInvalidInput)
	}
	for _, k := range opts.Kinds {
		if !k.Valid() {
			return nil, fmt.Errorf("%w: unknown content kind %q", models.ErrInvalidInput, k)
		}
	}
	if opts.TopK <= 0 {
		opts.TopK = 5
	}

	queryVec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	candidates, err := r.store.SearchChildren(ctx, queryVec, opts.TopK*candidateOversample, r.threshold, models.SearchFilter{
		Kinds:    opts.Kinds,
		TenantID: opts.TenantID,
	})
	if err != nil {
		return nil, fmt.Errorf("search children: %w", err)
	}
	span.SetAttributes(attribute.Int("retriever.candidates", len(candidates)))

	best := make(map[string]int, len(candidates))
	results := make([]models.RetrievalResult, 0, len(candidates))
	parents := make(map[string]*models.ParentUnit, len(candidates))

	for _, c := range candidates {
		parentID := c.Fragment.ParentID
		if i, seen := best[parentID]; seen {
			if c.Similarity > results[i].Similarity {
				results[i].Similarity = c.Similarity
				results[i].FragmentID = c.Fragment.ID
				results[i].FragmentText = c.Fragment.Text
			}
			continue
		}

		parent, ok := parents[parentID]
		if !ok {
			parent, err = r.store.GetParent(ctx, parentID)
			if err != nil {
				if errors.Is(err, models.ErrNotFound) {
					r.logger.Warn("dropping fragment with missing parent", "fragment_id", c.Fragment.ID, "parent_id", parentID)
				} else {
					r.logger.Error("failed to load parent", "parent_id", parentID, "error", err)
				}
				parents[parentID] = nil
				continue
			}
			parents[parentID] = parent
		}
		if parent == nil {
			continue
		}

		best[parentID] = len(results)
		results = append(results, models.RetrievalResult{
			Parent:       *parent,
			FragmentID:   c.Fragment.ID,
			FragmentText: c.Fragment.Text,
			Similarity:   c.Similarity,
		})
	}

	sortResults(results)
	if len(results) > opts.TopK {
		results = results[:opts.TopK]
	}
	span.SetAttributes(attribute.Int("retriever.results", len(results)))
	return results, nil
}

// SearchTables restricts the search to table parents.
func (r *HybridRetriever) SearchTables(ctx context.Context, query string, topK int, tenantID string) ([]models.RetrievalResult, error) {
	return r.searchKind(ctx, query, models.KindTable, topK, tenantID)
}

// SearchImages restricts the search to image parents.
func (r *HybridRetriever) SearchImages(ctx context.Context, query string, topK int, tenantID string) ([]models.RetrievalResult, error) {
	return r.searchKind(ctx, query, models.KindImage, topK, tenantID)
}

// SearchText restricts the search to text parents.
func (r *HybridRetriever) SearchText(ctx context.Context, query string, topK int, tenantID string) ([]models.RetrievalResult, error) {
	return r.searchKind(ctx, query, models.KindText, topK, tenantID)
}

func (r *HybridRetriever) searchKind(ctx context.Context, query string, kind models.ContentKind, topK int, tenantID string) ([]models.RetrievalResult, error) {
	return r.Search(ctx, query, SearchOptions{TopK: topK, Kinds: []models.ContentKind{kind}, TenantID: tenantID})
}

func sortResults(results []models.RetrievalResult) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Similarity != b.Similarity {
			return a.Similarity > b.Similarity
		}
		if a.Parent.Metadata.DocumentID != b.Parent.Metadata.DocumentID {
			return a.Parent.Metadata.DocumentID < b.Parent.Metadata.DocumentID
		}
		if a.Parent.Metadata.SequenceIndex != b.Parent.Metadata.SequenceIndex {
			return a.Parent.Metadata.SequenceIndex < b.Parent.Metadata.SequenceIndex
		}
		return a.Parent.ID < b.Parent.ID
	})
}
