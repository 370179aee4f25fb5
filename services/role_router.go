package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"infra-rag-platform/internal/telemetry"
	"infra-rag-platform/models"
)

const (
	DefaultRouteTopK      = 3
	DefaultRouteThreshold = 0.6

	highConfidence   = 0.8
	mediumConfidence = 0.65

	maxAssignees = 2
)

// AssignmentPolicy decides when a document goes to a second role.
type AssignmentPolicy struct {
	MaxGap             float64
	MinSecondary       float64
	FallbackSimilarity float64
}

// DefaultAssignmentPolicy returns the standard policy.
func DefaultAssignmentPolicy() AssignmentPolicy {
	return AssignmentPolicy{MaxGap: 0.1, MinSecondary: 0.5, FallbackSimilarity: 0.5}
}

// RouteRequest routes one summary. Zero TopK and a nil Threshold use the router defaults.
type RouteRequest struct {
	Summary   string
	TopK      int
	Threshold *float64
	TenantID  string
}

// DocumentRef identifies an ingested document for AutoRoute.
type DocumentRef struct {
	ID         string
	Name       string
	Summary    string
	Page       int
	TotalPages int
	TenantID   string
}

// RoleRouter matches document summaries against role responsibility vectors.
type RoleRouter struct {
	embedder         Embedder
	roles            RoleStore
	assignments      AssignmentStore
	policy           AssignmentPolicy
	defaultTopK      int
	defaultThreshold float64
	metrics          *telemetry.Metrics
	logger           *slog.Logger
}

func NewRoleRouter(embedder Embedder, roles RoleStore, assignments AssignmentStore, policy AssignmentPolicy, topK int, threshold float64, metrics *telemetry.Metrics, logger *slog.Logger) *RoleRouter {
	if topK <= 0 {
		topK = DefaultRouteTopK
	}
	if threshold <= 0 {
		threshold = DefaultRouteThreshold
	}
	return &RoleRouter{
		embedder:         embedder,
		roles:            roles,
		assignments:      assignments,
		policy:           policy,
		defaultTopK:      topK,
		defaultThreshold: threshold,
		metrics:          metrics,
		logger:           logger,
	}
}

// ConfidenceTier maps a similarity score to high, medium or low.
func ConfidenceTier(similarity float64) string {
	switch {
	case similarity >= highConfidence:
		return models.ConfidenceHigh
	case similarity >= mediumConfidence:
		return models.ConfidenceMedium
	default:
		return models.ConfidenceLow
	}
}

// Route ranks roles for a summary. When no role clears the threshold the
// fallback role is returned with a fixed similarity; without one BestMatch is nil.
func (rr *RoleRouter) Route(ctx context.Context, req RouteRequest) (*models.RoutingResult, error) {
	ctx, span := otel.Tracer("router").Start(ctx, "router.route")
	defer span.End()

	if strings.TrimSpace(req.Summary) == "" {
		return nil, fmt.Errorf("%w: summary is required", models.ErrInvalidInput)
	}
	topK := req.TopK
	if topK <= 0 {
		topK = rr.defaultTopK
	}
	threshold := rr.defaultThreshold
	if req.Threshold != nil {
		threshold = *req.Threshold
	}

	vec, err := rr.embedder.Embed(ctx, req.Summary)
	if err != nil {
		return nil, fmt.Errorf("embed summary: %w", err)
	}

	matches, err := rr.roles.SearchRoles(ctx, vec, topK, threshold, req.TenantID)
	if err != nil {
		return nil, fmt.Errorf("search roles: %w", err)
	}
	sortMatches(matches)
	for i := range matches {
		matches[i].Confidence = ConfidenceTier(matches[i].Similarity)
	}

	result := &models.RoutingResult{Matches: matches}
	if len(matches) > 0 {
		best := matches[0]
		result.BestMatch = &best
		span.SetAttributes(attribute.String("router.best_role", best.RoleName), attribute.Float64("router.best_similarity", best.Similarity))
		return result, nil
	}

	fallback, err := rr.roles.FallbackRole(ctx, req.TenantID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			rr.logger.Warn("no role matched and no fallback role is configured", "threshold", threshold)
			result.Matches = []models.RoleMatch{}
			return result, nil
		}
		return nil, fmt.Errorf("load fallback role: %w", err)
	}

	match := models.RoleMatch{
		RoleID:     fallback.ID,
		RoleName:   fallback.Name,
		Department: fallback.Department,
		Priority:   fallback.Priority,
		Similarity: rr.policy.FallbackSimilarity,
		Confidence: models.ConfidenceMedium,
	}
	result.Matches = []models.RoleMatch{match}
	result.BestMatch = &match
	result.FallbackUsed = true
	span.SetAttributes(attribute.Bool("router.fallback", true))
	return result, nil
}

// SelectAssignees applies the multi-assignment policy to ranked matches.
func SelectAssignees(matches []models.RoleMatch, policy AssignmentPolicy) []models.RoleMatch {
	if len(matches) == 0 {
		return nil
	}
	selected := []models.RoleMatch{matches[0]}
	if len(matches) > 1 {
		first, second := matches[0].Similarity, matches[1].Similarity
		if first-second < policy.MaxGap && second >= policy.MinSecondary {
			selected = append(selected, matches[1])
		}
	}
	if len(selected) > maxAssignees {
		selected = selected[:maxAssignees]
	}
	return selected
}

// AutoRoute routes a document and records one or two assignments.
func (rr *RoleRouter) AutoRoute(ctx context.Context, doc DocumentRef) ([]models.Assignment, error) {
	result, err := rr.Route(ctx, RouteRequest{Summary: doc.Summary, TenantID: doc.TenantID})
	if err != nil {
		return nil, err
	}
	if result.BestMatch == nil {
		rr.metrics.RecordRouting(false, 0)
		rr.logger.Warn("document left unrouted", "document_id", doc.ID)
		return nil, nil
	}

	candidates := result.Matches
	if result.FallbackUsed {
		candidates = []models.RoleMatch{*result.BestMatch}
	}

	now := time.Now().UTC()
	var out []models.Assignment
	for i, m := range SelectAssignees(candidates, rr.policy) {
		kind := models.AssignmentPrimary
		if i > 0 {
			kind = models.AssignmentSecondary
		}
		a := models.Assignment{
			ID:           uuid.NewString(),
			RoleID:       m.RoleID,
			RoleName:     m.RoleName,
			DocumentID:   doc.ID,
			DocumentName: doc.Name,
			Summary:      doc.Summary,
			Similarity:   m.Similarity,
			Confidence:   m.Confidence,
			Page:         doc.Page,
			TotalPages:   doc.TotalPages,
			TenantID:     doc.TenantID,
			Metadata: models.AssignmentMetadata{
				Assignment:   kind,
				FallbackUsed: result.FallbackUsed,
			},
			AssignedAt: now,
		}
		if err := rr.assignments.InsertAssignment(ctx, &a); err != nil {
			return out, fmt.Errorf("record assignment to %s: %w", m.RoleName, err)
		}
		rr.logger.Info("document assigned",
			"document_id", doc.ID,
			"role", m.RoleName,
			"assignment", kind,
			"similarity", m.Similarity,
			"confidence", m.Confidence,
			"fallback", result.FallbackUsed)
		out = append(out, a)
	}

	rr.metrics.RecordRouting(result.FallbackUsed, len(out))
	return out, nil
}

func sortMatches(matches []models.RoleMatch) {
	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.Similarity != b.Similarity {
			return a.Similarity > b.Similarity
		}
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return a.RoleName < b.RoleName
	})
}
