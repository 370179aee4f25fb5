package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"infra-rag-platform/models"
)

const defaultAssignmentLimit = 50

// RoleInput is the payload for creating a role.
type RoleInput struct {
	Name             string `json:"role_name" yaml:"role_name" binding:"required"`
	Department       string `json:"department" yaml:"department"`
	Responsibilities string `json:"responsibilities" yaml:"responsibilities" binding:"required"`
	Priority         int    `json:"priority" yaml:"priority"`
	IsFallback       bool   `json:"is_fallback" yaml:"is_fallback"`
	TenantID         string `json:"tenant_id,omitempty" yaml:"tenant_id"`
}

// RolePatch updates a role. Nil fields are left as they are.
type RolePatch struct {
	Name             *string `json:"role_name"`
	Department       *string `json:"department"`
	Responsibilities *string `json:"responsibilities"`
	Priority         *int    `json:"priority"`
	IsActive         *bool   `json:"is_active"`
	IsFallback       *bool   `json:"is_fallback"`
}

// RoleService manages roles and keeps each role's vector in step with its responsibilities.
type RoleService struct {
	roles       RoleStore
	assignments AssignmentStore
	embedder    Embedder
	model       string
	validate    *validator.Validate
	logger      *slog.Logger
}

func NewRoleService(roles RoleStore, assignments AssignmentStore, embedder Embedder, model string, logger *slog.Logger) *RoleService {
	return &RoleService{
		roles:       roles,
		assignments: assignments,
		embedder:    embedder,
		model:       model,
		validate:    validator.New(),
		logger:      logger,
	}
}

// CreateRole validates and embeds the role, then stores role and vector together.
func (s *RoleService) CreateRole(ctx context.Context, in RoleInput) (*models.Role, error) {
	now := time.Now().UTC()
	role := &models.Role{
		ID:               uuid.NewString(),
		Name:             strings.TrimSpace(in.Name),
		Department:       strings.TrimSpace(in.Department),
		Responsibilities: strings.TrimSpace(in.Responsibilities),
		Priority:         in.Priority,
		IsActive:         true,
		IsFallback:       in.IsFallback,
		TenantID:         in.TenantID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if role.Priority == 0 {
		role.Priority = 1
	}
	if err := s.validateRole(role); err != nil {
		return nil, err
	}

	vec, err := s.embedRole(ctx, role)
	if err != nil {
		return nil, err
	}
	role.Vector = vec

	if err := s.roles.InsertRole(ctx, role); err != nil {
		return nil, fmt.Errorf("insert role: %w", err)
	}
	s.logger.Info("role created", "role_id", role.ID, "role", role.Name, "fallback", role.IsFallback)
	return role, nil
}

// UpdateRole applies patch. Changed responsibilities are re-embedded before anything is written,
// so an embedding failure leaves the stored role untouched.
func (s *RoleService) UpdateRole(ctx context.Context, id string, patch RolePatch) (*models.Role, error) {
	role, err := s.roles.GetRole(ctx, id)
	if err != nil {
		return nil, err
	}

	reembed := false
	if patch.Name != nil {
		role.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Department != nil {
		role.Department = strings.TrimSpace(*patch.Department)
	}
	if patch.Responsibilities != nil {
		text := strings.TrimSpace(*patch.Responsibilities)
		if text != role.Responsibilities {
			role.Responsibilities = text
			reembed = true
		}
	}
	if patch.Priority != nil {
		role.Priority = *patch.Priority
	}
	if patch.IsActive != nil {
		role.IsActive = *patch.IsActive
	}
	if patch.IsFallback != nil {
		role.IsFallback = *patch.IsFallback
	}
	if err := s.validateRole(role); err != nil {
		return nil, err
	}

	if reembed || role.Vector == nil {
		vec, err := s.embedRole(ctx, role)
		if err != nil {
			return nil, err
		}
		role.Vector = vec
	}
	role.UpdatedAt = time.Now().UTC()

	if err := s.roles.ReplaceRole(ctx, role); err != nil {
		return nil, fmt.Errorf("replace role: %w", err)
	}
	s.logger.Info("role updated", "role_id", role.ID, "revectorized", reembed)
	return role, nil
}

// DeactivateRole soft-deletes a role. Its assignments are kept.
func (s *RoleService) DeactivateRole(ctx context.Context, id string) error {
	inactive := false
	_, err := s.UpdateRole(ctx, id, RolePatch{IsActive: &inactive})
	return err
}

func (s *RoleService) GetRole(ctx context.Context, id string) (*models.Role, error) {
	return s.roles.GetRole(ctx, id)
}

func (s *RoleService) ListRoles(ctx context.Context, filter models.RoleFilter) ([]models.Role, error) {
	return s.roles.ListRoles(ctx, filter)
}

func (s *RoleService) RoleStats(ctx context.Context) (*models.RoleStats, error) {
	roles, err := s.roles.ListRoles(ctx, models.RoleFilter{})
	if err != nil {
		return nil, err
	}
	stats := &models.RoleStats{Total: len(roles), Roles: roles, Departments: []string{}}
	seen := map[string]bool{}
	for _, r := range roles {
		if r.IsActive {
			stats.Active++
		} else {
			stats.Inactive++
		}
		if r.Vector != nil && len(r.Vector.Embedding) > 0 {
			stats.Vectorized++
		}
		if r.Department != "" && !seen[r.Department] {
			seen[r.Department] = true
			stats.Departments = append(stats.Departments, r.Department)
		}
	}
	sort.Strings(stats.Departments)
	return stats, nil
}

// VectorizeAll re-embeds every active role. Failures are logged and counted.
func (s *RoleService) VectorizeAll(ctx context.Context) (int, error) {
	return s.vectorize(ctx, func(models.Role) bool { return true })
}

// VectorizeMissing embeds active roles that have no vector yet.
func (s *RoleService) VectorizeMissing(ctx context.Context) (int, error) {
	return s.vectorize(ctx, func(r models.Role) bool {
		return r.Vector == nil || len(r.Vector.Embedding) == 0
	})
}

func (s *RoleService) vectorize(ctx context.Context, want func(models.Role) bool) (int, error) {
	roles, err := s.roles.ListRoles(ctx, models.RoleFilter{ActiveOnly: true})
	if err != nil {
		return 0, err
	}

	var (
		done int
		errs []error
	)
	for i := range roles {
		role := roles[i]
		if !want(role) {
			continue
		}
		vec, err := s.embedRole(ctx, &role)
		if err != nil {
			s.logger.Error("role vectorization failed", "role_id", role.ID, "error", err)
			errs = append(errs, err)
			continue
		}
		if err := s.roles.SetRoleVector(ctx, &role, vec); err != nil {
			if errors.Is(err, models.ErrConflict) || errors.Is(err, models.ErrNotFound) {
				s.logger.Info("role changed during vectorization, skipped", "role_id", role.ID)
				continue
			}
			errs = append(errs, err)
			continue
		}
		done++
	}
	if done > 0 {
		s.logger.Info("roles vectorized", "count", done)
	}
	return done, errors.Join(errs...)
}

// RoleDocuments lists the assignments of one role, newest first.
func (s *RoleService) RoleDocuments(ctx context.Context, roleID string, limit, offset int) ([]models.Assignment, error) {
	if _, err := s.roles.GetRole(ctx, roleID); err != nil {
		return nil, err
	}
	return s.assignments.ListAssignments(ctx, models.AssignmentFilter{RoleID: roleID, Limit: limitOrDefault(limit), Offset: offset})
}

func (s *RoleService) DocumentAssignments(ctx context.Context, documentID string) ([]models.Assignment, error) {
	return s.assignments.ListAssignments(ctx, models.AssignmentFilter{DocumentID: documentID})
}

func (s *RoleService) RecentAssignments(ctx context.Context, limit int) ([]models.Assignment, error) {
	return s.assignments.ListAssignments(ctx, models.AssignmentFilter{Limit: limitOrDefault(limit)})
}

func (s *RoleService) SearchAssignments(ctx context.Context, term string, limit int) ([]models.Assignment, error) {
	if strings.TrimSpace(term) == "" {
		return nil, fmt.Errorf("%w: search term is required", models.ErrInvalidInput)
	}
	return s.assignments.ListAssignments(ctx, models.AssignmentFilter{Search: strings.TrimSpace(term), Limit: limitOrDefault(limit)})
}

func (s *RoleService) AssignmentStats(ctx context.Context) ([]models.RoleAssignmentStat, error) {
	return s.assignments.AssignmentStats(ctx)
}

func (s *RoleService) embedRole(ctx context.Context, role *models.Role) (*models.RoleVector, error) {
	emb, err := s.embedder.Embed(ctx, role.Responsibilities)
	if err != nil {
		return nil, fmt.Errorf("embed responsibilities of %s: %w", role.Name, err)
	}
	return &models.RoleVector{
		Embedding:  emb,
		SourceText: role.Responsibilities,
		Model:      s.model,
		UpdatedAt:  time.Now().UTC(),
	}, nil
}

func (s *RoleService) validateRole(role *models.Role) error {
	if err := s.validate.Struct(role); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, len(verrs))
			for i, fe := range verrs {
				fields[i] = fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
			}
			return fmt.Errorf("%w: %s", models.ErrInvalidInput, strings.Join(fields, "; "))
		}
		return fmt.Errorf("%w: %v", models.ErrInvalidInput, err)
	}
	return nil
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return defaultAssignmentLimit
	}
	return limit
}
