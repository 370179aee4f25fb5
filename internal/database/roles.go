package database

import (
	"sort"
	"strings"

	"infra-rag-platform/internal/vector"
	"infra-rag-platform/models"
)

// managerRoleName is matched when no role carries the fallback flag.
const managerRoleName = "manager"

// roleVisible reports whether a role applies to a tenant. Roles without a tenant are global.
func roleVisible(r *models.Role, tenantID string) bool {
	return r.TenantID == "" || tenantID == "" || r.TenantID == tenantID
}

// scoreRoles ranks active, vectorized roles by cosine similarity to query.
func scoreRoles(roles []models.Role, query []float32, limit int, threshold float64, tenantID string) []models.RoleMatch {
	var matches []models.RoleMatch
	for i := range roles {
		r := &roles[i]
		if !r.IsActive || r.Vector == nil || !roleVisible(r, tenantID) {
			continue
		}
		sim, err := vector.Cosine(query, r.Vector.Embedding)
		if err != nil || sim < threshold {
			continue
		}
		matches = append(matches, models.RoleMatch{
			RoleID:     r.ID,
			RoleName:   r.Name,
			Department: r.Department,
			Priority:   r.Priority,
			Similarity: sim,
		})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		if matches[i].Priority != matches[j].Priority {
			return matches[i].Priority > matches[j].Priority
		}
		return matches[i].RoleName < matches[j].RoleName
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}

// pickFallback prefers roles flagged as fallback, then roles named like a manager.
// Ties go to the higher priority, then the tenant's own role over a global one.
func pickFallback(roles []models.Role, tenantID string) *models.Role {
	var flagged, named []models.Role
	for _, r := range roles {
		if !r.IsActive || !roleVisible(&r, tenantID) {
			continue
		}
		switch {
		case r.IsFallback:
			flagged = append(flagged, r)
		case strings.Contains(strings.ToLower(r.Name), managerRoleName):
			named = append(named, r)
		}
	}
	pool := flagged
	if len(pool) == 0 {
		pool = named
	}
	if len(pool) == 0 {
		return nil
	}
	sort.SliceStable(pool, func(i, j int) bool {
		if pool[i].Priority != pool[j].Priority {
			return pool[i].Priority > pool[j].Priority
		}
		if (pool[i].TenantID != "") != (pool[j].TenantID != "") {
			return pool[i].TenantID != ""
		}
		return pool[i].Name < pool[j].Name
	})
	chosen := pool[0]
	return &chosen
}

func cloneRole(r models.Role) models.Role {
	if r.Vector != nil {
		v := *r.Vector
		v.Embedding = vector.Clone(v.Embedding)
		r.Vector = &v
	}
	return r
}
