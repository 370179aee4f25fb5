package models

import "time"

// Confidence tiers for routing matches.
const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"
)

// Assignment kinds recorded in AssignmentMetadata.
const (
	AssignmentPrimary   = "primary"
	AssignmentSecondary = "secondary"
)

// Role is an organizational responsibility definition.
type Role struct {
	ID               string      `json:"id" bson:"_id"`
	Name             string      `json:"role_name" bson:"role_name" validate:"required,min=1,max=255"`
	Department       string      `json:"department,omitempty" bson:"department,omitempty" validate:"max=255"`
	Responsibilities string      `json:"responsibilities" bson:"responsibilities" validate:"required,min=20"`
	Priority         int         `json:"priority" bson:"priority" validate:"min=1,max=10"`
	IsActive         bool        `json:"is_active" bson:"is_active"`
	IsFallback       bool        `json:"is_fallback" bson:"is_fallback"`
	TenantID         string      `json:"tenant_id,omitempty" bson:"tenant_id,omitempty"`
	Vector           *RoleVector `json:"vector,omitempty" bson:"vector,omitempty"`
	CreatedAt        time.Time   `json:"created_at" bson:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at" bson:"updated_at"`
}

// RoleVector is the single live embedding of a role's responsibilities.
type RoleVector struct {
	Embedding  []float32 `json:"-" bson:"embedding"`
	SourceText string    `json:"source_text" bson:"source_text"`
	Model      string    `json:"model,omitempty" bson:"model,omitempty"`
	UpdatedAt  time.Time `json:"updated_at" bson:"updated_at"`
}

// RoleFilter narrows ListRoles.
type RoleFilter struct {
	ActiveOnly bool
	Department string
	TenantID   string
}

// RoleStats aggregates the role table.
type RoleStats struct {
	Total       int      `json:"total"`
	Active      int      `json:"active"`
	Inactive    int      `json:"inactive"`
	Vectorized  int      `json:"vectorized"`
	Departments []string `json:"departments"`
	Roles       []Role   `json:"roles"`
}

// RoleMatch is one ranked routing candidate.
type RoleMatch struct {
	RoleID     string  `json:"role_id"`
	RoleName   string  `json:"role_name"`
	Department string  `json:"department,omitempty"`
	Priority   int     `json:"priority"`
	Similarity float64 `json:"similarity"`
	Confidence string  `json:"confidence"`
}

// RoutingResult is the outcome of routing one document summary.
type RoutingResult struct {
	Matches      []RoleMatch `json:"matches"`
	BestMatch    *RoleMatch  `json:"best_match"`
	FallbackUsed bool        `json:"fallback_used"`
}

// AssignmentMetadata records how an assignment was decided.
type AssignmentMetadata struct {
	Assignment   string            `json:"assignment" bson:"assignment"`
	FallbackUsed bool              `json:"fallback_used" bson:"fallback_used"`
	Extra        map[string]string `json:"extra,omitempty" bson:"extra,omitempty"`
}

// Assignment records that a document was routed to a role. Append-only.
type Assignment struct {
	ID           string             `json:"id" bson:"_id"`
	RoleID       string             `json:"role_id" bson:"role_id"`
	RoleName     string             `json:"role_name" bson:"role_name"`
	DocumentID   string             `json:"document_id" bson:"document_id"`
	DocumentName string             `json:"document_name" bson:"document_name"`
	Summary      string             `json:"summary" bson:"summary"`
	Similarity   float64            `json:"similarity" bson:"similarity"`
	Confidence   string             `json:"confidence" bson:"confidence"`
	Page         int                `json:"page,omitempty" bson:"page,omitempty"`
	TotalPages   int                `json:"total_pages,omitempty" bson:"total_pages,omitempty"`
	TenantID     string             `json:"tenant_id,omitempty" bson:"tenant_id,omitempty"`
	Metadata     AssignmentMetadata `json:"metadata" bson:"metadata"`
	AssignedAt   time.Time          `json:"assigned_at" bson:"assigned_at"`
}

// AssignmentFilter narrows ListAssignments. Search matches document name or summary, case-insensitive.
type AssignmentFilter struct {
	RoleID     string
	DocumentID string
	Search     string
	Limit      int
	Offset     int
}

// RoleAssignmentStat counts assignments for one role.
type RoleAssignmentStat struct {
	RoleID        string    `json:"role_id" bson:"_id"`
	RoleName      string    `json:"role_name" bson:"role_name"`
	Documents     int       `json:"documents" bson:"documents"`
	AvgSimilarity float64   `json:"avg_similarity" bson:"avg_similarity"`
	LastAssigned  time.Time `json:"last_assigned" bson:"last_assigned"`
}
