package services

import (
	"context"

	"infra-rag-platform/models"
)

// Embedder maps text into the shared vector space. Blank text yields a zero vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Generator is the language model used for summaries, captions and answers.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	GenerateWithImage(ctx context.Context, prompt string, image []byte, mimeType string) (string, error)
}

// DocumentStore persists the parent and child tiers of the index.
type DocumentStore interface {
	InsertParent(ctx context.Context, parent *models.ParentUnit) error
	GetParent(ctx context.Context, id string) (*models.ParentUnit, error)
	// InsertChildren fails with models.ErrNotFound when a referenced parent does not exist.
	InsertChildren(ctx context.Context, children []models.ChildFragment) error
	SearchChildren(ctx context.Context, query []float32, limit int, threshold float64, filter models.SearchFilter) ([]models.ChildMatch, error)
	IndexStats(ctx context.Context) (*models.IndexStats, error)
	// DeleteDocument removes the fragments, then the parents, of one document and returns
	// the number of parents removed. The document record is kept.
	DeleteDocument(ctx context.Context, documentID string) (int64, error)
	Purge(ctx context.Context) error

	SaveDocumentRecord(ctx context.Context, rec *models.DocumentRecord) error
	GetDocumentRecord(ctx context.Context, id string) (*models.DocumentRecord, error)
}

// ObjectStore holds binary objects such as extracted images.
type ObjectStore interface {
	Upload(ctx context.Context, path string, data []byte, contentType string) (string, error)
	// Fetch accepts a reference returned by Upload.
	Fetch(ctx context.Context, ref string) ([]byte, string, error)
}

// RoleStore persists roles with their embedded vector. ReplaceRole is a single-record write.
type RoleStore interface {
	InsertRole(ctx context.Context, role *models.Role) error
	GetRole(ctx context.Context, id string) (*models.Role, error)
	ListRoles(ctx context.Context, filter models.RoleFilter) ([]models.Role, error)
	ReplaceRole(ctx context.Context, role *models.Role) error
	// SetRoleVector writes only the vector, and only while the role is active with the
	// UpdatedAt and Responsibilities of seen. Otherwise it returns models.ErrConflict.
	SetRoleVector(ctx context.Context, seen *models.Role, vec *models.RoleVector) error
	// SearchRoles scores active, vectorized roles and returns those at or above threshold, best first.
	SearchRoles(ctx context.Context, query []float32, limit int, threshold float64, tenantID string) ([]models.RoleMatch, error)
	FallbackRole(ctx context.Context, tenantID string) (*models.Role, error)
}

// AssignmentStore is the append-only log of document-to-role assignments.
type AssignmentStore interface {
	InsertAssignment(ctx context.Context, a *models.Assignment) error
	ListAssignments(ctx context.Context, filter models.AssignmentFilter) ([]models.Assignment, error)
	AssignmentStats(ctx context.Context) ([]models.RoleAssignmentStat, error)
}
