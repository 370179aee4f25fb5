package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"infra-rag-platform/internal/database"
	"infra-rag-platform/models"
)

func newRoleService(t *testing.T) (*RoleService, *database.MemoryStore, *hashEmbedder) {
	t.Helper()
	store := database.NewMemoryStore("")
	emb := &hashEmbedder{}
	return NewRoleService(store, store, emb, "test-embedding", discardLogger()), store, emb
}

func networkEngineer() RoleInput {
	return RoleInput{
		Name:             "Network Engineer",
		Department:       "Infrastructure",
		Responsibilities: "Maintain routers, switches and firewall rules for the data centre.",
		Priority:         3,
	}
}

func TestCreateRole(t *testing.T) {
	svc, store, _ := newRoleService(t)
	ctx := context.Background()

	role, err := svc.CreateRole(ctx, networkEngineer())
	require.NoError(t, err)
	assert.NotEmpty(t, role.ID)
	assert.True(t, role.IsActive)
	require.NotNil(t, role.Vector)
	assert.Equal(t, role.Responsibilities, role.Vector.SourceText)
	assert.Equal(t, "test-embedding", role.Vector.Model)
	assert.Len(t, role.Vector.Embedding, testDims)

	stored, err := store.GetRole(ctx, role.ID)
	require.NoError(t, err)
	assert.Equal(t, "Network Engineer", stored.Name)

	in := networkEngineer()
	in.Priority = 0
	role, err = svc.CreateRole(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, 1, role.Priority, "zero priority defaults to 1")
}

func TestCreateRoleValidation(t *testing.T) {
	svc, store, emb := newRoleService(t)
	ctx := context.Background()

	cases := map[string]func(*RoleInput){
		"blank name":             func(in *RoleInput) { in.Name = "   " },
		"short responsibilities": func(in *RoleInput) { in.Responsibilities = "Routers." },
		"priority too high":      func(in *RoleInput) { in.Priority = 11 },
		"priority negative":      func(in *RoleInput) { in.Priority = -2 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := networkEngineer()
			mutate(&in)
			_, err := svc.CreateRole(ctx, in)
			assert.ErrorIs(t, err, models.ErrInvalidInput)
		})
	}

	roles, err := store.ListRoles(ctx, models.RoleFilter{})
	require.NoError(t, err)
	assert.Empty(t, roles)
	assert.Zero(t, emb.calls, "invalid roles are rejected before embedding")
}

func TestCreateRoleEmbeddingFailure(t *testing.T) {
	svc, store, emb := newRoleService(t)
	emb.fail = true

	_, err := svc.CreateRole(context.Background(), networkEngineer())
	assert.ErrorIs(t, err, errModelDown)

	roles, err := store.ListRoles(context.Background(), models.RoleFilter{})
	require.NoError(t, err)
	assert.Empty(t, roles, "a role without a vector is never stored")
}

func TestUpdateRoleReembedsResponsibilities(t *testing.T) {
	svc, _, _ := newRoleService(t)
	ctx := context.Background()

	role, err := svc.CreateRole(ctx, networkEngineer())
	require.NoError(t, err)
	before := role.Vector.Embedding

	text := "Operate the storage arrays and the backup schedule for every site."
	updated, err := svc.UpdateRole(ctx, role.ID, RolePatch{Responsibilities: &text})
	require.NoError(t, err)
	assert.Equal(t, text, updated.Responsibilities)
	assert.Equal(t, text, updated.Vector.SourceText)
	assert.NotEqual(t, before, updated.Vector.Embedding)
}

func TestUpdateRoleIsAtomic(t *testing.T) {
	svc, store, emb := newRoleService(t)
	ctx := context.Background()

	role, err := svc.CreateRole(ctx, networkEngineer())
	require.NoError(t, err)

	emb.fail = true
	text := "Operate the storage arrays and the backup schedule for every site."
	name := "Storage Engineer"
	_, err = svc.UpdateRole(ctx, role.ID, RolePatch{Name: &name, Responsibilities: &text})
	require.ErrorIs(t, err, errModelDown)

	stored, err := store.GetRole(ctx, role.ID)
	require.NoError(t, err)
	assert.Equal(t, "Network Engineer", stored.Name)
	assert.Equal(t, role.Responsibilities, stored.Responsibilities)
	assert.Equal(t, role.Responsibilities, stored.Vector.SourceText)
	assert.Equal(t, role.Vector.Embedding, stored.Vector.Embedding)

	priority := 7
	updated, err := svc.UpdateRole(ctx, role.ID, RolePatch{Priority: &priority})
	require.NoError(t, err, "changes that keep the responsibilities need no embedding")
	assert.Equal(t, 7, updated.Priority)

	bad := 0
	_, err = svc.UpdateRole(ctx, role.ID, RolePatch{Priority: &bad})
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	_, err = svc.UpdateRole(ctx, "missing", RolePatch{Priority: &priority})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestDeactivateRoleAndStats(t *testing.T) {
	svc, _, _ := newRoleService(t)
	ctx := context.Background()

	ne, err := svc.CreateRole(ctx, networkEngineer())
	require.NoError(t, err)
	_, err = svc.CreateRole(ctx, RoleInput{
		Name:             "Facilities Coordinator",
		Department:       "Facilities",
		Responsibilities: "Schedule building maintenance and office moves.",
	})
	require.NoError(t, err)

	require.NoError(t, svc.DeactivateRole(ctx, ne.ID))
	got, err := svc.GetRole(ctx, ne.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)

	active, err := svc.ListRoles(ctx, models.RoleFilter{ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "Facilities Coordinator", active[0].Name)

	stats, err := svc.RoleStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Active)
	assert.Equal(t, 1, stats.Inactive)
	assert.Equal(t, 2, stats.Vectorized)
	assert.Equal(t, []string{"Facilities", "Infrastructure"}, stats.Departments)
}

func TestVectorizeMissing(t *testing.T) {
	svc, store, _ := newRoleService(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.InsertRole(ctx, &models.Role{
		ID:               "imported",
		Name:             "Imported Role",
		Responsibilities: "Imported without a vector from the old system.",
		Priority:         1,
		IsActive:         true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}))
	_, err := svc.CreateRole(ctx, networkEngineer())
	require.NoError(t, err)

	n, err := svc.VectorizeMissing(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	imported, err := store.GetRole(ctx, "imported")
	require.NoError(t, err)
	require.NotNil(t, imported.Vector)
	assert.Equal(t, "test-embedding", imported.Vector.Model)

	n, err = svc.VectorizeMissing(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = svc.VectorizeAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestAssignmentQueries(t *testing.T) {
	svc, store, _ := newRoleService(t)
	ctx := context.Background()

	role, err := svc.CreateRole(ctx, networkEngineer())
	require.NoError(t, err)
	base := time.Now().UTC()
	for i, name := range []string{"uplinks.pdf", "firewall.md", "uplink-audit.xlsx"} {
		require.NoError(t, store.InsertAssignment(ctx, &models.Assignment{
			ID:           name,
			RoleID:       role.ID,
			RoleName:     role.Name,
			DocumentID:   "doc-" + name,
			DocumentName: name,
			Similarity:   0.8,
			AssignedAt:   base.Add(time.Duration(i) * time.Minute),
		}))
	}

	docs, err := svc.RoleDocuments(ctx, role.ID, 2, 0)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "uplink-audit.xlsx", docs[0].DocumentName, "newest first")

	_, err = svc.RoleDocuments(ctx, "missing", 0, 0)
	assert.ErrorIs(t, err, models.ErrNotFound)

	found, err := svc.SearchAssignments(ctx, "UPLINK", 0)
	require.NoError(t, err)
	assert.Len(t, found, 2)

	_, err = svc.SearchAssignments(ctx, " ", 0)
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	byDoc, err := svc.DocumentAssignments(ctx, "doc-firewall.md")
	require.NoError(t, err)
	assert.Len(t, byDoc, 1)

	recent, err := svc.RecentAssignments(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, recent, 3)

	stats, err := svc.AssignmentStats(ctx)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, 3, stats[0].Documents)
}

// hookEmbedder runs onEmbed once, before the first embedding returns.
type hookEmbedder struct {
	hashEmbedder
	once    sync.Once
	onEmbed func()
}

func (e *hookEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.once.Do(func() {
		if e.onEmbed != nil {
			e.onEmbed()
		}
	})
	return e.hashEmbedder.Embed(ctx, text)
}

func (e *hookEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func TestVectorizeMissingKeepsConcurrentChanges(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()

	cases := map[string]func(t *testing.T, admin *RoleService){
		"deactivated": func(t *testing.T, admin *RoleService) {
			require.NoError(t, admin.DeactivateRole(ctx, "imported"))
		},
		"renamed": func(t *testing.T, admin *RoleService) {
			name := "Renamed Role"
			_, err := admin.UpdateRole(ctx, "imported", RolePatch{Name: &name})
			require.NoError(t, err)
		},
	}
	for name, change := range cases {
		t.Run(name, func(t *testing.T) {
			store := database.NewMemoryStore("")
			require.NoError(t, store.InsertRole(ctx, &models.Role{
				ID:               "imported",
				Name:             "Imported Role",
				Responsibilities: "Imported without a vector from the old system.",
				Priority:         1,
				IsActive:         true,
				CreatedAt:        now,
				UpdatedAt:        now,
			}))
			admin := NewRoleService(store, store, &hashEmbedder{}, "test-embedding", discardLogger())

			emb := &hookEmbedder{}
			emb.onEmbed = func() { change(t, admin) }
			sweeper := NewRoleService(store, store, emb, "test-embedding", discardLogger())

			n, err := sweeper.VectorizeMissing(ctx)
			require.NoError(t, err)
			assert.Zero(t, n, "a role changed mid-sweep is skipped")

			stored, err := store.GetRole(ctx, "imported")
			require.NoError(t, err)
			assert.NotEqual(t, now, stored.UpdatedAt, "the concurrent write survives")
			if name == "deactivated" {
				assert.False(t, stored.IsActive)
			} else {
				assert.Equal(t, "Renamed Role", stored.Name)
			}
		})
	}
}
