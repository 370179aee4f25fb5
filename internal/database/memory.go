package database

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"infra-rag-platform/internal/vector"
	"infra-rag-platform/models"
)

type storedObject struct {
	data        []byte
	contentType string
}

// MemoryStore keeps the whole index in process. Reads return copies, so callers never
// alias stored slices.
type MemoryStore struct {
	mu          sync.RWMutex
	parents     map[string]models.ParentUnit
	children    map[string]models.ChildFragment
	childOrder  []string
	documents   map[string]models.DocumentRecord
	objects     map[string]storedObject
	roles       map[string]models.Role
	assignments []models.Assignment
	baseURL     string
}

// NewMemoryStore creates an empty store. baseURL prefixes object references; when empty
// references use the memory:// scheme.
func NewMemoryStore(baseURL string) *MemoryStore {
	return &MemoryStore{
		parents:   make(map[string]models.ParentUnit),
		children:  make(map[string]models.ChildFragment),
		documents: make(map[string]models.DocumentRecord),
		objects:   make(map[string]storedObject),
		roles:     make(map[string]models.Role),
		baseURL:   strings.TrimRight(baseURL, "/"),
	}
}

func (m *MemoryStore) InsertParent(_ context.Context, parent *models.ParentUnit) error {
	if parent.ID == "" {
		return fmt.Errorf("%w: parent id is required", models.ErrInvalidInput)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.parents[parent.ID] = *parent
	return nil
}

func (m *MemoryStore) GetParent(_ context.Context, id string) (*models.ParentUnit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.parents[id]
	if !ok {
		return nil, fmt.Errorf("parent %s: %w", id, models.ErrNotFound)
	}
	return &p, nil
}

// InsertChildren stores all fragments or none.
func (m *MemoryStore) InsertChildren(_ context.Context, children []models.ChildFragment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range children {
		if _, ok := m.parents[c.ParentID]; !ok {
			return fmt.Errorf("parent %s of fragment %s: %w", c.ParentID, c.ID, models.ErrNotFound)
		}
	}
	for _, c := range children {
		c.Embedding = vector.Clone(c.Embedding)
		if _, exists := m.children[c.ID]; !exists {
			m.childOrder = append(m.childOrder, c.ID)
		}
		m.children[c.ID] = c
	}
	return nil
}

func (m *MemoryStore) SearchChildren(_ context.Context, query []float32, limit int, threshold float64, filter models.SearchFilter) ([]models.ChildMatch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matches []models.ChildMatch
	for _, id := range m.childOrder {
		c := m.children[id]
		if !fragmentMatches(c.Metadata.UnitMetadata, filter) {
			continue
		}
		sim, err := vector.Cosine(query, c.Embedding)
		if err != nil || sim < threshold {
			continue
		}
		c.Embedding = vector.Clone(c.Embedding)
		matches = append(matches, models.ChildMatch{Fragment: c, Similarity: sim})
	}
	return rankChildren(matches, limit), nil
}

func (m *MemoryStore) IndexStats(_ context.Context) (*models.IndexStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := &models.IndexStats{
		ParentUnits:    int64(len(m.parents)),
		ChildFragments: int64(len(m.children)),
		ByKind:         map[models.ContentKind]int64{},
		Documents:      int64(len(m.documents)),
	}
	for _, p := range m.parents {
		stats.ByKind[p.Kind]++
	}
	return stats, nil
}

func (m *MemoryStore) DeleteDocument(_ context.Context, documentID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order := m.childOrder[:0]
	for _, id := range m.childOrder {
		if m.children[id].Metadata.DocumentID == documentID {
			delete(m.children, id)
			continue
		}
		order = append(order, id)
	}
	m.childOrder = order

	var removed int64
	for id, p := range m.parents {
		if p.Metadata.DocumentID == documentID {
			delete(m.parents, id)
			removed++
		}
	}
	return removed, nil
}

// Purge drops every parent, fragment and document record. Roles, assignments and objects stay.
func (m *MemoryStore) Purge(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.children = make(map[string]models.ChildFragment)
	m.childOrder = nil
	m.parents = make(map[string]models.ParentUnit)
	m.documents = make(map[string]models.DocumentRecord)
	return nil
}

func (m *MemoryStore) SaveDocumentRecord(_ context.Context, rec *models.DocumentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.documents[rec.ID] = *rec
	return nil
}

func (m *MemoryStore) GetDocumentRecord(_ context.Context, id string) (*models.DocumentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.documents[id]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", id, models.ErrNotFound)
	}
	return &rec, nil
}

func (m *MemoryStore) Upload(_ context.Context, path string, data []byte, contentType string) (string, error) {
	path = strings.TrimLeft(path, "/")
	if path == "" {
		return "", fmt.Errorf("%w: object path is required", models.ErrInvalidInput)
	}
	buf := make([]byte, len(data))
	copy(buf, data)

	m.mu.Lock()
	m.objects[path] = storedObject{data: buf, contentType: contentType}
	m.mu.Unlock()

	if m.baseURL == "" {
		return memoryScheme + path, nil
	}
	return objectURL(m.baseURL, path), nil
}

func (m *MemoryStore) Fetch(_ context.Context, ref string) ([]byte, string, error) {
	path := ObjectPath(ref)
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[path]
	if !ok {
		return nil, "", fmt.Errorf("object %s: %w", path, models.ErrNotFound)
	}
	buf := make([]byte, len(obj.data))
	copy(buf, obj.data)
	return buf, obj.contentType, nil
}

func (m *MemoryStore) InsertRole(_ context.Context, role *models.Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.roles[role.ID]; exists {
		return fmt.Errorf("%w: role %s already exists", models.ErrInvalidInput, role.ID)
	}
	m.roles[role.ID] = cloneRole(*role)
	return nil
}

func (m *MemoryStore) GetRole(_ context.Context, id string) (*models.Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.roles[id]
	if !ok {
		return nil, fmt.Errorf("role %s: %w", id, models.ErrNotFound)
	}
	r = cloneRole(r)
	return &r, nil
}

func (m *MemoryStore) ListRoles(_ context.Context, filter models.RoleFilter) ([]models.Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Role, 0, len(m.roles))
	for _, r := range m.roles {
		if filter.ActiveOnly && !r.IsActive {
			continue
		}
		if filter.Department != "" && r.Department != filter.Department {
			continue
		}
		if filter.TenantID != "" && !roleVisible(&r, filter.TenantID) {
			continue
		}
		out = append(out, cloneRole(r))
	}
	sortRoles(out)
	return out, nil
}

// ReplaceRole swaps the stored role, vector included, in one assignment.
func (m *MemoryStore) ReplaceRole(_ context.Context, role *models.Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[role.ID]; !ok {
		return fmt.Errorf("role %s: %w", role.ID, models.ErrNotFound)
	}
	m.roles[role.ID] = cloneRole(*role)
	return nil
}

func (m *MemoryStore) SetRoleVector(_ context.Context, seen *models.Role, vec *models.RoleVector) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.roles[seen.ID]
	if !ok {
		return fmt.Errorf("role %s: %w", seen.ID, models.ErrNotFound)
	}
	if !r.IsActive || !r.UpdatedAt.Equal(seen.UpdatedAt) || r.Responsibilities != seen.Responsibilities {
		return fmt.Errorf("role %s: %w", seen.ID, models.ErrConflict)
	}
	v := *vec
	v.Embedding = vector.Clone(vec.Embedding)
	r.Vector = &v
	m.roles[seen.ID] = r
	return nil
}

func (m *MemoryStore) SearchRoles(_ context.Context, query []float32, limit int, threshold float64, tenantID string) ([]models.RoleMatch, error) {
	m.mu.RLock()
	roles := make([]models.Role, 0, len(m.roles))
	for _, r := range m.roles {
		roles = append(roles, r)
	}
	m.mu.RUnlock()
	sortRoles(roles)
	return scoreRoles(roles, query, limit, threshold, tenantID), nil
}

func (m *MemoryStore) FallbackRole(ctx context.Context, tenantID string) (*models.Role, error) {
	roles, err := m.ListRoles(ctx, models.RoleFilter{ActiveOnly: true})
	if err != nil {
		return nil, err
	}
	if r := pickFallback(roles, tenantID); r != nil {
		return r, nil
	}
	return nil, fmt.Errorf("fallback role: %w", models.ErrNotFound)
}

func (m *MemoryStore) InsertAssignment(_ context.Context, a *models.Assignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assignments = append(m.assignments, *a)
	return nil
}

// ListAssignments returns matching assignments, newest first.
func (m *MemoryStore) ListAssignments(_ context.Context, filter models.AssignmentFilter) ([]models.Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	term := strings.ToLower(filter.Search)
	var out []models.Assignment
	for i := len(m.assignments) - 1; i >= 0; i-- {
		a := m.assignments[i]
		if filter.RoleID != "" && a.RoleID != filter.RoleID {
			continue
		}
		if filter.DocumentID != "" && a.DocumentID != filter.DocumentID {
			continue
		}
		if term != "" && !strings.Contains(strings.ToLower(a.DocumentName), term) && !strings.Contains(strings.ToLower(a.Summary), term) {
			continue
		}
		out = append(out, a)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].AssignedAt.After(out[j].AssignedAt) })
	return paginate(out, filter.Offset, filter.Limit), nil
}

func (m *MemoryStore) AssignmentStats(_ context.Context) ([]models.RoleAssignmentStat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byRole := map[string]*models.RoleAssignmentStat{}
	var order []string
	for _, a := range m.assignments {
		st, ok := byRole[a.RoleID]
		if !ok {
			st = &models.RoleAssignmentStat{RoleID: a.RoleID, RoleName: a.RoleName}
			byRole[a.RoleID] = st
			order = append(order, a.RoleID)
		}
		st.AvgSimilarity = (st.AvgSimilarity*float64(st.Documents) + a.Similarity) / float64(st.Documents+1)
		st.Documents++
		if a.AssignedAt.After(st.LastAssigned) {
			st.LastAssigned = a.AssignedAt
		}
	}

	out := make([]models.RoleAssignmentStat, 0, len(order))
	for _, id := range order {
		out = append(out, *byRole[id])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Documents > out[j].Documents })
	return out, nil
}

func fragmentMatches(meta models.UnitMetadata, filter models.SearchFilter) bool {
	if filter.TenantID != "" && meta.TenantID != filter.TenantID {
		return false
	}
	if len(filter.Kinds) == 0 {
		return true
	}
	for _, k := range filter.Kinds {
		if meta.Kind == k {
			return true
		}
	}
	return false
}

// rankChildren orders matches by similarity then fragment ID and applies limit.
func rankChildren(matches []models.ChildMatch, limit int) []models.ChildMatch {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].Fragment.ID < matches[j].Fragment.ID
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}

func sortRoles(roles []models.Role) {
	sort.SliceStable(roles, func(i, j int) bool {
		if roles[i].Priority != roles[j].Priority {
			return roles[i].Priority > roles[j].Priority
		}
		return roles[i].Name < roles[j].Name
	})
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return []T{}
	}
	if offset > 0 {
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
