package services

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"infra-rag-platform/models"
)

type memoryCache struct {
	mu          sync.Mutex
	entries     map[string]models.QueryResponse
	invalidated int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: map[string]models.QueryResponse{}}
}

func (c *memoryCache) Get(_ context.Context, req models.QueryRequest) (*models.QueryResponse, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	resp, ok := c.entries[req.Question]
	if !ok {
		return nil, false
	}
	return &resp, true
}

func (c *memoryCache) Set(_ context.Context, req models.QueryRequest, resp *models.QueryResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[req.Question] = *resp
}

func (c *memoryCache) Invalidate(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = map[string]models.QueryResponse{}
	c.invalidated++
	return nil
}

func seedSynthesisIndex(t *testing.T, f *retrievalFixture) {
	t.Helper()
	ctx := context.Background()
	uploaded := time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC)

	units := []struct {
		id   string
		kind models.ContentKind
		meta models.UnitMetadata
		emb  []float32
	}{
		{"ops", models.KindText, models.UnitMetadata{Source: "ops.pdf", DocumentID: "doc-1", Page: 2, SectionPath: "Ops > Patching", UploadedAt: uploaded}, unitVec(0.9, 1)},
		{"ports", models.KindTable, models.UnitMetadata{Source: "ops.pdf", DocumentID: "doc-1", SequenceIndex: 1, SectionPath: "Ops > Ports"}, unitVec(0.8, 1)},
	}
	for _, u := range units {
		u.meta.Kind = u.kind
		require.NoError(t, f.store.InsertParent(ctx, &models.ParentUnit{ID: u.id, Content: "body of " + u.id, Kind: u.kind, Metadata: u.meta}))
		require.NoError(t, f.store.InsertChildren(ctx, []models.ChildFragment{{
			ID:        u.id + "-0",
			ParentID:  u.id,
			Text:      u.id,
			Embedding: u.emb,
			Metadata:  models.FragmentMetadata{UnitMetadata: u.meta},
		}}))
	}
}

func TestAnswerWithCitations(t *testing.T) {
	f := newRetrievalFixture(t)
	seedSynthesisIndex(t, f)
	gen := &scriptedGenerator{fn: func(string) (string, error) { return "Patch monthly [Source 1]. Port 443 is open [Source 2].", nil }}
	cs := NewCitationSynthesizer(f.retriever, gen, nil, 5, nil, discardLogger())

	resp, err := cs.Answer(context.Background(), models.QueryRequest{Question: "query"})
	require.NoError(t, err)

	assert.Equal(t, "Patch monthly [Source 1]. Port 443 is open [Source 2].", resp.Answer)
	assert.Equal(t, 2, resp.RetrievedFragmentCount)
	require.Len(t, resp.Sources, 2)
	assert.Equal(t, 1, resp.Sources[0].Rank)
	assert.Equal(t, "ops.pdf", resp.Sources[0].DocumentName)
	assert.Equal(t, 2, resp.Sources[0].Page)
	assert.Equal(t, "Ops > Patching", resp.Sources[0].SectionPath)
	assert.Equal(t, models.KindText, resp.Sources[0].ContentKind)
	assert.Equal(t, 2, resp.Sources[1].Rank)
	assert.Equal(t, models.KindTable, resp.Sources[1].ContentKind)
	assert.False(t, resp.Cached)

	prompt := gen.lastPrompt()
	assert.Contains(t, prompt, "[Source 1] (Document: ops.pdf, Page: 2, Section: Ops > Patching, Date: 2024-05-02)\nbody of ops")
	assert.Contains(t, prompt, "[Source 2] (Document: ops.pdf, Section: Ops > Ports)\nbody of ports")
	assert.Contains(t, prompt, "Source 1: 'ops.pdf' (Page 2) Section: Ops > Patching [text]")
	assert.Contains(t, prompt, "Source 2: 'ops.pdf' Section: Ops > Ports [table]")
	assert.True(t, strings.HasSuffix(prompt, "Question: query\n\nAnswer:"))
}

func TestAnswerWithoutResults(t *testing.T) {
	f := newRetrievalFixture(t)
	gen := &scriptedGenerator{}
	cs := NewCitationSynthesizer(f.retriever, gen, nil, 5, nil, discardLogger())

	resp, err := cs.Answer(context.Background(), models.QueryRequest{Question: "query"})
	require.NoError(t, err)
	assert.Equal(t, NoResultsAnswer, resp.Answer)
	assert.NotNil(t, resp.Sources)
	assert.Empty(t, resp.Sources)
	assert.Zero(t, gen.promptCount(), "the generator is not called without context")
}

func TestAnswerKeepsSourcesWhenGenerationFails(t *testing.T) {
	f := newRetrievalFixture(t)
	seedSynthesisIndex(t, f)
	cache := newMemoryCache()
	cs := NewCitationSynthesizer(f.retriever, failingGenerator(), cache, 5, nil, discardLogger())

	resp, err := cs.Answer(context.Background(), models.QueryRequest{Question: "query"})
	require.NoError(t, err)
	assert.Equal(t, "Error generating response: model unavailable", resp.Answer)
	assert.Len(t, resp.Sources, 2)
	assert.Empty(t, cache.entries, "failed answers are not cached")
}

func TestAnswerKindFilters(t *testing.T) {
	f := newRetrievalFixture(t)
	seedSynthesisIndex(t, f)
	cs := NewCitationSynthesizer(f.retriever, &scriptedGenerator{}, nil, 5, nil, discardLogger())
	no := false

	resp, err := cs.Answer(context.Background(), models.QueryRequest{Question: "query", IncludeTables: &no})
	require.NoError(t, err)
	require.Len(t, resp.Sources, 1)
	assert.Equal(t, models.KindText, resp.Sources[0].ContentKind)

	resp, err = cs.Answer(context.Background(), models.QueryRequest{Question: "query", TopK: 1})
	require.NoError(t, err)
	assert.Len(t, resp.Sources, 1)
}

func TestKindsFor(t *testing.T) {
	yes, no := true, false

	assert.Nil(t, kindsFor(models.QueryRequest{}))
	assert.Nil(t, kindsFor(models.QueryRequest{IncludeTables: &yes, IncludeImages: &yes}))
	assert.Equal(t, []models.ContentKind{models.KindText, models.KindImage}, kindsFor(models.QueryRequest{IncludeTables: &no}))
	assert.Equal(t, []models.ContentKind{models.KindText, models.KindTable}, kindsFor(models.QueryRequest{IncludeImages: &no}))
	assert.Equal(t, []models.ContentKind{models.KindText}, kindsFor(models.QueryRequest{IncludeTables: &no, IncludeImages: &no}))
}

func TestAnswerUsesCache(t *testing.T) {
	f := newRetrievalFixture(t)
	seedSynthesisIndex(t, f)
	cache := newMemoryCache()
	gen := &scriptedGenerator{fn: func(string) (string, error) { return "Patch monthly [Source 1].", nil }}
	cs := NewCitationSynthesizer(f.retriever, gen, cache, 5, nil, discardLogger())
	ctx := context.Background()

	first, err := cs.Answer(ctx, models.QueryRequest{Question: "query"})
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := cs.Answer(ctx, models.QueryRequest{Question: "query"})
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Answer, second.Answer)
	assert.Len(t, second.Sources, 2)
	assert.Equal(t, 1, gen.promptCount())
}

func TestAnswerRejectsBlankQuestion(t *testing.T) {
	f := newRetrievalFixture(t)
	cs := NewCitationSynthesizer(f.retriever, &scriptedGenerator{}, nil, 0, nil, discardLogger())

	_, err := cs.Answer(context.Background(), models.QueryRequest{Question: "  "})
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}
