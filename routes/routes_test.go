package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"hash/fnv"
	"io"
	"log/slog"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"infra-rag-platform/internal/config"
	"infra-rag-platform/internal/convert"
	"infra-rag-platform/internal/database"
	"infra-rag-platform/middleware"
	"infra-rag-platform/models"
	"infra-rag-platform/services"
)

const testDims = 64

// wordEmbedder hashes words into a normalized bag-of-words vector.
type wordEmbedder struct{}

func (wordEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, testDims)
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		h := fnv.New32a()
		h.Write([]byte(w))
		vec[h.Sum32()%testDims]++
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v * v)
	}
	if norm > 0 {
		n := float32(math.Sqrt(norm))
		for i := range vec {
			vec[i] /= n
		}
	}
	return vec, nil
}

func (e wordEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i], _ = e.Embed(ctx, t)
	}
	return out, nil
}

type cannedGenerator struct{}

func (cannedGenerator) Generate(context.Context, string) (string, error) {
	return "Restart the gateway after patching [Source 1].", nil
}

func (cannedGenerator) GenerateWithImage(context.Context, string, []byte, string) (string, error) {
	return "diagram", nil
}

type recordingQueue struct {
	tasks []*asynq.Task
}

func (q *recordingQueue) Enqueue(task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	q.tasks = append(q.tasks, task)
	return &asynq.TaskInfo{ID: "task-1", Queue: "critical"}, nil
}

type testServer struct {
	engine *gin.Engine
	store  *database.MemoryStore
	queue  *recordingQueue
	cfg    *config.Config
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := &config.Config{
		AllowedExtensions:   []string{".md", ".txt", ".html", ".pdf", ".xlsx"},
		MaxFileSize:         1 << 20,
		SyncProcessingLimit: 1 << 16,
		FileStorageDir:      t.TempDir(),
		AdminAPIKey:         "admin-key",
	}

	store := database.NewMemoryStore("")
	embedder := wordEmbedder{}
	generator := cannedGenerator{}
	policy := services.DefaultAssignmentPolicy()
	router := services.NewRoleRouter(embedder, store, store, policy, services.DefaultRouteTopK, services.DefaultRouteThreshold, nil, logger)
	roles := services.NewRoleService(store, store, embedder, "test-embedder", logger)
	pipeline := services.NewIngestionPipeline(services.PipelineDeps{
		Summarizer: services.NewMultimodalSummarizer(generator, store, logger),
		Embedder:   embedder,
		Store:      store,
		Objects:    store,
		Router:     router,
		Logger:     logger,
	})
	retriever := services.NewHybridRetriever(embedder, store, 0.3, logger)
	synth := services.NewCitationSynthesizer(retriever, generator, nil, 5, nil, logger)
	q := &recordingQueue{}

	engine := gin.New()
	engine.Use(middleware.TenantMiddleware())
	SetupRAGRoutes(engine, cfg, RAGDeps{
		Converter: convert.NewRegistry(),
		Ingester:  pipeline,
		Answerer:  synth,
		Store:     store,
		Objects:   store,
		Queue:     q,
		Logger:    logger,
	})
	SetupRoleRoutes(engine, roles, router)

	return &testServer{engine: engine, store: store, queue: q, cfg: cfg}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func (s *testServer) json(method, path string, body any) *httptest.ResponseRecorder {
	var r io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	return s.do(req)
}

func uploadRequest(t *testing.T, path, filename, content string, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

const runbook = "# Gateway\n\nRestart the gateway service after patching the kernel.\n"

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	w := s.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}

func TestUploadSyncThenQuery(t *testing.T) {
	s := newTestServer(t)

	w := s.do(uploadRequest(t, "/api/documents", "runbook.md", runbook, nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode[struct {
		DocumentID string             `json:"document_id"`
		Stats      models.IngestStats `json:"stats"`
	}](t, w)
	require.NotEmpty(t, body.DocumentID)
	assert.Equal(t, 1, body.Stats.ParentUnitCount)
	assert.Equal(t, 1, body.Stats.TextSectionCount)

	w = s.do(httptest.NewRequest(http.MethodGet, "/api/documents/"+body.DocumentID, nil))
	require.Equal(t, http.StatusOK, w.Code)
	rec := decode[models.DocumentRecord](t, w)
	assert.Equal(t, models.DocumentCompleted, rec.Status)
	assert.Equal(t, "runbook.md", rec.SourceName)

	w = s.json(http.MethodPost, "/api/query", gin.H{"question": "how do I restart the gateway service?"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[models.QueryResponse](t, w)
	assert.Contains(t, resp.Answer, "[Source 1]")
	require.Len(t, resp.Sources, 1)
	assert.Equal(t, "runbook.md", resp.Sources[0].DocumentName)
	assert.Equal(t, "Gateway", resp.Sources[0].SectionPath)

	w = s.do(httptest.NewRequest(http.MethodGet, "/stats", nil))
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode[models.IndexStats](t, w)
	assert.EqualValues(t, 1, stats.ParentUnits)
}

func TestUploadRejectsUnsupportedFormat(t *testing.T) {
	s := newTestServer(t)
	w := s.do(uploadRequest(t, "/api/documents", "drawing.vsdx", "binary", nil))
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
	assert.Contains(t, w.Body.String(), "unsupported_format")
}

func TestUploadWithoutFile(t *testing.T) {
	s := newTestServer(t)
	w := s.json(http.MethodPost, "/api/documents", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUploadAsyncEnqueues(t *testing.T) {
	s := newTestServer(t)
	req := uploadRequest(t, "/api/documents", "runbook.md", runbook, map[string]string{"async": "true", "auto_route": "true"})
	req.Header.Set(middleware.TenantHeader, "acme")

	w := s.do(req)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	body := decode[map[string]any](t, w)
	docID, _ := body["document_id"].(string)
	require.NotEmpty(t, docID)
	assert.Equal(t, "task-1", body["task_id"])

	require.Len(t, s.queue.tasks, 1)
	var payload struct {
		DocumentID string `json:"document_id"`
		FilePath   string `json:"file_path"`
		TenantID   string `json:"tenant_id"`
		AutoRoute  bool   `json:"auto_route"`
	}
	require.NoError(t, json.Unmarshal(s.queue.tasks[0].Payload(), &payload))
	assert.Equal(t, docID, payload.DocumentID)
	assert.Equal(t, "acme", payload.TenantID)
	assert.True(t, payload.AutoRoute)
	assert.Equal(t, filepath.Join(s.cfg.FileStorageDir, "uploads", docID+".md"), payload.FilePath)

	saved, err := os.ReadFile(payload.FilePath)
	require.NoError(t, err)
	assert.Equal(t, runbook, string(saved))

	rec, err := s.store.GetDocumentRecord(context.Background(), docID)
	require.NoError(t, err)
	assert.Equal(t, models.DocumentPending, rec.Status)

	// Records of another tenant are hidden.
	w = s.do(httptest.NewRequest(http.MethodGet, "/api/documents/"+docID, nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestQueryValidation(t *testing.T) {
	s := newTestServer(t)

	w := s.json(http.MethodPost, "/api/query", gin.H{"top_k": 3})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.json(http.MethodPost, "/api/query", gin.H{"question": "anything"})
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[models.QueryResponse](t, w)
	assert.Equal(t, services.NoResultsAnswer, resp.Answer)
	assert.Empty(t, resp.Sources)
}

func TestObjectStreaming(t *testing.T) {
	s := newTestServer(t)
	_, err := s.store.Upload(context.Background(), "doc-1/image_0.png", []byte("pngdata"), "image/png")
	require.NoError(t, err)

	w := s.do(httptest.NewRequest(http.MethodGet, "/objects/doc-1/image_0.png", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pngdata", w.Body.String())
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))

	w = s.do(httptest.NewRequest(http.MethodGet, "/objects/doc-1/missing.png", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPurgeRequiresAdminKey(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusOK, s.do(uploadRequest(t, "/api/documents", "runbook.md", runbook, nil)).Code)

	w := s.do(httptest.NewRequest(http.MethodDelete, "/api/admin/index", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)

	req := httptest.NewRequest(http.MethodDelete, "/api/admin/index", nil)
	req.Header.Set(middleware.AdminKeyHeader, "admin-key")
	w = s.do(req)
	require.Equal(t, http.StatusOK, w.Code)

	stats, err := s.store.IndexStats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.ParentUnits)
	assert.Zero(t, stats.ChildFragments)
}

func TestRoleLifecycleAndRouting(t *testing.T) {
	s := newTestServer(t)

	w := s.json(http.MethodPost, "/api/roles", gin.H{
		"role_name":        "Network Engineer",
		"department":       "Infrastructure",
		"responsibilities": "bgp routers firewall network switches configuration",
		"priority":         3,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	role := decode[models.Role](t, w)
	require.NotEmpty(t, role.ID)
	assert.True(t, role.IsActive)

	w = s.json(http.MethodPost, "/api/roles", gin.H{"role_name": "Vague", "responsibilities": "too short"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.json(http.MethodPost, "/api/route", gin.H{"summary": "bgp routers firewall network switches configuration"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	result := decode[models.RoutingResult](t, w)
	require.NotNil(t, result.BestMatch)
	assert.Equal(t, role.ID, result.BestMatch.RoleID)
	assert.Equal(t, models.ConfidenceHigh, result.BestMatch.Confidence)
	assert.False(t, result.FallbackUsed)

	w = s.json(http.MethodPost, "/api/route", gin.H{"summary": "quarterly marketing budget"})
	require.Equal(t, http.StatusOK, w.Code)
	result = decode[models.RoutingResult](t, w)
	assert.Nil(t, result.BestMatch)
	assert.Empty(t, result.Matches)

	w = s.json(http.MethodPut, "/api/roles/"+role.ID, gin.H{"priority": 5})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 5, decode[models.Role](t, w).Priority)

	w = s.do(httptest.NewRequest(http.MethodGet, "/api/roles/stats", nil))
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode[models.RoleStats](t, w)
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.Vectorized)
	assert.Equal(t, []string{"Infrastructure"}, stats.Departments)

	w = s.do(httptest.NewRequest(http.MethodDelete, "/api/roles/"+role.ID, nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(httptest.NewRequest(http.MethodGet, "/api/roles/"+role.ID, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[models.Role](t, w).IsActive)

	w = s.do(httptest.NewRequest(http.MethodGet, "/api/roles/does-not-exist", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(httptest.NewRequest(http.MethodGet, "/api/roles/does-not-exist/documents", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAutoRouteRecordsAssignments(t *testing.T) {
	s := newTestServer(t)

	w := s.json(http.MethodPost, "/api/roles", gin.H{
		"role_name":        "Operations Manager",
		"responsibilities": "oversees every operational document without a clear owner",
		"is_fallback":      true,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = s.do(uploadRequest(t, "/api/documents", "runbook.md", runbook, map[string]string{"auto_route": "true"}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	docID := decode[map[string]any](t, w)["document_id"].(string)

	w = s.do(httptest.NewRequest(http.MethodGet, "/api/assignments?document_id="+docID, nil))
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[struct {
		Assignments []models.Assignment `json:"assignments"`
	}](t, w)
	require.Len(t, list.Assignments, 1)
	assert.Equal(t, "Operations Manager", list.Assignments[0].RoleName)
	assert.True(t, list.Assignments[0].Metadata.FallbackUsed)

	w = s.do(httptest.NewRequest(http.MethodGet, "/api/assignments?q=RUNBOOK", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[struct {
		Assignments []models.Assignment `json:"assignments"`
	}](t, w).Assignments, 1)

	w = s.do(httptest.NewRequest(http.MethodGet, "/api/assignments/stats", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Operations Manager")
}
