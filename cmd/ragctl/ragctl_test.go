package main

import (
	"bytes"
	"context"
	"hash/fnv"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"infra-rag-platform/internal/convert"
	"infra-rag-platform/internal/database"
	"infra-rag-platform/models"
	"infra-rag-platform/services"
)

type wordEmbedder struct{}

func (wordEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, 64)
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		h := fnv.New32a()
		h.Write([]byte(w))
		vec[h.Sum32()%64]++
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v * v)
	}
	if norm > 0 {
		for i := range vec {
			vec[i] /= float32(math.Sqrt(norm))
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

type echoGenerator struct{}

func (echoGenerator) Generate(context.Context, string) (string, error) {
	return "Restart the gateway [Source 1].", nil
}

func (echoGenerator) GenerateWithImage(context.Context, string, []byte, string) (string, error) {
	return "", nil
}

func setupTestServices(t *testing.T) *database.MemoryStore {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := database.NewMemoryStore("")
	embedder := wordEmbedder{}

	router := services.NewRoleRouter(embedder, store, store, services.DefaultAssignmentPolicy(),
		services.DefaultRouteTopK, services.DefaultRouteThreshold, nil, logger)
	roles := services.NewRoleService(store, store, embedder, "test", logger)
	retriever := services.NewHybridRetriever(embedder, store, 0.3, logger)

	converter = convert.NewRegistry()
	ingester = services.NewIngestionPipeline(services.PipelineDeps{
		Summarizer: services.NewMultimodalSummarizer(echoGenerator{}, store, logger),
		Embedder:   embedder,
		Store:      store,
		Objects:    store,
		Router:     router,
		Logger:     logger,
	})
	answerer = services.NewCitationSynthesizer(retriever, echoGenerator{}, nil, 5, nil, logger)
	searcher = retriever
	roleRouter = router
	roleAdmin = roles
	purger = store
	queryCache = nil
	tenantID = ""
	ingestAutoRoute, purgeConfirmed, queryJSON, rolesVectorizeAll = false, false, false, false
	queryTopK, searchTopK, searchKind = 5, 5, ""

	t.Cleanup(func() {
		converter, ingester, answerer, searcher, roleRouter, roleAdmin, purger = nil, nil, nil, nil, nil, nil, nil
		rootCmd.SetArgs(nil)
		rootCmd.SetIn(nil)
	})
	return store
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const runbook = "# Gateway\n\nRestart the gateway service after patching the kernel.\n\n| Host | Port |\n| --- | --- |\n| gw-1 | 443 |\n"

func TestRootHasCommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"ingest", "query", "interactive", "search", "route", "roles", "purge"} {
		assert.True(t, names[want], want)
	}
}

func TestIngestAndQuery(t *testing.T) {
	store := setupTestServices(t)
	path := writeFile(t, "runbook.md", runbook)

	out, err := execute(t, "", "ingest", path)
	require.NoError(t, err, out)
	assert.Contains(t, out, "units: 2 (text 1, tables 1, images 0)")

	stats, err := store.IndexStats(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.ParentUnits)

	out, err = execute(t, "", "query", "how", "do", "I", "restart", "the", "gateway", "service")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Restart the gateway [Source 1].")
	assert.Contains(t, out, "[1] runbook.md (Gateway) text")
}

func TestIngestReportsFailuresAndContinues(t *testing.T) {
	setupTestServices(t)
	good := writeFile(t, "notes.md", "# Notes\n\nBackups run nightly.")

	out, err := execute(t, "", "ingest", filepath.Join(t.TempDir(), "missing.md"), good)
	require.Error(t, err)
	assert.Contains(t, out, "notes.md ->")
}

func TestSearchByKind(t *testing.T) {
	setupTestServices(t)
	path := writeFile(t, "runbook.md", runbook)
	_, err := execute(t, "", "ingest", path)
	require.NoError(t, err)

	out, err := execute(t, "", "search", "restart", "gateway", "service", "--kind", "text")
	require.NoError(t, err, out)
	assert.Contains(t, out, "[1]")
	assert.Contains(t, out, "text runbook.md (Gateway)")
	assert.NotContains(t, out, " table ")

	_, err = execute(t, "", "search", "gateway", "--kind", "video")
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestInteractive(t *testing.T) {
	setupTestServices(t)
	path := writeFile(t, "runbook.md", runbook)
	_, err := execute(t, "", "ingest", path)
	require.NoError(t, err)

	out, err := execute(t, "\nrestart the gateway service\nexit\n", "interactive")
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(out, "Restart the gateway [Source 1]."))
}

func TestRolesSeedIsIdempotent(t *testing.T) {
	store := setupTestServices(t)
	seed := writeFile(t, "roles.yaml", `roles:
  - role_name: Network Engineer
    department: Infrastructure
    responsibilities: bgp routers firewall network switches configuration
    priority: 3
  - role_name: Operations Manager
    department: Operations
    responsibilities: oversees operational documents that have no clear owner
    is_fallback: true
`)

	out, err := execute(t, "", "roles", "seed", seed)
	require.NoError(t, err, out)
	assert.Contains(t, out, "seeded 2 roles, skipped 0 existing")

	out, err = execute(t, "", "roles", "seed", seed)
	require.NoError(t, err, out)
	assert.Contains(t, out, "seeded 0 roles, skipped 2 existing")

	roles, err := store.ListRoles(context.Background(), models.RoleFilter{})
	require.NoError(t, err)
	require.Len(t, roles, 2)
	for _, r := range roles {
		assert.NotNil(t, r.Vector, r.Name)
	}

	out, err = execute(t, "", "route", "bgp", "routers", "firewall", "network", "switches", "configuration")
	require.NoError(t, err)
	assert.Contains(t, out, "1. Network Engineer [Infrastructure]")
	assert.Contains(t, out, "high")

	out, err = execute(t, "", "route", "quarterly", "marketing", "budget")
	require.NoError(t, err)
	assert.Contains(t, out, "using the fallback role")
	assert.Contains(t, out, "Operations Manager")
}

func TestRolesSeedRejectsEmptyFile(t *testing.T) {
	setupTestServices(t)
	seed := writeFile(t, "roles.yaml", "roles: []\n")
	_, err := execute(t, "", "roles", "seed", seed)
	assert.ErrorContains(t, err, "no roles defined")
}

func TestRouteWithoutRoles(t *testing.T) {
	setupTestServices(t)
	out, err := execute(t, "", "route", "anything")
	require.NoError(t, err)
	assert.Contains(t, out, "No role matched")
}

func TestPurgeRequiresConfirmation(t *testing.T) {
	store := setupTestServices(t)
	path := writeFile(t, "runbook.md", runbook)
	_, err := execute(t, "", "ingest", path)
	require.NoError(t, err)

	_, err = execute(t, "", "purge")
	assert.ErrorContains(t, err, "--yes")

	out, err := execute(t, "", "purge", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "index purged")

	stats, err := store.IndexStats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.ParentUnits)
}
