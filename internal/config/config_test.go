package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "mongo", cfg.StoreBackend)
	assert.Equal(t, "gemini", cfg.GeneratorProvider)
	assert.Equal(t, 400, cfg.TextChunkSize)
	assert.Equal(t, 50, cfg.TextChunkOverlap)
	assert.Equal(t, 0.6, cfg.RouteThreshold)
	assert.Equal(t, 0.1, cfg.AssignMaxGap)
	assert.Equal(t, 0.5, cfg.AssignMinSecondary)
	assert.Equal(t, 0.5, cfg.FallbackSimilarity)
	assert.Equal(t, 3, cfg.RouteTopK)
	assert.Equal(t, 10*time.Minute, cfg.QueryCacheTTL)
	assert.Equal(t, "", cfg.AdminAPIKey)
	assert.Contains(t, cfg.AllowedExtensions, ".xlsx")
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("CORS_ORIGINS", " https://a.example , ,https://b.example")
	t.Setenv("PUBLIC_BASE_URL", "https://rag.example/")
	t.Setenv("ROUTE_THRESHOLD", "0.7")
	t.Setenv("TEXT_CHUNK_SIZE", "800")
	t.Setenv("QUERY_CACHE_ENABLED", "false")
	t.Setenv("INGEST_WORKERS", "0")
	t.Setenv("RATE_LIMIT_REQUESTS", "not-a-number")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.StoreBackend)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.Equal(t, "https://rag.example", cfg.PublicBaseURL)
	assert.Equal(t, 0.7, cfg.RouteThreshold)
	assert.Equal(t, 800, cfg.TextChunkSize)
	assert.False(t, cfg.QueryCacheEnabled)
	assert.Equal(t, 1, cfg.IngestWorkers)
	assert.Equal(t, 100, cfg.RateLimitReqs, "unparsable numbers keep the default")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			GeminiAPIKey:      "key",
			GeneratorProvider: "gemini",
			StoreBackend:      "memory",
			TextChunkSize:     400,
			TextChunkOverlap:  50,
			RouteThreshold:    0.6,
			IngestWorkers:     2,
		}
	}
	require.NoError(t, valid().Validate())

	cases := map[string]func(*Config){
		"missing gemini key":     func(c *Config) { c.GeminiAPIKey = "" },
		"anthropic without key":  func(c *Config) { c.GeneratorProvider = "anthropic" },
		"unknown provider":       func(c *Config) { c.GeneratorProvider = "llama" },
		"unknown backend":        func(c *Config) { c.StoreBackend = "sqlite" },
		"overlap exceeds chunk":  func(c *Config) { c.TextChunkOverlap = 400 },
		"threshold out of range": func(c *Config) { c.RouteThreshold = 1.5 },
		"negative gap":           func(c *Config) { c.AssignMaxGap = -0.1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := valid()
			mutate(c)
			assert.Error(t, c.Validate())
		})
	}

	c := valid()
	c.GeneratorProvider = "anthropic"
	c.AnthropicAPIKey = "sk-test"
	assert.NoError(t, c.Validate())
}

func TestRedisOptions(t *testing.T) {
	opt, err := RedisOptions(&Config{RedisURL: "redis://:secret@cache:6380/2"})
	require.NoError(t, err)
	assert.Equal(t, "cache:6380", opt.Addr)
	assert.Equal(t, "secret", opt.Password)
	assert.Equal(t, 2, opt.DB)

	opt, err = RedisOptions(&Config{RedisURL: "localhost:6379", RedisPassword: "pw", RedisDB: 1})
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", opt.Addr)
	assert.Equal(t, "pw", opt.Password)
	assert.Equal(t, 1, opt.DB)

	_, err = RedisOptions(&Config{RedisURL: "redis://cache:6379/not-a-db"})
	assert.Error(t, err)
}
