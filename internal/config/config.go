package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port                string
	GinMode             string
	CORSOrigins         []string
	MaxFileSize         int64
	AllowedExtensions   []string
	RateLimitReqs       int
	RateLimitWindow     int
	FileStorageDir      string
	SyncProcessingLimit int64
	PublicBaseURL       string
	AdminAPIKey         string

	// MongoDB
	MongoURI            string
	DBName              string
	StoreBackend        string // "mongo" (default) or "memory"
	VectorSearchEnabled bool
	VectorIndexName     string
	VectorDimensions    int

	// Redis Configuration
	RedisURL          string
	RedisPassword     string
	RedisDB           int
	QueryCacheEnabled bool
	QueryCacheTTL     time.Duration

	// Models
	GeminiAPIKey          string
	GeminiModel           string
	GeminiTier            string
	GoogleEmbeddingsModel string
	GeneratorProvider     string // "gemini" (default) or "anthropic"
	AnthropicAPIKey       string
	AnthropicModel        string

	// Chunking
	TextChunkSize    int
	TextChunkOverlap int
	MinChunkSize     int

	// Retrieval and synthesis
	RetrievalThreshold   float64
	DefaultTopK          int
	SynthesisTemperature float64

	// Role routing
	RouteTopK          int
	RouteThreshold     float64
	AssignMaxGap       float64
	AssignMinSecondary float64
	FallbackSimilarity float64
	AutoRouteOnIngest  bool
	RoleSweepInterval  time.Duration

	IngestWorkers int

	// Telemetry
	OTelEnabled     bool
	OTelEndpoint    string
	OTelSampleRatio float64
	ServiceName     string
}

func LoadConfig() (*Config, error) {
	// Load .env file if exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("error loading .env file: %v", err)
		}
	}

	cfg := &Config{
		Port:                getEnv("PORT", "8080"),
		GinMode:             getEnv("GIN_MODE", "debug"),
		CORSOrigins:         getEnvList("CORS_ORIGINS", "http://localhost:3000,http://localhost:8080"),
		MaxFileSize:         getEnvInt64("MAX_FILE_SIZE", 104857600), // 100MB
		AllowedExtensions:   getEnvList("ALLOWED_EXTENSIONS", ".pdf,.md,.markdown,.txt,.html,.htm,.xlsx"),
		RateLimitReqs:       getEnvInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow:     getEnvInt("RATE_LIMIT_WINDOW", 60),
		FileStorageDir:      getEnv("FILE_STORAGE_DIR", "./storage"),
		SyncProcessingLimit: getEnvInt64("SYNC_PROCESSING_LIMIT", 5242880), // 5MB
		PublicBaseURL:       strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
		AdminAPIKey:         getEnv("ADMIN_API_KEY", ""),

		MongoURI:            getEnv("MONGO_URI", "mongodb://localhost:27017/infra_rag"),
		DBName:              getEnv("DB_NAME", "infra_rag"),
		StoreBackend:        getEnv("STORE_BACKEND", "mongo"),
		VectorSearchEnabled: getEnvBool("MONGODB_VECTOR_ENABLED", false),
		VectorIndexName:     getEnv("MONGODB_VECTOR_INDEX", "child_fragments_vector"),
		VectorDimensions:    getEnvInt("VECTOR_DIM", 768),

		RedisURL:          getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword:     getEnv("REDIS_PASSWORD", ""),
		RedisDB:           getEnvInt("REDIS_DB", 0),
		QueryCacheEnabled: getEnvBool("QUERY_CACHE_ENABLED", true),
		QueryCacheTTL:     time.Duration(getEnvInt("QUERY_CACHE_TTL", 600)) * time.Second,

		GeminiAPIKey:          getEnv("GEMINI_API_KEY", ""),
		GeminiModel:           getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
		GeminiTier:            getEnv("GEMINI_TIER", "free"),
		GoogleEmbeddingsModel: getEnv("GOOGLE_EMBEDDINGS_MODEL", "text-embedding-004"),
		GeneratorProvider:     getEnv("GENERATOR_PROVIDER", "gemini"),
		AnthropicAPIKey:       getEnv("ANTHROPIC_API_KEY", ""),
		AnthropicModel:        getEnv("ANTHROPIC_MODEL", "claude-sonnet-4-5"),

		TextChunkSize:    getEnvInt("TEXT_CHUNK_SIZE", 400),
		TextChunkOverlap: getEnvInt("TEXT_CHUNK_OVERLAP", 50),
		MinChunkSize:     getEnvInt("MIN_CHUNK_SIZE", 50),

		RetrievalThreshold:   getEnvFloat64("RETRIEVAL_THRESHOLD", 0.3),
		DefaultTopK:          getEnvInt("DEFAULT_TOP_K", 5),
		SynthesisTemperature: getEnvFloat64("SYNTHESIS_TEMPERATURE", 0.2),

		RouteTopK:          getEnvInt("ROUTE_TOP_K", 3),
		RouteThreshold:     getEnvFloat64("ROUTE_THRESHOLD", 0.6),
		AssignMaxGap:       getEnvFloat64("ASSIGN_MAX_GAP", 0.1),
		AssignMinSecondary: getEnvFloat64("ASSIGN_MIN_SECONDARY", 0.5),
		FallbackSimilarity: getEnvFloat64("FALLBACK_SIMILARITY", 0.5),
		AutoRouteOnIngest:  getEnvBool("AUTO_ROUTE_ON_INGEST", false),
		RoleSweepInterval:  time.Duration(getEnvInt("ROLE_SWEEP_INTERVAL", 600)) * time.Second,

		IngestWorkers: getEnvInt("INGEST_WORKERS", 4),

		OTelEnabled:     getEnvBool("OTEL_ENABLED", false),
		OTelEndpoint:    getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
		OTelSampleRatio: getEnvFloat64("OTEL_SAMPLE_RATIO", 0.1),
		ServiceName:     getEnv("SERVICE_NAME", "infra-rag-platform"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks required fields and numeric ranges.
func (c *Config) Validate() error {
	if c.GeminiAPIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is required - set it in .env file")
	}

	if c.GeneratorProvider == "anthropic" && c.AnthropicAPIKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is required when GENERATOR_PROVIDER=anthropic")
	}

	if c.GeneratorProvider != "gemini" && c.GeneratorProvider != "anthropic" {
		return fmt.Errorf("unknown GENERATOR_PROVIDER: %s", c.GeneratorProvider)
	}

	if c.StoreBackend != "mongo" && c.StoreBackend != "memory" {
		return fmt.Errorf("unknown STORE_BACKEND: %s", c.StoreBackend)
	}

	if c.TextChunkSize <= 0 || c.TextChunkOverlap < 0 || c.TextChunkOverlap >= c.TextChunkSize {
		return fmt.Errorf("TEXT_CHUNK_OVERLAP (%d) must be smaller than TEXT_CHUNK_SIZE (%d)", c.TextChunkOverlap, c.TextChunkSize)
	}

	for name, v := range map[string]float64{
		"RETRIEVAL_THRESHOLD":  c.RetrievalThreshold,
		"ROUTE_THRESHOLD":      c.RouteThreshold,
		"ASSIGN_MAX_GAP":       c.AssignMaxGap,
		"ASSIGN_MIN_SECONDARY": c.AssignMinSecondary,
		"FALLBACK_SIMILARITY":  c.FallbackSimilarity,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be between 0 and 1, got %v", name, v)
		}
	}

	if c.IngestWorkers < 1 {
		c.IngestWorkers = 1
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvList(key, defaultValue string) []string {
	var out []string
	for _, v := range strings.Split(getEnv(key, defaultValue), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}
