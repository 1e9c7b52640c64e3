package config

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds runtime configuration shared by every service.
type Config struct {
	// Server
	Port     int    `env:"PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Upload limits
	MaxUploadSize int64  `env:"MAX_UPLOAD_SIZE" envDefault:"10485760"` // 10MB in bytes
	UploadDir     string `env:"UPLOAD_DIR" envDefault:"./data/uploads"`

	// Document store
	StoreProvider string `env:"STORE_PROVIDER" envDefault:"postgres"` // "postgres" or "memory"
	DBURL         string `env:"DB_URL"`

	// Vector store
	VectorStoreProvider string `env:"VECTOR_STORE_PROVIDER" envDefault:"pgvector"` // "pgvector", "sqlite" or "memory"
	VectorDBURL         string `env:"VECTOR_DB_URL"`                                // falls back to DB_URL for pgvector
	SQLitePath          string `env:"SQLITE_PATH" envDefault:"./data/vectors.db"`
	VectorDimension     int    `env:"VECTOR_DIMENSION" envDefault:"768"`

	// Queue
	QueueProvider string `env:"QUEUE_PROVIDER" envDefault:"nats"`
	QueueURL      string `env:"QUEUE_URL"`

	// Cache
	CacheProvider string `env:"CACHE_PROVIDER" envDefault:"noop"` // "redis" or "noop"
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	CacheTTL      int    `env:"CACHE_TTL" envDefault:"3600"` // seconds

	// Extraction
	ExtractorProvider string        `env:"EXTRACTOR_PROVIDER" envDefault:"unstructured"` // "unstructured" or "local"
	ExtractorURL      string        `env:"EXTRACTOR_URL" envDefault:"http://localhost:9500/general/v0/general"`
	ExtractionTimeout time.Duration `env:"EXTRACTION_TIMEOUT" envDefault:"120s"`

	// Chunking defaults, overridable per upload
	ChunkSize    int `env:"CHUNK_SIZE" envDefault:"1000"`
	ChunkOverlap int `env:"CHUNK_OVERLAP" envDefault:"200"`

	// LLM & Embeddings
	LLMProvider        string        `env:"LLM_PROVIDER" envDefault:"ollama"` // "openai" or "ollama"
	EmbeddingProvider  string        `env:"EMBEDDING_PROVIDER" envDefault:"ollama"`
	OpenAIKey          string        `env:"OPENAI_API_KEY"`
	OllamaURL          string        `env:"OLLAMA_URL" envDefault:"http://localhost:11434/v1/"`
	LLMModel           string        `env:"LLM_MODEL" envDefault:"mistral"`
	EmbeddingModel     string        `env:"EMBEDDING_MODEL" envDefault:"nomic-embed-text"`
	EmbeddingBatchSize int           `env:"EMBEDDING_BATCH_SIZE" envDefault:"32"`
	EmbeddingRPS       float64       `env:"EMBEDDING_RPS" envDefault:"0"` // 0 disables throttling
	EmbeddingTimeout   time.Duration `env:"EMBEDDING_TIMEOUT" envDefault:"60s"`
	CompletionTimeout  time.Duration `env:"COMPLETION_TIMEOUT" envDefault:"120s"`
	VectorStoreTimeout time.Duration `env:"VECTORSTORE_TIMEOUT" envDefault:"30s"`

	// Retrieval & generation
	RetrievalTopK        int    `env:"RETRIEVAL_TOP_K" envDefault:"10"`
	ContextBudgetChars   int    `env:"RAG_CONTEXT_CHARS" envDefault:"12000"`
	SummaryMaxInputChars int    `env:"SUMMARY_MAX_INPUT_CHARS" envDefault:"12000"`
	QueryServiceURL      string `env:"QUERY_SERVICE_URL" envDefault:"http://query:8081/api/query"`
}

// Load reads configuration from environment variables with defaults.
func Load() Config {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		slog.Warn("failed to parse env; using defaults where set", "err", err)
	}
	return cfg
}

// Validate checks values that would otherwise fail deep inside a pipeline run.
func (c Config) Validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("CHUNK_SIZE must be positive, got %d", c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("CHUNK_OVERLAP must be in [0, CHUNK_SIZE), got %d", c.ChunkOverlap)
	}
	if c.RetrievalTopK <= 0 {
		return fmt.Errorf("RETRIEVAL_TOP_K must be positive, got %d", c.RetrievalTopK)
	}
	if c.ContextBudgetChars <= 0 {
		return fmt.Errorf("RAG_CONTEXT_CHARS must be positive, got %d", c.ContextBudgetChars)
	}
	if c.EmbeddingBatchSize <= 0 {
		return fmt.Errorf("EMBEDDING_BATCH_SIZE must be positive, got %d", c.EmbeddingBatchSize)
	}
	providers := []struct {
		name, value string
		valid       []string
	}{
		{"STORE_PROVIDER", c.StoreProvider, []string{"postgres", "memory"}},
		{"VECTOR_STORE_PROVIDER", c.VectorStoreProvider, []string{"pgvector", "sqlite", "memory"}},
		{"QUEUE_PROVIDER", c.QueueProvider, []string{"nats", "memory"}},
		{"CACHE_PROVIDER", c.CacheProvider, []string{"redis", "noop", "memory"}},
		{"EXTRACTOR_PROVIDER", c.ExtractorProvider, []string{"unstructured", "local"}},
		{"LLM_PROVIDER", c.LLMProvider, []string{"openai", "ollama"}},
		{"EMBEDDING_PROVIDER", c.EmbeddingProvider, []string{"openai", "ollama"}},
	}
	for _, p := range providers {
		if !slices.Contains(p.valid, p.value) {
			return fmt.Errorf("invalid %s: %q (valid options: %s)", p.name, p.value, strings.Join(p.valid, ", "))
		}
	}
	return nil
}
