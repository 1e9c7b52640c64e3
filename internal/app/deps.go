package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"

	"doc-rag/internal/cache"
	"doc-rag/internal/chunker"
	"doc-rag/internal/config"
	"doc-rag/internal/embeddings"
	"doc-rag/internal/extractor"
	"doc-rag/internal/ingest"
	"doc-rag/internal/llm"
	"doc-rag/internal/logger"
	"doc-rag/internal/queue"
	"doc-rag/internal/rag"
	"doc-rag/internal/retriever"
	"doc-rag/internal/store"
	"doc-rag/internal/summarizer"
	"doc-rag/internal/vectorstore"
)

// Component selects which shared dependencies a service needs.
type Component uint

const (
	NeedStore Component = 1 << iota
	NeedVectors
	NeedQueue
	NeedCache
	NeedLLM
	NeedEmbedder
	NeedExtractor
)

// Deps bundles common runtime dependencies for services. Components that
// were not requested are nil.
type Deps struct {
	Config    config.Config
	Log       *slog.Logger
	Store     store.Store
	Vectors   vectorstore.Store
	Queue     queue.Queue
	Cache     cache.Cache
	Embedder  embeddings.Embedder
	LLM       llm.Client
	Extractor extractor.Extractor

	closers []func() error
}

// Build loads env, config, and the requested components.
func Build(need Component) (Deps, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Deps{}, fmt.Errorf("failed to load environment variables: %w", err)
	}
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return Deps{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return BuildFromConfig(cfg, logger.New(cfg.LogLevel), need)
}

// BuildFromConfig wires the requested components from an already loaded config.
func BuildFromConfig(cfg config.Config, log *slog.Logger, need Component) (Deps, error) {
	d := Deps{Config: cfg, Log: log}
	var err error

	if need&NeedStore != 0 {
		if d.Store, err = buildStore(cfg, log); err != nil {
			return d.fail(fmt.Errorf("failed to initialize store: %w", err))
		}
		d.closers = append(d.closers, d.Store.Close)
	}
	if need&NeedVectors != 0 {
		if d.Vectors, err = buildVectorStore(cfg, log); err != nil {
			return d.fail(fmt.Errorf("failed to initialize vector store: %w", err))
		}
		d.closers = append(d.closers, d.Vectors.Close)
	}
	if need&NeedQueue != 0 {
		var closeQueue func() error
		if d.Queue, closeQueue, err = buildQueue(cfg, log); err != nil {
			return d.fail(fmt.Errorf("failed to initialize queue: %w", err))
		}
		d.closers = append(d.closers, closeQueue)
	}
	if need&NeedCache != 0 {
		d.Cache = buildCache(cfg, log)
		d.closers = append(d.closers, d.Cache.Close)
	}
	if need&NeedLLM != 0 {
		if d.LLM, err = buildLLM(cfg, log); err != nil {
			return d.fail(fmt.Errorf("failed to initialize LLM: %w", err))
		}
	}
	if need&NeedEmbedder != 0 {
		if d.Embedder, err = buildEmbedder(cfg, log); err != nil {
			return d.fail(fmt.Errorf("failed to initialize embedder: %w", err))
		}
	}
	if need&NeedExtractor != 0 {
		if d.Extractor, err = buildExtractor(cfg, log); err != nil {
			return d.fail(fmt.Errorf("failed to initialize extractor: %w", err))
		}
	}
	return d, nil
}

func (d Deps) fail(err error) (Deps, error) {
	d.Close()
	return Deps{}, err
}

// Close releases connections in reverse order of creation.
func (d Deps) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Coordinator composes the ingestion pipeline.
func (d Deps) Coordinator() *ingest.Coordinator {
	return ingest.New(ingest.Deps{
		Documents: d.Store,
		Extractor: d.Extractor,
		Chunker:   chunker.SlidingWindow{},
		Embedder:  d.Embedder,
		Vectors:   d.Vectors,
		Queue:     d.Queue,
		Cache:     d.Cache,
	}, ingest.Options{
		UploadDir:         d.Config.UploadDir,
		ExtractionTimeout: d.Config.ExtractionTimeout,
		EmbeddingTimeout:  d.Config.EmbeddingTimeout,
		IndexTimeout:      d.Config.VectorStoreTimeout,
	}, d.Log)
}

func (d Deps) Retriever() *retriever.Retriever {
	return retriever.New(d.Embedder, d.Vectors, d.Config.RetrievalTopK, d.Log)
}

func (d Deps) Orchestrator() *rag.Orchestrator {
	return rag.New(d.Retriever(), d.LLM, d.Cache, rag.Options{
		ContextChars:      d.Config.ContextBudgetChars,
		CompletionTimeout: d.Config.CompletionTimeout,
		CacheTTL:          time.Duration(d.Config.CacheTTL) * time.Second,
	}, d.Log)
}

func (d Deps) Summarizer() *summarizer.Summarizer {
	return summarizer.New(d.LLM, d.Store, summarizer.Options{
		MaxInputChars:     d.Config.SummaryMaxInputChars,
		CompletionTimeout: d.Config.CompletionTimeout,
	}, d.Log)
}

// DefaultPolicy is the chunk policy applied when an upload does not set one.
func (d Deps) DefaultPolicy() chunker.Policy {
	return chunker.Policy{Size: d.Config.ChunkSize, Overlap: d.Config.ChunkOverlap}
}

func buildStore(cfg config.Config, log *slog.Logger) (store.Store, error) {
	switch cfg.StoreProvider {
	case "postgres":
		if cfg.DBURL == "" {
			return nil, fmt.Errorf("DB_URL is required when STORE_PROVIDER=postgres")
		}
		db, err := store.NewPostgres(cfg.DBURL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Postgres: %w", err)
		}
		log.Info("using Postgres store")
		return db, nil
	case "memory":
		log.Warn("using in-memory document store; documents are lost on restart")
		return store.NewMemory(), nil
	default:
		return nil, fmt.Errorf("invalid STORE_PROVIDER: %s (valid options: postgres, memory)", cfg.StoreProvider)
	}
}

func buildVectorStore(cfg config.Config, log *slog.Logger) (vectorstore.Store, error) {
	var (
		vs  vectorstore.Store
		err error
	)
	switch cfg.VectorStoreProvider {
	case "pgvector":
		dsn := cfg.VectorDBURL
		if dsn == "" {
			dsn = cfg.DBURL
		}
		if dsn == "" {
			return nil, fmt.Errorf("VECTOR_DB_URL or DB_URL is required when VECTOR_STORE_PROVIDER=pgvector")
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if vs, err = vectorstore.NewPGVector(ctx, dsn, cfg.VectorDimension); err != nil {
			return nil, fmt.Errorf("failed to initialize pgvector: %w", err)
		}
		log.Info("using pgvector store", "dimension", cfg.VectorDimension)
	case "sqlite":
		if vs, err = vectorstore.NewSQLite(cfg.SQLitePath); err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite vector store: %w", err)
		}
		log.Info("using SQLite vector store", "path", cfg.SQLitePath)
	case "memory":
		vs = vectorstore.NewMemory()
		log.Warn("using in-memory vector store; index is lost on restart")
	default:
		return nil, fmt.Errorf("invalid VECTOR_STORE_PROVIDER: %s (valid options: pgvector, sqlite, memory)", cfg.VectorStoreProvider)
	}
	return vectorstore.WithTimeout(vs, cfg.VectorStoreTimeout), nil
}

func buildQueue(cfg config.Config, log *slog.Logger) (queue.Queue, func() error, error) {
	switch cfg.QueueProvider {
	case "nats":
		if cfg.QueueURL == "" {
			return nil, nil, fmt.Errorf("QUEUE_URL is required when QUEUE_PROVIDER=nats")
		}
		nc, err := nats.Connect(cfg.QueueURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to NATS: %w", err)
		}
		log.Info("using NATS queue")
		return queue.NewNATS(log, nc), func() error { return nc.Drain() }, nil
	case "memory":
		log.Info("using in-process queue")
		return queue.NewMemory(log), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("invalid QUEUE_PROVIDER: %s (valid options: nats, memory)", cfg.QueueProvider)
	}
}

// buildCache falls back to a no-op cache when Redis cannot be reached.
func buildCache(cfg config.Config, log *slog.Logger) cache.Cache {
	switch cfg.CacheProvider {
	case "redis":
		c, err := cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			log.Warn("redis unavailable, answers will not be cached", "addr", cfg.RedisAddr, "err", err)
			return cache.NewNoOpCache()
		}
		log.Info("using Redis answer cache", "addr", cfg.RedisAddr)
		return c
	case "memory":
		return cache.NewMemoryCache()
	default:
		return cache.NewNoOpCache()
	}
}

func buildLLM(cfg config.Config, log *slog.Logger) (llm.Client, error) {
	switch cfg.LLMProvider {
	case "openai":
		if cfg.OpenAIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required when LLM_PROVIDER=openai")
		}
		client, err := llm.NewOpenAIClient(cfg.OpenAIKey, cfg.LLMModel, llm.Options{Timeout: cfg.CompletionTimeout})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize OpenAI client: %w", err)
		}
		log.Info("using OpenAI LLM client", "model", cfg.LLMModel)
		return client, nil
	case "ollama":
		client, err := llm.NewOllamaClient(cfg.OllamaURL, cfg.LLMModel, cfg.CompletionTimeout)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Ollama client: %w", err)
		}
		log.Info("using Ollama LLM client", "model", cfg.LLMModel, "url", cfg.OllamaURL)
		return client, nil
	default:
		return nil, fmt.Errorf("invalid LLM_PROVIDER: %s (valid options: openai, ollama)", cfg.LLMProvider)
	}
}

func buildEmbedder(cfg config.Config, log *slog.Logger) (embeddings.Embedder, error) {
	var (
		embedder embeddings.Embedder
		err      error
	)
	switch cfg.EmbeddingProvider {
	case "openai":
		if cfg.OpenAIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required when EMBEDDING_PROVIDER=openai")
		}
		embedder, err = embeddings.NewOpenAIEmbedder(embeddings.OpenAIConfig{
			APIKey:    cfg.OpenAIKey,
			Model:     cfg.EmbeddingModel,
			Timeout:   cfg.EmbeddingTimeout,
			BatchSize: cfg.EmbeddingBatchSize,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize OpenAI embedder: %w", err)
		}
	case "ollama":
		embedder, err = embeddings.NewOllamaEmbedder(cfg.OllamaURL, cfg.EmbeddingModel, cfg.EmbeddingTimeout, cfg.EmbeddingBatchSize)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Ollama embedder: %w", err)
		}
	default:
		return nil, fmt.Errorf("invalid EMBEDDING_PROVIDER: %s (valid options: openai, ollama)", cfg.EmbeddingProvider)
	}
	log.Info("using embedder", "provider", cfg.EmbeddingProvider, "model", embedder.Model(), "rps", cfg.EmbeddingRPS)
	return embeddings.NewRateLimited(embedder, cfg.EmbeddingRPS, 1), nil
}

func buildExtractor(cfg config.Config, log *slog.Logger) (extractor.Extractor, error) {
	switch cfg.ExtractorProvider {
	case "unstructured":
		log.Info("using Unstructured extractor", "url", cfg.ExtractorURL)
		return extractor.NewUnstructured(cfg.ExtractorURL, cfg.ExtractionTimeout), nil
	case "local":
		log.Info("using local extractor")
		return extractor.NewLocal(), nil
	default:
		return nil, fmt.Errorf("invalid EXTRACTOR_PROVIDER: %s (valid options: unstructured, local)", cfg.ExtractorProvider)
	}
}
