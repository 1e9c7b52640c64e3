package embeddings

import (
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"golang.org/x/sync/errgroup"

	"doc-rag/internal/pipeline"
)

const (
	defaultEmbeddingTimeout = 30 * time.Second
	defaultBatchSize        = 32
	defaultConcurrency      = 4

	// DefaultOllamaURL is Ollama's OpenAI-compatible API root.
	DefaultOllamaURL = "http://localhost:11434/v1/"
)

// OpenAIConfig configures an embedder for any OpenAI-compatible embeddings endpoint.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string // empty means api.openai.com
	Model       string
	Timeout     time.Duration // per request
	BatchSize   int           // inputs per request
	Concurrency int           // requests in flight for one EmbedBatch call
}

// OpenAIEmbedder calls an OpenAI-compatible embeddings API.
type OpenAIEmbedder struct {
	model       string
	client      *openai.Client
	timeout     time.Duration
	batchSize   int
	concurrency int
}

// NewOpenAIEmbedder creates an embedder against api.openai.com or cfg.BaseURL.
func NewOpenAIEmbedder(cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" && cfg.BaseURL == "" {
		return nil, fmt.Errorf("api key required")
	}
	if cfg.Model == "" {
		cfg.Model = string(openai.EmbeddingModelTextEmbedding3Small)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultEmbeddingTimeout
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	opts := []option.RequestOption{option.WithMaxRetries(0)}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	cli := openai.NewClient(opts...)
	return &OpenAIEmbedder{
		model:       cfg.Model,
		client:      &cli,
		timeout:     cfg.Timeout,
		batchSize:   cfg.BatchSize,
		concurrency: cfg.Concurrency,
	}, nil
}

// NewOllamaEmbedder targets a local Ollama server through its OpenAI-compatible API.
func NewOllamaEmbedder(baseURL, model string, timeout time.Duration, batchSize int) (*OpenAIEmbedder, error) {
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	if model == "" {
		model = "nomic-embed-text"
	}
	// Ollama ignores the key but the client always sends one.
	return NewOpenAIEmbedder(OpenAIConfig{
		APIKey:    "ollama",
		BaseURL:   baseURL,
		Model:     model,
		Timeout:   timeout,
		BatchSize: batchSize,
	})
}

func (e *OpenAIEmbedder) Model() string { return e.model }

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]Vector, error) {
	if e == nil || e.client == nil {
		return nil, pipeline.Errorf(pipeline.ErrEmbedding, "embed", "nil embedder")
	}
	if len(texts) == 0 {
		return []Vector{}, nil
	}

	out := make([]Vector, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for start := 0; start < len(texts); start += e.batchSize {
		end := min(start+e.batchSize, len(texts))
		g.Go(func() error {
			vecs, err := e.request(gctx, texts[start:end])
			if err != nil {
				return err
			}
			copy(out[start:end], vecs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	dim := len(out[0])
	for i, v := range out {
		if len(v) != dim {
			return nil, pipeline.Errorf(pipeline.ErrEmbedding, "embed batch", "vector %d has dimension %d, expected %d", i, len(v), dim)
		}
	}
	return out, nil
}

func (e *OpenAIEmbedder) request(ctx context.Context, batch []string) ([]Vector, error) {
	reqCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	resp, err := e.client.Embeddings.New(reqCtx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: batch,
		},
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, pipeline.Wrap(pipeline.ErrEmbedding, "embed "+e.model, err)
	}
	if len(resp.Data) != len(batch) {
		return nil, pipeline.Errorf(pipeline.ErrEmbedding, "embed "+e.model, "got %d vectors for %d inputs", len(resp.Data), len(batch))
	}

	vecs := make([]Vector, len(batch))
	for _, d := range resp.Data {
		idx := int(d.Index)
		if idx < 0 || idx >= len(batch) || vecs[idx] != nil {
			return nil, pipeline.Errorf(pipeline.ErrEmbedding, "embed "+e.model, "unexpected vector index %d", d.Index)
		}
		if len(d.Embedding) == 0 {
			return nil, pipeline.Errorf(pipeline.ErrEmbedding, "embed "+e.model, "empty vector at index %d", idx)
		}
		// Convert []float64 to []float32
		vec := make(Vector, len(d.Embedding))
		for i, v := range d.Embedding {
			vec[i] = float32(v)
		}
		vecs[idx] = vec
	}
	return vecs, nil
}
