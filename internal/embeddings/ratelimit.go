package embeddings

import (
	"context"

	"golang.org/x/time/rate"

	"doc-rag/internal/pipeline"
)

// RateLimited throttles calls to an underlying Embedder. Each Embed or
// EmbedBatch call consumes one token.
type RateLimited struct {
	inner   Embedder
	limiter *rate.Limiter
}

// NewRateLimited wraps inner with a token bucket of rps requests per second.
// A non-positive rps returns inner unchanged.
func NewRateLimited(inner Embedder, rps float64, burst int) Embedder {
	if rps <= 0 {
		return inner
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimited{inner: inner, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (r *RateLimited) Model() string { return r.inner.Model() }

func (r *RateLimited) Embed(ctx context.Context, text string) (Vector, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, pipeline.Wrap(pipeline.ErrEmbedding, "embed rate limit", err)
	}
	return r.inner.Embed(ctx, text)
}

func (r *RateLimited) EmbedBatch(ctx context.Context, texts []string) ([]Vector, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, pipeline.Wrap(pipeline.ErrEmbedding, "embed rate limit", err)
	}
	return r.inner.EmbedBatch(ctx, texts)
}
