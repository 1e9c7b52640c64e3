// Package rag answers questions from retrieved document chunks.
package rag

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"doc-rag/internal/cache"
	"doc-rag/internal/llm"
	"doc-rag/internal/metrics"
	"doc-rag/internal/pipeline"
	"doc-rag/internal/retriever"
)

// DefaultContextChars bounds the chunk text placed in one prompt.
const DefaultContextChars = 12000

// Retriever is the retrieval stage the orchestrator depends on.
type Retriever interface {
	Retrieve(ctx context.Context, q retriever.Query) (retriever.Result, error)
	Model() string
	DefaultTopK() int
}

type Options struct {
	ContextChars      int
	CompletionTimeout time.Duration
	CacheTTL          time.Duration
}

type Answer struct {
	Text      string           `json:"answer"`
	Retrieval retriever.Result `json:"retrieval"`
	Dropped   []retriever.Hit  `json:"dropped,omitempty"`
	Model     string           `json:"model"`
	Cached    bool             `json:"cached"`
}

type Orchestrator struct {
	retriever Retriever
	llm       llm.Client
	cache     cache.Cache
	opts      Options
	log       *slog.Logger
}

// New builds an Orchestrator. A nil cache disables answer caching.
func New(r Retriever, client llm.Client, c cache.Cache, opts Options, log *slog.Logger) *Orchestrator {
	if opts.ContextChars <= 0 {
		opts.ContextChars = DefaultContextChars
	}
	if c == nil {
		c = cache.NewNoOpCache()
	}
	return &Orchestrator{retriever: r, llm: client, cache: c, opts: opts, log: log.With("component", "rag")}
}

// Answer retrieves context for q and makes exactly one completion call.
// Retrieval errors are returned unchanged.
func (o *Orchestrator) Answer(ctx context.Context, q retriever.Query) (Answer, error) {
	if q.TopK <= 0 {
		q.TopK = o.retriever.DefaultTopK()
	}
	key := cache.Key(q.Question, q.DocumentIDs, q.TopK, o.llm.Model()+"|"+o.retriever.Model())

	cached, err := o.cache.GetAnswer(ctx, key)
	if err != nil {
		o.log.Warn("cache lookup failed", "err", err)
	}
	if cached != nil {
		metrics.CacheHits.Add(1)
		o.log.Info("cache hit", "question", q.Question)
		return Answer{
			Text:      cached.Text,
			Retrieval: retriever.Result{Hits: cached.Hits},
			Dropped:   cached.Dropped,
			Model:     cached.Model,
			Cached:    true,
		}, nil
	}

	res, err := o.retriever.Retrieve(ctx, q)
	if err != nil {
		return Answer{}, err
	}

	admitted, dropped := fitBudget(res.Hits, o.opts.ContextChars)
	if len(dropped) > 0 {
		o.log.Info("context budget exceeded", "admitted", len(admitted), "dropped", len(dropped), "budget_chars", o.opts.ContextChars)
	}

	text, err := o.generate(ctx, BuildPrompt(q.Question, admitted, len(dropped)))
	if err != nil {
		return Answer{}, err
	}
	metrics.Answers.Add(1)

	answer := Answer{
		Text:      text,
		Retrieval: retriever.Result{Hits: admitted},
		Dropped:   dropped,
		Model:     o.llm.Model(),
	}
	if err := o.cache.SetAnswer(ctx, key, &cache.Answer{
		Text:    answer.Text,
		Model:   answer.Model,
		Hits:    admitted,
		Dropped: dropped,
	}, q.DocumentIDs, o.opts.CacheTTL); err != nil {
		// Log cache write failure but don't fail the request
		o.log.Warn("failed to cache answer", "err", err)
	}
	return answer, nil
}

func (o *Orchestrator) generate(ctx context.Context, prompt llm.Prompt) (string, error) {
	if o.opts.CompletionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.CompletionTimeout)
		defer cancel()
	}
	text, err := o.llm.Generate(ctx, prompt)
	if err != nil {
		if errors.Is(err, pipeline.ErrGeneration) {
			return "", err
		}
		return "", pipeline.Wrap(pipeline.ErrGeneration, "answer", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", pipeline.Errorf(pipeline.ErrGeneration, "answer", "empty completion")
	}
	return text, nil
}
