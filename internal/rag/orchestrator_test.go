package rag

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"doc-rag/internal/cache"
	"doc-rag/internal/llm"
	"doc-rag/internal/logger"
	"doc-rag/internal/pipeline"
	"doc-rag/internal/retriever"
)

type mockRetriever struct {
	mock.Mock
}

func (m *mockRetriever) Retrieve(ctx context.Context, q retriever.Query) (retriever.Result, error) {
	args := m.Called(ctx, q)
	return args.Get(0).(retriever.Result), args.Error(1)
}

func (m *mockRetriever) Model() string   { return "embed-m" }
func (m *mockRetriever) DefaultTopK() int { return 5 }

func hit(text, source string, score float32) retriever.Hit {
	return retriever.Hit{Text: text, Score: score, DocumentID: uuid.New(), Metadata: map[string]any{"source": source, "page": 1}}
}

func newLLM() *llm.MockClient {
	c := new(llm.MockClient)
	c.On("Model").Return("mistral")
	return c
}

func TestAnswerGroundsPromptInScoreOrder(t *testing.T) {
	r := new(mockRetriever)
	client := newLLM()
	r.On("Retrieve", mock.Anything, retriever.Query{Question: "who?", TopK: 5}).Return(retriever.Result{Hits: []retriever.Hit{
		hit("Alice wrote it.", "a.pdf", 0.9),
		hit("Bob reviewed it.", "b.pdf", 0.4),
	}}, nil)

	var prompt llm.Prompt
	client.On("Generate", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		prompt = args.Get(1).(llm.Prompt)
	}).Return("  Alice.  ", nil).Once()

	o := New(r, client, nil, Options{}, logger.Discard())
	ans, err := o.Answer(context.Background(), retriever.Query{Question: "who?"})
	require.NoError(t, err)

	assert.Equal(t, "Alice.", ans.Text)
	assert.Equal(t, "mistral", ans.Model)
	assert.False(t, ans.Cached)
	assert.Len(t, ans.Retrieval.Hits, 2)
	assert.Empty(t, ans.Dropped)

	assert.Contains(t, prompt.System, "ONLY")
	assert.Contains(t, prompt.User, "QUESTION: who?")
	assert.Contains(t, prompt.User, "Document: a.pdf (page 1)")
	assert.Less(t, strings.Index(prompt.User, "Alice wrote it."), strings.Index(prompt.User, "Bob reviewed it."))
	client.AssertNumberOfCalls(t, "Generate", 1)
}

func TestAnswerWithEmptyRetrievalStillGeneratesOnce(t *testing.T) {
	r := new(mockRetriever)
	client := newLLM()
	r.On("Retrieve", mock.Anything, mock.Anything).Return(retriever.Result{}, nil)
	client.On("Generate", mock.Anything, mock.MatchedBy(func(p llm.Prompt) bool {
		return strings.Contains(p.User, noContextNotice)
	})).Return("I don't have enough information.", nil).Once()

	o := New(r, client, nil, Options{}, logger.Discard())
	ans, err := o.Answer(context.Background(), retriever.Query{Question: "anything?"})
	require.NoError(t, err)
	assert.Empty(t, ans.Retrieval.Hits)
	client.AssertNumberOfCalls(t, "Generate", 1)
}

func TestAnswerAppliesContextBudget(t *testing.T) {
	r := new(mockRetriever)
	client := newLLM()
	r.On("Retrieve", mock.Anything, mock.Anything).Return(retriever.Result{Hits: []retriever.Hit{
		hit("aaaa", "a", 0.9),
		hit("bbbbbb", "b", 0.8),
		hit("c", "c", 0.7),
	}}, nil)
	client.On("Generate", mock.Anything, mock.MatchedBy(func(p llm.Prompt) bool {
		return strings.Contains(p.User, "aaaa") && !strings.Contains(p.User, "bbbbbb") && !strings.Contains(p.User, "Content: c\n")
	})).Return("ok", nil).Once()

	o := New(r, client, nil, Options{ContextChars: 8}, logger.Discard())
	ans, err := o.Answer(context.Background(), retriever.Query{Question: "q"})
	require.NoError(t, err)
	require.Len(t, ans.Retrieval.Hits, 1)
	require.Len(t, ans.Dropped, 2)
	assert.Equal(t, "bbbbbb", ans.Dropped[0].Text)
	assert.Equal(t, "c", ans.Dropped[1].Text, "lower-scoring hits are dropped even when they would fit")
}

func TestFitBudget(t *testing.T) {
	hits := []retriever.Hit{{Text: "ab"}, {Text: "çd"}, {Text: "e"}}
	tests := []struct {
		name     string
		budget   int
		admitted []string
	}{
		{"everything fits", 5, []string{"ab", "çd", "e"}},
		{"exact fit", 4, []string{"ab", "çd"}},
		{"first too large is cut to budget", 1, []string{"a"}},
		{"multibyte counted as characters", 3, []string{"ab"}},
		{"no budget", 0, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			admitted, dropped := fitBudget(hits, tt.budget)
			var texts []string
			for _, h := range admitted {
				texts = append(texts, h.Text)
			}
			assert.Equal(t, tt.admitted, texts)
			assert.Len(t, dropped, len(hits)-len(tt.admitted))
		})
	}
	assert.Equal(t, "ab", hits[0].Text)
}

func TestAnswerCutsOversizedTopHit(t *testing.T) {
	r := new(mockRetriever)
	client := newLLM()
	r.On("Retrieve", mock.Anything, mock.Anything).Return(retriever.Result{Hits: []retriever.Hit{
		hit("ABCDEFGH", "long.txt", 0.9),
		hit("IJKLMNOP", "long.txt", 0.8),
	}}, nil)

	var prompt llm.Prompt
	client.On("Generate", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		prompt = args.Get(1).(llm.Prompt)
	}).Return("ok", nil).Once()

	o := New(r, client, nil, Options{ContextChars: 5}, logger.Discard())
	ans, err := o.Answer(context.Background(), retriever.Query{Question: "ABCD"})
	require.NoError(t, err)

	require.Len(t, ans.Retrieval.Hits, 1)
	assert.Equal(t, "ABCDE", ans.Retrieval.Hits[0].Text)
	require.Len(t, ans.Dropped, 1)
	assert.Equal(t, "IJKLMNOP", ans.Dropped[0].Text)
	assert.Contains(t, prompt.User, "Content: ABCDE\n")
	assert.NotContains(t, prompt.User, noContextNotice)
}

func TestBuildPromptNotices(t *testing.T) {
	empty := BuildPrompt("q", nil, 0)
	assert.Contains(t, empty.User, noContextNotice)

	omitted := BuildPrompt("q", nil, 2)
	assert.Contains(t, omitted.User, omittedNotice)
	assert.NotContains(t, omitted.User, noContextNotice)

	grounded := BuildPrompt("q", []retriever.Hit{hit("text", "a.txt", 1)}, 1)
	assert.NotContains(t, grounded.User, noContextNotice)
	assert.NotContains(t, grounded.User, omittedNotice)
}

func TestAnswerGenerationFailures(t *testing.T) {
	tests := []struct {
		name string
		text string
		err  error
	}{
		{"provider error", "", errors.New("connection reset")},
		{"already tagged", "", pipeline.Wrap(pipeline.ErrGeneration, "complete", errors.New("timeout"))},
		{"blank completion", "   \n", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := new(mockRetriever)
			client := newLLM()
			r.On("Retrieve", mock.Anything, mock.Anything).Return(retriever.Result{}, nil)
			client.On("Generate", mock.Anything, mock.Anything).Return(tt.text, tt.err).Once()

			o := New(r, client, nil, Options{}, logger.Discard())
			_, err := o.Answer(context.Background(), retriever.Query{Question: "q"})
			assert.ErrorIs(t, err, pipeline.ErrGeneration)
		})
	}
}

func TestAnswerSurfacesRetrievalError(t *testing.T) {
	r := new(mockRetriever)
	client := newLLM()
	r.On("Retrieve", mock.Anything, mock.Anything).Return(retriever.Result{}, pipeline.Wrap(pipeline.ErrVectorStore, "search", errors.New("down")))

	o := New(r, client, nil, Options{}, logger.Discard())
	_, err := o.Answer(context.Background(), retriever.Query{Question: "q"})
	assert.ErrorIs(t, err, pipeline.ErrVectorStore)
	client.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
}

func TestAnswerCompletionTimeout(t *testing.T) {
	r := new(mockRetriever)
	client := newLLM()
	r.On("Retrieve", mock.Anything, mock.Anything).Return(retriever.Result{}, nil)
	client.On("Generate", mock.MatchedBy(func(ctx context.Context) bool {
		_, ok := ctx.Deadline()
		return ok
	}), mock.Anything).Return("ok", nil).Once()

	o := New(r, client, nil, Options{CompletionTimeout: time.Minute}, logger.Discard())
	_, err := o.Answer(context.Background(), retriever.Query{Question: "q"})
	require.NoError(t, err)
	client.AssertExpectations(t)
}

func TestAnswerIsCachedPerScope(t *testing.T) {
	r := new(mockRetriever)
	client := newLLM()
	doc := uuid.New()
	r.On("Retrieve", mock.Anything, mock.Anything).Return(retriever.Result{Hits: []retriever.Hit{hit("x", "a.pdf", 0.5)}}, nil).Once()
	client.On("Generate", mock.Anything, mock.Anything).Return("cached answer", nil).Once()

	c := cache.NewMemoryCache()
	o := New(r, client, c, Options{CacheTTL: time.Hour}, logger.Discard())
	q := retriever.Query{Question: "q", DocumentIDs: []uuid.UUID{doc}}

	first, err := o.Answer(context.Background(), q)
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := o.Answer(context.Background(), q)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, "cached answer", second.Text)
	assert.Len(t, second.Retrieval.Hits, 1)

	require.NoError(t, c.InvalidateDocument(context.Background(), doc))
	r.On("Retrieve", mock.Anything, mock.Anything).Return(retriever.Result{}, nil).Once()
	client.On("Generate", mock.Anything, mock.Anything).Return("fresh", nil).Once()

	third, err := o.Answer(context.Background(), q)
	require.NoError(t, err)
	assert.False(t, third.Cached)
	assert.Equal(t, "fresh", third.Text)
}

func TestAnswerIgnoresCacheFailures(t *testing.T) {
	r := new(mockRetriever)
	client := newLLM()
	c := new(cache.MockCache)
	c.On("GetAnswer", mock.Anything, mock.Anything).Return(nil, errors.New("redis down"))
	c.On("SetAnswer", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("redis down"))
	r.On("Retrieve", mock.Anything, mock.Anything).Return(retriever.Result{}, nil)
	client.On("Generate", mock.Anything, mock.Anything).Return("ok", nil)

	o := New(r, client, c, Options{}, logger.Discard())
	ans, err := o.Answer(context.Background(), retriever.Query{Question: "q"})
	require.NoError(t, err)
	assert.Equal(t, "ok", ans.Text)
}
