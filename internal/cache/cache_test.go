package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"doc-rag/internal/retriever"
)

func TestNoOpCache(t *testing.T) {
	c := NewNoOpCache()
	ctx := context.Background()

	require.NoError(t, c.SetAnswer(ctx, "k", &Answer{Text: "a"}, nil, time.Hour))
	got, err := c.GetAnswer(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, c.InvalidateDocument(ctx, uuid.New()))
	assert.NoError(t, c.Close())
}

func TestKey(t *testing.T) {
	a, b := uuid.New(), uuid.New()

	assert.Equal(t, Key("q", []uuid.UUID{a, b}, 5, "m"), Key(" q ", []uuid.UUID{b, a}, 5, "m"))
	assert.NotEqual(t, Key("q", nil, 5, "m"), Key("q", []uuid.UUID{a}, 5, "m"))
	assert.NotEqual(t, Key("q", nil, 5, "m"), Key("q", nil, 6, "m"))
	assert.NotEqual(t, Key("q", nil, 5, "m"), Key("q", nil, 5, "other"))
	assert.Len(t, Key("q", nil, 5, "m"), 64)
}

func backends(t *testing.T) map[string]Cache {
	b := map[string]Cache{"memory": NewMemoryCache()}
	if addr := os.Getenv("REDIS_TEST_ADDR"); addr != "" {
		rc, err := NewRedisCache(addr, "")
		require.NoError(t, err)
		require.NoError(t, rc.client.FlushDB(context.Background()).Err())
		t.Cleanup(func() { rc.Close() })
		b["redis"] = rc
	}
	return b
}

func TestInvalidation(t *testing.T) {
	for name, c := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			docA, docB := uuid.New(), uuid.New()
			answer := &Answer{Text: "42", Model: "m", Hits: []retriever.Hit{{Text: "t", DocumentID: docA, Score: 0.5}}}

			require.NoError(t, c.SetAnswer(ctx, "scoped-a", answer, []uuid.UUID{docA}, time.Hour))
			require.NoError(t, c.SetAnswer(ctx, "scoped-b", answer, []uuid.UUID{docB}, time.Hour))
			require.NoError(t, c.SetAnswer(ctx, "all", answer, nil, time.Hour))

			got, err := c.GetAnswer(ctx, "scoped-a")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, "42", got.Text)
			require.Len(t, got.Hits, 1)
			assert.Equal(t, docA, got.Hits[0].DocumentID)

			require.NoError(t, c.InvalidateDocument(ctx, docA))

			got, err = c.GetAnswer(ctx, "scoped-a")
			require.NoError(t, err)
			assert.Nil(t, got)
			got, err = c.GetAnswer(ctx, "all")
			require.NoError(t, err)
			assert.Nil(t, got, "unscoped answers drop on any re-ingestion")
			got, err = c.GetAnswer(ctx, "scoped-b")
			require.NoError(t, err)
			assert.NotNil(t, got)
		})
	}
}

func TestMemoryCacheExpiry(t *testing.T) {
	c := NewMemoryCache()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, c.SetAnswer(ctx, "k", &Answer{Text: "a"}, nil, time.Minute))
	now = now.Add(2 * time.Minute)

	got, err := c.GetAnswer(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, got)
}
