package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"doc-rag/internal/retriever"
)

// Cache stores answers to questions. Every entry is tracked against the
// documents it was scoped to so re-ingesting a document drops stale answers.
type Cache interface {
	// GetAnswer returns nil on a miss.
	GetAnswer(ctx context.Context, key string) (*Answer, error)

	// SetAnswer stores an answer. An empty scope means the answer drew on
	// every document and is dropped whenever any document is re-ingested.
	SetAnswer(ctx context.Context, key string, answer *Answer, scope []uuid.UUID, ttl time.Duration) error

	// InvalidateDocument removes cached answers that could include docID.
	InvalidateDocument(ctx context.Context, docID uuid.UUID) error

	Close() error
}

// Answer is a cached query response.
type Answer struct {
	Text    string          `json:"text"`
	Model   string          `json:"model"`
	Hits    []retriever.Hit `json:"hits"`
	Dropped []retriever.Hit `json:"dropped,omitempty"`
}

// Key derives the cache key for a question. Scope order does not matter.
func Key(question string, scope []uuid.UUID, topK int, model string) string {
	ids := make([]string, len(scope))
	for i, id := range scope {
		ids[i] = id.String()
	}
	slices.Sort(ids)

	h := sha256.New()
	h.Write([]byte(strings.TrimSpace(question)))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(ids, ",")))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(topK)))
	h.Write([]byte{0})
	h.Write([]byte(model))
	return hex.EncodeToString(h.Sum(nil))
}
