package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"doc-rag/internal/chunker"
	"doc-rag/internal/extractor"
)

type DocumentStatus string

const (
	StatusUploaded  DocumentStatus = "uploaded"
	StatusExtracted DocumentStatus = "extracted"
	StatusChunked   DocumentStatus = "chunked"
	StatusIndexed   DocumentStatus = "indexed"
	StatusFailed    DocumentStatus = "failed"
)

// Stage names the pipeline step a failed document stopped at.
type Stage string

const (
	StageExtraction Stage = "extraction"
	StageChunking   Stage = "chunking"
	StageEmbedding  Stage = "embedding"
	StageIndexing   Stage = "indexing"
)

var (
	ErrNotFound        = errors.New("document not found")
	ErrSummaryNotFound = errors.New("summary not found")
	ErrTextNotFound    = errors.New("extracted text not found")
)

type Document struct {
	ID             uuid.UUID      `json:"id"`
	Filename       string         `json:"filename"`
	StoragePath    string         `json:"storage_path"`
	ContentType    string         `json:"content_type"`
	Uploader       string         `json:"uploader"`
	ChunkSize      int            `json:"chunk_size"`
	ChunkOverlap   int            `json:"chunk_overlap"`
	Status         DocumentStatus `json:"status"`
	FailedStage    Stage          `json:"failed_stage,omitempty"`
	Error          string         `json:"error,omitempty"`
	EmbeddingModel string         `json:"embedding_model,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Policy returns the chunk policy recorded at upload.
func (d Document) Policy() chunker.Policy {
	return chunker.Policy{Size: d.ChunkSize, Overlap: d.ChunkOverlap}
}

type Summary struct {
	DocumentID uuid.UUID `json:"document_id"`
	Mode       string    `json:"mode"`
	Text       string    `json:"summary"`
	KeyPoints  []string  `json:"key_points"`
	Model      string    `json:"model"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store persists documents and the artifacts each pipeline stage produces.
// Documents are never deleted; failures are recorded as status.
type Store interface {
	// CreateDocument inserts doc in status uploaded. A nil ID is assigned.
	CreateDocument(ctx context.Context, doc Document) (Document, error)
	GetDocument(ctx context.Context, id uuid.UUID) (Document, error)
	// UpdateDocumentStatus moves a document and clears any recorded failure.
	UpdateDocumentStatus(ctx context.Context, id uuid.UUID, status DocumentStatus) error
	MarkFailed(ctx context.Context, id uuid.UUID, stage Stage, reason string) error
	MarkIndexed(ctx context.Context, id uuid.UUID, embeddingModel string) error

	// SaveExtractedText replaces any text previously extracted for the document.
	SaveExtractedText(ctx context.Context, text extractor.ExtractedText) error
	GetExtractedText(ctx context.Context, docID uuid.UUID) (extractor.ExtractedText, error)

	// ReplaceChunks swaps the document's chunk set atomically.
	ReplaceChunks(ctx context.Context, docID uuid.UUID, chunks []chunker.Chunk) error
	ListChunks(ctx context.Context, docID uuid.UUID) ([]chunker.Chunk, error)

	SaveSummary(ctx context.Context, summary Summary) error
	GetSummary(ctx context.Context, docID uuid.UUID, mode string) (Summary, error)

	Close() error
}
