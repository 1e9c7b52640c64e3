package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"doc-rag/internal/chunker"
	"doc-rag/internal/extractor"
)

// MockStore is a mock implementation of Store using testify/mock.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) CreateDocument(ctx context.Context, doc Document) (Document, error) {
	args := m.Called(ctx, doc)
	return args.Get(0).(Document), args.Error(1)
}

func (m *MockStore) GetDocument(ctx context.Context, id uuid.UUID) (Document, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(Document), args.Error(1)
}

func (m *MockStore) UpdateDocumentStatus(ctx context.Context, id uuid.UUID, status DocumentStatus) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}

func (m *MockStore) MarkFailed(ctx context.Context, id uuid.UUID, stage Stage, reason string) error {
	args := m.Called(ctx, id, stage, reason)
	return args.Error(0)
}

func (m *MockStore) MarkIndexed(ctx context.Context, id uuid.UUID, embeddingModel string) error {
	args := m.Called(ctx, id, embeddingModel)
	return args.Error(0)
}

func (m *MockStore) SaveExtractedText(ctx context.Context, text extractor.ExtractedText) error {
	args := m.Called(ctx, text)
	return args.Error(0)
}

func (m *MockStore) GetExtractedText(ctx context.Context, docID uuid.UUID) (extractor.ExtractedText, error) {
	args := m.Called(ctx, docID)
	return args.Get(0).(extractor.ExtractedText), args.Error(1)
}

func (m *MockStore) ReplaceChunks(ctx context.Context, docID uuid.UUID, chunks []chunker.Chunk) error {
	args := m.Called(ctx, docID, chunks)
	return args.Error(0)
}

func (m *MockStore) ListChunks(ctx context.Context, docID uuid.UUID) ([]chunker.Chunk, error) {
	args := m.Called(ctx, docID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]chunker.Chunk), args.Error(1)
}

func (m *MockStore) SaveSummary(ctx context.Context, summary Summary) error {
	args := m.Called(ctx, summary)
	return args.Error(0)
}

func (m *MockStore) GetSummary(ctx context.Context, docID uuid.UUID, mode string) (Summary, error) {
	args := m.Called(ctx, docID, mode)
	return args.Get(0).(Summary), args.Error(1)
}

func (m *MockStore) Close() error {
	args := m.Called()
	return args.Error(0)
}
