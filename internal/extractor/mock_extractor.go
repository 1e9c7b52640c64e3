package extractor

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockExtractor is a mock implementation of Extractor using testify/mock.
type MockExtractor struct {
	mock.Mock
}

func (m *MockExtractor) Extract(ctx context.Context, f File) (ExtractedText, error) {
	args := m.Called(ctx, f)
	return args.Get(0).(ExtractedText), args.Error(1)
}
