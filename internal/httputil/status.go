package httputil

import (
	"errors"
	"log/slog"
	"net/http"

	"doc-rag/internal/ingest"
	"doc-rag/internal/pipeline"
	"doc-rag/internal/store"
	"doc-rag/internal/summarizer"
)

// StatusFor maps pipeline and store errors to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, pipeline.ErrInvalidChunkPolicy),
		errors.Is(err, ingest.ErrInvalidUpload),
		errors.Is(err, summarizer.ErrUnknownMode),
		errors.Is(err, summarizer.ErrEmptyText):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, store.ErrSummaryNotFound),
		errors.Is(err, store.ErrTextNotFound):
		return http.StatusNotFound
	case errors.Is(err, summarizer.ErrNotExtracted):
		return http.StatusConflict
	case errors.Is(err, pipeline.ErrExtraction),
		errors.Is(err, pipeline.ErrEmbedding),
		errors.Is(err, pipeline.ErrRetrieval),
		errors.Is(err, pipeline.ErrGeneration):
		return http.StatusBadGateway
	case errors.Is(err, pipeline.ErrVectorStore):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// Error writes err with the status StatusFor picks.
func Error(log *slog.Logger, w http.ResponseWriter, message string, err error) {
	Fail(log, w, message, err, StatusFor(err))
}
