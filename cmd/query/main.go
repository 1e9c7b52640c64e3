package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"doc-rag/internal/app"
	"doc-rag/internal/httputil"
	"doc-rag/internal/rag"
	"doc-rag/internal/retriever"
)

type queryRequest struct {
	Question    string   `json:"question" validate:"required,min=1,max=2000"`
	DocumentIDs []string `json:"document_ids" validate:"omitempty,dive,uuid"`
	TopK        int      `json:"top_k" validate:"omitempty,min=1,max=100"`
}

type source struct {
	DocumentID string  `json:"document_id"`
	Source     string  `json:"source"`
	Page       int     `json:"page,omitempty"`
	Ordinal    int     `json:"ordinal"`
	Score      float32 `json:"score"`
	Preview    string  `json:"preview"` // Truncated text preview
}

func main() {
	deps, err := app.Build(app.NeedVectors | app.NeedEmbedder | app.NeedLLM | app.NeedCache)
	if err != nil {
		slog.Default().Error("failed to build dependencies", "err", err)
		os.Exit(1)
	}
	defer deps.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", deps.Config.Port),
		Handler:           routes(deps.Log, deps.Orchestrator(), deps.Retriever()),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	deps.Log.Info("query service listening", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		deps.Log.Error("server error", "err", err)
	}
}

// Answerer produces grounded answers.
type Answerer interface {
	Answer(ctx context.Context, q retriever.Query) (rag.Answer, error)
}

// Searcher returns the chunks nearest a question.
type Searcher interface {
	Retrieve(ctx context.Context, q retriever.Query) (retriever.Result, error)
}

func routes(log *slog.Logger, answerer Answerer, searcher Searcher) http.Handler {
	r := httputil.NewRouter(log)
	r.Post("/api/query", queryHandler(log, answerer))
	r.Post("/api/retrieve", retrieveHandler(log, searcher))
	return r
}

// decodeQuery reads and validates a request body. It writes the error
// response itself and reports whether the caller may proceed.
func decodeQuery(log *slog.Logger, w http.ResponseWriter, r *http.Request) (retriever.Query, bool) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Fail(log, w, "invalid payload", err, http.StatusBadRequest)
		return retriever.Query{}, false
	}
	req.Question = strings.TrimSpace(req.Question)
	if err := httputil.Validator.Struct(&req); err != nil {
		httputil.ValidationError(log, w, err)
		return retriever.Query{}, false
	}

	q := retriever.Query{Question: req.Question, TopK: req.TopK}
	for _, s := range req.DocumentIDs {
		id, err := uuid.Parse(s)
		if err != nil {
			httputil.Fail(log, w, "invalid document id", err, http.StatusBadRequest)
			return retriever.Query{}, false
		}
		q.DocumentIDs = append(q.DocumentIDs, id)
	}
	return q, true
}

func queryHandler(log *slog.Logger, answerer Answerer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q, ok := decodeQuery(log, w, r)
		if !ok {
			return
		}

		answer, err := answerer.Answer(r.Context(), q)
		if err != nil {
			httputil.Error(log, w, "failed to answer question", err)
			return
		}

		httputil.WriteJSON(w, http.StatusOK, map[string]any{
			"answer":  answer.Text,
			"sources": buildSources(answer.Retrieval.Hits),
			"dropped": len(answer.Dropped),
			"model":   answer.Model,
			"cached":  answer.Cached,
		})
	}
}

func retrieveHandler(log *slog.Logger, searcher Searcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q, ok := decodeQuery(log, w, r)
		if !ok {
			return
		}
		res, err := searcher.Retrieve(r.Context(), q)
		if err != nil {
			httputil.Error(log, w, "retrieval failed", err)
			return
		}
		if res.Hits == nil {
			res.Hits = []retriever.Hit{}
		}
		httputil.WriteJSON(w, http.StatusOK, res)
	}
}

// buildSources converts hits into source structs with truncated previews.
func buildSources(hits []retriever.Hit) []source {
	sources := make([]source, len(hits))
	for i, h := range hits {
		sources[i] = source{
			DocumentID: h.DocumentID.String(),
			Source:     h.Source(),
			Page:       h.Page(),
			Ordinal:    h.Ordinal,
			Score:      h.Score,
			Preview:    truncate(h.Text, 150),
		}
	}
	return sources
}

// truncate limits text to maxLen characters, cutting at a word boundary.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	cut := string(runes[:maxLen])
	if idx := strings.LastIndex(cut, " "); idx > 0 {
		return cut[:idx] + "..."
	}
	return cut + "..."
}
