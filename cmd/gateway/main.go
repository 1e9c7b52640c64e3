package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"doc-rag/internal/app"
	"doc-rag/internal/chunker"
	"doc-rag/internal/httputil"
	"doc-rag/internal/ingest"
	"doc-rag/internal/summarizer"
)

type summaryRequest struct {
	Mode string `json:"mode"`
}

func main() {
	deps, err := app.Build(app.NeedStore | app.NeedQueue | app.NeedLLM)
	if err != nil {
		slog.Default().Error("failed to build dependencies", "err", err)
		os.Exit(1)
	}
	defer deps.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", deps.Config.Port),
		Handler:           routes(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	deps.Log.Info("gateway listening", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		deps.Log.Error("server failed", "err", err)
	}
}

func routes(deps app.Deps) http.Handler {
	coord := deps.Coordinator()
	summ := deps.Summarizer()

	r := httputil.NewRouter(deps.Log)
	r.Route("/api/documents", func(r chi.Router) {
		r.Post("/", uploadHandler(deps, coord))
		r.Get("/{id}", documentHandler(deps))
		r.Get("/{id}/chunks", chunksHandler(deps))
		r.Post("/{id}/reingest", reingestHandler(deps, coord))
		r.Post("/{id}/summaries", summarizeHandler(deps, summ))
		r.Get("/{id}/summaries/{mode}", summaryHandler(deps))
	})
	r.Post("/api/query", queryHandler(deps))
	return r
}

var allowedTypes = map[string]bool{
	"text/plain":      true,
	"text/markdown":   true,
	"application/pdf": true,
}

func uploadHandler(deps app.Deps, coord *ingest.Coordinator) http.HandlerFunc {
	maxFileSize := deps.Config.MaxUploadSize

	return func(w http.ResponseWriter, r *http.Request) {
		// Validate file size before parsing
		if r.ContentLength > maxFileSize {
			httputil.Fail(deps.Log, w, fmt.Sprintf("file too large (max %d bytes)", maxFileSize), nil, http.StatusBadRequest)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxFileSize+1<<20)

		file, header, err := r.FormFile("file")
		if err != nil {
			httputil.Fail(deps.Log, w, "file is required", err, http.StatusBadRequest)
			return
		}
		defer file.Close()

		if header.Size > maxFileSize {
			httputil.Fail(deps.Log, w, fmt.Sprintf("file too large (max %d bytes)", maxFileSize), nil, http.StatusBadRequest)
			return
		}

		contentType := detectContentType(header.Header.Get("Content-Type"), header.Filename)
		if !allowedTypes[contentType] {
			httputil.Fail(deps.Log, w, "unsupported file type (only PDF, TXT and MD allowed)", nil, http.StatusBadRequest)
			return
		}

		policy, err := policyFromForm(r, deps.DefaultPolicy())
		if err != nil {
			httputil.Fail(deps.Log, w, "invalid chunk policy", err, http.StatusBadRequest)
			return
		}

		doc, err := coord.Submit(r.Context(), ingest.Upload{
			Filename:    header.Filename,
			ContentType: contentType,
			Uploader:    r.Header.Get("X-User"),
			Content:     file,
			Policy:      policy,
		})
		if err != nil {
			httputil.Error(deps.Log, w, "failed to submit document", err)
			return
		}

		httputil.WriteJSON(w, http.StatusAccepted, map[string]any{
			"document_id": doc.ID.String(),
			"status":      doc.Status,
		})
	}
}

// detectContentType trusts a declared type when present and falls back to the extension.
func detectContentType(declared, filename string) string {
	if declared != "" && declared != "application/octet-stream" {
		ct, _, _ := strings.Cut(declared, ";")
		return strings.TrimSpace(strings.ToLower(ct))
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".txt":
		return "text/plain"
	case ".md":
		return "text/markdown"
	case ".pdf":
		return "application/pdf"
	}
	return ""
}

func policyFromForm(r *http.Request, def chunker.Policy) (chunker.Policy, error) {
	p := def
	for field, dst := range map[string]*int{"chunk_size": &p.Size, "chunk_overlap": &p.Overlap} {
		raw := strings.TrimSpace(r.FormValue(field))
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			return chunker.Policy{}, fmt.Errorf("%s must be an integer: %w", field, err)
		}
		*dst = v
	}
	return p, p.Validate()
}

func parseID(deps app.Deps, w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httputil.Fail(deps.Log, w, "invalid document id", err, http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func documentHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(deps, w, r)
		if !ok {
			return
		}
		doc, err := deps.Store.GetDocument(r.Context(), id)
		if err != nil {
			httputil.Error(deps.Log, w, "failed to load document", err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, doc)
	}
}

func chunksHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(deps, w, r)
		if !ok {
			return
		}
		if _, err := deps.Store.GetDocument(r.Context(), id); err != nil {
			httputil.Error(deps.Log, w, "failed to load document", err)
			return
		}
		chunks, err := deps.Store.ListChunks(r.Context(), id)
		if err != nil {
			httputil.Error(deps.Log, w, "failed to list chunks", err)
			return
		}
		if chunks == nil {
			chunks = []chunker.Chunk{}
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{
			"document_id": id,
			"chunks":      chunks,
		})
	}
}

func reingestHandler(deps app.Deps, coord *ingest.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(deps, w, r)
		if !ok {
			return
		}
		doc, err := coord.Reingest(r.Context(), id)
		if err != nil {
			httputil.Error(deps.Log, w, "failed to queue re-ingestion", err)
			return
		}
		httputil.WriteJSON(w, http.StatusAccepted, map[string]any{
			"document_id": doc.ID.String(),
			"status":      doc.Status,
		})
	}
}

func summarizeHandler(deps app.Deps, summ *summarizer.Summarizer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(deps, w, r)
		if !ok {
			return
		}
		var req summaryRequest
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
				httputil.Fail(deps.Log, w, "invalid payload", err, http.StatusBadRequest)
				return
			}
		}
		mode := summarizer.ModeBrief
		if req.Mode != "" {
			var err error
			if mode, err = summarizer.ParseMode(req.Mode); err != nil {
				httputil.Error(deps.Log, w, "invalid summary mode", err)
				return
			}
		}

		sum, err := summ.SummarizeDocument(r.Context(), id, mode)
		if err != nil {
			httputil.Error(deps.Log, w, "failed to summarize document", err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, sum)
	}
}

func summaryHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(deps, w, r)
		if !ok {
			return
		}
		mode, err := summarizer.ParseMode(chi.URLParam(r, "mode"))
		if err != nil {
			httputil.Error(deps.Log, w, "invalid summary mode", err)
			return
		}
		sum, err := deps.Store.GetSummary(r.Context(), id, string(mode))
		if err != nil {
			httputil.Error(deps.Log, w, "summary not ready", err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, sum)
	}
}

func queryHandler(deps app.Deps) http.HandlerFunc {
	queryURL := deps.Config.QueryServiceURL
	client := &http.Client{Timeout: deps.Config.CompletionTimeout + 30*time.Second}

	return func(w http.ResponseWriter, r *http.Request) {
		// Forward request to query service
		req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, queryURL, r.Body)
		if err != nil {
			httputil.Fail(deps.Log, w, "failed to create request", err, http.StatusInternalServerError)
			return
		}
		req.Header.Set("Content-Type", "application/json")
		if id := r.Header.Get("X-Request-Id"); id != "" {
			req.Header.Set("X-Request-Id", id)
		}

		resp, err := client.Do(req)
		if err != nil {
			httputil.Fail(deps.Log, w, "query service unavailable", err, http.StatusServiceUnavailable)
			return
		}
		defer resp.Body.Close()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(resp.StatusCode)
		if _, err := io.Copy(w, resp.Body); err != nil {
			deps.Log.Error("failed to copy response", "err", err)
		}
	}
}
