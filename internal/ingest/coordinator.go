// Package ingest drives a document through extraction, chunking, embedding
// and indexing, recording progress and failures on the document.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"doc-rag/internal/cache"
	"doc-rag/internal/chunker"
	"doc-rag/internal/embeddings"
	"doc-rag/internal/extractor"
	"doc-rag/internal/metrics"
	"doc-rag/internal/pipeline"
	"doc-rag/internal/queue"
	"doc-rag/internal/retry"
	"doc-rag/internal/store"
	"doc-rag/internal/vectorstore"
)

// ErrInvalidUpload reports an upload that cannot be accepted as given.
var ErrInvalidUpload = errors.New("invalid upload")

type Upload struct {
	Filename    string
	ContentType string
	Uploader    string
	Content     io.Reader
	Policy      chunker.Policy
}

type Options struct {
	UploadDir         string
	ExtractionTimeout time.Duration
	EmbeddingTimeout  time.Duration
	IndexTimeout      time.Duration
	// MaxAttempts bounds queue retries of an ingest task; zero keeps the queue default.
	MaxAttempts int
}

// Deps are the stages and stores a Coordinator composes.
type Deps struct {
	Documents store.Store
	Extractor extractor.Extractor
	Chunker   chunker.Chunker
	Embedder  embeddings.Embedder
	Vectors   vectorstore.Store
	Queue     queue.Queue
	Cache     cache.Cache
}

type Coordinator struct {
	deps Deps
	opts Options
	log  *slog.Logger

	mu    sync.Mutex
	locks map[uuid.UUID]*docLock
}

// docLock is a per-document mutex shared by every run waiting on it.
type docLock struct {
	sync.Mutex
	refs int
}

func New(deps Deps, opts Options, log *slog.Logger) *Coordinator {
	if deps.Chunker == nil {
		deps.Chunker = chunker.SlidingWindow{}
	}
	if deps.Cache == nil {
		deps.Cache = cache.NewNoOpCache()
	}
	return &Coordinator{deps: deps, opts: opts, log: log.With("component", "ingest"), locks: make(map[uuid.UUID]*docLock)}
}

// Submit stores an upload as a new document and queues it for ingestion.
// The chunk policy is validated before anything is written.
func (c *Coordinator) Submit(ctx context.Context, up Upload) (store.Document, error) {
	if err := up.Policy.Validate(); err != nil {
		return store.Document{}, err
	}
	name := filepath.Base(strings.TrimSpace(up.Filename))
	if name == "." || name == string(filepath.Separator) || name == "" {
		return store.Document{}, fmt.Errorf("%w: filename required", ErrInvalidUpload)
	}
	if up.Content == nil {
		return store.Document{}, fmt.Errorf("%w: no content", ErrInvalidUpload)
	}

	id := uuid.New()
	path, err := c.save(id, name, up.Content)
	if err != nil {
		return store.Document{}, err
	}

	doc, err := c.deps.Documents.CreateDocument(ctx, store.Document{
		ID:           id,
		Filename:     name,
		StoragePath:  path,
		ContentType:  up.ContentType,
		Uploader:     up.Uploader,
		ChunkSize:    up.Policy.Size,
		ChunkOverlap: up.Policy.Overlap,
	})
	if err != nil {
		os.Remove(path)
		return store.Document{}, fmt.Errorf("failed to create document: %w", err)
	}
	metrics.DocumentsSubmitted.Add(1)

	if err := c.enqueue(ctx, doc.ID); err != nil {
		return doc, err
	}
	c.log.Info("document submitted", "document_id", doc.ID, "filename", name, "uploader", up.Uploader)
	return doc, nil
}

func (c *Coordinator) save(id uuid.UUID, name string, content io.Reader) (string, error) {
	if err := os.MkdirAll(c.opts.UploadDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create upload dir: %w", err)
	}
	path := filepath.Join(c.opts.UploadDir, id.String()+"_"+name)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create upload file: %w", err)
	}
	if _, err := io.Copy(f, content); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("failed to write upload: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to write upload: %w", err)
	}
	return path, nil
}

// Reingest queues an existing document to run through the pipeline again.
func (c *Coordinator) Reingest(ctx context.Context, docID uuid.UUID) (store.Document, error) {
	doc, err := c.deps.Documents.GetDocument(ctx, docID)
	if err != nil {
		return store.Document{}, err
	}
	if err := c.enqueue(ctx, docID); err != nil {
		return store.Document{}, err
	}
	c.log.Info("document queued for re-ingestion", "document_id", docID, "status", doc.Status)
	return doc, nil
}

func (c *Coordinator) enqueue(ctx context.Context, docID uuid.UUID) error {
	task, err := queue.NewIngestTask(docID)
	if err != nil {
		return err
	}
	if c.opts.MaxAttempts > 0 {
		task.MaxAttempts = c.opts.MaxAttempts
	}
	if err := queue.EnqueueWithRetry(ctx, c.deps.Queue, task, 3, 100*time.Millisecond); err != nil {
		return fmt.Errorf("failed to enqueue ingest task: %w", err)
	}
	return nil
}

// Handle is the queue handler for ingest tasks. Failures that cannot succeed
// on a retry are marked permanent.
func (c *Coordinator) Handle(ctx context.Context, task queue.Task) error {
	p, err := queue.DecodeIngest(task)
	if err != nil {
		return err
	}
	err = c.Run(ctx, p.DocumentID)
	if err != nil && (!pipeline.Retryable(err) || errors.Is(err, store.ErrNotFound)) {
		return retry.Permanent(err)
	}
	return err
}

// Run executes every stage for one document in order. A document that has
// been through the pipeline before loses its chunks and vectors first and
// returns to uploaded. Cached answers covering the document are dropped once
// it is indexed. The first failing stage is recorded and its error returned.
func (c *Coordinator) Run(ctx context.Context, docID uuid.UUID) error {
	unlock := c.lock(docID)
	defer unlock()

	doc, err := c.deps.Documents.GetDocument(ctx, docID)
	if err != nil {
		return err
	}
	log := c.log.With("document_id", docID)
	start := time.Now()

	if doc.Status != store.StatusUploaded {
		if err := c.reset(ctx, doc); err != nil {
			return c.fail(ctx, log, docID, store.StageIndexing, err)
		}
	}

	text, err := c.extract(ctx, doc)
	if err != nil {
		return c.fail(ctx, log, docID, store.StageExtraction, err)
	}
	if err := c.deps.Documents.UpdateDocumentStatus(ctx, docID, store.StatusExtracted); err != nil {
		return c.fail(ctx, log, docID, store.StageExtraction, err)
	}
	log.Info("stage complete", "stage", store.StageExtraction, "chars", len([]rune(text.Text)), "elements", len(text.Elements))

	chunks, err := c.chunk(ctx, doc, text)
	if err != nil {
		return c.fail(ctx, log, docID, store.StageChunking, err)
	}
	if err := c.deps.Documents.UpdateDocumentStatus(ctx, docID, store.StatusChunked); err != nil {
		return c.fail(ctx, log, docID, store.StageChunking, err)
	}
	log.Info("stage complete", "stage", store.StageChunking, "chunks", len(chunks))

	vectors, err := c.embed(ctx, chunks)
	if err != nil {
		return c.fail(ctx, log, docID, store.StageEmbedding, err)
	}

	if err := c.index(ctx, chunks, vectors); err != nil {
		return c.fail(ctx, log, docID, store.StageIndexing, err)
	}
	if err := c.deps.Documents.MarkIndexed(ctx, docID, c.deps.Embedder.Model()); err != nil {
		return c.fail(ctx, log, docID, store.StageIndexing, err)
	}

	c.invalidate(ctx, log, docID)

	metrics.DocumentsIndexed.Add(1)
	metrics.ChunksIndexed.Add(int64(len(chunks)))
	log.Info("document indexed", "chunks", len(chunks), "model", c.deps.Embedder.Model(), "duration", time.Since(start))
	return nil
}

func (c *Coordinator) reset(ctx context.Context, doc store.Document) error {
	vctx, cancel := withTimeout(ctx, c.opts.IndexTimeout)
	defer cancel()
	if err := c.deps.Vectors.Delete(vctx, doc.ID); err != nil {
		return err
	}
	if err := c.deps.Documents.ReplaceChunks(ctx, doc.ID, nil); err != nil {
		return fmt.Errorf("failed to clear chunks: %w", err)
	}
	c.invalidate(ctx, c.log.With("document_id", doc.ID), doc.ID)
	if err := c.deps.Documents.UpdateDocumentStatus(ctx, doc.ID, store.StatusUploaded); err != nil {
		return fmt.Errorf("failed to reset status: %w", err)
	}
	return nil
}

// invalidate drops cached answers that could cover docID. Failures are logged only.
func (c *Coordinator) invalidate(ctx context.Context, log *slog.Logger, docID uuid.UUID) {
	if err := c.deps.Cache.InvalidateDocument(ctx, docID); err != nil {
		log.Warn("failed to invalidate cached answers", "err", err)
	}
}

func (c *Coordinator) extract(ctx context.Context, doc store.Document) (extractor.ExtractedText, error) {
	data, err := os.ReadFile(doc.StoragePath)
	if err != nil {
		return extractor.ExtractedText{}, pipeline.Wrap(pipeline.ErrExtraction, "read upload", err)
	}

	ectx, cancel := withTimeout(ctx, c.opts.ExtractionTimeout)
	defer cancel()
	text, err := c.deps.Extractor.Extract(ectx, extractor.File{Name: doc.Filename, ContentType: doc.ContentType, Data: data})
	if err != nil {
		if pipeline.KindOf(err) == nil {
			err = pipeline.Wrap(pipeline.ErrExtraction, "extract", err)
		}
		return extractor.ExtractedText{}, err
	}
	if strings.TrimSpace(text.Text) == "" {
		return extractor.ExtractedText{}, pipeline.Errorf(pipeline.ErrExtraction, "extract", "no text extracted from %s", doc.Filename)
	}

	text.DocumentID = doc.ID.String()
	if err := c.deps.Documents.SaveExtractedText(ctx, text); err != nil {
		return extractor.ExtractedText{}, fmt.Errorf("failed to save extracted text: %w", err)
	}
	return text, nil
}

func (c *Coordinator) chunk(ctx context.Context, doc store.Document, text extractor.ExtractedText) ([]chunker.Chunk, error) {
	chunks, err := c.deps.Chunker.Chunk(text.Text, doc.Policy())
	if err != nil {
		return nil, err
	}
	for i := range chunks {
		chunks[i].DocumentID = doc.ID
		chunks[i].Metadata = map[string]any{
			"source":      doc.Filename,
			"page":        text.PageAt(chunks[i].Start),
			"document_id": doc.ID.String(),
		}
	}
	if err := c.deps.Documents.ReplaceChunks(ctx, doc.ID, chunks); err != nil {
		return nil, fmt.Errorf("failed to save chunks: %w", err)
	}
	return chunks, nil
}

func (c *Coordinator) embed(ctx context.Context, chunks []chunker.Chunk) ([]embeddings.Vector, error) {
	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}

	ectx, cancel := withTimeout(ctx, c.opts.EmbeddingTimeout)
	defer cancel()
	vectors, err := c.deps.Embedder.EmbedBatch(ectx, texts)
	if err != nil {
		if pipeline.KindOf(err) == nil {
			err = pipeline.Wrap(pipeline.ErrEmbedding, "embed chunks", err)
		}
		return nil, err
	}
	if len(vectors) != len(chunks) {
		return nil, pipeline.Errorf(pipeline.ErrEmbedding, "embed chunks", "got %d vectors for %d chunks", len(vectors), len(chunks))
	}
	return vectors, nil
}

func (c *Coordinator) index(ctx context.Context, chunks []chunker.Chunk, vectors []embeddings.Vector) error {
	model := c.deps.Embedder.Model()
	records := make([]vectorstore.Record, len(chunks))
	for i, ch := range chunks {
		records[i] = vectorstore.Record{
			DocumentID: ch.DocumentID,
			Ordinal:    ch.Ordinal,
			Text:       ch.Text,
			Metadata:   ch.Metadata,
			Model:      model,
			Vector:     vectors[i],
		}
	}
	ictx, cancel := withTimeout(ctx, c.opts.IndexTimeout)
	defer cancel()
	return c.deps.Vectors.Upsert(ictx, records)
}

func (c *Coordinator) fail(ctx context.Context, log *slog.Logger, docID uuid.UUID, stage store.Stage, err error) error {
	metrics.DocumentsFailed.Add(string(stage), 1)
	log.Error("ingestion failed", "stage", stage, "err", err)
	if mErr := c.deps.Documents.MarkFailed(context.WithoutCancel(ctx), docID, stage, err.Error()); mErr != nil {
		log.Error("failed to record ingestion failure", "stage", stage, "err", mErr)
	}
	return err
}

// lock serialises runs of the same document within this process. The entry
// is removed once no run holds or waits for it.
func (c *Coordinator) lock(docID uuid.UUID) func() {
	c.mu.Lock()
	l, ok := c.locks[docID]
	if !ok {
		l = &docLock{}
		c.locks[docID] = l
	}
	l.refs++
	c.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		c.mu.Lock()
		if l.refs--; l.refs == 0 {
			delete(c.locks, docID)
		}
		c.mu.Unlock()
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
