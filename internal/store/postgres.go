package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"

	"doc-rag/internal/chunker"
	"doc-rag/internal/extractor"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	s := &PostgresStore{db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	// Use advisory lock to prevent concurrent migrations from multiple services.
	const lockID = 123456789

	var acquired bool
	err := s.db.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, lockID).Scan(&acquired)
	if err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	if !acquired {
		// Another service is running migrations; wait briefly and skip
		time.Sleep(2 * time.Second)
		return nil
	}
	defer func() {
		_, _ = s.db.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, lockID)
	}()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			id UUID PRIMARY KEY,
			filename TEXT NOT NULL,
			storage_path TEXT NOT NULL,
			content_type TEXT NOT NULL DEFAULT '',
			uploader TEXT NOT NULL DEFAULT '',
			chunk_size INT NOT NULL,
			chunk_overlap INT NOT NULL,
			status TEXT NOT NULL,
			failed_stage TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			embedding_model TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE TABLE IF NOT EXISTS extracted_texts (
			document_id UUID PRIMARY KEY REFERENCES documents(id) ON DELETE CASCADE,
			text TEXT NOT NULL,
			elements JSONB NOT NULL DEFAULT '[]'::jsonb,
			extracted_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE TABLE IF NOT EXISTS chunks (
			document_id UUID NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
			ord INT NOT NULL,
			text TEXT NOT NULL,
			start_offset INT NOT NULL,
			length INT NOT NULL,
			overlap INT NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
			PRIMARY KEY (document_id, ord)
		);`,
		`CREATE TABLE IF NOT EXISTS summaries (
			document_id UUID NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
			mode TEXT NOT NULL,
			summary TEXT NOT NULL,
			key_points TEXT[] NOT NULL DEFAULT ARRAY[]::TEXT[],
			model TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (document_id, mode)
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) CreateDocument(ctx context.Context, doc Document) (Document, error) {
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	doc.Status = StatusUploaded
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO documents(id, filename, storage_path, content_type, uploader, chunk_size, chunk_overlap, status)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at, updated_at`,
		doc.ID, doc.Filename, doc.StoragePath, doc.ContentType, doc.Uploader, doc.ChunkSize, doc.ChunkOverlap, doc.Status,
	).Scan(&doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return Document{}, err
	}
	return doc, nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, id uuid.UUID) (Document, error) {
	var d Document
	err := s.db.QueryRowContext(ctx, `
		SELECT id, filename, storage_path, content_type, uploader, chunk_size, chunk_overlap,
			status, failed_stage, error, embedding_model, created_at, updated_at
		FROM documents WHERE id=$1`, id,
	).Scan(&d.ID, &d.Filename, &d.StoragePath, &d.ContentType, &d.Uploader, &d.ChunkSize, &d.ChunkOverlap,
		&d.Status, &d.FailedStage, &d.Error, &d.EmbeddingModel, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("failed to get document %s: %w", id, err)
	}
	return d, nil
}

func (s *PostgresStore) UpdateDocumentStatus(ctx context.Context, id uuid.UUID, status DocumentStatus) error {
	return s.update(ctx, `UPDATE documents SET status=$1, failed_stage='', error='', updated_at=now() WHERE id=$2`, status, id)
}

func (s *PostgresStore) MarkFailed(ctx context.Context, id uuid.UUID, stage Stage, reason string) error {
	return s.update(ctx, `UPDATE documents SET status=$1, failed_stage=$2, error=$3, updated_at=now() WHERE id=$4`,
		StatusFailed, stage, reason, id)
}

func (s *PostgresStore) MarkIndexed(ctx context.Context, id uuid.UUID, embeddingModel string) error {
	return s.update(ctx, `UPDATE documents SET status=$1, embedding_model=$2, failed_stage='', error='', updated_at=now() WHERE id=$3`,
		StatusIndexed, embeddingModel, id)
}

func (s *PostgresStore) update(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SaveExtractedText(ctx context.Context, text extractor.ExtractedText) error {
	elements, err := json.Marshal(text.Elements)
	if err != nil {
		return fmt.Errorf("failed to encode elements: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO extracted_texts(document_id, text, elements, extracted_at)
		VALUES($1,$2,$3,now())
		ON CONFLICT (document_id) DO UPDATE SET text=excluded.text, elements=excluded.elements, extracted_at=excluded.extracted_at`,
		text.DocumentID, text.Text, string(elements))
	return err
}

func (s *PostgresStore) GetExtractedText(ctx context.Context, docID uuid.UUID) (extractor.ExtractedText, error) {
	var (
		out      extractor.ExtractedText
		elements []byte
	)
	err := s.db.QueryRowContext(ctx, `SELECT document_id, text, elements FROM extracted_texts WHERE document_id=$1`, docID).
		Scan(&out.DocumentID, &out.Text, &elements)
	if errors.Is(err, sql.ErrNoRows) {
		return extractor.ExtractedText{}, ErrTextNotFound
	}
	if err != nil {
		return extractor.ExtractedText{}, fmt.Errorf("failed to get extracted text for doc %s: %w", docID, err)
	}
	if err := json.Unmarshal(elements, &out.Elements); err != nil {
		return extractor.ExtractedText{}, fmt.Errorf("failed to decode elements for doc %s: %w", docID, err)
	}
	return out, nil
}

func (s *PostgresStore) ReplaceChunks(ctx context.Context, docID uuid.UUID, chunks []chunker.Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id=$1`, docID); err != nil {
		return err
	}
	for _, c := range chunks {
		meta, err := json.Marshal(c.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode chunk metadata: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO chunks(document_id, ord, text, start_offset, length, overlap, metadata)
			VALUES($1,$2,$3,$4,$5,$6,$7)`,
			docID, c.Ordinal, c.Text, c.Start, c.Length, c.Overlap, string(meta))
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *PostgresStore) ListChunks(ctx context.Context, docID uuid.UUID) ([]chunker.Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ord, text, start_offset, length, overlap, metadata
		FROM chunks WHERE document_id=$1 ORDER BY ord`, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []chunker.Chunk
	for rows.Next() {
		var (
			c    chunker.Chunk
			meta []byte
		)
		if err := rows.Scan(&c.Ordinal, &c.Text, &c.Start, &c.Length, &c.Overlap, &meta); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(meta, &c.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode chunk metadata: %w", err)
		}
		c.DocumentID = docID
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SaveSummary(ctx context.Context, summary Summary) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO summaries(document_id, mode, summary, key_points, model, created_at)
		VALUES($1,$2,$3,$4,$5,now())
		ON CONFLICT (document_id, mode) DO UPDATE SET
			summary=excluded.summary, key_points=excluded.key_points, model=excluded.model, created_at=excluded.created_at`,
		summary.DocumentID, summary.Mode, summary.Text, pq.Array(pqStringArray(summary.KeyPoints)), summary.Model)
	return err
}

func (s *PostgresStore) GetSummary(ctx context.Context, docID uuid.UUID, mode string) (Summary, error) {
	var sum Summary
	var keyPoints []string
	row := s.db.QueryRowContext(ctx, `
		SELECT summary, key_points, model, created_at FROM summaries WHERE document_id=$1 AND mode=$2`, docID, mode)
	if err := row.Scan(&sum.Text, pq.Array(&keyPoints), &sum.Model, &sum.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Summary{}, ErrSummaryNotFound
		}
		return Summary{}, fmt.Errorf("failed to get summary for doc %s: %w", docID, err)
	}
	sum.DocumentID = docID
	sum.Mode = mode
	sum.KeyPoints = keyPoints
	return sum, nil
}

func (s *PostgresStore) Close() error { return s.db.Close() }

func pqStringArray(items []string) []string {
	if len(items) == 0 {
		return []string{}
	}
	return items
}
