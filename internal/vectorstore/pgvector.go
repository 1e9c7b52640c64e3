package vectorstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"doc-rag/internal/pipeline"
)

// migrationLockID guards schema creation across services sharing one database.
const migrationLockID = 723114509

// PGVector stores records in Postgres using the pgvector extension.
type PGVector struct {
	db *sql.DB
}

// NewPGVector connects and creates the schema. dimension fixes the
// embedding column width and must match the configured embedding model.
func NewPGVector(ctx context.Context, dsn string, dimension int) (*PGVector, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("vector dimension must be positive, got %d", dimension)
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	s := &PGVector{db: db}
	if err := s.migrate(ctx, dimension); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PGVector) migrate(ctx context.Context, dimension int) error {
	var acquired bool
	if err := s.db.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, migrationLockID).Scan(&acquired); err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	if !acquired {
		// Another service is running migrations; wait briefly and skip
		time.Sleep(2 * time.Second)
		return nil
	}
	defer func() {
		_, _ = s.db.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, migrationLockID)
	}()

	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS vector_records (
			id UUID PRIMARY KEY,
			document_id UUID NOT NULL,
			ord INT NOT NULL,
			text TEXT NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
			model TEXT NOT NULL,
			embedding vector(%d) NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (document_id, ord)
		)`, dimension),
		`CREATE INDEX IF NOT EXISTS vector_records_model_idx ON vector_records (model)`,
		`CREATE INDEX IF NOT EXISTS vector_records_embedding_idx
			ON vector_records USING hnsw (embedding vector_cosine_ops)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("vector store migration failed: %w", err)
		}
	}
	return nil
}

func (s *PGVector) Upsert(ctx context.Context, records []Record) error {
	batch, err := prepareBatch(records)
	if err != nil || len(batch) == 0 {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return pipeline.Wrap(pipeline.ErrVectorStore, "upsert", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO vector_records (id, document_id, ord, text, metadata, model, embedding, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (id) DO UPDATE SET
			text = excluded.text,
			metadata = excluded.metadata,
			model = excluded.model,
			embedding = excluded.embedding,
			updated_at = excluded.updated_at`)
	if err != nil {
		return pipeline.Wrap(pipeline.ErrVectorStore, "upsert", err)
	}
	defer stmt.Close()

	for _, r := range batch {
		meta, err := json.Marshal(nonNilMetadata(r.Metadata))
		if err != nil {
			return pipeline.Wrap(pipeline.ErrVectorStore, "upsert", fmt.Errorf("encode metadata: %w", err))
		}
		if _, err := stmt.ExecContext(ctx, r.ID, r.DocumentID, r.Ordinal, r.Text, string(meta), r.Model, pgvector.NewVector(r.Vector)); err != nil {
			return pipeline.Wrap(pipeline.ErrVectorStore, "upsert", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return pipeline.Wrap(pipeline.ErrVectorStore, "upsert", err)
	}
	return nil
}

func (s *PGVector) SimilaritySearch(ctx context.Context, q Search) ([]Match, error) {
	if err := validateSearch(q); err != nil {
		return nil, err
	}

	query, args := searchQuery(q)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, pipeline.Wrap(pipeline.ErrVectorStore, "search", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var (
			r     Record
			meta  []byte
			vec   pgvector.Vector
			score float64
		)
		if err := rows.Scan(&r.ID, &r.DocumentID, &r.Ordinal, &r.Text, &meta, &r.Model, &vec, &score); err != nil {
			return nil, pipeline.Wrap(pipeline.ErrVectorStore, "search", err)
		}
		if err := json.Unmarshal(meta, &r.Metadata); err != nil {
			return nil, pipeline.Wrap(pipeline.ErrVectorStore, "search", fmt.Errorf("decode metadata: %w", err))
		}
		r.Vector = vec.Slice()
		matches = append(matches, Match{Record: r, Score: float32(score)})
	}
	if err := rows.Err(); err != nil {
		return nil, pipeline.Wrap(pipeline.ErrVectorStore, "search", err)
	}
	// The database orders by distance only; ties are broken here.
	return rank(matches, q.TopK), nil
}

// searchOverfetch extra candidates let rank break ties that straddle top_k.
const searchOverfetch = 8

// searchQuery orders by distance alone so the planner can use the HNSW index.
func searchQuery(q Search) (string, []any) {
	query := `
		SELECT id, document_id, ord, text, metadata, model, embedding,
			1 - (embedding <=> $1::vector) AS score
		FROM vector_records
		WHERE model = $2`
	args := []any{pgvector.NewVector(q.Vector), q.Model}
	if len(q.DocumentIDs) > 0 {
		ids := make([]string, len(q.DocumentIDs))
		for i, id := range q.DocumentIDs {
			ids[i] = id.String()
		}
		args = append(args, pq.Array(ids))
		query += fmt.Sprintf(` AND document_id = ANY($%d::uuid[])`, len(args))
	}
	args = append(args, q.TopK+searchOverfetch)
	query += fmt.Sprintf(` ORDER BY embedding <=> $1::vector LIMIT $%d`, len(args))
	return query, args
}

func (s *PGVector) Delete(ctx context.Context, documentID uuid.UUID) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM vector_records WHERE document_id = $1`, documentID); err != nil {
		return pipeline.Wrap(pipeline.ErrVectorStore, "delete", err)
	}
	return nil
}

func (s *PGVector) Close() error { return s.db.Close() }

func nonNilMetadata(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
