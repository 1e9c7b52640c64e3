package vectorstore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"doc-rag/internal/embeddings"
	"doc-rag/internal/pipeline"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS vector_records (
    id TEXT PRIMARY KEY,
    document_id TEXT NOT NULL,
    ord INTEGER NOT NULL,
    text TEXT NOT NULL,
    metadata TEXT NOT NULL,
    model TEXT NOT NULL,
    vector BLOB NOT NULL,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    UNIQUE (document_id, ord)
);
CREATE INDEX IF NOT EXISTS idx_vector_records_model ON vector_records(model);
CREATE INDEX IF NOT EXISTS idx_vector_records_document ON vector_records(document_id);
`

// SQLite is a single-file vector store. Similarity is computed in process
// over the records of the queried model.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the database at path. ":memory:" is accepted.
func NewSQLite(path string) (*SQLite, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection serialises writers and keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Upsert(ctx context.Context, records []Record) error {
	batch, err := prepareBatch(records)
	if err != nil || len(batch) == 0 {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return pipeline.Wrap(pipeline.ErrVectorStore, "upsert", err)
	}
	defer tx.Rollback()

	for _, r := range batch {
		meta, err := json.Marshal(nonNilMetadata(r.Metadata))
		if err != nil {
			return pipeline.Wrap(pipeline.ErrVectorStore, "upsert", fmt.Errorf("encode metadata: %w", err))
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO vector_records (id, document_id, ord, text, metadata, model, vector, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(id) DO UPDATE SET
				text = excluded.text,
				metadata = excluded.metadata,
				model = excluded.model,
				vector = excluded.vector,
				updated_at = excluded.updated_at`,
			r.ID.String(), r.DocumentID.String(), r.Ordinal, r.Text, string(meta), r.Model, serializeVector(r.Vector))
		if err != nil {
			return pipeline.Wrap(pipeline.ErrVectorStore, "upsert", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return pipeline.Wrap(pipeline.ErrVectorStore, "upsert", err)
	}
	return nil
}

func (s *SQLite) SimilaritySearch(ctx context.Context, q Search) ([]Match, error) {
	if err := validateSearch(q); err != nil {
		return nil, err
	}

	query := `SELECT id, document_id, ord, text, metadata, model, vector FROM vector_records WHERE model = ?`
	args := []any{q.Model}
	if len(q.DocumentIDs) > 0 {
		placeholders := make([]string, len(q.DocumentIDs))
		for i, id := range q.DocumentIDs {
			placeholders[i] = "?"
			args = append(args, id.String())
		}
		query += ` AND document_id IN (` + strings.Join(placeholders, ",") + `)`
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, pipeline.Wrap(pipeline.ErrVectorStore, "search", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var (
			r          Record
			id, docID  string
			meta       string
			vectorBlob []byte
		)
		if err := rows.Scan(&id, &docID, &r.Ordinal, &r.Text, &meta, &r.Model, &vectorBlob); err != nil {
			return nil, pipeline.Wrap(pipeline.ErrVectorStore, "search", err)
		}
		if r.ID, err = uuid.Parse(id); err != nil {
			return nil, pipeline.Wrap(pipeline.ErrVectorStore, "search", err)
		}
		if r.DocumentID, err = uuid.Parse(docID); err != nil {
			return nil, pipeline.Wrap(pipeline.ErrVectorStore, "search", err)
		}
		if err := json.Unmarshal([]byte(meta), &r.Metadata); err != nil {
			return nil, pipeline.Wrap(pipeline.ErrVectorStore, "search", fmt.Errorf("decode metadata: %w", err))
		}
		r.Vector = deserializeVector(vectorBlob)
		if len(r.Vector) != len(q.Vector) {
			return nil, pipeline.Errorf(pipeline.ErrVectorStore, "search", "query dimension %d does not match stored dimension %d for model %q", len(q.Vector), len(r.Vector), q.Model)
		}
		matches = append(matches, Match{Record: r, Score: embeddings.CosineSimilarity(q.Vector, r.Vector)})
	}
	if err := rows.Err(); err != nil {
		return nil, pipeline.Wrap(pipeline.ErrVectorStore, "search", err)
	}
	return rank(matches, q.TopK), nil
}

func (s *SQLite) Delete(ctx context.Context, documentID uuid.UUID) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM vector_records WHERE document_id = ?`, documentID.String()); err != nil {
		return pipeline.Wrap(pipeline.ErrVectorStore, "delete", err)
	}
	return nil
}

func (s *SQLite) Close() error { return s.db.Close() }

// serializeVector converts a float32 slice to little-endian bytes for storage
func serializeVector(vector embeddings.Vector) []byte {
	buf := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func deserializeVector(data []byte) embeddings.Vector {
	vector := make(embeddings.Vector, len(data)/4)
	for i := range vector {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vector
}
