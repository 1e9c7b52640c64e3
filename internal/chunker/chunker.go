package chunker

import (
	"github.com/google/uuid"

	"doc-rag/internal/pipeline"
)

// Policy controls how text is chunked. Both values count characters (Unicode code points).
type Policy struct {
	Size    int `json:"chunk_size"`
	Overlap int `json:"chunk_overlap"`
}

// Validate rejects policies that cannot make forward progress.
func (p Policy) Validate() error {
	switch {
	case p.Size <= 0:
		return pipeline.Errorf(pipeline.ErrInvalidChunkPolicy, "chunk", "chunk size must be positive, got %d", p.Size)
	case p.Overlap < 0:
		return pipeline.Errorf(pipeline.ErrInvalidChunkPolicy, "chunk", "chunk overlap must not be negative, got %d", p.Overlap)
	case p.Overlap >= p.Size:
		return pipeline.Errorf(pipeline.ErrInvalidChunkPolicy, "chunk", "chunk overlap %d must be less than chunk size %d", p.Overlap, p.Size)
	}
	return nil
}

// Chunk is a window of the document text. Identity is (DocumentID, Ordinal).
type Chunk struct {
	DocumentID uuid.UUID      `json:"document_id"`
	Ordinal    int            `json:"ordinal"`
	Text       string         `json:"text"`
	Start      int            `json:"start"`   // character offset into the source text
	Length     int            `json:"length"`  // characters
	Overlap    int            `json:"overlap"` // characters shared with the previous chunk
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Chunker splits text under a policy.
type Chunker interface {
	Chunk(text string, policy Policy) ([]Chunk, error)
}

// SlidingWindow is the default Chunker.
type SlidingWindow struct{}

func (SlidingWindow) Chunk(text string, policy Policy) ([]Chunk, error) {
	return ChunkText(text, policy)
}

// ChunkText slides a window of policy.Size characters forward by
// Size-Overlap until the rest of the text fits in one window, which becomes
// the final chunk. Empty text yields no chunks.
func ChunkText(text string, policy Policy) ([]Chunk, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	runes := []rune(text)
	if len(runes) == 0 {
		return []Chunk{}, nil
	}

	step := policy.Size - policy.Overlap
	chunks := make([]Chunk, 0, len(runes)/step+1)
	prevEnd := 0
	for start := 0; ; start += step {
		end := start + policy.Size
		if end > len(runes) {
			end = len(runes)
		}
		overlap := 0
		if start > 0 {
			overlap = prevEnd - start
		}
		chunks = append(chunks, Chunk{
			Ordinal: len(chunks),
			Text:    string(runes[start:end]),
			Start:   start,
			Length:  end - start,
			Overlap: overlap,
		})
		if end == len(runes) {
			break
		}
		prevEnd = end
	}
	return chunks, nil
}

// Reassemble rebuilds the source text from chunks produced by ChunkText.
func Reassemble(chunks []Chunk) string {
	var out []rune
	for _, c := range chunks {
		r := []rune(c.Text)
		out = append(out, r[c.Overlap:]...)
	}
	return string(out)
}
