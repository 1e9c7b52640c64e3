// Package summarizer condenses extracted document text with the language model.
// It never consults the vector index.
package summarizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"doc-rag/internal/extractor"
	"doc-rag/internal/llm"
	"doc-rag/internal/metrics"
	"doc-rag/internal/pipeline"
	"doc-rag/internal/store"
)

// DefaultMaxInputChars caps the text sent for summarization.
const DefaultMaxInputChars = 12000

type Mode string

const (
	ModeBrief     Mode = "brief"
	ModeDetailed  Mode = "detailed"
	ModeExecutive Mode = "executive"
)

var (
	ErrUnknownMode  = errors.New("unknown summary mode")
	ErrNotExtracted = errors.New("document has no extracted text")
	ErrEmptyText    = errors.New("no text to summarize")
)

type template struct {
	system      string
	instruction string
}

var templates = map[Mode]template{
	ModeBrief: {
		system:      "You are a concise assistant. Summarize documents in a few short bullet points (using -).",
		instruction: "Summarize the following in a brief bullet-point format of at most 5 points:",
	},
	ModeDetailed: {
		system:      "You are a careful analyst. First provide a summary of several paragraphs, then list the key points as bullet points (using -).",
		instruction: "Provide a detailed summary of this document content in about 300 to 500 words:",
	},
	ModeExecutive: {
		system:      "You brief executives. Lead with the conclusion, then give key insights and takeaways as bullet points (using -).",
		instruction: "Give an executive-level summary with key insights and takeaways in under 200 words:",
	},
}

// Modes lists the supported modes.
func Modes() []Mode { return []Mode{ModeBrief, ModeDetailed, ModeExecutive} }

func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := templates[m]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
	return m, nil
}

// Documents is the slice of the document store summarization needs.
type Documents interface {
	GetDocument(ctx context.Context, id uuid.UUID) (store.Document, error)
	GetExtractedText(ctx context.Context, docID uuid.UUID) (extractor.ExtractedText, error)
	SaveSummary(ctx context.Context, summary store.Summary) error
}

type Options struct {
	MaxInputChars     int
	CompletionTimeout time.Duration
}

type Summarizer struct {
	llm  llm.Client
	docs Documents
	opts Options
	log  *slog.Logger
}

func New(client llm.Client, docs Documents, opts Options, log *slog.Logger) *Summarizer {
	if opts.MaxInputChars <= 0 {
		opts.MaxInputChars = DefaultMaxInputChars
	}
	return &Summarizer{llm: client, docs: docs, opts: opts, log: log.With("component", "summarizer")}
}

// Summarize condenses text in the given mode with a single completion call.
func (s *Summarizer) Summarize(ctx context.Context, text string, mode Mode) (string, error) {
	tmpl, ok := templates[mode]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyText
	}
	if runes := []rune(text); len(runes) > s.opts.MaxInputChars {
		s.log.Info("truncating summary input", "chars", len(runes), "max_chars", s.opts.MaxInputChars)
		text = string(runes[:s.opts.MaxInputChars])
	}

	if s.opts.CompletionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.CompletionTimeout)
		defer cancel()
	}
	out, err := s.llm.Generate(ctx, llm.Prompt{
		System: tmpl.system,
		User:   tmpl.instruction + "\n\n" + text,
	})
	if err != nil {
		if errors.Is(err, pipeline.ErrGeneration) {
			return "", err
		}
		return "", pipeline.Wrap(pipeline.ErrGeneration, "summarize", err)
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", pipeline.Errorf(pipeline.ErrGeneration, "summarize", "empty completion")
	}
	metrics.Summaries.Add(1)
	return out, nil
}

// SummarizeDocument summarizes a document's stored extracted text and keeps
// the result as that document's summary for mode.
func (s *Summarizer) SummarizeDocument(ctx context.Context, docID uuid.UUID, mode Mode) (store.Summary, error) {
	if _, ok := templates[mode]; !ok {
		return store.Summary{}, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
	if _, err := s.docs.GetDocument(ctx, docID); err != nil {
		return store.Summary{}, err
	}
	extracted, err := s.docs.GetExtractedText(ctx, docID)
	if errors.Is(err, store.ErrTextNotFound) {
		return store.Summary{}, ErrNotExtracted
	}
	if err != nil {
		return store.Summary{}, err
	}
	if strings.TrimSpace(extracted.Text) == "" {
		return store.Summary{}, ErrNotExtracted
	}

	text, err := s.Summarize(ctx, extracted.Text, mode)
	if err != nil {
		return store.Summary{}, err
	}
	_, points := KeyPoints(text)
	summary := store.Summary{
		DocumentID: docID,
		Mode:       string(mode),
		Text:       text,
		KeyPoints:  points,
		Model:      s.llm.Model(),
	}
	if err := s.docs.SaveSummary(ctx, summary); err != nil {
		return store.Summary{}, fmt.Errorf("failed to save summary: %w", err)
	}
	s.log.Info("document summarized", "document_id", docID, "mode", mode, "key_points", len(points))
	return summary, nil
}

// KeyPoints splits a completion into its prose lines and its bullet points.
func KeyPoints(content string) (string, []string) {
	var points, prose []string
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, "-") || strings.HasPrefix(trimmed, "*") || strings.HasPrefix(trimmed, "•") {
			points = append(points, strings.TrimSpace(strings.TrimLeft(trimmed, "-*• ")))
		} else {
			prose = append(prose, trimmed)
		}
	}
	return strings.Join(prose, " "), points
}
