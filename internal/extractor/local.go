package extractor

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	"doc-rag/internal/pipeline"
)

// Local extracts PDF and plain-text files in process, without an OCR service.
// Scanned PDFs carry no text layer and fail here.
type Local struct{}

func NewLocal() *Local { return &Local{} }

func (l *Local) Extract(ctx context.Context, f File) (ExtractedText, error) {
	op := "extract " + f.Name
	if err := ctx.Err(); err != nil {
		return ExtractedText{}, pipeline.Wrap(pipeline.ErrExtraction, op, err)
	}

	var (
		parts []Part
		err   error
	)
	switch kind(f) {
	case "pdf":
		parts, err = pdfParts(f.Data)
		if err != nil {
			return ExtractedText{}, pipeline.Wrap(pipeline.ErrExtraction, op, err)
		}
	case "text":
		if !utf8.Valid(f.Data) {
			return ExtractedText{}, pipeline.Errorf(pipeline.ErrExtraction, op, "text file is not valid UTF-8")
		}
		parts = []Part{{Type: "NarrativeText", Page: 1, Text: string(f.Data)}}
	default:
		return ExtractedText{}, pipeline.Errorf(pipeline.ErrExtraction, op, "unsupported content type %q", f.ContentType)
	}

	out := Assemble(parts)
	if out.Text == "" {
		return ExtractedText{}, pipeline.Errorf(pipeline.ErrExtraction, op, "no text found")
	}
	return out, nil
}

func kind(f File) string {
	ct := strings.ToLower(f.ContentType)
	switch {
	case ct == "application/pdf":
		return "pdf"
	case strings.HasPrefix(ct, "text/"):
		return "text"
	}
	switch strings.ToLower(filepath.Ext(f.Name)) {
	case ".pdf":
		return "pdf"
	case ".txt", ".md":
		return "text"
	}
	return ""
}

// pdfParts returns one part per page that has a text layer.
func pdfParts(content []byte) ([]Part, error) {
	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, err
	}

	var parts []Part
	for pageNum := 1; pageNum <= reader.NumPage(); pageNum++ {
		page := reader.Page(pageNum)
		if page.V.IsNull() || page.V.Key("Contents").Kind() == pdf.Null {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		parts = append(parts, Part{Type: "Page", Page: pageNum, Text: text})
	}
	return parts, nil
}
