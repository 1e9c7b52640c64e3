// Package extractor turns uploaded files into text with per-element page metadata.
package extractor

import (
	"context"
	"sort"
	"strings"
)

// File is the input to extraction.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Element is one structural piece of extracted text. Start and End are
// character offsets into ExtractedText.Text.
type Element struct {
	Type  string `json:"type"`
	Page  int    `json:"page"`
	Start int    `json:"start"`
	End   int    `json:"end"`
	Text  string `json:"text"`
}

// ExtractedText is the full text of a document plus its ordered elements.
type ExtractedText struct {
	DocumentID string    `json:"document_id,omitempty"`
	Text       string    `json:"text"`
	Elements   []Element `json:"elements"`
}

// Extractor converts a raw file into text. Failures are extraction errors;
// an extractor never returns empty text on success.
type Extractor interface {
	Extract(ctx context.Context, f File) (ExtractedText, error)
}

// Part is an element before offsets are assigned.
type Part struct {
	Type string
	Page int
	Text string
}

// Assemble joins non-blank parts with newlines and records each part's span.
func Assemble(parts []Part) ExtractedText {
	var b strings.Builder
	elems := make([]Element, 0, len(parts))
	offset := 0
	for _, p := range parts {
		text := strings.TrimSpace(p.Text)
		if text == "" {
			continue
		}
		if len(elems) > 0 {
			b.WriteByte('\n')
			offset++
		}
		n := len([]rune(text))
		b.WriteString(text)
		elems = append(elems, Element{Type: p.Type, Page: p.Page, Start: offset, End: offset + n, Text: text})
		offset += n
	}
	return ExtractedText{Text: b.String(), Elements: elems}
}

// PageAt returns the page of the element covering the character offset, or
// of the nearest preceding element. Zero means unknown.
func (t ExtractedText) PageAt(offset int) int {
	i := sort.Search(len(t.Elements), func(i int) bool { return t.Elements[i].End > offset })
	if i < len(t.Elements) && t.Elements[i].Start <= offset {
		return t.Elements[i].Page
	}
	if i > 0 {
		return t.Elements[i-1].Page
	}
	return 0
}
