package extractor

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"doc-rag/internal/pipeline"
)

func TestAssembleOffsetsAndPages(t *testing.T) {
	out := Assemble([]Part{
		{Type: "Title", Page: 1, Text: "Intro"},
		{Type: "NarrativeText", Page: 1, Text: "   "},
		{Type: "NarrativeText", Page: 2, Text: "Body text"},
	})

	assert.Equal(t, "Intro\nBody text", out.Text)
	require.Len(t, out.Elements, 2)
	assert.Equal(t, Element{Type: "Title", Page: 1, Start: 0, End: 5, Text: "Intro"}, out.Elements[0])
	assert.Equal(t, 6, out.Elements[1].Start)
	assert.Equal(t, 15, out.Elements[1].End)

	tests := []struct {
		offset int
		page   int
	}{
		{0, 1}, {4, 1}, {5, 1}, {6, 2}, {14, 2}, {100, 2},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.page, out.PageAt(tt.offset), "offset %d", tt.offset)
	}
	assert.Equal(t, 0, ExtractedText{}.PageAt(3))
}

func TestUnstructuredExtract(t *testing.T) {
	var gotName string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		file, header, err := r.FormFile("files")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer file.Close()
		gotName = header.Filename
		gotBody, _ = io.ReadAll(file)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"type":"Title","element_id":"a","text":"Report","metadata":{"page_number":1,"filename":"r.pdf"}},
			{"type":"NarrativeText","element_id":"b","text":"Revenue grew.","metadata":{"page_number":2,"filename":"r.pdf"}}
		]`))
	}))
	defer srv.Close()

	u := NewUnstructured(srv.URL, time.Second)
	out, err := u.Extract(context.Background(), File{Name: "r.pdf", ContentType: "application/pdf", Data: []byte("%PDF")})
	require.NoError(t, err)

	assert.Equal(t, "r.pdf", gotName)
	assert.Equal(t, []byte("%PDF"), gotBody)
	assert.Equal(t, "Report\nRevenue grew.", out.Text)
	assert.Equal(t, 2, out.PageAt(8))
}

func TestUnstructuredFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		timeout time.Duration
	}{
		{
			name: "non-success status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "boom", http.StatusInternalServerError)
			},
		},
		{
			name: "malformed payload",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"not":"a list"}`))
			},
		},
		{
			name: "no text",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`[{"type":"Image","text":"","metadata":{"page_number":1}}]`))
			},
		},
		{
			name: "timeout",
			handler: func(w http.ResponseWriter, r *http.Request) {
				time.Sleep(200 * time.Millisecond)
			},
			timeout: 20 * time.Millisecond,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			timeout := tt.timeout
			if timeout == 0 {
				timeout = time.Second
			}
			_, err := NewUnstructured(srv.URL, timeout).Extract(context.Background(), File{Name: "x.pdf", Data: []byte("x")})
			assert.ErrorIs(t, err, pipeline.ErrExtraction)
		})
	}
}

func TestLocalExtract(t *testing.T) {
	l := NewLocal()

	out, err := l.Extract(context.Background(), File{Name: "notes.txt", Data: []byte("hello\nworld\n")})
	require.NoError(t, err)
	assert.Equal(t, "hello\nworld", out.Text)
	assert.Equal(t, 1, out.PageAt(0))

	tests := []struct {
		name string
		file File
	}{
		{"unsupported type", File{Name: "a.docx", Data: []byte("x")}},
		{"empty text", File{Name: "a.txt", ContentType: "text/plain", Data: []byte("  \n")}},
		{"invalid utf8", File{Name: "a.txt", Data: []byte{0xff, 0xfe}}},
		{"corrupt pdf", File{Name: "a.pdf", ContentType: "application/pdf", Data: []byte("not a pdf")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.Extract(context.Background(), tt.file)
			assert.ErrorIs(t, err, pipeline.ErrExtraction)
		})
	}
}
