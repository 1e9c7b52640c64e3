package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	"doc-rag/internal/pipeline"
)

const (
	// DefaultUnstructuredURL is the partition endpoint of a local Unstructured API.
	DefaultUnstructuredURL = "http://localhost:9500/general/v0/general"

	defaultExtractionTimeout = 120 * time.Second
	maxErrorBody             = 512
)

// Unstructured sends files to an Unstructured partition endpoint.
type Unstructured struct {
	url     string
	client  *http.Client
	timeout time.Duration
}

// NewUnstructured builds a client for the partition endpoint at url.
func NewUnstructured(url string, timeout time.Duration) *Unstructured {
	if url == "" {
		url = DefaultUnstructuredURL
	}
	if timeout <= 0 {
		timeout = defaultExtractionTimeout
	}
	return &Unstructured{url: url, client: &http.Client{}, timeout: timeout}
}

type unstructuredElement struct {
	Type     string `json:"type"`
	ID       string `json:"element_id"`
	Text     string `json:"text"`
	Metadata struct {
		PageNumber int    `json:"page_number"`
		Filename   string `json:"filename"`
	} `json:"metadata"`
}

func (u *Unstructured) Extract(ctx context.Context, f File) (ExtractedText, error) {
	op := "extract " + f.Name
	body, contentType, err := multipartBody(f)
	if err != nil {
		return ExtractedText{}, pipeline.Wrap(pipeline.ErrExtraction, op, err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, u.url, body)
	if err != nil {
		return ExtractedText{}, pipeline.Wrap(pipeline.ErrExtraction, op, err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := u.client.Do(req)
	if err != nil {
		return ExtractedText{}, pipeline.Wrap(pipeline.ErrExtraction, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return ExtractedText{}, pipeline.Errorf(pipeline.ErrExtraction, op, "ocr service returned %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var elems []unstructuredElement
	if err := json.NewDecoder(resp.Body).Decode(&elems); err != nil {
		return ExtractedText{}, pipeline.Wrap(pipeline.ErrExtraction, op, fmt.Errorf("decode response: %w", err))
	}

	parts := make([]Part, 0, len(elems))
	for _, e := range elems {
		parts = append(parts, Part{Type: e.Type, Page: e.Metadata.PageNumber, Text: e.Text})
	}
	out := Assemble(parts)
	if out.Text == "" {
		return ExtractedText{}, pipeline.Errorf(pipeline.ErrExtraction, op, "ocr service returned no text (%d elements)", len(elems))
	}
	return out, nil
}

func multipartBody(f File) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename=%q`, f.Name))
	ct := f.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	h.Set("Content-Type", ct)

	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(f.Data); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}
