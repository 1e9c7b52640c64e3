// Package pipeline holds the error kinds shared by the ingestion and query stages.
package pipeline

import (
	"errors"
	"fmt"
)

// Error kinds. Match them with errors.Is.
var (
	ErrExtraction         = errors.New("extraction error")
	ErrInvalidChunkPolicy = errors.New("invalid chunk policy")
	ErrEmbedding          = errors.New("embedding error")
	ErrRetrieval          = errors.New("retrieval error")
	ErrGeneration         = errors.New("generation error")
	ErrVectorStore        = errors.New("vector store error")
)

// Error is a stage failure tagged with its kind and the operation that failed.
type Error struct {
	Kind error
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the kind of e.
func (e *Error) Is(target error) bool { return e.Kind == target }

// Wrap tags err with kind. A nil err still produces an error so callers can
// signal conditions such as malformed payloads.
func Wrap(kind error, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf tags a formatted cause with kind.
func Errorf(kind error, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind attached to err, or nil when err carries none.
func KindOf(err error) error {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	for _, k := range []error{ErrExtraction, ErrInvalidChunkPolicy, ErrEmbedding, ErrRetrieval, ErrGeneration, ErrVectorStore} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// Retryable reports whether running the same work again could succeed.
// Policy errors are deterministic and never retried.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrInvalidChunkPolicy)
}
