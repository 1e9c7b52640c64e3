package llm

import "context"

// Prompt is a single generate-style request.
type Prompt struct {
	System string
	User   string
}

// Client is the completion service boundary. Any failure, including a
// timeout or an empty completion, is reported as a generation error.
type Client interface {
	Generate(ctx context.Context, prompt Prompt) (string, error)
	Model() string
}
