package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"doc-rag/internal/pipeline"
)

// OpenAIClient calls an OpenAI-compatible Chat Completions API.
type OpenAIClient struct {
	model       string
	client      *openai.Client
	timeout     time.Duration
	temperature float64
}

const (
	defaultChatTimeout     = 30 * time.Second
	defaultChatTemperature = 0.2

	// DefaultOllamaURL is Ollama's OpenAI-compatible API root.
	DefaultOllamaURL = "http://localhost:11434/v1/"
)

// Options tunes a client. Zero values take the defaults.
type Options struct {
	BaseURL     string
	Timeout     time.Duration
	Temperature float64
}

// NewOpenAIClient builds a client with defaults against api.openai.com.
func NewOpenAIClient(apiKey, model string, opts Options) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("api key required")
	}
	if model == "" {
		model = string(openai.ChatModelGPT4oMini)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultChatTimeout
	}
	if opts.Temperature <= 0 {
		opts.Temperature = defaultChatTemperature
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	cli := openai.NewClient(reqOpts...)
	return &OpenAIClient{
		model:       model,
		client:      &cli,
		timeout:     opts.Timeout,
		temperature: opts.Temperature,
	}, nil
}

// NewOllamaClient targets a local Ollama server through its OpenAI-compatible API.
func NewOllamaClient(baseURL, model string, timeout time.Duration) (*OpenAIClient, error) {
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	if model == "" {
		model = "mistral"
	}
	return NewOpenAIClient("ollama", model, Options{BaseURL: baseURL, Timeout: timeout, Temperature: 0.1})
}

func (c *OpenAIClient) Model() string { return c.model }

func (c *OpenAIClient) Generate(ctx context.Context, prompt Prompt) (string, error) {
	if c == nil || c.client == nil {
		return "", pipeline.Errorf(pipeline.ErrGeneration, "generate", "nil client")
	}
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.Chat.Completions.New(reqCtx, openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.model),
		Messages:    buildMessages(prompt.System, prompt.User),
		Temperature: openai.Float(c.temperature),
	})
	if err != nil {
		return "", pipeline.Wrap(pipeline.ErrGeneration, "generate "+c.model, err)
	}
	if len(resp.Choices) == 0 {
		return "", pipeline.Errorf(pipeline.ErrGeneration, "generate "+c.model, "no choices returned")
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", pipeline.Errorf(pipeline.ErrGeneration, "generate "+c.model, "empty completion")
	}
	return content, nil
}

func buildMessages(system, user string) []openai.ChatCompletionMessageParamUnion {
	var msgs []openai.ChatCompletionMessageParamUnion
	if system != "" {
		msgs = append(msgs, openai.ChatCompletionMessageParamUnion{
			OfSystem: &openai.ChatCompletionSystemMessageParam{
				Content: openai.ChatCompletionSystemMessageParamContentUnion{
					OfString: openai.String(system),
				},
			},
		})
	}
	return append(msgs, openai.ChatCompletionMessageParamUnion{
		OfUser: &openai.ChatCompletionUserMessageParam{
			Content: openai.ChatCompletionUserMessageParamContentUnion{
				OfString: openai.String(user),
			},
		},
	})
}
