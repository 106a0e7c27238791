package llm

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog"
)

// AnthropicClient implements Client using the official anthropic-sdk-go
// Messages API, replacing the teacher's hand-rolled HTTP/SSE client in
// internal/llm/anthropic.go — this domain's completion calls are all
// single-shot and non-streaming, so the generated SDK's blocking
// Messages.New is a direct fit with no client code of our own to maintain.
type AnthropicClient struct {
	client       anthropic.Client
	defaultModel string
	maxTokens    int
	logger       zerolog.Logger
}

// NewAnthropicClient constructs an AnthropicClient authenticated with
// apiKey, defaulting to defaultModel when a Request doesn't override it.
func NewAnthropicClient(apiKey, defaultModel string, maxTokens int, logger zerolog.Logger) *AnthropicClient {
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &AnthropicClient{
		client:       anthropic.NewClient(option.WithAPIKey(apiKey)),
		defaultModel: defaultModel,
		maxTokens:    maxTokens,
		logger:       logger.With().Str("component", "llm_anthropic").Logger(),
	}
}

func (c *AnthropicClient) DefaultModel() string { return c.defaultModel }

// Complete sends req as a single-turn user message and concatenates any
// text content blocks in the response.
func (c *AnthropicClient) Complete(ctx context.Context, req Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic messages.new: %w", err)
	}

	var text string
	for _, block := range msg.Content {
		if tb := block.AsText(); tb.Text != "" {
			text += tb.Text
		}
	}

	c.logger.Debug().
		Str("model", model).
		Int64("input_tokens", msg.Usage.InputTokens).
		Int64("output_tokens", msg.Usage.OutputTokens).
		Msg("completion call finished")

	return &Response{
		Text:         text,
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}, nil
}
