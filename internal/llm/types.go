// Package llm defines the LLM client interface shared by the channel and
// memory pipelines' sub-tasks (observer, judge, promoter, compactor,
// digest, intervention-responder) and a default Anthropic-backed
// implementation. Providers are interchangeable behind this interface.
package llm

import "context"

// Request is one single-shot completion call. Unlike the engine's
// multi-turn, tool-using conversation, every OM/channel sub-task is a
// single prompt-in, text-out round with no tool use.
type Request struct {
	SystemPrompt string
	Prompt       string
	// Model overrides the client's default model for this call. The
	// channel pipeline's second-round compressor deliberately uses a
	// distinct, higher-quality model than the per-message judge.
	Model     string
	MaxTokens int
}

// Response is the result of a completion call.
type Response struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

// Client is the narrow LLM abstraction every OM/channel sub-task is built
// against. Grounded on the teacher's LLMProvider interface in
// internal/llm/types.go, trimmed to the single-shot-completion subset this
// domain actually exercises — no tool-use, no streaming, since none of the
// observer/judge/promoter/compactor/digest/intervention-responder tasks are
// multi-turn or tool-calling (that is the engine's job, not this one's).
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
	// DefaultModel returns the client's default model identifier.
	DefaultModel() string
}
