// Package llm defines the Provider interface for Large Language Model backends.
//
// hark uses an LLM only as an intent classifier (see nlu/llmnlu): the model is
// offered one tool per intent and must call exactly one of them. Providers
// therefore expose a single blocking completion; streaming is not needed for a
// one-shot classification.
//
// Implementors must be safe for concurrent use.
package llm

import (
	"context"

	"github.com/MrWong99/hark/pkg/types"
)

// Usage holds token accounting information returned by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the LLM needs to produce a response.
type CompletionRequest struct {
	// SystemPrompt is prepended as a "system"-role message.
	SystemPrompt string

	// Messages is the ordered conversation. Must not be empty.
	Messages []types.Message

	// Tools offered to the model.
	Tools []types.ToolDefinition

	// RequireTool asks the model to answer with a tool call instead of text.
	// Backends that cannot express this ignore it.
	RequireTool bool

	// Temperature in [0.0, 2.0]. Zero selects the provider default.
	Temperature float64

	// MaxTokens caps the completion length. Zero means provider default.
	MaxTokens int
}

// CompletionResponse is the model's full reply.
type CompletionResponse struct {
	// Content is the text reply. Empty when the model only called tools.
	Content string

	// ToolCalls lists the tool invocations the model requested.
	ToolCalls []types.ToolCall

	Usage Usage
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Capabilities returns static metadata about the underlying model.
	Capabilities() types.ModelCapabilities
}
