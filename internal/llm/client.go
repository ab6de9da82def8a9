// Package llm defines the model client contract used by the run engine and
// provides the OpenAI-backed implementation.
package llm

import (
	"context"
	"encoding/json"
)

// Turn is one conversation entry sent to the model.
type Turn struct {
	// Role is one of "user", "assistant", or "tool".
	Role string

	Content string

	// ToolCalls carries the assistant's prior tool invocations when replaying
	// a conversation that includes resolved calls.
	ToolCalls []ToolInvocation

	// ToolCallID links a "tool" role turn to the invocation it answers.
	ToolCallID string
}

// ToolSpec describes one tool exposed to the model.
type ToolSpec struct {
	Name        string
	Description string

	// Parameters is a JSON Schema object for the tool's arguments.
	Parameters json.RawMessage
}

// ToolInvocation is a tool call requested by the model.
type ToolInvocation struct {
	ID        string
	Name      string
	Arguments string
}

// Request is a single completion request.
type Request struct {
	Model        string
	Instructions string
	Turns        []Turn
	Tools        []ToolSpec
	MaxTokens    int
}

// Response is the model's reply: either content, tool invocations, or both.
type Response struct {
	Content      string
	ToolCalls    []ToolInvocation
	FinishReason string
}

// Client produces completions. Implementations must be safe for concurrent
// use.
type Client interface {
	Complete(ctx context.Context, req *Request) (*Response, error)
}
