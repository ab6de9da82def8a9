package models

import "encoding/json"

// ToolCall is one model-requested tool invocation within a run. Output is nil
// until the call is resolved, and is written exactly once.
type ToolCall struct {
	ID         string          `json:"id"`
	RunID      string          `json:"run_id"`
	Kind       ToolKind        `json:"type"`
	Name       string          `json:"name"`
	Arguments  json.RawMessage `json:"arguments,omitempty"`
	Output     *string         `json:"output,omitempty"`
	CreatedAt  int64           `json:"created_at"`
	ResolvedAt int64           `json:"resolved_at,omitempty"`
}

// Resolved reports whether an output has been recorded for this call.
func (tc *ToolCall) Resolved() bool {
	return tc.Output != nil
}

// AutoResolvable reports whether the engine can obtain the call's output
// without external caller involvement. Function calls always pause the run.
func (tc *ToolCall) AutoResolvable() bool {
	return tc.Kind != ToolKindFunction
}
