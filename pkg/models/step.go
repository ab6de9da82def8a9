package models

// RunStepType identifies what a run step recorded.
type RunStepType string

const (
	RunStepMessageCreation RunStepType = "message_creation"
	RunStepToolCalls       RunStepType = "tool_calls"
)

// RunStep is an audit record of one engine action within a run: either the
// creation of the final assistant message or a batch of tool calls. Steps are
// written in the same transaction as the transition that produced them.
type RunStep struct {
	ID          string      `json:"id"`
	RunID       string      `json:"run_id"`
	ThreadID    string      `json:"thread_id"`
	Type        RunStepType `json:"type"`
	Status      string      `json:"status"` // completed | failed
	MessageID   string      `json:"message_id,omitempty"`
	ToolCallIDs []string    `json:"tool_call_ids,omitempty"`
	CreatedAt   int64       `json:"created_at"`
}
