package models

// RunStatus is one state of the run state machine.
type RunStatus string

const (
	RunStatusQueued         RunStatus = "queued"
	RunStatusRunning        RunStatus = "running"
	RunStatusRequiresAction RunStatus = "requires_action"
	RunStatusCancelling     RunStatus = "cancelling"
	RunStatusCancelled      RunStatus = "cancelled"
	RunStatusExpired        RunStatus = "expired"
	RunStatusFailed         RunStatus = "failed"
	RunStatusCompleted      RunStatus = "completed"
)

// Terminal reports whether the status admits no further transitions.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusCancelled, RunStatusExpired, RunStatusFailed, RunStatusCompleted:
		return true
	}
	return false
}

// validTransitions is the run state machine. A transition not listed here is
// illegal and must be rejected by the store.
var validTransitions = map[RunStatus][]RunStatus{
	RunStatusQueued: {
		RunStatusRunning, RunStatusCancelling, RunStatusCancelled,
		RunStatusExpired, RunStatusFailed,
	},
	RunStatusRunning: {
		RunStatusRequiresAction, RunStatusCompleted, RunStatusCancelling,
		RunStatusCancelled, RunStatusExpired, RunStatusFailed,
	},
	RunStatusRequiresAction: {
		RunStatusRunning, RunStatusCancelling, RunStatusCancelled,
		RunStatusExpired, RunStatusFailed,
	},
	RunStatusCancelling: {
		RunStatusCancelled, RunStatusExpired, RunStatusFailed,
	},
}

// CanTransition reports whether from -> to is a legal state machine edge.
func CanTransition(from, to RunStatus) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Error kinds recorded on a failed run's LastError.
const (
	ErrKindServerError       = "server_error"
	ErrKindRateLimit         = "rate_limit"
	ErrKindInvalidToolOutput = "invalid_tool_output"
	ErrKindRetrievalError    = "retrieval_error"
	ErrKindSandboxExhausted  = "sandbox_exhausted"
	ErrKindContextExceeded   = "context_exceeded"
)

// RunError is the machine-readable last_error payload of a failed run.
type RunError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// RequiredActionSubmitToolOutputs is the only required_action type.
const RequiredActionSubmitToolOutputs = "submit_tool_outputs"

// RequiredAction is present exactly while a run is in requires_action. It
// lists the tool calls the caller must supply outputs for.
type RequiredAction struct {
	Type      string     `json:"type"`
	ToolCalls []ToolCall `json:"tool_calls"`
}

// ToolOutput is a caller-supplied result for one open tool call.
type ToolOutput struct {
	ToolCallID string `json:"tool_call_id"`
	Output     string `json:"output"`
}

// Run is one asynchronous execution of an assistant against a thread. The
// Model/Instructions/Tools/FileIDs fields are an immutable snapshot of the
// assistant's configuration taken at creation time.
type Run struct {
	ID          string `json:"id"`
	ThreadID    string `json:"thread_id"`
	AssistantID string `json:"assistant_id"`
	OwnerID     string `json:"owner_id"`

	Status         RunStatus       `json:"status"`
	RequiredAction *RequiredAction `json:"required_action,omitempty"`
	LastError      *RunError       `json:"last_error,omitempty"`

	Model        string   `json:"model"`
	Instructions string   `json:"instructions,omitempty"`
	Tools        []Tool   `json:"tools"`
	FileIDs      []string `json:"file_ids,omitempty"`

	Metadata map[string]string `json:"metadata,omitempty"`

	CreatedAt   int64 `json:"created_at"`
	ExpiresAt   int64 `json:"expires_at,omitempty"`
	StartedAt   int64 `json:"started_at,omitempty"`
	CancelledAt int64 `json:"cancelled_at,omitempty"`
	FailedAt    int64 `json:"failed_at,omitempty"`
	CompletedAt int64 `json:"completed_at,omitempty"`

	// Version is the optimistic concurrency token bumped on every committed
	// transition. Not exposed over the API.
	Version int64 `json:"-"`
}

// OpenToolCallIDs returns the ids the caller must still supply outputs for.
func (r *Run) OpenToolCallIDs() []string {
	if r.RequiredAction == nil {
		return nil
	}
	ids := make([]string, 0, len(r.RequiredAction.ToolCalls))
	for _, tc := range r.RequiredAction.ToolCalls {
		ids = append(ids, tc.ID)
	}
	return ids
}
