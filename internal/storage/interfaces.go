// Package storage defines the persistence contracts for every entity and
// provides memory and postgres implementations. The store is the single
// source of truth: all run mutations go through version-checked transitions
// that commit atomically with their associated rows.
package storage

import (
	"context"
	"errors"

	"github.com/assistantd/assistantd/pkg/models"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrVersionConflict   = errors.New("version conflict")
	ErrIllegalTransition = errors.New("illegal run transition")
	ErrAlreadyResolved   = errors.New("tool call already resolved")
)

// AssistantStore persists assistant configurations.
type AssistantStore interface {
	Create(ctx context.Context, assistant *models.Assistant) error
	Get(ctx context.Context, id string) (*models.Assistant, error)
	List(ctx context.Context, ownerID string, limit, offset int) ([]*models.Assistant, error)
	Update(ctx context.Context, assistant *models.Assistant) error
	Delete(ctx context.Context, id string) error
}

// ThreadStore persists threads.
type ThreadStore interface {
	Create(ctx context.Context, thread *models.Thread) error
	Get(ctx context.Context, id string) (*models.Thread, error)
	Delete(ctx context.Context, id string) error
}

// MessageStore persists thread messages. Append assigns the message's Seq;
// List returns messages in append order.
type MessageStore interface {
	Append(ctx context.Context, msg *models.Message) error
	Get(ctx context.Context, id string) (*models.Message, error)
	List(ctx context.Context, threadID string, limit, offset int) ([]*models.Message, error)
}

// RunMutation describes one atomic run transition and the rows that must
// commit with it. Status is the target state; the store rejects the mutation
// if the current status does not admit it or if the run's version moved.
// Keeping the current non-terminal status is allowed and commits the rows
// without moving the state machine.
type RunMutation struct {
	Status models.RunStatus

	// Now is the transition time, recorded as resolved_at on attached tool
	// outputs and created_at on inserted rows that lack one.
	Now int64

	RequiredAction      *models.RequiredAction
	ClearRequiredAction bool
	LastError           *models.RunError

	// Timestamps are applied when non-zero.
	StartedAt   int64
	CancelledAt int64
	FailedAt    int64
	CompletedAt int64

	// ToolCalls are inserted in the same transaction.
	ToolCalls []*models.ToolCall

	// ToolOutputs are attached to existing tool calls in the same
	// transaction. Attaching to an already-resolved call fails the whole
	// mutation with ErrAlreadyResolved.
	ToolOutputs []models.ToolOutput

	// Message, when set, is appended to the run's thread in the same
	// transaction.
	Message *models.Message

	// Step, when set, records the audit step for this transition.
	Step *models.RunStep
}

// RunStore persists runs. Transition is the only mutation path after Create.
type RunStore interface {
	Create(ctx context.Context, run *models.Run) error
	Get(ctx context.Context, id string) (*models.Run, error)
	List(ctx context.Context, threadID string, limit, offset int) ([]*models.Run, error)
	// Transition applies mut atomically if the run is still at fromVersion
	// and the status change is legal. Returns the updated run.
	Transition(ctx context.Context, runID string, fromVersion int64, mut RunMutation) (*models.Run, error)
	// ListOverdue returns non-terminal runs whose expires_at is at or before
	// now, for the expiry sweeper.
	ListOverdue(ctx context.Context, now int64, limit int) ([]*models.Run, error)
}

// ToolCallStore persists tool calls. Rows are created through RunStore
// transitions; Resolve writes an output exactly once.
type ToolCallStore interface {
	Get(ctx context.Context, id string) (*models.ToolCall, error)
	ListByRun(ctx context.Context, runID string) ([]*models.ToolCall, error)
	Resolve(ctx context.Context, id string, output string, resolvedAt int64) error
}

// FunctionStore persists registered function contracts. Names are unique per
// owner; Create returns ErrAlreadyExists on collision.
type FunctionStore interface {
	Create(ctx context.Context, fn *models.Function) error
	GetByName(ctx context.Context, ownerID, name string) (*models.Function, error)
	List(ctx context.Context, ownerID string, limit, offset int) ([]*models.Function, error)
	Delete(ctx context.Context, id string) error
}

// FileStore persists uploaded file metadata.
type FileStore interface {
	Create(ctx context.Context, file *models.File) error
	Get(ctx context.Context, id string) (*models.File, error)
	List(ctx context.Context, ownerID string, limit, offset int) ([]*models.File, error)
	Delete(ctx context.Context, id string) error
}

// ChunkStore persists ingested file chunks.
type ChunkStore interface {
	CreateBatch(ctx context.Context, chunks []*models.Chunk) error
	ListByFile(ctx context.Context, fileID string) ([]*models.Chunk, error)
	DeleteByFile(ctx context.Context, fileID string) error
}

// StepStore reads run step audit records. Rows are written by transitions.
type StepStore interface {
	List(ctx context.Context, runID string) ([]*models.RunStep, error)
}

// Set groups the storage dependencies handed to the service and engine.
type Set struct {
	Assistants AssistantStore
	Threads    ThreadStore
	Messages   MessageStore
	Runs       RunStore
	ToolCalls  ToolCallStore
	Functions  FunctionStore
	Files      FileStore
	Chunks     ChunkStore
	Steps      StepStore

	closer func() error
}

// Close closes any underlying resources.
func (s *Set) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}
