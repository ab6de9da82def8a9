package service

import (
	"context"
	"fmt"

	"github.com/assistantd/assistantd/internal/queue"
	"github.com/assistantd/assistantd/internal/storage"
	"github.com/assistantd/assistantd/pkg/models"
)

// CreateRunParams are the caller-supplied run fields. Model and Instructions
// override the assistant's values when set.
type CreateRunParams struct {
	ThreadID     string
	AssistantID  string
	Model        string
	Instructions string
	Metadata     map[string]string
}

// CreateRun snapshots the assistant's configuration, persists the run as
// queued, and enqueues it for a worker.
func (s *Service) CreateRun(ctx context.Context, params CreateRunParams) (*models.Run, error) {
	assistant, err := s.stores.Assistants.Get(ctx, params.AssistantID)
	if err != nil {
		return nil, err
	}
	thread, err := s.stores.Threads.Get(ctx, params.ThreadID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	run := &models.Run{
		ID:          models.NewID(models.RunIDPrefix),
		ThreadID:    thread.ID,
		AssistantID: assistant.ID,
		OwnerID:     assistant.OwnerID,
		Status:      models.RunStatusQueued,

		Model:        assistant.Model,
		Instructions: assistant.Instructions,
		Tools:        assistant.Tools,
		FileIDs:      mergeIDs(assistant.FileIDs, thread.FileIDs),

		Metadata:  params.Metadata,
		CreatedAt: now,
		ExpiresAt: now + int64(s.runExpiry.Seconds()),
		Version:   1,
	}
	if params.Model != "" {
		run.Model = params.Model
	}
	if params.Instructions != "" {
		run.Instructions = params.Instructions
	}

	if err := s.stores.Runs.Create(ctx, run); err != nil {
		return nil, err
	}
	if err := s.queue.Push(ctx, queue.Item{RunID: run.ID, ThreadID: run.ThreadID}); err != nil {
		// The run row exists but is not queued; the expiry sweeper will
		// eventually mark it expired if no retry lands it on the queue.
		return nil, fmt.Errorf("enqueue run %s: %w", run.ID, err)
	}

	s.logger.Info(ctx, "run created",
		"run_id", run.ID, "thread_id", run.ThreadID, "assistant_id", run.AssistantID)
	return run, nil
}

// GetRun returns the run's latest committed state.
func (s *Service) GetRun(ctx context.Context, id string) (*models.Run, error) {
	return s.stores.Runs.Get(ctx, id)
}

// ListRuns returns a thread's runs.
func (s *Service) ListRuns(ctx context.Context, threadID string, limit, offset int) ([]*models.Run, error) {
	return s.stores.Runs.List(ctx, threadID, limit, offset)
}

// ListRunSteps returns a run's audit steps.
func (s *Service) ListRunSteps(ctx context.Context, runID string) ([]*models.RunStep, error) {
	if _, err := s.stores.Runs.Get(ctx, runID); err != nil {
		return nil, err
	}
	return s.stores.Steps.List(ctx, runID)
}

// SubmitToolOutputs resumes a requires_action run. The submitted tool call id
// set must exactly match the open set: anything else is rejected with no
// state mutation. On success the outputs are attached, required_action is
// cleared, the run returns to running, and it is re-enqueued.
func (s *Service) SubmitToolOutputs(ctx context.Context, runID string, outputs []models.ToolOutput) (*models.Run, error) {
	run, err := s.stores.Runs.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status != models.RunStatusRequiresAction {
		return nil, Validationf("run %s is %s, not requires_action", runID, run.Status)
	}

	if err := matchOpenSet(run.OpenToolCallIDs(), outputs); err != nil {
		return nil, err
	}

	updated, err := s.stores.Runs.Transition(ctx, run.ID, run.Version, storage.RunMutation{
		Status:              models.RunStatusRunning,
		Now:                 s.now(),
		ClearRequiredAction: true,
		ToolOutputs:         outputs,
	})
	if err != nil {
		return nil, err
	}

	if err := s.queue.Push(ctx, queue.Item{RunID: run.ID, ThreadID: run.ThreadID}); err != nil {
		return nil, fmt.Errorf("re-enqueue run %s: %w", run.ID, err)
	}
	s.logger.Info(ctx, "tool outputs submitted",
		"run_id", run.ID, "outputs", len(outputs))
	return updated, nil
}

// matchOpenSet enforces the exact-set rule for submitted outputs.
func matchOpenSet(openIDs []string, outputs []models.ToolOutput) error {
	open := make(map[string]bool, len(openIDs))
	for _, id := range openIDs {
		open[id] = true
	}

	seen := make(map[string]bool, len(outputs))
	for _, out := range outputs {
		if seen[out.ToolCallID] {
			return Validationf("duplicate output for tool call %s", out.ToolCallID)
		}
		seen[out.ToolCallID] = true
		if !open[out.ToolCallID] {
			return Validationf("tool call %s is not awaiting output", out.ToolCallID)
		}
	}
	if len(seen) != len(open) {
		return Validationf("expected outputs for %d tool calls, got %d", len(open), len(seen))
	}
	return nil
}

// CancelRun requests cooperative cancellation. The engine honors it at its
// next checkpoint; a queued run is cancelled when a worker claims it.
func (s *Service) CancelRun(ctx context.Context, runID string) (*models.Run, error) {
	run, err := s.stores.Runs.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	switch run.Status {
	case models.RunStatusQueued, models.RunStatusRunning, models.RunStatusRequiresAction:
	case models.RunStatusCancelling:
		return run, nil
	default:
		return nil, Validationf("run %s is %s and cannot be cancelled", runID, run.Status)
	}

	updated, err := s.stores.Runs.Transition(ctx, run.ID, run.Version, storage.RunMutation{
		Status:              models.RunStatusCancelling,
		Now:                 s.now(),
		ClearRequiredAction: run.Status == models.RunStatusRequiresAction,
	})
	if err != nil {
		return nil, err
	}

	// A run paused in requires_action has no worker watching it; without a
	// queue item nothing would ever observe the cancellation.
	if run.Status == models.RunStatusRequiresAction || run.Status == models.RunStatusQueued {
		if err := s.queue.Push(ctx, queue.Item{RunID: run.ID, ThreadID: run.ThreadID}); err != nil {
			return nil, fmt.Errorf("enqueue cancel for run %s: %w", run.ID, err)
		}
	}
	s.logger.Info(ctx, "run cancellation requested", "run_id", run.ID)
	return updated, nil
}

func mergeIDs(a, b []string) []string {
	if len(b) == 0 {
		return a
	}
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, id := range append(append([]string{}, a...), b...) {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
