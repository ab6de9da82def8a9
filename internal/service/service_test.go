package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/assistantd/assistantd/internal/queue"
	"github.com/assistantd/assistantd/internal/storage"
	"github.com/assistantd/assistantd/pkg/models"
)

func newTestService(t *testing.T) (*Service, *storage.Set, *queue.MemoryQueue) {
	t.Helper()
	stores := storage.NewMemory()
	q := queue.NewMemory()
	svc := New(Options{
		Stores:    stores,
		Queue:     q,
		RunExpiry: 10 * time.Minute,
		Now:       func() int64 { return 5000 },
	})
	return svc, stores, q
}

func seedAssistant(t *testing.T, svc *Service, tools ...models.Tool) *models.Assistant {
	t.Helper()
	assistant, err := svc.CreateAssistant(context.Background(), CreateAssistantParams{
		OwnerID: "owner_1",
		Model:   "gpt-4o",
		Tools:   tools,
	})
	if err != nil {
		t.Fatalf("CreateAssistant: %v", err)
	}
	return assistant
}

func seedThread(t *testing.T, svc *Service) *models.Thread {
	t.Helper()
	thread, err := svc.CreateThread(context.Background(), CreateThreadParams{OwnerID: "owner_1"})
	if err != nil {
		t.Fatalf("CreateThread: %v", err)
	}
	return thread
}

func TestCreateAssistantRequiresModel(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.CreateAssistant(context.Background(), CreateAssistantParams{OwnerID: "owner_1"})
	if !IsValidation(err) {
		t.Fatalf("err = %v, want validation error", err)
	}
}

func TestCreateAssistantRejectsUnregisteredFunction(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.CreateAssistant(context.Background(), CreateAssistantParams{
		OwnerID: "owner_1",
		Model:   "gpt-4o",
		Tools: []models.Tool{{
			Kind:     models.ToolKindFunction,
			Function: &models.FunctionToolConfig{Name: "get_weather"},
		}},
	})
	if !IsValidation(err) {
		t.Fatalf("err = %v, want validation error", err)
	}
}

func TestCreateAssistantWithRegisteredFunction(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.RegisterFunction(ctx, RegisterFunctionParams{
		OwnerID:    "owner_1",
		Name:       "get_weather",
		Parameters: json.RawMessage(`{"type":"object","properties":{"city":{"type":"string"}}}`),
	})
	if err != nil {
		t.Fatalf("RegisterFunction: %v", err)
	}

	assistant, err := svc.CreateAssistant(ctx, CreateAssistantParams{
		OwnerID: "owner_1",
		Model:   "gpt-4o",
		Tools: []models.Tool{{
			Kind:     models.ToolKindFunction,
			Function: &models.FunctionToolConfig{Name: "get_weather"},
		}},
	})
	if err != nil {
		t.Fatalf("CreateAssistant: %v", err)
	}
	if !assistant.HasTool(models.ToolKindFunction) {
		t.Error("function tool missing from assistant")
	}
}

func TestCreateRunSnapshotsAndEnqueues(t *testing.T) {
	svc, _, q := newTestService(t)
	ctx := context.Background()

	assistant := seedAssistant(t, svc, models.Tool{Kind: models.ToolKindRetrieval})
	thread := seedThread(t, svc)

	run, err := svc.CreateRun(ctx, CreateRunParams{ThreadID: thread.ID, AssistantID: assistant.ID})
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if run.Status != models.RunStatusQueued {
		t.Errorf("status = %s, want queued", run.Status)
	}
	if run.Model != "gpt-4o" || len(run.Tools) != 1 {
		t.Errorf("snapshot = %+v", run)
	}
	if run.ExpiresAt != 5000+600 {
		t.Errorf("expires_at = %d, want 5600", run.ExpiresAt)
	}
	if pending, _ := q.Depth(); pending != 1 {
		t.Errorf("queue depth = %d, want 1", pending)
	}
}

func TestCreateRunModelOverride(t *testing.T) {
	svc, _, _ := newTestService(t)
	assistant := seedAssistant(t, svc)
	thread := seedThread(t, svc)

	run, err := svc.CreateRun(context.Background(), CreateRunParams{
		ThreadID:     thread.ID,
		AssistantID:  assistant.ID,
		Model:        "gpt-4o-mini",
		Instructions: "be terse",
	})
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if run.Model != "gpt-4o-mini" || run.Instructions != "be terse" {
		t.Errorf("override ignored: %+v", run)
	}
}

func TestCreateRunMissingAssistant(t *testing.T) {
	svc, _, _ := newTestService(t)
	thread := seedThread(t, svc)

	_, err := svc.CreateRun(context.Background(), CreateRunParams{
		ThreadID:    thread.ID,
		AssistantID: "asst_missing",
	})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestCreateMessageOnlyUserRole(t *testing.T) {
	svc, _, _ := newTestService(t)
	thread := seedThread(t, svc)

	_, err := svc.CreateMessage(context.Background(), CreateMessageParams{
		ThreadID: thread.ID,
		Role:     models.RoleAssistant,
		Text:     "hello",
	})
	if !IsValidation(err) {
		t.Fatalf("err = %v, want validation error", err)
	}
}

// pauseRun drives a queued run into requires_action with two open function
// calls, the way the engine would.
func pauseRun(t *testing.T, stores *storage.Set, run *models.Run) *models.Run {
	t.Helper()
	calls := []*models.ToolCall{
		{ID: "call_a", RunID: run.ID, Kind: models.ToolKindFunction, Name: "f1", CreatedAt: 5000},
		{ID: "call_b", RunID: run.ID, Kind: models.ToolKindFunction, Name: "f2", CreatedAt: 5000},
	}
	running, err := stores.Runs.Transition(context.Background(), run.ID, run.Version, storage.RunMutation{
		Status: models.RunStatusRunning, Now: 5000, StartedAt: 5000,
	})
	if err != nil {
		t.Fatalf("to running: %v", err)
	}
	paused, err := stores.Runs.Transition(context.Background(), run.ID, running.Version, storage.RunMutation{
		Status: models.RunStatusRequiresAction,
		Now:    5001,
		RequiredAction: &models.RequiredAction{
			Type:      models.RequiredActionSubmitToolOutputs,
			ToolCalls: []models.ToolCall{*calls[0], *calls[1]},
		},
		ToolCalls: calls,
	})
	if err != nil {
		t.Fatalf("to requires_action: %v", err)
	}
	return paused
}

func TestSubmitToolOutputsExactSet(t *testing.T) {
	svc, stores, q := newTestService(t)
	ctx := context.Background()

	assistant := seedAssistant(t, svc)
	thread := seedThread(t, svc)
	run, err := svc.CreateRun(ctx, CreateRunParams{ThreadID: thread.ID, AssistantID: assistant.ID})
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	pauseRun(t, stores, run)
	depthBefore, _ := q.Depth()

	// Missing one output: rejected, no mutation.
	_, err = svc.SubmitToolOutputs(ctx, run.ID, []models.ToolOutput{
		{ToolCallID: "call_a", Output: "only one"},
	})
	if !IsValidation(err) {
		t.Fatalf("partial set err = %v, want validation error", err)
	}

	// Unknown id: rejected.
	_, err = svc.SubmitToolOutputs(ctx, run.ID, []models.ToolOutput{
		{ToolCallID: "call_a", Output: "a"},
		{ToolCallID: "call_zz", Output: "z"},
	})
	if !IsValidation(err) {
		t.Fatalf("unknown id err = %v, want validation error", err)
	}

	// Duplicate id: rejected.
	_, err = svc.SubmitToolOutputs(ctx, run.ID, []models.ToolOutput{
		{ToolCallID: "call_a", Output: "a"},
		{ToolCallID: "call_a", Output: "a again"},
	})
	if !IsValidation(err) {
		t.Fatalf("duplicate err = %v, want validation error", err)
	}

	current, _ := stores.Runs.Get(ctx, run.ID)
	if current.Status != models.RunStatusRequiresAction {
		t.Fatalf("status mutated by rejected submissions: %s", current.Status)
	}
	if pending, _ := q.Depth(); pending != depthBefore {
		t.Fatalf("queue mutated by rejected submissions")
	}

	// Exact set: accepted.
	updated, err := svc.SubmitToolOutputs(ctx, run.ID, []models.ToolOutput{
		{ToolCallID: "call_a", Output: `{"result":1}`},
		{ToolCallID: "call_b", Output: `{"result":2}`},
	})
	if err != nil {
		t.Fatalf("SubmitToolOutputs: %v", err)
	}
	if updated.Status != models.RunStatusRunning {
		t.Errorf("status = %s, want running", updated.Status)
	}
	if updated.RequiredAction != nil {
		t.Error("required_action not cleared")
	}
	if pending, _ := q.Depth(); pending != depthBefore+1 {
		t.Errorf("run not re-enqueued")
	}

	call, err := stores.ToolCalls.Get(ctx, "call_a")
	if err != nil {
		t.Fatalf("Get tool call: %v", err)
	}
	if !call.Resolved() || *call.Output != `{"result":1}` {
		t.Errorf("output not stored verbatim: %+v", call)
	}
}

func TestSubmitToolOutputsWrongState(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	assistant := seedAssistant(t, svc)
	thread := seedThread(t, svc)
	run, err := svc.CreateRun(ctx, CreateRunParams{ThreadID: thread.ID, AssistantID: assistant.ID})
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	_, err = svc.SubmitToolOutputs(ctx, run.ID, nil)
	if !IsValidation(err) {
		t.Fatalf("err = %v, want validation error for queued run", err)
	}
}

func TestCancelRun(t *testing.T) {
	svc, stores, _ := newTestService(t)
	ctx := context.Background()

	assistant := seedAssistant(t, svc)
	thread := seedThread(t, svc)
	run, err := svc.CreateRun(ctx, CreateRunParams{ThreadID: thread.ID, AssistantID: assistant.ID})
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	updated, err := svc.CancelRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("CancelRun: %v", err)
	}
	if updated.Status != models.RunStatusCancelling {
		t.Errorf("status = %s, want cancelling", updated.Status)
	}

	// Cancelling twice is a no-op, not an error.
	again, err := svc.CancelRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("second CancelRun: %v", err)
	}
	if again.Status != models.RunStatusCancelling {
		t.Errorf("status = %s", again.Status)
	}

	// Terminal runs cannot be cancelled.
	cur, _ := stores.Runs.Get(ctx, run.ID)
	if _, err := stores.Runs.Transition(ctx, run.ID, cur.Version, storage.RunMutation{
		Status: models.RunStatusCancelled, Now: 5002, CancelledAt: 5002,
	}); err != nil {
		t.Fatalf("to cancelled: %v", err)
	}
	if _, err := svc.CancelRun(ctx, run.ID); !IsValidation(err) {
		t.Fatalf("err = %v, want validation error for terminal run", err)
	}
}

func TestRegisterFunctionDuplicateName(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.RegisterFunction(ctx, RegisterFunctionParams{OwnerID: "owner_1", Name: "f"}); err != nil {
		t.Fatalf("RegisterFunction: %v", err)
	}
	_, err := svc.RegisterFunction(ctx, RegisterFunctionParams{OwnerID: "owner_1", Name: "f"})
	if !errors.Is(err, storage.ErrAlreadyExists) {
		t.Fatalf("err = %v, want ErrAlreadyExists", err)
	}
}
