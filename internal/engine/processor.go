package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/assistantd/assistantd/internal/llm"
	"github.com/assistantd/assistantd/internal/queue"
	"github.com/assistantd/assistantd/internal/retry"
	"github.com/assistantd/assistantd/internal/storage"
	"github.com/assistantd/assistantd/internal/tools"
	"github.com/assistantd/assistantd/pkg/models"
)

type outcome int

const (
	outcomeRelease outcome = iota
	outcomeAbandon
)

// errStale signals that a transition lost the version race: the run must be
// reloaded and re-checkpointed before continuing.
var errStale = errors.New("run version stale")

const messagePageSize = 1000

var (
	retrievalSchema   = json.RawMessage(`{"type":"object","properties":{},"additionalProperties":false}`)
	interpreterSchema = json.RawMessage(`{"type":"object","properties":{"code":{"type":"string","description":"Python source to execute"}},"required":["code"]}`)
)

// process drives one claimed run to a pause or a terminal state. Every
// mutation goes through a version-checked transition, so a concurrent cancel
// or a duplicate delivery surfaces as errStale and the loop re-checkpoints.
func (e *Engine) process(ctx context.Context, item queue.Item) outcome {
	run, err := e.stores.Runs.Get(ctx, item.RunID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			e.logger.Warn(ctx, "claimed run not found, dropping", "run_id", item.RunID)
			return outcomeRelease
		}
		e.logger.Error(ctx, "load run failed", "err", err)
		return outcomeAbandon
	}

	if e.tracer != nil {
		spanCtx, span := e.tracer.StartRunSpan(ctx, run.ID, run.ThreadID, run.Model)
		defer span.End()
		ctx = spanCtx
	}

	started := time.Now()
	modelCalls := 0
	sandboxRounds := 0

	for {
		if ctx.Err() != nil {
			return outcomeAbandon
		}

		switch {
		case run.Status.Terminal():
			// Duplicate delivery of a finished run.
			return outcomeRelease

		case run.Status == models.RunStatusCancelling:
			now := e.now()
			next, err := e.stores.Runs.Transition(ctx, run.ID, run.Version, storage.RunMutation{
				Status:              models.RunStatusCancelled,
				Now:                 now,
				CancelledAt:         now,
				ClearRequiredAction: true,
			})
			if err != nil {
				run = e.reloadOrNil(ctx, run.ID)
				if run == nil {
					return outcomeAbandon
				}
				continue
			}
			e.logger.Info(ctx, "run cancelled", "run_id", next.ID)
			return outcomeRelease

		case run.ExpiresAt != 0 && e.now() >= run.ExpiresAt:
			_, err := e.stores.Runs.Transition(ctx, run.ID, run.Version, storage.RunMutation{
				Status:              models.RunStatusExpired,
				Now:                 e.now(),
				ClearRequiredAction: true,
			})
			if err != nil {
				run = e.reloadOrNil(ctx, run.ID)
				if run == nil {
					return outcomeAbandon
				}
				continue
			}
			if e.metrics != nil {
				e.metrics.RunsExpired.Inc()
			}
			e.logger.Info(ctx, "run expired", "run_id", run.ID)
			return outcomeRelease

		case run.Status == models.RunStatusRequiresAction:
			// Delivered before outputs were submitted; the submit path
			// re-enqueues after resolving, so this claim is stale.
			return outcomeRelease

		case run.Status == models.RunStatusQueued:
			next, err := e.stores.Runs.Transition(ctx, run.ID, run.Version, storage.RunMutation{
				Status:    models.RunStatusRunning,
				Now:       e.now(),
				StartedAt: e.now(),
			})
			if err != nil {
				run = e.reloadOrNil(ctx, run.ID)
				if run == nil {
					return outcomeAbandon
				}
				continue
			}
			run = next
			if e.metrics != nil {
				e.metrics.RecordRunStarted(run.Model)
			}
			e.logger.Info(ctx, "run started", "run_id", run.ID, "model", run.Model)
		}

		next, done, err := e.step(ctx, run, &modelCalls, &sandboxRounds, started)
		switch {
		case errors.Is(err, errStale):
			run = e.reloadOrNil(ctx, run.ID)
			if run == nil {
				return outcomeAbandon
			}
		case err != nil:
			e.logger.Error(ctx, "run step failed", "run_id", run.ID, "err", err)
			return outcomeAbandon
		case done:
			return outcomeRelease
		default:
			run = next
		}
	}
}

// step performs one engine iteration against a running run: resolve any
// outstanding auto tool calls, make one model call, and either commit the
// final message, pause for function outputs, or dispatch the requested
// tools.
func (e *Engine) step(ctx context.Context, run *models.Run, modelCalls, sandboxRounds *int, started time.Time) (*models.Run, bool, error) {
	calls, err := e.stores.ToolCalls.ListByRun(ctx, run.ID)
	if err != nil {
		return nil, false, fmt.Errorf("list tool calls: %w", err)
	}
	sortCalls(calls)

	messages, err := e.stores.Messages.List(ctx, run.ThreadID, messagePageSize, 0)
	if err != nil {
		return nil, false, fmt.Errorf("list messages: %w", err)
	}
	query := latestUserText(messages)

	// Idempotent resume: a redelivered run may carry unresolved auto calls
	// from an interrupted claim. Resolved calls are never re-executed.
	run, done, err := e.resolvePending(ctx, run, calls, query, sandboxRounds)
	if err != nil || done {
		return run, done, err
	}

	*modelCalls++
	if *modelCalls > e.maxModelCalls {
		return e.failRun(ctx, run, models.ErrKindServerError, "model call budget exhausted", started)
	}

	specs, kinds, err := e.toolSpecs(ctx, run)
	if err != nil {
		return e.failRun(ctx, run, models.ErrKindServerError, err.Error(), started)
	}

	req := &llm.Request{
		Model:        run.Model,
		Instructions: run.Instructions,
		Turns:        buildTurns(messages, calls),
		Tools:        specs,
	}

	resp, err := e.complete(ctx, req)
	if err != nil {
		kind := models.ErrKindServerError
		switch {
		case llm.IsContextExceeded(err):
			kind = models.ErrKindContextExceeded
		case llm.IsRateLimited(err):
			kind = models.ErrKindRateLimit
		}
		return e.failRun(ctx, run, kind, err.Error(), started)
	}

	if len(resp.ToolCalls) == 0 {
		return e.finishRun(ctx, run, resp.Content, started)
	}

	now := e.now()
	rows := make([]*models.ToolCall, 0, len(resp.ToolCalls))
	for _, inv := range resp.ToolCalls {
		kind, ok := kinds[inv.Name]
		if !ok {
			return e.failRun(ctx, run, models.ErrKindServerError,
				fmt.Sprintf("model requested unknown tool %q", inv.Name), started)
		}
		id := inv.ID
		if id == "" {
			id = models.NewID(models.ToolCallIDPrefix)
		}
		rows = append(rows, &models.ToolCall{
			ID:        id,
			RunID:     run.ID,
			Kind:      kind,
			Name:      inv.Name,
			Arguments: json.RawMessage(inv.Arguments),
			CreatedAt: now,
		})
	}

	stepIDs := make([]string, 0, len(rows))
	for _, row := range rows {
		stepIDs = append(stepIDs, row.ID)
	}
	run, err = e.transition(ctx, run, storage.RunMutation{
		Status:    models.RunStatusRunning,
		Now:       now,
		ToolCalls: rows,
		Step: &models.RunStep{
			ID:          models.NewID(models.StepIDPrefix),
			RunID:       run.ID,
			ThreadID:    run.ThreadID,
			Type:        models.RunStepToolCalls,
			Status:      "completed",
			ToolCallIDs: stepIDs,
			CreatedAt:   now,
		},
	})
	if err != nil {
		return nil, false, err
	}

	return e.resolvePending(ctx, run, rows, query, sandboxRounds)
}

// resolvePending executes unresolved auto calls inline and, if unresolved
// function calls remain, pauses the run in requires_action.
func (e *Engine) resolvePending(ctx context.Context, run *models.Run, calls []*models.ToolCall, query string, sandboxRounds *int) (*models.Run, bool, error) {
	var outputs []models.ToolOutput
	var pending []models.ToolCall

	executed := 0
	for _, call := range calls {
		if call.Resolved() {
			continue
		}
		if !call.AutoResolvable() {
			pending = append(pending, *call)
			continue
		}

		// A concurrent cancel bumps the run version; notice it between
		// calls rather than at the batch commit.
		if executed > 0 {
			if err := ctx.Err(); err != nil {
				return nil, false, err
			}
			latest, err := e.stores.Runs.Get(ctx, run.ID)
			if err != nil {
				return nil, false, fmt.Errorf("reload run: %w", err)
			}
			if latest.Version != run.Version {
				return nil, false, errStale
			}
		}

		result, failure, err := e.executeAuto(ctx, run, call, query)
		if err != nil {
			return nil, false, err
		}
		if failure != nil {
			next, done, ferr := e.failRun(ctx, run, failure.Kind, failure.Error(), time.Now())
			return next, done, ferr
		}
		if result.SandboxError {
			*sandboxRounds++
			if *sandboxRounds > e.maxRounds {
				next, done, ferr := e.failRun(ctx, run, models.ErrKindSandboxExhausted,
					"interpreter correction budget exhausted", time.Now())
				return next, done, ferr
			}
		}
		outputs = append(outputs, models.ToolOutput{ToolCallID: call.ID, Output: result.Output})
		executed++
	}

	if len(outputs) > 0 {
		next, err := e.transition(ctx, run, storage.RunMutation{
			Status:      run.Status,
			Now:         e.now(),
			ToolOutputs: outputs,
		})
		if err != nil {
			return nil, false, err
		}
		run = next
	}

	if len(pending) > 0 {
		next, err := e.transition(ctx, run, storage.RunMutation{
			Status: models.RunStatusRequiresAction,
			Now:    e.now(),
			RequiredAction: &models.RequiredAction{
				Type:      models.RequiredActionSubmitToolOutputs,
				ToolCalls: pending,
			},
		})
		if err != nil {
			return nil, false, err
		}
		e.logger.Info(ctx, "run paused for tool outputs",
			"run_id", next.ID, "open_calls", len(pending))
		return next, true, nil
	}
	return run, false, nil
}

// executeAuto runs one retrieval, interpreter, or action call through the
// dispatcher. Transient plain errors are retried; a tools.Failure is
// permanent and fails the run with its kind.
func (e *Engine) executeAuto(ctx context.Context, run *models.Run, call *models.ToolCall, query string) (*tools.ExecResult, *tools.Failure, error) {
	if e.tracer != nil {
		spanCtx, span := e.tracer.StartToolSpan(ctx, string(call.Kind), call.Name)
		defer span.End()
		ctx = spanCtx
	}

	started := time.Now()
	result, res := retry.DoWithValue(ctx, e.toolRetry, func() (*tools.ExecResult, error) {
		r, err := e.dispatcher.Execute(ctx, run, call, query)
		var failure *tools.Failure
		if errors.As(err, &failure) {
			return nil, retry.Permanent(err)
		}
		return r, err
	})

	outcomeLabel := "ok"
	if res.Err != nil {
		outcomeLabel = "error"
	}
	if e.metrics != nil {
		e.metrics.RecordToolExecution(string(call.Kind), outcomeLabel, time.Since(started))
	}

	if res.Err != nil {
		var failure *tools.Failure
		if errors.As(res.Err, &failure) {
			return nil, failure, nil
		}
		return nil, &tools.Failure{Kind: models.ErrKindServerError, Err: res.Err}, nil
	}
	e.logger.Debug(ctx, "tool resolved",
		"run_id", run.ID, "tool_call_id", call.ID, "kind", call.Kind, "attempts", res.Attempts)
	return result, nil, nil
}

// complete makes one model request with retries and a single truncation
// retry when the prompt exceeds the context window.
func (e *Engine) complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	resp, err := e.completeOnce(ctx, req)
	if err != nil && llm.IsContextExceeded(err) && len(req.Turns) > 1 {
		truncated := *req
		truncated.Turns = truncateTurns(req.Turns)
		e.logger.Warn(ctx, "prompt exceeded context window, retrying truncated",
			"turns", len(req.Turns), "kept", len(truncated.Turns))
		resp, err = e.completeOnce(ctx, &truncated)
	}
	return resp, err
}

func (e *Engine) completeOnce(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	resp, res := retry.DoWithValue(ctx, e.modelRetry, func() (*llm.Response, error) {
		r, err := e.model.Complete(ctx, req)
		if err != nil && !llm.IsRetryable(err) {
			return nil, retry.Permanent(err)
		}
		return r, err
	})
	if e.metrics != nil {
		label := "ok"
		if res.Err != nil {
			label = "error"
		}
		e.metrics.RecordModelRequest(req.Model, label, res.Duration)
		if res.Attempts > 1 {
			e.metrics.ModelRetries.Add(float64(res.Attempts - 1))
		}
	}
	return resp, res.Err
}

// finishRun commits the final assistant message, the message_creation step,
// and the completed transition in one mutation.
func (e *Engine) finishRun(ctx context.Context, run *models.Run, content string, started time.Time) (*models.Run, bool, error) {
	now := e.now()
	message := models.NewTextMessage(run.ThreadID, models.RoleAssistant, content)
	message.AssistantID = run.AssistantID
	message.RunID = run.ID
	message.CreatedAt = now

	next, err := e.transition(ctx, run, storage.RunMutation{
		Status:      models.RunStatusCompleted,
		Now:         now,
		CompletedAt: now,
		Message:     message,
		Step: &models.RunStep{
			ID:        models.NewID(models.StepIDPrefix),
			RunID:     run.ID,
			ThreadID:  run.ThreadID,
			Type:      models.RunStepMessageCreation,
			Status:    "completed",
			MessageID: message.ID,
			CreatedAt: now,
		},
	})
	if err != nil {
		return nil, false, err
	}
	if e.metrics != nil {
		e.metrics.RecordRunCompleted(run.Model, time.Since(started))
	}
	e.logger.Info(ctx, "run completed", "run_id", next.ID)
	return next, true, nil
}

// failRun moves the run to failed with the given error kind.
func (e *Engine) failRun(ctx context.Context, run *models.Run, kind, message string, started time.Time) (*models.Run, bool, error) {
	now := e.now()
	next, err := e.transition(ctx, run, storage.RunMutation{
		Status:              models.RunStatusFailed,
		Now:                 now,
		FailedAt:            now,
		ClearRequiredAction: true,
		LastError:           &models.RunError{Kind: kind, Message: message},
	})
	if err != nil {
		return nil, false, err
	}
	if e.metrics != nil {
		e.metrics.RecordRunFailed(kind, time.Since(started))
	}
	e.logger.Warn(ctx, "run failed", "run_id", run.ID, "kind", kind, "message", message)
	return next, true, nil
}

// transition applies one version-checked mutation, translating a conflict
// into errStale so the caller re-checkpoints against fresh state.
func (e *Engine) transition(ctx context.Context, run *models.Run, mut storage.RunMutation) (*models.Run, error) {
	next, err := e.stores.Runs.Transition(ctx, run.ID, run.Version, mut)
	if err != nil {
		if errors.Is(err, storage.ErrVersionConflict) ||
			errors.Is(err, storage.ErrIllegalTransition) ||
			errors.Is(err, storage.ErrAlreadyResolved) {
			return nil, errStale
		}
		return nil, fmt.Errorf("transition to %s: %w", mut.Status, err)
	}
	return next, nil
}

func (e *Engine) reloadOrNil(ctx context.Context, runID string) *models.Run {
	run, err := e.stores.Runs.Get(ctx, runID)
	if err != nil {
		e.logger.Error(ctx, "reload run failed", "run_id", runID, "err", err)
		return nil
	}
	return run
}

// toolSpecs builds the model-facing tool list from the run's tool snapshot.
// Function schemas are resolved from the registry at call time so schema
// updates between runs take effect without re-creating assistants.
func (e *Engine) toolSpecs(ctx context.Context, run *models.Run) ([]llm.ToolSpec, map[string]models.ToolKind, error) {
	specs := make([]llm.ToolSpec, 0, len(run.Tools))
	kinds := make(map[string]models.ToolKind, len(run.Tools))

	for _, tool := range run.Tools {
		switch tool.Kind {
		case models.ToolKindRetrieval:
			specs = append(specs, llm.ToolSpec{
				Name:        "retrieval",
				Description: "Search the files attached to this run for passages relevant to the conversation.",
				Parameters:  retrievalSchema,
			})
			kinds["retrieval"] = models.ToolKindRetrieval

		case models.ToolKindCodeInterpreter:
			specs = append(specs, llm.ToolSpec{
				Name:        "code_interpreter",
				Description: "Execute Python code in a sandbox and return its output.",
				Parameters:  interpreterSchema,
			})
			kinds["code_interpreter"] = models.ToolKindCodeInterpreter

		case models.ToolKindAction:
			if tool.Action == nil {
				continue
			}
			specs = append(specs, llm.ToolSpec{
				Name:        tool.Action.Name,
				Description: tool.Action.Description,
				Parameters:  tool.Action.Parameters,
			})
			kinds[tool.Action.Name] = models.ToolKindAction

		case models.ToolKindFunction:
			if tool.Function == nil {
				continue
			}
			fn, err := e.stores.Functions.GetByName(ctx, run.OwnerID, tool.Function.Name)
			if err != nil {
				return nil, nil, fmt.Errorf("resolve function %q: %w", tool.Function.Name, err)
			}
			specs = append(specs, llm.ToolSpec{
				Name:        fn.Name,
				Description: fn.Description,
				Parameters:  fn.Parameters,
			})
			kinds[fn.Name] = models.ToolKindFunction
		}
	}
	return specs, kinds, nil
}

// buildTurns replays the thread followed by the run's resolved tool calls so
// the model sees outputs from earlier rounds.
func buildTurns(messages []*models.Message, calls []*models.ToolCall) []llm.Turn {
	turns := make([]llm.Turn, 0, len(messages)+2*len(calls))
	for _, m := range messages {
		turns = append(turns, llm.Turn{Role: string(m.Role), Content: m.PlainText()})
	}
	for _, call := range calls {
		if !call.Resolved() {
			continue
		}
		turns = append(turns, llm.Turn{
			Role: "assistant",
			ToolCalls: []llm.ToolInvocation{{
				ID:        call.ID,
				Name:      call.Name,
				Arguments: string(call.Arguments),
			}},
		})
		turns = append(turns, llm.Turn{
			Role:       "tool",
			ToolCallID: call.ID,
			Content:    *call.Output,
		})
	}
	return turns
}

// truncateTurns keeps the newest half of a conversation, always at least the
// final turn.
func truncateTurns(turns []llm.Turn) []llm.Turn {
	keep := len(turns) / 2
	if keep < 1 {
		keep = 1
	}
	return turns[len(turns)-keep:]
}

func latestUserText(messages []*models.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == models.RoleUser {
			return messages[i].PlainText()
		}
	}
	return ""
}

func sortCalls(calls []*models.ToolCall) {
	sort.Slice(calls, func(i, j int) bool {
		if calls[i].CreatedAt != calls[j].CreatedAt {
			return calls[i].CreatedAt < calls[j].CreatedAt
		}
		return calls[i].ID < calls[j].ID
	})
}
