package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/assistantd/assistantd/internal/llm"
	"github.com/assistantd/assistantd/internal/queue"
	"github.com/assistantd/assistantd/internal/retrieval"
	"github.com/assistantd/assistantd/internal/retry"
	"github.com/assistantd/assistantd/internal/sandbox"
	"github.com/assistantd/assistantd/internal/storage"
	"github.com/assistantd/assistantd/internal/tools"
	"github.com/assistantd/assistantd/pkg/models"
)

// scriptedClient replays a fixed sequence of model responses and records
// every request it saw.
type scriptedClient struct {
	mu       sync.Mutex
	steps    []scriptStep
	requests []*llm.Request
}

type scriptStep struct {
	resp *llm.Response
	err  error
}

func (c *scriptedClient) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
	if len(c.steps) == 0 {
		return nil, errors.New("scripted client exhausted")
	}
	step := c.steps[0]
	c.steps = c.steps[1:]
	return step.resp, step.err
}

func (c *scriptedClient) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

type fakeSandbox struct {
	mu     sync.Mutex
	runs   int
	result *sandbox.Result
	err    error
	onRun  func()
}

func (s *fakeSandbox) Run(ctx context.Context, code string) (*sandbox.Result, error) {
	s.mu.Lock()
	s.runs++
	s.mu.Unlock()
	if s.onRun != nil {
		s.onRun()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func (s *fakeSandbox) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs
}

type fakeRetriever struct {
	hits []retrieval.Hit
	err  error
}

func (r *fakeRetriever) Index(ctx context.Context, chunks []*models.Chunk) error { return nil }
func (r *fakeRetriever) Remove(ctx context.Context, fileID string) error         { return nil }
func (r *fakeRetriever) Search(ctx context.Context, query string, fileIDs []string, topK int) ([]retrieval.Hit, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.hits, nil
}

type fixture struct {
	engine *Engine
	stores *storage.Set
	client *scriptedClient
	sb     *fakeSandbox
}

func newFixture(t *testing.T, steps []scriptStep, opts func(*Options)) *fixture {
	t.Helper()
	stores := storage.NewMemory()
	client := &scriptedClient{steps: steps}
	sb := &fakeSandbox{result: &sandbox.Result{Stdout: "ok\n"}}

	dispatcher := tools.NewDispatcher(tools.DispatcherOptions{
		Retrieval: tools.NewRetrievalTool(tools.RetrievalOptions{
			Retriever: &fakeRetriever{hits: []retrieval.Hit{
				{ChunkID: "chunk_1", FileID: "file_1", Text: "refunds take 5 days", Score: 0.9},
			}},
		}),
		Interpreter: tools.NewInterpreterTool(sb, 0),
	})

	fastRetry := retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Factor: 2}
	options := Options{
		Stores:              stores,
		Queue:               queue.NewMemory(),
		Model:               client,
		Dispatcher:          dispatcher,
		MaxModelCalls:       10,
		MaxCorrectionRounds: 2,
		ModelRetry:          fastRetry,
		ToolRetry:           fastRetry,
	}
	if opts != nil {
		opts(&options)
	}
	return &fixture{engine: New(options), stores: stores, client: client, sb: sb}
}

// seedRun creates a thread with one user message and a queued run carrying
// the given tool snapshot.
func (f *fixture) seedRun(t *testing.T, userText string, toolSet []models.Tool, mutate func(*models.Run)) *models.Run {
	t.Helper()
	ctx := context.Background()
	now := time.Now().Unix()

	assistant := &models.Assistant{ID: "asst_1", OwnerID: "owner_1", Model: "gpt-4o", Tools: toolSet, CreatedAt: now}
	if err := f.stores.Assistants.Create(ctx, assistant); err != nil && !errors.Is(err, storage.ErrAlreadyExists) {
		t.Fatalf("create assistant: %v", err)
	}
	thread := &models.Thread{ID: models.NewID(models.ThreadIDPrefix), OwnerID: "owner_1", CreatedAt: now}
	if err := f.stores.Threads.Create(ctx, thread); err != nil {
		t.Fatalf("create thread: %v", err)
	}
	msg := models.NewTextMessage(thread.ID, models.RoleUser, userText)
	msg.CreatedAt = now
	if err := f.stores.Messages.Append(ctx, msg); err != nil {
		t.Fatalf("append message: %v", err)
	}

	run := &models.Run{
		ID:          models.NewID(models.RunIDPrefix),
		ThreadID:    thread.ID,
		AssistantID: "asst_1",
		OwnerID:     "owner_1",
		Status:      models.RunStatusQueued,
		Model:       "gpt-4o",
		Tools:       toolSet,
		CreatedAt:   now,
		ExpiresAt:   now + 600,
	}
	if mutate != nil {
		mutate(run)
	}
	if err := f.stores.Runs.Create(ctx, run); err != nil {
		t.Fatalf("create run: %v", err)
	}
	return run
}

func (f *fixture) registerFunction(t *testing.T, name string) {
	t.Helper()
	err := f.stores.Functions.Create(context.Background(), &models.Function{
		ID:         models.NewID(models.FunctionIDPrefix),
		OwnerID:    "owner_1",
		Name:       name,
		Parameters: json.RawMessage(`{"type":"object","properties":{"city":{"type":"string"}},"required":["city"]}`),
		CreatedAt:  time.Now().Unix(),
	})
	if err != nil {
		t.Fatalf("register function: %v", err)
	}
}

func (f *fixture) getRun(t *testing.T, id string) *models.Run {
	t.Helper()
	run, err := f.stores.Runs.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	return run
}

func toolCallResponse(id, name, args string) *llm.Response {
	return &llm.Response{
		ToolCalls:    []llm.ToolInvocation{{ID: id, Name: name, Arguments: args}},
		FinishReason: "tool_calls",
	}
}

func textResponse(text string) *llm.Response {
	return &llm.Response{Content: text, FinishReason: "stop"}
}

func TestProcessFunctionToolPausesAndResumes(t *testing.T) {
	f := newFixture(t, []scriptStep{
		{resp: toolCallResponse("call_w1", "get_weather", `{"city":"Lisbon"}`)},
		{resp: textResponse("It is 21C in Lisbon.")},
	}, nil)
	f.registerFunction(t, "get_weather")

	run := f.seedRun(t, "What is the weather in Lisbon?", []models.Tool{
		{Kind: models.ToolKindFunction, Function: &models.FunctionToolConfig{Name: "get_weather"}},
	}, nil)

	ctx := context.Background()
	if got := f.engine.process(ctx, queue.Item{RunID: run.ID, ThreadID: run.ThreadID}); got != outcomeRelease {
		t.Fatalf("outcome = %v, want release", got)
	}

	paused := f.getRun(t, run.ID)
	if paused.Status != models.RunStatusRequiresAction {
		t.Fatalf("status = %s, want requires_action", paused.Status)
	}
	if paused.RequiredAction == nil || len(paused.RequiredAction.ToolCalls) != 1 {
		t.Fatalf("required action = %+v, want one open call", paused.RequiredAction)
	}
	if got := paused.RequiredAction.ToolCalls[0].ID; got != "call_w1" {
		t.Fatalf("open call id = %s, want call_w1", got)
	}

	// Submit the output the way the API layer does: resolve in the resume
	// transition and redeliver.
	_, err := f.stores.Runs.Transition(ctx, run.ID, paused.Version, storage.RunMutation{
		Status:              models.RunStatusRunning,
		Now:                 time.Now().Unix(),
		ClearRequiredAction: true,
		ToolOutputs:         []models.ToolOutput{{ToolCallID: "call_w1", Output: `{"temp_c":21}`}},
	})
	if err != nil {
		t.Fatalf("resume transition: %v", err)
	}
	if got := f.engine.process(ctx, queue.Item{RunID: run.ID, ThreadID: run.ThreadID}); got != outcomeRelease {
		t.Fatalf("resume outcome = %v, want release", got)
	}

	done := f.getRun(t, run.ID)
	if done.Status != models.RunStatusCompleted {
		t.Fatalf("status = %s, want completed", done.Status)
	}
	if done.RequiredAction != nil {
		t.Fatalf("required action should be cleared, got %+v", done.RequiredAction)
	}

	messages, err := f.stores.Messages.List(ctx, run.ThreadID, 10, 0)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	last := messages[len(messages)-1]
	if last.Role != models.RoleAssistant || !strings.Contains(last.PlainText(), "21C") {
		t.Fatalf("final message = %q (%s)", last.PlainText(), last.Role)
	}
	if last.RunID != run.ID {
		t.Fatalf("final message run id = %s, want %s", last.RunID, run.ID)
	}

	// The resumed model request must replay the resolved call output.
	lastReq := f.client.requests[len(f.client.requests)-1]
	var sawOutput bool
	for _, turn := range lastReq.Turns {
		if turn.Role == "tool" && turn.ToolCallID == "call_w1" {
			sawOutput = true
		}
	}
	if !sawOutput {
		t.Fatal("resumed request did not replay the tool output")
	}

	steps, err := f.stores.Steps.List(ctx, run.ID)
	if err != nil {
		t.Fatalf("list steps: %v", err)
	}
	if len(steps) != 2 {
		t.Fatalf("steps = %d, want tool_calls + message_creation", len(steps))
	}
}

func TestProcessInterpreterRun(t *testing.T) {
	f := newFixture(t, []scriptStep{
		{resp: toolCallResponse("call_c1", "code_interpreter", `{"code":"print(3*7+2)"}`)},
		{resp: textResponse("The result is 23.")},
	}, nil)
	f.sb.result = &sandbox.Result{Stdout: "23\n"}

	run := f.seedRun(t, "Compute 3*7+2 with code.", []models.Tool{
		{Kind: models.ToolKindCodeInterpreter},
	}, nil)

	ctx := context.Background()
	if got := f.engine.process(ctx, queue.Item{RunID: run.ID, ThreadID: run.ThreadID}); got != outcomeRelease {
		t.Fatalf("outcome = %v, want release", got)
	}

	done := f.getRun(t, run.ID)
	if done.Status != models.RunStatusCompleted {
		t.Fatalf("status = %s, last error %+v", done.Status, done.LastError)
	}
	if f.sb.count() != 1 {
		t.Fatalf("sandbox runs = %d, want 1", f.sb.count())
	}

	calls, err := f.stores.ToolCalls.ListByRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("list calls: %v", err)
	}
	if len(calls) != 1 || !calls[0].Resolved() {
		t.Fatalf("calls = %+v, want one resolved", calls)
	}
	if !strings.Contains(*calls[0].Output, "23") {
		t.Fatalf("output = %q, want to contain 23", *calls[0].Output)
	}
}

func TestProcessRetrievalNeverPauses(t *testing.T) {
	f := newFixture(t, []scriptStep{
		{resp: toolCallResponse("call_r1", "retrieval", `{}`)},
		{resp: textResponse("Refunds take 5 business days.")},
	}, nil)

	run := f.seedRun(t, "How long do refunds take?", []models.Tool{
		{Kind: models.ToolKindRetrieval},
	}, func(r *models.Run) {
		r.FileIDs = []string{"file_1"}
	})

	ctx := context.Background()
	if got := f.engine.process(ctx, queue.Item{RunID: run.ID, ThreadID: run.ThreadID}); got != outcomeRelease {
		t.Fatalf("outcome = %v, want release", got)
	}

	done := f.getRun(t, run.ID)
	if done.Status != models.RunStatusCompleted {
		t.Fatalf("status = %s, want completed (retrieval must not pause)", done.Status)
	}
	calls, _ := f.stores.ToolCalls.ListByRun(ctx, run.ID)
	if len(calls) != 1 || !calls[0].Resolved() {
		t.Fatalf("calls = %+v, want one resolved retrieval call", calls)
	}
	if !strings.Contains(*calls[0].Output, "refunds take 5 days") {
		t.Fatalf("output = %q, want snippet text", *calls[0].Output)
	}
}

func TestProcessExpiredBeforeStart(t *testing.T) {
	f := newFixture(t, nil, nil)
	run := f.seedRun(t, "hello", nil, func(r *models.Run) {
		r.ExpiresAt = time.Now().Unix() - 10
	})

	if got := f.engine.process(context.Background(), queue.Item{RunID: run.ID, ThreadID: run.ThreadID}); got != outcomeRelease {
		t.Fatalf("outcome = %v, want release", got)
	}
	done := f.getRun(t, run.ID)
	if done.Status != models.RunStatusExpired {
		t.Fatalf("status = %s, want expired", done.Status)
	}
	if f.client.calls() != 0 {
		t.Fatalf("model calls = %d, want 0", f.client.calls())
	}
}

func TestProcessCancellingBecomesCancelled(t *testing.T) {
	f := newFixture(t, nil, nil)
	run := f.seedRun(t, "hello", nil, nil)

	ctx := context.Background()
	_, err := f.stores.Runs.Transition(ctx, run.ID, run.Version, storage.RunMutation{
		Status: models.RunStatusCancelling,
		Now:    time.Now().Unix(),
	})
	if err != nil {
		t.Fatalf("transition to cancelling: %v", err)
	}

	if got := f.engine.process(ctx, queue.Item{RunID: run.ID, ThreadID: run.ThreadID}); got != outcomeRelease {
		t.Fatalf("outcome = %v, want release", got)
	}
	done := f.getRun(t, run.ID)
	if done.Status != models.RunStatusCancelled {
		t.Fatalf("status = %s, want cancelled", done.Status)
	}
	if done.CancelledAt == 0 {
		t.Fatal("cancelled_at not set")
	}
}

func TestProcessCancelMidToolBatch(t *testing.T) {
	f := newFixture(t, []scriptStep{
		{resp: &llm.Response{ToolCalls: []llm.ToolInvocation{
			{ID: "call_c1", Name: "code_interpreter", Arguments: `{"code":"print(1)"}`},
			{ID: "call_c2", Name: "code_interpreter", Arguments: `{"code":"print(2)"}`},
		}, FinishReason: "tool_calls"}},
	}, nil)
	run := f.seedRun(t, "run both", []models.Tool{{Kind: models.ToolKindCodeInterpreter}}, nil)

	// Cancel lands while the first interpreter call is executing.
	f.sb.onRun = func() {
		ctx := context.Background()
		current, err := f.stores.Runs.Get(ctx, run.ID)
		if err != nil {
			t.Errorf("get run: %v", err)
			return
		}
		if current.Status != models.RunStatusRunning {
			return
		}
		if _, err := f.stores.Runs.Transition(ctx, run.ID, current.Version, storage.RunMutation{
			Status: models.RunStatusCancelling,
			Now:    time.Now().Unix(),
		}); err != nil {
			t.Errorf("transition to cancelling: %v", err)
		}
	}

	if got := f.engine.process(context.Background(), queue.Item{RunID: run.ID, ThreadID: run.ThreadID}); got != outcomeRelease {
		t.Fatalf("outcome = %v, want release", got)
	}
	done := f.getRun(t, run.ID)
	if done.Status != models.RunStatusCancelled {
		t.Fatalf("status = %s, want cancelled", done.Status)
	}
	if f.sb.count() != 1 {
		t.Fatalf("sandbox runs = %d, want 1: second call executed after cancel", f.sb.count())
	}
}

func TestProcessTransientModelFailureExhaustsRetries(t *testing.T) {
	transient := errors.New("dial tcp: connection reset by peer")
	f := newFixture(t, []scriptStep{
		{err: transient}, {err: transient}, {err: transient},
	}, nil)
	run := f.seedRun(t, "hello", nil, nil)

	if got := f.engine.process(context.Background(), queue.Item{RunID: run.ID, ThreadID: run.ThreadID}); got != outcomeRelease {
		t.Fatalf("outcome = %v, want release", got)
	}
	done := f.getRun(t, run.ID)
	if done.Status != models.RunStatusFailed {
		t.Fatalf("status = %s, want failed", done.Status)
	}
	if done.LastError == nil || done.LastError.Kind != models.ErrKindServerError {
		t.Fatalf("last error = %+v, want server_error", done.LastError)
	}
	if f.client.calls() != 3 {
		t.Fatalf("model attempts = %d, want 3", f.client.calls())
	}
}

func TestProcessRateLimitFailureKind(t *testing.T) {
	rateLimited := &openai.APIError{HTTPStatusCode: http.StatusTooManyRequests, Message: "rate limit"}
	f := newFixture(t, []scriptStep{
		{err: rateLimited}, {err: rateLimited}, {err: rateLimited},
	}, nil)
	run := f.seedRun(t, "hello", nil, nil)

	f.engine.process(context.Background(), queue.Item{RunID: run.ID, ThreadID: run.ThreadID})
	done := f.getRun(t, run.ID)
	if done.Status != models.RunStatusFailed || done.LastError == nil || done.LastError.Kind != models.ErrKindRateLimit {
		t.Fatalf("run = %s / %+v, want failed with rate_limit", done.Status, done.LastError)
	}
}

func TestProcessSandboxExhaustion(t *testing.T) {
	badCall := func(id string) scriptStep {
		return scriptStep{resp: toolCallResponse(id, "code_interpreter", `{"code":"1/0"}`)}
	}
	f := newFixture(t, []scriptStep{
		badCall("call_1"), badCall("call_2"), badCall("call_3"),
	}, func(o *Options) {
		o.MaxCorrectionRounds = 2
	})
	f.sb.result = &sandbox.Result{Stderr: "ZeroDivisionError", ExitCode: 1}

	run := f.seedRun(t, "divide by zero", []models.Tool{
		{Kind: models.ToolKindCodeInterpreter},
	}, nil)

	f.engine.process(context.Background(), queue.Item{RunID: run.ID, ThreadID: run.ThreadID})
	done := f.getRun(t, run.ID)
	if done.Status != models.RunStatusFailed || done.LastError == nil || done.LastError.Kind != models.ErrKindSandboxExhausted {
		t.Fatalf("run = %s / %+v, want failed with sandbox_exhausted", done.Status, done.LastError)
	}
	if f.sb.count() != 3 {
		t.Fatalf("sandbox runs = %d, want 3 (two corrections then exhaustion)", f.sb.count())
	}
}

func TestProcessUnknownToolFailsRun(t *testing.T) {
	f := newFixture(t, []scriptStep{
		{resp: toolCallResponse("call_x", "launch_missiles", `{}`)},
	}, nil)
	run := f.seedRun(t, "hello", nil, nil)

	f.engine.process(context.Background(), queue.Item{RunID: run.ID, ThreadID: run.ThreadID})
	done := f.getRun(t, run.ID)
	if done.Status != models.RunStatusFailed || done.LastError == nil || done.LastError.Kind != models.ErrKindServerError {
		t.Fatalf("run = %s / %+v, want failed with server_error", done.Status, done.LastError)
	}
}

func TestProcessRedeliveryOfFinishedRunIsHarmless(t *testing.T) {
	f := newFixture(t, []scriptStep{
		{resp: textResponse("hi there")},
	}, nil)
	run := f.seedRun(t, "hello", nil, nil)

	ctx := context.Background()
	item := queue.Item{RunID: run.ID, ThreadID: run.ThreadID}
	f.engine.process(ctx, item)
	if got := f.getRun(t, run.ID).Status; got != models.RunStatusCompleted {
		t.Fatalf("status = %s, want completed", got)
	}
	before := f.client.calls()

	if got := f.engine.process(ctx, item); got != outcomeRelease {
		t.Fatalf("redelivery outcome = %v, want release", got)
	}
	if f.client.calls() != before {
		t.Fatalf("redelivery made %d extra model calls", f.client.calls()-before)
	}

	messages, _ := f.stores.Messages.List(ctx, run.ThreadID, 10, 0)
	if len(messages) != 2 {
		t.Fatalf("messages = %d, want user + assistant exactly once", len(messages))
	}
}

func TestProcessResumesUnresolvedAutoCalls(t *testing.T) {
	// A crashed claim left one resolved and one unresolved interpreter call.
	// The next delivery must execute only the unresolved one.
	f := newFixture(t, []scriptStep{
		{resp: textResponse("done")},
	}, nil)
	f.sb.result = &sandbox.Result{Stdout: "42\n"}

	run := f.seedRun(t, "crunch numbers", []models.Tool{
		{Kind: models.ToolKindCodeInterpreter},
	}, nil)

	ctx := context.Background()
	now := time.Now().Unix()
	resolved := "old output"
	_, err := f.stores.Runs.Transition(ctx, run.ID, run.Version, storage.RunMutation{
		Status:    models.RunStatusRunning,
		Now:       now,
		StartedAt: now,
		ToolCalls: []*models.ToolCall{
			{ID: "call_a", RunID: run.ID, Kind: models.ToolKindCodeInterpreter, Name: "code_interpreter",
				Arguments: json.RawMessage(`{"code":"print(1)"}`), Output: &resolved, CreatedAt: now, ResolvedAt: now},
			{ID: "call_b", RunID: run.ID, Kind: models.ToolKindCodeInterpreter, Name: "code_interpreter",
				Arguments: json.RawMessage(`{"code":"print(42)"}`), CreatedAt: now + 1},
		},
	})
	if err != nil {
		t.Fatalf("seed transition: %v", err)
	}

	if got := f.engine.process(ctx, queue.Item{RunID: run.ID, ThreadID: run.ThreadID}); got != outcomeRelease {
		t.Fatalf("outcome = %v, want release", got)
	}
	if f.sb.count() != 1 {
		t.Fatalf("sandbox runs = %d, want 1 (resolved call must not re-execute)", f.sb.count())
	}

	calls, _ := f.stores.ToolCalls.ListByRun(ctx, run.ID)
	for _, call := range calls {
		if !call.Resolved() {
			t.Fatalf("call %s still unresolved", call.ID)
		}
	}
	if got := f.getRun(t, run.ID).Status; got != models.RunStatusCompleted {
		t.Fatalf("status = %s, want completed", got)
	}
}

func TestProcessModelCallBudget(t *testing.T) {
	loop := make([]scriptStep, 0, 4)
	for i := 0; i < 4; i++ {
		loop = append(loop, scriptStep{resp: toolCallResponse(fmt.Sprintf("call_%d", i), "code_interpreter", `{"code":"print(1)"}`)})
	}
	f := newFixture(t, loop, func(o *Options) {
		o.MaxModelCalls = 3
	})
	run := f.seedRun(t, "loop forever", []models.Tool{
		{Kind: models.ToolKindCodeInterpreter},
	}, nil)

	f.engine.process(context.Background(), queue.Item{RunID: run.ID, ThreadID: run.ThreadID})
	done := f.getRun(t, run.ID)
	if done.Status != models.RunStatusFailed || done.LastError == nil || done.LastError.Kind != models.ErrKindServerError {
		t.Fatalf("run = %s / %+v, want failed with server_error", done.Status, done.LastError)
	}
	if f.client.calls() != 3 {
		t.Fatalf("model calls = %d, want budget of 3", f.client.calls())
	}
}

func TestSweepOnceExpiresOverdueRuns(t *testing.T) {
	f := newFixture(t, nil, nil)
	overdue := f.seedRun(t, "old", nil, func(r *models.Run) {
		r.ExpiresAt = time.Now().Unix() - 60
	})
	fresh := f.seedRun(t, "new", nil, nil)

	f.engine.sweepOnce(context.Background())

	if got := f.getRun(t, overdue.ID).Status; got != models.RunStatusExpired {
		t.Fatalf("overdue run = %s, want expired", got)
	}
	if got := f.getRun(t, fresh.ID).Status; got != models.RunStatusQueued {
		t.Fatalf("fresh run = %s, want untouched", got)
	}
}

func TestNewRetryOptions(t *testing.T) {
	custom := retry.Config{MaxAttempts: 7, InitialDelay: time.Second, MaxDelay: time.Minute, Factor: 3}
	e := New(Options{ModelRetry: custom, ToolRetry: custom})
	if e.modelRetry.MaxAttempts != 7 || e.toolRetry.MaxAttempts != 7 {
		t.Fatalf("retry options not honored: model=%+v tool=%+v", e.modelRetry, e.toolRetry)
	}

	e = New(Options{})
	def := retry.DefaultConfig()
	if e.modelRetry != def || e.toolRetry != def {
		t.Fatalf("retry defaults not applied: model=%+v tool=%+v", e.modelRetry, e.toolRetry)
	}
}
