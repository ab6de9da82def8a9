// Package tools executes auto-resolvable tool calls (retrieval,
// code_interpreter, action) and partitions model invocations between kinds
// that pause the run and kinds resolved inline.
package tools

import (
	"context"
	"fmt"

	"github.com/assistantd/assistantd/internal/observability"
	"github.com/assistantd/assistantd/pkg/models"
)

// Failure is a tool error that must fail the run, tagged with the error kind
// recorded on the run's last_error.
type Failure struct {
	Kind string
	Err  error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %v", f.Kind, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// ExecResult is the outcome of one auto-resolved tool call.
type ExecResult struct {
	Output string

	// SandboxError marks an interpreter failure the model may self-correct.
	// The engine counts these against the correction budget instead of
	// failing the run outright.
	SandboxError bool
}

// Dispatcher executes auto-resolvable tools against their collaborators.
type Dispatcher struct {
	retrieval   *RetrievalTool
	interpreter *InterpreterTool
	action      *ActionTool
	logger      *observability.Logger
	metrics     *observability.Metrics
}

// DispatcherOptions wires the per-kind executors. A nil executor makes calls
// of that kind fail with an unknown-tool error.
type DispatcherOptions struct {
	Retrieval   *RetrievalTool
	Interpreter *InterpreterTool
	Action      *ActionTool
	Logger      *observability.Logger
	Metrics     *observability.Metrics
}

// NewDispatcher creates the dispatcher.
func NewDispatcher(opts DispatcherOptions) *Dispatcher {
	if opts.Logger == nil {
		opts.Logger = observability.NewLogger(observability.LogConfig{})
	}
	return &Dispatcher{
		retrieval:   opts.Retrieval,
		interpreter: opts.Interpreter,
		action:      opts.Action,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
	}
}

// Partition splits tool calls into those that pause the run for external
// output (function) and those executed inline.
func Partition(calls []*models.ToolCall) (functions, autos []*models.ToolCall) {
	for _, call := range calls {
		if call.Kind == models.ToolKindFunction {
			functions = append(functions, call)
		} else {
			autos = append(autos, call)
		}
	}
	return functions, autos
}

// Execute runs one auto-resolvable call. run provides the tool configuration
// snapshot; query is the latest user message, used by retrieval.
func (d *Dispatcher) Execute(ctx context.Context, run *models.Run, call *models.ToolCall, query string) (*ExecResult, error) {
	switch call.Kind {
	case models.ToolKindRetrieval:
		if d.retrieval == nil {
			return nil, &Failure{Kind: models.ErrKindServerError, Err: fmt.Errorf("retrieval tool not configured")}
		}
		return d.retrieval.Execute(ctx, run.FileIDs, query)

	case models.ToolKindCodeInterpreter:
		if d.interpreter == nil {
			return nil, &Failure{Kind: models.ErrKindServerError, Err: fmt.Errorf("code interpreter not configured")}
		}
		return d.interpreter.Execute(ctx, string(call.Arguments))

	case models.ToolKindAction:
		if d.action == nil {
			return nil, &Failure{Kind: models.ErrKindServerError, Err: fmt.Errorf("action tool not configured")}
		}
		cfg := findActionConfig(run.Tools, call.Name)
		if cfg == nil {
			return nil, &Failure{Kind: models.ErrKindInvalidToolOutput, Err: fmt.Errorf("no action named %q on this run", call.Name)}
		}
		return d.action.Execute(ctx, cfg, string(call.Arguments))

	default:
		return nil, &Failure{Kind: models.ErrKindInvalidToolOutput, Err: fmt.Errorf("tool kind %q is not auto-resolvable", call.Kind)}
	}
}

func findActionConfig(tools []models.Tool, name string) *models.ActionToolConfig {
	for _, t := range tools {
		if t.Kind == models.ToolKindAction && t.Action != nil && t.Action.Name == name {
			return t.Action
		}
	}
	return nil
}
