package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/assistantd/assistantd/internal/sandbox"
	"github.com/assistantd/assistantd/pkg/models"
)

// InterpreterTool resolves code_interpreter calls by running model-authored
// code in the sandbox. Execution failures come back as tool output with
// SandboxError set so the engine can offer the model a correction round.
type InterpreterTool struct {
	sandbox   sandbox.Sandbox
	maxOutput int
}

// NewInterpreterTool creates the interpreter executor. maxOutput caps the
// bytes of captured output fed back to the model.
func NewInterpreterTool(sb sandbox.Sandbox, maxOutput int) *InterpreterTool {
	if maxOutput <= 0 {
		maxOutput = 64 << 10
	}
	return &InterpreterTool{sandbox: sb, maxOutput: maxOutput}
}

// interpreterArgs is the argument shape the model produces for
// code_interpreter calls.
type interpreterArgs struct {
	Code string `json:"code"`
}

// Execute runs the code carried in the call arguments.
func (t *InterpreterTool) Execute(ctx context.Context, arguments string) (*ExecResult, error) {
	code := extractCode(arguments)
	if strings.TrimSpace(code) == "" {
		return &ExecResult{
			Output:       "error: no code provided",
			SandboxError: true,
		}, nil
	}

	result, err := t.sandbox.Run(ctx, code)
	if err != nil {
		return nil, &Failure{Kind: models.ErrKindServerError, Err: fmt.Errorf("sandbox: %w", err)}
	}

	if result.Timeout {
		return &ExecResult{
			Output:       "error: execution timed out\n" + t.truncate(result.Stdout),
			SandboxError: true,
		}, nil
	}
	if result.ExitCode != 0 {
		return &ExecResult{
			Output: fmt.Sprintf("error: exit status %d\n%s", result.ExitCode,
				t.truncate(result.Stderr)),
			SandboxError: true,
		}, nil
	}
	return &ExecResult{Output: t.truncate(result.Stdout)}, nil
}

// extractCode accepts either the structured {"code": ...} argument payload or
// raw code when the model skipped the JSON wrapper.
func extractCode(arguments string) string {
	var args interpreterArgs
	if err := json.Unmarshal([]byte(arguments), &args); err == nil && args.Code != "" {
		return args.Code
	}
	return arguments
}

func (t *InterpreterTool) truncate(s string) string {
	if len(s) <= t.maxOutput {
		return s
	}
	return s[:t.maxOutput] + "\n[output truncated]"
}
