// Package sandbox executes interpreter code in an isolated subprocess with a
// hard timeout.
package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// Result contains the execution output.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Timeout  bool
}

// Sandbox runs a piece of code and returns its output. A non-zero exit is
// reported in Result, not as an error; errors mean the sandbox itself failed.
type Sandbox interface {
	Run(ctx context.Context, code string) (*Result, error)
}

// Local runs code with a local interpreter subprocess. Each run gets a fresh
// scratch directory as its working directory.
type Local struct {
	command string
	workDir string
	timeout time.Duration
}

// Options configures the local sandbox.
type Options struct {
	// Command is the interpreter binary, e.g. "python3".
	Command string

	// WorkDir is the parent for per-run scratch directories. Empty uses the
	// system temp dir.
	WorkDir string

	Timeout time.Duration
}

// NewLocal creates a subprocess sandbox. It fails if the interpreter binary
// is not on PATH.
func NewLocal(opts Options) (*Local, error) {
	if opts.Command == "" {
		opts.Command = "python3"
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if _, err := exec.LookPath(opts.Command); err != nil {
		return nil, fmt.Errorf("interpreter not found: %w", err)
	}
	if opts.WorkDir != "" {
		if err := os.MkdirAll(opts.WorkDir, 0o750); err != nil {
			return nil, fmt.Errorf("create sandbox work dir: %w", err)
		}
	}
	return &Local{command: opts.Command, workDir: opts.WorkDir, timeout: opts.Timeout}, nil
}

// Run executes code and captures its output. The deadline is the sooner of
// ctx and the configured timeout.
func (l *Local) Run(ctx context.Context, code string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	scratch, err := os.MkdirTemp(l.workDir, "run-")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	script := filepath.Join(scratch, "main.py")
	if err := os.WriteFile(script, []byte(code), 0o600); err != nil {
		return nil, fmt.Errorf("write script: %w", err)
	}

	cmd := exec.CommandContext(ctx, l.command, script)
	cmd.Dir = scratch
	cmd.Env = []string{"PATH=" + os.Getenv("PATH"), "HOME=" + scratch}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	result := &Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if ctx.Err() == context.DeadlineExceeded {
		result.Timeout = true
		result.ExitCode = -1
		return result, nil
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return nil, fmt.Errorf("run interpreter: %w", runErr)
	}
	return result, nil
}
