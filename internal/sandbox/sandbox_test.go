package sandbox

import (
	"context"
	"os/exec"
	"strings"
	"testing"
	"time"
)

func requirePython(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not available")
	}
}

func TestRunCapturesStdout(t *testing.T) {
	requirePython(t)
	sb, err := NewLocal(Options{Timeout: 10 * time.Second})
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}

	result, err := sb.Run(context.Background(), "print(3*7+2)")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if strings.TrimSpace(result.Stdout) != "23" {
		t.Errorf("stdout = %q, want 23", result.Stdout)
	}
	if result.ExitCode != 0 {
		t.Errorf("exit code = %d, want 0", result.ExitCode)
	}
}

func TestRunReportsFailureInResult(t *testing.T) {
	requirePython(t)
	sb, err := NewLocal(Options{Timeout: 10 * time.Second})
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}

	result, err := sb.Run(context.Background(), "raise ValueError('boom')")
	if err != nil {
		t.Fatalf("Run returned sandbox error for script failure: %v", err)
	}
	if result.ExitCode == 0 {
		t.Error("expected non-zero exit code")
	}
	if !strings.Contains(result.Stderr, "ValueError") {
		t.Errorf("stderr = %q, want traceback", result.Stderr)
	}
}

func TestRunTimesOut(t *testing.T) {
	requirePython(t)
	sb, err := NewLocal(Options{Timeout: 500 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}

	result, err := sb.Run(context.Background(), "import time; time.sleep(30)")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Timeout {
		t.Error("expected timeout flag")
	}
}

func TestNewLocalRejectsMissingInterpreter(t *testing.T) {
	if _, err := NewLocal(Options{Command: "definitely-not-an-interpreter"}); err == nil {
		t.Fatal("expected error for missing interpreter")
	}
}
