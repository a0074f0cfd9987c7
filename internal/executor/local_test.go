package executor

import (
	"context"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/grovekit/grove/pkg/models"
)

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tests require a POSIX shell")
	}
}

func TestExecuteSuccess(t *testing.T) {
	requireShell(t)

	exec, err := NewLocalProcessExecutor("sh", "-c", "echo ok; echo warn >&2")
	if err != nil {
		t.Fatalf("new executor: %v", err)
	}

	task := &models.Task{ID: "t1", Title: "demo"}
	res, err := exec.Execute(context.Background(), t.TempDir(), task, 10*time.Second)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.ExitCode != 0 {
		t.Errorf("exit code = %d, want 0", res.ExitCode)
	}
	if strings.TrimSpace(res.Stdout) != "ok" {
		t.Errorf("stdout = %q, want ok", res.Stdout)
	}
	if strings.TrimSpace(res.Stderr) != "warn" {
		t.Errorf("stderr = %q, want warn", res.Stderr)
	}
	if res.TimedOut {
		t.Error("unexpected timeout")
	}
}

func TestExecuteNonZeroExit(t *testing.T) {
	requireShell(t)

	exec, err := NewLocalProcessExecutor("sh", "-c", "exit 3")
	if err != nil {
		t.Fatalf("new executor: %v", err)
	}

	res, err := exec.Execute(context.Background(), t.TempDir(), &models.Task{ID: "t1"}, 10*time.Second)
	if err != nil {
		t.Fatalf("non-zero exit should not be an executor error: %v", err)
	}
	if res.ExitCode != 3 {
		t.Errorf("exit code = %d, want 3", res.ExitCode)
	}
}

func TestExecuteTimeoutKillsProcess(t *testing.T) {
	requireShell(t)

	exec, err := NewLocalProcessExecutor("sh", "-c", "echo started; sleep 30")
	if err != nil {
		t.Fatalf("new executor: %v", err)
	}

	start := time.Now()
	res, err := exec.Execute(context.Background(), t.TempDir(), &models.Task{ID: "t1"}, 200*time.Millisecond)
	if err != nil {
		t.Fatalf("timeout should yield a result, not an error: %v", err)
	}
	if !res.TimedOut {
		t.Error("expected TimedOut")
	}
	if res.ExitCode == 0 {
		t.Errorf("exit code = %d, want non-zero after kill", res.ExitCode)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("kill took too long: %v", elapsed)
	}
	if !strings.Contains(res.Stdout, "started") {
		t.Errorf("partial output lost: %q", res.Stdout)
	}
}

func TestExecuteEmptyCommandRejected(t *testing.T) {
	if _, err := NewLocalProcessExecutor(""); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestExecuteMissingBinary(t *testing.T) {
	exec, err := NewLocalProcessExecutor("grove-no-such-binary-xyz")
	if err != nil {
		t.Fatalf("new executor: %v", err)
	}
	if _, err := exec.Execute(context.Background(), t.TempDir(), &models.Task{ID: "t1"}, time.Second); err == nil {
		t.Fatal("expected executor error for missing binary")
	}
}
