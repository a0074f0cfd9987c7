package git

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
)

// fakeCmd records git invocations and replays scripted outputs.
type fakeCmd struct {
	calls   [][]string
	outputs map[string]string
	errs    map[string]error
}

func newFakeCmd() *fakeCmd {
	return &fakeCmd{outputs: map[string]string{}, errs: map[string]error{}}
}

func (f *fakeCmd) Run(ctx context.Context, workDir string, name string, args ...string) ([]byte, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	key := strings.Join(args, " ")
	return []byte(f.outputs[key]), f.errs[key]
}

func (f *fakeCmd) RunStdout(ctx context.Context, workDir string, name string, args ...string) ([]byte, error) {
	return f.Run(ctx, workDir, name, args...)
}

func TestWorktreeAddNewBranchArgs(t *testing.T) {
	fake := newFakeCmd()
	r := NewRunnerWith("/repo", fake)

	if err := r.WorktreeAddNewBranch("/tmp/wt", "grove/task-t1", "main"); err != nil {
		t.Fatalf("worktree add: %v", err)
	}

	want := []string{"git", "worktree", "add", "-b", "grove/task-t1", "/tmp/wt", "main"}
	if len(fake.calls) != 1 || !reflect.DeepEqual(fake.calls[0], want) {
		t.Errorf("calls = %v, want %v", fake.calls, want)
	}
}

func TestWorktreeAddOmitsEmptyBaseRef(t *testing.T) {
	fake := newFakeCmd()
	r := NewRunnerWith("/repo", fake)

	if err := r.WorktreeAddNewBranch("/tmp/wt", "grove/task-t1", ""); err != nil {
		t.Fatalf("worktree add: %v", err)
	}
	got := fake.calls[0]
	if got[len(got)-1] != "/tmp/wt" {
		t.Errorf("base ref should be omitted, got %v", got)
	}
}

func TestCurrentBranchTrimsOutput(t *testing.T) {
	fake := newFakeCmd()
	fake.outputs["rev-parse --abbrev-ref HEAD"] = "main\n"
	r := NewRunnerWith("/repo", fake)

	branch, err := r.CurrentBranch()
	if err != nil {
		t.Fatalf("current branch: %v", err)
	}
	if branch != "main" {
		t.Errorf("branch = %q, want main", branch)
	}
}

func TestRunWrapsFailureWithOutput(t *testing.T) {
	fake := newFakeCmd()
	cause := errors.New("exit status 128")
	fake.errs["branch -D nope"] = cause
	fake.outputs["branch -D nope"] = "error: branch 'nope' not found\n"
	r := NewRunnerWith("/repo", fake)

	err := r.DeleteBranch("nope")
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, cause) {
		t.Error("underlying error not wrapped")
	}
	if !strings.Contains(err.Error(), "branch 'nope' not found") {
		t.Errorf("error should carry git output: %v", err)
	}
}
