package git

import (
	"context"
	"errors"
	"fmt"
	osexec "os/exec"
	"strings"

	"github.com/grovekit/grove/internal/exec"
)

// CLIRunner implements Runner by shelling out to the git CLI through a
// CommandRunner.
type CLIRunner struct {
	repoPath string
	cmd      exec.CommandRunner
}

// NewRunner creates a git runner for the repository at the given path.
func NewRunner(repoPath string) *CLIRunner {
	return &CLIRunner{repoPath: repoPath, cmd: exec.NewRunner()}
}

// NewRunnerWith creates a git runner backed by a custom CommandRunner,
// used to fake git in tests.
func NewRunnerWith(repoPath string, cmd exec.CommandRunner) *CLIRunner {
	return &CLIRunner{repoPath: repoPath, cmd: cmd}
}

// run executes a git command and returns its trimmed output.
func (r *CLIRunner) run(args ...string) (string, error) {
	out, err := r.cmd.Run(context.Background(), r.repoPath, "git", args...)
	if err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}

// runSilent executes a git command and discards output.
func (r *CLIRunner) runSilent(args ...string) error {
	_, err := r.run(args...)
	return err
}

// Run executes an arbitrary git command with the given arguments.
func (r *CLIRunner) Run(args ...string) (string, error) {
	return r.run(args...)
}

// CurrentBranch returns the name of the current branch.
func (r *CLIRunner) CurrentBranch() (string, error) {
	return r.run("rev-parse", "--abbrev-ref", "HEAD")
}

// BranchExists returns true if the branch exists.
func (r *CLIRunner) BranchExists(name string) (bool, error) {
	_, err := r.run("show-ref", "--verify", "--quiet", "refs/heads/"+name)
	if err != nil {
		// Exit code 1 means the branch doesn't exist; treat only other
		// failures as errors.
		var exitErr *osexec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return false, nil
		}
		return false, fmt.Errorf("check branch exists: %w", err)
	}
	return true, nil
}

// DeleteBranch deletes the specified branch (force delete).
func (r *CLIRunner) DeleteBranch(name string) error {
	return r.runSilent("branch", "-D", name)
}

// ResolveRef resolves a ref name to a commit hash.
func (r *CLIRunner) ResolveRef(ref string) (string, error) {
	return r.run("rev-parse", "--verify", ref)
}

// WorktreeAddNewBranch creates a worktree at path on a new branch
// started from baseRef.
func (r *CLIRunner) WorktreeAddNewBranch(path, branch, baseRef string) error {
	args := []string{"worktree", "add", "-b", branch, path}
	if baseRef != "" {
		args = append(args, baseRef)
	}
	return r.runSilent(args...)
}

// WorktreeRemove removes the worktree at the given path.
func (r *CLIRunner) WorktreeRemove(path string) error {
	return r.runSilent("worktree", "remove", path)
}

// WorktreeRemoveForce removes the worktree even with uncommitted changes.
func (r *CLIRunner) WorktreeRemoveForce(path string) error {
	return r.runSilent("worktree", "remove", "-f", path)
}

// WorktreeListPorcelain returns the raw porcelain output for parsing.
func (r *CLIRunner) WorktreeListPorcelain() (string, error) {
	return r.run("worktree", "list", "--porcelain")
}

// WorktreePruneExpireNow prunes stale worktree entries immediately.
func (r *CLIRunner) WorktreePruneExpireNow() error {
	return r.runSilent("worktree", "prune", "--expire", "now")
}

// Verify CLIRunner implements Runner at compile time.
var _ Runner = (*CLIRunner)(nil)
