package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/grovekit/grove/pkg/models"
)

// killGracePeriod is how long a timed-out process gets to die after the
// kill signal before Wait gives up on reaping it.
const killGracePeriod = 5 * time.Second

// LocalProcessExecutor runs tasks as local subprocesses. The configured
// command is invoked once per task with the workspace as its working
// directory; task metadata is passed through GROVE_* environment
// variables so the command does not need grove-specific arguments.
type LocalProcessExecutor struct {
	command string
	args    []string
}

// NewLocalProcessExecutor creates an executor that invokes the given
// command for each task.
func NewLocalProcessExecutor(command string, args ...string) (*LocalProcessExecutor, error) {
	if command == "" {
		return nil, errors.New("executor command must not be empty")
	}
	return &LocalProcessExecutor{command: command, args: args}, nil
}

// Execute runs the configured command in the task's workspace. On
// timeout the process is killed and the partial output returned with
// TimedOut set.
func (e *LocalProcessExecutor) Execute(ctx context.Context, workspacePath string, task *models.Task, timeout time.Duration) (*Result, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, e.command, e.args...)
	cmd.Dir = workspacePath
	cmd.Env = append(os.Environ(),
		"GROVE_TASK_ID="+task.ID,
		"GROVE_TASK_TITLE="+task.Title,
		"GROVE_TASK_DESCRIPTION="+task.Description,
		"GROVE_WORKSPACE="+workspacePath,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	// On cancellation the whole process gets SIGKILL, not SIGTERM: a
	// timed-out task must not linger in its workspace.
	cmd.Cancel = func() error {
		return cmd.Process.Kill()
	}
	cmd.WaitDelay = killGracePeriod

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start executor process: %w", err)
	}

	err := cmd.Wait()

	res := &Result{
		ExitCode: -1,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		TimedOut: errors.Is(ctx.Err(), context.DeadlineExceeded),
	}
	if cmd.ProcessState != nil && cmd.ProcessState.Exited() {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) || res.TimedOut || errors.Is(ctx.Err(), context.Canceled) {
			// Non-zero exit and forced termination are task outcomes,
			// not executor failures.
			return res, nil
		}
		return nil, fmt.Errorf("run executor process: %w", err)
	}
	return res, nil
}

// Verify LocalProcessExecutor implements TaskExecutor at compile time.
var _ TaskExecutor = (*LocalProcessExecutor)(nil)
