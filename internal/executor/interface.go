// Package executor defines the boundary to the external system that
// performs a task's actual work inside its workspace. The engine only
// depends on the TaskExecutor interface; what runs behind it is an
// implementation detail chosen at construction time.
package executor

import (
	"context"
	"time"

	"github.com/grovekit/grove/pkg/models"
)

// Result is the raw outcome of one executor invocation.
type Result struct {
	// ExitCode is the process exit code, or -1 when the process was
	// killed before exiting on its own.
	ExitCode int
	// Stdout is the captured standard output.
	Stdout string
	// Stderr is the captured standard error.
	Stderr string
	// TimedOut is true when the invocation was force-terminated because
	// it exceeded its deadline.
	TimedOut bool
}

// TaskExecutor executes a single task inside its workspace.
//
// Execute must respect ctx: when the deadline passes or the context is
// cancelled, the underlying work must be forcibly terminated and a
// Result returned rather than blocking. A non-nil error means the
// executor itself could not run (the task outcome is unknown); a
// failed task is reported through Result with a non-zero exit code.
type TaskExecutor interface {
	Execute(ctx context.Context, workspacePath string, task *models.Task, timeout time.Duration) (*Result, error)
}
