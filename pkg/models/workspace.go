package models

import "time"

// WorkspaceStatus represents the lifecycle state of a workspace.
type WorkspaceStatus string

const (
	// WorkspaceCreated indicates the worktree exists but no executor
	// has been attached yet.
	WorkspaceCreated WorkspaceStatus = "created"
	// WorkspaceActive indicates a task is executing in the worktree.
	WorkspaceActive WorkspaceStatus = "active"
	// WorkspaceRemoved indicates the worktree has been torn down.
	WorkspaceRemoved WorkspaceStatus = "removed"
)

// Workspace is an isolated, branch-scoped copy of the project owned by
// exactly one task for its entire lifetime.
type Workspace struct {
	// TaskID is the owning task. At most one live workspace exists per ID.
	TaskID string `json:"task_id"`
	// Path is the absolute path to the worktree directory.
	Path string `json:"path"`
	// BranchName is the branch backing the worktree, derived from the task ID.
	BranchName string `json:"branch_name"`
	// BaseRef is the ref the worktree was created from.
	BaseRef string `json:"base_ref"`
	// Status is the current lifecycle state.
	Status WorkspaceStatus `json:"status"`
	// CreatedAt is when the worktree was created.
	CreatedAt time.Time `json:"created_at"`
}
