// Package models defines the core data types shared across grove.
package models

import "time"

// TaskStatus represents the current state of a task in the execution
// state machine: queued -> running -> {succeeded, failed, timed_out, cancelled}.
type TaskStatus string

const (
	// TaskStatusQueued indicates the task is waiting for a pool slot.
	TaskStatusQueued TaskStatus = "queued"
	// TaskStatusRunning indicates the task is currently executing.
	TaskStatusRunning TaskStatus = "running"
	// TaskStatusSucceeded indicates the task completed successfully.
	TaskStatusSucceeded TaskStatus = "succeeded"
	// TaskStatusFailed indicates the task failed after exhausting retries.
	TaskStatusFailed TaskStatus = "failed"
	// TaskStatusTimedOut indicates the task exceeded its per-task timeout.
	TaskStatusTimedOut TaskStatus = "timed_out"
	// TaskStatusCancelled indicates the task was cancelled before completion.
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusQueued, TaskStatusRunning, TaskStatusSucceeded,
		TaskStatusFailed, TaskStatusTimedOut, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal returns true if the status is a terminal state.
// Terminal tasks are never re-executed on resume.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusSucceeded, TaskStatusFailed, TaskStatusTimedOut, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// BlockedDependencyReason is recorded on tasks cancelled because a
// dependency reached terminal failure. Kept distinct from "failed" so
// that failure always means an actual execution failure.
const BlockedDependencyReason = "blocked-dependency-failed"

// Complexity is the derived complexity class of a task.
type Complexity string

const (
	// ComplexityLow indicates a small, low-risk task.
	ComplexityLow Complexity = "low"
	// ComplexityMedium indicates a moderately sized task.
	ComplexityMedium Complexity = "medium"
	// ComplexityHigh indicates a large or high-risk task, a candidate
	// for decomposition into subtasks.
	ComplexityHigh Complexity = "high"
)

// Task represents a unit of work scheduled by the orchestrator.
// The descriptive fields are set once by the analyzer; only Status,
// WorkspaceRef, CancelReason and Result mutate afterwards, and only
// through the process registry.
type Task struct {
	// ID is the unique identifier, generated at analysis time.
	ID string `json:"id"`
	// ParentID is the ID of the task this one was decomposed from, if any.
	ParentID string `json:"parent_id,omitempty"`
	// Title is the short description of the task.
	Title string `json:"title"`
	// Description provides detailed information about the task.
	Description string `json:"description,omitempty"`
	// DependsOn lists task IDs that must succeed before this task runs.
	DependsOn []string `json:"depends_on,omitempty"`
	// Complexity is the derived complexity class.
	Complexity Complexity `json:"complexity"`
	// EstimatedDuration is the analyzer's duration estimate, used as the
	// primary scheduling tie-break.
	EstimatedDuration time.Duration `json:"estimated_duration"`
	// Status is the current execution state.
	Status TaskStatus `json:"status"`
	// WorkspaceRef is the path of the workspace allocated for this task,
	// empty until allocation.
	WorkspaceRef string `json:"workspace_ref,omitempty"`
	// CancelReason records why a cancelled task was cancelled.
	CancelReason string `json:"cancel_reason,omitempty"`
	// Result is the superseding execution result once the task is terminal.
	Result *ExecutionResult `json:"result,omitempty"`

	// TargetFiles lists files the task intends to modify.
	TargetFiles []string `json:"target_files,omitempty"`
	// TargetDirs lists directories the task intends to modify.
	TargetDirs []string `json:"target_dirs,omitempty"`
	// Components lists affected business/architectural component tags.
	Components []string `json:"components,omitempty"`
	// Interfaces lists public interface/API surfaces the task modifies.
	Interfaces []string `json:"interfaces,omitempty"`
	// SchemaWrites lists persistent data models/schemas the task writes.
	SchemaWrites []string `json:"schema_writes,omitempty"`
	// ExclusiveResources lists named external resources the task needs
	// exclusive use of.
	ExclusiveResources []string `json:"exclusive_resources,omitempty"`
	// TestEnvs lists test fixtures/environments the task needs exclusively.
	TestEnvs []string `json:"test_envs,omitempty"`
	// ResourceIntensive marks the task as CPU- or memory-intensive.
	ResourceIntensive bool `json:"resource_intensive,omitempty"`

	// CreatedAt is when the task was created by the analyzer.
	CreatedAt time.Time `json:"created_at"`
	// CompletedAt is when the task reached a terminal status, if it has.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Clone returns a deep copy of the task. Registry readers receive clones
// so they never hold references into locked state.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	c.DependsOn = append([]string(nil), t.DependsOn...)
	c.TargetFiles = append([]string(nil), t.TargetFiles...)
	c.TargetDirs = append([]string(nil), t.TargetDirs...)
	c.Components = append([]string(nil), t.Components...)
	c.Interfaces = append([]string(nil), t.Interfaces...)
	c.SchemaWrites = append([]string(nil), t.SchemaWrites...)
	c.ExclusiveResources = append([]string(nil), t.ExclusiveResources...)
	c.TestEnvs = append([]string(nil), t.TestEnvs...)
	if t.Result != nil {
		r := *t.Result
		c.Result = &r
	}
	if t.CompletedAt != nil {
		ts := *t.CompletedAt
		c.CompletedAt = &ts
	}
	return &c
}
