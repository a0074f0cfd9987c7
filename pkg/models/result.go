package models

import "time"

// ResultStatus is the outcome of a single execution attempt.
type ResultStatus string

const (
	// ResultSuccess indicates the attempt completed with exit code zero.
	ResultSuccess ResultStatus = "success"
	// ResultFailed indicates the attempt exited non-zero or errored.
	ResultFailed ResultStatus = "failed"
	// ResultTimeout indicates the attempt was force-terminated on timeout.
	ResultTimeout ResultStatus = "timeout"
	// ResultCancelled indicates the attempt was cancelled externally.
	ResultCancelled ResultStatus = "cancelled"
)

// ExecutionResult records the outcome of one execution attempt of a task.
// Results are immutable once created. A retry produces a new result that
// supersedes the prior one in the registry; superseded attempts are
// retained in the audit log.
type ExecutionResult struct {
	// TaskID is the task this result belongs to.
	TaskID string `json:"task_id"`
	// Attempt is the 1-indexed attempt number.
	Attempt int `json:"attempt"`
	// Status is the outcome of this attempt.
	Status ResultStatus `json:"status"`
	// StartTime is when the attempt entered running.
	StartTime time.Time `json:"start_time"`
	// EndTime is when the attempt finished or was terminated.
	EndTime time.Time `json:"end_time"`
	// ExitCode is the executor process exit code (-1 if it never exited).
	ExitCode int `json:"exit_code"`
	// StdoutRef is the path to the captured stdout, if persisted.
	StdoutRef string `json:"stdout_ref,omitempty"`
	// StderrRef is the path to the captured stderr, if persisted.
	StderrRef string `json:"stderr_ref,omitempty"`
	// ErrorMessage describes the failure, empty on success.
	ErrorMessage string `json:"error_message,omitempty"`
}

// Duration returns the wall-clock duration of the attempt.
func (r *ExecutionResult) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}

// Succeeded returns true if the attempt completed successfully.
func (r *ExecutionResult) Succeeded() bool {
	return r.Status == ResultSuccess
}
