// Package registry holds the authoritative view of every task's
// execution state. All status transitions go through the registry so
// there is exactly one place where the state machine is enforced, and
// every transition is recorded in an append-only audit log. No I/O
// happens while the lock is held; persistence is layered on top by
// callers reading snapshots.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/grovekit/grove/pkg/models"
)

// ErrUnknownTask indicates an operation referenced a task ID the
// registry has never seen.
var ErrUnknownTask = errors.New("unknown task")

// ErrDuplicateTask indicates a task ID was registered twice.
var ErrDuplicateTask = errors.New("task already registered")

// InvalidTransitionError indicates a status transition the state
// machine does not allow, e.g. resurrecting a terminal task.
type InvalidTransitionError struct {
	TaskID string
	From   models.TaskStatus
	To     models.TaskStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition for task %s: %s -> %s", e.TaskID, e.From, e.To)
}

// AuditEntry records one status transition or attempt outcome.
type AuditEntry struct {
	// Time is when the transition happened.
	Time time.Time `json:"time"`
	// TaskID is the task that transitioned.
	TaskID string `json:"task_id"`
	// From is the status before the transition.
	From models.TaskStatus `json:"from"`
	// To is the status after the transition.
	To models.TaskStatus `json:"to"`
	// Attempt is the attempt number the transition belongs to, 0 when
	// not tied to a specific attempt.
	Attempt int `json:"attempt,omitempty"`
	// Note carries the cancel reason or error message, if any.
	Note string `json:"note,omitempty"`
}

// Registry is the single source of truth for task execution state.
// It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]*models.Task
	audit []AuditEntry
	// now is stubbed in tests.
	now func() time.Time
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		tasks: map[string]*models.Task{},
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Register adds a task to the registry. The registry stores its own
// clone so later caller mutations cannot bypass the state machine.
func (r *Registry) Register(task *models.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[task.ID]; ok {
		return fmt.Errorf("register task %s: %w", task.ID, ErrDuplicateTask)
	}
	c := task.Clone()
	if c.Status == "" {
		c.Status = models.TaskStatusQueued
	}
	r.tasks[task.ID] = c
	return nil
}

// allowedTransitions defines the task state machine. A status maps to
// the set of statuses it may move to.
var allowedTransitions = map[models.TaskStatus][]models.TaskStatus{
	models.TaskStatusQueued: {
		models.TaskStatusRunning,
		models.TaskStatusCancelled,
	},
	models.TaskStatusRunning: {
		models.TaskStatusSucceeded,
		models.TaskStatusFailed,
		models.TaskStatusTimedOut,
		models.TaskStatusCancelled,
		// A failed attempt with retries remaining re-queues the task.
		models.TaskStatusQueued,
	},
}

func transitionAllowed(from, to models.TaskStatus) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition moves a task to a new status, recording the transition in
// the audit log. note is stored as the cancel reason when the target
// status is cancelled.
func (r *Registry) Transition(taskID string, to models.TaskStatus, note string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.tasks[taskID]
	if !ok {
		return fmt.Errorf("transition task %s: %w", taskID, ErrUnknownTask)
	}
	if !transitionAllowed(task.Status, to) {
		return &InvalidTransitionError{TaskID: taskID, From: task.Status, To: to}
	}

	r.audit = append(r.audit, AuditEntry{
		Time:   r.now(),
		TaskID: taskID,
		From:   task.Status,
		To:     to,
		Note:   note,
	})
	task.Status = to
	if to == models.TaskStatusCancelled {
		task.CancelReason = note
	}
	if to.Terminal() {
		ts := r.now()
		task.CompletedAt = &ts
	}
	return nil
}

// RecordAttempt attaches an attempt result to its task and logs it.
// The latest result supersedes prior ones on the task; superseded
// attempts survive in the audit log.
func (r *Registry) RecordAttempt(result *models.ExecutionResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.tasks[result.TaskID]
	if !ok {
		return fmt.Errorf("record attempt for task %s: %w", result.TaskID, ErrUnknownTask)
	}
	res := *result
	task.Result = &res
	r.audit = append(r.audit, AuditEntry{
		Time:    r.now(),
		TaskID:  result.TaskID,
		From:    task.Status,
		To:      task.Status,
		Attempt: result.Attempt,
		Note:    fmt.Sprintf("attempt %d: %s", result.Attempt, result.Status),
	})
	return nil
}

// SetWorkspace records the workspace path allocated for a task.
func (r *Registry) SetWorkspace(taskID, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[taskID]
	if !ok {
		return fmt.Errorf("set workspace for task %s: %w", taskID, ErrUnknownTask)
	}
	task.WorkspaceRef = path
	return nil
}

// Get returns a clone of the task, or nil if unknown.
func (r *Registry) Get(taskID string) *models.Task {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tasks[taskID].Clone()
}

// Status returns the task's current status.
func (r *Registry) Status(taskID string) (models.TaskStatus, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	task, ok := r.tasks[taskID]
	if !ok {
		return "", fmt.Errorf("status of task %s: %w", taskID, ErrUnknownTask)
	}
	return task.Status, nil
}

// Snapshot returns clones of all tasks ordered by ID. The clones are
// detached: mutating them does not affect registry state.
func (r *Registry) Snapshot() []*models.Task {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Counts returns the number of tasks in each status.
func (r *Registry) Counts() map[models.TaskStatus]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[models.TaskStatus]int)
	for _, t := range r.tasks {
		counts[t.Status]++
	}
	return counts
}

// AllTerminal returns true when every registered task is terminal.
func (r *Registry) AllTerminal() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.tasks {
		if !t.Status.Terminal() {
			return false
		}
	}
	return true
}

// AllSucceeded returns true when every registered task succeeded.
func (r *Registry) AllSucceeded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.tasks {
		if t.Status != models.TaskStatusSucceeded {
			return false
		}
	}
	return true
}

// AuditLog returns a copy of the audit log in append order.
func (r *Registry) AuditLog() []AuditEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]AuditEntry(nil), r.audit...)
}
