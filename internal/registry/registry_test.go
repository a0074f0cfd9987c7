package registry

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/grovekit/grove/pkg/models"
)

func newTask(id string) *models.Task {
	return &models.Task{ID: id, Title: id, Status: models.TaskStatusQueued}
}

func TestRegisterAndGet(t *testing.T) {
	r := New()
	if err := r.Register(newTask("t1")); err != nil {
		t.Fatalf("register: %v", err)
	}

	got := r.Get("t1")
	if got == nil || got.ID != "t1" {
		t.Fatalf("get = %+v, want t1", got)
	}
	if got.Status != models.TaskStatusQueued {
		t.Errorf("status = %s, want queued", got.Status)
	}

	// Mutating the returned clone must not reach registry state.
	got.Status = models.TaskStatusFailed
	if s, _ := r.Status("t1"); s != models.TaskStatusQueued {
		t.Errorf("clone mutation leaked into registry: %s", s)
	}
}

func TestRegisterDuplicate(t *testing.T) {
	r := New()
	if err := r.Register(newTask("t1")); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register(newTask("t1")); !errors.Is(err, ErrDuplicateTask) {
		t.Fatalf("expected ErrDuplicateTask, got %v", err)
	}
}

func TestTransitionLifecycle(t *testing.T) {
	r := New()
	if err := r.Register(newTask("t1")); err != nil {
		t.Fatal(err)
	}

	steps := []models.TaskStatus{
		models.TaskStatusRunning,
		models.TaskStatusQueued, // retry re-queue
		models.TaskStatusRunning,
		models.TaskStatusSucceeded,
	}
	for _, to := range steps {
		if err := r.Transition("t1", to, ""); err != nil {
			t.Fatalf("transition to %s: %v", to, err)
		}
	}

	task := r.Get("t1")
	if task.Status != models.TaskStatusSucceeded {
		t.Errorf("status = %s, want succeeded", task.Status)
	}
	if task.CompletedAt == nil {
		t.Error("terminal task missing CompletedAt")
	}
}

func TestTransitionRejectsResurrection(t *testing.T) {
	r := New()
	if err := r.Register(newTask("t1")); err != nil {
		t.Fatal(err)
	}
	if err := r.Transition("t1", models.TaskStatusRunning, ""); err != nil {
		t.Fatal(err)
	}
	if err := r.Transition("t1", models.TaskStatusFailed, "boom"); err != nil {
		t.Fatal(err)
	}

	err := r.Transition("t1", models.TaskStatusRunning, "")
	var invalid *InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
	if invalid.From != models.TaskStatusFailed || invalid.To != models.TaskStatusRunning {
		t.Errorf("error = %v, want failed -> running", invalid)
	}
}

func TestTransitionRejectsQueuedToTerminalExceptCancel(t *testing.T) {
	r := New()
	if err := r.Register(newTask("t1")); err != nil {
		t.Fatal(err)
	}

	if err := r.Transition("t1", models.TaskStatusSucceeded, ""); err == nil {
		t.Error("queued -> succeeded should be rejected")
	}
	if err := r.Transition("t1", models.TaskStatusCancelled, models.BlockedDependencyReason); err != nil {
		t.Errorf("queued -> cancelled should be allowed: %v", err)
	}
	if task := r.Get("t1"); task.CancelReason != models.BlockedDependencyReason {
		t.Errorf("cancel reason = %q", task.CancelReason)
	}
}

func TestTransitionUnknownTask(t *testing.T) {
	r := New()
	if err := r.Transition("nope", models.TaskStatusRunning, ""); !errors.Is(err, ErrUnknownTask) {
		t.Fatalf("expected ErrUnknownTask, got %v", err)
	}
}

func TestRecordAttemptAuditTrail(t *testing.T) {
	r := New()
	if err := r.Register(newTask("t1")); err != nil {
		t.Fatal(err)
	}
	if err := r.Transition("t1", models.TaskStatusRunning, ""); err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	for attempt := 1; attempt <= 2; attempt++ {
		res := &models.ExecutionResult{
			TaskID:    "t1",
			Attempt:   attempt,
			Status:    models.ResultFailed,
			StartTime: now,
			EndTime:   now.Add(time.Second),
			ExitCode:  1,
		}
		if err := r.RecordAttempt(res); err != nil {
			t.Fatalf("record attempt %d: %v", attempt, err)
		}
	}

	// Latest attempt supersedes on the task; both survive in the audit.
	task := r.Get("t1")
	if task.Result == nil || task.Result.Attempt != 2 {
		t.Fatalf("task result = %+v, want attempt 2", task.Result)
	}

	attempts := 0
	for _, e := range r.AuditLog() {
		if e.Attempt > 0 {
			attempts++
		}
	}
	if attempts != 2 {
		t.Errorf("audit attempts = %d, want 2", attempts)
	}
}

func TestSnapshotSortedAndDetached(t *testing.T) {
	r := New()
	for _, id := range []string{"t3", "t1", "t2"} {
		if err := r.Register(newTask(id)); err != nil {
			t.Fatal(err)
		}
	}

	snap := r.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("snapshot len = %d, want 3", len(snap))
	}
	for i, want := range []string{"t1", "t2", "t3"} {
		if snap[i].ID != want {
			t.Errorf("snapshot[%d] = %s, want %s", i, snap[i].ID, want)
		}
	}
}

func TestCountsAndTerminalChecks(t *testing.T) {
	r := New()
	for _, id := range []string{"t1", "t2"} {
		if err := r.Register(newTask(id)); err != nil {
			t.Fatal(err)
		}
	}
	if r.AllTerminal() {
		t.Error("queued tasks should not be terminal")
	}

	for _, id := range []string{"t1", "t2"} {
		if err := r.Transition(id, models.TaskStatusRunning, ""); err != nil {
			t.Fatal(err)
		}
		if err := r.Transition(id, models.TaskStatusSucceeded, ""); err != nil {
			t.Fatal(err)
		}
	}

	if !r.AllTerminal() || !r.AllSucceeded() {
		t.Error("expected all terminal and succeeded")
	}
	if got := r.Counts()[models.TaskStatusSucceeded]; got != 2 {
		t.Errorf("succeeded count = %d, want 2", got)
	}
}

func TestConcurrentTransitions(t *testing.T) {
	r := New()
	const n = 20
	for i := 0; i < n; i++ {
		if err := r.Register(newTask(taskID(i))); err != nil {
			t.Fatal(err)
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := taskID(i)
			_ = r.Transition(id, models.TaskStatusRunning, "")
			_ = r.Transition(id, models.TaskStatusSucceeded, "")
		}(i)
	}
	wg.Wait()

	if !r.AllSucceeded() {
		t.Error("expected all tasks succeeded after concurrent transitions")
	}
}

func taskID(i int) string {
	return string(rune('a'+i%26)) + "-task"
}
