// Package engine executes planned task groups on a bounded worker
// pool, driving each task through the queued -> running -> terminal
// state machine held by the process registry. It owns retries with
// exponential backoff, per-task timeouts, blocked-dependency
// cancellation, run-wide cancellation and the circuit breaker that
// degrades to sequential execution under sustained failure.
package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/grovekit/grove/internal/executor"
	"github.com/grovekit/grove/internal/graph"
	"github.com/grovekit/grove/internal/registry"
	"github.com/grovekit/grove/pkg/models"
)

// RunCancelledReason is recorded on tasks cancelled by a run-wide stop.
const RunCancelledReason = "run-cancelled"

// Config holds the engine's tunables. Zero values take defaults.
type Config struct {
	// MaxParallel bounds the worker pool (default 4).
	MaxParallel int
	// MaxAttempts is the total attempt budget per task (default 3).
	MaxAttempts int
	// BackoffBase is the base retry delay (default 2s).
	BackoffBase time.Duration
	// BackoffCap caps the retry delay (default 60s).
	BackoffCap time.Duration
	// TaskTimeout is the per-attempt execution deadline (default 30m).
	TaskTimeout time.Duration
	// BreakerWindow is the breaker's sliding window size (default 10).
	BreakerWindow int
	// BreakerRatio is the failure fraction that opens the breaker
	// (default 0.5).
	BreakerRatio float64
	// BreakerCooldown is how long the breaker stays open (default 30s).
	BreakerCooldown time.Duration
	// OutputDir, when set, receives per-attempt stdout/stderr captures;
	// their paths are recorded on the attempt results.
	OutputDir string
}

func (c Config) withDefaults() Config {
	if c.MaxParallel <= 0 {
		c.MaxParallel = 4
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 2 * time.Second
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 60 * time.Second
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = 30 * time.Minute
	}
	return c
}

// EventType classifies engine events.
type EventType string

const (
	// EventTaskStarted fires when an attempt enters running.
	EventTaskStarted EventType = "task_started"
	// EventTaskRetried fires when a failed attempt is re-queued.
	EventTaskRetried EventType = "task_retried"
	// EventTaskFinished fires when a task reaches a terminal status.
	EventTaskFinished EventType = "task_finished"
	// EventBreakerTripped fires when the breaker opens.
	EventBreakerTripped EventType = "breaker_tripped"
)

// Event describes one engine occurrence, delivered to the observer.
type Event struct {
	Type    EventType
	TaskID  string
	Attempt int
	Status  models.TaskStatus
	Message string
}

// Engine runs tasks through their lifecycle. It is safe for concurrent
// use; Cancel may be called from any goroutine.
type Engine struct {
	cfg     Config
	reg     *registry.Registry
	exec    executor.TaskExecutor
	breaker *Breaker

	// seqMu serializes execution while the breaker is not closed.
	seqMu sync.Mutex

	// notify wakes monitors after every state change.
	notify chan struct{}

	stopOnce sync.Once
	stop     chan struct{}

	onEvent func(Event)
	// sleep and now are stubbed in tests.
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithObserver registers a callback for engine events. The callback
// runs on worker goroutines; time spent in it delays that worker.
func WithObserver(fn func(Event)) Option {
	return func(e *Engine) { e.onEvent = fn }
}

// New creates an engine over the given registry and task executor.
func New(cfg Config, reg *registry.Registry, exec executor.TaskExecutor, opts ...Option) *Engine {
	cfg = cfg.withDefaults()
	e := &Engine{
		cfg:     cfg,
		reg:     reg,
		exec:    exec,
		breaker: NewBreaker(cfg.BreakerWindow, cfg.BreakerRatio, cfg.BreakerCooldown),
		notify:  make(chan struct{}, 1),
		stop:    make(chan struct{}),
		now:     func() time.Time { return time.Now().UTC() },
	}
	e.sleep = func(ctx context.Context, d time.Duration) error {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-e.stop:
			return context.Canceled
		}
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Breaker exposes the engine's circuit breaker for reporting.
func (e *Engine) Breaker() *Breaker {
	return e.breaker
}

// Cancel stops the run: queued tasks are cancelled, running tasks are
// force-terminated through their contexts. Idempotent.
func (e *Engine) Cancel() {
	e.stopOnce.Do(func() { close(e.stop) })
	e.signal()
}

func (e *Engine) cancelled() bool {
	select {
	case <-e.stop:
		return true
	default:
		return false
	}
}

func (e *Engine) signal() {
	select {
	case e.notify <- struct{}{}:
	default:
	}
}

func (e *Engine) emit(ev Event) {
	if e.onEvent != nil {
		e.onEvent(ev)
	}
}

// Changes returns the channel monitors select on to wake immediately
// after a state change instead of waiting for their poll interval.
func (e *Engine) Changes() <-chan struct{} {
	return e.notify
}

// Monitor invokes fn with a registry snapshot whenever task state
// changes, and at least every interval, until ctx is done.
func (e *Engine) Monitor(ctx context.Context, interval time.Duration, fn func([]*models.Task)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.notify:
		case <-ticker.C:
		}
		fn(e.reg.Snapshot())
	}
}

// RunGroup executes one planned group. Every task in the group must
// already be registered; dependencies live in earlier groups and are
// checked against the registry, so a task whose dependency chain did
// not fully succeed is cancelled instead of started. Blocks until all
// tasks in the group are terminal.
func (e *Engine) RunGroup(ctx context.Context, g *graph.DependencyGraph, taskIDs []string) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-e.stop:
			cancel()
		case <-runCtx.Done():
		}
	}()

	sem := make(chan struct{}, e.cfg.MaxParallel)
	var wg sync.WaitGroup
	var groupErr error
	for _, id := range taskIDs {
		status, err := e.reg.Status(id)
		if err != nil {
			// Drain the workers already started before reporting.
			groupErr = fmt.Errorf("run group: %w", err)
			break
		}
		if status.Terminal() {
			// Already resolved, typically by a resumed run.
			continue
		}

		if reason, blocked := e.blockedDependency(g, id); blocked {
			e.cancelTask(id, reason)
			continue
		}
		if e.cancelled() || runCtx.Err() != nil {
			e.cancelTask(id, RunCancelledReason)
			continue
		}

		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-runCtx.Done():
				e.cancelTask(id, RunCancelledReason)
				return
			}
			if e.breaker.Sequential() {
				e.seqMu.Lock()
				defer e.seqMu.Unlock()
			}
			e.runTask(runCtx, id)
		}(id)
	}
	wg.Wait()
	return groupErr
}

// blockedDependency reports whether any dependency of the task reached
// a terminal state other than success.
func (e *Engine) blockedDependency(g *graph.DependencyGraph, taskID string) (string, bool) {
	for _, dep := range g.GetDependencies(taskID) {
		status, err := e.reg.Status(dep)
		if err != nil {
			continue
		}
		if status.Terminal() && status != models.TaskStatusSucceeded {
			return models.BlockedDependencyReason, true
		}
	}
	return "", false
}

func (e *Engine) cancelTask(id, reason string) {
	if err := e.reg.Transition(id, models.TaskStatusCancelled, reason); err != nil {
		return
	}
	e.signal()
	e.emit(Event{Type: EventTaskFinished, TaskID: id, Status: models.TaskStatusCancelled, Message: reason})
}

// runTask drives one task through its attempt loop until a terminal
// status is reached.
func (e *Engine) runTask(ctx context.Context, id string) {
	task := e.reg.Get(id)
	if task == nil {
		return
	}

	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := e.sleep(ctx, e.backoff(attempt-1)); err != nil {
				e.cancelTask(id, RunCancelledReason)
				return
			}
		}
		if ctx.Err() != nil || e.cancelled() {
			e.cancelTask(id, RunCancelledReason)
			return
		}

		if err := e.reg.Transition(id, models.TaskStatusRunning, ""); err != nil {
			return
		}
		e.signal()
		e.emit(Event{Type: EventTaskStarted, TaskID: id, Attempt: attempt, Status: models.TaskStatusRunning})

		start := e.now()
		res, execErr := e.exec.Execute(ctx, task.WorkspaceRef, task, e.cfg.TaskTimeout)
		end := e.now()

		outcome := &models.ExecutionResult{
			TaskID:    id,
			Attempt:   attempt,
			StartTime: start,
			EndTime:   end,
			ExitCode:  -1,
		}

		switch {
		case execErr != nil:
			outcome.Status = models.ResultFailed
			outcome.ErrorMessage = execErr.Error()
		case res.TimedOut:
			outcome.Status = models.ResultTimeout
			outcome.ExitCode = res.ExitCode
			outcome.ErrorMessage = fmt.Sprintf("attempt exceeded timeout %s", e.cfg.TaskTimeout)
		case ctx.Err() != nil:
			outcome.Status = models.ResultCancelled
			outcome.ExitCode = res.ExitCode
			outcome.ErrorMessage = RunCancelledReason
		case res.ExitCode == 0:
			outcome.Status = models.ResultSuccess
			outcome.ExitCode = 0
		default:
			outcome.Status = models.ResultFailed
			outcome.ExitCode = res.ExitCode
			outcome.ErrorMessage = fmt.Sprintf("executor exited with code %d", res.ExitCode)
		}
		if res != nil {
			outcome.StdoutRef = e.writeCapture(id, attempt, "stdout", res.Stdout)
			outcome.StderrRef = e.writeCapture(id, attempt, "stderr", res.Stderr)
		}
		_ = e.reg.RecordAttempt(outcome)

		switch outcome.Status {
		case models.ResultSuccess:
			e.breaker.Record(true)
			e.finish(id, models.TaskStatusSucceeded, "")
			return
		case models.ResultCancelled:
			e.cancelTask(id, RunCancelledReason)
			return
		}

		// Failed or timed-out attempt; both spend the attempt budget.
		wasClosed := e.breaker.State() == BreakerClosed
		e.breaker.Record(false)
		if wasClosed && e.breaker.State() == BreakerOpen {
			e.emit(Event{Type: EventBreakerTripped, TaskID: id, Attempt: attempt, Message: "degrading to sequential execution"})
		}

		if attempt == e.cfg.MaxAttempts {
			// Exhausted retries always end in failed; the per-attempt
			// results keep the timeout distinction.
			e.finish(id, models.TaskStatusFailed, outcome.ErrorMessage)
			return
		}
		if err := e.reg.Transition(id, models.TaskStatusQueued, outcome.ErrorMessage); err != nil {
			return
		}
		e.signal()
		e.emit(Event{Type: EventTaskRetried, TaskID: id, Attempt: attempt, Status: models.TaskStatusQueued, Message: outcome.ErrorMessage})
	}
}

func (e *Engine) finish(id string, status models.TaskStatus, message string) {
	if err := e.reg.Transition(id, status, message); err != nil {
		return
	}
	e.signal()
	e.emit(Event{Type: EventTaskFinished, TaskID: id, Status: status, Message: message})
}

// writeCapture persists one captured output stream for an attempt and
// returns its path. Returns "" when no output directory is configured
// or the write fails; losing a capture never fails the attempt.
func (e *Engine) writeCapture(taskID string, attempt int, stream, content string) string {
	if e.cfg.OutputDir == "" {
		return ""
	}
	if err := os.MkdirAll(e.cfg.OutputDir, 0755); err != nil {
		return ""
	}
	path := filepath.Join(e.cfg.OutputDir, fmt.Sprintf("%s-attempt%d.%s", taskID, attempt, stream))
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return ""
	}
	return path
}

// backoff returns the delay before the next attempt after the given
// number of failures: base doubled per failure, capped.
func (e *Engine) backoff(failures int) time.Duration {
	d := e.cfg.BackoffBase
	for i := 0; i < failures; i++ {
		d *= 2
		if d >= e.cfg.BackoffCap {
			return e.cfg.BackoffCap
		}
	}
	return d
}
