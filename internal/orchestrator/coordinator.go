// Package orchestrator drives the full pipeline: analyze task inputs,
// persist the plan, execute parallel groups in isolated workspaces,
// integrate results, and write the final checkpoint and report. It is
// the only package that wires the analyzer, workspace manager, engine,
// registry and checkpoint store together.
package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/grovekit/grove/internal/analyzer"
	"github.com/grovekit/grove/internal/checkpoint"
	"github.com/grovekit/grove/internal/config"
	"github.com/grovekit/grove/internal/engine"
	"github.com/grovekit/grove/internal/executor"
	"github.com/grovekit/grove/internal/graph"
	"github.com/grovekit/grove/internal/registry"
	"github.com/grovekit/grove/internal/workspace"
	"github.com/grovekit/grove/pkg/models"
)

// Deps are the collaborators a Coordinator needs. History and Logger
// are optional; OnEvent may be nil.
type Deps struct {
	Analyzer    *analyzer.Analyzer
	Workspaces  *workspace.Manager
	Checkpoints *checkpoint.Manager
	History     *checkpoint.HistoryStore
	Executor    executor.TaskExecutor
	Logger      *DebugLogger
	OnEvent     func(Event)
}

// progressInterval bounds how stale the checkpoint can get between
// state changes while groups are executing.
const progressInterval = 2 * time.Second

// Coordinator owns one run of the pipeline at a time.
type Coordinator struct {
	cfg  *config.Config
	deps Deps

	// engine is set for the duration of a run so Cancel can reach it.
	engine *engine.Engine

	// ckptMu serializes checkpoint writes from the pipeline loop, the
	// engine observer and the progress monitor.
	ckptMu sync.Mutex
}

// New creates a coordinator. All non-optional dependencies must be set.
func New(cfg *config.Config, deps Deps) (*Coordinator, error) {
	if deps.Analyzer == nil || deps.Workspaces == nil || deps.Checkpoints == nil || deps.Executor == nil {
		return nil, fmt.Errorf("coordinator requires analyzer, workspace manager, checkpoint manager and executor")
	}
	return &Coordinator{cfg: cfg, deps: deps}, nil
}

// Cancel stops the current run, if any. Idempotent.
func (c *Coordinator) Cancel() {
	if c.engine != nil {
		c.engine.Cancel()
	}
}

func (c *Coordinator) emit(ev Event) {
	ev.Time = time.Now().UTC()
	if c.deps.OnEvent != nil {
		c.deps.OnEvent(ev)
	}
}

// Plan analyzes task inputs without executing anything. Used by the
// plan command for a dry run of grouping and conflict detection.
func (c *Coordinator) Plan(specPaths []string) (*analyzer.Analysis, error) {
	return c.deps.Analyzer.AnalyzeFiles(specPaths)
}

// Run executes the full pipeline over the given task spec files.
// Analysis errors (unparsable input, dependency cycles) are fatal and
// abort before any execution; execution failures are reported through
// task statuses, not an error.
func (c *Coordinator) Run(ctx context.Context, specPaths []string) (*Report, error) {
	runID := "run-" + uuid.New().String()[:8]
	c.emit(Event{Kind: EventRunStarted, RunID: runID})
	c.deps.Logger.Logf("run %s: analyzing %d input file(s)", runID, len(specPaths))

	analysis, err := c.deps.Analyzer.AnalyzeFiles(specPaths)
	if err != nil {
		return nil, fmt.Errorf("analyze tasks: %w", err)
	}
	c.deps.Logger.Logf("run %s: %d tasks in %d groups, %d conflicting pairs",
		runID, len(analysis.Tasks), len(analysis.Groups), analysis.Matrix.Len())
	c.emit(Event{Kind: EventPlanReady, RunID: runID,
		Message: fmt.Sprintf("%d tasks in %d groups", len(analysis.Tasks), len(analysis.Groups))})

	state := &checkpoint.WorkflowState{
		RunID:     runID,
		Phase:     checkpoint.PhasePlanned,
		BaseRef:   c.cfg.BaseRef,
		Tasks:     analysis.Tasks,
		Groups:    analysis.Groups,
		Conflicts: checkpoint.PairRecords(analysis.Matrix),
		CreatedAt: time.Now().UTC(),
	}
	report := newReport(runID, state)
	c.saveCheckpoint(state, report)

	return c.execute(ctx, state, report)
}

// Resume continues an interrupted run from its checkpoint. The plan is
// reloaded, never re-derived; tasks persisted as running are demoted to
// failed because their work cannot be trusted.
func (c *Coordinator) Resume(ctx context.Context, runID string) (*Report, error) {
	state, err := c.deps.Checkpoints.Load(runID)
	if err != nil {
		return nil, fmt.Errorf("resume run %s: %w", runID, err)
	}
	if !state.Phase.Resumable() {
		return nil, fmt.Errorf("resume run %s: phase %s is not resumable", runID, state.Phase)
	}

	demoted := checkpoint.NormalizeForResume(state)
	report := newReport(runID, state)
	if demoted > 0 {
		msg := fmt.Sprintf("%d task(s) were running at interruption and were marked failed", demoted)
		report.Warnings = append(report.Warnings, msg)
		c.emit(Event{Kind: EventWarning, RunID: runID, Message: msg})
		c.deps.Logger.Logf("run %s: %s", runID, msg)
	}

	c.emit(Event{Kind: EventRunStarted, RunID: runID, Message: "resumed"})
	return c.execute(ctx, state, report)
}

// execute runs the planned groups of state to completion and finalizes
// the checkpoint and report.
func (c *Coordinator) execute(ctx context.Context, state *checkpoint.WorkflowState, report *Report) (*Report, error) {
	g := graph.New()
	if err := g.Build(state.Tasks); err != nil {
		return nil, fmt.Errorf("rebuild dependency graph: %w", err)
	}

	reg := registry.New()
	for _, task := range state.Tasks {
		if err := reg.Register(task); err != nil {
			return nil, fmt.Errorf("seed registry: %w", err)
		}
	}

	eng := engine.New(engineConfig(c.cfg, state.RunID), reg, c.deps.Executor,
		engine.WithObserver(c.observe(state, reg, report)))
	c.engine = eng
	defer func() { c.engine = nil }()

	state.Phase = checkpoint.PhaseExecuting

	// Keep the checkpoint current between terminal transitions too, so
	// resume sees tasks that were mid-attempt as interrupted.
	monCtx, stopMonitor := context.WithCancel(context.Background())
	defer stopMonitor()
	go eng.Monitor(monCtx, progressInterval, func([]*models.Task) {
		c.persistProgress(state, reg, report)
	})

	for i, group := range state.Groups {
		if !c.groupPending(reg, group) {
			continue
		}
		c.emit(Event{Kind: EventGroupStarted, RunID: state.RunID, Group: i + 1,
			Message: fmt.Sprintf("%d task(s)", len(group))})
		c.deps.Logger.Logf("run %s: group %d/%d starting: %v", state.RunID, i+1, len(state.Groups), group)

		c.provisionWorkspaces(g, reg, group, state.BaseRef, report)

		if err := eng.RunGroup(ctx, g, group); err != nil {
			// Persist what we know before surfacing the failure.
			c.advancePhase(state, checkpoint.PhaseAborted, reg, report)
			return nil, fmt.Errorf("execute group %d: %w", i+1, err)
		}

		c.teardownWorkspaces(reg, group, report)

		c.persistProgress(state, reg, report)
		c.emit(Event{Kind: EventGroupCompleted, RunID: state.RunID, Group: i + 1})
	}
	stopMonitor()

	c.advancePhase(state, checkpoint.PhaseIntegrating, reg, report)
	c.advancePhase(state, checkpoint.PhaseCompleted, nil, report)

	c.ckptMu.Lock()
	if c.deps.History != nil {
		if err := c.deps.History.RecordRun(state); err != nil {
			c.warn(report, state.RunID, fmt.Sprintf("record run history: %v", err))
		}
	}
	report.finalize(state, eng.Breaker().State().String())
	c.ckptMu.Unlock()
	c.emit(Event{Kind: EventRunCompleted, RunID: state.RunID,
		Message: fmt.Sprintf("%d/%d succeeded", report.Counts[models.TaskStatusSucceeded], len(state.Tasks))})
	c.deps.Logger.Logf("run %s: completed, %v", state.RunID, report.Counts)
	return report, nil
}

// groupPending reports whether any task in the group still needs to run.
func (c *Coordinator) groupPending(reg *registry.Registry, group []string) bool {
	for _, id := range group {
		if status, err := reg.Status(id); err == nil && !status.Terminal() {
			return true
		}
	}
	return false
}

// provisionWorkspaces creates worktrees for the group's runnable tasks.
// Tasks whose dependencies did not all succeed get no workspace; the
// engine cancels them. A task whose workspace cannot be created is
// cancelled here, it must not run in the main tree.
func (c *Coordinator) provisionWorkspaces(g *graph.DependencyGraph, reg *registry.Registry, group []string, baseRef string, report *Report) {
	for _, id := range group {
		status, err := reg.Status(id)
		if err != nil || status.Terminal() {
			continue
		}
		if !c.depsSucceeded(g, reg, id) {
			continue
		}

		ws, err := c.deps.Workspaces.Create(id, baseRef)
		if err != nil {
			reason := fmt.Sprintf("workspace unavailable: %v", err)
			_ = reg.Transition(id, models.TaskStatusCancelled, reason)
			c.warn(report, "", fmt.Sprintf("task %s: %s", id, reason))
			continue
		}
		c.deps.Workspaces.Activate(id)
		_ = reg.SetWorkspace(id, ws.Path)
		c.deps.Logger.Logf("task %s: workspace %s on %s", id, ws.Path, ws.BranchName)
	}
}

func (c *Coordinator) depsSucceeded(g *graph.DependencyGraph, reg *registry.Registry, id string) bool {
	for _, dep := range g.GetDependencies(id) {
		status, err := reg.Status(dep)
		if err != nil {
			continue
		}
		if status.Terminal() && status != models.TaskStatusSucceeded {
			return false
		}
	}
	return true
}

// teardownWorkspaces removes the group's worktrees. Succeeded tasks
// keep their branches for integration; everything else is deleted
// entirely.
func (c *Coordinator) teardownWorkspaces(reg *registry.Registry, group []string, report *Report) {
	for _, id := range group {
		task := reg.Get(id)
		if task == nil {
			continue
		}
		var err error
		if task.Status == models.TaskStatusSucceeded {
			_, err = c.deps.Workspaces.Release(id)
		} else {
			_, err = c.deps.Workspaces.Remove(id)
		}
		if err != nil {
			c.warn(report, "", fmt.Sprintf("task %s: tear down workspace: %v", id, err))
		}
	}
}

// observe forwards engine events, feeds the attempt audit trail, and
// checkpoints every terminal transition before the worker moves on.
func (c *Coordinator) observe(state *checkpoint.WorkflowState, reg *registry.Registry, report *Report) func(engine.Event) {
	runID := state.RunID
	return func(ev engine.Event) {
		c.emit(Event{Kind: EventTask, RunID: runID, Task: &ev})
		c.deps.Logger.Logf("task %s: %s attempt=%d status=%s %s",
			ev.TaskID, ev.Type, ev.Attempt, ev.Status, ev.Message)

		if ev.Type == engine.EventTaskFinished {
			// Synchronous: a crash after this task must not re-run it.
			c.persistProgress(state, reg, report)
		}

		if c.deps.History == nil {
			return
		}
		if ev.Type != engine.EventTaskRetried && ev.Type != engine.EventTaskFinished {
			return
		}
		task := reg.Get(ev.TaskID)
		if task == nil || task.Result == nil {
			return
		}
		if err := c.deps.History.RecordAttempt(runID, task.Result); err != nil {
			c.warn(report, runID, fmt.Sprintf("record attempt history: %v", err))
		}
	}
}

// saveCheckpoint persists state. Failures are loud but non-fatal: a run
// does not die because resumability was lost.
func (c *Coordinator) saveCheckpoint(state *checkpoint.WorkflowState, report *Report) {
	c.ckptMu.Lock()
	defer c.ckptMu.Unlock()
	c.saveCheckpointLocked(state, report)
}

func (c *Coordinator) saveCheckpointLocked(state *checkpoint.WorkflowState, report *Report) {
	if err := c.deps.Checkpoints.Save(state); err != nil {
		c.warn(report, state.RunID, fmt.Sprintf("checkpoint not written, resume may be impossible: %v", err))
	}
}

// persistProgress checkpoints the current task statuses mid-run. The
// snapshot is taken under the checkpoint lock so concurrent writers
// never replace a checkpoint with older state.
func (c *Coordinator) persistProgress(state *checkpoint.WorkflowState, reg *registry.Registry, report *Report) {
	c.ckptMu.Lock()
	defer c.ckptMu.Unlock()
	state.Tasks = reg.Snapshot()
	c.saveCheckpointLocked(state, report)
}

// advancePhase moves the run to the next phase and checkpoints it,
// optionally refreshing the task snapshot first.
func (c *Coordinator) advancePhase(state *checkpoint.WorkflowState, phase checkpoint.Phase, reg *registry.Registry, report *Report) {
	c.ckptMu.Lock()
	defer c.ckptMu.Unlock()
	state.Phase = phase
	if reg != nil {
		state.Tasks = reg.Snapshot()
	}
	c.saveCheckpointLocked(state, report)
}

func (c *Coordinator) warn(report *Report, runID, msg string) {
	report.addWarning(msg)
	c.emit(Event{Kind: EventWarning, RunID: runID, Message: msg})
	c.deps.Logger.Logf("warning: %s", msg)
}

func engineConfig(cfg *config.Config, runID string) engine.Config {
	return engine.Config{
		MaxParallel:     cfg.MaxParallel,
		MaxAttempts:     cfg.MaxAttempts,
		BackoffBase:     cfg.BackoffBase,
		BackoffCap:      cfg.BackoffCap,
		TaskTimeout:     cfg.TaskTimeout,
		BreakerWindow:   cfg.BreakerWindow,
		BreakerRatio:    cfg.BreakerRatio,
		BreakerCooldown: cfg.BreakerCooldown,
		OutputDir:       filepath.Join(cfg.CheckpointDir, runID+"-output"),
	}
}
