package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/google/uuid"

	"github.com/grovekit/grove/internal/analyzer"
	"github.com/grovekit/grove/internal/checkpoint"
	"github.com/grovekit/grove/internal/conflict"
	"github.com/grovekit/grove/internal/engine"
	"github.com/grovekit/grove/internal/executor"
	"github.com/grovekit/grove/internal/orchestrator"
	"github.com/grovekit/grove/internal/workspace"
	"github.com/grovekit/grove/pkg/models"
)

var (
	green  = color.New(color.FgGreen)
	red    = color.New(color.FgRed)
	yellow = color.New(color.FgYellow)
	faint  = color.New(color.Faint)
)

// buildCoordinator wires a coordinator from the loaded config. The
// returned cleanup closes the history store and debug log.
func buildCoordinator() (*orchestrator.Coordinator, func(), error) {
	if len(cfg.ExecutorCommand) == 0 {
		return nil, nil, fmt.Errorf("no executor_command configured; set it in .grove.yaml or GROVE_EXECUTOR_COMMAND")
	}
	exec, err := executor.NewLocalProcessExecutor(cfg.ExecutorCommand[0], cfg.ExecutorCommand[1:]...)
	if err != nil {
		return nil, nil, err
	}

	repoPath, err := os.Getwd()
	if err != nil {
		return nil, nil, fmt.Errorf("determine repository path: %w", err)
	}
	workspaces, err := workspace.NewManager(cfg.WorkspaceDir, repoPath)
	if err != nil {
		return nil, nil, err
	}
	checkpoints, err := checkpoint.NewManager(cfg.CheckpointDir)
	if err != nil {
		return nil, nil, err
	}

	// History is best-effort observability; a broken database must not
	// block execution.
	history, err := checkpoint.OpenHistory(cfg.HistoryPath)
	if err != nil {
		yellow.Fprintf(os.Stderr, "warning: run history unavailable: %v\n", err)
		history = nil
	}

	var logger *orchestrator.DebugLogger
	if cfg.Debug {
		logDir := filepath.Join(filepath.Dir(cfg.HistoryPath), "logs")
		logger, err = orchestrator.NewDebugLogger(logDir, uuid.New().String()[:8])
		if err != nil {
			yellow.Fprintf(os.Stderr, "warning: debug log unavailable: %v\n", err)
		} else {
			fmt.Fprintf(os.Stderr, "debug log: %s\n", logger.Path())
		}
	}

	coord, err := orchestrator.New(cfg, orchestrator.Deps{
		Analyzer:    analyzer.New(conflict.NewDetector()),
		Workspaces:  workspaces,
		Checkpoints: checkpoints,
		History:     history,
		Executor:    exec,
		Logger:      logger,
		OnEvent:     printEvent,
	})
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() {
		if history != nil {
			history.Close()
		}
		logger.Close()
	}
	return coord, cleanup, nil
}

// printEvent renders pipeline progress to stderr as it happens.
func printEvent(ev orchestrator.Event) {
	switch ev.Kind {
	case orchestrator.EventRunStarted:
		fmt.Fprintf(os.Stderr, "run %s started %s\n", ev.RunID, ev.Message)
	case orchestrator.EventPlanReady:
		fmt.Fprintf(os.Stderr, "plan: %s\n", ev.Message)
	case orchestrator.EventGroupStarted:
		faint.Fprintf(os.Stderr, "group %d: %s\n", ev.Group, ev.Message)
	case orchestrator.EventTask:
		printTaskEvent(ev.Task)
	case orchestrator.EventWarning:
		yellow.Fprintf(os.Stderr, "warning: %s\n", ev.Message)
	case orchestrator.EventRunCompleted:
		fmt.Fprintf(os.Stderr, "run %s finished: %s\n", ev.RunID, ev.Message)
	}
}

func printTaskEvent(ev *engine.Event) {
	if ev == nil {
		return
	}
	switch ev.Type {
	case engine.EventTaskStarted:
		faint.Fprintf(os.Stderr, "  %s attempt %d running\n", ev.TaskID, ev.Attempt)
	case engine.EventTaskRetried:
		yellow.Fprintf(os.Stderr, "  %s attempt %d failed, retrying: %s\n", ev.TaskID, ev.Attempt, ev.Message)
	case engine.EventBreakerTripped:
		yellow.Fprintf(os.Stderr, "  circuit breaker open: %s\n", ev.Message)
	case engine.EventTaskFinished:
		switch ev.Status {
		case models.TaskStatusSucceeded:
			green.Fprintf(os.Stderr, "  %s succeeded\n", ev.TaskID)
		case models.TaskStatusCancelled:
			yellow.Fprintf(os.Stderr, "  %s cancelled: %s\n", ev.TaskID, ev.Message)
		default:
			red.Fprintf(os.Stderr, "  %s %s: %s\n", ev.TaskID, ev.Status, ev.Message)
		}
	}
}
