package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/grovekit/grove/internal/orchestrator"
	"github.com/grovekit/grove/pkg/models"
)

var runCmd = &cobra.Command{
	Use:   "run <task-file> [task-file...]",
	Short: "Analyze, plan and execute a task set",
	Long: `Run parses the given YAML task files, plans conflict-free parallel
groups, and executes them in isolated git worktrees. The exit code is
zero only when every task succeeded.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		coord, cleanup, err := buildCoordinator()
		if err != nil {
			return err
		}
		defer cleanup()

		return finishRun(withSignalCancel(coord, func(ctx context.Context) (*orchestrator.Report, error) {
			return coord.Run(ctx, args)
		}))
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume <run-id>",
	Short: "Continue an interrupted run from its checkpoint",
	Long: `Resume reloads the persisted plan and task statuses of an earlier
run. Finished tasks are not re-executed; tasks that were mid-flight at
the interruption are marked failed.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		coord, cleanup, err := buildCoordinator()
		if err != nil {
			return err
		}
		defer cleanup()

		return finishRun(withSignalCancel(coord, func(ctx context.Context) (*orchestrator.Report, error) {
			return coord.Resume(ctx, args[0])
		}))
	},
}

// withSignalCancel runs fn with a context cancelled on SIGINT/SIGTERM,
// asking the coordinator for a graceful stop on the first signal.
func withSignalCancel(coord *orchestrator.Coordinator, fn func(context.Context) (*orchestrator.Report, error)) (*orchestrator.Report, error) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		select {
		case <-sigs:
			yellow.Fprintln(os.Stderr, "interrupt received, cancelling run")
			coord.Cancel()
			cancel()
		case <-ctx.Done():
		}
	}()

	return fn(ctx)
}

// finishRun prints the report and maps the outcome to the exit code.
func finishRun(report *orchestrator.Report, err error) error {
	if err != nil {
		return err
	}
	fmt.Println(report.Render())
	if !report.Success() {
		failed := len(report.Tasks) - report.Counts[models.TaskStatusSucceeded]
		return fmt.Errorf("%d of %d task(s) did not succeed", failed, len(report.Tasks))
	}
	return nil
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(resumeCmd)
}
