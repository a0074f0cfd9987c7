package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/grovekit/grove/internal/checkpoint"
	"github.com/grovekit/grove/pkg/models"
)

var followRun bool

var statusCmd = &cobra.Command{
	Use:   "status [run-id]",
	Short: "Show resumable runs, or the live progress of one run",
	Long: `Without arguments, status lists runs that can be resumed and recent
run history. With a run ID, it shows that run's task statuses;
--follow keeps watching the checkpoint and reprints on every update.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		manager, err := checkpoint.NewManager(cfg.CheckpointDir)
		if err != nil {
			return err
		}
		if len(args) == 0 {
			return listRuns(manager)
		}
		if followRun {
			return followStatus(manager, args[0])
		}
		state, err := manager.Load(args[0])
		if err != nil {
			return err
		}
		printState(state)
		return nil
	},
}

func listRuns(manager *checkpoint.Manager) error {
	resumable, err := manager.DetectResumable()
	if err != nil {
		return err
	}
	if len(resumable) == 0 {
		fmt.Println("no resumable runs")
	} else {
		fmt.Println("resumable runs:")
		for _, s := range resumable {
			fmt.Printf("  %-14s %-12s %d/%d terminal, updated %s\n",
				s.RunID, s.Phase, s.Terminal, s.Total, s.UpdatedAt.Format("2006-01-02 15:04:05"))
		}
	}

	history, err := checkpoint.OpenHistory(cfg.HistoryPath)
	if err != nil {
		// No history yet is not an error worth failing status over.
		return nil
	}
	defer history.Close()
	runs, err := history.RecentRuns(10)
	if err != nil || len(runs) == 0 {
		return nil
	}
	fmt.Println("\nrecent runs:")
	for _, r := range runs {
		fmt.Printf("  %-14s %-12s %d ok / %d failed / %d cancelled of %d\n",
			r.RunID, r.Phase, r.Succeeded, r.Failed+r.TimedOut, r.Cancelled, r.Total)
	}
	return nil
}

func printState(state *checkpoint.WorkflowState) {
	counts := map[models.TaskStatus]int{}
	for _, task := range state.Tasks {
		counts[task.Status]++
	}
	fmt.Printf("run %s phase=%s: %d queued, %d running, %d succeeded, %d failed, %d timed out, %d cancelled\n",
		state.RunID, state.Phase,
		counts[models.TaskStatusQueued],
		counts[models.TaskStatusRunning],
		counts[models.TaskStatusSucceeded],
		counts[models.TaskStatusFailed],
		counts[models.TaskStatusTimedOut],
		counts[models.TaskStatusCancelled])
	for _, task := range state.Tasks {
		style := faint
		switch task.Status {
		case models.TaskStatusSucceeded:
			style = green
		case models.TaskStatusFailed, models.TaskStatusTimedOut:
			style = red
		case models.TaskStatusCancelled:
			style = yellow
		}
		style.Printf("  %-28s %s\n", task.ID, task.Status)
	}
}

// followStatus watches the run's checkpoint file and reprints progress
// after every write until the run completes or the user interrupts.
func followStatus(manager *checkpoint.Manager, runID string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		<-sigs
		cancel()
	}()

	err := manager.Watch(ctx, runID, func(state *checkpoint.WorkflowState) bool {
		printState(state)
		return state.Phase != checkpoint.PhaseCompleted && state.Phase != checkpoint.PhaseAborted
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func init() {
	statusCmd.Flags().BoolVar(&followRun, "follow", false, "keep watching the run's checkpoint for updates")
	rootCmd.AddCommand(statusCmd)
}
