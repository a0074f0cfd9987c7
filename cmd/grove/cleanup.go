package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/grovekit/grove/internal/checkpoint"
	"github.com/grovekit/grove/internal/workspace"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove worktrees left behind by crashed or cancelled runs",
	Long: `Cleanup lists grove-managed worktrees, keeps the ones belonging to
tasks of resumable runs, and removes the rest along with their
branches.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		repoPath, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("determine repository path: %w", err)
		}
		workspaces, err := workspace.NewManager(cfg.WorkspaceDir, repoPath)
		if err != nil {
			return err
		}
		manager, err := checkpoint.NewManager(cfg.CheckpointDir)
		if err != nil {
			return err
		}

		// Tasks of resumable runs keep their workspaces; everything else
		// is an orphan.
		var active []string
		resumable, err := manager.DetectResumable()
		if err != nil {
			return err
		}
		for _, summary := range resumable {
			state, err := manager.Load(summary.RunID)
			if err != nil {
				continue
			}
			for _, task := range state.Tasks {
				if !task.Status.Terminal() {
					active = append(active, task.ID)
				}
			}
		}

		removed, err := workspaces.CleanupOrphans(active, func(path string) {
			fmt.Printf("removed %s\n", path)
		})
		if err != nil {
			return err
		}
		if removed == 0 {
			fmt.Println("nothing to clean up")
		} else {
			fmt.Printf("removed %d orphaned worktree(s)\n", removed)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
}
