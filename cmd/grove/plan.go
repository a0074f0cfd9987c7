package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/grovekit/grove/internal/analyzer"
	"github.com/grovekit/grove/internal/conflict"
	"github.com/grovekit/grove/pkg/models"
)

var planCmd = &cobra.Command{
	Use:   "plan <task-file> [task-file...]",
	Short: "Show the parallel-group plan without executing anything",
	Long: `Plan runs analysis only: task parsing, complexity scoring,
decomposition, dependency validation and conflict detection. It prints
the groups that a run would execute and why conflicting tasks were
separated.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a := analyzer.New(conflict.NewDetector())
		analysis, err := a.AnalyzeFiles(args)
		if err != nil {
			return err
		}

		fmt.Printf("%d task(s) in %d group(s), %d conflicting pair(s)\n\n",
			len(analysis.Tasks), len(analysis.Groups), analysis.Matrix.Len())

		byID := map[string]*models.Task{}
		for _, task := range analysis.Tasks {
			byID[task.ID] = task
		}

		for i, group := range analysis.Groups {
			fmt.Printf("group %d:\n", i+1)
			for _, id := range group {
				task := byID[id]
				line := fmt.Sprintf("  %-28s %-6s est %-8s %s",
					id, task.Complexity, task.EstimatedDuration, task.Title)
				fmt.Println(line)
				if deps := task.DependsOn; len(deps) > 0 {
					faint.Printf("    depends on: %s\n", strings.Join(deps, ", "))
				}
				if conflicts := analysis.Matrix.ConflictingIDs(id); len(conflicts) > 0 {
					desc := analysis.Matrix.Get(id, conflicts[0])
					yellow.Printf("    conflicts with %s (%v)\n", strings.Join(conflicts, ", "), desc.Dimensions)
				}
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(planCmd)
}
