// grove runs interdependent development tasks in parallel, each in its
// own git worktree, with conflict-aware scheduling and resumable runs.
package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/grovekit/grove/internal/config"
)

var (
	cfgFile     string
	maxParallel int
	taskTimeout string
	debugMode   bool

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "grove",
	Short: "Conflict-aware parallel task orchestrator",
	Long: `grove analyzes a set of interdependent tasks, plans conflict-free
parallel groups, and executes them in isolated git worktrees with
retries, timeouts and resumable checkpoints.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("max-parallel") {
			cfg.MaxParallel = maxParallel
		}
		if cmd.Flags().Changed("timeout") {
			d, err := time.ParseDuration(taskTimeout)
			if err != nil {
				return fmt.Errorf("invalid --timeout: %w", err)
			}
			cfg.TaskTimeout = d
		}
		if cmd.Flags().Changed("debug") {
			cfg.Debug = debugMode
		}
		return cfg.Validate()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default .grove.yaml, then user config dir)")
	rootCmd.PersistentFlags().IntVar(&maxParallel, "max-parallel", 4, "maximum tasks executing concurrently")
	rootCmd.PersistentFlags().StringVar(&taskTimeout, "timeout", "30m", "per-task execution timeout")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "write a per-run debug log")
}
