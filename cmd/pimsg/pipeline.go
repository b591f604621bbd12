package main

import (
	"strings"

	"github.com/spf13/cobra"
)

var (
	planIdea        bool
	workAutonomous  bool
	workConcurrency int
	workReview      bool
	reviewType      string
)

var planCmd = &cobra.Command{
	Use:     "plan <epic-id | idea>",
	GroupID: "crew",
	Short:   "Scout an epic and draft its task plan",
	Long: `Run the planning pipeline: scouts explore the target in parallel,
an analyst merges their reports into a task plan, and the plan lands as
tasks under the epic.

The target is an epic id, or with --idea a free-form idea that gets an
epic created for it first.

Examples:
  pimsg plan epic-1a2b
  pimsg plan "move session storage to sqlite" --idea`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		req := map[string]any{"target": strings.Join(args, " ")}
		if planIdea {
			req["idea"] = true
		}
		printResult(dispatchAction("plan", req))
	},
}

var workCmd = &cobra.Command{
	Use:     "work <epic-id>",
	GroupID: "crew",
	Short:   "Run an epic's ready tasks in waves",
	Long: `Run the epic's ready tasks through worker agents, wave by wave:
each wave takes every currently-ready task, runs workers concurrently,
and completions unlock the next wave. Stops when nothing is ready.

--autonomous keeps going through failures (blocked tasks are parked,
retries honored). --review runs a reviewer over each wave before its
completions count.

Examples:
  pimsg work epic-1a2b
  pimsg work epic-1a2b --autonomous --concurrency 4
  pimsg work epic-1a2b --review`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		req := map[string]any{"target": args[0]}
		if workAutonomous {
			req["autonomous"] = true
		}
		if workConcurrency > 0 {
			req["concurrency"] = workConcurrency
		}
		if workReview {
			req["review"] = true
		}
		printResult(dispatchAction("work", req))
	},
}

var reviewCmd = &cobra.Command{
	Use:     "review <epic-id>",
	GroupID: "crew",
	Short:   "Review an epic's plan or implementation",
	Long: `Run a reviewer agent over the epic. --type plan reviews the task
plan before work starts; --type implementation reviews the completed
work.

Examples:
  pimsg review epic-1a2b
  pimsg review epic-1a2b --type implementation`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		req := map[string]any{"target": args[0]}
		if reviewType != "" {
			req["type"] = reviewType
		}
		printResult(dispatchAction("review", req))
	},
}

func init() {
	planCmd.Flags().BoolVar(&planIdea, "idea", false, "Treat the target as a free-form idea")
	workCmd.Flags().BoolVar(&workAutonomous, "autonomous", false, "Keep working through failures")
	workCmd.Flags().IntVar(&workConcurrency, "concurrency", 0, "Workers per wave (default from config)")
	workCmd.Flags().BoolVar(&workReview, "review", false, "Review each wave before accepting it")
	reviewCmd.Flags().StringVar(&reviewType, "type", "", "Review type: plan or implementation")
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(workCmd)
	rootCmd.AddCommand(reviewCmd)
}
