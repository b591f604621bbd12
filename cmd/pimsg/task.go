package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/untoldecay/pi-messenger/internal/crew"
	"github.com/untoldecay/pi-messenger/internal/ui"
)

var (
	taskCreateDesc string
	taskCreateDeps []string
	taskDoneSumm   string
	taskDoneCommit []string
	taskDoneTest   []string
	taskDonePR     []string
	taskBlockWhy   string
	taskResetCasc  bool
)

var taskCmd = &cobra.Command{
	Use:     "task",
	GroupID: "crew",
	Short:   "Manage tasks inside epics",
	Long: `Manage tasks: the unit of crew work. Tasks belong to an epic, can
depend on sibling tasks, and move todo → in_progress → done (or blocked
and back).

Examples:
  pimsg task create epic-1a2b "Wire the session store"
  pimsg task list epic-1a2b
  pimsg task start task-3c4d
  pimsg task done task-3c4d --summary "store wired" --commit 4f2a91c`,
}

var taskCreateCmd = &cobra.Command{
	Use:   "create <epic-id> [title]",
	Short: "Create a task in an epic",
	Long: `Create a task. Without a title on a terminal, an interactive form
collects title, description, and dependencies.

Dependencies name sibling task ids that must be done before this task
is ready.

Examples:
  pimsg task create epic-1a2b "Wire the session store"
  pimsg task create epic-1a2b "Add tests" --deps task-3c4d
  pimsg task create epic-1a2b`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		epicID := args[0]
		if len(args) > 1 {
			req := map[string]any{
				"epicId": epicID,
				"title":  strings.Join(args[1:], " "),
			}
			if taskCreateDesc != "" {
				req["description"] = taskCreateDesc
			}
			if len(taskCreateDeps) > 0 {
				req["dependsOn"] = taskCreateDeps
			}
			printResult(dispatchAction("task.create", req))
			return
		}
		if !ui.IsTerminal() {
			FatalError("title is required (or run on a terminal for the form)")
		}
		runTaskCreateForm(epicID)
	},
}

func runTaskCreateForm(epicID string) {
	var title, desc, deps string

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Title").
				Description("What does this task deliver? (required)").
				Placeholder("e.g., Wire the session store").
				Value(&title).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return fmt.Errorf("title is required")
					}
					return nil
				}),

			huh.NewText().
				Title("Description").
				Description("Context for whoever picks this up (optional)").
				CharLimit(5000).
				Value(&desc),

			huh.NewInput().
				Title("Depends on").
				Description("Comma-separated task ids (optional)").
				Placeholder("e.g., task-3c4d, task-5e6f").
				Value(&deps),

			huh.NewConfirm().
				Title("Create this task?").
				Affirmative("Create").
				Negative("Cancel"),
		),
	).WithTheme(huh.ThemeDracula())

	if err := form.Run(); err != nil {
		if err == huh.ErrUserAborted {
			fmt.Fprintln(os.Stderr, "Task creation canceled.")
			os.Exit(0)
		}
		FatalError("form error: %v", err)
	}

	req := map[string]any{"epicId": epicID, "title": title}
	if strings.TrimSpace(desc) != "" {
		req["description"] = desc
	}
	if list := splitRecipients(deps); len(list) > 0 {
		req["dependsOn"] = list
	}
	printResult(dispatchAction("task.create", req))
}

var taskShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a task's full record",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		printResult(dispatchAction("task.show", map[string]any{"id": args[0]}))
	},
}

var taskListCmd = &cobra.Command{
	Use:   "list [epic-id]",
	Short: "List tasks, optionally scoped to one epic",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		epicID := ""
		if len(args) > 0 {
			epicID = args[0]
		}
		if jsonOutput || !ui.IsTerminal() {
			req := map[string]any{}
			if epicID != "" {
				req["epicId"] = epicID
			}
			printResult(dispatchAction("task.list", req))
			return
		}
		cwd, err := os.Getwd()
		if err != nil {
			FatalError("resolve working directory: %v", err)
		}
		tasks, err := crew.NewStore(cwd).ListTasks(epicID)
		if err != nil {
			FatalError("list tasks: %v", err)
		}
		if len(tasks) == 0 {
			fmt.Println("No tasks.")
			return
		}
		rows := make([]ui.TaskRow, 0, len(tasks))
		for _, t := range tasks {
			rows = append(rows, ui.TaskRow{
				ID:       t.ID,
				Title:    t.Title,
				Status:   string(t.Status),
				Assignee: t.AssignedTo,
				Deps:     t.DependsOn,
			})
		}
		fmt.Println(ui.RenderTasksTable(rows, ui.Width()))
	},
}

var taskStartCmd = &cobra.Command{
	Use:   "start <id>",
	Short: "Start a ready task, assigning it to you",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		printResult(dispatchAction("task.start", map[string]any{"id": args[0]}))
	},
}

var taskDoneCmd = &cobra.Command{
	Use:   "done <id>",
	Short: "Complete a task with summary and evidence",
	Long: `Mark a task done. --summary says what happened; --commit, --test,
and --pr attach evidence (repeatable).

Examples:
  pimsg task done task-3c4d --summary "store wired, drain tested"
  pimsg task done task-3c4d --commit 4f2a91c --test ./internal/session`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		req := map[string]any{"id": args[0]}
		if taskDoneSumm != "" {
			req["summary"] = taskDoneSumm
		}
		if len(taskDoneCommit) > 0 {
			req["commits"] = taskDoneCommit
		}
		if len(taskDoneTest) > 0 {
			req["tests"] = taskDoneTest
		}
		if len(taskDonePR) > 0 {
			req["prs"] = taskDonePR
		}
		printResult(dispatchAction("task.done", req))
	},
}

var taskBlockCmd = &cobra.Command{
	Use:   "block <id>",
	Short: "Block a task with a reason",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		req := map[string]any{"id": args[0]}
		if taskBlockWhy != "" {
			req["reason"] = taskBlockWhy
		}
		printResult(dispatchAction("task.block", req))
	},
}

var taskUnblockCmd = &cobra.Command{
	Use:   "unblock <id>",
	Short: "Return a blocked task to todo",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		printResult(dispatchAction("task.unblock", map[string]any{"id": args[0]}))
	},
}

var taskReadyCmd = &cobra.Command{
	Use:   "ready <epic-id>",
	Short: "List tasks whose dependencies are all done",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		printResult(dispatchAction("task.ready", map[string]any{"epicId": args[0]}))
	},
}

var taskResetCmd = &cobra.Command{
	Use:   "reset <id>",
	Short: "Reset a task to todo",
	Long: `Reset a task to todo, clearing assignment and evidence. --cascade
also resets done dependents so the epic's dependency graph stays
truthful.

Examples:
  pimsg task reset task-3c4d
  pimsg task reset task-3c4d --cascade`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		req := map[string]any{"id": args[0]}
		if taskResetCasc {
			req["cascade"] = true
		}
		printResult(dispatchAction("task.reset", req))
	},
}

func init() {
	taskCreateCmd.Flags().StringVar(&taskCreateDesc, "desc", "", "Task description")
	taskCreateCmd.Flags().StringSliceVar(&taskCreateDeps, "deps", nil, "Task ids this depends on")
	taskDoneCmd.Flags().StringVar(&taskDoneSumm, "summary", "", "What was done")
	taskDoneCmd.Flags().StringArrayVar(&taskDoneCommit, "commit", nil, "Evidence commit (repeatable)")
	taskDoneCmd.Flags().StringArrayVar(&taskDoneTest, "test", nil, "Evidence test (repeatable)")
	taskDoneCmd.Flags().StringArrayVar(&taskDonePR, "pr", nil, "Evidence PR (repeatable)")
	taskBlockCmd.Flags().StringVar(&taskBlockWhy, "reason", "", "Why the task is blocked")
	taskResetCmd.Flags().BoolVar(&taskResetCasc, "cascade", false, "Also reset done dependents")

	taskCmd.AddCommand(taskCreateCmd)
	taskCmd.AddCommand(taskShowCmd)
	taskCmd.AddCommand(taskListCmd)
	taskCmd.AddCommand(taskStartCmd)
	taskCmd.AddCommand(taskDoneCmd)
	taskCmd.AddCommand(taskBlockCmd)
	taskCmd.AddCommand(taskUnblockCmd)
	taskCmd.AddCommand(taskReadyCmd)
	taskCmd.AddCommand(taskResetCmd)
	rootCmd.AddCommand(taskCmd)
}
