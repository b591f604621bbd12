package main

import (
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/untoldecay/pi-messenger/internal/crew"
	"github.com/untoldecay/pi-messenger/internal/ui"
)

var (
	crewUninstallYes  bool
	crewRunsLimit     int
	crewCleanupBefore string
)

var crewCmd = &cobra.Command{
	Use:     "crew",
	GroupID: "crew",
	Short:   "Inspect and maintain the crew layer",
	Long: `Inspect the crew layer: epic rollup, plan validation, agent role
definitions, and worker run artifacts.

Examples:
  pimsg crew status
  pimsg crew validate epic-1a2b
  pimsg crew agents
  pimsg crew runs
  pimsg crew artifacts-cleanup --older-than "7 days ago"`,
}

var crewStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show every epic's progress at a glance",
	Run: func(cmd *cobra.Command, args []string) {
		printResult(dispatchAction("crew.status", nil))
	},
}

var crewValidateCmd = &cobra.Command{
	Use:   "validate [epic-id]",
	Short: "Validate epic task graphs",
	Long: `Check task graphs for orphan and circular dependencies. Without an
id every epic is checked.

Examples:
  pimsg crew validate
  pimsg crew validate epic-1a2b`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		req := map[string]any{}
		if len(args) > 0 {
			req["id"] = args[0]
		}
		printResult(dispatchAction("crew.validate", req))
	},
}

var crewAgentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List agent role definitions",
	Run: func(cmd *cobra.Command, args []string) {
		printResult(dispatchAction("crew.agents", nil))
	},
}

var crewInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Install the default agent role definitions",
	Run: func(cmd *cobra.Command, args []string) {
		printResult(dispatchAction("crew.install", nil))
	},
}

var crewUninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Remove installed agent role definitions",
	Long: `Remove the installed agent definition files. Asks for confirmation
on a terminal; --yes skips the prompt.

Examples:
  pimsg crew uninstall
  pimsg crew uninstall --yes`,
	Run: func(cmd *cobra.Command, args []string) {
		if !crewUninstallYes && ui.IsTerminal() {
			var confirmed bool
			form := huh.NewForm(
				huh.NewGroup(
					huh.NewConfirm().
						Title("Remove all installed agent definitions?").
						Description("Custom edits to the definition files are lost.").
						Affirmative("Remove").
						Negative("Keep").
						Value(&confirmed),
				),
			).WithTheme(huh.ThemeDracula())
			if err := form.Run(); err != nil {
				if err == huh.ErrUserAborted {
					fmt.Fprintln(os.Stderr, "Uninstall canceled.")
					os.Exit(0)
				}
				FatalError("form error: %v", err)
			}
			if !confirmed {
				fmt.Println("Uninstall canceled.")
				return
			}
		}
		printResult(dispatchAction("crew.uninstall", nil))
	},
}

var crewRunsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Show recent worker runs",
	Long: `Show recent worker runs from the artifact index: which agent ran
which task, when, and how it exited.

Examples:
  pimsg crew runs
  pimsg crew runs --limit 50`,
	Run: func(cmd *cobra.Command, args []string) {
		cwd, err := os.Getwd()
		if err != nil {
			FatalError("resolve working directory: %v", err)
		}
		log, err := crew.OpenArtifactLog(cwd)
		if err != nil {
			FatalError("open artifact log: %v", err)
		}
		defer log.Close()

		limit := crewRunsLimit
		if limit <= 0 {
			limit = 20
		}
		runs, err := log.RecentRuns(limit)
		if err != nil {
			FatalError("read runs: %v", err)
		}
		if jsonOutput {
			outputJSON(map[string]any{"runs": runs})
			return
		}
		if len(runs) == 0 {
			fmt.Println("No recorded runs.")
			return
		}
		if ui.IsTerminal() {
			rows := make([]ui.RunRow, 0, len(runs))
			for _, r := range runs {
				rows = append(rows, ui.RunRow{
					TaskID:    r.TaskID,
					Agent:     r.AgentName,
					Role:      r.Role,
					When:      ago(r.FinishedAt),
					Exit:      r.ExitCode,
					Truncated: r.Truncated,
				})
			}
			fmt.Println(ui.RenderRunsTable(rows, ui.Width()))
			return
		}
		for _, r := range runs {
			line := fmt.Sprintf("%s %s %s/%s exit=%d", r.FinishedAt.Local().Format("15:04:05"),
				r.TaskID, r.AgentName, r.Role, r.ExitCode)
			if r.Truncated {
				line += " (output truncated)"
			}
			fmt.Println(line)
		}
	},
}

var crewCleanupCmd = &cobra.Command{
	Use:   "artifacts-cleanup",
	Short: "Delete aged worker run artifacts",
	Long: `Delete run artifacts older than the cutoff: both the indexed rows
and their output directories. --older-than accepts natural language
("7 days ago") or a Go duration ("168h"); the default keeps two weeks.

Examples:
  pimsg crew artifacts-cleanup
  pimsg crew artifacts-cleanup --older-than "30 days ago"`,
	Run: func(cmd *cobra.Command, args []string) {
		cutoff := time.Now().AddDate(0, 0, -14)
		if crewCleanupBefore != "" {
			t, err := parseSince(crewCleanupBefore, time.Now())
			if err != nil {
				FatalError("%v", err)
			}
			cutoff = t
		}

		cwd, err := os.Getwd()
		if err != nil {
			FatalError("resolve working directory: %v", err)
		}
		log, err := crew.OpenArtifactLog(cwd)
		if err != nil {
			FatalError("open artifact log: %v", err)
		}
		defer log.Close()

		removed, err := log.Cleanup(cutoff)
		if err != nil {
			FatalError("cleanup: %v", err)
		}
		if jsonOutput {
			outputJSON(map[string]any{"removed": removed, "cutoff": cutoff})
			return
		}
		fmt.Printf("Removed %d run(s) finished before %s.\n", removed, cutoff.Local().Format("2006-01-02 15:04"))
	},
}

func init() {
	crewUninstallCmd.Flags().BoolVar(&crewUninstallYes, "yes", false, "Skip the confirmation prompt")
	crewRunsCmd.Flags().IntVar(&crewRunsLimit, "limit", 0, "Maximum runs to show (default 20)")
	crewCleanupCmd.Flags().StringVar(&crewCleanupBefore, "older-than", "", "Cutoff, e.g. \"7 days ago\" or 168h")

	crewCmd.AddCommand(crewStatusCmd)
	crewCmd.AddCommand(crewValidateCmd)
	crewCmd.AddCommand(crewAgentsCmd)
	crewCmd.AddCommand(crewInstallCmd)
	crewCmd.AddCommand(crewUninstallCmd)
	crewCmd.AddCommand(crewRunsCmd)
	crewCmd.AddCommand(crewCleanupCmd)
	rootCmd.AddCommand(crewCmd)
}
