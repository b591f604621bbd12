package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/untoldecay/pi-messenger/internal/crew"
	"github.com/untoldecay/pi-messenger/internal/ui"
)

var epicSetSpecFile string

var epicCmd = &cobra.Command{
	Use:     "epic",
	GroupID: "crew",
	Short:   "Manage epics",
	Long: `Manage epics: spec-scoped units of work that own tasks, a spec
document, and checkpoints.

Examples:
  pimsg epic create "Auth rework"
  pimsg epic list
  pimsg epic show epic-1a2b
  pimsg epic close epic-1a2b`,
}

var epicCreateCmd = &cobra.Command{
	Use:   "create [title]",
	Short: "Create an epic",
	Long: `Create an epic with the given title. Without a title on a terminal,
an interactive form collects the title and an optional starting spec.

Examples:
  pimsg epic create "Auth rework"
  pimsg epic create`,
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) > 0 {
			title := strings.Join(args, " ")
			printResult(dispatchAction("epic.create", map[string]any{"title": title}))
			return
		}
		if !ui.IsTerminal() {
			FatalError("title is required (or run on a terminal for the form)")
		}
		runEpicCreateForm()
	},
}

func runEpicCreateForm() {
	var title, spec string

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Title").
				Description("What is this epic about? (required)").
				Placeholder("e.g., Rework the auth flow").
				Value(&title).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return fmt.Errorf("title is required")
					}
					return nil
				}),

			huh.NewText().
				Title("Spec").
				Description("Starting spec in markdown (optional)").
				Placeholder("Goals, constraints, acceptance criteria...").
				CharLimit(20000).
				Value(&spec),

			huh.NewConfirm().
				Title("Create this epic?").
				Affirmative("Create").
				Negative("Cancel"),
		),
	).WithTheme(huh.ThemeDracula())

	if err := form.Run(); err != nil {
		if err == huh.ErrUserAborted {
			fmt.Fprintln(os.Stderr, "Epic creation canceled.")
			os.Exit(0)
		}
		FatalError("form error: %v", err)
	}

	res := dispatchAction("epic.create", map[string]any{"title": title})
	if res.Err() != "" {
		printResult(res)
		return
	}
	if strings.TrimSpace(spec) != "" {
		if id, ok := res.Details["id"].(string); ok {
			specRes := dispatchAction("epic.set_spec", map[string]any{"id": id, "content": spec})
			if specRes.Err() != "" {
				fmt.Fprintf(os.Stderr, "Warning: %s\n", specRes.Err())
			}
		}
	}
	printResult(res)
}

var epicShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show an epic, its tasks, and its spec",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		res := dispatchAction("epic.show", map[string]any{"id": args[0]})
		if jsonOutput || !ui.IsTerminal() || res.Err() != "" {
			printResult(res)
			return
		}
		fmt.Println(res.Text)
		if spec, ok := res.Details["spec"].(string); ok && spec != "" {
			fmt.Println()
			fmt.Println(ui.RenderMarkdown(spec, ui.Width()))
		}
	},
}

var epicListCmd = &cobra.Command{
	Use:   "list",
	Short: "List epics",
	Run: func(cmd *cobra.Command, args []string) {
		if jsonOutput || !ui.IsTerminal() {
			printResult(dispatchAction("epic.list", nil))
			return
		}
		cwd, err := os.Getwd()
		if err != nil {
			FatalError("resolve working directory: %v", err)
		}
		epics, err := crew.NewStore(cwd).ListEpics()
		if err != nil {
			FatalError("list epics: %v", err)
		}
		if len(epics) == 0 {
			fmt.Println("No epics. Create one with: pimsg epic create \"title\"")
			return
		}
		rows := make([]ui.EpicRow, 0, len(epics))
		for _, e := range epics {
			rows = append(rows, ui.EpicRow{
				ID:     e.ID,
				Title:  e.Title,
				Status: string(e.Status),
				Done:   e.CompletedCount,
				Total:  e.TaskCount,
			})
		}
		fmt.Println(ui.RenderEpicsTable(rows, ui.Width()))
	},
}

var epicCloseCmd = &cobra.Command{
	Use:   "close <id>",
	Short: "Close a completed epic",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		printResult(dispatchAction("epic.close", map[string]any{"id": args[0]}))
	},
}

var epicSetSpecCmd = &cobra.Command{
	Use:   "set-spec <id>",
	Short: "Replace an epic's spec document",
	Long: `Replace the epic's spec markdown. Content comes from --file, or from
stdin when no file is given.

Examples:
  pimsg epic set-spec epic-1a2b --file specs/auth.md
  cat specs/auth.md | pimsg epic set-spec epic-1a2b`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var content []byte
		var err error
		if epicSetSpecFile != "" {
			content, err = os.ReadFile(epicSetSpecFile)
			if err != nil {
				FatalError("read %s: %v", epicSetSpecFile, err)
			}
		} else {
			content, err = io.ReadAll(os.Stdin)
			if err != nil {
				FatalError("read stdin: %v", err)
			}
		}
		printResult(dispatchAction("epic.set_spec", map[string]any{
			"id":      args[0],
			"content": string(content),
		}))
	},
}

func init() {
	epicSetSpecCmd.Flags().StringVar(&epicSetSpecFile, "file", "", "Read the spec from this file instead of stdin")
	epicCmd.AddCommand(epicCreateCmd)
	epicCmd.AddCommand(epicShowCmd)
	epicCmd.AddCommand(epicListCmd)
	epicCmd.AddCommand(epicCloseCmd)
	epicCmd.AddCommand(epicSetSpecCmd)
	rootCmd.AddCommand(epicCmd)
}
