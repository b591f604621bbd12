package main

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/untoldecay/pi-messenger/internal/registry"
	"github.com/untoldecay/pi-messenger/internal/session"
	"github.com/untoldecay/pi-messenger/internal/swarm"
	"github.com/untoldecay/pi-messenger/internal/ui"
)

var (
	swarmSpec     string
	claimSpec     string
	claimReason   string
	unclaimSpec   string
	completeSpec  string
	completeNotes string
)

var swarmCmd = &cobra.Command{
	Use:     "swarm",
	GroupID: "coord",
	Short:   "Show the swarm board: claims and completions per spec",
	Long: `Show who holds which task and what is already done, grouped by spec.
Claims of dead agents are pruned on read; completions are permanent.

Without --spec the board covers your registered spec, or every spec
with activity when you have none set.

Examples:
  pimsg swarm
  pimsg swarm --spec specs/auth-rework.md
  pimsg swarm --json`,
	Run: func(cmd *cobra.Command, args []string) {
		runSwarmBoard()
	},
}

func runSwarmBoard() {
	if jsonOutput || !ui.IsTerminal() {
		req := map[string]any{}
		if swarmSpec != "" {
			req["spec"] = swarmSpec
		}
		printResult(dispatchAction("swarm", req))
		return
	}

	claims, err := swarm.Claims()
	if err != nil {
		FatalError("read claims: %v", err)
	}
	completions, err := swarm.Completions()
	if err != nil {
		FatalError("read completions: %v", err)
	}

	spec := strings.TrimSpace(swarmSpec)
	if spec == "" {
		if name := os.Getenv(session.EnvAgentName); name != "" {
			if rec, ok, _ := registry.Find(name); ok {
				spec = rec.Spec
			}
		}
	} else {
		spec = swarm.CanonSpec(spec)
	}

	specs := map[string]bool{}
	if spec != "" {
		specs[spec] = true
	} else {
		for s := range claims {
			specs[s] = true
		}
		for s := range completions {
			specs[s] = true
		}
	}
	if len(specs) == 0 {
		fmt.Println("No swarm activity.")
		return
	}

	ordered := make([]string, 0, len(specs))
	for s := range specs {
		ordered = append(ordered, s)
	}
	sort.Strings(ordered)

	width := ui.Width()
	for i, s := range ordered {
		if i > 0 {
			fmt.Println()
		}
		fmt.Println(ui.RenderSwarmBoard(s, claimRows(claims[s]), completionRows(completions[s]), width))
	}
}

func claimRows(tasks map[string]swarm.Claim) []ui.ClaimRow {
	rows := make([]ui.ClaimRow, 0, len(tasks))
	for id, c := range tasks {
		rows = append(rows, ui.ClaimRow{
			TaskID: id,
			Agent:  c.Agent,
			Age:    ago(c.ClaimedAt),
			Reason: c.Reason,
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].TaskID < rows[j].TaskID })
	return rows
}

func completionRows(tasks map[string]swarm.Completion) []ui.CompletionRow {
	rows := make([]ui.CompletionRow, 0, len(tasks))
	for id, c := range tasks {
		rows = append(rows, ui.CompletionRow{
			TaskID: id,
			By:     c.CompletedBy,
			Age:    ago(c.CompletedAt),
			Notes:  c.Notes,
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].TaskID < rows[j].TaskID })
	return rows
}

// ago formats a time for board columns: "just now", "42s ago", "5m ago".
func ago(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	dur := time.Since(t)
	switch {
	case dur < 5*time.Second:
		return "just now"
	case dur < time.Minute:
		return fmt.Sprintf("%ds ago", int(dur.Seconds()))
	case dur < time.Hour:
		return fmt.Sprintf("%dm ago", int(dur.Minutes()))
	case dur < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(dur.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(dur.Hours()/24))
	}
}

var claimCmd = &cobra.Command{
	Use:     "claim <task-id>",
	GroupID: "coord",
	Short:   "Claim a swarm task",
	Long: `Claim a task under the swarm lock. Fails if the task is claimed,
completed, or you already hold a different claim (one in flight per
agent).

The spec defaults to your registered spec path.

Examples:
  pimsg claim task-3
  pimsg claim task-3 --spec specs/auth-rework.md --reason "touches my area"`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		req := map[string]any{"taskId": args[0]}
		if claimSpec != "" {
			req["spec"] = claimSpec
		}
		if claimReason != "" {
			req["reason"] = claimReason
		}
		printResult(dispatchAction("claim", req))
	},
}

var unclaimCmd = &cobra.Command{
	Use:     "unclaim <task-id>",
	GroupID: "coord",
	Short:   "Release a swarm task you claimed",
	Long: `Release your claim on a task so someone else can take it.

Examples:
  pimsg unclaim task-3`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		req := map[string]any{"taskId": args[0]}
		if unclaimSpec != "" {
			req["spec"] = unclaimSpec
		}
		printResult(dispatchAction("unclaim", req))
	},
}

var completeCmd = &cobra.Command{
	Use:     "complete <task-id>",
	GroupID: "coord",
	Short:   "Mark a swarm task completed",
	Long: `Record a permanent completion for a task and release its claim.
Completing a task you never claimed works but earns a warning.

Examples:
  pimsg complete task-3
  pimsg complete task-3 --notes "done in commit 4f2a91c"`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		req := map[string]any{"taskId": args[0]}
		if completeSpec != "" {
			req["spec"] = completeSpec
		}
		if completeNotes != "" {
			req["notes"] = completeNotes
		}
		printResult(dispatchAction("complete", req))
	},
}

func init() {
	swarmCmd.Flags().StringVar(&swarmSpec, "spec", "", "Spec whose board to show")
	claimCmd.Flags().StringVar(&claimSpec, "spec", "", "Spec the task belongs to")
	claimCmd.Flags().StringVar(&claimReason, "reason", "", "Why you are claiming it")
	unclaimCmd.Flags().StringVar(&unclaimSpec, "spec", "", "Spec the task belongs to")
	completeCmd.Flags().StringVar(&completeSpec, "spec", "", "Spec the task belongs to")
	completeCmd.Flags().StringVar(&completeNotes, "notes", "", "Completion notes for the record")
	rootCmd.AddCommand(swarmCmd)
	rootCmd.AddCommand(claimCmd)
	rootCmd.AddCommand(unclaimCmd)
	rootCmd.AddCommand(completeCmd)
}
