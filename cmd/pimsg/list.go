package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/untoldecay/pi-messenger/internal/config"
	"github.com/untoldecay/pi-messenger/internal/registry"
	"github.com/untoldecay/pi-messenger/internal/session"
	"github.com/untoldecay/pi-messenger/internal/swarm"
	"github.com/untoldecay/pi-messenger/internal/ui"
)

var listAll bool

var listCmd = &cobra.Command{
	Use:     "list",
	GroupID: "mesh",
	Aliases: []string{"ls", "agents"},
	Short:   "List active agents",
	Long: `List every live agent in the mesh with its status tier, model, and
reservations. Dead records (exited pids) are skipped.

With scopeToFolder enabled the list is filtered to agents in this
working directory; --all lifts the filter.

Examples:
  pimsg list
  pimsg list --all
  pimsg list --json`,
	Run: func(cmd *cobra.Command, args []string) {
		runList()
	},
}

func runList() {
	if jsonOutput || !ui.IsTerminal() {
		printResult(dispatchAction("list", nil))
		return
	}

	agents, err := registry.ActiveAgents()
	if err != nil {
		FatalError("list agents: %v", err)
	}
	if config.ScopeToFolder() && !listAll {
		if cwd, err := os.Getwd(); err == nil {
			agents = registry.FilterByCwd(agents, cwd)
		}
	}
	if len(agents) == 0 {
		fmt.Println("No agents on the mesh. Join with: pimsg join")
		return
	}

	claims, err := swarm.Claims()
	if err != nil {
		claims = swarm.ClaimsTable{}
	}
	holds := make(map[string]bool)
	for _, tasks := range claims {
		for _, c := range tasks {
			holds[c.Agent] = true
		}
	}

	me := os.Getenv(session.EnvAgentName)
	now := time.Now()
	threshold := config.StuckThreshold()

	rows := make([]ui.AgentRow, 0, len(agents))
	for i := range agents {
		rec := &agents[i]
		status := rec.CustomStatus
		if status == "" {
			status = rec.StatusMessage
		}
		rows = append(rows, ui.AgentRow{
			Name:         rec.Name,
			Tier:         string(registry.StatusTier(rec, holds[rec.Name], threshold, now)),
			Model:        rec.Model,
			Status:       status,
			You:          rec.Name == me,
			Human:        rec.IsHuman,
			Reservations: len(rec.Reservations),
		})
	}
	fmt.Println(ui.RenderAgentsTable(rows, ui.Width()))
}

func init() {
	listCmd.Flags().BoolVar(&listAll, "all", false, "Ignore scopeToFolder and show every agent")
	rootCmd.AddCommand(listCmd)
}
