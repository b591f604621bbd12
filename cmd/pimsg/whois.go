package main

import (
	"github.com/spf13/cobra"
)

var whoisCmd = &cobra.Command{
	Use:     "whois <name>",
	GroupID: "mesh",
	Short:   "Show one agent's full record",
	Long: `Show everything the mesh knows about one agent: pid, working
directory, model, spec, reservations, session counters, and liveness.

Examples:
  pimsg whois nimble-otter
  pimsg whois nimble-otter --json`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		printResult(dispatchAction("whois", map[string]any{"name": args[0]}))
	},
}

func init() {
	rootCmd.AddCommand(whoisCmd)
}
