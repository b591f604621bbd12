package main

import (
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "mesh",
	Aliases: []string{"st"},
	Short:   "Show your registration, unread count, and active peers",
	Long: `Show the mesh from your seat: your own registration (when one
exists), pending inbox messages, active peers, and current swarm claims.

Works without a registration too — peers and claims still show, with a
hint to join.

Examples:
  pimsg status
  pimsg status --json`,
	Run: func(cmd *cobra.Command, args []string) {
		printResult(dispatchAction("status", nil))
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
