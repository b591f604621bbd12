package main

import (
	"github.com/spf13/cobra"
)

var renameCmd = &cobra.Command{
	Use:     "rename <new-name>",
	GroupID: "mesh",
	Short:   "Rename your registration",
	Long: `Rename your registration atomically: the record moves, queued inbox
messages follow, and peers are notified of the change.

Examples:
  pimsg rename scout-1`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		printResult(dispatchAction("rename", map[string]any{"name": args[0]}))
	},
}

var setStatusCmd = &cobra.Command{
	Use:     "set-status [message]",
	GroupID: "mesh",
	Short:   "Set or clear your status line",
	Long: `Set the free-form status line peers see in list and whois. No
argument clears it back to the derived status.

Examples:
  pimsg set-status "refactoring auth, back at 3"
  pimsg set-status`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		req := map[string]any{}
		if len(args) > 0 {
			req["message"] = args[0]
		}
		printResult(dispatchAction("set_status", req))
	},
}

var specCmd = &cobra.Command{
	Use:     "spec <path>",
	GroupID: "mesh",
	Short:   "Set the spec path you are working",
	Long: `Record the spec document you are working against. Swarm claims
default to this spec, and peers see it in whois.

Examples:
  pimsg spec specs/auth-rework.md`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		printResult(dispatchAction("spec", map[string]any{"spec": args[0]}))
	},
}

func init() {
	rootCmd.AddCommand(renameCmd)
	rootCmd.AddCommand(setStatusCmd)
	rootCmd.AddCommand(specCmd)
}
