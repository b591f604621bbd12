package main

import (
	"github.com/spf13/cobra"
)

var checkpointCmd = &cobra.Command{
	Use:     "checkpoint",
	GroupID: "crew",
	Aliases: []string{"cp"},
	Short:   "Save and restore epic snapshots",
	Long: `Checkpoints snapshot an epic's full state: the epic record, its
tasks, and its spec. Restore rewinds the epic to the snapshot; the
checkpoint survives the restore.

Examples:
  pimsg checkpoint save epic-1a2b
  pimsg checkpoint list
  pimsg checkpoint restore epic-1a2b
  pimsg checkpoint delete epic-1a2b`,
}

var checkpointSaveCmd = &cobra.Command{
	Use:   "save <epic-id>",
	Short: "Snapshot an epic's current state",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		printResult(dispatchAction("checkpoint.save", map[string]any{"id": args[0]}))
	},
}

var checkpointRestoreCmd = &cobra.Command{
	Use:   "restore <epic-id>",
	Short: "Rewind an epic to its checkpoint",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		printResult(dispatchAction("checkpoint.restore", map[string]any{"id": args[0]}))
	},
}

var checkpointDeleteCmd = &cobra.Command{
	Use:   "delete <epic-id>",
	Short: "Delete an epic's checkpoint",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		printResult(dispatchAction("checkpoint.delete", map[string]any{"id": args[0]}))
	},
}

var checkpointListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved checkpoints",
	Run: func(cmd *cobra.Command, args []string) {
		printResult(dispatchAction("checkpoint.list", nil))
	},
}

func init() {
	checkpointCmd.AddCommand(checkpointSaveCmd)
	checkpointCmd.AddCommand(checkpointRestoreCmd)
	checkpointCmd.AddCommand(checkpointDeleteCmd)
	checkpointCmd.AddCommand(checkpointListCmd)
	rootCmd.AddCommand(checkpointCmd)
}
