package main

import (
	"github.com/spf13/cobra"
)

var reserveReason string

var reserveCmd = &cobra.Command{
	Use:     "reserve <path>...",
	GroupID: "coord",
	Short:   "Reserve paths you are about to edit",
	Long: `Place advisory reservations on paths or directory prefixes. Peers
holding conflicting reservations are reported as warnings; the
reservation still lands (the mesh advises, it does not block).

Directory reservations cover everything under the prefix.

Examples:
  pimsg reserve src/auth.go
  pimsg reserve src/api/ --reason "rewiring handlers"
  pimsg reserve go.mod go.sum`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		req := map[string]any{"paths": args}
		if reserveReason != "" {
			req["reason"] = reserveReason
		}
		printResult(dispatchAction("reserve", req))
	},
}

var releaseCmd = &cobra.Command{
	Use:     "release [path]...",
	GroupID: "coord",
	Short:   "Release reservations",
	Long: `Release the named reservations, or all of yours when no paths are
given.

Examples:
  pimsg release src/auth.go
  pimsg release`,
	Run: func(cmd *cobra.Command, args []string) {
		req := map[string]any{}
		if len(args) > 0 {
			req["paths"] = args
		}
		printResult(dispatchAction("release", req))
	},
}

func init() {
	reserveCmd.Flags().StringVar(&reserveReason, "reason", "", "Why these paths are held")
	rootCmd.AddCommand(reserveCmd)
	rootCmd.AddCommand(releaseCmd)
}
