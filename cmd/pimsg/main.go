// Command pimsg is the file-based coordination mesh for coding agents
// sharing one workstation: presence, messaging, path reservations, swarm
// task claims, and the crew planning/execution pipeline.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/untoldecay/pi-messenger/internal/config"
	"github.com/untoldecay/pi-messenger/internal/dispatch"
)

var (
	// jsonOutput switches view commands to machine-readable output.
	// Set by the persistent --json flag.
	jsonOutput bool

	// rootCtx is canceled on SIGINT/SIGTERM; long-running commands and
	// lock waits ride it.
	rootCtx context.Context
)

var rootCmd = &cobra.Command{
	Use:   "pimsg",
	Short: "Coordination mesh for coding agents on one workstation",
	Long: `pimsg coordinates coding agents working side by side on one machine.

Everything runs through the filesystem - no daemon, no sockets. Agents
register presence records, message each other's inboxes, reserve file
paths before editing, claim swarm tasks under a lock, and drive crew
epics through planning, execution, and review.

State lives under $PI_MESSENGER_DIR (default ~/.pi/agent/messenger) for
machine-scope data and <project>/.pi/messenger for project-scope data.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("resolve working directory: %w", err)
		}
		return config.Initialize(cwd)
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "mesh", Title: "Mesh Commands:"},
		&cobra.Group{ID: "coord", Title: "Coordination Commands:"},
		&cobra.Group{ID: "crew", Title: "Crew Commands:"},
		&cobra.Group{ID: "setup", Title: "Setup Commands:"},
	)
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
}

// outputJSON prints v as indented JSON, the shape every --json view uses.
func outputJSON(v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to marshal JSON: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(data))
}

// FatalError prints a formatted error to stderr and exits non-zero.
func FatalError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

// dispatchAction routes one action record through the dispatcher the same
// way the tool surface does. One-shot commands act sessionless: self
// actions ride a live registration named by PI_AGENT_NAME.
func dispatchAction(action string, args map[string]any) *dispatch.Result {
	if args == nil {
		args = map[string]any{}
	}
	args["action"] = action
	data, err := json.Marshal(args)
	if err != nil {
		FatalError("encode %s args: %v", action, err)
	}
	req, err := dispatch.ParseRequest(data)
	if err != nil {
		FatalError("%v", err)
	}
	d := dispatch.New(dispatch.Options{Version: Version})
	return d.Dispatch(rootCtx, req)
}

// printResult renders a dispatcher result: raw JSON under --json, the
// text block otherwise. Error results exit non-zero; warnings do not.
func printResult(res *dispatch.Result) {
	if jsonOutput {
		outputJSON(res)
	} else {
		fmt.Println(res.Text)
	}
	if strings.HasPrefix(res.Text, "Error:") {
		os.Exit(1)
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	rootCtx = ctx

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
