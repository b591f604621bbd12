package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/untoldecay/pi-messenger/internal/dispatch"
)

var toolCmd = &cobra.Command{
	Use:     "tool [json]",
	GroupID: "setup",
	Short:   "Dispatch one JSON action record",
	Long: `Dispatch a single action record and print the {text, details}
result as JSON. This is the host-agent entry point: the record comes
from the argument, or from stdin when no argument is given.

The record is {"action": "...", ...args}. An empty or actionless record
dispatches status.

Examples:
  pimsg tool '{"action":"status"}'
  pimsg tool '{"action":"send","to":["otter"],"message":"ping"}'
  echo '{"action":"claim","taskId":"task-3"}' | pimsg tool`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var raw []byte
		if len(args) > 0 {
			raw = []byte(args[0])
		} else {
			var err error
			raw, err = io.ReadAll(os.Stdin)
			if err != nil {
				FatalError("read stdin: %v", err)
			}
		}

		req, err := dispatch.ParseRequest(raw)
		if err != nil {
			FatalError("%v", err)
		}
		res := dispatch.New(dispatch.Options{Version: Version}).Dispatch(rootCtx, req)

		out, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			FatalError("encode result: %v", err)
		}
		fmt.Println(string(out))
		if res.Err() != "" {
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(toolCmd)
}
