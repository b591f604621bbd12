package main

import (
	"strings"

	"github.com/spf13/cobra"
)

var (
	sendReplyTo      string
	broadcastReplyTo string
)

var sendCmd = &cobra.Command{
	Use:     "send <to>[,<to>...] <message>",
	GroupID: "mesh",
	Short:   "Send a message to one or more agents",
	Long: `Send a message to the named agents' inboxes. Recipients see it
immediately if they are watching, otherwise on their next drain.

Multiple recipients are comma-separated. --reply-to threads the message
under an earlier message id.

Examples:
  pimsg send nimble-otter "auth.go is yours, I'll take the tests"
  pimsg send otter,heron "sync on the schema before 3pm?"
  pimsg send otter "done" --reply-to msg-1a2b3c4d`,
	Args: cobra.MinimumNArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		to := splitRecipients(args[0])
		msg := strings.Join(args[1:], " ")
		req := map[string]any{"to": to, "message": msg}
		if sendReplyTo != "" {
			req["replyTo"] = sendReplyTo
		}
		printResult(dispatchAction("send", req))
	},
}

var broadcastCmd = &cobra.Command{
	Use:     "broadcast <message>",
	GroupID: "mesh",
	Aliases: []string{"bc"},
	Short:   "Send a message to every active agent",
	Long: `Send a message to every live agent except yourself. Dead records
are skipped, not queued.

Examples:
  pimsg broadcast "rebasing main, hold your pushes"
  pimsg broadcast "build is green again" --reply-to msg-1a2b3c4d`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		req := map[string]any{"message": strings.Join(args, " ")}
		if broadcastReplyTo != "" {
			req["replyTo"] = broadcastReplyTo
		}
		printResult(dispatchAction("broadcast", req))
	},
}

func splitRecipients(arg string) []string {
	parts := strings.Split(arg, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func init() {
	sendCmd.Flags().StringVar(&sendReplyTo, "reply-to", "", "Message id this replies to")
	broadcastCmd.Flags().StringVar(&broadcastReplyTo, "reply-to", "", "Message id this replies to")
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(broadcastCmd)
}
