package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/untoldecay/pi-messenger/internal/feed"
)

var (
	feedLimit  int
	feedSince  string
	feedDigest bool
)

var feedCmd = &cobra.Command{
	Use:     "feed",
	GroupID: "coord",
	Short:   "Show recent project activity",
	Long: `Show the project activity feed: joins, leaves, messages, claims,
completions, and crew task events, most recent last.

--since accepts natural language ("10 minutes ago", "yesterday 3pm") or
a Go duration ("45m", "2h"). --digest condenses the window into a short
status report via the Anthropic API (needs ANTHROPIC_API_KEY).

Examples:
  pimsg feed
  pimsg feed --limit 50
  pimsg feed --since "30 minutes ago"
  pimsg feed --since 2h --digest`,
	Run: func(cmd *cobra.Command, args []string) {
		runFeed()
	},
}

func runFeed() {
	if feedSince == "" && !feedDigest {
		req := map[string]any{}
		if feedLimit > 0 {
			req["limit"] = feedLimit
		}
		printResult(dispatchAction("feed", req))
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		FatalError("resolve working directory: %v", err)
	}
	limit := feedLimit
	if limit <= 0 {
		limit = 20
	}
	if feedSince != "" {
		// Pull a wide window first; the cutoff does the real bounding.
		limit = 500
	}
	events, err := feed.Recent(cwd, limit)
	if err != nil {
		FatalError("read feed: %v", err)
	}
	if feedSince != "" {
		cutoff, err := parseSince(feedSince, time.Now())
		if err != nil {
			FatalError("%v", err)
		}
		events = feed.Since(events, cutoff)
		if feedLimit > 0 && len(events) > feedLimit {
			events = events[len(events)-feedLimit:]
		}
	}
	if len(events) == 0 {
		fmt.Println("No activity in that window.")
		return
	}

	if feedDigest {
		client, err := feed.NewDigestClient("")
		if err != nil {
			FatalError("%v", err)
		}
		summary, err := client.Digest(rootCtx, events)
		if err != nil {
			FatalError("digest: %v", err)
		}
		if jsonOutput {
			outputJSON(map[string]any{"digest": summary, "events": len(events)})
			return
		}
		fmt.Println(summary)
		return
	}

	if jsonOutput {
		outputJSON(map[string]any{"events": events})
		return
	}
	for _, ev := range events {
		line := ev.TS.Local().Format("15:04:05") + " " + ev.Agent + " " + ev.Type
		if ev.Target != "" {
			line += " " + ev.Target
		}
		if ev.Preview != "" {
			line += " — " + ev.Preview
		}
		fmt.Println(line)
	}
}

// parseSince resolves a cutoff from a Go duration ("45m") or natural
// language ("10 minutes ago", "yesterday 3pm").
func parseSince(text string, now time.Time) (time.Time, error) {
	if dur, err := time.ParseDuration(strings.TrimSpace(text)); err == nil {
		return now.Add(-dur), nil
	}
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	r, err := w.Parse(text, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse --since %q: %w", text, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("cannot parse --since %q (try \"30 minutes ago\" or \"2h\")", text)
	}
	return r.Time, nil
}

func init() {
	feedCmd.Flags().IntVar(&feedLimit, "limit", 0, "Maximum events to show (default 20)")
	feedCmd.Flags().StringVar(&feedSince, "since", "", "Only events after this time")
	feedCmd.Flags().BoolVar(&feedDigest, "digest", false, "Summarize the window with the Anthropic API")
	rootCmd.AddCommand(feedCmd)
}
