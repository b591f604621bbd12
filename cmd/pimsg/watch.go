package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/untoldecay/pi-messenger/internal/config"
	"github.com/untoldecay/pi-messenger/internal/feed"
	"github.com/untoldecay/pi-messenger/internal/inbox"
	"github.com/untoldecay/pi-messenger/internal/names"
	"github.com/untoldecay/pi-messenger/internal/paths"
	"github.com/untoldecay/pi-messenger/internal/registry"
	"github.com/untoldecay/pi-messenger/internal/session"
	"github.com/untoldecay/pi-messenger/internal/swarm"
	"github.com/untoldecay/pi-messenger/internal/ui"
)

const (
	flushInterval      = 10 * time.Second
	trimInterval       = 10 * time.Minute
	stuckCheckInterval = time.Minute
)

// watchLogger wraps slog with a printf-style method for the watch loop.
type watchLogger struct {
	logger *slog.Logger
}

func (l watchLogger) log(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

// newWatchLogger builds the rotating file logger at B/logs/pimsg.log.
// logging.file overrides the location; empty logging.level means info.
func newWatchLogger() watchLogger {
	file := config.GetString("logging.file")
	if file == "" {
		file = filepath.Join(paths.LogsDir(), "pimsg.log")
	}
	_ = os.MkdirAll(filepath.Dir(file), 0o755)

	level := slog.LevelInfo
	if config.GetString("logging.level") == "debug" {
		level = slog.LevelDebug
	}

	sink := &lumberjack.Logger{
		Filename:   file,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     14, // days
	}
	handler := slog.NewTextHandler(sink, &slog.HandlerOptions{Level: level})
	return watchLogger{logger: slog.New(handler)}
}

var watchCmd = &cobra.Command{
	Use:     "watch",
	GroupID: "mesh",
	Short:   "Join the mesh and deliver messages until interrupted",
	Long: `Run a foreground mesh session: register, watch the inbox, and print
messages as they arrive. Heartbeats keep the presence record fresh and
activity flushes keep peers' status views honest. Ctrl-C leaves cleanly,
releasing claims and the presence record.

The inbox is watched with fsnotify; if the watch cannot be established
the session falls back to polling. Session events go to a rotating log
under the messenger base directory.

With --auto the session only starts when the current directory matches
the configured autoRegisterPaths, so shell hooks can call it blindly.

Examples:
  pimsg watch                       # themed name, stay until Ctrl-C
  pimsg watch --name scout-1        # fixed name
  pimsg watch --auto                # only if this folder is configured`,
	Run: func(cmd *cobra.Command, args []string) {
		name, _ := cmd.Flags().GetString("name")
		spec, _ := cmd.Flags().GetString("spec")
		model, _ := cmd.Flags().GetString("model")
		human, _ := cmd.Flags().GetBool("human")
		auto, _ := cmd.Flags().GetBool("auto")
		runWatch(name, spec, model, human, auto)
	},
}

func runWatch(name, spec, model string, human, auto bool) {
	cwd, err := os.Getwd()
	if err != nil {
		FatalError("resolve working directory: %v", err)
	}
	if auto && !config.AutoRegisterMatch(cwd) {
		// Not configured for this folder; exit quietly so hooks can call
		// watch --auto unconditionally.
		return
	}

	log := newWatchLogger()

	adjectives, nouns := config.NameWords()
	theme := names.Resolve(paths.ThemesDir(), config.NameTheme(),
		names.Theme{Adjectives: adjectives, Nouns: nouns})

	sess, err := session.Join(session.JoinOptions{
		Name:          name,
		Model:         model,
		Spec:          spec,
		IsHuman:       human,
		Theme:         theme,
		Version:       Version,
		AutoStatus:    config.AutoStatus(),
		SenderDetails: config.SenderDetailsOnFirstContact(),
	})
	if err != nil {
		FatalError("join mesh: %v", err)
	}
	log.log("session started: agent=%s session=%s pid=%d", sess.Name(), sess.SessionID(), os.Getpid())
	fmt.Printf("Joined mesh as %s. Watching inbox (Ctrl-C to leave)...\n", sess.Name())

	ctx, cancel := context.WithCancel(rootCtx)
	defer cancel()

	drainer := inbox.NewDrainer(sess.Name(), func(msg inbox.Message) {
		d := sess.Receive(msg)
		printDelivery(d)
		log.log("delivered: from=%s id=%s wakeUp=%t", msg.From, msg.ID, d.WakeUp)
	})
	watcher, err := inbox.NewWatcher(sess.Name(), drainer)
	if err != nil {
		log.log("WARNING: inbox watch unavailable: %v", err)
		fmt.Fprintf(os.Stderr, "Warning: inbox watch unavailable: %v\n", err)
	} else {
		watcher.Start(ctx)
		defer func() { _ = watcher.Close() }()
	}
	// Catch anything that landed before the watch attached.
	drainer.Request()

	stopHeartbeat := sess.StartHeartbeat()
	defer stopHeartbeat()

	flush := time.NewTicker(flushInterval)
	defer flush.Stop()
	trim := time.NewTicker(trimInterval)
	defer trim.Stop()
	stuck := time.NewTicker(stuckCheckInterval)
	defer stuck.Stop()
	flagged := map[string]bool{}

	for {
		select {
		case <-ctx.Done():
			leaveCtx, leaveCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer leaveCancel()
			if err := sess.Leave(leaveCtx); err != nil {
				log.log("WARNING: leave failed: %v", err)
				fmt.Fprintf(os.Stderr, "Warning: leave failed: %v\n", err)
			}
			log.log("session ended: agent=%s", sess.Name())
			fmt.Printf("\nLeft the mesh as %s.\n", sess.Name())
			return
		case <-flush.C:
			sess.MaybeFlush()
		case <-trim.C:
			feed.TrimIfOver(sess.ProjectDir(), config.FeedRetention())
		case <-stuck.C:
			if config.StuckNotify() {
				notifyStuck(sess, log, flagged)
			}
		}
	}
}

// notifyStuck flags peers that have gone quiet while holding work. Each
// stuck episode is announced once; recovery (or departure) clears the
// flag so a relapse announces again.
func notifyStuck(sess *session.Session, log watchLogger, flagged map[string]bool) {
	threshold := config.StuckThreshold()
	if threshold <= 0 {
		return
	}
	agents, err := registry.ActiveAgents()
	if err != nil {
		log.log("WARNING: stuck check skipped: %v", err)
		return
	}

	holds := map[string]bool{}
	if table, err := swarm.Claims(); err == nil {
		for _, tasks := range table {
			for _, c := range tasks {
				holds[c.Agent] = true
			}
		}
	}

	present := make(map[string]bool, len(agents))
	now := time.Now()
	for _, a := range agents {
		present[a.Name] = true
		if a.Name == sess.Name() {
			continue
		}
		if registry.StatusTier(&a, holds[a.Name], threshold, now) != registry.TierStuck {
			delete(flagged, a.Name)
			continue
		}
		if flagged[a.Name] {
			continue
		}
		flagged[a.Name] = true
		fmt.Println(ui.RenderWarn(fmt.Sprintf("%s looks stuck: no activity for %s while holding work", a.Name, threshold)))
		log.log("stuck peer: agent=%s threshold=%s", a.Name, threshold)
		feed.Record(sess.ProjectDir(), feed.Event{Agent: a.Name, Type: feed.TypeStuck})
	}
	for name := range flagged {
		if !present[name] {
			delete(flagged, name)
		}
	}
}

// printDelivery renders one received message for the terminal.
func printDelivery(d session.Delivery) {
	from := ui.RenderAccent(d.Message.From)
	ts := d.Message.Timestamp.Local().Format("15:04:05")
	fmt.Printf("[%s] %s: %s\n", ts, from, d.Message.Text)
	if d.Message.ReplyTo != nil {
		fmt.Printf("        %s\n", ui.RenderMuted("in reply to "+*d.Message.ReplyTo))
	}
	if d.Note != "" {
		fmt.Printf("        %s\n", ui.RenderWarn(d.Note))
	}
	if d.SenderInfo != nil {
		info := fmt.Sprintf("%s is pid %d in %s", d.SenderInfo.Name, d.SenderInfo.PID, d.SenderInfo.Cwd)
		if d.SenderInfo.Model != "" {
			info += " (" + d.SenderInfo.Model + ")"
		}
		fmt.Printf("        %s\n", ui.RenderMuted(info))
	}
}

func init() {
	watchCmd.Flags().String("name", "", "Explicit agent name (default: themed generation)")
	watchCmd.Flags().String("spec", "", "Spec path being worked")
	watchCmd.Flags().String("model", "", "Model identifier shown to peers")
	watchCmd.Flags().Bool("human", false, "Mark this registration as a human teammate")
	watchCmd.Flags().Bool("auto", false, "Only join when this folder matches autoRegisterPaths")
	rootCmd.AddCommand(watchCmd)
}
