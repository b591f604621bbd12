package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/untoldecay/pi-messenger/internal/config"
	"github.com/untoldecay/pi-messenger/internal/feed"
	"github.com/untoldecay/pi-messenger/internal/names"
	"github.com/untoldecay/pi-messenger/internal/paths"
	"github.com/untoldecay/pi-messenger/internal/registry"
	"github.com/untoldecay/pi-messenger/internal/session"
	"github.com/untoldecay/pi-messenger/internal/swarm"
)

var joinCmd = &cobra.Command{
	Use:     "join",
	GroupID: "mesh",
	Short:   "Register a presence record bound to this shell",
	Long: `Register in the mesh with a presence record tied to the invoking shell.

The record stays live while the shell lives: peers see you in 'pimsg list',
can message your inbox, and your reservations hold. Run 'pimsg leave' when
done, or 'pimsg watch' for a foreground session that also delivers
messages as they arrive.

Agent names come from the configured name theme unless --name is given.

Examples:
  pimsg join                        # themed name, agent record
  pimsg join --name mike --human    # human teammate joining the mesh
  pimsg join --spec docs/plan.md    # announce the spec being worked`,
	Run: func(cmd *cobra.Command, args []string) {
		name, _ := cmd.Flags().GetString("name")
		spec, _ := cmd.Flags().GetString("spec")
		model, _ := cmd.Flags().GetString("model")
		human, _ := cmd.Flags().GetBool("human")

		adjectives, nouns := config.NameWords()
		theme := names.Resolve(paths.ThemesDir(), config.NameTheme(),
			names.Theme{Adjectives: adjectives, Nouns: nouns})

		sess, err := session.Join(session.JoinOptions{
			Name:    name,
			Model:   model,
			Spec:    spec,
			IsHuman: human,
			Theme:   theme,
			Version: Version,
			PID:     os.Getppid(),
		})
		if err != nil {
			switch {
			case errors.Is(err, names.ErrInvalidName):
				FatalError("%v", err)
			case errors.Is(err, registry.ErrNameTaken):
				FatalError("%v", err)
			case errors.Is(err, registry.ErrRaceLost):
				FatalError("%v", err)
			}
			FatalError("join mesh: %v", err)
		}

		rec := sess.Record()
		if jsonOutput {
			outputJSON(map[string]any{
				"name":      rec.Name,
				"sessionId": rec.SessionID,
				"pid":       rec.PID,
			})
			return
		}

		fmt.Printf("Registered as %s (record follows shell pid %d).\n", rec.Name, rec.PID)
		fmt.Printf("Let one-shot commands act as you:\n\n  export %s=%s\n\n", session.EnvAgentName, rec.Name)
		fmt.Println("Run 'pimsg watch' to receive messages, 'pimsg leave' when done.")
	},
}

var leaveCmd = &cobra.Command{
	Use:     "leave [name]",
	GroupID: "mesh",
	Short:   "Unregister from the mesh and release everything held",
	Long: `Remove an agent's presence record, release its swarm claims, and drop
its undelivered inbox. The name defaults to PI_AGENT_NAME.

Examples:
  pimsg leave               # leave as $PI_AGENT_NAME
  pimsg leave swift-otter   # clean up a named registration`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		name := os.Getenv(session.EnvAgentName)
		if len(args) > 0 {
			name = args[0]
		}
		if name == "" {
			FatalError("no agent name: pass one or set %s", session.EnvAgentName)
		}

		if _, found, err := registry.Find(name); err != nil {
			FatalError("look up %s: %v", name, err)
		} else if !found {
			FatalError("no agent named %q", name)
		}

		if err := swarm.ReleaseAgentClaims(rootCtx, name); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: release claims: %v\n", err)
		}
		if err := registry.Unregister(name); err != nil {
			FatalError("unregister %s: %v", name, err)
		}
		if cwd, err := os.Getwd(); err == nil {
			feed.Record(cwd, feed.Event{Agent: name, Type: feed.TypeLeave})
		}

		if jsonOutput {
			outputJSON(map[string]any{"name": name, "left": true})
			return
		}
		fmt.Printf("Left the mesh as %s.\n", name)
	},
}

func init() {
	joinCmd.Flags().String("name", "", "Explicit agent name (default: themed generation)")
	joinCmd.Flags().String("spec", "", "Spec path being worked")
	joinCmd.Flags().String("model", "", "Model identifier shown to peers")
	joinCmd.Flags().Bool("human", false, "Mark this registration as a human teammate")
	rootCmd.AddCommand(joinCmd)
	rootCmd.AddCommand(leaveCmd)
}
