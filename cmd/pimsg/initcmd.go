package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/untoldecay/pi-messenger/internal/fsutil"
	"github.com/untoldecay/pi-messenger/internal/paths"
	"github.com/untoldecay/pi-messenger/internal/ui"
)

var initWithAgents bool

var initCmd = &cobra.Command{
	Use:     "init",
	GroupID: "setup",
	Short:   "Set up messenger state for this machine and project",
	Long: `Create the machine-wide state root (registry, inbox, logs) and the
project directory, and write a starter project config at
.pi/pi-messenger.json if none exists.

Everything init creates is also created lazily on first use; init just
makes the layout visible and gives you a config file to edit.

Examples:
  pimsg init
  pimsg init --agents`,
	Run: func(cmd *cobra.Command, args []string) {
		runInit()
	},
}

func runInit() {
	created := []string{}

	for _, dir := range []string{paths.RegistryDir(), paths.InboxRoot(), paths.LogsDir(), paths.ThemesDir()} {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			created = append(created, dir)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			FatalError("create %s: %v", dir, err)
		}
	}

	cwd, err := os.Getwd()
	if err != nil {
		FatalError("resolve working directory: %v", err)
	}
	projectDir := paths.Project(cwd)
	if _, err := os.Stat(projectDir); os.IsNotExist(err) {
		created = append(created, projectDir)
	}
	if err := os.MkdirAll(projectDir, 0o755); err != nil {
		FatalError("create %s: %v", projectDir, err)
	}

	cfgPath := paths.ProjectConfigFile(cwd)
	wroteConfig := false
	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		starter := map[string]any{
			"scopeToFolder": false,
			"contextMode":   "full",
			"nameTheme":     "default",
		}
		if err := fsutil.WriteJSON(cfgPath, starter); err != nil {
			FatalError("write %s: %v", cfgPath, err)
		}
		wroteConfig = true
	}

	var installed []string
	if initWithAgents {
		res := dispatchAction("crew.install", nil)
		if res.Err() != "" {
			fmt.Fprintf(os.Stderr, "Warning: %s\n", res.Err())
		} else if list, ok := res.Details["installed"].([]string); ok {
			installed = list
		}
	}

	if jsonOutput {
		outputJSON(map[string]any{
			"base":        paths.Base(),
			"project":     projectDir,
			"config":      cfgPath,
			"created":     created,
			"wroteConfig": wroteConfig,
			"installed":   installed,
		})
		return
	}

	fmt.Printf("%s Base directory: %s\n", ui.RenderPass("✓"), paths.Base())
	fmt.Printf("%s Project directory: %s\n", ui.RenderPass("✓"), projectDir)
	if wroteConfig {
		fmt.Printf("%s Starter config: %s\n", ui.RenderPass("✓"), cfgPath)
	} else {
		fmt.Printf("  Config already present: %s\n", cfgPath)
	}
	if len(installed) > 0 {
		fmt.Printf("%s Installed agent definitions: %d\n", ui.RenderPass("✓"), len(installed))
	}
	fmt.Println("\nNext: pimsg join (one-shot) or pimsg watch (interactive).")
}

var autoregisterCmd = &cobra.Command{
	Use:     "autoregister <add|remove|list> [path]",
	GroupID: "setup",
	Short:   "Manage auto-register paths",
	Long: `Manage the folders where watch --auto joins automatically. The path
defaults to the current directory. Changes land in the per-user config
file.

Patterns support ~ for home, a trailing /* for a subtree, and a
trailing * for a prefix.

Examples:
  pimsg autoregister add
  pimsg autoregister add ~/work/*
  pimsg autoregister remove ~/work/*
  pimsg autoregister list`,
	Args: cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		req := map[string]any{"autoRegisterPath": args[0]}
		if len(args) > 1 {
			path := args[1]
			if abs, err := filepath.Abs(path); err == nil && !hasPattern(path) {
				path = abs
			}
			req["path"] = path
		}
		printResult(dispatchAction("autoRegisterPath", req))
	},
}

// hasPattern reports whether the path argument carries match syntax that
// absolutizing would break.
func hasPattern(path string) bool {
	if len(path) > 0 && path[0] == '~' {
		return true
	}
	return len(path) > 0 && path[len(path)-1] == '*'
}

func init() {
	initCmd.Flags().BoolVar(&initWithAgents, "agents", false, "Also install default crew agent definitions")
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(autoregisterCmd)
}
