package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/untoldecay/pi-messenger/internal/config"
	"github.com/untoldecay/pi-messenger/internal/ui"
)

var configCmd = &cobra.Command{
	Use:     "config [key]",
	GroupID: "setup",
	Short:   "Show merged options and where they come from",
	Long: `Show the merged option view and the files that contributed to it,
lowest precedence first. Environment variables with the PI_ prefix
override every file layer.

With a key, show just that value and whether a layer set it or it fell
through to the default.

Examples:
  pimsg config
  pimsg config scopeToFolder
  pimsg config crew.concurrency.workers`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) == 1 {
			showConfigKey(args[0])
			return
		}
		showConfigAll()
	},
}

func showConfigKey(key string) {
	val := config.AllSettings()
	// viper lowercases keys in the merged view.
	var value any = lookupNested(val, strings.ToLower(key))
	source := config.Source(key)
	if jsonOutput {
		outputJSON(map[string]any{"key": key, "value": value, "source": source})
		return
	}
	fmt.Printf("%s = %v (%s)\n", key, value, source)
}

// lookupNested resolves dotted keys against the merged settings map.
func lookupNested(m map[string]any, key string) any {
	cur := any(m)
	for {
		node, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		if v, found := node[key]; found {
			return v
		}
		i := strings.IndexByte(key, '.')
		if i < 0 {
			return nil
		}
		next, found := node[key[:i]]
		if !found {
			return nil
		}
		cur = next
		key = key[i+1:]
	}
}

func showConfigAll() {
	settings := config.AllSettings()
	layers := config.Layers()

	if jsonOutput {
		outputJSON(map[string]any{"settings": settings, "layers": layers})
		return
	}

	fmt.Println(ui.RenderAccent("Layers") + " (lowest precedence first):")
	if len(layers) == 0 {
		fmt.Println("  none (defaults and environment only)")
	}
	for _, l := range layers {
		fmt.Printf("  %s\n", l)
	}
	fmt.Println()

	fmt.Println(ui.RenderAccent("Merged options") + ":")
	printSettings(settings, "")
}

func printSettings(m map[string]any, prefix string) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		full := k
		if prefix != "" {
			full = prefix + "." + k
		}
		if nested, ok := m[k].(map[string]any); ok {
			printSettings(nested, full)
			continue
		}
		fmt.Printf("  %s = %v\n", full, m[k])
	}
}

func init() {
	rootCmd.AddCommand(configCmd)
}
