// Package config merges messenger options from the project file, the user
// file, the shared host settings, and defaults, in that precedence order.
// Environment variables with the PI_ prefix override everything.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/untoldecay/pi-messenger/internal/debug"
	"github.com/untoldecay/pi-messenger/internal/fsutil"
)

var (
	v         *viper.Viper
	layers    []string          // merged option files, lowest precedence first
	layerKeys []map[string]bool // flattened keys each layer set, parallel to layers
)

// Initialize loads the option layers relative to cwd. Called once at
// startup; later calls rebuild the merged view.
func Initialize(cwd string) error {
	v = viper.New()
	v.SetConfigType("json")
	layers = nil
	layerKeys = nil
	setDefaults(v)

	// Environment variables take precedence over every file layer.
	// E.g. PI_SCOPETOFOLDER, PI_CREW_CONCURRENCY_WORKERS.
	v.SetEnvPrefix("PI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Lowest layer first: each merge overrides what came before.
	// 1. "messenger" object inside the shared host settings file.
	if settings := userSettingsMessenger(); settings != nil {
		if err := v.MergeConfigMap(settings); err != nil {
			return fmt.Errorf("merge settings: %w", err)
		}
		layers = append(layers, userSettingsPath())
		layerKeys = append(layerKeys, flattenKeys(settings, ""))
	}

	// 2. Per-user option file.
	if path := userConfigPath(); path != "" {
		if err := mergeFile(path); err != nil {
			return err
		}
	}

	// 3. Project option file, found by walking up from cwd so commands
	// work from subdirectories.
	if path := findProjectConfig(cwd); path != "" {
		if err := mergeFile(path); err != nil {
			return err
		}
	}
	return nil
}

func mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := v.MergeConfig(bytes.NewReader(data)); err != nil {
		debug.Logf("skipping malformed config %s: %v", path, err)
		return nil
	}
	layers = append(layers, path)
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err == nil {
		layerKeys = append(layerKeys, flattenKeys(raw, ""))
	} else {
		layerKeys = append(layerKeys, map[string]bool{})
	}
	return nil
}

// flattenKeys lowercases and dot-joins every leaf key of a layer, the
// form viper reports keys in.
func flattenKeys(m map[string]any, prefix string) map[string]bool {
	out := map[string]bool{}
	var walk func(m map[string]any, prefix string)
	walk = func(m map[string]any, prefix string) {
		for k, val := range m {
			key := strings.ToLower(k)
			if prefix != "" {
				key = prefix + "." + key
			}
			if nested, ok := val.(map[string]any); ok {
				walk(nested, key)
				continue
			}
			out[key] = true
		}
	}
	walk(m, prefix)
	return out
}

func setDefaults(vp *viper.Viper) {
	vp.SetDefault("autoRegister", false)
	vp.SetDefault("autoRegisterPaths", []string{})
	vp.SetDefault("scopeToFolder", false)
	vp.SetDefault("contextMode", "full")
	vp.SetDefault("stuckThreshold", 900)
	vp.SetDefault("stuckNotify", true)
	vp.SetDefault("autoStatus", true)
	vp.SetDefault("nameTheme", "default")
	vp.SetDefault("feedRetention", 500)

	// Crew execution defaults.
	vp.SetDefault("crew.concurrency.scouts", 3)
	vp.SetDefault("crew.concurrency.workers", 2)
	vp.SetDefault("crew.work.maxAttemptsPerTask", 5)
	vp.SetDefault("crew.work.maxWaves", 50)
	vp.SetDefault("crew.work.shutdownGracePeriodMs", 30000)
	vp.SetDefault("crew.artifacts.enabled", true)
	vp.SetDefault("crew.artifacts.cleanupDays", 14)
	vp.SetDefault("crew.runner.command", "pi")
	vp.SetDefault("crew.runner.args", []string{})

	vp.SetDefault("logging.level", "info")
	vp.SetDefault("logging.file", "")
}

// userSettingsMessenger extracts the "messenger" object from the shared
// host settings file. Absent or malformed settings contribute nothing.
func userSettingsMessenger() map[string]any {
	path := userSettingsPath()
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var outer struct {
		Messenger map[string]any `json:"messenger"`
	}
	if err := json.Unmarshal(data, &outer); err != nil {
		debug.Logf("skipping malformed settings %s: %v", path, err)
		return nil
	}
	return outer.Messenger
}

func userSettingsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".pi", "agent", "settings.json")
}

func userConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".pi", "agent", "pi-messenger.json")
}

func findProjectConfig(cwd string) string {
	for dir := cwd; ; dir = filepath.Dir(dir) {
		candidate := filepath.Join(dir, ".pi", "pi-messenger.json")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		if dir == filepath.Dir(dir) {
			return ""
		}
	}
}

func active() *viper.Viper {
	if v == nil {
		cwd, _ := os.Getwd()
		_ = Initialize(cwd)
	}
	return v
}

// Layers lists the merged option files, lowest precedence first.
func Layers() []string {
	active()
	return append([]string(nil), layers...)
}

// Source reports where the effective value of key comes from:
// "environment", the path of the highest-precedence file layer that set
// it, or "default". Note viper's IsSet counts defaults, so it cannot
// answer this.
func Source(key string) string {
	active()
	key = strings.ToLower(key)
	if envSet(key) {
		return "environment"
	}
	for i := len(layerKeys) - 1; i >= 0; i-- {
		if layerKeys[i][key] {
			return layers[i]
		}
	}
	return "default"
}

// envSet mirrors viper's AutomaticEnv mapping: PI_ prefix, dots and
// dashes to underscores, uppercased. Empty values count as unset, like
// viper without AllowEmptyEnv.
func envSet(key string) bool {
	name := strings.ToUpper("PI_" + strings.NewReplacer(".", "_", "-", "_").Replace(key))
	return os.Getenv(name) != ""
}

// IsSet reports whether the key was set by a layer or the environment,
// as opposed to falling through to the default.
func IsSet(key string) bool { return active().IsSet(key) }

func GetString(key string) string        { return active().GetString(key) }
func GetBool(key string) bool            { return active().GetBool(key) }
func GetInt(key string) int              { return active().GetInt(key) }
func GetStringSlice(key string) []string { return active().GetStringSlice(key) }

// AllSettings returns the merged view for display.
func AllSettings() map[string]any { return active().AllSettings() }

// Typed option views.

func AutoRegister() bool        { return GetBool("autoRegister") }
func ScopeToFolder() bool       { return GetBool("scopeToFolder") }
func StuckNotify() bool         { return GetBool("stuckNotify") }
func AutoStatus() bool          { return GetBool("autoStatus") }
func NameTheme() string         { return GetString("nameTheme") }
func FeedRetention() int        { return GetInt("feedRetention") }
func ScoutConcurrency() int     { return GetInt("crew.concurrency.scouts") }
func WorkerConcurrency() int    { return GetInt("crew.concurrency.workers") }
func MaxAttemptsPerTask() int   { return GetInt("crew.work.maxAttemptsPerTask") }
func MaxWaves() int             { return GetInt("crew.work.maxWaves") }
func RunnerCommand() string     { return GetString("crew.runner.command") }
func RunnerArgs() []string      { return GetStringSlice("crew.runner.args") }
func ArtifactsEnabled() bool    { return GetBool("crew.artifacts.enabled") }
func ArtifactsCleanupDays() int { return GetInt("crew.artifacts.cleanupDays") }

// StuckThreshold is how long an agent may sit idle while holding work
// before status displays flag it stuck.
func StuckThreshold() time.Duration {
	return time.Duration(GetInt("stuckThreshold")) * time.Second
}

// ShutdownGracePeriod is the steer-message wait during worker shutdown.
func ShutdownGracePeriod() time.Duration {
	return time.Duration(GetInt("crew.work.shutdownGracePeriodMs")) * time.Millisecond
}

// NameWords returns the word-list override, empty slices when unset.
func NameWords() (adjectives, nouns []string) {
	return GetStringSlice("nameWords.adjectives"), GetStringSlice("nameWords.nouns")
}

// Context options. The contextMode shorthand expands to three booleans;
// an explicitly set boolean wins over the shorthand.

func RegistrationContext() bool {
	if IsSet("registrationContext") {
		return GetBool("registrationContext")
	}
	return contextModeAtLeast("minimal")
}

func ReplyHint() bool {
	if IsSet("replyHint") {
		return GetBool("replyHint")
	}
	return contextModeAtLeast("full")
}

func SenderDetailsOnFirstContact() bool {
	if IsSet("senderDetailsOnFirstContact") {
		return GetBool("senderDetailsOnFirstContact")
	}
	return contextModeAtLeast("full")
}

func contextModeAtLeast(level string) bool {
	switch GetString("contextMode") {
	case "none":
		return false
	case "minimal":
		return level == "minimal"
	default:
		return true
	}
}

// AutoRegisterMatch reports whether dir matches any configured
// auto-register pattern. Patterns support a leading ~ and a trailing *
// or /* for subtree matches; anything else is an exact match after
// cleaning.
func AutoRegisterMatch(dir string) bool {
	home, _ := os.UserHomeDir()
	dir = filepath.Clean(dir)
	for _, pattern := range GetStringSlice("autoRegisterPaths") {
		if matchPathPattern(dir, pattern, home) {
			return true
		}
	}
	return false
}

func matchPathPattern(dir, pattern, home string) bool {
	if pattern == "" {
		return false
	}
	if strings.HasPrefix(pattern, "~") && home != "" {
		pattern = filepath.Join(home, strings.TrimPrefix(pattern, "~"))
	}
	switch {
	case strings.HasSuffix(pattern, "/*"):
		root := filepath.Clean(strings.TrimSuffix(pattern, "/*"))
		return dir == root || strings.HasPrefix(dir, root+string(filepath.Separator))
	case strings.HasSuffix(pattern, "*"):
		return strings.HasPrefix(dir, strings.TrimSuffix(pattern, "*"))
	default:
		return dir == filepath.Clean(pattern)
	}
}

// UpdateUserFile applies mutate to the per-user option file via a
// read-modify-write, then rebuilds the merged view so the current
// process sees its own change.
func UpdateUserFile(mutate func(map[string]any)) error {
	path := userConfigPath()
	if path == "" {
		return fmt.Errorf("no home directory")
	}
	opts := map[string]any{}
	if _, err := fsutil.ReadJSON(path, &opts); err != nil {
		return err
	}
	mutate(opts)
	if err := fsutil.WriteJSON(path, opts); err != nil {
		return err
	}
	cwd, _ := os.Getwd()
	return Initialize(cwd)
}
