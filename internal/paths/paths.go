// Package paths resolves the two state roots every component builds on:
// the machine-wide base directory shared by all agents on this
// workstation, and the per-project directory under the working tree.
package paths

import (
	"os"
	"path/filepath"
)

// EnvDir overrides the base directory when set.
const EnvDir = "PI_MESSENGER_DIR"

// Base returns the machine-wide state root, honoring PI_MESSENGER_DIR.
// The default is ~/.pi/agent/messenger; when the home directory cannot be
// resolved the path degrades to a relative .pi tree in the working
// directory, which keeps single-agent operation working.
func Base() string {
	if dir := os.Getenv(EnvDir); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".pi", "agent", "messenger")
	}
	return filepath.Join(home, ".pi", "agent", "messenger")
}

// RegistryDir holds one presence record per live agent.
func RegistryDir() string { return filepath.Join(Base(), "registry") }

// RegistryFile is the presence record for the named agent.
func RegistryFile(name string) string {
	return filepath.Join(RegistryDir(), name+".json")
}

// InboxRoot holds the per-recipient inbox directories.
func InboxRoot() string { return filepath.Join(Base(), "inbox") }

// InboxDir is the pending-message directory for one recipient.
func InboxDir(name string) string { return filepath.Join(InboxRoot(), name) }

// ClaimsFile is the cross-agent claims table.
func ClaimsFile() string { return filepath.Join(Base(), "claims.json") }

// CompletionsFile is the cross-agent completions table.
func CompletionsFile() string { return filepath.Join(Base(), "completions.json") }

// SwarmLockFile is the machine-scope mutex guarding the tables above.
func SwarmLockFile() string { return filepath.Join(Base(), "swarm.lock") }

// LogsDir holds rotating diagnostic logs.
func LogsDir() string { return filepath.Join(Base(), "logs") }

// ThemesDir holds user-provided name-theme word lists.
func ThemesDir() string {
	if dir := os.Getenv(EnvDir); dir != "" {
		return filepath.Join(dir, "themes")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".pi", "agent", "themes")
	}
	return filepath.Join(home, ".pi", "agent", "themes")
}

// UserConfigFile is the per-user option file.
func UserConfigFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".pi", "agent", "pi-messenger.json")
}

// UserSettingsFile is the shared host settings file whose "messenger" key
// feeds the option merge.
func UserSettingsFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".pi", "agent", "settings.json")
}

// Project returns the per-project state root under dir.
func Project(dir string) string { return filepath.Join(dir, ".pi", "messenger") }

// ProjectConfigFile is the project-level option file.
func ProjectConfigFile(dir string) string {
	return filepath.Join(dir, ".pi", "pi-messenger.json")
}

// FeedFile is the project activity feed.
func FeedFile(dir string) string { return filepath.Join(Project(dir), "feed.jsonl") }

// Crew layout under the project root.

func CrewDir(dir string) string        { return filepath.Join(Project(dir), "crew") }
func EpicsDir(dir string) string       { return filepath.Join(CrewDir(dir), "epics") }
func EpicFile(dir, id string) string   { return filepath.Join(EpicsDir(dir), id+".json") }
func SpecsDir(dir string) string       { return filepath.Join(CrewDir(dir), "specs") }
func SpecFile(dir, id string) string   { return filepath.Join(SpecsDir(dir), id+".md") }
func TasksDir(dir string) string       { return filepath.Join(CrewDir(dir), "tasks") }
func TaskFile(dir, id string) string   { return filepath.Join(TasksDir(dir), id+".json") }
func TaskSpecFile(dir, id string) string { return filepath.Join(TasksDir(dir), id+".md") }
func BlocksDir(dir string) string      { return filepath.Join(CrewDir(dir), "blocks") }
func BlockFile(dir, id string) string  { return filepath.Join(BlocksDir(dir), id+".md") }
func CheckpointsDir(dir string) string { return filepath.Join(CrewDir(dir), "checkpoints") }
func CheckpointFile(dir, id string) string {
	return filepath.Join(CheckpointsDir(dir), id+".json")
}
func AgentsDir(dir string) string    { return filepath.Join(CrewDir(dir), "agents") }
func ArtifactsDir(dir string) string { return filepath.Join(CrewDir(dir), "artifacts") }

// EnsureBase creates the machine-wide skeleton. Idempotent.
func EnsureBase() error {
	for _, dir := range []string{RegistryDir(), InboxRoot(), LogsDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

// EnsureCrew creates the project crew skeleton. Idempotent.
func EnsureCrew(dir string) error {
	for _, d := range []string{
		EpicsDir(dir), SpecsDir(dir), TasksDir(dir),
		BlocksDir(dir), CheckpointsDir(dir), AgentsDir(dir),
	} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return err
		}
	}
	return nil
}
