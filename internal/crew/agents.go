package crew

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/untoldecay/pi-messenger/internal/fsutil"
	"github.com/untoldecay/pi-messenger/internal/paths"
)

// AgentDef describes one crew role: the system prompt appended to the
// worker process and optional provider/model selectors. Stored as
// crew/agents/<role>.toml so teams can edit roles in place.
type AgentDef struct {
	Name         string `toml:"name"`
	Description  string `toml:"description"`
	Provider     string `toml:"provider,omitempty"`
	Model        string `toml:"model,omitempty"`
	SystemPrompt string `toml:"system_prompt"`
}

// Built-in roles used by the plan/work/review pipelines.
const (
	RoleScout    = "scout"
	RoleAnalyst  = "analyst"
	RoleWorker   = "worker"
	RoleReviewer = "reviewer"
)

func defaultAgents() []*AgentDef {
	return []*AgentDef{
		{
			Name:        RoleScout,
			Description: "Explores one angle of the codebase and reports findings",
			SystemPrompt: strings.TrimSpace(`
You are a scout. Investigate the assigned angle of the codebase and
report: relevant files, existing patterns to follow, risks, and open
questions. Be concrete; cite paths. Do not modify anything.
`) + "\n",
		},
		{
			Name:        RoleAnalyst,
			Description: "Turns scout reports into a concrete task breakdown",
			SystemPrompt: strings.TrimSpace(`
You are a planning analyst. Merge the scout reports into an ordered
task breakdown. Emit one block per task in exactly this shape:

### Task: <title>
Depends: <comma-separated earlier task titles, or none>
<spec body: what to change, where, and how to verify>

Keep tasks independently executable and small enough for one session.
`) + "\n",
		},
		{
			Name:        RoleWorker,
			Description: "Executes one task against the working tree",
			SystemPrompt: strings.TrimSpace(`
You are a worker executing one task. Follow the task spec, keep
changes scoped to it, run the relevant tests, and finish with a short
summary of what changed and how it was verified.
`) + "\n",
		},
		{
			Name:        RoleReviewer,
			Description: "Reviews completed work and issues a verdict",
			SystemPrompt: strings.TrimSpace(`
You are a reviewer. Compare the work against its spec. End your reply
with exactly one verdict tag on its own line:
VERDICT: SHIP | NEEDS_WORK | MAJOR_RETHINK
followed by the reasons for anything short of SHIP.
`) + "\n",
		},
	}
}

func agentFile(dir, role string) string {
	return filepath.Join(paths.AgentsDir(dir), role+".toml")
}

// LoadAgent reads one role definition, falling back to the built-in
// default when no file is installed.
func (s *Store) LoadAgent(role string) (*AgentDef, error) {
	var def AgentDef
	if _, err := toml.DecodeFile(agentFile(s.dir, role), &def); err == nil && def.Name != "" {
		return &def, nil
	}
	for _, d := range defaultAgents() {
		if d.Name == role {
			return d, nil
		}
	}
	return nil, fmt.Errorf("agent role %q: %w", role, ErrNotFound)
}

// ListAgents returns every installed role definition plus built-in
// defaults not shadowed by a file.
func (s *Store) ListAgents() ([]*AgentDef, error) {
	byName := make(map[string]*AgentDef)
	entries, err := os.ReadDir(paths.AgentsDir(s.dir))
	if err == nil {
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".toml") {
				continue
			}
			var def AgentDef
			if _, err := toml.DecodeFile(filepath.Join(paths.AgentsDir(s.dir), e.Name()), &def); err != nil {
				continue
			}
			if def.Name == "" {
				def.Name = strings.TrimSuffix(e.Name(), ".toml")
			}
			byName[def.Name] = &def
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}
	for _, d := range defaultAgents() {
		if _, ok := byName[d.Name]; !ok {
			byName[d.Name] = d
		}
	}
	names := make([]string, 0, len(byName))
	for n := range byName {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]*AgentDef, 0, len(names))
	for _, n := range names {
		out = append(out, byName[n])
	}
	return out, nil
}

// InstallAgents writes the built-in role files, skipping roles that
// already have a customized file. Returns the roles written.
func (s *Store) InstallAgents() ([]string, error) {
	if err := paths.EnsureCrew(s.dir); err != nil {
		return nil, err
	}
	var written []string
	for _, def := range defaultAgents() {
		path := agentFile(s.dir, def.Name)
		if _, err := os.Stat(path); err == nil {
			continue
		}
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(def); err != nil {
			return written, err
		}
		if err := fsutil.WriteFile(path, buf.Bytes()); err != nil {
			return written, err
		}
		written = append(written, def.Name)
	}
	return written, nil
}

// UninstallAgents removes the built-in role files. Customized files
// for other roles are left alone. Returns the roles removed.
func (s *Store) UninstallAgents() ([]string, error) {
	var removed []string
	for _, def := range defaultAgents() {
		path := agentFile(s.dir, def.Name)
		if err := os.Remove(path); err == nil {
			removed = append(removed, def.Name)
		}
	}
	return removed, nil
}
