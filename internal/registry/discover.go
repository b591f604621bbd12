package registry

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/untoldecay/pi-messenger/internal/fsutil"
	"github.com/untoldecay/pi-messenger/internal/paths"
	"github.com/untoldecay/pi-messenger/internal/proc"
)

// cacheTTL bounds how stale a discovery result may be. Most commands do
// several registry reads in one invocation; one scan serves them all.
const cacheTTL = 1 * time.Second

type cacheEntry struct {
	agents    []Record
	refreshed time.Time
}

var (
	cacheMu sync.Mutex
	cache   = map[string]cacheEntry{}
)

// ActiveAgents returns the presence records of live agents, sorted by
// name. Results are cached for one second per registry directory. A
// refresh probes each record's PID and unlinks dead records best effort.
func ActiveAgents() ([]Record, error) {
	dir := paths.RegistryDir()

	cacheMu.Lock()
	if entry, ok := cache[dir]; ok && time.Since(entry.refreshed) < cacheTTL {
		agents := entry.agents
		cacheMu.Unlock()
		return agents, nil
	}
	cacheMu.Unlock()

	agents, err := scan(dir)
	if err != nil {
		return nil, err
	}

	cacheMu.Lock()
	cache[dir] = cacheEntry{agents: agents, refreshed: time.Now()}
	cacheMu.Unlock()
	return agents, nil
}

// InvalidateCache drops all cached discovery results. Called after any
// registry mutation so the next read observes it.
func InvalidateCache() {
	cacheMu.Lock()
	cache = map[string]cacheEntry{}
	cacheMu.Unlock()
}

func scan(dir string) ([]Record, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var agents []Record
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") || strings.Contains(name, ".tmp-") {
			continue
		}

		path := filepath.Join(dir, name)
		var rec Record
		found, err := fsutil.ReadJSON(path, &rec)
		if err != nil || !found {
			continue
		}
		if rec.Name != strings.TrimSuffix(name, ".json") {
			continue
		}

		if !proc.Alive(rec.PID) {
			_ = os.Remove(path)
			continue
		}
		agents = append(agents, rec)
	}

	sort.Slice(agents, func(i, j int) bool { return agents[i].Name < agents[j].Name })
	return agents, nil
}

// Find returns the named agent if it is currently live.
func Find(name string) (*Record, bool, error) {
	agents, err := ActiveAgents()
	if err != nil {
		return nil, false, err
	}
	for i := range agents {
		if agents[i].Name == name {
			return &agents[i], true, nil
		}
	}
	return nil, false, nil
}

// FilterByCwd narrows agents to those whose working directory equals dir.
func FilterByCwd(agents []Record, dir string) []Record {
	var out []Record
	for _, agent := range agents {
		if agent.Cwd == dir {
			out = append(out, agent)
		}
	}
	return out
}
