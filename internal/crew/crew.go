// Package crew implements the epic/task orchestration layer: epic and
// task records under P/.pi/messenger/crew, a dependency graph with
// ready-set computation, checkpointed snapshots, and a worker executor
// that spawns host-agent child processes with bounded concurrency.
package crew

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/untoldecay/pi-messenger/internal/fsutil"
	"github.com/untoldecay/pi-messenger/internal/lockfile"
	"github.com/untoldecay/pi-messenger/internal/paths"
)

var (
	// ErrNotFound reports a missing epic or task id.
	ErrNotFound = errors.New("not found")
	// ErrIncompleteTasks blocks epic.close while tasks remain unfinished.
	ErrIncompleteTasks = errors.New("epic has incomplete tasks")
	// ErrOrphanDependency reports a depends_on entry naming no known task.
	ErrOrphanDependency = errors.New("dependency on unknown task")
	// ErrCircularDependency reports a cycle in an epic's task graph.
	ErrCircularDependency = errors.New("circular dependency")
)

// EpicStatus enumerates epic lifecycle states.
type EpicStatus string

const (
	EpicPlanning  EpicStatus = "planning"
	EpicActive    EpicStatus = "active"
	EpicBlocked   EpicStatus = "blocked"
	EpicCompleted EpicStatus = "completed"
	EpicArchived  EpicStatus = "archived"
)

// TaskStatus enumerates task lifecycle states.
type TaskStatus string

const (
	TaskTodo       TaskStatus = "todo"
	TaskInProgress TaskStatus = "in_progress"
	TaskDone       TaskStatus = "done"
	TaskBlocked    TaskStatus = "blocked"
)

// Epic is one unit of planned work, stored as crew/epics/<id>.json.
// Counts are denormalized and kept consistent by the lifecycle
// operations; validation recomputes them to catch drift.
type Epic struct {
	ID             string     `json:"id"`
	Title          string     `json:"title"`
	Status         EpicStatus `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	ClosedAt       *time.Time `json:"closed_at,omitempty"`
	TaskCount      int        `json:"task_count"`
	CompletedCount int        `json:"completed_count"`
}

// Evidence records what a completed task can point at.
type Evidence struct {
	Commits []string `json:"commits,omitempty"`
	Tests   []string `json:"tests,omitempty"`
	PRs     []string `json:"prs,omitempty"`
}

// Task is one unit of executable work within an epic, stored as
// crew/tasks/<id>.json next to its free-text spec <id>.md.
type Task struct {
	ID            string     `json:"id"`
	EpicID        string     `json:"epic_id"`
	Title         string     `json:"title"`
	Description   string     `json:"description,omitempty"`
	Status        TaskStatus `json:"status"`
	DependsOn     []string   `json:"depends_on,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	BaseCommit    string     `json:"base_commit,omitempty"`
	AssignedTo    string     `json:"assigned_to,omitempty"`
	Summary       string     `json:"summary,omitempty"`
	Evidence      *Evidence  `json:"evidence,omitempty"`
	BlockedReason string     `json:"blocked_reason,omitempty"`
	AttemptCount  int        `json:"attempt_count"`
}

// StatusError reports a lifecycle operation applied in the wrong state,
// e.g. starting a task that is not todo.
type StatusError struct {
	ID   string
	Have string
	Want string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s is %s, not %s", e.ID, e.Have, e.Want)
}

// Store reads and writes crew state for one project directory. All
// methods are safe to call from multiple processes: single-file
// mutations go through atomic rename and multi-file flows take the
// swarm lock.
type Store struct {
	dir string
}

// NewStore returns a store rooted at the given project directory.
func NewStore(projectDir string) *Store {
	return &Store{dir: projectDir}
}

// Dir returns the project directory the store operates on.
func (s *Store) Dir() string { return s.dir }

func (s *Store) lock() *lockfile.Lock {
	return lockfile.New(paths.SwarmLockFile())
}

var epicIDPattern = regexp.MustCompile(`^c-(\d+)-[a-z0-9]{3}$`)

const idSuffixAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

func randomSuffix(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = idSuffixAlphabet[rand.Intn(len(idSuffixAlphabet))]
	}
	return string(b)
}

// nextEpicID scans the epics directory for the highest sequence number
// and returns c-<max+1>-<suffix>. Callers must hold the swarm lock.
func (s *Store) nextEpicID() string {
	max := 0
	entries, err := os.ReadDir(paths.EpicsDir(s.dir))
	if err == nil {
		for _, e := range entries {
			name := strings.TrimSuffix(e.Name(), ".json")
			m := epicIDPattern.FindStringSubmatch(name)
			if m == nil {
				continue
			}
			if n, err := strconv.Atoi(m[1]); err == nil && n > max {
				max = n
			}
		}
	}
	return fmt.Sprintf("c-%d-%s", max+1, randomSuffix(3))
}

// nextTaskID returns <epic>.<max+1> over existing task files of the
// epic. Callers must hold the swarm lock.
func (s *Store) nextTaskID(epicID string) string {
	max := 0
	prefix := epicID + "."
	entries, err := os.ReadDir(paths.TasksDir(s.dir))
	if err == nil {
		for _, e := range entries {
			name := strings.TrimSuffix(e.Name(), ".json")
			if name == e.Name() || !strings.HasPrefix(name, prefix) {
				continue
			}
			if n, err := strconv.Atoi(strings.TrimPrefix(name, prefix)); err == nil && n > max {
				max = n
			}
		}
	}
	return prefix + strconv.Itoa(max+1)
}

const stubSpecMarker = "_No spec written yet._"

func stubSpec(title string) string {
	return fmt.Sprintf("# %s\n\n%s\n", title, stubSpecMarker)
}

// IsStubSpec reports whether spec content is still the generated
// placeholder (or effectively empty).
func IsStubSpec(content string) bool {
	trimmed := strings.TrimSpace(content)
	return trimmed == "" || strings.Contains(content, stubSpecMarker)
}

// ReadSpec returns the spec markdown for an epic or task id.
func (s *Store) ReadSpec(id string) (string, bool) {
	if strings.Contains(id, ".") {
		return fsutil.ReadText(paths.TaskSpecFile(s.dir, id))
	}
	return fsutil.ReadText(paths.SpecFile(s.dir, id))
}

// WriteSpec replaces the spec markdown for an epic or task id.
func (s *Store) WriteSpec(id, content string) error {
	if strings.Contains(id, ".") {
		return fsutil.WriteText(paths.TaskSpecFile(s.dir, id), content)
	}
	return fsutil.WriteText(paths.SpecFile(s.dir, id), content)
}

func writeEpic(dir string, e *Epic) error {
	return fsutil.WriteJSON(paths.EpicFile(dir, e.ID), e)
}

func writeTask(dir string, t *Task) error {
	return fsutil.WriteJSON(paths.TaskFile(dir, t.ID), t)
}

func readJSONInto[T any](path string) (*T, error) {
	var v T
	found, err := fsutil.ReadJSON(path, &v)
	if err != nil || !found {
		return nil, ErrNotFound
	}
	return &v, nil
}

func listJSONDir[T any](dir string) ([]*T, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []*T
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		var v T
		found, err := fsutil.ReadJSON(filepath.Join(dir, e.Name()), &v)
		if err != nil || !found {
			continue
		}
		out = append(out, &v)
	}
	return out, nil
}
