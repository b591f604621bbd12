package crew

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/untoldecay/pi-messenger/internal/fsutil"
	"github.com/untoldecay/pi-messenger/internal/gitutil"
	"github.com/untoldecay/pi-messenger/internal/paths"
)

// OrphanDependencyError names the depends_on entries that resolve to
// no task in the epic.
type OrphanDependencyError struct {
	TaskID  string
	Missing []string
}

func (e *OrphanDependencyError) Error() string {
	return fmt.Sprintf("%s depends on unknown tasks: %s", e.TaskID, strings.Join(e.Missing, ", "))
}

func (e *OrphanDependencyError) Unwrap() error { return ErrOrphanDependency }

// CreateTask allocates a task id under the swarm lock, writes the task
// record and a stub spec, and bumps the epic's task_count. Dependencies
// must name existing tasks of the same epic.
func (s *Store) CreateTask(ctx context.Context, epicID, title, description string, dependsOn []string) (*Task, error) {
	if err := paths.EnsureCrew(s.dir); err != nil {
		return nil, err
	}
	var task *Task
	err := s.lock().With(ctx, func() error {
		epic, err := s.GetEpic(epicID)
		if err != nil {
			return err
		}
		existing, err := s.ListTasks(epicID)
		if err != nil {
			return err
		}
		known := make(map[string]bool, len(existing))
		for _, t := range existing {
			known[t.ID] = true
		}
		var missing []string
		for _, dep := range dependsOn {
			if !known[dep] {
				missing = append(missing, dep)
			}
		}
		now := time.Now().UTC()
		task = &Task{
			ID:          s.nextTaskID(epicID),
			EpicID:      epicID,
			Title:       title,
			Description: description,
			Status:      TaskTodo,
			DependsOn:   dependsOn,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if len(missing) > 0 {
			return &OrphanDependencyError{TaskID: task.ID, Missing: missing}
		}
		if err := writeTask(s.dir, task); err != nil {
			return err
		}
		if err := s.WriteSpec(task.ID, stubSpec(title)); err != nil {
			return err
		}
		epic.TaskCount++
		epic.UpdatedAt = now
		return writeEpic(s.dir, epic)
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// GetTask loads one task record.
func (s *Store) GetTask(id string) (*Task, error) {
	return readJSONInto[Task](paths.TaskFile(s.dir, id))
}

// ListTasks returns the tasks of an epic ordered by their numeric
// sequence. An empty epicID returns every task.
func (s *Store) ListTasks(epicID string) ([]*Task, error) {
	tasks, err := listJSONDir[Task](paths.TasksDir(s.dir))
	if err != nil {
		return nil, err
	}
	if epicID != "" {
		filtered := tasks[:0]
		for _, t := range tasks {
			if t.EpicID == epicID {
				filtered = append(filtered, t)
			}
		}
		tasks = filtered
	}
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].EpicID != tasks[j].EpicID {
			return tasks[i].EpicID < tasks[j].EpicID
		}
		return taskSeq(tasks[i].ID) < taskSeq(tasks[j].ID)
	})
	return tasks, nil
}

func taskSeq(id string) int {
	if i := strings.LastIndex(id, "."); i >= 0 {
		if n, err := strconv.Atoi(id[i+1:]); err == nil {
			return n
		}
	}
	return 0
}

func (s *Store) updateTask(id string, mutate func(*Task) error) (*Task, error) {
	task, err := s.GetTask(id)
	if err != nil {
		return nil, err
	}
	if err := mutate(task); err != nil {
		return nil, err
	}
	task.UpdatedAt = time.Now().UTC()
	if err := writeTask(s.dir, task); err != nil {
		return nil, err
	}
	return task, nil
}

// StartTask moves a todo task to in_progress, recording the starting
// agent, the start time, and the current git HEAD as base_commit.
func (s *Store) StartTask(id, agent string) (*Task, error) {
	return s.updateTask(id, func(t *Task) error {
		if t.Status != TaskTodo {
			return &StatusError{ID: id, Have: string(t.Status), Want: string(TaskTodo)}
		}
		now := time.Now().UTC()
		t.Status = TaskInProgress
		t.StartedAt = &now
		t.AssignedTo = agent
		t.AttemptCount++
		t.BaseCommit = gitutil.Head(s.dir)
		return nil
	})
}

// CompleteTask moves an in_progress task to done and refreshes the
// epic's counts and status.
func (s *Store) CompleteTask(id, summary string, evidence *Evidence) (*Task, error) {
	task, err := s.updateTask(id, func(t *Task) error {
		if t.Status != TaskInProgress {
			return &StatusError{ID: id, Have: string(t.Status), Want: string(TaskInProgress)}
		}
		now := time.Now().UTC()
		t.Status = TaskDone
		t.CompletedAt = &now
		t.AssignedTo = ""
		t.Summary = summary
		t.Evidence = evidence
		return nil
	})
	if err != nil {
		return nil, err
	}
	if _, err := s.refreshEpicCounts(task.EpicID, true); err != nil {
		return nil, err
	}
	return task, nil
}

// BlockTask writes the reason into a block context file and moves the
// task to blocked. Valid from any non-done state.
func (s *Store) BlockTask(id, reason string) (*Task, error) {
	return s.updateTask(id, func(t *Task) error {
		if t.Status == TaskDone {
			return &StatusError{ID: id, Have: string(t.Status), Want: "todo or in_progress"}
		}
		content := fmt.Sprintf("# Blocked: %s\n\n%s\n\n_%s_\n", id, reason, time.Now().UTC().Format(time.RFC3339))
		if err := writeBlockFile(s.dir, id, content); err != nil {
			return err
		}
		t.Status = TaskBlocked
		t.BlockedReason = reason
		t.AssignedTo = ""
		return nil
	})
}

// UnblockTask removes the block file and returns the task to todo.
func (s *Store) UnblockTask(id string) (*Task, error) {
	return s.updateTask(id, func(t *Task) error {
		if t.Status != TaskBlocked {
			return &StatusError{ID: id, Have: string(t.Status), Want: string(TaskBlocked)}
		}
		_ = os.Remove(paths.BlockFile(s.dir, id))
		t.Status = TaskTodo
		t.BlockedReason = ""
		return nil
	})
}

// ResetTask clears all execution state and returns the task to todo.
// With cascade, every task that transitively depends on it and is no
// longer todo is reset too. Epic counts are recomputed afterwards.
func (s *Store) ResetTask(id string, cascade bool) ([]*Task, error) {
	first, err := s.resetOne(id)
	if err != nil {
		return nil, err
	}
	reset := []*Task{first}
	if cascade {
		tasks, err := s.ListTasks(first.EpicID)
		if err != nil {
			return nil, err
		}
		for _, dep := range dependentsOf(tasks, id) {
			if dep.Status == TaskTodo {
				continue
			}
			t, err := s.resetOne(dep.ID)
			if err != nil {
				return nil, err
			}
			reset = append(reset, t)
		}
	}
	if _, err := s.refreshEpicCounts(first.EpicID, false); err != nil {
		return nil, err
	}
	return reset, nil
}

func (s *Store) resetOne(id string) (*Task, error) {
	return s.updateTask(id, func(t *Task) error {
		_ = os.Remove(paths.BlockFile(s.dir, id))
		t.Status = TaskTodo
		t.StartedAt = nil
		t.CompletedAt = nil
		t.BaseCommit = ""
		t.AssignedTo = ""
		t.Summary = ""
		t.Evidence = nil
		t.BlockedReason = ""
		return nil
	})
}

// dependentsOf returns tasks whose dependency chain reaches id,
// breadth-first from the direct dependents.
func dependentsOf(tasks []*Task, id string) []*Task {
	var out []*Task
	seen := map[string]bool{id: true}
	frontier := []string{id}
	for len(frontier) > 0 {
		next := frontier[:0:0]
		for _, t := range tasks {
			if seen[t.ID] {
				continue
			}
			for _, dep := range t.DependsOn {
				if seen[dep] {
					seen[t.ID] = true
					out = append(out, t)
					next = append(next, t.ID)
					break
				}
			}
		}
		frontier = next
	}
	return out
}

func writeBlockFile(dir, id, content string) error {
	if err := os.MkdirAll(paths.BlocksDir(dir), 0o755); err != nil {
		return err
	}
	return fsutil.WriteText(paths.BlockFile(dir, id), content)
}

// BlockContext returns the block file contents for a task, if any.
func (s *Store) BlockContext(id string) (string, bool) {
	return fsutil.ReadText(paths.BlockFile(s.dir, id))
}
