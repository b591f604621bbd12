package crew

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/untoldecay/pi-messenger/internal/paths"
)

// IncompleteTasksError carries the tasks still standing in the way of
// an epic close.
type IncompleteTasksError struct {
	EpicID    string
	Remaining []string
}

func (e *IncompleteTasksError) Error() string {
	return fmt.Sprintf("%s has %d incomplete tasks", e.EpicID, len(e.Remaining))
}

func (e *IncompleteTasksError) Unwrap() error { return ErrIncompleteTasks }

// CreateEpic allocates a new epic id under the swarm lock and writes
// the epic record plus a stub spec file. New epics start in planning.
func (s *Store) CreateEpic(ctx context.Context, title string) (*Epic, error) {
	if err := paths.EnsureCrew(s.dir); err != nil {
		return nil, err
	}
	var epic *Epic
	err := s.lock().With(ctx, func() error {
		now := time.Now().UTC()
		epic = &Epic{
			ID:        s.nextEpicID(),
			Title:     title,
			Status:    EpicPlanning,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := writeEpic(s.dir, epic); err != nil {
			return err
		}
		return s.WriteSpec(epic.ID, stubSpec(title))
	})
	if err != nil {
		return nil, err
	}
	return epic, nil
}

// GetEpic loads one epic record.
func (s *Store) GetEpic(id string) (*Epic, error) {
	return readJSONInto[Epic](paths.EpicFile(s.dir, id))
}

// ListEpics returns all epic records, newest first.
func (s *Store) ListEpics() ([]*Epic, error) {
	epics, err := listJSONDir[Epic](paths.EpicsDir(s.dir))
	if err != nil {
		return nil, err
	}
	sort.Slice(epics, func(i, j int) bool {
		return epics[i].CreatedAt.After(epics[j].CreatedAt)
	})
	return epics, nil
}

// UpdateEpic applies mutate to the stored record and rewrites it with
// a fresh updated_at.
func (s *Store) UpdateEpic(id string, mutate func(*Epic)) (*Epic, error) {
	epic, err := s.GetEpic(id)
	if err != nil {
		return nil, err
	}
	mutate(epic)
	epic.UpdatedAt = time.Now().UTC()
	if err := writeEpic(s.dir, epic); err != nil {
		return nil, err
	}
	return epic, nil
}

// CloseEpic marks an epic completed. Every task of the epic must
// already be done; otherwise an IncompleteTasksError lists the rest.
func (s *Store) CloseEpic(id string) (*Epic, error) {
	if _, err := s.GetEpic(id); err != nil {
		return nil, err
	}
	tasks, err := s.ListTasks(id)
	if err != nil {
		return nil, err
	}
	var remaining []string
	for _, t := range tasks {
		if t.Status != TaskDone {
			remaining = append(remaining, t.ID)
		}
	}
	if len(remaining) > 0 {
		return nil, &IncompleteTasksError{EpicID: id, Remaining: remaining}
	}
	return s.UpdateEpic(id, func(e *Epic) {
		now := time.Now().UTC()
		e.Status = EpicCompleted
		e.ClosedAt = &now
	})
}

// refreshEpicCounts recomputes task_count and completed_count from the
// task files. When derive is set the status is forced to completed or
// active from those counts; otherwise only epics already in the
// active/completed pair are adjusted, so planning epics stay planning.
func (s *Store) refreshEpicCounts(id string, derive bool) (*Epic, error) {
	tasks, err := s.ListTasks(id)
	if err != nil {
		return nil, err
	}
	done := 0
	for _, t := range tasks {
		if t.Status == TaskDone {
			done++
		}
	}
	return s.UpdateEpic(id, func(e *Epic) {
		e.TaskCount = len(tasks)
		e.CompletedCount = done
		if !derive && e.Status != EpicCompleted && e.Status != EpicActive {
			return
		}
		if len(tasks) > 0 && done == len(tasks) {
			e.Status = EpicCompleted
			if e.ClosedAt == nil {
				now := time.Now().UTC()
				e.ClosedAt = &now
			}
		} else {
			e.Status = EpicActive
			e.ClosedAt = nil
		}
	})
}
