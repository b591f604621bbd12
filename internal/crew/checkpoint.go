package crew

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/untoldecay/pi-messenger/internal/fsutil"
	"github.com/untoldecay/pi-messenger/internal/paths"
)

// Checkpoint is a full snapshot of one epic: the epic record, every
// task record, and all spec markdown, in a single JSON file keyed by
// the epic id. Saving again overwrites the previous snapshot.
type Checkpoint struct {
	ID        string            `json:"id"`
	CreatedAt time.Time         `json:"created_at"`
	Epic      *Epic             `json:"epic"`
	Tasks     []*Task           `json:"tasks"`
	EpicSpec  string            `json:"epic_spec"`
	TaskSpecs map[string]string `json:"task_specs"`
}

// SaveCheckpoint snapshots the epic's current state.
func (s *Store) SaveCheckpoint(epicID string) (*Checkpoint, error) {
	epic, err := s.GetEpic(epicID)
	if err != nil {
		return nil, err
	}
	tasks, err := s.ListTasks(epicID)
	if err != nil {
		return nil, err
	}
	cp := &Checkpoint{
		ID:        epicID,
		CreatedAt: time.Now().UTC(),
		Epic:      epic,
		Tasks:     tasks,
		TaskSpecs: make(map[string]string, len(tasks)),
	}
	cp.EpicSpec, _ = s.ReadSpec(epicID)
	for _, t := range tasks {
		if content, ok := s.ReadSpec(t.ID); ok {
			cp.TaskSpecs[t.ID] = content
		}
	}
	if err := paths.EnsureCrew(s.dir); err != nil {
		return nil, err
	}
	if err := fsutil.WriteJSON(paths.CheckpointFile(s.dir, epicID), cp); err != nil {
		return nil, err
	}
	return cp, nil
}

// GetCheckpoint loads the stored snapshot for an epic.
func (s *Store) GetCheckpoint(epicID string) (*Checkpoint, error) {
	return readJSONInto[Checkpoint](paths.CheckpointFile(s.dir, epicID))
}

// RestoreCheckpoint rewrites the epic, its tasks, and all specs from
// the snapshot. Each file is written atomically on its own; a restore
// racing other writers produces a mixed but file-consistent state.
// Tasks created after the snapshot are removed so the restored epic
// matches the snapshot exactly.
func (s *Store) RestoreCheckpoint(epicID string) (*Checkpoint, error) {
	cp, err := s.GetCheckpoint(epicID)
	if err != nil {
		return nil, err
	}
	current, err := s.ListTasks(epicID)
	if err != nil {
		return nil, err
	}
	inSnapshot := make(map[string]bool, len(cp.Tasks))
	for _, t := range cp.Tasks {
		inSnapshot[t.ID] = true
	}
	for _, t := range current {
		if inSnapshot[t.ID] {
			continue
		}
		_ = os.Remove(paths.TaskFile(s.dir, t.ID))
		_ = os.Remove(paths.TaskSpecFile(s.dir, t.ID))
		_ = os.Remove(paths.BlockFile(s.dir, t.ID))
	}
	if err := writeEpic(s.dir, cp.Epic); err != nil {
		return nil, err
	}
	for _, t := range cp.Tasks {
		if err := writeTask(s.dir, t); err != nil {
			return nil, err
		}
	}
	if err := s.WriteSpec(epicID, cp.EpicSpec); err != nil {
		return nil, err
	}
	for id, content := range cp.TaskSpecs {
		if err := s.WriteSpec(id, content); err != nil {
			return nil, err
		}
	}
	return cp, nil
}

// DeleteCheckpoint removes the stored snapshot for an epic.
func (s *Store) DeleteCheckpoint(epicID string) error {
	err := os.Remove(paths.CheckpointFile(s.dir, epicID))
	if os.IsNotExist(err) {
		return ErrNotFound
	}
	return err
}

// ListCheckpoints returns all stored snapshots, newest first.
func (s *Store) ListCheckpoints() ([]*Checkpoint, error) {
	entries, err := os.ReadDir(paths.CheckpointsDir(s.dir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []*Checkpoint
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		var cp Checkpoint
		found, err := fsutil.ReadJSON(filepath.Join(paths.CheckpointsDir(s.dir), e.Name()), &cp)
		if err != nil || !found {
			continue
		}
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}
