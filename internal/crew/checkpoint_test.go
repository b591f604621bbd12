package crew

import (
	"errors"
	"testing"
)

func TestCheckpointRestoreRoundTrip(t *testing.T) {
	s := setupStore(t)
	epic := mustEpic(t, s, "Snapshot me")
	t1 := mustTask(t, s, epic.ID, "one")
	t2 := mustTask(t, s, epic.ID, "two")
	t3 := mustTask(t, s, epic.ID, "three", t1.ID)
	if err := s.WriteSpec(t1.ID, "# one\n\nSpec body one.\n"); err != nil {
		t.Fatalf("WriteSpec: %v", err)
	}

	if _, err := s.SaveCheckpoint(epic.ID); err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}

	mustDone(t, s, t1.ID)
	mustDone(t, s, t2.ID)
	extra := mustTask(t, s, epic.ID, "post-snapshot task")
	if err := s.WriteSpec(t1.ID, "# one\n\nOverwritten after snapshot.\n"); err != nil {
		t.Fatalf("WriteSpec: %v", err)
	}

	if _, err := s.RestoreCheckpoint(epic.ID); err != nil {
		t.Fatalf("RestoreCheckpoint: %v", err)
	}

	restored, _ := s.GetEpic(epic.ID)
	if restored.CompletedCount != 0 || restored.TaskCount != 3 {
		t.Errorf("restored counts = %d/%d, want 0/3", restored.CompletedCount, restored.TaskCount)
	}
	if restored.Status != EpicPlanning {
		t.Errorf("restored status = %s, want planning", restored.Status)
	}
	for _, id := range []string{t1.ID, t2.ID, t3.ID} {
		task, err := s.GetTask(id)
		if err != nil {
			t.Fatalf("GetTask %s after restore: %v", id, err)
		}
		if task.Status != TaskTodo || task.CompletedAt != nil {
			t.Errorf("%s not restored to todo: %+v", id, task)
		}
	}
	if _, err := s.GetTask(extra.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("post-snapshot task should be removed, got %v", err)
	}
	if spec, _ := s.ReadSpec(t1.ID); spec != "# one\n\nSpec body one.\n" {
		t.Errorf("spec not restored byte-identical: %q", spec)
	}
}

func TestCheckpointSaveIsIdempotent(t *testing.T) {
	s := setupStore(t)
	epic := mustEpic(t, s, "Saved twice")
	mustTask(t, s, epic.ID, "task")

	first, err := s.SaveCheckpoint(epic.ID)
	if err != nil {
		t.Fatalf("first save: %v", err)
	}
	second, err := s.SaveCheckpoint(epic.ID)
	if err != nil {
		t.Fatalf("second save: %v", err)
	}
	if second.CreatedAt.Before(first.CreatedAt) {
		t.Error("second save should be newer")
	}

	list, err := s.ListCheckpoints()
	if err != nil {
		t.Fatalf("ListCheckpoints: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected one checkpoint after double save, got %d", len(list))
	}
}

func TestCheckpointDeleteAndList(t *testing.T) {
	s := setupStore(t)
	e1 := mustEpic(t, s, "Alpha")
	e2 := mustEpic(t, s, "Beta")
	mustTask(t, s, e1.ID, "a")
	mustTask(t, s, e2.ID, "b")

	if _, err := s.SaveCheckpoint(e1.ID); err != nil {
		t.Fatalf("save e1: %v", err)
	}
	if _, err := s.SaveCheckpoint(e2.ID); err != nil {
		t.Fatalf("save e2: %v", err)
	}

	list, _ := s.ListCheckpoints()
	if len(list) != 2 {
		t.Fatalf("expected 2 checkpoints, got %d", len(list))
	}

	if err := s.DeleteCheckpoint(e1.ID); err != nil {
		t.Fatalf("DeleteCheckpoint: %v", err)
	}
	list, _ = s.ListCheckpoints()
	if len(list) != 1 || list[0].ID != e2.ID {
		t.Fatalf("after delete, list = %+v", list)
	}
	if err := s.DeleteCheckpoint(e1.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("double delete should be not found, got %v", err)
	}
}

func TestRestoreMissingCheckpoint(t *testing.T) {
	s := setupStore(t)
	epic := mustEpic(t, s, "No snapshot")
	if _, err := s.RestoreCheckpoint(epic.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}
