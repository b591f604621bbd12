package crew

import (
	"context"
	"strings"
	"testing"
)

const cannedWorkScript = `printf '%s\n' '{"type":"result","message":"did the work"}'`

func TestWorkSingleWave(t *testing.T) {
	s := setupStore(t)
	epic := mustEpic(t, s, "Single wave epic")
	t1 := mustTask(t, s, epic.ID, "one")
	t2 := mustTask(t, s, epic.ID, "two")

	x := shExecutor(s, cannedWorkScript, ExecutorOptions{Concurrency: 2})
	w := NewWorker(s, x, "captain")

	report, err := w.Work(context.Background(), epic.ID, WorkOptions{})
	if err != nil {
		t.Fatalf("Work: %v", err)
	}
	if report.Waves != 1 || report.Stopped != "single wave" {
		t.Errorf("waves=%d stopped=%q, want 1 wave / single wave", report.Waves, report.Stopped)
	}
	if len(report.Completed) != 2 {
		t.Fatalf("completed = %v, want both tasks", report.Completed)
	}

	for _, id := range []string{t1.ID, t2.ID} {
		task, _ := s.GetTask(id)
		if task.Status != TaskDone {
			t.Errorf("%s status = %s, want done", id, task.Status)
		}
		if task.Summary != "did the work" {
			t.Errorf("%s summary = %q", id, task.Summary)
		}
	}
	got, _ := s.GetEpic(epic.ID)
	if got.Status != EpicCompleted {
		t.Errorf("epic status = %s, want completed", got.Status)
	}
}

func TestWorkAutonomousRunsWavesUntilDone(t *testing.T) {
	s := setupStore(t)
	epic := mustEpic(t, s, "Chained epic")
	t1 := mustTask(t, s, epic.ID, "first")
	t2 := mustTask(t, s, epic.ID, "second", t1.ID)

	x := shExecutor(s, cannedWorkScript, ExecutorOptions{Concurrency: 2})
	w := NewWorker(s, x, "captain")

	report, err := w.Work(context.Background(), epic.ID, WorkOptions{Autonomous: true})
	if err != nil {
		t.Fatalf("Work: %v", err)
	}
	if report.Waves != 2 {
		t.Errorf("waves = %d, want 2 (dependency forces a second wave)", report.Waves)
	}
	if report.Stopped != "all tasks done" {
		t.Errorf("stopped = %q", report.Stopped)
	}
	if len(report.Completed) != 2 || report.Completed[0] != t1.ID || report.Completed[1] != t2.ID {
		t.Errorf("completed = %v, want [%s %s]", report.Completed, t1.ID, t2.ID)
	}
}

func TestWorkAutoBlocksAfterMaxAttempts(t *testing.T) {
	s := setupStore(t)
	epic := mustEpic(t, s, "Doomed epic")
	task := mustTask(t, s, epic.ID, "never works")

	x := shExecutor(s, "exit 1", ExecutorOptions{})
	w := NewWorker(s, x, "captain")

	report, err := w.Work(context.Background(), epic.ID, WorkOptions{Autonomous: true, MaxAttempts: 2})
	if err != nil {
		t.Fatalf("Work: %v", err)
	}
	if len(report.Retried) != 1 || len(report.Blocked) != 1 {
		t.Fatalf("retried=%v blocked=%v, want one retry then a block", report.Retried, report.Blocked)
	}
	if report.Stopped != "remaining tasks blocked" {
		t.Errorf("stopped = %q", report.Stopped)
	}

	got, _ := s.GetTask(task.ID)
	if got.Status != TaskBlocked {
		t.Fatalf("task status = %s, want blocked", got.Status)
	}
	if got.AttemptCount != 2 {
		t.Errorf("attempt_count = %d, want 2", got.AttemptCount)
	}
	reason, ok := s.BlockContext(task.ID)
	if !ok || !strings.Contains(reason, "auto-blocked after 2 attempts") {
		t.Errorf("block context = %q", reason)
	}
}

func TestWorkReviewVerdictsSettleTasks(t *testing.T) {
	// Workers succeed; the reviewer branch of the script decides the
	// verdict per task id.
	script := `case "$PI_AGENT_NAME" in ` +
		`reviewer-*.1) printf '%s\n' 'Looks solid. VERDICT: SHIP';; ` +
		`reviewer-*.2) printf '%s\n' 'VERDICT: MAJOR_RETHINK: wrong layer entirely';; ` +
		`*) printf '%s\n' '{"type":"result","message":"built it"}';; esac`

	s := setupStore(t)
	epic := mustEpic(t, s, "Reviewed epic")
	shipped := mustTask(t, s, epic.ID, "good change")
	rethink := mustTask(t, s, epic.ID, "bad change")

	x := shExecutor(s, script, ExecutorOptions{Concurrency: 2})
	w := NewWorker(s, x, "captain")

	report, err := w.Work(context.Background(), epic.ID, WorkOptions{Review: true})
	if err != nil {
		t.Fatalf("Work: %v", err)
	}
	if len(report.Completed) != 1 || report.Completed[0] != shipped.ID {
		t.Errorf("completed = %v, want [%s]", report.Completed, shipped.ID)
	}
	if len(report.Blocked) != 1 || report.Blocked[0] != rethink.ID {
		t.Errorf("blocked = %v, want [%s]", report.Blocked, rethink.ID)
	}

	blocked, _ := s.GetTask(rethink.ID)
	if blocked.Status != TaskBlocked {
		t.Errorf("rethink task status = %s, want blocked", blocked.Status)
	}
	reason, _ := s.BlockContext(rethink.ID)
	if !strings.Contains(reason, "major rethink") {
		t.Errorf("block context = %q, want the review verdict", reason)
	}
}

func TestWorkUnknownEpic(t *testing.T) {
	s := setupStore(t)
	x := shExecutor(s, cannedWorkScript, ExecutorOptions{})
	w := NewWorker(s, x, "captain")
	if _, err := w.Work(context.Background(), "c-404-xyz", WorkOptions{}); err == nil {
		t.Fatal("expected an error for an unknown epic")
	}
}

func TestSummarize(t *testing.T) {
	if got := summarize(""); got != "completed" {
		t.Errorf("empty output summary = %q", got)
	}
	if got := summarize("short and sweet\n"); got != "short and sweet" {
		t.Errorf("short summary = %q", got)
	}
	// The tail is kept and the partial leading line dropped.
	long := strings.Repeat("b", 200) + "\n" + strings.Repeat("a", 400)
	got := summarize(long)
	if got != strings.Repeat("a", 400) {
		t.Errorf("summary = %q, want the 400 trailing a's", got)
	}
}
