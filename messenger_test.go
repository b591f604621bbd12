package messenger_test

import (
	"context"
	"os"
	"testing"

	messenger "github.com/untoldecay/pi-messenger"
)

func TestJoinAndFind(t *testing.T) {
	t.Setenv("PI_MESSENGER_DIR", t.TempDir())

	sess, err := messenger.Join(messenger.JoinOptions{
		Name: "pelican",
		Cwd:  t.TempDir(),
	})
	if err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	defer sess.Leave(context.Background())

	rec, found, err := messenger.FindAgent("pelican")
	if err != nil {
		t.Fatalf("FindAgent failed: %v", err)
	}
	if !found {
		t.Fatal("expected pelican to be registered")
	}
	if rec.Name != "pelican" {
		t.Errorf("Name = %q, want %q", rec.Name, "pelican")
	}
}

func TestDispatcherStatus(t *testing.T) {
	t.Setenv("PI_MESSENGER_DIR", t.TempDir())
	t.Setenv(messenger.EnvAgentName, "")

	req, err := messenger.ParseRequest([]byte(`{"action":"status"}`))
	if err != nil {
		t.Fatalf("ParseRequest failed: %v", err)
	}

	d := messenger.NewDispatcher(messenger.DispatchOptions{Version: "test"})
	res := d.Dispatch(context.Background(), req)
	if res.Text == "" {
		t.Error("expected non-empty status text")
	}
	if res.Details["mode"] != "status" {
		t.Errorf("mode = %v, want %q", res.Details["mode"], "status")
	}
}

func TestSendMessage(t *testing.T) {
	t.Setenv("PI_MESSENGER_DIR", t.TempDir())
	projectDir := t.TempDir()

	sess, err := messenger.Join(messenger.JoinOptions{Name: "crane", Cwd: projectDir})
	if err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	defer sess.Leave(context.Background())

	msg, err := messenger.SendMessage(projectDir, "heron", "crane", "ping", nil)
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if msg.From != "heron" || msg.To != "crane" {
		t.Errorf("message routed %s -> %s, want heron -> crane", msg.From, msg.To)
	}
}

func TestClaimLifecycle(t *testing.T) {
	t.Setenv("PI_MESSENGER_DIR", t.TempDir())
	ctx := context.Background()

	_, err := messenger.ClaimTask(ctx, messenger.ClaimRequest{
		Spec:   "docs/plan.md",
		TaskID: "task-1",
		Agent:  "crane",
		PID:    os.Getpid(),
	})
	if err != nil {
		t.Fatalf("ClaimTask failed: %v", err)
	}

	claims, err := messenger.Claims()
	if err != nil {
		t.Fatalf("Claims failed: %v", err)
	}
	if _, ok := claims["docs/plan.md"]["task-1"]; !ok {
		t.Fatal("expected task-1 claim under docs/plan.md")
	}

	if _, err := messenger.CompleteTask(ctx, "docs/plan.md", "task-1", "crane", "done"); err != nil {
		t.Fatalf("CompleteTask failed: %v", err)
	}
	completions, err := messenger.Completions()
	if err != nil {
		t.Fatalf("Completions failed: %v", err)
	}
	if completions["docs/plan.md"]["task-1"].CompletedBy != "crane" {
		t.Error("expected completion recorded for crane")
	}
}

// Test that exported constants have correct values
func TestConstants(t *testing.T) {
	// Tier constants
	if messenger.TierActive != "active" {
		t.Errorf("TierActive = %q, want %q", messenger.TierActive, "active")
	}
	if messenger.TierStuck != "stuck" {
		t.Errorf("TierStuck = %q, want %q", messenger.TierStuck, "stuck")
	}

	// EpicStatus constants
	if messenger.EpicPlanning != "planning" {
		t.Errorf("EpicPlanning = %q, want %q", messenger.EpicPlanning, "planning")
	}
	if messenger.EpicCompleted != "completed" {
		t.Errorf("EpicCompleted = %q, want %q", messenger.EpicCompleted, "completed")
	}

	// TaskStatus constants
	if messenger.TaskTodo != "todo" {
		t.Errorf("TaskTodo = %q, want %q", messenger.TaskTodo, "todo")
	}
	if messenger.TaskInProgress != "in_progress" {
		t.Errorf("TaskInProgress = %q, want %q", messenger.TaskInProgress, "in_progress")
	}
	if messenger.TaskDone != "done" {
		t.Errorf("TaskDone = %q, want %q", messenger.TaskDone, "done")
	}
}
