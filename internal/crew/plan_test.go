package crew

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/untoldecay/pi-messenger/internal/feed"
)

func TestParseTaskBlocks(t *testing.T) {
	output := `Here is the breakdown.

### Task: Wire the schema
Depends: none
Create the tables and indexes.
Cover with a migration test.

### Task: Build the API
Depends: Wire the schema
Expose create and list endpoints.

### Task: Ship the CLI
Depends: Wire the schema, Build the API
Add the commands.
`
	blocks := ParseTaskBlocks(output)
	if len(blocks) != 3 {
		t.Fatalf("parsed %d blocks, want 3", len(blocks))
	}
	if blocks[0].Title != "Wire the schema" || len(blocks[0].Depends) != 0 {
		t.Errorf("block 0 = %+v", blocks[0])
	}
	if blocks[0].Body != "Create the tables and indexes.\nCover with a migration test." {
		t.Errorf("block 0 body = %q", blocks[0].Body)
	}
	if !reflect.DeepEqual(blocks[1].Depends, []string{"Wire the schema"}) {
		t.Errorf("block 1 depends = %v", blocks[1].Depends)
	}
	if !reflect.DeepEqual(blocks[2].Depends, []string{"Wire the schema", "Build the API"}) {
		t.Errorf("block 2 depends = %v", blocks[2].Depends)
	}
}

func TestParseTaskBlocksEdgeCases(t *testing.T) {
	if got := ParseTaskBlocks("no tasks here at all"); len(got) != 0 {
		t.Errorf("expected no blocks, got %v", got)
	}
	blocks := ParseTaskBlocks("### Task: Lonely\nJust a body, no depends line.")
	if len(blocks) != 1 || blocks[0].Body != "Just a body, no depends line." {
		t.Errorf("blocks = %+v", blocks)
	}
	if len(blocks[0].Depends) != 0 {
		t.Errorf("depends = %v, want none", blocks[0].Depends)
	}
}

// Canned worker output carrying two task blocks; scouts and the
// analyst all emit it, which is enough for the pipeline.
const cannedPlanScript = `printf '%s\n' '{"type":"assistant","message":"### Task: First step\nDepends: none\nDo the first thing.\n\n### Task: Second step\nDepends: First step\nDo the second thing."}'`

func TestPlanCreatesEpicAndTasks(t *testing.T) {
	s := setupStore(t)
	x := shExecutor(s, cannedPlanScript, ExecutorOptions{Concurrency: 2})
	p := NewPlanner(s, x, 2, "captain")

	res, err := p.Plan(context.Background(), "Add OAuth", true)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if res.Epic.Status != EpicPlanning {
		t.Errorf("epic status = %s, want planning", res.Epic.Status)
	}
	if len(res.Tasks) != 2 {
		t.Fatalf("created %d tasks, want 2", len(res.Tasks))
	}

	epic, _ := s.GetEpic(res.Epic.ID)
	if epic.TaskCount != 2 {
		t.Errorf("task_count = %d, want 2", epic.TaskCount)
	}

	second, _ := s.GetTask(res.Tasks[1].ID)
	if !reflect.DeepEqual(second.DependsOn, []string{res.Tasks[0].ID}) {
		t.Errorf("second task depends_on = %v, want [%s]", second.DependsOn, res.Tasks[0].ID)
	}

	spec, ok := s.ReadSpec(res.Tasks[0].ID)
	if !ok || IsStubSpec(spec) {
		t.Errorf("task spec should carry the analyst body, got %q", spec)
	}

	events, _ := feed.Recent(s.dir, 10)
	var types []string
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	hasStart, hasDone := false, false
	for _, typ := range types {
		if typ == feed.TypePlanStart {
			hasStart = true
		}
		if typ == feed.TypePlanDone {
			hasDone = true
		}
	}
	if !hasStart || !hasDone {
		t.Errorf("feed types = %v, want plan.start and plan.done", types)
	}
}

func TestPlanRequiresScouts(t *testing.T) {
	s := setupStore(t)
	x := shExecutor(s, cannedPlanScript, ExecutorOptions{})
	p := NewPlanner(s, x, 0, "captain")

	if _, err := p.Plan(context.Background(), "anything", false); !errors.Is(err, ErrNoScouts) {
		t.Fatalf("expected no scouts error, got %v", err)
	}
	epics, _ := s.ListEpics()
	if len(epics) != 0 {
		t.Errorf("no epic should be created without scouts, got %d", len(epics))
	}
}

func TestPlanAnalystWithoutTasksFails(t *testing.T) {
	s := setupStore(t)
	script := `printf '%s\n' '{"type":"assistant","message":"just chatter, no blocks"}'`
	x := shExecutor(s, script, ExecutorOptions{})
	p := NewPlanner(s, x, 1, "captain")

	_, err := p.Plan(context.Background(), "vague idea", true)
	if !errors.Is(err, ErrAnalystFailed) {
		t.Fatalf("expected analyst failure, got %v", err)
	}

	events, _ := feed.Recent(s.dir, 10)
	failed := false
	for _, ev := range events {
		if ev.Type == feed.TypePlanFailed {
			failed = true
		}
	}
	if !failed {
		t.Error("expected a plan.failed feed event")
	}
}

func TestPlanScoutsAllFailing(t *testing.T) {
	s := setupStore(t)
	x := shExecutor(s, "exit 1", ExecutorOptions{})
	p := NewPlanner(s, x, 2, "captain")

	_, err := p.Plan(context.Background(), "doomed", false)
	if !errors.Is(err, ErrGeneratorFailed) {
		t.Fatalf("expected generator failure, got %v", err)
	}
}

func TestTitleKey(t *testing.T) {
	if titleKey("  Wire   The Schema ") != titleKey("wire the schema") {
		t.Error("title keys should normalize case and spacing")
	}
}
