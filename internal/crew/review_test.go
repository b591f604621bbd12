package crew

import (
	"context"
	"strings"
	"testing"

	"github.com/untoldecay/pi-messenger/internal/feed"
)

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		name    string
		output  string
		verdict Verdict
		reasons string
	}{
		{"ship bare", "VERDICT: SHIP", VerdictShip, ""},
		{"ship with trailing text", "All good.\nVERDICT: SHIP\n", VerdictShip, ""},
		{"needs work with reasons", "VERDICT: NEEDS_WORK: missing tests\nand no error handling", VerdictNeedsWork, "missing tests\nand no error handling"},
		{"major rethink", "VERDICT: MAJOR_RETHINK: wrong layer", VerdictMajorRethink, "wrong layer"},
		{"first tag wins", "MAJOR_RETHINK was considered but VERDICT: SHIP", VerdictMajorRethink, "was considered but VERDICT: SHIP"},
		{"no tag", "just prose with no decision", VerdictNeedsWork, "no verdict tag in reviewer output"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict, reasons := ParseVerdict(tt.output)
			if verdict != tt.verdict {
				t.Errorf("verdict = %s, want %s", verdict, tt.verdict)
			}
			if reasons != tt.reasons {
				t.Errorf("reasons = %q, want %q", reasons, tt.reasons)
			}
		})
	}
}

func TestParseVerdictCapsReasonLines(t *testing.T) {
	var lines []string
	for i := 0; i < 14; i++ {
		lines = append(lines, "reason line")
	}
	_, reasons := ParseVerdict("VERDICT: NEEDS_WORK: " + strings.Join(lines, "\n"))
	if got := strings.Count(reasons, "\n") + 1; got != 10 {
		t.Errorf("kept %d reason lines, want 10", got)
	}
}

func TestReviewerRecordsVerdict(t *testing.T) {
	s := setupStore(t)
	epic := mustEpic(t, s, "Reviewed plan")
	t1 := mustTask(t, s, epic.ID, "one")
	mustTask(t, s, epic.ID, "two", t1.ID)

	script := `printf '%s\n' '{"type":"result","message":"VERDICT: SHIP: solid plan"}'`
	x := shExecutor(s, script, ExecutorOptions{})
	r := NewReviewer(s, x, "captain")

	res, err := r.Review(context.Background(), epic.ID, "")
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	if res.Type != ReviewPlan {
		t.Errorf("type = %q, want plan by default", res.Type)
	}
	if res.Verdict != VerdictShip || res.Reasons != "solid plan" {
		t.Errorf("verdict = %s reasons = %q", res.Verdict, res.Reasons)
	}

	events, _ := feed.Recent(s.dir, 10)
	found := false
	for _, ev := range events {
		if ev.Type == "review" && strings.Contains(ev.Preview, "plan: SHIP") {
			found = true
		}
	}
	if !found {
		t.Error("expected a review feed event with the verdict")
	}
}

func TestReviewerImplType(t *testing.T) {
	s := setupStore(t)
	epic := mustEpic(t, s, "Impl review")
	task := mustTask(t, s, epic.ID, "only task")
	mustDone(t, s, task.ID)

	script := `printf '%s\n' '{"type":"result","message":"VERDICT: NEEDS_WORK: gaps remain"}'`
	x := shExecutor(s, script, ExecutorOptions{})
	r := NewReviewer(s, x, "captain")

	res, err := r.Review(context.Background(), epic.ID, ReviewImpl)
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	if res.Type != ReviewImpl || res.Verdict != VerdictNeedsWork {
		t.Errorf("type = %q verdict = %s", res.Type, res.Verdict)
	}
}

func TestReviewerUnknownEpic(t *testing.T) {
	s := setupStore(t)
	x := shExecutor(s, "exit 0", ExecutorOptions{})
	r := NewReviewer(s, x, "captain")
	if _, err := r.Review(context.Background(), "c-404-xyz", ""); err == nil {
		t.Fatal("expected an error for an unknown epic")
	}
}
