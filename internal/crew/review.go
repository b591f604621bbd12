package crew

import (
	"context"
	"fmt"
	"strings"

	"github.com/untoldecay/pi-messenger/internal/feed"
)

// Verdict is a reviewer's judgment of a unit of work.
type Verdict string

const (
	VerdictShip         Verdict = "SHIP"
	VerdictNeedsWork    Verdict = "NEEDS_WORK"
	VerdictMajorRethink Verdict = "MAJOR_RETHINK"
)

// Review types accepted by the review pipeline.
const (
	ReviewPlan = "plan"
	ReviewImpl = "impl"
)

// ParseVerdict scans reviewer output for a verdict tag. The first tag
// found wins; output with no tag counts as NEEDS_WORK since an absent
// verdict cannot justify shipping. The returned reasons are the text
// after the tag.
func ParseVerdict(output string) (Verdict, string) {
	var first Verdict
	firstIdx := -1
	for _, v := range []Verdict{VerdictShip, VerdictNeedsWork, VerdictMajorRethink} {
		if i := strings.Index(output, string(v)); i >= 0 && (firstIdx < 0 || i < firstIdx) {
			first, firstIdx = v, i
		}
	}
	if firstIdx < 0 {
		return VerdictNeedsWork, "no verdict tag in reviewer output"
	}
	reasons := strings.TrimSpace(output[firstIdx+len(first):])
	reasons = strings.TrimPrefix(reasons, ":")
	return first, strings.TrimSpace(firstLines(reasons, 10))
}

func firstLines(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[:n]
	}
	return strings.Join(lines, "\n")
}

// ReviewResult is the recorded outcome of a review run.
type ReviewResult struct {
	EpicID  string  `json:"epic_id"`
	Type    string  `json:"type"`
	Verdict Verdict `json:"verdict"`
	Reasons string  `json:"reasons,omitempty"`
	Output  string  `json:"-"`
}

// Reviewer runs the reviewer role over an epic's plan or its
// implementation so far.
type Reviewer struct {
	store *Store
	exec  *Executor
	agent string
}

// NewReviewer wires a reviewer. agent names the invoking agent in feed
// events.
func NewReviewer(store *Store, exec *Executor, agent string) *Reviewer {
	return &Reviewer{store: store, exec: exec, agent: agent}
}

// Review runs one review of the given type and records the verdict in
// the feed; the full reviewer output lands in the run artifacts.
func (r *Reviewer) Review(ctx context.Context, epicID, typ string) (*ReviewResult, error) {
	role, err := r.store.LoadAgent(RoleReviewer)
	if err != nil {
		return nil, err
	}
	epic, err := r.store.GetEpic(epicID)
	if err != nil {
		return nil, err
	}
	tasks, err := r.store.ListTasks(epicID)
	if err != nil {
		return nil, err
	}

	var prompt string
	switch typ {
	case ReviewImpl:
		prompt = implReviewPrompt(r.store, epic, tasks)
	default:
		typ = ReviewPlan
		prompt = planReviewPrompt(r.store, epic, tasks)
	}

	results := r.exec.Run(ctx, []*AgentTask{{
		ID:        fmt.Sprintf("%s-review-%s", epicID, typ),
		Role:      role,
		AgentName: "reviewer",
		Prompt:    prompt,
	}})
	res := results[0]
	if res.Failed() {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("review run failed: %w", res.Err)
	}

	verdict, reasons := ParseVerdict(res.Output)
	out := &ReviewResult{EpicID: epicID, Type: typ, Verdict: verdict, Reasons: reasons, Output: res.Output}
	feed.Record(r.store.dir, feed.Event{
		Agent:   r.agent,
		Type:    "review",
		Target:  epicID,
		Preview: fmt.Sprintf("%s: %s", typ, verdict),
	})
	return out, nil
}

func planReviewPrompt(s *Store, epic *Epic, tasks []*Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Review this plan before execution.\n\nEpic %s: %s\n", epic.ID, epic.Title)
	if spec, ok := s.ReadSpec(epic.ID); ok && !IsStubSpec(spec) {
		fmt.Fprintf(&b, "\nEpic spec:\n%s\n", spec)
	}
	b.WriteString("\nTasks:\n")
	for _, t := range tasks {
		fmt.Fprintf(&b, "\n- %s: %s", t.ID, t.Title)
		if len(t.DependsOn) > 0 {
			fmt.Fprintf(&b, " (depends on %s)", strings.Join(t.DependsOn, ", "))
		}
		if spec, ok := s.ReadSpec(t.ID); ok && !IsStubSpec(spec) {
			fmt.Fprintf(&b, "\n%s\n", indent(spec, "  "))
		}
	}
	b.WriteString("\nJudge coverage, ordering, and task sizing.\n")
	return b.String()
}

func implReviewPrompt(s *Store, epic *Epic, tasks []*Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Review the implementation of epic %s: %s\n", epic.ID, epic.Title)
	fmt.Fprintf(&b, "Progress: %d/%d tasks done.\n\nCompleted tasks:\n", epic.CompletedCount, epic.TaskCount)
	for _, t := range tasks {
		if t.Status != TaskDone {
			continue
		}
		fmt.Fprintf(&b, "\n- %s: %s\n", t.ID, t.Title)
		if t.Summary != "" {
			fmt.Fprintf(&b, "%s\n", indent(t.Summary, "  "))
		}
		if t.Evidence != nil {
			if len(t.Evidence.Commits) > 0 {
				fmt.Fprintf(&b, "  commits: %s\n", strings.Join(t.Evidence.Commits, ", "))
			}
			if len(t.Evidence.Tests) > 0 {
				fmt.Fprintf(&b, "  tests: %s\n", strings.Join(t.Evidence.Tests, ", "))
			}
		}
	}
	b.WriteString("\nVerify the work matches the specs and call out gaps.\n")
	return b.String()
}

// reviewPrompt frames the review of a single task's worker output,
// used by the autonomous work loop.
func reviewPrompt(task *Task, output string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Review the work below against its task.\n\nTask %s: %s\n", task.ID, task.Title)
	fmt.Fprintf(&b, "\nWorker output:\n%s\n", output)
	return b.String()
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}
