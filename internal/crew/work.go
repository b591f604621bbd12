package crew

import (
	"context"
	"fmt"
	"strings"

	"github.com/untoldecay/pi-messenger/internal/debug"
	"github.com/untoldecay/pi-messenger/internal/feed"
)

// Work loop bounds.
const (
	DefaultMaxAttemptsPerTask = 5
	DefaultMaxWaves           = 50
)

// WorkOptions configure one work run.
type WorkOptions struct {
	// Autonomous keeps scheduling waves until the epic settles;
	// otherwise exactly one wave runs.
	Autonomous bool
	// Review runs the reviewer role over each finished task before it
	// is accepted.
	Review bool
	// MaxAttempts auto-blocks a task after this many attempts.
	MaxAttempts int
	// MaxWaves stops a runaway autonomous loop.
	MaxWaves int
}

// WorkReport summarizes a work run.
type WorkReport struct {
	EpicID    string
	Waves     int
	Started   []string
	Completed []string
	Blocked   []string
	Retried   []string
	Stopped   string
}

// Worker drives task execution for one epic: compute the ready-set,
// start a wave of workers, record outcomes, repeat while autonomous.
type Worker struct {
	store *Store
	exec  *Executor
	agent string
}

// NewWorker wires a work-loop driver. agent names the invoking agent
// in feed events.
func NewWorker(store *Store, exec *Executor, agent string) *Worker {
	return &Worker{store: store, exec: exec, agent: agent}
}

// Work runs waves over the epic until it settles, the wave budget runs
// out, the context is cancelled, or (non-autonomous) one wave is done.
func (w *Worker) Work(ctx context.Context, epicID string, opts WorkOptions) (*WorkReport, error) {
	if _, err := w.store.GetEpic(epicID); err != nil {
		return nil, err
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttemptsPerTask
	}
	if opts.MaxWaves <= 0 {
		opts.MaxWaves = DefaultMaxWaves
	}
	report := &WorkReport{EpicID: epicID}

	for report.Waves < opts.MaxWaves {
		if ctx.Err() != nil {
			report.Stopped = "cancelled"
			return report, ctx.Err()
		}
		ready, err := w.store.ReadyTasks(epicID)
		if err != nil {
			return report, err
		}
		if len(ready) == 0 {
			report.Stopped = w.settledReason(epicID)
			return report, nil
		}
		if len(ready) > w.exec.concurrency {
			ready = ready[:w.exec.concurrency]
		}
		report.Waves++
		if err := w.runWave(ctx, ready, opts, report); err != nil {
			return report, err
		}
		if !opts.Autonomous {
			report.Stopped = "single wave"
			return report, nil
		}
	}
	report.Stopped = "max waves reached"
	return report, nil
}

// settledReason distinguishes a finished epic from one stuck behind
// blocked or orphaned dependencies.
func (w *Worker) settledReason(epicID string) string {
	tasks, err := w.store.ListTasks(epicID)
	if err != nil || len(tasks) == 0 {
		return "no tasks"
	}
	done, blocked := 0, 0
	for _, t := range tasks {
		switch t.Status {
		case TaskDone:
			done++
		case TaskBlocked:
			blocked++
		}
	}
	switch {
	case done == len(tasks):
		return "all tasks done"
	case done+blocked == len(tasks):
		return "remaining tasks blocked"
	default:
		return "no ready tasks"
	}
}

func (w *Worker) runWave(ctx context.Context, wave []*Task, opts WorkOptions, report *WorkReport) error {
	workerRole, err := w.store.LoadAgent(RoleWorker)
	if err != nil {
		return err
	}
	var reviewer *AgentDef
	if opts.Review {
		if reviewer, err = w.store.LoadAgent(RoleReviewer); err != nil {
			debug.Logf("crew: reviewer role unavailable, skipping reviews: %v", err)
			reviewer = nil
		}
	}

	agentTasks := make([]*AgentTask, 0, len(wave))
	for _, t := range wave {
		name := "worker-" + t.ID
		if _, err := w.store.StartTask(t.ID, name); err != nil {
			debug.Logf("crew: start %s: %v", t.ID, err)
			continue
		}
		report.Started = append(report.Started, t.ID)
		feed.Record(w.store.dir, feed.Event{
			Agent: name, Type: feed.TypeTaskStart, Target: t.ID, Preview: t.Title,
		})
		agentTasks = append(agentTasks, &AgentTask{
			ID:        t.ID,
			Role:      workerRole,
			AgentName: name,
			Prompt:    w.taskPrompt(t),
		})
	}
	if len(agentTasks) == 0 {
		return fmt.Errorf("wave could not start any task")
	}

	results := w.exec.Run(ctx, agentTasks)
	for _, res := range results {
		w.recordOutcome(ctx, res, reviewer, opts, report)
	}
	return nil
}

// recordOutcome settles one task after its worker exits. Workers may
// have completed the task themselves through the dispatcher; anything
// still in_progress is settled here from the process outcome and the
// optional review verdict.
func (w *Worker) recordOutcome(ctx context.Context, res *WorkerResult, reviewer *AgentDef, opts WorkOptions, report *WorkReport) {
	id := res.Task.ID
	task, err := w.store.GetTask(id)
	if err != nil {
		debug.Logf("crew: reload %s: %v", id, err)
		return
	}
	if task.Status != TaskInProgress {
		if task.Status == TaskDone {
			report.Completed = append(report.Completed, id)
		}
		return
	}

	if res.Failed() {
		w.retryOrBlock(task, opts, report,
			fmt.Sprintf("worker failed (exit %d): %v", res.ExitCode, res.Err))
		return
	}

	if reviewer != nil {
		verdict, reasons := w.reviewOutcome(ctx, reviewer, task, res.Output)
		switch verdict {
		case VerdictNeedsWork:
			w.retryOrBlock(task, opts, report, "review: needs work: "+reasons)
			return
		case VerdictMajorRethink:
			w.blockTask(task, "review: major rethink: "+reasons, report)
			return
		}
	}

	summary := summarize(res.Output)
	if _, err := w.store.CompleteTask(id, summary, nil); err != nil {
		debug.Logf("crew: complete %s: %v", id, err)
		return
	}
	report.Completed = append(report.Completed, id)
	feed.Record(w.store.dir, feed.Event{
		Agent: res.Task.AgentName, Type: feed.TypeTaskDone, Target: id, Preview: summary,
	})
}

func (w *Worker) reviewOutcome(ctx context.Context, reviewer *AgentDef, task *Task, output string) (Verdict, string) {
	res := w.exec.Run(ctx, []*AgentTask{{
		ID:        task.ID + "-review",
		Role:      reviewer,
		AgentName: "reviewer-" + task.ID,
		Prompt:    reviewPrompt(task, output),
	}})
	if res[0].Failed() {
		debug.Logf("crew: review of %s failed, accepting work: %v", task.ID, res[0].Err)
		return VerdictShip, ""
	}
	verdict, reasons := ParseVerdict(res[0].Output)
	return verdict, reasons
}

// retryOrBlock returns a task to todo for another attempt, or blocks
// it once the attempt budget is spent.
func (w *Worker) retryOrBlock(task *Task, opts WorkOptions, report *WorkReport, reason string) {
	if task.AttemptCount >= opts.MaxAttempts {
		w.blockTask(task, fmt.Sprintf("auto-blocked after %d attempts: %s", task.AttemptCount, reason), report)
		return
	}
	if _, err := w.store.ResetTask(task.ID, false); err != nil {
		debug.Logf("crew: reset %s: %v", task.ID, err)
		return
	}
	report.Retried = append(report.Retried, task.ID)
	feed.Record(w.store.dir, feed.Event{
		Agent: w.agent, Type: feed.TypeTaskReset, Target: task.ID, Preview: reason,
	})
}

func (w *Worker) blockTask(task *Task, reason string, report *WorkReport) {
	if _, err := w.store.BlockTask(task.ID, reason); err != nil {
		debug.Logf("crew: block %s: %v", task.ID, err)
		return
	}
	report.Blocked = append(report.Blocked, task.ID)
	feed.Record(w.store.dir, feed.Event{
		Agent: w.agent, Type: feed.TypeTaskBlock, Target: task.ID, Preview: reason,
	})
}

func (w *Worker) taskPrompt(t *Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task %s: %s\n\n", t.ID, t.Title)
	if spec, ok := w.store.ReadSpec(t.ID); ok && !IsStubSpec(spec) {
		b.WriteString(spec)
		b.WriteString("\n")
	} else if t.Description != "" {
		b.WriteString(t.Description)
		b.WriteString("\n")
	}
	if len(t.DependsOn) > 0 {
		fmt.Fprintf(&b, "\nCompleted prerequisite tasks: %s\n", strings.Join(t.DependsOn, ", "))
	}
	b.WriteString("\nWhen finished, summarize what changed and how it was verified.\n")
	return b.String()
}

// summarize keeps the tail of a worker's output as the task summary.
func summarize(output string) string {
	const limit = 500
	out := strings.TrimSpace(output)
	if out == "" {
		return "completed"
	}
	if len(out) <= limit {
		return out
	}
	out = out[len(out)-limit:]
	if i := strings.IndexByte(out, '\n'); i >= 0 && i < limit/2 {
		out = out[i+1:]
	}
	return strings.TrimSpace(out)
}
