package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/untoldecay/pi-messenger/internal/config"
	"github.com/untoldecay/pi-messenger/internal/crew"
)

// actorName attributes pipeline feed events. Unregistered callers are
// recorded as "crew".
func (d *Dispatcher) actorName() string {
	if rec, ok := d.self(); ok {
		return rec.Name
	}
	return "crew"
}

// pipelineExecutor builds an executor from configuration. The caller
// closes the returned artifact log when non-nil.
func (d *Dispatcher) pipelineExecutor(store *crew.Store, concurrency int) (*crew.Executor, *crew.ArtifactLog) {
	var artifacts *crew.ArtifactLog
	if config.ArtifactsEnabled() {
		if log, err := crew.OpenArtifactLog(d.projectDir()); err == nil {
			artifacts = log
		}
	}
	exec := crew.NewExecutor(store, crew.ExecutorOptions{
		Command:     config.RunnerCommand(),
		Args:        config.RunnerArgs(),
		Concurrency: concurrency,
		Grace:       config.ShutdownGracePeriod(),
		Artifacts:   artifacts,
	})
	return exec, artifacts
}

func planErr(mode string, err error) *Result {
	switch {
	case errors.Is(err, crew.ErrNoScouts):
		return errResult(mode, KindNoScouts, "no scout role available; check crew.concurrency.scouts and agent definitions")
	case errors.Is(err, crew.ErrNoAnalyst):
		return errResult(mode, KindNoAnalyst, "no analyst role available; check agent definitions")
	case errors.Is(err, crew.ErrGeneratorFailed):
		return errResult(mode, KindGeneratorFailed, err.Error())
	case errors.Is(err, crew.ErrAnalystFailed):
		return errResult(mode, KindAnalystFailed, err.Error())
	}
	return crewErr(mode, err)
}

func (d *Dispatcher) handlePlan(ctx context.Context, req *Request) *Result {
	var args PlanArgs
	if res := decodeFail(req, &args); res != nil {
		return res
	}
	target := strings.TrimSpace(args.Target)
	if target == "" {
		return errResult(ActionPlan, KindMissingTitle, "target is required")
	}

	store := d.store()
	exec, artifacts := d.pipelineExecutor(store, config.ScoutConcurrency())
	if artifacts != nil {
		defer artifacts.Close()
	}

	planner := crew.NewPlanner(store, exec, config.ScoutConcurrency(), d.actorName())
	result, err := planner.Plan(ctx, target, args.Idea)
	if err != nil {
		return planErr(ActionPlan, err)
	}

	taskIDs := make([]string, len(result.Tasks))
	for i, t := range result.Tasks {
		taskIDs[i] = t.ID
	}
	text := fmt.Sprintf("Planned %s: %d task(s) from %d scout report(s).",
		result.Epic.ID, len(result.Tasks), len(result.ScoutReports))
	if result.FailedScouts > 0 {
		text += fmt.Sprintf(" %d scout(s) failed.", result.FailedScouts)
	}
	return newResult(ActionPlan, text).
		with("epicId", result.Epic.ID).
		with("epic", result.Epic).
		with("tasks", taskIDs).
		with("failedScouts", result.FailedScouts)
}

func (d *Dispatcher) handleWork(ctx context.Context, req *Request) *Result {
	var args WorkArgs
	if res := decodeFail(req, &args); res != nil {
		return res
	}
	target := strings.TrimSpace(args.Target)
	if target == "" {
		return errResult(ActionWork, KindMissingID, "target is required")
	}

	concurrency := args.Concurrency
	if concurrency < 1 {
		concurrency = config.WorkerConcurrency()
	}
	store := d.store()
	exec, artifacts := d.pipelineExecutor(store, concurrency)
	if artifacts != nil {
		defer artifacts.Close()
	}

	worker := crew.NewWorker(store, exec, d.actorName())
	report, err := worker.Work(ctx, target, crew.WorkOptions{
		Autonomous:  args.Autonomous,
		Review:      args.Review,
		MaxAttempts: config.MaxAttemptsPerTask(),
		MaxWaves:    config.MaxWaves(),
	})
	if err != nil {
		return crewErr(ActionWork, err)
	}

	text := fmt.Sprintf("Worked %s: %d wave(s), %d completed, %d blocked.",
		report.EpicID, report.Waves, len(report.Completed), len(report.Blocked))
	if len(report.Retried) > 0 {
		text += fmt.Sprintf(" %d retried.", len(report.Retried))
	}
	if report.Stopped != "" {
		text += fmt.Sprintf(" Stopped: %s.", report.Stopped)
	}
	return newResult(ActionWork, text).
		with("epicId", report.EpicID).
		with("waves", report.Waves).
		with("started", report.Started).
		with("completed", report.Completed).
		with("blocked", report.Blocked).
		with("retried", report.Retried).
		with("stopped", report.Stopped)
}

func (d *Dispatcher) handleReview(ctx context.Context, req *Request) *Result {
	var args ReviewArgs
	if res := decodeFail(req, &args); res != nil {
		return res
	}
	target := strings.TrimSpace(args.Target)
	if target == "" {
		return errResult(ActionReview, KindMissingID, "target is required")
	}
	typ := args.Type
	if typ == "" {
		typ = crew.ReviewPlan
	}

	store := d.store()
	exec, artifacts := d.pipelineExecutor(store, 1)
	if artifacts != nil {
		defer artifacts.Close()
	}

	reviewer := crew.NewReviewer(store, exec, d.actorName())
	result, err := reviewer.Review(ctx, target, typ)
	if err != nil {
		return crewErr(ActionReview, err)
	}

	text := fmt.Sprintf("Review of %s (%s): %s.", result.EpicID, result.Type, result.Verdict)
	if result.Reasons != "" {
		text += "\n" + result.Reasons
	}
	return newResult(ActionReview, text).
		with("epicId", result.EpicID).
		with("type", result.Type).
		with("verdict", string(result.Verdict)).
		with("reasons", result.Reasons)
}
