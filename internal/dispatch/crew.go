package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/untoldecay/pi-messenger/internal/config"
	"github.com/untoldecay/pi-messenger/internal/crew"
	"github.com/untoldecay/pi-messenger/internal/feed"
	"github.com/untoldecay/pi-messenger/internal/lockfile"
)

// store returns a crew store bound to the current project directory.
func (d *Dispatcher) store() *crew.Store {
	return crew.NewStore(d.projectDir())
}

// crewErr maps crew package errors onto wire kinds. Wrong-state
// lifecycle errors carry no kind; their message already names the
// state the record is in.
func crewErr(mode string, err error) *Result {
	var incomplete *crew.IncompleteTasksError
	if errors.As(err, &incomplete) {
		return errResult(mode, KindIncompleteTasks,
			fmt.Sprintf("%s has incomplete tasks: %s",
				incomplete.EpicID, strings.Join(incomplete.Remaining, ", "))).
			with("incomplete", incomplete.Remaining)
	}
	var orphan *crew.OrphanDependencyError
	if errors.As(err, &orphan) {
		return errResult(mode, KindOrphanDependency, orphan.Error()).
			with("missing", orphan.Missing)
	}
	switch {
	case errors.Is(err, crew.ErrCircularDependency):
		return errResult(mode, KindCircularDependency, err.Error())
	case errors.Is(err, crew.ErrNotFound):
		return errResult(mode, KindNotFound, err.Error())
	case errors.Is(err, lockfile.ErrTimeout):
		return errResult(mode, KindLockTimeout, err.Error())
	case errors.Is(err, lockfile.ErrCancelled):
		return errResult(mode, KindCancelled, err.Error())
	}
	return errResult(mode, "", err.Error())
}

// recordTaskEvent attributes a task lifecycle event to the calling
// agent. Anonymous callers leave no feed line.
func (d *Dispatcher) recordTaskEvent(typ, target, preview string) {
	rec, ok := d.self()
	if !ok {
		return
	}
	feed.Record(d.projectDir(), feed.Event{
		Agent:   rec.Name,
		Type:    typ,
		Target:  target,
		Preview: preview,
	})
}

func (d *Dispatcher) handleEpicCreate(ctx context.Context, req *Request) *Result {
	var args EpicCreateArgs
	if res := decodeFail(req, &args); res != nil {
		return res
	}
	title := strings.TrimSpace(args.Title)
	if title == "" {
		return errResult(ActionEpicCreate, KindMissingTitle, "title is required")
	}
	epic, err := d.store().CreateEpic(ctx, title)
	if err != nil {
		return crewErr(ActionEpicCreate, err)
	}
	return newResult(ActionEpicCreate, fmt.Sprintf("Created epic %s: %s", epic.ID, epic.Title)).
		with("id", epic.ID).
		with("epic", epic)
}

func taskLine(t *crew.Task) string {
	line := fmt.Sprintf("%s [%s] %s", t.ID, t.Status, t.Title)
	if len(t.DependsOn) > 0 {
		line += fmt.Sprintf(" (after %s)", strings.Join(t.DependsOn, ", "))
	}
	if t.AssignedTo != "" && t.Status == crew.TaskInProgress {
		line += fmt.Sprintf(" — %s", t.AssignedTo)
	}
	return line
}

func (d *Dispatcher) handleEpicShow(req *Request) *Result {
	var args EpicIDArgs
	if res := decodeFail(req, &args); res != nil {
		return res
	}
	id := strings.TrimSpace(args.ID)
	if id == "" {
		return errResult(ActionEpicShow, KindMissingID, "id is required")
	}
	store := d.store()
	epic, err := store.GetEpic(id)
	if err != nil {
		return crewErr(ActionEpicShow, err)
	}
	tasks, err := store.ListTasks(id)
	if err != nil {
		return crewErr(ActionEpicShow, err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s [%s]\n", epic.ID, epic.Title, epic.Status)
	fmt.Fprintf(&b, "Created %s.\n", ago(epic.CreatedAt))
	if len(tasks) == 0 {
		b.WriteString("No tasks yet.")
	} else {
		fmt.Fprintf(&b, "Tasks (%d/%d done):\n", epic.CompletedCount, epic.TaskCount)
		for _, t := range tasks {
			fmt.Fprintf(&b, "  %s\n", taskLine(t))
		}
	}

	res := newResult(ActionEpicShow, strings.TrimRight(b.String(), "\n")).
		with("epic", epic).
		with("tasks", tasks)
	if spec, ok := store.ReadSpec(id); ok && !crew.IsStubSpec(spec) {
		res.with("spec", spec)
	}
	return res
}

func (d *Dispatcher) handleEpicList(req *Request) *Result {
	epics, err := d.store().ListEpics()
	if err != nil {
		return errResult(ActionEpicList, "", err.Error())
	}
	if len(epics) == 0 {
		return newResult(ActionEpicList, "No epics.").with("epics", epics)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Epics (%d):\n", len(epics))
	for _, e := range epics {
		fmt.Fprintf(&b, "  %s [%s] %s (%d/%d)\n", e.ID, e.Status, e.Title, e.CompletedCount, e.TaskCount)
	}
	return newResult(ActionEpicList, strings.TrimRight(b.String(), "\n")).
		with("epics", epics)
}

func (d *Dispatcher) handleEpicClose(req *Request) *Result {
	var args EpicIDArgs
	if res := decodeFail(req, &args); res != nil {
		return res
	}
	id := strings.TrimSpace(args.ID)
	if id == "" {
		return errResult(ActionEpicClose, KindMissingID, "id is required")
	}
	epic, err := d.store().CloseEpic(id)
	if err != nil {
		return crewErr(ActionEpicClose, err)
	}
	return newResult(ActionEpicClose, fmt.Sprintf("Closed epic %s.", epic.ID)).
		with("epic", epic)
}

func (d *Dispatcher) handleEpicSetSpec(req *Request) *Result {
	var args EpicSetSpecArgs
	if res := decodeFail(req, &args); res != nil {
		return res
	}
	id := strings.TrimSpace(args.ID)
	if id == "" {
		return errResult(ActionEpicSetSpec, KindMissingID, "id is required")
	}
	if strings.TrimSpace(args.Content) == "" {
		return errResult(ActionEpicSetSpec, KindMissingContent, "content is required")
	}
	store := d.store()
	if _, err := store.GetEpic(id); err != nil {
		return crewErr(ActionEpicSetSpec, err)
	}
	if err := store.WriteSpec(id, args.Content); err != nil {
		return errResult(ActionEpicSetSpec, "", err.Error())
	}
	return newResult(ActionEpicSetSpec, fmt.Sprintf("Spec saved for %s.", id)).
		with("id", id)
}

func (d *Dispatcher) handleTaskCreate(ctx context.Context, req *Request) *Result {
	var args TaskCreateArgs
	if res := decodeFail(req, &args); res != nil {
		return res
	}
	epicID := strings.TrimSpace(args.EpicID)
	if epicID == "" {
		return errResult(ActionTaskCreate, KindMissingID, "epicId is required")
	}
	title := strings.TrimSpace(args.Title)
	if title == "" {
		return errResult(ActionTaskCreate, KindMissingTitle, "title is required")
	}
	task, err := d.store().CreateTask(ctx, epicID, title, args.Description, args.DependsOn)
	if err != nil {
		return crewErr(ActionTaskCreate, err)
	}
	return newResult(ActionTaskCreate, fmt.Sprintf("Created task %s: %s", task.ID, task.Title)).
		with("id", task.ID).
		with("task", task)
}

func (d *Dispatcher) handleTaskShow(req *Request) *Result {
	var args TaskIDArgs
	if res := decodeFail(req, &args); res != nil {
		return res
	}
	id := strings.TrimSpace(args.ID)
	if id == "" {
		return errResult(ActionTaskShow, KindMissingID, "id is required")
	}
	store := d.store()
	task, err := store.GetTask(id)
	if err != nil {
		return crewErr(ActionTaskShow, err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", taskLine(task))
	if task.Description != "" {
		fmt.Fprintf(&b, "%s\n", task.Description)
	}
	switch task.Status {
	case crew.TaskDone:
		if task.CompletedAt != nil {
			fmt.Fprintf(&b, "Completed %s", ago(*task.CompletedAt))
			if task.Summary != "" {
				fmt.Fprintf(&b, ": %s", task.Summary)
			}
			b.WriteString("\n")
		}
	case crew.TaskBlocked:
		fmt.Fprintf(&b, "Blocked: %s\n", task.BlockedReason)
	case crew.TaskInProgress:
		if task.StartedAt != nil {
			fmt.Fprintf(&b, "Started %s.\n", ago(*task.StartedAt))
		}
	}

	res := newResult(ActionTaskShow, strings.TrimRight(b.String(), "\n")).
		with("task", task)
	if spec, ok := store.ReadSpec(id); ok && !crew.IsStubSpec(spec) {
		res.with("spec", spec)
	}
	if blockCtx, ok := store.BlockContext(id); ok {
		res.with("blockContext", blockCtx)
	}
	return res
}

func (d *Dispatcher) handleTaskList(req *Request) *Result {
	var args TaskListArgs
	if res := decodeFail(req, &args); res != nil {
		return res
	}
	epicID := strings.TrimSpace(args.EpicID)
	if epicID != "" {
		if _, err := d.store().GetEpic(epicID); err != nil {
			return crewErr(ActionTaskList, err)
		}
	}
	tasks, err := d.store().ListTasks(epicID)
	if err != nil {
		return crewErr(ActionTaskList, err)
	}
	if len(tasks) == 0 {
		return newResult(ActionTaskList, "No tasks.").with("tasks", tasks)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Tasks (%d):\n", len(tasks))
	for _, t := range tasks {
		fmt.Fprintf(&b, "  %s\n", taskLine(t))
	}
	return newResult(ActionTaskList, strings.TrimRight(b.String(), "\n")).
		with("tasks", tasks)
}

func (d *Dispatcher) handleTaskStart(req *Request) *Result {
	var args TaskIDArgs
	if res := decodeFail(req, &args); res != nil {
		return res
	}
	id := strings.TrimSpace(args.ID)
	if id == "" {
		return errResult(ActionTaskStart, KindMissingID, "id is required")
	}
	rec, res := d.requireSelf(ActionTaskStart)
	if res != nil {
		return res
	}
	task, err := d.store().StartTask(id, rec.Name)
	if err != nil {
		return crewErr(ActionTaskStart, err)
	}
	feed.Record(d.projectDir(), feed.Event{
		Agent: rec.Name, Type: feed.TypeTaskStart, Target: task.ID, Preview: task.Title,
	})
	return newResult(ActionTaskStart, fmt.Sprintf("Started %s: %s", task.ID, task.Title)).
		with("task", task)
}

func (d *Dispatcher) handleTaskDone(req *Request) *Result {
	var args TaskDoneArgs
	if res := decodeFail(req, &args); res != nil {
		return res
	}
	id := strings.TrimSpace(args.ID)
	if id == "" {
		return errResult(ActionTaskDone, KindMissingID, "id is required")
	}
	var evidence *crew.Evidence
	if len(args.Commits)+len(args.Tests)+len(args.PRs) > 0 {
		evidence = &crew.Evidence{Commits: args.Commits, Tests: args.Tests, PRs: args.PRs}
	}
	task, err := d.store().CompleteTask(id, args.Summary, evidence)
	if err != nil {
		return crewErr(ActionTaskDone, err)
	}
	d.recordTaskEvent(feed.TypeTaskDone, task.ID, task.Summary)
	return newResult(ActionTaskDone, fmt.Sprintf("Completed %s.", task.ID)).
		with("task", task)
}

func (d *Dispatcher) handleTaskBlock(req *Request) *Result {
	var args TaskBlockArgs
	if res := decodeFail(req, &args); res != nil {
		return res
	}
	id := strings.TrimSpace(args.ID)
	if id == "" {
		return errResult(ActionTaskBlock, KindMissingID, "id is required")
	}
	task, err := d.store().BlockTask(id, args.Reason)
	if err != nil {
		return crewErr(ActionTaskBlock, err)
	}
	d.recordTaskEvent(feed.TypeTaskBlock, task.ID, task.BlockedReason)
	text := fmt.Sprintf("Blocked %s.", task.ID)
	if task.BlockedReason != "" {
		text = fmt.Sprintf("Blocked %s: %s", task.ID, task.BlockedReason)
	}
	return newResult(ActionTaskBlock, text).with("task", task)
}

func (d *Dispatcher) handleTaskUnblock(req *Request) *Result {
	var args TaskIDArgs
	if res := decodeFail(req, &args); res != nil {
		return res
	}
	id := strings.TrimSpace(args.ID)
	if id == "" {
		return errResult(ActionTaskUnblock, KindMissingID, "id is required")
	}
	task, err := d.store().UnblockTask(id)
	if err != nil {
		return crewErr(ActionTaskUnblock, err)
	}
	d.recordTaskEvent(feed.TypeTaskUnblock, task.ID, "")
	return newResult(ActionTaskUnblock, fmt.Sprintf("Unblocked %s.", task.ID)).
		with("task", task)
}

func (d *Dispatcher) handleTaskReady(req *Request) *Result {
	var args TaskListArgs
	if res := decodeFail(req, &args); res != nil {
		return res
	}
	epicID := strings.TrimSpace(args.EpicID)
	if epicID == "" {
		return errResult(ActionTaskReady, KindMissingID, "epicId is required")
	}
	store := d.store()
	if _, err := store.GetEpic(epicID); err != nil {
		return crewErr(ActionTaskReady, err)
	}
	ready, err := store.ReadyTasks(epicID)
	if err != nil {
		return crewErr(ActionTaskReady, err)
	}
	if len(ready) == 0 {
		return newResult(ActionTaskReady, fmt.Sprintf("No tasks ready in %s.", epicID)).
			with("tasks", ready)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Ready in %s (%d):\n", epicID, len(ready))
	for _, t := range ready {
		fmt.Fprintf(&b, "  %s %s\n", t.ID, t.Title)
	}
	return newResult(ActionTaskReady, strings.TrimRight(b.String(), "\n")).
		with("tasks", ready)
}

func (d *Dispatcher) handleTaskReset(req *Request) *Result {
	var args TaskResetArgs
	if res := decodeFail(req, &args); res != nil {
		return res
	}
	id := strings.TrimSpace(args.ID)
	if id == "" {
		return errResult(ActionTaskReset, KindMissingID, "id is required")
	}
	reset, err := d.store().ResetTask(id, args.Cascade)
	if err != nil {
		return crewErr(ActionTaskReset, err)
	}
	ids := make([]string, len(reset))
	for i, t := range reset {
		ids[i] = t.ID
	}
	preview := ""
	if args.Cascade && len(ids) > 1 {
		preview = fmt.Sprintf("cascade to %s", strings.Join(ids[1:], ", "))
	}
	d.recordTaskEvent(feed.TypeTaskReset, id, preview)
	text := fmt.Sprintf("Reset %s.", id)
	if len(ids) > 1 {
		text = fmt.Sprintf("Reset %d tasks: %s.", len(ids), strings.Join(ids, ", "))
	}
	return newResult(ActionTaskReset, text).with("tasks", ids)
}

func (d *Dispatcher) handleCheckpointSave(req *Request) *Result {
	var args EpicIDArgs
	if res := decodeFail(req, &args); res != nil {
		return res
	}
	id := strings.TrimSpace(args.ID)
	if id == "" {
		return errResult(ActionCheckpointSave, KindMissingID, "id is required")
	}
	cp, err := d.store().SaveCheckpoint(id)
	if err != nil {
		return crewErr(ActionCheckpointSave, err)
	}
	return newResult(ActionCheckpointSave,
		fmt.Sprintf("Checkpoint saved for %s (%d tasks).", cp.ID, len(cp.Tasks))).
		with("id", cp.ID).
		with("createdAt", cp.CreatedAt).
		with("tasks", len(cp.Tasks))
}

func (d *Dispatcher) handleCheckpointRestore(req *Request) *Result {
	var args EpicIDArgs
	if res := decodeFail(req, &args); res != nil {
		return res
	}
	id := strings.TrimSpace(args.ID)
	if id == "" {
		return errResult(ActionCheckpointRestore, KindMissingID, "id is required")
	}
	cp, err := d.store().RestoreCheckpoint(id)
	if err != nil {
		return crewErr(ActionCheckpointRestore, err)
	}
	return newResult(ActionCheckpointRestore,
		fmt.Sprintf("Restored %s from checkpoint taken %s.", cp.ID, ago(cp.CreatedAt))).
		with("id", cp.ID).
		with("createdAt", cp.CreatedAt).
		with("tasks", len(cp.Tasks))
}

func (d *Dispatcher) handleCheckpointDelete(req *Request) *Result {
	var args EpicIDArgs
	if res := decodeFail(req, &args); res != nil {
		return res
	}
	id := strings.TrimSpace(args.ID)
	if id == "" {
		return errResult(ActionCheckpointDelete, KindMissingID, "id is required")
	}
	if err := d.store().DeleteCheckpoint(id); err != nil {
		return crewErr(ActionCheckpointDelete, err)
	}
	return newResult(ActionCheckpointDelete, fmt.Sprintf("Checkpoint deleted for %s.", id)).
		with("id", id)
}

func (d *Dispatcher) handleCheckpointList(req *Request) *Result {
	cps, err := d.store().ListCheckpoints()
	if err != nil {
		return errResult(ActionCheckpointList, "", err.Error())
	}
	if len(cps) == 0 {
		return newResult(ActionCheckpointList, "No checkpoints.").with("checkpoints", cps)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Checkpoints (%d):\n", len(cps))
	for _, cp := range cps {
		fmt.Fprintf(&b, "  %s — saved %s (%d tasks)\n", cp.ID, ago(cp.CreatedAt), len(cp.Tasks))
	}
	return newResult(ActionCheckpointList, strings.TrimRight(b.String(), "\n")).
		with("checkpoints", cps)
}

func (d *Dispatcher) handleCrewStatus(req *Request) *Result {
	store := d.store()
	epics, err := store.ListEpics()
	if err != nil {
		return errResult(ActionCrewStatus, "", err.Error())
	}

	var b strings.Builder
	if len(epics) == 0 {
		b.WriteString("No epics.")
	} else {
		open := 0
		for _, e := range epics {
			if e.Status != crew.EpicCompleted && e.Status != crew.EpicArchived {
				open++
			}
		}
		fmt.Fprintf(&b, "Epics: %d (%d open).\n", len(epics), open)
		for _, e := range epics {
			fmt.Fprintf(&b, "  %s [%s] %s (%d/%d)\n", e.ID, e.Status, e.Title, e.CompletedCount, e.TaskCount)
		}
	}

	res := newResult(ActionCrewStatus, "").with("epics", epics)
	if config.ArtifactsEnabled() {
		if log, err := crew.OpenArtifactLog(d.projectDir()); err == nil {
			runs, rerr := log.RecentRuns(5)
			log.Close()
			if rerr == nil && len(runs) > 0 {
				b.WriteString("\nRecent runs:\n")
				for _, r := range runs {
					fmt.Fprintf(&b, "  %s %s exit %d %s\n", r.TaskID, r.Role, r.ExitCode, ago(r.FinishedAt))
				}
				res.with("runs", runs)
			}
		}
	}
	res.Text = strings.TrimRight(b.String(), "\n")
	return res
}

func reportLines(b *strings.Builder, r *crew.Report) {
	if r.OK() && len(r.Warnings) == 0 {
		fmt.Fprintf(b, "%s: OK\n", r.EpicID)
		return
	}
	fmt.Fprintf(b, "%s: %d error(s), %d warning(s)\n", r.EpicID, len(r.Errors), len(r.Warnings))
	for _, e := range r.Errors {
		fmt.Fprintf(b, "  error: %s\n", e)
	}
	for _, w := range r.Warnings {
		fmt.Fprintf(b, "  warning: %s\n", w)
	}
}

func (d *Dispatcher) handleCrewValidate(req *Request) *Result {
	var args EpicIDArgs
	if res := decodeFail(req, &args); res != nil {
		return res
	}
	store := d.store()

	var reports []*crew.Report
	if id := strings.TrimSpace(args.ID); id != "" {
		report, err := store.ValidateEpic(id)
		if err != nil {
			return crewErr(ActionCrewValidate, err)
		}
		reports = append(reports, report)
	} else {
		epics, err := store.ListEpics()
		if err != nil {
			return errResult(ActionCrewValidate, "", err.Error())
		}
		if len(epics) == 0 {
			return newResult(ActionCrewValidate, "No epics to validate.").with("reports", reports)
		}
		for _, e := range epics {
			report, err := store.ValidateEpic(e.ID)
			if err != nil {
				return crewErr(ActionCrewValidate, err)
			}
			reports = append(reports, report)
		}
	}

	var b strings.Builder
	clean := true
	for _, r := range reports {
		reportLines(&b, r)
		if !r.OK() {
			clean = false
		}
	}
	return newResult(ActionCrewValidate, strings.TrimRight(b.String(), "\n")).
		with("reports", reports).
		with("ok", clean)
}

func (d *Dispatcher) handleCrewAgents(req *Request) *Result {
	defs, err := d.store().ListAgents()
	if err != nil {
		return errResult(ActionCrewAgents, "", err.Error())
	}
	if len(defs) == 0 {
		return newResult(ActionCrewAgents, "No agent roles defined.").with("agents", defs)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Agent roles (%d):\n", len(defs))
	for _, def := range defs {
		fmt.Fprintf(&b, "  %s — %s", def.Name, def.Description)
		if def.Model != "" {
			fmt.Fprintf(&b, " [%s]", def.Model)
		}
		b.WriteString("\n")
	}
	return newResult(ActionCrewAgents, strings.TrimRight(b.String(), "\n")).
		with("agents", defs)
}

func (d *Dispatcher) handleCrewInstall(req *Request) *Result {
	installed, err := d.store().InstallAgents()
	if err != nil {
		return errResult(ActionCrewInstall, "", err.Error())
	}
	if len(installed) == 0 {
		return newResult(ActionCrewInstall, "All agent definitions already installed.").
			with("installed", installed)
	}
	return newResult(ActionCrewInstall,
		fmt.Sprintf("Installed %d agent definition(s): %s.", len(installed), strings.Join(installed, ", "))).
		with("installed", installed)
}

func (d *Dispatcher) handleCrewUninstall(req *Request) *Result {
	removed, err := d.store().UninstallAgents()
	if err != nil {
		return errResult(ActionCrewUninstall, "", err.Error())
	}
	if len(removed) == 0 {
		return newResult(ActionCrewUninstall, "No agent definitions installed.").
			with("removed", removed)
	}
	return newResult(ActionCrewUninstall,
		fmt.Sprintf("Removed %d agent definition(s): %s.", len(removed), strings.Join(removed, ", "))).
		with("removed", removed)
}
