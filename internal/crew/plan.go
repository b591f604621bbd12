package crew

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/untoldecay/pi-messenger/internal/feed"
)

var (
	// ErrNoScouts means planning cannot start: no scout role or zero
	// scout concurrency.
	ErrNoScouts = errors.New("no scouts available")
	// ErrNoAnalyst means the analyst role definition is missing.
	ErrNoAnalyst = errors.New("no analyst available")
	// ErrGeneratorFailed means every scout run failed.
	ErrGeneratorFailed = errors.New("scout generation failed")
	// ErrAnalystFailed means the analyst run failed or produced no
	// parseable tasks.
	ErrAnalystFailed = errors.New("analyst failed")
)

// Scout investigation angles. Planning launches one scout per angle,
// capped by the configured scout concurrency.
var scoutAngles = []string{
	"Map the code areas, files, and modules this work touches. List concrete paths.",
	"Identify existing patterns, conventions, and prior art in this codebase the work should follow.",
	"Identify risks, edge cases, and the testing approach. Note what could break.",
	"Map external interfaces: APIs, schemas, config, and dependencies involved.",
}

// Planner runs the plan pipeline: scouts explore the target in
// parallel, a gap analyst turns their reports into a task breakdown,
// and the tasks land in a fresh epic.
type Planner struct {
	store  *Store
	exec   *Executor
	scouts int
	agent  string
}

// NewPlanner wires a planner. scouts is the scout concurrency; agent
// names the invoking agent in feed events.
func NewPlanner(store *Store, exec *Executor, scouts int, agent string) *Planner {
	return &Planner{store: store, exec: exec, scouts: scouts, agent: agent}
}

// PlanResult is the outcome of one planning run.
type PlanResult struct {
	Epic         *Epic
	Tasks        []*Task
	ScoutReports []string
	FailedScouts int
}

// Plan creates an epic for the target and fills it with tasks derived
// from scout reports. With idea set, the target is treated as a rough
// idea to be shaped rather than a finished requirement.
func (p *Planner) Plan(ctx context.Context, target string, idea bool) (*PlanResult, error) {
	if p.scouts < 1 {
		return nil, ErrNoScouts
	}
	scout, err := p.store.LoadAgent(RoleScout)
	if err != nil {
		return nil, ErrNoScouts
	}
	analyst, err := p.store.LoadAgent(RoleAnalyst)
	if err != nil {
		return nil, ErrNoAnalyst
	}

	epic, err := p.store.CreateEpic(ctx, target)
	if err != nil {
		return nil, err
	}
	feed.Record(p.store.dir, feed.Event{
		Agent:   p.agent,
		Type:    feed.TypePlanStart,
		Target:  epic.ID,
		Preview: target,
	})

	res := &PlanResult{Epic: epic}
	reports, failed, err := p.runScouts(ctx, scout, epic.ID, target, idea)
	res.ScoutReports = reports
	res.FailedScouts = failed
	if err != nil {
		p.recordFailure(ctx, epic.ID, err)
		return res, err
	}

	tasks, err := p.runAnalyst(ctx, analyst, epic.ID, target, idea, reports)
	res.Tasks = tasks
	if err != nil {
		p.recordFailure(ctx, epic.ID, err)
		return res, err
	}

	feed.Record(p.store.dir, feed.Event{
		Agent:   p.agent,
		Type:    feed.TypePlanDone,
		Target:  epic.ID,
		Preview: fmt.Sprintf("%d tasks", len(tasks)),
	})
	return res, nil
}

func (p *Planner) recordFailure(ctx context.Context, epicID string, err error) {
	typ := feed.TypePlanFailed
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		typ = feed.TypePlanCancel
	}
	feed.Record(p.store.dir, feed.Event{
		Agent:   p.agent,
		Type:    typ,
		Target:  epicID,
		Preview: err.Error(),
	})
}

func (p *Planner) runScouts(ctx context.Context, role *AgentDef, epicID, target string, idea bool) ([]string, int, error) {
	angles := scoutAngles
	if p.scouts < len(angles) {
		angles = angles[:p.scouts]
	}
	tasks := make([]*AgentTask, len(angles))
	for i, angle := range angles {
		tasks[i] = &AgentTask{
			ID:        fmt.Sprintf("%s-scout-%d", epicID, i+1),
			Role:      role,
			AgentName: fmt.Sprintf("scout-%d", i+1),
			Prompt:    scoutPrompt(target, angle, idea),
		}
	}
	results := p.exec.Run(ctx, tasks)
	var reports []string
	failed := 0
	for _, r := range results {
		if r.Failed() || strings.TrimSpace(r.Output) == "" {
			failed++
			continue
		}
		reports = append(reports, r.Output)
	}
	if len(reports) == 0 {
		if ctx.Err() != nil {
			return nil, failed, ctx.Err()
		}
		return nil, failed, ErrGeneratorFailed
	}
	return reports, failed, nil
}

func (p *Planner) runAnalyst(ctx context.Context, role *AgentDef, epicID, target string, idea bool, reports []string) ([]*Task, error) {
	results := p.exec.Run(ctx, []*AgentTask{{
		ID:        epicID + "-analyst",
		Role:      role,
		AgentName: "analyst",
		Prompt:    analystPrompt(target, idea, reports),
	}})
	r := results[0]
	if r.Failed() {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrAnalystFailed, r.Err)
	}
	blocks := ParseTaskBlocks(r.Output)
	if len(blocks) == 0 {
		return nil, fmt.Errorf("%w: no task blocks in output", ErrAnalystFailed)
	}
	return p.createTasks(ctx, epicID, blocks)
}

// createTasks materializes parsed blocks in order, resolving each
// Depends title against the tasks created before it.
func (p *Planner) createTasks(ctx context.Context, epicID string, blocks []TaskBlock) ([]*Task, error) {
	byTitle := make(map[string]string, len(blocks))
	var created []*Task
	for _, b := range blocks {
		var deps []string
		for _, depTitle := range b.Depends {
			if id, ok := byTitle[titleKey(depTitle)]; ok {
				deps = append(deps, id)
			}
		}
		task, err := p.store.CreateTask(ctx, epicID, b.Title, "", deps)
		if err != nil {
			return created, err
		}
		if body := strings.TrimSpace(b.Body); body != "" {
			spec := fmt.Sprintf("# %s\n\n%s\n", b.Title, body)
			if err := p.store.WriteSpec(task.ID, spec); err != nil {
				return created, err
			}
		}
		byTitle[titleKey(b.Title)] = task.ID
		created = append(created, task)
	}
	return created, nil
}

func scoutPrompt(target, angle string, idea bool) string {
	var b strings.Builder
	if idea {
		fmt.Fprintf(&b, "A rough idea is being shaped into a plan: %s\n\n", target)
	} else {
		fmt.Fprintf(&b, "Planned work: %s\n\n", target)
	}
	fmt.Fprintf(&b, "Your angle: %s\n", angle)
	b.WriteString("\nReport findings as concise markdown.\n")
	return b.String()
}

func analystPrompt(target string, idea bool, reports []string) string {
	var b strings.Builder
	if idea {
		fmt.Fprintf(&b, "Shape this idea into an executable plan: %s\n\n", target)
	} else {
		fmt.Fprintf(&b, "Break this work into executable tasks: %s\n\n", target)
	}
	b.WriteString("Scout reports follow.\n")
	for i, r := range reports {
		fmt.Fprintf(&b, "\n--- Scout report %d ---\n%s\n", i+1, r)
	}
	return b.String()
}

// TaskBlock is one parsed task from the analyst's output.
type TaskBlock struct {
	Title   string
	Depends []string
	Body    string
}

var taskHeaderRe = regexp.MustCompile(`(?m)^###\s+Task:\s*(.+?)\s*$`)

// ParseTaskBlocks extracts "### Task:" blocks from analyst output. A
// "Depends:" line directly under the header lists dependency titles;
// "none" or a missing line means no dependencies. The rest of the
// block is the task's spec body.
func ParseTaskBlocks(output string) []TaskBlock {
	locs := taskHeaderRe.FindAllStringSubmatchIndex(output, -1)
	blocks := make([]TaskBlock, 0, len(locs))
	for i, loc := range locs {
		title := strings.TrimSpace(output[loc[2]:loc[3]])
		end := len(output)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		body := strings.TrimSpace(output[loc[1]:end])
		var depends []string
		if rest, found := strings.CutPrefix(body, "Depends:"); found {
			line := rest
			if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
				line = rest[:nl]
				body = strings.TrimSpace(rest[nl+1:])
			} else {
				body = ""
			}
			depends = parseDependsLine(line)
		}
		if title == "" {
			continue
		}
		blocks = append(blocks, TaskBlock{Title: title, Depends: depends, Body: body})
	}
	return blocks
}

func parseDependsLine(line string) []string {
	var out []string
	for _, part := range strings.Split(line, ",") {
		part = strings.TrimSpace(part)
		if part == "" || strings.EqualFold(part, "none") {
			continue
		}
		out = append(out, part)
	}
	return out
}

func titleKey(title string) string {
	return strings.Join(strings.Fields(strings.ToLower(title)), " ")
}
