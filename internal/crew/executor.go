package crew

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/untoldecay/pi-messenger/internal/debug"
	"github.com/untoldecay/pi-messenger/internal/inbox"
	"github.com/untoldecay/pi-messenger/internal/paths"
	"github.com/untoldecay/pi-messenger/internal/proc"
)

// Worker output caps. Truncation drops whole lines first; if a single
// screenful of lines still exceeds the byte cap, the cut moves to the
// largest line boundary under it.
const (
	DefaultMaxOutputBytes = 200 * 1024
	DefaultMaxOutputLines = 5000

	defaultShutdownGrace = 30 * time.Second
	termGrace            = 5 * time.Second

	// EnvWorker marks spawned worker processes so they skip auto-join
	// and other interactive behavior.
	EnvWorker = "PI_CREW_WORKER"

	maxStreamLine = 1024 * 1024
)

// AgentTask is one unit of work for the executor: a role, a prompt,
// and the mesh name the worker will run under.
type AgentTask struct {
	ID        string
	Role      *AgentDef
	AgentName string
	Prompt    string
	MaxBytes  int
	MaxLines  int
}

// StreamEvent is the envelope of one JSON line on a worker's stdout.
// Unknown fields are ignored; unparseable lines are kept as raw text.
type StreamEvent struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype,omitempty"`
	Message string `json:"message,omitempty"`
	Text    string `json:"text,omitempty"`
	Tool    string `json:"tool_name,omitempty"`
	IsError bool   `json:"is_error,omitempty"`
}

// Progress reports executor activity back to the caller.
type Progress struct {
	TaskID string
	Stage  string // started, event, finished, failed
	Detail string
}

// WorkerResult is the outcome of one agent-task.
type WorkerResult struct {
	Task        *AgentTask
	Output      string
	Truncated   bool
	Events      int
	ExitCode    int
	Err         error
	StartedAt   time.Time
	FinishedAt  time.Time
	ArtifactDir string
}

// Failed reports whether the run ended in error.
func (r *WorkerResult) Failed() bool { return r.Err != nil || r.ExitCode != 0 }

// Executor runs agent-tasks as child processes of the host runtime
// with bounded concurrency. Cancellation walks the graceful-shutdown
// ladder instead of killing workers outright.
type Executor struct {
	store       *Store
	command     string
	baseArgs    []string
	concurrency int
	grace       time.Duration
	artifacts   *ArtifactLog

	mu         sync.Mutex
	onProgress func(Progress)
}

// ExecutorOptions configure a new Executor. Command is the host agent
// binary; zero Concurrency means 1.
type ExecutorOptions struct {
	Command     string
	Args        []string
	Concurrency int
	Grace       time.Duration
	Artifacts   *ArtifactLog
	OnProgress  func(Progress)
}

// NewExecutor returns an executor bound to a store.
func NewExecutor(store *Store, opts ExecutorOptions) *Executor {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.Grace <= 0 {
		opts.Grace = defaultShutdownGrace
	}
	return &Executor{
		store:       store,
		command:     opts.Command,
		baseArgs:    opts.Args,
		concurrency: opts.Concurrency,
		grace:       opts.Grace,
		artifacts:   opts.Artifacts,
		onProgress:  opts.OnProgress,
	}
}

func (x *Executor) progress(p Progress) {
	x.mu.Lock()
	fn := x.onProgress
	x.mu.Unlock()
	if fn != nil {
		fn(p)
	}
}

// Run executes all tasks with at most the configured concurrency and
// returns results in input order. A cancelled context marks tasks that
// never started with the context error.
func (x *Executor) Run(ctx context.Context, tasks []*AgentTask) []*WorkerResult {
	runID := fmt.Sprintf("run-%s-%s", time.Now().UTC().Format("20060102-150405"), randomSuffix(3))
	sem := make(chan struct{}, x.concurrency)
	results := make([]*WorkerResult, len(tasks))
	var wg sync.WaitGroup
	for i, task := range tasks {
		wg.Add(1)
		go func(i int, task *AgentTask) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[i] = &WorkerResult{Task: task, Err: ctx.Err()}
				return
			}
			results[i] = x.runOne(ctx, runID, task)
		}(i, task)
	}
	wg.Wait()
	return results
}

func (x *Executor) runOne(ctx context.Context, runID string, task *AgentTask) *WorkerResult {
	res := &WorkerResult{Task: task, StartedAt: time.Now().UTC()}
	x.progress(Progress{TaskID: task.ID, Stage: "started", Detail: task.AgentName})

	maxBytes := task.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxOutputBytes
	}
	maxLines := task.MaxLines
	if maxLines <= 0 {
		maxLines = DefaultMaxOutputLines
	}

	args, cleanup, err := x.buildArgs(task)
	if err != nil {
		res.Err = err
		res.FinishedAt = time.Now().UTC()
		return res
	}
	defer cleanup()

	cmd := exec.Command(x.command, args...)
	cmd.Dir = x.store.dir
	// Own process group, so shutdown signals reach the worker's whole
	// subtree.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Env = append(os.Environ(),
		EnvWorker+"=1",
		"PI_AGENT_NAME="+task.AgentName,
	)
	cmd.Stderr = nil

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		res.Err = fmt.Errorf("stdout pipe: %w", err)
		res.FinishedAt = time.Now().UTC()
		return res
	}
	if err := cmd.Start(); err != nil {
		res.Err = fmt.Errorf("start %s: %w", x.command, err)
		res.FinishedAt = time.Now().UTC()
		x.progress(Progress{TaskID: task.ID, Stage: "failed", Detail: res.Err.Error()})
		return res
	}

	waited := make(chan struct{})
	go x.watchCancel(ctx, cmd.Process.Pid, task.AgentName, waited)

	var output strings.Builder
	var stream strings.Builder
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxStreamLine)
	for scanner.Scan() {
		line := scanner.Text()
		stream.WriteString(line)
		stream.WriteByte('\n')
		res.Events++
		var ev StreamEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			output.WriteString(line)
			output.WriteByte('\n')
			continue
		}
		if text := eventText(ev); text != "" {
			output.WriteString(text)
			if !strings.HasSuffix(text, "\n") {
				output.WriteByte('\n')
			}
		}
		x.progress(Progress{TaskID: task.ID, Stage: "event", Detail: ev.Type})
	}
	scanErr := scanner.Err()
	waitErr := cmd.Wait()
	close(waited)
	res.FinishedAt = time.Now().UTC()

	res.Output, res.Truncated = Truncate(output.String(), maxLines, maxBytes)
	res.ExitCode = exitCode(waitErr)
	switch {
	case ctx.Err() != nil:
		res.Err = ctx.Err()
	case waitErr != nil:
		res.Err = fmt.Errorf("%s exited: %w", x.command, waitErr)
	case scanErr != nil:
		res.Err = fmt.Errorf("read stream: %w", scanErr)
	}

	x.saveArtifacts(runID, task, res, stream.String())
	stage := "finished"
	if res.Failed() {
		stage = "failed"
	}
	x.progress(Progress{TaskID: task.ID, Stage: stage})
	return res
}

// eventText extracts display text from one stream event.
func eventText(ev StreamEvent) string {
	switch ev.Type {
	case "assistant", "result", "system":
		if ev.Message != "" {
			return ev.Message
		}
		return ev.Text
	default:
		return ""
	}
}

// buildArgs assembles the well-known worker invocation: JSON-stream
// output, sessions off, the prompt, provider/model selectors from the
// role, and the role's system prompt via a temp file.
func (x *Executor) buildArgs(task *AgentTask) (args []string, cleanup func(), err error) {
	cleanup = func() {}
	args = append(args, x.baseArgs...)
	args = append(args, "--output-format", "stream-json", "--no-session", "-p", task.Prompt)
	if task.Role != nil {
		if task.Role.Provider != "" {
			args = append(args, "--provider", task.Role.Provider)
		}
		if task.Role.Model != "" {
			args = append(args, "--model", task.Role.Model)
		}
		if task.Role.SystemPrompt != "" {
			f, err := os.CreateTemp("", "pimsg-prompt-*.md")
			if err != nil {
				return nil, cleanup, err
			}
			if _, err := f.WriteString(task.Role.SystemPrompt); err != nil {
				f.Close()
				os.Remove(f.Name())
				return nil, cleanup, err
			}
			f.Close()
			cleanup = func() { os.Remove(f.Name()) }
			args = append(args, "--append-system-prompt-file", f.Name())
		}
	}
	return args, cleanup, nil
}

// watchCancel walks the shutdown ladder when the context is cancelled
// while the worker still runs: a steer message first, the grace period,
// SIGTERM with a short wait, SIGKILL last.
func (x *Executor) watchCancel(ctx context.Context, pid int, agentName string, waited <-chan struct{}) {
	select {
	case <-waited:
		return
	case <-ctx.Done():
	}
	if _, err := inbox.Send(x.store.dir, "crew", agentName,
		"Wrap up your current step and finish: the run is shutting down.", nil); err != nil {
		debug.Logf("crew: steer message to %s: %v", agentName, err)
	}
	if waitDone(waited, x.grace) {
		return
	}
	_ = proc.Terminate(pid)
	if waitDone(waited, termGrace) {
		return
	}
	debug.Logf("crew: killing worker pid %d after grace", pid)
	_ = proc.Kill(pid)
}

func waitDone(ch <-chan struct{}, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ch:
		return true
	case <-t.C:
		return false
	}
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// saveArtifacts writes prompt, output, raw stream, and metadata under
// the artifacts directory and indexes the run. Failures are logged and
// otherwise ignored; artifacts never fail a run.
func (x *Executor) saveArtifacts(runID string, task *AgentTask, res *WorkerResult, stream string) {
	dir := filepath.Join(paths.ArtifactsDir(x.store.dir), runID, task.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		debug.Logf("crew: artifacts dir: %v", err)
		return
	}
	res.ArtifactDir = dir
	write := func(name, content string) {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			debug.Logf("crew: write artifact %s: %v", name, err)
		}
	}
	write("prompt.md", task.Prompt)
	out := res.Output
	if res.Truncated {
		out += "\n[output truncated]\n"
	}
	write("output.txt", out)
	write("stream.jsonl", stream)

	meta := map[string]any{
		"run_id":      runID,
		"task_id":     task.ID,
		"agent_name":  task.AgentName,
		"role":        roleName(task.Role),
		"command":     x.command,
		"started_at":  res.StartedAt.Format(time.RFC3339Nano),
		"finished_at": res.FinishedAt.Format(time.RFC3339Nano),
		"exit_code":   res.ExitCode,
		"events":      res.Events,
		"truncated":   res.Truncated,
	}
	if res.Err != nil {
		meta["error"] = res.Err.Error()
	}
	data, _ := json.MarshalIndent(meta, "", "  ")
	write("meta.json", string(data))

	if x.artifacts != nil {
		rec := &RunRecord{
			RunID:       runID,
			TaskID:      task.ID,
			AgentName:   task.AgentName,
			Role:        roleName(task.Role),
			StartedAt:   res.StartedAt,
			FinishedAt:  res.FinishedAt,
			ExitCode:    res.ExitCode,
			OutputBytes: len(res.Output),
			Truncated:   res.Truncated,
		}
		if res.Err != nil {
			rec.Error = res.Err.Error()
		}
		if err := x.artifacts.RecordRun(rec); err != nil {
			debug.Logf("crew: index run: %v", err)
		}
	}
}

func roleName(def *AgentDef) string {
	if def == nil {
		return ""
	}
	return def.Name
}

// Truncate enforces the line cap, then the byte cap. Both cuts land on
// line boundaries; the byte cut binary-searches the boundary list for
// the largest prefix that fits.
func Truncate(s string, maxLines, maxBytes int) (string, bool) {
	truncated := false
	if maxLines > 0 {
		if cut, ok := cutAfterLines(s, maxLines); ok {
			s = cut
			truncated = true
		}
	}
	if maxBytes > 0 && len(s) > maxBytes {
		boundaries := lineBoundaries(s)
		// First boundary beyond the cap; everything before it fits.
		i := sort.Search(len(boundaries), func(i int) bool { return boundaries[i] > maxBytes })
		if i == 0 {
			s = s[:maxBytes]
		} else {
			s = s[:boundaries[i-1]]
		}
		truncated = true
	}
	return s, truncated
}

// cutAfterLines returns the prefix holding the first n lines when the
// input has more than n.
func cutAfterLines(s string, n int) (string, bool) {
	idx := 0
	for i := 0; i < n; i++ {
		next := strings.IndexByte(s[idx:], '\n')
		if next < 0 {
			return s, false
		}
		idx += next + 1
	}
	if idx >= len(s) {
		return s, false
	}
	return s[:idx], true
}

// lineBoundaries returns the offsets just after each newline, plus the
// end of the string.
func lineBoundaries(s string) []int {
	var out []int
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			out = append(out, i+1)
		}
	}
	if len(out) == 0 || out[len(out)-1] != len(s) {
		out = append(out, len(s))
	}
	return out
}
