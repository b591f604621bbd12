package ui

import (
	"strings"
	"testing"
)

func TestShouldUseColorEnvOverrides(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want bool
	}{
		{"NO_COLOR wins", map[string]string{"NO_COLOR": "1", "CLICOLOR_FORCE": "1"}, false},
		{"CLICOLOR zero disables", map[string]string{"CLICOLOR": "0"}, false},
		{"CLICOLOR_FORCE enables without TTY", map[string]string{"CLICOLOR_FORCE": "1"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("NO_COLOR", "")
			t.Setenv("CLICOLOR", "")
			t.Setenv("CLICOLOR_FORCE", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if got := ShouldUseColor(); got != tt.want {
				t.Errorf("ShouldUseColor() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestShouldUseEmojiDisabledByEnv(t *testing.T) {
	t.Setenv("PIMSG_NO_EMOJI", "1")
	if ShouldUseEmoji() {
		t.Error("ShouldUseEmoji() = true with PIMSG_NO_EMOJI set")
	}
}

func TestRenderAgentsTable(t *testing.T) {
	rows := []AgentRow{
		{Name: "swift-otter", Tier: "active", Model: "opus", Status: "debugging...", You: true},
		{Name: "calm-heron", Tier: "idle", Model: "sonnet", Reservations: 2},
	}
	out := RenderAgentsTable(rows, 100)
	for _, want := range []string{"swift-otter", "(you)", "calm-heron", "Agent", "Model"} {
		if !strings.Contains(out, want) {
			t.Errorf("agents table missing %q:\n%s", want, out)
		}
	}

	if out := RenderAgentsTable(nil, 80); !strings.Contains(out, "No active agents") {
		t.Errorf("empty table = %q", out)
	}
}

func TestRenderSwarmBoard(t *testing.T) {
	claims := []ClaimRow{{TaskID: "3.1", Agent: "swift-otter", Age: "2m ago", Reason: "auth work"}}
	completions := []CompletionRow{{TaskID: "2.4", By: "calm-heron", Age: "1h ago"}}
	out := RenderSwarmBoard("docs/plan.md", claims, completions, 100)
	for _, want := range []string{"docs/plan.md", "3.1", "swift-otter", "2.4", "calm-heron"} {
		if !strings.Contains(out, want) {
			t.Errorf("swarm board missing %q:\n%s", want, out)
		}
	}

	empty := RenderSwarmBoard("docs/plan.md", nil, nil, 80)
	if !strings.Contains(empty, "No claims or completions") {
		t.Errorf("empty board = %q", empty)
	}
}

func TestRenderEpicsAndTasks(t *testing.T) {
	epics := RenderEpicsTable([]EpicRow{
		{ID: "c-1-abc", Title: "Auth overhaul", Status: "active", Done: 1, Total: 4},
	}, 100)
	for _, want := range []string{"c-1-abc", "Auth overhaul", "1/4"} {
		if !strings.Contains(epics, want) {
			t.Errorf("epics table missing %q:\n%s", want, epics)
		}
	}

	tasks := RenderTasksTable([]TaskRow{
		{ID: "c-1-abc.1", Title: "Add login", Status: "in_progress", Assignee: "swift-otter", Deps: []string{"c-1-abc.2"}},
	}, 100)
	for _, want := range []string{"c-1-abc.1", "Add login", "swift-otter"} {
		if !strings.Contains(tasks, want) {
			t.Errorf("tasks table missing %q:\n%s", want, tasks)
		}
	}
}

func TestRenderMarkdownFallsBackWhenNotTTY(t *testing.T) {
	// Tests never run on a TTY stdout, so the raw text comes back.
	in := "# Title\n\nbody\n"
	if got := RenderMarkdown(in, 80); got != in {
		t.Errorf("RenderMarkdown non-TTY = %q, want raw input", got)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 40); got != "short" {
		t.Errorf("truncate(short) = %q", got)
	}
	got := truncate(strings.Repeat("x", 50), 10)
	if len(got) != 10 || !strings.HasSuffix(got, "...") {
		t.Errorf("truncate long = %q", got)
	}
}
