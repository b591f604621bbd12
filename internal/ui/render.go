package ui

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// AgentRow is one mesh agent prepared for rendering.
type AgentRow struct {
	Name         string
	Tier         string
	Model        string
	Status       string
	You          bool
	Human        bool
	Reservations int
}

func truncate(s string, max int) string {
	if max < 4 {
		max = 4
	}
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

// RenderAgentsTable renders the agent list grouped by status tier.
func RenderAgentsTable(rows []AgentRow, width int) string {
	if len(rows) == 0 {
		return TableHintStyle.Render("No active agents.")
	}

	data := [][]string{}
	for _, r := range rows {
		name := r.Name
		if r.You {
			name += " (you)"
		}
		if r.Human {
			name += " (human)"
		}
		held := ""
		if r.Reservations > 0 {
			held = strconv.Itoa(r.Reservations)
		}
		marker := TierGlyph(r.Tier) + " " + r.Tier
		data = append(data, []string{marker, name, r.Model, truncate(r.Status, width-50), held})
	}

	return table.New().
		Headers("", "Agent", "Model", "Status", "Held").
		Border(lipgloss.RoundedBorder()).
		BorderStyle(TableBorderStyle).
		Width(width).
		Rows(data...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return TableHeaderStyle
			}
			style := lipgloss.NewStyle().Padding(0, 1).Align(lipgloss.Left)
			if col == 4 {
				style = style.Align(lipgloss.Right)
			}
			return style
		}).
		String()
}

// ClaimRow is one live claim on the swarm board.
type ClaimRow struct {
	TaskID string
	Agent  string
	Age    string
	Reason string
}

// CompletionRow is one completed task on the swarm board.
type CompletionRow struct {
	TaskID string
	By     string
	Age    string
	Notes  string
}

// RenderSwarmBoard renders claims and completions for one spec.
func RenderSwarmBoard(spec string, claims []ClaimRow, completions []CompletionRow, width int) string {
	var sections []string

	header := fmt.Sprintf("Swarm: %s", spec)
	sections = append(sections, TableHeaderStyle.Render(header))
	sections = append(sections, "")

	if len(claims) > 0 {
		rows := [][]string{}
		for _, c := range claims {
			rows = append(rows, []string{c.TaskID, c.Agent, c.Age, truncate(c.Reason, width-45)})
		}
		t := table.New().
			Headers("Task", "Claimed by", "Age", "Reason").
			Border(lipgloss.RoundedBorder()).
			BorderStyle(TableBorderStyle).
			Width(width).
			Rows(rows...).
			StyleFunc(func(row, col int) lipgloss.Style {
				if row == table.HeaderRow {
					return TableHeaderStyle
				}
				return lipgloss.NewStyle().Padding(0, 1).Align(lipgloss.Left)
			})
		sections = append(sections, t.String())
		sections = append(sections, "")
	}

	if len(completions) > 0 {
		rows := [][]string{}
		for _, c := range completions {
			rows = append(rows, []string{c.TaskID, c.By, c.Age, truncate(c.Notes, width-45)})
		}
		t := table.New().
			Headers("Done", "By", "Age", "Notes").
			Border(lipgloss.RoundedBorder()).
			BorderStyle(TableBorderStyle).
			Width(width).
			Rows(rows...).
			StyleFunc(func(row, col int) lipgloss.Style {
				if row == table.HeaderRow {
					return TableSuccessStyle.Bold(true).Align(lipgloss.Center)
				}
				return lipgloss.NewStyle().Padding(0, 1).Align(lipgloss.Left)
			})
		sections = append(sections, t.String())
	}

	if len(claims) == 0 && len(completions) == 0 {
		sections = append(sections, TableHintStyle.Render("No claims or completions yet."))
	}

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// EpicRow is one epic prepared for rendering.
type EpicRow struct {
	ID     string
	Title  string
	Status string
	Done   int
	Total  int
}

// RenderEpicsTable renders the epic list with progress counts.
func RenderEpicsTable(rows []EpicRow, width int) string {
	if len(rows) == 0 {
		return TableHintStyle.Render("No epics.")
	}

	data := [][]string{}
	for _, r := range rows {
		progress := fmt.Sprintf("%d/%d", r.Done, r.Total)
		status := r.Status
		switch r.Status {
		case "completed":
			status = TableSuccessStyle.Render(r.Status)
		case "blocked":
			status = TableWarningStyle.Render(r.Status)
		}
		data = append(data, []string{r.ID, truncate(r.Title, width-40), status, progress})
	}

	return table.New().
		Headers("Epic", "Title", "Status", "Tasks").
		Border(lipgloss.RoundedBorder()).
		BorderStyle(TableBorderStyle).
		Width(width).
		Rows(data...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return TableHeaderStyle
			}
			style := lipgloss.NewStyle().Padding(0, 1).Align(lipgloss.Left)
			if col == 3 {
				style = style.Align(lipgloss.Right)
			}
			return style
		}).
		String()
}

// TaskRow is one task prepared for rendering.
type TaskRow struct {
	ID       string
	Title    string
	Status   string
	Assignee string
	Deps     []string
}

// RenderTasksTable renders an epic's tasks.
func RenderTasksTable(rows []TaskRow, width int) string {
	if len(rows) == 0 {
		return TableHintStyle.Render("No tasks.")
	}

	data := [][]string{}
	for _, r := range rows {
		status := r.Status
		switch r.Status {
		case "done":
			status = TableSuccessStyle.Render(r.Status)
		case "blocked":
			status = TableWarningStyle.Render(r.Status)
		case "in_progress":
			status = lipgloss.NewStyle().Foreground(ColorAccent).Render(r.Status)
		}
		deps := ""
		if len(r.Deps) > 0 {
			deps = fmt.Sprintf("%d", len(r.Deps))
		}
		data = append(data, []string{r.ID, truncate(r.Title, width-50), status, r.Assignee, deps})
	}

	return table.New().
		Headers("Task", "Title", "Status", "Assignee", "Deps").
		Border(lipgloss.RoundedBorder()).
		BorderStyle(TableBorderStyle).
		Width(width).
		Rows(data...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return TableHeaderStyle
			}
			style := lipgloss.NewStyle().Padding(0, 1).Align(lipgloss.Left)
			if col == 4 {
				style = style.Align(lipgloss.Right)
			}
			return style
		}).
		String()
}

// RunRow is one worker run from the artifact index.
type RunRow struct {
	TaskID    string
	Agent     string
	Role      string
	When      string
	Exit      int
	Truncated bool
}

// RenderRunsTable renders recent worker runs.
func RenderRunsTable(rows []RunRow, width int) string {
	if len(rows) == 0 {
		return TableHintStyle.Render("No recorded runs.")
	}

	data := [][]string{}
	for _, r := range rows {
		exit := strconv.Itoa(r.Exit)
		if r.Exit != 0 {
			exit = TableWarningStyle.Render(exit)
		}
		out := ""
		if r.Truncated {
			out = "truncated"
		}
		data = append(data, []string{r.TaskID, r.Agent, r.Role, r.When, exit, out})
	}

	return table.New().
		Headers("Task", "Agent", "Role", "Started", "Exit", "Output").
		Border(lipgloss.RoundedBorder()).
		BorderStyle(TableBorderStyle).
		Width(width).
		Rows(data...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return TableHeaderStyle
			}
			style := lipgloss.NewStyle().Padding(0, 1).Align(lipgloss.Left)
			if col == 4 {
				style = style.Align(lipgloss.Right)
			}
			return style
		}).
		String()
}
