package crew

import (
	"fmt"
	"sort"
	"strings"
)

// Report collects validation findings for one epic. Errors make the
// graph unusable for scheduling; warnings are advisory.
type Report struct {
	EpicID   string   `json:"epic_id"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// OK reports whether validation found no errors.
func (r *Report) OK() bool { return len(r.Errors) == 0 }

// ValidateEpic checks an epic's task graph: missing dependency targets
// and cycles are errors; stub specs and count drift are warnings.
func (s *Store) ValidateEpic(id string) (*Report, error) {
	epic, err := s.GetEpic(id)
	if err != nil {
		return nil, err
	}
	tasks, err := s.ListTasks(id)
	if err != nil {
		return nil, err
	}
	report := &Report{EpicID: id}

	missing := missingDeps(tasks)
	ids := make([]string, 0, len(missing))
	for tid := range missing {
		ids = append(ids, tid)
	}
	sort.Strings(ids)
	for _, tid := range ids {
		report.Errors = append(report.Errors,
			fmt.Sprintf("%s depends on unknown task(s): %s", tid, strings.Join(missing[tid], ", ")))
	}

	for _, cycle := range detectCycles(tasks) {
		report.Errors = append(report.Errors,
			fmt.Sprintf("dependency cycle: %s", strings.Join(cycle, " -> ")))
	}

	for _, t := range tasks {
		if content, ok := s.ReadSpec(t.ID); !ok || IsStubSpec(content) {
			report.Warnings = append(report.Warnings, fmt.Sprintf("%s has a stub spec", t.ID))
		}
	}

	done := 0
	for _, t := range tasks {
		if t.Status == TaskDone {
			done++
		}
	}
	if epic.TaskCount != len(tasks) {
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("task_count is %d but %d task files exist", epic.TaskCount, len(tasks)))
	}
	if epic.CompletedCount != done {
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("completed_count is %d but %d tasks are done", epic.CompletedCount, done))
	}
	return report, nil
}
