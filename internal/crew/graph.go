package crew

import "sort"

// ReadyTasks returns the epic's tasks that are todo with every
// dependency done. The executor picks its next wave from this set.
func (s *Store) ReadyTasks(epicID string) ([]*Task, error) {
	tasks, err := s.ListTasks(epicID)
	if err != nil {
		return nil, err
	}
	return readySet(tasks), nil
}

func readySet(tasks []*Task) []*Task {
	byID := make(map[string]*Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}
	var ready []*Task
	for _, t := range tasks {
		if t.Status != TaskTodo {
			continue
		}
		ok := true
		for _, dep := range t.DependsOn {
			d, known := byID[dep]
			if !known || d.Status != TaskDone {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, t)
		}
	}
	return ready
}

// detectCycles runs a DFS with a recursion stack over the dependency
// edges and returns each cycle found, expressed as the task ids on the
// cycle path. Unknown dependency targets are skipped here; missing
// references are reported separately.
func detectCycles(tasks []*Task) [][]string {
	byID := make(map[string]*Task, len(tasks))
	ids := make([]string, 0, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
		ids = append(ids, t.ID)
	}
	sort.Strings(ids)

	visited := make(map[string]bool)
	onStack := make(map[string]bool)
	var stack []string
	var cycles [][]string

	var visit func(id string)
	visit = func(id string) {
		visited[id] = true
		onStack[id] = true
		stack = append(stack, id)
		for _, dep := range byID[id].DependsOn {
			if _, known := byID[dep]; !known {
				continue
			}
			if onStack[dep] {
				// Slice the current path from the first occurrence of
				// dep to close the cycle.
				start := 0
				for i, v := range stack {
					if v == dep {
						start = i
						break
					}
				}
				cycles = append(cycles, append([]string(nil), stack[start:]...))
				continue
			}
			if !visited[dep] {
				visit(dep)
			}
		}
		stack = stack[:len(stack)-1]
		onStack[id] = false
	}

	for _, id := range ids {
		if !visited[id] {
			visit(id)
		}
	}
	return cycles
}

// missingDeps returns, per task, the depends_on entries that name no
// task in the set.
func missingDeps(tasks []*Task) map[string][]string {
	byID := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = true
	}
	missing := make(map[string][]string)
	for _, t := range tasks {
		for _, dep := range t.DependsOn {
			if !byID[dep] {
				missing[t.ID] = append(missing[t.ID], dep)
			}
		}
	}
	return missing
}
