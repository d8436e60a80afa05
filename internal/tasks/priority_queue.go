package tasks

import "sort"

// runnableStatuses are the statuses a task must be in to be considered for
// execution at all.
var runnableStatuses = map[Status]bool{
	StatusTodo:     true,
	StatusApproved: true,
}

// Runnable returns every task in snapshot that is eligible to run right now:
// its own status is todo or approved, and every one of its dependency ids
// resolves to a task whose status is done. The result is ordered by effective
// priority (the highest-priority weight found by walking parent_id upward,
// cycle-safe), with ties broken by creation time.
func Runnable(snapshot []*Task) []*Task {
	byID := make(map[string]*Task, len(snapshot))
	for _, t := range snapshot {
		byID[t.ID] = t
	}

	var candidates []*Task
	for _, t := range snapshot {
		if !runnableStatuses[t.Status] {
			continue
		}
		if !dependenciesSatisfied(t, byID) {
			continue
		}
		candidates = append(candidates, t)
	}

	weight := make(map[string]int, len(candidates))
	for _, t := range candidates {
		weight[t.ID] = effectivePriorityWeight(t, byID)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		wi, wj := weight[candidates[i].ID], weight[candidates[j].ID]
		if wi != wj {
			return wi < wj
		}
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})
	return candidates
}

// NextTask returns the head of Runnable(snapshot), or nil if nothing is
// currently runnable.
func NextTask(snapshot []*Task) *Task {
	runnable := Runnable(snapshot)
	if len(runnable) == 0 {
		return nil
	}
	return runnable[0]
}

func dependenciesSatisfied(t *Task, byID map[string]*Task) bool {
	for _, depID := range t.Dependencies {
		dep, ok := byID[depID]
		if !ok || dep.Status != StatusDone {
			return false
		}
	}
	return true
}

// effectivePriorityWeight walks parent_id upward from t, returning the
// minimum (highest-priority) weight seen along the chain including t itself.
// A visited set guards against a cyclic parent_id chain.
func effectivePriorityWeight(t *Task, byID map[string]*Task) int {
	best := t.Priority.Weight()
	visited := map[string]bool{t.ID: true}

	current := t
	for current.ParentID != "" {
		if visited[current.ParentID] {
			break
		}
		visited[current.ParentID] = true

		parent, ok := byID[current.ParentID]
		if !ok {
			break
		}
		if w := parent.Priority.Weight(); w < best {
			best = w
		}
		current = parent
	}
	return best
}
