package models

import "time"

// TaskStatus is the lifecycle state of a Task.
type TaskStatus string

const (
	TaskTodo             TaskStatus = "todo"
	TaskInProgress       TaskStatus = "in_progress"
	TaskBlocked          TaskStatus = "blocked"
	TaskWaitingApproval  TaskStatus = "waiting_approval"
	TaskApproved         TaskStatus = "approved"
	TaskDone             TaskStatus = "done"
	TaskFailed           TaskStatus = "failed"
	TaskCancelled        TaskStatus = "cancelled"
	TaskPaused           TaskStatus = "paused"
	TaskWaitingReview    TaskStatus = "waiting_review"
)

// TaskPriority is a task's declared priority band.
type TaskPriority string

const (
	PriorityScheduled TaskPriority = "scheduled"
	PriorityLow       TaskPriority = "low"
	PriorityMedium    TaskPriority = "medium"
	PriorityHigh      TaskPriority = "high"
	PriorityCritical  TaskPriority = "critical"
)

// Weight returns the priority's sort weight. Lower weight runs first:
// critical < high < medium < low < scheduled.
func (p TaskPriority) Weight() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	case PriorityScheduled:
		return 4
	default:
		return 5
	}
}

// Task is a node in the persistent task graph.
//
// Invariants: a task is never its own dependency; dependency ids need not
// resolve to an existing task (dangling dependencies are simply unsatisfied);
// deleting a task clears ParentID on its children and removes it from every
// other task's Dependencies.
type Task struct {
	ID             string         `json:"id"`
	Title          string         `json:"title"`
	Description    string         `json:"description,omitempty"`
	Status         TaskStatus     `json:"status"`
	Priority       TaskPriority   `json:"priority"`
	ParentID       string         `json:"parent_id,omitempty"`
	Dependencies   []string       `json:"dependencies,omitempty"`
	Tags           []string       `json:"tags,omitempty"`
	AssignedTo     string         `json:"assigned_to,omitempty"`
	RequiresReview bool           `json:"requires_review,omitempty"`
	ReviewFeedback string         `json:"review_feedback,omitempty"`
	Context        map[string]any `json:"context,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	ResultSummary  string         `json:"result_summary,omitempty"`
}

// Clone returns a deep-enough copy of t safe to hand to a caller without
// aliasing the store's internal slices/maps.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	clone := *t
	clone.Dependencies = append([]string(nil), t.Dependencies...)
	clone.Tags = append([]string(nil), t.Tags...)
	if t.Context != nil {
		clone.Context = make(map[string]any, len(t.Context))
		for k, v := range t.Context {
			clone.Context[k] = v
		}
	}
	if t.CompletedAt != nil {
		completedAt := *t.CompletedAt
		clone.CompletedAt = &completedAt
	}
	return &clone
}

// HasDependency reports whether id appears in t.Dependencies.
func (t *Task) HasDependency(id string) bool {
	for _, dep := range t.Dependencies {
		if dep == id {
			return true
		}
	}
	return false
}
