// Package tasks implements the orchestrator's task graph: a persistent store
// of tasks with dependencies and parent/child relationships (C9), and a
// priority queue that ranks the tasks currently eligible to run (C10).
//
// The task shape itself - Task, Status, Priority - is the shared
// pkg/models.Task type: every component that reads or writes a task
// (agents, gateways, the Plan Director) speaks that same vocabulary, not a
// package-private copy of it.
package tasks

import "github.com/haasonsaas/orchestra/pkg/models"

// Status is the lifecycle state of a task.
type Status = models.TaskStatus

// Priority is a coarse scheduling weight. Lower Weight() runs first.
// Ordering: critical < high < medium < low < scheduled.
type Priority = models.TaskPriority

const (
	StatusTodo            = models.TaskTodo
	StatusApproved        = models.TaskApproved
	StatusInProgress      = models.TaskInProgress
	StatusWaitingApproval = models.TaskWaitingApproval
	StatusWaitingReview   = models.TaskWaitingReview
	StatusPaused          = models.TaskPaused
	StatusBlocked         = models.TaskBlocked
	StatusDone            = models.TaskDone
	StatusFailed          = models.TaskFailed
	StatusCancelled       = models.TaskCancelled
)

const (
	PriorityCritical  = models.PriorityCritical
	PriorityHigh      = models.PriorityHigh
	PriorityMedium    = models.PriorityMedium
	PriorityLow       = models.PriorityLow
	PriorityScheduled = models.PriorityScheduled
)

// Task is one node in the task graph.
type Task = models.Task

// PartialTask carries the subset of Task fields an UpdateTask call wants to
// change. A nil field is left untouched.
type PartialTask struct {
	Title          *string
	Description    *string
	Status         *Status
	Priority       *Priority
	ParentID       *string
	AssignedTo     *string
	RequiresReview *bool
	ReviewFeedback *string
	ResultSummary  *string
	Tags           []string
	Context        map[string]any
}
