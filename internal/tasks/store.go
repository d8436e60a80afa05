package tasks

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/haasonsaas/orchestra/internal/bus"
	"github.com/haasonsaas/orchestra/pkg/models"
)

// Publisher is the subset of the event bus the store needs. It is satisfied
// by *bus.EventBus; tests can supply a stub.
type Publisher interface {
	Publish(event bus.Event)
}

type nopPublisher struct{}

func (nopPublisher) Publish(bus.Event) {}

// Store is the persistent task graph (C9). It keeps every task in memory
// and mirrors the full set to a JSON file on disk on every mutation: each
// write goes to a sibling temp file first and is then atomically renamed
// over the target, so a crash mid-write never corrupts the existing file.
type Store struct {
	mu    sync.RWMutex
	tasks map[string]*Task

	path      string
	publisher Publisher
	logger    *slog.Logger
}

// Option configures a Store at construction time.
type Option func(*Store)

// WithPublisher wires the event bus every mutation publishes task_* events to.
func WithPublisher(publisher Publisher) Option {
	return func(s *Store) {
		if publisher != nil {
			s.publisher = publisher
		}
	}
}

// WithLogger overrides the store's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewStore opens (or creates) the task graph persisted at path. If path is
// empty, the store is in-memory only and never touches disk. A load failure
// is logged and the store starts empty rather than propagating the error -
// a corrupt or missing file must never block startup.
func NewStore(path string, opts ...Option) *Store {
	s := &Store{
		tasks:     make(map[string]*Task),
		path:      path,
		publisher: nopPublisher{},
		logger:    slog.Default().With("component", "task_store"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.load()
	return s
}

func (s *Store) load() {
	if s.path == "" {
		return
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Error("failed to load task store, starting empty", "path", s.path, "error", err)
		}
		return
	}
	var loaded []*Task
	if err := json.Unmarshal(data, &loaded); err != nil {
		s.logger.Error("failed to parse task store, starting empty", "path", s.path, "error", err)
		return
	}
	for _, task := range loaded {
		s.tasks[task.ID] = task
	}
}

// persist writes the full task set to disk atomically. Callers must hold
// s.mu (read or write) while building the snapshot passed in.
func (s *Store) persist(snapshot []*Task) error {
	if s.path == "" {
		return nil
	}
	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].ID < snapshot[j].ID })

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal task store: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".tasks-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("replace task store: %w", err)
	}
	return nil
}

func (s *Store) snapshotLocked() []*Task {
	snapshot := make([]*Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		snapshot = append(snapshot, t)
	}
	return snapshot
}

// AddTask inserts task, stamping CreatedAt/UpdatedAt if unset, persists, and
// publishes a task_created event.
func (s *Store) AddTask(task *Task) error {
	if task == nil || task.ID == "" {
		return fmt.Errorf("task must have a non-empty id")
	}
	for _, dep := range task.Dependencies {
		if dep == task.ID {
			return fmt.Errorf("task %q cannot depend on itself", task.ID)
		}
	}
	if task.Status == "" {
		task.Status = StatusTodo
	}
	if task.Priority == "" {
		task.Priority = PriorityMedium
	}

	s.mu.Lock()
	if _, exists := s.tasks[task.ID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("task %q already exists", task.ID)
	}
	now := time.Now()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now
	stored := task.Clone()
	s.tasks[task.ID] = stored
	err := s.persist(s.snapshotLocked())
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.publisher.Publish(bus.NewEvent(models.EventTaskCreated, map[string]any{"task": stored}))
	return nil
}

// GetTask returns a copy of the task with id, or nil if not found.
func (s *Store) GetTask(id string) *Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tasks[id].Clone()
}

// ListTasks returns tasks matching the given filters. A zero value for a
// filter means "don't filter on this field".
func (s *Store) ListTasks(status Status, priority Priority) []*Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Task
	for _, t := range s.tasks {
		if status != "" && t.Status != status {
			continue
		}
		if priority != "" && t.Priority != priority {
			continue
		}
		result = append(result, t.Clone())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result
}

// UpdateStatus transitions task id to newStatus and publishes the matching
// event: status_changed carrying {task_id, old_status, new_status}, or, for
// the terminal statuses done/failed, a completed/failed event carrying the
// full task snapshot.
func (s *Store) UpdateStatus(id string, newStatus Status) error {
	s.mu.Lock()
	task, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("task %q not found", id)
	}
	oldStatus := task.Status
	task.Status = newStatus
	now := time.Now()
	task.UpdatedAt = now
	if newStatus == StatusDone || newStatus == StatusFailed || newStatus == StatusCancelled {
		task.CompletedAt = &now
	}
	snapshot := task.Clone()
	err := s.persist(s.snapshotLocked())
	s.mu.Unlock()
	if err != nil {
		return err
	}

	switch newStatus {
	case StatusDone:
		s.publisher.Publish(bus.NewEvent(models.EventTaskCompleted, map[string]any{"task": snapshot}))
	case StatusFailed:
		s.publisher.Publish(bus.NewEvent(models.EventTaskFailed, map[string]any{"task": snapshot}))
	default:
		s.publisher.Publish(bus.NewEvent(models.EventTaskStatusChanged, map[string]any{
			"task_id": id, "old_status": oldStatus, "new_status": newStatus,
		}))
	}
	return nil
}

// UpdateTask applies a partial update and publishes task_updated, or, when
// the status changes, task_completed, task_failed or task_status_changed.
func (s *Store) UpdateTask(id string, partial PartialTask) error {
	s.mu.Lock()
	task, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("task %q not found", id)
	}

	oldStatus := task.Status
	if partial.Title != nil {
		task.Title = *partial.Title
	}
	if partial.Description != nil {
		task.Description = *partial.Description
	}
	if partial.Status != nil {
		task.Status = *partial.Status
	}
	if partial.Priority != nil {
		task.Priority = *partial.Priority
	}
	if partial.ParentID != nil {
		task.ParentID = *partial.ParentID
	}
	if partial.AssignedTo != nil {
		task.AssignedTo = *partial.AssignedTo
	}
	if partial.RequiresReview != nil {
		task.RequiresReview = *partial.RequiresReview
	}
	if partial.ReviewFeedback != nil {
		task.ReviewFeedback = *partial.ReviewFeedback
	}
	if partial.ResultSummary != nil {
		task.ResultSummary = *partial.ResultSummary
	}
	if partial.Tags != nil {
		task.Tags = partial.Tags
	}
	if partial.Context != nil {
		task.Context = partial.Context
	}
	now := time.Now()
	task.UpdatedAt = now
	if partial.Status != nil && (*partial.Status == StatusDone || *partial.Status == StatusFailed || *partial.Status == StatusCancelled) {
		task.CompletedAt = &now
	}
	snapshot := task.Clone()
	statusChanged := partial.Status != nil && *partial.Status != oldStatus
	err := s.persist(s.snapshotLocked())
	s.mu.Unlock()
	if err != nil {
		return err
	}

	if statusChanged {
		switch snapshot.Status {
		case StatusDone:
			s.publisher.Publish(bus.NewEvent(models.EventTaskCompleted, map[string]any{"task": snapshot}))
		case StatusFailed:
			s.publisher.Publish(bus.NewEvent(models.EventTaskFailed, map[string]any{"task": snapshot}))
		default:
			s.publisher.Publish(bus.NewEvent(models.EventTaskStatusChanged, map[string]any{
				"task_id": id, "old_status": oldStatus, "new_status": snapshot.Status,
			}))
		}
		return nil
	}
	s.publisher.Publish(bus.NewEvent(models.EventTaskUpdated, map[string]any{"task": snapshot}))
	return nil
}

// AddDependency records that task id depends on dependsOn completing first.
// dependsOn need not already exist in the store - a dangling dependency is
// simply treated as unsatisfied by the priority queue until it does.
func (s *Store) AddDependency(id, dependsOn string) error {
	if id == dependsOn {
		return fmt.Errorf("task %q cannot depend on itself", id)
	}
	s.mu.Lock()
	task, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("task %q not found", id)
	}
	for _, dep := range task.Dependencies {
		if dep == dependsOn {
			s.mu.Unlock()
			return nil
		}
	}
	task.Dependencies = append(task.Dependencies, dependsOn)
	task.UpdatedAt = time.Now()
	snapshot := task.Clone()
	err := s.persist(s.snapshotLocked())
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.publisher.Publish(bus.NewEvent(models.EventTaskUpdated, map[string]any{"task": snapshot}))
	return nil
}

// RemoveDependency removes dependsOn from task id's dependency list, if present.
func (s *Store) RemoveDependency(id, dependsOn string) error {
	s.mu.Lock()
	task, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("task %q not found", id)
	}
	filtered := task.Dependencies[:0:0]
	for _, dep := range task.Dependencies {
		if dep != dependsOn {
			filtered = append(filtered, dep)
		}
	}
	task.Dependencies = filtered
	task.UpdatedAt = time.Now()
	snapshot := task.Clone()
	err := s.persist(s.snapshotLocked())
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.publisher.Publish(bus.NewEvent(models.EventTaskUpdated, map[string]any{"task": snapshot}))
	return nil
}

// DeleteTask removes task id, strips it from every other task's dependency
// list, and clears parent_id on any children. All of that cascading cleanup
// is folded into a single persist and a single task_deleted event - it never
// emits a separate update event per affected task, to avoid an event storm.
func (s *Store) DeleteTask(id string) error {
	s.mu.Lock()
	if _, ok := s.tasks[id]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("task %q not found", id)
	}
	delete(s.tasks, id)
	for _, t := range s.tasks {
		if t.ParentID == id {
			t.ParentID = ""
			t.UpdatedAt = time.Now()
		}
		if len(t.Dependencies) == 0 {
			continue
		}
		filtered := t.Dependencies[:0:0]
		for _, dep := range t.Dependencies {
			if dep != id {
				filtered = append(filtered, dep)
			}
		}
		if len(filtered) != len(t.Dependencies) {
			t.Dependencies = filtered
			t.UpdatedAt = time.Now()
		}
	}
	err := s.persist(s.snapshotLocked())
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.publisher.Publish(bus.NewEvent(models.EventTaskDeleted, map[string]any{"task_id": id}))
	return nil
}

// GetSubtasks returns every task whose ParentID is parentID.
func (s *Store) GetSubtasks(parentID string) []*Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*Task
	for _, t := range s.tasks {
		if t.ParentID == parentID {
			result = append(result, t.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result
}

// GetDependencies returns the tasks that id depends on.
func (s *Store) GetDependencies(id string) []*Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[id]
	if !ok {
		return nil
	}
	result := make([]*Task, 0, len(task.Dependencies))
	for _, depID := range task.Dependencies {
		if dep, ok := s.tasks[depID]; ok {
			result = append(result, dep.Clone())
		}
	}
	return result
}

// GetDependents returns every task that depends on id.
func (s *Store) GetDependents(id string) []*Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*Task
	for _, t := range s.tasks {
		for _, dep := range t.Dependencies {
			if dep == id {
				result = append(result, t.Clone())
				break
			}
		}
	}
	return result
}

// Snapshot returns a copy of every task in the store, for callers (like the
// priority queue) that need the full graph at once.
func (s *Store) Snapshot() []*Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotClonedLocked()
}

func (s *Store) snapshotClonedLocked() []*Task {
	result := make([]*Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		result = append(result, t.Clone())
	}
	return result
}
