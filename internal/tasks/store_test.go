package tasks

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/haasonsaas/orchestra/internal/bus"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []bus.Event
}

func (p *recordingPublisher) Publish(event bus.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = string(e.Type)
	}
	return out
}

func TestStore_AddAndGetTask(t *testing.T) {
	pub := &recordingPublisher{}
	s := NewStore("", WithPublisher(pub))

	if err := s.AddTask(&Task{ID: "t1", Title: "first"}); err != nil {
		t.Fatalf("AddTask: %v", err)
	}

	got := s.GetTask("t1")
	if got == nil || got.Title != "first" {
		t.Fatalf("got %+v", got)
	}
	if got.Status != StatusTodo {
		t.Errorf("expected default status todo, got %q", got.Status)
	}
	if types := pub.types(); len(types) != 1 || types[0] != "task_created" {
		t.Fatalf("expected one task_created event, got %v", types)
	}
}

func TestStore_AddTaskRejectsDuplicateID(t *testing.T) {
	s := NewStore("")
	if err := s.AddTask(&Task{ID: "t1"}); err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	if err := s.AddTask(&Task{ID: "t1"}); err == nil {
		t.Fatal("expected error for duplicate id")
	}
}

func TestStore_UpdateStatusPublishesStatusChanged(t *testing.T) {
	pub := &recordingPublisher{}
	s := NewStore("", WithPublisher(pub))
	_ = s.AddTask(&Task{ID: "t1"})

	if err := s.UpdateStatus("t1", StatusInProgress); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	types := pub.types()
	if len(types) != 2 || types[1] != "task_status_changed" {
		t.Fatalf("got %v", types)
	}
}

func TestStore_UpdateStatusToDonePublishesCompleted(t *testing.T) {
	pub := &recordingPublisher{}
	s := NewStore("", WithPublisher(pub))
	_ = s.AddTask(&Task{ID: "t1"})

	if err := s.UpdateStatus("t1", StatusDone); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	types := pub.types()
	if len(types) != 2 || types[1] != "task_completed" {
		t.Fatalf("got %v", types)
	}
}

func TestStore_DeleteTaskCascadesDependenciesAndParentID(t *testing.T) {
	pub := &recordingPublisher{}
	s := NewStore("", WithPublisher(pub))
	_ = s.AddTask(&Task{ID: "parent"})
	_ = s.AddTask(&Task{ID: "child", ParentID: "parent"})
	_ = s.AddTask(&Task{ID: "dependent", Dependencies: []string{"parent"}})

	if err := s.DeleteTask("parent"); err != nil {
		t.Fatalf("DeleteTask: %v", err)
	}

	if s.GetTask("parent") != nil {
		t.Fatal("expected parent task removed")
	}
	child := s.GetTask("child")
	if child.ParentID != "" {
		t.Errorf("expected child's parent_id cleared, got %q", child.ParentID)
	}
	dependent := s.GetTask("dependent")
	if len(dependent.Dependencies) != 0 {
		t.Errorf("expected dependent's dependencies cleared, got %v", dependent.Dependencies)
	}

	deleteEvents := 0
	for _, ty := range pub.types() {
		if ty == "task_deleted" {
			deleteEvents++
		}
	}
	if deleteEvents != 1 {
		t.Fatalf("expected exactly 1 task_deleted event, got %d", deleteEvents)
	}
}

func TestStore_AddDependencyAllowsDanglingTarget(t *testing.T) {
	s := NewStore("")
	_ = s.AddTask(&Task{ID: "t1"})

	// A dependency on a not-yet-created task is allowed - it is simply
	// unsatisfied until the target task exists and completes.
	if err := s.AddDependency("t1", "not-created-yet"); err != nil {
		t.Fatalf("AddDependency: %v", err)
	}
	got := s.GetTask("t1")
	if len(got.Dependencies) != 1 || got.Dependencies[0] != "not-created-yet" {
		t.Fatalf("got %+v", got)
	}
}

func TestStore_AddDependencyRequiresSourceTaskToExist(t *testing.T) {
	s := NewStore("")
	_ = s.AddTask(&Task{ID: "t1"})

	if err := s.AddDependency("missing", "t1"); err == nil {
		t.Fatal("expected error for missing source task")
	}
}

func TestStore_AddDependencyRejectsSelfDependency(t *testing.T) {
	s := NewStore("")
	_ = s.AddTask(&Task{ID: "t1"})
	if err := s.AddDependency("t1", "t1"); err == nil {
		t.Fatal("expected error for self-dependency")
	}
}

func TestStore_GetSubtasksAndDependents(t *testing.T) {
	s := NewStore("")
	_ = s.AddTask(&Task{ID: "parent"})
	_ = s.AddTask(&Task{ID: "child-a", ParentID: "parent"})
	_ = s.AddTask(&Task{ID: "child-b", ParentID: "parent"})
	_ = s.AddTask(&Task{ID: "blocker"})
	_ = s.AddTask(&Task{ID: "blocked", Dependencies: []string{"blocker"}})

	subtasks := s.GetSubtasks("parent")
	if len(subtasks) != 2 {
		t.Fatalf("expected 2 subtasks, got %d", len(subtasks))
	}

	dependents := s.GetDependents("blocker")
	if len(dependents) != 1 || dependents[0].ID != "blocked" {
		t.Fatalf("got %+v", dependents)
	}
}

func TestStore_PersistsAndReloadsFromDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.json")

	s1 := NewStore(path)
	if err := s1.AddTask(&Task{ID: "t1", Title: "persisted"}); err != nil {
		t.Fatalf("AddTask: %v", err)
	}

	s2 := NewStore(path)
	got := s2.GetTask("t1")
	if got == nil || got.Title != "persisted" {
		t.Fatalf("expected task to survive reload, got %+v", got)
	}
}

func TestStore_LoadFromMissingFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.json")
	s := NewStore(path)
	if tasks := s.ListTasks("", ""); len(tasks) != 0 {
		t.Fatalf("expected empty store, got %d tasks", len(tasks))
	}
}

func TestStore_ListTasksFiltersByStatusAndPriority(t *testing.T) {
	s := NewStore("")
	_ = s.AddTask(&Task{ID: "a", Status: StatusTodo, Priority: PriorityHigh})
	_ = s.AddTask(&Task{ID: "b", Status: StatusDone, Priority: PriorityHigh})
	_ = s.AddTask(&Task{ID: "c", Status: StatusTodo, Priority: PriorityLow})

	todos := s.ListTasks(StatusTodo, "")
	if len(todos) != 2 {
		t.Fatalf("expected 2 todo tasks, got %d", len(todos))
	}

	highTodos := s.ListTasks(StatusTodo, PriorityHigh)
	if len(highTodos) != 1 || highTodos[0].ID != "a" {
		t.Fatalf("got %+v", highTodos)
	}
}
