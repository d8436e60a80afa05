package models

import "testing"

func TestTaskPriority_Weight_Ordering(t *testing.T) {
	order := []TaskPriority{PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow, PriorityScheduled}
	for i := 1; i < len(order); i++ {
		if order[i-1].Weight() >= order[i].Weight() {
			t.Errorf("expected %s (%d) < %s (%d)", order[i-1], order[i-1].Weight(), order[i], order[i].Weight())
		}
	}
}

func TestTask_Clone_DoesNotAliasSlicesOrMaps(t *testing.T) {
	original := &Task{
		ID:           "t1",
		Dependencies: []string{"a", "b"},
		Tags:         []string{"x"},
		Context:      map[string]any{"k": "v"},
	}

	clone := original.Clone()
	clone.Dependencies[0] = "mutated"
	clone.Tags[0] = "mutated"
	clone.Context["k"] = "mutated"

	if original.Dependencies[0] != "a" {
		t.Errorf("mutating clone.Dependencies affected original: %v", original.Dependencies)
	}
	if original.Tags[0] != "x" {
		t.Errorf("mutating clone.Tags affected original: %v", original.Tags)
	}
	if original.Context["k"] != "v" {
		t.Errorf("mutating clone.Context affected original: %v", original.Context)
	}
}

func TestTask_HasDependency(t *testing.T) {
	task := &Task{Dependencies: []string{"a", "b"}}
	if !task.HasDependency("a") {
		t.Error("expected HasDependency(a) true")
	}
	if task.HasDependency("c") {
		t.Error("expected HasDependency(c) false")
	}
}

func TestTask_Clone_Nil(t *testing.T) {
	var task *Task
	if task.Clone() != nil {
		t.Error("expected Clone of nil task to return nil")
	}
}
