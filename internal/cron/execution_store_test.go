package cron

import (
	"context"
	"testing"
	"time"
)

func TestMemoryExecutionStore_CreateAndList(t *testing.T) {
	store := NewMemoryExecutionStore()
	ctx := context.Background()

	if err := store.Create(ctx, &JobExecution{ID: "1", JobName: "sweep", RanAt: time.Now()}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.Create(ctx, &JobExecution{ID: "2", JobName: "other", RanAt: time.Now()}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := store.List(ctx, "sweep", 0, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 1 || got[0].JobName != "sweep" {
		t.Fatalf("got %+v", got)
	}

	all, err := store.List(ctx, "", 0, 0)
	if err != nil {
		t.Fatalf("List(all): %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 executions total, got %d", len(all))
	}
}

func TestMemoryExecutionStore_Prune(t *testing.T) {
	store := NewMemoryExecutionStore()
	ctx := context.Background()

	old := &JobExecution{ID: "old", JobName: "sweep", RanAt: time.Now().Add(-2 * time.Hour)}
	recent := &JobExecution{ID: "recent", JobName: "sweep", RanAt: time.Now().Add(-time.Minute)}
	if err := store.Create(ctx, old); err != nil {
		t.Fatalf("Create(old): %v", err)
	}
	if err := store.Create(ctx, recent); err != nil {
		t.Fatalf("Create(recent): %v", err)
	}

	pruned, err := store.Prune(ctx, time.Hour)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if pruned != 1 {
		t.Errorf("pruned = %d, want 1", pruned)
	}

	got, err := store.List(ctx, "sweep", 0, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 1 || got[0].ID != "recent" {
		t.Fatalf("expected only recent execution to survive, got %+v", got)
	}
}
