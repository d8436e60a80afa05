package jobs

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/haasonsaas/orchestra/pkg/models"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "jobs.db")
	store, err := NewSQLiteStore(path, nil)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore_CreateAndGet(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	job := &Job{
		ID:         "job-1",
		ToolName:   "fetch_url",
		ToolCallID: "call-1",
		Status:     StatusQueued,
		CreatedAt:  time.Now().Truncate(time.Second),
	}
	if err := store.Create(ctx, job); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := store.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil {
		t.Fatal("expected job, got nil")
	}
	if got.ToolName != "fetch_url" || got.Status != StatusQueued {
		t.Errorf("got %+v", got)
	}
}

func TestSQLiteStore_GetMissing(t *testing.T) {
	store := openTestStore(t)
	got, err := store.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for missing job, got %+v", got)
	}
}

func TestSQLiteStore_UpdateRoundTripsResult(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	job := &Job{
		ID:         "job-2",
		ToolName:   "slow_tool",
		ToolCallID: "call-2",
		Status:     StatusRunning,
		CreatedAt:  time.Now().Truncate(time.Second),
	}
	if err := store.Create(ctx, job); err != nil {
		t.Fatalf("Create: %v", err)
	}

	job.Status = StatusSucceeded
	job.FinishedAt = time.Now().Truncate(time.Second)
	job.Result = &models.ToolResult{
		ToolCallID: "call-2",
		Name:       "slow_tool",
		Result:     json.RawMessage(`{"ok":true}`),
	}
	if err := store.Update(ctx, job); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, err := store.Get(ctx, "job-2")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusSucceeded {
		t.Errorf("Status = %v, want %v", got.Status, StatusSucceeded)
	}
	if got.Result == nil || string(got.Result.Result) != `{"ok":true}` {
		t.Errorf("Result = %+v", got.Result)
	}
}

func TestSQLiteStore_ListOrdersByCreatedAtDesc(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	base := time.Now().Truncate(time.Second)
	for i, id := range []string{"a", "b", "c"} {
		job := &Job{
			ID:         id,
			ToolName:   "t",
			ToolCallID: id,
			Status:     StatusQueued,
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		}
		if err := store.Create(ctx, job); err != nil {
			t.Fatalf("Create(%s): %v", id, err)
		}
	}

	jobs, err := store.List(ctx, 0, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(jobs) != 3 {
		t.Fatalf("got %d jobs, want 3", len(jobs))
	}
	if jobs[0].ID != "c" || jobs[2].ID != "a" {
		t.Errorf("expected reverse chronological order, got %v, %v, %v", jobs[0].ID, jobs[1].ID, jobs[2].ID)
	}
}

func TestSQLiteStore_Prune(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	old := &Job{ID: "old", ToolName: "t", Status: StatusSucceeded, CreatedAt: time.Now().Add(-2 * time.Hour)}
	recent := &Job{ID: "recent", ToolName: "t", Status: StatusSucceeded, CreatedAt: time.Now().Add(-time.Minute)}
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
	if got, _ := store.Get(ctx, "old"); got != nil {
		t.Error("expected old job to be pruned")
	}
	if got, _ := store.Get(ctx, "recent"); got == nil {
		t.Error("expected recent job to survive")
	}
}

func TestSQLiteStore_Cancel(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	job := &Job{ID: "job-3", ToolName: "t", Status: StatusRunning, CreatedAt: time.Now()}
	if err := store.Create(ctx, job); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := store.Cancel(ctx, "job-3"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	got, err := store.Get(ctx, "job-3")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusFailed {
		t.Errorf("Status = %v, want %v", got.Status, StatusFailed)
	}
	if got.Error != "job cancelled" {
		t.Errorf("Error = %q, want %q", got.Error, "job cancelled")
	}
}

func TestSQLiteStore_CreateRequiresPath(t *testing.T) {
	if _, err := NewSQLiteStore("", nil); err == nil {
		t.Fatal("expected error for empty path")
	}
}
