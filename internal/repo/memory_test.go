package repo

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/shaiso/Pipelines/internal/domain"
)

func newTestPipeline() *domain.Pipeline {
	return &domain.Pipeline{
		ID:          uuid.New(),
		Name:        "chain",
		Concurrency: 1,
		Operations: []domain.Operation{
			{ID: uuid.New(), Name: "A", Kind: "job"},
			{ID: uuid.New(), Name: "B", Kind: "job", Upstream: []string{"A"}, ConcurrencyClass: "gpu"},
			{ID: uuid.New(), Name: "C", Kind: "job", Upstream: []string{"B"}},
		},
	}
}

func TestMemoryStore_CreatePipelineRun(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	p := newTestPipeline()

	if err := store.CreatePipeline(ctx, p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.CreatePipeline(ctx, p); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}

	run, ops, err := store.CreatePipelineRun(ctx, p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ops) != 3 {
		t.Fatalf("expected 3 operation runs, got %d", len(ops))
	}

	listed, err := store.ListOperationRuns(ctx, run.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, name := range []string{"A", "B", "C"} {
		if listed[i].Name() != name {
			t.Errorf("position %d: expected %s, got %s", i, name, listed[i].Name())
		}
		if listed[i].Status != domain.OperationStatusCreated {
			t.Errorf("%s: expected CREATED, got %s", name, listed[i].Status)
		}
	}
}

func TestMemoryStore_NotFound(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	id := uuid.New()

	if _, err := store.GetPipelineRun(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetPipelineRun: expected ErrNotFound, got %v", err)
	}
	if _, err := store.GetOperationRun(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetOperationRun: expected ErrNotFound, got %v", err)
	}
	if _, err := store.SetOperationRunStatus(ctx, id, domain.OperationStatusScheduled, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("SetOperationRunStatus: expected ErrNotFound, got %v", err)
	}
	if _, err := store.SetPipelineRunStatus(ctx, id, domain.PipelineStatusRunning, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("SetPipelineRunStatus: expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_SetOperationRunStatus(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	_, ops, _ := store.CreatePipelineRun(ctx, newTestPipeline())
	id := ops[0].ID

	changed, err := store.SetOperationRunStatus(ctx, id, domain.OperationStatusScheduled, "admitted")
	if err != nil || !changed {
		t.Fatalf("expected change, got changed=%v err=%v", changed, err)
	}

	changed, err = store.SetOperationRunStatus(ctx, id, domain.OperationStatusScheduled, "admitted")
	if err != nil || changed {
		t.Fatalf("expected no-op, got changed=%v err=%v", changed, err)
	}

	if _, err := store.SetOperationRunStatus(ctx, id, domain.OperationStatusCreated, ""); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}

	run, _ := store.GetOperationRun(ctx, id)
	if len(run.History) != 2 {
		t.Errorf("expected 2 history entries, got %d", len(run.History))
	}
	if run.History[1].Message != "admitted" {
		t.Errorf("unexpected message %q", run.History[1].Message)
	}
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	_, ops, _ := store.CreatePipelineRun(ctx, newTestPipeline())

	run, _ := store.GetOperationRun(ctx, ops[0].ID)
	run.Status = domain.OperationStatusSucceeded
	run.History = append(run.History, domain.StatusEntry[domain.OperationStatus]{Status: domain.OperationStatusSucceeded})

	again, _ := store.GetOperationRun(ctx, ops[0].ID)
	if again.Status != domain.OperationStatusCreated || len(again.History) != 1 {
		t.Error("store state must not change through returned values")
	}
}

func TestMemoryStore_TransitionOperationRuns(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	run, ops, _ := store.CreatePipelineRun(ctx, newTestPipeline())

	store.SetOperationRunStatus(ctx, ops[0].ID, domain.OperationStatusScheduled, "")
	store.SetOperationRunStatus(ctx, ops[0].ID, domain.OperationStatusRunning, "")

	changed, err := store.TransitionOperationRuns(ctx, run.ID, domain.ActiveStatuses, domain.OperationStatusStopped, "stop")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(changed) != 1 || changed[0] != ops[0].ID {
		t.Errorf("expected only A to be stopped, got %v", changed)
	}

	changed, err = store.TransitionOperationRuns(ctx, run.ID, domain.PendingStatuses, domain.OperationStatusSkipped, "skip")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(changed) != 2 {
		t.Errorf("expected B and C to be skipped, got %v", changed)
	}

	listed, _ := store.ListOperationRuns(ctx, run.ID)
	want := []domain.OperationStatus{domain.OperationStatusStopped, domain.OperationStatusSkipped, domain.OperationStatusSkipped}
	for i := range listed {
		if listed[i].Status != want[i] {
			t.Errorf("%s: expected %s, got %s", listed[i].Name(), want[i], listed[i].Status)
		}
	}
}

func TestMemoryStore_TransitionOperationRunsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	run, ops, _ := store.CreatePipelineRun(ctx, newTestPipeline())

	store.SetOperationRunStatus(ctx, ops[0].ID, domain.OperationStatusScheduled, "")
	store.SetOperationRunStatus(ctx, ops[1].ID, domain.OperationStatusScheduled, "")
	store.SetOperationRunStatus(ctx, ops[1].ID, domain.OperationStatusSucceeded, "")

	// SUCCEEDED → RUNNING запрещён: A тоже не должен измениться
	_, err := store.TransitionOperationRuns(ctx, run.ID,
		[]domain.OperationStatus{domain.OperationStatusScheduled, domain.OperationStatusSucceeded},
		domain.OperationStatusRunning, "")
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	listed, _ := store.ListOperationRuns(ctx, run.ID)
	if listed[0].Status != domain.OperationStatusScheduled {
		t.Errorf("A must stay SCHEDULED, got %s", listed[0].Status)
	}
}

func TestMemoryStore_CountActiveByClass(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	_, ops, _ := store.CreatePipelineRun(ctx, newTestPipeline())

	store.SetOperationRunStatus(ctx, ops[0].ID, domain.OperationStatusScheduled, "")
	store.SetOperationRunStatus(ctx, ops[1].ID, domain.OperationStatusScheduled, "")
	store.SetOperationRunStatus(ctx, ops[1].ID, domain.OperationStatusRunning, "")

	if n, _ := store.CountActiveByClass(ctx, "gpu"); n != 1 {
		t.Errorf("expected 1 active gpu run, got %d", n)
	}
	if n, _ := store.CountActiveByClass(ctx, domain.DefaultConcurrencyClass); n != 1 {
		t.Errorf("expected 1 active default run, got %d", n)
	}
}

func TestMemoryStore_ListActivePipelineRuns(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	p := newTestPipeline()

	active, _, _ := store.CreatePipelineRun(ctx, p)
	done, _, _ := store.CreatePipelineRun(ctx, p)
	store.SetPipelineRunStatus(ctx, done.ID, domain.PipelineStatusFinished, "")

	runs, err := store.ListActivePipelineRuns(ctx, domain.RunCursor{}, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != active.ID {
		t.Errorf("expected only the active run, got %v", runs)
	}
}

func TestMemoryStore_ListActivePipelineRunsPages(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	p := newTestPipeline()

	want := make(map[uuid.UUID]bool)
	for i := 0; i < 5; i++ {
		run, _, _ := store.CreatePipelineRun(ctx, p)
		want[run.ID] = true
	}

	seen := make(map[uuid.UUID]bool)
	var cursor domain.RunCursor
	for pages := 0; ; pages++ {
		if pages > 5 {
			t.Fatal("paging does not terminate")
		}
		page, err := store.ListActivePipelineRuns(ctx, cursor, 2)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		for i := range page {
			if seen[page[i].ID] {
				t.Fatalf("run %s listed twice", page[i].ID)
			}
			seen[page[i].ID] = true
		}
		if len(page) < 2 {
			break
		}
		cursor = page[len(page)-1].Cursor()
	}

	if len(seen) != len(want) {
		t.Errorf("expected %d runs across pages, got %d", len(want), len(seen))
	}
}

func TestMemoryStore_DeletePipelineRun(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	run, ops, _ := store.CreatePipelineRun(ctx, newTestPipeline())

	if err := store.DeletePipelineRun(ctx, run.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := store.GetOperationRun(ctx, ops[0].ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("operation runs must be removed with their pipeline run, got %v", err)
	}
}
