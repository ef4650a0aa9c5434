package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ideaforge/ideaforge/pkg/model"
)

// StorageTestSuite defines a test suite that can be run against any Storage implementation.
type StorageTestSuite struct {
	NewStorage func(t *testing.T) Storage
}

// RunAllTests runs all storage tests against the provided storage implementation.
func (s *StorageTestSuite) RunAllTests(t *testing.T) {
	t.Run("RunCRUD", s.TestRunCRUD)
	t.Run("ListRunsWithFilter", s.TestListRunsWithFilter)
	t.Run("ListRunsWithPagination", s.TestListRunsWithPagination)
	t.Run("DocumentPersistence", s.TestDocumentPersistence)
	t.Run("DeleteRunCascade", s.TestDeleteRunCascade)
	t.Run("ConcurrentAccess", s.TestConcurrentAccess)
	t.Run("RunNotFound", s.TestRunNotFound)
}

func sampleRun(id string, status model.RunState, created time.Time) *RunRecord {
	return &RunRecord{
		ID:           id,
		WorkflowID:   "wf-1",
		WorkflowName: "Pipeline",
		Input:        "a todo app",
		Status:       status,
		Success:      status == model.RunStateCompleted,
		Outputs:      map[int]string{0: "A", 1: "B"},
		StepOutputs:  map[int]string{0: "A", 1: "B"},
		CreatedAt:    created,
		StartedAt:    created,
		CompletedAt:  created.Add(time.Second),
	}
}

// TestRunCRUD tests basic run save, get, update and delete.
func (s *StorageTestSuite) TestRunCRUD(t *testing.T) {
	store := s.NewStorage(t)
	defer store.Close()

	ctx := context.Background()
	run := sampleRun("run-1", model.RunStateRunning, time.Now().UTC())

	if err := store.SaveRun(ctx, run); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}

	got, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got.ID != run.ID || got.WorkflowName != run.WorkflowName || got.Status != run.Status {
		t.Errorf("GetRun = %+v, want %+v", got, run)
	}
	if got.Outputs[0] != "A" || got.Outputs[1] != "B" {
		t.Errorf("Outputs = %v", got.Outputs)
	}

	got.Status = model.RunStateCompleted
	got.Success = true
	if err := store.SaveRun(ctx, got); err != nil {
		t.Fatalf("SaveRun (update) failed: %v", err)
	}

	updated, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun (after update) failed: %v", err)
	}
	if updated.Status != model.RunStateCompleted || !updated.Success {
		t.Errorf("expected completed run, got %+v", updated)
	}

	// The old status must no longer match.
	runs, total, err := store.ListRuns(ctx, &RunFilter{Status: []model.RunState{model.RunStateRunning}})
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if total != 0 || len(runs) != 0 {
		t.Errorf("expected no running runs after update, got %d", total)
	}

	if err := store.DeleteRun(ctx, "run-1"); err != nil {
		t.Fatalf("DeleteRun failed: %v", err)
	}
	if _, err := store.GetRun(ctx, "run-1"); err == nil {
		t.Error("expected error when getting deleted run")
	}
}

// TestListRunsWithFilter tests status and workflow filtering.
func (s *StorageTestSuite) TestListRunsWithFilter(t *testing.T) {
	store := s.NewStorage(t)
	defer store.Close()

	ctx := context.Background()
	base := time.Now().UTC()
	fixtures := []*RunRecord{
		sampleRun("run-a", model.RunStateCompleted, base),
		sampleRun("run-b", model.RunStateFailed, base.Add(time.Second)),
		sampleRun("run-c", model.RunStateCompleted, base.Add(2*time.Second)),
	}
	fixtures[2].WorkflowID = "wf-2"
	for _, r := range fixtures {
		if err := store.SaveRun(ctx, r); err != nil {
			t.Fatalf("SaveRun failed: %v", err)
		}
	}

	all, total, err := store.ListRuns(ctx, nil)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if total != 3 || len(all) != 3 {
		t.Fatalf("expected 3 runs, got %d", total)
	}
	if all[0].ID != "run-c" || all[2].ID != "run-a" {
		t.Errorf("expected newest first, got %s..%s", all[0].ID, all[2].ID)
	}

	completed, total, err := store.ListRuns(ctx, &RunFilter{Status: []model.RunState{model.RunStateCompleted}})
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if total != 2 || len(completed) != 2 {
		t.Errorf("expected 2 completed runs, got %d", total)
	}

	byWorkflow, total, err := store.ListRuns(ctx, &RunFilter{WorkflowID: "wf-2"})
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if total != 1 || byWorkflow[0].ID != "run-c" {
		t.Errorf("expected run-c for wf-2, got %d runs", total)
	}
}

// TestListRunsWithPagination tests offset and limit.
func (s *StorageTestSuite) TestListRunsWithPagination(t *testing.T) {
	store := s.NewStorage(t)
	defer store.Close()

	ctx := context.Background()
	base := time.Now().UTC()
	for i := 0; i < 10; i++ {
		r := sampleRun(fmt.Sprintf("run-%02d", i), model.RunStateCompleted, base.Add(time.Duration(i)*time.Second))
		if err := store.SaveRun(ctx, r); err != nil {
			t.Fatalf("SaveRun failed: %v", err)
		}
	}

	page, total, err := store.ListRuns(ctx, &RunFilter{Limit: 3, Offset: 2})
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if total != 10 {
		t.Errorf("expected total 10, got %d", total)
	}
	if len(page) != 3 {
		t.Fatalf("expected 3 runs, got %d", len(page))
	}
	if page[0].ID != "run-07" {
		t.Errorf("expected run-07 first, got %s", page[0].ID)
	}

	tail, _, err := store.ListRuns(ctx, &RunFilter{Limit: 5, Offset: 8})
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(tail) != 2 {
		t.Errorf("expected 2 runs at the tail, got %d", len(tail))
	}

	past, _, err := store.ListRuns(ctx, &RunFilter{Limit: 5, Offset: 50})
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(past) != 0 {
		t.Errorf("expected empty page, got %d", len(past))
	}
}

// TestDocumentPersistence tests document save and list.
func (s *StorageTestSuite) TestDocumentPersistence(t *testing.T) {
	store := s.NewStorage(t)
	defer store.Close()

	ctx := context.Background()
	if err := store.SaveRun(ctx, sampleRun("run-1", model.RunStateCompleted, time.Now().UTC())); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}

	docs := []model.Document{
		{ID: "d1", Title: "Idea", Category: model.CategoryGeneric, Content: "A", StepOrder: 0},
		{ID: "d2", Title: "Frontend", Category: model.CategoryFrontend, Content: "B", StepOrder: 1},
	}
	if err := store.SaveDocuments(ctx, "run-1", docs); err != nil {
		t.Fatalf("SaveDocuments failed: %v", err)
	}

	got, err := store.ListDocuments(ctx, "run-1")
	if err != nil {
		t.Fatalf("ListDocuments failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(got))
	}
	if got[0].Title != "Idea" || got[1].Title != "Frontend" || got[1].Content != "B" {
		t.Errorf("unexpected documents: %+v", got)
	}

	// Replacing keeps only the new set.
	if err := store.SaveDocuments(ctx, "run-1", docs[:1]); err != nil {
		t.Fatalf("SaveDocuments (replace) failed: %v", err)
	}
	got, err = store.ListDocuments(ctx, "run-1")
	if err != nil {
		t.Fatalf("ListDocuments failed: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("expected 1 document after replace, got %d", len(got))
	}

	var nf *NotFoundError
	if err := store.SaveDocuments(ctx, "missing", docs); !errors.As(err, &nf) {
		t.Errorf("SaveDocuments on missing run: expected NotFoundError, got %v", err)
	}
	if _, err := store.ListDocuments(ctx, "missing"); !errors.As(err, &nf) {
		t.Errorf("ListDocuments on missing run: expected NotFoundError, got %v", err)
	}
}

// TestDeleteRunCascade tests that deleting a run removes its documents.
func (s *StorageTestSuite) TestDeleteRunCascade(t *testing.T) {
	store := s.NewStorage(t)
	defer store.Close()

	ctx := context.Background()
	if err := store.SaveRun(ctx, sampleRun("run-1", model.RunStateCompleted, time.Now().UTC())); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}
	if err := store.SaveDocuments(ctx, "run-1", []model.Document{{ID: "d1", Title: "t", Content: "c"}}); err != nil {
		t.Fatalf("SaveDocuments failed: %v", err)
	}
	if err := store.DeleteRun(ctx, "run-1"); err != nil {
		t.Fatalf("DeleteRun failed: %v", err)
	}

	// Recreating the run must not resurrect old documents.
	if err := store.SaveRun(ctx, sampleRun("run-1", model.RunStateCompleted, time.Now().UTC())); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}
	docs, err := store.ListDocuments(ctx, "run-1")
	if err != nil {
		t.Fatalf("ListDocuments failed: %v", err)
	}
	if len(docs) != 0 {
		t.Errorf("expected documents to be deleted, got %d", len(docs))
	}

	runs, total, err := store.ListRuns(ctx, &RunFilter{Status: []model.RunState{model.RunStateCompleted}})
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if total != 1 || len(runs) != 1 {
		t.Errorf("expected exactly one indexed run, got %d", total)
	}
}

// TestConcurrentAccess tests parallel writers and readers.
func (s *StorageTestSuite) TestConcurrentAccess(t *testing.T) {
	store := s.NewStorage(t)
	defer store.Close()

	ctx := context.Background()
	base := time.Now().UTC()
	const workers = 10

	var wg sync.WaitGroup
	errs := make(chan error, workers*2)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("run-%d", i)
			if err := store.SaveRun(ctx, sampleRun(id, model.RunStateCompleted, base.Add(time.Duration(i)*time.Millisecond))); err != nil {
				errs <- err
				return
			}
			if _, err := store.GetRun(ctx, id); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent operation failed: %v", err)
	}

	_, total, err := store.ListRuns(ctx, nil)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if total != workers {
		t.Errorf("expected %d runs, got %d", workers, total)
	}
}

// TestRunNotFound tests typed not-found errors.
func (s *StorageTestSuite) TestRunNotFound(t *testing.T) {
	store := s.NewStorage(t)
	defer store.Close()

	ctx := context.Background()
	var nf *NotFoundError

	if _, err := store.GetRun(ctx, "nope"); !errors.As(err, &nf) {
		t.Errorf("GetRun: expected NotFoundError, got %v", err)
	} else if nf.EntityType != "run" || nf.ID != "nope" {
		t.Errorf("unexpected NotFoundError: %+v", nf)
	}
	if err := store.DeleteRun(ctx, "nope"); !errors.As(err, &nf) {
		t.Errorf("DeleteRun: expected NotFoundError, got %v", err)
	}
}
