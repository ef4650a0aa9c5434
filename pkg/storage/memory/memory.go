// Package memory provides an in-memory implementation of the storage interface.
package memory

import (
	"context"
	"sync"

	"github.com/ideaforge/ideaforge/pkg/model"
	"github.com/ideaforge/ideaforge/pkg/storage"
)

// MemoryStorage implements the Storage interface using in-memory maps.
type MemoryStorage struct {
	mu   sync.RWMutex
	runs map[string]*storage.RunRecord
	docs map[string][]model.Document // runID -> documents
}

var _ storage.Storage = (*MemoryStorage)(nil)

// NewMemoryStorage creates a new in-memory storage instance.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		runs: make(map[string]*storage.RunRecord),
		docs: make(map[string][]model.Document),
	}
}

// SaveRun stores a copy of run.
func (m *MemoryStorage) SaveRun(ctx context.Context, run *storage.RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.ID] = run.Clone()
	return nil
}

// GetRun retrieves a run by ID.
func (m *MemoryStorage) GetRun(ctx context.Context, id string) (*storage.RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	run, exists := m.runs[id]
	if !exists {
		return nil, &storage.NotFoundError{EntityType: "run", ID: id}
	}
	return run.Clone(), nil
}

// ListRuns lists runs newest first with optional filtering and pagination.
func (m *MemoryStorage) ListRuns(ctx context.Context, filter *storage.RunFilter) ([]*storage.RunRecord, int, error) {
	m.mu.RLock()
	runs := make([]*storage.RunRecord, 0, len(m.runs))
	for _, run := range m.runs {
		if filter.Match(run) {
			runs = append(runs, run.Clone())
		}
	}
	m.mu.RUnlock()

	storage.SortRuns(runs)
	page, total := storage.Paginate(runs, filter)
	return page, total, nil
}

// DeleteRun deletes a run and its documents.
func (m *MemoryStorage) DeleteRun(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.runs[id]; !exists {
		return &storage.NotFoundError{EntityType: "run", ID: id}
	}
	delete(m.runs, id)
	delete(m.docs, id)
	return nil
}

// SaveDocuments replaces the documents of a run.
func (m *MemoryStorage) SaveDocuments(ctx context.Context, runID string, docs []model.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.runs[runID]; !exists {
		return &storage.NotFoundError{EntityType: "run", ID: runID}
	}
	m.docs[runID] = append([]model.Document(nil), docs...)
	return nil
}

// ListDocuments returns the documents of a run in saved order.
func (m *MemoryStorage) ListDocuments(ctx context.Context, runID string) ([]model.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, exists := m.runs[runID]; !exists {
		return nil, &storage.NotFoundError{EntityType: "run", ID: runID}
	}
	return append([]model.Document(nil), m.docs[runID]...), nil
}

// Close is a no-op for memory storage.
func (m *MemoryStorage) Close() error {
	return nil
}
