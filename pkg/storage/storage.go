// Package storage persists run records and the documents they produced.
package storage

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/ideaforge/ideaforge/pkg/model"
)

// Storage defines the interface for persistent storage operations.
type Storage interface {
	// Run operations
	SaveRun(ctx context.Context, run *RunRecord) error
	GetRun(ctx context.Context, id string) (*RunRecord, error)
	ListRuns(ctx context.Context, filter *RunFilter) ([]*RunRecord, int, error)
	DeleteRun(ctx context.Context, id string) error

	// Document operations. SaveDocuments replaces the run's documents.
	SaveDocuments(ctx context.Context, runID string, docs []model.Document) error
	ListDocuments(ctx context.Context, runID string) ([]model.Document, error)

	// Lifecycle
	Close() error
}

// RunRecord is the persisted form of one workflow execution.
type RunRecord struct {
	ID           string             `json:"id"`
	WorkflowID   string             `json:"workflow_id"`
	WorkflowName string             `json:"workflow_name"`
	Input        string             `json:"input"`
	Language     string             `json:"language,omitempty"`
	Status       model.RunState     `json:"status"`
	Success      bool               `json:"success"`
	Outputs      map[int]string     `json:"outputs"`
	StepOutputs  map[int]string     `json:"step_outputs,omitempty"`
	Error        string             `json:"error,omitempty"`
	Steps        []model.StepResult `json:"steps,omitempty"`
	// DocumentCount is the number of documents saved for the run.
	DocumentCount int       `json:"document_count"`
	CreatedAt     time.Time `json:"created_at"`
	StartedAt     time.Time `json:"started_at"`
	CompletedAt   time.Time `json:"completed_at"`
}

// Clone returns a deep copy of the record.
func (r *RunRecord) Clone() *RunRecord {
	c := *r
	c.Outputs = cloneOutputs(r.Outputs)
	c.StepOutputs = cloneOutputs(r.StepOutputs)
	c.Steps = slices.Clone(r.Steps)
	return &c
}

func cloneOutputs(in map[int]string) map[int]string {
	if in == nil {
		return nil
	}
	out := make(map[int]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// RunFilter defines filtering options for listing runs.
type RunFilter struct {
	WorkflowID string           `json:"workflow_id,omitempty"`
	Status     []model.RunState `json:"status,omitempty"`
	Limit      int              `json:"limit"`
	Offset     int              `json:"offset"`
}

// Match reports whether run passes the filter's predicates.
func (f *RunFilter) Match(run *RunRecord) bool {
	if f == nil {
		return true
	}
	if f.WorkflowID != "" && run.WorkflowID != f.WorkflowID {
		return false
	}
	if len(f.Status) == 0 {
		return true
	}
	for _, s := range f.Status {
		if run.Status == s {
			return true
		}
	}
	return false
}

// SortRuns orders runs newest first, breaking ties by ID.
func SortRuns(runs []*RunRecord) {
	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].CreatedAt.After(runs[j].CreatedAt)
		}
		return runs[i].ID < runs[j].ID
	})
}

// Paginate applies the filter's offset and limit and returns the page and
// the total before pagination.
func Paginate(runs []*RunRecord, filter *RunFilter) ([]*RunRecord, int) {
	total := len(runs)
	if filter == nil || filter.Limit <= 0 {
		return runs, total
	}
	start := filter.Offset
	if start < 0 {
		start = 0
	}
	if start > total {
		start = total
	}
	end := start + filter.Limit
	if end > total {
		end = total
	}
	return runs[start:end], total
}

// NotFoundError indicates that the requested entity was not found.
type NotFoundError struct {
	EntityType string
	ID         string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.EntityType, e.ID)
}

// StorageUnavailableError indicates that the storage backend is unavailable.
type StorageUnavailableError struct {
	Cause error
}

func (e *StorageUnavailableError) Error() string {
	return fmt.Sprintf("storage unavailable: %v", e.Cause)
}

func (e *StorageUnavailableError) Unwrap() error { return e.Cause }

// SerializationError indicates a failure in data serialization/deserialization.
type SerializationError struct {
	Operation string
	Cause     error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("serialization error during %s: %v", e.Operation, e.Cause)
}

func (e *SerializationError) Unwrap() error { return e.Cause }
