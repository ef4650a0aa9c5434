// Package service runs workflows end to end: it executes them, turns the
// outputs into documents and persists both.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ideaforge/ideaforge/pkg/catalog"
	"github.com/ideaforge/ideaforge/pkg/document"
	"github.com/ideaforge/ideaforge/pkg/engine"
	"github.com/ideaforge/ideaforge/pkg/logger"
	"github.com/ideaforge/ideaforge/pkg/model"
	"github.com/ideaforge/ideaforge/pkg/stage"
	"github.com/ideaforge/ideaforge/pkg/storage"
)

// WorkflowExecutor executes a workflow. *engine.Orchestrator implements it.
type WorkflowExecutor interface {
	Execute(ctx context.Context, wf *model.Workflow, agents model.AgentLookup, userInput, language string) *model.ExecutionResult
}

// MetricsRecorder receives document counts.
type MetricsRecorder interface {
	RecordDocument(category string)
}

type nopMetrics struct{}

func (nopMetrics) RecordDocument(string) {}

// RunRequest asks for one workflow execution. Agents override catalog agents
// with the same id for this run only.
type RunRequest struct {
	Workflow *model.Workflow `json:"workflow"`
	Agents   []*model.Agent  `json:"agents,omitempty"`
	Input    string          `json:"input"`
	Language string          `json:"language,omitempty"`
}

// RunResponse is the outcome of Run.
type RunResponse struct {
	Run       *storage.RunRecord `json:"run"`
	Documents []model.Document   `json:"documents"`
}

// Service is safe for concurrent use.
type Service struct {
	exec            WorkflowExecutor
	agents          model.AgentLookup
	store           storage.Storage
	logger          logger.Logger
	metrics         MetricsRecorder
	defaultLanguage string
	runTimeout      time.Duration
	now             func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics sets the document metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithDefaultLanguage sets the language used when a request has none.
func WithDefaultLanguage(lang string) Option {
	return func(s *Service) {
		s.defaultLanguage = strings.TrimSpace(lang)
	}
}

// WithRunTimeout bounds every run. Zero disables the bound.
func WithRunTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.runTimeout = d
		}
	}
}

// New creates a Service. agents is usually a *catalog.Catalog.
func New(exec WorkflowExecutor, agents model.AgentLookup, store storage.Storage, opts ...Option) *Service {
	s := &Service{
		exec:    exec,
		agents:  agents,
		store:   store,
		logger:  logger.Global(),
		metrics: nopMetrics{},
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Validate checks req without running it and returns the stage plan.
// Failures are *model.ConfigurationError or *stage.PlanError.
func (s *Service) Validate(req *RunRequest) (*stage.Plan, error) {
	_, plan, err := s.prepare(req, false)
	return plan, err
}

// Run executes req synchronously. Invalid requests return an error and leave
// no record. A workflow that fails while running is not an error: the
// returned record has Success false and the failure message. The error is
// non-nil only for invalid requests and storage failures.
func (s *Service) Run(ctx context.Context, req *RunRequest) (*RunResponse, error) {
	lookup, _, err := s.prepare(req, true)
	if err != nil {
		return nil, err
	}

	language := strings.TrimSpace(req.Language)
	if language == "" {
		language = s.defaultLanguage
	}

	rec := &storage.RunRecord{
		ID:           uuid.NewString(),
		WorkflowID:   req.Workflow.ID,
		WorkflowName: req.Workflow.Name,
		Input:        req.Input,
		Language:     language,
		Status:       model.RunStateRunning,
		Outputs:      map[int]string{},
		CreatedAt:    s.now(),
	}
	// Persistence outlives a client that disconnects mid-run.
	storeCtx := context.WithoutCancel(ctx)
	if err := s.store.SaveRun(storeCtx, rec); err != nil {
		return nil, fmt.Errorf("save run %s: %w", rec.ID, err)
	}

	runCtx := engine.ContextWithRunID(ctx, rec.ID)
	if s.runTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, s.runTimeout)
		defer cancel()
	}

	result := s.exec.Execute(runCtx, req.Workflow, lookup, req.Input, language)
	docs := document.Build(req.Workflow, lookup, result)

	rec.Status = result.State
	rec.Success = result.Success
	rec.Outputs = result.Outputs
	rec.StepOutputs = result.StepOutputs
	rec.Error = result.Error
	rec.Steps = result.Steps
	rec.StartedAt = result.StartedAt
	rec.CompletedAt = result.CompletedAt
	rec.DocumentCount = len(docs)

	resp := &RunResponse{Run: rec, Documents: docs}

	if len(docs) > 0 {
		if err := s.store.SaveDocuments(storeCtx, rec.ID, docs); err != nil {
			return resp, fmt.Errorf("save documents for run %s: %w", rec.ID, err)
		}
		for _, d := range docs {
			s.metrics.RecordDocument(string(d.Category))
		}
	}
	if err := s.store.SaveRun(storeCtx, rec); err != nil {
		return resp, fmt.Errorf("save run %s: %w", rec.ID, err)
	}

	s.logger.InfoContext(ctx, "run stored",
		"run_id", rec.ID,
		"workflow_id", rec.WorkflowID,
		"success", rec.Success,
		"documents", rec.DocumentCount,
		"duration_ms", result.Duration().Milliseconds(),
	)
	return resp, nil
}

// prepare validates req and returns the agent lookup for the run.
func (s *Service) prepare(req *RunRequest, requireInput bool) (model.AgentLookup, *stage.Plan, error) {
	if req == nil || req.Workflow == nil {
		return nil, nil, model.NewConfigurationError("request", "workflow is required")
	}
	if requireInput && strings.TrimSpace(req.Input) == "" {
		return nil, nil, model.NewConfigurationError("request", "input is required")
	}
	if err := req.Workflow.Validate(); err != nil {
		return nil, nil, err
	}

	overrides := make([]*model.Agent, 0, len(req.Agents))
	for i, a := range req.Agents {
		if a == nil || strings.TrimSpace(a.ID) == "" {
			return nil, nil, model.NewConfigurationError(fmt.Sprintf("agent %d", i+1), "id is required")
		}
		if err := catalog.Validate(a); err != nil {
			return nil, nil, err
		}
		overrides = append(overrides, a.Clone())
	}
	lookup := model.ChainLookup{model.NewAgentSet(overrides...)}
	if s.agents != nil {
		lookup = append(lookup, s.agents)
	}

	for i, step := range req.Workflow.Steps {
		a, ok := lookup.Agent(step.AgentID)
		subject := fmt.Sprintf("step %d (order %d)", i+1, step.Order)
		if !ok {
			return nil, nil, model.NewConfigurationError(subject, "agent %q not found", step.AgentID)
		}
		if !a.Active {
			return nil, nil, model.NewConfigurationError(subject, "agent %q is inactive", step.AgentID)
		}
	}

	plan := stage.Resolve(req.Workflow.Steps)
	if err := plan.Validate(); err != nil {
		return nil, nil, err
	}
	return lookup, plan, nil
}

// GetRun returns a stored run.
func (s *Service) GetRun(ctx context.Context, id string) (*storage.RunRecord, error) {
	return s.store.GetRun(ctx, id)
}

// ListRuns returns one page of runs and the total count.
func (s *Service) ListRuns(ctx context.Context, filter *storage.RunFilter) ([]*storage.RunRecord, int, error) {
	return s.store.ListRuns(ctx, filter)
}

// ListDocuments returns the documents of a run. An unknown run is a
// *storage.NotFoundError.
func (s *Service) ListDocuments(ctx context.Context, runID string) ([]model.Document, error) {
	if _, err := s.store.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	return s.store.ListDocuments(ctx, runID)
}

// DeleteRun removes a run and its documents.
func (s *Service) DeleteRun(ctx context.Context, id string) error {
	return s.store.DeleteRun(ctx, id)
}

// IsInvalidRequest reports whether err describes a request the caller must fix.
func IsInvalidRequest(err error) bool {
	var cfgErr *model.ConfigurationError
	var planErr *stage.PlanError
	return errors.As(err, &cfgErr) || errors.As(err, &planErr)
}
