package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ideaforge/ideaforge/pkg/api/models"
	"github.com/ideaforge/ideaforge/pkg/api/response"
	"github.com/ideaforge/ideaforge/pkg/logger"
	"github.com/ideaforge/ideaforge/pkg/model"
	"github.com/ideaforge/ideaforge/pkg/service"
	"github.com/ideaforge/ideaforge/pkg/stage"
	"github.com/ideaforge/ideaforge/pkg/storage"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// RunService is the part of *service.Service the HTTP layer depends on.
type RunService interface {
	Run(ctx context.Context, req *service.RunRequest) (*service.RunResponse, error)
	Validate(req *service.RunRequest) (*stage.Plan, error)
	GetRun(ctx context.Context, id string) (*storage.RunRecord, error)
	ListRuns(ctx context.Context, filter *storage.RunFilter) ([]*storage.RunRecord, int, error)
	ListDocuments(ctx context.Context, runID string) ([]model.Document, error)
	DeleteRun(ctx context.Context, id string) error
}

// RunHandler handles run endpoints.
type RunHandler struct {
	svc             RunService
	logger          logger.Logger
	defaultWorkflow func() *model.Workflow
}

// NewRunHandler creates a run handler. defaultWorkflow supplies the pipeline
// for requests that omit one; nil makes the workflow mandatory.
func NewRunHandler(svc RunService, log logger.Logger, defaultWorkflow func() *model.Workflow) *RunHandler {
	if log == nil {
		log = logger.Global()
	}
	return &RunHandler{svc: svc, logger: log, defaultWorkflow: defaultWorkflow}
}

// CreateRun handles POST /api/v1/runs. The workflow runs synchronously. A
// run that fails while executing is still created and returned with 201.
func (h *RunHandler) CreateRun(w http.ResponseWriter, r *http.Request) {
	var req models.RunRequest
	if !decodeAndValidate(w, r, h.logger, &req) {
		return
	}

	svcReq, ok := h.serviceRequest(w, r, req.Workflow, req.Agents)
	if !ok {
		return
	}
	svcReq.Input = req.Input
	svcReq.Language = req.Language

	resp, err := h.svc.Run(r.Context(), svcReq)
	if err != nil {
		if service.IsInvalidRequest(err) {
			h.logger.WarnContext(r.Context(), "Run rejected", "error", err)
			response.Error(w, http.StatusBadRequest, response.ErrCodeValidationFailed, err.Error(), requestID(r))
			return
		}
		h.logger.ErrorContext(r.Context(), "Failed to run workflow", "error", err)
		writeError(w, r, err)
		return
	}

	docs := resp.Documents
	if docs == nil {
		docs = []model.Document{}
	}
	response.JSON(w, http.StatusCreated, models.RunResponse{Run: resp.Run, Documents: docs})
}

// serviceRequest converts the workflow and agent overrides of a request.
func (h *RunHandler) serviceRequest(w http.ResponseWriter, r *http.Request, wf *models.WorkflowRequest, agents []models.AgentRequest) (*service.RunRequest, bool) {
	req := &service.RunRequest{}
	switch {
	case wf != nil:
		req.Workflow = wf.ToModel()
	case h.defaultWorkflow != nil:
		req.Workflow = h.defaultWorkflow()
	default:
		response.Error(w, http.StatusBadRequest, response.ErrCodeValidationFailed, "workflow is required", requestID(r))
		return nil, false
	}
	for i := range agents {
		req.Agents = append(req.Agents, agents[i].ToModel())
	}
	return req, true
}

// ListRuns handles GET /api/v1/runs. Query parameters: status (comma
// separated), workflow_id, limit and offset.
func (h *RunHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := &storage.RunFilter{
		WorkflowID: strings.TrimSpace(q.Get("workflow_id")),
		Limit:      defaultListLimit,
	}

	if limitStr := q.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 1 {
			response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, "limit must be a positive integer", requestID(r))
			return
		}
		filter.Limit = min(limit, maxListLimit)
	}
	if offsetStr := q.Get("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil || offset < 0 {
			response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, "offset must be a non-negative integer", requestID(r))
			return
		}
		filter.Offset = offset
	}
	if statusStr := q.Get("status"); statusStr != "" {
		for _, s := range strings.Split(statusStr, ",") {
			state := model.RunState(strings.ToLower(strings.TrimSpace(s)))
			if !validRunState(state) {
				response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, "unknown status "+strconv.Quote(s), requestID(r))
				return
			}
			filter.Status = append(filter.Status, state)
		}
	}

	runs, total, err := h.svc.ListRuns(r.Context(), filter)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "Failed to list runs", "error", err)
		writeError(w, r, err)
		return
	}
	if runs == nil {
		runs = []*storage.RunRecord{}
	}

	response.JSON(w, http.StatusOK, models.RunListResponse{
		Runs:   runs,
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	})
}

// GetRun handles GET /api/v1/runs/{id}.
func (h *RunHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, err := h.svc.GetRun(r.Context(), id)
	if err != nil {
		h.logger.WarnContext(r.Context(), "Failed to get run", "id", id, "error", err)
		writeError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, run)
}

// ListDocuments handles GET /api/v1/runs/{id}/documents.
func (h *RunHandler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	docs, err := h.svc.ListDocuments(r.Context(), id)
	if err != nil {
		h.logger.WarnContext(r.Context(), "Failed to list documents", "id", id, "error", err)
		writeError(w, r, err)
		return
	}
	if docs == nil {
		docs = []model.Document{}
	}
	response.JSON(w, http.StatusOK, models.DocumentListResponse{RunID: id, Documents: docs})
}

// DeleteRun handles DELETE /api/v1/runs/{id}.
func (h *RunHandler) DeleteRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.svc.DeleteRun(r.Context(), id); err != nil {
		h.logger.WarnContext(r.Context(), "Failed to delete run", "id", id, "error", err)
		writeError(w, r, err)
		return
	}
	response.NoContent(w)
}

func validRunState(s model.RunState) bool {
	switch s {
	case model.RunStateIdle, model.RunStateRunning, model.RunStateCompleted, model.RunStateFailed:
		return true
	}
	return false
}
