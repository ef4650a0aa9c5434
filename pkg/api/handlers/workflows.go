package handlers

import (
	"net/http"

	"github.com/ideaforge/ideaforge/pkg/api/models"
	"github.com/ideaforge/ideaforge/pkg/api/response"
	"github.com/ideaforge/ideaforge/pkg/logger"
	"github.com/ideaforge/ideaforge/pkg/model"
	"github.com/ideaforge/ideaforge/pkg/service"
)

// WorkflowHandler handles workflow endpoints. Workflows are not stored; they
// travel with each run request.
type WorkflowHandler struct {
	svc             RunService
	logger          logger.Logger
	defaultWorkflow func() *model.Workflow
}

// NewWorkflowHandler creates a workflow handler.
func NewWorkflowHandler(svc RunService, log logger.Logger, defaultWorkflow func() *model.Workflow) *WorkflowHandler {
	if log == nil {
		log = logger.Global()
	}
	return &WorkflowHandler{svc: svc, logger: log, defaultWorkflow: defaultWorkflow}
}

// ValidateWorkflow handles POST /api/v1/workflows/validate. A workflow that
// would be rejected by a run request answers 400 with the reason.
func (h *WorkflowHandler) ValidateWorkflow(w http.ResponseWriter, r *http.Request) {
	var req models.ValidateWorkflowRequest
	if !decodeAndValidate(w, r, h.logger, &req) {
		return
	}

	svcReq := &service.RunRequest{Workflow: req.Workflow.ToModel()}
	for i := range req.Agents {
		svcReq.Agents = append(svcReq.Agents, req.Agents[i].ToModel())
	}

	plan, err := h.svc.Validate(svcReq)
	if err != nil {
		h.logger.InfoContext(r.Context(), "Workflow rejected", "workflow", req.Workflow.Name, "error", err)
		response.Error(w, http.StatusBadRequest, response.ErrCodeValidationFailed, err.Error(), requestID(r))
		return
	}
	response.JSON(w, http.StatusOK, models.ValidateWorkflowResponse{Valid: true, Plan: plan})
}

// DefaultWorkflow handles GET /api/v1/workflows/default.
func (h *WorkflowHandler) DefaultWorkflow(w http.ResponseWriter, r *http.Request) {
	if h.defaultWorkflow == nil {
		response.Error(w, http.StatusNotFound, response.ErrCodeNotFound, "no default workflow configured", requestID(r))
		return
	}
	response.JSON(w, http.StatusOK, h.defaultWorkflow())
}
