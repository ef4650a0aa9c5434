package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ideaforge/ideaforge/pkg/api/models"
	"github.com/ideaforge/ideaforge/pkg/api/response"
	"github.com/ideaforge/ideaforge/pkg/logger"
	"github.com/ideaforge/ideaforge/pkg/model"
)

// AgentCatalog is the agent registry. *catalog.Catalog implements it.
type AgentCatalog interface {
	List() []*model.Agent
	Get(id string) (*model.Agent, error)
	Create(a *model.Agent) (*model.Agent, error)
	Update(id string, a *model.Agent) (*model.Agent, error)
	Delete(id string) error
}

// AgentHandler handles agent catalog endpoints.
type AgentHandler struct {
	catalog AgentCatalog
	logger  logger.Logger
}

// NewAgentHandler creates an agent handler.
func NewAgentHandler(c AgentCatalog, log logger.Logger) *AgentHandler {
	if log == nil {
		log = logger.Global()
	}
	return &AgentHandler{catalog: c, logger: log}
}

// ListAgents handles GET /api/v1/agents.
func (h *AgentHandler) ListAgents(w http.ResponseWriter, r *http.Request) {
	agents := h.catalog.List()
	response.JSON(w, http.StatusOK, models.AgentListResponse{Agents: agents, Total: len(agents)})
}

// GetAgent handles GET /api/v1/agents/{id}.
func (h *AgentHandler) GetAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := h.catalog.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, agent)
}

// CreateAgent handles POST /api/v1/agents.
func (h *AgentHandler) CreateAgent(w http.ResponseWriter, r *http.Request) {
	var req models.AgentRequest
	if !decodeAndValidate(w, r, h.logger, &req) {
		return
	}

	agent, err := h.catalog.Create(req.ToModel())
	if err != nil {
		h.logger.WarnContext(r.Context(), "Failed to create agent", "id", req.ID, "error", err)
		writeError(w, r, err)
		return
	}
	h.logger.InfoContext(r.Context(), "Agent created", "id", agent.ID, "name", agent.Name)
	response.JSON(w, http.StatusCreated, agent)
}

// UpdateAgent handles PUT /api/v1/agents/{id}. System agents are read-only.
func (h *AgentHandler) UpdateAgent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req models.AgentRequest
	if !decodeAndValidate(w, r, h.logger, &req) {
		return
	}

	agent, err := h.catalog.Update(id, req.ToModel())
	if err != nil {
		h.logger.WarnContext(r.Context(), "Failed to update agent", "id", id, "error", err)
		writeError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, agent)
}

// DeleteAgent handles DELETE /api/v1/agents/{id}. System agents are
// read-only.
func (h *AgentHandler) DeleteAgent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.catalog.Delete(id); err != nil {
		h.logger.WarnContext(r.Context(), "Failed to delete agent", "id", id, "error", err)
		writeError(w, r, err)
		return
	}
	h.logger.InfoContext(r.Context(), "Agent deleted", "id", id)
	response.NoContent(w)
}
