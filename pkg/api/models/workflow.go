// Package models defines API request/response data structures.
package models

import (
	"github.com/ideaforge/ideaforge/pkg/model"
	"github.com/ideaforge/ideaforge/pkg/stage"
)

// WorkflowRequest is a workflow definition submitted for execution or
// validation.
type WorkflowRequest struct {
	// ID is optional; runs are indexed by it.
	ID string `json:"id,omitempty" validate:"max=100"`

	// Name is the workflow name.
	Name string `json:"name" validate:"required,min=1,max=100"`

	// Description is an optional workflow description.
	Description string `json:"description,omitempty" validate:"max=500"`

	// Steps is the pipeline. An empty pipeline is valid and produces nothing.
	Steps []StepDefinition `json:"steps" validate:"max=50,dive"`
}

// StepDefinition binds an agent to a position in the pipeline.
type StepDefinition struct {
	AgentID           string         `json:"agent_id" validate:"required,max=100"`
	Order             int            `json:"order" validate:"min=0"`
	ExecuteInParallel bool           `json:"execute_in_parallel"`
	UseOutputFrom     *int           `json:"use_output_from,omitempty" validate:"omitempty,min=0"`
	ProduceDocument   *bool          `json:"produce_document,omitempty"`
	DocumentTitle     string         `json:"document_title,omitempty" validate:"max=200"`
	DocumentCategory  model.Category `json:"document_category,omitempty" validate:"omitempty,oneof=frontend css backend db_schema generic"`
}

// ToModel converts the request into the engine's workflow type.
func (r *WorkflowRequest) ToModel() *model.Workflow {
	wf := &model.Workflow{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		Active:      true,
		Steps:       make([]model.WorkflowStep, len(r.Steps)),
	}
	for i, s := range r.Steps {
		wf.Steps[i] = model.WorkflowStep{
			AgentID:           s.AgentID,
			Order:             s.Order,
			ExecuteInParallel: s.ExecuteInParallel,
			UseOutputFrom:     s.UseOutputFrom,
			ProduceDocument:   s.ProduceDocument,
			DocumentTitle:     s.DocumentTitle,
			DocumentCategory:  s.DocumentCategory,
		}
	}
	return wf
}

// ValidateWorkflowRequest asks whether a workflow would run.
type ValidateWorkflowRequest struct {
	Workflow WorkflowRequest `json:"workflow"`
	Agents   []AgentRequest  `json:"agents,omitempty" validate:"max=50,dive"`
}

// ValidateWorkflowResponse describes the stages the workflow resolves to.
type ValidateWorkflowResponse struct {
	Valid bool        `json:"valid"`
	Plan  *stage.Plan `json:"plan,omitempty"`
}
