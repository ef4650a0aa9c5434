package models

import "github.com/ideaforge/ideaforge/pkg/model"

// AgentRequest creates or replaces a custom agent.
type AgentRequest struct {
	// ID is optional on create; a uuid is assigned when empty.
	ID               string         `json:"id,omitempty" validate:"max=100"`
	Name             string         `json:"name" validate:"required,min=1,max=100"`
	Description      string         `json:"description,omitempty" validate:"max=500"`
	PromptTemplate   string         `json:"prompt_template" validate:"required,max=20000"`
	Model            string         `json:"model,omitempty" validate:"max=100"`
	Temperature      *float64       `json:"temperature,omitempty" validate:"omitempty,min=0,max=2"`
	MaxTokens        int            `json:"max_tokens" validate:"min=0,max=128000"`
	Active           *bool          `json:"active,omitempty"`
	DisplayOrder     int            `json:"display_order"`
	DocumentCategory model.Category `json:"document_category,omitempty" validate:"omitempty,oneof=frontend css backend db_schema generic"`
}

// ToModel converts the request into an agent. Active defaults to true.
func (r *AgentRequest) ToModel() *model.Agent {
	active := true
	if r.Active != nil {
		active = *r.Active
	}
	return &model.Agent{
		ID:               r.ID,
		Name:             r.Name,
		Description:      r.Description,
		PromptTemplate:   r.PromptTemplate,
		Model:            r.Model,
		Temperature:      r.Temperature,
		MaxTokens:        r.MaxTokens,
		Active:           active,
		DisplayOrder:     r.DisplayOrder,
		DocumentCategory: r.DocumentCategory,
	}
}

// AgentListResponse lists the catalog.
type AgentListResponse struct {
	Agents []*model.Agent `json:"agents"`
	Total  int            `json:"total"`
}
