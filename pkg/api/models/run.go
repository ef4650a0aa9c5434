package models

import (
	"github.com/ideaforge/ideaforge/pkg/model"
	"github.com/ideaforge/ideaforge/pkg/storage"
)

// RunRequest starts a workflow execution.
type RunRequest struct {
	// Workflow is the pipeline to run. When nil the default workflow is used.
	Workflow *WorkflowRequest `json:"workflow,omitempty" validate:"omitempty"`

	// Agents override catalog agents with the same id for this run only.
	Agents []AgentRequest `json:"agents,omitempty" validate:"max=50,dive"`

	// Input is the user's idea.
	Input string `json:"input" validate:"required,max=20000"`

	// Language is the response language; empty uses the server default.
	Language string `json:"language,omitempty" validate:"omitempty,max=64"`
}

// RunResponse is a run record together with the documents it produced.
type RunResponse struct {
	Run       *storage.RunRecord `json:"run"`
	Documents []model.Document   `json:"documents"`
}

// RunListResponse represents a paginated list of runs.
type RunListResponse struct {
	Runs   []*storage.RunRecord `json:"runs"`
	Total  int                  `json:"total"`
	Limit  int                  `json:"limit"`
	Offset int                  `json:"offset"`
}

// DocumentListResponse lists the documents of one run.
type DocumentListResponse struct {
	RunID     string           `json:"run_id"`
	Documents []model.Document `json:"documents"`
}
