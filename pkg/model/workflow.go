package model

import (
	"fmt"
	"strings"
)

// Workflow is an ordered pipeline of agent steps.
type Workflow struct {
	ID          string         `json:"id"`
	OwnerID     string         `json:"owner_id,omitempty"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Steps       []WorkflowStep `json:"steps"`
	Active      bool           `json:"active"`
}

// WorkflowStep binds an agent to a position in the pipeline.
type WorkflowStep struct {
	AgentID string `json:"agent_id"`

	// Order sequences the step and keys its output. Steps sharing an order
	// form one stage.
	Order int `json:"order"`

	ExecuteInParallel bool `json:"execute_in_parallel"`

	// UseOutputFrom names the order of an earlier step whose output becomes
	// this step's input. Nil means the original user input.
	UseOutputFrom *int `json:"use_output_from,omitempty"`

	// ProduceDocument nil means true.
	ProduceDocument *bool  `json:"produce_document,omitempty"`
	DocumentTitle   string `json:"document_title,omitempty"`

	// DocumentCategory overrides agent and content based classification.
	DocumentCategory Category `json:"document_category,omitempty"`
}

// ProducesDocument reports whether the step's output becomes a document.
func (s *WorkflowStep) ProducesDocument() bool {
	return s.ProduceDocument == nil || *s.ProduceDocument
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int { return &v }

// Float64Ptr returns a pointer to v.
func Float64Ptr(v float64) *float64 { return &v }

// BoolPtr returns a pointer to v.
func BoolPtr(v bool) *bool { return &v }

// Validate checks the workflow before it is persisted or executed. It
// returns a *ConfigurationError describing the first problem found.
func (w *Workflow) Validate() error {
	if w == nil {
		return NewConfigurationError("workflow", "workflow is nil")
	}

	orders := make(map[int]struct{}, len(w.Steps))
	parallelAt := make(map[int]int, len(w.Steps))
	for i := range w.Steps {
		step := &w.Steps[i]
		orders[step.Order] = struct{}{}

		if strings.TrimSpace(step.AgentID) == "" {
			return NewConfigurationError(stepSubject(i, step.Order), "agent is required")
		}
		if step.ProducesDocument() && strings.TrimSpace(step.DocumentTitle) == "" {
			return NewConfigurationError(stepSubject(i, step.Order), "document title is required when the step produces a document")
		}
		if step.DocumentCategory != "" && !step.DocumentCategory.Valid() {
			return NewConfigurationError(stepSubject(i, step.Order), "unknown document category %q", step.DocumentCategory)
		}
		if step.ExecuteInParallel {
			if prev, dup := parallelAt[step.Order]; dup {
				return NewConfigurationError(stepSubject(i, step.Order),
					"parallel steps %d and %d share order %d", prev+1, i+1, step.Order)
			}
			parallelAt[step.Order] = i
		}
	}

	for i := range w.Steps {
		step := &w.Steps[i]
		if step.UseOutputFrom == nil {
			continue
		}
		src := *step.UseOutputFrom
		if src == step.Order {
			return NewConfigurationError(stepSubject(i, step.Order),
				"cannot use output from its own stage (order %d)", src)
		}
		if src > step.Order {
			return NewConfigurationError(stepSubject(i, step.Order),
				"cannot use output from later order %d", src)
		}
		if _, ok := orders[src]; !ok {
			return NewConfigurationError(stepSubject(i, step.Order),
				"uses output from order %d but no step has that order", src)
		}
	}

	return nil
}

// String returns a short description of the workflow.
func (w *Workflow) String() string {
	return fmt.Sprintf("Workflow{ID: %s, Name: %s, Steps: %d}", w.ID, w.Name, len(w.Steps))
}
