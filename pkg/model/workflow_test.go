package model

import (
	"errors"
	"strings"
	"testing"
)

func validStep(order int, title string) WorkflowStep {
	return WorkflowStep{AgentID: "agent", Order: order, DocumentTitle: title}
}

func TestWorkflow_Validate(t *testing.T) {
	tests := []struct {
		name    string
		steps   []WorkflowStep
		wantErr string
	}{
		{
			name:  "empty workflow",
			steps: nil,
		},
		{
			name: "linear chain",
			steps: []WorkflowStep{
				validStep(0, "Idea"),
				{AgentID: "agent", Order: 1, UseOutputFrom: IntPtr(0), DocumentTitle: "Frontend"},
			},
		},
		{
			name: "no document needs no title",
			steps: []WorkflowStep{
				{AgentID: "agent", Order: 0, ProduceDocument: BoolPtr(false)},
			},
		},
		{
			name:    "missing agent",
			steps:   []WorkflowStep{{Order: 0, DocumentTitle: "x"}},
			wantErr: "agent is required",
		},
		{
			name:    "missing title with default document flag",
			steps:   []WorkflowStep{{AgentID: "agent", Order: 0}},
			wantErr: "document title is required",
		},
		{
			name:    "whitespace title",
			steps:   []WorkflowStep{{AgentID: "agent", Order: 0, DocumentTitle: "   ", ProduceDocument: BoolPtr(true)}},
			wantErr: "document title is required",
		},
		{
			name: "same stage reference",
			steps: []WorkflowStep{
				validStep(0, "a"),
				{AgentID: "agent", Order: 0, UseOutputFrom: IntPtr(0), DocumentTitle: "b"},
			},
			wantErr: "own stage",
		},
		{
			name: "forward reference",
			steps: []WorkflowStep{
				{AgentID: "agent", Order: 0, UseOutputFrom: IntPtr(1), DocumentTitle: "a"},
				validStep(1, "b"),
			},
			wantErr: "later order",
		},
		{
			name: "dangling reference",
			steps: []WorkflowStep{
				validStep(0, "a"),
				{AgentID: "agent", Order: 5, UseOutputFrom: IntPtr(3), DocumentTitle: "b"},
			},
			wantErr: "no step has that order",
		},
		{
			name: "duplicate parallel order",
			steps: []WorkflowStep{
				{AgentID: "a", Order: 1, ExecuteInParallel: true, DocumentTitle: "a"},
				{AgentID: "b", Order: 1, ExecuteInParallel: true, DocumentTitle: "b"},
			},
			wantErr: "share order 1",
		},
		{
			name: "serial steps may share an order",
			steps: []WorkflowStep{
				validStep(1, "a"),
				validStep(1, "b"),
			},
		},
		{
			name:    "unknown category",
			steps:   []WorkflowStep{{AgentID: "a", Order: 0, DocumentTitle: "a", DocumentCategory: "poetry"}},
			wantErr: "unknown document category",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wf := &Workflow{Name: "wf", Steps: tt.steps}
			err := wf.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() expected error containing %q", tt.wantErr)
			}
			var cfgErr *ConfigurationError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected *ConfigurationError, got %T", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestWorkflowStep_ProducesDocument(t *testing.T) {
	s := WorkflowStep{}
	if !s.ProducesDocument() {
		t.Error("nil ProduceDocument should default to true")
	}
	s.ProduceDocument = BoolPtr(false)
	if s.ProducesDocument() {
		t.Error("explicit false should disable documents")
	}
}

func TestAgent_Effective(t *testing.T) {
	a := &Agent{}
	if got := a.EffectiveTemperature(); got != DefaultTemperature {
		t.Errorf("EffectiveTemperature() = %v, want %v", got, DefaultTemperature)
	}
	if got := a.EffectiveMaxTokens(); got != DefaultMaxTokens {
		t.Errorf("EffectiveMaxTokens() = %v, want %v", got, DefaultMaxTokens)
	}
	a.Temperature = Float64Ptr(3.5)
	if got := a.EffectiveTemperature(); got != MaxTemperature {
		t.Errorf("EffectiveTemperature() = %v, want clamp to %v", got, MaxTemperature)
	}
	a.Temperature = Float64Ptr(0)
	if got := a.EffectiveTemperature(); got != 0 {
		t.Errorf("EffectiveTemperature() = %v, want explicit 0 kept", got)
	}
}

func TestAgent_CloneCopiesTemperature(t *testing.T) {
	a := &Agent{ID: "a", Temperature: Float64Ptr(0.4)}
	c := a.Clone()
	*c.Temperature = 1.5
	if *a.Temperature != 0.4 {
		t.Errorf("original temperature = %v, want 0.4 after mutating clone", *a.Temperature)
	}
}

func TestChainLookup(t *testing.T) {
	override := NewAgentSet(&Agent{ID: "a", Name: "override"})
	base := NewAgentSet(&Agent{ID: "a", Name: "base"}, &Agent{ID: "b", Name: "other"})
	chain := ChainLookup{override, nil, base}

	a, ok := chain.Agent("a")
	if !ok || a.Name != "override" {
		t.Errorf("expected override agent, got %+v", a)
	}
	b, ok := chain.Agent("b")
	if !ok || b.Name != "other" {
		t.Errorf("expected base agent b, got %+v", b)
	}
	if _, ok := chain.Agent("missing"); ok {
		t.Error("expected missing agent lookup to fail")
	}
}
