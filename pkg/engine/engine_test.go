package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ideaforge/ideaforge/pkg/document"
	"github.com/ideaforge/ideaforge/pkg/model"
	"github.com/ideaforge/ideaforge/pkg/textgen"
)

// fakeGenerator routes each request by model, which tests set to the agent id.
type fakeGenerator struct {
	mu    sync.Mutex
	calls []textgen.Request
	fn    func(ctx context.Context, req textgen.Request) (string, error)
}

func (g *fakeGenerator) Generate(ctx context.Context, req textgen.Request) (string, error) {
	g.mu.Lock()
	g.calls = append(g.calls, req)
	g.mu.Unlock()
	if g.fn == nil {
		return "out:" + req.Model, nil
	}
	return g.fn(ctx, req)
}

func (g *fakeGenerator) models() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, len(g.calls))
	for i, c := range g.calls {
		out[i] = c.Model
	}
	return out
}

func (g *fakeGenerator) promptFor(modelID string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, c := range g.calls {
		if c.Model == modelID {
			return c.Prompt
		}
	}
	return ""
}

func agentsFor(ids ...string) model.AgentSet {
	agents := make([]*model.Agent, 0, len(ids))
	for _, id := range ids {
		agents = append(agents, &model.Agent{
			ID:             id,
			Name:           strings.ToUpper(id),
			PromptTemplate: "[" + id + "] {{input}}",
			Model:          id,
			Active:         true,
		})
	}
	return model.NewAgentSet(agents...)
}

// noSleep records requested delays without waiting.
type noSleep struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (n *noSleep) sleep(ctx context.Context, d time.Duration) error {
	n.mu.Lock()
	n.delays = append(n.delays, d)
	n.mu.Unlock()
	return ctx.Err()
}

func newTestOrchestrator(gen textgen.Generator, opts ...Option) (*Orchestrator, *noSleep) {
	o := NewOrchestrator(gen, opts...)
	ns := &noSleep{}
	o.sleep = ns.sleep
	return o, ns
}

func TestOrchestrator_EndToEndSuccess(t *testing.T) {
	gen := &fakeGenerator{fn: func(_ context.Context, req textgen.Request) (string, error) {
		switch req.Model {
		case "idea":
			return "A", nil
		case "front":
			return "B", nil
		}
		return "", fmt.Errorf("unexpected model %q", req.Model)
	}}
	o, _ := newTestOrchestrator(gen)

	wf := &model.Workflow{
		ID:   "wf-1",
		Name: "Pipeline",
		Steps: []model.WorkflowStep{
			{AgentID: "idea", Order: 0, DocumentTitle: "Idea"},
			{AgentID: "front", Order: 1, UseOutputFrom: model.IntPtr(0), DocumentTitle: "Frontend"},
		},
	}
	agents := agentsFor("idea", "front")

	result := o.Execute(context.Background(), wf, agents, "a todo app", "")
	if !result.Success {
		t.Fatalf("Execute() failed: %s", result.Error)
	}
	if result.State != model.RunStateCompleted {
		t.Errorf("State = %q, want completed", result.State)
	}
	if len(result.Outputs) != 2 || result.Outputs[0] != "A" || result.Outputs[1] != "B" {
		t.Errorf("Outputs = %v, want {0:A 1:B}", result.Outputs)
	}
	if got := gen.promptFor("front"); got != "[front] A" {
		t.Errorf("front prompt = %q, want output of order 0 as input", got)
	}
	if got := gen.promptFor("idea"); got != "[idea] a todo app" {
		t.Errorf("idea prompt = %q", got)
	}

	docs := document.Build(wf, agents, result)
	if len(docs) != 2 {
		t.Fatalf("documents = %d, want 2", len(docs))
	}
	if docs[0].Title != "Idea" || docs[1].Title != "Frontend" {
		t.Errorf("titles = %q, %q", docs[0].Title, docs[1].Title)
	}
}

func TestOrchestrator_EndToEndFailure(t *testing.T) {
	gen := &fakeGenerator{fn: func(_ context.Context, req textgen.Request) (string, error) {
		if req.Model == "idea" {
			return "A", nil
		}
		return "", &textgen.ProviderError{StatusCode: 500, Message: "internal error", Attempts: 3}
	}}
	o, _ := newTestOrchestrator(gen)

	wf := &model.Workflow{Steps: []model.WorkflowStep{
		{AgentID: "idea", Order: 0, DocumentTitle: "Idea"},
		{AgentID: "front", Order: 1, UseOutputFrom: model.IntPtr(0), DocumentTitle: "Frontend"},
	}}
	agents := agentsFor("idea", "front")

	result := o.Execute(context.Background(), wf, agents, "x", "")
	if result.Success {
		t.Fatal("Execute() succeeded, want failure")
	}
	if result.State != model.RunStateFailed {
		t.Errorf("State = %q, want failed", result.State)
	}
	if len(result.Outputs) != 1 || result.Outputs[0] != "A" {
		t.Errorf("Outputs = %v, want {0:A}", result.Outputs)
	}
	if !strings.Contains(result.Error, "internal error") {
		t.Errorf("Error = %q, want provider message", result.Error)
	}
	var pe *textgen.ProviderError
	if !errors.As(result.Err, &pe) {
		t.Errorf("Err = %T, want wrapped *textgen.ProviderError", result.Err)
	}
	var se *StepError
	if !errors.As(result.Err, &se) || se.Order != 1 || se.AgentID != "front" {
		t.Errorf("Err = %v, want StepError for order 1", result.Err)
	}
	if docs := document.Build(wf, agents, result); len(docs) != 0 {
		t.Errorf("documents = %d, want 0", len(docs))
	}
}

func TestOrchestrator_ReportsStepResults(t *testing.T) {
	gen := &fakeGenerator{fn: func(_ context.Context, req textgen.Request) (string, error) {
		if req.Model == "review" {
			return "", errors.New("provider down")
		}
		return "ok", nil
	}}
	o, _ := newTestOrchestrator(gen)

	wf := &model.Workflow{Steps: []model.WorkflowStep{
		{AgentID: "idea", Order: 0},
		{AgentID: "review", Order: 1},
		{AgentID: "never", Order: 2},
	}}
	result := o.Execute(context.Background(), wf, agentsFor("idea", "review", "never"), "x", "")
	if result.Success {
		t.Fatal("Execute() succeeded, want failure")
	}
	if len(result.Steps) != 2 {
		t.Fatalf("Steps = %d, want 2 (the third step never starts)", len(result.Steps))
	}

	first, second := result.Steps[0], result.Steps[1]
	if first.Index != 0 || first.AgentID != "idea" || first.State != model.StepStateCompleted || first.Error != "" {
		t.Errorf("Steps[0] = %+v, want completed idea step", first)
	}
	if second.Index != 1 || second.Order != 1 || second.State != model.StepStateFailed {
		t.Errorf("Steps[1] = %+v, want failed review step", second)
	}
	if !strings.Contains(second.Error, "provider down") {
		t.Errorf("Steps[1].Error = %q, want provider message", second.Error)
	}
	for _, st := range result.Steps {
		if st.StartedAt.IsZero() || st.FinishedAt.Before(st.StartedAt) {
			t.Errorf("step %d timings = %v..%v", st.Index, st.StartedAt, st.FinishedAt)
		}
	}
}

func TestOrchestrator_StagesRunAscending(t *testing.T) {
	gen := &fakeGenerator{}
	o, _ := newTestOrchestrator(gen)

	wf := &model.Workflow{Steps: []model.WorkflowStep{
		{AgentID: "c", Order: 5, DocumentTitle: "c"},
		{AgentID: "a", Order: -1, DocumentTitle: "a"},
		{AgentID: "b", Order: 2, DocumentTitle: "b"},
	}}
	result := o.Execute(context.Background(), wf, agentsFor("a", "b", "c"), "x", "")
	if !result.Success {
		t.Fatalf("Execute() failed: %s", result.Error)
	}
	if got := strings.Join(gen.models(), ","); got != "a,b,c" {
		t.Errorf("call order = %s, want a,b,c", got)
	}
}

func TestOrchestrator_EmptyWorkflow(t *testing.T) {
	gen := &fakeGenerator{}
	o, _ := newTestOrchestrator(gen)

	result := o.Execute(context.Background(), &model.Workflow{}, agentsFor(), "x", "")
	if !result.Success || len(result.Outputs) != 0 {
		t.Errorf("result = %+v, want success with no outputs", result)
	}
}

func TestOrchestrator_ValidationFailureMakesNoCalls(t *testing.T) {
	gen := &fakeGenerator{}
	o, _ := newTestOrchestrator(gen)

	wf := &model.Workflow{Steps: []model.WorkflowStep{
		{AgentID: "a", Order: 0, DocumentTitle: "t"},
		{AgentID: "b", Order: 1, UseOutputFrom: model.IntPtr(3), DocumentTitle: "t"},
	}}
	result := o.Execute(context.Background(), wf, agentsFor("a", "b"), "x", "")

	var ce *model.ConfigurationError
	if result.Success || !errors.As(result.Err, &ce) {
		t.Fatalf("result.Err = %v, want ConfigurationError", result.Err)
	}
	if result.State != model.RunStateFailed {
		t.Errorf("State = %q, want failed", result.State)
	}
	if n := len(gen.models()); n != 0 {
		t.Errorf("generator calls = %d, want 0", n)
	}
}

func TestOrchestrator_MissingAndInactiveAgents(t *testing.T) {
	inactive := agentsFor("a")
	inactive["a"].Active = false

	tests := []struct {
		name   string
		agents model.AgentLookup
	}{
		{"missing", agentsFor()},
		{"inactive", inactive},
		{"nil lookup", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &fakeGenerator{}
			o, _ := newTestOrchestrator(gen)
			wf := &model.Workflow{Steps: []model.WorkflowStep{{AgentID: "a", Order: 0, DocumentTitle: "t"}}}

			result := o.Execute(context.Background(), wf, tt.agents, "x", "")
			var ce *model.ConfigurationError
			if !errors.As(result.Err, &ce) {
				t.Fatalf("Err = %v, want ConfigurationError", result.Err)
			}
			if n := len(gen.models()); n != 0 {
				t.Errorf("generator calls = %d, want 0", n)
			}
		})
	}
}

func TestOrchestrator_CancellationStopsAtStageBoundary(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	gen := &fakeGenerator{fn: func(_ context.Context, req textgen.Request) (string, error) {
		if req.Model == "a" {
			cancel()
		}
		return "ok", nil
	}}
	o, _ := newTestOrchestrator(gen)

	wf := &model.Workflow{Steps: []model.WorkflowStep{
		{AgentID: "a", Order: 0, DocumentTitle: "t"},
		{AgentID: "b", Order: 1, DocumentTitle: "t"},
	}}
	result := o.Execute(ctx, wf, agentsFor("a", "b"), "x", "")

	if result.Success {
		t.Fatal("Execute() succeeded after cancellation")
	}
	if !errors.Is(result.Err, context.Canceled) {
		t.Errorf("Err = %v, want context.Canceled", result.Err)
	}
	if result.Outputs[0] != "ok" {
		t.Errorf("Outputs = %v, want order 0 kept", result.Outputs)
	}
	if got := gen.models(); len(got) != 1 {
		t.Errorf("calls = %v, want only a", got)
	}
}

func TestOrchestrator_UsesRunIDFromContext(t *testing.T) {
	rec := &recordingBroadcaster{}
	o, _ := newTestOrchestrator(&fakeGenerator{}, WithEventBroadcaster(rec))

	ctx := ContextWithRunID(context.Background(), "run-42")
	wf := &model.Workflow{ID: "wf", Steps: []model.WorkflowStep{{AgentID: "a", Order: 0, DocumentTitle: "t"}}}
	o.Execute(ctx, wf, agentsFor("a"), "x", "")

	rec.mu.Lock()
	defer rec.mu.Unlock()
	want := []string{"idle->running", "running->completed"}
	if strings.Join(rec.runs, ",") != strings.Join(want, ",") {
		t.Errorf("run transitions = %v, want %v", rec.runs, want)
	}
	for _, id := range rec.runIDs {
		if id != "run-42" {
			t.Errorf("run id = %q, want run-42", id)
		}
	}
	if len(rec.steps) != 2 {
		t.Errorf("step events = %v, want started and completed", rec.steps)
	}
}

func TestOrchestrator_RecordsMetrics(t *testing.T) {
	m := &recordingMetrics{}
	gen := &fakeGenerator{fn: func(_ context.Context, req textgen.Request) (string, error) {
		if req.Model == "b" {
			return "", errors.New("boom")
		}
		return "ok", nil
	}}
	o, _ := newTestOrchestrator(gen, WithMetrics(m))

	wf := &model.Workflow{Steps: []model.WorkflowStep{
		{AgentID: "a", Order: 0, DocumentTitle: "t"},
		{AgentID: "b", Order: 1, DocumentTitle: "t"},
	}}
	o.Execute(context.Background(), wf, agentsFor("a", "b"), "x", "")

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started != 1 {
		t.Errorf("runs started = %d, want 1", m.started)
	}
	if strings.Join(m.finished, ",") != "failed" {
		t.Errorf("runs finished = %v, want [failed]", m.finished)
	}
	if strings.Join(m.steps, ",") != "completed,failed" {
		t.Errorf("steps = %v, want [completed failed]", m.steps)
	}
}

func TestValidateRunTransition(t *testing.T) {
	tests := []struct {
		from, to model.RunState
		wantErr  bool
	}{
		{model.RunStateIdle, model.RunStateRunning, false},
		{model.RunStateIdle, model.RunStateFailed, false},
		{model.RunStateRunning, model.RunStateCompleted, false},
		{model.RunStateRunning, model.RunStateFailed, false},
		{model.RunStateRunning, model.RunStateRunning, false},
		{model.RunStateIdle, model.RunStateCompleted, true},
		{model.RunStateCompleted, model.RunStateFailed, true},
		{model.RunStateFailed, model.RunStateRunning, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			err := validateRunTransition(tt.from, tt.to)
			if (err != nil) != tt.wantErr {
				t.Fatalf("validateRunTransition(%q -> %q) error = %v, wantErr %v", tt.from, tt.to, err, tt.wantErr)
			}
		})
	}
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	runs   []string
	runIDs []string
	steps  []string
}

func (r *recordingBroadcaster) BroadcastRunStateChanged(runID, _, oldState, newState, _ string, _ time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, oldState+"->"+newState)
	r.runIDs = append(r.runIDs, runID)
}

func (r *recordingBroadcaster) BroadcastStepStateChanged(_, _ string, index, _ int, _, _, newState, _ string, _ time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, fmt.Sprintf("%d:%s", index, newState))
}

type recordingMetrics struct {
	mu       sync.Mutex
	started  int
	finished []string
	steps    []string
}

func (m *recordingMetrics) RecordRunStarted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started++
}

func (m *recordingMetrics) RecordRunFinished(status string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finished = append(m.finished, status)
}

func (m *recordingMetrics) RecordStepExecution(status string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = append(m.steps, status)
}

func (m *recordingMetrics) RecordStageSize(int, int) {}

func TestOrchestrator_SetSerialDelayAppliesToLaterRuns(t *testing.T) {
	gen := &fakeGenerator{}
	o, ns := newTestOrchestrator(gen, WithSerialDelay(time.Second))
	wf := &model.Workflow{ID: "wf", Name: "Delay", Steps: []model.WorkflowStep{
		{AgentID: "a", Order: 0, DocumentTitle: "A"},
		{AgentID: "b", Order: 0, DocumentTitle: "B"},
	}}

	if res := o.Execute(context.Background(), wf, agentsFor("a", "b"), "idea", ""); !res.Success {
		t.Fatalf("first run failed: %v", res.Err)
	}
	o.SetSerialDelay(250 * time.Millisecond)
	if got := o.SerialDelay(); got != 250*time.Millisecond {
		t.Fatalf("SerialDelay() = %v", got)
	}
	if res := o.Execute(context.Background(), wf, agentsFor("a", "b"), "idea", ""); !res.Success {
		t.Fatalf("second run failed: %v", res.Err)
	}

	ns.mu.Lock()
	defer ns.mu.Unlock()
	want := []time.Duration{time.Second, 250 * time.Millisecond}
	if len(ns.delays) != len(want) || ns.delays[0] != want[0] || ns.delays[1] != want[1] {
		t.Fatalf("delays = %v, want %v", ns.delays, want)
	}

	o.SetSerialDelay(-time.Second)
	if got := o.SerialDelay(); got != 0 {
		t.Fatalf("negative delay stored as %v", got)
	}
}
