// Package engine executes workflows: it resolves steps into stages, runs each
// stage against the text generation provider and aggregates the outputs.
package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ideaforge/ideaforge/pkg/logger"
	"github.com/ideaforge/ideaforge/pkg/model"
	"github.com/ideaforge/ideaforge/pkg/stage"
	"github.com/ideaforge/ideaforge/pkg/textgen"
)

type runIDKey struct{}

// ContextWithRunID attaches the id Execute uses for the run.
func ContextWithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

// RunIDFromContext returns the run id attached by ContextWithRunID.
func RunIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(runIDKey{}).(string)
	return id, ok && id != ""
}

// Orchestrator runs whole workflows. It is safe for concurrent use.
type Orchestrator struct {
	settings
	gen         textgen.Generator
	serialDelay atomic.Int64
}

// NewOrchestrator creates an orchestrator that calls gen for every step.
func NewOrchestrator(gen textgen.Generator, opts ...Option) *Orchestrator {
	s := defaultSettings()
	for _, opt := range opts {
		opt(&s)
	}
	o := &Orchestrator{settings: s, gen: gen}
	o.serialDelay.Store(int64(s.serialDelay))
	return o
}

// SetSerialDelay changes the pause between serial steps for runs started
// afterwards. Negative values are treated as zero.
func (o *Orchestrator) SetSerialDelay(d time.Duration) {
	if d < 0 {
		d = 0
	}
	o.serialDelay.Store(int64(d))
}

// SerialDelay returns the pause applied between serial steps.
func (o *Orchestrator) SerialDelay() time.Duration {
	return time.Duration(o.serialDelay.Load())
}

// Execute validates wf, runs its stages in ascending order and returns the
// aggregated result. Failures never escape as errors: they end the run and
// are reported in the result together with the outputs produced so far.
func (o *Orchestrator) Execute(ctx context.Context, wf *model.Workflow, agents model.AgentLookup, userInput, language string) *model.ExecutionResult {
	runID, ok := RunIDFromContext(ctx)
	if !ok {
		runID = uuid.NewString()
	}
	workflowID := ""
	if wf != nil {
		workflowID = wf.ID
	}

	ctx = logger.ContextWithFields(ctx, "run_id", runID, "workflow_id", workflowID)
	ctx, span := engineTracer().Start(ctx, spanRunExecute, trace.WithAttributes(
		attribute.String("run.id", runID),
		attribute.String("workflow.id", workflowID),
	))
	defer span.End()

	s := o.settings
	s.serialDelay = o.SerialDelay()
	exec := &Executor{
		settings:   s,
		gen:        o.gen,
		agents:     agents,
		runID:      runID,
		workflowID: workflowID,
		tracker:    newRunTracker(),
	}
	result := &model.ExecutionResult{
		Outputs:     make(map[int]string),
		StepOutputs: make(map[int]string),
		State:       model.RunStateIdle,
		StartedAt:   time.Now().UTC(),
	}

	if err := wf.Validate(); err != nil {
		return o.finish(ctx, span, exec, result, err)
	}
	plan := stage.Resolve(wf.Steps)
	if err := plan.Validate(); err != nil {
		return o.finish(ctx, span, exec, result, err)
	}
	span.SetAttributes(
		attribute.Int("workflow.stages", len(plan.Stages)),
		attribute.Int("workflow.steps", plan.TotalSteps),
	)

	if err := o.transition(exec, result, model.RunStateRunning, ""); err != nil {
		return o.finish(ctx, span, exec, result, err)
	}
	o.metrics.RecordRunStarted()
	o.logger.InfoContext(ctx, "run started",
		"stages", len(plan.Stages),
		"steps", plan.TotalSteps,
	)

	for _, st := range plan.Stages {
		if err := ctx.Err(); err != nil {
			return o.finish(ctx, span, exec, result, err)
		}
		out, err := exec.runStage(ctx, st, userInput, language, result.Outputs)
		for k, v := range out.byOrder {
			result.Outputs[k] = v
		}
		for k, v := range out.byIndex {
			result.StepOutputs[k] = v
		}
		if err != nil {
			return o.finish(ctx, span, exec, result, err)
		}
	}
	return o.finish(ctx, span, exec, result, nil)
}

// finish moves the run to its terminal state and fills the result.
func (o *Orchestrator) finish(ctx context.Context, span trace.Span, exec *Executor, result *model.ExecutionResult, err error) *model.ExecutionResult {
	result.CompletedAt = time.Now().UTC()
	result.Steps = exec.tracker.Steps()
	wasRunning := exec.tracker.State() == model.RunStateRunning

	if err == nil {
		if terr := o.transition(exec, result, model.RunStateCompleted, ""); terr != nil {
			err = terr
		} else {
			result.Success = true
			span.SetStatus(codes.Ok, "")
			o.metrics.RecordRunFinished(string(model.RunStateCompleted), result.Duration())
			o.logger.InfoContext(ctx, "run completed",
				"duration", result.Duration(),
			)
			return result
		}
	}

	result.Success = false
	result.Err = err
	result.Error = err.Error()
	_ = o.transition(exec, result, model.RunStateFailed, result.Error)

	span.RecordError(err)
	span.SetStatus(codes.Error, result.Error)
	if wasRunning {
		status := string(model.RunStateFailed)
		if isCancellation(err) {
			status = "cancelled"
		}
		o.metrics.RecordRunFinished(status, result.Duration())
	}

	var cfgErr *model.ConfigurationError
	o.logger.ErrorContext(ctx, "run failed",
		"configuration_error", errors.As(err, &cfgErr),
		"outputs", len(result.Outputs),
		"error", err,
	)
	return result
}

func (o *Orchestrator) transition(exec *Executor, result *model.ExecutionResult, to model.RunState, msg string) error {
	from, err := exec.tracker.transition(to)
	if err != nil {
		return err
	}
	result.State = to
	if from != to {
		o.events.BroadcastRunStateChanged(exec.runID, exec.workflowID, string(from), string(to), msg, time.Now())
	}
	return nil
}
