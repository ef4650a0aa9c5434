package engine

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/ideaforge/ideaforge/pkg/model"
	"github.com/ideaforge/ideaforge/pkg/prompt"
	"github.com/ideaforge/ideaforge/pkg/stage"
	"github.com/ideaforge/ideaforge/pkg/textgen"
)

// Executor runs the steps of a single stage against a Generator.
type Executor struct {
	settings
	gen    textgen.Generator
	agents model.AgentLookup

	runID      string
	workflowID string
	tracker    *runTracker
}

// NewExecutor creates an executor resolving agents through agents.
func NewExecutor(gen textgen.Generator, agents model.AgentLookup, opts ...Option) *Executor {
	s := defaultSettings()
	for _, opt := range opts {
		opt(&s)
	}
	return &Executor{
		settings: s,
		gen:      gen,
		agents:   agents,
		tracker:  newRunTracker(),
	}
}

// stageOutput holds what a stage produced, by order and by step index.
type stageOutput struct {
	byOrder map[int]string
	byIndex map[int]string
}

func newStageOutput() *stageOutput {
	return &stageOutput{byOrder: make(map[int]string), byIndex: make(map[int]string)}
}

func (o *stageOutput) put(e stage.Entry, text string) {
	o.byOrder[e.Step.Order] = text
	o.byIndex[e.Index] = text
}

// RunStage executes one stage and returns the outputs keyed by order. The
// parallel subset runs first and concurrently; the serial subset follows in
// list order with the configured delay between calls. prior is not modified.
func (e *Executor) RunStage(ctx context.Context, st stage.Stage, sharedInput, language string, prior map[int]string) (map[int]string, error) {
	out, err := e.runStage(ctx, st, sharedInput, language, prior)
	return out.byOrder, err
}

// runStage returns whatever completed even when err is non-nil.
func (e *Executor) runStage(ctx context.Context, st stage.Stage, userInput, language string, prior map[int]string) (*stageOutput, error) {
	parallel, serial := st.Parallel(), st.Serial()
	e.metrics.RecordStageSize(len(parallel), len(serial))

	ctx, span := engineTracer().Start(ctx, spanStage, trace.WithAttributes(
		attribute.Int("stage.order", st.Order),
		attribute.Int("stage.parallel", len(parallel)),
		attribute.Int("stage.serial", len(serial)),
	))
	defer span.End()

	out := newStageOutput()
	err := e.runParallel(ctx, parallel, userInput, language, prior, out)
	if err == nil {
		err = e.runSerial(ctx, serial, userInput, language, prior, out)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return out, err
}

func (e *Executor) runParallel(ctx context.Context, entries []stage.Entry, userInput, language string, prior map[int]string, out *stageOutput) error {
	if len(entries) == 0 {
		return nil
	}

	texts := make([]string, len(entries))
	done := make([]bool, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	for i, entry := range entries {
		g.Go(func() error {
			input := stage.ResolveInput(entry.Step, userInput, prior)
			text, err := e.runStep(gctx, entry, input, userInput, language)
			if err != nil {
				return err
			}
			texts[i] = text
			done[i] = true
			return nil
		})
	}
	err := g.Wait()

	for i, entry := range entries {
		if done[i] {
			out.put(entry, texts[i])
		}
	}
	return err
}

func (e *Executor) runSerial(ctx context.Context, entries []stage.Entry, userInput, language string, prior map[int]string, out *stageOutput) error {
	if len(entries) == 0 {
		return nil
	}

	visible := make(map[int]string, len(prior)+len(out.byOrder))
	for k, v := range prior {
		visible[k] = v
	}
	for k, v := range out.byOrder {
		visible[k] = v
	}

	for i, entry := range entries {
		if i > 0 {
			if err := e.sleep(ctx, e.serialDelay); err != nil {
				return err
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		input := stage.ResolveInput(entry.Step, userInput, visible)
		text, err := e.runStep(ctx, entry, input, userInput, language)
		if err != nil {
			return err
		}
		out.put(entry, text)
		visible[entry.Step.Order] = text
	}
	return nil
}

func (e *Executor) runStep(ctx context.Context, entry stage.Entry, input, userInput, language string) (text string, err error) {
	step := entry.Step
	ctx, span := engineTracer().Start(ctx, spanStep, trace.WithAttributes(
		attribute.Int("step.index", entry.Index),
		attribute.Int("step.order", step.Order),
		attribute.String("step.agent_id", step.AgentID),
		attribute.Bool("step.parallel", step.ExecuteInParallel),
	))
	defer span.End()

	start := time.Now()
	e.tracker.stepStarted(entry.Index, step.Order, step.AgentID)
	e.events.BroadcastStepStateChanged(e.runID, e.workflowID, entry.Index, step.Order, step.AgentID,
		string(model.StepStatePending), string(model.StepStateRunning), "", start)

	defer func() {
		status := string(model.StepStateCompleted)
		msg := ""
		if err != nil {
			err = &StepError{Index: entry.Index, Order: step.Order, AgentID: step.AgentID, Cause: err}
			status = string(model.StepStateFailed)
			msg = err.Error()
			span.RecordError(err)
			span.SetStatus(codes.Error, msg)
			e.logger.WarnContext(ctx, "step failed",
				"step", entry.Index,
				"order", step.Order,
				"agent_id", step.AgentID,
				"error", err,
			)
		} else {
			e.logger.DebugContext(ctx, "step completed",
				"step", entry.Index,
				"order", step.Order,
				"agent_id", step.AgentID,
				"chars", len(text),
			)
		}
		e.tracker.stepFinished(entry.Index, err)
		e.metrics.RecordStepExecution(status, time.Since(start))
		e.events.BroadcastStepStateChanged(e.runID, e.workflowID, entry.Index, step.Order, step.AgentID,
			string(model.StepStateRunning), status, msg, time.Now())
	}()

	agent, err := e.resolveAgent(entry)
	if err != nil {
		return "", err
	}

	rendered, err := prompt.Compose(e.renderer, agent.PromptTemplate, input, userInput, language)
	if err != nil {
		return "", err
	}

	return e.gen.Generate(ctx, textgen.Request{
		Prompt:      rendered,
		Model:       agent.Model,
		Temperature: model.Float64Ptr(agent.EffectiveTemperature()),
		MaxTokens:   agent.EffectiveMaxTokens(),
	})
}

func (e *Executor) resolveAgent(entry stage.Entry) (*model.Agent, error) {
	if e.agents == nil {
		return nil, model.NewConfigurationError("agents", "no agent lookup configured")
	}
	agent, ok := e.agents.Agent(entry.Step.AgentID)
	if !ok || agent == nil {
		return nil, model.NewConfigurationError("agent "+entry.Step.AgentID, "agent not found")
	}
	if !agent.Active {
		return nil, model.NewConfigurationError("agent "+entry.Step.AgentID, "agent is inactive")
	}
	return agent, nil
}

// isCancellation reports whether err stems from context cancellation.
func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
