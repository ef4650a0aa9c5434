package engine

import (
	"cmp"
	"slices"
	"sync"
	"time"

	"github.com/ideaforge/ideaforge/pkg/model"
)

var allowedRunTransitions = map[model.RunState]map[model.RunState]struct{}{
	model.RunStateIdle: {
		model.RunStateRunning: {},
		model.RunStateFailed:  {},
	},
	model.RunStateRunning: {
		model.RunStateCompleted: {},
		model.RunStateFailed:    {},
	},
}

func validateRunTransition(from, to model.RunState) error {
	if from == to {
		return nil
	}
	if from.IsTerminal() {
		return &TransitionError{From: string(from), To: string(to), Reason: "terminal state is immutable"}
	}
	allowed, ok := allowedRunTransitions[from]
	if !ok {
		return &TransitionError{From: string(from), To: string(to)}
	}
	if _, ok := allowed[to]; !ok {
		return &TransitionError{From: string(from), To: string(to)}
	}
	return nil
}

// runTracker holds the run state and per-step results of one execution.
type runTracker struct {
	mu    sync.RWMutex
	state model.RunState
	steps map[int]*model.StepResult
}

func newRunTracker() *runTracker {
	return &runTracker{
		state: model.RunStateIdle,
		steps: make(map[int]*model.StepResult),
	}
}

func (t *runTracker) State() model.RunState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// transition moves the run to state and returns the previous one.
func (t *runTracker) transition(to model.RunState) (model.RunState, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	from := t.state
	if err := validateRunTransition(from, to); err != nil {
		return from, err
	}
	t.state = to
	return from, nil
}

func (t *runTracker) stepStarted(index, order int, agentID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.steps[index] = &model.StepResult{
		Index:     index,
		Order:     order,
		AgentID:   agentID,
		State:     model.StepStateRunning,
		StartedAt: time.Now().UTC(),
	}
}

func (t *runTracker) stepFinished(index int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.steps[index]
	if !ok {
		r = &model.StepResult{Index: index}
		t.steps[index] = r
	}
	r.FinishedAt = time.Now().UTC()
	if err != nil {
		r.State = model.StepStateFailed
		r.Error = err.Error()
	} else {
		r.State = model.StepStateCompleted
	}
}

// Steps returns a snapshot of all step results ordered by index.
func (t *runTracker) Steps() []model.StepResult {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]model.StepResult, 0, len(t.steps))
	for _, v := range t.steps {
		out = append(out, *v)
	}
	slices.SortFunc(out, func(a, b model.StepResult) int { return cmp.Compare(a.Index, b.Index) })
	return out
}
