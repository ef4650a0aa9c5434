// Package stage groups workflow steps into ordered execution stages.
package stage

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ideaforge/ideaforge/pkg/model"
)

// Entry is a step together with its position in Workflow.Steps.
type Entry struct {
	Index int
	Step  model.WorkflowStep
}

// Stage is the set of steps sharing one Order value.
type Stage struct {
	Order int     `json:"order"`
	Steps []Entry `json:"steps"`
}

// Parallel returns the entries marked ExecuteInParallel, in list order.
func (s Stage) Parallel() []Entry {
	return s.filter(true)
}

// Serial returns the entries not marked ExecuteInParallel, in list order.
func (s Stage) Serial() []Entry {
	return s.filter(false)
}

func (s Stage) filter(parallel bool) []Entry {
	var out []Entry
	for _, e := range s.Steps {
		if e.Step.ExecuteInParallel == parallel {
			out = append(out, e)
		}
	}
	return out
}

// Plan is a resolved workflow: stages sorted by ascending Order.
type Plan struct {
	Stages []Stage `json:"stages"`

	// TotalSteps is the number of steps the plan was built from.
	TotalSteps int `json:"total_steps"`

	// MaxParallel is the largest parallel subset of any stage.
	MaxParallel int `json:"max_parallel"`
}

// Resolve groups steps by Order and sorts the groups ascending. Steps keep
// their relative list order inside a stage. An empty input yields an empty
// plan.
func Resolve(steps []model.WorkflowStep) *Plan {
	byOrder := make(map[int][]Entry)
	for i, step := range steps {
		byOrder[step.Order] = append(byOrder[step.Order], Entry{Index: i, Step: step})
	}

	orders := make([]int, 0, len(byOrder))
	for order := range byOrder {
		orders = append(orders, order)
	}
	sort.Ints(orders)

	plan := &Plan{
		Stages:     make([]Stage, 0, len(orders)),
		TotalSteps: len(steps),
	}
	for _, order := range orders {
		st := Stage{Order: order, Steps: byOrder[order]}
		if n := len(st.Parallel()); n > plan.MaxParallel {
			plan.MaxParallel = n
		}
		plan.Stages = append(plan.Stages, st)
	}
	return plan
}

// StageOf returns the stage holding order, if any.
func (p *Plan) StageOf(order int) (Stage, bool) {
	i := sort.Search(len(p.Stages), func(i int) bool { return p.Stages[i].Order >= order })
	if i < len(p.Stages) && p.Stages[i].Order == order {
		return p.Stages[i], true
	}
	return Stage{}, false
}

// Validate checks that every step appears exactly once and stages are
// strictly ascending.
func (p *Plan) Validate() error {
	seen := make(map[int]bool, p.TotalSteps)
	actual := 0
	for i, st := range p.Stages {
		if i > 0 && st.Order <= p.Stages[i-1].Order {
			return &PlanError{Reason: fmt.Sprintf("stage order %d does not follow %d", st.Order, p.Stages[i-1].Order)}
		}
		if len(st.Steps) == 0 {
			return &PlanError{Reason: fmt.Sprintf("stage %d is empty", st.Order)}
		}
		for _, e := range st.Steps {
			if e.Step.Order != st.Order {
				return &PlanError{Reason: fmt.Sprintf("step %d has order %d but sits in stage %d", e.Index, e.Step.Order, st.Order)}
			}
			if seen[e.Index] {
				return &PlanError{Reason: fmt.Sprintf("step %d appears more than once", e.Index)}
			}
			seen[e.Index] = true
			actual++
		}
	}
	if actual != p.TotalSteps {
		return &PlanError{Reason: fmt.Sprintf("step count mismatch: expected %d, got %d", p.TotalSteps, actual)}
	}
	return nil
}

func (p *Plan) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Plan{steps=%d stages=%d max_parallel=%d", p.TotalSteps, len(p.Stages), p.MaxParallel)
	for _, st := range p.Stages {
		idx := make([]string, len(st.Steps))
		for i, e := range st.Steps {
			mark := ""
			if e.Step.ExecuteInParallel {
				mark = "*"
			}
			idx[i] = fmt.Sprintf("%d%s", e.Index, mark)
		}
		fmt.Fprintf(&sb, " [%d: %s]", st.Order, strings.Join(idx, ","))
	}
	sb.WriteString("}")
	return sb.String()
}

// PlanError reports a malformed plan.
type PlanError struct {
	Reason string
}

func (e *PlanError) Error() string {
	return "invalid execution plan: " + e.Reason
}
