package engine

import "fmt"

// StepError wraps the failure of one workflow step.
type StepError struct {
	// Index is the step's position in Workflow.Steps.
	Index   int
	Order   int
	AgentID string
	Cause   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d (order %d, agent %q) failed: %v", e.Index+1, e.Order, e.AgentID, e.Cause)
}

func (e *StepError) Unwrap() error { return e.Cause }

// TransitionError is returned for an illegal run state change.
type TransitionError struct {
	From, To string
	Reason   string
}

func (e *TransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("illegal run transition %q -> %q: %s", e.From, e.To, e.Reason)
	}
	return fmt.Sprintf("illegal run transition %q -> %q", e.From, e.To)
}
