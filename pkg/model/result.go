package model

import "time"

// RunState is the lifecycle state of one workflow execution.
type RunState string

const (
	RunStateIdle      RunState = "idle"
	RunStateRunning   RunState = "running"
	RunStateCompleted RunState = "completed"
	RunStateFailed    RunState = "failed"
)

// IsTerminal reports whether the state is completed or failed.
func (s RunState) IsTerminal() bool {
	return s == RunStateCompleted || s == RunStateFailed
}

// StepState is the execution state of one step within a run.
type StepState string

const (
	StepStatePending   StepState = "pending"
	StepStateRunning   StepState = "running"
	StepStateCompleted StepState = "completed"
	StepStateFailed    StepState = "failed"
)

// StepResult records how one step went. Steps that never started are absent.
type StepResult struct {
	Index      int       `json:"index"`
	Order      int       `json:"order"`
	AgentID    string    `json:"agent_id"`
	State      StepState `json:"state"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// ExecutionResult is the outcome of one orchestrated run. On failure Outputs
// holds whatever earlier stages produced.
type ExecutionResult struct {
	Success bool `json:"success"`

	// Outputs maps step order to generated text.
	Outputs map[int]string `json:"outputs"`

	// StepOutputs maps a step's position in Workflow.Steps to its text, so
	// steps sharing an order keep their own output.
	StepOutputs map[int]string `json:"step_outputs,omitempty"`

	Error string   `json:"error,omitempty"`
	State RunState `json:"state"`

	// Steps lists every started step ordered by position in Workflow.Steps.
	Steps []StepResult `json:"steps,omitempty"`

	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`

	// Err is the typed cause behind Error.
	Err error `json:"-"`
}

// Duration returns how long the run took.
func (r *ExecutionResult) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.CompletedAt.IsZero() {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}
