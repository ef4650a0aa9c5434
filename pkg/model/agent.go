// Package model defines the agents, workflows, execution results and
// documents exchanged between the engine and its callers.
package model

const (
	// DefaultTemperature is used when an agent leaves Temperature unset.
	DefaultTemperature = 0.7
	// DefaultMaxTokens is used when an agent leaves MaxTokens unset.
	DefaultMaxTokens = 4000

	MinTemperature = 0.0
	MaxTemperature = 2.0
)

// Agent is a reusable text generation configuration.
type Agent struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	// PromptTemplate is the prompt template or raw system prompt.
	PromptTemplate string `json:"prompt_template"`

	Model string `json:"model,omitempty"`
	// Temperature is nil when unset. Zero is a valid, deterministic setting.
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   int      `json:"max_tokens"`

	Active bool `json:"active"`

	// IsSystem marks platform-owned seed agents. They are read-only.
	IsSystem     bool `json:"is_system"`
	DisplayOrder int  `json:"display_order"`

	// DocumentCategory is the category assigned to documents produced by this
	// agent when the step does not set one. Empty means classify by content.
	DocumentCategory Category `json:"document_category,omitempty"`
}

// EffectiveTemperature returns the configured temperature clamped to the
// supported range, or the default when unset.
func (a *Agent) EffectiveTemperature() float64 {
	if a.Temperature == nil {
		return DefaultTemperature
	}
	t := *a.Temperature
	if t < MinTemperature {
		return MinTemperature
	}
	if t > MaxTemperature {
		return MaxTemperature
	}
	return t
}

// EffectiveMaxTokens returns MaxTokens or the default when unset.
func (a *Agent) EffectiveMaxTokens() int {
	if a.MaxTokens <= 0 {
		return DefaultMaxTokens
	}
	return a.MaxTokens
}

// Clone returns a copy of the agent.
func (a *Agent) Clone() *Agent {
	c := *a
	if a.Temperature != nil {
		c.Temperature = Float64Ptr(*a.Temperature)
	}
	return &c
}

// AgentLookup resolves agents by identifier.
type AgentLookup interface {
	Agent(id string) (*Agent, bool)
}

// AgentSet is a map-backed AgentLookup.
type AgentSet map[string]*Agent

// NewAgentSet indexes the given agents by ID.
func NewAgentSet(agents ...*Agent) AgentSet {
	set := make(AgentSet, len(agents))
	for _, a := range agents {
		if a != nil {
			set[a.ID] = a
		}
	}
	return set
}

// Agent implements AgentLookup.
func (s AgentSet) Agent(id string) (*Agent, bool) {
	a, ok := s[id]
	return a, ok
}

// ChainLookup consults each lookup in turn and returns the first match.
type ChainLookup []AgentLookup

// Agent implements AgentLookup.
func (c ChainLookup) Agent(id string) (*Agent, bool) {
	for _, l := range c {
		if l == nil {
			continue
		}
		if a, ok := l.Agent(id); ok {
			return a, true
		}
	}
	return nil, false
}
