// Package catalog is the registry of agents available to workflows. It is
// seeded with the system agents, which users cannot change or remove.
package catalog

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/ideaforge/ideaforge/pkg/model"
	"github.com/ideaforge/ideaforge/pkg/prompt"
)

var (
	// ErrSystemAgent is returned when a change targets a system agent.
	ErrSystemAgent = errors.New("system agents cannot be modified or deleted")
	// ErrAgentNotFound is returned for unknown agent ids.
	ErrAgentNotFound = errors.New("agent not found")
	// ErrAgentExists is returned when creating an agent with a taken id.
	ErrAgentExists = errors.New("agent already exists")
)

// Catalog is a concurrency-safe in-memory agent registry.
type Catalog struct {
	mu     sync.RWMutex
	agents map[string]*model.Agent
}

var _ model.AgentLookup = (*Catalog)(nil)

// New returns a catalog holding the system agents.
func New() *Catalog {
	c := &Catalog{agents: make(map[string]*model.Agent)}
	for _, a := range systemAgents() {
		a.IsSystem = true
		a.Active = true
		c.agents[a.ID] = a
	}
	return c
}

// Agent implements model.AgentLookup. The returned agent is a copy.
func (c *Catalog) Agent(id string) (*model.Agent, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.agents[id]
	if !ok {
		return nil, false
	}
	return a.Clone(), true
}

// Get returns the agent with id.
func (c *Catalog) Get(id string) (*model.Agent, error) {
	a, ok := c.Agent(id)
	if !ok {
		return nil, ErrAgentNotFound
	}
	return a, nil
}

// List returns all agents sorted by display order, then name.
func (c *Catalog) List() []*model.Agent {
	c.mu.RLock()
	out := make([]*model.Agent, 0, len(c.agents))
	for _, a := range c.agents {
		out = append(out, a.Clone())
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayOrder != out[j].DisplayOrder {
			return out[i].DisplayOrder < out[j].DisplayOrder
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Create adds a custom agent. An empty ID is replaced with a new uuid.
func (c *Catalog) Create(a *model.Agent) (*model.Agent, error) {
	if err := Validate(a); err != nil {
		return nil, err
	}
	stored := a.Clone()
	stored.IsSystem = false
	if strings.TrimSpace(stored.ID) == "" {
		stored.ID = uuid.NewString()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.agents[stored.ID]; exists {
		return nil, ErrAgentExists
	}
	c.agents[stored.ID] = stored
	return stored.Clone(), nil
}

// Update replaces a custom agent's configuration.
func (c *Catalog) Update(id string, a *model.Agent) (*model.Agent, error) {
	if err := Validate(a); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	current, ok := c.agents[id]
	if !ok {
		return nil, ErrAgentNotFound
	}
	if current.IsSystem {
		return nil, ErrSystemAgent
	}
	stored := a.Clone()
	stored.ID = id
	stored.IsSystem = false
	c.agents[id] = stored
	return stored.Clone(), nil
}

// Delete removes a custom agent.
func (c *Catalog) Delete(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	current, ok := c.agents[id]
	if !ok {
		return ErrAgentNotFound
	}
	if current.IsSystem {
		return ErrSystemAgent
	}
	delete(c.agents, id)
	return nil
}

// Validate checks a user-supplied agent definition.
func Validate(a *model.Agent) error {
	if a == nil {
		return model.NewConfigurationError("agent", "agent is nil")
	}
	subject := "agent " + a.ID
	switch {
	case strings.TrimSpace(a.Name) == "":
		return model.NewConfigurationError(subject, "name is required")
	case strings.TrimSpace(a.PromptTemplate) == "":
		return model.NewConfigurationError(subject, "prompt template is required")
	case a.Temperature != nil && (*a.Temperature < model.MinTemperature || *a.Temperature > model.MaxTemperature):
		return model.NewConfigurationError(subject, "temperature %.2f outside [%.1f, %.1f]",
			*a.Temperature, model.MinTemperature, model.MaxTemperature)
	case a.MaxTokens < 0:
		return model.NewConfigurationError(subject, "max tokens must not be negative")
	case a.DocumentCategory != "" && !a.DocumentCategory.Valid():
		return model.NewConfigurationError(subject, "unknown document category %q", a.DocumentCategory)
	}
	if err := prompt.Validate(a.PromptTemplate); err != nil {
		return fmt.Errorf("%s: %w", subject, err)
	}
	return nil
}
