// Package events fans run and step state changes out to in-process
// subscribers such as the websocket stream.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ideaforge/ideaforge/pkg/engine"
)

// Event types emitted for workflow executions.
const (
	TypeRunStateChanged  = "run.state_changed"
	TypeStepStateChanged = "step.state_changed"
)

// defaultBuffer is the channel size used when Subscribe is given none.
const defaultBuffer = 16

// Event is one notification as delivered to subscribers and, JSON encoded,
// to websocket clients.
type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// Scoped is implemented by payloads that belong to a run. Subscribers use
// it to filter without decoding the payload.
type Scoped interface {
	Scope() (runID, workflowID string)
}

// RunStateChanged is the payload of TypeRunStateChanged.
type RunStateChanged struct {
	RunID      string    `json:"run_id"`
	WorkflowID string    `json:"workflow_id"`
	OldState   string    `json:"old_state"`
	NewState   string    `json:"new_state"`
	Error      string    `json:"error,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (p RunStateChanged) Scope() (string, string) { return p.RunID, p.WorkflowID }

// StepStateChanged is the payload of TypeStepStateChanged. StepIndex is the
// step's position in the workflow definition.
type StepStateChanged struct {
	RunID      string    `json:"run_id"`
	WorkflowID string    `json:"workflow_id"`
	StepIndex  int       `json:"step_index"`
	Order      int       `json:"order"`
	AgentID    string    `json:"agent_id"`
	OldState   string    `json:"old_state"`
	NewState   string    `json:"new_state"`
	Error      string    `json:"error,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (p StepStateChanged) Scope() (string, string) { return p.RunID, p.WorkflowID }

// Broadcaster delivers events to every subscriber without ever blocking the
// publisher. A subscriber whose buffer is full misses the event.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[chan Event]struct{}
	closed      bool
	dropped     atomic.Uint64
}

var _ engine.EventBroadcaster = (*Broadcaster)(nil)

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subscribers: make(map[chan Event]struct{})}
}

// Subscribe registers a new subscriber. After Close it returns an already
// closed channel.
func (b *Broadcaster) Subscribe(buffer int) chan Event {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.subscribers[ch] = struct{}{}
	return ch
}

// Unsubscribe removes ch and closes it. Unknown channels are ignored.
func (b *Broadcaster) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[ch]; ok {
		delete(b.subscribers, ch)
		close(ch)
	}
}

// Broadcast sends event to all subscribers, stamping it if needed.
func (b *Broadcaster) Broadcast(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	// Held for the sends so Unsubscribe cannot close a channel mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped reports how many deliveries were skipped on full subscribers.
func (b *Broadcaster) Dropped() uint64 {
	return b.dropped.Load()
}

// BroadcastRunStateChanged emits a TypeRunStateChanged event.
func (b *Broadcaster) BroadcastRunStateChanged(
	runID, workflowID, oldState, newState, errorMessage string,
	updatedAt time.Time,
) {
	at := updatedAt.UTC()
	b.Broadcast(Event{
		Type:      TypeRunStateChanged,
		Timestamp: at,
		Payload: RunStateChanged{
			RunID:      runID,
			WorkflowID: workflowID,
			OldState:   oldState,
			NewState:   newState,
			Error:      errorMessage,
			UpdatedAt:  at,
		},
	})
}

// BroadcastStepStateChanged emits a TypeStepStateChanged event.
func (b *Broadcaster) BroadcastStepStateChanged(
	runID, workflowID string,
	index, order int,
	agentID, oldState, newState, errorMessage string,
	updatedAt time.Time,
) {
	at := updatedAt.UTC()
	b.Broadcast(Event{
		Type:      TypeStepStateChanged,
		Timestamp: at,
		Payload: StepStateChanged{
			RunID:      runID,
			WorkflowID: workflowID,
			StepIndex:  index,
			Order:      order,
			AgentID:    agentID,
			OldState:   oldState,
			NewState:   newState,
			Error:      errorMessage,
			UpdatedAt:  at,
		},
	})
}

// Close closes every subscriber channel. Later subscribers get a closed
// channel and later broadcasts reach nobody.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for ch := range b.subscribers {
		delete(b.subscribers, ch)
		close(ch)
	}
}
