package engine

import "time"

// EventBroadcaster receives run and step state changes.
// Implementations must not block.
type EventBroadcaster interface {
	BroadcastRunStateChanged(runID, workflowID, oldState, newState, errorMessage string, updatedAt time.Time)
	BroadcastStepStateChanged(runID, workflowID string, index, order int, agentID, oldState, newState, errorMessage string, updatedAt time.Time)
}

type nopEventBroadcaster struct{}

func (nopEventBroadcaster) BroadcastRunStateChanged(string, string, string, string, string, time.Time) {
}

func (nopEventBroadcaster) BroadcastStepStateChanged(string, string, int, int, string, string, string, string, time.Time) {
}
