package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventPublisher publishes engine broadcasts for recent-call displays and
// other collaborators. Publication is fire-and-forget from the engine's
// point of view: failures are logged by the implementation, never surfaced
// into the call flow.
type EventPublisher interface {
	PublishCallEvent(event CallEvent) error
	PublishEngineStatus(status EngineStatusMessage) error
	PublishHistory(history CallHistory) error
}

// EngineStatusMessage is the retained current-state message published on
// every call state transition.
type EngineStatusMessage struct {
	State       CallState     `json:"state"`
	Direction   CallDirection `json:"direction,omitempty"`
	Number      string        `json:"number,omitempty"`
	ContactName string        `json:"contact_name,omitempty"`
	AccountName string        `json:"account_name,omitempty"`
	CallID      string        `json:"call_id,omitempty"`
	Timestamp   string        `json:"timestamp"`
}

// NewEngineStatusMessage builds a status message from a state and the
// context snapshot taken at transition time.
func NewEngineStatusMessage(state CallState, direction CallDirection, callID string, ctx CallContext) EngineStatusMessage {
	return EngineStatusMessage{
		State:       state,
		Direction:   direction,
		Number:      ctx.Number,
		ContactName: ctx.ContactName,
		AccountName: ctx.AccountName,
		CallID:      callID,
		Timestamp:   time.Now().Format(time.RFC3339),
	}
}

// ToJSON converts the status message to a JSON string.
func (msg *EngineStatusMessage) ToJSON() (string, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal engine status message: %w", err)
	}
	return string(data), nil
}
