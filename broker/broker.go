// Package broker publishes admission outcomes to an external message broker
// so other systems can follow traffic in near real time. Publishing is best
// effort and never feeds back into admission decisions.
package broker

import (
	"context"
	"encoding/json"
	"time"
)

const (
	// EventAdmitted is published for a message that passed both ceilings.
	EventAdmitted = "ADMITTED"
	// EventDeniedSender is published when the per-sender ceiling was hit.
	EventDeniedSender = "DENIED_SENDER"
	// EventDeniedGlobal is published when the account ceiling was hit.
	EventDeniedGlobal = "DENIED_GLOBAL"
)

// Event represents one admission outcome.
type Event struct {
	InstanceID string    `json:"instance_id"` // ID of the process that made the decision
	Event      string    `json:"event"`       // One of the Event* constants
	Timestamp  time.Time `json:"timestamp"`   // When the decision was made
	Key        string    `json:"key"`         // Identity the outcome was recorded against
}

// MarshalBinary lets an Event be passed directly as a Redis value.
func (e Event) MarshalBinary() ([]byte, error) {
	return json.Marshal(e)
}

// Publisher hands events to a broker.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}
