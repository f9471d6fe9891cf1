package calls

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is a call's lifecycle state. completed and missed are terminal.
type Status string

const (
	StatusRinging   Status = "ringing"
	StatusConnected Status = "connected"
	StatusCompleted Status = "completed"
	StatusMissed    Status = "missed"
)

// Terminal reports whether no further transition is valid from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusMissed
}

// EventType enumerates the webhook event types the telephony provider sends.
type EventType string

const (
	EventCallStarted    EventType = "call.started"
	EventCallAnswered   EventType = "call.answered"
	EventCallEnded      EventType = "call.ended"
	EventCallMissed     EventType = "call.missed"
	EventMessageCreated EventType = "message.created"
	EventMessageUpdated EventType = "message.updated"
)

var (
	// ErrInvalidTransition marks an event that no state accepts from the
	// call's current status.
	ErrInvalidTransition = errors.New("calls: invalid status transition")
	// ErrTerminalState marks an event arriving after the call already
	// reached completed or missed. First terminal transition wins; these
	// are logged as anomalies and not applied.
	ErrTerminalState = errors.New("calls: call already in terminal state")
	ErrCallNotFound  = errors.New("calls: call not found")
)

// Next returns the status a call moves to when event is applied while in
// current. The zero Status ("") stands for a call that does not exist yet.
func Next(current Status, event EventType) (Status, error) {
	if current.Terminal() {
		return current, ErrTerminalState
	}
	switch event {
	case EventCallStarted:
		if current == "" {
			return StatusRinging, nil
		}
	case EventCallAnswered:
		if current == StatusRinging {
			return StatusConnected, nil
		}
	case EventCallEnded:
		if current == StatusRinging || current == StatusConnected {
			return StatusCompleted, nil
		}
	case EventCallMissed:
		if current == StatusRinging {
			return StatusMissed, nil
		}
	}
	return current, fmt.Errorf("%w: %s on %q", ErrInvalidTransition, event, current)
}

// Call is one phone call's full lifecycle record. It is created at
// call.started and never deleted; billing fields are written exactly once,
// at the completed transition.
type Call struct {
	CallID          string // external correlation key
	ClientID        *uuid.UUID
	Direction       string // inbound|outbound
	Status          Status
	StartedAt       time.Time
	AnsweredAt      *time.Time
	EndedAt         *time.Time
	DurationSeconds int
	BillableMinutes int
	RateCents       int64 // per billable minute
	ChargeCents     int64
	RecordingURL    string
	AgentID         string

	// Subscriber state captured at call start; billing at completion uses
	// this snapshot, not the subscription's state at that later moment.
	IsSubscriber        bool
	HoursRemainingStart float64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Charge is a pay-per-call billing obligation for a non-subscriber call.
type Charge struct {
	ID              uuid.UUID
	ClientID        uuid.UUID
	CallID          string
	DurationSeconds int
	RateCents       int64
	TotalCents      int64
	Status          string // pending until collected
	CreatedAt       time.Time
}

// CustomerNumber picks the customer-side phone number of a call or message:
// the caller for inbound traffic, the callee for outbound.
func CustomerNumber(direction, from, to string) string {
	if direction == "inbound" {
		return from
	}
	return to
}
