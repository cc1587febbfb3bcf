package notify

import (
	"context"
	"time"
)

// Event types emitted by the lifecycle services.
const (
	EventRequestCreated  = "match_request.created"
	EventRequestAccepted = "match_request.accepted"
	EventRequestDeclined = "match_request.declined"
	EventRequestPaid     = "match_request.paid"
	EventTracking        = "match.tracking"
	EventEscrowReleased  = "escrow.released"
	EventDisputeOpened   = "dispute.opened"
)

// Event is a fire-and-forget notification to a user. Delivery failures are
// logged by the emitter, never surfaced to the triggering operation.
type Event struct {
	Type           string         `json:"type"`
	UserID         string         `json:"user_id"`
	MatchRequestID string         `json:"match_request_id,omitempty"`
	MatchID        string         `json:"match_id,omitempty"`
	DisputeID      string         `json:"dispute_id,omitempty"`
	Payload        map[string]any `json:"payload,omitempty"`
	At             time.Time      `json:"at"`
}

type Emitter interface {
	Emit(ctx context.Context, e Event) error
}

// Nop drops events; the test and cold-start default.
type Nop struct{}

func (Nop) Emit(context.Context, Event) error { return nil }

// Fanout delivers to every emitter; the first error wins but all run.
type Fanout []Emitter

func (f Fanout) Emit(ctx context.Context, e Event) error {
	var first error
	for _, em := range f {
		if err := em.Emit(ctx, e); err != nil && first == nil {
			first = err
		}
	}
	return first
}
