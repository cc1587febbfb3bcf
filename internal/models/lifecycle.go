package models

import "time"

type RequestStatus string

const (
	RequestPending   RequestStatus = "pending"
	RequestAccepted  RequestStatus = "accepted"
	RequestDeclined  RequestStatus = "declined"
	RequestExpired   RequestStatus = "expired"
	RequestPaid      RequestStatus = "paid"
	RequestConfirmed RequestStatus = "confirmed"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentFailed    PaymentStatus = "failed"
)

type EscrowStatus string

const (
	EscrowHeld     EscrowStatus = "held"
	EscrowReleased EscrowStatus = "released"
	EscrowRefunded EscrowStatus = "refunded"
)

// RequestTTL is how long a proposal waits for a decision.
const RequestTTL = 24 * time.Hour

// MatchRequest is a proposed trip/package pairing. Version guards every
// update: the store rejects writes whose expected version is stale, which is
// what keeps concurrent pay calls from minting two Matches.
type MatchRequest struct {
	ID            string        `json:"id"`
	TripID        string        `json:"trip_id"`
	PackageID     string        `json:"package_id"`
	SenderID      string        `json:"sender_id"`
	TravelerID    string        `json:"traveler_id"`
	Weight        float64       `json:"weight_kg"`
	Reward        float64       `json:"reward"`
	Category      string        `json:"category,omitempty"`
	Message       string        `json:"message,omitempty"`
	Status        RequestStatus `json:"status"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	EscrowStatus  EscrowStatus  `json:"escrow_status,omitempty"`
	PaymentRef    string        `json:"payment_ref,omitempty"`
	AcceptedAt    *time.Time    `json:"accepted_at,omitempty"`
	PaidAt        *time.Time    `json:"paid_at,omitempty"`
	ExpiresAt     time.Time     `json:"expires_at"`
	Version       int64         `json:"version"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// Expired reports whether a still-pending request has run out its 24h clock.
func (r *MatchRequest) Expired(now time.Time) bool {
	if r.Status == RequestExpired {
		return true
	}
	return r.Status == RequestPending && now.After(r.ExpiresAt)
}

type MatchStatus string

const (
	MatchConfirmed MatchStatus = "confirmed"
	MatchInTransit MatchStatus = "in_transit"
	MatchDelivered MatchStatus = "delivered"
	MatchDisputed  MatchStatus = "disputed"
)

type TrackingStep string

const (
	StepPickedUp  TrackingStep = "picked_up"
	StepInTransit TrackingStep = "in_transit"
	StepDelivered TrackingStep = "delivered"
)

// Rank orders tracking steps; the lifecycle only moves rank upward.
func (s TrackingStep) Rank() int {
	switch s {
	case StepPickedUp:
		return 1
	case StepInTransit:
		return 2
	case StepDelivered:
		return 3
	}
	return 0
}

// Match is the fulfillment record created exactly once when its MatchRequest
// is paid. Pickup and delivery codes are fixed at creation and never
// regenerated. Version guards tracking updates the same way it does on
// MatchRequest: a stale writer loses, so trackingStep can only move forward.
type Match struct {
	ID              string       `json:"id"`
	MatchRequestID  string       `json:"match_request_id"`
	TripID          string       `json:"trip_id"`
	PackageID       string       `json:"package_id"`
	SenderID        string       `json:"sender_id"`
	TravelerID      string       `json:"traveler_id"`
	Status          MatchStatus  `json:"status"`
	TrackingStep    TrackingStep `json:"tracking_step"`
	PickupCode      string       `json:"pickup_code"`
	DeliveryCode    string       `json:"delivery_code"`
	PickupAddress   string       `json:"pickup_address,omitempty"`
	DeliveryAddress string       `json:"delivery_address,omitempty"`
	Photos          []string     `json:"photos,omitempty"`
	Notes           string       `json:"notes,omitempty"`
	PickedUpAt      *time.Time   `json:"picked_up_at,omitempty"`
	DeliveredAt     *time.Time   `json:"delivered_at,omitempty"`
	Version         int64        `json:"version"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}
