package models

import "time"

type DisputeStatus string

const (
	DisputeOpen      DisputeStatus = "open"
	DisputeWaiting   DisputeStatus = "waiting"
	DisputeReview    DisputeStatus = "review"
	DisputeOffer     DisputeStatus = "offer"
	DisputeResolved  DisputeStatus = "resolved"
	DisputeEscalated DisputeStatus = "escalated"
	DisputeClosed    DisputeStatus = "closed"
)

type ActorRole string

const (
	RoleSender   ActorRole = "sender"
	RoleTraveler ActorRole = "traveler"
	RoleSupport  ActorRole = "support"
	RoleSystem   ActorRole = "system"
)

// SLA deadlines fixed at dispute creation.
const (
	DisputeFirstReplySLA = 24 * time.Hour
	DisputeResolutionSLA = 5 * 24 * time.Hour
)

type TimelineEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Actor     string         `json:"actor"`
	ActorRole ActorRole      `json:"actor_role"`
	Type      string         `json:"type"`
	Message   string         `json:"message"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Dispute tracks a delivery problem for a match. Timeline is append-only and
// time-ordered; every status change appends an entry.
type Dispute struct {
	ID               string          `json:"id"`
	MatchID          string          `json:"match_id"`
	SenderID         string          `json:"sender_id"`
	TravelerID       string          `json:"traveler_id"`
	Status           DisputeStatus   `json:"status"`
	Reason           string          `json:"reason"`
	Description      string          `json:"description"`
	PreferredOutcome string          `json:"preferred_outcome,omitempty"`
	Evidence         []string        `json:"evidence,omitempty"`
	Timeline         []TimelineEntry `json:"timeline"`
	FirstReplyDue    time.Time       `json:"first_reply_due"`
	ResolutionDue    time.Time       `json:"resolution_due"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Terminal reports whether the dispute can take no further transitions.
func (d *Dispute) Terminal() bool { return d.Status == DisputeClosed }

// OverdueFirstReply reports an SLA breach on the first support response.
func (d *Dispute) OverdueFirstReply(now time.Time) bool {
	return d.Status == DisputeOpen && now.After(d.FirstReplyDue)
}

// OverdueResolution reports an SLA breach on final resolution.
func (d *Dispute) OverdueResolution(now time.Time) bool {
	switch d.Status {
	case DisputeResolved, DisputeClosed:
		return false
	}
	return now.After(d.ResolutionDue)
}
