package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/airbar/internal/dispute"
	"github.com/example/airbar/internal/models"
	"github.com/example/airbar/internal/notify"
	"github.com/example/airbar/internal/observability"
	"github.com/example/airbar/internal/payments"
	"github.com/example/airbar/internal/storage"
)

// TrackingUpdate is what the traveler (or confirming sender) attaches to a
// tracking transition.
type TrackingUpdate struct {
	Photos []string `json:"photos,omitempty"`
	Notes  string   `json:"notes,omitempty"`
}

// Matches drives physical fulfillment: confirmed -> in_transit -> delivered,
// with disputed reachable from any non-terminal state. TrackingStep only
// moves forward.
type Matches struct {
	Store    storage.Store
	Notify   notify.Emitter
	Escrow   payments.Escrow
	Disputes *dispute.Workflow
	Logger   *slog.Logger
	Now      func() time.Time
}

func NewMatches(store storage.Store, emitter notify.Emitter, escrow payments.Escrow, disputes *dispute.Workflow, logger *slog.Logger) *Matches {
	return &Matches{Store: store, Notify: emitter, Escrow: escrow, Disputes: disputes, Logger: logger, Now: time.Now}
}

func (s *Matches) Get(ctx context.Context, id string) (*models.Match, error) {
	return s.Store.GetMatch(id)
}

// UpdateTracking advances the tracking step. Regressions and repeats are
// rejected; delivery releases the escrow and notifies both parties.
func (s *Matches) UpdateTracking(ctx context.Context, matchID string, step models.TrackingStep, upd TrackingUpdate) (*models.Match, error) {
	if step.Rank() == 0 {
		return nil, fmt.Errorf("%w: unknown tracking step %q", models.ErrValidation, step)
	}
	m, err := s.Store.GetMatch(matchID)
	if err != nil {
		return nil, err
	}
	if m.Status == models.MatchDisputed {
		return nil, fmt.Errorf("%w: match is disputed", ErrInvalidTransition)
	}
	if step.Rank() <= m.TrackingStep.Rank() {
		return nil, fmt.Errorf("%w: tracking step %s cannot follow %s", ErrInvalidTransition, step, m.TrackingStep)
	}

	now := s.Now()
	m.TrackingStep = step
	if len(upd.Photos) > 0 {
		m.Photos = append(m.Photos, upd.Photos...)
	}
	if upd.Notes != "" {
		m.Notes = upd.Notes
	}

	switch step {
	case models.StepPickedUp:
		m.Status = models.MatchInTransit
		m.PickedUpAt = &now
	case models.StepInTransit:
		m.Status = models.MatchInTransit
	case models.StepDelivered:
		m.Status = models.MatchDelivered
		m.DeliveredAt = &now
	}

	// the version CAS is what makes the forward-only rule hold under
	// concurrent calls: a writer that read a stale step loses here
	if err := s.Store.UpdateMatch(m, m.Version); err != nil {
		return nil, err
	}
	observability.MatchTransitions.WithLabelValues(string(step)).Inc()
	s.emit(ctx, notify.Event{Type: notify.EventTracking, UserID: m.SenderID, MatchID: m.ID,
		Payload: map[string]any{"tracking_step": step}, At: now})

	if step == models.StepDelivered {
		s.releaseEscrow(ctx, m)
	}
	return m, nil
}

// releaseEscrow captures the held funds and flips the request's escrow
// status. Failures are logged and retried by support tooling; the delivery
// itself is already recorded.
func (s *Matches) releaseEscrow(ctx context.Context, m *models.Match) {
	r, err := s.Store.GetMatchRequest(m.MatchRequestID)
	if err != nil {
		s.Logger.Error("loading request for escrow release", "match_id", m.ID, "error", err)
		return
	}
	if r.EscrowStatus != models.EscrowHeld {
		return
	}
	if s.Escrow != nil && r.PaymentRef != "" {
		if err := s.Escrow.Release(ctx, r.PaymentRef); err != nil {
			s.Logger.Error("escrow release failed", "request_id", r.ID, "error", err)
			return
		}
	}
	r.EscrowStatus = models.EscrowReleased
	r.Status = models.RequestConfirmed
	if err := s.Store.UpdateMatchRequest(r, r.Version); err != nil {
		s.Logger.Error("recording escrow release", "request_id", r.ID, "error", err)
		return
	}
	observability.RequestTransitions.WithLabelValues(string(models.RequestConfirmed)).Inc()
	s.emit(ctx, notify.Event{Type: notify.EventEscrowReleased, UserID: m.TravelerID, MatchID: m.ID, At: s.Now()})
}

// ReportIssue flags the match as disputed and opens a dispute. Tracking data
// accumulated so far stays on the match untouched.
func (s *Matches) ReportIssue(ctx context.Context, matchID string, actor string, role models.ActorRole, reason, description, preferredOutcome string) (*models.Dispute, error) {
	m, err := s.Store.GetMatch(matchID)
	if err != nil {
		return nil, err
	}
	switch m.Status {
	case models.MatchDisputed:
		return nil, fmt.Errorf("%w: match already disputed", ErrInvalidTransition)
	case models.MatchDelivered:
		// delivery problems are still disputable after handoff
	}

	d, err := s.Disputes.Open(ctx, m, actor, role, reason, description, preferredOutcome)
	if err != nil {
		return nil, err
	}

	m.Status = models.MatchDisputed
	if err := s.Store.UpdateMatch(m, m.Version); err != nil {
		return nil, err
	}
	observability.MatchTransitions.WithLabelValues(string(models.MatchDisputed)).Inc()

	counterpart := m.TravelerID
	if role == models.RoleTraveler {
		counterpart = m.SenderID
	}
	s.emit(ctx, notify.Event{Type: notify.EventDisputeOpened, UserID: counterpart, MatchID: m.ID, DisputeID: d.ID, At: s.Now()})
	return d, nil
}

// ResolveDispute moves a dispute to resolved. An outcome of "refund" cancels
// the escrow hold and returns the reward to the sender; any other outcome
// leaves the hold for support to release manually.
func (s *Matches) ResolveDispute(ctx context.Context, disputeID, outcome string, e models.TimelineEntry) (*models.Dispute, error) {
	if e.Payload == nil {
		e.Payload = map[string]any{}
	}
	if outcome != "" {
		e.Payload["outcome"] = outcome
	}
	d, err := s.Disputes.Transition(ctx, disputeID, models.DisputeResolved, e)
	if err != nil {
		return nil, err
	}
	if outcome == "refund" {
		s.refundEscrow(ctx, d)
	}
	return d, nil
}

func (s *Matches) refundEscrow(ctx context.Context, d *models.Dispute) {
	m, err := s.Store.GetMatch(d.MatchID)
	if err != nil {
		s.Logger.Error("loading match for refund", "dispute_id", d.ID, "error", err)
		return
	}
	r, err := s.Store.GetMatchRequest(m.MatchRequestID)
	if err != nil {
		s.Logger.Error("loading request for refund", "dispute_id", d.ID, "error", err)
		return
	}
	if r.EscrowStatus != models.EscrowHeld {
		return
	}
	if s.Escrow != nil && r.PaymentRef != "" {
		if err := s.Escrow.Refund(ctx, r.PaymentRef); err != nil {
			s.Logger.Error("escrow refund failed", "request_id", r.ID, "error", err)
			return
		}
	}
	r.EscrowStatus = models.EscrowRefunded
	if err := s.Store.UpdateMatchRequest(r, r.Version); err != nil {
		s.Logger.Error("recording escrow refund", "request_id", r.ID, "error", err)
	}
}

func (s *Matches) emit(ctx context.Context, e notify.Event) {
	if s.Notify == nil {
		return
	}
	if err := s.Notify.Emit(ctx, e); err != nil {
		s.Logger.Warn("notify emit failed", "type", e.Type, "user_id", e.UserID, "error", err)
	}
}
