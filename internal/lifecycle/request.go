package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/airbar/internal/models"
	"github.com/example/airbar/internal/notify"
	"github.com/example/airbar/internal/observability"
	"github.com/example/airbar/internal/payments"
	"github.com/example/airbar/internal/storage"
)

// ErrInvalidTransition marks a state change not permitted from the entity's
// current state; handlers map it to a 409.
var ErrInvalidTransition = errors.New("invalid transition")

// Requests drives the proposal state machine:
// pending -> accepted|declined|expired, accepted -> paid.
// Every write goes through the store's version CAS, so two racing transitions
// cannot both win.
type Requests struct {
	Store  storage.Store
	Notify notify.Emitter
	Escrow payments.Escrow
	Logger *slog.Logger
	Now    func() time.Time
}

func NewRequests(store storage.Store, emitter notify.Emitter, escrow payments.Escrow, logger *slog.Logger) *Requests {
	return &Requests{Store: store, Notify: emitter, Escrow: escrow, Logger: logger, Now: time.Now}
}

// Create proposes a trip/package pairing. The counterpart is notified
// fire-and-forget; the proposal expires in 24h if nobody decides.
func (s *Requests) Create(ctx context.Context, r *models.MatchRequest) (*models.MatchRequest, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	trip, err := s.Store.GetTrip(r.TripID)
	if err != nil {
		return nil, err
	}
	pkg, err := s.Store.GetPackage(r.PackageID)
	if err != nil {
		return nil, err
	}
	if pkg.Weight > trip.SpaceAvailable {
		return nil, fmt.Errorf("%w: package weight %.1fkg exceeds trip space %.1fkg",
			models.ErrValidation, pkg.Weight, trip.SpaceAvailable)
	}

	now := s.Now()
	r.ID = models.NewID()
	r.SenderID = pkg.SenderID
	r.TravelerID = trip.TravelerID
	if r.Weight == 0 {
		r.Weight = pkg.Weight
	}
	if r.Category == "" {
		r.Category = pkg.Category
	}
	r.Status = models.RequestPending
	r.PaymentStatus = models.PaymentPending
	r.ExpiresAt = now.Add(models.RequestTTL)
	r.Version = 0
	r.CreatedAt = now
	r.UpdatedAt = now
	if err := s.Store.SaveMatchRequest(r); err != nil {
		return nil, err
	}
	observability.RequestTransitions.WithLabelValues(string(models.RequestPending)).Inc()
	s.emit(ctx, notify.Event{Type: notify.EventRequestCreated, UserID: r.TravelerID, MatchRequestID: r.ID, At: now})
	return r, nil
}

// Get classifies an overrun pending request as expired on read and persists
// the flip so stale proposals stop blocking new ones.
func (s *Requests) Get(ctx context.Context, id string) (*models.MatchRequest, error) {
	r, err := s.Store.GetMatchRequest(id)
	if err != nil {
		return nil, err
	}
	if r.Status == models.RequestPending && r.Expired(s.Now()) {
		r.Status = models.RequestExpired
		if err := s.Store.UpdateMatchRequest(r, r.Version); err != nil && !errors.Is(err, storage.ErrVersionConflict) {
			return nil, err
		}
		observability.RequestTransitions.WithLabelValues(string(models.RequestExpired)).Inc()
	}
	return r, nil
}

// Accept is idempotent on an already-accepted request; any other non-pending
// state is rejected.
func (s *Requests) Accept(ctx context.Context, id string) (*models.MatchRequest, error) {
	r, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Status == models.RequestAccepted {
		return r, nil
	}
	if r.Status != models.RequestPending {
		return nil, fmt.Errorf("%w: cannot accept a %s request", ErrInvalidTransition, r.Status)
	}
	now := s.Now()
	r.Status = models.RequestAccepted
	r.AcceptedAt = &now
	if err := s.Store.UpdateMatchRequest(r, r.Version); err != nil {
		return nil, err
	}
	observability.RequestTransitions.WithLabelValues(string(models.RequestAccepted)).Inc()
	s.emit(ctx, notify.Event{Type: notify.EventRequestAccepted, UserID: r.SenderID, MatchRequestID: r.ID, At: now})
	return r, nil
}

func (s *Requests) Decline(ctx context.Context, id string) (*models.MatchRequest, error) {
	r, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Status == models.RequestDeclined {
		return r, nil
	}
	if r.Status != models.RequestPending {
		return nil, fmt.Errorf("%w: cannot decline a %s request", ErrInvalidTransition, r.Status)
	}
	r.Status = models.RequestDeclined
	if err := s.Store.UpdateMatchRequest(r, r.Version); err != nil {
		return nil, err
	}
	observability.RequestTransitions.WithLabelValues(string(models.RequestDeclined)).Inc()
	s.emit(ctx, notify.Event{Type: notify.EventRequestDeclined, UserID: r.SenderID, MatchRequestID: r.ID, At: s.Now()})
	return r, nil
}

// Pay requires a prior accept, holds the reward in escrow, and creates
// exactly one Match. The store runs the paid flip and the Match insert as one
// guarded step; a lost race surfaces as a conflict, never a second Match.
func (s *Requests) Pay(ctx context.Context, id, paymentRef string) (*models.MatchRequest, *models.Match, error) {
	r, err := s.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if r.Status != models.RequestAccepted {
		return nil, nil, fmt.Errorf("%w: cannot pay a %s request", ErrInvalidTransition, r.Status)
	}

	pkg, err := s.Store.GetPackage(r.PackageID)
	if err != nil {
		return nil, nil, err
	}

	heldHere := false
	if paymentRef == "" && s.Escrow != nil {
		ref, err := s.Escrow.Hold(ctx, int64(r.Reward*100), "usd", r.SenderID)
		if err != nil {
			r.PaymentStatus = models.PaymentFailed
			if uerr := s.Store.UpdateMatchRequest(r, r.Version); uerr != nil {
				s.Logger.Error("recording failed payment", "request_id", r.ID, "error", uerr)
			}
			return nil, nil, fmt.Errorf("escrow hold: %w", err)
		}
		paymentRef = ref
		heldHere = true
	}

	now := s.Now()

	r.Status = models.RequestPaid
	r.PaymentStatus = models.PaymentSucceeded
	r.EscrowStatus = models.EscrowHeld
	r.PaymentRef = paymentRef
	r.PaidAt = &now

	pickup, delivery := newCodePair()
	m := &models.Match{
		ID:              models.NewID(),
		MatchRequestID:  r.ID,
		TripID:          r.TripID,
		PackageID:       r.PackageID,
		SenderID:        r.SenderID,
		TravelerID:      r.TravelerID,
		Status:          models.MatchConfirmed,
		PickupCode:      pickup,
		DeliveryCode:    delivery,
		PickupAddress:   pkg.PickupAddress,
		DeliveryAddress: pkg.DeliveryAddress,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	err = s.Store.CreateMatch(r, m, r.Version)
	for attempt := 0; errors.Is(err, storage.ErrCodeCollision) && attempt < 2; attempt++ {
		m.PickupCode, m.DeliveryCode = newCodePair()
		err = s.Store.CreateMatch(r, m, r.Version)
	}
	if err != nil {
		// a hold placed by this call must not outlive it: if the match never
		// materialized (lost race, collision budget spent), give the money back
		if heldHere {
			if rerr := s.Escrow.Refund(ctx, paymentRef); rerr != nil {
				s.Logger.Error("cancelling orphaned escrow hold", "request_id", r.ID, "payment_ref", paymentRef, "error", rerr)
			}
		}
		return nil, nil, err
	}

	pkg.Status = models.PackageMatched
	if err := s.Store.UpdatePackage(pkg); err != nil {
		s.Logger.Error("marking package matched", "package_id", pkg.ID, "error", err)
	}

	observability.RequestTransitions.WithLabelValues(string(models.RequestPaid)).Inc()
	s.emit(ctx, notify.Event{Type: notify.EventRequestPaid, UserID: r.TravelerID, MatchRequestID: r.ID, MatchID: m.ID, At: now})
	return r, m, nil
}

func (s *Requests) emit(ctx context.Context, e notify.Event) {
	if s.Notify == nil {
		return
	}
	if err := s.Notify.Emit(ctx, e); err != nil {
		s.Logger.Warn("notify emit failed", "type", e.Type, "user_id", e.UserID, "error", err)
	}
}
