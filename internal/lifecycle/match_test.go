package lifecycle

import (
	"context"
	"errors"
	"testing"

	"github.com/example/airbar/internal/models"
	"github.com/example/airbar/internal/storage"
)

// staleMatchStore serves one stale match snapshot, then delegates. It stands
// in for a second writer that read the match before the first one committed.
type staleMatchStore struct {
	storage.Store
	stale *models.Match
}

func (s *staleMatchStore) GetMatch(id string) (*models.Match, error) {
	if s.stale != nil && s.stale.ID == id {
		cp := *s.stale
		s.stale = nil
		return &cp, nil
	}
	return s.Store.GetMatch(id)
}

// seedMatch runs a request through accept+pay and returns the resulting match.
func (f *fixture) seedMatch(t *testing.T) *models.Match {
	t.Helper()
	ctx := context.Background()
	r := f.seedRequest(t)
	if _, err := f.requests.Accept(ctx, r.ID); err != nil {
		t.Fatal(err)
	}
	_, m, err := f.requests.Pay(ctx, r.ID, "")
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestTrackingAdvances(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.seedMatch(t)

	m, err := f.matches.UpdateTracking(ctx, m.ID, models.StepPickedUp, TrackingUpdate{Photos: []string{"p1.jpg"}})
	if err != nil {
		t.Fatal(err)
	}
	if m.Status != models.MatchInTransit || m.PickedUpAt == nil {
		t.Fatalf("pickup did not transition: %+v", m)
	}
	if len(m.Photos) != 1 {
		t.Fatalf("photos not recorded: %v", m.Photos)
	}

	m, err = f.matches.UpdateTracking(ctx, m.ID, models.StepDelivered, TrackingUpdate{Notes: "left at desk"})
	if err != nil {
		t.Fatal(err)
	}
	if m.Status != models.MatchDelivered || m.DeliveredAt == nil {
		t.Fatalf("delivery did not transition: %+v", m)
	}
}

func TestTrackingNeverRegresses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.seedMatch(t)

	if _, err := f.matches.UpdateTracking(ctx, m.ID, models.StepInTransit, TrackingUpdate{}); err != nil {
		t.Fatal(err)
	}
	// repeat of the same step
	if _, err := f.matches.UpdateTracking(ctx, m.ID, models.StepInTransit, TrackingUpdate{}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("repeat step must be rejected, got %v", err)
	}
	// step backwards
	if _, err := f.matches.UpdateTracking(ctx, m.ID, models.StepPickedUp, TrackingUpdate{}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("regression must be rejected, got %v", err)
	}
	// garbage step
	if _, err := f.matches.UpdateTracking(ctx, m.ID, "teleported", TrackingUpdate{}); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("unknown step must be a validation error, got %v", err)
	}
}

func TestTrackingStaleWriterLoses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.seedMatch(t)

	// capture the state a concurrent caller would have read before delivery
	snapshot, err := f.store.GetMatch(m.ID)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.matches.UpdateTracking(ctx, m.ID, models.StepDelivered, TrackingUpdate{}); err != nil {
		t.Fatal(err)
	}

	racer := NewMatches(&staleMatchStore{Store: f.store, stale: snapshot}, f.emitter, f.escrow, f.disputes, f.matches.Logger)
	_, err = racer.UpdateTracking(ctx, m.ID, models.StepPickedUp, TrackingUpdate{})
	if !errors.Is(err, storage.ErrVersionConflict) {
		t.Fatalf("stale tracking write must lose the version check, got %v", err)
	}

	got, err := f.store.GetMatch(m.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.MatchDelivered || got.TrackingStep != models.StepDelivered {
		t.Fatalf("delivery regressed: status=%s step=%s", got.Status, got.TrackingStep)
	}
	if got.DeliveredAt == nil {
		t.Fatal("delivered_at wiped by stale writer")
	}
}

func TestDeliveryReleasesEscrow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.seedMatch(t)

	if _, err := f.matches.UpdateTracking(ctx, m.ID, models.StepDelivered, TrackingUpdate{}); err != nil {
		t.Fatal(err)
	}
	if f.escrow.released != 1 {
		t.Fatalf("expected one escrow release, got %d", f.escrow.released)
	}
	r, err := f.store.GetMatchRequest(m.MatchRequestID)
	if err != nil {
		t.Fatal(err)
	}
	if r.Status != models.RequestConfirmed || r.EscrowStatus != models.EscrowReleased {
		t.Fatalf("request not confirmed after delivery: %+v", r)
	}

	// delivering again is a no-op path that must not double-release
	if _, err := f.matches.UpdateTracking(ctx, m.ID, models.StepDelivered, TrackingUpdate{}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("second delivery must be rejected, got %v", err)
	}
	if f.escrow.released != 1 {
		t.Fatalf("escrow released twice: %d", f.escrow.released)
	}
}

func TestReportIssueOpensDispute(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.seedMatch(t)
	_, _ = f.matches.UpdateTracking(ctx, m.ID, models.StepPickedUp, TrackingUpdate{})

	d, err := f.matches.ReportIssue(ctx, m.ID, "sender-1", models.RoleSender, "item damaged", "box crushed in transit", "refund")
	if err != nil {
		t.Fatal(err)
	}
	if d.Status != models.DisputeOpen || d.MatchID != m.ID {
		t.Fatalf("bad dispute: %+v", d)
	}
	if len(d.Timeline) != 1 || d.Timeline[0].Type != "opened" {
		t.Fatalf("missing opening timeline entry: %v", d.Timeline)
	}

	got, _ := f.store.GetMatch(m.ID)
	if got.Status != models.MatchDisputed {
		t.Fatalf("match not flagged disputed: %s", got.Status)
	}

	// disputed matches freeze: no further tracking, no second dispute
	if _, err := f.matches.UpdateTracking(ctx, m.ID, models.StepInTransit, TrackingUpdate{}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("tracking on disputed match must fail, got %v", err)
	}
	if _, err := f.matches.ReportIssue(ctx, m.ID, "sender-1", models.RoleSender, "again", "", ""); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("second dispute must fail, got %v", err)
	}
}

func TestResolveDisputeWithRefund(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.seedMatch(t)

	d, err := f.matches.ReportIssue(ctx, m.ID, "sender-1", models.RoleSender, "never picked up", "", "refund")
	if err != nil {
		t.Fatal(err)
	}
	d, err = f.disputes.Transition(ctx, d.ID, models.DisputeReview, models.TimelineEntry{Actor: "support-1", ActorRole: models.RoleSupport})
	if err != nil {
		t.Fatal(err)
	}
	d, err = f.matches.ResolveDispute(ctx, d.ID, "refund", models.TimelineEntry{Actor: "support-1", ActorRole: models.RoleSupport})
	if err != nil {
		t.Fatal(err)
	}
	if d.Status != models.DisputeResolved {
		t.Fatalf("expected resolved, got %s", d.Status)
	}
	if f.escrow.refunded != 1 {
		t.Fatalf("expected one escrow refund, got %d", f.escrow.refunded)
	}
	r, err := f.store.GetMatchRequest(m.MatchRequestID)
	if err != nil {
		t.Fatal(err)
	}
	if r.EscrowStatus != models.EscrowRefunded {
		t.Fatalf("escrow status not refunded: %s", r.EscrowStatus)
	}
	last := d.Timeline[len(d.Timeline)-1]
	if last.Payload["outcome"] != "refund" {
		t.Fatalf("outcome not recorded: %v", last.Payload)
	}
}
