package dispute

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/airbar/internal/logging"
	"github.com/example/airbar/internal/models"
	"github.com/example/airbar/internal/storage"
)

func testWorkflow(t *testing.T) (*Workflow, *models.Match) {
	t.Helper()
	st := storage.NewMemoryStore()
	w := NewWorkflow(st, logging.NewLogger("error"))
	m := &models.Match{
		ID:         models.NewID(),
		SenderID:   "sender-1",
		TravelerID: "traveler-1",
		Status:     models.MatchInTransit,
	}
	return w, m
}

func TestOpenRequiresReason(t *testing.T) {
	w, m := testWorkflow(t)
	if _, err := w.Open(context.Background(), m, "sender-1", models.RoleSender, "", "", ""); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestOpenSetsDeadlines(t *testing.T) {
	w, m := testWorkflow(t)
	d, err := w.Open(context.Background(), m, "sender-1", models.RoleSender, "item missing", "never arrived", "refund")
	if err != nil {
		t.Fatal(err)
	}
	if got := d.FirstReplyDue.Sub(d.CreatedAt); got != models.DisputeFirstReplySLA {
		t.Fatalf("first reply due %s from open, want %s", got, models.DisputeFirstReplySLA)
	}
	if got := d.ResolutionDue.Sub(d.CreatedAt); got != models.DisputeResolutionSLA {
		t.Fatalf("resolution due %s from open, want %s", got, models.DisputeResolutionSLA)
	}
}

func TestTimelineGrowsAndStaysOrdered(t *testing.T) {
	w, m := testWorkflow(t)
	ctx := context.Background()
	d, err := w.Open(ctx, m, "sender-1", models.RoleSender, "item damaged", "", "")
	if err != nil {
		t.Fatal(err)
	}

	steps := []struct {
		to    models.DisputeStatus
		actor string
		role  models.ActorRole
	}{
		{models.DisputeWaiting, "support-1", models.RoleSupport},
		{models.DisputeReview, "traveler-1", models.RoleTraveler},
		{models.DisputeOffer, "support-1", models.RoleSupport},
		{models.DisputeResolved, "sender-1", models.RoleSender},
		{models.DisputeClosed, "system", models.RoleSystem},
	}
	prev := len(d.Timeline)
	for _, s := range steps {
		d, err = w.Transition(ctx, d.ID, s.to, models.TimelineEntry{Actor: s.actor, ActorRole: s.role})
		if err != nil {
			t.Fatalf("transition to %s: %v", s.to, err)
		}
		if len(d.Timeline) != prev+1 {
			t.Fatalf("timeline did not grow on %s: %d -> %d", s.to, prev, len(d.Timeline))
		}
		prev = len(d.Timeline)
	}
	if d.Status != models.DisputeClosed {
		t.Fatalf("expected closed, got %s", d.Status)
	}
	for i := 1; i < len(d.Timeline); i++ {
		if d.Timeline[i].Timestamp.Before(d.Timeline[i-1].Timestamp) {
			t.Fatalf("timeline out of order at %d: %s before %s", i, d.Timeline[i].Timestamp, d.Timeline[i-1].Timestamp)
		}
	}
	last := d.Timeline[len(d.Timeline)-1]
	if last.Payload["from"] != string(models.DisputeResolved) || last.Payload["to"] != string(models.DisputeClosed) {
		t.Fatalf("status change not recorded in payload: %v", last.Payload)
	}
}

func TestIllegalTransitions(t *testing.T) {
	w, m := testWorkflow(t)
	ctx := context.Background()
	d, _ := w.Open(ctx, m, "sender-1", models.RoleSender, "lost", "", "")

	// open cannot jump straight to resolved or closed
	for _, to := range []models.DisputeStatus{models.DisputeResolved, models.DisputeClosed, models.DisputeOffer} {
		if _, err := w.Transition(ctx, d.ID, to, models.TimelineEntry{Actor: "support-1"}); !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("open -> %s must be rejected, got %v", to, err)
		}
	}

	d, _ = w.Transition(ctx, d.ID, models.DisputeReview, models.TimelineEntry{Actor: "support-1", ActorRole: models.RoleSupport})
	d, _ = w.Transition(ctx, d.ID, models.DisputeResolved, models.TimelineEntry{Actor: "support-1", ActorRole: models.RoleSupport})
	d, _ = w.Transition(ctx, d.ID, models.DisputeClosed, models.TimelineEntry{Actor: "system", ActorRole: models.RoleSystem})

	// closed is terminal for both transitions and entries
	if _, err := w.Transition(ctx, d.ID, models.DisputeReview, models.TimelineEntry{Actor: "support-1"}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("transition out of closed must fail, got %v", err)
	}
	if _, err := w.AddEntry(ctx, d.ID, models.TimelineEntry{Actor: "sender-1", Type: "message", Message: "hello?"}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("entry on closed dispute must fail, got %v", err)
	}
}

func TestAddEntryClampsTimestamps(t *testing.T) {
	w, m := testWorkflow(t)
	ctx := context.Background()
	d, _ := w.Open(ctx, m, "sender-1", models.RoleSender, "damaged", "", "")

	backdated := d.Timeline[0].Timestamp.Add(-time.Hour)
	d, err := w.AddEntry(ctx, d.ID, models.TimelineEntry{
		Timestamp: backdated, Actor: "traveler-1", ActorRole: models.RoleTraveler,
		Type: "message", Message: "it was fine at pickup",
	})
	if err != nil {
		t.Fatal(err)
	}
	if d.Timeline[1].Timestamp.Before(d.Timeline[0].Timestamp) {
		t.Fatal("backdated entry broke timeline order")
	}
}

func TestFlagOverdue(t *testing.T) {
	w, m := testWorkflow(t)
	ctx := context.Background()
	d, _ := w.Open(ctx, m, "sender-1", models.RoleSender, "lost", "", "")

	n, err := w.FlagOverdue(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("fresh dispute flagged overdue: %d", n)
	}

	w.Now = func() time.Time { return d.CreatedAt.Add(models.DisputeFirstReplySLA + time.Minute) }
	n, err = w.FlagOverdue(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 overdue dispute, got %d", n)
	}
}
