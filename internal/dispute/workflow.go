package dispute

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/airbar/internal/models"
	"github.com/example/airbar/internal/observability"
	"github.com/example/airbar/internal/storage"
)

// ErrInvalidTransition marks a dispute status change not allowed from the
// current status.
var ErrInvalidTransition = errors.New("invalid transition")

// allowed transitions: open -> waiting/review -> offer -> resolved|escalated -> closed.
// waiting and review can bounce while the parties trade information.
var transitions = map[models.DisputeStatus][]models.DisputeStatus{
	models.DisputeOpen:      {models.DisputeWaiting, models.DisputeReview},
	models.DisputeWaiting:   {models.DisputeReview, models.DisputeOffer, models.DisputeEscalated},
	models.DisputeReview:    {models.DisputeWaiting, models.DisputeOffer, models.DisputeResolved, models.DisputeEscalated},
	models.DisputeOffer:     {models.DisputeReview, models.DisputeResolved, models.DisputeEscalated},
	models.DisputeResolved:  {models.DisputeClosed},
	models.DisputeEscalated: {models.DisputeResolved, models.DisputeClosed},
	models.DisputeClosed:    nil,
}

func allowed(from, to models.DisputeStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Workflow is the append-only dispute timeline machine. Every status change
// writes a timeline entry; entries never mutate or reorder.
type Workflow struct {
	Store  storage.Store
	Logger *slog.Logger
	Now    func() time.Time
}

func NewWorkflow(store storage.Store, logger *slog.Logger) *Workflow {
	return &Workflow{Store: store, Logger: logger, Now: time.Now}
}

// Open creates a dispute for a match with both SLA deadlines fixed from now.
func (w *Workflow) Open(ctx context.Context, m *models.Match, actor string, role models.ActorRole, reason, description, preferredOutcome string) (*models.Dispute, error) {
	if reason == "" {
		return nil, fmt.Errorf("%w: dispute reason required", models.ErrValidation)
	}
	now := w.Now()
	d := &models.Dispute{
		ID:               models.NewID(),
		MatchID:          m.ID,
		SenderID:         m.SenderID,
		TravelerID:       m.TravelerID,
		Status:           models.DisputeOpen,
		Reason:           reason,
		Description:      description,
		PreferredOutcome: preferredOutcome,
		FirstReplyDue:    now.Add(models.DisputeFirstReplySLA),
		ResolutionDue:    now.Add(models.DisputeResolutionSLA),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	d.Timeline = []models.TimelineEntry{{
		Timestamp: now,
		Actor:     actor,
		ActorRole: role,
		Type:      "opened",
		Message:   reason,
	}}
	if err := w.Store.SaveDispute(d); err != nil {
		return nil, err
	}
	return d, nil
}

func (w *Workflow) Get(ctx context.Context, id string) (*models.Dispute, error) {
	return w.Store.GetDispute(id)
}

// AddEntry appends a message/evidence entry without changing status. The
// entry timestamp is clamped forward so the timeline stays time-ordered.
func (w *Workflow) AddEntry(ctx context.Context, disputeID string, e models.TimelineEntry) (*models.Dispute, error) {
	if e.Actor == "" || e.Type == "" {
		return nil, fmt.Errorf("%w: timeline entry needs actor and type", models.ErrValidation)
	}
	d, err := w.Store.GetDispute(disputeID)
	if err != nil {
		return nil, err
	}
	if d.Terminal() {
		return nil, fmt.Errorf("%w: dispute is closed", ErrInvalidTransition)
	}
	w.append(d, e)
	if err := w.Store.UpdateDispute(d); err != nil {
		return nil, err
	}
	return d, nil
}

// Transition moves the dispute to a new status and records who did it and
// why as a timeline entry.
func (w *Workflow) Transition(ctx context.Context, disputeID string, to models.DisputeStatus, e models.TimelineEntry) (*models.Dispute, error) {
	d, err := w.Store.GetDispute(disputeID)
	if err != nil {
		return nil, err
	}
	if !allowed(d.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, d.Status, to)
	}
	if e.Type == "" {
		e.Type = "status_change"
	}
	if e.Payload == nil {
		e.Payload = map[string]any{}
	}
	e.Payload["from"] = string(d.Status)
	e.Payload["to"] = string(to)
	d.Status = to
	w.append(d, e)
	if err := w.Store.UpdateDispute(d); err != nil {
		return nil, err
	}
	return d, nil
}

// FlagOverdue scans open disputes for blown SLA deadlines. It only surfaces
// them (metric + log); deadlines are operator-facing, not self-enforcing.
func (w *Workflow) FlagOverdue(ctx context.Context) (int, error) {
	open, err := w.Store.OpenDisputes()
	if err != nil {
		return 0, err
	}
	now := w.Now()
	overdue := 0
	for _, d := range open {
		firstReply := d.OverdueFirstReply(now)
		resolution := d.OverdueResolution(now)
		if !firstReply && !resolution {
			continue
		}
		overdue++
		w.Logger.Warn("dispute overdue",
			"dispute_id", d.ID,
			"match_id", d.MatchID,
			"status", d.Status,
			"first_reply_overdue", firstReply,
			"resolution_overdue", resolution,
		)
	}
	observability.DisputesOverdue.Set(float64(overdue))
	return overdue, nil
}

func (w *Workflow) append(d *models.Dispute, e models.TimelineEntry) {
	now := w.Now()
	if e.Timestamp.IsZero() {
		e.Timestamp = now
	}
	if n := len(d.Timeline); n > 0 && e.Timestamp.Before(d.Timeline[n-1].Timestamp) {
		e.Timestamp = d.Timeline[n-1].Timestamp
	}
	d.Timeline = append(d.Timeline, e)
	d.UpdatedAt = now
}
