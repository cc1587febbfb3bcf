package lifecycle

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/example/airbar/internal/dispute"
	"github.com/example/airbar/internal/logging"
	"github.com/example/airbar/internal/models"
	"github.com/example/airbar/internal/notify"
	"github.com/example/airbar/internal/storage"
)

type recordingEmitter struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recordingEmitter) Emit(_ context.Context, e notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingEmitter) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type fakeEscrow struct {
	mu       sync.Mutex
	held     int
	released int
	refunded int
	failHold bool
}

func (f *fakeEscrow) Hold(_ context.Context, _ int64, _, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failHold {
		return "", errors.New("card declined")
	}
	f.held++
	return "pi_test_123", nil
}

func (f *fakeEscrow) Release(_ context.Context, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released++
	return nil
}

func (f *fakeEscrow) Refund(_ context.Context, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refunded++
	return nil
}

type fixture struct {
	store    *storage.MemoryStore
	requests *Requests
	matches  *Matches
	catalog  *Catalog
	disputes *dispute.Workflow
	emitter  *recordingEmitter
	escrow   *fakeEscrow
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := storage.NewMemoryStore()
	logger := logging.NewLogger("error")
	for _, l := range []models.Location{
		{ID: "jfk", Name: "JFK", Coord: models.Coord{Lat: 40.64, Lon: -73.78}},
		{ID: "lax", Name: "LAX", Coord: models.Coord{Lat: 33.94, Lon: -118.41}},
	} {
		if err := st.AddLocation(l); err != nil {
			t.Fatal(err)
		}
	}
	em := &recordingEmitter{}
	es := &fakeEscrow{}
	disputes := dispute.NewWorkflow(st, logger)
	return &fixture{
		store:    st,
		requests: NewRequests(st, em, es, logger),
		matches:  NewMatches(st, em, es, disputes, logger),
		catalog:  NewCatalog(st),
		disputes: disputes,
		emitter:  em,
		escrow:   es,
	}
}

func (f *fixture) seedRequest(t *testing.T) *models.MatchRequest {
	t.Helper()
	trip, err := f.catalog.CreateTrip(&models.Trip{
		TravelerID: "traveler-1", OriginID: "jfk", DestinationID: "lax",
		DepartureDate: time.Now().Add(72 * time.Hour), SpaceAvailable: 10,
	})
	if err != nil {
		t.Fatal(err)
	}
	pkg, err := f.catalog.CreatePackage(&models.Package{
		SenderID: "sender-1", OriginID: "jfk", DestinationID: "lax", Weight: 5, MaxReward: 40,
	})
	if err != nil {
		t.Fatal(err)
	}
	r, err := f.requests.Create(context.Background(), &models.MatchRequest{
		TripID: trip.ID, PackageID: pkg.ID, Reward: 40,
	})
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func TestCreateSetsExpiryAndNotifies(t *testing.T) {
	f := newFixture(t)
	r := f.seedRequest(t)
	if r.Status != models.RequestPending {
		t.Fatalf("expected pending, got %s", r.Status)
	}
	until := time.Until(r.ExpiresAt)
	if until < 23*time.Hour || until > 24*time.Hour {
		t.Fatalf("expiry not ~24h out: %s", until)
	}
	types := f.emitter.types()
	if len(types) == 0 || types[len(types)-1] != notify.EventRequestCreated {
		t.Fatalf("expected created event, got %v", types)
	}
}

func TestCreateRejectsOverweight(t *testing.T) {
	f := newFixture(t)
	trip, _ := f.catalog.CreateTrip(&models.Trip{
		TravelerID: "traveler-1", OriginID: "jfk", DestinationID: "lax",
		DepartureDate: time.Now().Add(time.Hour), SpaceAvailable: 3,
	})
	pkg, _ := f.catalog.CreatePackage(&models.Package{
		SenderID: "sender-1", OriginID: "jfk", DestinationID: "lax", Weight: 5,
	})
	_, err := f.requests.Create(context.Background(), &models.MatchRequest{TripID: trip.ID, PackageID: pkg.ID})
	if !errors.Is(err, models.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestPayRequiresAcceptance(t *testing.T) {
	f := newFixture(t)
	r := f.seedRequest(t)
	_, _, err := f.requests.Pay(context.Background(), r.ID, "")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("pay before accept must fail, got %v", err)
	}
}

func TestAcceptThenPayCreatesExactlyOneMatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.seedRequest(t)

	if _, err := f.requests.Accept(ctx, r.ID); err != nil {
		t.Fatal(err)
	}
	paid, m, err := f.requests.Pay(ctx, r.ID, "")
	if err != nil {
		t.Fatal(err)
	}
	if paid.Status != models.RequestPaid || paid.PaymentStatus != models.PaymentSucceeded {
		t.Fatalf("bad paid state: %+v", paid)
	}
	if paid.EscrowStatus != models.EscrowHeld {
		t.Fatalf("expected held escrow, got %s", paid.EscrowStatus)
	}
	if paid.PaidAt == nil {
		t.Fatal("paid_at not set")
	}
	if f.escrow.held != 1 {
		t.Fatalf("expected one escrow hold, got %d", f.escrow.held)
	}
	if m.MatchRequestID != r.ID || m.Status != models.MatchConfirmed {
		t.Fatalf("bad match: %+v", m)
	}

	// second pay must not mint a second match
	_, _, err = f.requests.Pay(ctx, r.ID, "")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition on double pay, got %v", err)
	}
	got, err := f.store.GetMatchByRequest(r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != m.ID {
		t.Fatalf("match replaced: %s vs %s", got.ID, m.ID)
	}
}

func TestPayMarksPackageMatched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.seedRequest(t)
	_, _ = f.requests.Accept(ctx, r.ID)
	_, _, err := f.requests.Pay(ctx, r.ID, "")
	if err != nil {
		t.Fatal(err)
	}
	pkg, err := f.store.GetPackage(r.PackageID)
	if err != nil {
		t.Fatal(err)
	}
	if pkg.Status != models.PackageMatched {
		t.Fatalf("expected MATCHED, got %s", pkg.Status)
	}
}

func TestPayOnEscrowFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.seedRequest(t)
	_, _ = f.requests.Accept(ctx, r.ID)
	f.escrow.failHold = true
	_, _, err := f.requests.Pay(ctx, r.ID, "")
	if err == nil {
		t.Fatal("expected escrow failure")
	}
	got, _ := f.requests.Get(ctx, r.ID)
	if got.PaymentStatus != models.PaymentFailed {
		t.Fatalf("expected failed payment status, got %s", got.PaymentStatus)
	}
	if _, err := f.store.GetMatchByRequest(r.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatal("no match may exist after a failed hold")
	}
}

func TestAcceptIdempotentDeclineConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.seedRequest(t)

	if _, err := f.requests.Accept(ctx, r.ID); err != nil {
		t.Fatal(err)
	}
	// repeating the same verb is a no-op success
	again, err := f.requests.Accept(ctx, r.ID)
	if err != nil || again.Status != models.RequestAccepted {
		t.Fatalf("repeat accept should be idempotent: %v %+v", err, again)
	}
	// the opposite verb is a conflict
	if _, err := f.requests.Decline(ctx, r.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("decline after accept must conflict, got %v", err)
	}
}

func TestLazyExpiryOnRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.seedRequest(t)

	f.requests.Now = func() time.Time { return time.Now().Add(25 * time.Hour) }
	got, err := f.requests.Get(ctx, r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.RequestExpired {
		t.Fatalf("expected expired on read, got %s", got.Status)
	}
	if _, err := f.requests.Accept(ctx, r.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("accept on expired must fail, got %v", err)
	}
}

// staleRequestStore serves one stale request snapshot, then delegates,
// standing in for a second pay call that read the request before the first
// one committed.
type staleRequestStore struct {
	storage.Store
	stale *models.MatchRequest
}

func (s *staleRequestStore) GetMatchRequest(id string) (*models.MatchRequest, error) {
	if s.stale != nil && s.stale.ID == id {
		cp := *s.stale
		s.stale = nil
		return &cp, nil
	}
	return s.Store.GetMatchRequest(id)
}

func TestPayRaceLoserRefundsHold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.seedRequest(t)
	if _, err := f.requests.Accept(ctx, r.ID); err != nil {
		t.Fatal(err)
	}
	snapshot, err := f.store.GetMatchRequest(r.ID)
	if err != nil {
		t.Fatal(err)
	}

	_, winner, err := f.requests.Pay(ctx, r.ID, "")
	if err != nil {
		t.Fatal(err)
	}

	// the racer read accepted before the winner wrote, holds its own escrow,
	// then loses the match creation
	racer := NewRequests(&staleRequestStore{Store: f.store, stale: snapshot}, f.emitter, f.escrow, f.requests.Logger)
	_, _, err = racer.Pay(ctx, r.ID, "")
	if err == nil {
		t.Fatal("losing pay call must fail")
	}
	if f.escrow.held != 2 {
		t.Fatalf("expected both racers to hold, got %d", f.escrow.held)
	}
	if f.escrow.refunded != 1 {
		t.Fatalf("loser's hold must be cancelled, got %d refunds", f.escrow.refunded)
	}
	got, err := f.store.GetMatchByRequest(r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != winner.ID {
		t.Fatalf("winner's match replaced: %s vs %s", got.ID, winner.ID)
	}
}

// collidingStore rejects the first n CreateMatch calls as code collisions and
// records the codes of every attempt.
type collidingStore struct {
	storage.Store
	collisions int
	attempts   [][2]string
}

func (s *collidingStore) CreateMatch(r *models.MatchRequest, m *models.Match, expectedVersion int64) error {
	s.attempts = append(s.attempts, [2]string{m.PickupCode, m.DeliveryCode})
	if s.collisions > 0 {
		s.collisions--
		return storage.ErrCodeCollision
	}
	return s.Store.CreateMatch(r, m, expectedVersion)
}

func TestPayRetriesOnCodeCollision(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.seedRequest(t)
	if _, err := f.requests.Accept(ctx, r.ID); err != nil {
		t.Fatal(err)
	}

	cs := &collidingStore{Store: f.store, collisions: 1}
	requests := NewRequests(cs, f.emitter, f.escrow, f.requests.Logger)
	_, m, err := requests.Pay(ctx, r.ID, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(cs.attempts) != 2 {
		t.Fatalf("expected one retry, got %d attempts", len(cs.attempts))
	}
	if cs.attempts[0] == cs.attempts[1] {
		t.Fatalf("retry reused the colliding codes: %v", cs.attempts[0])
	}
	if m.PickupCode != cs.attempts[1][0] || m.DeliveryCode != cs.attempts[1][1] {
		t.Fatalf("match does not carry the retried codes: %+v", m)
	}
	if f.escrow.refunded != 0 {
		t.Fatalf("successful pay must keep the hold, got %d refunds", f.escrow.refunded)
	}
}

var codeRe = regexp.MustCompile(`^[A-Z0-9]{6}$`)

func TestHandoffCodes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.seedRequest(t)
	_, _ = f.requests.Accept(ctx, r.ID)
	_, m, err := f.requests.Pay(ctx, r.ID, "")
	if err != nil {
		t.Fatal(err)
	}
	if !codeRe.MatchString(m.PickupCode) || !codeRe.MatchString(m.DeliveryCode) {
		t.Fatalf("bad code format: %q %q", m.PickupCode, m.DeliveryCode)
	}
	if m.PickupCode == m.DeliveryCode {
		t.Fatal("pickup and delivery codes must differ")
	}
}
