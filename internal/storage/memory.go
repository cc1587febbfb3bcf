package storage

import (
	"sort"
	"sync"
	"time"

	"github.com/example/airbar/internal/geo"
	"github.com/example/airbar/internal/models"
)

// MemoryStore keeps everything in mutex-guarded maps. It is the test double
// and the zero-setup local mode; PostgresStore is the production path.
type MemoryStore struct {
	mu        sync.Mutex
	locations *geo.Index
	trips     map[string]*models.Trip
	packages  map[string]*models.Package
	requests  map[string]*models.MatchRequest
	matches   map[string]*models.Match
	byRequest map[string]string // match_request_id -> match_id
	disputes  map[string]*models.Dispute
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		locations: geo.NewIndex(),
		trips:     make(map[string]*models.Trip),
		packages:  make(map[string]*models.Package),
		requests:  make(map[string]*models.MatchRequest),
		matches:   make(map[string]*models.Match),
		byRequest: make(map[string]string),
		disputes:  make(map[string]*models.Dispute),
	}
}

func (m *MemoryStore) AddLocation(l models.Location) error {
	return m.locations.Add(l)
}

func (m *MemoryStore) GetLocation(id string) (models.Location, error) {
	l, ok := m.locations.Get(id)
	if !ok {
		return models.Location{}, ErrNotFound
	}
	return l, nil
}

func (m *MemoryStore) SaveTrip(t *models.Trip) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.trips[t.ID] = &cp
	return nil
}

func (m *MemoryStore) GetTrip(id string) (*models.Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trips[id]
	if !ok {
		return nil, ErrNotFound
	}
	t.Views++
	cp := *t
	return &cp, nil
}

func (m *MemoryStore) UpdateTrip(t *models.Trip) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.trips[t.ID]; !ok {
		return ErrNotFound
	}
	cp := *t
	cp.UpdatedAt = time.Now()
	m.trips[t.ID] = &cp
	return nil
}

func (m *MemoryStore) SavePackage(p *models.Package) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.packages[p.ID] = &cp
	return nil
}

func (m *MemoryStore) GetPackage(id string) (*models.Package, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.packages[id]
	if !ok {
		return nil, ErrNotFound
	}
	p.Views++
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) UpdatePackage(p *models.Package) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.packages[p.ID]; !ok {
		return ErrNotFound
	}
	cp := *p
	cp.UpdatedAt = time.Now()
	m.packages[p.ID] = &cp
	return nil
}

func (m *MemoryStore) ExactPackages(originID, destinationID string, maxWeight float64) ([]*models.Package, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	var out []*models.Package
	for _, p := range m.packages {
		if p.Status != models.PackagePending || p.Expired(now) {
			continue
		}
		if p.OriginID != originID || p.DestinationID != destinationID {
			continue
		}
		if p.Weight > maxWeight {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) ExactTrips(originID, destinationID string, minSpace float64) ([]*models.Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Trip
	for _, t := range m.trips {
		if t.Status != models.TripActive {
			continue
		}
		if t.OriginID != originID || t.DestinationID != destinationID {
			continue
		}
		if t.SpaceAvailable < minSpace {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) NearbyPackages(origin, dest models.Coord, radiusKm, maxWeight float64, limit int) ([]PackageCandidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	var out []PackageCandidate
	for _, p := range m.packages {
		if p.Status != models.PackagePending || p.Expired(now) {
			continue
		}
		if p.Weight > maxWeight {
			continue
		}
		po, ok := m.locations.Get(p.OriginID)
		if !ok {
			continue
		}
		pd, ok := m.locations.Get(p.DestinationID)
		if !ok {
			continue
		}
		// both endpoints must independently be within the radius
		oKm := geo.Distance(origin, po.Coord)
		dKm := geo.Distance(dest, pd.Coord)
		if oKm > radiusKm || dKm > radiusKm {
			continue
		}
		cp := *p
		out = append(out, PackageCandidate{Package: &cp, OriginKm: oKm, DestKm: dKm})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].OriginKm+out[i].DestKm < out[j].OriginKm+out[j].DestKm
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) NearbyTrips(origin, dest models.Coord, radiusKm, minSpace float64, limit int) ([]TripCandidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []TripCandidate
	for _, t := range m.trips {
		if t.Status != models.TripActive {
			continue
		}
		if t.SpaceAvailable < minSpace {
			continue
		}
		to, ok := m.locations.Get(t.OriginID)
		if !ok {
			continue
		}
		td, ok := m.locations.Get(t.DestinationID)
		if !ok {
			continue
		}
		oKm := geo.Distance(origin, to.Coord)
		dKm := geo.Distance(dest, td.Coord)
		if oKm > radiusKm || dKm > radiusKm {
			continue
		}
		cp := *t
		out = append(out, TripCandidate{Trip: &cp, OriginKm: oKm, DestKm: dKm})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].OriginKm+out[i].DestKm < out[j].OriginKm+out[j].DestKm
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) SaveMatchRequest(r *models.MatchRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.requests[r.ID] = &cp
	return nil
}

func (m *MemoryStore) GetMatchRequest(id string) (*models.MatchRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) UpdateMatchRequest(r *models.MatchRequest, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.requests[r.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != expectedVersion {
		return ErrVersionConflict
	}
	cp := *r
	cp.Version = expectedVersion + 1
	cp.UpdatedAt = time.Now()
	m.requests[r.ID] = &cp
	r.Version = cp.Version
	return nil
}

func (m *MemoryStore) CreateMatch(r *models.MatchRequest, match *models.Match, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.requests[r.ID]
	if !ok {
		return ErrNotFound
	}
	if _, exists := m.byRequest[r.ID]; exists {
		return ErrDuplicateMatch
	}
	if cur.Version != expectedVersion {
		return ErrVersionConflict
	}
	rcp := *r
	rcp.Version = expectedVersion + 1
	rcp.UpdatedAt = time.Now()
	m.requests[r.ID] = &rcp
	r.Version = rcp.Version

	mcp := *match
	m.matches[match.ID] = &mcp
	m.byRequest[r.ID] = match.ID
	return nil
}

func (m *MemoryStore) GetMatch(id string) (*models.Match, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mm, ok := m.matches[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *mm
	cp.Photos = append([]string(nil), mm.Photos...)
	return &cp, nil
}

func (m *MemoryStore) GetMatchByRequest(requestID string) (*models.Match, error) {
	m.mu.Lock()
	id, ok := m.byRequest[requestID]
	m.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	return m.GetMatch(id)
}

func (m *MemoryStore) UpdateMatch(match *models.Match, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.matches[match.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != expectedVersion {
		return ErrVersionConflict
	}
	cp := *match
	cp.Photos = append([]string(nil), match.Photos...)
	cp.Version = expectedVersion + 1
	cp.UpdatedAt = time.Now()
	m.matches[match.ID] = &cp
	match.Version = cp.Version
	return nil
}

func (m *MemoryStore) SaveDispute(d *models.Dispute) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disputes[d.ID] = cloneDispute(d)
	return nil
}

func (m *MemoryStore) GetDispute(id string) (*models.Dispute, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.disputes[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneDispute(d), nil
}

func (m *MemoryStore) UpdateDispute(d *models.Dispute) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.disputes[d.ID]; !ok {
		return ErrNotFound
	}
	cp := cloneDispute(d)
	cp.UpdatedAt = time.Now()
	m.disputes[d.ID] = cp
	return nil
}

func (m *MemoryStore) OpenDisputes() ([]*models.Dispute, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Dispute
	for _, d := range m.disputes {
		if d.Terminal() {
			continue
		}
		out = append(out, cloneDispute(d))
	}
	return out, nil
}

func (m *MemoryStore) ExpireMatchRequests(now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, r := range m.requests {
		if r.Status == models.RequestPending && now.After(r.ExpiresAt) {
			r.Status = models.RequestExpired
			r.Version++
			r.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) ExpirePackages(now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, p := range m.packages {
		if p.Status == models.PackagePending && now.After(p.ExpiresAt) {
			p.Status = models.PackageExpired
			p.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

func cloneDispute(d *models.Dispute) *models.Dispute {
	cp := *d
	cp.Evidence = append([]string(nil), d.Evidence...)
	cp.Timeline = append([]models.TimelineEntry(nil), d.Timeline...)
	return &cp
}
