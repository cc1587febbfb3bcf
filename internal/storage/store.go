package storage

import (
	"errors"
	"time"

	"github.com/example/airbar/internal/models"
)

var (
	// ErrNotFound means the referenced entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrVersionConflict means a compare-and-swap update lost the race.
	ErrVersionConflict = errors.New("version conflict")
	// ErrDuplicateMatch means a Match already exists for the request.
	ErrDuplicateMatch = errors.New("match already exists for request")
	// ErrCodeCollision means a generated pickup or delivery code already
	// exists on another match; the caller retries with fresh codes.
	ErrCodeCollision = errors.New("handoff code collision")
)

// PackageCandidate is a nearby-pass result: a pending package with its
// endpoint distances from the querying trip's route.
type PackageCandidate struct {
	Package  *models.Package `json:"package"`
	OriginKm float64         `json:"origin_km"`
	DestKm   float64         `json:"dest_km"`
}

// TripCandidate mirrors PackageCandidate for the package-side search.
type TripCandidate struct {
	Trip     *models.Trip `json:"trip"`
	OriginKm float64      `json:"origin_km"`
	DestKm   float64      `json:"dest_km"`
}

// Store is the persistence boundary for the matching core. Implementations
// must make UpdateMatchRequest and UpdateMatch compare-and-swaps on Version
// and CreateMatch atomic with the request's accepted->paid transition, so at
// most one Match ever exists per MatchRequest and a stale tracking write can
// never regress a fulfilled match.
type Store interface {
	AddLocation(l models.Location) error
	GetLocation(id string) (models.Location, error)

	SaveTrip(t *models.Trip) error
	GetTrip(id string) (*models.Trip, error)
	UpdateTrip(t *models.Trip) error

	SavePackage(p *models.Package) error
	GetPackage(id string) (*models.Package, error)
	UpdatePackage(p *models.Package) error

	// ExactPackages returns PENDING, unexpired packages on exactly the given
	// route that fit within maxWeight.
	ExactPackages(originID, destinationID string, maxWeight float64) ([]*models.Package, error)
	ExactTrips(originID, destinationID string, minSpace float64) ([]*models.Trip, error)

	// NearbyPackages returns PENDING, unexpired packages whose origin is
	// within radiusKm of origin AND whose destination is within radiusKm of
	// dest, ascending by summed distance, capped at limit.
	NearbyPackages(origin, dest models.Coord, radiusKm, maxWeight float64, limit int) ([]PackageCandidate, error)
	NearbyTrips(origin, dest models.Coord, radiusKm, minSpace float64, limit int) ([]TripCandidate, error)

	SaveMatchRequest(r *models.MatchRequest) error
	GetMatchRequest(id string) (*models.MatchRequest, error)
	UpdateMatchRequest(r *models.MatchRequest, expectedVersion int64) error

	// CreateMatch persists the paid request state and the new Match in one
	// atomic step, guarded by the request version.
	CreateMatch(r *models.MatchRequest, m *models.Match, expectedVersion int64) error
	GetMatch(id string) (*models.Match, error)
	GetMatchByRequest(requestID string) (*models.Match, error)
	UpdateMatch(m *models.Match, expectedVersion int64) error

	SaveDispute(d *models.Dispute) error
	GetDispute(id string) (*models.Dispute, error)
	UpdateDispute(d *models.Dispute) error
	OpenDisputes() ([]*models.Dispute, error)

	// ExpireMatchRequests and ExpirePackages persist the passive-expiry
	// classification; both return how many rows they flipped.
	ExpireMatchRequests(now time.Time) (int64, error)
	ExpirePackages(now time.Time) (int64, error)
}
