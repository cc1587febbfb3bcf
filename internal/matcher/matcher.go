package matcher

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/airbar/internal/cache"
	"github.com/example/airbar/internal/models"
	"github.com/example/airbar/internal/observability"
	"github.com/example/airbar/internal/storage"
)

const (
	// DefaultRadiusKm bounds BOTH endpoints of a nearby candidate
	// independently. A single combined threshold would let a perfect origin
	// excuse a wildly distant destination, so each endpoint gets its own gate.
	DefaultRadiusKm = 50.0
	// DefaultNearbyLimit caps the nearby pass.
	DefaultNearbyLimit = 20
)

// PackageMatch is one candidate for a trip. Exact candidates share both
// location ids with the trip and carry zero distances.
type PackageMatch struct {
	Package  *models.Package `json:"package"`
	OriginKm float64         `json:"origin_km"`
	DestKm   float64         `json:"dest_km"`
	Exact    bool            `json:"exact"`
}

// TripMatch is one candidate for a package.
type TripMatch struct {
	Trip     *models.Trip `json:"trip"`
	OriginKm float64      `json:"origin_km"`
	DestKm   float64      `json:"dest_km"`
	Exact    bool         `json:"exact"`
}

// Finder combines the exact-route pass and the nearby-radius pass into one
// deduplicated candidate list, memoized through the cache. Zero candidates is
// a normal result, not an error.
type Finder struct {
	Store       storage.Store
	Cache       cache.Cache
	Logger      *slog.Logger
	RadiusKm    float64
	NearbyLimit int
	CacheTTL    time.Duration
}

func NewFinder(store storage.Store, c cache.Cache, logger *slog.Logger) *Finder {
	return &Finder{
		Store:       store,
		Cache:       c,
		Logger:      logger,
		RadiusKm:    DefaultRadiusKm,
		NearbyLimit: DefaultNearbyLimit,
		CacheTTL:    cache.TTLMedium,
	}
}

func tripKey(id string) string    { return "match:trip:" + id }
func packageKey(id string) string { return "match:pkg:" + id }

// FindMatchingPackages returns pending packages a trip could carry:
// exact-route results first, then nearby results ascending by summed
// endpoint distance, deduplicated by package id.
func (f *Finder) FindMatchingPackages(ctx context.Context, tripID string) ([]PackageMatch, error) {
	observability.MatchSearchesTotal.WithLabelValues("trip").Inc()

	var cached []PackageMatch
	if hit := f.cacheGet(ctx, tripKey(tripID), &cached); hit {
		return cached, nil
	}

	trip, err := f.Store.GetTrip(tripID)
	if err != nil {
		return nil, err
	}
	origin, err := f.Store.GetLocation(trip.OriginID)
	if err != nil {
		return nil, err
	}
	dest, err := f.Store.GetLocation(trip.DestinationID)
	if err != nil {
		return nil, err
	}

	exact, err := f.Store.ExactPackages(trip.OriginID, trip.DestinationID, trip.SpaceAvailable)
	if err != nil {
		return nil, err
	}
	nearby, err := f.Store.NearbyPackages(origin.Coord, dest.Coord, f.RadiusKm, trip.SpaceAvailable, f.NearbyLimit)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(exact))
	out := make([]PackageMatch, 0, len(exact)+len(nearby))
	for _, p := range exact {
		if seen[p.ID] {
			continue
		}
		seen[p.ID] = true
		out = append(out, PackageMatch{Package: p, Exact: true})
	}
	for _, c := range nearby {
		if seen[c.Package.ID] {
			continue
		}
		seen[c.Package.ID] = true
		out = append(out, PackageMatch{Package: c.Package, OriginKm: c.OriginKm, DestKm: c.DestKm})
	}

	observability.MatchCandidates.WithLabelValues("trip").Observe(float64(len(out)))
	f.cacheSet(ctx, tripKey(tripID), out)
	return out, nil
}

// FindMatchingTrips mirrors FindMatchingPackages with the roles swapped.
func (f *Finder) FindMatchingTrips(ctx context.Context, packageID string) ([]TripMatch, error) {
	observability.MatchSearchesTotal.WithLabelValues("package").Inc()

	var cached []TripMatch
	if hit := f.cacheGet(ctx, packageKey(packageID), &cached); hit {
		return cached, nil
	}

	pkg, err := f.Store.GetPackage(packageID)
	if err != nil {
		return nil, err
	}
	origin, err := f.Store.GetLocation(pkg.OriginID)
	if err != nil {
		return nil, err
	}
	dest, err := f.Store.GetLocation(pkg.DestinationID)
	if err != nil {
		return nil, err
	}

	exact, err := f.Store.ExactTrips(pkg.OriginID, pkg.DestinationID, pkg.Weight)
	if err != nil {
		return nil, err
	}
	nearby, err := f.Store.NearbyTrips(origin.Coord, dest.Coord, f.RadiusKm, pkg.Weight, f.NearbyLimit)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(exact))
	out := make([]TripMatch, 0, len(exact)+len(nearby))
	for _, t := range exact {
		if seen[t.ID] {
			continue
		}
		seen[t.ID] = true
		out = append(out, TripMatch{Trip: t, Exact: true})
	}
	for _, c := range nearby {
		if seen[c.Trip.ID] {
			continue
		}
		seen[c.Trip.ID] = true
		out = append(out, TripMatch{Trip: c.Trip, OriginKm: c.OriginKm, DestKm: c.DestKm})
	}

	observability.MatchCandidates.WithLabelValues("package").Observe(float64(len(out)))
	f.cacheSet(ctx, packageKey(packageID), out)
	return out, nil
}

// Invalidate drops cached results for a trip or package whose supply-side
// state just changed. Best effort; TTL expiry is the backstop.
func (f *Finder) Invalidate(ctx context.Context, tripID, packageID string) {
	if f.Cache == nil {
		return
	}
	if tripID != "" {
		_ = f.Cache.Delete(ctx, tripKey(tripID))
	}
	if packageID != "" {
		_ = f.Cache.Delete(ctx, packageKey(packageID))
	}
}

// cacheGet reports a hit. Errors are treated as misses so a broken cache
// never fails a search.
func (f *Finder) cacheGet(ctx context.Context, key string, dest any) bool {
	if f.Cache == nil {
		return false
	}
	hit, err := f.Cache.Get(ctx, key, dest)
	if err != nil {
		f.Logger.Warn("cache get failed, bypassing", "key", key, "error", err)
		observability.CacheMisses.WithLabelValues(keyNamespace(key)).Inc()
		return false
	}
	if hit {
		observability.CacheHits.WithLabelValues(keyNamespace(key)).Inc()
		return true
	}
	observability.CacheMisses.WithLabelValues(keyNamespace(key)).Inc()
	return false
}

func (f *Finder) cacheSet(ctx context.Context, key string, v any) {
	if f.Cache == nil {
		return
	}
	if err := f.Cache.Set(ctx, key, v, f.CacheTTL); err != nil {
		f.Logger.Warn("cache set failed", "key", key, "error", err)
	}
}

func keyNamespace(key string) string {
	if len(key) >= 10 && key[:10] == "match:trip" {
		return "trip"
	}
	return "package"
}
