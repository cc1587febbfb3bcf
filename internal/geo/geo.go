package geo

import (
	"math"
	"sync"

	"github.com/example/airbar/internal/models"
)

// DistanceKm is the Haversine great-circle distance in kilometers.
// Inputs are degrees; callers are expected to pass valid ranges
// (lat in [-90,90], lon in [-180,180]) — out-of-range values are not checked.
func DistanceKm(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}

// Distance is DistanceKm over Coord values.
func Distance(a, b models.Coord) float64 {
	return DistanceKm(a.Lat, a.Lon, b.Lat, b.Lon)
}

// Near is a location with its distance from a query point.
type Near struct {
	Location models.Location
	Km       float64
}

// Index holds location records and answers id and proximity queries.
type Index struct {
	mu    sync.RWMutex
	locs  map[string]models.Location
	views map[string]int64
}

func NewIndex() *Index {
	return &Index{locs: make(map[string]models.Location), views: make(map[string]int64)}
}

func (g *Index) Add(l models.Location) error {
	if err := l.Validate(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.locs[l.ID] = l
	return nil
}

// Get looks a location up by id and bumps its view counter.
func (g *Index) Get(id string) (models.Location, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.locs[id]
	if ok {
		g.views[id]++
	}
	return l, ok
}

// FindExact resolves both endpoints of a route, counting a view for each.
func (g *Index) FindExact(originID, destinationID string) (models.Location, models.Location, bool) {
	o, ok := g.Get(originID)
	if !ok {
		return models.Location{}, models.Location{}, false
	}
	d, ok := g.Get(destinationID)
	if !ok {
		return models.Location{}, models.Location{}, false
	}
	return o, d, true
}

func (g *Index) Views(id string) int64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.views[id]
}

// Nearby scans every location, keeps those within radiusKm and returns the
// closest, ascending by distance, capped at limit.
// Naive scan; swap in a geohash index if the location set grows.
func (g *Index) Nearby(lat, lon, radiusKm float64, limit int) []Near {
	g.mu.RLock()
	defer g.mu.RUnlock()
	arr := make([]Near, 0, len(g.locs))
	for _, l := range g.locs {
		km := DistanceKm(lat, lon, l.Coord.Lat, l.Coord.Lon)
		if km > radiusKm {
			continue
		}
		arr = append(arr, Near{Location: l, Km: km})
	}
	// partial selection sort for top-N
	n := limit
	if n > len(arr) {
		n = len(arr)
	}
	for i := 0; i < n; i++ {
		minIdx := i
		for j := i + 1; j < len(arr); j++ {
			if arr[j].Km < arr[minIdx].Km {
				minIdx = j
			}
		}
		arr[i], arr[minIdx] = arr[minIdx], arr[i]
	}
	return arr[:n]
}
