package models

import (
	"errors"
	"fmt"
)

// ErrValidation marks malformed input; handlers map it to a 400.
var ErrValidation = errors.New("validation")

func (l *Location) Validate() error {
	if l.Coord.Lat < -90 || l.Coord.Lat > 90 {
		return fmt.Errorf("%w: latitude %f out of range", ErrValidation, l.Coord.Lat)
	}
	if l.Coord.Lon < -180 || l.Coord.Lon > 180 {
		return fmt.Errorf("%w: longitude %f out of range", ErrValidation, l.Coord.Lon)
	}
	if l.Name == "" {
		return fmt.Errorf("%w: location name required", ErrValidation)
	}
	return nil
}

func (t *Trip) Validate() error {
	if t.TravelerID == "" {
		return fmt.Errorf("%w: traveler_id required", ErrValidation)
	}
	if t.OriginID == "" || t.DestinationID == "" {
		return fmt.Errorf("%w: origin and destination required", ErrValidation)
	}
	if t.SpaceAvailable <= 0 {
		return fmt.Errorf("%w: space_available_kg must be > 0", ErrValidation)
	}
	return nil
}

func (p *Package) Validate() error {
	if p.SenderID == "" {
		return fmt.Errorf("%w: sender_id required", ErrValidation)
	}
	if p.OriginID == "" || p.DestinationID == "" {
		return fmt.Errorf("%w: origin and destination required", ErrValidation)
	}
	if p.Weight <= 0 {
		return fmt.Errorf("%w: weight_kg must be > 0", ErrValidation)
	}
	return nil
}

func (r *MatchRequest) Validate() error {
	if r.TripID == "" || r.PackageID == "" {
		return fmt.Errorf("%w: trip_id and package_id required", ErrValidation)
	}
	if r.Reward < 0 {
		return fmt.Errorf("%w: reward must be >= 0", ErrValidation)
	}
	return nil
}
