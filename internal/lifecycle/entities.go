package lifecycle

import (
	"fmt"
	"time"

	"github.com/example/airbar/internal/models"
	"github.com/example/airbar/internal/storage"
)

// Reward math mirrors what senders see when posting: the courier baseline is
// the number they are saving against.
const (
	courierRatePerKg   = 25.0
	defaultRewardPerKg = 10.0
)

// Catalog creates and mutates the supply-side entities. Trips and Packages
// are never deleted, only status-transitioned.
type Catalog struct {
	Store storage.Store
	Now   func() time.Time
}

func NewCatalog(store storage.Store) *Catalog {
	return &Catalog{Store: store, Now: time.Now}
}

func (c *Catalog) CreateTrip(t *models.Trip) (*models.Trip, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	now := c.Now()
	if t.ID == "" {
		t.ID = models.NewID()
	}
	t.Status = models.TripActive
	t.Views = 0
	t.CreatedAt = now
	t.UpdatedAt = now
	if err := c.Store.SaveTrip(t); err != nil {
		return nil, err
	}
	return t, nil
}

func (c *Catalog) CreatePackage(p *models.Package) (*models.Package, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	now := c.Now()
	if p.ID == "" {
		p.ID = models.NewID()
	}
	p.Status = models.PackagePending
	p.ExpiresAt = now.Add(models.PackageTTL)
	p.TraditionalCost = p.Weight * courierRatePerKg
	if p.MaxReward > 0 {
		p.EstimatedReward = p.MaxReward
	} else {
		p.EstimatedReward = p.Weight * defaultRewardPerKg
	}
	p.Savings = p.TraditionalCost - p.EstimatedReward
	if p.Savings < 0 {
		p.Savings = 0
	}
	p.Views = 0
	p.CreatedAt = now
	p.UpdatedAt = now
	if err := c.Store.SavePackage(p); err != nil {
		return nil, err
	}
	return p, nil
}

func (c *Catalog) CancelTrip(id string) (*models.Trip, error) {
	t, err := c.Store.GetTrip(id)
	if err != nil {
		return nil, err
	}
	if t.Status != models.TripActive {
		return nil, fmt.Errorf("%w: trip is %s", ErrInvalidTransition, t.Status)
	}
	t.Status = models.TripCancelled
	if err := c.Store.UpdateTrip(t); err != nil {
		return nil, err
	}
	return t, nil
}

func (c *Catalog) CancelPackage(id string) (*models.Package, error) {
	p, err := c.Store.GetPackage(id)
	if err != nil {
		return nil, err
	}
	if p.Status != models.PackagePending {
		return nil, fmt.Errorf("%w: package is %s", ErrInvalidTransition, p.Status)
	}
	p.Status = models.PackageCancelled
	if err := c.Store.UpdatePackage(p); err != nil {
		return nil, err
	}
	return p, nil
}

// GetPackage applies the lazy expiry classification on the way out.
func (c *Catalog) GetPackage(id string) (*models.Package, error) {
	p, err := c.Store.GetPackage(id)
	if err != nil {
		return nil, err
	}
	if p.Status == models.PackagePending && p.Expired(c.Now()) {
		p.Status = models.PackageExpired
		if err := c.Store.UpdatePackage(p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (c *Catalog) GetTrip(id string) (*models.Trip, error) {
	return c.Store.GetTrip(id)
}
