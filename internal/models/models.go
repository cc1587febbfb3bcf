package models

import (
	"time"

	"github.com/google/uuid"
)

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type LocationType string

const (
	LocationAirport LocationType = "AIRPORT"
	LocationCity    LocationType = "CITY"
	LocationAddress LocationType = "ADDRESS"
)

// Location is immutable once created; Trips and Packages reference it by id.
type Location struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	City        string       `json:"city"`
	Country     string       `json:"country"`
	CountryCode string       `json:"country_code"`
	AirportCode string       `json:"airport_code,omitempty"`
	Type        LocationType `json:"type"`
	Coord       Coord        `json:"coord"`
	Timezone    string       `json:"timezone,omitempty"`
}

type TripStatus string

const (
	TripActive    TripStatus = "ACTIVE"
	TripCancelled TripStatus = "CANCELLED"
	TripCompleted TripStatus = "COMPLETED"
)

type BagType string

const (
	BagCarryOn BagType = "carry_on"
	BagChecked BagType = "checked"
	BagSpecial BagType = "special"
)

type Trip struct {
	ID              string     `json:"id"`
	TravelerID      string     `json:"traveler_id"`
	OriginID        string     `json:"origin_id"`
	DestinationID   string     `json:"destination_id"`
	DepartureDate   time.Time  `json:"departure_date"`
	ArrivalDate     *time.Time `json:"arrival_date,omitempty"`
	ReturnDate      *time.Time `json:"return_date,omitempty"`
	SpaceAvailable  float64    `json:"space_available_kg"`
	BagTypes        []BagType  `json:"bag_types,omitempty"`
	Status          TripStatus `json:"status"`
	PricePerKg      float64    `json:"price_per_kg"`
	AcceptableItems []string   `json:"acceptable_items,omitempty"`
	Restrictions    []string   `json:"restrictions,omitempty"`
	Views           int64      `json:"views"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

type PackageStatus string

const (
	PackagePending   PackageStatus = "PENDING"
	PackageMatched   PackageStatus = "MATCHED"
	PackageCancelled PackageStatus = "CANCELLED"
	PackageExpired   PackageStatus = "EXPIRED"
)

// PackageTTL is how long a posted package stays matchable.
const PackageTTL = 30 * 24 * time.Hour

type TimeWindow struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

type Package struct {
	ID              string        `json:"id"`
	SenderID        string        `json:"sender_id"`
	OriginID        string        `json:"origin_id"`
	DestinationID   string        `json:"destination_id"`
	Description     string        `json:"description"`
	Weight          float64       `json:"weight_kg"`
	DeclaredValue   float64       `json:"declared_value"`
	Category        string        `json:"category"`
	Fragile         bool          `json:"fragile"`
	Urgent          bool          `json:"urgent"`
	PickupAddress   string        `json:"pickup_address,omitempty"`
	DeliveryAddress string        `json:"delivery_address,omitempty"`
	PickupWindow    *TimeWindow   `json:"pickup_window,omitempty"`
	DeliveryWindow  *TimeWindow   `json:"delivery_window,omitempty"`
	ReceiverName    string        `json:"receiver_name,omitempty"`
	ReceiverPhone   string        `json:"receiver_phone,omitempty"`
	MaxReward       float64       `json:"max_reward"`
	EstimatedReward float64       `json:"estimated_reward"`
	TraditionalCost float64       `json:"traditional_cost"`
	Savings         float64       `json:"savings"`
	Status          PackageStatus `json:"status"`
	ExpiresAt       time.Time     `json:"expires_at"`
	Views           int64         `json:"views"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// Expired reports whether the package has passed its posting TTL without
// being matched. The EXPIRED status is only persisted by the sweep; reads
// treat an overdue PENDING package as expired too.
func (p *Package) Expired(now time.Time) bool {
	if p.Status == PackageExpired {
		return true
	}
	return p.Status == PackagePending && now.After(p.ExpiresAt)
}

func NewID() string { return uuid.NewString() }
