package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type TripStatus string

const (
	TripUpcoming  TripStatus = "upcoming"
	TripActive    TripStatus = "active"
	TripCompleted TripStatus = "completed"
	TripCancelled TripStatus = "cancelled"
)

// Trip is the slice of a traveler's trip the auction needs. Capacity is
// Valid=false when the stored value is missing or not numeric.
type Trip struct {
	ID               int64
	TravelerID       int64
	DepartureAirport string
	ArrivalAirport   string
	Capacity         decimal.NullDecimal
	Status           TripStatus
}

// Closed reports whether the trip no longer takes bids or acceptances.
func (t Trip) Closed() bool {
	return t.Status == TripCompleted || t.Status == TripCancelled
}

// PackageEntry is a sender's shipment declaration. Only the latest entry per
// sender counts.
type PackageEntry struct {
	ID        int64
	UserID    int64
	Weight    decimal.NullDecimal
	CreatedAt time.Time
}

// WeightedBid pairs a bid with its sender's latest package weight.
type WeightedBid struct {
	Bid
	Weight decimal.Decimal
}
