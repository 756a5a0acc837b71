package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// BaselineBid is the amount, in connects, every trip's first active bid must equal.
const BaselineBid int64 = 100

type Bid struct {
	ID        int64     `json:"id"`
	TripID    int64     `json:"trip_id"`
	SenderID  int64     `json:"sender_id"`
	Amount    int64     `json:"amount"`
	Status    BidStatus `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type BidStatus string

const (
	BidActive   BidStatus = "active"
	BidAccepted BidStatus = "accepted"
	BidRejected BidStatus = "rejected"
)

// TripBid is a bid listed for a traveler, joined with the sender's display name.
type TripBid struct {
	Bid
	Username string `json:"username"`
}

// SenderBid is a bid listed for its sender, joined with the trip route.
type SenderBid struct {
	Bid
	DepartureAirport string `json:"departure_airport"`
	ArrivalAirport   string `json:"arrival_airport"`
}

// AcceptResult is returned by a successful acceptance.
type AcceptResult struct {
	AcceptedBidID     int64           `json:"accepted_bid_id"`
	RejectedCount     int             `json:"rejected_count"`
	RejectedBids      []Bid           `json:"rejected_bids"`
	RemainingCapacity decimal.Decimal `json:"remaining_capacity"`
}
