package models

import "time"

const (
	EventBidPlaced   = "bid_placed"
	EventBidUpdated  = "bid_updated"
	EventBidAccepted = "bid_accepted"
	EventBidRejected = "bid_rejected"
)

const (
	RejectReasonManual  = "manual"
	RejectReasonCascade = "cascade"
)

// BidEvent is published on the bid events topic after a bid changes.
type BidEvent struct {
	EventType         string    `json:"event_type"`
	BidID             int64     `json:"bid_id"`
	TripID            int64     `json:"trip_id"`
	SenderID          int64     `json:"sender_id"`
	Amount            int64     `json:"amount"`
	PreviousAmount    int64     `json:"previous_amount,omitempty"`
	Reason            string    `json:"reason,omitempty"`
	RemainingCapacity string    `json:"remaining_capacity,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}
