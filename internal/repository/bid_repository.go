package repository

import (
	"context"

	"github.com/honeynil/ParcelBidService/internal/models"
)

type BidRepository interface {
	GetByID(ctx context.Context, id int64) (*models.Bid, error)
	// GetForUpdate reads the bid and holds its row lock until the unit of work ends.
	GetForUpdate(ctx context.Context, id int64) (*models.Bid, error)
	// LockAccepted locks every accepted bid of the trip and returns them with
	// their senders' latest package weights.
	LockAccepted(ctx context.Context, tripID int64) ([]models.WeightedBid, error)
	// ListActive returns the trip's active bids, highest amount first.
	ListActive(ctx context.Context, tripID int64) ([]models.Bid, error)
	// ActiveWithWeights returns the trip's active bids joined with their
	// senders' latest package weights, ordered by sender id.
	ActiveWithWeights(ctx context.Context, tripID int64) ([]models.WeightedBid, error)
	Create(ctx context.Context, bid *models.Bid) error
	UpdateAmount(ctx context.Context, id, amount int64) error
	UpdateStatus(ctx context.Context, id int64, status models.BidStatus) error
	ListByTrip(ctx context.Context, tripID int64) ([]models.TripBid, error)
	ListBySender(ctx context.Context, senderID int64) ([]models.SenderBid, error)
}
