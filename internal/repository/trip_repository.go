package repository

import (
	"context"

	"github.com/honeynil/ParcelBidService/internal/models"
	"github.com/shopspring/decimal"
)

// TripRepository reads trips owned by the trip service.
type TripRepository interface {
	GetByID(ctx context.Context, id int64) (*models.Trip, error)
	// GetForUpdate locks the trip row. Every mutating auction operation takes
	// this lock first, which serializes work per trip.
	GetForUpdate(ctx context.Context, id int64) (*models.Trip, error)
}

// PackageRepository reads sender package entries. Implementations resolve the
// latest entry per sender by created_at, then id, and nothing else.
type PackageRepository interface {
	LatestWeight(ctx context.Context, userID int64) (decimal.Decimal, error)
}
