package service

import (
	"testing"

	"github.com/honeynil/ParcelBidService/internal/models"
	pkgerrors "github.com/honeynil/ParcelBidService/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func weighted(id int64, weight string) models.WeightedBid {
	return models.WeightedBid{
		Bid:    models.Bid{ID: id, SenderID: id * 10, Status: models.BidActive},
		Weight: decimal.RequireFromString(weight),
	}
}

func TestTotalCapacity(t *testing.T) {
	tests := []struct {
		name     string
		trip     *models.Trip
		expected string
		wantErr  bool
	}{
		{"positive", &models.Trip{Capacity: kg("12.5")}, "12.5", false},
		{"missing", &models.Trip{}, "", true},
		{"zero", &models.Trip{Capacity: kg("0")}, "", true},
		{"negative", &models.Trip{Capacity: kg("-3")}, "", true},
		{"nil trip", nil, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			total, err := TotalCapacity(tt.trip)
			if tt.wantErr {
				assert.ErrorIs(t, err, pkgerrors.ErrInvalidCapacity)
				assert.ErrorIs(t, err, pkgerrors.ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.True(t, total.Equal(decimal.RequireFromString(tt.expected)))
		})
	}
}

func TestRemainingCapacity(t *testing.T) {
	total := decimal.NewFromInt(10)

	t.Run("nothing accepted", func(t *testing.T) {
		assert.True(t, RemainingCapacity(total, nil).Equal(total))
	})

	t.Run("subtracts accepted weights", func(t *testing.T) {
		got := RemainingCapacity(total, []models.WeightedBid{weighted(1, "6"), weighted(2, "1.5")})
		assert.Equal(t, "2.5", got.String())
	})

	t.Run("floors at zero", func(t *testing.T) {
		got := RemainingCapacity(total, []models.WeightedBid{weighted(1, "7"), weighted(2, "7")})
		assert.True(t, got.IsZero())
	})
}

func TestOverweight(t *testing.T) {
	bids := []models.WeightedBid{weighted(1, "6"), weighted(2, "5"), weighted(3, "3"), weighted(4, "4")}

	got := Overweight(bids, decimal.NewFromInt(4), 1)

	require.Len(t, got, 1)
	assert.Equal(t, int64(2), got[0].ID)
}
