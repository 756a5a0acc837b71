package service

import (
	"context"
	"fmt"

	"github.com/honeynil/ParcelBidService/internal/models"
	"github.com/honeynil/ParcelBidService/internal/repository"
	pkgerrors "github.com/honeynil/ParcelBidService/pkg/errors"
	"github.com/shopspring/decimal"
)

// TotalCapacity returns the trip's declared capacity, which must be a
// positive number.
func TotalCapacity(trip *models.Trip) (decimal.Decimal, error) {
	if trip == nil || !trip.Capacity.Valid || !trip.Capacity.Decimal.IsPositive() {
		return decimal.Zero, pkgerrors.ErrInvalidCapacity
	}
	return trip.Capacity.Decimal, nil
}

// RemainingCapacity is the total capacity minus the weights of the accepted
// bids, floored at zero.
func RemainingCapacity(total decimal.Decimal, accepted []models.WeightedBid) decimal.Decimal {
	used := decimal.Zero
	for _, b := range accepted {
		used = used.Add(b.Weight)
	}
	remaining := total.Sub(used)
	if remaining.IsNegative() {
		return decimal.Zero
	}
	return remaining
}

// Overweight picks the bids whose package no longer fits in remaining,
// skipping the bid with id except.
func Overweight(bids []models.WeightedBid, remaining decimal.Decimal, except int64) []models.WeightedBid {
	var out []models.WeightedBid
	for _, b := range bids {
		if b.ID == except {
			continue
		}
		if b.Weight.GreaterThan(remaining) {
			out = append(out, b)
		}
	}
	return out
}

// senderWeight resolves the sender's latest package weight and rejects
// non-positive values.
func senderWeight(ctx context.Context, packages repository.PackageRepository, senderID int64) (decimal.Decimal, error) {
	w, err := packages.LatestWeight(ctx, senderID)
	if err != nil {
		return decimal.Zero, err
	}
	if !w.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s kg", pkgerrors.ErrInvalidWeight, w.String())
	}
	return w, nil
}

// remainingForTrip computes the trip's remaining capacity from its locked
// accepted set. The caller must hold the trip lock.
func remainingForTrip(ctx context.Context, uow repository.UnitOfWork, trip *models.Trip) (decimal.Decimal, error) {
	total, err := TotalCapacity(trip)
	if err != nil {
		return decimal.Zero, err
	}
	accepted, err := uow.Bids().LockAccepted(ctx, trip.ID)
	if err != nil {
		return decimal.Zero, err
	}
	return RemainingCapacity(total, accepted), nil
}
