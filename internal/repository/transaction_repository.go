package repository

import (
	"context"

	"github.com/honeynil/ParcelBidService/internal/models"
)

// WalletRepository mutates users.connects and the transactions ledger
// together. Each call writes exactly one ledger row per balance change.
type WalletRepository interface {
	Balance(ctx context.Context, userID int64) (int64, error)
	// Debit fails with ErrInsufficientBalance without touching anything when
	// the balance is lower than amount.
	Debit(ctx context.Context, userID, amount int64, description string) (int64, error)
	Credit(ctx context.Context, userID, amount int64, description string) (int64, error)
	History(ctx context.Context, userID int64, limit uint64) ([]models.Transaction, error)
	LedgerSum(ctx context.Context, userID int64) (int64, error)
}
