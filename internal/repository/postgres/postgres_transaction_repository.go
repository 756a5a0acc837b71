package postgres

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"

	sq "github.com/Masterminds/squirrel"
	"github.com/honeynil/ParcelBidService/internal/models"
	pkgerrors "github.com/honeynil/ParcelBidService/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
)

// PostgresTransactionRepository keeps users.connects and the transactions
// ledger in step. Callers run it inside a unit of work so the balance change,
// its ledger row and the bid change they belong to commit together.
type PostgresTransactionRepository struct {
	db dbtx
}

func NewPostgresTransactionRepository(db *sql.DB) *PostgresTransactionRepository {
	return &PostgresTransactionRepository{db: db}
}

func (r *PostgresTransactionRepository) Balance(ctx context.Context, userID int64) (balance int64, err error) {
	ctx, done := instrument(ctx, "GetBalance", attribute.Int64("user_id", userID))
	defer func() { done(err) }()

	err = r.db.QueryRowContext(ctx, `SELECT COALESCE(connects, 0) FROM users WHERE id = $1`, userID).Scan(&balance)
	if stderrors.Is(err, sql.ErrNoRows) {
		return 0, pkgerrors.ErrUserNotFound
	}
	if err != nil {
		slog.Error("failed to get balance", "method", "Balance", "user_id", userID, "error", err)
		return 0, fmt.Errorf("failed to get balance: %w", mapError(err))
	}
	return balance, nil
}

func (r *PostgresTransactionRepository) Debit(ctx context.Context, userID, amount int64, description string) (balance int64, err error) {
	ctx, done := instrument(ctx, "Debit", attribute.Int64("user_id", userID), attribute.Int64("amount", amount))
	defer func() { done(err) }()

	if amount <= 0 {
		return 0, pkgerrors.ErrInvalidAmount
	}

	// The guard makes check and decrement one statement.
	query := `
		UPDATE users
		SET connects = connects - $1
		WHERE id = $2
		AND connects >= $1
		RETURNING connects`
	err = r.db.QueryRowContext(ctx, query, amount, userID).Scan(&balance)
	if stderrors.Is(err, sql.ErrNoRows) {
		return 0, r.debitFailure(ctx, userID, amount)
	}
	if err != nil {
		slog.Error("failed to debit wallet", "method", "Debit", "user_id", userID, "error", err)
		return 0, fmt.Errorf("failed to debit wallet: %w", mapError(err))
	}

	if err = r.record(ctx, userID, amount, models.TypeDebit, description); err != nil {
		return 0, err
	}
	slog.Info("wallet debited", "method", "Debit", "user_id", userID, "amount", amount, "balance", balance)
	return balance, nil
}

// debitFailure tells a missing user apart from a short balance.
func (r *PostgresTransactionRepository) debitFailure(ctx context.Context, userID, amount int64) error {
	var current sql.NullInt64
	err := r.db.QueryRowContext(ctx, `SELECT connects FROM users WHERE id = $1`, userID).Scan(&current)
	if stderrors.Is(err, sql.ErrNoRows) {
		return pkgerrors.ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read balance: %w", mapError(err))
	}
	slog.Warn("insufficient connects", "user_id", userID, "balance", current.Int64, "required", amount)
	return fmt.Errorf("%w: balance %d, required %d", pkgerrors.ErrInsufficientBalance, current.Int64, amount)
}

func (r *PostgresTransactionRepository) Credit(ctx context.Context, userID, amount int64, description string) (balance int64, err error) {
	ctx, done := instrument(ctx, "Credit", attribute.Int64("user_id", userID), attribute.Int64("amount", amount))
	defer func() { done(err) }()

	if amount <= 0 {
		return 0, pkgerrors.ErrInvalidAmount
	}

	query := `UPDATE users SET connects = COALESCE(connects, 0) + $1 WHERE id = $2 RETURNING connects`
	err = r.db.QueryRowContext(ctx, query, amount, userID).Scan(&balance)
	if stderrors.Is(err, sql.ErrNoRows) {
		return 0, pkgerrors.ErrUserNotFound
	}
	if err != nil {
		slog.Error("failed to credit wallet", "method", "Credit", "user_id", userID, "error", err)
		return 0, fmt.Errorf("failed to credit wallet: %w", mapError(err))
	}

	if err = r.record(ctx, userID, amount, models.TypeCredit, description); err != nil {
		return 0, err
	}
	slog.Info("wallet credited", "method", "Credit", "user_id", userID, "amount", amount, "balance", balance)
	return balance, nil
}

func (r *PostgresTransactionRepository) record(ctx context.Context, userID, amount int64, typ models.TransactionType, description string) error {
	query := `INSERT INTO transactions (user_id, description, amount, type) VALUES ($1, $2, $3, $4)`
	if _, err := r.db.ExecContext(ctx, query, userID, description, amount, typ); err != nil {
		slog.Error("failed to create transaction", "user_id", userID, "type", typ, "error", err)
		return fmt.Errorf("failed to create transaction: %w", mapError(err))
	}
	return nil
}

func (r *PostgresTransactionRepository) History(ctx context.Context, userID int64, limit uint64) (txs []models.Transaction, err error) {
	ctx, done := instrument(ctx, "GetTransactionHistory", attribute.Int64("user_id", userID))
	defer func() { done(err) }()

	builder := psql.
		Select("id", "user_id", "description", "amount", "type", "created_at").
		From("transactions").
		Where(sq.Eq{"user_id": userID}).
		OrderBy("created_at DESC", "id DESC")
	if limit > 0 {
		builder = builder.Limit(limit)
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		slog.Error("failed to get transaction history", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to get transaction history: %w", mapError(err))
	}
	defer rows.Close()

	txs = []models.Transaction{}
	for rows.Next() {
		var tx models.Transaction
		if err = rows.Scan(&tx.ID, &tx.UserID, &tx.Description, &tx.Amount, &tx.Type, &tx.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

func (r *PostgresTransactionRepository) LedgerSum(ctx context.Context, userID int64) (sum int64, err error) {
	ctx, done := instrument(ctx, "LedgerSum", attribute.Int64("user_id", userID))
	defer func() { done(err) }()

	query := `
		SELECT COALESCE(SUM(
			CASE
				WHEN type = 'credit' THEN amount
				WHEN type = 'debit' THEN -amount
				ELSE 0
			END
		), 0)
		FROM transactions
		WHERE user_id = $1`
	if err = r.db.QueryRowContext(ctx, query, userID).Scan(&sum); err != nil {
		slog.Error("failed to sum ledger", "user_id", userID, "error", err)
		return 0, fmt.Errorf("failed to sum ledger: %w", mapError(err))
	}
	return sum, nil
}
