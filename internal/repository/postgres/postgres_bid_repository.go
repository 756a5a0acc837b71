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
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

const bidColumns = `id, trip_id, sender_id, amount, status, created_at, updated_at`

const weightedBidColumns = `b.id, b.trip_id, b.sender_id, b.amount, b.status, b.created_at, b.updated_at, latest.weight`

type PostgresBidRepository struct {
	db dbtx
}

func NewPostgresBidRepository(db *sql.DB) *PostgresBidRepository {
	return &PostgresBidRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBid(row rowScanner, dest ...any) (models.Bid, error) {
	var b models.Bid
	fields := append([]any{&b.ID, &b.TripID, &b.SenderID, &b.Amount, &b.Status, &b.CreatedAt, &b.UpdatedAt}, dest...)
	err := row.Scan(fields...)
	return b, err
}

func (r *PostgresBidRepository) GetByID(ctx context.Context, id int64) (bid *models.Bid, err error) {
	ctx, done := instrument(ctx, "GetBidByID", attribute.Int64("bid_id", id))
	defer func() { done(err) }()

	return r.get(ctx, `SELECT `+bidColumns+` FROM bids WHERE id = $1`, id)
}

func (r *PostgresBidRepository) GetForUpdate(ctx context.Context, id int64) (bid *models.Bid, err error) {
	ctx, done := instrument(ctx, "LockBid", attribute.Int64("bid_id", id))
	defer func() { done(err) }()

	return r.get(ctx, `SELECT `+bidColumns+` FROM bids WHERE id = $1 FOR UPDATE`, id)
}

func (r *PostgresBidRepository) get(ctx context.Context, query string, id int64) (*models.Bid, error) {
	b, err := scanBid(r.db.QueryRowContext(ctx, query, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		slog.Warn("bid not found", "bid_id", id)
		return nil, pkgerrors.ErrBidNotFound
	}
	if err != nil {
		slog.Error("failed to get bid", "bid_id", id, "error", err)
		return nil, fmt.Errorf("failed to get bid: %w", mapError(err))
	}
	return &b, nil
}

func (r *PostgresBidRepository) LockAccepted(ctx context.Context, tripID int64) (bids []models.WeightedBid, err error) {
	ctx, done := instrument(ctx, "LockAcceptedBids", attribute.Int64("trip_id", tripID))
	defer func() { done(err) }()

	// Accepted bids always had a package entry when they were accepted; the
	// outer join keeps the lock on a row even if that ever stops being true.
	query := `
		SELECT ` + weightedBidColumns + `
		FROM bids b
		LEFT JOIN (` + latestWeightsSQL + `) AS latest ON latest.user_id = b.sender_id
		WHERE b.trip_id = $1 AND b.status = 'accepted'
		ORDER BY b.id
		FOR UPDATE OF b`
	return r.weighted(ctx, query, tripID)
}

func (r *PostgresBidRepository) ActiveWithWeights(ctx context.Context, tripID int64) (bids []models.WeightedBid, err error) {
	ctx, done := instrument(ctx, "ActiveBidsWithWeights", attribute.Int64("trip_id", tripID))
	defer func() { done(err) }()

	query := `
		SELECT ` + weightedBidColumns + `
		FROM bids b
		JOIN (` + latestWeightsSQL + `) AS latest ON latest.user_id = b.sender_id
		WHERE b.trip_id = $1 AND b.status = 'active'
		ORDER BY b.sender_id
		FOR UPDATE OF b`
	return r.weighted(ctx, query, tripID)
}

func (r *PostgresBidRepository) weighted(ctx context.Context, query string, tripID int64) ([]models.WeightedBid, error) {
	rows, err := r.db.QueryContext(ctx, query, tripID)
	if err != nil {
		slog.Error("failed to query bids with weights", "trip_id", tripID, "error", err)
		return nil, fmt.Errorf("failed to query bids with weights: %w", mapError(err))
	}
	defer rows.Close()

	var out []models.WeightedBid
	for rows.Next() {
		var w decimal.NullDecimal
		b, err := scanBid(rows, &w)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bid: %w", err)
		}
		if !w.Valid {
			slog.Warn("bid sender has no package entry", "bid_id", b.ID, "sender_id", b.SenderID)
		}
		out = append(out, models.WeightedBid{Bid: b, Weight: w.Decimal})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate bids: %w", mapError(err))
	}
	return out, nil
}

func (r *PostgresBidRepository) ListActive(ctx context.Context, tripID int64) (bids []models.Bid, err error) {
	ctx, done := instrument(ctx, "ListActiveBids", attribute.Int64("trip_id", tripID))
	defer func() { done(err) }()

	query := `SELECT ` + bidColumns + ` FROM bids WHERE trip_id = $1 AND status = 'active' ORDER BY amount DESC, id ASC`
	rows, err := r.db.QueryContext(ctx, query, tripID)
	if err != nil {
		slog.Error("failed to list active bids", "trip_id", tripID, "error", err)
		return nil, fmt.Errorf("failed to list active bids: %w", mapError(err))
	}
	defer rows.Close()

	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bid: %w", err)
		}
		bids = append(bids, b)
	}
	return bids, rows.Err()
}

func (r *PostgresBidRepository) Create(ctx context.Context, bid *models.Bid) (err error) {
	ctx, done := instrument(ctx, "CreateBid")
	defer func() { done(err) }()

	if bid == nil {
		return pkgerrors.ErrInvalidInput
	}
	if bid.Amount <= 0 {
		return pkgerrors.ErrInvalidAmount
	}
	if bid.Status == "" {
		bid.Status = models.BidActive
	}

	query := `INSERT INTO bids (trip_id, sender_id, amount, status) VALUES ($1, $2, $3, $4) RETURNING id, created_at, updated_at`
	err = r.db.QueryRowContext(ctx, query, bid.TripID, bid.SenderID, bid.Amount, bid.Status).
		Scan(&bid.ID, &bid.CreatedAt, &bid.UpdatedAt)
	if err != nil {
		slog.Error("failed to create bid", "trip_id", bid.TripID, "sender_id", bid.SenderID, "error", err)
		return fmt.Errorf("failed to create bid: %w", mapError(err))
	}

	slog.Info("bid created", "bid_id", bid.ID, "trip_id", bid.TripID, "sender_id", bid.SenderID, "amount", bid.Amount)
	return nil
}

func (r *PostgresBidRepository) UpdateAmount(ctx context.Context, id, amount int64) (err error) {
	ctx, done := instrument(ctx, "UpdateBidAmount", attribute.Int64("bid_id", id))
	defer func() { done(err) }()

	if amount <= 0 {
		return pkgerrors.ErrInvalidAmount
	}
	return r.exec(ctx, `UPDATE bids SET amount = $1, updated_at = NOW() WHERE id = $2`, amount, id)
}

func (r *PostgresBidRepository) UpdateStatus(ctx context.Context, id int64, status models.BidStatus) (err error) {
	ctx, done := instrument(ctx, "UpdateBidStatus", attribute.Int64("bid_id", id), attribute.String("status", string(status)))
	defer func() { done(err) }()

	switch status {
	case models.BidActive, models.BidAccepted, models.BidRejected:
	default:
		return fmt.Errorf("%w: unknown bid status %q", pkgerrors.ErrInvalidInput, status)
	}
	return r.exec(ctx, `UPDATE bids SET status = $1, updated_at = NOW() WHERE id = $2`, status, id)
}

func (r *PostgresBidRepository) exec(ctx context.Context, query string, value any, id int64) error {
	res, err := r.db.ExecContext(ctx, query, value, id)
	if err != nil {
		slog.Error("failed to update bid", "bid_id", id, "error", err)
		return fmt.Errorf("failed to update bid: %w", mapError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update bid: %w", err)
	}
	if n == 0 {
		return pkgerrors.ErrBidNotFound
	}
	return nil
}

func (r *PostgresBidRepository) ListByTrip(ctx context.Context, tripID int64) (bids []models.TripBid, err error) {
	ctx, done := instrument(ctx, "ListBidsByTrip", attribute.Int64("trip_id", tripID))
	defer func() { done(err) }()

	query, args, err := psql.
		Select("b.id", "b.trip_id", "b.sender_id", "b.amount", "b.status", "b.created_at", "b.updated_at", "u.username").
		From("bids b").
		Join("users u ON u.id = b.sender_id").
		Where(sq.Eq{"b.trip_id": tripID}).
		OrderBy("b.amount DESC", "b.id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		slog.Error("failed to list trip bids", "trip_id", tripID, "error", err)
		return nil, fmt.Errorf("failed to list trip bids: %w", mapError(err))
	}
	defer rows.Close()

	bids = []models.TripBid{}
	for rows.Next() {
		var tb models.TripBid
		tb.Bid, err = scanBid(rows, &tb.Username)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bid: %w", err)
		}
		bids = append(bids, tb)
	}
	return bids, rows.Err()
}

func (r *PostgresBidRepository) ListBySender(ctx context.Context, senderID int64) (bids []models.SenderBid, err error) {
	ctx, done := instrument(ctx, "ListBidsBySender", attribute.Int64("sender_id", senderID))
	defer func() { done(err) }()

	query, args, err := psql.
		Select("b.id", "b.trip_id", "b.sender_id", "b.amount", "b.status", "b.created_at", "b.updated_at",
			"t.departure_airport", "t.arrival_airport").
		From("bids b").
		Join("travels t ON t.id = b.trip_id").
		Where(sq.Eq{"b.sender_id": senderID}).
		OrderBy("b.created_at DESC", "b.id DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		slog.Error("failed to list sender bids", "sender_id", senderID, "error", err)
		return nil, fmt.Errorf("failed to list sender bids: %w", mapError(err))
	}
	defer rows.Close()

	bids = []models.SenderBid{}
	for rows.Next() {
		var sb models.SenderBid
		sb.Bid, err = scanBid(rows, &sb.DepartureAirport, &sb.ArrivalAirport)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bid: %w", err)
		}
		bids = append(bids, sb)
	}
	return bids, rows.Err()
}
