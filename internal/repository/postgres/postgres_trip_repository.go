package postgres

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"

	"github.com/honeynil/ParcelBidService/internal/models"
	pkgerrors "github.com/honeynil/ParcelBidService/pkg/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

// latestEntryOrder is the one rule deciding which package entry of a sender
// is authoritative. Every weight lookup goes through it.
const latestEntryOrder = `created_at DESC, id DESC`

// latestWeightsSQL yields one (user_id, weight) row per sender.
const latestWeightsSQL = `
	SELECT DISTINCT ON (user_id) user_id, weight
	FROM send_receive_entries
	ORDER BY user_id, ` + latestEntryOrder

const tripColumns = `id, user_id, departure_airport, arrival_airport, baggage_space_available, status`

type PostgresTripRepository struct {
	db dbtx
}

func NewPostgresTripRepository(db *sql.DB) *PostgresTripRepository {
	return &PostgresTripRepository{db: db}
}

func (r *PostgresTripRepository) GetByID(ctx context.Context, id int64) (trip *models.Trip, err error) {
	ctx, done := instrument(ctx, "GetTripByID", attribute.Int64("trip_id", id))
	defer func() { done(err) }()

	return r.get(ctx, `SELECT `+tripColumns+` FROM travels WHERE id = $1`, id)
}

func (r *PostgresTripRepository) GetForUpdate(ctx context.Context, id int64) (trip *models.Trip, err error) {
	ctx, done := instrument(ctx, "LockTrip", attribute.Int64("trip_id", id))
	defer func() { done(err) }()

	return r.get(ctx, `SELECT `+tripColumns+` FROM travels WHERE id = $1 FOR UPDATE`, id)
}

func (r *PostgresTripRepository) get(ctx context.Context, query string, id int64) (*models.Trip, error) {
	var trip models.Trip
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&trip.ID,
		&trip.TravelerID,
		&trip.DepartureAirport,
		&trip.ArrivalAirport,
		&trip.Capacity,
		&trip.Status,
	)
	if stderrors.Is(err, sql.ErrNoRows) {
		slog.Warn("trip not found", "trip_id", id)
		return nil, pkgerrors.ErrTripNotFound
	}
	if err != nil {
		slog.Error("failed to get trip", "trip_id", id, "error", err)
		return nil, fmt.Errorf("failed to get trip: %w", mapError(err))
	}
	return &trip, nil
}

type PostgresPackageRepository struct {
	db dbtx
}

func NewPostgresPackageRepository(db *sql.DB) *PostgresPackageRepository {
	return &PostgresPackageRepository{db: db}
}

func (r *PostgresPackageRepository) LatestWeight(ctx context.Context, userID int64) (weight decimal.Decimal, err error) {
	ctx, done := instrument(ctx, "LatestPackageWeight", attribute.Int64("user_id", userID))
	defer func() { done(err) }()

	query := `SELECT weight FROM send_receive_entries WHERE user_id = $1 ORDER BY ` + latestEntryOrder + ` LIMIT 1`
	var w decimal.NullDecimal
	err = r.db.QueryRowContext(ctx, query, userID).Scan(&w)
	if stderrors.Is(err, sql.ErrNoRows) {
		slog.Warn("no package entry", "user_id", userID)
		return decimal.Zero, pkgerrors.ErrNoPackageEntry
	}
	if err != nil {
		slog.Error("failed to get package weight", "user_id", userID, "error", err)
		return decimal.Zero, fmt.Errorf("failed to get package weight: %w", mapError(err))
	}
	if !w.Valid {
		return decimal.Zero, pkgerrors.ErrInvalidWeight
	}
	return w.Decimal, nil
}
