package postgres

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/honeynil/ParcelBidService/internal/infrastructure/observability"
	"github.com/honeynil/ParcelBidService/internal/repository"
	pkgerrors "github.com/honeynil/ParcelBidService/pkg/errors"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "postgres-repository"

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Store is the postgres implementation of repository.Store.
type Store struct {
	db   *sql.DB
	q    dbtx
	inTx bool
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db, q: db}
}

func (s *Store) Trips() repository.TripRepository {
	return &PostgresTripRepository{db: s.q}
}

func (s *Store) Packages() repository.PackageRepository {
	return &PostgresPackageRepository{db: s.q}
}

func (s *Store) Users() repository.UserRepository {
	return &PostgresUserRepository{db: s.q}
}

func (s *Store) Bids() repository.BidRepository {
	return &PostgresBidRepository{db: s.q}
}

func (s *Store) Wallet() repository.WalletRepository {
	return &PostgresTransactionRepository{db: s.q}
}

// RunInTx begins a transaction at the server default isolation (read
// committed); repositories take explicit row locks where they mutate. A call
// on a Store that is already inside a transaction joins it.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, uow repository.UnitOfWork) error) (err error) {
	if s.inTx {
		return fn(ctx, s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("failed to begin transaction", "error", err)
		return fmt.Errorf("failed to begin transaction: %w", mapError(err))
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err = fn(ctx, &Store{db: s.db, q: tx, inTx: true}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.Error("rollback failed", "error", rbErr, "cause", err)
		}
		return err
	}

	if err = tx.Commit(); err != nil {
		slog.Error("failed to commit transaction", "error", err)
		return fmt.Errorf("failed to commit transaction: %w", mapError(err))
	}
	return nil
}

// instrument opens a span and returns the function that records the call's
// outcome in it and in the repository metrics.
func instrument(ctx context.Context, method string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, method, trace.WithAttributes(attrs...))
	start := time.Now()
	return ctx, func(err error) {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues(method, status).Inc()
		observability.RepositoryDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
		span.End()
	}
}

// Postgres error codes the auction reacts to.
const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
)

// mapError turns lock and concurrency failures into ErrConcurrentUpdate and
// leaves everything else untouched.
func mapError(err error) error {
	var pqErr *pq.Error
	if !stderrors.As(err, &pqErr) {
		return err
	}
	switch pqErr.Code {
	case codeUniqueViolation, codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable:
		return fmt.Errorf("%w (%s)", pkgerrors.ErrConcurrentUpdate, pqErr.Code.Name())
	}
	return err
}
