package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/honeynil/ParcelBidService/internal/models"
	pkgerrors "github.com/honeynil/ParcelBidService/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
)

type PostgresUserRepository struct {
	db dbtx
}

func NewPostgresUserRepository(db *sql.DB) *PostgresUserRepository {
	return &PostgresUserRepository{db: db}
}

func (r *PostgresUserRepository) GetByID(ctx context.Context, id int64) (user *models.User, err error) {
	ctx, done := instrument(ctx, "GetUserByID", attribute.Int64("user_id", id))
	defer func() { done(err) }()

	query := `SELECT id, username, COALESCE(connects, 0), created_at FROM users WHERE id = $1`
	var u models.User
	err = r.db.QueryRowContext(ctx, query, id).Scan(&u.ID, &u.Username, &u.Connects, &u.CreatedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, pkgerrors.ErrUserNotFound
	case err != nil:
		return nil, fmt.Errorf("failed to get user by id: %w", mapError(err))
	}
	return &u, nil
}
