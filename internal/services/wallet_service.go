package service

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	stderrors "errors"

	"github.com/honeynil/ParcelBidService/internal/infrastructure/observability"
	"github.com/honeynil/ParcelBidService/internal/infrastructure/redis"
	"github.com/honeynil/ParcelBidService/internal/models"
	"github.com/honeynil/ParcelBidService/internal/repository"
	pkgerrors "github.com/honeynil/ParcelBidService/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	walletTracer = "wallet-service"

	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 100
)

func balanceKey(userID int64) string {
	return fmt.Sprintf("user:%d:balance", userID)
}

// balanceVersionKey counts committed ledger changes of a user. Cached
// balances carry the version they were read under and are ignored once it
// moves on.
func balanceVersionKey(userID int64) string {
	return fmt.Sprintf("user:%d:balance:version", userID)
}

// invalidateBalances bumps the ledger version and drops cached balances after
// a committed ledger change.
func invalidateBalances(ctx context.Context, redisClient redis.RedisClient, userIDs ...int64) {
	if redisClient == nil || len(userIDs) == 0 {
		return
	}
	keys := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		if _, err := redisClient.Incr(ctx, balanceVersionKey(id)); err != nil {
			slog.Error("failed to bump balance version", "user_id", id, "error", err)
		}
		keys = append(keys, balanceKey(id))
	}
	if err := redisClient.Del(ctx, keys...); err != nil {
		slog.Error("failed to invalidate cached balance", "keys", keys, "error", err)
	}
}

type WalletService struct {
	store       repository.Store
	redisClient redis.RedisClient
	balanceTTL  time.Duration
}

// NewWalletService returns the ledger service. A nil redisClient or a
// non-positive balanceTTL disables the balance cache.
func NewWalletService(store repository.Store, redisClient redis.RedisClient, balanceTTL time.Duration) *WalletService {
	return &WalletService{
		store:       store,
		redisClient: redisClient,
		balanceTTL:  balanceTTL,
	}
}

func (s *WalletService) cacheEnabled() bool {
	return s.redisClient != nil && s.balanceTTL > 0
}

func (s *WalletService) GetBalance(ctx context.Context, userID int64) (int64, error) {
	ctx, span := otel.Tracer(walletTracer).Start(ctx, "GetBalance")
	defer span.End()
	span.SetAttributes(attribute.Int64("user_id", userID))

	if userID <= 0 {
		span.SetStatus(codes.Error, "invalid user id")
		return 0, pkgerrors.ErrInvalidInput
	}

	// The version is read before the store so a fill racing a commit is
	// tagged with the version that commit supersedes.
	var (
		version   int64
		versionOK bool
	)
	if s.cacheEnabled() {
		var err error
		version, err = s.balanceVersion(ctx, userID)
		if err != nil {
			slog.Error("failed to get balance version from Redis", "user_id", userID, "error", err)
			span.RecordError(err)
		} else {
			versionOK = true
			if balance, ok := s.cachedBalance(ctx, userID, version); ok {
				return balance, nil
			}
		}
	}

	balance, err := s.store.Wallet().Balance(ctx, userID)
	if err != nil {
		fail(span, err, "failed to get balance")
		logRejection("failed to get balance", err, "user_id", userID)
		return 0, err
	}

	if versionOK {
		value := fmt.Sprintf("%d:%d", version, balance)
		if err := s.redisClient.Set(ctx, balanceKey(userID), value, s.balanceTTL); err != nil {
			slog.Error("failed to cache balance", "user_id", userID, "error", err)
			span.RecordError(err)
		}
	}
	return balance, nil
}

func (s *WalletService) balanceVersion(ctx context.Context, userID int64) (int64, error) {
	raw, err := s.redisClient.Get(ctx, balanceVersionKey(userID))
	if stderrors.Is(err, redis.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(raw, 10, 64)
}

// cachedBalance returns the cached balance if it was stored under version.
func (s *WalletService) cachedBalance(ctx context.Context, userID, version int64) (int64, bool) {
	cached, err := s.redisClient.Get(ctx, balanceKey(userID))
	if err != nil {
		if !stderrors.Is(err, redis.ErrKeyNotFound) {
			slog.Error("failed to get balance from Redis", "user_id", userID, "error", err)
		}
		return 0, false
	}
	rawVersion, rawBalance, found := strings.Cut(cached, ":")
	cachedVersion, verErr := strconv.ParseInt(rawVersion, 10, 64)
	balance, balErr := strconv.ParseInt(rawBalance, 10, 64)
	if !found || verErr != nil || balErr != nil {
		slog.Warn("discarding malformed cached balance", "user_id", userID, "value", cached)
		return 0, false
	}
	if cachedVersion != version {
		slog.Debug("discarding stale cached balance", "user_id", userID, "cached_version", cachedVersion, "version", version)
		return 0, false
	}
	return balance, true
}

// ListTransactions returns the user's ledger newest first. A non-positive
// limit means DefaultHistoryLimit; larger ones are capped at MaxHistoryLimit.
func (s *WalletService) ListTransactions(ctx context.Context, userID int64, limit int) ([]models.Transaction, error) {
	ctx, span := otel.Tracer(walletTracer).Start(ctx, "ListTransactions")
	defer span.End()

	if userID <= 0 {
		span.SetStatus(codes.Error, "invalid user id")
		return nil, pkgerrors.ErrInvalidInput
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	if _, err := s.store.Users().GetByID(ctx, userID); err != nil {
		fail(span, err, "user lookup failed")
		return nil, err
	}
	txs, err := s.store.Wallet().History(ctx, userID, uint64(limit))
	if err != nil {
		fail(span, err, "failed to list transactions")
		slog.Error("failed to list transactions", "user_id", userID, "error", err)
		return nil, err
	}
	return txs, nil
}

// AddConnects credits purchased connects.
func (s *WalletService) AddConnects(ctx context.Context, userID, amount int64) (int64, error) {
	return s.EarnConnects(ctx, userID, amount, fmt.Sprintf("Purchased %d Connects", amount))
}

func (s *WalletService) EarnConnects(ctx context.Context, userID, amount int64, description string) (int64, error) {
	return s.apply(ctx, "EarnConnects", models.TypeCredit, userID, amount, description)
}

func (s *WalletService) UseConnects(ctx context.Context, userID, amount int64, description string) (int64, error) {
	return s.apply(ctx, "UseConnects", models.TypeDebit, userID, amount, description)
}

func (s *WalletService) apply(ctx context.Context, op string, typ models.TransactionType, userID, amount int64, description string) (int64, error) {
	ctx, span := otel.Tracer(walletTracer).Start(ctx, op)
	defer span.End()
	span.SetAttributes(attribute.Int64("user_id", userID), attribute.Int64("amount", amount))

	if userID <= 0 || description == "" {
		span.SetStatus(codes.Error, "invalid input")
		return 0, pkgerrors.ErrInvalidInput
	}
	if amount <= 0 {
		span.SetStatus(codes.Error, "invalid amount")
		return 0, pkgerrors.ErrInvalidAmount
	}

	var balance int64
	err := s.store.RunInTx(ctx, func(ctx context.Context, uow repository.UnitOfWork) error {
		var err error
		if typ == models.TypeDebit {
			balance, err = uow.Wallet().Debit(ctx, userID, amount, description)
		} else {
			balance, err = uow.Wallet().Credit(ctx, userID, amount, description)
		}
		return err
	})
	if err != nil {
		fail(span, err, "wallet operation failed")
		logRejection("wallet operation failed", err, "op", op, "user_id", userID, "amount", amount)
		return 0, err
	}

	observability.WalletOperations.WithLabelValues(string(typ)).Inc()
	invalidateBalances(ctx, s.redisClient, userID)
	slog.Info("wallet updated", "op", op, "user_id", userID, "amount", amount, "balance", balance)
	return balance, nil
}

// VerifyBalance recomputes the ledger sum and compares it with the stored
// balance.
func (s *WalletService) VerifyBalance(ctx context.Context, userID int64) (int64, error) {
	ctx, span := otel.Tracer(walletTracer).Start(ctx, "VerifyBalance")
	defer span.End()

	if userID <= 0 {
		span.SetStatus(codes.Error, "invalid user id")
		return 0, pkgerrors.ErrInvalidInput
	}

	var balance, sum int64
	err := s.store.RunInTx(ctx, func(ctx context.Context, uow repository.UnitOfWork) error {
		var err error
		if balance, err = uow.Wallet().Balance(ctx, userID); err != nil {
			return err
		}
		sum, err = uow.Wallet().LedgerSum(ctx, userID)
		return err
	})
	if err != nil {
		fail(span, err, "balance verification failed")
		logRejection("failed to verify balance", err, "user_id", userID)
		return 0, err
	}
	if balance != sum {
		err := fmt.Errorf("%w: user %d balance %d, ledger %d", pkgerrors.ErrLedgerDrift, userID, balance, sum)
		fail(span, err, "ledger drift")
		slog.Error("wallet balance diverged from ledger", "user_id", userID, "balance", balance, "ledger", sum)
		return 0, err
	}
	return balance, nil
}
