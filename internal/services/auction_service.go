package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	stderrors "errors"

	"github.com/honeynil/ParcelBidService/internal/infrastructure/kafka"
	"github.com/honeynil/ParcelBidService/internal/infrastructure/observability"
	"github.com/honeynil/ParcelBidService/internal/infrastructure/redis"
	"github.com/honeynil/ParcelBidService/internal/models"
	"github.com/honeynil/ParcelBidService/internal/repository"
	pkgerrors "github.com/honeynil/ParcelBidService/pkg/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const auctionTracer = "auction-service"

// PlaceBidRequest places a new bid or moves the sender's active bid on a trip.
// RequestID is optional; when set, a replay of the same id is refused.
type PlaceBidRequest struct {
	TripID    int64
	SenderID  int64
	Amount    int64
	RequestID string
}

type AuctionOptions struct {
	EventsTopic    string
	IdempotencyTTL time.Duration
}

type AuctionService struct {
	store          repository.Store
	redisClient    redis.RedisClient
	producer       kafka.KafkaProducer
	eventsTopic    string
	idempotencyTTL time.Duration
}

// NewAuctionService wires the bid store, capacity calculator and wallet
// ledger. redisClient and producer may be nil, which disables request
// deduplication and event publishing.
func NewAuctionService(store repository.Store, redisClient redis.RedisClient, producer kafka.KafkaProducer, opts AuctionOptions) *AuctionService {
	if opts.IdempotencyTTL <= 0 {
		opts.IdempotencyTTL = 24 * time.Hour
	}
	return &AuctionService{
		store:          store,
		redisClient:    redisClient,
		producer:       producer,
		eventsTopic:    opts.EventsTopic,
		idempotencyTTL: opts.IdempotencyTTL,
	}
}

func fail(span trace.Span, err error, msg string) {
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
}

// PlaceOrUpdateBid applies the auction rules under the trip lock. A sender
// with an active bid gets it refunded and re-debited at the new amount; any
// other sender pays the amount up front for a new active bid.
//
// Completed and cancelled trips both refuse bids with ErrTripClosed, not only
// completed ones; a cancelled trip's bids are settled by the trip service.
func (s *AuctionService) PlaceOrUpdateBid(ctx context.Context, req PlaceBidRequest) (*models.Bid, error) {
	ctx, span := otel.Tracer(auctionTracer).Start(ctx, "PlaceOrUpdateBid")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("trip_id", req.TripID),
		attribute.Int64("sender_id", req.SenderID),
		attribute.Int64("amount", req.Amount),
	)

	if req.TripID <= 0 || req.SenderID <= 0 {
		span.SetStatus(codes.Error, "invalid input")
		return nil, pkgerrors.ErrInvalidInput
	}
	if req.Amount <= 0 {
		span.SetStatus(codes.Error, "invalid amount")
		return nil, pkgerrors.ErrInvalidAmount
	}

	requestKey, err := s.claimRequest(ctx, req)
	if err != nil {
		fail(span, err, "request claim failed")
		return nil, err
	}

	var (
		bid      models.Bid
		previous int64
		updated  bool
	)
	err = s.store.RunInTx(ctx, func(ctx context.Context, uow repository.UnitOfWork) error {
		trip, err := uow.Trips().GetForUpdate(ctx, req.TripID)
		if err != nil {
			return err
		}
		if trip.Closed() {
			return fmt.Errorf("%w: trip %d is %s", pkgerrors.ErrTripClosed, trip.ID, trip.Status)
		}
		total, err := TotalCapacity(trip)
		if err != nil {
			return err
		}
		weight, err := senderWeight(ctx, uow.Packages(), req.SenderID)
		if err != nil {
			return err
		}
		if weight.GreaterThan(total) {
			return fmt.Errorf("%w: package weighs %s kg, trip carries %s kg",
				pkgerrors.ErrPackageExceedsCapacity, weight.String(), total.String())
		}

		active, err := uow.Bids().ListActive(ctx, trip.ID)
		if err != nil {
			return err
		}
		var (
			own          *models.Bid
			highest      int64
			highestOther int64
		)
		for i := range active {
			b := &active[i]
			if b.Amount > highest {
				highest = b.Amount
			}
			if b.SenderID == req.SenderID {
				own = b
				continue
			}
			if b.Amount > highestOther {
				highestOther = b.Amount
			}
		}

		wallet := uow.Wallet()
		if own != nil {
			if req.Amount != own.Amount && req.Amount < highestOther {
				return fmt.Errorf("%w: highest competing bid is %d", pkgerrors.ErrBidTooLow, highestOther)
			}
			refund := fmt.Sprintf("Refund of bid #%d on trip #%d (bid updated)", own.ID, trip.ID)
			if _, err := wallet.Credit(ctx, req.SenderID, own.Amount, refund); err != nil {
				return err
			}
			if _, err := wallet.Debit(ctx, req.SenderID, req.Amount, fmt.Sprintf("Bid #%d on trip #%d", own.ID, trip.ID)); err != nil {
				return err
			}
			if err := uow.Bids().UpdateAmount(ctx, own.ID, req.Amount); err != nil {
				return err
			}
			current, err := uow.Bids().GetByID(ctx, own.ID)
			if err != nil {
				return err
			}
			bid, previous, updated = *current, own.Amount, true
			return nil
		}

		if len(active) == 0 {
			if req.Amount != models.BaselineBid {
				return fmt.Errorf("%w: first bid must be %d connects", pkgerrors.ErrFirstBidMustBeBaseline, models.BaselineBid)
			}
		} else if req.Amount <= highest {
			return fmt.Errorf("%w: current highest bid is %d", pkgerrors.ErrBidTooLow, highest)
		}

		if _, err := wallet.Debit(ctx, req.SenderID, req.Amount, fmt.Sprintf("Bid on trip #%d", trip.ID)); err != nil {
			return err
		}
		bid = models.Bid{TripID: trip.ID, SenderID: req.SenderID, Amount: req.Amount, Status: models.BidActive}
		return uow.Bids().Create(ctx, &bid)
	})
	if err != nil {
		s.releaseRequest(ctx, requestKey)
		fail(span, err, "bid placement failed")
		logRejection("failed to place bid", err,
			"trip_id", req.TripID, "sender_id", req.SenderID, "amount", req.Amount)
		return nil, err
	}

	kind, eventType := "new", models.EventBidPlaced
	if updated {
		kind, eventType = "update", models.EventBidUpdated
	}
	observability.BidsPlaced.WithLabelValues(kind).Inc()
	observability.WalletOperations.WithLabelValues(string(models.TypeDebit)).Inc()
	if updated {
		observability.WalletOperations.WithLabelValues(string(models.TypeCredit)).Inc()
	}
	invalidateBalances(ctx, s.redisClient, req.SenderID)
	s.publish(ctx, models.BidEvent{
		EventType:      eventType,
		BidID:          bid.ID,
		TripID:         bid.TripID,
		SenderID:       bid.SenderID,
		Amount:         bid.Amount,
		PreviousAmount: previous,
	})

	slog.Info("bid placed",
		"bid_id", bid.ID,
		"trip_id", bid.TripID,
		"sender_id", bid.SenderID,
		"amount", bid.Amount,
		"updated", updated)
	return &bid, nil
}

// AcceptBid accepts an active bid if its package fits the trip's remaining
// capacity, then rejects and refunds every other active bid that no longer
// fits. All of it commits or none of it does.
func (s *AuctionService) AcceptBid(ctx context.Context, bidID int64) (*models.AcceptResult, error) {
	ctx, span := otel.Tracer(auctionTracer).Start(ctx, "AcceptBid")
	defer span.End()
	span.SetAttributes(attribute.Int64("bid_id", bidID))

	if bidID <= 0 {
		span.SetStatus(codes.Error, "invalid bid id")
		return nil, pkgerrors.ErrInvalidInput
	}

	var (
		accepted models.Bid
		result   models.AcceptResult
	)
	err := s.store.RunInTx(ctx, func(ctx context.Context, uow repository.UnitOfWork) error {
		// The trip id never changes, so reading it unlocked is safe; the trip
		// lock comes first to keep lock order identical to placement.
		peek, err := uow.Bids().GetByID(ctx, bidID)
		if err != nil {
			return err
		}
		trip, err := uow.Trips().GetForUpdate(ctx, peek.TripID)
		if err != nil {
			return err
		}
		bid, err := uow.Bids().GetForUpdate(ctx, bidID)
		if err != nil {
			return err
		}
		switch bid.Status {
		case models.BidAccepted:
			return fmt.Errorf("%w: bid %d", pkgerrors.ErrAlreadyAccepted, bid.ID)
		case models.BidRejected:
			return fmt.Errorf("%w: bid %d is %s", pkgerrors.ErrBidNotActive, bid.ID, bid.Status)
		}
		if trip.Closed() {
			return fmt.Errorf("%w: trip %d is %s", pkgerrors.ErrTripClosed, trip.ID, trip.Status)
		}

		remaining, err := remainingForTrip(ctx, uow, trip)
		if err != nil {
			return err
		}
		weight, err := senderWeight(ctx, uow.Packages(), bid.SenderID)
		if err != nil {
			return err
		}
		if weight.GreaterThan(remaining) {
			return fmt.Errorf("%w: package weighs %s kg, %s kg left",
				pkgerrors.ErrInsufficientCapacity, weight.String(), remaining.String())
		}

		if err := uow.Bids().UpdateStatus(ctx, bid.ID, models.BidAccepted); err != nil {
			return err
		}
		newRemaining := remaining.Sub(weight)

		active, err := uow.Bids().ActiveWithWeights(ctx, trip.ID)
		if err != nil {
			return err
		}
		rejected := make([]models.Bid, 0)
		for _, wb := range Overweight(active, newRemaining, bid.ID) {
			if err := uow.Bids().UpdateStatus(ctx, wb.ID, models.BidRejected); err != nil {
				return err
			}
			refund := fmt.Sprintf("Refund of bid #%d on trip #%d (capacity taken)", wb.ID, trip.ID)
			if _, err := uow.Wallet().Credit(ctx, wb.SenderID, wb.Amount, refund); err != nil {
				return err
			}
			b := wb.Bid
			b.Status = models.BidRejected
			rejected = append(rejected, b)
		}

		accepted = *bid
		accepted.Status = models.BidAccepted
		result = models.AcceptResult{
			AcceptedBidID:     bid.ID,
			RejectedCount:     len(rejected),
			RejectedBids:      rejected,
			RemainingCapacity: newRemaining,
		}
		return nil
	})
	if err != nil {
		fail(span, err, "bid acceptance failed")
		logRejection("failed to accept bid", err, "bid_id", bidID)
		return nil, err
	}

	observability.BidsAccepted.Inc()
	remaining := result.RemainingCapacity.String()
	s.publish(ctx, models.BidEvent{
		EventType:         models.EventBidAccepted,
		BidID:             accepted.ID,
		TripID:            accepted.TripID,
		SenderID:          accepted.SenderID,
		Amount:            accepted.Amount,
		RemainingCapacity: remaining,
	})
	refunded := make([]int64, 0, len(result.RejectedBids))
	for _, b := range result.RejectedBids {
		observability.BidsRejected.WithLabelValues(models.RejectReasonCascade).Inc()
		observability.WalletOperations.WithLabelValues(string(models.TypeCredit)).Inc()
		refunded = append(refunded, b.SenderID)
		s.publish(ctx, models.BidEvent{
			EventType:         models.EventBidRejected,
			BidID:             b.ID,
			TripID:            b.TripID,
			SenderID:          b.SenderID,
			Amount:            b.Amount,
			Reason:            models.RejectReasonCascade,
			RemainingCapacity: remaining,
		})
	}
	invalidateBalances(ctx, s.redisClient, refunded...)

	slog.Info("bid accepted",
		"bid_id", accepted.ID,
		"trip_id", accepted.TripID,
		"rejected_count", result.RejectedCount,
		"remaining_capacity", remaining)
	return &result, nil
}

// RejectBid rejects an active bid and refunds its amount to the sender.
func (s *AuctionService) RejectBid(ctx context.Context, bidID int64) error {
	ctx, span := otel.Tracer(auctionTracer).Start(ctx, "RejectBid")
	defer span.End()
	span.SetAttributes(attribute.Int64("bid_id", bidID))

	if bidID <= 0 {
		span.SetStatus(codes.Error, "invalid bid id")
		return pkgerrors.ErrInvalidInput
	}

	var rejected models.Bid
	err := s.store.RunInTx(ctx, func(ctx context.Context, uow repository.UnitOfWork) error {
		peek, err := uow.Bids().GetByID(ctx, bidID)
		if err != nil {
			return err
		}
		if _, err := uow.Trips().GetForUpdate(ctx, peek.TripID); err != nil {
			return err
		}
		bid, err := uow.Bids().GetForUpdate(ctx, bidID)
		if err != nil {
			return err
		}
		if bid.Status != models.BidActive {
			return fmt.Errorf("%w: bid %d is %s", pkgerrors.ErrBidNotActive, bid.ID, bid.Status)
		}
		if err := uow.Bids().UpdateStatus(ctx, bid.ID, models.BidRejected); err != nil {
			return err
		}
		refund := fmt.Sprintf("Refund of bid #%d on trip #%d (rejected by traveler)", bid.ID, bid.TripID)
		if _, err := uow.Wallet().Credit(ctx, bid.SenderID, bid.Amount, refund); err != nil {
			return err
		}
		rejected = *bid
		rejected.Status = models.BidRejected
		return nil
	})
	if err != nil {
		fail(span, err, "bid rejection failed")
		logRejection("failed to reject bid", err, "bid_id", bidID)
		return err
	}

	observability.BidsRejected.WithLabelValues(models.RejectReasonManual).Inc()
	observability.WalletOperations.WithLabelValues(string(models.TypeCredit)).Inc()
	invalidateBalances(ctx, s.redisClient, rejected.SenderID)
	s.publish(ctx, models.BidEvent{
		EventType: models.EventBidRejected,
		BidID:     rejected.ID,
		TripID:    rejected.TripID,
		SenderID:  rejected.SenderID,
		Amount:    rejected.Amount,
		Reason:    models.RejectReasonManual,
	})

	slog.Info("bid rejected", "bid_id", rejected.ID, "trip_id", rejected.TripID, "refund", rejected.Amount)
	return nil
}

func (s *AuctionService) ListBidsForTrip(ctx context.Context, tripID int64) ([]models.TripBid, error) {
	ctx, span := otel.Tracer(auctionTracer).Start(ctx, "ListBidsForTrip")
	defer span.End()

	if tripID <= 0 {
		span.SetStatus(codes.Error, "invalid trip id")
		return nil, pkgerrors.ErrInvalidInput
	}
	if _, err := s.store.Trips().GetByID(ctx, tripID); err != nil {
		fail(span, err, "trip lookup failed")
		return nil, err
	}
	bids, err := s.store.Bids().ListByTrip(ctx, tripID)
	if err != nil {
		fail(span, err, "failed to list bids")
		slog.Error("failed to list bids for trip", "trip_id", tripID, "error", err)
		return nil, err
	}
	return bids, nil
}

func (s *AuctionService) ListBidsForSender(ctx context.Context, senderID int64) ([]models.SenderBid, error) {
	ctx, span := otel.Tracer(auctionTracer).Start(ctx, "ListBidsForSender")
	defer span.End()

	if senderID <= 0 {
		span.SetStatus(codes.Error, "invalid sender id")
		return nil, pkgerrors.ErrInvalidInput
	}
	bids, err := s.store.Bids().ListBySender(ctx, senderID)
	if err != nil {
		fail(span, err, "failed to list bids")
		slog.Error("failed to list bids for sender", "sender_id", senderID, "error", err)
		return nil, err
	}
	return bids, nil
}

// GetRemainingCapacity reports the trip's remaining capacity with the same
// calculation acceptance uses.
func (s *AuctionService) GetRemainingCapacity(ctx context.Context, tripID int64) (decimal.Decimal, error) {
	ctx, span := otel.Tracer(auctionTracer).Start(ctx, "GetRemainingCapacity")
	defer span.End()

	if tripID <= 0 {
		span.SetStatus(codes.Error, "invalid trip id")
		return decimal.Zero, pkgerrors.ErrInvalidInput
	}

	var remaining decimal.Decimal
	err := s.store.RunInTx(ctx, func(ctx context.Context, uow repository.UnitOfWork) error {
		trip, err := uow.Trips().GetByID(ctx, tripID)
		if err != nil {
			return err
		}
		remaining, err = remainingForTrip(ctx, uow, trip)
		return err
	})
	if err != nil {
		fail(span, err, "capacity lookup failed")
		logRejection("failed to compute remaining capacity", err, "trip_id", tripID)
		return decimal.Zero, err
	}
	return remaining, nil
}

func (s *AuctionService) claimRequest(ctx context.Context, req PlaceBidRequest) (string, error) {
	if s.redisClient == nil || req.RequestID == "" {
		return "", nil
	}
	key := fmt.Sprintf("request:bid:%d:%s", req.SenderID, req.RequestID)
	ok, err := s.redisClient.SetNX(ctx, key, "pending", s.idempotencyTTL)
	if err != nil {
		slog.Error("failed to set request key", "request_id", req.RequestID, "error", err)
		return "", fmt.Errorf("failed to set request key: %w", err)
	}
	if !ok {
		slog.Warn("request already processed", "request_id", req.RequestID, "sender_id", req.SenderID)
		return "", pkgerrors.ErrRequestAlreadyProcessed
	}
	return key, nil
}

func (s *AuctionService) releaseRequest(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if err := s.redisClient.Del(ctx, key); err != nil {
		slog.Error("failed to release request key", "key", key, "error", err)
	}
}

// publish sends a bid event after commit. Failures are logged only; the
// committed change stands either way.
func (s *AuctionService) publish(ctx context.Context, event models.BidEvent) {
	if s.producer == nil || s.eventsTopic == "" {
		return
	}
	event.CreatedAt = time.Now().UTC()
	payload, err := json.Marshal(event)
	if err != nil {
		slog.Error("failed to marshal bid event", "event_type", event.EventType, "bid_id", event.BidID, "error", err)
		return
	}
	if err := s.producer.Send(ctx, s.eventsTopic, event.TripID, payload); err != nil {
		slog.Error("failed to publish bid event",
			"event_type", event.EventType,
			"bid_id", event.BidID,
			"trip_id", event.TripID,
			"error", err)
	}
}

// logRejection logs business rule failures at warn level and everything
// else at error level.
func logRejection(msg string, err error, args ...any) {
	args = append(args, "error", err)
	if isBusinessError(err) {
		slog.Warn(msg, args...)
		return
	}
	slog.Error(msg, args...)
}

func isBusinessError(err error) bool {
	for _, category := range []error{
		pkgerrors.ErrValidation,
		pkgerrors.ErrNotFound,
		pkgerrors.ErrAuctionRule,
		pkgerrors.ErrCapacity,
		pkgerrors.ErrInsufficientBalance,
		pkgerrors.ErrConflict,
	} {
		if stderrors.Is(err, category) {
			return true
		}
	}
	return false
}
