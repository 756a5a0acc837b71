package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	kafkamocks "github.com/honeynil/ParcelBidService/internal/infrastructure/kafka/mocks"
	redismocks "github.com/honeynil/ParcelBidService/internal/infrastructure/redis/mocks"
	"github.com/honeynil/ParcelBidService/internal/models"
	"github.com/honeynil/ParcelBidService/internal/repository"
	"github.com/honeynil/ParcelBidService/internal/repository/memory"
	pkgerrors "github.com/honeynil/ParcelBidService/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func kg(v string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(v))
}

type auctionFixture struct {
	store    *memory.Store
	auction  *AuctionService
	wallet   *WalletService
	traveler int64
	trip     int64
}

func newAuctionFixture(t *testing.T, capacity string) *auctionFixture {
	t.Helper()
	store := memory.NewStore()
	traveler := store.AddUser("traveler", 0)
	return &auctionFixture{
		store:    store,
		auction:  NewAuctionService(store, nil, nil, AuctionOptions{}),
		wallet:   NewWalletService(store, nil, 0),
		traveler: traveler,
		trip:     store.AddTrip(traveler, kg(capacity), models.TripUpcoming),
	}
}

// sender seeds a user with a balance and a package of the given weight.
func (f *auctionFixture) sender(name string, connects int64, weight string) int64 {
	id := f.store.AddUser(name, connects)
	f.store.AddPackage(id, kg(weight))
	return id
}

func (f *auctionFixture) place(tripID, senderID, amount int64) (*models.Bid, error) {
	return f.auction.PlaceOrUpdateBid(context.Background(), PlaceBidRequest{TripID: tripID, SenderID: senderID, Amount: amount})
}

func (f *auctionFixture) mustPlace(t *testing.T, senderID, amount int64) *models.Bid {
	t.Helper()
	bid, err := f.place(f.trip, senderID, amount)
	require.NoError(t, err)
	return bid
}

func (f *auctionFixture) balance(t *testing.T, userID int64) int64 {
	t.Helper()
	balance, err := f.wallet.VerifyBalance(context.Background(), userID)
	require.NoError(t, err)
	return balance
}

func TestAuctionService_PlaceOrUpdateBid_Baseline(t *testing.T) {
	f := newAuctionFixture(t, "10")
	alice := f.sender("alice", 500, "2")

	for _, amount := range []int64{90, 99, 101, 150} {
		_, err := f.place(f.trip, alice, amount)
		assert.ErrorIs(t, err, pkgerrors.ErrFirstBidMustBeBaseline, "amount %d", amount)
		assert.ErrorIs(t, err, pkgerrors.ErrAuctionRule)
	}
	assert.Equal(t, int64(500), f.balance(t, alice))
	assert.Empty(t, f.store.BidsForTrip(f.trip))

	bid := f.mustPlace(t, alice, models.BaselineBid)
	assert.Equal(t, models.BidActive, bid.Status)
	assert.Equal(t, models.BaselineBid, bid.Amount)
	assert.Equal(t, int64(400), f.balance(t, alice))
}

func TestAuctionService_PlaceOrUpdateBid_StrictlyAscending(t *testing.T) {
	f := newAuctionFixture(t, "10")
	alice := f.sender("alice", 500, "2")
	bob := f.sender("bob", 500, "2")
	f.mustPlace(t, alice, 100)

	_, err := f.place(f.trip, bob, 100)
	assert.ErrorIs(t, err, pkgerrors.ErrBidTooLow)
	_, err = f.place(f.trip, bob, 90)
	assert.ErrorIs(t, err, pkgerrors.ErrBidTooLow)
	assert.Equal(t, int64(500), f.balance(t, bob))

	f.mustPlace(t, bob, 150)

	bids, err := f.auction.ListBidsForTrip(context.Background(), f.trip)
	require.NoError(t, err)
	require.Len(t, bids, 2)
	assert.Equal(t, "bob", bids[0].Username)
	assert.Equal(t, int64(150), bids[0].Amount)
	assert.Equal(t, "alice", bids[1].Username)
}

func TestAuctionService_PlaceOrUpdateBid_UpdateInPlace(t *testing.T) {
	f := newAuctionFixture(t, "10")
	alice := f.sender("alice", 1000, "2")
	bob := f.sender("bob", 1000, "2")
	first := f.mustPlace(t, alice, 100)
	f.mustPlace(t, bob, 150)

	t.Run("below competing maximum", func(t *testing.T) {
		_, err := f.place(f.trip, alice, 120)
		assert.ErrorIs(t, err, pkgerrors.ErrBidTooLow)
		assert.Equal(t, int64(900), f.balance(t, alice))
	})

	t.Run("unchanged amount is allowed", func(t *testing.T) {
		before := len(f.store.Transactions(alice))
		bid, err := f.place(f.trip, alice, 100)
		require.NoError(t, err)
		assert.Equal(t, first.ID, bid.ID)
		assert.Equal(t, int64(900), f.balance(t, alice))
		assert.Len(t, f.store.Transactions(alice), before+2)
	})

	t.Run("equal to competing maximum", func(t *testing.T) {
		_, err := f.place(f.trip, alice, 150)
		require.NoError(t, err)
		assert.Equal(t, int64(850), f.balance(t, alice))
	})

	t.Run("raise charges only the difference", func(t *testing.T) {
		before := f.balance(t, alice)
		bid, err := f.place(f.trip, alice, 400)
		require.NoError(t, err)
		assert.Equal(t, first.ID, bid.ID)
		assert.Equal(t, int64(400), bid.Amount)
		assert.Equal(t, before-(400-150), f.balance(t, alice))

		txs := f.store.Transactions(alice)
		refund, debit := txs[len(txs)-2], txs[len(txs)-1]
		assert.Equal(t, models.TypeCredit, refund.Type)
		assert.Equal(t, int64(150), refund.Amount)
		assert.Equal(t, models.TypeDebit, debit.Type)
		assert.Equal(t, int64(400), debit.Amount)
	})

	active := 0
	for _, b := range f.store.BidsForTrip(f.trip) {
		if b.SenderID == alice {
			active++
		}
	}
	assert.Equal(t, 1, active)
}

func TestAuctionService_PlaceOrUpdateBid_InsufficientBalance(t *testing.T) {
	f := newAuctionFixture(t, "10")
	poor := f.sender("poor", 50, "1")

	_, err := f.place(f.trip, poor, 100)
	assert.ErrorIs(t, err, pkgerrors.ErrInsufficientBalance)
	assert.Equal(t, int64(50), f.balance(t, poor))
	assert.Empty(t, f.store.BidsForTrip(f.trip))

	t.Run("failed update rolls back the refund", func(t *testing.T) {
		carol := f.sender("carol", 150, "1")
		bid := f.mustPlace(t, carol, 100)
		before := f.store.Transactions(carol)

		_, err := f.place(f.trip, carol, 200)
		assert.ErrorIs(t, err, pkgerrors.ErrInsufficientBalance)

		assert.Equal(t, int64(50), f.balance(t, carol))
		assert.Equal(t, before, f.store.Transactions(carol))
		stored, ok := f.store.Bid(bid.ID)
		require.True(t, ok)
		assert.Equal(t, int64(100), stored.Amount)
	})
}

func TestAuctionService_PlaceOrUpdateBid_Validation(t *testing.T) {
	f := newAuctionFixture(t, "10")
	heavy := f.sender("heavy", 500, "12")
	noPackage := f.store.AddUser("nopackage", 500)
	zero := f.sender("zero", 500, "0")
	nullWeight := f.store.AddUser("nullweight", 500)
	f.store.AddPackage(nullWeight, decimal.NullDecimal{})
	ok := f.sender("ok", 500, "3")

	completed := f.store.AddTrip(f.traveler, kg("10"), models.TripCompleted)
	cancelled := f.store.AddTrip(f.traveler, kg("10"), models.TripCancelled)
	noCapacity := f.store.AddTrip(f.traveler, decimal.NullDecimal{}, models.TripActive)
	zeroCapacity := f.store.AddTrip(f.traveler, kg("0"), models.TripActive)

	tests := []struct {
		name   string
		trip   int64
		sender int64
		amount int64
		err    error
	}{
		{"zero amount", f.trip, ok, 0, pkgerrors.ErrInvalidAmount},
		{"negative amount", f.trip, ok, -100, pkgerrors.ErrInvalidAmount},
		{"missing trip id", 0, ok, 100, pkgerrors.ErrInvalidInput},
		{"unknown trip", 9999, ok, 100, pkgerrors.ErrTripNotFound},
		{"completed trip", completed, ok, 100, pkgerrors.ErrTripClosed},
		{"cancelled trip", cancelled, ok, 100, pkgerrors.ErrTripClosed},
		{"missing capacity", noCapacity, ok, 100, pkgerrors.ErrInvalidCapacity},
		{"zero capacity", zeroCapacity, ok, 100, pkgerrors.ErrInvalidCapacity},
		{"no package entry", f.trip, noPackage, 100, pkgerrors.ErrNoPackageEntry},
		{"zero weight", f.trip, zero, 100, pkgerrors.ErrInvalidWeight},
		{"null weight", f.trip, nullWeight, 100, pkgerrors.ErrInvalidWeight},
		{"heavier than trip", f.trip, heavy, 100, pkgerrors.ErrPackageExceedsCapacity},
		{"unknown sender", f.trip, 9999, 100, pkgerrors.ErrNoPackageEntry},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.place(tt.trip, tt.sender, tt.amount)
			assert.ErrorIs(t, err, tt.err)
		})
	}

	assert.Empty(t, f.store.BidsForTrip(f.trip))

	t.Run("latest package entry wins", func(t *testing.T) {
		f.store.AddPackage(heavy, kg("4"))
		_, err := f.place(f.trip, heavy, 100)
		assert.NoError(t, err)
	})
}

func TestAuctionService_AcceptBid_Cascade(t *testing.T) {
	f := newAuctionFixture(t, "10")
	a := f.sender("a", 1000, "6")
	b := f.sender("b", 1000, "5")
	c := f.sender("c", 1000, "3")
	bidA := f.mustPlace(t, a, 100)
	bidB := f.mustPlace(t, b, 150)
	bidC := f.mustPlace(t, c, 200)

	result, err := f.auction.AcceptBid(context.Background(), bidA.ID)
	require.NoError(t, err)

	assert.Equal(t, bidA.ID, result.AcceptedBidID)
	assert.Equal(t, 1, result.RejectedCount)
	require.Len(t, result.RejectedBids, 1)
	assert.Equal(t, bidB.ID, result.RejectedBids[0].ID)
	assert.Equal(t, "4", result.RemainingCapacity.String())

	stored := func(id int64) models.BidStatus {
		bid, ok := f.store.Bid(id)
		require.True(t, ok)
		return bid.Status
	}
	assert.Equal(t, models.BidAccepted, stored(bidA.ID))
	assert.Equal(t, models.BidRejected, stored(bidB.ID))
	assert.Equal(t, models.BidActive, stored(bidC.ID))

	assert.Equal(t, int64(900), f.balance(t, a))
	assert.Equal(t, int64(1000), f.balance(t, b))
	assert.Equal(t, int64(800), f.balance(t, c))

	remaining, err := f.auction.GetRemainingCapacity(context.Background(), f.trip)
	require.NoError(t, err)
	assert.Equal(t, "4", remaining.String())

	t.Run("second acceptance within capacity", func(t *testing.T) {
		result, err := f.auction.AcceptBid(context.Background(), bidC.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, result.RejectedCount)
		assert.Equal(t, "1", result.RemainingCapacity.String())
	})

	t.Run("insufficient remaining capacity", func(t *testing.T) {
		d := f.sender("d", 1000, "2")
		bidD := f.mustPlace(t, d, 100)

		_, err := f.auction.AcceptBid(context.Background(), bidD.ID)
		assert.ErrorIs(t, err, pkgerrors.ErrInsufficientCapacity)
		assert.ErrorIs(t, err, pkgerrors.ErrCapacity)
		assert.Equal(t, models.BidActive, stored(bidD.ID))
		assert.Equal(t, int64(900), f.balance(t, d))
	})
}

func TestAuctionService_AcceptBid_StatusGuards(t *testing.T) {
	f := newAuctionFixture(t, "10")
	a := f.sender("a", 1000, "2")
	b := f.sender("b", 1000, "2")
	bidA := f.mustPlace(t, a, 100)
	bidB := f.mustPlace(t, b, 150)

	_, err := f.auction.AcceptBid(context.Background(), bidA.ID)
	require.NoError(t, err)
	require.NoError(t, f.auction.RejectBid(context.Background(), bidB.ID))

	tests := []struct {
		name  string
		bidID int64
		err   error
	}{
		{"already accepted", bidA.ID, pkgerrors.ErrAlreadyAccepted},
		{"rejected", bidB.ID, pkgerrors.ErrBidNotActive},
		{"unknown bid", 9999, pkgerrors.ErrBidNotFound},
		{"invalid id", 0, pkgerrors.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.auction.AcceptBid(context.Background(), tt.bidID)
			assert.ErrorIs(t, err, tt.err)
		})
	}

	assert.Equal(t, int64(900), f.balance(t, a))
	assert.Equal(t, int64(1000), f.balance(t, b))

	t.Run("closed trip", func(t *testing.T) {
		c := f.sender("c", 1000, "2")
		bidC := f.mustPlace(t, c, 100)
		f.store.SetTripStatus(f.trip, models.TripCompleted)

		_, err := f.auction.AcceptBid(context.Background(), bidC.ID)
		assert.ErrorIs(t, err, pkgerrors.ErrTripClosed)
	})
}

func TestAuctionService_RejectBid(t *testing.T) {
	f := newAuctionFixture(t, "10")
	a := f.sender("a", 1000, "2")
	b := f.sender("b", 1000, "2")
	bidA := f.mustPlace(t, a, 100)
	bidB := f.mustPlace(t, b, 250)

	require.NoError(t, f.auction.RejectBid(context.Background(), bidB.ID))
	assert.Equal(t, int64(1000), f.balance(t, b))

	err := f.auction.RejectBid(context.Background(), bidB.ID)
	assert.ErrorIs(t, err, pkgerrors.ErrBidNotActive)
	assert.Equal(t, int64(1000), f.balance(t, b), "refund must be paid exactly once")

	_, err = f.auction.AcceptBid(context.Background(), bidA.ID)
	require.NoError(t, err)
	err = f.auction.RejectBid(context.Background(), bidA.ID)
	assert.ErrorIs(t, err, pkgerrors.ErrBidNotActive)
	assert.Equal(t, int64(900), f.balance(t, a))

	assert.ErrorIs(t, f.auction.RejectBid(context.Background(), 9999), pkgerrors.ErrBidNotFound)
}

func TestAuctionService_ListBidsForSender(t *testing.T) {
	f := newAuctionFixture(t, "10")
	second := f.store.AddTrip(f.traveler, kg("20"), models.TripActive)
	alice := f.sender("alice", 1000, "2")

	f.mustPlace(t, alice, 100)
	_, err := f.place(second, alice, 100)
	require.NoError(t, err)

	bids, err := f.auction.ListBidsForSender(context.Background(), alice)
	require.NoError(t, err)
	require.Len(t, bids, 2)
	assert.Equal(t, second, bids[0].TripID, "newest first")
	assert.Equal(t, "DXB", bids[0].DepartureAirport)
	assert.Equal(t, "LHR", bids[0].ArrivalAirport)

	_, err = f.auction.ListBidsForTrip(context.Background(), 9999)
	assert.ErrorIs(t, err, pkgerrors.ErrTripNotFound)
}

func TestAuctionService_NoDoubleSpend(t *testing.T) {
	f := newAuctionFixture(t, "10")
	alice := f.sender("alice", 150, "2")
	trips := make([]int64, 8)
	for i := range trips {
		trips[i] = f.store.AddTrip(f.traveler, kg("10"), models.TripActive)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for _, trip := range trips {
		wg.Add(1)
		go func(trip int64) {
			defer wg.Done()
			_, err := f.place(trip, alice, 100)
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, pkgerrors.ErrInsufficientBalance)
		}(trip)
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, int64(50), f.balance(t, alice))
}

func activeBidsOf(f *auctionFixture, tripID, senderID int64) []models.Bid {
	var out []models.Bid
	for _, b := range f.store.BidsForTrip(tripID) {
		if b.SenderID == senderID && b.Status == models.BidActive {
			out = append(out, b)
		}
	}
	return out
}

func TestAuctionService_NoDoubleSpendOnOneTrip(t *testing.T) {
	t.Run("concurrent updates", func(t *testing.T) {
		f := newAuctionFixture(t, "10")
		alice := f.sender("alice", 10000, "2")
		f.mustPlace(t, alice, 100)

		var wg sync.WaitGroup
		for i := 1; i <= 20; i++ {
			wg.Add(1)
			go func(amount int64) {
				defer wg.Done()
				_, err := f.place(f.trip, alice, amount)
				assert.NoError(t, err)
			}(100 + int64(i)*10)
		}
		wg.Wait()

		active := activeBidsOf(f, f.trip, alice)
		require.Len(t, active, 1)
		assert.Equal(t, 10000-active[0].Amount, f.balance(t, alice))
	})

	t.Run("concurrent first bids", func(t *testing.T) {
		f := newAuctionFixture(t, "10")
		alice := f.sender("alice", 10000, "2")

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := f.place(f.trip, alice, models.BaselineBid)
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		active := activeBidsOf(f, f.trip, alice)
		require.Len(t, active, 1)
		assert.Equal(t, models.BaselineBid, active[0].Amount)
		assert.Equal(t, 10000-models.BaselineBid, f.balance(t, alice))
	})
}

func TestAuctionService_ConcurrentAcceptsOnOneTrip(t *testing.T) {
	f := newAuctionFixture(t, "10")
	senders := make([]int64, 5)
	bids := make([]*models.Bid, 5)
	for i := range senders {
		senders[i] = f.sender(fmt.Sprintf("sender-%d", i), 1000, "4")
		bids[i] = f.mustPlace(t, senders[i], 100+int64(i)*10)
	}

	var wg sync.WaitGroup
	for _, bid := range bids {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_, err := f.auction.AcceptBid(context.Background(), id)
			if err != nil {
				assert.True(t, errors.Is(err, pkgerrors.ErrBidNotActive) || errors.Is(err, pkgerrors.ErrInsufficientCapacity), err.Error())
			}
		}(bid.ID)
	}
	wg.Wait()

	accepted := decimal.Zero
	acceptedCount := 0
	for i, bid := range bids {
		stored, ok := f.store.Bid(bid.ID)
		require.True(t, ok)
		switch stored.Status {
		case models.BidAccepted:
			acceptedCount++
			accepted = accepted.Add(decimal.NewFromInt(4))
			assert.Equal(t, 1000-bid.Amount, f.balance(t, senders[i]))
		case models.BidRejected:
			assert.Equal(t, int64(1000), f.balance(t, senders[i]))
		default:
			t.Fatalf("bid %d left %s", bid.ID, stored.Status)
		}
	}
	assert.Equal(t, 2, acceptedCount)
	assert.True(t, accepted.LessThanOrEqual(decimal.NewFromInt(10)))
}

func TestAuctionService_AcceptBid_RollsBackOnRefundFailure(t *testing.T) {
	f := newAuctionFixture(t, "10")
	a := f.sender("a", 1000, "6")
	b := f.sender("b", 1000, "5")
	bidA := f.mustPlace(t, a, 100)
	bidB := f.mustPlace(t, b, 150)

	failing := &faultyStore{Store: f.store, failCredit: errors.New("ledger unavailable")}
	auction := NewAuctionService(failing, nil, nil, AuctionOptions{})

	_, err := auction.AcceptBid(context.Background(), bidA.ID)
	require.Error(t, err)

	storedA, _ := f.store.Bid(bidA.ID)
	storedB, _ := f.store.Bid(bidB.ID)
	assert.Equal(t, models.BidActive, storedA.Status)
	assert.Equal(t, models.BidActive, storedB.Status)
	assert.Equal(t, int64(850), f.balance(t, b))
}

func TestAuctionService_Events(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	producer := kafkamocks.NewMockKafkaProducer(ctrl)
	f := newAuctionFixture(t, "10")
	f.auction = NewAuctionService(f.store, nil, producer, AuctionOptions{EventsTopic: "bid-events"})
	a := f.sender("a", 1000, "6")
	b := f.sender("b", 1000, "5")

	var events []models.BidEvent
	producer.EXPECT().Send(gomock.Any(), "bid-events", f.trip, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, _ int64, value []byte) error {
			var event models.BidEvent
			require.NoError(t, json.Unmarshal(value, &event))
			events = append(events, event)
			return nil
		}).Times(4)

	bidA := f.mustPlace(t, a, 100)
	f.mustPlace(t, b, 150)
	_, err := f.auction.AcceptBid(context.Background(), bidA.ID)
	require.NoError(t, err)

	require.Len(t, events, 4)
	assert.Equal(t, models.EventBidPlaced, events[0].EventType)
	assert.Equal(t, models.EventBidPlaced, events[1].EventType)
	assert.Equal(t, models.EventBidAccepted, events[2].EventType)
	assert.Equal(t, "4", events[2].RemainingCapacity)
	assert.Equal(t, models.EventBidRejected, events[3].EventType)
	assert.Equal(t, models.RejectReasonCascade, events[3].Reason)
	assert.Equal(t, b, events[3].SenderID)

	t.Run("publish failure keeps the committed bid", func(t *testing.T) {
		c := f.sender("c", 1000, "1")
		producer.EXPECT().Send(gomock.Any(), "bid-events", f.trip, gomock.Any()).Return(errors.New("broker down"))

		bid, err := f.place(f.trip, c, 100)
		require.NoError(t, err)
		_, ok := f.store.Bid(bid.ID)
		assert.True(t, ok)
	})
}

func TestAuctionService_Idempotency(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	redisClient := redismocks.NewMockRedisClient(ctrl)
	f := newAuctionFixture(t, "10")
	f.auction = NewAuctionService(f.store, redisClient, nil, AuctionOptions{IdempotencyTTL: time.Hour})
	alice := f.sender("alice", 1000, "2")
	key := fmt.Sprintf("request:bid:%d:req-1", alice)
	req := PlaceBidRequest{TripID: f.trip, SenderID: alice, Amount: 100, RequestID: "req-1"}

	t.Run("first request", func(t *testing.T) {
		redisClient.EXPECT().SetNX(gomock.Any(), key, "pending", time.Hour).Return(true, nil)
		redisClient.EXPECT().Incr(gomock.Any(), fmt.Sprintf("user:%d:balance:version", alice)).Return(int64(1), nil)
		redisClient.EXPECT().Del(gomock.Any(), fmt.Sprintf("user:%d:balance", alice)).Return(nil)

		_, err := f.auction.PlaceOrUpdateBid(context.Background(), req)
		require.NoError(t, err)
	})

	t.Run("replay", func(t *testing.T) {
		redisClient.EXPECT().SetNX(gomock.Any(), key, "pending", time.Hour).Return(false, nil)

		_, err := f.auction.PlaceOrUpdateBid(context.Background(), req)
		assert.ErrorIs(t, err, pkgerrors.ErrRequestAlreadyProcessed)
		assert.Equal(t, int64(900), f.balance(t, alice))
	})

	t.Run("failed placement releases the key", func(t *testing.T) {
		failed := PlaceBidRequest{TripID: 9999, SenderID: alice, Amount: 100, RequestID: "req-2"}
		failedKey := fmt.Sprintf("request:bid:%d:req-2", alice)
		redisClient.EXPECT().SetNX(gomock.Any(), failedKey, "pending", time.Hour).Return(true, nil)
		redisClient.EXPECT().Del(gomock.Any(), failedKey).Return(nil)

		_, err := f.auction.PlaceOrUpdateBid(context.Background(), failed)
		assert.ErrorIs(t, err, pkgerrors.ErrTripNotFound)
	})

	t.Run("redis failure", func(t *testing.T) {
		redisClient.EXPECT().SetNX(gomock.Any(), gomock.Any(), "pending", time.Hour).Return(false, errors.New("connection refused"))

		_, err := f.auction.PlaceOrUpdateBid(context.Background(), PlaceBidRequest{TripID: f.trip, SenderID: alice, Amount: 300, RequestID: "req-3"})
		assert.Error(t, err)
	})
}

// faultyStore wraps the memory store; inside units of work wallet credits
// fail with failCredit and balances read drift higher.
type faultyStore struct {
	*memory.Store
	failCredit error
	drift      int64
}

func (s *faultyStore) RunInTx(ctx context.Context, fn func(ctx context.Context, uow repository.UnitOfWork) error) error {
	return s.Store.RunInTx(ctx, func(ctx context.Context, uow repository.UnitOfWork) error {
		return fn(ctx, faultyUoW{UnitOfWork: uow, failCredit: s.failCredit, drift: s.drift})
	})
}

type faultyUoW struct {
	repository.UnitOfWork
	failCredit error
	drift      int64
}

func (u faultyUoW) Wallet() repository.WalletRepository {
	return faultyWallet{WalletRepository: u.UnitOfWork.Wallet(), failCredit: u.failCredit, drift: u.drift}
}

type faultyWallet struct {
	repository.WalletRepository
	failCredit error
	drift      int64
}

func (w faultyWallet) Credit(ctx context.Context, userID, amount int64, description string) (int64, error) {
	if w.failCredit != nil {
		return 0, w.failCredit
	}
	return w.WalletRepository.Credit(ctx, userID, amount, description)
}

func (w faultyWallet) Balance(ctx context.Context, userID int64) (int64, error) {
	balance, err := w.WalletRepository.Balance(ctx, userID)
	return balance + w.drift, err
}
