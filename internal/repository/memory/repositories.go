package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/honeynil/ParcelBidService/internal/models"
	pkgerrors "github.com/honeynil/ParcelBidService/pkg/errors"
	"github.com/shopspring/decimal"
)

type tripRepo struct{ s *Store }

func (r tripRepo) GetByID(_ context.Context, id int64) (*models.Trip, error) {
	var trip *models.Trip
	r.s.view(func(st *state) {
		if t, ok := st.trips[id]; ok {
			trip = &t
		}
	})
	if trip == nil {
		return nil, pkgerrors.ErrTripNotFound
	}
	return trip, nil
}

// GetForUpdate needs no extra locking: a unit of work already owns the store.
func (r tripRepo) GetForUpdate(ctx context.Context, id int64) (*models.Trip, error) {
	return r.GetByID(ctx, id)
}

type packageRepo struct{ s *Store }

func (r packageRepo) LatestWeight(_ context.Context, userID int64) (decimal.Decimal, error) {
	var (
		entry models.PackageEntry
		found bool
	)
	r.s.view(func(st *state) { entry, found = st.latestWeight(userID) })
	if !found {
		return decimal.Zero, pkgerrors.ErrNoPackageEntry
	}
	if !entry.Weight.Valid {
		return decimal.Zero, pkgerrors.ErrInvalidWeight
	}
	return entry.Weight.Decimal, nil
}

type userRepo struct{ s *Store }

func (r userRepo) GetByID(_ context.Context, id int64) (*models.User, error) {
	var user *models.User
	r.s.view(func(st *state) {
		if u, ok := st.users[id]; ok {
			user = &u
		}
	})
	if user == nil {
		return nil, pkgerrors.ErrUserNotFound
	}
	return user, nil
}

type bidRepo struct{ s *Store }

func (r bidRepo) GetByID(_ context.Context, id int64) (*models.Bid, error) {
	var bid *models.Bid
	r.s.view(func(st *state) {
		if b, ok := st.bids[id]; ok {
			bid = &b
		}
	})
	if bid == nil {
		return nil, pkgerrors.ErrBidNotFound
	}
	return bid, nil
}

func (r bidRepo) GetForUpdate(ctx context.Context, id int64) (*models.Bid, error) {
	return r.GetByID(ctx, id)
}

func (r bidRepo) filter(st *state, keep func(models.Bid) bool) []models.Bid {
	var out []models.Bid
	for _, b := range st.bids {
		if keep(b) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r bidRepo) withWeights(st *state, bids []models.Bid, requireEntry bool) []models.WeightedBid {
	out := make([]models.WeightedBid, 0, len(bids))
	for _, b := range bids {
		entry, found := st.latestWeight(b.SenderID)
		if !found || !entry.Weight.Valid {
			if requireEntry {
				continue
			}
			out = append(out, models.WeightedBid{Bid: b})
			continue
		}
		out = append(out, models.WeightedBid{Bid: b, Weight: entry.Weight.Decimal})
	}
	return out
}

func (r bidRepo) LockAccepted(_ context.Context, tripID int64) ([]models.WeightedBid, error) {
	var out []models.WeightedBid
	r.s.view(func(st *state) {
		accepted := r.filter(st, func(b models.Bid) bool { return b.TripID == tripID && b.Status == models.BidAccepted })
		out = r.withWeights(st, accepted, false)
	})
	return out, nil
}

func (r bidRepo) ActiveWithWeights(_ context.Context, tripID int64) ([]models.WeightedBid, error) {
	var out []models.WeightedBid
	r.s.view(func(st *state) {
		active := r.filter(st, func(b models.Bid) bool { return b.TripID == tripID && b.Status == models.BidActive })
		out = r.withWeights(st, active, true)
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].SenderID < out[j].SenderID })
	return out, nil
}

func (r bidRepo) ListActive(_ context.Context, tripID int64) ([]models.Bid, error) {
	var out []models.Bid
	r.s.view(func(st *state) {
		out = r.filter(st, func(b models.Bid) bool { return b.TripID == tripID && b.Status == models.BidActive })
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].Amount > out[j].Amount })
	return out, nil
}

func (r bidRepo) Create(_ context.Context, bid *models.Bid) error {
	if bid == nil {
		return pkgerrors.ErrInvalidInput
	}
	if bid.Amount <= 0 {
		return pkgerrors.ErrInvalidAmount
	}
	if bid.Status == "" {
		bid.Status = models.BidActive
	}

	var err error
	r.s.view(func(st *state) {
		if bid.Status == models.BidActive {
			for _, b := range st.bids {
				if b.TripID == bid.TripID && b.SenderID == bid.SenderID && b.Status == models.BidActive {
					err = fmt.Errorf("%w (one active bid per sender)", pkgerrors.ErrConcurrentUpdate)
					return
				}
			}
		}
		bid.ID = st.nextID()
		bid.CreatedAt = st.tick()
		bid.UpdatedAt = bid.CreatedAt
		st.bids[bid.ID] = *bid
	})
	return err
}

func (r bidRepo) update(id int64, mutate func(b *models.Bid)) error {
	var found bool
	r.s.view(func(st *state) {
		b, ok := st.bids[id]
		if !ok {
			return
		}
		found = true
		mutate(&b)
		b.UpdatedAt = st.tick()
		st.bids[id] = b
	})
	if !found {
		return pkgerrors.ErrBidNotFound
	}
	return nil
}

func (r bidRepo) UpdateAmount(_ context.Context, id, amount int64) error {
	if amount <= 0 {
		return pkgerrors.ErrInvalidAmount
	}
	return r.update(id, func(b *models.Bid) { b.Amount = amount })
}

func (r bidRepo) UpdateStatus(_ context.Context, id int64, status models.BidStatus) error {
	switch status {
	case models.BidActive, models.BidAccepted, models.BidRejected:
	default:
		return fmt.Errorf("%w: unknown bid status %q", pkgerrors.ErrInvalidInput, status)
	}
	return r.update(id, func(b *models.Bid) { b.Status = status })
}

func (r bidRepo) ListByTrip(_ context.Context, tripID int64) ([]models.TripBid, error) {
	out := []models.TripBid{}
	r.s.view(func(st *state) {
		for _, b := range r.filter(st, func(b models.Bid) bool { return b.TripID == tripID }) {
			u, ok := st.users[b.SenderID]
			if !ok {
				continue
			}
			out = append(out, models.TripBid{Bid: b, Username: u.Username})
		}
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].Amount > out[j].Amount })
	return out, nil
}

func (r bidRepo) ListBySender(_ context.Context, senderID int64) ([]models.SenderBid, error) {
	out := []models.SenderBid{}
	r.s.view(func(st *state) {
		for _, b := range r.filter(st, func(b models.Bid) bool { return b.SenderID == senderID }) {
			t, ok := st.trips[b.TripID]
			if !ok {
				continue
			}
			out = append(out, models.SenderBid{Bid: b, DepartureAirport: t.DepartureAirport, ArrivalAirport: t.ArrivalAirport})
		}
	})
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

type walletRepo struct{ s *Store }

func credit(st *state, userID, amount int64, description string) int64 {
	u := st.users[userID]
	u.Connects += amount
	st.users[userID] = u
	st.txs = append(st.txs, models.Transaction{
		ID:          st.nextID(),
		UserID:      userID,
		Description: description,
		Amount:      amount,
		Type:        models.TypeCredit,
		CreatedAt:   st.tick(),
	})
	return u.Connects
}

func (r walletRepo) Balance(_ context.Context, userID int64) (int64, error) {
	var (
		balance int64
		found   bool
	)
	r.s.view(func(st *state) {
		var u models.User
		u, found = st.users[userID]
		balance = u.Connects
	})
	if !found {
		return 0, pkgerrors.ErrUserNotFound
	}
	return balance, nil
}

func (r walletRepo) Debit(_ context.Context, userID, amount int64, description string) (int64, error) {
	if amount <= 0 {
		return 0, pkgerrors.ErrInvalidAmount
	}

	var (
		balance int64
		err     error
	)
	r.s.view(func(st *state) {
		u, ok := st.users[userID]
		if !ok {
			err = pkgerrors.ErrUserNotFound
			return
		}
		if u.Connects < amount {
			err = fmt.Errorf("%w: balance %d, required %d", pkgerrors.ErrInsufficientBalance, u.Connects, amount)
			return
		}
		u.Connects -= amount
		st.users[userID] = u
		st.txs = append(st.txs, models.Transaction{
			ID:          st.nextID(),
			UserID:      userID,
			Description: description,
			Amount:      amount,
			Type:        models.TypeDebit,
			CreatedAt:   st.tick(),
		})
		balance = u.Connects
	})
	return balance, err
}

func (r walletRepo) Credit(_ context.Context, userID, amount int64, description string) (int64, error) {
	if amount <= 0 {
		return 0, pkgerrors.ErrInvalidAmount
	}

	var (
		balance int64
		found   bool
	)
	r.s.view(func(st *state) {
		if _, found = st.users[userID]; found {
			balance = credit(st, userID, amount, description)
		}
	})
	if !found {
		return 0, pkgerrors.ErrUserNotFound
	}
	return balance, nil
}

func (r walletRepo) History(_ context.Context, userID int64, limit uint64) ([]models.Transaction, error) {
	out := []models.Transaction{}
	r.s.view(func(st *state) {
		for i := len(st.txs) - 1; i >= 0; i-- {
			if st.txs[i].UserID != userID {
				continue
			}
			if limit > 0 && uint64(len(out)) >= limit {
				break
			}
			out = append(out, st.txs[i])
		}
	})
	return out, nil
}

func (r walletRepo) LedgerSum(_ context.Context, userID int64) (int64, error) {
	var sum int64
	r.s.view(func(st *state) {
		for _, tx := range st.txs {
			if tx.UserID == userID {
				sum += tx.Signed()
			}
		}
	})
	return sum, nil
}
