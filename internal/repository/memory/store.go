// Package memory is an in-process repository.Store. A single mutex guards the
// whole data set, so units of work are fully serialized; each one works on a
// copy that replaces the committed state only when it succeeds.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/honeynil/ParcelBidService/internal/models"
	"github.com/honeynil/ParcelBidService/internal/repository"
	"github.com/shopspring/decimal"
)

type state struct {
	users    map[int64]models.User
	trips    map[int64]models.Trip
	packages []models.PackageEntry
	bids     map[int64]models.Bid
	txs      []models.Transaction

	lastID int64
	clock  time.Time
}

func (st *state) clone() *state {
	c := &state{
		users:    make(map[int64]models.User, len(st.users)),
		trips:    make(map[int64]models.Trip, len(st.trips)),
		packages: append([]models.PackageEntry(nil), st.packages...),
		bids:     make(map[int64]models.Bid, len(st.bids)),
		txs:      append([]models.Transaction(nil), st.txs...),
		lastID:   st.lastID,
		clock:    st.clock,
	}
	for k, v := range st.users {
		c.users[k] = v
	}
	for k, v := range st.trips {
		c.trips[k] = v
	}
	for k, v := range st.bids {
		c.bids[k] = v
	}
	return c
}

func (st *state) nextID() int64 {
	st.lastID++
	return st.lastID
}

// tick advances the logical clock so timestamps are strictly increasing.
func (st *state) tick() time.Time {
	st.clock = st.clock.Add(time.Millisecond)
	return st.clock
}

// latestWeight applies the latest-entry-per-sender rule: newest created_at,
// then highest id.
func (st *state) latestWeight(userID int64) (models.PackageEntry, bool) {
	var latest models.PackageEntry
	found := false
	for _, p := range st.packages {
		if p.UserID != userID {
			continue
		}
		if !found || p.CreatedAt.After(latest.CreatedAt) || (p.CreatedAt.Equal(latest.CreatedAt) && p.ID > latest.ID) {
			latest = p
			found = true
		}
	}
	return latest, found
}

type Store struct {
	mu   *sync.Mutex
	st   *state
	inTx bool
}

func NewStore() *Store {
	return &Store{
		mu: &sync.Mutex{},
		st: &state{
			users: map[int64]models.User{},
			trips: map[int64]models.Trip{},
			bids:  map[int64]models.Bid{},
			clock: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		},
	}
}

// view runs fn against the visible state, taking the store lock unless the
// caller already holds it through a unit of work.
func (s *Store) view(fn func(st *state)) {
	if !s.inTx {
		s.mu.Lock()
		defer s.mu.Unlock()
	}
	fn(s.st)
}

func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, uow repository.UnitOfWork) error) error {
	if s.inTx {
		return fn(ctx, s)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	work := &Store{mu: s.mu, st: s.st.clone(), inTx: true}
	if err := fn(ctx, work); err != nil {
		return err
	}
	s.st = work.st
	return nil
}

func (s *Store) Trips() repository.TripRepository       { return tripRepo{s} }
func (s *Store) Packages() repository.PackageRepository { return packageRepo{s} }
func (s *Store) Users() repository.UserRepository       { return userRepo{s} }
func (s *Store) Bids() repository.BidRepository         { return bidRepo{s} }
func (s *Store) Wallet() repository.WalletRepository    { return walletRepo{s} }

// AddUser seeds a user. A positive opening balance is booked as a credit so
// the balance stays equal to the ledger sum.
func (s *Store) AddUser(username string, connects int64) int64 {
	var id int64
	s.view(func(st *state) {
		id = st.nextID()
		st.users[id] = models.User{ID: id, Username: username, CreatedAt: st.tick()}
		if connects > 0 {
			credit(st, id, connects, "Opening balance")
		}
	})
	return id
}

// AddTrip seeds a trip. Pass decimal.NullDecimal{} for a missing capacity.
func (s *Store) AddTrip(travelerID int64, capacity decimal.NullDecimal, status models.TripStatus) int64 {
	var id int64
	s.view(func(st *state) {
		id = st.nextID()
		st.trips[id] = models.Trip{
			ID:               id,
			TravelerID:       travelerID,
			DepartureAirport: "DXB",
			ArrivalAirport:   "LHR",
			Capacity:         capacity,
			Status:           status,
		}
	})
	return id
}

// SetTripStatus mimics a trip lifecycle event from the trip service.
func (s *Store) SetTripStatus(tripID int64, status models.TripStatus) {
	s.view(func(st *state) {
		if t, ok := st.trips[tripID]; ok {
			t.Status = status
			st.trips[tripID] = t
		}
	})
}

// AddPackage seeds a package entry newer than every existing one.
func (s *Store) AddPackage(userID int64, weight decimal.NullDecimal) int64 {
	var id int64
	s.view(func(st *state) {
		id = st.nextID()
		st.packages = append(st.packages, models.PackageEntry{ID: id, UserID: userID, Weight: weight, CreatedAt: st.tick()})
	})
	return id
}

// Transactions returns a user's ledger in insertion order.
func (s *Store) Transactions(userID int64) []models.Transaction {
	var out []models.Transaction
	s.view(func(st *state) {
		for _, tx := range st.txs {
			if tx.UserID == userID {
				out = append(out, tx)
			}
		}
	})
	return out
}

// Bid returns a bid by id regardless of status.
func (s *Store) Bid(id int64) (models.Bid, bool) {
	var b models.Bid
	var ok bool
	s.view(func(st *state) { b, ok = st.bids[id] })
	return b, ok
}

// BidsForTrip returns all bids of a trip ordered by id.
func (s *Store) BidsForTrip(tripID int64) []models.Bid {
	var out []models.Bid
	s.view(func(st *state) {
		for _, b := range st.bids {
			if b.TripID == tripID {
				out = append(out, b)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
