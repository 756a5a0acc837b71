package memory

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/honeynil/ParcelBidService/internal/models"
	"github.com/shopspring/decimal"
)

// Seed is the JSON fixture the memory driver can start from. Trips and
// packages refer to users by username.
type Seed struct {
	Users []struct {
		Username string `json:"username"`
		Connects int64  `json:"connects"`
	} `json:"users"`
	Trips []struct {
		Traveler string              `json:"traveler"`
		Capacity decimal.NullDecimal `json:"capacity"`
		Status   models.TripStatus   `json:"status"`
	} `json:"trips"`
	Packages []struct {
		Username string              `json:"username"`
		Weight   decimal.NullDecimal `json:"weight"`
	} `json:"packages"`
}

// LoadSeed decodes a Seed from r and adds its users, trips and packages in
// that order. Trips without a status are active.
func (s *Store) LoadSeed(r io.Reader) error {
	var seed Seed
	if err := json.NewDecoder(r).Decode(&seed); err != nil {
		return fmt.Errorf("failed to decode seed: %w", err)
	}

	users := make(map[string]int64, len(seed.Users))
	for _, u := range seed.Users {
		if u.Username == "" {
			return fmt.Errorf("seed user without username")
		}
		if _, ok := users[u.Username]; ok {
			return fmt.Errorf("duplicate seed user %q", u.Username)
		}
		users[u.Username] = s.AddUser(u.Username, u.Connects)
		slog.Info("seeded user", "user_id", users[u.Username], "username", u.Username, "connects", u.Connects)
	}

	lookup := func(username string) (int64, error) {
		id, ok := users[username]
		if !ok {
			return 0, fmt.Errorf("seed refers to unknown user %q", username)
		}
		return id, nil
	}

	for _, t := range seed.Trips {
		traveler, err := lookup(t.Traveler)
		if err != nil {
			return err
		}
		status := t.Status
		if status == "" {
			status = models.TripActive
		}
		id := s.AddTrip(traveler, t.Capacity, status)
		slog.Info("seeded trip", "trip_id", id, "traveler_id", traveler, "status", status)
	}

	for _, p := range seed.Packages {
		userID, err := lookup(p.Username)
		if err != nil {
			return err
		}
		s.AddPackage(userID, p.Weight)
	}
	return nil
}
