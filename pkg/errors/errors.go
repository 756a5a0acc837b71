package errors

import (
	"errors"
	"fmt"
)

// Categories. Concrete errors wrap one of them, so callers can branch on the
// category or on the specific failure with errors.Is.
var (
	ErrValidation          = errors.New("validation error")
	ErrNotFound            = errors.New("not found")
	ErrAuctionRule         = errors.New("auction rule violation")
	ErrCapacity            = errors.New("capacity violation")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrConflict            = errors.New("conflict")
)

var (
	ErrInvalidInput  = fmt.Errorf("%w: invalid input", ErrValidation)
	ErrInvalidAmount = fmt.Errorf("%w: amount must be a positive integer", ErrValidation)
	ErrInvalidWeight = fmt.Errorf("%w: invalid package weight", ErrValidation)
	// Trip rows with a missing, non-numeric or non-positive capacity.
	ErrInvalidCapacity = fmt.Errorf("%w: invalid or missing trip capacity", ErrValidation)

	ErrTripNotFound   = fmt.Errorf("%w: trip not found", ErrNotFound)
	ErrBidNotFound    = fmt.Errorf("%w: bid not found", ErrNotFound)
	ErrUserNotFound   = fmt.Errorf("%w: user not found", ErrNotFound)
	ErrNoPackageEntry = fmt.Errorf("%w: sender has no package entry with weight", ErrNotFound)

	ErrFirstBidMustBeBaseline = fmt.Errorf("%w: first bid must equal the baseline amount", ErrAuctionRule)
	ErrBidTooLow              = fmt.Errorf("%w: bid must be higher than current highest bid", ErrAuctionRule)

	ErrPackageExceedsCapacity = fmt.Errorf("%w: package exceeds trip capacity", ErrCapacity)
	ErrInsufficientCapacity   = fmt.Errorf("%w: insufficient remaining capacity", ErrCapacity)

	ErrTripClosed              = fmt.Errorf("%w: trip is no longer open for bidding", ErrConflict)
	ErrAlreadyAccepted         = fmt.Errorf("%w: bid already accepted", ErrConflict)
	ErrBidNotActive            = fmt.Errorf("%w: bid is not active", ErrConflict)
	ErrConcurrentUpdate        = fmt.Errorf("%w: concurrent update, retry the request", ErrConflict)
	ErrRequestAlreadyProcessed = fmt.Errorf("%w: request already processed", ErrConflict)

	ErrLedgerDrift = errors.New("wallet balance diverged from ledger")
)
