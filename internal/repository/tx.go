package repository

import "context"

// UnitOfWork exposes repositories bound to one database transaction.
type UnitOfWork interface {
	Trips() TripRepository
	Packages() PackageRepository
	Users() UserRepository
	Bids() BidRepository
	Wallet() WalletRepository
}

// TxManager runs fn as one atomic unit: everything fn does through uow
// commits together when fn returns nil and is rolled back otherwise.
type TxManager interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, uow UnitOfWork) error) error
}

// Store is the storage backend: UnitOfWork methods on it run outside any
// transaction (plain reads), RunInTx opens one.
type Store interface {
	UnitOfWork
	TxManager
}
