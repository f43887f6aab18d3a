package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/punchamoorthee/walletledger/internal/domain"
	"github.com/shopspring/decimal"
)

// Querier is the set of ledger statements available inside and outside a
// unit of work. Lock methods only hold their locks when called through
// ExecTx.
type Querier interface {
	LockWallets(ctx context.Context, mode LockMode, userIDs ...uuid.UUID) (map[uuid.UUID]*domain.Wallet, error)
	UpdateWalletBalance(ctx context.Context, walletID uuid.UUID, balance decimal.Decimal) error
	GetWalletByUser(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error)
	LedgerNet(ctx context.Context, walletID uuid.UUID) (decimal.Decimal, int, error)

	InsertEntry(ctx context.Context, e *domain.LedgerEntry) error
	GetDonationEntry(ctx context.Context, donorID, donationID uuid.UUID) (*domain.LedgerEntry, error)
	ListEntries(ctx context.Context, walletID uuid.UUID, limit, offset int) ([]domain.LedgerEntry, int, error)

	InsertDonation(ctx context.Context, d *domain.Donation) error
	GetDonation(ctx context.Context, id uuid.UUID) (*domain.Donation, error)
	GetDonationForDonor(ctx context.Context, donorID, id uuid.UUID) (*domain.Donation, error)
	ListDonations(ctx context.Context, donorID uuid.UUID, f domain.DonationFilter) ([]domain.Donation, int, error)
	CountDonations(ctx context.Context, donorID uuid.UUID) (int, error)

	FindIdempotencyKey(ctx context.Context, key string) (*domain.IdempotencyKey, error)
	BindIdempotencyKey(ctx context.Context, k *domain.IdempotencyKey) error
}

var _ Querier = (*Queries)(nil)
