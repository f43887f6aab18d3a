package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/punchamoorthee/walletledger/internal/domain"
	"github.com/punchamoorthee/walletledger/internal/store"
)

// boundDonation returns the donation already bound to key, or nil when the
// key is unused. A key bound by another user is a conflict.
func boundDonation(ctx context.Context, q store.Querier, key string, userID uuid.UUID) (*domain.Donation, error) {
	k, err := q.FindIdempotencyKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if k == nil {
		return nil, nil
	}
	if k.UserID != userID {
		return nil, domain.ErrIdempotencyKeyConflict
	}
	if k.DonationID == nil {
		// The donation was removed after binding. The key stays spent.
		return nil, domain.ErrIdempotencyKeyExists
	}
	return q.GetDonation(ctx, *k.DonationID)
}

// bindKey records the first successful use of key. It fails with
// domain.ErrIdempotencyKeyExists when another unit of work bound it first.
func bindKey(ctx context.Context, q store.Querier, key string, userID, donationID uuid.UUID) error {
	return q.BindIdempotencyKey(ctx, &domain.IdempotencyKey{
		Key:        key,
		UserID:     userID,
		DonationID: &donationID,
	})
}

// resolveBindRace answers a request whose unit of work lost the race to bind
// its key. The winner has committed, so its donation is returned.
func (s *WalletService) resolveBindRace(ctx context.Context, key string, donorID uuid.UUID, cause error) (*domain.TransferResult, error) {
	if !errors.Is(cause, domain.ErrIdempotencyKeyExists) {
		return nil, cause
	}
	d, err := boundDonation(ctx, s.ledger, key, donorID)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, domain.Retryable(cause)
	}
	return &domain.TransferResult{Donation: d, Replayed: true}, nil
}
