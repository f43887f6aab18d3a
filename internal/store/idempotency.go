package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/punchamoorthee/walletledger/internal/domain"
)

// FindIdempotencyKey returns nil, nil when the key is unknown.
func (q *Queries) FindIdempotencyKey(ctx context.Context, key string) (*domain.IdempotencyKey, error) {
	var k domain.IdempotencyKey
	err := q.db.QueryRow(ctx,
		"SELECT id, key, user_id, donation_id, created_at FROM idempotency_keys WHERE key = $1",
		key,
	).Scan(&k.ID, &k.Key, &k.UserID, &k.DonationID, &k.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("idempotency query failed: %w", err)
	}
	return &k, nil
}

// BindIdempotencyKey inserts a new binding. An existing key is never
// overwritten: the unique constraint turns a duplicate into
// domain.ErrIdempotencyKeyExists.
func (q *Queries) BindIdempotencyKey(ctx context.Context, k *domain.IdempotencyKey) error {
	if k.ID == uuid.Nil {
		k.ID = uuid.New()
	}
	err := q.db.QueryRow(ctx, `
		INSERT INTO idempotency_keys (id, key, user_id, donation_id)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`,
		k.ID, k.Key, k.UserID, k.DonationID,
	).Scan(&k.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return &domain.Error{
				Kind:    domain.ErrIdempotencyKeyExists.Kind,
				Code:    domain.ErrIdempotencyKeyExists.Code,
				Message: domain.ErrIdempotencyKeyExists.Message,
				Err:     err,
			}
		}
		return fmt.Errorf("key binding failed: %w", err)
	}
	return nil
}
