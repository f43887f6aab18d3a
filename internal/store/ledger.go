package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/punchamoorthee/walletledger/internal/domain"
)

const entryColumns = "id, wallet_id, type, amount, description, donation_id, metadata, created_at"

func scanEntry(row pgx.Row) (*domain.LedgerEntry, error) {
	var e domain.LedgerEntry
	var entryType string
	if err := row.Scan(&e.ID, &e.WalletID, &entryType, &e.Amount, &e.Description, &e.DonationID, &e.Metadata, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.Type = domain.EntryType(entryType)
	return &e, nil
}

// InsertEntry appends a ledger row. e.ID is assigned when zero and
// e.CreatedAt is filled from the database.
func (q *Queries) InsertEntry(ctx context.Context, e *domain.LedgerEntry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	var metadata []byte
	if len(e.Metadata) > 0 {
		metadata = e.Metadata
	}
	err := q.db.QueryRow(ctx, `
		INSERT INTO ledger_entries (id, wallet_id, type, amount, description, donation_id, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`,
		e.ID, e.WalletID, string(e.Type), e.Amount.StringFixed(domain.AmountScale), e.Description, e.DonationID, metadata,
	).Scan(&e.CreatedAt)
	if err != nil {
		return fmt.Errorf("ledger entry failed: %w", err)
	}
	return nil
}

// GetDonationEntry returns the entry a donor's donation links to.
func (q *Queries) GetDonationEntry(ctx context.Context, donorID, donationID uuid.UUID) (*domain.LedgerEntry, error) {
	var transactionID *uuid.UUID
	err := q.db.QueryRow(ctx,
		"SELECT transaction_id FROM donations WHERE id = $1 AND donor_id = $2",
		donationID, donorID,
	).Scan(&transactionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrDonationNotFound
		}
		return nil, err
	}
	if transactionID == nil {
		return nil, domain.ErrEntryNotFound
	}

	e, err := scanEntry(q.db.QueryRow(ctx,
		"SELECT "+entryColumns+" FROM ledger_entries WHERE id = $1", *transactionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrEntryNotFound
		}
		return nil, err
	}
	return e, nil
}

// ListEntries returns a wallet's statement, newest first, with the total
// entry count.
func (q *Queries) ListEntries(ctx context.Context, walletID uuid.UUID, limit, offset int) ([]domain.LedgerEntry, int, error) {
	var total int
	if err := q.db.QueryRow(ctx,
		"SELECT COUNT(*) FROM ledger_entries WHERE wallet_id = $1", walletID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("entry count failed: %w", err)
	}

	rows, err := q.db.Query(ctx,
		"SELECT "+entryColumns+" FROM ledger_entries WHERE wallet_id = $1 ORDER BY created_at DESC, id LIMIT $2 OFFSET $3",
		walletID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	entries := make([]domain.LedgerEntry, 0, limit)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("entry scan failed: %w", err)
		}
		entries = append(entries, *e)
	}
	return entries, total, rows.Err()
}
