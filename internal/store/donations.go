package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/punchamoorthee/walletledger/internal/domain"
)

const donationColumns = "id, donor_id, beneficiary_id, amount, message, status, transaction_id, created_at"

func scanDonation(row pgx.Row) (*domain.Donation, error) {
	var d domain.Donation
	var status string
	if err := row.Scan(&d.ID, &d.DonorID, &d.BeneficiaryID, &d.Amount, &d.Message, &status, &d.TransactionID, &d.CreatedAt); err != nil {
		return nil, err
	}
	d.Status = domain.DonationStatus(status)
	return &d, nil
}

// InsertDonation writes a donation row. d.ID must be set by the caller so
// ledger entries can reference it before the row exists.
func (q *Queries) InsertDonation(ctx context.Context, d *domain.Donation) error {
	err := q.db.QueryRow(ctx, `
		INSERT INTO donations (id, donor_id, beneficiary_id, amount, message, status, transaction_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`,
		d.ID, d.DonorID, d.BeneficiaryID, d.Amount.StringFixed(domain.AmountScale), d.Message, string(d.Status), d.TransactionID,
	).Scan(&d.CreatedAt)
	if err != nil {
		return fmt.Errorf("donation insert failed: %w", err)
	}
	return nil
}

func (q *Queries) GetDonation(ctx context.Context, id uuid.UUID) (*domain.Donation, error) {
	d, err := scanDonation(q.db.QueryRow(ctx,
		"SELECT "+donationColumns+" FROM donations WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrDonationNotFound
		}
		return nil, err
	}
	return d, nil
}

func (q *Queries) GetDonationForDonor(ctx context.Context, donorID, id uuid.UUID) (*domain.Donation, error) {
	d, err := scanDonation(q.db.QueryRow(ctx,
		"SELECT "+donationColumns+" FROM donations WHERE id = $1 AND donor_id = $2", id, donorID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrDonationNotFound
		}
		return nil, err
	}
	return d, nil
}

// ListDonations pages a donor's donations newest first. A nil bound leaves
// that side of the date range open.
func (q *Queries) ListDonations(ctx context.Context, donorID uuid.UUID, f domain.DonationFilter) ([]domain.Donation, int, error) {
	f = f.Normalize()

	where := []string{"donor_id = $1"}
	args := []any{donorID}
	if f.StartDate != nil {
		args = append(args, *f.StartDate)
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if f.EndDate != nil {
		args = append(args, *f.EndDate)
		where = append(where, fmt.Sprintf("created_at <= $%d", len(args)))
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := q.db.QueryRow(ctx, "SELECT COUNT(*) FROM donations WHERE "+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("donation count failed: %w", err)
	}

	args = append(args, f.Limit, f.Offset())
	rows, err := q.db.Query(ctx,
		fmt.Sprintf("SELECT %s FROM donations WHERE %s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d",
			donationColumns, cond, len(args)-1, len(args)),
		args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	donations := make([]domain.Donation, 0, f.Limit)
	for rows.Next() {
		d, err := scanDonation(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("donation scan failed: %w", err)
		}
		donations = append(donations, *d)
	}
	return donations, total, rows.Err()
}

func (q *Queries) CountDonations(ctx context.Context, donorID uuid.UUID) (int, error) {
	var count int
	err := q.db.QueryRow(ctx, "SELECT COUNT(*) FROM donations WHERE donor_id = $1", donorID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("donation count failed: %w", err)
	}
	return count, nil
}
