package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/punchamoorthee/walletledger/internal/domain"
	"github.com/punchamoorthee/walletledger/internal/metrics"
	"github.com/shopspring/decimal"
)

// LockMode selects the row lock taken by LockWallets.
type LockMode int

const (
	LockExclusive LockMode = iota // FOR UPDATE
	LockShared                    // FOR SHARE
)

func (m LockMode) clause() string {
	if m == LockShared {
		return "FOR SHARE"
	}
	return "FOR UPDATE"
}

func (m LockMode) String() string {
	if m == LockShared {
		return "shared"
	}
	return "exclusive"
}

const walletColumns = "id, user_id, balance, created_at, updated_at"

func scanWallet(row pgx.Row) (*domain.Wallet, error) {
	var w domain.Wallet
	if err := row.Scan(&w.ID, &w.UserID, &w.Balance, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return nil, err
	}
	return &w, nil
}

// SortWalletIDs orders ids the way Postgres orders uuid values.
func SortWalletIDs(ids []uuid.UUID) {
	sort.Slice(ids, func(i, j int) bool {
		return bytes.Compare(ids[i][:], ids[j][:]) < 0
	})
}

// LockWallets resolves the wallets owned by userIDs and locks them one by
// one in ascending wallet id order, independent of argument order. Two
// callers locking an overlapping set therefore never wait on each other in
// a cycle. The returned map is keyed by user id.
func (q *Queries) LockWallets(ctx context.Context, mode LockMode, userIDs ...uuid.UUID) (map[uuid.UUID]*domain.Wallet, error) {
	if len(userIDs) == 0 {
		return map[uuid.UUID]*domain.Wallet{}, nil
	}

	users := make([]string, len(userIDs))
	for i, id := range userIDs {
		users[i] = id.String()
	}

	rows, err := q.db.Query(ctx, "SELECT id, user_id FROM wallets WHERE user_id = ANY($1::uuid[])", users)
	if err != nil {
		return nil, fmt.Errorf("wallet lookup failed: %w", err)
	}
	var walletIDs []uuid.UUID
	for rows.Next() {
		var walletID, userID uuid.UUID
		if err := rows.Scan(&walletID, &userID); err != nil {
			rows.Close()
			return nil, fmt.Errorf("wallet lookup scan failed: %w", err)
		}
		walletIDs = append(walletIDs, walletID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("wallet lookup failed: %w", err)
	}

	SortWalletIDs(walletIDs)

	locked := make(map[uuid.UUID]*domain.Wallet, len(walletIDs))
	stmt := "SELECT " + walletColumns + " FROM wallets WHERE id = $1 " + mode.clause()
	for _, id := range walletIDs {
		start := time.Now()
		w, err := scanWallet(q.db.QueryRow(ctx, stmt, id))
		metrics.ObserveLockWait(mode.String(), time.Since(start))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, domain.ErrWalletNotFound
			}
			return nil, fmt.Errorf("lock acquisition failed: %w", err)
		}
		locked[w.UserID] = w
	}

	for _, id := range userIDs {
		if _, ok := locked[id]; !ok {
			return nil, domain.ErrWalletNotFound
		}
	}
	return locked, nil
}

// UpdateWalletBalance writes an absolute balance. Callers must hold the
// row's exclusive lock.
func (q *Queries) UpdateWalletBalance(ctx context.Context, walletID uuid.UUID, balance decimal.Decimal) error {
	tag, err := q.db.Exec(ctx,
		"UPDATE wallets SET balance = $1, updated_at = now() WHERE id = $2",
		balance.StringFixed(domain.AmountScale), walletID,
	)
	if err != nil {
		return fmt.Errorf("balance update failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrWalletNotFound
	}
	return nil
}

func (q *Queries) GetWalletByUser(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error) {
	w, err := scanWallet(q.db.QueryRow(ctx,
		"SELECT "+walletColumns+" FROM wallets WHERE user_id = $1", userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrWalletNotFound
		}
		return nil, err
	}
	return w, nil
}

// LedgerNet returns credits minus debits and the entry count for a wallet.
func (q *Queries) LedgerNet(ctx context.Context, walletID uuid.UUID) (decimal.Decimal, int, error) {
	var net decimal.Decimal
	var count int
	err := q.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(CASE WHEN type = 'CREDIT' THEN amount ELSE -amount END), 0), COUNT(*)
		FROM ledger_entries
		WHERE wallet_id = $1`, walletID).Scan(&net, &count)
	if err != nil {
		return decimal.Zero, 0, fmt.Errorf("ledger sum failed: %w", err)
	}
	return net, count, nil
}
