package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/punchamoorthee/walletledger/internal/domain"
	"github.com/punchamoorthee/walletledger/internal/store"
)

// GetWallet returns the caller's wallet, from cache when fresh.
func (s *WalletService) GetWallet(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error) {
	return s.views.Wallet(ctx, userID, func(ctx context.Context) (*domain.Wallet, error) {
		return s.ledger.GetWalletByUser(ctx, userID)
	})
}

func (s *WalletService) ListDonations(ctx context.Context, donorID uuid.UUID, f domain.DonationFilter) (*domain.DonationPage, error) {
	f = f.Normalize()
	return s.views.Donations(ctx, donorID, f, func(ctx context.Context) (*domain.DonationPage, error) {
		donations, total, err := s.ledger.ListDonations(ctx, donorID, f)
		if err != nil {
			return nil, err
		}
		return &domain.DonationPage{Data: donations, Meta: domain.NewPageMeta(total, f.Page, f.Limit)}, nil
	})
}

// CountDonations returns the cached donation count. Decisions that must see
// every committed donation use the store directly.
func (s *WalletService) CountDonations(ctx context.Context, donorID uuid.UUID) (int, error) {
	return s.views.DonationCount(ctx, donorID, func(ctx context.Context) (int, error) {
		return s.ledger.CountDonations(ctx, donorID)
	})
}

func (s *WalletService) GetDonation(ctx context.Context, donorID, donationID uuid.UUID) (*domain.Donation, error) {
	return s.ledger.GetDonationForDonor(ctx, donorID, donationID)
}

// GetDonationTransaction returns the DEBIT entry a donation links to.
func (s *WalletService) GetDonationTransaction(ctx context.Context, donorID, donationID uuid.UUID) (*domain.LedgerEntry, error) {
	return s.ledger.GetDonationEntry(ctx, donorID, donationID)
}

// ListEntries pages the caller's ledger statement.
func (s *WalletService) ListEntries(ctx context.Context, userID uuid.UUID, page, limit int) (*domain.EntryPage, error) {
	f := domain.DonationFilter{Page: page, Limit: limit}.Normalize()
	w, err := s.ledger.GetWalletByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	entries, total, err := s.ledger.ListEntries(ctx, w.ID, f.Limit, f.Offset())
	if err != nil {
		return nil, err
	}
	return &domain.EntryPage{Data: entries, Meta: domain.NewPageMeta(total, f.Page, f.Limit)}, nil
}

// Audit compares the wallet's balance with the net of its ledger while
// holding a shared lock, so no transfer can commit in between.
func (s *WalletService) Audit(ctx context.Context, userID uuid.UUID) (*domain.AuditReport, error) {
	var report *domain.AuditReport
	err := s.ledger.ExecTx(ctx, func(q store.Querier) error {
		wallets, err := q.LockWallets(ctx, store.LockShared, userID)
		if err != nil {
			return err
		}
		w := wallets[userID]
		net, count, err := q.LedgerNet(ctx, w.ID)
		if err != nil {
			return err
		}
		report = &domain.AuditReport{
			WalletID:      w.ID,
			Balance:       w.Balance,
			LedgerBalance: net,
			Entries:       count,
			Consistent:    w.Balance.Equal(net),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !report.Consistent {
		s.log.WithField("wallet_id", report.WalletID).Error("wallet balance does not match ledger")
	}
	return report, nil
}
