package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/punchamoorthee/walletledger/internal/domain"
	"github.com/punchamoorthee/walletledger/internal/metrics"
	"github.com/punchamoorthee/walletledger/internal/store"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const fundedMessage = "Funds added to wallet successfully"

// AddFunds credits the user's wallet with amount and records a CREDIT entry.
// Funding carries no idempotency key; a retried request credits again.
func (s *WalletService) AddFunds(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (*domain.FundResult, error) {
	res, err := s.addFunds(ctx, userID, amount)
	if err != nil {
		metrics.Fundings.WithLabelValues(domain.KindOf(err).String()).Inc()
		return nil, err
	}
	metrics.Fundings.WithLabelValues("completed").Inc()
	return res, nil
}

func (s *WalletService) addFunds(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (*domain.FundResult, error) {
	if err := domain.ValidateAmount(amount); err != nil {
		return nil, err
	}

	var balance decimal.Decimal
	err := s.ledger.ExecTx(ctx, func(q store.Querier) error {
		wallets, err := q.LockWallets(ctx, store.LockExclusive, userID)
		if err != nil {
			return err
		}
		w := wallets[userID]

		balance = w.Balance.Add(amount)
		if !domain.FitsBalance(balance) {
			return domain.ErrBalanceLimit
		}
		if err := q.UpdateWalletBalance(ctx, w.ID, balance); err != nil {
			return err
		}
		return q.InsertEntry(ctx, &domain.LedgerEntry{
			WalletID:    w.ID,
			Type:        domain.EntryCredit,
			Amount:      amount,
			Description: "Wallet funding",
			Metadata:    entryMetadata(map[string]any{"source": "manual"}),
		})
	})
	if err != nil {
		return nil, err
	}

	s.views.Invalidate(context.WithoutCancel(ctx), userID)

	s.log.WithFields(logrus.Fields{
		"user_id": userID,
		"amount":  amount.StringFixed(domain.AmountScale),
	}).Info("wallet funded")

	return &domain.FundResult{Message: fundedMessage, Balance: balance}, nil
}
