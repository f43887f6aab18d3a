package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/punchamoorthee/walletledger/internal/domain"
	"github.com/punchamoorthee/walletledger/internal/identity"
	"github.com/punchamoorthee/walletledger/internal/metrics"
	"github.com/punchamoorthee/walletledger/internal/store"
	"github.com/sirupsen/logrus"
)

// Donate moves req.Amount from the donor's wallet to the beneficiary's in
// one unit of work. A request carrying an idempotency key that already
// produced a donation returns that donation and changes nothing.
func (s *WalletService) Donate(ctx context.Context, donorID uuid.UUID, req domain.TransferRequest) (*domain.TransferResult, error) {
	res, err := s.donate(ctx, donorID, req)
	switch {
	case err != nil:
		metrics.Transfers.WithLabelValues(domain.KindOf(err).String()).Inc()
	case res.Replayed:
		metrics.IdempotentReplays.Inc()
		metrics.Transfers.WithLabelValues("replayed").Inc()
	default:
		metrics.Transfers.WithLabelValues("completed").Inc()
	}
	return res, err
}

func (s *WalletService) donate(ctx context.Context, donorID uuid.UUID, req domain.TransferRequest) (*domain.TransferResult, error) {
	if err := domain.ValidateAmount(req.Amount); err != nil {
		return nil, err
	}
	if donorID == req.BeneficiaryID {
		return nil, domain.ErrSelfTransfer
	}

	// 1. Fast replay outside any lock.
	if req.IdempotencyKey != "" {
		d, err := boundDonation(ctx, s.ledger, req.IdempotencyKey, donorID)
		if err != nil {
			return nil, err
		}
		if d != nil {
			return &domain.TransferResult{Donation: d, Replayed: true}, nil
		}
	}

	// 2. Identity checks. bcrypt is slow, so it runs before any row is locked.
	donor, err := s.users.ResolveUser(ctx, donorID)
	if err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			return nil, domain.ErrDonorNotFound
		}
		return nil, domain.Retryable(err)
	}
	if !donor.HasPIN() {
		return nil, domain.ErrPINNotSet
	}
	if !identity.VerifyPIN(donor.PINHash, req.PIN) {
		return nil, domain.ErrInvalidPIN
	}
	if _, err := s.users.ResolveUser(ctx, req.BeneficiaryID); err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			return nil, domain.ErrBeneficiaryNotFound
		}
		return nil, domain.Retryable(err)
	}

	// 3. Unit of work.
	var result *domain.TransferResult
	err = s.ledger.ExecTx(ctx, func(q store.Querier) error {
		result = nil
		if req.IdempotencyKey != "" {
			d, err := boundDonation(ctx, q, req.IdempotencyKey, donorID)
			if err != nil {
				return err
			}
			if d != nil {
				result = &domain.TransferResult{Donation: d, Replayed: true}
				return nil
			}
		}

		wallets, err := q.LockWallets(ctx, store.LockExclusive, donorID, req.BeneficiaryID)
		if err != nil {
			return err
		}
		from, to := wallets[donorID], wallets[req.BeneficiaryID]

		// Another request may have bound the key while we waited for locks.
		if req.IdempotencyKey != "" {
			d, err := boundDonation(ctx, q, req.IdempotencyKey, donorID)
			if err != nil {
				return err
			}
			if d != nil {
				result = &domain.TransferResult{Donation: d, Replayed: true}
				return nil
			}
		}

		if from.Balance.LessThan(req.Amount) {
			return domain.ErrInsufficientFunds
		}
		credited := to.Balance.Add(req.Amount)
		if !domain.FitsBalance(credited) {
			return domain.ErrBalanceLimit
		}

		if err := q.UpdateWalletBalance(ctx, from.ID, from.Balance.Sub(req.Amount)); err != nil {
			return err
		}
		if err := q.UpdateWalletBalance(ctx, to.ID, credited); err != nil {
			return err
		}

		donationID := uuid.New()
		debit := &domain.LedgerEntry{
			WalletID:    from.ID,
			Type:        domain.EntryDebit,
			Amount:      req.Amount,
			Description: fmt.Sprintf("Donation to %s", req.BeneficiaryID),
			DonationID:  &donationID,
			Metadata:    entryMetadata(map[string]any{"beneficiaryId": req.BeneficiaryID, "beneficiaryWalletId": to.ID}),
		}
		if err := q.InsertEntry(ctx, debit); err != nil {
			return err
		}
		credit := &domain.LedgerEntry{
			WalletID:    to.ID,
			Type:        domain.EntryCredit,
			Amount:      req.Amount,
			Description: fmt.Sprintf("Donation from %s", donorID),
			DonationID:  &donationID,
			Metadata:    entryMetadata(map[string]any{"donorId": donorID, "donorWalletId": from.ID}),
		}
		if err := q.InsertEntry(ctx, credit); err != nil {
			return err
		}

		donation := &domain.Donation{
			ID:            donationID,
			DonorID:       donorID,
			BeneficiaryID: req.BeneficiaryID,
			Amount:        req.Amount,
			Message:       req.Message,
			Status:        domain.DonationCompleted,
			TransactionID: &debit.ID,
		}
		if err := q.InsertDonation(ctx, donation); err != nil {
			return err
		}

		if req.IdempotencyKey != "" {
			if err := bindKey(ctx, q, req.IdempotencyKey, donorID, donationID); err != nil {
				return err
			}
		}

		result = &domain.TransferResult{Donation: donation}
		return nil
	})
	if err != nil {
		if req.IdempotencyKey != "" && errors.Is(err, domain.ErrIdempotencyKeyExists) {
			return s.resolveBindRace(ctx, req.IdempotencyKey, donorID, err)
		}
		return nil, err
	}
	if result.Replayed {
		return result, nil
	}

	// 4. Post-commit. Nothing here can undo the transfer.
	s.views.Invalidate(context.WithoutCancel(ctx), donorID, req.BeneficiaryID)
	s.notifier.TransferCompleted(donorID, req.BeneficiaryID)

	s.log.WithFields(logrus.Fields{
		"donation_id":    result.Donation.ID,
		"donor_id":       donorID,
		"beneficiary_id": req.BeneficiaryID,
		"amount":         req.Amount.StringFixed(domain.AmountScale),
	}).Info("donation completed")

	return result, nil
}

func entryMetadata(fields map[string]any) json.RawMessage {
	raw, err := json.Marshal(fields)
	if err != nil {
		return nil
	}
	return raw
}
