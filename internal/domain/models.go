package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EntryType is the direction of a ledger entry relative to its wallet.
type EntryType string

const (
	EntryDebit  EntryType = "DEBIT"
	EntryCredit EntryType = "CREDIT"
)

type DonationStatus string

const (
	DonationPending   DonationStatus = "PENDING"
	DonationCompleted DonationStatus = "COMPLETED"
	DonationFailed    DonationStatus = "FAILED"
)

// Wallet holds a user's balance. Exactly one per user.
type Wallet struct {
	ID        uuid.UUID       `json:"id"`
	UserID    uuid.UUID       `json:"userId"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// LedgerEntry is one immutable balance movement. Entries are never updated
// or deleted once written.
type LedgerEntry struct {
	ID          uuid.UUID       `json:"id"`
	WalletID    uuid.UUID       `json:"walletId"`
	Type        EntryType       `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	DonationID  *uuid.UUID      `json:"donationId,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// Donation records a completed transfer between two wallets.
// A COMPLETED donation always carries its ledger link.
type Donation struct {
	ID            uuid.UUID       `json:"id"`
	DonorID       uuid.UUID       `json:"donorId"`
	BeneficiaryID uuid.UUID       `json:"beneficiaryId"`
	Amount        decimal.Decimal `json:"amount"`
	Message       *string         `json:"message,omitempty"`
	Status        DonationStatus  `json:"status"`
	TransactionID *uuid.UUID      `json:"transactionId,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// IdempotencyKey binds a client supplied key to the donation it produced.
type IdempotencyKey struct {
	ID         uuid.UUID  `json:"id"`
	Key        string     `json:"key"`
	UserID     uuid.UUID  `json:"userId"`
	DonationID *uuid.UUID `json:"donationId,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// TransferRequest is the donor's intent. Amount is validated by the engine,
// not by JSON decoding.
type TransferRequest struct {
	BeneficiaryID  uuid.UUID       `json:"beneficiaryId" validate:"required"`
	Amount         decimal.Decimal `json:"amount"`
	PIN            string          `json:"pin" validate:"required,number,min=4,max=6"`
	Message        *string         `json:"message,omitempty" validate:"omitempty,max=255"`
	IdempotencyKey string          `json:"idempotencyKey,omitempty" validate:"omitempty,max=255"`
}

// TransferResult reports whether the donation was created by this call or
// replayed from an earlier one with the same idempotency key.
type TransferResult struct {
	Donation *Donation
	Replayed bool
}

type FundRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type FundResult struct {
	Message string          `json:"message"`
	Balance decimal.Decimal `json:"balance"`
}

// DonationFilter narrows donation listings. Zero times mean unbounded.
type DonationFilter struct {
	Page      int
	Limit     int
	StartDate *time.Time
	EndDate   *time.Time
}

const (
	DefaultPage  = 1
	DefaultLimit = 10
	MaxLimit     = 100
)

// Normalize applies listing defaults and bounds.
func (f DonationFilter) Normalize() DonationFilter {
	if f.Page < 1 {
		f.Page = DefaultPage
	}
	if f.Limit < 1 {
		f.Limit = DefaultLimit
	}
	if f.Limit > MaxLimit {
		f.Limit = MaxLimit
	}
	return f
}

func (f DonationFilter) Offset() int {
	return (f.Page - 1) * f.Limit
}

type PageMeta struct {
	Total      int `json:"total"`
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	TotalPages int `json:"totalPages"`
}

func NewPageMeta(total, page, limit int) PageMeta {
	pages := 0
	if limit > 0 {
		pages = (total + limit - 1) / limit
	}
	return PageMeta{Total: total, Page: page, Limit: limit, TotalPages: pages}
}

type DonationPage struct {
	Data []Donation `json:"data"`
	Meta PageMeta   `json:"meta"`
}

type EntryPage struct {
	Data []LedgerEntry `json:"data"`
	Meta PageMeta      `json:"meta"`
}

// AuditReport compares a wallet's stored balance with the net of its ledger.
type AuditReport struct {
	WalletID      uuid.UUID       `json:"walletId"`
	Balance       decimal.Decimal `json:"balance"`
	LedgerBalance decimal.Decimal `json:"ledgerBalance"`
	Entries       int             `json:"entries"`
	Consistent    bool            `json:"consistent"`
}
