package domain

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the caller. Every kind except Retryable and
// Internal is raised before any mutation is attempted.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindAuthorization
	KindNotFound
	KindConflict
	KindRetryable
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindRetryable:
		return "retryable"
	default:
		return "internal"
	}
}

type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Code so a wrapped copy still satisfies errors.Is against
// the sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func newErr(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

var (
	ErrInvalidAmount     = newErr(KindValidation, "INVALID_AMOUNT", "amount must be a positive decimal with at most 2 fractional digits")
	ErrSelfTransfer      = newErr(KindConflict, "SELF_TRANSFER", "you cannot donate to yourself")
	ErrInvalidPIN        = newErr(KindAuthorization, "INVALID_PIN", "invalid transaction PIN")
	ErrPINNotSet         = newErr(KindAuthorization, "PIN_NOT_SET", "transaction PIN has not been set")
	ErrInsufficientFunds = newErr(KindConflict, "INSUFFICIENT_FUNDS", "insufficient wallet balance")
	ErrBalanceLimit      = newErr(KindConflict, "BALANCE_LIMIT", "resulting balance exceeds the wallet limit")

	ErrDonorNotFound       = newErr(KindNotFound, "DONOR_NOT_FOUND", "donor not found")
	ErrBeneficiaryNotFound = newErr(KindNotFound, "BENEFICIARY_NOT_FOUND", "beneficiary not found")
	ErrWalletNotFound      = newErr(KindNotFound, "WALLET_NOT_FOUND", "wallet not found")
	ErrDonationNotFound    = newErr(KindNotFound, "DONATION_NOT_FOUND", "donation not found")
	ErrEntryNotFound       = newErr(KindNotFound, "TRANSACTION_NOT_FOUND", "transaction not found for donation")

	ErrIdempotencyKeyConflict = newErr(KindConflict, "IDEMPOTENCY_KEY_CONFLICT", "idempotency key belongs to another user")
	ErrIdempotencyKeyExists   = newErr(KindConflict, "IDEMPOTENCY_KEY_EXISTS", "idempotency key already bound")

	ErrRetryable = newErr(KindRetryable, "RETRYABLE", "temporary failure, retry with the same idempotency key")
)

// Retryable wraps an infrastructure failure (lock timeout, serialization
// failure, lost connection) whose unit of work was rolled back.
func Retryable(cause error) error {
	return &Error{Kind: KindRetryable, Code: ErrRetryable.Code, Message: ErrRetryable.Message, Err: cause}
}

// KindOf reports the kind of err, KindInternal for foreign errors.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

func IsRetryable(err error) bool {
	return KindOf(err) == KindRetryable
}
