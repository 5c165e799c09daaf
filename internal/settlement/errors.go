package settlement

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrNotQueued is returned when the referenced transaction is no longer in
// the pending queue: it was already settled, rejected, or never existed.
// Settlement is at-most-once per transaction id, so losing this race is an
// expected outcome, not a fault.
var ErrNotQueued = errors.New("transaction not in queue (possibly already settled)")

// ErrInvalidAmount is returned for submissions with a non-positive amount.
var ErrInvalidAmount = errors.New("amount must be positive")

// ErrInvalidMode is returned for submissions with an unknown commitment mode.
var ErrInvalidMode = errors.New("unknown commitment mode")

// ErrSelfTransfer is returned when sender and receiver are the same account.
var ErrSelfTransfer = errors.New("cannot send to self")

// IntegrityError reports that the seal recomputed at settlement does not
// match the seal stored at submission. The transaction is discarded and
// never retried; callers surface this as a security alert.
type IntegrityError struct {
	ID         string
	Stored     string
	Recomputed string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity hash mismatch for transaction %s: transaction discarded", e.ID)
}

// InsufficientFundsError reports that an account cannot cover the amount a
// settlement requires of it, whether the sender's original amount or the
// authority's subsidy.
type InsufficientFundsError struct {
	AccountID string
	Need      decimal.Decimal
	Have      decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("account %s has insufficient funds: need %s, have %s",
		e.AccountID, e.Need.String(), e.Have.String())
}

// AccountError reports that an account identifier could not be resolved.
type AccountError struct {
	AccountID string
}

func (e *AccountError) Error() string {
	return fmt.Sprintf("account %s cannot be resolved", e.AccountID)
}
