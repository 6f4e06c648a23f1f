/*
errors.go - Centralized error types for the ledger engine

PURPOSE:
  All engine errors in one place. Callers branch with errors.Is; the API
  layer maps these onto HTTP statuses.

ERROR CATEGORIES:
  1. Validation errors - bad input, rejected before any read or write
  2. Business-rule errors - consistency checks; retrying without changing
     the real-world condition will fail again
  3. Storage errors - adapter failures, surfaced unmodified; the engine
     performs no automatic retry

SEE ALSO:
  - engine.go: Where these are returned
  - api/handlers.go: HTTP status mapping
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNegativeAmount is returned when an earn carries a negative monetary
	// amount. Rejected before any write.
	ErrNegativeAmount = errors.New("monetary amount must not be negative")

	// ErrRewardNotFound is returned when a redemption names a reward the
	// catalog does not carry.
	ErrRewardNotFound = errors.New("reward not found")

	// ErrInsufficientBalance is returned when a redemption costs more than
	// the member's point balance. The profile is left untouched.
	ErrInsufficientBalance = errors.New("insufficient point balance")

	// ErrVoucherNotFound is returned when a voucher id does not belong to
	// the member's profile.
	ErrVoucherNotFound = errors.New("voucher not found")

	// ErrVoucherAlreadyUsed is returned on a second consumption attempt.
	// Terminal for that voucher instance.
	ErrVoucherAlreadyUsed = errors.New("voucher already used")

	// ErrVoucherExpired is returned when consuming past ExpiresAt, even if
	// IsUsed is still false. Terminal for that voucher instance.
	ErrVoucherExpired = errors.New("voucher expired")

	// ErrConflict is returned when an optimistic write detects that another
	// writer got there first. The caller may reload and retry.
	ErrConflict = errors.New("concurrent modification detected")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientBalanceError details a balance shortage.
type InsufficientBalanceError struct {
	MemberID  MemberID
	RewardID  string
	Available int64
	Cost      int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for reward %s: have %d, need %d",
		e.RewardID, e.Available, e.Cost)
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// Shortfall is the number of points the member is missing.
func (e *InsufficientBalanceError) Shortfall() int64 {
	return e.Cost - e.Available
}

// VoucherStateError details why a voucher could not be consumed.
type VoucherStateError struct {
	VoucherID VoucherID
	Reason    error // ErrVoucherAlreadyUsed or ErrVoucherExpired
}

func (e *VoucherStateError) Error() string {
	return fmt.Sprintf("voucher %s: %v", e.VoucherID, e.Reason)
}

func (e *VoucherStateError) Unwrap() error {
	return e.Reason
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsValidation reports whether the error is due to invalid caller input.
// The caller may correct the input and retry immediately.
func IsValidation(err error) bool {
	return errors.Is(err, ErrNegativeAmount) ||
		errors.Is(err, ErrRewardNotFound)
}

// IsBusinessRule reports whether the error is a business-rule rejection.
// Not retryable without changing the real-world condition.
func IsBusinessRule(err error) bool {
	return errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrVoucherAlreadyUsed) ||
		errors.Is(err, ErrVoucherExpired) ||
		errors.Is(err, ErrVoucherNotFound)
}

// IsRetryable reports whether the whole operation might succeed if replayed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict)
}
