/*
errors.go - Error taxonomy for the points ledger

ERROR CATEGORIES:
  ErrNotFound             referenced user, reward, core value or redemption absent
  ErrInvalidArgument      non-positive amounts, empty message, self-praise
  ErrInsufficientBalance  debit exceeds the current balance
  ErrRewardInactive       reward exists but is deactivated
  ErrInvalidState         illegal redemption status transition
  ErrConflict             transient serialization loss, safe to retry the whole op
  ErrDuplicate            email, event ID or idempotency key already used
  ErrUnauthenticated      caller credential could not be resolved

USAGE:
  Callers test with errors.Is. Structured errors carry details and Unwrap to
  their sentinel:

    var ibe *ledger.InsufficientBalanceError
    if errors.As(err, &ibe) {
        fmt.Println(ibe.Shortfall())
    }
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
	ErrNotFound            = errors.New("not found")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrRewardInactive      = errors.New("reward inactive")
	ErrInvalidState        = errors.New("invalid state")

	// ErrConflict is returned when a concurrent writer won a serialization
	// race. Ledger retries it; it only surfaces once retries are exhausted.
	ErrConflict = errors.New("conflict")

	ErrDuplicate       = errors.New("duplicate")
	ErrUnauthenticated = errors.New("unauthenticated")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientBalanceError provides details about a balance shortage.
type InsufficientBalanceError struct {
	UserID    UserID
	Available int64
	Requested int64
}

func (e *InsufficientBalanceError) Shortfall() int64 {
	return e.Requested - e.Available
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for user %s: available %d, requested %d, shortfall %d",
		e.UserID, e.Available, e.Requested, e.Shortfall())
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// InvalidStateError describes a rejected redemption status transition.
type InvalidStateError struct {
	RedemptionID RedemptionID
	From         RedemptionStatus
	To           RedemptionStatus
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("redemption %s: cannot move from %s to %s", e.RedemptionID, e.From, e.To)
}

func (e *InvalidStateError) Unwrap() error {
	return ErrInvalidState
}

func invalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// NotFound wraps ErrNotFound with the kind and id of the missing record.
func NotFound(kind string, id any) error {
	return fmt.Errorf("%s %v: %w", kind, id, ErrNotFound)
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsClientError returns true if the error is due to the request itself.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidArgument) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrRewardInactive) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrDuplicate)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
