package engine

import (
	"errors"
	"fmt"
)

// Sentinel errors for the workflow operations. Use errors.Is; the structured
// types below unwrap to these.
var (
	ErrAccountNotFound    = errors.New("account not found")
	ErrRewardNotFound     = errors.New("reward not found")
	ErrRedemptionNotFound = errors.New("redemption not found")

	// ErrInvalidAmount is returned for zero or negative amounts. Amounts are
	// never coerced; a bad amount rejects the whole request.
	ErrInvalidAmount = errors.New("amount must be a positive integer")

	ErrNotStudentAccount = errors.New("target account is not a student")
	ErrNotAdminAccount   = errors.New("acting account is not an admin")

	ErrRewardUnavailable = errors.New("reward is not available")

	ErrOutOfStock                 = errors.New("reward is out of stock")
	ErrInsufficientPoints         = errors.New("insufficient points")
	ErrInsufficientAdminBalance   = errors.New("insufficient admin balance")
	ErrInsufficientStudentBalance = errors.New("insufficient student balance")

	ErrInvalidStateTransition = errors.New("invalid redemption state transition")

	// ErrUnavailable covers transient storage failures. The operation is
	// atomic, so callers may retry it whole.
	ErrUnavailable = errors.New("temporarily unavailable")
)

// InsufficientPointsError reports a failed spend with the detail the UI
// needs to render an actionable message.
type InsufficientPointsError struct {
	AccountID int64
	Balance   int64
	Required  int64
}

func (e *InsufficientPointsError) Error() string {
	return fmt.Sprintf("insufficient points: account %d has %d, needs %d", e.AccountID, e.Balance, e.Required)
}

func (e *InsufficientPointsError) Unwrap() error {
	return ErrInsufficientPoints
}

// InsufficientAdminBalanceError reports a grant exceeding the admin's pool.
// This is a user-facing, recoverable condition, not a server fault.
type InsufficientAdminBalanceError struct {
	AdminID   int64
	Balance   int64
	Requested int64
}

func (e *InsufficientAdminBalanceError) Error() string {
	return fmt.Sprintf("insufficient admin balance: admin %d has %d, requested %d", e.AdminID, e.Balance, e.Requested)
}

func (e *InsufficientAdminBalanceError) Unwrap() error {
	return ErrInsufficientAdminBalance
}

// InsufficientStudentBalanceError reports a revocation exceeding the
// student's balance.
type InsufficientStudentBalanceError struct {
	StudentID int64
	Balance   int64
	Requested int64
}

func (e *InsufficientStudentBalanceError) Error() string {
	return fmt.Sprintf("insufficient student balance: student %d has %d, requested %d", e.StudentID, e.Balance, e.Requested)
}

func (e *InsufficientStudentBalanceError) Unwrap() error {
	return ErrInsufficientStudentBalance
}

// OutOfStockError reports a redemption rejected by the stock gate.
type OutOfStockError struct {
	RewardID int64
}

func (e *OutOfStockError) Error() string {
	return fmt.Sprintf("reward %d is out of stock", e.RewardID)
}

func (e *OutOfStockError) Unwrap() error {
	return ErrOutOfStock
}

// InvalidStateTransitionError reports a cancellation of a redemption that is
// not in the completed state.
type InvalidStateTransitionError struct {
	RedemptionID int64
	Status       string
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("redemption %d is %s and cannot be cancelled", e.RedemptionID, e.Status)
}

func (e *InvalidStateTransitionError) Unwrap() error {
	return ErrInvalidStateTransition
}

// IsNotFound reports whether the error is a missing account, reward, or
// redemption.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrRewardNotFound) ||
		errors.Is(err, ErrRedemptionNotFound)
}

// IsClientError reports whether the error is a rejected request rather than
// a server fault. Client errors are recoverable by the caller.
func IsClientError(err error) bool {
	return IsNotFound(err) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrNotStudentAccount) ||
		errors.Is(err, ErrNotAdminAccount) ||
		errors.Is(err, ErrRewardUnavailable) ||
		errors.Is(err, ErrOutOfStock) ||
		errors.Is(err, ErrInsufficientPoints) ||
		errors.Is(err, ErrInsufficientAdminBalance) ||
		errors.Is(err, ErrInsufficientStudentBalance) ||
		errors.Is(err, ErrInvalidStateTransition)
}
