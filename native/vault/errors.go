package vault

import (
	"errors"
	"fmt"
	"math/big"
)

var (
	// ErrInvalidAmount indicates a zero or negative amount was supplied.
	ErrInvalidAmount = errors.New("vault: amount must be positive")
	// ErrZeroAddress indicates a required identity was the zero address.
	ErrZeroAddress = errors.New("vault: address must not be zero")
	// ErrUnsupportedAsset indicates no viable exchange route exists for the
	// inbound asset, or the route produces a negligible output.
	ErrUnsupportedAsset = errors.New("vault: asset cannot be normalised")
	// ErrValueNotReceived indicates a native deposit was claimed without the
	// corresponding native value arriving in custody.
	ErrValueNotReceived = errors.New("vault: native value not received")
	// ErrPaused indicates deposits and withdrawals are administratively gated.
	ErrPaused = errors.New("vault: vault is paused")
	// ErrUnauthorized indicates the caller lacks the required role.
	ErrUnauthorized = errors.New("vault: caller lacks required role")
	// ErrCapacityExceeded is the sentinel matched by CapacityExceededError.
	ErrCapacityExceeded = errors.New("vault: capacity cap exceeded")
	// ErrLimitExceeded is the sentinel matched by LimitExceededError.
	ErrLimitExceeded = errors.New("vault: withdrawal limit exceeded")
	// ErrInsufficientBalance is the sentinel matched by InsufficientBalanceError.
	ErrInsufficientBalance = errors.New("vault: insufficient balance")
)

// CapacityExceededError reports a credit that would push the aggregate held
// value past the configured cap. Held is the value prior to the credit.
type CapacityExceededError struct {
	Held   *big.Int
	Amount *big.Int
	Cap    *big.Int
}

func (e *CapacityExceededError) Error() string {
	return fmt.Sprintf("vault: capacity cap exceeded: held %s + credit %s > cap %s",
		bigString(e.Held), bigString(e.Amount), bigString(e.Cap))
}

func (e *CapacityExceededError) Unwrap() error { return ErrCapacityExceeded }

// LimitExceededError reports a withdrawal request above the per-operation limit.
type LimitExceededError struct {
	Amount *big.Int
	Max    *big.Int
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("vault: withdrawal limit exceeded: requested %s, max %s",
		bigString(e.Amount), bigString(e.Max))
}

func (e *LimitExceededError) Unwrap() error { return ErrLimitExceeded }

// InsufficientBalanceError reports a withdrawal request above the depositor's
// current balance.
type InsufficientBalanceError struct {
	Amount  *big.Int
	Balance *big.Int
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("vault: insufficient balance: requested %s, balance %s",
		bigString(e.Amount), bigString(e.Balance))
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
