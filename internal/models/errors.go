package models

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Sentinel errors shared across the repository and service layers
var (
	ErrAccountNotFound   = errors.New("ledger account not found")
	ErrEscrowNotFound    = errors.New("escrow not found")
	ErrSessionNotFound   = errors.New("checkout session not found")
	ErrAgreementNotFound = errors.New("installment agreement not found")
	ErrPaymentNotFound   = errors.New("installment payment not found")
	ErrEscrowExists      = errors.New("escrow already exists for checkout session")
	ErrNumberTaken       = errors.New("number already taken")
	ErrAccountExists     = errors.New("ledger account already exists")
	ErrValidation        = errors.New("validation failed")
)

// InsufficientBalanceError is returned when a debit account cannot cover the
// requested amount. It carries enough detail for callers to render an
// actionable message.
type InsufficientBalanceError struct {
	AccountNumber string
	Requested     decimal.Decimal
	Available     decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance on account %s: requested %s, available %s",
		e.AccountNumber, e.Requested.StringFixed(2), e.Available.StringFixed(2))
}

// StateConflictError is returned when an entity is not in the required state
// for the requested transition.
type StateConflictError struct {
	Entity    string
	ID        string
	Current   string
	Requested string
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("%s %s is %s, cannot transition to %s", e.Entity, e.ID, e.Current, e.Requested)
}
