package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// EntryType classifies the business movement behind a ledger entry
type EntryType string

const (
	EntryTypePurchase      EntryType = "PURCHASE"
	EntryTypeEscrowRelease EntryType = "ESCROW_RELEASE"
	EntryTypeRefund        EntryType = "REFUND"
	EntryTypeDeposit       EntryType = "DEPOSIT"
	EntryTypeWithdrawal    EntryType = "WITHDRAWAL"
	EntryTypePlatformFee   EntryType = "PLATFORM_FEE"
)

// Reference types linking an entry back to the business object that caused it
const (
	RefTypeEscrow             = "ESCROW"
	RefTypeCheckoutSession    = "CHECKOUT_SESSION"
	RefTypeInstallmentPayment = "INSTALLMENT_PAYMENT"
)

// LedgerEntry is one immutable double-entry record: a single amount debited
// from one account and credited to another. Entries are append-only and are
// created exclusively by the ledger service.
type LedgerEntry struct {
	ID              int64             `json:"id"`
	EntryNumber     string            `json:"entry_number"`
	DebitAccountID  int64             `json:"debit_account_id"`
	CreditAccountID int64             `json:"credit_account_id"`
	Amount          decimal.Decimal   `json:"amount"`
	EntryType       EntryType         `json:"entry_type"`
	ReferenceType   string            `json:"reference_type"`
	ReferenceID     string            `json:"reference_id"`
	Description     string            `json:"description"`
	Currency        string            `json:"currency"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	CreatedBy       string            `json:"created_by"`
	CreatedAt       time.Time         `json:"created_at"`
}
