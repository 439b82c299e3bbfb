package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountType classifies a ledger account
type AccountType string

const (
	AccountTypeUserWallet       AccountType = "USER_WALLET"
	AccountTypeEscrow           AccountType = "ESCROW"
	AccountTypePlatformRevenue  AccountType = "PLATFORM_REVENUE"
	AccountTypePlatformReserve  AccountType = "PLATFORM_RESERVE"
	AccountTypeExternalMoneyIn  AccountType = "EXTERNAL_MONEY_IN"
	AccountTypeExternalMoneyOut AccountType = "EXTERNAL_MONEY_OUT"
)

// IsExternal reports whether the account type represents money crossing the
// system boundary. External accounts are the only ones allowed to go negative.
func (t AccountType) IsExternal() bool {
	return t == AccountTypeExternalMoneyIn || t == AccountTypeExternalMoneyOut
}

// AccountReconciliation pairs an account's cached balance with the balance
// recomputed from its entry history.
type AccountReconciliation struct {
	AccountID     int64           `json:"account_id"`
	AccountNumber string          `json:"account_number"`
	Cached        decimal.Decimal `json:"cached"`
	Computed      decimal.Decimal `json:"computed"`
}

// LedgerAccount represents a balance-bearing account in the ledger
type LedgerAccount struct {
	ID            int64           `json:"id"`
	AccountNumber string          `json:"account_number"`
	AccountType   AccountType     `json:"account_type"`
	OwnerID       string          `json:"owner_id,omitempty"` // empty for platform/external accounts
	Balance       decimal.Decimal `json:"balance"`
	Currency      string          `json:"currency"`
	Active        bool            `json:"active"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}
