package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// EscrowStatus is the state of an escrow hold
type EscrowStatus string

const (
	EscrowStatusHeld     EscrowStatus = "HELD"
	EscrowStatusReleased EscrowStatus = "RELEASED"
	EscrowStatusRefunded EscrowStatus = "REFUNDED"
	EscrowStatusDisputed EscrowStatus = "DISPUTED"
)

// EscrowAccount represents buyer funds held pending delivery. The platform
// fee and seller share are computed once at hold time and never recalculated.
type EscrowAccount struct {
	ID                 int64           `json:"id"`
	EscrowNumber       string          `json:"escrow_number"`
	CheckoutSessionID  string          `json:"checkout_session_id"`
	BuyerID            string          `json:"buyer_id"`
	SellerID           string          `json:"seller_id"`
	TotalAmount        decimal.Decimal `json:"total_amount"`
	PlatformFeePercent decimal.Decimal `json:"platform_fee_percent"`
	PlatformFeeAmount  decimal.Decimal `json:"platform_fee_amount"`
	SellerAmount       decimal.Decimal `json:"seller_amount"`
	Currency           string          `json:"currency"`
	Status             EscrowStatus    `json:"status"`
	LedgerAccountID    int64           `json:"ledger_account_id"`
	CreatedAt          time.Time       `json:"created_at"`
	ReleasedAt         *time.Time      `json:"released_at,omitempty"`
	RefundedAt         *time.Time      `json:"refunded_at,omitempty"`
	DisputedAt         *time.Time      `json:"disputed_at,omitempty"`
}
