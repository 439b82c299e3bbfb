package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentMethod identifies which processor handles a payment
type PaymentMethod string

const (
	PaymentMethodWallet      PaymentMethod = "WALLET"
	PaymentMethodMobileMoney PaymentMethod = "MOBILE_MONEY"
	PaymentMethodCard        PaymentMethod = "CARD"
)

// Payment status of a checkout session
const (
	CheckoutStatusPending    = "PENDING"
	CheckoutStatusProcessing = "PROCESSING"
	CheckoutStatusPaid       = "PAID"
	CheckoutStatusFailed     = "FAILED"
)

// CheckoutSession is the boundary row supplied by the checkout collaborator.
// The ledger core only reads buyer, seller, amount and currency from it and
// writes back the payment status.
type CheckoutSession struct {
	ID              string          `json:"id"`
	BuyerID         string          `json:"buyer_id"`
	BuyerEmail      string          `json:"buyer_email,omitempty"`
	SellerID        string          `json:"seller_id"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	Currency        string          `json:"currency"`
	PaymentProvider PaymentMethod   `json:"payment_provider,omitempty"`
	PaymentStatus   string          `json:"payment_status"`
	ProviderRef     string          `json:"provider_ref,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// PaymentOutcome is a processor verdict
type PaymentOutcome string

const (
	PaymentOutcomeSuccess PaymentOutcome = "SUCCESS"
	PaymentOutcomePending PaymentOutcome = "PENDING"
	PaymentOutcomeFailed  PaymentOutcome = "FAILED"
)

// PaymentResult is what a processor returns to the orchestrator
type PaymentResult struct {
	Outcome     PaymentOutcome `json:"outcome"`
	EscrowID    int64          `json:"escrow_id,omitempty"`
	ProviderRef string         `json:"provider_ref,omitempty"`
	Reason      string         `json:"reason,omitempty"`
}
