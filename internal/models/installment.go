package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentFrequency is how often an installment payment falls due
type PaymentFrequency string

const (
	FrequencyDaily       PaymentFrequency = "DAILY"
	FrequencyWeekly      PaymentFrequency = "WEEKLY"
	FrequencyBiWeekly    PaymentFrequency = "BI_WEEKLY"
	FrequencySemiMonthly PaymentFrequency = "SEMI_MONTHLY"
	FrequencyMonthly     PaymentFrequency = "MONTHLY"
	FrequencyQuarterly   PaymentFrequency = "QUARTERLY"
	FrequencyCustom      PaymentFrequency = "CUSTOM"
)

// FulfillmentTiming controls when the order is created for a financed purchase
type FulfillmentTiming string

const (
	FulfillmentImmediate    FulfillmentTiming = "IMMEDIATE"
	FulfillmentAfterPayment FulfillmentTiming = "AFTER_PAYMENT"
)

// Agreement statuses
type AgreementStatus string

const (
	AgreementStatusPendingFirstPayment AgreementStatus = "PENDING_FIRST_PAYMENT"
	AgreementStatusActive              AgreementStatus = "ACTIVE"
	AgreementStatusCompleted           AgreementStatus = "COMPLETED"
	AgreementStatusDefaulted           AgreementStatus = "DEFAULTED"
	AgreementStatusCancelled           AgreementStatus = "CANCELLED"
)

// Installment payment statuses
type InstallmentPaymentStatus string

const (
	PaymentStatusScheduled InstallmentPaymentStatus = "SCHEDULED"
	PaymentStatusCompleted InstallmentPaymentStatus = "COMPLETED"
	PaymentStatusFailed    InstallmentPaymentStatus = "FAILED"
	PaymentStatusLate      InstallmentPaymentStatus = "LATE"
	PaymentStatusSkipped   InstallmentPaymentStatus = "SKIPPED"
)

// InstallmentPlan describes the financing terms offered for a product
type InstallmentPlan struct {
	AnnualInterestRate decimal.Decimal  `json:"annual_interest_rate"` // percent, e.g. 24 for 24% APR
	NumberOfPayments   int              `json:"number_of_payments"`
	Frequency          PaymentFrequency `json:"frequency"`
	CustomDays         int              `json:"custom_days,omitempty"` // only for FrequencyCustom
}

// InstallmentAgreement is a financed purchase with a persisted schedule
type InstallmentAgreement struct {
	ID                 int64             `json:"id"`
	AgreementNumber    string            `json:"agreement_number"`
	BuyerID            string            `json:"buyer_id"`
	BuyerEmail         string            `json:"buyer_email,omitempty"`
	SellerID           string            `json:"seller_id"`
	CheckoutSessionID  string            `json:"checkout_session_id"`
	Currency           string            `json:"currency"`
	TotalCost          decimal.Decimal   `json:"total_cost"`
	DownPayment        decimal.Decimal   `json:"down_payment"`
	FinancedAmount     decimal.Decimal   `json:"financed_amount"`
	PeriodicPayment    decimal.Decimal   `json:"periodic_payment"`
	TotalInterest      decimal.Decimal   `json:"total_interest"`
	TotalPayable       decimal.Decimal   `json:"total_payable"`
	AnnualInterestRate decimal.Decimal   `json:"annual_interest_rate"`
	NumberOfPayments   int               `json:"number_of_payments"`
	Frequency          PaymentFrequency  `json:"frequency"`
	CustomDays         int               `json:"custom_days,omitempty"`
	Fulfillment        FulfillmentTiming `json:"fulfillment"`
	Status             AgreementStatus   `json:"status"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

// InstallmentPayment is one row of an agreement's amortization schedule
type InstallmentPayment struct {
	ID               int64                    `json:"id"`
	AgreementID      int64                    `json:"agreement_id"`
	SequenceNumber   int                      `json:"sequence_number"`
	Amount           decimal.Decimal          `json:"amount"`
	PrincipalPortion decimal.Decimal          `json:"principal_portion"`
	InterestPortion  decimal.Decimal          `json:"interest_portion"`
	RemainingBalance decimal.Decimal          `json:"remaining_balance"`
	DueDate          time.Time                `json:"due_date"`
	Status           InstallmentPaymentStatus `json:"status"`
	RetryCount       int                      `json:"retry_count"`
	PaidAt           *time.Time               `json:"paid_at,omitempty"`
	CreatedAt        time.Time                `json:"created_at"`
	UpdatedAt        time.Time                `json:"updated_at"`
}
