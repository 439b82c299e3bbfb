package service

import (
	"fmt"
	"time"

	"github.com/Dan9191/marketplace-ledger/internal/models"
	"github.com/shopspring/decimal"
)

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// periods per year for each payment frequency
var periodsPerYear = map[models.PaymentFrequency]int64{
	models.FrequencyDaily:       365,
	models.FrequencyWeekly:      52,
	models.FrequencyBiWeekly:    26,
	models.FrequencySemiMonthly: 24,
	models.FrequencyMonthly:     12,
	models.FrequencyQuarterly:   4,
}

// ScheduleRow is one planned installment payment
type ScheduleRow struct {
	SequenceNumber   int             `json:"sequence_number"`
	Amount           decimal.Decimal `json:"amount"`
	PrincipalPortion decimal.Decimal `json:"principal_portion"`
	InterestPortion  decimal.Decimal `json:"interest_portion"`
	RemainingBalance decimal.Decimal `json:"remaining_balance"`
	DueDate          time.Time       `json:"due_date"`
}

// InstallmentConfig is the full output of the amortization calculator
type InstallmentConfig struct {
	TotalCost       decimal.Decimal `json:"total_cost"`
	DownPayment     decimal.Decimal `json:"down_payment"`
	FinancedAmount  decimal.Decimal `json:"financed_amount"`
	PeriodicPayment decimal.Decimal `json:"periodic_payment"`
	TotalInterest   decimal.Decimal `json:"total_interest"`
	TotalPayable    decimal.Decimal `json:"total_payable"`
	Schedule        []ScheduleRow   `json:"schedule"`
}

// CalculateInstallmentConfig turns a plan, a price and a down payment percent
// into a down payment, a level periodic payment and a full amortization
// schedule. It is pure and deterministic: identical inputs always produce an
// identical schedule, so the same routine serves customer previews and the
// authoritative schedule persisted at agreement creation.
//
// The level payment M for financed principal P at period rate r over n
// payments is M = P*r*(1+r)^n / ((1+r)^n - 1); with r = 0 it degrades to
// straight division. Each period's interest is balance*r rounded to two
// digits; the final period takes the whole remaining balance as principal so
// accumulated rounding can never leave a residue.
func CalculateInstallmentConfig(plan models.InstallmentPlan, price decimal.Decimal, quantity int,
	downPaymentPercent decimal.Decimal, start time.Time) (*InstallmentConfig, error) {

	if !price.IsPositive() {
		return nil, fmt.Errorf("%w: price must be positive, got %s", models.ErrValidation, price)
	}
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive, got %d", models.ErrValidation, quantity)
	}
	if downPaymentPercent.IsNegative() || downPaymentPercent.GreaterThan(hundred) {
		return nil, fmt.Errorf("%w: down payment percent must be between 0 and 100, got %s", models.ErrValidation, downPaymentPercent)
	}
	if plan.NumberOfPayments <= 0 {
		return nil, fmt.Errorf("%w: number of payments must be positive, got %d", models.ErrValidation, plan.NumberOfPayments)
	}
	if plan.AnnualInterestRate.IsNegative() {
		return nil, fmt.Errorf("%w: annual interest rate must not be negative, got %s", models.ErrValidation, plan.AnnualInterestRate)
	}

	rate, err := periodRate(plan)
	if err != nil {
		return nil, err
	}

	totalCost := price.Mul(decimal.NewFromInt(int64(quantity))).Round(MoneyScale)
	downPayment := totalCost.Mul(downPaymentPercent).Div(hundred).Round(MoneyScale)
	financed := totalCost.Sub(downPayment)

	n := plan.NumberOfPayments
	var payment decimal.Decimal
	if rate.IsZero() {
		payment = financed.DivRound(decimal.NewFromInt(int64(n)), MoneyScale)
	} else {
		pow := one.Add(rate).Pow(decimal.NewFromInt(int64(n)))
		payment = financed.Mul(rate).Mul(pow).DivRound(pow.Sub(one), MoneyScale)
	}

	schedule := make([]ScheduleRow, 0, n)
	balance := financed
	due := start
	totalInterest := decimal.Zero
	for i := 1; i <= n; i++ {
		due = nextDueDate(plan, due, i == 1)
		interest := balance.Mul(rate).Round(MoneyScale)
		principal := payment.Sub(interest)
		if i == n {
			// Last payment absorbs the rounding residue.
			principal = balance
			interest = payment.Sub(principal)
		}
		balance = balance.Sub(principal)
		totalInterest = totalInterest.Add(interest)
		schedule = append(schedule, ScheduleRow{
			SequenceNumber:   i,
			Amount:           payment,
			PrincipalPortion: principal,
			InterestPortion:  interest,
			RemainingBalance: balance,
			DueDate:          due,
		})
	}

	return &InstallmentConfig{
		TotalCost:       totalCost,
		DownPayment:     downPayment,
		FinancedAmount:  financed,
		PeriodicPayment: payment,
		TotalInterest:   totalInterest,
		TotalPayable:    downPayment.Add(financed).Add(totalInterest),
		Schedule:        schedule,
	}, nil
}

// periodRate converts the plan's annual rate (percent) to a per-period rate
func periodRate(plan models.InstallmentPlan) (decimal.Decimal, error) {
	annual := plan.AnnualInterestRate.Div(hundred)
	if plan.Frequency == models.FrequencyCustom {
		if plan.CustomDays <= 0 {
			return decimal.Zero, fmt.Errorf("%w: custom frequency needs a positive day count, got %d", models.ErrValidation, plan.CustomDays)
		}
		return annual.Mul(decimal.NewFromInt(int64(plan.CustomDays))).Div(decimal.NewFromInt(365)), nil
	}
	periods, ok := periodsPerYear[plan.Frequency]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: unknown payment frequency %q", models.ErrValidation, plan.Frequency)
	}
	return annual.Div(decimal.NewFromInt(periods)), nil
}

// nextDueDate advances one period from the previous due date (or the
// agreement start, for the first payment).
func nextDueDate(plan models.InstallmentPlan, prev time.Time, first bool) time.Time {
	switch plan.Frequency {
	case models.FrequencyDaily:
		return prev.AddDate(0, 0, 1)
	case models.FrequencyWeekly:
		return prev.AddDate(0, 0, 7)
	case models.FrequencyBiWeekly:
		return prev.AddDate(0, 0, 14)
	case models.FrequencyMonthly:
		return prev.AddDate(0, 1, 0)
	case models.FrequencyQuarterly:
		return prev.AddDate(0, 3, 0)
	case models.FrequencySemiMonthly:
		return nextSemiMonthly(prev, first)
	case models.FrequencyCustom:
		return prev.AddDate(0, 0, plan.CustomDays)
	default:
		return prev.AddDate(0, 1, 0)
	}
}

// nextSemiMonthly alternates between the 15th and the 1st. An agreement
// started on day 1-15 is due on that month's 15th; started on day 16 or
// later, on the 1st of the next month. After the first period the two
// anchors alternate, so a due date already on the 15th rolls to the 1st.
func nextSemiMonthly(prev time.Time, first bool) time.Time {
	y, m, d := prev.Date()
	if d < 15 || (first && d == 15) {
		return time.Date(y, m, 15, 0, 0, 0, 0, prev.Location())
	}
	next := time.Date(y, m, 1, 0, 0, 0, 0, prev.Location()).AddDate(0, 1, 0)
	return next
}
