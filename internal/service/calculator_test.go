package service

import (
	"testing"
	"time"

	"github.com/Dan9191/marketplace-ledger/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestCalculateMonthlyAmortization(t *testing.T) {
	plan := models.InstallmentPlan{
		AnnualInterestRate: decimal.NewFromInt(24),
		NumberOfPayments:   12,
		Frequency:          models.FrequencyMonthly,
	}
	start := time.Date(2026, time.January, 10, 0, 0, 0, 0, time.UTC)

	cfg, err := CalculateInstallmentConfig(plan, decimal.NewFromInt(120000), 1, decimal.Zero, start)
	require.NoError(t, err)

	// Financed 120000 at 2% per month over 12 payments.
	assert.True(t, cfg.FinancedAmount.Equal(d("120000")), "financed = %s", cfg.FinancedAmount)
	assert.True(t, cfg.PeriodicPayment.Equal(d("11347.15")), "payment = %s", cfg.PeriodicPayment)
	assert.True(t, cfg.TotalInterest.Equal(d("16165.80")), "interest = %s", cfg.TotalInterest)
	assert.True(t, cfg.TotalPayable.Equal(d("136165.80")), "payable = %s", cfg.TotalPayable)

	require.Len(t, cfg.Schedule, 12)
	first := cfg.Schedule[0]
	assert.True(t, first.InterestPortion.Equal(d("2400.00")), "first interest = %s", first.InterestPortion)
	assert.True(t, first.PrincipalPortion.Equal(d("8947.15")), "first principal = %s", first.PrincipalPortion)
	assert.True(t, first.RemainingBalance.Equal(d("111052.85")), "first balance = %s", first.RemainingBalance)

	last := cfg.Schedule[11]
	assert.True(t, last.PrincipalPortion.Equal(d("11124.69")), "last principal = %s", last.PrincipalPortion)
	assert.True(t, last.InterestPortion.Equal(d("222.46")), "last interest = %s", last.InterestPortion)
	assert.True(t, last.RemainingBalance.IsZero(), "last balance = %s", last.RemainingBalance)
}

func TestScheduleConservation(t *testing.T) {
	plan := models.InstallmentPlan{
		AnnualInterestRate: d("17.9"),
		NumberOfPayments:   7,
		Frequency:          models.FrequencyWeekly,
	}
	cfg, err := CalculateInstallmentConfig(plan, d("3333.33"), 3, d("12.5"), time.Now())
	require.NoError(t, err)

	principalSum := decimal.Zero
	interestSum := decimal.Zero
	for _, row := range cfg.Schedule {
		assert.True(t, row.Amount.Equal(cfg.PeriodicPayment))
		assert.True(t, row.PrincipalPortion.Add(row.InterestPortion).Equal(row.Amount))
		principalSum = principalSum.Add(row.PrincipalPortion)
		interestSum = interestSum.Add(row.InterestPortion)
	}
	assert.True(t, principalSum.Equal(cfg.FinancedAmount),
		"principal %s != financed %s", principalSum, cfg.FinancedAmount)
	assert.True(t, interestSum.Equal(cfg.TotalInterest))
	assert.True(t, cfg.Schedule[len(cfg.Schedule)-1].RemainingBalance.IsZero())
	assert.True(t, cfg.TotalPayable.Equal(cfg.DownPayment.Add(cfg.FinancedAmount).Add(cfg.TotalInterest)))
}

func TestZeroInterestSplitsEvenly(t *testing.T) {
	plan := models.InstallmentPlan{
		AnnualInterestRate: decimal.Zero,
		NumberOfPayments:   4,
		Frequency:          models.FrequencyMonthly,
	}
	cfg, err := CalculateInstallmentConfig(plan, decimal.NewFromInt(1000), 1, decimal.Zero, time.Now())
	require.NoError(t, err)

	assert.True(t, cfg.PeriodicPayment.Equal(d("250")), "payment = %s", cfg.PeriodicPayment)
	assert.True(t, cfg.TotalInterest.IsZero())
	for _, row := range cfg.Schedule {
		assert.True(t, row.InterestPortion.IsZero(), "row %d interest = %s", row.SequenceNumber, row.InterestPortion)
		assert.True(t, row.PrincipalPortion.Equal(d("250")))
	}
	assert.True(t, cfg.Schedule[3].RemainingBalance.IsZero())
}

func TestDownPaymentReducesFinanced(t *testing.T) {
	plan := models.InstallmentPlan{
		AnnualInterestRate: decimal.NewFromInt(12),
		NumberOfPayments:   6,
		Frequency:          models.FrequencyMonthly,
	}
	cfg, err := CalculateInstallmentConfig(plan, decimal.NewFromInt(100000), 2, decimal.NewFromInt(10), time.Now())
	require.NoError(t, err)

	assert.True(t, cfg.TotalCost.Equal(d("200000")))
	assert.True(t, cfg.DownPayment.Equal(d("20000")))
	assert.True(t, cfg.FinancedAmount.Equal(d("180000")))
}

func TestCustomFrequencyRate(t *testing.T) {
	// 36.5% APR over a 10-day period is exactly 1% per period.
	plan := models.InstallmentPlan{
		AnnualInterestRate: d("36.5"),
		NumberOfPayments:   2,
		Frequency:          models.FrequencyCustom,
		CustomDays:         10,
	}
	start := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	cfg, err := CalculateInstallmentConfig(plan, decimal.NewFromInt(1000), 1, decimal.Zero, start)
	require.NoError(t, err)

	require.Len(t, cfg.Schedule, 2)
	assert.True(t, cfg.Schedule[0].InterestPortion.Equal(d("10.00")),
		"first interest = %s", cfg.Schedule[0].InterestPortion)
	assert.Equal(t, time.Date(2026, time.March, 11, 0, 0, 0, 0, time.UTC), cfg.Schedule[0].DueDate)
	assert.Equal(t, time.Date(2026, time.March, 21, 0, 0, 0, 0, time.UTC), cfg.Schedule[1].DueDate)
}

func TestSemiMonthlyDueDates(t *testing.T) {
	plan := models.InstallmentPlan{
		AnnualInterestRate: decimal.Zero,
		NumberOfPayments:   4,
		Frequency:          models.FrequencySemiMonthly,
	}

	// Started in the first half of a month the schedule anchors on the 15th.
	start := time.Date(2026, time.January, 10, 0, 0, 0, 0, time.UTC)
	cfg, err := CalculateInstallmentConfig(plan, decimal.NewFromInt(400), 1, decimal.Zero, start)
	require.NoError(t, err)
	require.Len(t, cfg.Schedule, 4)
	assert.Equal(t, time.Date(2026, time.January, 15, 0, 0, 0, 0, time.UTC), cfg.Schedule[0].DueDate)
	assert.Equal(t, time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC), cfg.Schedule[1].DueDate)
	assert.Equal(t, time.Date(2026, time.February, 15, 0, 0, 0, 0, time.UTC), cfg.Schedule[2].DueDate)
	assert.Equal(t, time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC), cfg.Schedule[3].DueDate)

	// Started exactly on the 15th the first payment is due that same day.
	start = time.Date(2026, time.January, 15, 0, 0, 0, 0, time.UTC)
	cfg, err = CalculateInstallmentConfig(plan, decimal.NewFromInt(400), 1, decimal.Zero, start)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, time.January, 15, 0, 0, 0, 0, time.UTC), cfg.Schedule[0].DueDate)
	assert.Equal(t, time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC), cfg.Schedule[1].DueDate)
	assert.Equal(t, time.Date(2026, time.February, 15, 0, 0, 0, 0, time.UTC), cfg.Schedule[2].DueDate)

	// Started in the second half it anchors on the 1st of the next month.
	start = time.Date(2026, time.January, 20, 0, 0, 0, 0, time.UTC)
	cfg, err = CalculateInstallmentConfig(plan, decimal.NewFromInt(400), 1, decimal.Zero, start)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC), cfg.Schedule[0].DueDate)
	assert.Equal(t, time.Date(2026, time.February, 15, 0, 0, 0, 0, time.UTC), cfg.Schedule[1].DueDate)
}

func TestCalculatorInputValidation(t *testing.T) {
	valid := models.InstallmentPlan{
		AnnualInterestRate: decimal.NewFromInt(10),
		NumberOfPayments:   3,
		Frequency:          models.FrequencyMonthly,
	}

	cases := []struct {
		name     string
		plan     models.InstallmentPlan
		price    decimal.Decimal
		quantity int
		down     decimal.Decimal
	}{
		{"zero price", valid, decimal.Zero, 1, decimal.Zero},
		{"negative price", valid, decimal.NewFromInt(-5), 1, decimal.Zero},
		{"zero quantity", valid, decimal.NewFromInt(10), 0, decimal.Zero},
		{"down payment over 100", valid, decimal.NewFromInt(10), 1, decimal.NewFromInt(101)},
		{"negative down payment", valid, decimal.NewFromInt(10), 1, decimal.NewFromInt(-1)},
		{"zero payments", models.InstallmentPlan{Frequency: models.FrequencyMonthly}, decimal.NewFromInt(10), 1, decimal.Zero},
		{"negative rate", models.InstallmentPlan{AnnualInterestRate: decimal.NewFromInt(-1), NumberOfPayments: 3, Frequency: models.FrequencyMonthly}, decimal.NewFromInt(10), 1, decimal.Zero},
		{"unknown frequency", models.InstallmentPlan{NumberOfPayments: 3, Frequency: "YEARLY"}, decimal.NewFromInt(10), 1, decimal.Zero},
		{"custom without days", models.InstallmentPlan{NumberOfPayments: 3, Frequency: models.FrequencyCustom}, decimal.NewFromInt(10), 1, decimal.Zero},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := CalculateInstallmentConfig(tc.plan, tc.price, tc.quantity, tc.down, time.Now())
			assert.ErrorIs(t, err, models.ErrValidation)
		})
	}
}

func TestDueDateProgression(t *testing.T) {
	start := time.Date(2026, time.May, 3, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		frequency models.PaymentFrequency
		first     time.Time
		second    time.Time
	}{
		{models.FrequencyDaily, start.AddDate(0, 0, 1), start.AddDate(0, 0, 2)},
		{models.FrequencyWeekly, start.AddDate(0, 0, 7), start.AddDate(0, 0, 14)},
		{models.FrequencyBiWeekly, start.AddDate(0, 0, 14), start.AddDate(0, 0, 28)},
		{models.FrequencyMonthly, start.AddDate(0, 1, 0), start.AddDate(0, 2, 0)},
		{models.FrequencyQuarterly, start.AddDate(0, 3, 0), start.AddDate(0, 6, 0)},
	}
	for _, tc := range cases {
		t.Run(string(tc.frequency), func(t *testing.T) {
			plan := models.InstallmentPlan{
				AnnualInterestRate: decimal.Zero,
				NumberOfPayments:   2,
				Frequency:          tc.frequency,
			}
			cfg, err := CalculateInstallmentConfig(plan, decimal.NewFromInt(100), 1, decimal.Zero, start)
			require.NoError(t, err)
			assert.Equal(t, tc.first, cfg.Schedule[0].DueDate)
			assert.Equal(t, tc.second, cfg.Schedule[1].DueDate)
		})
	}
}
