package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Dan9191/marketplace-ledger/internal/models"
)

const agreementColumns = `id, agreement_number, buyer_id, COALESCE(buyer_email, ''), seller_id,
	checkout_session_id, currency, total_cost, down_payment, financed_amount, periodic_payment,
	total_interest, total_payable, annual_interest_rate, number_of_payments, frequency,
	COALESCE(custom_days, 0), fulfillment, status, created_at, updated_at`

func scanAgreement(row interface{ Scan(...any) error }) (*models.InstallmentAgreement, error) {
	ag := &models.InstallmentAgreement{}
	err := row.Scan(&ag.ID, &ag.AgreementNumber, &ag.BuyerID, &ag.BuyerEmail, &ag.SellerID,
		&ag.CheckoutSessionID, &ag.Currency, &ag.TotalCost, &ag.DownPayment, &ag.FinancedAmount,
		&ag.PeriodicPayment, &ag.TotalInterest, &ag.TotalPayable, &ag.AnnualInterestRate,
		&ag.NumberOfPayments, &ag.Frequency, &ag.CustomDays, &ag.Fulfillment, &ag.Status,
		&ag.CreatedAt, &ag.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return ag, nil
}

const paymentColumns = `id, agreement_id, sequence_number, amount, principal_portion, interest_portion,
	remaining_balance, due_date, status, retry_count, paid_at, created_at, updated_at`

func scanPayment(row interface{ Scan(...any) error }) (*models.InstallmentPayment, error) {
	p := &models.InstallmentPayment{}
	err := row.Scan(&p.ID, &p.AgreementID, &p.SequenceNumber, &p.Amount, &p.PrincipalPortion,
		&p.InterestPortion, &p.RemainingBalance, &p.DueDate, &p.Status, &p.RetryCount,
		&p.PaidAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// CreateAgreement persists an agreement together with its full schedule in
// one transaction. The schedule is authoritative once written; previews use
// the calculator directly.
func (r *Repository) CreateAgreement(ctx context.Context, ag *models.InstallmentAgreement, schedule []*models.InstallmentPayment) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		insertAgreement := `
			INSERT INTO market.installment_agreements
				(agreement_number, buyer_id, buyer_email, seller_id, checkout_session_id, currency,
				 total_cost, down_payment, financed_amount, periodic_payment, total_interest, total_payable,
				 annual_interest_rate, number_of_payments, frequency, custom_days, fulfillment, status,
				 created_at, updated_at)
			VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
				NULLIF($16, 0), $17, $18, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
			RETURNING id, created_at, updated_at`
		err := tx.QueryRowContext(ctx, insertAgreement,
			ag.AgreementNumber, ag.BuyerID, ag.BuyerEmail, ag.SellerID, ag.CheckoutSessionID, ag.Currency,
			ag.TotalCost, ag.DownPayment, ag.FinancedAmount, ag.PeriodicPayment, ag.TotalInterest, ag.TotalPayable,
			ag.AnnualInterestRate, ag.NumberOfPayments, ag.Frequency, ag.CustomDays, ag.Fulfillment, ag.Status).
			Scan(&ag.ID, &ag.CreatedAt, &ag.UpdatedAt)
		if isUniqueViolation(err, "installment_agreements_agreement_number_key") {
			return models.ErrNumberTaken
		}
		if err != nil {
			return fmt.Errorf("failed to create agreement: %w", err)
		}

		insertPayment := `
			INSERT INTO market.installment_payments
				(agreement_id, sequence_number, amount, principal_portion, interest_portion,
				 remaining_balance, due_date, status, retry_count, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
			RETURNING id, created_at, updated_at`
		for _, p := range schedule {
			p.AgreementID = ag.ID
			err := tx.QueryRowContext(ctx, insertPayment,
				p.AgreementID, p.SequenceNumber, p.Amount, p.PrincipalPortion, p.InterestPortion,
				p.RemainingBalance, p.DueDate, p.Status).
				Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
			if err != nil {
				return fmt.Errorf("failed to create schedule row %d: %w", p.SequenceNumber, err)
			}
		}
		return nil
	})
}

// FindAgreementByID retrieves an agreement by primary key
func (r *Repository) FindAgreementByID(ctx context.Context, id int64) (*models.InstallmentAgreement, error) {
	query := `SELECT ` + agreementColumns + ` FROM market.installment_agreements WHERE id = $1`
	ag, err := scanAgreement(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, models.ErrAgreementNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find agreement: %w", err)
	}
	return ag, nil
}

// UpdateAgreementStatus transitions an agreement between statuses
func (r *Repository) UpdateAgreementStatus(ctx context.Context, id int64, from, to models.AgreementStatus) error {
	query := `
		UPDATE market.installment_agreements
		SET status = $1, updated_at = CURRENT_TIMESTAMP
		WHERE id = $2 AND status = $3`
	res, err := r.db.ExecContext(ctx, query, to, id, from)
	if err != nil {
		return fmt.Errorf("failed to update agreement status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		current, findErr := r.FindAgreementByID(ctx, id)
		if findErr != nil {
			return findErr
		}
		return &models.StateConflictError{
			Entity:    "agreement",
			ID:        current.AgreementNumber,
			Current:   string(current.Status),
			Requested: string(to),
		}
	}
	return nil
}

// ListAgreementPayments returns the full schedule of an agreement in order
func (r *Repository) ListAgreementPayments(ctx context.Context, agreementID int64) ([]*models.InstallmentPayment, error) {
	query := `SELECT ` + paymentColumns + ` FROM market.installment_payments
		WHERE agreement_id = $1 ORDER BY sequence_number`
	return r.listPayments(ctx, query, agreementID)
}

// ListDuePayments returns SCHEDULED payments that are due and whose
// exponential backoff window (from the previous failed attempt) has elapsed.
func (r *Repository) ListDuePayments(ctx context.Context, now time.Time, limit int) ([]*models.InstallmentPayment, error) {
	query := `SELECT ` + paymentColumns + ` FROM market.installment_payments
		WHERE status = $1 AND due_date <= $2
		  AND (retry_count = 0 OR updated_at + make_interval(secs => 2 * power(2, retry_count)) <= $2)
		ORDER BY due_date LIMIT $3`
	return r.listPayments(ctx, query, models.PaymentStatusScheduled, now, limit)
}

// ListPaymentsDueBetween returns SCHEDULED payments due inside a window,
// together with the buyer email from the owning agreement. Used for reminders.
func (r *Repository) ListPaymentsDueBetween(ctx context.Context, from, to time.Time) ([]*models.InstallmentPayment, map[int64]*models.InstallmentAgreement, error) {
	query := `SELECT ` + paymentColumns + ` FROM market.installment_payments
		WHERE status = $1 AND due_date > $2 AND due_date <= $3
		ORDER BY due_date`
	payments, err := r.listPayments(ctx, query, models.PaymentStatusScheduled, from, to)
	if err != nil {
		return nil, nil, err
	}
	agreements, err := r.agreementsFor(ctx, payments)
	return payments, agreements, err
}

// ListLatePayments returns payments marked LATE, with their agreements
func (r *Repository) ListLatePayments(ctx context.Context) ([]*models.InstallmentPayment, map[int64]*models.InstallmentAgreement, error) {
	query := `SELECT ` + paymentColumns + ` FROM market.installment_payments
		WHERE status = $1 ORDER BY due_date`
	payments, err := r.listPayments(ctx, query, models.PaymentStatusLate)
	if err != nil {
		return nil, nil, err
	}
	agreements, err := r.agreementsFor(ctx, payments)
	return payments, agreements, err
}

func (r *Repository) agreementsFor(ctx context.Context, payments []*models.InstallmentPayment) (map[int64]*models.InstallmentAgreement, error) {
	agreements := make(map[int64]*models.InstallmentAgreement)
	for _, p := range payments {
		if _, ok := agreements[p.AgreementID]; ok {
			continue
		}
		ag, err := r.FindAgreementByID(ctx, p.AgreementID)
		if err != nil {
			return nil, err
		}
		agreements[p.AgreementID] = ag
	}
	return agreements, nil
}

func (r *Repository) listPayments(ctx context.Context, query string, args ...any) ([]*models.InstallmentPayment, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	var payments []*models.InstallmentPayment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// MarkPaymentCompleted sets a payment COMPLETED if it is still outstanding
func (r *Repository) MarkPaymentCompleted(ctx context.Context, id int64, paidAt time.Time) error {
	query := `
		UPDATE market.installment_payments
		SET status = $1, paid_at = $2, updated_at = CURRENT_TIMESTAMP
		WHERE id = $3 AND status IN ($4, $5)`
	res, err := r.db.ExecContext(ctx, query,
		models.PaymentStatusCompleted, paidAt, id, models.PaymentStatusScheduled, models.PaymentStatusLate)
	if err != nil {
		return fmt.Errorf("failed to mark payment completed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrPaymentNotFound
	}
	return nil
}

// IncrementPaymentRetry bumps the retry counter after a transient failure
func (r *Repository) IncrementPaymentRetry(ctx context.Context, id int64) error {
	query := `
		UPDATE market.installment_payments
		SET retry_count = retry_count + 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to increment payment retry: %w", err)
	}
	return nil
}

// FailPayment marks a payment FAILED (permanent failure or retries exhausted)
func (r *Repository) FailPayment(ctx context.Context, id int64) error {
	query := `
		UPDATE market.installment_payments
		SET status = $1, updated_at = CURRENT_TIMESTAMP
		WHERE id = $2`
	if _, err := r.db.ExecContext(ctx, query, models.PaymentStatusFailed, id); err != nil {
		return fmt.Errorf("failed to mark payment failed: %w", err)
	}
	return nil
}

// MarkOverduePayments flips unpaid payments past their due date (with a one
// day grace window for the due-processing job) to LATE. Returns the count.
func (r *Repository) MarkOverduePayments(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE market.installment_payments
		SET status = $1, updated_at = CURRENT_TIMESTAMP
		WHERE status IN ($2, $3) AND due_date < $4 - INTERVAL '1 day'`
	res, err := r.db.ExecContext(ctx, query,
		models.PaymentStatusLate, models.PaymentStatusScheduled, models.PaymentStatusFailed, now)
	if err != nil {
		return 0, fmt.Errorf("failed to mark overdue payments: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// SkipOutstandingPayments marks every not-yet-completed schedule row of a
// cancelled agreement SKIPPED so sweeps stop picking them up. Returns the count.
func (r *Repository) SkipOutstandingPayments(ctx context.Context, agreementID int64) (int64, error) {
	query := `
		UPDATE market.installment_payments
		SET status = $1, updated_at = CURRENT_TIMESTAMP
		WHERE agreement_id = $2 AND status IN ($3, $4, $5)`
	res, err := r.db.ExecContext(ctx, query, models.PaymentStatusSkipped, agreementID,
		models.PaymentStatusScheduled, models.PaymentStatusLate, models.PaymentStatusFailed)
	if err != nil {
		return 0, fmt.Errorf("failed to skip outstanding payments: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// CountOutstandingPayments returns how many schedule rows of an agreement
// have not completed yet.
func (r *Repository) CountOutstandingPayments(ctx context.Context, agreementID int64) (int64, error) {
	var n int64
	query := `SELECT COUNT(*) FROM market.installment_payments WHERE agreement_id = $1 AND status <> $2`
	if err := r.db.QueryRowContext(ctx, query, agreementID, models.PaymentStatusCompleted).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count outstanding payments: %w", err)
	}
	return n, nil
}

// NextAgreementSequence returns the next sequence number for agreements in a year
func (r *Repository) NextAgreementSequence(ctx context.Context, year int) (int64, error) {
	var n int64
	query := `SELECT COUNT(*) + 1 FROM market.installment_agreements WHERE agreement_number LIKE $1`
	if err := r.db.QueryRowContext(ctx, query, fmt.Sprintf("INST-%d-%%", year)).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to get next agreement sequence: %w", err)
	}
	return n, nil
}
