package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Dan9191/marketplace-ledger/internal/config"
	"github.com/Dan9191/marketplace-ledger/internal/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// InstallmentStore is the persistence surface for agreements and their
// schedules. It is implemented by repository.Repository.
type InstallmentStore interface {
	CreateAgreement(ctx context.Context, ag *models.InstallmentAgreement, schedule []*models.InstallmentPayment) error
	FindAgreementByID(ctx context.Context, id int64) (*models.InstallmentAgreement, error)
	UpdateAgreementStatus(ctx context.Context, id int64, from, to models.AgreementStatus) error
	ListAgreementPayments(ctx context.Context, agreementID int64) ([]*models.InstallmentPayment, error)
	ListDuePayments(ctx context.Context, now time.Time, limit int) ([]*models.InstallmentPayment, error)
	ListPaymentsDueBetween(ctx context.Context, from, to time.Time) ([]*models.InstallmentPayment, map[int64]*models.InstallmentAgreement, error)
	ListLatePayments(ctx context.Context) ([]*models.InstallmentPayment, map[int64]*models.InstallmentAgreement, error)
	MarkPaymentCompleted(ctx context.Context, id int64, paidAt time.Time) error
	IncrementPaymentRetry(ctx context.Context, id int64) error
	FailPayment(ctx context.Context, id int64) error
	MarkOverduePayments(ctx context.Context, now time.Time) (int64, error)
	SkipOutstandingPayments(ctx context.Context, agreementID int64) (int64, error)
	CountOutstandingPayments(ctx context.Context, agreementID int64) (int64, error)
	NextAgreementSequence(ctx context.Context, year int) (int64, error)
}

// InstallmentService creates financed purchase agreements from calculator
// output and processes their scheduled payments.
type InstallmentService struct {
	store  InstallmentStore
	escrow *EscrowService
	tasks  TaskQueue
	log    *logrus.Logger
	cfg    *config.Config
}

// NewInstallmentService initializes a new installment service
func NewInstallmentService(store InstallmentStore, escrow *EscrowService,
	tasks TaskQueue, log *logrus.Logger, cfg *config.Config) *InstallmentService {
	return &InstallmentService{store: store, escrow: escrow, tasks: tasks, log: log, cfg: cfg}
}

// CreateAgreementRequest carries everything the checkout collaborator knows
// about a financed purchase.
type CreateAgreementRequest struct {
	Plan               models.InstallmentPlan   `json:"plan"`
	Price              decimal.Decimal          `json:"price"`
	Quantity           int                      `json:"quantity"`
	DownPaymentPercent decimal.Decimal          `json:"down_payment_percent"`
	BuyerID            string                   `json:"buyer_id"`
	BuyerEmail         string                   `json:"buyer_email,omitempty"`
	SellerID           string                   `json:"seller_id"`
	CheckoutSessionID  string                   `json:"checkout_session_id"`
	Currency           string                   `json:"currency,omitempty"`
	Fulfillment        models.FulfillmentTiming `json:"fulfillment"`
	StartDate          time.Time                `json:"start_date,omitempty"`
}

// CreateAgreement runs the calculator, persists the agreement with its
// authoritative schedule, and charges the down payment (if any) into escrow.
// The agreement becomes ACTIVE once the first money has moved; IMMEDIATE
// fulfillment enqueues the order at that point, AFTER_PAYMENT waits for the
// schedule to complete.
func (s *InstallmentService) CreateAgreement(ctx context.Context, req CreateAgreementRequest, actor string) (*models.InstallmentAgreement, error) {
	if req.BuyerID == "" || req.SellerID == "" || req.CheckoutSessionID == "" {
		return nil, fmt.Errorf("%w: buyer, seller and checkout session are required", models.ErrValidation)
	}
	currency := req.Currency
	if currency == "" {
		currency = s.cfg.DefaultCurrency
	}
	fulfillment := req.Fulfillment
	if fulfillment == "" {
		fulfillment = models.FulfillmentAfterPayment
	}
	start := req.StartDate
	if start.IsZero() {
		start = time.Now()
	}

	cfgOut, err := CalculateInstallmentConfig(req.Plan, req.Price, req.Quantity, req.DownPaymentPercent, start)
	if err != nil {
		return nil, err
	}

	ag := &models.InstallmentAgreement{
		BuyerID:            req.BuyerID,
		BuyerEmail:         req.BuyerEmail,
		SellerID:           req.SellerID,
		CheckoutSessionID:  req.CheckoutSessionID,
		Currency:           currency,
		TotalCost:          cfgOut.TotalCost,
		DownPayment:        cfgOut.DownPayment,
		FinancedAmount:     cfgOut.FinancedAmount,
		PeriodicPayment:    cfgOut.PeriodicPayment,
		TotalInterest:      cfgOut.TotalInterest,
		TotalPayable:       cfgOut.TotalPayable,
		AnnualInterestRate: req.Plan.AnnualInterestRate,
		NumberOfPayments:   req.Plan.NumberOfPayments,
		Frequency:          req.Plan.Frequency,
		CustomDays:         req.Plan.CustomDays,
		Fulfillment:        fulfillment,
		Status:             models.AgreementStatusPendingFirstPayment,
	}

	year := time.Now().Year()
	seq, err := s.store.NextAgreementSequence(ctx, year)
	if err != nil {
		return nil, err
	}

	schedule := make([]*models.InstallmentPayment, 0, len(cfgOut.Schedule))
	for _, row := range cfgOut.Schedule {
		schedule = append(schedule, &models.InstallmentPayment{
			SequenceNumber:   row.SequenceNumber,
			Amount:           row.Amount,
			PrincipalPortion: row.PrincipalPortion,
			InterestPortion:  row.InterestPortion,
			RemainingBalance: row.RemainingBalance,
			DueDate:          row.DueDate,
			Status:           models.PaymentStatusScheduled,
		})
	}

	created := false
	for attempt := 1; attempt <= maxNumberAttempts; attempt++ {
		ag.AgreementNumber = agreementNumber(year, seq, attempt)
		err := s.store.CreateAgreement(ctx, ag, schedule)
		if errors.Is(err, models.ErrNumberTaken) {
			s.log.Warnf("Agreement number %s already taken, retrying", ag.AgreementNumber)
			continue
		}
		if err != nil {
			return nil, err
		}
		created = true
		break
	}
	if !created {
		return nil, fmt.Errorf("failed to allocate agreement number after %d attempts", maxNumberAttempts)
	}
	s.log.Infof("Agreement %s created: financed %s %s over %d payments of %s",
		ag.AgreementNumber, ag.FinancedAmount.StringFixed(MoneyScale), currency,
		ag.NumberOfPayments, ag.PeriodicPayment.StringFixed(MoneyScale))

	if ag.DownPayment.IsPositive() {
		if _, err := s.escrow.HoldMoney(ctx, req.CheckoutSessionID, req.BuyerID, req.SellerID,
			ag.DownPayment, currency, actor); err != nil {
			return ag, fmt.Errorf("down payment failed for agreement %s: %w", ag.AgreementNumber, err)
		}
	}
	if err := s.store.UpdateAgreementStatus(ctx, ag.ID, models.AgreementStatusPendingFirstPayment, models.AgreementStatusActive); err != nil {
		return ag, err
	}
	ag.Status = models.AgreementStatusActive

	if fulfillment == models.FulfillmentImmediate {
		s.enqueueOrderTask(ctx, ag)
	}
	return ag, nil
}

func agreementNumber(year int, seq int64, attempt int) string {
	if attempt <= 1 {
		return fmt.Sprintf("INST-%d-%06d", year, seq)
	}
	return fmt.Sprintf("INST-%d-%06d-%d", year, seq, attempt)
}

// GetAgreement returns an agreement with its full schedule
func (s *InstallmentService) GetAgreement(ctx context.Context, id int64) (*models.InstallmentAgreement, []*models.InstallmentPayment, error) {
	ag, err := s.store.FindAgreementByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	schedule, err := s.store.ListAgreementPayments(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return ag, schedule, nil
}

// ProcessDuePayments charges every scheduled payment that has fallen due.
// Each payment moves the full level amount from the buyer's wallet into a
// per-payment escrow. Insufficient balance is permanent: the payment fails
// immediately and the agreement defaults. Any other failure is transient and
// retried by later runs with exponential backoff until the retry budget is
// exhausted.
func (s *InstallmentService) ProcessDuePayments(ctx context.Context, now time.Time) error {
	due, err := s.store.ListDuePayments(ctx, now, 100)
	if err != nil {
		return err
	}
	for _, p := range due {
		if err := s.processPayment(ctx, p, now); err != nil {
			s.log.Errorf("Failed to process installment payment %d: %v", p.ID, err)
		}
	}
	return nil
}

func (s *InstallmentService) processPayment(ctx context.Context, p *models.InstallmentPayment, now time.Time) error {
	ag, err := s.store.FindAgreementByID(ctx, p.AgreementID)
	if err != nil {
		return err
	}
	if ag.Status != models.AgreementStatusActive {
		s.log.Warnf("Skipping payment %d: agreement %s is %s", p.ID, ag.AgreementNumber, ag.Status)
		return nil
	}

	// Each charge is an escrow hold keyed by the schedule row. The session
	// uniqueness of the escrow store makes the charge idempotent: a payment
	// that was charged but never marked completed comes back from the hold
	// as ErrEscrowExists on the next sweep, and only the mark is finished.
	chargeRef := fmt.Sprintf("%s:%d", models.RefTypeInstallmentPayment, p.ID)
	_, err = s.escrow.HoldMoney(ctx, chargeRef, ag.BuyerID, ag.SellerID, p.Amount, ag.Currency, "system")
	if err != nil && !errors.Is(err, models.ErrEscrowExists) {
		var insufficient *models.InsufficientBalanceError
		if errors.As(err, &insufficient) {
			s.log.Warnf("Installment payment %d failed permanently: %v", p.ID, err)
			return s.failAndDefault(ctx, p, ag)
		}
		if p.RetryCount+1 >= s.cfg.PaymentMaxRetries {
			s.log.Errorf("Installment payment %d exhausted %d retries: %v", p.ID, s.cfg.PaymentMaxRetries, err)
			return s.failAndDefault(ctx, p, ag)
		}
		if retryErr := s.store.IncrementPaymentRetry(ctx, p.ID); retryErr != nil {
			return retryErr
		}
		return err
	}

	if err := s.store.MarkPaymentCompleted(ctx, p.ID, now); err != nil {
		// The hold stays keyed to the payment, so the next sweep completes
		// the mark without moving money again.
		s.log.Errorf("Installment payment %d charged but not marked completed: %v", p.ID, err)
		return err
	}
	s.log.Infof("Installment payment %d (%s %s) completed for agreement %s",
		p.ID, p.Amount.StringFixed(MoneyScale), ag.Currency, ag.AgreementNumber)

	outstanding, err := s.store.CountOutstandingPayments(ctx, ag.ID)
	if err != nil {
		return err
	}
	if outstanding == 0 {
		if err := s.store.UpdateAgreementStatus(ctx, ag.ID, models.AgreementStatusActive, models.AgreementStatusCompleted); err != nil {
			return err
		}
		s.log.Infof("Agreement %s completed", ag.AgreementNumber)
		if ag.Fulfillment == models.FulfillmentAfterPayment {
			ag.Status = models.AgreementStatusCompleted
			s.enqueueOrderTask(ctx, ag)
		}
	}
	return nil
}

// failAndDefault marks the payment FAILED and defaults the agreement so the
// rest of the schedule stops being charged.
func (s *InstallmentService) failAndDefault(ctx context.Context, p *models.InstallmentPayment, ag *models.InstallmentAgreement) error {
	if err := s.store.FailPayment(ctx, p.ID); err != nil {
		return err
	}
	if err := s.store.UpdateAgreementStatus(ctx, ag.ID, models.AgreementStatusActive, models.AgreementStatusDefaulted); err != nil {
		return err
	}
	s.log.Warnf("Agreement %s defaulted: payment %d failed permanently", ag.AgreementNumber, p.ID)
	return nil
}

// CancelAgreement stops a not-yet-completed agreement. Outstanding payments
// are marked SKIPPED and will never be charged; money that already moved
// stays in its escrows and follows the normal escrow lifecycle.
func (s *InstallmentService) CancelAgreement(ctx context.Context, id int64, actor string) (*models.InstallmentAgreement, error) {
	ag, err := s.store.FindAgreementByID(ctx, id)
	if err != nil {
		return nil, err
	}
	from := ag.Status
	if from != models.AgreementStatusActive && from != models.AgreementStatusPendingFirstPayment {
		return nil, &models.StateConflictError{
			Entity:    "agreement",
			ID:        ag.AgreementNumber,
			Current:   string(from),
			Requested: string(models.AgreementStatusCancelled),
		}
	}
	if err := s.store.UpdateAgreementStatus(ctx, ag.ID, from, models.AgreementStatusCancelled); err != nil {
		return nil, err
	}
	ag.Status = models.AgreementStatusCancelled
	skipped, err := s.store.SkipOutstandingPayments(ctx, ag.ID)
	if err != nil {
		return nil, err
	}
	s.log.Infof("Agreement %s cancelled by %s, %d payments skipped", ag.AgreementNumber, actor, skipped)
	return ag, nil
}

// enqueueOrderTask hands order creation to the outbox. Best-effort relative
// to the payment: a failure here is logged and picked up by operations, it
// never unwinds money that already moved.
func (s *InstallmentService) enqueueOrderTask(ctx context.Context, ag *models.InstallmentAgreement) {
	task := NewOrderTask(ag.CheckoutSessionID, s.cfg.PaymentMaxRetries)
	if err := s.tasks.EnqueueTask(ctx, task); err != nil {
		s.log.Errorf("Failed to enqueue order task for agreement %s: %v", ag.AgreementNumber, err)
	}
}

// MarkOverduePayments flips unpaid past-due payments to LATE
func (s *InstallmentService) MarkOverduePayments(ctx context.Context, now time.Time) error {
	n, err := s.store.MarkOverduePayments(ctx, now)
	if err != nil {
		return err
	}
	if n > 0 {
		s.log.Infof("Marked %d installment payments LATE", n)
	}
	return nil
}
