package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Dan9191/marketplace-ledger/internal/config"
	"github.com/Dan9191/marketplace-ledger/internal/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// SessionStore reads and updates the checkout boundary rows. It is
// implemented by repository.Repository.
type SessionStore interface {
	FindCheckoutSession(ctx context.Context, id string) (*models.CheckoutSession, error)
	UpdateCheckoutPayment(ctx context.Context, id, status, providerRef string) error
}

// TaskQueue is the durable outbox. It is implemented by repository.Repository.
type TaskQueue interface {
	EnqueueTask(ctx context.Context, t *models.Task) error
	ListDueTasks(ctx context.Context, now time.Time, limit int) ([]*models.Task, error)
	MarkTaskDone(ctx context.Context, id string) error
	RescheduleTask(ctx context.Context, id string, attempts int, nextRun time.Time, lastErr string) error
	MarkTaskManual(ctx context.Context, id string, lastErr string) error
}

// OrderCreator is the checkout/order collaborator that turns a paid session
// into an order. Its failures are retried from the outbox, never propagated
// into the payment path.
type OrderCreator interface {
	CreateOrder(ctx context.Context, checkoutSessionID string) error
}

// ReceiptSender sends a best-effort payment receipt
type ReceiptSender interface {
	SendPaymentReceipt(to, buyerID, sessionID string, amount, currency string) error
}

// PaymentProcessor handles one payment method
type PaymentProcessor interface {
	Method() models.PaymentMethod
	Process(ctx context.Context, session *models.CheckoutSession, actor string) *models.PaymentResult
}

// orderTaskPayload is the JSON stored in a CREATE_ORDER task
type orderTaskPayload struct {
	CheckoutSessionID string `json:"checkout_session_id"`
}

// NewOrderTask builds a durable CREATE_ORDER task for a paid session
func NewOrderTask(checkoutSessionID string, maxAttempts int) *models.Task {
	payload, _ := json.Marshal(orderTaskPayload{CheckoutSessionID: checkoutSessionID})
	return &models.Task{
		ID:          uuid.New().String(),
		TaskType:    models.TaskTypeCreateOrder,
		Payload:     string(payload),
		MaxAttempts: maxAttempts,
		NextRunAt:   time.Now(),
		Status:      models.TaskStatusPending,
	}
}

// PaymentOrchestrator resolves the payment method for a checkout session,
// routes to the matching processor, and translates the outcome into session
// status, escrow state and downstream order creation.
type PaymentOrchestrator struct {
	sessions   SessionStore
	tasks      TaskQueue
	processors map[models.PaymentMethod]PaymentProcessor
	orders     OrderCreator
	receipts   ReceiptSender
	log        *logrus.Logger
	cfg        *config.Config
}

// NewPaymentOrchestrator initializes the orchestrator with its processors.
// receipts may be nil when no SMTP is configured.
func NewPaymentOrchestrator(sessions SessionStore, tasks TaskQueue, orders OrderCreator,
	receipts ReceiptSender, log *logrus.Logger, cfg *config.Config, processors ...PaymentProcessor) *PaymentOrchestrator {

	byMethod := make(map[models.PaymentMethod]PaymentProcessor, len(processors))
	for _, p := range processors {
		byMethod[p.Method()] = p
	}
	return &PaymentOrchestrator{
		sessions:   sessions,
		tasks:      tasks,
		processors: byMethod,
		orders:     orders,
		receipts:   receipts,
		log:        log,
		cfg:        cfg,
	}
}

// ProcessPayment is the orchestrator's sole entry point. The method is
// resolved as: explicit override, else the session's stored provider, else
// WALLET. Every processor verdict is recorded on the session - success,
// pending and failure alike - so no outcome is ever silently lost.
func (o *PaymentOrchestrator) ProcessPayment(ctx context.Context, sessionID string,
	override models.PaymentMethod, actor string) (*models.PaymentResult, error) {

	session, err := o.sessions.FindCheckoutSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.PaymentStatus == models.CheckoutStatusPaid {
		return nil, &models.StateConflictError{
			Entity: "checkout session", ID: session.ID,
			Current: session.PaymentStatus, Requested: models.CheckoutStatusPaid,
		}
	}

	method := override
	if method == "" {
		method = session.PaymentProvider
	}
	if method == "" {
		method = models.PaymentMethodWallet
	}
	processor, ok := o.processors[method]
	if !ok {
		result := &models.PaymentResult{
			Outcome: models.PaymentOutcomeFailed,
			Reason:  fmt.Sprintf("no processor for payment method %s", method),
		}
		o.recordOutcome(ctx, session, result)
		return result, nil
	}

	o.log.Infof("Processing payment for session %s via %s", session.ID, method)
	result := processor.Process(ctx, session, actor)
	o.recordOutcome(ctx, session, result)

	if result.Outcome == models.PaymentOutcomeSuccess {
		task := NewOrderTask(session.ID, o.cfg.PaymentMaxRetries)
		if err := o.tasks.EnqueueTask(ctx, task); err != nil {
			// The payment stands; order creation is recovered operationally.
			o.log.Errorf("Failed to enqueue order task for session %s: %v", session.ID, err)
		}
		o.sendReceipt(session)
	}
	return result, nil
}

// recordOutcome writes the processor verdict back onto the session
func (o *PaymentOrchestrator) recordOutcome(ctx context.Context, session *models.CheckoutSession, result *models.PaymentResult) {
	status := map[models.PaymentOutcome]string{
		models.PaymentOutcomeSuccess: models.CheckoutStatusPaid,
		models.PaymentOutcomePending: models.CheckoutStatusProcessing,
		models.PaymentOutcomeFailed:  models.CheckoutStatusFailed,
	}[result.Outcome]
	if err := o.sessions.UpdateCheckoutPayment(ctx, session.ID, status, result.ProviderRef); err != nil {
		o.log.Errorf("Failed to record payment outcome %s on session %s: %v", result.Outcome, session.ID, err)
	}
	if result.Outcome == models.PaymentOutcomeFailed {
		o.log.Warnf("Payment failed for session %s: %s", session.ID, result.Reason)
	}
}

// sendReceipt fires the best-effort post-payment callback. Its failure never
// unwinds the payment.
func (o *PaymentOrchestrator) sendReceipt(session *models.CheckoutSession) {
	if o.receipts == nil || session.BuyerEmail == "" {
		return
	}
	err := o.receipts.SendPaymentReceipt(session.BuyerEmail, session.BuyerID, session.ID,
		session.TotalAmount.StringFixed(MoneyScale), session.Currency)
	if err != nil {
		o.log.Warnf("Payment receipt for session %s not sent: %v", session.ID, err)
	}
}

// taskBackoffBase is the base delay for outbox retries; attempt k waits 2^k*base
const taskBackoffBase = 2 * time.Second

// ProcessDueTasks drains the outbox: each due task runs once, a failure
// reschedules it with exponential backoff, and exhausted tasks are flagged
// for manual intervention rather than dropped.
func (o *PaymentOrchestrator) ProcessDueTasks(ctx context.Context, now time.Time) error {
	tasks, err := o.tasks.ListDueTasks(ctx, now, 50)
	if err != nil {
		return err
	}
	for _, t := range tasks {
		if err := o.runTask(ctx, t); err == nil {
			if err := o.tasks.MarkTaskDone(ctx, t.ID); err != nil {
				o.log.Errorf("Failed to mark task %s done: %v", t.ID, err)
			}
			continue
		} else {
			attempts := t.Attempts + 1
			if attempts >= t.MaxAttempts {
				o.log.Errorf("Task %s (%s) exhausted %d attempts: %v", t.ID, t.TaskType, attempts, err)
				if mErr := o.tasks.MarkTaskManual(ctx, t.ID, err.Error()); mErr != nil {
					o.log.Errorf("Failed to flag task %s for manual intervention: %v", t.ID, mErr)
				}
				continue
			}
			delay := taskBackoffBase << uint(attempts)
			o.log.Warnf("Task %s (%s) attempt %d failed, retrying in %s: %v", t.ID, t.TaskType, attempts, delay, err)
			if rErr := o.tasks.RescheduleTask(ctx, t.ID, attempts, now.Add(delay), err.Error()); rErr != nil {
				o.log.Errorf("Failed to reschedule task %s: %v", t.ID, rErr)
			}
		}
	}
	return nil
}

func (o *PaymentOrchestrator) runTask(ctx context.Context, t *models.Task) error {
	switch t.TaskType {
	case models.TaskTypeCreateOrder:
		var payload orderTaskPayload
		if err := json.Unmarshal([]byte(t.Payload), &payload); err != nil {
			return fmt.Errorf("bad task payload: %w", err)
		}
		return o.orders.CreateOrder(ctx, payload.CheckoutSessionID)
	default:
		return fmt.Errorf("unknown task type %s", t.TaskType)
	}
}

// WalletProcessor pays a session from the buyer's wallet by holding the full
// amount in escrow.
type WalletProcessor struct {
	escrow *EscrowService
	log    *logrus.Logger
}

// NewWalletProcessor initializes the wallet processor
func NewWalletProcessor(escrow *EscrowService, log *logrus.Logger) *WalletProcessor {
	return &WalletProcessor{escrow: escrow, log: log}
}

// Method returns the payment method this processor handles
func (p *WalletProcessor) Method() models.PaymentMethod { return models.PaymentMethodWallet }

// Process holds the session amount in escrow. Validation and balance
// failures come back as a FAILED result with the reason attached.
func (p *WalletProcessor) Process(ctx context.Context, session *models.CheckoutSession, actor string) *models.PaymentResult {
	esc, err := p.escrow.HoldMoney(ctx, session.ID, session.BuyerID, session.SellerID,
		session.TotalAmount, session.Currency, actor)
	if err != nil {
		reason := err.Error()
		var insufficient *models.InsufficientBalanceError
		if errors.As(err, &insufficient) {
			reason = insufficient.Error()
		}
		return &models.PaymentResult{Outcome: models.PaymentOutcomeFailed, Reason: reason}
	}
	return &models.PaymentResult{Outcome: models.PaymentOutcomeSuccess, EscrowID: esc.ID}
}

// GatewayClient initiates a payment with an external provider and returns
// its reference. Implemented by integrations/gateway.Client.
type GatewayClient interface {
	Configured() bool
	InitiatePayment(sessionID, buyerID string, amount, currency string) (providerRef string, err error)
}

// ExternalProcessor routes a payment to an external provider (mobile money,
// card). The real provider protocols are not integrated yet: without a
// configured gateway it fails fast, and any transport error or timeout maps
// to FAILED so the session is never left ambiguous.
type ExternalProcessor struct {
	method  models.PaymentMethod
	gateway GatewayClient
	log     *logrus.Logger
}

// NewExternalProcessor initializes a processor for one external method
func NewExternalProcessor(method models.PaymentMethod, gw GatewayClient, log *logrus.Logger) *ExternalProcessor {
	return &ExternalProcessor{method: method, gateway: gw, log: log}
}

// Method returns the payment method this processor handles
func (p *ExternalProcessor) Method() models.PaymentMethod { return p.method }

// Process hands the payment to the gateway; an accepted request is PENDING
// until the provider confirms out of band.
func (p *ExternalProcessor) Process(ctx context.Context, session *models.CheckoutSession, actor string) *models.PaymentResult {
	if p.gateway == nil || !p.gateway.Configured() {
		return &models.PaymentResult{
			Outcome: models.PaymentOutcomeFailed,
			Reason:  fmt.Sprintf("%s provider not configured", p.method),
		}
	}
	ref, err := p.gateway.InitiatePayment(session.ID, session.BuyerID,
		session.TotalAmount.StringFixed(MoneyScale), session.Currency)
	if err != nil {
		return &models.PaymentResult{Outcome: models.PaymentOutcomeFailed, Reason: err.Error()}
	}
	return &models.PaymentResult{Outcome: models.PaymentOutcomePending, ProviderRef: ref}
}
