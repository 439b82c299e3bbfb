package service

import (
	"context"
	"time"

	"github.com/Dan9191/marketplace-ledger/internal/config"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// ReminderSender sends a best-effort payment reminder email
type ReminderSender interface {
	SendPaymentReminder(to, buyerID string, dueDate time.Time, amount, currency string, isOverdue bool) error
}

// Scheduler drives the periodic background work: charging due installment
// payments, sweeping the order outbox, marking overdue payments and sending
// reminders. One cron instance, one job per concern.
type Scheduler struct {
	cron         *cron.Cron
	installments *InstallmentService
	orchestrator *PaymentOrchestrator
	reminders    ReminderSender
	log          *logrus.Logger
	cfg          *config.Config
}

// NewScheduler initializes the scheduler. reminders may be nil when no SMTP
// is configured.
func NewScheduler(installments *InstallmentService, orchestrator *PaymentOrchestrator,
	reminders ReminderSender, log *logrus.Logger, cfg *config.Config) *Scheduler {
	return &Scheduler{
		cron:         cron.New(),
		installments: installments,
		orchestrator: orchestrator,
		reminders:    reminders,
		log:          log,
		cfg:          cfg,
	}
}

// Start registers the jobs and starts the cron loop
func (s *Scheduler) Start() error {
	jobs := []struct {
		spec string
		name string
		run  func(ctx context.Context) error
	}{
		{"@every 1m", "outbox", func(ctx context.Context) error {
			return s.orchestrator.ProcessDueTasks(ctx, time.Now())
		}},
		{"@every 10m", "due-payments", func(ctx context.Context) error {
			return s.installments.ProcessDuePayments(ctx, time.Now())
		}},
		{"0 6 * * *", "overdue", func(ctx context.Context) error {
			return s.installments.MarkOverduePayments(ctx, time.Now())
		}},
		{"0 7 * * *", "reminders", func(ctx context.Context) error {
			return s.SendPaymentReminders(ctx, time.Now())
		}},
	}
	for _, j := range jobs {
		job := j
		if _, err := s.cron.AddFunc(job.spec, func() {
			if err := job.run(context.Background()); err != nil {
				s.log.Errorf("Job %s failed: %v", job.name, err)
			}
		}); err != nil {
			return err
		}
	}
	s.cron.Start()
	s.log.Info("Background scheduler started")
	return nil
}

// Stop stops the cron loop and waits for running jobs
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info("Background scheduler stopped")
}

// SendPaymentReminders emails buyers about payments due within the reminder
// window and about payments already LATE. Failures are logged and skipped;
// a reminder is never worth failing a job run over.
func (s *Scheduler) SendPaymentReminders(ctx context.Context, now time.Time) error {
	if s.reminders == nil {
		return nil
	}
	windowEnd := now.AddDate(0, 0, s.cfg.ReminderDays)
	upcoming, agreements, err := s.installments.store.ListPaymentsDueBetween(ctx, now, windowEnd)
	if err != nil {
		return err
	}
	for _, p := range upcoming {
		ag := agreements[p.AgreementID]
		if ag == nil || ag.BuyerEmail == "" {
			continue
		}
		if err := s.reminders.SendPaymentReminder(ag.BuyerEmail, ag.BuyerID, p.DueDate,
			p.Amount.StringFixed(MoneyScale), ag.Currency, false); err != nil {
			s.log.Warnf("Reminder for payment %d not sent: %v", p.ID, err)
		}
	}

	late, agreements, err := s.installments.store.ListLatePayments(ctx)
	if err != nil {
		return err
	}
	for _, p := range late {
		ag := agreements[p.AgreementID]
		if ag == nil || ag.BuyerEmail == "" {
			continue
		}
		if err := s.reminders.SendPaymentReminder(ag.BuyerEmail, ag.BuyerID, p.DueDate,
			p.Amount.StringFixed(MoneyScale), ag.Currency, true); err != nil {
			s.log.Warnf("Overdue notice for payment %d not sent: %v", p.ID, err)
		}
	}
	return nil
}
