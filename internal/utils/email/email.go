package email

import (
	"fmt"
	"net/smtp"
	"time"

	"github.com/Dan9191/marketplace-ledger/internal/config"
	"github.com/jordan-wright/email"
	"github.com/sirupsen/logrus"
)

// Sender handles sending emails via SMTP
type Sender struct {
	cfg    *config.Config
	logger *logrus.Logger
}

// NewSender creates a new email sender
func NewSender(cfg *config.Config, logger *logrus.Logger) *Sender {
	return &Sender{
		cfg:    cfg,
		logger: logger,
	}
}

// SendPaymentReminder sends an upcoming or overdue installment reminder
func (s *Sender) SendPaymentReminder(to, buyerID string, dueDate time.Time, amount, currency string, isOverdue bool) error {
	e := email.NewEmail()
	e.From = s.cfg.SenderEmail
	e.To = []string{to}
	if isOverdue {
		e.Subject = "Overdue Installment Payment Notification"
	} else {
		e.Subject = "Upcoming Installment Payment Reminder"
	}

	body := fmt.Sprintf(
		"Dear %s,\n\n", buyerID,
	)
	if isOverdue {
		body += fmt.Sprintf(
			"Your installment payment of %s %s was due on %s and is now overdue.\n"+
				"Please top up your wallet and make the payment as soon as possible.\n",
			amount, currency, dueDate.Format("2006-01-02"),
		)
	} else {
		body += fmt.Sprintf(
			"This is a reminder that your installment payment of %s %s is due on %s.\n"+
				"Please ensure sufficient funds are available in your wallet.\n",
			amount, currency, dueDate.Format("2006-01-02"),
		)
	}
	body += "\nBest regards,\nMarketplace"
	e.Text = []byte(body)

	return s.send(e)
}

// SendPaymentReceipt sends a receipt after a successful checkout payment
func (s *Sender) SendPaymentReceipt(to, buyerID, sessionID string, amount, currency string) error {
	e := email.NewEmail()
	e.From = s.cfg.SenderEmail
	e.To = []string{to}
	e.Subject = "Payment Confirmation"

	body := fmt.Sprintf(
		"Dear %s,\n\n"+
			"We received your payment of %s %s for order reference %s.\n"+
			"Your money is held safely in escrow until delivery is confirmed.\n"+
			"Payment time: %s\n"+
			"\nBest regards,\nMarketplace",
		buyerID, amount, currency, sessionID, time.Now().Format("2006-01-02 15:04:05"),
	)
	e.Text = []byte(body)

	return s.send(e)
}

func (s *Sender) send(e *email.Email) error {
	addr := fmt.Sprintf("%s:%s", s.cfg.SMTPHost, s.cfg.SMTPPort)
	auth := smtp.PlainAuth("", s.cfg.SMTPUsername, s.cfg.SMTPPassword, s.cfg.SMTPHost)
	if err := e.Send(addr, auth); err != nil {
		s.logger.Errorf("Failed to send email to %v: %v", e.To, err)
		return fmt.Errorf("failed to send email: %w", err)
	}
	s.logger.Infof("Email sent to %v: %s", e.To, e.Subject)
	return nil
}
