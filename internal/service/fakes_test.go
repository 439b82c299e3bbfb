package service

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Dan9191/marketplace-ledger/internal/config"
	"github.com/Dan9191/marketplace-ledger/internal/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// memStore is an in-memory stand-in for repository.Repository. It mirrors the
// data-layer contracts the services rely on: unique numbers map to
// models.ErrNumberTaken, duplicate wallets/singletons to models.ErrAccountExists,
// entry batches apply atomically with running-balance checks, and escrow
// transitions are guarded by the current stored status.
type memStore struct {
	mu sync.Mutex

	accounts         map[int64]*models.LedgerAccount
	accountsByNumber map[string]int64
	nextAccountID    int64

	entries      []*models.LedgerEntry
	entryNumbers map[string]bool
	nextEntryID  int64

	escrows        map[int64]*models.EscrowAccount
	escrowNumbers  map[string]int64
	escrowSessions map[string]int64
	nextEscrowID   int64

	agreements       map[int64]*models.InstallmentAgreement
	agreementNumbers map[string]int64
	nextAgreementID  int64
	payments         map[int64]*models.InstallmentPayment
	nextPaymentID    int64

	sessions map[string]*models.CheckoutSession
	tasks    map[string]*models.Task

	// failNextEntries injects one transient entry-creation failure
	failNextEntries error
	// failNextMarkCompleted injects one MarkPaymentCompleted failure
	failNextMarkCompleted error
}

func newMemStore() *memStore {
	return &memStore{
		accounts:         make(map[int64]*models.LedgerAccount),
		accountsByNumber: make(map[string]int64),
		entryNumbers:     make(map[string]bool),
		escrows:          make(map[int64]*models.EscrowAccount),
		escrowNumbers:    make(map[string]int64),
		escrowSessions:   make(map[string]int64),
		agreements:       make(map[int64]*models.InstallmentAgreement),
		agreementNumbers: make(map[string]int64),
		payments:         make(map[int64]*models.InstallmentPayment),
		sessions:         make(map[string]*models.CheckoutSession),
		tasks:            make(map[string]*models.Task),
	}
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func testConfig() *config.Config {
	return &config.Config{
		DefaultCurrency:    "XAF",
		PlatformFeePercent: decimal.NewFromInt(5),
		PaymentMaxRetries:  3,
		ReminderDays:       3,
	}
}

func isSingletonType(t models.AccountType) bool {
	return t == models.AccountTypePlatformRevenue || t == models.AccountTypePlatformReserve || t.IsExternal()
}

func (m *memStore) CreateAccount(_ context.Context, acc *models.LedgerAccount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, taken := m.accountsByNumber[acc.AccountNumber]; taken {
		return fmt.Errorf("account number %s: %w", acc.AccountNumber, models.ErrNumberTaken)
	}
	for _, existing := range m.accounts {
		if existing.AccountType != acc.AccountType || existing.Currency != acc.Currency {
			continue
		}
		if acc.AccountType == models.AccountTypeUserWallet && existing.OwnerID == acc.OwnerID {
			return models.ErrAccountExists
		}
		if isSingletonType(acc.AccountType) {
			return models.ErrAccountExists
		}
	}
	m.nextAccountID++
	acc.ID = m.nextAccountID
	acc.CreatedAt = time.Now()
	acc.UpdatedAt = acc.CreatedAt
	m.accounts[acc.ID] = acc
	m.accountsByNumber[acc.AccountNumber] = acc.ID
	return nil
}

func (m *memStore) FindAccountByID(_ context.Context, id int64) (*models.LedgerAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accounts[id]
	if !ok {
		return nil, models.ErrAccountNotFound
	}
	return acc, nil
}

func (m *memStore) FindAccountByNumber(_ context.Context, number string) (*models.LedgerAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.accountsByNumber[number]
	if !ok {
		return nil, models.ErrAccountNotFound
	}
	return m.accounts[id], nil
}

func (m *memStore) FindWalletAccount(_ context.Context, ownerID, currency string) (*models.LedgerAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, acc := range m.accounts {
		if acc.AccountType == models.AccountTypeUserWallet && acc.OwnerID == ownerID && acc.Currency == currency {
			return acc, nil
		}
	}
	return nil, models.ErrAccountNotFound
}

func (m *memStore) FindSingletonAccount(_ context.Context, accType models.AccountType, currency string) (*models.LedgerAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, acc := range m.accounts {
		if acc.AccountType == accType && acc.Currency == currency {
			return acc, nil
		}
	}
	return nil, models.ErrAccountNotFound
}

func (m *memStore) SumBalancesByType(_ context.Context, accType models.AccountType) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := decimal.Zero
	for _, acc := range m.accounts {
		if acc.AccountType == accType {
			total = total.Add(acc.Balance)
		}
	}
	return total, nil
}

func (m *memStore) ReconcileAccounts(_ context.Context) ([]models.AccountReconciliation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var mismatched []models.AccountReconciliation
	for _, acc := range m.accounts {
		computed := decimal.Zero
		for _, e := range m.entries {
			if e.CreditAccountID == acc.ID {
				computed = computed.Add(e.Amount)
			}
			if e.DebitAccountID == acc.ID {
				computed = computed.Sub(e.Amount)
			}
		}
		if !computed.Equal(acc.Balance) {
			mismatched = append(mismatched, models.AccountReconciliation{
				AccountID:     acc.ID,
				AccountNumber: acc.AccountNumber,
				Cached:        acc.Balance,
				Computed:      computed,
			})
		}
	}
	return mismatched, nil
}

func (m *memStore) CreateLedgerEntries(_ context.Context, entries []*models.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createEntriesLocked(entries)
}

func (m *memStore) createEntriesLocked(entries []*models.LedgerEntry) error {
	if m.failNextEntries != nil {
		err := m.failNextEntries
		m.failNextEntries = nil
		return err
	}
	for _, e := range entries {
		if m.entryNumbers[e.EntryNumber] {
			return fmt.Errorf("entry number %s: %w", e.EntryNumber, models.ErrNumberTaken)
		}
	}
	running := make(map[int64]decimal.Decimal)
	for _, e := range entries {
		debit, ok := m.accounts[e.DebitAccountID]
		if !ok {
			return models.ErrAccountNotFound
		}
		credit, ok := m.accounts[e.CreditAccountID]
		if !ok {
			return models.ErrAccountNotFound
		}
		if _, seen := running[debit.ID]; !seen {
			running[debit.ID] = debit.Balance
		}
		if _, seen := running[credit.ID]; !seen {
			running[credit.ID] = credit.Balance
		}
		if !debit.AccountType.IsExternal() && running[debit.ID].LessThan(e.Amount) {
			return &models.InsufficientBalanceError{
				AccountNumber: debit.AccountNumber,
				Requested:     e.Amount,
				Available:     running[debit.ID],
			}
		}
		running[debit.ID] = running[debit.ID].Sub(e.Amount)
		running[credit.ID] = running[credit.ID].Add(e.Amount)
	}
	for _, e := range entries {
		m.nextEntryID++
		e.ID = m.nextEntryID
		e.CreatedAt = time.Now()
		m.entries = append(m.entries, e)
		m.entryNumbers[e.EntryNumber] = true
	}
	for id, balance := range running {
		m.accounts[id].Balance = balance
	}
	return nil
}

func (m *memStore) ListEntriesByAccount(_ context.Context, accountID int64, limit, offset int) ([]*models.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.LedgerEntry
	for i := len(m.entries) - 1; i >= 0; i-- {
		e := m.entries[i]
		if e.DebitAccountID == accountID || e.CreditAccountID == accountID {
			out = append(out, e)
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) ListEntriesByReference(_ context.Context, refType, refID string) ([]*models.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.LedgerEntry
	for _, e := range m.entries {
		if e.ReferenceType == refType && e.ReferenceID == refID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memStore) AccountEntrySums(_ context.Context, accountID int64) (decimal.Decimal, decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	credits, debits := decimal.Zero, decimal.Zero
	for _, e := range m.entries {
		if e.CreditAccountID == accountID {
			credits = credits.Add(e.Amount)
		}
		if e.DebitAccountID == accountID {
			debits = debits.Add(e.Amount)
		}
	}
	return credits, debits, nil
}

func (m *memStore) GlobalBalanceSums(_ context.Context) (decimal.Decimal, decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cached, computed := decimal.Zero, decimal.Zero
	for _, acc := range m.accounts {
		cached = cached.Add(acc.Balance)
	}
	for _, e := range m.entries {
		if _, ok := m.accounts[e.CreditAccountID]; ok {
			computed = computed.Add(e.Amount)
		}
		if _, ok := m.accounts[e.DebitAccountID]; ok {
			computed = computed.Sub(e.Amount)
		}
	}
	return cached, computed, nil
}

func (m *memStore) NextEntrySequence(_ context.Context, year int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := fmt.Sprintf("LE-%d-", year)
	var n int64
	for _, e := range m.entries {
		if strings.HasPrefix(e.EntryNumber, prefix) {
			n++
		}
	}
	return n + 1, nil
}

func (m *memStore) HoldEscrow(_ context.Context, esc *models.EscrowAccount, backing *models.LedgerAccount, entry *models.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.escrowSessions[esc.CheckoutSessionID]; exists {
		return models.ErrEscrowExists
	}
	if _, taken := m.escrowNumbers[esc.EscrowNumber]; taken {
		return fmt.Errorf("escrow number %s: %w", esc.EscrowNumber, models.ErrNumberTaken)
	}
	if _, taken := m.accountsByNumber[backing.AccountNumber]; taken {
		return fmt.Errorf("account number %s: %w", backing.AccountNumber, models.ErrNumberTaken)
	}

	m.nextAccountID++
	backing.ID = m.nextAccountID
	backing.CreatedAt = time.Now()
	backing.UpdatedAt = backing.CreatedAt
	m.accounts[backing.ID] = backing
	m.accountsByNumber[backing.AccountNumber] = backing.ID

	m.nextEscrowID++
	esc.ID = m.nextEscrowID
	entry.CreditAccountID = backing.ID
	entry.ReferenceID = fmt.Sprintf("%d", esc.ID)
	if err := m.createEntriesLocked([]*models.LedgerEntry{entry}); err != nil {
		delete(m.accounts, backing.ID)
		delete(m.accountsByNumber, backing.AccountNumber)
		m.nextEscrowID--
		return err
	}

	esc.LedgerAccountID = backing.ID
	esc.CreatedAt = time.Now()
	m.escrows[esc.ID] = esc
	m.escrowNumbers[esc.EscrowNumber] = esc.ID
	m.escrowSessions[esc.CheckoutSessionID] = esc.ID
	return nil
}

func (m *memStore) TransitionEscrow(_ context.Context, esc *models.EscrowAccount, from []models.EscrowStatus, to models.EscrowStatus, entries []*models.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.escrows[esc.ID]
	if !ok {
		return models.ErrEscrowNotFound
	}
	allowed := false
	for _, f := range from {
		if current.Status == f {
			allowed = true
		}
	}
	if !allowed {
		return &models.StateConflictError{
			Entity:    "escrow",
			ID:        current.EscrowNumber,
			Current:   string(current.Status),
			Requested: string(to),
		}
	}
	if len(entries) > 0 {
		if err := m.createEntriesLocked(entries); err != nil {
			return err
		}
	}
	now := time.Now()
	for _, e := range []*models.EscrowAccount{current, esc} {
		e.Status = to
		switch to {
		case models.EscrowStatusReleased:
			e.ReleasedAt = &now
		case models.EscrowStatusRefunded:
			e.RefundedAt = &now
		case models.EscrowStatusDisputed:
			e.DisputedAt = &now
		}
	}
	return nil
}

func (m *memStore) FindEscrowByID(_ context.Context, id int64) (*models.EscrowAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	esc, ok := m.escrows[id]
	if !ok {
		return nil, models.ErrEscrowNotFound
	}
	return esc, nil
}

func (m *memStore) FindEscrowByNumber(_ context.Context, number string) (*models.EscrowAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.escrowNumbers[number]
	if !ok {
		return nil, models.ErrEscrowNotFound
	}
	return m.escrows[id], nil
}

func (m *memStore) FindEscrowByCheckoutSession(_ context.Context, sessionID string) (*models.EscrowAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.escrowSessions[sessionID]
	if !ok {
		return nil, models.ErrEscrowNotFound
	}
	return m.escrows[id], nil
}

func (m *memStore) NextEscrowSequence(_ context.Context, year int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := fmt.Sprintf("ESC-%d-", year)
	var n int64
	for number := range m.escrowNumbers {
		if strings.HasPrefix(number, prefix) {
			n++
		}
	}
	return n + 1, nil
}

func (m *memStore) CreateAgreement(_ context.Context, ag *models.InstallmentAgreement, schedule []*models.InstallmentPayment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, taken := m.agreementNumbers[ag.AgreementNumber]; taken {
		return fmt.Errorf("agreement number %s: %w", ag.AgreementNumber, models.ErrNumberTaken)
	}
	m.nextAgreementID++
	ag.ID = m.nextAgreementID
	ag.CreatedAt = time.Now()
	ag.UpdatedAt = ag.CreatedAt
	m.agreements[ag.ID] = ag
	m.agreementNumbers[ag.AgreementNumber] = ag.ID
	for _, p := range schedule {
		m.nextPaymentID++
		p.ID = m.nextPaymentID
		p.AgreementID = ag.ID
		p.CreatedAt = time.Now()
		p.UpdatedAt = p.CreatedAt
		m.payments[p.ID] = p
	}
	return nil
}

func (m *memStore) FindAgreementByID(_ context.Context, id int64) (*models.InstallmentAgreement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ag, ok := m.agreements[id]
	if !ok {
		return nil, models.ErrAgreementNotFound
	}
	return ag, nil
}

func (m *memStore) UpdateAgreementStatus(_ context.Context, id int64, from, to models.AgreementStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ag, ok := m.agreements[id]
	if !ok {
		return models.ErrAgreementNotFound
	}
	if ag.Status != from {
		return &models.StateConflictError{
			Entity:    "agreement",
			ID:        ag.AgreementNumber,
			Current:   string(ag.Status),
			Requested: string(to),
		}
	}
	ag.Status = to
	ag.UpdatedAt = time.Now()
	return nil
}

func (m *memStore) ListAgreementPayments(_ context.Context, agreementID int64) ([]*models.InstallmentPayment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.InstallmentPayment
	for _, p := range m.payments {
		if p.AgreementID == agreementID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceNumber < out[j].SequenceNumber })
	return out, nil
}

func (m *memStore) ListDuePayments(_ context.Context, now time.Time, limit int) ([]*models.InstallmentPayment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.InstallmentPayment
	for _, p := range m.payments {
		if p.Status != models.PaymentStatusScheduled || p.DueDate.After(now) {
			continue
		}
		if p.RetryCount > 0 {
			backoff := time.Duration(2<<uint(p.RetryCount)) * time.Second
			if p.UpdatedAt.Add(backoff).After(now) {
				continue
			}
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueDate.Before(out[j].DueDate) })
	if limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) ListPaymentsDueBetween(_ context.Context, from, to time.Time) ([]*models.InstallmentPayment, map[int64]*models.InstallmentAgreement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.InstallmentPayment
	agreements := make(map[int64]*models.InstallmentAgreement)
	for _, p := range m.payments {
		if p.Status == models.PaymentStatusScheduled && p.DueDate.After(from) && !p.DueDate.After(to) {
			out = append(out, p)
			agreements[p.AgreementID] = m.agreements[p.AgreementID]
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueDate.Before(out[j].DueDate) })
	return out, agreements, nil
}

func (m *memStore) ListLatePayments(_ context.Context) ([]*models.InstallmentPayment, map[int64]*models.InstallmentAgreement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.InstallmentPayment
	agreements := make(map[int64]*models.InstallmentAgreement)
	for _, p := range m.payments {
		if p.Status == models.PaymentStatusLate {
			out = append(out, p)
			agreements[p.AgreementID] = m.agreements[p.AgreementID]
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueDate.Before(out[j].DueDate) })
	return out, agreements, nil
}

func (m *memStore) MarkPaymentCompleted(_ context.Context, id int64, paidAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNextMarkCompleted != nil {
		err := m.failNextMarkCompleted
		m.failNextMarkCompleted = nil
		return err
	}
	p, ok := m.payments[id]
	if !ok {
		return models.ErrPaymentNotFound
	}
	if p.Status != models.PaymentStatusScheduled && p.Status != models.PaymentStatusLate {
		return models.ErrPaymentNotFound
	}
	p.Status = models.PaymentStatusCompleted
	p.PaidAt = &paidAt
	p.UpdatedAt = time.Now()
	return nil
}

func (m *memStore) IncrementPaymentRetry(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return models.ErrPaymentNotFound
	}
	p.RetryCount++
	p.UpdatedAt = time.Now()
	return nil
}

func (m *memStore) FailPayment(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return models.ErrPaymentNotFound
	}
	p.Status = models.PaymentStatusFailed
	p.UpdatedAt = time.Now()
	return nil
}

func (m *memStore) MarkOverduePayments(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	cutoff := now.AddDate(0, 0, -1)
	for _, p := range m.payments {
		if (p.Status == models.PaymentStatusScheduled || p.Status == models.PaymentStatusFailed) && p.DueDate.Before(cutoff) {
			p.Status = models.PaymentStatusLate
			p.UpdatedAt = time.Now()
			n++
		}
	}
	return n, nil
}

func (m *memStore) SkipOutstandingPayments(_ context.Context, agreementID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, p := range m.payments {
		if p.AgreementID != agreementID {
			continue
		}
		switch p.Status {
		case models.PaymentStatusScheduled, models.PaymentStatusLate, models.PaymentStatusFailed:
			p.Status = models.PaymentStatusSkipped
			p.UpdatedAt = time.Now()
			n++
		}
	}
	return n, nil
}

func (m *memStore) CountOutstandingPayments(_ context.Context, agreementID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, p := range m.payments {
		if p.AgreementID == agreementID && p.Status != models.PaymentStatusCompleted {
			n++
		}
	}
	return n, nil
}

func (m *memStore) NextAgreementSequence(_ context.Context, year int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := fmt.Sprintf("INST-%d-", year)
	var n int64
	for _, ag := range m.agreements {
		if strings.HasPrefix(ag.AgreementNumber, prefix) {
			n++
		}
	}
	return n + 1, nil
}

func (m *memStore) FindCheckoutSession(_ context.Context, id string) (*models.CheckoutSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, models.ErrSessionNotFound
	}
	return s, nil
}

func (m *memStore) UpdateCheckoutPayment(_ context.Context, id, status, providerRef string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return models.ErrSessionNotFound
	}
	s.PaymentStatus = status
	if providerRef != "" {
		s.ProviderRef = providerRef
	}
	s.UpdatedAt = time.Now()
	return nil
}

func (m *memStore) EnqueueTask(_ context.Context, t *models.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.CreatedAt = time.Now()
	t.UpdatedAt = t.CreatedAt
	m.tasks[t.ID] = t
	return nil
}

func (m *memStore) ListDueTasks(_ context.Context, now time.Time, limit int) ([]*models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Task
	for _, t := range m.tasks {
		if t.Status == models.TaskStatusPending && !t.NextRunAt.After(now) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextRunAt.Before(out[j].NextRunAt) })
	if limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) MarkTaskDone(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return fmt.Errorf("task %s not found", id)
	}
	t.Status = models.TaskStatusDone
	t.UpdatedAt = time.Now()
	return nil
}

func (m *memStore) RescheduleTask(_ context.Context, id string, attempts int, nextRun time.Time, lastErr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return fmt.Errorf("task %s not found", id)
	}
	t.Attempts = attempts
	t.NextRunAt = nextRun
	t.LastError = lastErr
	t.UpdatedAt = time.Now()
	return nil
}

func (m *memStore) MarkTaskManual(_ context.Context, id string, lastErr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return fmt.Errorf("task %s not found", id)
	}
	t.Status = models.TaskStatusManual
	t.LastError = lastErr
	t.UpdatedAt = time.Now()
	return nil
}
