package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Dan9191/marketplace-ledger/internal/config"
	"github.com/Dan9191/marketplace-ledger/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// MoneyScale is the fixed number of fractional digits for all money amounts
const MoneyScale = 2

// maxNumberAttempts bounds the collision-retry loop for generated numbers
const maxNumberAttempts = 5

// LedgerStore is the persistence surface the ledger service needs. It is
// implemented by repository.Repository.
type LedgerStore interface {
	CreateAccount(ctx context.Context, acc *models.LedgerAccount) error
	FindAccountByID(ctx context.Context, id int64) (*models.LedgerAccount, error)
	FindAccountByNumber(ctx context.Context, number string) (*models.LedgerAccount, error)
	FindWalletAccount(ctx context.Context, ownerID, currency string) (*models.LedgerAccount, error)
	FindSingletonAccount(ctx context.Context, accType models.AccountType, currency string) (*models.LedgerAccount, error)
	SumBalancesByType(ctx context.Context, accType models.AccountType) (decimal.Decimal, error)
	ReconcileAccounts(ctx context.Context) ([]models.AccountReconciliation, error)

	CreateLedgerEntries(ctx context.Context, entries []*models.LedgerEntry) error
	ListEntriesByAccount(ctx context.Context, accountID int64, limit, offset int) ([]*models.LedgerEntry, error)
	ListEntriesByReference(ctx context.Context, refType, refID string) ([]*models.LedgerEntry, error)
	AccountEntrySums(ctx context.Context, accountID int64) (credits, debits decimal.Decimal, err error)
	GlobalBalanceSums(ctx context.Context) (cached, computed decimal.Decimal, err error)
	NextEntrySequence(ctx context.Context, year int) (int64, error)
}

// LedgerService creates double-entry records and maintains account balances.
// It is the only component allowed to move money; everything else requests
// movements through it.
type LedgerService struct {
	store LedgerStore
	log   *logrus.Logger
	cfg   *config.Config
}

// NewLedgerService initializes a new ledger service
func NewLedgerService(store LedgerStore, log *logrus.Logger, cfg *config.Config) *LedgerService {
	return &LedgerService{store: store, log: log, cfg: cfg}
}

// SplitCredit is one credit leg of a split entry
type SplitCredit struct {
	Account *models.LedgerAccount
	Amount  decimal.Decimal
}

// CreateEntry moves amount from the debit account to the credit account as a
// single immutable entry. Validation happens before any mutation; the balance
// check is repeated under row locks inside the storage transaction, so the
// pre-check here only produces an early, cheap failure.
func (s *LedgerService) CreateEntry(ctx context.Context, debit, credit *models.LedgerAccount,
	amount decimal.Decimal, entryType models.EntryType, refType, refID, description, actor string) (*models.LedgerEntry, error) {

	entry, err := s.buildEntry(debit, credit, amount, entryType, refType, refID, description, actor)
	if err != nil {
		return nil, err
	}
	if err := s.persistEntries(ctx, []*models.LedgerEntry{entry}); err != nil {
		return nil, err
	}
	s.log.Infof("Ledger entry %s: %s %s from %s to %s (%s %s)",
		entry.EntryNumber, entry.Amount.StringFixed(MoneyScale), entry.Currency,
		debit.AccountNumber, credit.AccountNumber, refType, refID)
	return entry, nil
}

// CreateSplitEntry debits one account and credits several in one atomic
// operation. The debit account must cover the sum of all credit amounts; if
// it cannot, nothing moves.
func (s *LedgerService) CreateSplitEntry(ctx context.Context, debit *models.LedgerAccount, credits []SplitCredit,
	entryType models.EntryType, refType, refID, description, actor string) ([]*models.LedgerEntry, error) {

	if len(credits) == 0 {
		return nil, fmt.Errorf("%w: split entry needs at least one credit", models.ErrValidation)
	}
	entries := make([]*models.LedgerEntry, 0, len(credits))
	total := decimal.Zero
	for _, c := range credits {
		entry, err := s.buildEntry(debit, c.Account, c.Amount, entryType, refType, refID, description, actor)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
		total = total.Add(entry.Amount)
	}
	if !debit.AccountType.IsExternal() && debit.Balance.LessThan(total) {
		return nil, &models.InsufficientBalanceError{
			AccountNumber: debit.AccountNumber,
			Requested:     total,
			Available:     debit.Balance,
		}
	}
	if err := s.persistEntries(ctx, entries); err != nil {
		return nil, err
	}
	s.log.Infof("Split entry %s: %s %s from %s across %d accounts (%s %s)",
		entries[0].EntryNumber, total.StringFixed(MoneyScale), debit.Currency,
		debit.AccountNumber, len(credits), refType, refID)
	return entries, nil
}

func (s *LedgerService) buildEntry(debit, credit *models.LedgerAccount, amount decimal.Decimal,
	entryType models.EntryType, refType, refID, description, actor string) (*models.LedgerEntry, error) {

	if debit == nil || credit == nil {
		return nil, fmt.Errorf("%w: debit and credit accounts are required", models.ErrValidation)
	}
	amount = amount.Round(MoneyScale)
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: entry amount must be positive, got %s", models.ErrValidation, amount)
	}
	if debit.ID == credit.ID {
		return nil, fmt.Errorf("%w: debit and credit account must differ (%s)", models.ErrValidation, debit.AccountNumber)
	}
	if !debit.Active || !credit.Active {
		return nil, fmt.Errorf("%w: both accounts must be active (%s, %s)", models.ErrValidation, debit.AccountNumber, credit.AccountNumber)
	}
	if debit.Currency != credit.Currency {
		return nil, fmt.Errorf("%w: currency mismatch between %s (%s) and %s (%s)",
			models.ErrValidation, debit.AccountNumber, debit.Currency, credit.AccountNumber, credit.Currency)
	}
	if !debit.AccountType.IsExternal() && debit.Balance.LessThan(amount) {
		return nil, &models.InsufficientBalanceError{
			AccountNumber: debit.AccountNumber,
			Requested:     amount,
			Available:     debit.Balance,
		}
	}
	return &models.LedgerEntry{
		DebitAccountID:  debit.ID,
		CreditAccountID: credit.ID,
		Amount:          amount,
		EntryType:       entryType,
		ReferenceType:   refType,
		ReferenceID:     refID,
		Description:     description,
		Currency:        debit.Currency,
		CreatedBy:       actor,
	}, nil
}

// PrepareEntry validates and builds an entry without persisting it. Used by
// the escrow service to bundle entries into its own storage transaction.
func (s *LedgerService) PrepareEntry(debit, credit *models.LedgerAccount, amount decimal.Decimal,
	entryType models.EntryType, refType, refID, description, actor string) (*models.LedgerEntry, error) {
	return s.buildEntry(debit, credit, amount, entryType, refType, refID, description, actor)
}

// AssignEntryNumbers stamps sequential entry numbers onto the entries.
// attempt > 1 appends a suffix after a collision.
func (s *LedgerService) AssignEntryNumbers(ctx context.Context, entries []*models.LedgerEntry, attempt int) error {
	year := time.Now().Year()
	seq, err := s.store.NextEntrySequence(ctx, year)
	if err != nil {
		return err
	}
	for i, e := range entries {
		e.EntryNumber = entryNumber(year, seq+int64(i), attempt)
	}
	return nil
}

// persistEntries numbers the entries and writes them atomically, retrying
// with an incrementing suffix when a generated number collides.
func (s *LedgerService) persistEntries(ctx context.Context, entries []*models.LedgerEntry) error {
	for attempt := 1; attempt <= maxNumberAttempts; attempt++ {
		if err := s.AssignEntryNumbers(ctx, entries, attempt); err != nil {
			return err
		}
		err := s.store.CreateLedgerEntries(ctx, entries)
		if errors.Is(err, models.ErrNumberTaken) {
			s.log.Warnf("Entry number collision on attempt %d, retrying", attempt)
			continue
		}
		return err
	}
	return fmt.Errorf("failed to allocate entry number after %d attempts", maxNumberAttempts)
}

func entryNumber(year int, seq int64, attempt int) string {
	if attempt <= 1 {
		return fmt.Sprintf("LE-%d-%06d", year, seq)
	}
	return fmt.Sprintf("LE-%d-%06d-%d", year, seq, attempt)
}

// GetOrCreateWalletAccount returns the wallet account for an owner and
// currency, creating it on first use. The data layer enforces one wallet per
// owner+currency, so a concurrent first use settles on a single row.
func (s *LedgerService) GetOrCreateWalletAccount(ctx context.Context, ownerID, currency string) (*models.LedgerAccount, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner id is required", models.ErrValidation)
	}
	acc, err := s.store.FindWalletAccount(ctx, ownerID, currency)
	if err == nil {
		return acc, nil
	}
	if !errors.Is(err, models.ErrAccountNotFound) {
		return nil, err
	}

	acc = &models.LedgerAccount{
		AccountType: models.AccountTypeUserWallet,
		OwnerID:     ownerID,
		Balance:     decimal.Zero,
		Currency:    currency,
		Active:      true,
	}
	err = s.createWithNumber(ctx, acc, fmt.Sprintf("WALLET-%s", ownerID))
	if errors.Is(err, models.ErrAccountExists) {
		return s.store.FindWalletAccount(ctx, ownerID, currency)
	}
	if err != nil {
		return nil, err
	}
	s.log.Infof("Created wallet account %s for %s (%s)", acc.AccountNumber, ownerID, currency)
	return acc, nil
}

// BuildEscrowBackingAccount constructs (without persisting) the ledger
// account that will hold an escrow's funds. It is persisted inside the same
// transaction as the escrow row and the funding entry.
func (s *LedgerService) BuildEscrowBackingAccount(currency string) *models.LedgerAccount {
	return &models.LedgerAccount{
		AccountNumber: fmt.Sprintf("ESCROW-%.8s", uuid.New().String()),
		AccountType:   models.AccountTypeEscrow,
		Balance:       decimal.Zero,
		Currency:      currency,
		Active:        true,
	}
}

// Singleton account numbers by type
var singletonNumbers = map[models.AccountType]string{
	models.AccountTypePlatformRevenue:  "PLATFORM-REVENUE",
	models.AccountTypePlatformReserve:  "PLATFORM-RESERVE",
	models.AccountTypeExternalMoneyIn:  "EXTERNAL-MONEY-IN",
	models.AccountTypeExternalMoneyOut: "EXTERNAL-MONEY-OUT",
}

// GetPlatformRevenueAccount returns the platform revenue account for a currency
func (s *LedgerService) GetPlatformRevenueAccount(ctx context.Context, currency string) (*models.LedgerAccount, error) {
	return s.getOrCreateSingleton(ctx, models.AccountTypePlatformRevenue, currency)
}

// GetPlatformReserveAccount returns the platform reserve account for a currency
func (s *LedgerService) GetPlatformReserveAccount(ctx context.Context, currency string) (*models.LedgerAccount, error) {
	return s.getOrCreateSingleton(ctx, models.AccountTypePlatformReserve, currency)
}

// GetExternalMoneyInAccount returns the account representing money entering the system
func (s *LedgerService) GetExternalMoneyInAccount(ctx context.Context, currency string) (*models.LedgerAccount, error) {
	return s.getOrCreateSingleton(ctx, models.AccountTypeExternalMoneyIn, currency)
}

// GetExternalMoneyOutAccount returns the account representing money leaving the system
func (s *LedgerService) GetExternalMoneyOutAccount(ctx context.Context, currency string) (*models.LedgerAccount, error) {
	return s.getOrCreateSingleton(ctx, models.AccountTypeExternalMoneyOut, currency)
}

func (s *LedgerService) getOrCreateSingleton(ctx context.Context, accType models.AccountType, currency string) (*models.LedgerAccount, error) {
	acc, err := s.store.FindSingletonAccount(ctx, accType, currency)
	if err == nil {
		return acc, nil
	}
	if !errors.Is(err, models.ErrAccountNotFound) {
		return nil, err
	}

	acc = &models.LedgerAccount{
		AccountType: accType,
		Balance:     decimal.Zero,
		Currency:    currency,
		Active:      true,
	}
	err = s.createWithNumber(ctx, acc, singletonNumbers[accType])
	if errors.Is(err, models.ErrAccountExists) {
		return s.store.FindSingletonAccount(ctx, accType, currency)
	}
	if err != nil {
		return nil, err
	}
	s.log.Infof("Created %s account %s (%s)", accType, acc.AccountNumber, currency)
	return acc, nil
}

// createWithNumber inserts an account under the base number, retrying with an
// incrementing suffix while the number is taken (for example the same owner's
// wallet in another currency).
func (s *LedgerService) createWithNumber(ctx context.Context, acc *models.LedgerAccount, base string) error {
	for attempt := 1; attempt <= maxNumberAttempts; attempt++ {
		if attempt == 1 {
			acc.AccountNumber = base
		} else {
			acc.AccountNumber = fmt.Sprintf("%s-%d", base, attempt)
		}
		err := s.store.CreateAccount(ctx, acc)
		if errors.Is(err, models.ErrNumberTaken) {
			continue
		}
		return err
	}
	return fmt.Errorf("failed to allocate account number for %s after %d attempts", base, maxNumberAttempts)
}

// GetBalance returns the cached balance of an account
func (s *LedgerService) GetBalance(ctx context.Context, accountNumber string) (decimal.Decimal, error) {
	acc, err := s.store.FindAccountByNumber(ctx, accountNumber)
	if err != nil {
		return decimal.Zero, err
	}
	return acc.Balance, nil
}

// CalculateBalanceFromEntries recomputes an account balance from its entry
// history. For a consistent ledger the result equals the cached balance.
func (s *LedgerService) CalculateBalanceFromEntries(ctx context.Context, accountID int64) (decimal.Decimal, error) {
	credits, debits, err := s.store.AccountEntrySums(ctx, accountID)
	if err != nil {
		return decimal.Zero, err
	}
	return credits.Sub(debits), nil
}

// HasSufficientBalance reports whether an account can cover an amount.
// Display/decision use only: the authoritative check runs inside the entry
// creation transaction.
func (s *LedgerService) HasSufficientBalance(ctx context.Context, accountNumber string, amount decimal.Decimal) (bool, error) {
	acc, err := s.store.FindAccountByNumber(ctx, accountNumber)
	if err != nil {
		return false, err
	}
	if acc.AccountType.IsExternal() {
		return true, nil
	}
	return acc.Balance.GreaterThanOrEqual(amount), nil
}

// GetTotalBalanceByType sums cached balances across all accounts of a type
func (s *LedgerService) GetTotalBalanceByType(ctx context.Context, accType models.AccountType) (decimal.Decimal, error) {
	return s.store.SumBalancesByType(ctx, accType)
}

// GetAccountEntries returns an account's entries, newest first
func (s *LedgerService) GetAccountEntries(ctx context.Context, accountNumber string, limit, offset int) ([]*models.LedgerEntry, error) {
	acc, err := s.store.FindAccountByNumber(ctx, accountNumber)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.store.ListEntriesByAccount(ctx, acc.ID, limit, offset)
}

// GetEntriesByReference returns the entries caused by one business object
func (s *LedgerService) GetEntriesByReference(ctx context.Context, refType, refID string) ([]*models.LedgerEntry, error) {
	return s.store.ListEntriesByReference(ctx, refType, refID)
}

// VerifyLedgerBalance checks the global double-entry invariant: the sum of
// cached account balances equals the total implied by the entries, and every
// account's cached balance matches the balance recomputed from its history.
// A false result indicates a bug elsewhere and must be escalated, never
// auto-corrected.
func (s *LedgerService) VerifyLedgerBalance(ctx context.Context) (bool, error) {
	cached, computed, err := s.store.GlobalBalanceSums(ctx)
	if err != nil {
		return false, err
	}
	ok := true
	if !cached.Equal(computed) {
		s.log.Errorf("LEDGER CONSISTENCY FAILURE: cached balances sum to %s, entries imply %s",
			cached.StringFixed(MoneyScale), computed.StringFixed(MoneyScale))
		ok = false
	}
	mismatched, err := s.store.ReconcileAccounts(ctx)
	if err != nil {
		return false, err
	}
	for _, m := range mismatched {
		s.log.Errorf("LEDGER CONSISTENCY FAILURE: account %s cached balance %s != computed %s",
			m.AccountNumber, m.Cached.StringFixed(MoneyScale), m.Computed.StringFixed(MoneyScale))
		ok = false
	}
	return ok, nil
}
