package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/Dan9191/marketplace-ledger/internal/models"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// CreateLedgerEntries atomically persists one or more entries and applies
// their balance movements. All accounts involved are locked in ascending id
// order, balances are re-verified under the lock, and the entry inserts plus
// both balance updates commit together or not at all.
//
// Entries sharing a debit account are treated as one logical split: the debit
// account must cover the running sum, not just each amount in isolation.
func (r *Repository) CreateLedgerEntries(ctx context.Context, entries []*models.LedgerEntry) error {
	if len(entries) == 0 {
		return fmt.Errorf("%w: no entries to create", models.ErrValidation)
	}
	return r.inTx(ctx, func(tx *sql.Tx) error {
		return r.createLedgerEntriesTx(ctx, tx, entries)
	})
}

func (r *Repository) createLedgerEntriesTx(ctx context.Context, tx *sql.Tx, entries []*models.LedgerEntry) error {
	accounts, err := lockAccounts(ctx, tx, entries)
	if err != nil {
		return err
	}

	// Replay the movements against the locked balances so a split is
	// rejected before any of its legs is written.
	running := make(map[int64]decimal.Decimal, len(accounts))
	for id, acc := range accounts {
		running[id] = acc.Balance
	}
	for _, e := range entries {
		debit, ok := accounts[e.DebitAccountID]
		if !ok {
			return models.ErrAccountNotFound
		}
		credit, ok := accounts[e.CreditAccountID]
		if !ok {
			return models.ErrAccountNotFound
		}
		if err := validateEntry(e, debit, credit); err != nil {
			return err
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
		if err := insertEntry(ctx, tx, e); err != nil {
			return err
		}
	}
	for id, balance := range running {
		if balance.Equal(accounts[id].Balance) {
			continue
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE market.ledger_accounts SET balance = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2`,
			balance, id)
		if err != nil {
			return fmt.Errorf("failed to update balance for account %d: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n != 1 {
			return fmt.Errorf("balance update touched %d rows for account %d", n, id)
		}
	}
	return nil
}

// lockAccounts loads every account referenced by the entries FOR UPDATE in
// ascending id order to keep lock acquisition deadlock-free.
func lockAccounts(ctx context.Context, tx *sql.Tx, entries []*models.LedgerEntry) (map[int64]*models.LedgerAccount, error) {
	idSet := make(map[int64]struct{}, len(entries)*2)
	for _, e := range entries {
		idSet[e.DebitAccountID] = struct{}{}
		idSet[e.CreditAccountID] = struct{}{}
	}
	ids := make([]int64, 0, len(idSet))
	for id := range idSet {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	query := `SELECT ` + accountColumns + ` FROM market.ledger_accounts
		WHERE id = ANY($1) ORDER BY id FOR UPDATE`
	rows, err := tx.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to lock accounts: %w", err)
	}
	defer rows.Close()

	accounts := make(map[int64]*models.LedgerAccount, len(ids))
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan locked account: %w", err)
		}
		accounts[acc.ID] = acc
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to lock accounts: %w", err)
	}
	if len(accounts) != len(ids) {
		return nil, models.ErrAccountNotFound
	}
	return accounts, nil
}

func validateEntry(e *models.LedgerEntry, debit, credit *models.LedgerAccount) error {
	if !e.Amount.IsPositive() {
		return fmt.Errorf("%w: entry amount must be positive, got %s", models.ErrValidation, e.Amount)
	}
	if debit.ID == credit.ID {
		return fmt.Errorf("%w: debit and credit account must differ (%s)", models.ErrValidation, debit.AccountNumber)
	}
	if !debit.Active || !credit.Active {
		return fmt.Errorf("%w: both accounts must be active (%s, %s)", models.ErrValidation, debit.AccountNumber, credit.AccountNumber)
	}
	if debit.Currency != credit.Currency || debit.Currency != e.Currency {
		return fmt.Errorf("%w: currency mismatch between %s (%s), %s (%s) and entry (%s)",
			models.ErrValidation, debit.AccountNumber, debit.Currency, credit.AccountNumber, credit.Currency, e.Currency)
	}
	return nil
}

func insertEntry(ctx context.Context, tx *sql.Tx, e *models.LedgerEntry) error {
	var metadata []byte
	if e.Metadata != nil {
		var err error
		metadata, err = json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal entry metadata: %w", err)
		}
	}
	query := `
		INSERT INTO market.ledger_entries
			(entry_number, debit_account_id, credit_account_id, amount, entry_type,
			 reference_type, reference_id, description, currency, metadata, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, CURRENT_TIMESTAMP)
		RETURNING id, created_at`
	err := tx.QueryRowContext(ctx, query,
		e.EntryNumber, e.DebitAccountID, e.CreditAccountID, e.Amount, e.EntryType,
		e.ReferenceType, e.ReferenceID, e.Description, e.Currency, metadata, e.CreatedBy).
		Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		if isUniqueViolation(err, "ledger_entries_entry_number_key") {
			return fmt.Errorf("entry number %s: %w", e.EntryNumber, models.ErrNumberTaken)
		}
		return fmt.Errorf("failed to insert ledger entry: %w", err)
	}
	return nil
}

const entryColumns = `id, entry_number, debit_account_id, credit_account_id, amount, entry_type,
	reference_type, reference_id, description, currency, metadata, created_by, created_at`

func scanEntry(row interface{ Scan(...any) error }) (*models.LedgerEntry, error) {
	e := &models.LedgerEntry{}
	var metadata []byte
	err := row.Scan(&e.ID, &e.EntryNumber, &e.DebitAccountID, &e.CreditAccountID, &e.Amount,
		&e.EntryType, &e.ReferenceType, &e.ReferenceID, &e.Description, &e.Currency,
		&metadata, &e.CreatedBy, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal entry metadata: %w", err)
		}
	}
	return e, nil
}

// ListEntriesByAccount returns entries where the account is either side,
// newest first.
func (r *Repository) ListEntriesByAccount(ctx context.Context, accountID int64, limit, offset int) ([]*models.LedgerEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM market.ledger_entries
		WHERE debit_account_id = $1 OR credit_account_id = $1
		ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`
	return r.listEntries(ctx, query, accountID, limit, offset)
}

// ListEntriesByReference returns entries caused by one business object
func (r *Repository) ListEntriesByReference(ctx context.Context, refType, refID string) ([]*models.LedgerEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM market.ledger_entries
		WHERE reference_type = $1 AND reference_id = $2
		ORDER BY id`
	return r.listEntries(ctx, query, refType, refID)
}

func (r *Repository) listEntries(ctx context.Context, query string, args ...any) ([]*models.LedgerEntry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// AccountEntrySums returns the credit and debit totals recorded against an account
func (r *Repository) AccountEntrySums(ctx context.Context, accountID int64) (credits, debits decimal.Decimal, err error) {
	query := `
		SELECT
			COALESCE((SELECT SUM(amount) FROM market.ledger_entries WHERE credit_account_id = $1), 0),
			COALESCE((SELECT SUM(amount) FROM market.ledger_entries WHERE debit_account_id = $1), 0)`
	if err := r.db.QueryRowContext(ctx, query, accountID).Scan(&credits, &debits); err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("failed to sum account entries: %w", err)
	}
	return credits, debits, nil
}

// GlobalBalanceSums compares the two representations of the ledger total:
// the sum of cached account balances and the same total recomputed from the
// entries (credits minus debits per account). They diverge only when a cached
// balance drifted from the entries behind it.
func (r *Repository) GlobalBalanceSums(ctx context.Context) (cached, computed decimal.Decimal, err error) {
	query := `
		SELECT
			COALESCE(SUM(a.balance), 0),
			COALESCE(SUM(c.total), 0) - COALESCE(SUM(d.total), 0)
		FROM market.ledger_accounts a
		LEFT JOIN (
			SELECT credit_account_id AS account_id, SUM(amount) AS total
			FROM market.ledger_entries GROUP BY credit_account_id
		) c ON c.account_id = a.id
		LEFT JOIN (
			SELECT debit_account_id AS account_id, SUM(amount) AS total
			FROM market.ledger_entries GROUP BY debit_account_id
		) d ON d.account_id = a.id`
	if err := r.db.QueryRowContext(ctx, query).Scan(&cached, &computed); err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("failed to sum ledger balances: %w", err)
	}
	return cached, computed, nil
}

// NextEntrySequence returns the next sequence number for entries in a year
func (r *Repository) NextEntrySequence(ctx context.Context, year int) (int64, error) {
	var n int64
	query := `SELECT COUNT(*) + 1 FROM market.ledger_entries WHERE entry_number LIKE $1`
	if err := r.db.QueryRowContext(ctx, query, fmt.Sprintf("LE-%d-%%", year)).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to get next entry sequence: %w", err)
	}
	return n, nil
}
