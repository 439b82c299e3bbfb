package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Dan9191/marketplace-ledger/internal/models"
	"github.com/shopspring/decimal"
)

const accountColumns = `id, account_number, account_type, COALESCE(owner_id, ''), balance, currency, active, created_at, updated_at`

func scanAccount(row interface{ Scan(...any) error }) (*models.LedgerAccount, error) {
	acc := &models.LedgerAccount{}
	err := row.Scan(&acc.ID, &acc.AccountNumber, &acc.AccountType, &acc.OwnerID,
		&acc.Balance, &acc.Currency, &acc.Active, &acc.CreatedAt, &acc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return acc, nil
}

// CreateAccount inserts a new ledger account. A unique violation on the
// account number is returned to the caller so it can retry with a suffix.
func (r *Repository) CreateAccount(ctx context.Context, acc *models.LedgerAccount) error {
	query := `
		INSERT INTO market.ledger_accounts (account_number, account_type, owner_id, balance, currency, active, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		RETURNING id, created_at, updated_at`
	err := r.db.QueryRowContext(ctx, query,
		acc.AccountNumber, acc.AccountType, acc.OwnerID, acc.Balance, acc.Currency, acc.Active).
		Scan(&acc.ID, &acc.CreatedAt, &acc.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err, "ledger_accounts_account_number_key") {
			return fmt.Errorf("account number %s: %w", acc.AccountNumber, models.ErrNumberTaken)
		}
		// Wallets are unique per owner+currency, platform/external accounts
		// per type+currency; a concurrent get-or-create lands here.
		if isUniqueViolation(err, "ledger_accounts_wallet_unique") || isUniqueViolation(err, "ledger_accounts_singleton_unique") {
			return models.ErrAccountExists
		}
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

// FindAccountByID retrieves a ledger account by primary key
func (r *Repository) FindAccountByID(ctx context.Context, id int64) (*models.LedgerAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM market.ledger_accounts WHERE id = $1`
	acc, err := scanAccount(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, models.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	return acc, nil
}

// FindAccountByNumber retrieves a ledger account by its human-readable number
func (r *Repository) FindAccountByNumber(ctx context.Context, number string) (*models.LedgerAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM market.ledger_accounts WHERE account_number = $1`
	acc, err := scanAccount(r.db.QueryRowContext(ctx, query, number))
	if err == sql.ErrNoRows {
		return nil, models.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	return acc, nil
}

// FindWalletAccount retrieves the wallet account for an owner and currency
func (r *Repository) FindWalletAccount(ctx context.Context, ownerID, currency string) (*models.LedgerAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM market.ledger_accounts
		WHERE account_type = $1 AND owner_id = $2 AND currency = $3`
	acc, err := scanAccount(r.db.QueryRowContext(ctx, query, models.AccountTypeUserWallet, ownerID, currency))
	if err == sql.ErrNoRows {
		return nil, models.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find wallet account: %w", err)
	}
	return acc, nil
}

// FindSingletonAccount retrieves the platform or external account of the given
// type and currency.
func (r *Repository) FindSingletonAccount(ctx context.Context, accType models.AccountType, currency string) (*models.LedgerAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM market.ledger_accounts
		WHERE account_type = $1 AND owner_id IS NULL AND currency = $2`
	acc, err := scanAccount(r.db.QueryRowContext(ctx, query, accType, currency))
	if err == sql.ErrNoRows {
		return nil, models.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find %s account: %w", accType, err)
	}
	return acc, nil
}

// SumBalancesByType returns the total cached balance across accounts of a type
func (r *Repository) SumBalancesByType(ctx context.Context, accType models.AccountType) (decimal.Decimal, error) {
	var total decimal.Decimal
	query := `SELECT COALESCE(SUM(balance), 0) FROM market.ledger_accounts WHERE account_type = $1`
	if err := r.db.QueryRowContext(ctx, query, accType).Scan(&total); err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum balances: %w", err)
	}
	return total, nil
}

// ReconcileAccounts recomputes every account balance from the entry history
// and returns the accounts whose cached balance disagrees.
func (r *Repository) ReconcileAccounts(ctx context.Context) ([]models.AccountReconciliation, error) {
	query := `
		SELECT a.id, a.account_number, a.balance,
			COALESCE((SELECT SUM(e.amount) FROM market.ledger_entries e WHERE e.credit_account_id = a.id), 0)
			- COALESCE((SELECT SUM(e.amount) FROM market.ledger_entries e WHERE e.debit_account_id = a.id), 0) AS computed
		FROM market.ledger_accounts a`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to reconcile accounts: %w", err)
	}
	defer rows.Close()

	var mismatched []models.AccountReconciliation
	for rows.Next() {
		var rec models.AccountReconciliation
		if err := rows.Scan(&rec.AccountID, &rec.AccountNumber, &rec.Cached, &rec.Computed); err != nil {
			return nil, fmt.Errorf("failed to scan reconciliation row: %w", err)
		}
		if !rec.Cached.Equal(rec.Computed) {
			mismatched = append(mismatched, rec)
		}
	}
	return mismatched, rows.Err()
}
