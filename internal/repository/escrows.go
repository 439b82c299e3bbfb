package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Dan9191/marketplace-ledger/internal/models"
	"github.com/lib/pq"
)

const escrowColumns = `id, escrow_number, checkout_session_id, buyer_id, seller_id, total_amount,
	platform_fee_percent, platform_fee_amount, seller_amount, currency, status, ledger_account_id,
	created_at, released_at, refunded_at, disputed_at`

func scanEscrow(row interface{ Scan(...any) error }) (*models.EscrowAccount, error) {
	esc := &models.EscrowAccount{}
	err := row.Scan(&esc.ID, &esc.EscrowNumber, &esc.CheckoutSessionID, &esc.BuyerID, &esc.SellerID,
		&esc.TotalAmount, &esc.PlatformFeePercent, &esc.PlatformFeeAmount, &esc.SellerAmount,
		&esc.Currency, &esc.Status, &esc.LedgerAccountID,
		&esc.CreatedAt, &esc.ReleasedAt, &esc.RefundedAt, &esc.DisputedAt)
	if err != nil {
		return nil, err
	}
	return esc, nil
}

// HoldEscrow atomically persists a new escrow, its backing ledger account and
// the buyer-to-escrow movement. The unique index on checkout_session_id makes
// a concurrent duplicate hold fail at the data layer; that failure is mapped
// to models.ErrEscrowExists. If the ledger movement fails (for example the
// buyer wallet cannot cover the amount) the whole hold rolls back and no
// escrow row survives.
//
// The entry's credit account id is filled in here once the backing account
// has an id.
func (r *Repository) HoldEscrow(ctx context.Context, esc *models.EscrowAccount, backing *models.LedgerAccount, entry *models.LedgerEntry) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		insertEscrow := `
			INSERT INTO market.escrow_accounts
				(escrow_number, checkout_session_id, buyer_id, seller_id, total_amount,
				 platform_fee_percent, platform_fee_amount, seller_amount, currency, status, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, CURRENT_TIMESTAMP)
			RETURNING id, created_at`
		err := tx.QueryRowContext(ctx, insertEscrow,
			esc.EscrowNumber, esc.CheckoutSessionID, esc.BuyerID, esc.SellerID, esc.TotalAmount,
			esc.PlatformFeePercent, esc.PlatformFeeAmount, esc.SellerAmount, esc.Currency, esc.Status).
			Scan(&esc.ID, &esc.CreatedAt)
		if err != nil {
			if isUniqueViolation(err, "escrow_accounts_checkout_session_id_key") {
				return models.ErrEscrowExists
			}
			if isUniqueViolation(err, "escrow_accounts_escrow_number_key") {
				return fmt.Errorf("escrow number %s: %w", esc.EscrowNumber, models.ErrNumberTaken)
			}
			return fmt.Errorf("failed to create escrow: %w", err)
		}

		insertAccount := `
			INSERT INTO market.ledger_accounts (account_number, account_type, owner_id, balance, currency, active, created_at, updated_at)
			VALUES ($1, $2, NULL, $3, $4, $5, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
			RETURNING id, created_at, updated_at`
		err = tx.QueryRowContext(ctx, insertAccount,
			backing.AccountNumber, backing.AccountType, backing.Balance, backing.Currency, backing.Active).
			Scan(&backing.ID, &backing.CreatedAt, &backing.UpdatedAt)
		if err != nil {
			if isUniqueViolation(err, "ledger_accounts_account_number_key") {
				return fmt.Errorf("account number %s: %w", backing.AccountNumber, models.ErrNumberTaken)
			}
			return fmt.Errorf("failed to create escrow ledger account: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE market.escrow_accounts SET ledger_account_id = $1 WHERE id = $2`,
			backing.ID, esc.ID); err != nil {
			return fmt.Errorf("failed to link escrow ledger account: %w", err)
		}
		esc.LedgerAccountID = backing.ID

		entry.CreditAccountID = backing.ID
		entry.ReferenceID = fmt.Sprintf("%d", esc.ID)
		return r.createLedgerEntriesTx(ctx, tx, []*models.LedgerEntry{entry})
	})
}

// TransitionEscrow moves an escrow from one of the allowed source statuses to
// the target status and, in the same transaction, applies the accompanying
// ledger entries. A zero-row update means the escrow was not in an allowed
// source state (possibly due to a concurrent transition) and yields a
// StateConflictError with the state actually found.
func (r *Repository) TransitionEscrow(ctx context.Context, esc *models.EscrowAccount, from []models.EscrowStatus, to models.EscrowStatus, entries []*models.LedgerEntry) error {
	timestampCol := map[models.EscrowStatus]string{
		models.EscrowStatusReleased: "released_at",
		models.EscrowStatusRefunded: "refunded_at",
		models.EscrowStatusDisputed: "disputed_at",
	}[to]
	if timestampCol == "" {
		return fmt.Errorf("%w: no transition target %s", models.ErrValidation, to)
	}
	fromStrs := make([]string, len(from))
	for i, s := range from {
		fromStrs[i] = string(s)
	}

	return r.inTx(ctx, func(tx *sql.Tx) error {
		query := fmt.Sprintf(`
			UPDATE market.escrow_accounts
			SET status = $1, %s = CURRENT_TIMESTAMP
			WHERE id = $2 AND status = ANY($3)
			RETURNING %s`, timestampCol, timestampCol)
		var stamped sql.NullTime
		err := tx.QueryRowContext(ctx, query, to, esc.ID, pq.Array(fromStrs)).Scan(&stamped)
		if err == sql.ErrNoRows {
			current, findErr := r.findEscrowTx(ctx, tx, esc.ID)
			if findErr != nil {
				return findErr
			}
			return &models.StateConflictError{
				Entity:    "escrow",
				ID:        current.EscrowNumber,
				Current:   string(current.Status),
				Requested: string(to),
			}
		}
		if err != nil {
			return fmt.Errorf("failed to transition escrow: %w", err)
		}

		if len(entries) > 0 {
			if err := r.createLedgerEntriesTx(ctx, tx, entries); err != nil {
				return err
			}
		}

		esc.Status = to
		if stamped.Valid {
			switch to {
			case models.EscrowStatusReleased:
				esc.ReleasedAt = &stamped.Time
			case models.EscrowStatusRefunded:
				esc.RefundedAt = &stamped.Time
			case models.EscrowStatusDisputed:
				esc.DisputedAt = &stamped.Time
			}
		}
		return nil
	})
}

func (r *Repository) findEscrowTx(ctx context.Context, tx *sql.Tx, id int64) (*models.EscrowAccount, error) {
	query := `SELECT ` + escrowColumns + ` FROM market.escrow_accounts WHERE id = $1`
	esc, err := scanEscrow(tx.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, models.ErrEscrowNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find escrow: %w", err)
	}
	return esc, nil
}

// FindEscrowByID retrieves an escrow by primary key
func (r *Repository) FindEscrowByID(ctx context.Context, id int64) (*models.EscrowAccount, error) {
	query := `SELECT ` + escrowColumns + ` FROM market.escrow_accounts WHERE id = $1`
	esc, err := scanEscrow(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, models.ErrEscrowNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find escrow: %w", err)
	}
	return esc, nil
}

// FindEscrowByNumber retrieves an escrow by its human-readable number
func (r *Repository) FindEscrowByNumber(ctx context.Context, number string) (*models.EscrowAccount, error) {
	query := `SELECT ` + escrowColumns + ` FROM market.escrow_accounts WHERE escrow_number = $1`
	esc, err := scanEscrow(r.db.QueryRowContext(ctx, query, number))
	if err == sql.ErrNoRows {
		return nil, models.ErrEscrowNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find escrow: %w", err)
	}
	return esc, nil
}

// FindEscrowByCheckoutSession retrieves the escrow for a checkout session
func (r *Repository) FindEscrowByCheckoutSession(ctx context.Context, sessionID string) (*models.EscrowAccount, error) {
	query := `SELECT ` + escrowColumns + ` FROM market.escrow_accounts WHERE checkout_session_id = $1`
	esc, err := scanEscrow(r.db.QueryRowContext(ctx, query, sessionID))
	if err == sql.ErrNoRows {
		return nil, models.ErrEscrowNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find escrow: %w", err)
	}
	return esc, nil
}

// NextEscrowSequence returns the next sequence number for escrows in a year
func (r *Repository) NextEscrowSequence(ctx context.Context, year int) (int64, error) {
	var n int64
	query := `SELECT COUNT(*) + 1 FROM market.escrow_accounts WHERE escrow_number LIKE $1`
	if err := r.db.QueryRowContext(ctx, query, fmt.Sprintf("ESC-%d-%%", year)).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to get next escrow sequence: %w", err)
	}
	return n, nil
}
