package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Dan9191/marketplace-ledger/internal/models"
)

const sessionColumns = `id, buyer_id, COALESCE(buyer_email, ''), seller_id, total_amount, currency,
	COALESCE(payment_provider, ''), payment_status, COALESCE(provider_ref, ''), created_at, updated_at`

func scanSession(row interface{ Scan(...any) error }) (*models.CheckoutSession, error) {
	s := &models.CheckoutSession{}
	err := row.Scan(&s.ID, &s.BuyerID, &s.BuyerEmail, &s.SellerID, &s.TotalAmount, &s.Currency,
		&s.PaymentProvider, &s.PaymentStatus, &s.ProviderRef, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// CreateCheckoutSession inserts a boundary checkout session row. Sessions are
// normally owned by the checkout collaborator; this exists for wiring it in.
func (r *Repository) CreateCheckoutSession(ctx context.Context, s *models.CheckoutSession) error {
	query := `
		INSERT INTO market.checkout_sessions
			(id, buyer_id, buyer_email, seller_id, total_amount, currency, payment_provider, payment_status, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, NULLIF($7, ''), $8, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		RETURNING created_at, updated_at`
	err := r.db.QueryRowContext(ctx, query,
		s.ID, s.BuyerID, s.BuyerEmail, s.SellerID, s.TotalAmount, s.Currency, string(s.PaymentProvider), s.PaymentStatus).
		Scan(&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create checkout session: %w", err)
	}
	return nil
}

// FindCheckoutSession retrieves a checkout session by id
func (r *Repository) FindCheckoutSession(ctx context.Context, id string) (*models.CheckoutSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM market.checkout_sessions WHERE id = $1`
	s, err := scanSession(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, models.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find checkout session: %w", err)
	}
	return s, nil
}

// UpdateCheckoutPayment records the payment outcome on a checkout session
func (r *Repository) UpdateCheckoutPayment(ctx context.Context, id, status, providerRef string) error {
	query := `
		UPDATE market.checkout_sessions
		SET payment_status = $1, provider_ref = NULLIF($2, ''), updated_at = CURRENT_TIMESTAMP
		WHERE id = $3`
	res, err := r.db.ExecContext(ctx, query, status, providerRef, id)
	if err != nil {
		return fmt.Errorf("failed to update checkout payment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrSessionNotFound
	}
	return nil
}
