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

// EscrowStore is the persistence surface the escrow service needs. It is
// implemented by repository.Repository.
type EscrowStore interface {
	HoldEscrow(ctx context.Context, esc *models.EscrowAccount, backing *models.LedgerAccount, entry *models.LedgerEntry) error
	TransitionEscrow(ctx context.Context, esc *models.EscrowAccount, from []models.EscrowStatus, to models.EscrowStatus, entries []*models.LedgerEntry) error
	FindEscrowByID(ctx context.Context, id int64) (*models.EscrowAccount, error)
	FindEscrowByNumber(ctx context.Context, number string) (*models.EscrowAccount, error)
	FindEscrowByCheckoutSession(ctx context.Context, sessionID string) (*models.EscrowAccount, error)
	NextEscrowSequence(ctx context.Context, year int) (int64, error)
	FindAccountByID(ctx context.Context, id int64) (*models.LedgerAccount, error)
}

// EscrowService holds buyer money pending delivery and drives the ledger
// movements for release, refund and dispute. State machine:
//
//	HELD -> RELEASED | REFUNDED | DISPUTED
//	DISPUTED -> RELEASED | REFUNDED
//
// RELEASED and REFUNDED are terminal.
type EscrowService struct {
	store  EscrowStore
	ledger *LedgerService
	log    *logrus.Logger
	cfg    *config.Config
}

// NewEscrowService initializes a new escrow service
func NewEscrowService(store EscrowStore, ledger *LedgerService, log *logrus.Logger, cfg *config.Config) *EscrowService {
	return &EscrowService{store: store, ledger: ledger, log: log, cfg: cfg}
}

// HoldMoney moves amount from the buyer's wallet into a fresh escrow account.
// The platform fee is snapshotted from configuration and the seller share is
// derived as total minus fee so the split reconciles exactly. At most one
// escrow can exist per checkout session; a duplicate hold fails with
// models.ErrEscrowExists regardless of timing, because the uniqueness is
// enforced by the data layer inside the same transaction as the movement.
func (s *EscrowService) HoldMoney(ctx context.Context, checkoutSessionID, buyerID, sellerID string,
	amount decimal.Decimal, currency, actor string) (*models.EscrowAccount, error) {

	if checkoutSessionID == "" || buyerID == "" || sellerID == "" {
		return nil, fmt.Errorf("%w: checkout session, buyer and seller are required", models.ErrValidation)
	}
	amount = amount.Round(MoneyScale)
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: escrow amount must be positive, got %s", models.ErrValidation, amount)
	}
	if _, err := s.store.FindEscrowByCheckoutSession(ctx, checkoutSessionID); err == nil {
		return nil, models.ErrEscrowExists
	} else if !errors.Is(err, models.ErrEscrowNotFound) {
		return nil, err
	}

	feePercent := s.cfg.PlatformFeePercent
	feeAmount := amount.Mul(feePercent).Div(decimal.NewFromInt(100)).Round(MoneyScale)
	sellerAmount := amount.Sub(feeAmount)

	buyerWallet, err := s.ledger.GetOrCreateWalletAccount(ctx, buyerID, currency)
	if err != nil {
		return nil, err
	}

	esc := &models.EscrowAccount{
		CheckoutSessionID:  checkoutSessionID,
		BuyerID:            buyerID,
		SellerID:           sellerID,
		TotalAmount:        amount,
		PlatformFeePercent: feePercent,
		PlatformFeeAmount:  feeAmount,
		SellerAmount:       sellerAmount,
		Currency:           currency,
		Status:             models.EscrowStatusHeld,
	}

	year := time.Now().Year()
	for attempt := 1; attempt <= maxNumberAttempts; attempt++ {
		seq, err := s.store.NextEscrowSequence(ctx, year)
		if err != nil {
			return nil, err
		}
		esc.EscrowNumber = escrowNumber(year, seq, attempt)

		backing := s.ledger.BuildEscrowBackingAccount(currency)
		entry, err := s.ledger.PrepareEntry(buyerWallet, backing, amount,
			models.EntryTypePurchase, models.RefTypeEscrow, "",
			fmt.Sprintf("Hold for checkout %s", checkoutSessionID), actor)
		if err != nil {
			return nil, err
		}
		if err := s.ledger.AssignEntryNumbers(ctx, []*models.LedgerEntry{entry}, attempt); err != nil {
			return nil, err
		}

		err = s.store.HoldEscrow(ctx, esc, backing, entry)
		if errors.Is(err, models.ErrNumberTaken) {
			s.log.Warnf("Escrow number collision on attempt %d, retrying", attempt)
			continue
		}
		if err != nil {
			return nil, err
		}
		s.log.Infof("Escrow %s HELD: %s %s from buyer %s for seller %s (fee %s)",
			esc.EscrowNumber, amount.StringFixed(MoneyScale), currency, buyerID, sellerID,
			feeAmount.StringFixed(MoneyScale))
		return esc, nil
	}
	return nil, fmt.Errorf("failed to allocate escrow number after %d attempts", maxNumberAttempts)
}

func escrowNumber(year int, seq int64, attempt int) string {
	if attempt <= 1 {
		return fmt.Sprintf("ESC-%d-%06d", year, seq)
	}
	return fmt.Sprintf("ESC-%d-%06d-%d", year, seq, attempt)
}

// ReleaseMoney pays out a HELD escrow: the seller share and the platform fee
// leave the escrow account in one split operation, atomically with the status
// change. A failure leaves the escrow HELD for a later retry; nothing is
// retried automatically here.
func (s *EscrowService) ReleaseMoney(ctx context.Context, escrowID int64, actor string) (*models.EscrowAccount, error) {
	esc, err := s.store.FindEscrowByID(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	if esc.Status != models.EscrowStatusHeld {
		return nil, &models.StateConflictError{
			Entity: "escrow", ID: esc.EscrowNumber,
			Current: string(esc.Status), Requested: string(models.EscrowStatusReleased),
		}
	}
	if err := s.payOut(ctx, esc, []models.EscrowStatus{models.EscrowStatusHeld}, actor); err != nil {
		return nil, err
	}
	s.log.Infof("Escrow %s RELEASED: %s to seller %s, %s platform fee",
		esc.EscrowNumber, esc.SellerAmount.StringFixed(MoneyScale), esc.SellerID,
		esc.PlatformFeeAmount.StringFixed(MoneyScale))
	return esc, nil
}

// payOut builds the split to seller + platform and commits it together with
// the RELEASED transition.
func (s *EscrowService) payOut(ctx context.Context, esc *models.EscrowAccount, from []models.EscrowStatus, actor string) error {
	backing, err := s.store.FindAccountByID(ctx, esc.LedgerAccountID)
	if err != nil {
		return err
	}
	sellerWallet, err := s.ledger.GetOrCreateWalletAccount(ctx, esc.SellerID, esc.Currency)
	if err != nil {
		return err
	}

	refID := fmt.Sprintf("%d", esc.ID)
	for attempt := 1; attempt <= maxNumberAttempts; attempt++ {
		var entries []*models.LedgerEntry
		sellerEntry, err := s.ledger.PrepareEntry(backing, sellerWallet, esc.SellerAmount,
			models.EntryTypeEscrowRelease, models.RefTypeEscrow, refID,
			fmt.Sprintf("Release of escrow %s to seller", esc.EscrowNumber), actor)
		if err != nil {
			return err
		}
		entries = append(entries, sellerEntry)

		if esc.PlatformFeeAmount.IsPositive() {
			revenue, err := s.ledger.GetPlatformRevenueAccount(ctx, esc.Currency)
			if err != nil {
				return err
			}
			feeEntry, err := s.ledger.PrepareEntry(backing, revenue, esc.PlatformFeeAmount,
				models.EntryTypePlatformFee, models.RefTypeEscrow, refID,
				fmt.Sprintf("Platform fee for escrow %s", esc.EscrowNumber), actor)
			if err != nil {
				return err
			}
			entries = append(entries, feeEntry)
		}

		if err := s.ledger.AssignEntryNumbers(ctx, entries, attempt); err != nil {
			return err
		}
		err = s.store.TransitionEscrow(ctx, esc, from, models.EscrowStatusReleased, entries)
		if errors.Is(err, models.ErrNumberTaken) {
			s.log.Warnf("Entry number collision on attempt %d, retrying", attempt)
			continue
		}
		return err
	}
	return fmt.Errorf("failed to allocate entry numbers after %d attempts", maxNumberAttempts)
}

// RefundMoney returns the full original amount (not the fee split) from a
// HELD or DISPUTED escrow to the buyer's wallet.
func (s *EscrowService) RefundMoney(ctx context.Context, escrowID int64, actor string) (*models.EscrowAccount, error) {
	esc, err := s.store.FindEscrowByID(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	if esc.Status != models.EscrowStatusHeld && esc.Status != models.EscrowStatusDisputed {
		return nil, &models.StateConflictError{
			Entity: "escrow", ID: esc.EscrowNumber,
			Current: string(esc.Status), Requested: string(models.EscrowStatusRefunded),
		}
	}

	backing, err := s.store.FindAccountByID(ctx, esc.LedgerAccountID)
	if err != nil {
		return nil, err
	}
	buyerWallet, err := s.ledger.GetOrCreateWalletAccount(ctx, esc.BuyerID, esc.Currency)
	if err != nil {
		return nil, err
	}

	from := []models.EscrowStatus{models.EscrowStatusHeld, models.EscrowStatusDisputed}
	for attempt := 1; attempt <= maxNumberAttempts; attempt++ {
		entry, err := s.ledger.PrepareEntry(backing, buyerWallet, esc.TotalAmount,
			models.EntryTypeRefund, models.RefTypeEscrow, fmt.Sprintf("%d", esc.ID),
			fmt.Sprintf("Refund of escrow %s to buyer", esc.EscrowNumber), actor)
		if err != nil {
			return nil, err
		}
		if err := s.ledger.AssignEntryNumbers(ctx, []*models.LedgerEntry{entry}, attempt); err != nil {
			return nil, err
		}
		err = s.store.TransitionEscrow(ctx, esc, from, models.EscrowStatusRefunded, []*models.LedgerEntry{entry})
		if errors.Is(err, models.ErrNumberTaken) {
			s.log.Warnf("Entry number collision on attempt %d, retrying", attempt)
			continue
		}
		if err != nil {
			return nil, err
		}
		s.log.Infof("Escrow %s REFUNDED: %s %s back to buyer %s",
			esc.EscrowNumber, esc.TotalAmount.StringFixed(MoneyScale), esc.Currency, esc.BuyerID)
		return esc, nil
	}
	return nil, fmt.Errorf("failed to allocate entry numbers after %d attempts", maxNumberAttempts)
}

// DisputeEscrow parks a HELD escrow in DISPUTED. Pure status change: the
// money stays in the escrow account pending external resolution.
func (s *EscrowService) DisputeEscrow(ctx context.Context, escrowID int64, actor string) (*models.EscrowAccount, error) {
	esc, err := s.store.FindEscrowByID(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	if esc.Status != models.EscrowStatusHeld {
		return nil, &models.StateConflictError{
			Entity: "escrow", ID: esc.EscrowNumber,
			Current: string(esc.Status), Requested: string(models.EscrowStatusDisputed),
		}
	}
	if err := s.store.TransitionEscrow(ctx, esc, []models.EscrowStatus{models.EscrowStatusHeld}, models.EscrowStatusDisputed, nil); err != nil {
		return nil, err
	}
	s.log.Infof("Escrow %s DISPUTED by %s", esc.EscrowNumber, actor)
	return esc, nil
}

// DisputeOutcome selects how a dispute resolves
type DisputeOutcome string

const (
	DisputeOutcomeRelease DisputeOutcome = "RELEASE"
	DisputeOutcomeRefund  DisputeOutcome = "REFUND"
)

// ResolveDispute settles a DISPUTED escrow either by paying the seller and
// platform (release) or by returning everything to the buyer (refund).
func (s *EscrowService) ResolveDispute(ctx context.Context, escrowID int64, outcome DisputeOutcome, actor string) (*models.EscrowAccount, error) {
	esc, err := s.store.FindEscrowByID(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	if esc.Status != models.EscrowStatusDisputed {
		return nil, &models.StateConflictError{
			Entity: "escrow", ID: esc.EscrowNumber,
			Current: string(esc.Status), Requested: string(outcome),
		}
	}
	switch outcome {
	case DisputeOutcomeRelease:
		if err := s.payOut(ctx, esc, []models.EscrowStatus{models.EscrowStatusDisputed}, actor); err != nil {
			return nil, err
		}
		s.log.Infof("Escrow %s dispute resolved: RELEASED", esc.EscrowNumber)
		return esc, nil
	case DisputeOutcomeRefund:
		return s.RefundMoney(ctx, escrowID, actor)
	default:
		return nil, fmt.Errorf("%w: unknown dispute outcome %q", models.ErrValidation, outcome)
	}
}

// GetEscrowByID retrieves an escrow by primary key
func (s *EscrowService) GetEscrowByID(ctx context.Context, id int64) (*models.EscrowAccount, error) {
	return s.store.FindEscrowByID(ctx, id)
}

// GetEscrowByNumber retrieves an escrow by its human-readable number
func (s *EscrowService) GetEscrowByNumber(ctx context.Context, number string) (*models.EscrowAccount, error) {
	return s.store.FindEscrowByNumber(ctx, number)
}

// GetEscrowByCheckoutSession retrieves the escrow for a checkout session
func (s *EscrowService) GetEscrowByCheckoutSession(ctx context.Context, sessionID string) (*models.EscrowAccount, error) {
	return s.store.FindEscrowByCheckoutSession(ctx, sessionID)
}
