package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/Dan9191/marketplace-ledger/internal/middleware"
	"github.com/Dan9191/marketplace-ledger/internal/models"
	"github.com/Dan9191/marketplace-ledger/internal/service"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
)

// Handler exposes the ledger core over HTTP for collaborators and operators
type Handler struct {
	ledger       *service.LedgerService
	escrow       *service.EscrowService
	installments *service.InstallmentService
	orchestrator *service.PaymentOrchestrator
}

// NewHandler initializes a new handler
func NewHandler(ledger *service.LedgerService, escrow *service.EscrowService,
	installments *service.InstallmentService, orchestrator *service.PaymentOrchestrator) *Handler {
	return &Handler{ledger: ledger, escrow: escrow, installments: installments, orchestrator: orchestrator}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors onto HTTP statuses
func writeError(w http.ResponseWriter, err error) {
	var insufficient *models.InsufficientBalanceError
	var conflict *models.StateConflictError
	switch {
	case errors.Is(err, models.ErrAccountNotFound),
		errors.Is(err, models.ErrEscrowNotFound),
		errors.Is(err, models.ErrSessionNotFound),
		errors.Is(err, models.ErrAgreementNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, models.ErrValidation):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, models.ErrEscrowExists):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.As(err, &insufficient):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":     insufficient.Error(),
			"account":   insufficient.AccountNumber,
			"requested": insufficient.Requested,
			"available": insufficient.Available,
		})
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":   conflict.Error(),
			"current": conflict.Current,
		})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

// Healthz reports liveness
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetBalance returns an account's cached balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	number := mux.Vars(r)["number"]
	balance, err := h.ledger.GetBalance(r.Context(), number)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"account_number": number, "balance": balance})
}

// GetAccountEntries returns an account's entries, newest first
func (h *Handler) GetAccountEntries(w http.ResponseWriter, r *http.Request) {
	number := mux.Vars(r)["number"]
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	entries, err := h.ledger.GetAccountEntries(r.Context(), number, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// GetEntriesByReference returns the entries caused by one business object
func (h *Handler) GetEntriesByReference(w http.ResponseWriter, r *http.Request) {
	refType := r.URL.Query().Get("refType")
	refID := r.URL.Query().Get("refId")
	if refType == "" || refID == "" {
		http.Error(w, "refType and refId are required", http.StatusBadRequest)
		return
	}
	entries, err := h.ledger.GetEntriesByReference(r.Context(), refType, refID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// VerifyLedger runs the global consistency check
func (h *Handler) VerifyLedger(w http.ResponseWriter, r *http.Request) {
	ok, err := h.ledger.VerifyLedgerBalance(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusOK
	if !ok {
		// Consistency failures must be alarming, not a quiet 200.
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, map[string]bool{"balanced": ok})
}

// GetEscrow returns an escrow by id
func (h *Handler) GetEscrow(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		http.Error(w, "invalid escrow id", http.StatusBadRequest)
		return
	}
	esc, err := h.escrow.GetEscrowByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, esc)
}

// GetEscrowByNumber returns an escrow by its human-readable number
func (h *Handler) GetEscrowByNumber(w http.ResponseWriter, r *http.Request) {
	esc, err := h.escrow.GetEscrowByNumber(r.Context(), mux.Vars(r)["number"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, esc)
}

// escrowAction adapts the release/refund/dispute operations to one shape
func (h *Handler) escrowAction(w http.ResponseWriter, r *http.Request,
	action func(id int64, actor string) (*models.EscrowAccount, error)) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		http.Error(w, "invalid escrow id", http.StatusBadRequest)
		return
	}
	esc, err := action(id, middleware.Actor(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, esc)
}

// ReleaseEscrow pays out a held escrow to seller and platform
func (h *Handler) ReleaseEscrow(w http.ResponseWriter, r *http.Request) {
	h.escrowAction(w, r, func(id int64, actor string) (*models.EscrowAccount, error) {
		return h.escrow.ReleaseMoney(r.Context(), id, actor)
	})
}

// RefundEscrow returns held money to the buyer
func (h *Handler) RefundEscrow(w http.ResponseWriter, r *http.Request) {
	h.escrowAction(w, r, func(id int64, actor string) (*models.EscrowAccount, error) {
		return h.escrow.RefundMoney(r.Context(), id, actor)
	})
}

// DisputeEscrow parks a held escrow pending resolution
func (h *Handler) DisputeEscrow(w http.ResponseWriter, r *http.Request) {
	h.escrowAction(w, r, func(id int64, actor string) (*models.EscrowAccount, error) {
		return h.escrow.DisputeEscrow(r.Context(), id, actor)
	})
}

// ResolveDispute settles a disputed escrow
func (h *Handler) ResolveDispute(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Outcome service.DisputeOutcome `json:"outcome"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	h.escrowAction(w, r, func(id int64, actor string) (*models.EscrowAccount, error) {
		return h.escrow.ResolveDispute(r.Context(), id, req.Outcome, actor)
	})
}

// PreviewInstallments runs the pure calculator for a customer-facing preview
func (h *Handler) PreviewInstallments(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Plan               models.InstallmentPlan `json:"plan"`
		Price              decimal.Decimal        `json:"price"`
		Quantity           int                    `json:"quantity"`
		DownPaymentPercent decimal.Decimal        `json:"down_payment_percent"`
		StartDate          time.Time              `json:"start_date"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	start := req.StartDate
	if start.IsZero() {
		start = time.Now()
	}
	cfg, err := service.CalculateInstallmentConfig(req.Plan, req.Price, req.Quantity, req.DownPaymentPercent, start)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// CreateAgreement persists a financed purchase and charges its down payment
func (h *Handler) CreateAgreement(w http.ResponseWriter, r *http.Request) {
	var req service.CreateAgreementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	ag, err := h.installments.CreateAgreement(r.Context(), req, middleware.Actor(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ag)
}

// GetAgreement returns an agreement with its schedule
func (h *Handler) GetAgreement(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		http.Error(w, "invalid agreement id", http.StatusBadRequest)
		return
	}
	ag, schedule, err := h.installments.GetAgreement(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"agreement": ag, "schedule": schedule})
}

// CancelAgreement stops an agreement and skips its remaining payments
func (h *Handler) CancelAgreement(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		http.Error(w, "invalid agreement id", http.StatusBadRequest)
		return
	}
	ag, err := h.installments.CancelAgreement(r.Context(), id, middleware.Actor(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ag)
}

// ProcessPayment runs the orchestrator for a checkout session
func (h *Handler) ProcessPayment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CheckoutSessionID string               `json:"checkout_session_id"`
		Method            models.PaymentMethod `json:"method,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	result, err := h.orchestrator.ProcessPayment(r.Context(), req.CheckoutSessionID, req.Method, middleware.Actor(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
