package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/Dan9191/marketplace-ledger/internal/config"
	"github.com/Dan9191/marketplace-ledger/internal/handler"
	"github.com/Dan9191/marketplace-ledger/internal/integrations/gateway"
	"github.com/Dan9191/marketplace-ledger/internal/middleware"
	"github.com/Dan9191/marketplace-ledger/internal/models"
	"github.com/Dan9191/marketplace-ledger/internal/repository"
	"github.com/Dan9191/marketplace-ledger/internal/service"
	"github.com/Dan9191/marketplace-ledger/internal/utils/email"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// loggingOrderCreator stands in for the checkout collaborator's order
// module. The outbox keeps retrying until the real collaborator is wired in.
type loggingOrderCreator struct {
	log *logrus.Logger
}

func (c *loggingOrderCreator) CreateOrder(ctx context.Context, checkoutSessionID string) error {
	c.log.Infof("Order creation requested for checkout session %s", checkoutSessionID)
	return nil
}

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logLevel, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	// Load configuration
	_ = godotenv.Load()
	cfg, err := config.NewConfig()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	// Initialize database
	db, err := sql.Open("postgres", cfg.DBConn)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		logger.Fatalf("Failed to ping database: %v", err)
	}

	// Initialize layers
	repo := repository.NewRepository(db)
	ledgerSvc := service.NewLedgerService(repo, logger, cfg)
	escrowSvc := service.NewEscrowService(repo, ledgerSvc, logger, cfg)

	var sender *email.Sender
	if cfg.SMTPHost != "" {
		sender = email.NewSender(cfg, logger)
	}
	var receipts service.ReceiptSender
	var reminders service.ReminderSender
	if sender != nil {
		receipts = sender
		reminders = sender
	}

	gatewayClient := gateway.NewClient(cfg, logger)
	orchestrator := service.NewPaymentOrchestrator(repo, repo, &loggingOrderCreator{log: logger}, receipts, logger, cfg,
		service.NewWalletProcessor(escrowSvc, logger),
		service.NewExternalProcessor(models.PaymentMethodMobileMoney, gatewayClient, logger),
		service.NewExternalProcessor(models.PaymentMethodCard, gatewayClient, logger),
	)
	installmentSvc := service.NewInstallmentService(repo, escrowSvc, repo, logger, cfg)
	h := handler.NewHandler(ledgerSvc, escrowSvc, installmentSvc, orchestrator)

	// Start background jobs
	scheduler := service.NewScheduler(installmentSvc, orchestrator, reminders, logger, cfg)
	if err := scheduler.Start(); err != nil {
		logger.Fatalf("Failed to start scheduler: %v", err)
	}
	defer scheduler.Stop()

	// Setup router
	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.Healthz).Methods("GET")

	authRouter := r.PathPrefix("/").Subrouter()
	authRouter.Use(middleware.AuthMiddleware(cfg))
	authRouter.HandleFunc("/accounts/{number}/balance", h.GetBalance).Methods("GET")
	authRouter.HandleFunc("/accounts/{number}/entries", h.GetAccountEntries).Methods("GET")
	authRouter.HandleFunc("/entries", h.GetEntriesByReference).Methods("GET")
	authRouter.HandleFunc("/ledger/verify", h.VerifyLedger).Methods("GET")
	authRouter.HandleFunc("/escrows/{id:[0-9]+}", h.GetEscrow).Methods("GET")
	authRouter.HandleFunc("/escrows/by-number/{number}", h.GetEscrowByNumber).Methods("GET")
	authRouter.HandleFunc("/escrows/{id:[0-9]+}/release", h.ReleaseEscrow).Methods("POST")
	authRouter.HandleFunc("/escrows/{id:[0-9]+}/refund", h.RefundEscrow).Methods("POST")
	authRouter.HandleFunc("/escrows/{id:[0-9]+}/dispute", h.DisputeEscrow).Methods("POST")
	authRouter.HandleFunc("/escrows/{id:[0-9]+}/resolve", h.ResolveDispute).Methods("POST")
	authRouter.HandleFunc("/installments/preview", h.PreviewInstallments).Methods("POST")
	authRouter.HandleFunc("/installments/agreements", h.CreateAgreement).Methods("POST")
	authRouter.HandleFunc("/installments/agreements/{id:[0-9]+}", h.GetAgreement).Methods("GET")
	authRouter.HandleFunc("/installments/agreements/{id:[0-9]+}/cancel", h.CancelAgreement).Methods("POST")
	authRouter.HandleFunc("/payments/process", h.ProcessPayment).Methods("POST")

	// Start server
	addr := fmt.Sprintf(":%s", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	logger.Infof("Starting server on %s", addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("Server failed: %v", err)
	}
}
