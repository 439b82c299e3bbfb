package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/shopspring/decimal"
)

// Config holds application configuration
type Config struct {
	Port               string
	DBConn             string
	LogLevel           string
	JWTSecret          string
	DefaultCurrency    string
	PlatformFeePercent decimal.Decimal
	PaymentMaxRetries  int
	ReminderDays       int
	GatewayURL         string
	SMTPHost           string
	SMTPPort           string
	SMTPUsername       string
	SMTPPassword       string
	SenderEmail        string
}

// NewConfig loads configuration from environment variables
func NewConfig() (*Config, error) {
	cfg := &Config{
		Port:            getEnv("PORT", "8080"),
		DBConn:          getEnv("DB_CONN", "host=localhost port=5436 user=test password=test dbname=market sslmode=disable"),
		LogLevel:        getEnv("LOG_LEVEL", "INFO"),
		JWTSecret:       getEnv("JWT_SECRET", "secret"),
		DefaultCurrency: getEnv("DEFAULT_CURRENCY", "XAF"),
		GatewayURL:      getEnv("GATEWAY_URL", ""),
		SMTPHost:        getEnv("SMTP_HOST", ""),
		SMTPPort:        getEnv("SMTP_PORT", "587"),
		SMTPUsername:    getEnv("SMTP_USERNAME", ""),
		SMTPPassword:    getEnv("SMTP_PASSWORD", ""),
		SenderEmail:     getEnv("SENDER_EMAIL", "noreply@marketplace.local"),
	}

	feePercent, err := decimal.NewFromString(getEnv("PLATFORM_FEE_PERCENT", "5"))
	if err != nil {
		return nil, fmt.Errorf("invalid PLATFORM_FEE_PERCENT: %w", err)
	}
	cfg.PlatformFeePercent = feePercent

	maxRetries, err := strconv.Atoi(getEnv("PAYMENT_MAX_RETRIES", "3"))
	if err != nil {
		return nil, fmt.Errorf("invalid PAYMENT_MAX_RETRIES: %w", err)
	}
	cfg.PaymentMaxRetries = maxRetries

	reminderDays, err := strconv.Atoi(getEnv("REMINDER_DAYS", "3"))
	if err != nil {
		return nil, fmt.Errorf("invalid REMINDER_DAYS: %w", err)
	}
	cfg.ReminderDays = reminderDays

	if cfg.DBConn == "" {
		return nil, fmt.Errorf("DB_CONN is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.PlatformFeePercent.IsNegative() || cfg.PlatformFeePercent.GreaterThan(decimal.NewFromInt(100)) {
		return nil, fmt.Errorf("PLATFORM_FEE_PERCENT must be between 0 and 100")
	}

	return cfg, nil
}

func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}
