package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration.
type Config struct {
	Port          string
	Env           string
	LogLevel      string
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Telephony provider (call/SMS lifecycle webhooks + bulk export API).
	TelephonyAPIKey        string
	TelephonyBaseURL       string
	TelephonyWebhookSecret string
	TelephonySkipVerify    bool
	TelephonyPageSize      int

	// Accounting provider (customer/invoice/payment webhooks + query API).
	AccountingBaseURL       string
	AccountingRealmID       string
	AccountingWebhookSecret string
	AccountingSkipVerify    bool
	AccountingPageSize      int

	AdminJWTSecret string

	CORSAllowedOrigins []string

	LiveCallTTL time.Duration
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		TelephonyAPIKey:        getEnv("TELEPHONY_API_KEY", ""),
		TelephonyBaseURL:       getEnv("TELEPHONY_BASE_URL", ""),
		TelephonyWebhookSecret: getEnv("TELEPHONY_WEBHOOK_SECRET", ""),
		TelephonySkipVerify:    getEnvAsBool("TELEPHONY_SKIP_VERIFY", false),
		TelephonyPageSize:      getEnvAsInt("TELEPHONY_PAGE_SIZE", 100),

		AccountingBaseURL:       getEnv("ACCOUNTING_BASE_URL", ""),
		AccountingRealmID:       getEnv("ACCOUNTING_REALM_ID", ""),
		AccountingWebhookSecret: getEnv("ACCOUNTING_WEBHOOK_SECRET", ""),
		AccountingSkipVerify:    getEnvAsBool("ACCOUNTING_SKIP_VERIFY", false),
		AccountingPageSize:      getEnvAsInt("ACCOUNTING_PAGE_SIZE", 100),

		AdminJWTSecret: getEnv("ADMIN_JWT_SECRET", ""),

		CORSAllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS"),

		LiveCallTTL: getEnvAsDuration("LIVE_CALL_TTL", 4*time.Hour),
	}
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsSlice(key string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
