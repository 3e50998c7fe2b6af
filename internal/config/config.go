package config

import (
	"errors"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every runtime setting. It is built once in main and passed
// down explicitly.
type Config struct {
	Port        string
	DatabaseURL string
	RedisURL    string

	MidtransServerKey    string
	MidtransClientKey    string
	MidtransIsProduction bool

	// PaymentSigningSecret signs orderId|paymentId confirmations,
	// WebhookSigningSecret signs raw webhook bodies.
	PaymentSigningSecret string
	WebhookSigningSecret string

	DefaultCurrency     string
	SupportedCurrencies []string

	IdempotencyWindow  time.Duration
	WebhookDedupWindow time.Duration

	GatewayMaxAttempts    int
	GatewayInitialBackoff time.Duration
	GatewayTimeout        time.Duration

	CountRefundedAsSuccessful bool

	FirebaseCredentialsPath string

	LogLevel    string
	LogEncoding string

	WorkerSchedule string
}

// Load reads .env (when present) and the process environment
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment")
	}

	return &Config{
		Port:        GetEnv("PORT", "8080"),
		DatabaseURL: GetEnv("DATABASE_URL"),
		RedisURL:    GetEnv("REDIS_URL"),

		MidtransServerKey:    GetEnv("MIDTRANS_SERVER_KEY"),
		MidtransClientKey:    GetEnv("MIDTRANS_CLIENT_KEY"),
		MidtransIsProduction: GetBool("MIDTRANS_IS_PRODUCTION", false),

		PaymentSigningSecret: GetEnv("PAYMENT_SIGNING_SECRET"),
		WebhookSigningSecret: GetEnv("WEBHOOK_SIGNING_SECRET"),

		DefaultCurrency:     strings.ToUpper(GetEnv("DEFAULT_CURRENCY", "IDR")),
		SupportedCurrencies: GetList("SUPPORTED_CURRENCIES", "IDR,USD"),

		IdempotencyWindow:  GetDuration("IDEMPOTENCY_WINDOW", 15*time.Minute),
		WebhookDedupWindow: GetDuration("WEBHOOK_DEDUP_WINDOW", 24*time.Hour),

		GatewayMaxAttempts:    GetInt("GATEWAY_MAX_ATTEMPTS", 3),
		GatewayInitialBackoff: GetDuration("GATEWAY_INITIAL_BACKOFF", 500*time.Millisecond),
		GatewayTimeout:        GetDuration("GATEWAY_TIMEOUT", 10*time.Second),

		CountRefundedAsSuccessful: GetBool("ANALYTICS_COUNT_REFUNDED_AS_SUCCESS", true),

		FirebaseCredentialsPath: GetEnv("FIREBASE_CREDENTIALS_PATH", "./firebase-service-account.json"),

		LogLevel:    GetEnv("LOG_LEVEL", "info"),
		LogEncoding: GetEnv("LOG_ENCODING", "json"),

		WorkerSchedule: GetEnv("WORKER_SCHEDULE", "@every 1m"),
	}
}

// Validate rejects configurations the payment core cannot run with
func (c *Config) Validate() error {
	var errs []error
	if c.PaymentSigningSecret == "" {
		errs = append(errs, errors.New("PAYMENT_SIGNING_SECRET is not set"))
	}
	if c.WebhookSigningSecret == "" {
		errs = append(errs, errors.New("WEBHOOK_SIGNING_SECRET is not set"))
	}
	if len(c.DefaultCurrency) != 3 {
		errs = append(errs, errors.New("DEFAULT_CURRENCY must be a 3-letter ISO code"))
	}
	if !c.IsSupportedCurrency(c.DefaultCurrency) {
		errs = append(errs, errors.New("DEFAULT_CURRENCY must be listed in SUPPORTED_CURRENCIES"))
	}
	if c.GatewayMaxAttempts < 1 {
		errs = append(errs, errors.New("GATEWAY_MAX_ATTEMPTS must be at least 1"))
	}
	return errors.Join(errs...)
}

// IsSupportedCurrency reports whether code is accepted for new orders
func (c *Config) IsSupportedCurrency(code string) bool {
	for _, supported := range c.SupportedCurrencies {
		if supported == code {
			return true
		}
	}
	return false
}

func GetEnv(key string, defaultValue ...string) string {
	value, exists := os.LookupEnv(key)
	if (!exists || value == "") && len(defaultValue) > 0 {
		return defaultValue[0]
	}
	return value
}

func GetBool(key string, defaultValue bool) bool {
	value, err := strconv.ParseBool(GetEnv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

func GetInt(key string, defaultValue int) int {
	value, err := strconv.Atoi(GetEnv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

func GetDuration(key string, defaultValue time.Duration) time.Duration {
	value, err := time.ParseDuration(GetEnv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

// GetList splits a comma separated variable into upper-cased, trimmed items
func GetList(key string, defaultValue string) []string {
	var items []string
	for _, item := range strings.Split(GetEnv(key, defaultValue), ",") {
		item = strings.ToUpper(strings.TrimSpace(item))
		if item != "" {
			items = append(items, item)
		}
	}
	return items
}
