package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string
	LogLevel    string

	// AdminToken is compared in constant time. AdminTokenHash takes an argon2id
	// encoded hash instead of the plain token.
	AdminToken     string
	AdminTokenHash string

	PricingConfigPath string

	OtelEnabled      bool
	OTLPEndpoint     string
	OtelSamplingRate float64

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBPath            string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int
	DBQueryTimeout    time.Duration

	Payments   PaymentsConfig
	Completion CompletionConfig
	RateLimit  RateLimitConfig
}

type PaymentsConfig struct {
	// RequireVerifier turns a missing provider verification setup into a startup error.
	RequireVerifier bool
	VerifyTimeout   time.Duration
	PayPal          PayPalConfig
	Stripe          StripeConfig
}

type PayPalConfig struct {
	ClientID     string
	ClientSecret string
	WebhookID    string
	APIBase      string
}

func (c PayPalConfig) Configured() bool {
	return c.ClientID != "" && c.ClientSecret != "" && c.WebhookID != ""
}

type StripeConfig struct {
	WebhookSecret string
	Tolerance     time.Duration
}

func (c StripeConfig) Configured() bool {
	return c.WebhookSecret != ""
}

type CompletionConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

type RateLimitConfig struct {
	Enabled       bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	UseRate       float64
	UseBurst      int
	WebhookRate   float64
	WebhookBurst  int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	environment := getenv("ENVIRONMENT", "development")
	paypalBase := "https://api-m.sandbox.paypal.com"
	if strings.EqualFold(getenv("PAYPAL_ENV", "sandbox"), "live") {
		paypalBase = "https://api-m.paypal.com"
	}

	return Config{
		AppName:           getenv("APP_SERVICE", "micro-saas"),
		AppVersion:        getenv("APP_VERSION", "0.1.0"),
		Environment:       environment,
		HTTPAddr:          getenv("HTTP_ADDR", ":"+getenv("PORT", "3000")),
		LogLevel:          strings.ToLower(getenv("LOG_LEVEL", "info")),
		AdminToken:        strings.TrimSpace(getenv("ADMIN_TOKEN", "")),
		AdminTokenHash:    strings.TrimSpace(getenv("ADMIN_TOKEN_HASH", "")),
		PricingConfigPath: strings.TrimSpace(getenv("PRICING_CONFIG_PATH", "")),
		OtelEnabled:       getenvBool("OTEL_ENABLED", false),
		OTLPEndpoint:      getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OtelSamplingRate:  getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
		DBType:            strings.ToLower(getenv("DATABASE_TYPE", "sqlite")),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "postgres"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBPath:            getenv("DATABASE_PATH", "data.sqlite"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
		DBQueryTimeout:    getenvDuration("DATABASE_QUERY_TIMEOUT", 5*time.Second),
		Payments: PaymentsConfig{
			RequireVerifier: getenvBool("PAYMENTS_REQUIRE_VERIFIER", false),
			VerifyTimeout:   getenvDuration("PAYMENTS_VERIFY_TIMEOUT", 10*time.Second),
			PayPal: PayPalConfig{
				ClientID:     strings.TrimSpace(getenv("PAYPAL_CLIENT_ID", "")),
				ClientSecret: strings.TrimSpace(getenv("PAYPAL_CLIENT_SECRET", "")),
				WebhookID:    strings.TrimSpace(getenv("PAYPAL_WEBHOOK_ID", "")),
				APIBase:      strings.TrimRight(getenv("PAYPAL_API_BASE", paypalBase), "/"),
			},
			Stripe: StripeConfig{
				WebhookSecret: strings.TrimSpace(getenv("STRIPE_WEBHOOK_SECRET", "")),
				Tolerance:     getenvDuration("STRIPE_WEBHOOK_TOLERANCE", 5*time.Minute),
			},
		},
		Completion: CompletionConfig{
			APIKey:  strings.TrimSpace(getenv("OPENROUTER_API_KEY", "")),
			Model:   getenv("OPENROUTER_MODEL", "openai/gpt-4o-mini"),
			BaseURL: strings.TrimRight(getenv("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"), "/"),
			Timeout: getenvDuration("OPENROUTER_TIMEOUT", 30*time.Second),
		},
		RateLimit: RateLimitConfig{
			Enabled:       getenvBool("RATE_LIMIT_ENABLED", true),
			RedisAddr:     strings.TrimSpace(getenv("RATE_LIMIT_REDIS_ADDR", "")),
			RedisPassword: strings.TrimSpace(getenv("RATE_LIMIT_REDIS_PASSWORD", "")),
			RedisDB:       getenvInt("RATE_LIMIT_REDIS_DB", 0),
			UseRate:       getenvFloat("RATE_LIMIT_USE_RATE", 1),
			UseBurst:      getenvInt("RATE_LIMIT_USE_BURST", 10),
			WebhookRate:   getenvFloat("RATE_LIMIT_WEBHOOK_RATE", 20),
			WebhookBurst:  getenvInt("RATE_LIMIT_WEBHOOK_BURST", 50),
		},
	}
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewPlanConfigHolder),
)

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}
