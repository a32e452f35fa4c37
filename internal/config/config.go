package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	ListenAddr  string
	AdminToken  string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int

	RedisAddr     string
	RedisPassword string

	Pricing    PricingConfig
	Gateway    GatewayConfig
	ProxyPool  ProxyPoolConfig
	Payment    PaymentConfig
	Settlement SettlementConfig
}

// PricingConfig covers the flexible-amount pricing policy. Both knobs are
// product policy, not mechanism, and stay configurable.
type PricingConfig struct {
	FlatRatePerCredit  int64
	MaxFlexibleCredits int64
	Currency           string
}

type GatewayConfig struct {
	UpstreamTimeout time.Duration
	RateLimitPerMin int
	CostPerRequest  int64
	GeminiBaseURL   string
	OpenAIBaseURL   string
}

type ProxyPoolConfig struct {
	LookupCacheTTL      time.Duration
	HealthCheckInterval time.Duration
	HealthCheckTimeout  time.Duration
	HealthCheckURL      string
	FailureThreshold    int64
}

type PaymentConfig struct {
	ExpiryWindow time.Duration
	BankName     string
	BankAccount  string
	BankHolder   string
	ReturnURL    string
	CancelURL    string
}

type SettlementConfig struct {
	BaseURL     string
	ClientID    string
	APIKey      string
	ChecksumKey string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("APP_SERVICE", "creditrelay"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		ListenAddr:  getenv("LISTEN_ADDR", ":8080"),
		AdminToken:  strings.TrimSpace(getenv("ADMIN_TOKEN", "")),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "creditrelay"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),

		RedisAddr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword: getenv("REDIS_PASSWORD", ""),

		Pricing: PricingConfig{
			FlatRatePerCredit:  getenvInt64("PRICING_FLAT_RATE", 4545),
			MaxFlexibleCredits: getenvInt64("PRICING_MAX_FLEXIBLE_CREDITS", 10000),
			Currency:           getenv("PRICING_CURRENCY", "VND"),
		},
		Gateway: GatewayConfig{
			UpstreamTimeout: getenvDuration("GATEWAY_UPSTREAM_TIMEOUT", 30*time.Second),
			RateLimitPerMin: getenvInt("GATEWAY_RATE_LIMIT_PER_MIN", 0),
			CostPerRequest:  getenvInt64("GATEWAY_COST_PER_REQUEST", 1),
			GeminiBaseURL:   getenv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com"),
			OpenAIBaseURL:   getenv("OPENAI_BASE_URL", ""),
		},
		ProxyPool: ProxyPoolConfig{
			LookupCacheTTL:      getenvDuration("PROXY_LOOKUP_CACHE_TTL", 30*time.Minute),
			HealthCheckInterval: getenvDuration("PROXY_HEALTH_CHECK_INTERVAL", 5*time.Minute),
			HealthCheckTimeout:  getenvDuration("PROXY_HEALTH_CHECK_TIMEOUT", 10*time.Second),
			HealthCheckURL:      getenv("PROXY_HEALTH_CHECK_URL", "https://www.gstatic.com/generate_204"),
			FailureThreshold:    getenvInt64("PROXY_FAILURE_THRESHOLD", 10),
		},
		Payment: PaymentConfig{
			ExpiryWindow: getenvDuration("PAYMENT_EXPIRY_WINDOW", 30*time.Minute),
			BankName:     getenv("PAYMENT_BANK_NAME", ""),
			BankAccount:  getenv("PAYMENT_BANK_ACCOUNT", ""),
			BankHolder:   getenv("PAYMENT_BANK_HOLDER", ""),
			ReturnURL:    getenv("PAYMENT_RETURN_URL", ""),
			CancelURL:    getenv("PAYMENT_CANCEL_URL", ""),
		},
		Settlement: SettlementConfig{
			BaseURL:     getenv("PAYOS_BASE_URL", "https://api-merchant.payos.vn"),
			ClientID:    strings.TrimSpace(getenv("PAYOS_CLIENT_ID", "")),
			APIKey:      strings.TrimSpace(getenv("PAYOS_API_KEY", "")),
			ChecksumKey: strings.TrimSpace(getenv("PAYOS_CHECKSUM_KEY", "")),
		},
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	return int(getenvInt64(key, int64(def)))
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
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
	if err != nil {
		return def
	}
	return parsed
}
