// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/javajoker/farmtrace-backend/internal/errs"
)

type Config struct {
	Environment string
	Server      ServerConfig
	Database    DatabaseConfig
	JWT         JWTConfig
	AWS         AWSConfig
	Ledger      LedgerConfig
	MPesa       MPesaConfig
	Payment     PaymentConfig
	Settlement  SettlementConfig
	Carbon      CarbonConfig
	I18n        I18nConfig
}

type ServerConfig struct {
	Port           string
	Host           string
	ReadTimeout    int
	WriteTimeout   int
	IdleTimeout    int
	AllowedOrigins []string
	RateLimit      float64
	RateBurst      int
}

type DatabaseConfig struct {
	Host         string
	Port         string
	User         string
	Password     string
	Database     string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  int
	LogLevel     string
	AutoMigrate  bool
}

type JWTConfig struct {
	SecretKey      string
	AccessTokenTTL int // in hours
	Issuer         string
}

// AWSConfig locates the verification proof archive. An empty access key
// keeps proofs in process memory.
type AWSConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string
	ProofBucket     string
	ProofPrefix     string
	PresignTTL      int // in minutes
}

type LedgerConfig struct {
	Backend        string // memory | hedera
	Network        string // testnet | previewnet | mainnet
	OperatorID     string
	OperatorKey    string
	TopicID        string
	MirrorURL      string
	RetryAttempts  int
	RetryBackoffMs int
}

type MPesaConfig struct {
	Backend            string // simulated | mpesa
	BaseURL            string
	ConsumerKey        string
	ConsumerSecret     string
	ShortCode          string
	Passkey            string
	InitiatorName      string
	SecurityCredential string
	CallbackURL        string
	ResultURL          string
	TimeoutURL         string
	TimeoutSeconds     int
	RequestsPerSecond  float64
	Burst              int
	TokenSkewSeconds   int
	RetryAttempts      int
	RetryBackoffMs     int
}

type PaymentConfig struct {
	StripeSecretKey string
	Currency        string
}

type SettlementConfig struct {
	Concurrency int
	BatchLimit  int
	// StaleAfter is how long, in minutes, a settlement may sit in processing
	// before payout before it is released. FinalizeTimeout bounds how long a
	// finalizing claim shuts other callers out.
	StaleAfter      int
	FinalizeTimeout int
}

type CarbonConfig struct {
	BaseRate  float64
	UnitPrice float64
}

type I18nConfig struct {
	DefaultLocale string
	LocalesPath   string
}

func Load() (*Config, error) {
	// Load .env file if it exists
	godotenv.Load()

	config := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Port:           getEnv("SERVER_PORT", "8080"),
			Host:           getEnv("SERVER_HOST", "localhost"),
			ReadTimeout:    getEnvAsInt("SERVER_READ_TIMEOUT", 15),
			WriteTimeout:   getEnvAsInt("SERVER_WRITE_TIMEOUT", 45),
			IdleTimeout:    getEnvAsInt("SERVER_IDLE_TIMEOUT", 60),
			AllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
			RateLimit:      getEnvAsFloat("RATE_LIMIT_RPS", 10),
			RateBurst:      getEnvAsInt("RATE_LIMIT_BURST", 20),
		},
		Database: DatabaseConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnv("DB_PORT", "5432"),
			User:         getEnv("DB_USER", "postgres"),
			Password:     getEnv("DB_PASSWORD", ""),
			Database:     getEnv("DB_NAME", "farmtrace"),
			SSLMode:      getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 25),
			MaxLifetime:  getEnvAsInt("DB_MAX_LIFETIME", 300),
			LogLevel:     getEnv("DB_LOG_LEVEL", "warn"),
			AutoMigrate:  getEnvAsBool("DB_AUTO_MIGRATE", true),
		},
		JWT: JWTConfig{
			SecretKey:      getEnv("JWT_SECRET", "your-secret-key-change-in-production"),
			AccessTokenTTL: getEnvAsInt("JWT_ACCESS_TTL", 24),
			Issuer:         getEnv("JWT_ISSUER", "farmtrace"),
		},
		AWS: AWSConfig{
			Region:          getEnv("AWS_REGION", "af-south-1"),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
			Endpoint:        getEnv("AWS_S3_ENDPOINT", ""),
			ProofBucket:     getEnv("AWS_PROOF_BUCKET", "farmtrace-proofs"),
			ProofPrefix:     getEnv("AWS_PROOF_PREFIX", "verifications"),
			PresignTTL:      getEnvAsInt("AWS_PRESIGN_TTL_MINUTES", 15),
		},
		Ledger: LedgerConfig{
			Backend:        getEnv("LEDGER_BACKEND", "memory"),
			Network:        getEnv("HEDERA_NETWORK", "testnet"),
			OperatorID:     getEnv("HEDERA_OPERATOR_ID", ""),
			OperatorKey:    getEnv("HEDERA_OPERATOR_KEY", ""),
			TopicID:        getEnv("HEDERA_TOPIC_ID", "0.0.5005"),
			MirrorURL:      getEnv("HEDERA_MIRROR_URL", "https://testnet.mirrornode.hedera.com"),
			RetryAttempts:  getEnvAsInt("LEDGER_RETRY_ATTEMPTS", 2),
			RetryBackoffMs: getEnvAsInt("LEDGER_RETRY_BACKOFF_MS", 500),
		},
		MPesa: MPesaConfig{
			Backend:            getEnv("PAYMENT_BACKEND", "simulated"),
			BaseURL:            getEnv("MPESA_BASE_URL", "https://sandbox.safaricom.co.ke"),
			ConsumerKey:        getEnv("MPESA_CONSUMER_KEY", ""),
			ConsumerSecret:     getEnv("MPESA_CONSUMER_SECRET", ""),
			ShortCode:          getEnv("MPESA_SHORTCODE", "174379"),
			Passkey:            getEnv("MPESA_PASSKEY", ""),
			InitiatorName:      getEnv("MPESA_INITIATOR_NAME", "testapi"),
			SecurityCredential: getEnv("MPESA_SECURITY_CREDENTIAL", ""),
			CallbackURL:        getEnv("MPESA_CALLBACK_URL", "http://localhost:8080/v1/payments/mpesa/callback"),
			ResultURL:          getEnv("MPESA_RESULT_URL", "http://localhost:8080/v1/payments/mpesa/result"),
			TimeoutURL:         getEnv("MPESA_TIMEOUT_URL", "http://localhost:8080/v1/payments/mpesa/timeout"),
			TimeoutSeconds:     getEnvAsInt("MPESA_TIMEOUT_SECONDS", 30),
			RequestsPerSecond:  getEnvAsFloat("MPESA_REQUESTS_PER_SECOND", 5),
			Burst:              getEnvAsInt("MPESA_BURST", 5),
			TokenSkewSeconds:   getEnvAsInt("MPESA_TOKEN_SKEW_SECONDS", 60),
			RetryAttempts:      getEnvAsInt("MPESA_RETRY_ATTEMPTS", 2),
			RetryBackoffMs:     getEnvAsInt("MPESA_RETRY_BACKOFF_MS", 500),
		},
		Payment: PaymentConfig{
			StripeSecretKey: getEnv("STRIPE_SECRET_KEY", ""),
			Currency:        getEnv("PAYMENT_CURRENCY", "kes"),
		},
		Settlement: SettlementConfig{
			Concurrency:     getEnvAsInt("SETTLEMENT_CONCURRENCY", 5),
			BatchLimit:      getEnvAsInt("SETTLEMENT_BATCH_LIMIT", 100),
			StaleAfter:      getEnvAsInt("SETTLEMENT_STALE_AFTER_MINUTES", 15),
			FinalizeTimeout: getEnvAsInt("SETTLEMENT_FINALIZE_TIMEOUT_MINUTES", 10),
		},
		Carbon: CarbonConfig{
			BaseRate:  getEnvAsFloat("CARBON_BASE_RATE", 1.0),
			UnitPrice: getEnvAsFloat("CARBON_UNIT_PRICE", 10.0),
		},
		I18n: I18nConfig{
			DefaultLocale: getEnv("DEFAULT_LOCALE", "en"),
			LocalesPath:   getEnv("LOCALES_PATH", "./internal/i18n/locales"),
		},
	}

	return config, config.Validate()
}

func (c *Config) Validate() error {
	if c.Ledger.Backend != "memory" && c.Ledger.Backend != "hedera" {
		return fmt.Errorf("unknown ledger backend %q", c.Ledger.Backend)
	}
	if c.MPesa.Backend != "simulated" && c.MPesa.Backend != "mpesa" {
		return fmt.Errorf("unknown payment backend %q", c.MPesa.Backend)
	}
	if c.Settlement.Concurrency < 1 {
		return fmt.Errorf("settlement concurrency must be at least 1")
	}

	if c.Environment != "production" {
		return nil
	}

	if c.JWT.SecretKey == "your-secret-key-change-in-production" {
		return fmt.Errorf("JWT secret key must be changed in production")
	}

	if c.Database.Password == "" {
		return fmt.Errorf("database password is required in production")
	}

	if c.Ledger.Backend == "hedera" && (c.Ledger.OperatorID == "" || c.Ledger.OperatorKey == "") {
		return fmt.Errorf("hedera operator id and key are required")
	}

	if c.MPesa.Backend == "mpesa" && (c.MPesa.ConsumerKey == "" || c.MPesa.ConsumerSecret == "" || c.MPesa.Passkey == "") {
		return fmt.Errorf("daraja consumer key, secret and passkey are required")
	}

	return nil
}

func (l LedgerConfig) RetryConfig() errs.RetryConfig {
	return errs.RetryConfig{MaxAttempts: l.RetryAttempts, BaseDelay: time.Duration(l.RetryBackoffMs) * time.Millisecond}
}

func (m MPesaConfig) RetryConfig() errs.RetryConfig {
	return errs.RetryConfig{MaxAttempts: m.RetryAttempts, BaseDelay: time.Duration(m.RetryBackoffMs) * time.Millisecond}
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(strings.ToLower(value)); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
