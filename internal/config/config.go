package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store backends selectable through STORE_BACKEND.
const (
	BackendDynamo   = "dynamo"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Config holds all runtime configuration loaded from environment variables.
type Config struct {
	AppPort        string
	AppEnv         string
	LogLevel       string
	AllowedOrigins []string // CORS allowed origins

	StoreBackend   string
	AWSRegion      string
	AWSEndpointURL string // empty in prod, set to LocalStack URL in dev
	AWSAccessKeyID string
	AWSSecretKey   string
	DynamoTables   DynamoTables
	DatabaseURL    string

	JWTSecret  string
	JWTIssuer  string
	SessionTTL time.Duration

	OTP OTPConfig

	PasswordHashAlgo string
	BcryptCost       int

	SMTPHost     string
	SMTPPort     string
	SMTPFrom     string
	SMTPUsername string
	SMTPPassword string

	MailerSendAPIKey    string
	MailerSendFromName  string
	MailerSendFromEmail string

	SNSRegion string

	NotifyDevMode   bool
	NotifyWorkers   int
	NotifyQueueSize int

	NATSURL string
}

// DynamoTables holds the DynamoDB table name for each entity.
type DynamoTables struct {
	Accounts       string
	AccountHandles string
	Challenges     string
}

// OTPConfig controls passcode shape and per-purpose lifetimes.
type OTPConfig struct {
	Length          int
	MaxAttempts     int
	VerificationTTL time.Duration
	LoginTTL        time.Duration
	ResetTTL        time.Duration
}

// Load reads all configuration from environment variables.
func Load() *Config {
	return &Config{
		AppPort:        getEnv("APP_PORT", "3000"),
		AppEnv:         getEnv("APP_ENV", "development"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		AllowedOrigins: strings.Split(getEnv("ALLOWED_ORIGINS", "*"), ","),

		StoreBackend:   strings.ToLower(getEnv("STORE_BACKEND", BackendDynamo)),
		AWSRegion:      getEnv("AWS_REGION", "us-east-1"),
		AWSEndpointURL: getEnv("AWS_ENDPOINT_URL", ""),
		AWSAccessKeyID: getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretKey:   getEnv("AWS_SECRET_ACCESS_KEY", ""),
		DynamoTables: DynamoTables{
			Accounts:       getEnv("DYNAMO_TABLE_ACCOUNTS", "accounts"),
			AccountHandles: getEnv("DYNAMO_TABLE_ACCOUNT_HANDLES", "account_handles"),
			Challenges:     getEnv("DYNAMO_TABLE_OTP_CHALLENGES", "otp_challenges"),
		},
		DatabaseURL: getEnv("DATABASE_URL", ""),

		JWTSecret:  os.Getenv("JWT_SECRET"),
		JWTIssuer:  getEnv("JWT_ISSUER", "investmarket-auth"),
		SessionTTL: getEnvDuration("SESSION_TTL", 7*24*time.Hour),

		OTP: OTPConfig{
			Length:          getEnvInt("OTP_LENGTH", 6),
			MaxAttempts:     getEnvInt("OTP_MAX_ATTEMPTS", 3),
			VerificationTTL: getEnvDuration("OTP_VERIFICATION_TTL", 10*time.Minute),
			LoginTTL:        getEnvDuration("OTP_LOGIN_TTL", 5*time.Minute),
			ResetTTL:        getEnvDuration("OTP_RESET_TTL", 10*time.Minute),
		},

		PasswordHashAlgo: strings.ToLower(getEnv("PASSWORD_HASH_ALGO", "bcrypt")),
		BcryptCost:       getEnvInt("BCRYPT_COST", 12),

		SMTPHost:     getEnv("SMTP_HOST", "localhost"),
		SMTPPort:     getEnv("SMTP_PORT", "1025"),
		SMTPFrom:     getEnv("SMTP_FROM", "noreply@example.com"),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),

		MailerSendAPIKey:    getEnv("MAILERSEND_API_KEY", ""),
		MailerSendFromName:  getEnv("MAILERSEND_FROM_NAME", "InvestMarket"),
		MailerSendFromEmail: getEnv("MAILERSEND_FROM_EMAIL", "noreply@example.com"),

		SNSRegion: getEnv("SNS_REGION", "us-east-1"),

		NotifyDevMode:   getEnvBool("NOTIFY_DEV_MODE", false),
		NotifyWorkers:   getEnvInt("NOTIFY_WORKERS", 2),
		NotifyQueueSize: getEnvInt("NOTIFY_QUEUE_SIZE", 256),

		NATSURL: getEnv("NATS_URL", ""),
	}
}

// Validate reports settings the process cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	} else if len(c.JWTSecret) < 32 {
		errs = append(errs, errors.New("JWT_SECRET must be at least 32 bytes"))
	}
	if c.SessionTTL <= 0 {
		errs = append(errs, errors.New("SESSION_TTL must be positive"))
	}
	if c.OTP.Length < 4 || c.OTP.Length > 8 {
		errs = append(errs, fmt.Errorf("OTP_LENGTH must be between 4 and 8, got %d", c.OTP.Length))
	}
	if c.OTP.MaxAttempts < 1 {
		errs = append(errs, errors.New("OTP_MAX_ATTEMPTS must be at least 1"))
	}
	if c.OTP.VerificationTTL <= 0 || c.OTP.LoginTTL <= 0 || c.OTP.ResetTTL <= 0 {
		errs = append(errs, errors.New("OTP TTLs must be positive"))
	}
	switch c.StoreBackend {
	case BackendDynamo, BackendMemory:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend))
	}
	switch c.PasswordHashAlgo {
	case "bcrypt", "argon2id":
	default:
		errs = append(errs, fmt.Errorf("unknown PASSWORD_HASH_ALGO %q", c.PasswordHashAlgo))
	}
	if c.NotifyWorkers < 1 || c.NotifyQueueSize < 1 {
		errs = append(errs, errors.New("NOTIFY_WORKERS and NOTIFY_QUEUE_SIZE must be positive"))
	}
	return errors.Join(errs...)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
