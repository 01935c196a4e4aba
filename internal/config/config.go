package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds application configuration.
type Config struct {
	// Server
	ServerAddr string
	ServerPort int

	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Verification codes
	CodeTTL         time.Duration
	CodeLength      int
	MaxAttempts     int
	CodeReuseWindow time.Duration

	// Session grants
	GrantTTL  time.Duration
	JWTSecret string
	JWTIssuer string

	// Rate limiting
	IssueLimitPerHour  int
	RedeemLimitPerHour int
	IPRequestsPerMin   int

	// Delivery
	MailProvider    string // "sendgrid" or "smtp"
	SendGridAPIKey  string
	SMTPHost        string
	SMTPPort        int
	SMTPUser        string
	SMTPPassword    string
	MailFrom        string
	MailFromName    string
	SendMaxAttempts int
	SendBackoffBase time.Duration
	SendBackoffCap  time.Duration
	SendTimeout     time.Duration
	SendRatePerSec  float64

	// Background sweep (storage reclamation only)
	SweepInterval time.Duration
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		// Server defaults
		ServerAddr: getEnv("SERVER_ADDR", "0.0.0.0"),
		ServerPort: getEnvInt("SERVER_PORT", 8080),

		// Database defaults
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnvInt("DB_PORT", 5432),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "postgres"),
		DBName:     getEnv("DB_NAME", "eventful"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		// Verification defaults
		CodeTTL:         getEnvDuration("CODE_TTL", 10*time.Minute),
		CodeLength:      getEnvInt("CODE_LENGTH", 6),
		MaxAttempts:     getEnvInt("CODE_MAX_ATTEMPTS", 5),
		CodeReuseWindow: getEnvDuration("CODE_REUSE_WINDOW", 24*time.Hour),

		// Grant defaults
		GrantTTL:  getEnvDuration("GRANT_TTL", 30*time.Minute),
		JWTSecret: getEnv("JWT_SECRET", ""),
		JWTIssuer: getEnv("JWT_ISSUER", "eventful"),

		// Rate limit defaults
		IssueLimitPerHour:  getEnvInt("ISSUE_LIMIT_PER_HOUR", 5),
		RedeemLimitPerHour: getEnvInt("REDEEM_LIMIT_PER_HOUR", 10),
		IPRequestsPerMin:   getEnvInt("IP_REQUESTS_PER_MINUTE", 30),

		// Delivery defaults
		MailProvider:    getEnv("MAIL_PROVIDER", "smtp"),
		SendGridAPIKey:  getEnv("SENDGRID_API_KEY", ""),
		SMTPHost:        getEnv("SMTP_HOST", ""),
		SMTPPort:        getEnvInt("SMTP_PORT", 587),
		SMTPUser:        getEnv("SMTP_USER", ""),
		SMTPPassword:    getEnv("SMTP_PASSWORD", ""),
		MailFrom:        getEnv("MAIL_FROM", ""),
		MailFromName:    getEnv("MAIL_FROM_NAME", "Eventful"),
		SendMaxAttempts: getEnvInt("SEND_MAX_ATTEMPTS", 3),
		SendBackoffBase: getEnvDuration("SEND_BACKOFF_BASE", 500*time.Millisecond),
		SendBackoffCap:  getEnvDuration("SEND_BACKOFF_CAP", 4*time.Second),
		SendTimeout:     getEnvDuration("SEND_TIMEOUT", 15*time.Second),
		SendRatePerSec:  getEnvFloat("SEND_RATE_PER_SEC", 10),

		// Sweep defaults
		SweepInterval: getEnvDuration("SWEEP_INTERVAL", 5*time.Minute),
	}

	// Validate required fields
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.MailProvider != "sendgrid" && cfg.MailProvider != "smtp" {
		return nil, fmt.Errorf("MAIL_PROVIDER must be sendgrid or smtp, got %q", cfg.MailProvider)
	}
	if cfg.MailProvider == "sendgrid" && cfg.SendGridAPIKey == "" {
		return nil, fmt.Errorf("SENDGRID_API_KEY is required when MAIL_PROVIDER=sendgrid")
	}
	if cfg.CodeLength < 6 {
		return nil, fmt.Errorf("CODE_LENGTH must be at least 6, got %d", cfg.CodeLength)
	}

	return cfg, nil
}

// HasSMTP returns true if an SMTP relay is configured.
func (c *Config) HasSMTP() bool {
	return c.SMTPHost != "" && c.MailFrom != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
