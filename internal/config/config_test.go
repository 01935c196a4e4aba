package config

import (
	"os"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	envVars := []string{
		"SERVER_ADDR", "SERVER_PORT",
		"DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME", "DB_SSLMODE",
		"CODE_TTL", "CODE_LENGTH", "CODE_MAX_ATTEMPTS", "CODE_REUSE_WINDOW",
		"GRANT_TTL", "JWT_ISSUER",
		"ISSUE_LIMIT_PER_HOUR", "REDEEM_LIMIT_PER_HOUR", "IP_REQUESTS_PER_MINUTE",
		"MAIL_PROVIDER", "SENDGRID_API_KEY", "SMTP_HOST", "SMTP_PORT",
		"SEND_MAX_ATTEMPTS", "SEND_BACKOFF_BASE", "SEND_BACKOFF_CAP",
		"SEND_TIMEOUT", "SEND_RATE_PER_SEC", "SWEEP_INTERVAL",
	}
	for _, v := range envVars {
		os.Unsetenv(v)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	os.Setenv("JWT_SECRET", "test-secret-key")
	defer os.Unsetenv("JWT_SECRET")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.ServerPort != 8080 {
		t.Errorf("ServerPort = %d, want %d", cfg.ServerPort, 8080)
	}
	if cfg.CodeTTL != 10*time.Minute {
		t.Errorf("CodeTTL = %v, want %v", cfg.CodeTTL, 10*time.Minute)
	}
	if cfg.CodeLength != 6 {
		t.Errorf("CodeLength = %d, want %d", cfg.CodeLength, 6)
	}
	if cfg.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want %d", cfg.MaxAttempts, 5)
	}
	if cfg.GrantTTL != 30*time.Minute {
		t.Errorf("GrantTTL = %v, want %v", cfg.GrantTTL, 30*time.Minute)
	}
	if cfg.IssueLimitPerHour != 5 {
		t.Errorf("IssueLimitPerHour = %d, want %d", cfg.IssueLimitPerHour, 5)
	}
	if cfg.RedeemLimitPerHour != 10 {
		t.Errorf("RedeemLimitPerHour = %d, want %d", cfg.RedeemLimitPerHour, 10)
	}
	if cfg.SendMaxAttempts != 3 {
		t.Errorf("SendMaxAttempts = %d, want %d", cfg.SendMaxAttempts, 3)
	}
	if cfg.SendBackoffBase != 500*time.Millisecond {
		t.Errorf("SendBackoffBase = %v, want %v", cfg.SendBackoffBase, 500*time.Millisecond)
	}
	if cfg.SendBackoffCap != 4*time.Second {
		t.Errorf("SendBackoffCap = %v, want %v", cfg.SendBackoffCap, 4*time.Second)
	}
}

func TestLoad_RequiredJWTSecret(t *testing.T) {
	clearEnv(t)
	os.Unsetenv("JWT_SECRET")

	_, err := Load()
	if err == nil {
		t.Error("Load should fail when JWT_SECRET is not set")
	}
}

func TestLoad_SendGridRequiresAPIKey(t *testing.T) {
	clearEnv(t)
	os.Setenv("JWT_SECRET", "test-secret-key")
	os.Setenv("MAIL_PROVIDER", "sendgrid")
	defer func() {
		os.Unsetenv("JWT_SECRET")
		os.Unsetenv("MAIL_PROVIDER")
	}()

	_, err := Load()
	if err == nil {
		t.Error("Load should fail when MAIL_PROVIDER=sendgrid without SENDGRID_API_KEY")
	}
}

func TestLoad_RejectsShortCodes(t *testing.T) {
	clearEnv(t)
	os.Setenv("JWT_SECRET", "test-secret-key")
	os.Setenv("CODE_LENGTH", "4")
	defer func() {
		os.Unsetenv("JWT_SECRET")
		os.Unsetenv("CODE_LENGTH")
	}()

	_, err := Load()
	if err == nil {
		t.Error("Load should reject CODE_LENGTH below 6")
	}
}

func TestLoad_CustomValues(t *testing.T) {
	clearEnv(t)
	os.Setenv("JWT_SECRET", "custom-secret")
	os.Setenv("CODE_TTL", "5m")
	os.Setenv("ISSUE_LIMIT_PER_HOUR", "3")
	defer func() {
		os.Unsetenv("JWT_SECRET")
		os.Unsetenv("CODE_TTL")
		os.Unsetenv("ISSUE_LIMIT_PER_HOUR")
	}()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.CodeTTL != 5*time.Minute {
		t.Errorf("CodeTTL = %v, want %v", cfg.CodeTTL, 5*time.Minute)
	}
	if cfg.IssueLimitPerHour != 3 {
		t.Errorf("IssueLimitPerHour = %d, want %d", cfg.IssueLimitPerHour, 3)
	}
}
