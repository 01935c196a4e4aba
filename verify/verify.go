// Package verify provides an embeddable verification-code subsystem:
// code issuance with email delivery, attempt-limited redemption, and
// session grants bound to successful redemptions.
//
// Setup:
//
//  1. Run migrations from migrations/ folder using your preferred tool
//  2. Create a Verify instance and mount its routes
//
// Basic usage:
//
//	db, _ := sql.Open("postgres", "postgres://localhost/myapp?sslmode=disable")
//
//	v, err := verify.New(verify.Config{
//	    DB:        db,
//	    JWTSecret: "your-secret-key-at-least-32-chars",
//	    Provider:  notification.NewSMTPProvider(smtpCfg),
//	})
//	if err != nil {
//	    log.Fatal(err) // Will fail if migrations haven't been run
//	}
//
//	r := chi.NewRouter()
//	r.Mount("/verify", v.Router())
//	http.ListenAndServe(":8080", r)
package verify

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/side/eventful/internal/auth"
	"github.com/side/eventful/internal/domain"
	httpserver "github.com/side/eventful/internal/http"
	"github.com/side/eventful/internal/notification"
	"github.com/side/eventful/internal/ratelimit"
	"github.com/side/eventful/internal/repository"
	"github.com/side/eventful/internal/verification"
)

// Re-exported so embedders can switch on outcomes and name purposes
// without importing internal packages.
var (
	ErrRateLimited     = domain.ErrRateLimited
	ErrWrongCode       = domain.ErrWrongCode
	ErrCodeExpired     = domain.ErrCodeExpired
	ErrTooManyAttempts = domain.ErrTooManyAttempts
	ErrCodeNotFound    = domain.ErrCodeNotFound
	ErrGrantNotFound   = domain.ErrGrantNotFound
	ErrGrantExpired    = domain.ErrGrantExpired
	ErrGrantRevoked    = domain.ErrGrantRevoked
)

const (
	PurposeSignup        = domain.PurposeSignup
	PurposePasswordReset = domain.PurposePasswordReset
	PurposeEmailChange   = domain.PurposeEmailChange
)

// Config holds the configuration for the verify library.
type Config struct {
	// DB is the database connection (required).
	DB *sql.DB

	// JWTSecret signs grant assertions (required, min 32 chars).
	JWTSecret string

	// JWTIssuer is the issuer claim in grant assertions (default: "eventful").
	JWTIssuer string

	// Provider delivers codes (required).
	Provider notification.Provider

	// CodeTTL is the lifetime of issued codes (default: 10 minutes).
	CodeTTL time.Duration

	// CodeLength is the number of digits per code (default: 6).
	CodeLength int

	// MaxAttempts is the redemption attempt budget per code (default: 5).
	MaxAttempts int

	// GrantTTL is the lifetime of session grants (default: 30 minutes).
	GrantTTL time.Duration

	// IssueLimitPerHour caps issuances per identity (default: 5).
	IssueLimitPerHour int

	// RedeemLimitPerHour caps redemption attempts per identity (default: 10).
	RedeemLimitPerHour int

	// IPRequestsPerMin caps requests per source IP on the bundled
	// router; 0 disables the IP window.
	IPRequestsPerMin int

	// Logger is the structured logger (default: slog JSON to stdout).
	Logger *slog.Logger
}

// Verify is the main verification instance.
type Verify struct {
	config            Config
	db                *sql.DB
	verificationsRepo *repository.VerificationsRepository
	grantsRepo        *repository.GrantsRepository
	rateEventsRepo    *repository.RateEventsRepository
	service           *verification.Service
	binding           *auth.SessionBinding
}

// New creates a new Verify instance with the given configuration.
// Returns an error if required database tables don't exist.
// Run migrations first - see migrations/ folder for SQL files.
func New(cfg Config) (*Verify, error) {
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)

	if err := validateSchema(cfg.DB); err != nil {
		return nil, err
	}

	verificationsRepo := repository.NewVerificationsRepository(cfg.DB)
	grantsRepo := repository.NewGrantsRepository(cfg.DB)
	rateEventsRepo := repository.NewRateEventsRepository(cfg.DB)

	limiter := ratelimit.NewLimiter(ratelimit.Config{
		IssuePerHour:  cfg.IssueLimitPerHour,
		RedeemPerHour: cfg.RedeemLimitPerHour,
		Logger:        cfg.Logger,
	}, rateEventsRepo)

	dispatcher := notification.NewDispatcher(notification.DispatchConfig{
		Logger: cfg.Logger,
	}, cfg.Provider)

	binding := auth.NewSessionBinding(auth.BindingConfig{
		GrantTTL:  cfg.GrantTTL,
		JWTSecret: []byte(cfg.JWTSecret),
		Issuer:    cfg.JWTIssuer,
	}, grantsRepo)

	generator := verification.NewCodeGenerator(verification.NumericFormat(cfg.CodeLength), nil)

	service := verification.NewService(verification.ServiceConfig{
		CodeTTL:     cfg.CodeTTL,
		MaxAttempts: cfg.MaxAttempts,
		Logger:      cfg.Logger,
	}, verificationsRepo, generator, dispatcher, limiter, binding)

	return &Verify{
		config:            cfg,
		db:                cfg.DB,
		verificationsRepo: verificationsRepo,
		grantsRepo:        grantsRepo,
		rateEventsRepo:    rateEventsRepo,
		service:           service,
		binding:           binding,
	}, nil
}

// Router returns an http.Handler with all verification routes.
// Mount this on your main router:
//
//	r := chi.NewRouter()
//	r.Mount("/verify", v.Router())
//
// Routes:
//
//	POST /v1/verification/request - Issue and deliver a code
//	POST /v1/verification/redeem  - Redeem a code for a session grant
//	POST /v1/grants/validate      - Resolve a grant token
//	POST /v1/grants/revoke        - Revoke a grant
//	GET  /health                  - Health check
func (v *Verify) Router() http.Handler {
	return httpserver.NewRouter(httpserver.RouterConfig{
		Logger:           v.config.Logger,
		CodeService:      v.service,
		GrantService:     v.binding,
		IPRequestsPerMin: v.config.IPRequestsPerMin,
	})
}

// RequestCode issues and delivers a verification code.
func (v *Verify) RequestCode(ctx context.Context, identity string, purpose domain.Purpose) (*verification.IssueResult, error) {
	return v.service.RequestCode(ctx, identity, purpose)
}

// Redeem consumes a code and returns a session grant on success.
func (v *Verify) Redeem(ctx context.Context, identity string, purpose domain.Purpose, code string) (*domain.SessionGrant, error) {
	return v.service.Redeem(ctx, identity, purpose, code)
}

// ValidateGrant resolves a raw grant token to its grant.
func (v *Verify) ValidateGrant(ctx context.Context, rawToken string) (*domain.SessionGrant, error) {
	return v.binding.Validate(ctx, rawToken)
}

// RevokeGrant invalidates a grant before its TTL elapses.
func (v *Verify) RevokeGrant(ctx context.Context, rawToken string) error {
	return v.binding.Revoke(ctx, rawToken)
}

// Sweep expires overdue pending codes and prunes aged rate events and
// grants. Correctness never depends on it; reads enforce expiry
// themselves. Call it periodically for storage reclamation.
func (v *Verify) Sweep(ctx context.Context) error {
	now := time.Now()
	if _, err := v.verificationsRepo.SweepExpired(ctx, now); err != nil {
		return fmt.Errorf("failed to sweep expired codes: %w", err)
	}
	if _, err := v.rateEventsRepo.PruneBefore(ctx, now.Add(-ratelimit.DefaultWindow)); err != nil {
		return fmt.Errorf("failed to prune rate events: %w", err)
	}
	if _, err := v.grantsRepo.DeleteExpiredBefore(ctx, now); err != nil {
		return fmt.Errorf("failed to delete expired grants: %w", err)
	}
	return nil
}

func validateConfig(cfg *Config) error {
	if cfg.DB == nil {
		return errors.New("verify: DB is required")
	}
	if cfg.JWTSecret == "" {
		return errors.New("verify: JWTSecret is required")
	}
	if len(cfg.JWTSecret) < 32 {
		return errors.New("verify: JWTSecret must be at least 32 characters")
	}
	if cfg.Provider == nil {
		return errors.New("verify: Provider is required")
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.JWTIssuer == "" {
		cfg.JWTIssuer = "eventful"
	}
	if cfg.CodeLength == 0 {
		cfg.CodeLength = 6
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}
}

// validateSchema checks that required database tables exist.
func validateSchema(db *sql.DB) error {
	requiredTables := []string{"verification_codes", "session_grants", "rate_events"}

	query := `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = 'public' AND table_name = $1
	`

	for _, table := range requiredTables {
		var name string
		err := db.QueryRow(query, table).Scan(&name)
		if err == sql.ErrNoRows {
			return fmt.Errorf("verify: missing table '%s' - run migrations first (see migrations/ folder)", table)
		}
		if err != nil {
			return fmt.Errorf("verify: failed to check schema: %w", err)
		}
	}

	return nil
}
