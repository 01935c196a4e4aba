package verification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/side/eventful/internal/domain"
	"github.com/side/eventful/internal/ratelimit"
)

// Service defaults.
const (
	DefaultCodeTTL     = 10 * time.Minute
	DefaultMaxAttempts = 5
	DefaultReuseWindow = 24 * time.Hour

	// maxGenerateAttempts bounds the duplicate-avoidance loop when a
	// fresh code collides with one recently issued to the identity.
	maxGenerateAttempts = 5
)

// Store is the durable verification record store. Implemented by
// repository.VerificationsRepository.
type Store interface {
	Put(ctx context.Context, rec *domain.VerificationRecord) error
	LookupPending(ctx context.Context, identity string, purpose domain.Purpose) (*domain.VerificationRecord, error)
	TryConsume(ctx context.Context, identity string, purpose domain.Purpose, suppliedCode string) (domain.ConsumeStatus, *domain.VerificationRecord, error)
	RecentCodeHashes(ctx context.Context, identity string, since time.Time) ([]string, error)
}

// Dispatcher delivers a code to an identity. Implemented by
// notification.Dispatcher.
type Dispatcher interface {
	Send(ctx context.Context, identity string, purpose domain.Purpose, code string, auditRef string) (string, error)
}

// Limiter bounds issuance and redemption per identity. Implemented by
// ratelimit.Limiter.
type Limiter interface {
	Allow(ctx context.Context, identity string, action ratelimit.Action) (bool, error)
}

// GrantIssuer produces session grants on successful redemption.
// Implemented by auth.SessionBinding.
type GrantIssuer interface {
	Issue(ctx context.Context, identity string, purpose domain.Purpose) (*domain.SessionGrant, error)
}

// CodeSource produces one-time codes. Implemented by CodeGenerator.
type CodeSource interface {
	Generate(purpose domain.Purpose) (string, error)
}

// ServiceConfig holds verification service configuration.
type ServiceConfig struct {
	CodeTTL     time.Duration
	MaxAttempts int
	ReuseWindow time.Duration
	// HashCost is the bcrypt cost for stored code hashes.
	HashCost int
	Logger   *slog.Logger
}

// Service orchestrates code issuance and redemption: rate limit, then
// generate, store, dispatch; rate limit, then consume, then grant.
type Service struct {
	config     ServiceConfig
	store      Store
	generator  CodeSource
	dispatcher Dispatcher
	limiter    Limiter
	grants     GrantIssuer
}

// NewService creates a verification service.
func NewService(
	config ServiceConfig,
	store Store,
	generator CodeSource,
	dispatcher Dispatcher,
	limiter Limiter,
	grants GrantIssuer,
) *Service {
	if config.CodeTTL == 0 {
		config.CodeTTL = DefaultCodeTTL
	}
	if config.MaxAttempts == 0 {
		config.MaxAttempts = DefaultMaxAttempts
	}
	if config.ReuseWindow == 0 {
		config.ReuseWindow = DefaultReuseWindow
	}
	if config.HashCost == 0 {
		config.HashCost = bcrypt.DefaultCost
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Service{
		config:     config,
		store:      store,
		generator:  generator,
		dispatcher: dispatcher,
		limiter:    limiter,
		grants:     grants,
	}
}

// IssueResult reports the outcome of RequestCode. Delivered=false means
// the record was stored but dispatch failed after retries; the code is
// still redeemable and the caller should offer a resend.
type IssueResult struct {
	RecordID  uuid.UUID
	Delivered bool
	MessageID string
	ExpiresAt time.Time
}

// RequestCode issues a new verification code for (identity, purpose):
// limiter check, code generation, durable store (superseding any prior
// Pending record), then delivery. A rate-limited request touches
// neither the store nor the dispatcher.
func (s *Service) RequestCode(ctx context.Context, identity string, purpose domain.Purpose) (*IssueResult, error) {
	identity, err := normalizeIdentity(identity)
	if err != nil {
		return nil, err
	}
	if !purpose.Known() {
		return nil, domain.ErrUnknownPurpose
	}

	allowed, err := s.limiter.Allow(ctx, identity, ratelimit.ActionIssue)
	if err != nil {
		return nil, fmt.Errorf("rate limiter check failed: %w", err)
	}
	if !allowed {
		return nil, domain.ErrRateLimited
	}

	code, err := s.freshCode(ctx, identity, purpose)
	if err != nil {
		return nil, err
	}

	codeHash, err := bcrypt.GenerateFromPassword([]byte(code), s.config.HashCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash code: %w", err)
	}

	now := time.Now()
	rec := &domain.VerificationRecord{
		ID:          uuid.New(),
		Identity:    identity,
		Purpose:     purpose,
		CodeHash:    string(codeHash),
		IssuedAt:    now,
		ExpiresAt:   now.Add(s.config.CodeTTL),
		MaxAttempts: s.config.MaxAttempts,
		State:       domain.StatePending,
		Version:     1,
	}

	// Storage contention is retried once before surfacing.
	if err := s.store.Put(ctx, rec); err != nil {
		if !errors.Is(err, domain.ErrConflict) {
			return nil, fmt.Errorf("failed to store verification record: %w", err)
		}
		if err := s.store.Put(ctx, rec); err != nil {
			return nil, fmt.Errorf("failed to store verification record: %w", err)
		}
	}

	s.config.Logger.Info("verification code issued",
		"record_id", rec.ID,
		"purpose", purpose,
		"expires_at", rec.ExpiresAt,
	)

	result := &IssueResult{RecordID: rec.ID, ExpiresAt: rec.ExpiresAt}

	// Dispatch failure does not roll back the store write; the record
	// stays redeemable and the caller learns delivery did not happen.
	msgID, err := s.dispatcher.Send(ctx, identity, purpose, code, rec.ID.String())
	if err != nil {
		s.config.Logger.Warn("verification code stored but not delivered",
			"record_id", rec.ID,
			"error", err,
		)
		return result, nil
	}

	result.Delivered = true
	result.MessageID = msgID
	return result, nil
}

// Redeem attempts to consume the pending code for (identity, purpose).
// On success it returns the session grant; the record's transition to
// Consumed and the grant issuance form one logical operation ordered
// after the store's linearization point.
func (s *Service) Redeem(ctx context.Context, identity string, purpose domain.Purpose, suppliedCode string) (*domain.SessionGrant, error) {
	identity, err := normalizeIdentity(identity)
	if err != nil {
		return nil, err
	}
	if !purpose.Known() {
		return nil, domain.ErrUnknownPurpose
	}

	allowed, err := s.limiter.Allow(ctx, identity, ratelimit.ActionRedeem)
	if err != nil {
		return nil, fmt.Errorf("rate limiter check failed: %w", err)
	}
	if !allowed {
		return nil, domain.ErrRateLimited
	}

	status, rec, err := s.store.TryConsume(ctx, identity, purpose, suppliedCode)
	if err != nil {
		return nil, fmt.Errorf("failed to consume verification code: %w", err)
	}

	switch status {
	case domain.ConsumeSuccess:
		grant, err := s.grants.Issue(ctx, identity, purpose)
		if err != nil {
			return nil, fmt.Errorf("failed to issue grant: %w", err)
		}
		s.config.Logger.Info("verification redeemed",
			"record_id", rec.ID,
			"purpose", purpose,
			"grant_id", grant.ID,
		)
		return grant, nil
	case domain.ConsumeWrongCode:
		s.config.Logger.Info("verification attempt rejected",
			"record_id", rec.ID,
			"purpose", purpose,
			"attempts", rec.AttemptCount,
		)
		return nil, domain.ErrWrongCode
	case domain.ConsumeExpired:
		return nil, domain.ErrCodeExpired
	case domain.ConsumeAttemptsExceeded:
		return nil, domain.ErrTooManyAttempts
	case domain.ConsumeNotFound:
		return nil, domain.ErrCodeNotFound
	}
	return nil, fmt.Errorf("unexpected consume status %v", status)
}

// freshCode generates a code that does not repeat any code issued to
// the identity inside the reuse window, guarding against replay of a
// superseded or invalidated code.
func (s *Service) freshCode(ctx context.Context, identity string, purpose domain.Purpose) (string, error) {
	since := time.Now().Add(-s.config.ReuseWindow)
	recent, err := s.store.RecentCodeHashes(ctx, identity, since)
	if err != nil {
		return "", fmt.Errorf("failed to load recent code hashes: %w", err)
	}

	for i := 0; i < maxGenerateAttempts; i++ {
		code, err := s.generator.Generate(purpose)
		if err != nil {
			return "", err
		}
		if !codeReused(code, recent) {
			return code, nil
		}
	}
	return "", domain.ErrCodeReused
}

func codeReused(code string, recentHashes []string) bool {
	for _, h := range recentHashes {
		if bcrypt.CompareHashAndPassword([]byte(h), []byte(code)) == nil {
			return true
		}
	}
	return false
}

func normalizeIdentity(identity string) (string, error) {
	identity = strings.ToLower(strings.TrimSpace(identity))
	if identity == "" {
		return "", domain.ErrInvalidIdentity
	}
	return identity, nil
}
