package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/side/eventful/internal/domain"
)

const (
	grantTokenLen = 32

	// DefaultGrantTTL is the default lifetime of a session grant,
	// sized for a login-continuation flow.
	DefaultGrantTTL = 30 * time.Minute
)

// GrantStore persists session grants. Implemented by
// repository.GrantsRepository.
type GrantStore interface {
	Create(ctx context.Context, grant *domain.SessionGrant) error
	GetByTokenHash(ctx context.Context, tokenHash string) (*domain.SessionGrant, error)
	RevokeByTokenHash(ctx context.Context, tokenHash string) error
}

// BindingConfig holds session binding configuration.
type BindingConfig struct {
	GrantTTL  time.Duration
	JWTSecret []byte
	Issuer    string
}

// SessionBinding issues session grants for successfully redeemed
// verifications. It is the sole producer of grants and is only invoked
// after the store reported a successful consume.
type SessionBinding struct {
	config BindingConfig
	grants GrantStore
}

// NewSessionBinding creates a new session binding service.
func NewSessionBinding(config BindingConfig, grants GrantStore) *SessionBinding {
	if config.GrantTTL == 0 {
		config.GrantTTL = DefaultGrantTTL
	}
	return &SessionBinding{config: config, grants: grants}
}

// GrantTTL returns the configured grant lifetime.
func (b *SessionBinding) GrantTTL() time.Duration {
	return b.config.GrantTTL
}

// GrantClaims represents the claims in a grant assertion.
type GrantClaims struct {
	jwt.RegisteredClaims
	Purpose string `json:"purpose"`
}

// Issue creates a new session grant for the given identity and purpose.
// The returned grant carries the raw opaque token (stored only hashed)
// and a signed JWT assertion with the same lifetime.
func (b *SessionBinding) Issue(ctx context.Context, identity string, purpose domain.Purpose) (*domain.SessionGrant, error) {
	rawToken, err := GenerateToken(grantTokenLen)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	grant := &domain.SessionGrant{
		ID:        uuid.New(),
		Identity:  identity,
		Purpose:   purpose,
		TokenHash: HashToken(rawToken),
		GrantedAt: now,
		ExpiresAt: now.Add(b.config.GrantTTL),
	}

	if err := b.grants.Create(ctx, grant); err != nil {
		return nil, fmt.Errorf("failed to store grant: %w", err)
	}

	claims := GrantClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(grant.ExpiresAt),
			Issuer:    b.config.Issuer,
			ID:        grant.ID.String(),
		},
		Purpose: string(purpose),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	assertion, err := token.SignedString(b.config.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign grant assertion: %w", err)
	}

	grant.Token = rawToken
	grant.Assertion = assertion
	return grant, nil
}

// Validate resolves a raw grant token to its grant, rejecting revoked
// and expired grants.
func (b *SessionBinding) Validate(ctx context.Context, rawToken string) (*domain.SessionGrant, error) {
	grant, err := b.grants.GetByTokenHash(ctx, HashToken(rawToken))
	if err != nil {
		return nil, err
	}
	if !grant.IsValid() {
		if grant.RevokedAt != nil {
			return nil, domain.ErrGrantRevoked
		}
		return nil, domain.ErrGrantExpired
	}
	return grant, nil
}

// Revoke invalidates a grant before its TTL elapses. Used by the
// security layer on logout.
func (b *SessionBinding) Revoke(ctx context.Context, rawToken string) error {
	return b.grants.RevokeByTokenHash(ctx, HashToken(rawToken))
}

// ValidateAssertion validates a grant assertion JWT and returns its claims.
func (b *SessionBinding) ValidateAssertion(assertion string) (*GrantClaims, error) {
	token, err := jwt.ParseWithClaims(assertion, &GrantClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, domain.ErrGrantNotFound
		}
		return b.config.JWTSecret, nil
	})
	if err != nil {
		return nil, domain.ErrGrantNotFound
	}

	claims, ok := token.Claims.(*GrantClaims)
	if !ok || !token.Valid {
		return nil, domain.ErrGrantNotFound
	}
	return claims, nil
}
