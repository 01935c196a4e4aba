package domain

import (
	"time"

	"github.com/google/uuid"
)

// SessionGrant is the short-lived artifact produced when a verification
// code is redeemed successfully. The excluded security layer exchanges
// it for a transport-level session cookie.
type SessionGrant struct {
	ID        uuid.UUID
	Identity  string
	Purpose   Purpose
	TokenHash string
	GrantedAt time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time

	// Token is the raw opaque token. It is only populated on the grant
	// returned from Issue and is never persisted.
	Token string

	// Assertion is a signed JWT carrying identity and purpose claims,
	// usable for stateless checks alongside the opaque token.
	Assertion string
}

// TTL returns the remaining lifetime relative to GrantedAt.
func (g *SessionGrant) TTL() time.Duration {
	return g.ExpiresAt.Sub(g.GrantedAt)
}

// IsValid reports whether the grant is neither revoked nor expired.
func (g *SessionGrant) IsValid() bool {
	return g.RevokedAt == nil && time.Now().Before(g.ExpiresAt)
}
