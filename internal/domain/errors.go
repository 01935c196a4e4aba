package domain

import "errors"

// Verification errors
var (
	ErrRateLimited     = errors.New("rate limit exceeded")
	ErrWrongCode       = errors.New("verification code does not match")
	ErrCodeExpired     = errors.New("verification code expired")
	ErrTooManyAttempts = errors.New("verification attempt limit exceeded")
	ErrCodeNotFound    = errors.New("no pending verification code")
	ErrCodeReused      = errors.New("verification code recently issued for identity")
	ErrConflict        = errors.New("storage conflict")
	ErrUnknownPurpose  = errors.New("unknown verification purpose")
	ErrInvalidIdentity = errors.New("identity is required")
)

// Grant errors
var (
	ErrGrantNotFound = errors.New("grant not found")
	ErrGrantExpired  = errors.New("grant expired")
	ErrGrantRevoked  = errors.New("grant revoked")
)
