package domain

import (
	"time"

	"github.com/google/uuid"
)

// Purpose scopes a verification to a single use case. The same identity
// may hold independent records per purpose.
type Purpose string

const (
	PurposeSignup        Purpose = "signup"
	PurposePasswordReset Purpose = "password_reset"
	PurposeEmailChange   Purpose = "email_change"
)

// Known returns true if the purpose is one of the supported values.
func (p Purpose) Known() bool {
	switch p {
	case PurposeSignup, PurposePasswordReset, PurposeEmailChange:
		return true
	}
	return false
}

// RecordState is the lifecycle state of a verification record.
// Consumed, Expired and Invalidated are terminal.
type RecordState string

const (
	StatePending     RecordState = "pending"
	StateConsumed    RecordState = "consumed"
	StateExpired     RecordState = "expired"
	StateInvalidated RecordState = "invalidated"
)

// Terminal returns true if no further transition is allowed from s.
func (s RecordState) Terminal() bool {
	return s != StatePending
}

// CanTransition reports whether the transition s -> to is legal.
// Only Pending has outgoing edges; terminal states have none, so two
// transitions can never both win on the same record.
func (s RecordState) CanTransition(to RecordState) bool {
	if s != StatePending {
		return false
	}
	switch to {
	case StateConsumed, StateExpired, StateInvalidated:
		return true
	}
	return false
}

// VerificationRecord is one issued code for an (identity, purpose) pair.
// The plaintext code is never stored; only a bcrypt hash is kept.
type VerificationRecord struct {
	ID           uuid.UUID
	Identity     string
	Purpose      Purpose
	CodeHash     string
	IssuedAt     time.Time
	ExpiresAt    time.Time
	AttemptCount int
	MaxAttempts  int
	State        RecordState
	Version      int
	ConsumedAt   *time.Time
}

// ExpiredAt reports whether the record's TTL has elapsed at the given
// instant. Expiry is always evaluated lazily against the wall clock;
// the background sweep is only storage reclamation.
func (r *VerificationRecord) ExpiredAt(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// Redeemable reports whether a redemption attempt may still succeed.
func (r *VerificationRecord) Redeemable(now time.Time) bool {
	return r.State == StatePending && !r.ExpiredAt(now) && r.AttemptCount < r.MaxAttempts
}

// ConsumeStatus is the typed result of VerificationStore.TryConsume.
type ConsumeStatus int

const (
	ConsumeSuccess ConsumeStatus = iota
	ConsumeWrongCode
	ConsumeExpired
	ConsumeAttemptsExceeded
	ConsumeNotFound
)

func (s ConsumeStatus) String() string {
	switch s {
	case ConsumeSuccess:
		return "success"
	case ConsumeWrongCode:
		return "wrong_code"
	case ConsumeExpired:
		return "expired"
	case ConsumeAttemptsExceeded:
		return "attempts_exceeded"
	case ConsumeNotFound:
		return "not_found"
	}
	return "unknown"
}
