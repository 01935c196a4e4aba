package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/side/eventful/internal/domain"
)

// Provider sends one verification mail through an external
// transactional-email service and returns the provider's message id.
type Provider interface {
	Send(ctx context.Context, to string, purpose domain.Purpose, code string) (string, error)
}

// SendError classifies a provider failure for the dispatcher's retry
// policy.
type SendError struct {
	// StatusCode is the provider status when one exists (HTTP or SMTP).
	StatusCode int
	// Permanent failures (bad address, rejected content) are never
	// retried.
	Permanent bool
	// RetryAfter is a provider-supplied backoff hint, zero if absent.
	RetryAfter time.Duration
	Message    string
	Err        error
}

func (e *SendError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provider send failed: %v", e.Err)
	}
	return fmt.Sprintf("provider send failed with status %d: %s", e.StatusCode, e.Message)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// mailContent renders the subject and plain-text body for a code mail.
// The body carries only the code itself, never a link.
func mailContent(purpose domain.Purpose, code string, ttl time.Duration) (string, string) {
	var subject string
	switch purpose {
	case domain.PurposeSignup:
		subject = "Your Eventful sign-up verification code"
	case domain.PurposePasswordReset:
		subject = "Your Eventful password reset code"
	case domain.PurposeEmailChange:
		subject = "Your Eventful email change verification code"
	default:
		subject = "Your Eventful verification code"
	}

	body := fmt.Sprintf("Your verification code is: %s\n", code)
	if ttl > 0 {
		body += fmt.Sprintf("\nThe code expires in %d minutes.\n", int(ttl.Minutes()))
	}
	body += "\nIf you did not request this code, you can ignore this email.\n"
	return subject, body
}
