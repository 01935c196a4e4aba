package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/side/eventful/internal/domain"
)

// Dispatch policy defaults.
const (
	DefaultMaxAttempts = 3
	DefaultBackoffBase = 500 * time.Millisecond
	DefaultBackoffCap  = 4 * time.Second
	DefaultTimeout     = 15 * time.Second
	DefaultRatePerSec  = 10
)

// DispatchConfig holds delivery retry configuration. Dispatch retry and
// redemption attempt counting are independent policies.
type DispatchConfig struct {
	MaxAttempts int
	BackoffBase time.Duration
	BackoffCap  time.Duration
	// Timeout bounds one whole Send call including backoff waits, so a
	// slow provider cannot pin a request worker.
	Timeout time.Duration
	// RatePerSec caps outbound sends toward the provider.
	RatePerSec float64
	Logger     *slog.Logger
}

// Dispatcher sends codes through a Provider with bounded retry and
// exponential backoff on transient failures.
type Dispatcher struct {
	config   DispatchConfig
	provider Provider
	limiter  *rate.Limiter
	logger   *slog.Logger
}

// NewDispatcher creates a dispatcher over the given provider.
func NewDispatcher(config DispatchConfig, provider Provider) *Dispatcher {
	if config.MaxAttempts == 0 {
		config.MaxAttempts = DefaultMaxAttempts
	}
	if config.BackoffBase == 0 {
		config.BackoffBase = DefaultBackoffBase
	}
	if config.BackoffCap == 0 {
		config.BackoffCap = DefaultBackoffCap
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	if config.RatePerSec == 0 {
		config.RatePerSec = DefaultRatePerSec
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		config:   config,
		provider: provider,
		limiter:  rate.NewLimiter(rate.Limit(config.RatePerSec), 1),
		logger:   logger,
	}
}

// Send delivers the code to the identity, retrying transient provider
// failures up to MaxAttempts with exponential backoff and honoring any
// provider retry-after hint. Permanent failures surface immediately.
// The plaintext code is never logged; auditRef correlates the delivery
// with its verification record.
func (d *Dispatcher) Send(ctx context.Context, identity string, purpose domain.Purpose, code string, auditRef string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.config.Timeout)
	defer cancel()

	var lastErr error
	for attempt := 1; attempt <= d.config.MaxAttempts; attempt++ {
		if err := d.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("dispatch cancelled: %w", err)
		}

		msgID, err := d.provider.Send(ctx, identity, purpose, code)
		if err == nil {
			d.logger.Info("verification code delivered",
				"purpose", purpose,
				"record_id", auditRef,
				"attempt", attempt,
				"message_id", msgID,
			)
			return msgID, nil
		}
		lastErr = err

		var sendErr *SendError
		if errors.As(err, &sendErr) && sendErr.Permanent {
			d.logger.Error("verification code delivery rejected",
				"purpose", purpose,
				"record_id", auditRef,
				"status", sendErr.StatusCode,
			)
			return "", fmt.Errorf("permanent delivery failure: %w", err)
		}

		if attempt == d.config.MaxAttempts {
			break
		}

		delay := d.nextDelay(attempt, err)
		d.logger.Warn("verification code delivery failed, retrying",
			"purpose", purpose,
			"record_id", auditRef,
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", fmt.Errorf("dispatch cancelled: %w", ctx.Err())
		}
	}

	d.logger.Error("verification code delivery failed",
		"purpose", purpose,
		"record_id", auditRef,
		"attempts", d.config.MaxAttempts,
		"error", lastErr,
	)
	return "", fmt.Errorf("delivery failed after %d attempts: %w", d.config.MaxAttempts, lastErr)
}

// nextDelay computes the wait before the next attempt: exponential from
// BackoffBase, capped at BackoffCap, overridden by a provider
// retry-after hint when one is supplied.
func (d *Dispatcher) nextDelay(attempt int, err error) time.Duration {
	var sendErr *SendError
	if errors.As(err, &sendErr) && sendErr.RetryAfter > 0 {
		return sendErr.RetryAfter
	}

	delay := d.config.BackoffBase << (attempt - 1)
	if delay > d.config.BackoffCap {
		delay = d.config.BackoffCap
	}
	return delay
}
