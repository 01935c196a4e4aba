package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Action names a rate-limited operation.
type Action string

const (
	ActionIssue  Action = "issue"
	ActionRedeem Action = "redeem"
)

// Default limits per identity per hour.
const (
	DefaultIssuePerHour  = 5
	DefaultRedeemPerHour = 10
	DefaultWindow        = time.Hour
)

// Counter is the shared sliding-window event counter. Implemented by
// repository.RateEventsRepository so limits hold across replicas.
type Counter interface {
	CountAndRecord(ctx context.Context, key, action string, window time.Duration) (int, error)
}

// Rule bounds one action inside its window.
type Rule struct {
	Limit  int
	Window time.Duration
}

// Config holds limiter configuration.
type Config struct {
	IssuePerHour  int
	RedeemPerHour int
	Logger        *slog.Logger
}

// Limiter bounds issuance and redemption attempts per identity using a
// sliding-window counter. Every call is recorded, allowed or not, so
// counters are monotonic within their window and reset only by window
// expiry.
type Limiter struct {
	counter Counter
	rules   map[Action]Rule
	logger  *slog.Logger
}

// NewLimiter creates a limiter over the given counter.
func NewLimiter(cfg Config, counter Counter) *Limiter {
	if cfg.IssuePerHour == 0 {
		cfg.IssuePerHour = DefaultIssuePerHour
	}
	if cfg.RedeemPerHour == 0 {
		cfg.RedeemPerHour = DefaultRedeemPerHour
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{
		counter: counter,
		rules: map[Action]Rule{
			ActionIssue:  {Limit: cfg.IssuePerHour, Window: DefaultWindow},
			ActionRedeem: {Limit: cfg.RedeemPerHour, Window: DefaultWindow},
		},
		logger: logger,
	}
}

// Allow reports whether the identity may perform the action. Unknown
// actions and counter failures deny: a degraded limiter must not turn
// into an open gate for enumeration.
func (l *Limiter) Allow(ctx context.Context, identity string, action Action) (bool, error) {
	rule, ok := l.rules[action]
	if !ok {
		return false, fmt.Errorf("unknown rate limit action %q", action)
	}

	count, err := l.counter.CountAndRecord(ctx, identity, string(action), rule.Window)
	if err != nil {
		return false, fmt.Errorf("failed to count rate events: %w", err)
	}

	if count > rule.Limit {
		l.logger.Warn("rate limit exceeded",
			"action", action,
			"count", count,
			"limit", rule.Limit,
		)
		return false, nil
	}
	return true, nil
}
