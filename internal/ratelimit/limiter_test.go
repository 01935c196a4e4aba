package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeCounter is an in-memory sliding-window counter mirroring the
// semantics of the Postgres-backed repository.
type fakeCounter struct {
	mu     sync.Mutex
	events map[string][]time.Time
	now    time.Time
	err    error
}

func newFakeCounter() *fakeCounter {
	return &fakeCounter{events: make(map[string][]time.Time), now: time.Now()}
}

func (c *fakeCounter) CountAndRecord(ctx context.Context, key, action string, window time.Duration) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return 0, c.err
	}
	k := key + "/" + action
	c.events[k] = append(c.events[k], c.now)

	count := 0
	for _, at := range c.events[k] {
		if at.After(c.now.Add(-window)) {
			count++
		}
	}
	return count, nil
}

func (c *fakeCounter) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestLimiter_AllowsWithinLimit(t *testing.T) {
	counter := newFakeCounter()
	limiter := NewLimiter(Config{IssuePerHour: 5, RedeemPerHour: 10}, counter)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		allowed, err := limiter.Allow(ctx, "a@x.com", ActionIssue)
		if err != nil {
			t.Fatalf("Allow failed: %v", err)
		}
		if !allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}

	allowed, err := limiter.Allow(ctx, "a@x.com", ActionIssue)
	if err != nil {
		t.Fatalf("Allow failed: %v", err)
	}
	if allowed {
		t.Error("6th issuance within the hour should be denied")
	}
}

func TestLimiter_IndependentIdentities(t *testing.T) {
	counter := newFakeCounter()
	limiter := NewLimiter(Config{IssuePerHour: 1}, counter)
	ctx := context.Background()

	if allowed, _ := limiter.Allow(ctx, "a@x.com", ActionIssue); !allowed {
		t.Error("first identity should be allowed")
	}
	if allowed, _ := limiter.Allow(ctx, "b@x.com", ActionIssue); !allowed {
		t.Error("second identity should be unaffected by the first")
	}
	if allowed, _ := limiter.Allow(ctx, "a@x.com", ActionIssue); allowed {
		t.Error("first identity should now be over its limit")
	}
}

func TestLimiter_IndependentActions(t *testing.T) {
	counter := newFakeCounter()
	limiter := NewLimiter(Config{IssuePerHour: 1, RedeemPerHour: 1}, counter)
	ctx := context.Background()

	if allowed, _ := limiter.Allow(ctx, "a@x.com", ActionIssue); !allowed {
		t.Error("issue should be allowed")
	}
	if allowed, _ := limiter.Allow(ctx, "a@x.com", ActionRedeem); !allowed {
		t.Error("redeem window is independent of issue window")
	}
}

func TestLimiter_WindowExpiryResets(t *testing.T) {
	counter := newFakeCounter()
	limiter := NewLimiter(Config{IssuePerHour: 1}, counter)
	ctx := context.Background()

	limiter.Allow(ctx, "a@x.com", ActionIssue)
	if allowed, _ := limiter.Allow(ctx, "a@x.com", ActionIssue); allowed {
		t.Fatal("second request inside the window should be denied")
	}

	counter.advance(61 * time.Minute)
	if allowed, _ := limiter.Allow(ctx, "a@x.com", ActionIssue); !allowed {
		t.Error("request after window expiry should be allowed again")
	}
}

func TestLimiter_FailsClosed(t *testing.T) {
	counter := newFakeCounter()
	counter.err = errors.New("database unavailable")
	limiter := NewLimiter(Config{}, counter)

	allowed, err := limiter.Allow(context.Background(), "a@x.com", ActionIssue)
	if err == nil {
		t.Error("Allow should surface counter failure")
	}
	if allowed {
		t.Error("Allow must deny when the counter is unavailable")
	}
}

func TestLimiter_UnknownAction(t *testing.T) {
	limiter := NewLimiter(Config{}, newFakeCounter())

	allowed, err := limiter.Allow(context.Background(), "a@x.com", Action("login"))
	if err == nil || allowed {
		t.Error("unknown action must be denied with an error")
	}
}

func TestLimiter_ConcurrentBurst(t *testing.T) {
	counter := newFakeCounter()
	limiter := NewLimiter(Config{IssuePerHour: 5}, counter)
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	allowed := make(chan bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := limiter.Allow(ctx, "a@x.com", ActionIssue)
			if err != nil {
				t.Errorf("Allow failed: %v", err)
				return
			}
			allowed <- ok
		}()
	}
	wg.Wait()
	close(allowed)

	granted := 0
	for ok := range allowed {
		if ok {
			granted++
		}
	}
	if granted > 5 {
		t.Errorf("burst of %d granted %d requests, limit is 5", n, granted)
	}
}
