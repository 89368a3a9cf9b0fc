package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/stock-guard/internal/core/domain"
)

const (
	DefaultMaxAttempts = 100
	DefaultBackoff     = 50 * time.Millisecond
)

// RetryPolicy bounds the retry loop. Multiplier 1 gives a fixed backoff,
// anything above grows it exponentially up to MaxBackoff. Jitter is the
// fraction of each delay that is randomized, between 0 and 1.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
	MaxBackoff  time.Duration
	Multiplier  float64
	Jitter      float64
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: DefaultMaxAttempts,
		Backoff:     DefaultBackoff,
		Multiplier:  1,
	}
}

// SleepFunc waits for d or until ctx is done, whichever comes first.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RetryFacade turns optimistic conflicts into retries. Every other error is
// returned on the spot.
type RetryFacade struct {
	next    Decrementer
	policy  RetryPolicy
	sleep   SleepFunc
	onRetry func(attempt int, err error)
	logger  *zap.Logger
}

type RetryOption func(*RetryFacade)

func WithSleep(sleep SleepFunc) RetryOption {
	return func(f *RetryFacade) { f.sleep = sleep }
}

// WithRetryHook is called after every conflicted attempt that will be
// retried.
func WithRetryHook(hook func(attempt int, err error)) RetryOption {
	return func(f *RetryFacade) { f.onRetry = hook }
}

func WithLogger(logger *zap.Logger) RetryOption {
	return func(f *RetryFacade) { f.logger = logger }
}

func NewRetryFacade(next Decrementer, policy RetryPolicy, opts ...RetryOption) *RetryFacade {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = DefaultMaxAttempts
	}
	if policy.Backoff < 0 {
		policy.Backoff = 0
	}
	if policy.Multiplier < 1 {
		policy.Multiplier = 1
	}
	policy.Jitter = min(max(policy.Jitter, 0), 1)

	f := &RetryFacade{
		next:   next,
		policy: policy,
		sleep:  sleepContext,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *RetryFacade) Decrement(ctx context.Context, id string, amount int64) error {
	var lastErr error

	for attempt := 1; attempt <= f.policy.MaxAttempts; attempt++ {
		err := f.next.Decrement(ctx, id, amount)
		if err == nil || !errors.Is(err, domain.ErrOptimisticConflict) {
			return err
		}
		lastErr = err

		if attempt == f.policy.MaxAttempts {
			break
		}

		if f.onRetry != nil {
			f.onRetry(attempt, err)
		}
		delay := f.delay(attempt)
		f.logger.Debug("optimistic conflict, retrying",
			zap.String("stock_id", id),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
		)

		if err := f.sleep(ctx, delay); err != nil {
			return fmt.Errorf("retry decrement %s: %w", id, err)
		}
	}

	return fmt.Errorf("%w after %d attempts: %w", domain.ErrRetriesExhausted, f.policy.MaxAttempts, lastErr)
}

// delay returns the pause that follows the given failed attempt. Without a
// MaxBackoff the growth stops at the largest representable duration.
func (f *RetryFacade) delay(attempt int) time.Duration {
	ceiling := float64(math.MaxInt64)
	if f.policy.MaxBackoff > 0 {
		ceiling = float64(f.policy.MaxBackoff)
	}

	d := min(float64(f.policy.Backoff), ceiling)
	for i := 1; i < attempt && f.policy.Multiplier > 1 && d < ceiling; i++ {
		d = min(d*f.policy.Multiplier, ceiling)
	}

	if f.policy.Jitter > 0 {
		spread := d * f.policy.Jitter
		d = d - spread + rand.Float64()*spread
	}

	// float64(math.MaxInt64) rounds up past the int64 range
	if d >= float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}
