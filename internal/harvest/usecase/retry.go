package usecase

import (
	"context"
	"math"
	"strings"
	"time"

	sharedErrors "catalog-harvester/internal/shared/errors"
	"catalog-harvester/internal/shared/logger"
	"catalog-harvester/internal/shared/metrics"

	"github.com/cenkalti/backoff/v4"
)

// RetryOptions configures a RetryPolicy.
type RetryOptions struct {
	// MaxAttempts counts the first attempt; values below 1 mean 1.
	MaxAttempts int
	BaseDelay   time.Duration
	// MaxDelay caps a single backoff sleep. Zero leaves it uncapped.
	MaxDelay time.Duration
}

// RetryPolicy retries a failing operation with exponential backoff
// baseDelay * 2^(attempt-1) and no jitter.
type RetryPolicy struct {
	opts     RetryOptions
	log      logger.Logger
	newTimer func() backoff.Timer
}

// NewRetryPolicy creates a policy that sleeps on real timers.
func NewRetryPolicy(opts RetryOptions, log logger.Logger) *RetryPolicy {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if log == nil {
		log = logger.Nop()
	}
	return &RetryPolicy{
		opts:     opts,
		log:      log.WithComponent("retry"),
		newTimer: func() backoff.Timer { return nil },
	}
}

// WithTimer returns a copy of the policy whose sleeps use timers from newTimer.
func (p *RetryPolicy) WithTimer(newTimer func() backoff.Timer) *RetryPolicy {
	cp := *p
	cp.newTimer = newTimer
	return &cp
}

// MaxAttempts returns the effective attempt budget.
func (p *RetryPolicy) MaxAttempts() int { return p.opts.MaxAttempts }

func (p *RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	maxInterval := time.Duration(math.MaxInt64)
	if p.opts.MaxDelay > 0 {
		maxInterval = p.opts.MaxDelay
	}
	exp := &backoff.ExponentialBackOff{
		InitialInterval:     p.opts.BaseDelay,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         maxInterval,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	exp.Reset()
	return backoff.WithMaxRetries(backoff.WithContext(exp, ctx), uint64(p.opts.MaxAttempts-1))
}

// Do runs op until it succeeds, fails permanently or the attempt budget is
// spent. Validation and not-found errors are never retried. The last error is
// returned unchanged.
func (p *RetryPolicy) Do(ctx context.Context, label string, op func(ctx context.Context) error) error {
	attempt := 0
	operation := func() error {
		attempt++
		err := op(ctx)
		if err != nil && (sharedErrors.IsValidation(err) || sharedErrors.IsNotFound(err)) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		metrics.RetriesTotal.WithLabelValues(operationOf(label)).Inc()
		p.log.WithContext(ctx).Warnf("[retry] %s failed (attempt %d/%d). Backing off %dms: %v",
			label, attempt, p.opts.MaxAttempts, next.Milliseconds(), err)
	}
	return backoff.RetryNotifyWithTimer(operation, p.backOff(ctx), notify, p.newTimer())
}

// Retry is Do for operations that return a value.
func Retry[T any](ctx context.Context, p *RetryPolicy, label string, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := p.Do(ctx, label, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// operationOf keeps metric labels low-cardinality: "upsert main--x" -> "upsert".
func operationOf(label string) string {
	if f := strings.Fields(label); len(f) > 0 {
		return f[0]
	}
	return "unknown"
}
