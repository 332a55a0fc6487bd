// Package retry wraps avast/retry-go with a small option set and exponential backoff.
package retry

import (
	"context"
	"time"

	retrygo "github.com/avast/retry-go/v4"
)

// Retry executes an operation until it succeeds, attempts run out, or ctx is done.
type Retry interface {
	Execute(ctx context.Context, operation func() error) error
}

type config struct {
	attempts uint
	delay    time.Duration
	maxDelay time.Duration
	retryIf  func(error) bool
	onRetry  func(attempt uint, err error)
}

// Option configures a Retry.
type Option func(*config)

type retrier struct {
	cfg config
}

var _ Retry = (*retrier)(nil)

// New returns a Retry with defaults of 3 attempts, 100ms base delay, 2s max delay.
func New(opts ...Option) Retry {
	cfg := config{
		attempts: 3,
		delay:    100 * time.Millisecond,
		maxDelay: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	// retry-go reads zero attempts as "retry until success".
	if cfg.attempts == 0 {
		cfg.attempts = 1
	}

	return &retrier{cfg: cfg}
}

// Execute runs operation immediately, then retries with exponential backoff.
// Only the last error is returned.
func (r *retrier) Execute(ctx context.Context, operation func() error) error {
	options := []retrygo.Option{
		retrygo.Attempts(r.cfg.attempts),
		retrygo.Delay(r.cfg.delay),
		retrygo.MaxDelay(r.cfg.maxDelay),
		retrygo.DelayType(retrygo.BackOffDelay),
		retrygo.LastErrorOnly(true),
		retrygo.Context(ctx),
	}
	if r.cfg.retryIf != nil {
		options = append(options, retrygo.RetryIf(r.cfg.retryIf))
	}
	if r.cfg.onRetry != nil {
		options = append(options, retrygo.OnRetry(r.cfg.onRetry))
	}

	return retrygo.Do(operation, options...)
}

// WithAttempts sets the total number of attempts, including the first one.
// Zero is treated as one.
func WithAttempts(n uint) Option {
	return func(c *config) {
		c.attempts = n
	}
}

// WithDelay sets the base backoff delay.
func WithDelay(d time.Duration) Option {
	return func(c *config) {
		c.delay = d
	}
}

// WithMaxDelay caps the backoff delay.
func WithMaxDelay(d time.Duration) Option {
	return func(c *config) {
		c.maxDelay = d
	}
}

// WithRetryIf stops retrying as soon as fn returns false for an error.
func WithRetryIf(fn func(error) bool) Option {
	return func(c *config) {
		c.retryIf = fn
	}
}

// WithOnRetry registers a callback invoked after each failed attempt.
func WithOnRetry(fn func(attempt uint, err error)) Option {
	return func(c *config) {
		c.onRetry = fn
	}
}
