// Package retry provides exponential-backoff retry for upstream network
// operations, with a retryable error-code allowlist drawn from
// pkg/errors. internal/upstream's S3 reader wraps its
// GetObject/ListObjectsV2 calls in a Retryer.
package retry

import (
	"context"
	stderr "errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/wincachefs/wincachefs/pkg/errors"
)

// Config defines retry behavior.
type Config struct {
	MaxAttempts     int                                               `yaml:"max_attempts" json:"max_attempts"`
	InitialDelay    time.Duration                                     `yaml:"initial_delay" json:"initial_delay"`
	MaxDelay        time.Duration                                     `yaml:"max_delay" json:"max_delay"`
	Multiplier      float64                                           `yaml:"multiplier" json:"multiplier"`
	Jitter          bool                                              `yaml:"jitter" json:"jitter"`
	RetryableErrors []errors.ErrorCode                                `yaml:"retryable_errors" json:"retryable_errors"`
	OnRetry         func(attempt int, err error, delay time.Duration) `yaml:"-" json:"-"`
}

// DefaultConfig returns a sensible default retry configuration covering
// the upstream/network error codes pkg/errors marks retryable by default.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  5,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
		RetryableErrors: []errors.ErrorCode{
			errors.ErrCodeUpstreamUnreachable,
			errors.ErrCodeUpstreamTimeout,
			errors.ErrCodeUpstreamIO,
			errors.ErrCodeCircuitOpen,
			errors.ErrCodeDownloadInProgress,
		},
	}
}

// Retryer executes a function with exponential backoff retry.
type Retryer struct {
	config Config
}

// New creates a Retryer, applying defaults for zero-valued fields.
func New(config Config) *Retryer {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 5
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = 100 * time.Millisecond
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 30 * time.Second
	}
	if config.Multiplier <= 0 {
		config.Multiplier = 2.0
	}
	return &Retryer{config: config}
}

// Do executes fn with retry logic, using context.Background().
func (r *Retryer) Do(fn func() error) error {
	return r.DoWithContext(context.Background(), func(ctx context.Context) error {
		return fn()
	})
}

// DoWithContext executes fn, retrying on retryable errors until
// MaxAttempts is reached or ctx is cancelled.
func (r *Retryer) DoWithContext(ctx context.Context, fn func(context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return fmt.Errorf("operation canceled: %w", ctx.Err())
		default:
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !r.shouldRetry(err, attempt) {
			return err
		}

		if attempt < r.config.MaxAttempts {
			delay := r.calculateDelay(attempt)
			if r.config.OnRetry != nil {
				r.config.OnRetry(attempt, err, delay)
			}
			select {
			case <-ctx.Done():
				return fmt.Errorf("operation canceled after %d attempts: %w", attempt, ctx.Err())
			case <-time.After(delay):
			}
		}
	}

	return fmt.Errorf("max retry attempts (%d) exceeded: %w", r.config.MaxAttempts, lastErr)
}

// shouldRetry reports whether err is retryable and attempts remain.
func (r *Retryer) shouldRetry(err error, attempt int) bool {
	if attempt >= r.config.MaxAttempts {
		return false
	}

	var wfErr *errors.Error
	if stderr.As(err, &wfErr) {
		if wfErr.Retryable {
			return true
		}
		for _, code := range r.config.RetryableErrors {
			if wfErr.Code == code {
				return true
			}
		}
	}
	return false
}

// calculateDelay computes the exponential backoff delay for attempt,
// capped at MaxDelay and optionally jittered by ±20%.
func (r *Retryer) calculateDelay(attempt int) time.Duration {
	delay := float64(r.config.InitialDelay) * math.Pow(r.config.Multiplier, float64(attempt-1))
	if delay > float64(r.config.MaxDelay) {
		delay = float64(r.config.MaxDelay)
	}
	if r.config.Jitter {
		jitter := delay * 0.2 * (rand.Float64()*2 - 1)
		delay += jitter
	}
	return time.Duration(delay)
}

// WithMaxAttempts returns a new Retryer with a different attempt ceiling.
func (r *Retryer) WithMaxAttempts(attempts int) *Retryer {
	newConfig := r.config
	newConfig.MaxAttempts = attempts
	return New(newConfig)
}

// WithOnRetry returns a new Retryer invoking callback before each retry.
func (r *Retryer) WithOnRetry(callback func(attempt int, err error, delay time.Duration)) *Retryer {
	newConfig := r.config
	newConfig.OnRetry = callback
	return New(newConfig)
}

// RetryWithBackoff is a convenience wrapper for simple retry call sites.
func RetryWithBackoff(ctx context.Context, maxAttempts int, fn func() error) error {
	retryer := New(DefaultConfig())
	retryer.config.MaxAttempts = maxAttempts
	return retryer.DoWithContext(ctx, func(ctx context.Context) error {
		return fn()
	})
}
