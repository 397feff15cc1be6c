package faulttolerance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/sirupsen/logrus"
)

// RetryConfig holds configuration for retry mechanisms
type RetryConfig struct {
	MaxAttempts     int           // Total attempts including the first
	BaseDelay       time.Duration // First backoff delay, doubled per attempt
	MaxDelay        time.Duration // Cap on a single delay
	JitterPercent   uint64        // +/- jitter applied to each delay
	Name            string        // Name for logging
	RetryableErrors []error       // Only these errors are retried when set
}

// DefaultRetryConfig returns a default retry configuration
func DefaultRetryConfig(name string) RetryConfig {
	return RetryConfig{
		MaxAttempts:   5,
		BaseDelay:     1 * time.Second,
		MaxDelay:      30 * time.Second,
		JitterPercent: 10,
		Name:          name,
	}
}

// Retryer runs operations with capped exponential backoff and jitter.
type Retryer struct {
	config RetryConfig
	logger *logrus.Logger
}

func NewRetryer(config RetryConfig, logger *logrus.Logger) *Retryer {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.BaseDelay <= 0 {
		config.BaseDelay = 1 * time.Second
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 30 * time.Second
	}
	if config.JitterPercent > 100 {
		config.JitterPercent = 10
	}
	if config.Name == "" {
		config.Name = "Retryer"
	}
	return &Retryer{config: config, logger: logger}
}

func (r *Retryer) backoff() retry.Backoff {
	b := retry.NewExponential(r.config.BaseDelay)
	if r.config.JitterPercent > 0 {
		b = retry.WithJitterPercent(r.config.JitterPercent, b)
	}
	b = retry.WithCappedDuration(r.config.MaxDelay, b)
	return retry.WithMaxRetries(uint64(r.config.MaxAttempts-1), b)
}

// Execute runs fn until it succeeds, returns a non-retryable error, the
// attempts run out or ctx is done.
func (r *Retryer) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	attempt := 0
	exhausted := false

	err := retry.Do(ctx, r.backoff(), func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				r.logger.Infof("[%s] Operation succeeded on attempt %d", r.config.Name, attempt)
			}
			return nil
		}
		if !r.isRetryable(err) {
			r.logger.Errorf("[%s] Non-retryable error: %v", r.config.Name, err)
			return err
		}
		if attempt >= r.config.MaxAttempts {
			exhausted = true
			r.logger.Errorf("[%s] All %d attempts failed, last error: %v", r.config.Name, attempt, err)
		} else {
			r.logger.Warnf("[%s] Attempt %d failed: %v", r.config.Name, attempt, err)
		}
		return retry.RetryableError(err)
	})

	if err != nil && exhausted {
		return fmt.Errorf("max retry attempts (%d) exceeded: %w", r.config.MaxAttempts, err)
	}
	return err
}

func (r *Retryer) isRetryable(err error) bool {
	if len(r.config.RetryableErrors) == 0 {
		return true
	}
	for _, target := range r.config.RetryableErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// ExecuteWithCircuitBreaker retries fn through cb. An open breaker counts
// as a failed attempt.
func (r *Retryer) ExecuteWithCircuitBreaker(ctx context.Context, cb *CircuitBreaker, fn func(ctx context.Context) error) error {
	return r.Execute(ctx, func(ctx context.Context) error {
		return cb.Execute(func() error { return fn(ctx) })
	})
}
