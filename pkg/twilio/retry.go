package twilio

import (
	"context"
	"math"
	"time"

	"github.com/sirupsen/logrus"
)

// RetryConfig configures the backoff applied to rate-limited provider calls.
type RetryConfig struct {
	MaxAttempts       int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       5,
		InitialDelay:      500 * time.Millisecond,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// RetryMetrics receives provider call outcomes. Implementations must be
// safe for concurrent use.
type RetryMetrics interface {
	ProviderCall(op, status string)
	ProviderRetry(op string)
}

// Retryer retries provider calls that fail with the rate-limit code
// (20429), backing off exponentially. Every other error, timeouts
// included, propagates immediately.
type Retryer struct {
	config  RetryConfig
	logger  *logrus.Logger
	metrics RetryMetrics
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewRetryer creates a Retryer with the given configuration.
func NewRetryer(config RetryConfig, logger *logrus.Logger) *Retryer {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 5
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = 500 * time.Millisecond
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 30 * time.Second
	}
	if config.BackoffMultiplier <= 1.0 {
		config.BackoffMultiplier = 2.0
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Retryer{
		config: config,
		logger: logger,
		sleep:  sleepContext,
	}
}

// SetMetrics attaches a metrics sink. Call before the retryer is shared.
func (r *Retryer) SetMetrics(m RetryMetrics) {
	r.metrics = m
}

// Do runs f, retrying rate-limited failures. op names the call for logging
// and metrics.
func (r *Retryer) Do(ctx context.Context, op string, f func() error) error {
	var err error
	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		err = f()
		if err == nil {
			r.observeCall(op, "ok")
			return nil
		}
		if !IsRateLimited(err) {
			r.logger.WithFields(logrus.Fields{
				"op":    op,
				"error": err,
			}).Debug("provider call failed with non-retryable error")
			r.observeCall(op, "error")
			return err
		}
		if attempt == r.config.MaxAttempts {
			break
		}
		delay := r.delay(attempt)
		r.logger.WithFields(logrus.Fields{
			"op":      op,
			"attempt": attempt,
			"delay":   delay,
		}).Warn("provider rate limited, backing off")
		if r.metrics != nil {
			r.metrics.ProviderRetry(op)
		}
		if serr := r.sleep(ctx, delay); serr != nil {
			r.observeCall(op, "canceled")
			return serr
		}
	}
	r.observeCall(op, "rate_limited")
	return err
}

func (r *Retryer) observeCall(op, status string) {
	if r.metrics != nil {
		r.metrics.ProviderCall(op, status)
	}
}

func (r *Retryer) delay(attempt int) time.Duration {
	d := float64(r.config.InitialDelay) * math.Pow(r.config.BackoffMultiplier, float64(attempt-1))
	if d > float64(r.config.MaxDelay) {
		return r.config.MaxDelay
	}
	return time.Duration(d)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
