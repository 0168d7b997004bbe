package collection

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/muguira/mailvibes-crm-remix-sub008/pkg/source"
)

// Prometheus metrics for retry operations.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crm_fetch_retries_total",
		Help: "Total number of page fetch retry attempts by error kind",
	}, []string{"error_kind"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "crm_fetch_retry_backoff_seconds",
		Help:    "Backoff duration for page fetch retries by error kind",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"error_kind"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crm_fetch_retry_exhausted_total",
		Help: "Total number of times page fetch retries were exhausted by error kind",
	}, []string{"error_kind"})
)

// RetryConfig holds the configuration for retry logic.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the initial request).
	MaxAttempts int

	// InitialBackoff is the initial backoff duration.
	InitialBackoff time.Duration

	// MaxBackoff is the maximum backoff duration.
	MaxBackoff time.Duration

	// BackoffMultiplier is the multiplier for exponential backoff.
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the default retry configuration. Backoffs
// are short because page loads sit on an interactive path.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    500 * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// retryWithBackoff executes a function with exponential backoff retry
// logic. Only errors whose kind is retryable (network) are retried;
// auth, validation and conflict errors surface immediately. Respects
// context cancellation and adds jitter to prevent thundering herd.
func retryWithBackoff(ctx context.Context, logger zerolog.Logger, config RetryConfig, fn func() error) error {
	var lastErr error
	backoff := config.InitialBackoff

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			if attempt > 1 {
				logger.Info().
					Int("attempt", attempt).
					Msg("Fetch succeeded after retry")
			}
			return nil
		}

		lastErr = err
		kind := source.KindOf(err)

		if !source.IsRetryable(kind) {
			// Auth, validation and conflict errors surface immediately
			return lastErr
		}

		// If this was the last attempt, don't wait
		if attempt >= config.MaxAttempts {
			break
		}

		retriesTotal.WithLabelValues(string(kind)).Inc()

		// Add jitter (±20% randomness)
		jitter := time.Duration(float64(backoff) * (0.8 + rand.Float64()*0.4))
		retryBackoffSeconds.WithLabelValues(string(kind)).Observe(jitter.Seconds())

		logger.Debug().
			Str("error_kind", string(kind)).
			Int("attempt", attempt).
			Dur("backoff", jitter).
			Msg("Retrying fetch after backoff")

		select {
		case <-ctx.Done():
			logger.Warn().
				Str("error_kind", string(kind)).
				Int("attempt", attempt).
				Msg("Context cancelled during retry backoff")
			return fmt.Errorf("%w: %v", source.ErrContextCancelled, ctx.Err())
		case <-time.After(jitter):
			// Continue to next attempt
		}

		backoff = time.Duration(float64(backoff) * config.BackoffMultiplier)
		if backoff > config.MaxBackoff {
			backoff = config.MaxBackoff
		}
	}

	kind := source.KindOf(lastErr)
	retryExhaustedTotal.WithLabelValues(string(kind)).Inc()
	logger.Warn().
		Str("error_kind", string(kind)).
		Int("max_attempts", config.MaxAttempts).
		Msg("Fetch retry attempts exhausted")

	return fmt.Errorf("%w after %d attempts: %v", source.ErrRetryExhausted, config.MaxAttempts, lastErr)
}
