package collection

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/muguira/mailvibes-crm-remix-sub008/pkg/source"
)

func testRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
}

func TestRetryWithBackoff_SucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := retryWithBackoff(context.Background(), zerolog.Nop(), testRetryConfig(), func() error {
		attempts++
		if attempts < 3 {
			return source.NewError(source.KindNetwork, 503, "unavailable", nil)
		}
		return nil
	})

	if err != nil {
		t.Fatalf("retryWithBackoff() error = %v, want nil", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestRetryWithBackoff_NonRetryableSurfacesImmediately(t *testing.T) {
	tests := []struct {
		name string
		kind source.ErrorKind
	}{
		{"auth", source.KindAuth},
		{"validation", source.KindValidation},
		{"conflict", source.KindConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attempts := 0
			err := retryWithBackoff(context.Background(), zerolog.Nop(), testRetryConfig(), func() error {
				attempts++
				return source.NewError(tt.kind, 0, "nope", nil)
			})

			if source.KindOf(err) != tt.kind {
				t.Errorf("KindOf(err) = %v, want %v", source.KindOf(err), tt.kind)
			}
			if attempts != 1 {
				t.Errorf("attempts = %d, want 1 (no retries)", attempts)
			}
		})
	}
}

func TestRetryWithBackoff_Exhaustion(t *testing.T) {
	attempts := 0
	err := retryWithBackoff(context.Background(), zerolog.Nop(), testRetryConfig(), func() error {
		attempts++
		return source.NewError(source.KindNetwork, 500, "still down", nil)
	})

	if !errors.Is(err, source.ErrRetryExhausted) {
		t.Fatalf("retryWithBackoff() error = %v, want ErrRetryExhausted", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestRetryWithBackoff_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	config := testRetryConfig()
	config.InitialBackoff = time.Second

	err := retryWithBackoff(ctx, zerolog.Nop(), config, func() error {
		cancel()
		return source.NewError(source.KindNetwork, 500, "down", nil)
	})

	if !errors.Is(err, source.ErrContextCancelled) {
		t.Errorf("retryWithBackoff() error = %v, want ErrContextCancelled", err)
	}
}
