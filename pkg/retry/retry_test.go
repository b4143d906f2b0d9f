package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"appevents/internal/config"
	apperrors "appevents/pkg/errors"
)

func fastPolicy(attempts int) Policy {
	return Policy{
		MaxAttempts:     attempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		Multiplier:      1.5,
	}
}

func TestRetrySucceedsAfterTransientErrors(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastPolicy(3), func() error {
		calls++
		if calls < 3 {
			return errors.New("temporary")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryStopsOnFatal(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "fatal wrapper", err: NewFatalError(errors.New("bad request"))},
		{name: "app validation error", err: apperrors.ErrValidation},
		{name: "app error forced fatal", err: apperrors.ErrConfigFetch.AsFatal()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := Retry(context.Background(), fastPolicy(5), func() error {
				calls++
				return tt.err
			})
			require.Error(t, err)
			assert.Equal(t, 1, calls)
		})
	}
}

func TestRetryRetriesRetryableAppErrors(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastPolicy(3), func() error {
		calls++
		return apperrors.ErrConfigFetch
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryWithCallback(t *testing.T) {
	var attempts []int
	err := RetryWithCallback(context.Background(), fastPolicy(3), func() error {
		return errors.New("always")
	}, func(attempt int, err error, nextDelay time.Duration) {
		attempts = append(attempts, attempt)
		assert.LessOrEqual(t, nextDelay, 2*time.Millisecond)
	})

	require.Error(t, err)
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestRetryHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Retry(ctx, Policy{MaxAttempts: 5, InitialInterval: time.Second, MaxInterval: time.Second, Multiplier: 2}, func() error {
		calls++
		return errors.New("temporary")
	})

	require.Error(t, err)
	assert.LessOrEqual(t, calls, 1)
}

func TestPolicyMerge(t *testing.T) {
	merged := Policy{MaxAttempts: 5}.Merge(DefaultPolicy())
	assert.Equal(t, 5, merged.MaxAttempts)
	assert.Equal(t, time.Second, merged.InitialInterval)
	assert.Equal(t, 2.0, merged.Multiplier)
}

func TestFromConfigFillsDefaults(t *testing.T) {
	p := FromConfig(config.RetryConfig{MaxAttempts: 5, InitialInterval: 10 * time.Millisecond})

	assert.Equal(t, 5, p.MaxAttempts)
	assert.Equal(t, 10*time.Millisecond, p.InitialInterval)
	assert.Equal(t, DefaultPolicy().MaxInterval, p.MaxInterval)
	assert.Equal(t, DefaultPolicy().Multiplier, p.Multiplier)
}

func TestNextDelay(t *testing.T) {
	p := Policy{InitialInterval: 100 * time.Millisecond, MaxInterval: time.Second, Multiplier: 2}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 0, want: 100 * time.Millisecond},
		{attempt: 1, want: 100 * time.Millisecond},
		{attempt: 3, want: 400 * time.Millisecond},
		{attempt: 10, want: time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NextDelay(p, tt.attempt), "attempt %d", tt.attempt)
	}
}
