package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecuteKeepsResultType(t *testing.T) {
	w := NewWrapper(DefaultConfig("test-typed"))

	got, err := Execute(context.Background(), w, func() ([]byte, error) {
		return []byte("payload"), nil
	})

	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got)
}

func TestBreakerOpensAfterFailures(t *testing.T) {
	cfg := FromSettings("test-open", 1, time.Minute, time.Minute, 2, 0.5)
	w := NewWrapper(cfg)
	boom := errors.New("boom")

	for i := 0; i < 2; i++ {
		err := Do(context.Background(), w, func() error { return boom })
		assert.ErrorIs(t, err, boom)
	}

	assert.True(t, w.IsOpen())
	err := Do(context.Background(), w, func() error { return nil })
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
}

func TestIsSuccessfulExcludesExpectedErrors(t *testing.T) {
	notFound := errors.New("not found")
	cfg := FromSettings("test-expected", 1, time.Minute, time.Minute, 1, 0.1)
	cfg.IsSuccessful = func(err error) bool {
		return err == nil || errors.Is(err, notFound)
	}
	w := NewWrapper(cfg)

	for i := 0; i < 5; i++ {
		_ = Do(context.Background(), w, func() error { return notFound })
	}

	assert.True(t, w.IsClosed())
}

func TestExecuteWithCancelledContext(t *testing.T) {
	w := NewWrapper(DefaultConfig("test-ctx"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := Do(ctx, w, func() error {
		called = true
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestFromSettingsDefaults(t *testing.T) {
	cfg := FromSettings("defaults", 0, 0, 0, 0, 0)
	assert.Equal(t, uint32(3), cfg.MaxRequests)
	assert.Equal(t, 60*time.Second, cfg.Timeout)
	assert.NotNil(t, cfg.ReadyToTrip)
}
