package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"appevents/internal/config"
	"appevents/pkg/circuitbreaker"
)

// CircuitBreakerStore stops calling a failing backend for a while instead
// of stalling every flush on it. Missing keys do not count as failures.
type CircuitBreakerStore struct {
	store Store
	cb    *circuitbreaker.Wrapper
}

var _ Store = (*CircuitBreakerStore)(nil)

func NewCircuitBreakerStore(store Store, name string, cfg config.CircuitBreakerConfig) *CircuitBreakerStore {
	if !cfg.Enabled {
		return &CircuitBreakerStore{store: store}
	}

	cbConfig := circuitbreaker.FromSettings(name, cfg.MaxRequests, cfg.Interval, cfg.Timeout, cfg.MinRequests, cfg.FailureRatio)
	cbConfig.IsSuccessful = func(err error) bool {
		return err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, context.Canceled)
	}

	return &CircuitBreakerStore{
		store: store,
		cb:    circuitbreaker.NewWrapper(cbConfig),
	}
}

func (s *CircuitBreakerStore) wrapErr(err error) error {
	if err != nil && s.cb.IsOpen() && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("circuit breaker is open for %s: %w", s.cb.Name(), err)
	}
	return err
}

type blob struct {
	value     []byte
	writtenAt time.Time
}

func (s *CircuitBreakerStore) Get(ctx context.Context, key string) ([]byte, time.Time, error) {
	if s.cb == nil {
		return s.store.Get(ctx, key)
	}

	result, err := circuitbreaker.Execute(ctx, s.cb, func() (blob, error) {
		value, writtenAt, err := s.store.Get(ctx, key)
		return blob{value: value, writtenAt: writtenAt}, err
	})
	if err != nil {
		return nil, time.Time{}, s.wrapErr(err)
	}
	return result.value, result.writtenAt, nil
}

func (s *CircuitBreakerStore) Set(ctx context.Context, key string, value []byte) error {
	if s.cb == nil {
		return s.store.Set(ctx, key, value)
	}
	return s.wrapErr(circuitbreaker.Do(ctx, s.cb, func() error {
		return s.store.Set(ctx, key, value)
	}))
}

func (s *CircuitBreakerStore) Remove(ctx context.Context, key string) error {
	if s.cb == nil {
		return s.store.Remove(ctx, key)
	}
	return s.wrapErr(circuitbreaker.Do(ctx, s.cb, func() error {
		return s.store.Remove(ctx, key)
	}))
}

func (s *CircuitBreakerStore) LastWrite(ctx context.Context, key string) (time.Time, error) {
	if s.cb == nil {
		return s.store.LastWrite(ctx, key)
	}
	t, err := circuitbreaker.Execute(ctx, s.cb, func() (time.Time, error) {
		return s.store.LastWrite(ctx, key)
	})
	return t, s.wrapErr(err)
}

func (s *CircuitBreakerStore) State() string {
	if s.cb == nil {
		return "disabled"
	}
	return s.cb.State().String()
}

func (s *CircuitBreakerStore) IsOpen() bool {
	return s.cb != nil && s.cb.IsOpen()
}

func (s *CircuitBreakerStore) Ping(ctx context.Context) error {
	if p, ok := s.store.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

func (s *CircuitBreakerStore) Close() error {
	return s.store.Close()
}
