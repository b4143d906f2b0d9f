package persistence

import (
	"context"
	"errors"
	"time"

	"appevents/pkg/metrics"
)

// InstrumentedStore records operation counts and latencies per backend.
type InstrumentedStore struct {
	store   Store
	backend string
}

var _ Store = (*InstrumentedStore)(nil)

func NewInstrumentedStore(store Store, backend string) *InstrumentedStore {
	return &InstrumentedStore{store: store, backend: backend}
}

func (s *InstrumentedStore) observe(operation string, start time.Time, err error) {
	status := "success"
	switch {
	case errors.Is(err, ErrNotFound):
		status = "not_found"
	case err != nil:
		status = "error"
	}
	metrics.IncStoreOperation(s.backend, operation, status)
	metrics.ObserveStoreOperationDuration(s.backend, operation, time.Since(start))
}

func (s *InstrumentedStore) Get(ctx context.Context, key string) ([]byte, time.Time, error) {
	start := time.Now()
	value, writtenAt, err := s.store.Get(ctx, key)
	s.observe("get", start, err)
	return value, writtenAt, err
}

func (s *InstrumentedStore) Set(ctx context.Context, key string, value []byte) error {
	start := time.Now()
	err := s.store.Set(ctx, key, value)
	s.observe("set", start, err)
	return err
}

func (s *InstrumentedStore) Remove(ctx context.Context, key string) error {
	start := time.Now()
	err := s.store.Remove(ctx, key)
	s.observe("remove", start, err)
	return err
}

func (s *InstrumentedStore) LastWrite(ctx context.Context, key string) (time.Time, error) {
	start := time.Now()
	t, err := s.store.LastWrite(ctx, key)
	s.observe("last_write", start, err)
	return t, err
}

func (s *InstrumentedStore) Ping(ctx context.Context) error {
	if p, ok := s.store.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

func (s *InstrumentedStore) Close() error {
	return s.store.Close()
}
