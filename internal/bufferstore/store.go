// Package bufferstore persists event buffers across restarts as an ordered
// list of versioned snapshots stored under a single key.
package bufferstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"appevents/internal/constants"
	"appevents/internal/events"
	"appevents/internal/logger"
	"appevents/internal/persistence"
	"appevents/pkg/codec"
	"appevents/pkg/metrics"
)

type BufferStore struct {
	store                persistence.Store
	key                  string
	compressionThreshold int
	log                  logger.Logger
	bufferOpts           []events.Option
	now                  func() time.Time

	// serializes read-modify-write cycles on the blob
	mu sync.Mutex
}

type Option func(*BufferStore)

func WithKey(key string) Option {
	return func(s *BufferStore) { s.key = key }
}

func WithCompressionThreshold(bytes int) Option {
	return func(s *BufferStore) { s.compressionThreshold = bytes }
}

// WithBufferOptions are applied to every buffer returned by RetrieveAll.
func WithBufferOptions(opts ...events.Option) Option {
	return func(s *BufferStore) { s.bufferOpts = append(s.bufferOpts, opts...) }
}

func WithClock(now func() time.Time) Option {
	return func(s *BufferStore) { s.now = now }
}

func New(store persistence.Store, log logger.Logger, opts ...Option) *BufferStore {
	s := &BufferStore{
		store:                store,
		key:                  constants.BufferStoreKey,
		compressionThreshold: 4096,
		log:                  log,
		now:                  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Persist appends a snapshot of buf. Buffers without a usable identity are
// skipped without error.
func (s *BufferStore) Persist(ctx context.Context, buf *events.Buffer) error {
	if !buf.IsValidForPersistence() {
		s.log.DebugwCtx(ctx, "Skipping buffer without valid identity", "buffer", buf.String())
		metrics.IncBufferStoreOperation("persist", "skipped")
		return nil
	}

	entry, err := codec.MarshalFramed(newSnapshot(uuid.NewString(), s.now(), buf), s.compressionThreshold)
	if err != nil {
		metrics.IncBufferStoreOperation("persist", "error")
		return fmt.Errorf("failed to encode buffer snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load(ctx)
	if err != nil {
		metrics.IncBufferStoreOperation("persist", "error")
		return err
	}
	entries = append(entries, entry)

	if err := s.save(ctx, entries); err != nil {
		metrics.IncBufferStoreOperation("persist", "error")
		return err
	}

	metrics.IncBufferStoreOperation("persist", "success")
	return nil
}

// RetrieveAll returns the persisted buffers in the order they were
// persisted. Snapshots that cannot be decoded are logged and left out.
// Nothing is removed.
func (s *BufferStore) RetrieveAll(ctx context.Context) ([]*events.Buffer, error) {
	s.mu.Lock()
	entries, err := s.load(ctx)
	s.mu.Unlock()
	if err != nil {
		metrics.IncBufferStoreOperation("retrieve", "error")
		return nil, err
	}

	buffers := make([]*events.Buffer, 0, len(entries))
	for i, entry := range entries {
		var snap snapshot
		if err := codec.UnmarshalFramed(entry, &snap); err != nil {
			s.log.WarnwCtx(ctx, "Dropping undecodable buffer snapshot", "index", i, "error", err)
			continue
		}
		buf, err := snap.toBuffer(s.bufferOpts...)
		if err != nil {
			s.log.WarnwCtx(ctx, "Dropping unreadable buffer snapshot", "index", i, "id", snap.ID, "error", err)
			continue
		}
		buffers = append(buffers, buf)
	}

	metrics.IncBufferStoreOperation("retrieve", "success")
	return buffers, nil
}

func (s *BufferStore) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.Remove(ctx, s.key); err != nil {
		metrics.IncBufferStoreOperation("clear", "error")
		return fmt.Errorf("failed to clear persisted buffers: %w", err)
	}
	metrics.IncBufferStoreOperation("clear", "success")
	return nil
}

// LastPersisted reports when the snapshot list was last written.
func (s *BufferStore) LastPersisted(ctx context.Context) (time.Time, bool, error) {
	t, err := s.store.LastWrite(ctx, s.key)
	if errors.Is(err, persistence.ErrNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

func (s *BufferStore) load(ctx context.Context) ([][]byte, error) {
	blob, _, err := s.store.Get(ctx, s.key)
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read persisted buffers: %w", err)
	}

	var entries [][]byte
	if err := codec.Unmarshal(blob, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode persisted buffer list: %w", err)
	}
	return entries, nil
}

func (s *BufferStore) save(ctx context.Context, entries [][]byte) error {
	blob, err := codec.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to encode persisted buffer list: %w", err)
	}
	if err := s.store.Set(ctx, s.key, blob); err != nil {
		return fmt.Errorf("failed to write persisted buffers: %w", err)
	}
	return nil
}
