// Package configcache keeps remotely fetched configuration available
// synchronously and refreshes it with at most one fetch in flight.
package configcache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"appevents/internal/logger"
	"appevents/internal/persistence"
	"appevents/pkg/codec"
	apperrors "appevents/pkg/errors"
	"appevents/pkg/metrics"
	"appevents/pkg/tracing"
)

var ErrMissingAppID = apperrors.ErrInvalidIdentity.WithMessage("no app id configured")

// Parser turns a raw loader payload into a snapshot.
type Parser[T any] func(raw []byte) (T, error)

// Completion receives the current snapshot and the refresh outcome.
type Completion[T any] func(snapshot T, err error)

// stamper lets snapshot types carry their fetch time.
type stamper[T any] interface {
	WithTimestamp(t time.Time) T
}

type persistedState struct {
	Raw       []byte    `cbor:"raw"`
	FetchedAt time.Time `cbor:"fetched_at"`
}

type Options struct {
	Name      string
	AppID     string
	Freshness time.Duration
	// Store and StoreKey are optional. With both set, the last successful
	// payload is kept across restarts.
	Store    persistence.Store
	StoreKey string
	Now      func() time.Time
}

type Cache[T any] struct {
	name      string
	loader    Loader
	parse     Parser[T]
	freshness time.Duration
	store     persistence.Store
	storeKey  string
	log       logger.Logger
	now       func() time.Time

	mu        sync.Mutex
	appID     string
	snapshot  T
	timestamp *time.Time
	completed bool
	fetching  bool
	pending   []Completion[T]
	listeners []func(T)
}

func New[T any](opts Options, initial T, loader Loader, parse Parser[T], log logger.Logger) *Cache[T] {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	c := &Cache[T]{
		name:      opts.Name,
		loader:    loader,
		parse:     parse,
		freshness: opts.Freshness,
		store:     opts.Store,
		storeKey:  opts.StoreKey,
		log:       log,
		now:       now,
		appID:     opts.AppID,
		snapshot:  initial,
	}
	c.restore()
	return c
}

// Cached returns the last known snapshot without waiting on a fetch.
func (c *Cache[T]) Cached() T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot
}

func (c *Cache[T]) Timestamp() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timestamp == nil {
		return time.Time{}, false
	}
	return *c.timestamp, true
}

func (c *Cache[T]) SetTimestamp(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timestamp = &t
	c.snapshot = stamp(c.snapshot, t)
}

// Invalidate makes the next Refresh fetch regardless of freshness.
func (c *Cache[T]) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timestamp = nil
}

func (c *Cache[T]) SetAppID(appID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.appID = appID
}

func (c *Cache[T]) AppID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.appID
}

// OnUpdate registers fn to run after every successful fetch, before the
// waiting completions are invoked.
func (c *Cache[T]) OnUpdate(fn func(T)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Refresh makes sure a fetch happens unless the snapshot is fresh, and
// invokes completion exactly once. It never blocks on the fetch itself.
func (c *Cache[T]) Refresh(completion Completion[T]) {
	c.mu.Lock()

	if c.appID == "" {
		drained := c.pending
		c.pending = nil
		snapshot := c.snapshot
		c.mu.Unlock()

		metrics.IncConfigRefresh(c.name, "missing_app_id")
		for _, pending := range drained {
			pending(snapshot, ErrMissingAppID)
		}
		if completion != nil {
			completion(snapshot, ErrMissingAppID)
		}
		return
	}

	if c.isFreshLocked() {
		snapshot := c.snapshot
		c.mu.Unlock()

		metrics.IncConfigRefresh(c.name, "fresh")
		if completion != nil {
			completion(snapshot, nil)
		}
		return
	}

	if completion != nil {
		c.pending = append(c.pending, completion)
	}

	if c.fetching {
		c.mu.Unlock()
		metrics.IncConfigRefresh(c.name, "coalesced")
		return
	}

	c.fetching = true
	appID := c.appID
	c.mu.Unlock()

	metrics.IncConfigRefresh(c.name, "fetch")
	go c.fetch(appID)
}

// RefreshContext is Refresh for callers that want to wait for the outcome.
// Giving up on ctx does not cancel the fetch.
func (c *Cache[T]) RefreshContext(ctx context.Context) (T, error) {
	type result struct {
		snapshot T
		err      error
	}
	done := make(chan result, 1)

	c.Refresh(func(snapshot T, err error) {
		done <- result{snapshot: snapshot, err: err}
	})

	select {
	case r := <-done:
		return r.snapshot, r.err
	case <-ctx.Done():
		return c.Cached(), ctx.Err()
	}
}

func (c *Cache[T]) isFreshLocked() bool {
	if !c.completed || c.timestamp == nil {
		return false
	}
	return c.now().Sub(*c.timestamp) < c.freshness
}

func (c *Cache[T]) fetch(appID string) {
	// no caller context: the fetch outlives whoever triggered it and the
	// loader bounds it with its own timeout
	ctx, span := tracing.StartSpan(context.Background(), "configcache.fetch",
		attribute.String("cache", c.name),
		attribute.String("app_id", appID),
	)

	start := time.Now()
	raw, err := c.loader.Fetch(ctx, appID)
	var parsed T
	if err == nil {
		parsed, err = c.parse(raw)
		if err != nil {
			err = fmt.Errorf("failed to parse %s: %w", c.name, err)
		}
	}

	status := "success"
	if err != nil {
		status = "error"
		err = apperrors.ErrConfigFetch.WithCause(err)
	}
	metrics.ObserveConfigLoadDuration(c.name, status, time.Since(start))
	tracing.EndSpan(span, err)

	c.mu.Lock()
	var fetchedAt time.Time
	if err == nil {
		fetchedAt = c.now()
		c.snapshot = stamp(parsed, fetchedAt)
		c.timestamp = &fetchedAt
	}
	c.completed = true
	c.fetching = false
	drained := c.pending
	c.pending = nil
	listeners := append([]func(T){}, c.listeners...)
	snapshot := c.snapshot
	c.mu.Unlock()

	if err != nil {
		c.log.WarnwCtx(ctx, "Configuration fetch failed, keeping last known snapshot", "cache", c.name, "app_id", appID, "error", err)
	} else {
		c.log.DebugwCtx(ctx, "Configuration refreshed", "cache", c.name, "app_id", appID)
		for _, fn := range listeners {
			fn(snapshot)
		}
	}

	for _, completion := range drained {
		completion(snapshot, err)
	}

	if err == nil {
		c.persist(raw, fetchedAt)
	}
}

func (c *Cache[T]) persist(raw []byte, fetchedAt time.Time) {
	if c.store == nil || c.storeKey == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	data, err := codec.Marshal(persistedState{Raw: raw, FetchedAt: fetchedAt})
	if err == nil {
		err = c.store.Set(ctx, c.storeKey, data)
	}
	if err != nil {
		c.log.Warnw("Failed to persist configuration", "cache", c.name, "error", err)
	}
}

// restore loads the previously persisted payload. A restored snapshot does
// not count as fetched during this run, so the first Refresh still fetches.
func (c *Cache[T]) restore() {
	if c.store == nil || c.storeKey == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	data, _, err := c.store.Get(ctx, c.storeKey)
	if err != nil {
		if !errors.Is(err, persistence.ErrNotFound) {
			c.log.Warnw("Failed to read persisted configuration", "cache", c.name, "error", err)
		}
		return
	}

	var state persistedState
	if err := codec.Unmarshal(data, &state); err != nil {
		c.log.Warnw("Discarding unreadable persisted configuration", "cache", c.name, "error", err)
		return
	}
	parsed, err := c.parse(state.Raw)
	if err != nil {
		c.log.Warnw("Discarding persisted configuration that no longer parses", "cache", c.name, "error", err)
		return
	}

	fetchedAt := state.FetchedAt
	c.snapshot = stamp(parsed, fetchedAt)
	c.timestamp = &fetchedAt
}

func stamp[T any](v T, t time.Time) T {
	if s, ok := any(v).(stamper[T]); ok {
		return s.WithTimestamp(t)
	}
	return v
}
