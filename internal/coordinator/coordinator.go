// Package coordinator wires the filter pipeline, the per-identity event
// buffers, the configuration caches and the batch sink together.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"appevents/internal/bufferstore"
	"appevents/internal/configcache"
	"appevents/internal/events"
	"appevents/internal/filtering"
	"appevents/internal/logger"
	apperrors "appevents/pkg/errors"
	"appevents/pkg/logging"
	"appevents/pkg/metrics"
	"appevents/pkg/models"
	"appevents/pkg/tracing"
)

// Sink receives flushed batches.
type Sink interface {
	Publish(ctx context.Context, batch models.BatchEnvelope) error
}

type SinkFunc func(ctx context.Context, batch models.BatchEnvelope) error

func (f SinkFunc) Publish(ctx context.Context, batch models.BatchEnvelope) error {
	return f(ctx, batch)
}

// RulesCache is the cache holding the server side filter rules.
type RulesCache = configcache.Cache[filtering.RuleConfig]

type Options struct {
	IncludeImplicit        bool
	RequireEventCollection bool
	// EventThreshold signals a flush once a buffer holds this many events.
	// Zero disables threshold flushes.
	EventThreshold int
	FlushInterval  time.Duration
	Now            func() time.Time
}

type Dependencies struct {
	Pipeline   *filtering.Pipeline
	AppEvents  *configcache.ConfigurationCache
	Rules      *RulesCache
	Store      *bufferstore.BufferStore
	Sink       Sink
	Processors *events.ProcessorRegistry
	Logger     logger.Logger
}

// slot owns the buffer of one identity. A retired slot has been handed to a
// flush; writers that raced with it look the identity up again.
type slot struct {
	mu      sync.Mutex
	buf     *events.Buffer
	retired bool
}

type Coordinator struct {
	opts       Options
	pipeline   *filtering.Pipeline
	appEvents  *configcache.ConfigurationCache
	rules      *RulesCache
	store      *bufferstore.BufferStore
	sink       Sink
	processors *events.ProcessorRegistry
	logger     logger.Logger

	mu    sync.Mutex
	slots map[string]*slot

	flushSignal chan struct{}
	flushMu     sync.Mutex
}

func New(opts Options, deps Dependencies) (*Coordinator, error) {
	if deps.Pipeline == nil || deps.AppEvents == nil || deps.Rules == nil || deps.Store == nil || deps.Sink == nil {
		return nil, fmt.Errorf("coordinator: pipeline, caches, store and sink are required")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if deps.Processors == nil {
		deps.Processors = events.NewProcessorRegistry()
	}

	c := &Coordinator{
		opts:        opts,
		pipeline:    deps.Pipeline,
		appEvents:   deps.AppEvents,
		rules:       deps.Rules,
		store:       deps.Store,
		sink:        deps.Sink,
		processors:  deps.Processors,
		logger:      deps.Logger,
		slots:       make(map[string]*slot),
		flushSignal: make(chan struct{}, 1),
	}

	// rules restored from an earlier run apply until the first fetch lands
	c.pipeline.Configure(c.rules.Cached())
	c.rules.OnUpdate(c.pipeline.Configure)

	return c, nil
}

type LogResult struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

const (
	dropReasonCollectionDisabled = "event_collection_disabled"
	dropReasonFiltered           = "filtered"
	dropReasonBufferFull         = "buffer_full"
)

// LogEvent filters one event and appends it to the buffer of id. A dropped
// event is not an error.
func (c *Coordinator) LogEvent(ctx context.Context, id events.Identity, name string, params models.Params, implicit bool, operational models.Params) (LogResult, error) {
	if err := models.ValidateEventName(name); err != nil {
		metrics.IncEventsLogged("invalid")
		return LogResult{}, apperrors.ErrValidation.WithMessage(err.Error()).WithCause(err)
	}
	if err := models.ValidateParams(params); err != nil {
		metrics.IncEventsLogged("invalid")
		return LogResult{}, apperrors.ErrValidation.WithMessage(err.Error()).WithCause(err)
	}

	ctx = logging.WithEventName(ctx, name)
	defer c.refreshCaches()

	snapshot := c.appEvents.Cached()
	if c.opts.RequireEventCollection && !snapshot.EventCollectionEnabled {
		metrics.IncEventsLogged(dropReasonCollectionDisabled)
		return LogResult{Reason: dropReasonCollectionDisabled}, nil
	}

	filtered, kept := c.pipeline.Apply(ctx, filtering.Event{Name: name, Params: params})
	if !kept {
		metrics.IncEventsLogged(dropReasonFiltered)
		return LogResult{Reason: dropReasonFiltered}, nil
	}

	record := models.NewRecordBuilder(filtered.Name).
		WithParams(filtered.Params).
		WithParam(models.ParamEventName, models.String(filtered.Name)).
		Implicit(implicit).
		WithLogTime(c.opts.Now()).
		Build()

	added, size := c.append(id, record, operational)
	if !added {
		metrics.IncEventsLogged(dropReasonBufferFull)
		c.logger.WarnwCtx(ctx, "Buffer full, event counted as skipped", "buffer_size", size)
		return LogResult{Reason: dropReasonBufferFull}, nil
	}

	metrics.IncEventsLogged("accepted")
	metrics.AddBufferedEvents(1)

	if c.opts.EventThreshold > 0 && size >= c.opts.EventThreshold {
		c.signalFlush()
	}
	return LogResult{Accepted: true}, nil
}

func (c *Coordinator) append(id events.Identity, record models.EventRecord, operational models.Params) (added bool, size int) {
	c.withBuffer(id, func(buf *events.Buffer) {
		before := buf.Len()
		buf.AddEvent(record, operational)
		size = buf.Len()
		added = size > before
	})
	return added, size
}

// withBuffer runs fn under the slot lock of id's live buffer.
func (c *Coordinator) withBuffer(id events.Identity, fn func(buf *events.Buffer)) {
	for {
		s := c.slotFor(id)
		s.mu.Lock()
		if s.retired {
			s.mu.Unlock()
			continue
		}
		fn(s.buf)
		s.mu.Unlock()
		return
	}
}

func (c *Coordinator) slotFor(id events.Identity) *slot {
	key := id.Key()

	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.slots[key]
	if !ok {
		s = &slot{buf: events.NewBufferFor(id, events.WithProcessors(c.processors))}
		c.slots[key] = s
	}
	return s
}

// takeAll detaches every buffer. Writers that still hold a slot see it
// retired and start a new buffer.
func (c *Coordinator) takeAll() []*events.Buffer {
	c.mu.Lock()
	slots := c.slots
	c.slots = make(map[string]*slot)
	c.mu.Unlock()

	keys := make([]string, 0, len(slots))
	for key := range slots {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	buffers := make([]*events.Buffer, 0, len(slots))
	for _, key := range keys {
		s := slots[key]
		s.mu.Lock()
		s.retired = true
		buf := s.buf
		s.mu.Unlock()
		if buf.Len() > 0 || buf.SkippedCount() > 0 {
			buffers = append(buffers, buf)
		}
	}
	return buffers
}

func (c *Coordinator) refreshCaches() {
	c.appEvents.Refresh(nil)
	c.rules.Refresh(nil)
}

func (c *Coordinator) signalFlush() {
	select {
	case c.flushSignal <- struct{}{}:
	default:
	}
}

type FlushResult struct {
	Batches   int `json:"batches"`
	Events    int `json:"events"`
	Failed    int `json:"failed"`
	Persisted int `json:"persisted"`
}

// Flush publishes every non-empty buffer to the sink. Buffers the sink
// rejects are persisted so they are retried on the next start.
func (c *Coordinator) Flush(ctx context.Context, reason string) (FlushResult, error) {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	ctx, span := tracing.StartSpan(ctx, "coordinator.flush", attribute.String("reason", reason))
	start := time.Now()

	var result FlushResult
	var errs []error

	for _, buf := range c.takeAll() {
		metrics.AddBufferedEvents(-buf.Len())

		if buf.Len() == 0 || (buf.AllImplicit() && !c.opts.IncludeImplicit) {
			continue
		}

		batch, pending, err := c.buildBatch(ctx, buf, reason)
		if err == nil {
			err = c.sink.Publish(ctx, batch)
		}
		if err == nil {
			result.Batches++
			result.Events += batch.EventCount
			continue
		}

		result.Failed++
		c.logger.ErrorwCtx(ctx, "Failed to publish batch, persisting for retry",
			"reason", reason,
			"events", buf.Len(),
			"error", err,
		)
		if !pending.IsValidForPersistence() {
			c.logger.WarnwCtx(ctx, "Dropping unsent buffer without a complete identity", "buffer", pending.String())
			continue
		}
		if persistErr := c.store.Persist(ctx, pending); persistErr != nil {
			errs = append(errs, fmt.Errorf("failed to persist unsent buffer: %w", persistErr))
			continue
		}
		result.Persisted++
	}

	status := "success"
	if result.Failed > 0 {
		status = "partial"
	}
	err := errors.Join(errs...)
	if err != nil {
		status = "error"
	}
	metrics.IncFlush(reason, status)
	metrics.ObserveFlushDuration(reason, time.Since(start))
	span.SetAttributes(
		attribute.Int("batches", result.Batches),
		attribute.Int("failed", result.Failed),
	)
	tracing.EndSpan(span, err)

	if result.Batches > 0 || result.Failed > 0 {
		c.logger.InfowCtx(ctx, "Flushed event buffers",
			"reason", reason,
			"batches", result.Batches,
			"events", result.Events,
			"failed", result.Failed,
		)
	}
	return result, err
}

// buildBatch serializes buf. The returned pending buffer still carries the
// receipt data so a failed publish can persist it unchanged.
func (c *Coordinator) buildBatch(ctx context.Context, buf *events.Buffer, reason string) (models.BatchEnvelope, *events.Buffer, error) {
	pending := buf.Clone()

	receipts := buf.ExtractReceiptData()
	data, err := buf.SerializeEvents(c.opts.IncludeImplicit)
	if err != nil {
		return models.BatchEnvelope{}, pending, err
	}

	count := 0
	for _, record := range buf.Events() {
		if c.opts.IncludeImplicit || !record.Implicit {
			count++
		}
	}

	var token, appID string
	if t := buf.Token(); t != nil {
		token = *t
	}
	if a := buf.AppID(); a != nil {
		appID = *a
	}

	return models.BatchEnvelope{
		ID:           uuid.New().String(),
		AppID:        appID,
		Token:        token,
		Events:       data,
		EventCount:   count,
		SkippedCount: buf.SkippedCount(),
		AllImplicit:  buf.AllImplicit(),
		ReceiptData:  receipts,
		Reason:       reason,
		FlushedAt:    c.opts.Now().UTC(),
		Metadata: models.Metadata{
			TraceID: tracing.TraceID(ctx),
		},
	}, pending, nil
}

// PersistAll moves every buffer into the buffer store.
func (c *Coordinator) PersistAll(ctx context.Context) (int, error) {
	var errs []error
	persisted := 0
	for _, buf := range c.takeAll() {
		metrics.AddBufferedEvents(-buf.Len())
		if !buf.IsValidForPersistence() {
			c.logger.WarnwCtx(ctx, "Dropping buffer without a complete identity", "buffer", buf.String())
			continue
		}
		if err := c.store.Persist(ctx, buf); err != nil {
			errs = append(errs, err)
			continue
		}
		persisted++
	}
	return persisted, errors.Join(errs...)
}

// Restore merges previously persisted buffers into the live ones and clears
// the store.
func (c *Coordinator) Restore(ctx context.Context) (int, error) {
	restored, err := c.store.RetrieveAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to retrieve persisted buffers: %w", err)
	}

	for _, buf := range restored {
		c.withBuffer(buf.Identity(), func(live *events.Buffer) {
			before := live.Len()
			live.MergeFrom(buf)
			metrics.AddBufferedEvents(live.Len() - before)
		})
	}

	if err := c.store.ClearAll(ctx); err != nil {
		return len(restored), fmt.Errorf("failed to clear persisted buffers: %w", err)
	}

	if len(restored) > 0 {
		c.logger.InfowCtx(ctx, "Restored persisted buffers", "buffers", len(restored))
	}
	return len(restored), nil
}

// StartFlusher flushes on every tick and whenever a buffer reaches the event
// threshold, until ctx is done.
func (c *Coordinator) StartFlusher(ctx context.Context) error {
	interval := c.opts.FlushInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := c.Flush(ctx, models.FlushReasonTimer); err != nil {
				c.logger.ErrorwCtx(ctx, "Timed flush failed", "error", err)
			}
		case <-c.flushSignal:
			if _, err := c.Flush(ctx, models.FlushReasonThreshold); err != nil {
				c.logger.ErrorwCtx(ctx, "Threshold flush failed", "error", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// RefreshConfig waits for both caches to refresh and returns the app events
// snapshot.
func (c *Coordinator) RefreshConfig(ctx context.Context) (configcache.ConfigurationSnapshot, error) {
	if _, err := c.rules.RefreshContext(ctx); err != nil {
		c.logger.WarnwCtx(ctx, "Rule configuration refresh failed", "error", err)
	}
	return c.appEvents.RefreshContext(ctx)
}

type BufferInfo struct {
	Token       *string `json:"token"`
	AppID       *string `json:"app_id"`
	Events      int     `json:"events"`
	Skipped     uint64  `json:"skipped"`
	AllImplicit bool    `json:"all_implicit"`
}

func (c *Coordinator) Buffers() []BufferInfo {
	c.mu.Lock()
	slots := make([]*slot, 0, len(c.slots))
	for _, s := range c.slots {
		slots = append(slots, s)
	}
	c.mu.Unlock()

	infos := make([]BufferInfo, 0, len(slots))
	for _, s := range slots {
		s.mu.Lock()
		infos = append(infos, BufferInfo{
			Token:       s.buf.Token(),
			AppID:       s.buf.AppID(),
			Events:      s.buf.Len(),
			Skipped:     s.buf.SkippedCount(),
			AllImplicit: s.buf.AllImplicit(),
		})
		s.mu.Unlock()
	}
	sort.Slice(infos, func(i, j int) bool {
		return events.Identity{Token: infos[i].Token, AppID: infos[i].AppID}.Key() <
			events.Identity{Token: infos[j].Token, AppID: infos[j].AppID}.Key()
	})
	return infos
}

func (c *Coordinator) Pipeline() *filtering.Pipeline {
	return c.pipeline
}

func (c *Coordinator) AppEventsConfig() configcache.ConfigurationSnapshot {
	return c.appEvents.Cached()
}

func (c *Coordinator) Processors() *events.ProcessorRegistry {
	return c.processors
}
