package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"appevents/internal/bufferstore"
	"appevents/internal/config"
	"appevents/internal/configcache"
	"appevents/internal/events"
	"appevents/internal/filtering"
	"appevents/internal/logger"
	"appevents/internal/persistence"
	apperrors "appevents/pkg/errors"
	"appevents/pkg/models"
)

const collectionEnabled = `{"app_events_config":{"event_collection_enabled":true}}`

type captureSink struct {
	mu      sync.Mutex
	batches []models.BatchEnvelope
	err     error
}

func (s *captureSink) Publish(_ context.Context, batch models.BatchEnvelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.batches = append(s.batches, batch)
	return nil
}

func (s *captureSink) all() []models.BatchEnvelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.BatchEnvelope(nil), s.batches...)
}

type fixture struct {
	coordinator *Coordinator
	sink        *captureSink
	store       persistence.Store
}

type fixtureOptions struct {
	opts        Options
	appConfig   string
	rulesConfig string
	store       persistence.Store
	sinkErr     error
}

func newFixture(t *testing.T, fo fixtureOptions) *fixture {
	t.Helper()
	log := logger.NopLogger()

	if fo.appConfig == "" {
		fo.appConfig = collectionEnabled
	}
	if fo.rulesConfig == "" {
		fo.rulesConfig = `{}`
	}
	if fo.store == nil {
		fo.store = persistence.NewMemoryStore()
	}

	pipeline, err := filtering.NewPipeline(config.FilteringConfig{}, nil, log)
	require.NoError(t, err)

	appEvents := configcache.NewConfigurationCache(configcache.Options{
		Name: "app_events", AppID: "a", Freshness: time.Hour,
	}, configcache.LoaderFunc(func(ctx context.Context, appID string) ([]byte, error) {
		return []byte(fo.appConfig), nil
	}), log)

	rules := configcache.New(configcache.Options{
		Name: "rules", AppID: "a", Freshness: time.Hour,
	}, filtering.RuleConfig{}, configcache.LoaderFunc(func(ctx context.Context, appID string) ([]byte, error) {
		return []byte(fo.rulesConfig), nil
	}), filtering.ParseRuleConfig, log)

	sink := &captureSink{err: fo.sinkErr}
	c, err := New(fo.opts, Dependencies{
		Pipeline:  pipeline,
		AppEvents: appEvents,
		Rules:     rules,
		Store:     bufferstore.New(fo.store, log),
		Sink:      sink,
		Logger:    log,
	})
	require.NoError(t, err)

	return &fixture{coordinator: c, sink: sink, store: fo.store}
}

func decodeEvents(t *testing.T, batch models.BatchEnvelope) []map[string]any {
	t.Helper()
	var out []map[string]any
	require.NoError(t, json.Unmarshal(batch.Events, &out))
	return out
}

func TestLogAndFlushExcludesImplicitEvents(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	ctx := context.Background()
	id := events.NewIdentity("t", "a")

	res, err := f.coordinator.LogEvent(ctx, id, "fb_mobile_activate_app", nil, true, nil)
	require.NoError(t, err)
	assert.True(t, res.Accepted)

	res, err = f.coordinator.LogEvent(ctx, id, "purchase", models.Params{"value": models.Number(4.5)}, false, nil)
	require.NoError(t, err)
	assert.True(t, res.Accepted)

	result, err := f.coordinator.Flush(ctx, models.FlushReasonExplicit)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Batches)

	batches := f.sink.all()
	require.Len(t, batches, 1)
	batch := batches[0]
	assert.Equal(t, "t", batch.Token)
	assert.Equal(t, "a", batch.AppID)
	assert.Equal(t, 1, batch.EventCount)
	assert.False(t, batch.AllImplicit)
	assert.Equal(t, models.FlushReasonExplicit, batch.Reason)

	evs := decodeEvents(t, batch)
	require.Len(t, evs, 1)
	assert.Equal(t, "purchase", evs[0]["_eventName"])
	assert.Equal(t, 4.5, evs[0]["value"])
	assert.Contains(t, evs[0], "_logTime")

	assert.Empty(t, f.coordinator.Buffers())
}

func TestFlushIncludesImplicitWhenConfigured(t *testing.T) {
	f := newFixture(t, fixtureOptions{opts: Options{IncludeImplicit: true}})
	ctx := context.Background()

	_, err := f.coordinator.LogEvent(ctx, events.NewIdentity("t", "a"), "fb_mobile_activate_app", nil, true, nil)
	require.NoError(t, err)

	_, err = f.coordinator.Flush(ctx, models.FlushReasonExplicit)
	require.NoError(t, err)

	batches := f.sink.all()
	require.Len(t, batches, 1)
	assert.True(t, batches[0].AllImplicit)
	evs := decodeEvents(t, batches[0])
	require.Len(t, evs, 1)
	assert.Equal(t, "1", evs[0]["_implicitlyLogged"])
}

func TestLogEventRequiresEventCollection(t *testing.T) {
	f := newFixture(t, fixtureOptions{opts: Options{RequireEventCollection: true}})
	ctx := context.Background()
	id := events.NewIdentity("t", "a")

	res, err := f.coordinator.LogEvent(ctx, id, "purchase", nil, false, nil)
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Equal(t, dropReasonCollectionDisabled, res.Reason)

	_, err = f.coordinator.RefreshConfig(ctx)
	require.NoError(t, err)

	res, err = f.coordinator.LogEvent(ctx, id, "purchase", nil, false, nil)
	require.NoError(t, err)
	assert.True(t, res.Accepted)
}

func TestRulesRefreshReconfiguresPipeline(t *testing.T) {
	f := newFixture(t, fixtureOptions{
		rulesConfig: `{"protectedModeRules":{"banned_params":["email"],"blocklist_events":["spam"]}}`,
	})
	ctx := context.Background()
	id := events.NewIdentity("t", "a")

	_, err := f.coordinator.RefreshConfig(ctx)
	require.NoError(t, err)

	res, err := f.coordinator.LogEvent(ctx, id, "spam", nil, false, nil)
	require.NoError(t, err)
	assert.Equal(t, dropReasonFiltered, res.Reason)

	params := models.Params{"email": models.String("a@b.c"), "plan": models.String("pro")}
	_, err = f.coordinator.LogEvent(ctx, id, "signup", params, false, nil)
	require.NoError(t, err)
	assert.Contains(t, params, "email", "caller params must not change")

	_, err = f.coordinator.Flush(ctx, models.FlushReasonExplicit)
	require.NoError(t, err)
	evs := decodeEvents(t, f.sink.all()[0])
	require.Len(t, evs, 1)
	assert.NotContains(t, evs[0], "email")
	assert.Equal(t, "pro", evs[0]["plan"])
}

func TestLogEventRejectsInvalidNames(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	_, err := f.coordinator.LogEvent(context.Background(), events.NewIdentity("t", "a"), " ", nil, false, nil)
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestFailedFlushIsPersistedAndRestored(t *testing.T) {
	store := persistence.NewMemoryStore()
	ctx := context.Background()
	id := events.NewIdentity("t", "a")

	failing := newFixture(t, fixtureOptions{store: store, sinkErr: errors.New("broker down")})
	_, err := failing.coordinator.LogEvent(ctx, id, "purchase", models.Params{"receipt_data": models.String("r1")}, false, nil)
	require.NoError(t, err)

	result, err := failing.coordinator.Flush(ctx, models.FlushReasonExplicit)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 1, result.Persisted)

	next := newFixture(t, fixtureOptions{store: store})
	restored, err := next.coordinator.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, restored)

	infos := next.coordinator.Buffers()
	require.Len(t, infos, 1)
	assert.Equal(t, 1, infos[0].Events)

	_, err = next.coordinator.Flush(ctx, models.FlushReasonExplicit)
	require.NoError(t, err)
	batches := next.sink.all()
	require.Len(t, batches, 1)
	assert.Equal(t, "receipt_1::r1;;;", batches[0].ReceiptData)

	again, err := next.coordinator.Restore(ctx)
	require.NoError(t, err)
	assert.Zero(t, again, "restore clears the store")
}

func TestPersistAllAndRestoreMergesCompatibleBuffers(t *testing.T) {
	store := persistence.NewMemoryStore()
	ctx := context.Background()
	id := events.NewIdentity("t", "a")

	first := newFixture(t, fixtureOptions{store: store})
	for i := 0; i < 3; i++ {
		_, err := first.coordinator.LogEvent(ctx, id, "purchase", nil, false, nil)
		require.NoError(t, err)
	}
	_, err := first.coordinator.LogEvent(ctx, events.Identity{}, "purchase", nil, false, nil)
	require.NoError(t, err)

	persisted, err := first.coordinator.PersistAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, persisted, "buffers without identity are not persisted")

	second := newFixture(t, fixtureOptions{store: store})
	_, err = second.coordinator.LogEvent(ctx, id, "view", nil, false, nil)
	require.NoError(t, err)

	_, err = second.coordinator.Restore(ctx)
	require.NoError(t, err)

	infos := second.coordinator.Buffers()
	require.Len(t, infos, 1)
	assert.Equal(t, 4, infos[0].Events)
}

func TestThresholdTriggersFlush(t *testing.T) {
	f := newFixture(t, fixtureOptions{opts: Options{EventThreshold: 2, FlushInterval: time.Hour}})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- f.coordinator.StartFlusher(ctx) }()

	id := events.NewIdentity("t", "a")
	for i := 0; i < 2; i++ {
		_, err := f.coordinator.LogEvent(context.Background(), id, "purchase", nil, false, nil)
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		batches := f.sink.all()
		return len(batches) == 1 && batches[0].Reason == models.FlushReasonThreshold
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestBufferOverflowCountsSkipped(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	ctx := context.Background()
	id := events.NewIdentity("t", "a")

	for i := 0; i < events.MaxEvents; i++ {
		res, err := f.coordinator.LogEvent(ctx, id, "purchase", nil, false, nil)
		require.NoError(t, err)
		require.True(t, res.Accepted)
	}
	res, err := f.coordinator.LogEvent(ctx, id, "purchase", nil, false, nil)
	require.NoError(t, err)
	assert.Equal(t, dropReasonBufferFull, res.Reason)

	infos := f.coordinator.Buffers()
	require.Len(t, infos, 1)
	assert.Equal(t, events.MaxEvents, infos[0].Events)
	assert.Equal(t, uint64(1), infos[0].Skipped)

	_, err = f.coordinator.Flush(ctx, models.FlushReasonExplicit)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), f.sink.all()[0].SkippedCount)
}

func TestConcurrentLoggingWhileFlushing(t *testing.T) {
	f := newFixture(t, fixtureOptions{opts: Options{IncludeImplicit: true}})
	ctx := context.Background()
	id := events.NewIdentity("t", "a")

	const writers, perWriter = 8, 50
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_, _ = f.coordinator.LogEvent(ctx, id, "tick", nil, false, nil)
			}
		}()
	}

	flushed := 0
	stop := make(chan struct{})
	var flushWG sync.WaitGroup
	flushWG.Add(1)
	go func() {
		defer flushWG.Done()
		for {
			select {
			case <-stop:
				return
			default:
				res, _ := f.coordinator.Flush(ctx, models.FlushReasonTimer)
				flushed += res.Events
			}
		}
	}()

	wg.Wait()
	close(stop)
	flushWG.Wait()

	res, err := f.coordinator.Flush(ctx, models.FlushReasonShutdown)
	require.NoError(t, err)
	flushed += res.Events

	assert.Equal(t, writers*perWriter, flushed)
}
