package config_handler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"appevents/internal/configcache"
	"appevents/internal/logger"
	"appevents/pkg/models"
)

type countingReloader struct {
	calls atomic.Int32
	err   error
}

func (r *countingReloader) Reload(context.Context) error {
	r.calls.Add(1)
	return r.err
}

func TestHandlerRoutesByEventType(t *testing.T) {
	rules := &countingReloader{}
	appEvents := &countingReloader{}
	h := NewHandler(models.ServiceTypeAppEvents, logger.NopLogger()).
		WithReloader(models.EventTypeRulesUpdated, rules).
		WithReloader(models.EventTypeAppEventsConfigUpdate, appEvents).
		WithAppID(func() string { return "1234" })

	tests := []struct {
		name          string
		event         models.ConfigUpdateEvent
		wantRules     int32
		wantAppEvents int32
	}{
		{
			name:      "rules update",
			event:     models.ConfigUpdateEvent{EventType: models.EventTypeRulesUpdated, ServiceType: models.ServiceTypeAppEvents, AppID: "1234"},
			wantRules: 1,
		},
		{
			name:          "app events config update",
			event:         models.ConfigUpdateEvent{EventType: models.EventTypeAppEventsConfigUpdate, ServiceType: models.ServiceTypeAppEvents},
			wantAppEvents: 1,
		},
		{
			name:      "missing service type applies",
			event:     models.ConfigUpdateEvent{EventType: models.EventTypeRulesUpdated},
			wantRules: 1,
		},
		{
			name:  "other service ignored",
			event: models.ConfigUpdateEvent{EventType: models.EventTypeRulesUpdated, ServiceType: "filtering"},
		},
		{
			name:  "other app ignored",
			event: models.ConfigUpdateEvent{EventType: models.EventTypeRulesUpdated, AppID: "9999"},
		},
		{
			name:  "unknown event type ignored",
			event: models.ConfigUpdateEvent{EventType: "fields_updated"},
		},
		{
			name:  "missing event type ignored",
			event: models.ConfigUpdateEvent{ServiceType: models.ServiceTypeAppEvents},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rules.calls.Store(0)
			appEvents.calls.Store(0)

			require.NoError(t, h.HandleConfigUpdateEvent(context.Background(), tt.event))
			assert.Equal(t, tt.wantRules, rules.calls.Load())
			assert.Equal(t, tt.wantAppEvents, appEvents.calls.Load())
		})
	}
}

func TestHandlerReturnsReloadError(t *testing.T) {
	reloadErr := errors.New("fetch failed")
	h := NewHandler(models.ServiceTypeAppEvents, logger.NopLogger()).
		WithReloader(models.EventTypeRulesUpdated, &countingReloader{err: reloadErr})

	err := h.HandleConfigUpdateEvent(context.Background(), models.ConfigUpdateEvent{EventType: models.EventTypeRulesUpdated})
	assert.ErrorIs(t, err, reloadErr)
}

func TestCacheReloaderRefetchesFreshCache(t *testing.T) {
	var fetches atomic.Int32
	loader := configcache.LoaderFunc(func(context.Context, string) ([]byte, error) {
		n := fetches.Add(1)
		if n == 1 {
			return []byte(`{"app_events_config":{"event_collection_enabled":false}}`), nil
		}
		return []byte(`{"app_events_config":{"event_collection_enabled":true}}`), nil
	})
	cache := configcache.NewConfigurationCache(configcache.Options{
		Name:      "app_events",
		AppID:     "1234",
		Freshness: time.Hour,
	}, loader, logger.NopLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	snapshot, err := cache.RefreshContext(ctx)
	require.NoError(t, err)
	assert.False(t, snapshot.EventCollectionEnabled)

	_, err = cache.RefreshContext(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, fetches.Load())

	h := NewHandler(models.ServiceTypeAppEvents, logger.NopLogger()).
		WithReloader(models.EventTypeAppEventsConfigUpdate, CacheReloader(cache))
	require.NoError(t, h.HandleConfigUpdateEvent(ctx, models.ConfigUpdateEvent{
		EventType: models.EventTypeAppEventsConfigUpdate,
		AppID:     "1234",
	}))

	assert.EqualValues(t, 2, fetches.Load())
	assert.True(t, cache.Cached().EventCollectionEnabled)
}
