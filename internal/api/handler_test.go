package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"appevents/internal/bufferstore"
	"appevents/internal/config"
	"appevents/internal/configcache"
	"appevents/internal/coordinator"
	"appevents/internal/events"
	"appevents/internal/filtering"
	"appevents/internal/logger"
	"appevents/internal/persistence"
	apperrors "appevents/pkg/errors"
	"appevents/pkg/health"
	"appevents/pkg/models"
)

const rulesPayload = `{"protectedModeRules":{"blocklist_events":["spam"],"banned_params":["email"]}}`

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

type testServer struct {
	router *gin.Engine
	sink   *captureSink
	coord  *coordinator.Coordinator
}

func newTestServer(t *testing.T, appID string, registry *health.CheckerRegistry) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := logger.NopLogger()

	pipeline, err := filtering.NewPipeline(config.FilteringConfig{}, nil, log)
	require.NoError(t, err)

	appEvents := configcache.NewConfigurationCache(configcache.Options{
		Name: "app_events", AppID: appID, Freshness: time.Hour,
	}, configcache.LoaderFunc(func(context.Context, string) ([]byte, error) {
		return []byte(`{"app_events_config":{"event_collection_enabled":true,"default_ate_status":0}}`), nil
	}), log)

	rules := configcache.New(configcache.Options{
		Name: "rules", AppID: appID, Freshness: time.Hour,
	}, filtering.RuleConfig{}, configcache.LoaderFunc(func(context.Context, string) ([]byte, error) {
		return []byte(rulesPayload), nil
	}), filtering.ParseRuleConfig, log)

	sink := &captureSink{}
	coord, err := coordinator.New(coordinator.Options{IncludeImplicit: true}, coordinator.Dependencies{
		Pipeline:  pipeline,
		AppEvents: appEvents,
		Rules:     rules,
		Store:     bufferstore.New(persistence.NewMemoryStore(), log),
		Sink:      sink,
		Logger:    log,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	router := NewRouter(ctx, coord, RouterOptions{
		App:       config.AppConfig{AppID: appID, ClientToken: "client-token"},
		RateLimit: config.RateLimitConfig{Enabled: true, RPS: 1000, Burst: 1000},
		Health:    registry,
	}, log)

	return &testServer{router: router, sink: sink, coord: coord}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestLogEventsFlushRoundTrip(t *testing.T) {
	s := newTestServer(t, "1234", nil)

	w := s.do(t, http.MethodPost, "/api/v1/config/refresh", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	cfg := decode[ConfigResponse](t, w)
	assert.True(t, cfg.Snapshot.EventCollectionEnabled)
	assert.Equal(t, configcache.ATEAllowed, cfg.Snapshot.DefaultATEStatus)

	w = s.do(t, http.MethodPost, "/api/v1/events", map[string]any{
		"events": []map[string]any{
			{"name": "purchase", "params": map[string]any{"fb_currency": "USD", "email": "a@b.c"}},
			{"name": "spam"},
			{"name": "fb_mobile_activate_app", "implicit": true},
		},
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	resp := decode[LogEventsResponse](t, w)
	assert.Equal(t, 2, resp.Accepted)
	assert.Equal(t, 1, resp.Dropped)
	assert.Equal(t, "filtered", resp.Results[1].Reason)

	w = s.do(t, http.MethodGet, "/api/v1/buffers", nil)
	require.Equal(t, http.StatusOK, w.Code)
	buffers := decode[[]coordinator.BufferInfo](t, w)
	require.Len(t, buffers, 1)
	assert.Equal(t, "client-token", *buffers[0].Token)
	assert.Equal(t, "1234", *buffers[0].AppID)
	assert.Equal(t, 2, buffers[0].Events)

	w = s.do(t, http.MethodPost, "/api/v1/flush", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	flushed := decode[FlushResponse](t, w)
	assert.Equal(t, 1, flushed.Batches)
	assert.Equal(t, 2, flushed.Events)
	assert.Equal(t, models.FlushReasonExplicit, flushed.Reason)

	batches := s.sink.all()
	require.Len(t, batches, 1)
	var records []map[string]any
	require.NoError(t, json.Unmarshal(batches[0].Events, &records))
	require.Len(t, records, 2)
	assert.Equal(t, "purchase", records[0]["_eventName"])
	assert.NotContains(t, records[0], "email")
}

func TestLogEventsExplicitIdentity(t *testing.T) {
	s := newTestServer(t, "1234", nil)

	w := s.do(t, http.MethodPost, "/api/v1/events", map[string]any{
		"token":  "other-token",
		"app_id": "5678",
		"events": []map[string]any{{"name": "purchase"}},
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	buffers := s.coord.Buffers()
	require.Len(t, buffers, 1)
	assert.Equal(t, "other-token", *buffers[0].Token)
	assert.Equal(t, "5678", *buffers[0].AppID)
}

func TestLogEventsValidation(t *testing.T) {
	s := newTestServer(t, "1234", nil)

	tests := []struct {
		name       string
		body       any
		wantStatus int
		wantDrop   int
	}{
		{name: "no events", body: map[string]any{"events": []any{}}, wantStatus: http.StatusBadRequest},
		{name: "missing name", body: map[string]any{"events": []any{map[string]any{"params": map[string]any{}}}}, wantStatus: http.StatusBadRequest},
		{name: "null param", body: map[string]any{"events": []any{map[string]any{"name": "a", "params": map[string]any{"x": nil}}}}, wantStatus: http.StatusBadRequest},
		{
			name:       "invalid name reported per event",
			body:       map[string]any{"events": []any{map[string]any{"name": "-bad"}, map[string]any{"name": "good"}}},
			wantStatus: http.StatusAccepted,
			wantDrop:   1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, http.MethodPost, "/api/v1/events", tt.body)
			require.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			if tt.wantStatus == http.StatusBadRequest {
				assert.Contains(t, w.Body.String(), "VALIDATION_ERROR")
				return
			}
			resp := decode[LogEventsResponse](t, w)
			assert.Equal(t, tt.wantDrop, resp.Dropped)
			assert.NotEmpty(t, resp.Results[0].Reason)
		})
	}
}

// unavailableService fails LogEvent for the listed event names.
type unavailableService struct {
	Service
	failing map[string]bool
}

func (s unavailableService) LogEvent(ctx context.Context, id events.Identity, name string, params models.Params, implicit bool, operational models.Params) (coordinator.LogResult, error) {
	if s.failing[name] {
		return coordinator.LogResult{}, apperrors.ErrServiceUnavailable
	}
	return s.Service.LogEvent(ctx, id, name, params, implicit, operational)
}

func TestLogEventsReportsFailuresPerEvent(t *testing.T) {
	s := newTestServer(t, "1234", nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	s.router = NewRouter(ctx, unavailableService{Service: s.coord, failing: map[string]bool{"boom": true}}, RouterOptions{
		App: config.AppConfig{AppID: "1234", ClientToken: "client-token"},
	}, logger.NopLogger())

	t.Run("partial failure keeps accepted events", func(t *testing.T) {
		w := s.do(t, http.MethodPost, "/api/v1/events", map[string]any{"events": []any{
			map[string]any{"name": "first"},
			map[string]any{"name": "boom"},
			map[string]any{"name": "third"},
		}})
		require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

		resp := decode[LogEventsResponse](t, w)
		assert.Equal(t, 2, resp.Accepted)
		assert.Equal(t, 1, resp.Failed)
		assert.Equal(t, 0, resp.Dropped)
		require.Len(t, resp.Results, 3)
		assert.Equal(t, "SERVICE_UNAVAILABLE", resp.Results[1].ErrorCode)
		assert.True(t, resp.Results[2].Accepted)

		var buffered int
		for _, b := range s.coord.Buffers() {
			buffered += b.Events
		}
		assert.Equal(t, 2, buffered)
	})

	t.Run("all failed returns the error", func(t *testing.T) {
		w := s.do(t, http.MethodPost, "/api/v1/events", map[string]any{"events": []any{
			map[string]any{"name": "boom"},
		}})
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Contains(t, w.Body.String(), "SERVICE_UNAVAILABLE")
	})
}

func TestRefreshConfigWithoutAppID(t *testing.T) {
	s := newTestServer(t, "", nil)

	w := s.do(t, http.MethodPost, "/api/v1/config/refresh", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "INVALID_IDENTITY")
}

func TestGetConfigListsRules(t *testing.T) {
	s := newTestServer(t, "1234", nil)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/v1/config/refresh", nil).Code)

	w := s.do(t, http.MethodGet, "/api/v1/config", nil)
	require.Equal(t, http.StatusOK, w.Code)
	cfg := decode[ConfigResponse](t, w)
	assert.Equal(t, "1234", cfg.AppID)

	enabled := map[string]bool{}
	for _, rule := range cfg.Rules {
		enabled[rule.Name] = rule.Enabled
	}
	assert.True(t, enabled[filtering.RuleBlocklist])
	assert.True(t, enabled[filtering.RuleBanned])
	assert.False(t, enabled[filtering.RuleRedaction])
}

func TestFlushFailureIsReportedWithCounts(t *testing.T) {
	s := newTestServer(t, "1234", nil)
	s.sink.err = errors.New("broker down")

	require.Equal(t, http.StatusAccepted, s.do(t, http.MethodPost, "/api/v1/events", map[string]any{
		"events": []map[string]any{{"name": "purchase"}},
	}).Code)

	w := s.do(t, http.MethodPost, "/api/v1/flush", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	flushed := decode[FlushResponse](t, w)
	assert.Equal(t, 1, flushed.Failed)
	assert.Equal(t, 1, flushed.Persisted)
}

func TestHealthAndRequestID(t *testing.T) {
	registry := health.NewCheckerRegistry()
	registry.Register(health.NewFuncChecker("config", func(context.Context) error { return nil }))
	s := newTestServer(t, "1234", registry)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req-1")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "req-1", w.Header().Get("X-Request-ID"))
	assert.Equal(t, health.StatusHealthy, decode[health.Health](t, w).Status)

	w = s.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
