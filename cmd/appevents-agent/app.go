package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"appevents/internal/api"
	"appevents/internal/bufferstore"
	"appevents/internal/config"
	"appevents/internal/config_handler"
	"appevents/internal/configcache"
	"appevents/internal/constants"
	"appevents/internal/coordinator"
	"appevents/internal/filtering"
	"appevents/internal/logger"
	"appevents/internal/persistence"
	"appevents/pkg/bootstrap"
	"appevents/pkg/circuitbreaker"
	"appevents/pkg/health"
	"appevents/pkg/logging"
	"appevents/pkg/metrics"
	"appevents/pkg/models"
	"appevents/pkg/tracing"
)

type App struct {
	*bootstrap.Base
	store          persistence.Store
	appEvents      *configcache.ConfigurationCache
	rules          *coordinator.RulesCache
	coordinator    *coordinator.Coordinator
	configHandler  *config_handler.Handler
	tracerProvider *tracing.TracerProvider
	server         *http.Server
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName(constants.ServiceName)
	}
	return &App{
		Base: bootstrap.NewBase(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	tp, err := tracing.Init(ctx, a.Config.Tracing, constants.ServiceName)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	metrics.Register()

	store, err := persistence.Open(ctx, a.Config.Store, a.Config.CircuitBreaker, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	a.store = store

	a.initCaches()

	if err := a.InitBroker(); err != nil {
		return fmt.Errorf("failed to initialize broker: %w", err)
	}

	if err := a.initCoordinator(ctx); err != nil {
		return fmt.Errorf("failed to initialize coordinator: %w", err)
	}

	a.configHandler = config_handler.NewHandler(models.ServiceTypeAppEvents, a.Logger).
		WithReloader(models.EventTypeRulesUpdated, config_handler.CacheReloader(a.rules)).
		WithReloader(models.EventTypeAppEventsConfigUpdate, config_handler.CacheReloader(a.appEvents)).
		WithAppID(a.appEvents.AppID)

	a.initHTTPServer(ctx)
	return nil
}

func (a *App) initCaches() {
	var loaderOpts []configcache.HTTPLoaderOption
	if cb := a.Config.CircuitBreaker; cb.Enabled {
		breaker := circuitbreaker.NewWrapper(circuitbreaker.FromSettings(
			"config-loader", cb.MaxRequests, cb.Interval, cb.Timeout, cb.MinRequests, cb.FailureRatio,
		))
		loaderOpts = append(loaderOpts, configcache.WithCircuitBreaker(breaker))
	}

	cacheCfg := a.Config.Cache

	a.appEvents = configcache.NewConfigurationCache(configcache.Options{
		Name:      constants.CacheNameAppEvents,
		AppID:     a.Config.App.AppID,
		Freshness: cacheCfg.Freshness,
		Store:     a.store,
		StoreKey:  constants.AppEventsConfigKey,
	}, configcache.NewHTTPLoader(cacheCfg.Loader, cacheCfg.AppEvents.Fields, a.Logger, loaderOpts...), a.Logger)

	a.rules = configcache.New(configcache.Options{
		Name:      constants.CacheNameRules,
		AppID:     a.Config.App.AppID,
		Freshness: cacheCfg.Freshness,
		Store:     a.store,
		StoreKey:  constants.ServerRulesConfigKey,
	}, filtering.RuleConfig{},
		configcache.NewHTTPLoader(cacheCfg.Loader, cacheCfg.Rules.Fields, a.Logger, loaderOpts...),
		filtering.ParseRuleConfig, a.Logger)
}

func (a *App) initCoordinator(ctx context.Context) error {
	pipeline, err := filtering.NewPipeline(a.Config.Filtering, a.Config.App.DeviceContext, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to create filter pipeline: %w", err)
	}

	buffers := bufferstore.New(a.store, a.Logger,
		bufferstore.WithCompressionThreshold(a.Config.Store.CompressionThresholdByte),
	)

	c, err := coordinator.New(coordinator.Options{
		IncludeImplicit:        a.Config.Coordinator.IncludeImplicit,
		RequireEventCollection: a.Config.Coordinator.RequireEventCollection,
		EventThreshold:         a.Config.Flush.EventThreshold,
		FlushInterval:          a.Config.Flush.Interval,
	}, coordinator.Dependencies{
		Pipeline:  pipeline,
		AppEvents: a.appEvents,
		Rules:     a.rules,
		Store:     buffers,
		Sink:      a.Publisher,
		Logger:    a.Logger,
	})
	if err != nil {
		return err
	}
	a.coordinator = c

	restored, err := c.Restore(ctx)
	if err != nil {
		a.Logger.WarnwCtx(ctx, "Failed to restore persisted buffers", "error", err)
	} else if restored > 0 {
		a.Logger.InfowCtx(ctx, "Restored persisted buffers", "buffers", restored)
	}
	return nil
}

func (a *App) initHTTPServer(ctx context.Context) {
	registry := health.NewCheckerRegistry()
	if pinger, ok := a.store.(persistence.Pinger); ok {
		registry.Register(health.NewPingChecker("store", pinger))
	}
	registry.Register(health.NewFuncChecker(constants.CacheNameAppEvents, func(context.Context) error {
		if _, ok := a.appEvents.Timestamp(); !ok {
			return health.Degraded("configuration never fetched")
		}
		return nil
	}))

	router := api.NewRouter(ctx, a.coordinator, api.RouterOptions{
		App:       a.Config.App,
		RateLimit: a.Config.RateLimit,
		Tracing:   a.Config.Tracing.Enabled,
		Health:    registry,
	}, a.Logger)

	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      router,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
	}
}

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.InfowCtx(ctx, "HTTP server starting", "port", a.Config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		return a.coordinator.StartFlusher(gCtx)
	})

	g.Go(func() error {
		return a.runRefresher(gCtx)
	})

	if a.Consumer != nil {
		g.Go(func() error {
			configCtx := logging.WithServiceName(gCtx, constants.ServiceName)
			a.Logger.InfowCtx(configCtx, "Starting config update event consumer",
				"topic", a.Config.Broker.Kafka.ConfigUpdateTopic,
			)
			return a.Consumer.Consume(gCtx, a.configHandler.HandleConfigUpdateEvent)
		})
	}

	return g.Wait()
}

// runRefresher keeps both caches warm so requests rarely see stale config.
func (a *App) runRefresher(ctx context.Context) error {
	interval := a.Config.Cache.Freshness
	if interval <= 0 {
		interval = time.Hour
	}

	refresh := func() {
		refreshCtx, cancel := context.WithTimeout(ctx, constants.DefaultHTTPTimeout)
		defer cancel()
		if _, err := a.coordinator.RefreshConfig(refreshCtx); err != nil && ctx.Err() == nil {
			a.Logger.WarnwCtx(refreshCtx, "Configuration refresh failed", "error", err)
		}
	}

	refresh()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			refresh()
		}
	}
}

func (a *App) Shutdown(ctx context.Context) error {
	shutdownCtx := logging.WithServiceName(ctx, constants.ServiceName)
	a.Logger.InfowCtx(shutdownCtx, "Shutting down appevents agent")

	additionalShutdown := func(ctx context.Context) []error {
		var errs []error

		if a.coordinator != nil {
			result, err := a.coordinator.Flush(ctx, models.FlushReasonShutdown)
			if err != nil {
				errs = append(errs, fmt.Errorf("final flush error: %w", err))
			}
			a.Logger.InfowCtx(ctx, "Final flush complete",
				"batches", result.Batches,
				"events", result.Events,
				"persisted", result.Persisted,
			)

			if persisted, err := a.coordinator.PersistAll(ctx); err != nil {
				errs = append(errs, fmt.Errorf("persist buffers error: %w", err))
			} else if persisted > 0 {
				a.Logger.InfowCtx(ctx, "Persisted remaining buffers", "buffers", persisted)
			}
		}

		if a.tracerProvider != nil {
			if err := a.tracerProvider.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("tracer provider shutdown error: %w", err))
			}
		}

		return errs
	}

	err := a.Base.Shutdown(ctx, additionalShutdown)

	if a.store != nil {
		if closeErr := a.store.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("store close error: %w", closeErr)
		}
	}
	return err
}
