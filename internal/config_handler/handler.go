package config_handler

import (
	"context"

	"appevents/internal/configcache"
	"appevents/internal/logger"
	"appevents/pkg/models"
)

// Reloader drops a cached configuration and fetches it again.
type Reloader interface {
	Reload(ctx context.Context) error
}

type ReloaderFunc func(ctx context.Context) error

func (f ReloaderFunc) Reload(ctx context.Context) error {
	return f(ctx)
}

// CacheReloader invalidates c and waits for the refetch.
func CacheReloader[T any](c *configcache.Cache[T]) Reloader {
	return ReloaderFunc(func(ctx context.Context) error {
		c.Invalidate()
		_, err := c.RefreshContext(ctx)
		return err
	})
}

// Handler reacts to config update notices by reloading the cache that owns
// the changed configuration.
type Handler struct {
	expectedServiceType string
	appID               func() string
	reloaders           map[string]Reloader
	logger              logger.Logger
}

func NewHandler(expectedServiceType string, log logger.Logger) *Handler {
	return &Handler{
		expectedServiceType: expectedServiceType,
		reloaders:           make(map[string]Reloader),
		logger:              log,
	}
}

func (h *Handler) WithReloader(eventType string, reloader Reloader) *Handler {
	h.reloaders[eventType] = reloader
	return h
}

// WithAppID ignores notices addressed to other apps. Notices without an app
// id always apply.
func (h *Handler) WithAppID(appID func() string) *Handler {
	h.appID = appID
	return h
}

func (h *Handler) HandleConfigUpdateEvent(ctx context.Context, event models.ConfigUpdateEvent) error {
	if event.EventType == "" {
		h.logger.WarnwCtx(ctx, "Config event missing event_type", "action", event.Action)
		return nil
	}

	reloader, ok := h.reloaders[event.EventType]
	if !ok {
		return nil
	}

	if event.ServiceType != "" && event.ServiceType != h.expectedServiceType {
		return nil
	}

	if h.appID != nil && event.AppID != "" {
		if own := h.appID(); own != "" && own != event.AppID {
			h.logger.DebugwCtx(ctx, "Ignoring config event for another app",
				"event_app_id", event.AppID,
				"app_id", own,
			)
			return nil
		}
	}

	h.logger.InfowCtx(ctx, "Received config update event",
		"event_type", event.EventType,
		"action", event.Action,
		"changed_by", event.ChangedBy,
	)

	if err := reloader.Reload(ctx); err != nil {
		h.logger.ErrorwCtx(ctx, "Failed to reload config after update",
			"error", err,
			"event_type", event.EventType,
		)
		return err
	}

	h.logger.InfowCtx(ctx, "Config reloaded after update", "event_type", event.EventType)
	return nil
}
