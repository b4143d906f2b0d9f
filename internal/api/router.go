package api

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"appevents/internal/config"
	"appevents/internal/constants"
	"appevents/internal/logger"
	"appevents/pkg/health"
	"appevents/pkg/middleware"
	"appevents/pkg/ratelimit"
	"appevents/pkg/tracing"
)

type RouterOptions struct {
	App       config.AppConfig
	RateLimit config.RateLimitConfig
	Tracing   bool
	Health    *health.CheckerRegistry
}

// NewRouter builds the agent's HTTP surface. The rate limiter sweeps idle
// buckets until ctx is done.
func NewRouter(ctx context.Context, service Service, opts RouterOptions, log logger.Logger) *gin.Engine {
	router := gin.New()

	if opts.Tracing {
		router.Use(tracing.GinMiddleware(constants.ServiceName, "/health", "/metrics"))
	}
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.LoggerMiddleware(log))
	router.Use(middleware.RecoveryMiddleware(log))

	registry := opts.Health
	if registry == nil {
		registry = health.NewCheckerRegistry()
	}
	router.GET("/health", registry.Handler())
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if opts.RateLimit.Enabled {
		router.Use(ratelimit.RateLimitMiddleware(ctx, opts.RateLimit, ratelimit.ByAppID))
	}

	NewHandler(service, opts.App, log).RegisterRoutes(router)
	return router
}
