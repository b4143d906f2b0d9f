package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"appevents/internal/config"
	"appevents/internal/configcache"
	"appevents/internal/coordinator"
	"appevents/internal/events"
	"appevents/internal/filtering"
	"appevents/internal/logger"
	"appevents/pkg/errors"
	"appevents/pkg/models"
)

// Service is the part of the coordinator the API drives.
type Service interface {
	LogEvent(ctx context.Context, id events.Identity, name string, params models.Params, implicit bool, operational models.Params) (coordinator.LogResult, error)
	Flush(ctx context.Context, reason string) (coordinator.FlushResult, error)
	RefreshConfig(ctx context.Context) (configcache.ConfigurationSnapshot, error)
	AppEventsConfig() configcache.ConfigurationSnapshot
	Buffers() []coordinator.BufferInfo
	Pipeline() *filtering.Pipeline
}

type BaseHandler struct {
	Service Service
	Logger  logger.Logger
}

func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	h.Logger.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)

	status := errors.ToHTTPStatus(err)
	response := errors.ToErrorResponse(err)

	c.JSON(status, response)
}

type Handler struct {
	BaseHandler
	app config.AppConfig
}

func NewHandler(service Service, app config.AppConfig, log logger.Logger) *Handler {
	return &Handler{
		BaseHandler: BaseHandler{
			Service: service,
			Logger:  log,
		},
		app: app,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	v1 := router.Group("/api/v1")
	{
		v1.POST("/events", h.LogEvents)
		v1.POST("/flush", h.Flush)
		v1.GET("/buffers", h.Buffers)

		cfg := v1.Group("/config")
		{
			cfg.GET("", h.GetConfig)
			cfg.POST("/refresh", h.RefreshConfig)
		}
	}
}

// identity falls back to the configured app for parts the request omits.
func (h *Handler) identity(req LogEventsRequest) events.Identity {
	id := events.Identity{Token: req.Token, AppID: req.AppID}
	if id.Token == nil && h.app.ClientToken != "" {
		token := h.app.ClientToken
		id.Token = &token
	}
	if id.AppID == nil && h.app.AppID != "" {
		appID := h.app.AppID
		id.AppID = &appID
	}
	return id
}

// LogEvents runs each event through the pipeline into its buffer. Every
// event gets its own result, so a failure part way through never hides the
// events already buffered. Only when every event failed is the first error
// returned as the response.
func (h *Handler) LogEvents(c *gin.Context) {
	var req LogEventsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithMessage(err.Error()).WithCause(err)))
		return
	}

	ctx := c.Request.Context()
	id := h.identity(req)
	resp := LogEventsResponse{Results: make([]EventResult, 0, len(req.Events))}
	var firstErr error

	for _, ev := range req.Events {
		result, err := h.Service.LogEvent(ctx, id, ev.Name, ev.Params, ev.Implicit, ev.OperationalParams)
		entry := EventResult{Name: ev.Name, Accepted: result.Accepted, Reason: result.Reason}

		switch {
		case err != nil && !errors.IsValidation(err):
			h.Logger.ErrorwCtx(ctx, "Failed to log event", "event_name", ev.Name, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			body := errors.ToErrorResponse(err)
			entry.Reason, _ = body["error"].(string)
			entry.ErrorCode, _ = body["error_code"].(string)
			resp.Failed++
		case err != nil:
			body := errors.ToErrorResponse(err)
			entry.Reason, _ = body["error"].(string)
			entry.ErrorCode, _ = body["error_code"].(string)
			resp.Dropped++
		case result.Accepted:
			resp.Accepted++
		default:
			resp.Dropped++
		}
		resp.Results = append(resp.Results, entry)
	}

	if resp.Failed == len(req.Events) {
		h.HandleError(c, firstErr)
		return
	}
	c.JSON(http.StatusAccepted, resp)
}

func (h *Handler) Flush(c *gin.Context) {
	result, err := h.Service.Flush(c.Request.Context(), models.FlushReasonExplicit)
	if err != nil && result.Batches == 0 && result.Persisted == 0 && result.Failed == 0 {
		h.HandleError(c, err)
		return
	}
	if err != nil {
		h.Logger.WarnwCtx(c.Request.Context(), "Flush completed with failures", "error", err)
	}
	c.JSON(http.StatusOK, FlushResponse{FlushResult: result, Reason: models.FlushReasonExplicit})
}

func (h *Handler) Buffers(c *gin.Context) {
	c.JSON(http.StatusOK, h.Service.Buffers())
}

func (h *Handler) GetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, h.configResponse(h.Service.AppEventsConfig()))
}

func (h *Handler) RefreshConfig(c *gin.Context) {
	snapshot, err := h.Service.RefreshConfig(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.configResponse(snapshot))
}

func (h *Handler) configResponse(snapshot configcache.ConfigurationSnapshot) ConfigResponse {
	pipeline := h.Service.Pipeline()
	resp := ConfigResponse{
		AppID:    h.app.AppID,
		Snapshot: snapshot,
		Rules:    pipeline.Rules(),
	}
	for _, problem := range pipeline.Problems() {
		resp.Problems = append(resp.Problems, problem.Error())
	}
	return resp
}
