package logging

import (
	"context"
)

type contextKey string

const (
	TraceIDKey     = "trace_id"
	AppIDKey       = "app_id"
	EventNameKey   = "event_name"
	ServiceNameKey = "service_name"
)

func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, contextKey(TraceIDKey), traceID)
}

func WithAppID(ctx context.Context, appID string) context.Context {
	return context.WithValue(ctx, contextKey(AppIDKey), appID)
}

func WithEventName(ctx context.Context, eventName string) context.Context {
	return context.WithValue(ctx, contextKey(EventNameKey), eventName)
}

func WithServiceName(ctx context.Context, serviceName string) context.Context {
	return context.WithValue(ctx, contextKey(ServiceNameKey), serviceName)
}

func value(ctx context.Context, key string) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(contextKey(key)).(string); ok {
		return v
	}
	return ""
}

func GetTraceID(ctx context.Context) string {
	return value(ctx, TraceIDKey)
}

func GetAppID(ctx context.Context) string {
	return value(ctx, AppIDKey)
}

func GetEventName(ctx context.Context) string {
	return value(ctx, EventNameKey)
}

func GetServiceName(ctx context.Context) string {
	return value(ctx, ServiceNameKey)
}

// GetLogFields returns the context values as sugared key/value pairs.
func GetLogFields(ctx context.Context) []interface{} {
	fields := make([]interface{}, 0, 8)
	for _, key := range []string{TraceIDKey, AppIDKey, EventNameKey, ServiceNameKey} {
		if v := value(ctx, key); v != "" {
			fields = append(fields, key, v)
		}
	}
	return fields
}
