package logging

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetLogFields(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetLogFields(ctx))

	ctx = WithTraceID(ctx, "trace-1")
	ctx = WithAppID(ctx, "123")
	ctx = WithEventName(ctx, "fb_mobile_purchase")

	assert.Equal(t, []interface{}{
		"trace_id", "trace-1",
		"app_id", "123",
		"event_name", "fb_mobile_purchase",
	}, GetLogFields(ctx))
	assert.Equal(t, "", GetServiceName(ctx))
}

func TestContextKeysDoNotCollideWithPlainStrings(t *testing.T) {
	ctx := context.WithValue(context.Background(), "trace_id", "plain") //nolint:staticcheck
	assert.Equal(t, "", GetTraceID(ctx))
}

func TestEarlyLog(t *testing.T) {
	var out, errOut bytes.Buffer
	code := -1
	l := &EarlyLog{out: &out, err: &errOut, exit: func(c int) { code = c }}

	l.Info("starting %s", "agent")
	l.Warn("config file %s not found", "config.yaml")
	l.Fatal("boom")

	assert.Equal(t, "INFO: starting agent\n", out.String())
	assert.Contains(t, errOut.String(), "WARN: config file config.yaml not found\n")
	assert.Contains(t, errOut.String(), "FATAL: boom\n")
	assert.Equal(t, 1, code)
}
