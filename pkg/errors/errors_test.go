package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name          string
		err           *Error
		wantRetryable bool
	}{
		{name: "config fetch is retryable", err: ErrConfigFetch, wantRetryable: true},
		{name: "unavailable is retryable", err: ErrServiceUnavailable, wantRetryable: true},
		{name: "validation is fatal", err: ErrValidation, wantRetryable: false},
		{name: "malformed rule config is fatal", err: ErrMalformedRuleConfig, wantRetryable: false},
		{name: "explicit override", err: ErrValidation.AsRetryable(), wantRetryable: true},
		{name: "forced fatal", err: ErrConfigFetch.AsFatal(), wantRetryable: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantRetryable, tt.err.IsRetryable())
			assert.Equal(t, !tt.wantRetryable, tt.err.IsFatal())
		})
	}
}

func TestWrapKeepsCauseAndCode(t *testing.T) {
	cause := fmt.Errorf("dial tcp: connection refused")
	err := Wrap(cause, ErrConfigFetch)

	assert.True(t, stderrors.Is(err, cause))
	assert.True(t, stderrors.Is(err, ErrConfigFetch))
	assert.True(t, IsConfigFetch(fmt.Errorf("outer: %w", err)))
	assert.Contains(t, err.Error(), "CONFIG_FETCH_FAILED")
	assert.Nil(t, Wrap(nil, ErrConfigFetch))
}

func TestWithDetailDoesNotShareMaps(t *testing.T) {
	a := ErrValidation.WithDetail("field", "name")
	b := ErrValidation.WithDetail("field", "params")

	assert.Equal(t, "name", a.Details["field"])
	assert.Equal(t, "params", b.Details["field"])
	assert.Empty(t, ErrValidation.Details)
}

func TestToErrorResponse(t *testing.T) {
	resp := ToErrorResponse(ErrValidation.WithMessage("event name is required"))
	assert.Equal(t, "VALIDATION_ERROR", resp["error_code"])
	assert.Equal(t, "event name is required", resp["error"])

	resp = ToErrorResponse(fmt.Errorf("boom"))
	assert.Equal(t, "INTERNAL_ERROR", resp["error_code"])

	assert.Equal(t, http.StatusBadRequest, ToHTTPStatus(ErrInvalidIdentity))
	assert.Equal(t, http.StatusInternalServerError, ToHTTPStatus(fmt.Errorf("plain")))
}

func TestRecoverPanic(t *testing.T) {
	assert.Nil(t, RecoverPanic(nil))

	err := RecoverPanic("bad state")
	var appErr *Error
	assert.True(t, stderrors.As(err, &appErr))
	assert.True(t, appErr.IsFatal())
	assert.Equal(t, true, appErr.Details["panic"])
}

func TestCauseClassificationWins(t *testing.T) {
	fatalCause := ErrValidation.WithMessage("bad input")
	err := ErrConfigFetch.WithCause(fatalCause)
	assert.True(t, err.IsFatal())

	assert.False(t, ErrConfigFetch.WithCause(fmt.Errorf("plain")).IsFatal())
	assert.False(t, err.AsRetryable().IsFatal())
}

func TestHasCode(t *testing.T) {
	err := fmt.Errorf("load: %w", ErrUnsupportedVersion.WithDetail("version", 2))
	assert.True(t, HasCode(err, "UNSUPPORTED_VERSION"))
	assert.False(t, HasCode(err, ErrValidation.Code))
	assert.False(t, HasCode(nil, ErrValidation.Code))
}
