package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrValidation         = NewError("VALIDATION_ERROR", "validation failed", http.StatusBadRequest).asPermanent()
	ErrInternal           = NewError("INTERNAL_ERROR", "internal server error", http.StatusInternalServerError)
	ErrServiceUnavailable = NewError("SERVICE_UNAVAILABLE", "service unavailable", http.StatusServiceUnavailable)

	ErrConfigFetch         = NewError("CONFIG_FETCH_FAILED", "configuration fetch failed", http.StatusBadGateway)
	ErrMalformedRuleConfig = NewError("MALFORMED_RULE_CONFIG", "malformed rule configuration", http.StatusUnprocessableEntity).asPermanent()
	ErrInvalidIdentity     = NewError("INVALID_IDENTITY", "token and app id are required", http.StatusBadRequest).asPermanent()
	ErrUnsupportedVersion  = NewError("UNSUPPORTED_VERSION", "unsupported snapshot version", http.StatusUnprocessableEntity).asPermanent()
)

type RetryableError interface {
	error
	IsRetryable() bool
}

type FatalError interface {
	error
	IsFatal() bool
}

type disposition uint8

const (
	inherit disposition = iota
	forceRetry
	forceFatal
)

// Error is an application error with a stable code and HTTP status. Values
// are never mutated after construction; every With* call returns a copy.
type Error struct {
	Code    string
	Message string
	Status  int
	Details map[string]interface{}
	Cause   error

	permanent   bool
	disposition disposition
}

func NewError(code, message string, status int) *Error {
	return &Error{Code: code, Message: message, Status: status}
}

func (e *Error) clone() *Error {
	c := *e
	if e.Details != nil {
		c.Details = make(map[string]interface{}, len(e.Details)+1)
		for k, v := range e.Details {
			c.Details[k] = v
		}
	}
	return &c
}

func (e *Error) asPermanent() *Error {
	e.permanent = true
	return e
}

// Text is the human readable message, preferring an override set with
// WithMessage.
func (e *Error) Text() string {
	if msg, ok := e.Details["message"].(string); ok && msg != "" {
		return msg
	}
	return e.Message
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Text(), e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Text())
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches by code, so derived copies still satisfy errors.Is against the
// package sentinels.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// IsFatal resolves, in order: an explicit AsFatal/AsRetryable, the cause's
// own classification, then whether the code is permanent.
func (e *Error) IsFatal() bool {
	switch e.disposition {
	case forceFatal:
		return true
	case forceRetry:
		return false
	}
	if e.Cause != nil {
		var retryableErr RetryableError
		if errors.As(e.Cause, &retryableErr) {
			return !retryableErr.IsRetryable()
		}
		var fatalErr FatalError
		if errors.As(e.Cause, &fatalErr) {
			return fatalErr.IsFatal()
		}
	}
	return e.permanent
}

func (e *Error) IsRetryable() bool {
	return !e.IsFatal()
}

func (e *Error) WithCause(cause error) *Error {
	c := e.clone()
	c.Cause = cause
	return c
}

func (e *Error) WithDetail(key string, value interface{}) *Error {
	c := e.clone()
	if c.Details == nil {
		c.Details = make(map[string]interface{}, 1)
	}
	c.Details[key] = value
	return c
}

func (e *Error) WithMessage(message string) *Error {
	return e.WithDetail("message", message)
}

func (e *Error) AsRetryable() *Error {
	c := e.clone()
	c.disposition = forceRetry
	return c
}

func (e *Error) AsFatal() *Error {
	c := e.clone()
	c.disposition = forceFatal
	return c
}

func Wrap(err error, appErr *Error) *Error {
	if err == nil {
		return nil
	}
	return appErr.WithCause(err)
}

// HasCode reports whether any *Error in err's chain carries code.
func HasCode(err error, code string) bool {
	var appErr *Error
	return errors.As(err, &appErr) && appErr.Code == code
}

func IsValidation(err error) bool {
	return HasCode(err, ErrValidation.Code)
}

func IsConfigFetch(err error) bool {
	return HasCode(err, ErrConfigFetch.Code)
}

func ToHTTPStatus(err error) int {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return http.StatusInternalServerError
}

func ToErrorResponse(err error) map[string]interface{} {
	var appErr *Error
	if !errors.As(err, &appErr) {
		appErr = ErrInternal
	}
	return map[string]interface{}{
		"error":      appErr.Text(),
		"error_code": appErr.Code,
	}
}
