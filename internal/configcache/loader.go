package configcache

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"appevents/internal/config"
	"appevents/internal/constants"
	"appevents/internal/logger"
	"appevents/pkg/circuitbreaker"
	"appevents/pkg/retry"
)

// Loader fetches the raw configuration document for an app.
type Loader interface {
	Fetch(ctx context.Context, appID string) ([]byte, error)
}

type LoaderFunc func(ctx context.Context, appID string) ([]byte, error)

func (f LoaderFunc) Fetch(ctx context.Context, appID string) ([]byte, error) {
	return f(ctx, appID)
}

// maxPayloadBytes bounds the configuration document read from the server.
const maxPayloadBytes = 4 << 20

type statusError struct {
	status int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("api returned status: %d", e.status)
}

// Client errors will not get better by asking again.
func (e *statusError) IsRetryable() bool {
	return e.status == http.StatusTooManyRequests || e.status >= http.StatusInternalServerError
}

type HTTPLoader struct {
	client      *http.Client
	baseURL     string
	fields      []string
	accessToken string
	timeout     time.Duration
	policy      retry.Policy
	breaker     *circuitbreaker.Wrapper
	log         logger.Logger
}

type HTTPLoaderOption func(*HTTPLoader)

func WithHTTPClient(client *http.Client) HTTPLoaderOption {
	return func(l *HTTPLoader) {
		l.client = client
	}
}

func WithCircuitBreaker(breaker *circuitbreaker.Wrapper) HTTPLoaderOption {
	return func(l *HTTPLoader) {
		l.breaker = breaker
	}
}

// NewHTTPLoader requests GET {base_url}/{app_id}?fields=a,b from the Graph
// API. The loader owns the timeout since cache fetches carry no deadline.
func NewHTTPLoader(cfg config.LoaderConfig, fields []string, log logger.Logger, opts ...HTTPLoaderOption) *HTTPLoader {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = constants.DefaultHTTPTimeout
	}

	l := &HTTPLoader{
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		fields:      fields,
		accessToken: cfg.AccessToken,
		timeout:     timeout,
		policy:      retry.FromConfig(cfg.Retry),
		log:         log,
	}

	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *HTTPLoader) Fetch(ctx context.Context, appID string) ([]byte, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout*time.Duration(l.policy.MaxAttempts))
		defer cancel()
	}

	var body []byte
	err := retry.RetryWithCallback(ctx, l.policy, func() error {
		var err error
		if l.breaker != nil {
			body, err = circuitbreaker.Execute(ctx, l.breaker, func() ([]byte, error) {
				return l.fetchOnce(ctx, appID)
			})
		} else {
			body, err = l.fetchOnce(ctx, appID)
		}
		return err
	}, func(attempt int, err error, nextDelay time.Duration) {
		l.log.WarnwCtx(ctx, "Configuration request failed, retrying",
			"app_id", appID,
			"attempt", attempt,
			"next_delay", nextDelay,
			"error", err,
		)
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (l *HTTPLoader) requestURL(appID string) string {
	query := url.Values{}
	if len(l.fields) > 0 {
		query.Set("fields", strings.Join(l.fields, ","))
	}
	if l.accessToken != "" {
		query.Set("access_token", l.accessToken)
	}

	u := l.baseURL + "/" + url.PathEscape(appID)
	if encoded := query.Encode(); encoded != "" {
		u += "?" + encoded
	}
	return u
}

func (l *HTTPLoader) fetchOnce(ctx context.Context, appID string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.requestURL(appID), nil)
	if err != nil {
		return nil, retry.NewFatalError(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < constants.HTTPStatusOKMin || resp.StatusCode >= constants.HTTPStatusOKMax {
		return nil, &statusError{status: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return body, nil
}
