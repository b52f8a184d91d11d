// Package external holds the clients for third-party APIs. All outbound HTTP
// calls go through BaseClient, which applies circuit breaking, retries with
// jittered exponential backoff and error mapping to types.AppError.
package external

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/sony/gobreaker/v2"

	"fairweather/internal/types"
)

// RetryPolicy configures the retry behavior for the BaseClient.
type RetryPolicy struct {
	MaxRetries int
	MinWait    time.Duration
	MaxWait    time.Duration
}

// DefaultRetryPolicy returns sensible defaults for external API calls.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		MinWait:    500 * time.Millisecond,
		MaxWait:    10 * time.Second,
	}
}

// statusError marks a response status the breaker and retry loop treat as a failure.
type statusError struct {
	status int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("upstream returned %d", e.status)
}

// BaseClient wraps an *http.Client and a circuit breaker. Provider clients
// embed it to inherit consistent resilience behavior.
type BaseClient struct {
	client      *http.Client
	breaker     *gobreaker.CircuitBreaker[*http.Response]
	retryPolicy RetryPolicy
	userAgent   string
	logger      *slog.Logger
}

// BaseClientOption is a functional option for configuring a BaseClient.
type BaseClientOption func(*BaseClient)

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(l *slog.Logger) BaseClientOption {
	return func(c *BaseClient) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithBreaker replaces the default circuit breaker, for tests or when a
// breaker is shared between clients.
func WithBreaker(cb *gobreaker.CircuitBreaker[*http.Response]) BaseClientOption {
	return func(c *BaseClient) { c.breaker = cb }
}

// NewBreaker returns the default circuit breaker: it opens after more than
// five consecutive failures and probes again after 30 seconds.
func NewBreaker(name string) *gobreaker.CircuitBreaker[*http.Response] {
	return gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil
		},
	})
}

// NewBaseClient creates a BaseClient with the given http client, breaker
// name, retry policy and user agent.
func NewBaseClient(
	httpClient *http.Client,
	breakerName string,
	retryPolicy RetryPolicy,
	userAgent string,
	opts ...BaseClientOption,
) *BaseClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	bc := &BaseClient{
		client:      httpClient,
		breaker:     NewBreaker(breakerName),
		retryPolicy: retryPolicy,
		userAgent:   userAgent,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(bc)
	}
	return bc
}

// BreakerState reports the circuit breaker state, for health checks.
func (c *BaseClient) BreakerState() gobreaker.State {
	return c.breaker.State()
}

// Do executes the request through the circuit breaker, retrying network
// errors, 429 and 5xx responses. Other responses, including 4xx, are returned
// as-is and the caller must close the body.
//
// When retries are exhausted, the breaker is open or the context ends, Do
// returns a types.AppError with an upstream_* code.
func (c *BaseClient) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	if id := types.GetRequestID(ctx); id != "" {
		req.Header.Set("X-Request-Id", id)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	// Snapshot the body so it can be replayed on retries.
	var bodyBytes []byte
	if req.Body != nil {
		var err error
		bodyBytes, err = io.ReadAll(req.Body)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to read request body for retry support", err)
		}
		req.Body.Close()
	}

	var resp *http.Response
	err := retry.Do(
		func() error {
			attempt := req.Clone(ctx)
			if bodyBytes != nil {
				attempt.Body = io.NopCloser(bytes.NewReader(bodyBytes))
				attempt.ContentLength = int64(len(bodyBytes))
			}

			r, err := c.breaker.Execute(func() (*http.Response, error) {
				r, doErr := c.client.Do(attempt)
				if doErr != nil {
					return nil, doErr
				}
				if r.StatusCode >= 500 || r.StatusCode == http.StatusTooManyRequests {
					_, _ = io.Copy(io.Discard, r.Body)
					r.Body.Close()
					return nil, &statusError{status: r.StatusCode}
				}
				return r, nil
			})
			if err != nil {
				if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) || ctx.Err() != nil {
					return retry.Unrecoverable(err)
				}
				return err
			}
			resp = r
			return nil
		},
		retry.Attempts(uint(1+max(c.retryPolicy.MaxRetries, 0))),
		retry.Delay(c.retryPolicy.MinWait),
		retry.MaxDelay(c.retryPolicy.MaxWait),
		retry.DelayType(retry.FullJitterBackoffDelay),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Info("retrying upstream request",
				"host", req.URL.Host,
				"attempt", n+1,
				"error", err,
			)
		}),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, c.mapError(err)
	}
	return resp, nil
}

// mapError translates transport-level failures into AppErrors.
func (c *BaseClient) mapError(err error) *types.AppError {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return types.NewAppError(types.ErrCodeUpstreamUnavailable, "circuit breaker is open; upstream service unavailable", err)
	}

	var se *statusError
	if errors.As(err, &se) {
		if se.status == http.StatusTooManyRequests {
			return types.NewAppError(types.ErrCodeUpstreamRateLimited, "upstream rate limit exceeded", err)
		}
		return types.NewAppError(types.ErrCodeUpstreamUnavailable, fmt.Sprintf("upstream returned %d after retries", se.status), err)
	}

	var timeout interface{ Timeout() bool }
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &timeout) && timeout.Timeout()) {
		return types.NewAppError(types.ErrCodeUpstreamTimeout, "upstream request timed out", err)
	}

	return types.NewAppError(types.ErrCodeUpstreamUnavailable, "upstream request failed", err)
}
