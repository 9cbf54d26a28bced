// Elife - Daelim e-Life Smart Home Cloud Bridge
// Copyright 2026 Hyun K. (hyun-k)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hyun-k/elife

// Package transport executes authenticated requests against the fixed
// e-Life API origin. Two request kinds exist: JSON-returning ajax calls and
// HTML page fetches, each with its own default header set mimicking the
// vendor's iOS client. Server errors on the 500/502/503/504 allowlist are
// retried with a fixed backoff factor; by protocol design the retries apply
// even to non-idempotent calls. A circuit breaker and a request rate
// limiter guard the origin.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/hyun-k/elife/internal/config"
	"github.com/hyun-k/elife/internal/logging"
	"github.com/hyun-k/elife/internal/metrics"
)

// userAgent is the vendor mobile client identity; the service rejects
// unrecognized clients.
const userAgent = "Mozilla/5.0 (iPhone; CPU iPhone OS 9_2 like Mac OS X) AppleWebKit/601.1.46 (KHTML, like Gecko) Mobile/13C75 DAELIM/IOS"

// jsonDefaultHeaders is the base header set for ajax calls.
var jsonDefaultHeaders = map[string]string{
	"User-Agent":      userAgent,
	"Accept-Language": "en-US,en;q=0.9",
	"Accept":          "application/json",
}

// htmlDefaultHeaders is the base header set for page fetches.
var htmlDefaultHeaders = map[string]string{
	"User-Agent":       userAgent,
	"Accept-Language":  "en-US,en;q=0.9",
	"Accept":           "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
	"X-Requested-With": "com.daelim.elife",
}

// retryableStatus is the server-error allowlist eligible for retry.
var retryableStatus = map[int]bool{
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// maxErrorBodySize limits how much of an error response body is read for
// diagnostics.
const maxErrorBodySize = 64 * 1024

var (
	// ErrNotJSON is returned when an ajax response does not declare a JSON
	// content type. The single request is aborted; nothing is retried.
	ErrNotJSON = errors.New("transport: response is not json")
)

// StatusError reports a non-2xx response that was not retried or survived
// the retry budget.
type StatusError struct {
	Path   string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("transport: %s returned HTTP %d", e.Path, e.Status)
}

// result is the raw outcome of a single origin request.
type result struct {
	status      int
	contentType string
	body        []byte
}

// Client executes requests against the API origin.
// All methods are safe for concurrent use.
type Client struct {
	origin       string
	retryMax     int
	retryBackoff time.Duration
	httpClient   *http.Client
	breaker      *gobreaker.CircuitBreaker[*result]
	limiter      *rate.Limiter
}

// NewClient creates a transport client from the API configuration.
func NewClient(cfg config.APIConfig) *Client {
	breakerName := "elife-api"
	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(0) // 0 = closed

	breaker := gobreaker.NewCircuitBreaker[*result](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().
				Str("breaker", name).
				Str("from", breakerStateString(from)).
				Str("to", breakerStateString(to)).
				Msg("circuit breaker state transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(breakerStateFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, breakerStateString(from), breakerStateString(to)).Inc()
		},
	})

	return &Client{
		origin:       strings.TrimRight(cfg.Origin, "/"),
		retryMax:     cfg.RetryMax,
		retryBackoff: cfg.RetryBackoff,
		httpClient:   &http.Client{Timeout: cfg.Timeout},
		breaker:      breaker,
		limiter:      rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
	}
}

// RequestJSON POSTs a JSON body to path and returns the raw JSON response.
// Caller headers are merged over the ajax default set. Fails with ErrNotJSON
// when the response does not declare an application/json content type.
func (c *Client) RequestJSON(ctx context.Context, path string, headers map[string]string, body any) (json.RawMessage, error) {
	if body == nil {
		body = map[string]any{}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("transport: marshal request body: %w", err)
	}

	res, err := c.execute(ctx, http.MethodPost, path, mergeHeaders(jsonDefaultHeaders, headers, "application/json"), payload)
	if err != nil {
		return nil, err
	}
	if !strings.Contains(res.contentType, "application/json") {
		return nil, fmt.Errorf("%w: content type %q", ErrNotJSON, res.contentType)
	}
	return json.RawMessage(res.body), nil
}

// FetchHTML GETs path and returns the response body as text. Caller headers
// (typically the bearer Authorization) are merged over the page default set.
func (c *Client) FetchHTML(ctx context.Context, path string, headers map[string]string) (string, error) {
	res, err := c.execute(ctx, http.MethodGet, path, mergeHeaders(htmlDefaultHeaders, headers, ""), nil)
	if err != nil {
		return "", err
	}
	return string(res.body), nil
}

// execute runs one rate-limited, breaker-guarded, retried origin request.
func (c *Client) execute(ctx context.Context, method, path string, headers map[string]string, body []byte) (*result, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("transport: rate limiter: %w", err)
	}

	start := time.Now()
	res, err := c.breaker.Execute(func() (*result, error) {
		return c.doWithRetry(ctx, method, path, headers, body)
	})
	metrics.APIRequestDuration.WithLabelValues(path).Observe(time.Since(start).Seconds())

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.APIRequestsTotal.WithLabelValues(path, "rejected").Inc()
		} else {
			metrics.APIRequestsTotal.WithLabelValues(path, "failure").Inc()
		}
		return nil, err
	}
	metrics.APIRequestsTotal.WithLabelValues(path, "success").Inc()
	return res, nil
}

// doWithRetry issues the request, retrying allowlisted server errors up to
// the retry budget with the fixed backoff factor.
func (c *Client) doWithRetry(ctx context.Context, method, path string, headers map[string]string, body []byte) (*result, error) {
	var last *result
	for attempt := 0; attempt <= c.retryMax; attempt++ {
		if delay := c.retryDelay(attempt); delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		res, err := c.do(ctx, method, path, headers, body)
		if err != nil {
			return nil, err
		}
		if res.status >= 200 && res.status < 300 {
			return res, nil
		}
		last = res
		if !retryableStatus[res.status] || attempt == c.retryMax {
			break
		}
		metrics.APIRetriesTotal.WithLabelValues(fmt.Sprint(res.status)).Inc()
		logging.Warn().
			Str("path", path).
			Int("status", res.status).
			Int("attempt", attempt+1).
			Msg("retrying request after server error")
	}
	return nil, &StatusError{Path: path, Status: last.status}
}

// retryDelay returns the pause before the given attempt: the first retry is
// immediate, subsequent ones double the backoff factor.
func (c *Client) retryDelay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	return c.retryBackoff * time.Duration(1<<uint(attempt-1))
}

// do executes a single HTTP request and drains the response.
func (c *Client) do(ctx context.Context, method, path string, headers map[string]string, body []byte) (*result, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.origin+path, reader)
	if err != nil {
		return nil, fmt.Errorf("transport: build request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transport: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close() //nolint:errcheck // read side already consumed

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("transport: read response body: %w", err)
	}
	if resp.StatusCode >= 300 && len(payload) > maxErrorBodySize {
		payload = payload[:maxErrorBodySize]
	}

	return &result{
		status:      resp.StatusCode,
		contentType: resp.Header.Get("Content-Type"),
		body:        payload,
	}, nil
}

// mergeHeaders layers caller headers over the defaults. contentType is set
// when non-empty and the caller did not override it.
func mergeHeaders(defaults, overrides map[string]string, contentType string) map[string]string {
	merged := make(map[string]string, len(defaults)+len(overrides)+1)
	for k, v := range defaults {
		merged[k] = v
	}
	if contentType != "" {
		merged["Content-Type"] = contentType
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return merged
}

func breakerStateFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func breakerStateString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
