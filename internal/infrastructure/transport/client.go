// Package transport delivers event batches to the remote collector and single
// events to the analytics-tag endpoint.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/AtRiskMedia/tractstack-telemetry/internal/domain/telemetry"
)

// Wire headers.
const (
	HeaderAnalyticsVersion = "X-Analytics-Version"
	HeaderBatchID          = "X-Batch-ID"
	AnalyticsVersion       = "1.0"
)

const maxDrainBytes = 64 << 10

type options struct {
	httpClient telemetry.HTTPClient
	clock      telemetry.Clock
	jwtSecret  string
}

// Option is a functional option for configuring the transport clients
type Option func(*options)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(client telemetry.HTTPClient) Option {
	return func(o *options) {
		o.httpClient = client
	}
}

// WithTimeout replaces the HTTP client with one using the given timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(o *options) {
		o.httpClient = &http.Client{Timeout: timeout}
	}
}

// WithJWTSecret signs collector batches with an HS256 bearer token.
func WithJWTSecret(secret string) Option {
	return func(o *options) {
		o.jwtSecret = secret
	}
}

// WithClock sets the clock used for token issue times.
func WithClock(clock telemetry.Clock) Option {
	return func(o *options) {
		o.clock = clock
	}
}

func newOptions(opts []Option) options {
	o := options{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		clock:      telemetry.SystemClock{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// postJSON sends body to url and returns the response status code. The
// response body is drained and closed.
func postJSON(ctx context.Context, client telemetry.HTTPClient, url string, body any, headers map[string]string) (int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))

	return resp.StatusCode, nil
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}
