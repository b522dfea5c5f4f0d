package transport

import (
	"context"
	"fmt"
	"strings"

	"github.com/AtRiskMedia/tractstack-telemetry/internal/domain/telemetry"
	"github.com/AtRiskMedia/tractstack-telemetry/internal/infrastructure/security"
)

// CollectorClient posts batches as {events, timestamp, sessionId}.
type CollectorClient struct {
	endpoint string
	opts     options
}

// NewCollectorClient creates a client for endpoint.
func NewCollectorClient(endpoint string, opts ...Option) *CollectorClient {
	return &CollectorClient{
		endpoint: strings.TrimSpace(endpoint),
		opts:     newOptions(opts),
	}
}

// Endpoint returns the collector URL.
func (c *CollectorClient) Endpoint() string { return c.endpoint }

// SendBatch delivers batch. Any failure is a *telemetry.DispatchError and
// means none of the events may be assumed delivered.
func (c *CollectorClient) SendBatch(ctx context.Context, batch telemetry.Batch) error {
	batchID := batch.ID
	if batchID == "" {
		batchID = security.GenerateBatchID()
	}
	headers := map[string]string{
		HeaderAnalyticsVersion: AnalyticsVersion,
		HeaderBatchID:          batchID,
	}

	if c.opts.jwtSecret != "" {
		token, err := security.GenerateCollectorToken(batch.UserID, batch.SessionID, c.opts.jwtSecret, c.opts.clock.Now())
		if err != nil {
			return &telemetry.DispatchError{Events: len(batch.Events), Err: err}
		}
		headers["Authorization"] = "Bearer " + token
	}

	status, err := postJSON(ctx, c.opts.httpClient, c.endpoint, batch, headers)
	if err != nil {
		return &telemetry.DispatchError{Events: len(batch.Events), Err: err}
	}
	if !isSuccess(status) {
		return &telemetry.DispatchError{
			Events:     len(batch.Events),
			StatusCode: status,
			Err:        fmt.Errorf("unexpected status code %d", status),
		}
	}
	return nil
}
