package transport

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/AtRiskMedia/tractstack-telemetry/internal/domain/telemetry"
)

const anonymousClientID = "anonymous"

type tagEvent struct {
	Name   string         `json:"name"`
	Params map[string]any `json:"params"`
}

type tagPayload struct {
	ClientID string     `json:"client_id"`
	Events   []tagEvent `json:"events"`
}

// TagClient posts one analytics-tag event per call in the measurement
// protocol shape {client_id, events: [{name, params}]}.
type TagClient struct {
	endpoint string
	opts     options
}

// NewTagClient creates a client for endpoint. A non-empty measurementID is
// appended as the measurement_id query parameter.
func NewTagClient(endpoint, measurementID string, opts ...Option) (*TagClient, error) {
	endpoint = strings.TrimSpace(endpoint)
	if measurementID != "" {
		u, err := url.Parse(endpoint)
		if err != nil {
			return nil, fmt.Errorf("invalid tag endpoint: %w", err)
		}
		q := u.Query()
		q.Set("measurement_id", measurementID)
		u.RawQuery = q.Encode()
		endpoint = u.String()
	}
	return &TagClient{endpoint: endpoint, opts: newOptions(opts)}, nil
}

// Emit sends one named event. The client id is taken from the userId param.
func (c *TagClient) Emit(ctx context.Context, name string, params map[string]any) error {
	clientID, _ := params["userId"].(string)
	if clientID == "" {
		clientID = anonymousClientID
	}
	body := tagPayload{
		ClientID: clientID,
		Events:   []tagEvent{{Name: name, Params: params}},
	}

	status, err := postJSON(ctx, c.opts.httpClient, c.endpoint, body, nil)
	if err != nil {
		return &telemetry.DispatchError{Events: 1, Err: err}
	}
	if !isSuccess(status) {
		return &telemetry.DispatchError{Events: 1, StatusCode: status, Err: fmt.Errorf("unexpected status code %d", status)}
	}
	return nil
}
