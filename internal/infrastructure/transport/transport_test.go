package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/AtRiskMedia/tractstack-telemetry/internal/domain/telemetry"
	"github.com/AtRiskMedia/tractstack-telemetry/internal/infrastructure/security"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ telemetry.Collector = (*CollectorClient)(nil)
	_ telemetry.TagSink   = (*TagClient)(nil)
)

type captured struct {
	header http.Header
	query  string
	body   map[string]any
}

func recordingServer(t *testing.T, status int) (*httptest.Server, *[]captured) {
	t.Helper()
	var requests []captured
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		var body map[string]any
		assert.NoError(t, json.Unmarshal(raw, &body))
		requests = append(requests, captured{header: r.Header.Clone(), query: r.URL.RawQuery, body: body})
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, &requests
}

func testBatch() telemetry.Batch {
	return telemetry.Batch{
		ID: "batch-1",
		Events: []telemetry.Envelope{{
			Kind:   telemetry.KindRating,
			UserID: "user_1",
			Event: telemetry.RatingEvent{
				QuestionID: "q1",
				Rating:     telemetry.RatingHelpful,
				Timestamp:  time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
				SessionID:  "session_1",
			},
		}},
		Timestamp: 1709251200000,
		SessionID: "session_1",
		UserID:    "user_1",
	}
}

func TestCollectorClientSendBatch(t *testing.T) {
	srv, requests := recordingServer(t, http.StatusAccepted)
	client := NewCollectorClient(srv.URL, WithJWTSecret("secret"))

	require.NoError(t, client.SendBatch(context.Background(), testBatch()))
	require.Len(t, *requests, 1)

	req := (*requests)[0]
	assert.Equal(t, "application/json", req.header.Get("Content-Type"))
	assert.Equal(t, "1.0", req.header.Get(HeaderAnalyticsVersion))
	assert.Equal(t, "batch-1", req.header.Get(HeaderBatchID))

	auth := req.header.Get("Authorization")
	require.True(t, strings.HasPrefix(auth, "Bearer "))
	claims, err := security.ValidateCollectorToken(strings.TrimPrefix(auth, "Bearer "), "secret")
	require.NoError(t, err)
	assert.Equal(t, "user_1", claims.Subject)

	assert.Equal(t, "session_1", req.body["sessionId"])
	assert.Equal(t, float64(1709251200000), req.body["timestamp"])
	_, hasUser := req.body["userId"]
	assert.False(t, hasUser)
	events := req.body["events"].([]any)
	require.Len(t, events, 1)
	event := events[0].(map[string]any)
	assert.Equal(t, "rating", event["kind"])
	assert.Equal(t, "user_1", event["userId"])
	assert.Equal(t, "q1", event["questionId"])
}

func TestCollectorClientGeneratesBatchID(t *testing.T) {
	srv, requests := recordingServer(t, http.StatusOK)
	client := NewCollectorClient(srv.URL)
	batch := testBatch()
	batch.ID = ""

	require.NoError(t, client.SendBatch(context.Background(), batch))
	assert.Len(t, (*requests)[0].header.Get(HeaderBatchID), 36)
	assert.Empty(t, (*requests)[0].header.Get("Authorization"))
}

func TestCollectorClientFailures(t *testing.T) {
	t.Run("non-2xx status", func(t *testing.T) {
		srv, _ := recordingServer(t, http.StatusServiceUnavailable)
		err := NewCollectorClient(srv.URL).SendBatch(context.Background(), testBatch())

		var derr *telemetry.DispatchError
		require.True(t, errors.As(err, &derr))
		assert.Equal(t, http.StatusServiceUnavailable, derr.StatusCode)
		assert.Equal(t, 1, derr.Events)
	})

	t.Run("network error", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		srv.Close()
		err := NewCollectorClient(srv.URL, WithTimeout(time.Second)).SendBatch(context.Background(), testBatch())

		var derr *telemetry.DispatchError
		require.True(t, errors.As(err, &derr))
		assert.Zero(t, derr.StatusCode)
	})

	t.Run("cancelled context", func(t *testing.T) {
		srv, requests := recordingServer(t, http.StatusOK)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := NewCollectorClient(srv.URL).SendBatch(ctx, testBatch())
		assert.Error(t, err)
		assert.Empty(t, *requests)
	})
}

func TestTagClientEmit(t *testing.T) {
	srv, requests := recordingServer(t, http.StatusNoContent)
	client, err := NewTagClient(srv.URL+"/mp/collect", "G-TEST")
	require.NoError(t, err)

	params := map[string]any{"userId": "user_1", "questionId": "q1", "event_category": "faq"}
	require.NoError(t, client.Emit(context.Background(), "faq_rating", params))

	require.Len(t, *requests, 1)
	req := (*requests)[0]
	assert.Equal(t, "measurement_id=G-TEST", req.query)
	assert.Equal(t, "user_1", req.body["client_id"])
	events := req.body["events"].([]any)
	require.Len(t, events, 1)
	event := events[0].(map[string]any)
	assert.Equal(t, "faq_rating", event["name"])
	assert.Equal(t, "q1", event["params"].(map[string]any)["questionId"])
}

func TestTagClientAnonymousAndFailure(t *testing.T) {
	srv, requests := recordingServer(t, http.StatusBadRequest)
	client, err := NewTagClient(srv.URL, "")
	require.NoError(t, err)

	err = client.Emit(context.Background(), "faq_metric", map[string]any{})
	var derr *telemetry.DispatchError
	require.True(t, errors.As(err, &derr))
	assert.Equal(t, http.StatusBadRequest, derr.StatusCode)
	assert.Equal(t, anonymousClientID, (*requests)[0].body["client_id"])
}
