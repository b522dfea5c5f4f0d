package telemetry

import (
	"context"
	"net/http"
	"time"
)

// KeyValueStore is a scoped string store, the durable home of the event logs,
// identity tokens and the consent flag.
type KeyValueStore interface {
	// Get returns the value for key and whether it exists.
	Get(key string) (string, bool, error)

	// Set stores value under key, replacing any previous value.
	Set(key, value string) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(key string) error
}

// Notification is a message published on the event bus.
type Notification struct {
	Topic     string         `json:"topic"`
	Timestamp time.Time      `json:"timestamp"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// EventBus is the process-wide notification channel. Handlers run synchronously
// on the publishing goroutine and must not block.
type EventBus interface {
	Publish(n Notification)
	Subscribe(topic string, handler func(Notification)) (unsubscribe func())
}

// Bus topics.
const (
	TopicAnalyticsUpdate  = "analytics-update"
	TopicVisibilityChange = "visibilitychange"
	TopicUnload           = "unload"
)

// HTTPClient is the network port used by the transports.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Clock supplies ingestion timestamps.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// Handle cancels a scheduled task.
type Handle interface {
	Cancel()
}

// Scheduler runs periodic tasks.
type Scheduler interface {
	Every(interval time.Duration, task func()) Handle
}

// Batch is one collector delivery.
type Batch struct {
	ID        string     `json:"-"`
	Events    []Envelope `json:"events"`
	Timestamp int64      `json:"timestamp"`
	SessionID string     `json:"sessionId"`
	UserID    string     `json:"-"`
}

// Collector receives batches of events. A non-nil error means nothing in the
// batch may be assumed delivered.
type Collector interface {
	SendBatch(ctx context.Context, batch Batch) error
}

// TagSink is the optional per-event secondary analytics destination.
type TagSink interface {
	Emit(ctx context.Context, name string, params map[string]any) error
}
