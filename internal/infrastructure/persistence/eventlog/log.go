package eventlog

import (
	"fmt"

	"github.com/AtRiskMedia/tractstack-telemetry/internal/domain/telemetry"
	"github.com/AtRiskMedia/tractstack-telemetry/internal/infrastructure/observability/logging"
)

// DefaultCapacity is the number of entries retained per kind.
const DefaultCapacity = 100

// Key returns the store key holding the log of kind under namespace ns.
func Key(ns string, kind telemetry.Kind) string {
	switch kind {
	case telemetry.KindRating:
		return ns + "_rating_events"
	case telemetry.KindFeedback:
		return ns + "_feedback_events"
	case telemetry.KindMetric:
		return ns + "_performance_metrics"
	}
	return ns + "_" + string(kind)
}

// Snapshot is a point-in-time copy of the three logs.
type Snapshot struct {
	Ratings  []telemetry.RatingEvent       `json:"ratings"`
	Feedback []telemetry.FeedbackEvent     `json:"feedback"`
	Metrics  []telemetry.PerformanceMetric `json:"metrics"`
}

// Log groups the rating, feedback and metric rings.
type Log struct {
	ratings  *Ring[telemetry.RatingEvent]
	feedback *Ring[telemetry.FeedbackEvent]
	metrics  *Ring[telemetry.PerformanceMetric]

	loadIssues []*telemetry.ParseError
}

// Open loads the three logs from store. It never fails: unreadable or
// corrupted data is discarded and reported through LoadIssues.
func Open(store telemetry.KeyValueStore, ns string, capacity int, logger *logging.ChanneledLogger) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	l := &Log{
		ratings:  newRing[telemetry.RatingEvent](store, Key(ns, telemetry.KindRating), capacity, logger),
		feedback: newRing[telemetry.FeedbackEvent](store, Key(ns, telemetry.KindFeedback), capacity, logger),
		metrics:  newRing[telemetry.PerformanceMetric](store, Key(ns, telemetry.KindMetric), capacity, logger),
	}
	for _, load := range []func() *telemetry.ParseError{l.ratings.load, l.feedback.load, l.metrics.load} {
		if issue := load(); issue != nil {
			l.loadIssues = append(l.loadIssues, issue)
		}
	}
	logger.Storage().Debug("Event logs loaded",
		"ratings", l.ratings.Len(),
		"feedback", l.feedback.Len(),
		"metrics", l.metrics.Len(),
		"issues", len(l.loadIssues))
	return l
}

// LoadIssues returns the problems found while opening the logs.
func (l *Log) LoadIssues() []*telemetry.ParseError {
	return l.loadIssues
}

// Append routes event to the ring of its kind.
func (l *Log) Append(event any) error {
	switch e := event.(type) {
	case telemetry.RatingEvent:
		return l.ratings.Append(e)
	case telemetry.FeedbackEvent:
		return l.feedback.Append(e)
	case telemetry.PerformanceMetric:
		return l.metrics.Append(e)
	}
	return fmt.Errorf("unsupported event type %T", event)
}

func (l *Log) Ratings() *Ring[telemetry.RatingEvent]       { return l.ratings }
func (l *Log) Feedback() *Ring[telemetry.FeedbackEvent]    { return l.feedback }
func (l *Log) Metrics() *Ring[telemetry.PerformanceMetric] { return l.metrics }

// Snapshot copies all three logs while holding every ring lock, so a
// concurrent Clear is seen entirely or not at all.
func (l *Log) Snapshot() Snapshot {
	l.lockAll()
	defer l.unlockAll()
	s := Snapshot{
		Ratings:  make([]telemetry.RatingEvent, len(l.ratings.mirror)),
		Feedback: make([]telemetry.FeedbackEvent, len(l.feedback.mirror)),
		Metrics:  make([]telemetry.PerformanceMetric, len(l.metrics.mirror)),
	}
	copy(s.Ratings, l.ratings.mirror)
	copy(s.Feedback, l.feedback.mirror)
	copy(s.Metrics, l.metrics.mirror)
	return s
}

// Clear removes all three logs. In-memory copies are emptied even when the
// store delete fails; the first failure is returned.
func (l *Log) Clear() error {
	l.lockAll()
	defer l.unlockAll()
	var firstErr error
	for _, clearRing := range []func() error{l.ratings.clearLocked, l.feedback.clearLocked, l.metrics.clearLocked} {
		if err := clearRing(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (l *Log) lockAll() {
	l.ratings.mu.Lock()
	l.feedback.mu.Lock()
	l.metrics.mu.Lock()
}

func (l *Log) unlockAll() {
	l.metrics.mu.Unlock()
	l.feedback.mu.Unlock()
	l.ratings.mu.Unlock()
}
