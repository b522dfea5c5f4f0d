package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/AtRiskMedia/tractstack-telemetry/internal/domain/analytics"
	"github.com/AtRiskMedia/tractstack-telemetry/internal/domain/telemetry"
	"github.com/AtRiskMedia/tractstack-telemetry/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/tractstack-telemetry/internal/infrastructure/observability/metrics"
	"github.com/AtRiskMedia/tractstack-telemetry/internal/infrastructure/persistence/eventlog"
	"github.com/AtRiskMedia/tractstack-telemetry/internal/infrastructure/persistence/kvstore"
)

// Page lifecycle states accepted by NotifyLifecycle.
const (
	LifecycleVisible = "visible"
	LifecycleHidden  = "hidden"
	LifecycleUnload  = "unload"
)

// ErrUnknownLifecycleState is returned for states other than visible, hidden
// and unload.
var ErrUnknownLifecycleState = errors.New("unknown lifecycle state")

// ExportedData holds copies of the three event logs.
type ExportedData = eventlog.Snapshot

// TelemetryDeps are the ports a TelemetryService is built from. Store, Bus and
// Scheduler are required; the rest have in-process defaults.
type TelemetryDeps struct {
	Store        telemetry.KeyValueStore // persistent scope: logs, user id, consent
	SessionStore telemetry.KeyValueStore // session scope: session id
	Bus          telemetry.EventBus
	Scheduler    telemetry.Scheduler
	Clock        telemetry.Clock
	Collector    telemetry.Collector // nil disables collector delivery
	TagSink      telemetry.TagSink   // nil disables analytics tags
	Logger       *logging.ChanneledLogger
	Metrics      *metrics.Recorder
}

// TelemetryService is the public surface of the pipeline: consent-gated
// capture, export, clearing, reporting and the flush lifecycle.
type TelemetryService struct {
	cfg        TelemetryConfig
	events     *eventlog.Log
	dispatcher *DispatchService
	reports    *ReportService
	identity   *IdentityService
	consent    *ConsentGate
	bus        telemetry.EventBus
	scheduler  telemetry.Scheduler
	clock      telemetry.Clock
	logger     *logging.ChanneledLogger
	metrics    *metrics.Recorder

	// mu serialises capture against ClearData and guards the lifecycle state.
	mu            sync.Mutex
	lastTimestamp time.Time
	handles       []telemetry.Handle
	unsubscribers []func()
	started       bool
	stopped       bool
}

// NewTelemetryService opens the event logs and wires the pipeline. It never
// fails on corrupted stored data.
func NewTelemetryService(cfg TelemetryConfig, deps TelemetryDeps) *TelemetryService {
	if deps.Logger == nil {
		deps.Logger = logging.NewDiscardLogger()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewRecorder()
	}
	if deps.Clock == nil {
		deps.Clock = telemetry.SystemClock{}
	}
	if deps.SessionStore == nil {
		deps.SessionStore = kvstore.NewMemoryStore(0)
	}

	events := eventlog.Open(deps.Store, cfg.Namespace, cfg.LogCapacity, deps.Logger)
	for _, issue := range events.LoadIssues() {
		dropped := issue.Dropped
		if dropped == 0 {
			dropped = 1
		}
		deps.Metrics.ParseFailed(issue.Key, dropped)
	}

	identity := NewIdentityService(deps.Store, deps.SessionStore, cfg.Namespace, deps.Logger)
	return &TelemetryService{
		cfg:        cfg,
		events:     events,
		dispatcher: NewDispatchService(cfg, deps.Collector, deps.TagSink, identity, deps.Clock, deps.Logger, deps.Metrics),
		reports:    NewReportService(cfg.Report, deps.Logger),
		identity:   identity,
		consent:    NewConsentGate(deps.Store, cfg.Namespace, cfg.EnableTracking, cfg.ConsentRequired, deps.Logger),
		bus:        deps.Bus,
		scheduler:  deps.Scheduler,
		clock:      deps.Clock,
		logger:     deps.Logger,
		metrics:    deps.Metrics,
	}
}

// Init starts the periodic flush and subscribes to the page lifecycle topics.
// Calling it again has no effect.
func (s *TelemetryService) Init() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return
	}
	s.started = true

	if s.cfg.FlushInterval > 0 {
		s.handles = append(s.handles, s.scheduler.Every(s.cfg.FlushInterval, func() {
			s.dispatcher.FlushAsync(FlushInterval)
		}))
	}
	s.unsubscribers = append(s.unsubscribers,
		s.bus.Subscribe(telemetry.TopicVisibilityChange, s.onVisibilityChange),
		s.bus.Subscribe(telemetry.TopicUnload, s.onUnload),
	)

	s.logger.Startup().Info("Telemetry pipeline started",
		"namespace", s.cfg.Namespace,
		"flushInterval", s.cfg.FlushInterval,
		"batchSize", s.cfg.BatchSize,
		"canTrack", s.consent.CanTrack())
}

func (s *TelemetryService) onVisibilityChange(n telemetry.Notification) {
	if state, _ := n.Detail["state"].(string); state == LifecycleHidden {
		s.dispatcher.FlushAsync(FlushVisibility)
	}
}

// onUnload starts a best-effort flush; the process may exit before it ends.
func (s *TelemetryService) onUnload(telemetry.Notification) {
	s.dispatcher.FlushAsync(FlushUnload)
}

// Teardown cancels the periodic flush, unsubscribes from the lifecycle topics,
// waits for in-flight flushes and performs one final flush.
func (s *TelemetryService) Teardown(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	handles, unsubscribers := s.handles, s.unsubscribers
	s.handles, s.unsubscribers = nil, nil
	s.mu.Unlock()

	for _, h := range handles {
		h.Cancel()
	}
	for _, unsubscribe := range unsubscribers {
		unsubscribe()
	}

	done := make(chan struct{})
	go func() {
		s.dispatcher.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Shutdown().Warn("Gave up waiting for in-flight flushes", "error", ctx.Err())
		return ctx.Err()
	}

	err := s.dispatcher.Flush(ctx, FlushTeardown)
	if err != nil {
		s.logger.Shutdown().Warn("Final flush failed", "pending", s.dispatcher.Pending(), "error", err)
	} else {
		s.logger.Shutdown().Info("Telemetry pipeline stopped")
	}
	return err
}

// Flush delivers the queued events now, ignoring any retry backoff.
func (s *TelemetryService) Flush(ctx context.Context) error {
	return s.dispatcher.Flush(ctx, FlushManual)
}

// TrackRating records a helpful/not helpful vote. It never fails or panics;
// problems are logged.
func (s *TelemetryService) TrackRating(in telemetry.RatingInput) {
	s.track(telemetry.KindRating, func(sessionID string, at time.Time) any {
		return telemetry.NewRatingEvent(in, sessionID, at)
	})
}

// TrackFeedback records free-text feedback. Word count and sentiment are
// derived here.
func (s *TelemetryService) TrackFeedback(in telemetry.FeedbackInput) {
	s.track(telemetry.KindFeedback, func(sessionID string, at time.Time) any {
		return telemetry.NewFeedbackEvent(in, sessionID, at)
	})
}

// TrackPerformance records how a visitor engaged with an answer.
func (s *TelemetryService) TrackPerformance(in telemetry.MetricInput) {
	s.track(telemetry.KindMetric, func(sessionID string, at time.Time) any {
		return telemetry.NewPerformanceMetric(in, sessionID, at)
	})
}

func (s *TelemetryService) track(kind telemetry.Kind, build func(sessionID string, at time.Time) any) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Capture().Error("Panic recovered during capture", "kind", kind, "error", r)
		}
	}()

	if !s.consent.CanTrack() {
		s.metrics.Suppressed()
		s.logger.Consent().Debug("Capture suppressed by consent gate", "kind", kind)
		return
	}

	sessionID := s.identity.SessionID()
	userID := s.identity.UserID()

	event, shouldFlush, err := s.record(kind, sessionID, userID, build)
	if err != nil {
		s.reject(kind, err)
		return
	}

	s.metrics.Captured(string(kind))
	questionID, at := describe(event)
	s.logger.Capture().Debug("Event captured", "kind", kind, "questionId", questionID)
	s.bus.Publish(telemetry.Notification{
		Topic:     telemetry.TopicAnalyticsUpdate,
		Timestamp: at,
		Detail:    map[string]any{"kind": string(kind), "questionId": questionID},
	})

	if shouldFlush {
		s.dispatcher.FlushAsync(FlushThreshold)
	}
}

// record stamps, validates, persists and enqueues one event. It returns the
// validation error when the event is rejected.
func (s *TelemetryService) record(kind telemetry.Kind, sessionID, userID string, build func(sessionID string, at time.Time) any) (any, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	event := build(sessionID, s.nextTimestampLocked())
	if err := telemetry.ValidateCandidate(kind, event); err != nil {
		return nil, false, err
	}

	if err := s.events.Append(event); err != nil {
		s.metrics.PersistenceFailed(string(kind))
	}
	shouldFlush := s.dispatcher.Enqueue(telemetry.Envelope{Kind: kind, UserID: userID, Event: event})
	return event, shouldFlush, nil
}

func (s *TelemetryService) reject(kind telemetry.Kind, err error) {
	field := ""
	var verr *telemetry.ValidationError
	if errors.As(err, &verr) {
		field = verr.Field
	}
	s.metrics.Rejected(string(kind), field)
	s.logger.Capture().Warn("Rejected invalid event", "kind", kind, "field", field, "error", err)
}

// nextTimestampLocked returns the ingestion time, never earlier than the
// previous one. The caller holds s.mu.
func (s *TelemetryService) nextTimestampLocked() time.Time {
	now := s.clock.Now().UTC()
	if now.Before(s.lastTimestamp) {
		now = s.lastTimestamp
	}
	s.lastTimestamp = now
	return now
}

func describe(event any) (string, time.Time) {
	switch e := event.(type) {
	case telemetry.RatingEvent:
		return e.QuestionID, e.Timestamp
	case telemetry.FeedbackEvent:
		return e.QuestionID, e.Timestamp
	case telemetry.PerformanceMetric:
		return e.QuestionID, e.Timestamp
	}
	return "", time.Time{}
}

// GenerateReport computes a report over the retained events, optionally
// restricted to dr.
func (s *TelemetryService) GenerateReport(dr *analytics.DateRange) *analytics.AnalyticsReport {
	report := s.reports.Generate(s.events.Snapshot(), dr)
	s.metrics.ReportGenerated()
	return report
}

// ExportData returns copies of the three logs.
func (s *TelemetryService) ExportData() ExportedData {
	return s.events.Snapshot()
}

// ClearData wipes the logs and the dispatch queue together.
func (s *TelemetryService) ClearData() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.events.Clear(); err != nil {
		s.logger.Storage().Error("Failed to clear stored event logs", "error", err)
	}
	s.dispatcher.Clear()
	s.logger.Storage().Info("Telemetry data cleared")
}

// NotifyLifecycle publishes a page lifecycle change on the bus.
func (s *TelemetryService) NotifyLifecycle(state string) error {
	n := telemetry.Notification{
		Timestamp: s.clock.Now().UTC(),
		Detail:    map[string]any{"state": state},
	}
	switch state {
	case LifecycleVisible, LifecycleHidden:
		n.Topic = telemetry.TopicVisibilityChange
	case LifecycleUnload:
		n.Topic = telemetry.TopicUnload
	default:
		return fmt.Errorf("%w: %q", ErrUnknownLifecycleState, state)
	}
	s.bus.Publish(n)
	return nil
}

// ConsentStatus reports the consent gate inputs and decision.
func (s *TelemetryService) ConsentStatus() ConsentStatus {
	return s.consent.Status()
}

// Pending returns the number of events waiting for dispatch.
func (s *TelemetryService) Pending() int {
	return s.dispatcher.Pending()
}

// Identity exposes the identity service.
func (s *TelemetryService) Identity() *IdentityService {
	return s.identity
}
