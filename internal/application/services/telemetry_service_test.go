package services

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/AtRiskMedia/tractstack-telemetry/internal/domain/telemetry"
	"github.com/AtRiskMedia/tractstack-telemetry/internal/infrastructure/messaging"
	"github.com/AtRiskMedia/tractstack-telemetry/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/tractstack-telemetry/internal/infrastructure/persistence/kvstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsentGate(t *testing.T) {
	tests := []struct {
		name            string
		enableTracking  bool
		consentRequired bool
		consent         string
		wantCaptured    int
	}{
		{name: "consent required and absent", enableTracking: true, consentRequired: true, wantCaptured: 0},
		{name: "consent required and denied", enableTracking: true, consentRequired: true, consent: "false", wantCaptured: 0},
		{name: "consent required and granted", enableTracking: true, consentRequired: true, consent: "true", wantCaptured: 1},
		{name: "consent not required", enableTracking: true, consentRequired: false, wantCaptured: 1},
		{name: "tracking disabled", enableTracking: false, consentRequired: false, consent: "true", wantCaptured: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.EnableTracking = tt.enableTracking
			cfg.ConsentRequired = tt.consentRequired
			h := newHarness(cfg)
			if tt.consent != "" {
				require.NoError(t, h.store.Set("faq_consent", tt.consent))
			}

			h.service.TrackRating(helpful("q1"))

			assert.Len(t, h.service.ExportData().Ratings, tt.wantCaptured)
			assert.Equal(t, tt.wantCaptured, h.service.Pending())
			assert.Equal(t, tt.wantCaptured == 1, h.service.ConsentStatus().CanTrack)
		})
	}
}

func TestSuppressedCaptureCreatesNoIdentity(t *testing.T) {
	cfg := testConfig()
	cfg.ConsentRequired = true
	h := newHarness(cfg)

	h.service.TrackRating(helpful("q1"))
	h.service.TrackFeedback(telemetry.FeedbackInput{QuestionID: "q1", Rating: telemetry.RatingHelpful, Feedback: "long enough feedback"})
	h.service.TrackPerformance(telemetry.MetricInput{QuestionID: "q1"})

	assert.Equal(t, 0, h.store.Len())
	assert.Equal(t, 0, h.session.Len())
}

func TestTrackRatingStampsEvent(t *testing.T) {
	h := newHarness(testConfig())

	h.service.TrackRating(telemetry.RatingInput{
		QuestionID:   "q1",
		QuestionText: "How do I reset my password?",
		Rating:       telemetry.RatingHelpful,
		ResponseTime: float(1200),
		DeviceType:   telemetry.DeviceMobile,
	})

	ratings := h.service.ExportData().Ratings
	require.Len(t, ratings, 1)
	assert.Equal(t, epoch, ratings[0].Timestamp)
	assert.True(t, strings.HasPrefix(ratings[0].SessionID, "session_"))
	assert.Equal(t, h.service.Identity().SessionID(), ratings[0].SessionID)

	queued := h.service.dispatcher.Queued()
	require.Len(t, queued, 1)
	assert.Equal(t, telemetry.KindRating, queued[0].Kind)
	assert.True(t, strings.HasPrefix(queued[0].UserID, "user_"))
}

func TestTimestampsNeverDecrease(t *testing.T) {
	h := newHarness(testConfig())

	h.service.TrackRating(helpful("q1"))
	h.clock.Set(epoch.Add(-time.Hour))
	h.service.TrackRating(helpful("q2"))
	h.clock.Set(epoch.Add(time.Minute))
	h.service.TrackRating(helpful("q3"))

	ratings := h.service.ExportData().Ratings
	require.Len(t, ratings, 3)
	assert.Equal(t, epoch, ratings[0].Timestamp)
	assert.Equal(t, epoch, ratings[1].Timestamp)
	assert.Equal(t, epoch.Add(time.Minute), ratings[2].Timestamp)
}

func TestInvalidEventsAreRejected(t *testing.T) {
	h := newHarness(testConfig())

	h.service.TrackRating(telemetry.RatingInput{QuestionID: "q1", Rating: "meh"})
	h.service.TrackRating(telemetry.RatingInput{Rating: telemetry.RatingHelpful})
	h.service.TrackRating(telemetry.RatingInput{QuestionID: "q1", Rating: telemetry.RatingHelpful, ResponseTime: float(-1)})
	h.service.TrackFeedback(telemetry.FeedbackInput{QuestionID: "q1", Rating: telemetry.RatingHelpful, Feedback: "too short"})
	h.service.TrackFeedback(telemetry.FeedbackInput{QuestionID: "q1", Rating: telemetry.RatingHelpful, Feedback: "long enough feedback", Category: "style"})
	h.service.TrackPerformance(telemetry.MetricInput{QuestionID: "q1", ScrollDepth: 1.5})
	h.service.TrackPerformance(telemetry.MetricInput{QuestionID: "q1", ViewDuration: -5})
	h.service.TrackRating(telemetry.RatingInput{QuestionID: "q1", Rating: telemetry.RatingHelpful, ResponseTime: float(math.Inf(1))})
	h.service.TrackPerformance(telemetry.MetricInput{QuestionID: "q1", ClickToRate: math.Inf(1)})

	data := h.service.ExportData()
	assert.Empty(t, data.Ratings)
	assert.Empty(t, data.Feedback)
	assert.Empty(t, data.Metrics)
	assert.Equal(t, 0, h.service.Pending())
}

func TestTrackFeedbackDerivesFields(t *testing.T) {
	h := newHarness(testConfig())

	h.service.TrackFeedback(telemetry.FeedbackInput{
		QuestionID: "q1",
		Rating:     telemetry.RatingNotHelpful,
		Feedback:   "The steps are confusing and the screenshot is wrong",
		Category:   telemetry.CategoryClarity,
	})

	feedback := h.service.ExportData().Feedback
	require.Len(t, feedback, 1)
	assert.Equal(t, 9, feedback[0].WordCount)
	assert.Equal(t, telemetry.SentimentNegative, feedback[0].Sentiment)
	assert.Equal(t, epoch, feedback[0].Timestamp)
}

func TestTrackPerformance(t *testing.T) {
	h := newHarness(testConfig())

	h.service.TrackPerformance(telemetry.MetricInput{QuestionID: "q1", ViewDuration: 15000, ScrollDepth: 0.5, ClickToRate: 3000})

	metrics := h.service.ExportData().Metrics
	require.Len(t, metrics, 1)
	assert.Equal(t, 0.5, metrics[0].ScrollDepth)
	assert.Equal(t, 1, h.service.Pending())
}

func TestExportAndClearData(t *testing.T) {
	h := newHarness(testConfig())

	h.service.TrackRating(helpful("q1"))
	h.service.TrackRating(notHelpful("q2"))
	h.service.TrackFeedback(telemetry.FeedbackInput{QuestionID: "q2", Rating: telemetry.RatingNotHelpful, Feedback: "missing the second step"})
	h.service.TrackPerformance(telemetry.MetricInput{QuestionID: "q1", ScrollDepth: 1})

	data := h.service.ExportData()
	assert.Len(t, data.Ratings, 2)
	assert.Len(t, data.Feedback, 1)
	assert.Len(t, data.Metrics, 1)

	// Export hands out copies.
	data.Ratings[0].QuestionID = "changed"
	assert.Equal(t, "q1", h.service.ExportData().Ratings[0].QuestionID)

	h.service.ClearData()

	data = h.service.ExportData()
	assert.Empty(t, data.Ratings)
	assert.Empty(t, data.Feedback)
	assert.Empty(t, data.Metrics)
	assert.Equal(t, 0, h.service.Pending())

	reopened := h.build(testConfig()).ExportData()
	assert.Empty(t, reopened.Ratings)
	assert.Empty(t, reopened.Feedback)
	assert.Empty(t, reopened.Metrics)
}

func TestEventsSurviveReopen(t *testing.T) {
	h := newHarness(testConfig())
	h.service.TrackRating(helpful("q1"))
	h.service.TrackRating(helpful("q2"))

	reopened := h.build(testConfig())

	ratings := reopened.ExportData().Ratings
	require.Len(t, ratings, 2)
	assert.Equal(t, "q1", ratings[0].QuestionID)
	assert.Equal(t, "q2", ratings[1].QuestionID)
	// The dispatch queue is in-memory only.
	assert.Equal(t, 0, reopened.Pending())
}

func TestCorruptedStorageStartsEmpty(t *testing.T) {
	h := newHarness(testConfig())
	require.NoError(t, h.store.Set("faq_rating_events", "{not json"))

	service := h.build(testConfig())
	assert.Empty(t, service.ExportData().Ratings)

	service.TrackRating(helpful("q1"))
	assert.Len(t, service.ExportData().Ratings, 1)
}

func TestPersistenceFailureKeepsEventQueued(t *testing.T) {
	service := NewTelemetryService(testConfig(), TelemetryDeps{
		Store:     failingStore{},
		Bus:       messaging.NewBus(logging.NewDiscardLogger(), 1),
		Scheduler: &manualScheduler{},
		Clock:     newFakeClock(epoch),
	})

	assert.NotPanics(t, func() { service.TrackRating(helpful("q1")) })
	assert.Equal(t, 1, service.Pending())
	assert.Len(t, service.ExportData().Ratings, 1)

	// Identity survives in memory.
	assert.Equal(t, service.Identity().UserID(), service.Identity().UserID())
}

func TestCaptureRecoversFromStorePanic(t *testing.T) {
	store := &panickingStore{MemoryStore: kvstore.NewMemoryStore(0), suffix: "_rating_events"}
	service := NewTelemetryService(testConfig(), TelemetryDeps{
		Store:     store,
		Bus:       messaging.NewBus(logging.NewDiscardLogger(), 1),
		Scheduler: &manualScheduler{},
		Clock:     newFakeClock(epoch),
	})

	assert.NotPanics(t, func() { service.TrackRating(helpful("q1")) })
	require.True(t, store.panicked)

	done := make(chan struct{})
	go func() {
		defer close(done)
		service.TrackRating(helpful("q2"))
		service.ClearData()
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("capture blocked after a recovered panic")
	}
	assert.Equal(t, 0, service.Pending())
	assert.Empty(t, service.ExportData().Ratings)

	service.TrackRating(helpful("q3"))
	assert.Equal(t, 1, service.Pending())
}

func TestUnreadableConsentBlocksCapture(t *testing.T) {
	cfg := testConfig()
	cfg.ConsentRequired = true
	service := NewTelemetryService(cfg, TelemetryDeps{
		Store:     failingStore{failReads: true},
		Bus:       messaging.NewBus(logging.NewDiscardLogger(), 1),
		Scheduler: &manualScheduler{},
	})

	service.TrackRating(helpful("q1"))

	assert.Equal(t, 0, service.Pending())
	assert.False(t, service.ConsentStatus().ConsentGranted)
}

func TestCapturePublishesUpdate(t *testing.T) {
	h := newHarness(testConfig())
	var received []telemetry.Notification
	unsubscribe := h.bus.Subscribe(telemetry.TopicAnalyticsUpdate, func(n telemetry.Notification) {
		received = append(received, n)
	})
	defer unsubscribe()

	h.service.TrackRating(helpful("q1"))
	h.service.TrackRating(telemetry.RatingInput{QuestionID: "q2", Rating: "bogus"})
	h.service.TrackPerformance(telemetry.MetricInput{QuestionID: "q3"})

	require.Len(t, received, 2)
	assert.Equal(t, "rating", received[0].Detail["kind"])
	assert.Equal(t, "q1", received[0].Detail["questionId"])
	assert.Equal(t, "metric", received[1].Detail["kind"])
	assert.Equal(t, "q3", received[1].Detail["questionId"])
}

func TestThresholdTriggersFlush(t *testing.T) {
	cfg := testConfig()
	cfg.BatchSize = 3
	h := newHarness(cfg)

	h.service.TrackRating(helpful("q1"))
	h.service.TrackRating(helpful("q2"))
	h.service.dispatcher.Wait()
	assert.Equal(t, 0, h.collector.Calls())

	h.service.TrackRating(helpful("q3"))
	h.service.dispatcher.Wait()

	batches := h.collector.Batches()
	require.Len(t, batches, 1)
	assert.Len(t, batches[0].Events, 3)
	assert.Equal(t, h.service.Identity().SessionID(), batches[0].SessionID)
	assert.Equal(t, h.service.Identity().UserID(), batches[0].UserID)
	assert.Equal(t, epoch.UnixMilli(), batches[0].Timestamp)
	assert.NotEmpty(t, batches[0].ID)
	assert.Equal(t, 0, h.service.Pending())
}

func TestIntervalFlush(t *testing.T) {
	h := newHarness(testConfig())
	h.service.Init()
	h.service.Init()
	assert.Equal(t, 1, h.scheduler.Active())

	h.service.TrackRating(helpful("q1"))
	h.scheduler.Fire()
	h.service.dispatcher.Wait()

	assert.Equal(t, []string{"q1"}, h.collector.Delivered())
}

func TestLifecycleFlushes(t *testing.T) {
	h := newHarness(testConfig())
	h.service.Init()

	h.service.TrackRating(helpful("q1"))
	require.NoError(t, h.service.NotifyLifecycle(LifecycleVisible))
	h.service.dispatcher.Wait()
	assert.Empty(t, h.collector.Delivered())

	require.NoError(t, h.service.NotifyLifecycle(LifecycleHidden))
	h.service.dispatcher.Wait()
	assert.Equal(t, []string{"q1"}, h.collector.Delivered())

	h.service.TrackRating(helpful("q2"))
	require.NoError(t, h.service.NotifyLifecycle(LifecycleUnload))
	h.service.dispatcher.Wait()
	assert.Equal(t, []string{"q1", "q2"}, h.collector.Delivered())

	err := h.service.NotifyLifecycle("frozen")
	assert.True(t, errors.Is(err, ErrUnknownLifecycleState))
}

func TestTeardown(t *testing.T) {
	h := newHarness(testConfig())
	h.service.Init()
	h.service.TrackRating(helpful("q1"))

	require.NoError(t, h.service.Teardown(context.Background()))

	assert.Equal(t, []string{"q1"}, h.collector.Delivered())
	assert.Equal(t, 0, h.scheduler.Active())

	// Lifecycle subscriptions are gone.
	h.service.TrackRating(helpful("q2"))
	require.NoError(t, h.service.NotifyLifecycle(LifecycleHidden))
	h.service.dispatcher.Wait()
	assert.Equal(t, 1, h.service.Pending())

	assert.NoError(t, h.service.Teardown(context.Background()))
}

func TestTeardownReportsFinalFlushFailure(t *testing.T) {
	h := newHarness(testConfig())
	h.service.Init()
	h.collector.SetFailing(true)
	h.service.TrackRating(helpful("q1"))

	err := h.service.Teardown(context.Background())

	var derr *telemetry.DispatchError
	require.True(t, errors.As(err, &derr))
	assert.Equal(t, 1, derr.Events)
	assert.Equal(t, 1, h.service.Pending())
}

func TestFailedFlushRequeuesInOrder(t *testing.T) {
	h := newHarness(testConfig())
	h.collector.SetFailing(true)

	h.service.TrackRating(helpful("q1"))
	h.service.TrackRating(helpful("q2"))
	err := h.service.Flush(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errCollectorDown))
	assert.Equal(t, 2, h.service.Pending())

	h.service.TrackRating(helpful("q3"))
	h.collector.SetFailing(false)
	require.NoError(t, h.service.Flush(context.Background()))

	assert.Equal(t, []string{"q1", "q2", "q3"}, h.collector.Delivered())
	assert.Equal(t, 0, h.service.Pending())
}

func TestCaptureDuringInFlightFlush(t *testing.T) {
	for _, failing := range []bool{false, true} {
		name := "delivery succeeds"
		if failing {
			name = "delivery fails"
		}
		t.Run(name, func(t *testing.T) {
			h := newHarness(testConfig())
			h.collector.gate = make(chan struct{})
			h.collector.entered = make(chan struct{}, 1)
			h.collector.SetFailing(failing)

			h.service.TrackRating(helpful("q1"))
			h.service.dispatcher.FlushAsync(FlushManual)
			<-h.collector.entered

			h.service.TrackRating(helpful("q2"))
			assert.Equal(t, 1, h.service.Pending())

			close(h.collector.gate)
			h.service.dispatcher.Wait()

			queued := h.service.dispatcher.Queued()
			if failing {
				require.Len(t, queued, 2)
				assert.Equal(t, "q1", questionOf(queued[0]))
				assert.Equal(t, "q2", questionOf(queued[1]))
				assert.Empty(t, h.collector.Delivered())
			} else {
				require.Len(t, queued, 1)
				assert.Equal(t, "q2", questionOf(queued[0]))
				assert.Equal(t, []string{"q1"}, h.collector.Delivered())
			}
		})
	}
}

func TestClearDiscardsInFlightFailure(t *testing.T) {
	h := newHarness(testConfig())
	h.collector.gate = make(chan struct{})
	h.collector.entered = make(chan struct{}, 1)
	h.collector.SetFailing(true)

	h.service.TrackRating(helpful("q1"))
	h.service.dispatcher.FlushAsync(FlushManual)
	<-h.collector.entered

	h.service.ClearData()
	close(h.collector.gate)
	h.service.dispatcher.Wait()

	assert.Equal(t, 0, h.service.Pending())
}

func TestRetryBackoffDefersScheduledFlush(t *testing.T) {
	h := newHarness(testConfig())
	h.collector.SetFailing(true)
	h.service.TrackRating(helpful("q1"))
	require.Error(t, h.service.Flush(context.Background()))
	h.collector.SetFailing(false)

	require.NoError(t, h.service.dispatcher.Flush(context.Background(), FlushInterval))
	assert.Equal(t, 1, h.collector.Calls())
	assert.Equal(t, 1, h.service.Pending())

	h.clock.Advance(2 * time.Second)
	require.NoError(t, h.service.dispatcher.Flush(context.Background(), FlushInterval))
	assert.Equal(t, []string{"q1"}, h.collector.Delivered())
}

func TestEventsDroppedAfterMaxAttempts(t *testing.T) {
	cfg := testConfig()
	cfg.MaxDispatchAttempts = 2
	h := newHarness(cfg)
	h.collector.SetFailing(true)
	h.service.TrackRating(helpful("q1"))

	require.Error(t, h.service.Flush(context.Background()))
	assert.Equal(t, 1, h.service.Pending())

	require.Error(t, h.service.Flush(context.Background()))
	assert.Equal(t, 0, h.service.Pending())
}

func TestTagEmission(t *testing.T) {
	h := newHarness(testConfig())
	h.tags.err = errors.New("tag endpoint down")

	h.service.TrackRating(telemetry.RatingInput{QuestionID: "q1", Rating: telemetry.RatingHelpful, DeviceType: telemetry.DeviceMobile})
	h.service.TrackFeedback(telemetry.FeedbackInput{
		QuestionID: "q1",
		Rating:     telemetry.RatingHelpful,
		Feedback:   "clear and useful answer",
		Category:   telemetry.CategoryClarity,
	})
	require.NoError(t, h.service.Flush(context.Background()))

	tags := h.tags.Tags()
	require.Len(t, tags, 2)

	assert.Equal(t, "faq_rating", tags[0].name)
	assert.Equal(t, "faq", tags[0].params["event_category"])
	assert.Equal(t, "q1", tags[0].params["event_label"])
	assert.Equal(t, map[string]any{"dimension1": "mobile", "dimension2": "helpful", "metric1": 0}, tags[0].params["custom_map"])

	assert.Equal(t, "faq_feedback", tags[1].name)
	customMap := tags[1].params["custom_map"].(map[string]any)
	assert.Equal(t, float64(4), customMap["metric1"])

	// Tag failures never hold events back.
	assert.Equal(t, 0, h.service.Pending())
	assert.Len(t, h.collector.Delivered(), 2)
}

func TestFlushWithoutCollector(t *testing.T) {
	service := NewTelemetryService(testConfig(), TelemetryDeps{
		Store:     kvstore.NewMemoryStore(0),
		Bus:       messaging.NewBus(logging.NewDiscardLogger(), 1),
		Scheduler: &manualScheduler{},
	})
	service.TrackRating(helpful("q1"))

	require.NoError(t, service.Flush(context.Background()))
	assert.Equal(t, 0, service.Pending())
	assert.Len(t, service.ExportData().Ratings, 1)
}

func TestIdentityIsStable(t *testing.T) {
	h := newHarness(testConfig())
	userID := h.service.Identity().UserID()
	sessionID := h.service.Identity().SessionID()
	assert.True(t, strings.HasPrefix(userID, "user_"))
	assert.True(t, strings.HasPrefix(sessionID, "session_"))
	assert.Equal(t, userID, h.service.Identity().UserID())

	reopened := h.build(testConfig())
	assert.Equal(t, userID, reopened.Identity().UserID())
	assert.Equal(t, sessionID, reopened.Identity().SessionID())

	// A new session keeps the user.
	h.session = kvstore.NewMemoryStore(0)
	newSession := h.build(testConfig())
	assert.Equal(t, userID, newSession.Identity().UserID())
	assert.NotEqual(t, sessionID, newSession.Identity().SessionID())
}

func TestGenerateReportCoversCapturedEvents(t *testing.T) {
	h := newHarness(testConfig())
	h.service.TrackRating(helpful("q1"))
	h.service.TrackRating(notHelpful("q1"))

	report := h.service.GenerateReport(nil)

	assert.Equal(t, 2, report.Overview.TotalRatings)
	assert.Equal(t, 50, report.Overview.SatisfactionRate)
	require.NotNil(t, report.LatestEventAt)
	assert.Equal(t, epoch, *report.LatestEventAt)
}
