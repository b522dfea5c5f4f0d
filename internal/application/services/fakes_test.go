package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/AtRiskMedia/tractstack-telemetry/internal/domain/telemetry"
	"github.com/AtRiskMedia/tractstack-telemetry/internal/infrastructure/messaging"
	"github.com/AtRiskMedia/tractstack-telemetry/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/tractstack-telemetry/internal/infrastructure/observability/metrics"
	"github.com/AtRiskMedia/tractstack-telemetry/internal/infrastructure/persistence/kvstore"
)

var epoch = time.Date(2024, 3, 3, 9, 0, 0, 0, time.UTC) // a Sunday

var errCollectorDown = errors.New("collector unavailable")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// manualScheduler runs tasks only when Fire is called.
type manualScheduler struct {
	mu    sync.Mutex
	tasks []*manualTask
}

type manualTask struct {
	interval  time.Duration
	run       func()
	cancelled bool
}

func (t *manualTask) Cancel() { t.cancelled = true }

func (s *manualScheduler) Every(interval time.Duration, task func()) telemetry.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &manualTask{interval: interval, run: task}
	s.tasks = append(s.tasks, t)
	return t
}

func (s *manualScheduler) Fire() {
	s.mu.Lock()
	tasks := append([]*manualTask(nil), s.tasks...)
	s.mu.Unlock()
	for _, t := range tasks {
		if !t.cancelled {
			t.run()
		}
	}
}

func (s *manualScheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.tasks {
		if !t.cancelled {
			n++
		}
	}
	return n
}

// recordingCollector stores delivered batches. While failing is set every
// delivery returns errCollectorDown. A non-nil gate blocks SendBatch until it
// is closed.
type recordingCollector struct {
	mu      sync.Mutex
	batches []telemetry.Batch
	calls   int
	failing bool
	gate    chan struct{}
	entered chan struct{}
}

func (c *recordingCollector) SendBatch(ctx context.Context, batch telemetry.Batch) error {
	c.mu.Lock()
	c.calls++
	gate, entered := c.gate, c.entered
	c.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failing {
		return errCollectorDown
	}
	c.batches = append(c.batches, batch)
	return nil
}

func (c *recordingCollector) SetFailing(failing bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failing = failing
}

func (c *recordingCollector) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func (c *recordingCollector) Batches() []telemetry.Batch {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]telemetry.Batch(nil), c.batches...)
}

// Delivered returns the question ids of every delivered event in order.
func (c *recordingCollector) Delivered() []string {
	var ids []string
	for _, b := range c.Batches() {
		for _, env := range b.Events {
			ids = append(ids, questionOf(env))
		}
	}
	return ids
}

func questionOf(env telemetry.Envelope) string {
	id, _ := describe(env.Event)
	return id
}

type emittedTag struct {
	name   string
	params map[string]any
}

type recordingTagSink struct {
	mu   sync.Mutex
	tags []emittedTag
	err  error
}

func (s *recordingTagSink) Emit(_ context.Context, name string, params map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tags = append(s.tags, emittedTag{name: name, params: params})
	return s.err
}

func (s *recordingTagSink) Tags() []emittedTag {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]emittedTag(nil), s.tags...)
}

// failingStore rejects every write and optionally every read.
type failingStore struct {
	failReads bool
}

func (failingStore) Set(string, string) error { return kvstore.ErrQuotaExceeded }
func (failingStore) Delete(string) error      { return nil }
func (s failingStore) Get(string) (string, bool, error) {
	if s.failReads {
		return "", false, errors.New("storage disabled")
	}
	return "", false, nil
}

// panickingStore panics on the first write to a key ending in suffix.
type panickingStore struct {
	*kvstore.MemoryStore
	suffix   string
	panicked bool
}

func (s *panickingStore) Set(key, value string) error {
	if !s.panicked && strings.HasSuffix(key, s.suffix) {
		s.panicked = true
		panic("store exploded")
	}
	return s.MemoryStore.Set(key, value)
}

type harness struct {
	service   *TelemetryService
	store     *kvstore.MemoryStore
	session   *kvstore.MemoryStore
	bus       *messaging.Bus
	scheduler *manualScheduler
	clock     *fakeClock
	collector *recordingCollector
	tags      *recordingTagSink
}

func testConfig() TelemetryConfig {
	cfg := DefaultTelemetryConfig()
	cfg.ConsentRequired = false
	cfg.FlushInterval = time.Minute
	cfg.RetryInitialInterval = time.Second
	cfg.RetryMaxInterval = time.Minute
	return cfg
}

func newHarness(cfg TelemetryConfig) *harness {
	h := &harness{
		store:     kvstore.NewMemoryStore(0),
		session:   kvstore.NewMemoryStore(0),
		scheduler: &manualScheduler{},
		clock:     newFakeClock(epoch),
		collector: &recordingCollector{},
		tags:      &recordingTagSink{},
	}
	logger := logging.NewDiscardLogger()
	h.bus = messaging.NewBus(logger, 10)
	h.service = h.build(cfg)
	return h
}

// build opens another service over the same stores, as a page reload would.
func (h *harness) build(cfg TelemetryConfig) *TelemetryService {
	return NewTelemetryService(cfg, TelemetryDeps{
		Store:        h.store,
		SessionStore: h.session,
		Bus:          h.bus,
		Scheduler:    h.scheduler,
		Clock:        h.clock,
		Collector:    h.collector,
		TagSink:      h.tags,
		Logger:       logging.NewDiscardLogger(),
		Metrics:      metrics.NewRecorder(),
	})
}

func helpful(questionID string) telemetry.RatingInput {
	return telemetry.RatingInput{QuestionID: questionID, Rating: telemetry.RatingHelpful}
}

func notHelpful(questionID string) telemetry.RatingInput {
	return telemetry.RatingInput{QuestionID: questionID, Rating: telemetry.RatingNotHelpful}
}

func float(v float64) *float64 { return &v }
