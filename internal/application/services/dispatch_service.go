package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/AtRiskMedia/tractstack-telemetry/internal/domain/telemetry"
	"github.com/AtRiskMedia/tractstack-telemetry/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/tractstack-telemetry/internal/infrastructure/observability/metrics"
	"github.com/AtRiskMedia/tractstack-telemetry/internal/infrastructure/security"
	"github.com/cenkalti/backoff"
)

// FlushReason names what triggered a flush.
type FlushReason string

const (
	FlushThreshold  FlushReason = "threshold"
	FlushInterval   FlushReason = "interval"
	FlushVisibility FlushReason = "visibility"
	FlushUnload     FlushReason = "unload"
	FlushTeardown   FlushReason = "teardown"
	FlushManual     FlushReason = "manual"
)

// forced flushes ignore the retry backoff.
func (r FlushReason) forced() bool {
	switch r {
	case FlushThreshold, FlushInterval:
		return false
	}
	return true
}

type queuedEvent struct {
	envelope telemetry.Envelope
	attempts int
}

// DispatchService owns the in-memory dispatch queue. A flush swaps the queue
// for an empty one under the lock before any I/O, so events captured while a
// delivery is in flight land in the next batch.
type DispatchService struct {
	mu      sync.Mutex
	queue   []queuedEvent
	retryAt time.Time
	backoff *backoff.ExponentialBackOff

	// generation changes on Clear so in-flight batches are not requeued
	// into a wiped queue.
	generation uint64

	collector   telemetry.Collector
	tagSink     telemetry.TagSink
	identity    *IdentityService
	clock       telemetry.Clock
	domain      string
	batchSize   int
	maxAttempts int
	timeout     time.Duration

	inflight sync.WaitGroup
	logger   *logging.ChanneledLogger
	metrics  *metrics.Recorder
}

// NewDispatchService creates a dispatcher. collector and tagSink may be nil
// when the corresponding destination is not configured.
func NewDispatchService(
	cfg TelemetryConfig,
	collector telemetry.Collector,
	tagSink telemetry.TagSink,
	identity *IdentityService,
	clock telemetry.Clock,
	logger *logging.ChanneledLogger,
	recorder *metrics.Recorder,
) *DispatchService {
	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = cfg.RetryInitialInterval
	retry.MaxInterval = cfg.RetryMaxInterval
	retry.MaxElapsedTime = 0
	retry.Reset()

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 1
	}

	return &DispatchService{
		backoff:     retry,
		collector:   collector,
		tagSink:     tagSink,
		identity:    identity,
		clock:       clock,
		domain:      cfg.AnalyticsDomain,
		batchSize:   batchSize,
		maxAttempts: cfg.MaxDispatchAttempts,
		timeout:     cfg.CollectorTimeout,
		logger:      logger,
		metrics:     recorder,
	}
}

// Enqueue appends env and reports whether the batch-size threshold is reached.
func (d *DispatchService) Enqueue(env telemetry.Envelope) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queue = append(d.queue, queuedEvent{envelope: env})
	d.metrics.QueueDepth(len(d.queue))
	return len(d.queue) >= d.batchSize
}

// Pending returns the number of queued events.
func (d *DispatchService) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Queued returns a copy of the queued envelopes, oldest first.
func (d *DispatchService) Queued() []telemetry.Envelope {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]telemetry.Envelope, len(d.queue))
	for i, q := range d.queue {
		out[i] = q.envelope
	}
	return out
}

// Clear empties the queue and resets the retry state.
func (d *DispatchService) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queue = nil
	d.generation++
	d.retryAt = time.Time{}
	d.backoff.Reset()
	d.metrics.QueueDepth(0)
}

// FlushAsync starts a flush on its own goroutine. Wait blocks until every
// async flush has returned.
func (d *DispatchService) FlushAsync(reason FlushReason) {
	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()
		_ = d.Flush(context.Background(), reason)
	}()
}

// Wait blocks until all async flushes have finished.
func (d *DispatchService) Wait() {
	d.inflight.Wait()
}

// Flush delivers the current queue. On a collector failure the batch is put
// back in front of the live queue, minus events that used up their attempts,
// and the returned error is a *telemetry.DispatchError.
func (d *DispatchService) Flush(ctx context.Context, reason FlushReason) error {
	batch, generation, ok := d.snapshot(reason)
	if !ok {
		return nil
	}

	start := time.Now()
	d.emitTags(ctx, batch)

	if d.collector == nil {
		d.logger.Dispatch().Debug("Flushed events without collector", "reason", reason, "events", len(batch))
		return nil
	}

	sendCtx := ctx
	if d.timeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	envelopes := make([]telemetry.Envelope, len(batch))
	for i, q := range batch {
		envelopes[i] = q.envelope
	}
	err := d.collector.SendBatch(sendCtx, telemetry.Batch{
		ID:        security.GenerateBatchID(),
		Events:    envelopes,
		Timestamp: d.clock.Now().UnixMilli(),
		SessionID: d.identity.SessionID(),
		UserID:    d.identity.UserID(),
	})
	elapsed := float64(time.Since(start).Milliseconds())

	if err != nil {
		d.metrics.Dispatched(metrics.OutcomeFailure, len(batch), elapsed)
		d.requeue(batch, generation, reason, err)
		var derr *telemetry.DispatchError
		if !errors.As(err, &derr) {
			err = &telemetry.DispatchError{Events: len(batch), Err: err}
		}
		return err
	}

	d.metrics.Dispatched(metrics.OutcomeSuccess, len(batch), elapsed)
	d.mu.Lock()
	d.retryAt = time.Time{}
	d.backoff.Reset()
	d.mu.Unlock()
	d.logger.Dispatch().Debug("Flushed events", "reason", reason, "events", len(batch), "durationMs", elapsed)
	return nil
}

// snapshot swaps the queue for an empty one. Unforced flushes inside the
// retry window take nothing.
func (d *DispatchService) snapshot(reason FlushReason) ([]queuedEvent, uint64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.queue) == 0 {
		return nil, 0, false
	}
	if !reason.forced() && d.clock.Now().Before(d.retryAt) {
		d.logger.Dispatch().Debug("Flush deferred by retry backoff",
			"reason", reason, "pending", len(d.queue), "retryAt", d.retryAt)
		return nil, 0, false
	}

	batch := d.queue
	d.queue = nil
	d.metrics.QueueDepth(0)
	return batch, d.generation, true
}

// requeue puts batch back in front of the current queue in its original
// order. Events that reached the attempt limit are dropped.
func (d *DispatchService) requeue(batch []queuedEvent, generation uint64, reason FlushReason, cause error) {
	kept := make([]queuedEvent, 0, len(batch))
	dropped := 0
	for _, q := range batch {
		q.attempts++
		if d.maxAttempts > 0 && q.attempts >= d.maxAttempts {
			dropped++
			continue
		}
		kept = append(kept, q)
	}

	d.mu.Lock()
	if generation != d.generation {
		d.mu.Unlock()
		d.logger.Dispatch().Debug("Discarding failed batch after queue was cleared",
			"reason", reason, "events", len(batch), "error", cause)
		return
	}
	queue := make([]queuedEvent, 0, len(kept)+len(d.queue))
	queue = append(queue, kept...)
	queue = append(queue, d.queue...)
	d.queue = queue
	wait := d.backoff.NextBackOff()
	d.retryAt = d.clock.Now().Add(wait)
	depth := len(d.queue)
	d.mu.Unlock()

	d.metrics.QueueDepth(depth)
	d.logger.Dispatch().Warn("Failed to dispatch events, requeued",
		"reason", reason,
		"events", len(batch),
		"requeued", len(kept),
		"pending", depth,
		"retryIn", wait,
		"error", cause)

	if dropped > 0 {
		d.metrics.Dropped(dropped)
		d.logger.Dispatch().Error("Dropped events after exhausting dispatch attempts",
			"dropped", dropped, "maxAttempts", d.maxAttempts)
	}
}

// emitTags sends each event to the analytics-tag sink. Failures are logged
// and never requeue.
func (d *DispatchService) emitTags(ctx context.Context, batch []queuedEvent) {
	if d.tagSink == nil {
		return
	}
	for _, q := range batch {
		params, err := tagParams(d.domain, q.envelope)
		if err != nil {
			d.logger.Dispatch().Warn("Failed to build tag parameters", "kind", q.envelope.Kind, "error", err)
			continue
		}
		if err := d.tagSink.Emit(ctx, TagEventName(d.domain, q.envelope.Kind), params); err != nil {
			d.logger.Dispatch().Warn("Failed to emit analytics tag", "kind", q.envelope.Kind, "error", err)
		}
	}
}

// TagEventName returns "<domain>_<eventType>".
func TagEventName(domain string, kind telemetry.Kind) string {
	return domain + "_" + string(kind)
}

// tagParams flattens the event and adds the category, label and custom
// dimensions.
func tagParams(domain string, env telemetry.Envelope) (map[string]any, error) {
	params, err := env.Fields()
	if err != nil {
		return nil, err
	}
	params["event_category"] = domain
	if questionID, ok := params["questionId"]; ok {
		params["event_label"] = questionID
	}

	customMap := map[string]any{}
	if device, ok := params["deviceType"]; ok {
		customMap["dimension1"] = device
	}
	if rating, ok := params["rating"]; ok {
		customMap["dimension2"] = rating
	} else if category, ok := params["category"]; ok {
		customMap["dimension2"] = category
	}
	if words, ok := params["wordCount"]; ok {
		customMap["metric1"] = words
	} else {
		customMap["metric1"] = 0
	}
	params["custom_map"] = customMap
	return params, nil
}
