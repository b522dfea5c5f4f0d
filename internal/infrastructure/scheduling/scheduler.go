// Package scheduling runs periodic background tasks with cancelable handles.
package scheduling

import (
	"context"
	"sync"
	"time"

	"github.com/AtRiskMedia/tractstack-telemetry/internal/domain/telemetry"
	"github.com/AtRiskMedia/tractstack-telemetry/internal/infrastructure/observability/logging"
)

// TickerScheduler runs each task on its own goroutine driven by a time.Ticker.
type TickerScheduler struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *logging.ChanneledLogger
}

// NewTickerScheduler creates a scheduler whose tasks stop when ctx is done or
// Stop is called.
func NewTickerScheduler(ctx context.Context, logger *logging.ChanneledLogger) *TickerScheduler {
	ctx, cancel := context.WithCancel(ctx)
	return &TickerScheduler{ctx: ctx, cancel: cancel, logger: logger}
}

type tickerHandle struct {
	cancel context.CancelFunc
}

func (h *tickerHandle) Cancel() { h.cancel() }

// Every runs task every interval until the handle is cancelled. A task never
// overlaps with itself; ticks that arrive while it runs are dropped.
func (s *TickerScheduler) Every(interval time.Duration, task func()) telemetry.Handle {
	ctx, cancel := context.WithCancel(s.ctx)
	handle := &tickerHandle{cancel: cancel}
	if interval <= 0 {
		s.logger.System().Warn("Ignoring periodic task with non-positive interval", "interval", interval)
		cancel()
		return handle
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		s.logger.System().Debug("Periodic task started", "interval", interval)
		for {
			select {
			case <-ctx.Done():
				s.logger.System().Debug("Periodic task stopping", "interval", interval)
				return
			case <-ticker.C:
				s.run(task)
			}
		}
	}()
	return handle
}

func (s *TickerScheduler) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.System().Error("Panic recovered in periodic task", "error", r)
		}
	}()
	task()
}

// Stop cancels every task and waits for running ones to return.
func (s *TickerScheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}
