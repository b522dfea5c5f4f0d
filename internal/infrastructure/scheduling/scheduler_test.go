package scheduling

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AtRiskMedia/tractstack-telemetry/internal/domain/telemetry"
	"github.com/AtRiskMedia/tractstack-telemetry/internal/infrastructure/observability/logging"
	"github.com/stretchr/testify/assert"
)

var _ telemetry.Scheduler = (*TickerScheduler)(nil)

func TestEveryRunsUntilCancelled(t *testing.T) {
	s := NewTickerScheduler(context.Background(), logging.NewDiscardLogger())
	defer s.Stop()

	var runs atomic.Int32
	handle := s.Every(5*time.Millisecond, func() { runs.Add(1) })

	assert.Eventually(t, func() bool { return runs.Load() >= 2 }, time.Second, time.Millisecond)
	handle.Cancel()

	time.Sleep(20 * time.Millisecond)
	after := runs.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, runs.Load())
}

func TestStopWaitsForTasks(t *testing.T) {
	s := NewTickerScheduler(context.Background(), logging.NewDiscardLogger())
	var runs atomic.Int32
	s.Every(time.Millisecond, func() { runs.Add(1) })
	assert.Eventually(t, func() bool { return runs.Load() >= 1 }, time.Second, time.Millisecond)

	s.Stop()
	after := runs.Load()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, after, runs.Load())
}

func TestPanickingTaskKeepsTicking(t *testing.T) {
	s := NewTickerScheduler(context.Background(), logging.NewDiscardLogger())
	defer s.Stop()

	var runs atomic.Int32
	s.Every(time.Millisecond, func() {
		runs.Add(1)
		panic("boom")
	})
	assert.Eventually(t, func() bool { return runs.Load() >= 2 }, time.Second, time.Millisecond)
}

func TestNonPositiveIntervalIsIgnored(t *testing.T) {
	s := NewTickerScheduler(context.Background(), logging.NewDiscardLogger())
	defer s.Stop()

	var runs atomic.Int32
	handle := s.Every(0, func() { runs.Add(1) })
	handle.Cancel()
	time.Sleep(5 * time.Millisecond)
	assert.Zero(t, runs.Load())
}
