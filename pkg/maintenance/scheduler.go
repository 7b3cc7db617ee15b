// Package maintenance runs periodic housekeeping on a cron schedule.
package maintenance

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/dustin/go-humanize"

	"github.com/sipeed/wabridge/pkg/logger"
	"github.com/sipeed/wabridge/pkg/metrics"
)

// Scheduler returns freed heap to the OS whenever its cron expression is due. The
// expression has minute resolution and runs at most once per matching minute.
type Scheduler struct {
	expr    string
	metrics *metrics.Metrics

	isDue   func(expr string, ref ...time.Time) (bool, error)
	now     func() time.Time
	release func()

	mu      sync.Mutex
	lastRun time.Time
}

func NewScheduler(expr string, m *metrics.Metrics) (*Scheduler, error) {
	gron := gronx.New()
	if !gron.IsValid(expr) {
		return nil, fmt.Errorf("invalid maintenance schedule %q", expr)
	}
	return &Scheduler{
		expr:    expr,
		metrics: m,
		isDue:   gron.IsDue,
		now:     time.Now,
		release: debug.FreeOSMemory,
	}, nil
}

// Next reports when the schedule fires next after ref.
func (s *Scheduler) Next(ref time.Time) (time.Time, error) {
	return gronx.NextTickAfter(s.expr, ref, false)
}

func (s *Scheduler) Run(ctx context.Context) {
	if next, err := s.Next(s.now()); err == nil {
		logger.InfoCF("maintenance", "Memory release scheduled", map[string]interface{}{
			"schedule": s.expr,
			"next":     next.Format(time.RFC3339),
		})
	}

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick()
		}
	}
}

// Tick runs the release if the schedule is due now and it has not already run this minute.
func (s *Scheduler) Tick() bool {
	now := s.now()
	due, err := s.isDue(s.expr, now)
	if err != nil {
		logger.ErrorCF("maintenance", "Failed to evaluate schedule", map[string]interface{}{
			"schedule": s.expr,
			"error":    err.Error(),
		})
		return false
	}
	if !due {
		return false
	}

	minute := now.Truncate(time.Minute)
	s.mu.Lock()
	if minute.Equal(s.lastRun) {
		s.mu.Unlock()
		return false
	}
	s.lastRun = minute
	s.mu.Unlock()

	s.Release()
	return true
}

func (s *Scheduler) Release() {
	before := heapInUse()
	s.release()
	after := heapInUse()

	freed := uint64(0)
	if before > after {
		freed = before - after
	}
	logger.InfoCF("maintenance", "Released memory", map[string]interface{}{
		"heap_before": humanize.Bytes(before),
		"heap_after":  humanize.Bytes(after),
		"freed":       humanize.Bytes(freed),
	})
	s.metrics.MemoryRelease()
}

func heapInUse() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapInuse
}
