package health

import (
	"context"
	"sync"
	"time"

	"github.com/sipeed/wabridge/pkg/logger"
	"github.com/sipeed/wabridge/pkg/metrics"
	"github.com/sipeed/wabridge/pkg/recovery"
	"github.com/sipeed/wabridge/pkg/session"
	"github.com/sipeed/wabridge/pkg/whatsapp"
)

const maxInitializeRetries = 3

// Watchdog restarts a session that is marked ready but has been idle for too long. It is
// the only component that destroys and re-creates the client.
type Watchdog struct {
	client       whatsapp.Client
	state        *session.State
	recoverer    *recovery.Recoverer
	metrics      *metrics.Metrics
	interval     time.Duration
	maxIdle      time.Duration
	restartDelay time.Duration

	afterFunc func(d time.Duration, f func())

	mu      sync.Mutex
	pending bool
}

type WatchdogConfig struct {
	Interval     time.Duration
	MaxIdle      time.Duration
	RestartDelay time.Duration
}

func NewWatchdog(client whatsapp.Client, state *session.State, recoverer *recovery.Recoverer, m *metrics.Metrics, cfg WatchdogConfig) *Watchdog {
	return &Watchdog{
		client:       client,
		state:        state,
		recoverer:    recoverer,
		metrics:      m,
		interval:     cfg.Interval,
		maxIdle:      cfg.MaxIdle,
		restartDelay: cfg.RestartDelay,
		afterFunc: func(d time.Duration, f func()) {
			time.AfterFunc(d, f)
		},
	}
}

func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Check(ctx)
		}
	}
}

// Check declares a zombie when the session is ready and idle beyond the threshold, then
// tears the client down and schedules one re-initialization. It reports whether a
// restart was triggered.
func (w *Watchdog) Check(ctx context.Context) bool {
	zombie, idle := w.state.MarkZombieIfIdle(w.maxIdle)
	if !zombie {
		return false
	}

	logger.WarnCF("watchdog", "Client may be zombie, forcing restart", map[string]interface{}{
		"idle_seconds": int(idle.Seconds()),
	})
	w.metrics.ZombieRestart()
	w.restart(ctx, 0)
	return true
}

// Restart tears the client down and schedules a re-initialization regardless of idle time.
func (w *Watchdog) Restart(ctx context.Context) {
	w.state.MarkNotReady(session.PhaseUninitialized)
	w.restart(ctx, 0)
}

func (w *Watchdog) restart(ctx context.Context, attempt int) {
	if attempt == 0 {
		if err := w.client.Destroy(ctx); err != nil {
			logger.ErrorCF("watchdog", "Error destroying zombie client", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	w.mu.Lock()
	if w.pending {
		w.mu.Unlock()
		return
	}
	w.pending = true
	w.mu.Unlock()

	base := context.WithoutCancel(ctx)
	w.afterFunc(w.restartDelay, func() {
		w.mu.Lock()
		w.pending = false
		w.mu.Unlock()

		w.initialize(base, attempt)
	})
}

func (w *Watchdog) initialize(ctx context.Context, attempt int) {
	logger.InfoC("watchdog", "Re-initializing WhatsApp client")
	err := w.client.Initialize(ctx)
	if err == nil {
		return
	}

	logger.ErrorCF("watchdog", "Failed to re-initialize client", map[string]interface{}{
		"attempt": attempt + 1,
		"error":   err.Error(),
	})
	action := w.recoverer.Handle(ctx, "watchdog", err)
	// A cleared lock usually lets the next attempt through.
	if action == recovery.ClearLockAndMarkNotReady && attempt+1 < maxInitializeRetries {
		w.restart(ctx, attempt+1)
	}
}
