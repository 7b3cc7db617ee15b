// Package health runs the two time-driven supervisors of the session: the active health
// probe and the idle watchdog.
package health

import (
	"context"
	"time"

	"github.com/sipeed/wabridge/pkg/logger"
	"github.com/sipeed/wabridge/pkg/metrics"
	"github.com/sipeed/wabridge/pkg/recovery"
	"github.com/sipeed/wabridge/pkg/session"
	"github.com/sipeed/wabridge/pkg/whatsapp"
)

// Monitor probes the session with real operations. A cached ready flag is not trusted:
// the client can keep reporting connected after the network is gone.
type Monitor struct {
	client    whatsapp.Client
	state     *session.State
	recoverer *recovery.Recoverer
	metrics   *metrics.Metrics
	interval  time.Duration
}

func NewMonitor(client whatsapp.Client, state *session.State, recoverer *recovery.Recoverer, m *metrics.Metrics, interval time.Duration) *Monitor {
	return &Monitor{
		client:    client,
		state:     state,
		recoverer: recoverer,
		metrics:   m,
		interval:  interval,
	}
}

// Run checks every interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Check runs one probe and reports whether the session is healthy. A session that is
// not marked ready is unhealthy without touching the client.
func (m *Monitor) Check(ctx context.Context) bool {
	if !m.state.IsMarkedReady() {
		return false
	}

	healthy := m.probe(ctx)
	m.metrics.HealthCheck(healthy)

	if healthy {
		m.state.Touch()
		logger.DebugC("health", "Health check passed")
		return true
	}

	if m.state.IsMarkedReady() {
		logger.WarnC("health", "Health check failed, marking client as not ready")
		m.state.SetReady(false)
	}
	return false
}

func (m *Monitor) probe(ctx context.Context) bool {
	state, err := m.client.ConnectionState(ctx)
	if err != nil {
		m.fail(ctx, "connection state", err)
		return false
	}

	if _, err := m.client.Contacts(ctx); err != nil {
		m.fail(ctx, "contacts", err)
		return false
	}

	if state != whatsapp.StateConnected {
		logger.WarnCF("health", "Client reports unexpected state", map[string]interface{}{
			"state": string(state),
		})
		return false
	}
	return true
}

func (m *Monitor) fail(ctx context.Context, step string, err error) {
	logger.ErrorCF("health", "Health check failed", map[string]interface{}{
		"step":  step,
		"error": err.Error(),
	})
	m.recoverer.Handle(ctx, "health", err)
}

// ConfirmReady is the lighter check used before serving a send: the ready flag plus one
// state query. The query is answered locally, so it proves nothing about liveness and
// never touches the idle clock. A failed query or a state other than connected clears
// readiness.
func (m *Monitor) ConfirmReady(ctx context.Context) bool {
	if !m.state.IsMarkedReady() {
		return false
	}

	state, err := m.client.ConnectionState(ctx)
	if err != nil {
		logger.WarnCF("health", "Client state check failed", map[string]interface{}{
			"error": err.Error(),
		})
		m.recoverer.Handle(ctx, "readiness", err)
		m.state.SetReady(false)
		return false
	}
	if state != whatsapp.StateConnected {
		logger.WarnCF("health", "Client not connected, marking client as not ready", map[string]interface{}{
			"state": string(state),
		})
		m.state.SetReady(false)
		return false
	}
	return true
}
