// Package metrics exposes the supervisor's prometheus collectors. A nil *Metrics is valid
// and records nothing, so components can be built without a registry in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "wabridge"

type Metrics struct {
	registry *prometheus.Registry

	ready          prometheus.Gauge
	healthChecks   *prometheus.CounterVec
	recoveries     *prometheus.CounterVec
	zombieRestarts prometheus.Counter
	sends          *prometheus.CounterVec
	inboundEvents  *prometheus.CounterVec
	webhooks       *prometheus.CounterVec
	memoryReleases prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ready: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_ready",
			Help:      "1 when the WhatsApp session is marked ready.",
		}),
		healthChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "health_checks_total",
			Help:      "Active health probes by result.",
		}, []string{"result"}),
		recoveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recovery_actions_total",
			Help:      "Recovery actions applied after classifying a client error.",
		}, []string{"action"}),
		zombieRestarts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "zombie_restarts_total",
			Help:      "Client restarts triggered by the idle watchdog.",
		}),
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbound_sends_total",
			Help:      "Outbound sends by content kind and result.",
		}, []string{"kind", "result"}),
		inboundEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_events_total",
			Help:      "Inbound client events by kind and disposition.",
		}, []string{"kind", "disposition"}),
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_posts_total",
			Help:      "Webhook deliveries by payload type and result.",
		}, []string{"type", "result"}),
		memoryReleases: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_releases_total",
			Help:      "Scheduled memory release runs.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ready,
		m.healthChecks,
		m.recoveries,
		m.zombieRestarts,
		m.sends,
		m.inboundEvents,
		m.webhooks,
		m.memoryReleases,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) SetReady(ready bool) {
	if m == nil {
		return
	}
	if ready {
		m.ready.Set(1)
		return
	}
	m.ready.Set(0)
}

func (m *Metrics) HealthCheck(healthy bool) {
	if m == nil {
		return
	}
	m.healthChecks.WithLabelValues(result(healthy)).Inc()
}

func (m *Metrics) Recovery(action string) {
	if m == nil {
		return
	}
	m.recoveries.WithLabelValues(action).Inc()
}

func (m *Metrics) ZombieRestart() {
	if m == nil {
		return
	}
	m.zombieRestarts.Inc()
}

func (m *Metrics) Send(kind string, err error) {
	if m == nil {
		return
	}
	m.sends.WithLabelValues(kind, result(err == nil)).Inc()
}

// InboundEvent counts an event as "relayed" or "dropped".
func (m *Metrics) InboundEvent(kind, disposition string) {
	if m == nil {
		return
	}
	m.inboundEvents.WithLabelValues(kind, disposition).Inc()
}

func (m *Metrics) Webhook(payloadType string, err error) {
	if m == nil {
		return
	}
	m.webhooks.WithLabelValues(payloadType, result(err == nil)).Inc()
}

func (m *Metrics) MemoryRelease() {
	if m == nil {
		return
	}
	m.memoryReleases.Inc()
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
