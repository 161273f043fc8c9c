// Package metrics exposes relay, kill-switch and precharge state as
// Prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/SunshadeCorp/relay-service/internal/event"
	"github.com/SunshadeCorp/relay-service/internal/relay"
)

const namespace = "relayservice"

// Metrics holds the service collectors on a private registry. It
// implements event.Sink.
type Metrics struct {
	registry *prometheus.Registry

	relayActive       *prometheus.GaugeVec
	relayTransitions  *prometheus.CounterVec
	killSwitchUnsafe  prometheus.Gauge
	prechargeRuns     *prometheus.CounterVec
	prechargeDuration prometheus.Histogram
	mqttConnected     prometheus.Gauge
}

// New creates and registers the collectors, including the Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		relayActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "relay_active",
			Help:      "1 when the relay output is energised",
		}, []string{"number", "id"}),

		relayTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_transitions_total",
			Help:      "Relay output changes",
		}, []string{"number"}),

		killSwitchUnsafe: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "kill_switch_unsafe",
			Help:      "1 while the kill-switch loop is open",
		}),

		prechargeRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "precharge_runs_total",
			Help:      "Precharge runs by outcome",
		}, []string{"outcome"}),

		prechargeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "precharge_duration_seconds",
			Help:      "Wall time of precharge runs",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 6.5, 7, 10},
		}),

		mqttConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mqtt_connected",
			Help:      "1 while connected to the MQTT broker",
		}),
	}

	m.registry.MustRegister(
		m.relayActive,
		m.relayTransitions,
		m.killSwitchUnsafe,
		m.prechargeRuns,
		m.prechargeDuration,
		m.mqttConnected,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Seed sets the gauges from the current state so they are exported before
// the first transition.
func (m *Metrics) Seed(relays []relay.Snapshot, killSwitchUnsafe bool) {
	for _, r := range relays {
		m.relayActive.WithLabelValues(strconv.Itoa(r.Number), r.ID).Set(boolGauge(r.Active))
		m.relayTransitions.WithLabelValues(strconv.Itoa(r.Number))
	}
	m.killSwitchUnsafe.Set(boolGauge(killSwitchUnsafe))
}

// SetMQTTConnected records the broker connection state.
func (m *Metrics) SetMQTTConnected(connected bool) {
	m.mqttConnected.Set(boolGauge(connected))
}

// Record implements event.Sink.
func (m *Metrics) Record(e event.Event) {
	switch e.Kind {
	case event.KindRelayState:
		number := strconv.Itoa(e.RelayNumber)
		m.relayActive.WithLabelValues(number, e.RelayID).Set(boolGauge(e.Active))
		m.relayTransitions.WithLabelValues(number).Inc()
	case event.KindKillSwitch:
		m.killSwitchUnsafe.Set(boolGauge(!e.Active))
	case event.KindPrecharge:
		m.prechargeRuns.WithLabelValues(e.State).Inc()
		m.prechargeDuration.Observe(e.Duration.Seconds())
	}
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
