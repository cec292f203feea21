// Package metrics holds the Prometheus instrumentation for the server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every collector. Construct it once per process (or per
// test registry); collectors register on creation.
type Metrics struct {
	Sessions prometheus.Gauge
	Lobbies  prometheus.Gauge

	MediationsStarted   prometheus.Counter
	MediationsSucceeded prometheus.Counter
	MediationsAborted   prometheus.Counter

	Datagrams prometheus.Counter
}

// New creates and registers all collectors against reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Sessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "orion_sessions",
			Help: "Live reliable-channel sessions.",
		}),
		Lobbies: factory.NewGauge(prometheus.GaugeOpts{
			Name: "orion_lobbies",
			Help: "Live lobbies.",
		}),
		MediationsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "orion_mediations_started_total",
			Help: "Mediation attempts started.",
		}),
		MediationsSucceeded: factory.NewCounter(prometheus.CounterOpts{
			Name: "orion_mediations_succeeded_total",
			Help: "Mediation attempts where every member confirmed connectivity.",
		}),
		MediationsAborted: factory.NewCounter(prometheus.CounterOpts{
			Name: "orion_mediations_aborted_total",
			Help: "Mediation attempts aborted by timeout or membership change.",
		}),
		Datagrams: factory.NewCounter(prometheus.CounterOpts{
			Name: "orion_datagrams_received_total",
			Help: "Datagrams received on the UDP channel, valid or not.",
		}),
	}
}
