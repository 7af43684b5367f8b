// Package metrics exposes the router daemon's counters to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/xdp-tools/udprouter/internal/control"
)

const (
	namespace = "udprouter"
	subsystem = "router"
)

// Label names for RPC call metrics.
const (
	labelProcedure = "procedure"
	labelOutcome   = "outcome"
)

// Collector mirrors the three map counters (§3) as gauges — they are
// snapshots refreshed from GetStats, not locally incremented — plus a
// per-procedure, per-outcome call counter for the control-plane API.
type Collector struct {
	// TotalPackets mirrors the total_packets map counter.
	TotalPackets prometheus.Gauge

	// ClientToServerPackets mirrors client_to_server_packets.
	ClientToServerPackets prometheus.Gauge

	// ServerToClientPackets mirrors server_to_client_packets.
	ServerToClientPackets prometheus.Gauge

	// RPCCalls counts every control-plane RPC by procedure and outcome
	// ("ok" or "error").
	RPCCalls *prometheus.CounterVec
}

// NewCollector creates a Collector with all router metrics registered
// against reg. If reg is nil, prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.TotalPackets,
		c.ClientToServerPackets,
		c.ServerToClientPackets,
		c.RPCCalls,
	)

	return c
}

func newMetrics() *Collector {
	return &Collector{
		TotalPackets: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "total_packets",
			Help:      "Cumulative frames seen by the packet rewriter, summed across CPUs.",
		}),
		ClientToServerPackets: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "client_to_server_packets",
			Help:      "Cumulative frames forwarded toward a backend, summed across CPUs.",
		}),
		ServerToClientPackets: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "server_to_client_packets",
			Help:      "Cumulative frames forwarded toward a client, summed across CPUs.",
		}),
		RPCCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "control",
			Name:      "rpc_calls_total",
			Help:      "Total control-plane RPC calls by procedure and outcome.",
		}, []string{labelProcedure, labelOutcome}),
	}
}

// SetStats overwrites the three counter gauges from a fresh GetStats
// snapshot. There is no guarantee the snapshot's three values were sampled
// at a single instant (§4.3); the gauges simply mirror whatever the actor
// last reported.
func (c *Collector) SetStats(stats control.RouterStatistics) {
	c.TotalPackets.Set(float64(stats.TotalPackets))
	c.ClientToServerPackets.Set(float64(stats.ClientToServerPackets))
	c.ServerToClientPackets.Set(float64(stats.ServerToClientPackets))
}

// ObserveRPC records one RPC call against procedure, labeled "ok" or
// "error" depending on whether err is nil.
func (c *Collector) ObserveRPC(procedure string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.RPCCalls.WithLabelValues(procedure, outcome).Inc()
}
