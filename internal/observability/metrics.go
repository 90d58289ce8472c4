package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for agent self-monitoring.
// It uses a custom registry to avoid polluting the global default.
type Metrics struct {
	Registry *prometheus.Registry

	// Refresh cycle metrics
	RefreshDuration prometheus.Histogram
	RefreshTotal    *prometheus.CounterVec
	LastRefreshTime prometheus.Gauge

	// Attribution metrics
	ProcessesTotal *prometheus.CounterVec

	// Container name resolution metrics
	NameLookupTotal    *prometheus.CounterVec
	PCTInvocationTotal prometheus.Counter

	// Snapshot content gauges
	SnapshotDevices    prometheus.Gauge
	SnapshotContainers prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all Prometheus metrics
// registered on a custom registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		RefreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gml_agent_refresh_duration_seconds",
			Help:    "Duration of snapshot refresh cycles in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
		RefreshTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gml_agent_refresh_total",
			Help: "Total number of refresh cycles by outcome.",
		}, []string{"status"}),
		LastRefreshTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gml_agent_last_refresh_timestamp_seconds",
			Help: "Unix timestamp of the last successfully published snapshot.",
		}),

		ProcessesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gml_agent_processes_total",
			Help: "Total GPU processes seen, by attribution outcome.",
		}, []string{"outcome"}),

		NameLookupTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gml_agent_name_lookup_total",
			Help: "Total container name resolutions, by source.",
		}, []string{"source"}),
		PCTInvocationTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gml_agent_pct_invocations_total",
			Help: "Total invocations of the external pct command.",
		}),

		SnapshotDevices: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gml_agent_snapshot_devices",
			Help: "Number of GPU devices in the current snapshot.",
		}),
		SnapshotContainers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gml_agent_snapshot_containers",
			Help: "Number of container aggregates in the current snapshot.",
		}),
	}

	reg.MustRegister(
		m.RefreshDuration,
		m.RefreshTotal,
		m.LastRefreshTime,
		m.ProcessesTotal,
		m.NameLookupTotal,
		m.PCTInvocationTotal,
		m.SnapshotDevices,
		m.SnapshotContainers,
	)

	return m
}
