package rotation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records run outcomes on a private registry for export through a
// node_exporter textfile. A one-shot tool has nothing to scrape, so the
// registry is flushed to disk at the end of the run instead.
type Metrics struct {
	registry *prometheus.Registry

	runTimestamp  prometheus.Gauge
	runDuration   prometheus.Gauge
	pamSync       *prometheus.CounterVec
	localRotation *prometheus.CounterVec
	localFailures prometheus.Gauge
}

// NewMetrics builds the metric set on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		runTimestamp: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pamsync_last_run_timestamp_seconds",
			Help: "Unix time of the last completed rotation run",
		}),
		runDuration: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pamsync_run_duration_seconds",
			Help: "Duration of the last rotation run in seconds",
		}),
		pamSync: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pamsync_pam_sync_total",
			Help: "Account sync attempts against the PAM360 server by outcome",
		}, []string{"outcome"}),
		localRotation: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pamsync_local_rotation_total",
			Help: "Local password rotation attempts by outcome",
		}, []string{"outcome"}),
		localFailures: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pamsync_local_failures",
			Help: "Accounts whose local rotation failed in the last run",
		}),
	}
}

// Observe records a finished run.
func (m *Metrics) Observe(result *RunResult) {
	m.runTimestamp.SetToCurrentTime()
	m.runDuration.Set(result.Duration.Seconds())
	for _, acc := range result.Accounts {
		m.pamSync.WithLabelValues(string(acc.PAMSync)).Inc()
		m.localRotation.WithLabelValues(string(acc.Local)).Inc()
	}
	m.localFailures.Set(float64(result.LocalFailures()))
}

// WriteTextfile writes the registry in the node_exporter textfile format.
// The prometheus helper writes via a temp file and rename, so a collector
// scraping mid-write never sees a partial file.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
