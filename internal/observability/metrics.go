package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "structwatch"

// Metrics метрики последнего запуска детектора. Процесс делает один проход,
// поэтому значения выгружаются один раз через WriteTextfile для textfile
// коллектора node_exporter
type Metrics struct {
	registry *prometheus.Registry

	TargetOutcomes   *prometheus.GaugeVec
	FetchDuration    *prometheus.HistogramVec
	ChangesDetected  prometheus.Gauge
	RunStatus        *prometheus.GaugeVec
	RunDuration      prometheus.Gauge
	LastRunTimestamp prometheus.Gauge
}

// NewMetrics регистрирует метрики в собственном registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		TargetOutcomes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "targets",
			Help:      "Number of targets per outcome in the last run",
		}, []string{"outcome"}),
		FetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "fetch_duration_seconds",
			Help:      "Time spent fetching a target page",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"target"}),
		ChangesDetected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "changes_detected",
			Help:      "Number of change events emitted by the last run",
		}),
		RunStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "run_status",
			Help:      "1 for the status of the last run, 0 otherwise",
		}, []string{"status"}),
		RunDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of the last run",
		}),
		LastRunTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished",
		}),
	}
	reg.MustRegister(m.TargetOutcomes, m.FetchDuration, m.ChangesDetected, m.RunStatus, m.RunDuration, m.LastRunTimestamp)
	return m
}

func (m *Metrics) ObserveTarget(outcome string) {
	m.TargetOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveFetch(target string, d time.Duration) {
	m.FetchDuration.WithLabelValues(target).Observe(d.Seconds())
}

// ObserveRun записывает итог прохода. statuses перечисляет все статусы,
// ровно один из них получает 1
func (m *Metrics) ObserveRun(status string, statuses []string, changes int, d time.Duration, finished time.Time) {
	for _, s := range statuses {
		v := 0.0
		if s == status {
			v = 1
		}
		m.RunStatus.WithLabelValues(s).Set(v)
	}
	m.ChangesDetected.Set(float64(changes))
	m.RunDuration.Set(d.Seconds())
	m.LastRunTimestamp.Set(float64(finished.Unix()))
}

// Registry отдаёт внутренний registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextfile атомарно пишет все метрики в текстовом формате Prometheus
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
