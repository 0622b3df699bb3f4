// Package metrics содержит коллекторы Prometheus для запусков резервного копирования.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Исходы запуска резервного копирования.
const (
	OutcomeSuccess = "success"
)

// BackupMetrics принимает результаты запусков конвейера резервного копирования.
type BackupMetrics interface {
	// ObserveRun фиксирует исход запуска, его длительность и размер архива (0, если архива нет).
	ObserveRun(outcome string, duration time.Duration, artifactBytes int64)
}

var (
	_ BackupMetrics = (*Prom)(nil)
	_ BackupMetrics = Noop{}
)

// Prom публикует метрики резервного копирования в Prometheus.
type Prom struct {
	runs         *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	artifactSize prometheus.Gauge
	lastSuccess  prometheus.Gauge
}

// NewProm создает коллекторы и регистрирует их в reg.
func NewProm(reg prometheus.Registerer) (*Prom, error) {
	p := &Prom{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kvkeeper_backup_runs_total",
			Help: "Total backup runs, labeled by outcome",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kvkeeper_backup_duration_seconds",
			Help:    "Histogram of backup run durations in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
		}, []string{"outcome"}),
		artifactSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kvkeeper_backup_artifact_bytes",
			Help: "Size of the most recent backup archive in bytes",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kvkeeper_backup_last_success_timestamp_seconds",
			Help: "Unix time of the most recent successful backup",
		}),
	}

	for _, c := range []prometheus.Collector{p.runs, p.duration, p.artifactSize, p.lastSuccess} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// ObserveRun реализует BackupMetrics.
func (p *Prom) ObserveRun(outcome string, duration time.Duration, artifactBytes int64) {
	p.runs.WithLabelValues(outcome).Inc()
	p.duration.WithLabelValues(outcome).Observe(duration.Seconds())
	if artifactBytes > 0 {
		p.artifactSize.Set(float64(artifactBytes))
	}
	if outcome == OutcomeSuccess {
		p.lastSuccess.SetToCurrentTime()
	}
}

// Noop отбрасывает все наблюдения.
type Noop struct{}

// ObserveRun ничего не делает.
func (Noop) ObserveRun(string, time.Duration, int64) {}
