package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	recordPersistGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "trainload",
		Subsystem: "persistence",
		Name:      "last_record_persisted_timestamp_seconds",
		Help:      "Unix timestamp of the most recent workout record written to Postgres.",
	})
	metricsWriteGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "trainload",
		Subsystem: "persistence",
		Name:      "last_daily_metrics_written_timestamp_seconds",
		Help:      "Unix timestamp of the most recent daily metrics write.",
	})
)

func init() {
	prometheus.MustRegister(recordPersistGauge, metricsWriteGauge)
}

// RecordPersisted updates the record persistence watermark gauge.
func RecordPersisted(ts time.Time) {
	if ts.IsZero() {
		return
	}
	recordPersistGauge.Set(float64(ts.Unix()))
}

// MetricsWritten updates the daily-metrics watermark gauge.
func MetricsWritten(ts time.Time) {
	if ts.IsZero() {
		return
	}
	metricsWriteGauge.Set(float64(ts.Unix()))
}
