package calibration

import (
	"github.com/prometheus/client_golang/prometheus"

	"example.com/trainload/internal/domain"
)

var pointsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "trainload",
	Subsystem: "calibration",
	Name:      "points_recorded_total",
	Help:      "Number of calibration data points folded into profiles, labeled by category and kind.",
}, []string{"category", "kind"})

func init() {
	prometheus.MustRegister(pointsCounter)
}

func recordPoint(point domain.CalibrationDataPoint) {
	kind := "direct"
	if point.PMCDelta.IsKnown() {
		kind = "pmc-drift"
	}
	pointsCounter.WithLabelValues(string(point.Category), kind).Inc()
}
