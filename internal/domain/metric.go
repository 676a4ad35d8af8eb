package domain

// Metric is an optional telemetry value that is explicitly known or unknown.
// The merge policy's fill-gaps semantics depend on the distinction between
// "zero" and "absent", so a bare float with a sentinel is not enough.
type Metric struct {
	value float64
	known bool
}

// Known constructs a Metric carrying the given value.
func Known(value float64) Metric {
	return Metric{value: value, known: true}
}

// Unknown constructs an absent Metric.
func Unknown() Metric {
	return Metric{}
}

// MetricFromPtr converts a nullable column or JSON field into a Metric.
func MetricFromPtr(v *float64) Metric {
	if v == nil {
		return Metric{}
	}
	return Known(*v)
}

// Get returns the value and whether it is known.
func (m Metric) Get() (float64, bool) {
	return m.value, m.known
}

// Value returns the value, or zero when unknown.
func (m Metric) Value() float64 {
	return m.value
}

// IsKnown reports whether the metric carries a value.
func (m Metric) IsKnown() bool {
	return m.known
}

// Ptr converts the Metric back into a nullable representation for
// persistence and API views.
func (m Metric) Ptr() *float64 {
	if !m.known {
		return nil
	}
	v := m.value
	return &v
}

// Or returns this metric when known, otherwise the fallback.
func (m Metric) Or(fallback Metric) Metric {
	if m.known {
		return m
	}
	return fallback
}
