package domain

import "time"

// DailyMetrics holds the training-load model for one calendar day.
// TSB is always CTL - ATL; Anchored marks days pinned by a user correction,
// which become the seed for forward-only recomputation.
type DailyMetrics struct {
	TenantID    string
	Date        time.Time // UTC midnight
	TotalStress float64
	CTL         float64
	ATL         float64
	TSB         float64
	Anchored    bool
	UpdatedAt   time.Time
}

// CalibrationDataPoint is one immutable ground-truth comparison event.
type CalibrationDataPoint struct {
	Timestamp   time.Time
	TenantID    string
	Category    Category
	Calculated  float64
	GroundTruth float64
	// Confidence weights how strongly the point moves the profile, in [0,1].
	Confidence float64
	// PMCDelta carries the CTL drift observed from a manual anchor
	// correction when the point is indirect evidence rather than a direct
	// per-activity comparison.
	PMCDelta Metric
}

// ScalingProfile is the per-category calibration state: how much to adjust
// and how much to trust computed stress scores for that category.
type ScalingProfile struct {
	TenantID    string
	Category    Category
	Scale       float64
	Bias        float64
	Confidence  float64
	SampleCount int
	Complete    bool
	UpdatedAt   time.Time
}

// NewScalingProfile returns the neutral starting profile for a category.
func NewScalingProfile(tenantID string, category Category) ScalingProfile {
	return ScalingProfile{
		TenantID: tenantID,
		Category: category,
		Scale:    1.0,
	}
}

// Apply adjusts a calculated stress score by the profile.
func (p ScalingProfile) Apply(calculated float64) float64 {
	return calculated*p.Scale + p.Bias
}
