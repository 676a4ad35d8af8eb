// Package calibration learns per-category correction factors for stress
// scores from confirmed or corrected ground-truth values.
package calibration

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"example.com/trainload/internal/domain"
)

// ErrInvalidPoint marks comparison events that cannot be folded into a
// profile.
var ErrInvalidPoint = errors.New("invalid calibration point")

// Config holds the learning and completeness thresholds.
type Config struct {
	// MinSamples and MinConfidence gate the "calibration complete" flag.
	MinSamples    int
	MinConfidence float64
	// LearningRate is the EMA step applied to the scale/bias estimates per
	// evidence point, weighted by the point's confidence.
	LearningRate float64
	// ConfidenceGain bounds how much one fully consistent point can close
	// the remaining confidence gap.
	ConfidenceGain float64
	// ContradictionRatio is the relative deviation beyond which evidence is
	// treated as contradictory: it widens the confidence interval instead
	// of swinging the point estimate.
	ContradictionRatio float64
	// ContradictionDecay shrinks confidence on contradictory evidence.
	ContradictionDecay float64
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		MinSamples:         10,
		MinConfidence:      0.8,
		LearningRate:       0.2,
		ConfidenceGain:     0.15,
		ContradictionRatio: 0.5,
		ContradictionDecay: 0.7,
	}
}

// Engine aggregates calibration data points into per-category scaling
// profiles. It implements domain.Calibrator.
type Engine struct {
	cfg   Config
	repo  domain.CalibrationRepository
	clock func() time.Time
}

// NewEngine constructs an Engine. A nil clock defaults to time.Now.
func NewEngine(cfg Config, repo domain.CalibrationRepository, clock func() time.Time) *Engine {
	if clock == nil {
		clock = time.Now
	}
	return &Engine{cfg: cfg, repo: repo, clock: clock}
}

// Record stores the comparison event and folds it into the category's
// profile, returning the updated profile.
func (e *Engine) Record(ctx context.Context, point domain.CalibrationDataPoint) (domain.ScalingProfile, error) {
	if err := validatePoint(point); err != nil {
		return domain.ScalingProfile{}, err
	}

	if err := e.repo.AppendPoint(ctx, point); err != nil {
		return domain.ScalingProfile{}, err
	}

	profile, err := e.repo.GetProfile(ctx, point.TenantID, point.Category)
	if err != nil {
		return domain.ScalingProfile{}, err
	}
	if profile == nil {
		p := domain.NewScalingProfile(point.TenantID, point.Category)
		profile = &p
	}

	updated := e.fold(*profile, point)
	updated.UpdatedAt = e.clock().UTC()
	if err := e.repo.UpsertProfile(ctx, updated); err != nil {
		return domain.ScalingProfile{}, err
	}
	recordPoint(point)
	return updated, nil
}

// fold applies one evidence point to the profile.
//
// Consistent evidence moves the scale/bias estimates by a confidence-
// weighted EMA step and monotonically raises confidence. Contradictory
// evidence widens the interval instead: confidence drops, and the point
// estimate still moves by at most one capped step, so it cannot oscillate
// between disagreeing sources.
func (e *Engine) fold(profile domain.ScalingProfile, point domain.CalibrationDataPoint) domain.ScalingProfile {
	ratio := 1.0
	if point.Calculated > 0 {
		ratio = point.GroundTruth / point.Calculated
	}

	deviation := math.Abs(ratio - profile.Scale)
	if profile.Scale != 0 {
		deviation /= math.Abs(profile.Scale)
	}
	contradictory := profile.SampleCount > 0 && deviation > e.cfg.ContradictionRatio

	step := e.cfg.LearningRate * clamp01(point.Confidence)
	if contradictory {
		// Capped step toward the outlier; the interval widens instead.
		step = math.Min(step, e.cfg.LearningRate*0.5)
	}
	profile.Scale += (ratio - profile.Scale) * step

	residual := point.GroundTruth - point.Calculated*profile.Scale
	profile.Bias += (residual - profile.Bias) * step

	if contradictory {
		profile.Confidence *= e.cfg.ContradictionDecay
	} else {
		agreement := 1 - math.Min(deviation/e.cfg.ContradictionRatio, 1)
		gain := e.cfg.ConfidenceGain * clamp01(point.Confidence) * agreement
		profile.Confidence += (1 - profile.Confidence) * gain
	}
	profile.Confidence = clamp01(profile.Confidence)

	profile.SampleCount++
	profile.Complete = profile.SampleCount >= e.cfg.MinSamples && profile.Confidence >= e.cfg.MinConfidence
	return profile
}

// Profile returns the category's profile, or the neutral starting profile
// when no evidence has been recorded yet.
func (e *Engine) Profile(ctx context.Context, tenantID string, category domain.Category) (domain.ScalingProfile, error) {
	profile, err := e.repo.GetProfile(ctx, tenantID, category)
	if err != nil {
		return domain.ScalingProfile{}, err
	}
	if profile == nil {
		return domain.NewScalingProfile(tenantID, category), nil
	}
	return *profile, nil
}

// Profiles lists all category profiles for the tenant.
func (e *Engine) Profiles(ctx context.Context, tenantID string) ([]domain.ScalingProfile, error) {
	return e.repo.ListProfiles(ctx, tenantID)
}

// Reset drops all calibration state for the tenant.
func (e *Engine) Reset(ctx context.Context, tenantID string) error {
	return e.repo.DeleteAll(ctx, tenantID)
}

func validatePoint(point domain.CalibrationDataPoint) error {
	if point.TenantID == "" || point.Category == "" {
		return fmt.Errorf("%w: missing tenant or category", ErrInvalidPoint)
	}
	for _, v := range []float64{point.Calculated, point.GroundTruth, point.Confidence} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite value", ErrInvalidPoint)
		}
	}
	if point.Calculated < 0 || point.GroundTruth < 0 {
		return fmt.Errorf("%w: negative stress value", ErrInvalidPoint)
	}
	if point.Confidence < 0 || point.Confidence > 1 {
		return fmt.Errorf("%w: confidence outside [0,1]", ErrInvalidPoint)
	}
	return nil
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
