package calibration

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/trainload/internal/domain"
	"example.com/trainload/internal/persistence/memory"
)

var testNow = time.Date(2025, time.June, 10, 8, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	store := memory.NewStore()
	return NewEngine(DefaultConfig(), store.Calibration(), func() time.Time { return testNow })
}

func point(calculated, groundTruth, confidence float64) domain.CalibrationDataPoint {
	return domain.CalibrationDataPoint{
		Timestamp:   testNow,
		TenantID:    "tenant-1",
		Category:    domain.CategoryRun,
		Calculated:  calculated,
		GroundTruth: groundTruth,
		Confidence:  confidence,
	}
}

func TestProfileStartsNeutral(t *testing.T) {
	engine := newTestEngine(t)

	profile, err := engine.Profile(context.Background(), "tenant-1", domain.CategoryRun)
	require.NoError(t, err)
	require.Equal(t, 1.0, profile.Scale)
	require.Equal(t, 0.0, profile.Bias)
	require.Equal(t, 0.0, profile.Confidence)
	require.False(t, profile.Complete)
}

func TestConsistentEvidenceRaisesConfidenceMonotonically(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	previous := 0.0
	for i := 0; i < 8; i++ {
		profile, err := engine.Record(ctx, point(100, 120, 1.0))
		require.NoError(t, err)
		require.GreaterOrEqual(t, profile.Confidence, previous)
		previous = profile.Confidence
	}

	profile, err := engine.Profile(ctx, "tenant-1", domain.CategoryRun)
	require.NoError(t, err)
	// Scale converges toward the observed 1.2 ratio.
	require.Greater(t, profile.Scale, 1.0)
	require.Less(t, profile.Scale, 1.2)
	require.Equal(t, 8, profile.SampleCount)
}

func TestCompletenessRequiresSamplesAndConfidence(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	var profile domain.ScalingProfile
	var err error
	for i := 0; i < 10; i++ {
		profile, err = engine.Record(ctx, point(100, 100, 1.0))
		require.NoError(t, err)
		if i < 9 {
			require.False(t, profile.Complete)
		}
	}
	require.Equal(t, 10, profile.SampleCount)
	require.GreaterOrEqual(t, profile.Confidence, 0.8)
	require.True(t, profile.Complete)
}

func TestContradictoryEvidenceWidensInterval(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	var before domain.ScalingProfile
	var err error
	for i := 0; i < 5; i++ {
		before, err = engine.Record(ctx, point(100, 100, 1.0))
		require.NoError(t, err)
	}

	// Ground truth double the calculated value: a 100% deviation from the
	// learned scale.
	after, err := engine.Record(ctx, point(100, 200, 1.0))
	require.NoError(t, err)
	require.Less(t, after.Confidence, before.Confidence)
	// The point estimate moves a bounded amount, not all the way to 2.0.
	require.Less(t, after.Scale, before.Scale+0.15)
	require.False(t, after.Complete)
}

func TestLowConfidenceEvidenceMovesEstimatesLess(t *testing.T) {
	strong := newTestEngine(t)
	weak := newTestEngine(t)
	ctx := context.Background()

	strongProfile, err := strong.Record(ctx, point(100, 120, 1.0))
	require.NoError(t, err)
	weakProfile, err := weak.Record(ctx, point(100, 120, 0.25))
	require.NoError(t, err)

	require.Greater(t, strongProfile.Scale-1.0, weakProfile.Scale-1.0)
	require.Greater(t, strongProfile.Confidence, weakProfile.Confidence)
}

func TestRecordRejectsInvalidPoints(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	cases := []domain.CalibrationDataPoint{
		point(math.NaN(), 100, 1.0),
		point(100, math.Inf(1), 1.0),
		point(-5, 100, 1.0),
		point(100, -5, 1.0),
		point(100, 100, 1.5),
		{Timestamp: testNow, Category: domain.CategoryRun, Calculated: 100, GroundTruth: 100, Confidence: 1},
	}
	for _, c := range cases {
		_, err := engine.Record(ctx, c)
		require.ErrorIs(t, err, ErrInvalidPoint)
	}
}

func TestResetDropsAllState(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.Record(ctx, point(100, 120, 1.0))
	require.NoError(t, err)

	require.NoError(t, engine.Reset(ctx, "tenant-1"))

	profiles, err := engine.Profiles(ctx, "tenant-1")
	require.NoError(t, err)
	require.Empty(t, profiles)
}

func TestZeroCalculatedUsesNeutralRatio(t *testing.T) {
	engine := newTestEngine(t)

	profile, err := engine.Record(context.Background(), point(0, 50, 1.0))
	require.NoError(t, err)
	// With no usable ratio the scale stays put; bias absorbs the residual.
	require.Equal(t, 1.0, profile.Scale)
	require.Greater(t, profile.Bias, 0.0)
}
