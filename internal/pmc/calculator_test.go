package pmc

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/trainload/internal/domain"
)

var (
	day1    = time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)
	testNow = time.Date(2025, time.June, 30, 12, 0, 0, 0, time.UTC)
)

func stressWeek() []DailyStress {
	// Training days 1 and 3 only; the rest decay.
	return []DailyStress{
		{Date: day1, Stress: 50},
		{Date: day1.AddDate(0, 0, 2), Stress: 80},
		{Date: day1.AddDate(0, 0, 6), Stress: 0},
	}
}

func TestRecomputeSevenDaySeries(t *testing.T) {
	series := Recompute("tenant-1", stressWeek(), nil, testNow)
	require.Len(t, series, 7)

	wantCTL := []float64{1.1764, 1.1487, 3.0040, 2.9333, 2.8643, 2.7969, 2.7311}
	wantATL := []float64{6.6561, 5.7700, 15.6517, 13.5681, 11.7619, 10.1961, 8.8388}
	for i, entry := range series {
		require.Equal(t, day1.AddDate(0, 0, i), entry.Date)
		require.InDelta(t, wantCTL[i], entry.CTL, 1e-4, "ctl day %d", i+1)
		require.InDelta(t, wantATL[i], entry.ATL, 1e-4, "atl day %d", i+1)
		require.InDelta(t, entry.CTL-entry.ATL, entry.TSB, 1e-12, "tsb day %d", i+1)
	}

	last := series[6]
	require.InDelta(t, -6.1077, last.TSB, 1e-4)
}

func TestRecomputeGapFillsMissingDays(t *testing.T) {
	series := Recompute("tenant-1", stressWeek(), nil, testNow)

	// Days 4-6 have no input rows at all; they still appear, with zero
	// stress and decayed loads.
	require.Equal(t, 0.0, series[3].TotalStress)
	require.Less(t, series[4].CTL, series[3].CTL)
	require.Less(t, series[4].ATL, series[3].ATL)
}

func TestRecomputeFromAnchorSeed(t *testing.T) {
	anchor := &Anchor{Date: day1, CTL: 10, ATL: 20}
	daily := []DailyStress{
		{Date: day1.AddDate(0, 0, 1), Stress: 30},
		{Date: day1.AddDate(0, 0, 2), Stress: 0},
	}

	series := Recompute("tenant-1", daily, anchor, testNow)
	require.Len(t, series, 2)
	require.Equal(t, day1.AddDate(0, 0, 1), series[0].Date)
	require.InDelta(t, 10.4706, series[0].CTL, 1e-4)
	require.InDelta(t, 21.3312, series[0].ATL, 1e-4)
	require.InDelta(t, 10.2242, series[1].CTL, 1e-4)
	require.InDelta(t, 18.4916, series[1].ATL, 1e-4)
}

func TestRecomputeIsIdempotent(t *testing.T) {
	first := Recompute("tenant-1", stressWeek(), nil, testNow)
	second := Recompute("tenant-1", stressWeek(), nil, testNow)
	require.Equal(t, first, second)
}

func TestRecomputeCarriesForwardOnNonFiniteStress(t *testing.T) {
	daily := []DailyStress{
		{Date: day1, Stress: 50},
		{Date: day1.AddDate(0, 0, 1), Stress: math.NaN()},
		{Date: day1.AddDate(0, 0, 2), Stress: 40},
	}

	series := Recompute("tenant-1", daily, nil, testNow)
	require.Len(t, series, 3)

	// The bad day holds the last known good loads, no decay step.
	require.Equal(t, 0.0, series[1].TotalStress)
	require.Equal(t, series[0].CTL, series[1].CTL)
	require.Equal(t, series[0].ATL, series[1].ATL)

	// Day 3 picks up the decay from the frozen state.
	require.InDelta(t, 2.0899, series[2].CTL, 1e-4)
	require.InDelta(t, 11.0949, series[2].ATL, 1e-4)
}

func TestRecomputeEmptyInput(t *testing.T) {
	require.Nil(t, Recompute("tenant-1", nil, nil, testNow))

	// An anchor with no days after it yields nothing to write.
	anchor := &Anchor{Date: day1, CTL: 10, ATL: 20}
	require.Nil(t, Recompute("tenant-1", nil, anchor, testNow))
}

func TestAggregateSumsPerDayAndSkipsNonFinite(t *testing.T) {
	records := []domain.WorkoutRecord{
		{StartDate: day1.Add(8 * time.Hour), Stress: 30},
		{StartDate: day1.Add(17 * time.Hour), Stress: 20},
		{StartDate: day1.AddDate(0, 0, 1).Add(9 * time.Hour), Stress: math.Inf(1)},
		{StartDate: day1.AddDate(0, 0, 2), Stress: 80},
	}

	daily := Aggregate(records)
	require.Len(t, daily, 2)
	require.Equal(t, day1, daily[0].Date)
	require.Equal(t, 50.0, daily[0].Stress)
	require.Equal(t, day1.AddDate(0, 0, 2), daily[1].Date)
	require.Equal(t, 80.0, daily[1].Stress)
}
