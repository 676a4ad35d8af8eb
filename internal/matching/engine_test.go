package matching

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/trainload/internal/domain"
)

var day = time.Date(2025, time.June, 3, 0, 0, 0, 0, time.UTC)

func record(id string, category domain.Category, start time.Time, durationSec int, distance domain.Metric) domain.WorkoutRecord {
	return domain.WorkoutRecord{
		ID:              id,
		TenantID:        "tenant-1",
		UserID:          "user-1",
		Source:          domain.SourceDeviceSync,
		LinkingKeys:     []domain.LinkingKey{{Source: domain.SourceDeviceSync, ExternalID: "dev-" + id}},
		StartDate:       start,
		EndDate:         start.Add(time.Duration(durationSec) * time.Second),
		DurationSeconds: durationSec,
		DistanceMeters:  distance,
		Category:        category,
	}
}

func activity(source domain.Source, externalID string, category domain.Category, start time.Time, durationSec int, distance domain.Metric) domain.NormalizedActivity {
	return domain.NormalizedActivity{
		Source:          source,
		ExternalID:      externalID,
		Category:        category,
		StartDate:       start,
		DurationSeconds: durationSec,
		Distance:        distance,
	}
}

func TestMatchSameCategoryWithinTolerances(t *testing.T) {
	engine := NewEngine(DefaultConfig())

	existing := record("rec-1", domain.CategoryRide, day.Add(9*time.Hour), 3600, domain.Known(30000))
	candidate := activity(domain.SourceThirdParty, "tp-1", domain.CategoryRide, day.Add(9*time.Hour), 3550, domain.Known(30500))

	result := engine.Match(candidate, []domain.WorkoutRecord{existing})
	require.Equal(t, DecisionMatched, result.Decision)
	require.Equal(t, "rec-1", result.Record.ID)
	require.InDelta(t, 0.890, result.Confidence, 0.01)
}

func TestMatchCrossCategoryUsesTighterDistanceGate(t *testing.T) {
	engine := NewEngine(DefaultConfig())

	existing := record("rec-1", domain.CategoryRide, day.Add(9*time.Hour), 3600, domain.Known(30000))

	// 6.25% distance delta: inside the same-category 10% gate but outside
	// the cross-category 5% gate.
	candidate := activity(domain.SourceThirdParty, "tp-1", domain.CategoryRun, day.Add(9*time.Hour), 3600, domain.Known(32000))
	result := engine.Match(candidate, []domain.WorkoutRecord{existing})
	require.Equal(t, DecisionNew, result.Decision)

	// The same delta under the same category matches.
	sameCat := activity(domain.SourceThirdParty, "tp-2", domain.CategoryRide, day.Add(9*time.Hour), 3600, domain.Known(32000))
	result = engine.Match(sameCat, []domain.WorkoutRecord{existing})
	require.Equal(t, DecisionMatched, result.Decision)
}

func TestMatchCrossCategoryDiscountsConfidence(t *testing.T) {
	engine := NewEngine(DefaultConfig())

	existing := record("rec-1", domain.CategoryRide, day.Add(9*time.Hour), 3600, domain.Known(30000))
	candidate := activity(domain.SourceThirdParty, "tp-1", domain.CategoryRun, day.Add(9*time.Hour), 3600, domain.Known(30000))

	result := engine.Match(candidate, []domain.WorkoutRecord{existing})
	require.Equal(t, DecisionMatched, result.Decision)
	require.InDelta(t, 0.85, result.Confidence, 1e-9)
}

func TestMatchDurationOnlyFallback(t *testing.T) {
	engine := NewEngine(DefaultConfig())

	existing := record("rec-1", domain.CategoryRide, day.Add(6*time.Hour), 2700, domain.Unknown())
	existing.Indoor = true

	candidate := activity(domain.SourceBulkImport, "imp-1", domain.CategoryRide, day, 2700, domain.Unknown())
	candidate.Indoor = true

	result := engine.Match(candidate, []domain.WorkoutRecord{existing})
	require.Equal(t, DecisionMatched, result.Decision)
	require.InDelta(t, 1.0, result.Confidence, 1e-9)
}

func TestMatchFallbackRequiresExactCategoryAndIndoor(t *testing.T) {
	engine := NewEngine(DefaultConfig())

	existing := record("rec-1", domain.CategoryRide, day.Add(6*time.Hour), 2700, domain.Unknown())
	existing.Indoor = true

	outdoor := activity(domain.SourceBulkImport, "imp-1", domain.CategoryRide, day, 2700, domain.Unknown())
	result := engine.Match(outdoor, []domain.WorkoutRecord{existing})
	require.Equal(t, DecisionNew, result.Decision)

	otherCategory := activity(domain.SourceBulkImport, "imp-2", domain.CategoryRun, day, 2700, domain.Unknown())
	otherCategory.Indoor = true
	result = engine.Match(otherCategory, []domain.WorkoutRecord{existing})
	require.Equal(t, DecisionNew, result.Decision)
}

func TestMatchFallbackIsSymmetric(t *testing.T) {
	engine := NewEngine(DefaultConfig())

	// Either side may be the one missing distance; the duration-only rule
	// applies in both directions.
	withDistance := record("rec-1", domain.CategoryRun, day.Add(7*time.Hour), 3600, domain.Known(10000))
	noDistance := activity(domain.SourceBulkImport, "imp-1", domain.CategoryRun, day, 3600, domain.Unknown())
	result := engine.Match(noDistance, []domain.WorkoutRecord{withDistance})
	require.Equal(t, DecisionMatched, result.Decision)

	bare := record("rec-2", domain.CategoryRun, day.Add(7*time.Hour), 3600, domain.Unknown())
	rich := activity(domain.SourceDeviceSync, "dev-x", domain.CategoryRun, day, 3600, domain.Known(10000))
	result = engine.Match(rich, []domain.WorkoutRecord{bare})
	require.Equal(t, DecisionMatched, result.Decision)
}

func TestMatchReplayOnExistingLinkingKey(t *testing.T) {
	engine := NewEngine(DefaultConfig())

	existing := record("rec-1", domain.CategoryRun, day.Add(8*time.Hour), 3600, domain.Known(10000))
	candidate := activity(domain.SourceDeviceSync, "dev-rec-1", domain.CategoryRun, day.Add(8*time.Hour), 3600, domain.Known(10000))

	result := engine.Match(candidate, []domain.WorkoutRecord{existing})
	require.Equal(t, DecisionReplay, result.Decision)
	require.Equal(t, "rec-1", result.Record.ID)
}

func TestMatchSkipsRecordLinkedToAnotherSessionFromSameSource(t *testing.T) {
	engine := NewEngine(DefaultConfig())

	existing := record("rec-1", domain.CategoryRun, day.Add(8*time.Hour), 3600, domain.Known(10000))
	// Same source, different external id: this must never merge, even
	// though the metrics line up.
	candidate := activity(domain.SourceDeviceSync, "dev-other", domain.CategoryRun, day.Add(8*time.Hour), 3600, domain.Known(10000))

	result := engine.Match(candidate, []domain.WorkoutRecord{existing})
	require.Equal(t, DecisionNew, result.Decision)
}

func TestMatchUnmatchableWithoutDiscriminators(t *testing.T) {
	engine := NewEngine(DefaultConfig())

	candidate := activity(domain.SourceBulkImport, "imp-1", domain.CategoryStrength, day, 0, domain.Unknown())
	result := engine.Match(candidate, nil)
	require.Equal(t, DecisionUnmatchable, result.Decision)
}

func TestMatchAmbiguousBelowAcceptConfidence(t *testing.T) {
	engine := NewEngine(DefaultConfig())

	existing := record("rec-1", domain.CategoryRun, day.Add(8*time.Hour), 3600, domain.Known(10000))
	// 9% distance and 20% duration deltas are inside the gates but sum to
	// a confidence of 0.15.
	candidate := activity(domain.SourceThirdParty, "tp-1", domain.CategoryRun, day.Add(8*time.Hour), 4500, domain.Known(10990))

	result := engine.Match(candidate, []domain.WorkoutRecord{existing})
	require.Equal(t, DecisionAmbiguous, result.Decision)
	require.Less(t, result.Confidence, 0.5)
}

func TestMatchIgnoresOtherDays(t *testing.T) {
	engine := NewEngine(DefaultConfig())

	existing := record("rec-1", domain.CategoryRun, day.AddDate(0, 0, -1).Add(8*time.Hour), 3600, domain.Known(10000))
	candidate := activity(domain.SourceThirdParty, "tp-1", domain.CategoryRun, day.Add(8*time.Hour), 3600, domain.Known(10000))

	result := engine.Match(candidate, []domain.WorkoutRecord{existing})
	require.Equal(t, DecisionNew, result.Decision)
}

func TestMatchPrefersSameCategoryThenClosestDistance(t *testing.T) {
	engine := NewEngine(DefaultConfig())

	crossCat := record("rec-a", domain.CategoryRide, day.Add(8*time.Hour), 3600, domain.Known(10000))
	sameCatFar := record("rec-b", domain.CategoryRun, day.Add(8*time.Hour), 3600, domain.Known(10800))
	sameCatNear := record("rec-c", domain.CategoryRun, day.Add(8*time.Hour), 3600, domain.Known(10100))

	candidate := activity(domain.SourceThirdParty, "tp-1", domain.CategoryRun, day.Add(8*time.Hour), 3600, domain.Known(10000))
	result := engine.Match(candidate, []domain.WorkoutRecord{crossCat, sameCatFar, sameCatNear})
	require.Equal(t, DecisionMatched, result.Decision)
	require.Equal(t, "rec-c", result.Record.ID)
}

func TestMatchIsDeterministicAcrossInputOrder(t *testing.T) {
	engine := NewEngine(DefaultConfig())

	a := record("rec-a", domain.CategoryRun, day.Add(8*time.Hour), 3600, domain.Known(10000))
	b := record("rec-b", domain.CategoryRun, day.Add(8*time.Hour), 3600, domain.Known(10000))
	candidate := activity(domain.SourceThirdParty, "tp-1", domain.CategoryRun, day.Add(8*time.Hour), 3600, domain.Known(10000))

	first := engine.Match(candidate, []domain.WorkoutRecord{a, b})
	second := engine.Match(candidate, []domain.WorkoutRecord{b, a})
	require.Equal(t, first.Decision, second.Decision)
	require.Equal(t, first.Record.ID, second.Record.ID)
	require.Equal(t, "rec-a", first.Record.ID)
}
