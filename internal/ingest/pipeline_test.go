package ingest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"example.com/trainload/internal/domain"
	"example.com/trainload/internal/matching"
	"example.com/trainload/internal/persistence/memory"
)

var testNow = time.Date(2025, time.June, 3, 20, 0, 0, 0, time.UTC)

type fixture struct {
	store    *memory.Store
	pipeline *Pipeline
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	recomputer := NewRecomputer(store, store.Metrics(), func() time.Time { return testNow })

	seq := 0
	newID := func() string {
		seq++
		return fmt.Sprintf("rec-%d", seq)
	}

	pipeline := NewPipeline(
		matching.NewEngine(matching.DefaultConfig()),
		store,
		recomputer,
		zap.NewNop().Sugar(),
		func() time.Time { return testNow },
		newID,
	)
	return &fixture{store: store, pipeline: pipeline}
}

func deviceRide(externalID string, start time.Time) domain.NormalizedActivity {
	return domain.NormalizedActivity{
		Source:           domain.SourceDeviceSync,
		ExternalID:       externalID,
		Title:            "Morning Ride",
		Category:         domain.CategoryRide,
		StartDate:        start,
		DurationSeconds:  3600,
		Distance:         domain.Known(30000),
		CalculatedStress: domain.Known(80),
	}
}

func thirdPartyRide(externalID string, start time.Time) domain.NormalizedActivity {
	return domain.NormalizedActivity{
		Source:           domain.SourceThirdParty,
		ExternalID:       externalID,
		Category:         domain.CategoryRide,
		StartDate:        start,
		DurationSeconds:  3550,
		Distance:         domain.Known(30500),
		CalculatedStress: domain.Known(78),
		HeartRate:        domain.Known(142),
	}
}

func TestIngestTwoFeedsOneSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	start := time.Date(2025, time.June, 3, 9, 0, 0, 0, time.UTC)

	result, err := f.pipeline.IngestBatch(ctx, "tenant-1", "user-1", []domain.NormalizedActivity{
		deviceRide("dev-1", start),
	})
	require.NoError(t, err)
	require.Equal(t, 1, result.Created)

	result, err = f.pipeline.IngestBatch(ctx, "tenant-1", "user-1", []domain.NormalizedActivity{
		thirdPartyRide("tp-1", start.Add(2*time.Minute)),
	})
	require.NoError(t, err)
	require.Equal(t, 1, result.Merged)
	require.Equal(t, 0, result.Created)

	records, _, err := f.store.ListByRange(ctx, "tenant-1", domain.RecordQuery{}, nil, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Len(t, records[0].LinkingKeys, 2)
	// The lower-fidelity feed filled telemetry but left timing alone.
	hr, ok := records[0].HeartRate.Get()
	require.True(t, ok)
	require.Equal(t, 142.0, hr)
	require.Equal(t, start, records[0].StartDate)
	require.Equal(t, 80.0, records[0].Stress)
}

func TestIngestOrderDoesNotChangeOutcome(t *testing.T) {
	start := time.Date(2025, time.June, 3, 9, 0, 0, 0, time.UTC)
	ctx := context.Background()

	forward := newFixture(t)
	_, err := forward.pipeline.IngestBatch(ctx, "tenant-1", "user-1", []domain.NormalizedActivity{
		deviceRide("dev-1", start), thirdPartyRide("tp-1", start.Add(2*time.Minute)),
	})
	require.NoError(t, err)

	reversed := newFixture(t)
	_, err = reversed.pipeline.IngestBatch(ctx, "tenant-1", "user-1", []domain.NormalizedActivity{
		thirdPartyRide("tp-1", start.Add(2*time.Minute)), deviceRide("dev-1", start),
	})
	require.NoError(t, err)

	forwardRecords, _, err := forward.store.ListByRange(ctx, "tenant-1", domain.RecordQuery{}, nil, 0)
	require.NoError(t, err)
	reversedRecords, _, err := reversed.store.ListByRange(ctx, "tenant-1", domain.RecordQuery{}, nil, 0)
	require.NoError(t, err)

	require.Len(t, forwardRecords, 1)
	require.Len(t, reversedRecords, 1)
	require.ElementsMatch(t, forwardRecords[0].LinkingKeys, reversedRecords[0].LinkingKeys)
}

func TestIngestReplayIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	start := time.Date(2025, time.June, 3, 9, 0, 0, 0, time.UTC)
	batch := []domain.NormalizedActivity{deviceRide("dev-1", start)}

	first, err := f.pipeline.IngestBatch(ctx, "tenant-1", "user-1", batch)
	require.NoError(t, err)
	require.Equal(t, 1, first.Created)

	second, err := f.pipeline.IngestBatch(ctx, "tenant-1", "user-1", batch)
	require.NoError(t, err)
	require.Equal(t, 0, second.Created)
	require.Equal(t, 1, second.Replayed)

	records, _, err := f.store.ListByRange(ctx, "tenant-1", domain.RecordQuery{}, nil, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
}

func TestIngestSkipsMalformedAndContinues(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	start := time.Date(2025, time.June, 3, 9, 0, 0, 0, time.UTC)

	malformed := deviceRide("", start)
	valid := deviceRide("dev-2", start.Add(5*time.Hour))

	result, err := f.pipeline.IngestBatch(ctx, "tenant-1", "user-1", []domain.NormalizedActivity{malformed, valid})
	require.NoError(t, err)
	require.Equal(t, 1, result.Skipped)
	require.Equal(t, 1, result.Created)
}

func TestIngestFlagsUnmatchableForReview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	bare := domain.NormalizedActivity{
		Source:     domain.SourceBulkImport,
		ExternalID: "imp-1",
		Category:   domain.CategoryStrength,
		StartDate:  time.Date(2025, time.June, 3, 0, 0, 0, 0, time.UTC),
	}

	result, err := f.pipeline.IngestBatch(ctx, "tenant-1", "user-1", []domain.NormalizedActivity{bare})
	require.NoError(t, err)
	require.Equal(t, 1, result.Created)
	require.Equal(t, 1, result.NeedsReview)

	review, err := f.store.ListNeedsReview(ctx, "tenant-1", 0)
	require.NoError(t, err)
	require.Len(t, review, 1)
}

func TestIngestAmbiguousInsertsNewRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	start := time.Date(2025, time.June, 3, 9, 0, 0, 0, time.UTC)

	_, err := f.pipeline.IngestBatch(ctx, "tenant-1", "user-1", []domain.NormalizedActivity{
		deviceRide("dev-1", start),
	})
	require.NoError(t, err)

	// Inside the gates but summing to low confidence.
	vague := domain.NormalizedActivity{
		Source:           domain.SourceThirdParty,
		ExternalID:       "tp-1",
		Category:         domain.CategoryRide,
		StartDate:        start,
		DurationSeconds:  4490,
		Distance:         domain.Known(32990),
		CalculatedStress: domain.Known(70),
	}
	result, err := f.pipeline.IngestBatch(ctx, "tenant-1", "user-1", []domain.NormalizedActivity{vague})
	require.NoError(t, err)
	require.Equal(t, 1, result.Created)

	records, _, err := f.store.ListByRange(ctx, "tenant-1", domain.RecordQuery{}, nil, 0)
	require.NoError(t, err)
	require.Len(t, records, 2)
}

func TestIngestRecomputesDailySeries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	start := time.Date(2025, time.June, 1, 9, 0, 0, 0, time.UTC)

	_, err := f.pipeline.IngestBatch(ctx, "tenant-1", "user-1", []domain.NormalizedActivity{
		deviceRide("dev-1", start),
		deviceRide("dev-2", start.AddDate(0, 0, 2)),
	})
	require.NoError(t, err)

	series, err := f.store.Metrics().Range(ctx, "tenant-1",
		domain.DayOf(start), domain.DayOf(start.AddDate(0, 0, 2)))
	require.NoError(t, err)
	require.Len(t, series, 3)
	require.Equal(t, 80.0, series[0].TotalStress)
	// The gap day is filled with zero stress.
	require.Equal(t, 0.0, series[1].TotalStress)
	require.Greater(t, series[2].CTL, series[1].CTL)
}
