// Package ingest runs the staged ingestion flow: validate, match, merge,
// persist, then recompute the affected daily series. Batches are processed
// one activity at a time inside the store's per-day critical section, so
// concurrent feeds cannot create two records for one session.
package ingest

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"example.com/trainload/internal/domain"
	"example.com/trainload/internal/matching"
	"example.com/trainload/internal/mergepolicy"
)

// BatchResult summarises one ingestion batch.
type BatchResult struct {
	Created     int
	Merged      int
	Replayed    int
	Skipped     int
	NeedsReview int
}

// Pipeline wires the matching engine and merge policy to the record store.
type Pipeline struct {
	matcher    *matching.Engine
	records    domain.WorkoutRepository
	recomputer domain.Recomputer
	log        *zap.SugaredLogger
	clock      func() time.Time
	newID      func() string
}

// NewPipeline constructs a Pipeline. Nil clock and id generator default to
// time.Now and uuid.NewString.
func NewPipeline(matcher *matching.Engine, records domain.WorkoutRepository, recomputer domain.Recomputer, log *zap.SugaredLogger, clock func() time.Time, newID func() string) *Pipeline {
	if clock == nil {
		clock = time.Now
	}
	if newID == nil {
		newID = uuid.NewString
	}
	return &Pipeline{
		matcher:    matcher,
		records:    records,
		recomputer: recomputer,
		log:        log,
		clock:      clock,
		newID:      newID,
	}
}

// IngestBatch processes a batch of normalized activities for one user.
// Malformed activities are skipped and logged; the rest of the batch
// continues. The work is chunked per activity and honours cancellation:
// completed writes stay valid because re-running the batch is idempotent.
func (p *Pipeline) IngestBatch(ctx context.Context, tenantID, userID string, activities []domain.NormalizedActivity) (BatchResult, error) {
	// Deterministic processing order regardless of feed interleaving.
	sorted := append([]domain.NormalizedActivity(nil), activities...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].StartDate.Equal(sorted[j].StartDate) {
			return sorted[i].StartDate.Before(sorted[j].StartDate)
		}
		return sorted[i].ExternalID < sorted[j].ExternalID
	})

	var result BatchResult
	var earliestAffected time.Time

	for _, activity := range sorted {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		if err := activity.Validate(); err != nil {
			p.log.Warnw("skipping malformed activity",
				"source", string(activity.Source),
				"external_id", activity.ExternalID,
				"reason", err.Error(),
			)
			recordSkipped(activity.Source)
			result.Skipped++
			continue
		}

		changed, err := p.ingestOne(ctx, tenantID, userID, activity, &result)
		if err != nil {
			return result, err
		}
		if changed {
			day := activity.Day()
			if earliestAffected.IsZero() || day.Before(earliestAffected) {
				earliestAffected = day
			}
		}
	}

	if !earliestAffected.IsZero() {
		if err := p.recomputer.RecomputeFrom(ctx, tenantID, earliestAffected); err != nil {
			return result, err
		}
	}
	return result, nil
}

// ingestOne matches and persists a single activity inside the record
// store's per-day critical section. It reports whether daily stress totals
// may have changed.
func (p *Pipeline) ingestOne(ctx context.Context, tenantID, userID string, activity domain.NormalizedActivity, result *BatchResult) (bool, error) {
	changed := false
	err := p.records.Reconcile(ctx, tenantID, activity.Day(), func(ctx context.Context, existing []domain.WorkoutRecord) (*domain.WorkoutRecord, error) {
		match := p.matcher.Match(activity, existing)
		recordMatchDecision(match.Decision)

		switch match.Decision {
		case matching.DecisionReplay:
			result.Replayed++
			return nil, nil

		case matching.DecisionMatched:
			merged := mergepolicy.Merge(*match.Record, activity, p.clock())
			result.Merged++
			changed = true
			return &merged, nil

		case matching.DecisionAmbiguous:
			p.log.Infow("ambiguous match, inserting as new record",
				"source", string(activity.Source),
				"external_id", activity.ExternalID,
				"confidence", match.Confidence,
			)
			fallthrough

		case matching.DecisionNew:
			record := mergepolicy.NewRecord(p.newID(), tenantID, userID, activity, false, p.clock())
			result.Created++
			changed = true
			return &record, nil

		case matching.DecisionUnmatchable:
			p.log.Warnw("activity has no match discriminators, flagging for review",
				"source", string(activity.Source),
				"external_id", activity.ExternalID,
			)
			record := mergepolicy.NewRecord(p.newID(), tenantID, userID, activity, true, p.clock())
			result.Created++
			result.NeedsReview++
			changed = true
			return &record, nil
		}
		return nil, nil
	})
	return changed, err
}
