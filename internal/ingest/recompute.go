package ingest

import (
	"context"
	"time"

	"example.com/trainload/internal/domain"
	"example.com/trainload/internal/pmc"
)

// Recomputer rebuilds the daily CTL/ATL/TSB series forward from a changed
// day. It implements domain.Recomputer.
type Recomputer struct {
	records domain.WorkoutRepository
	metrics domain.MetricsRepository
	clock   func() time.Time
}

// NewRecomputer constructs a Recomputer. A nil clock defaults to time.Now.
func NewRecomputer(records domain.WorkoutRepository, metrics domain.MetricsRepository, clock func() time.Time) *Recomputer {
	if clock == nil {
		clock = time.Now
	}
	return &Recomputer{records: records, metrics: metrics, clock: clock}
}

// RecomputeFrom recomputes every day from the latest anchor at or before
// `from` through the last day with recorded workouts. Days at or before
// that anchor are left untouched. Later anchored days keep their pinned
// CTL/ATL and re-seed the decay, so a user correction is never overwritten
// by a replay of older data.
func (r *Recomputer) RecomputeFrom(ctx context.Context, tenantID string, from time.Time) error {
	start := observeRecomputeStart()
	from = domain.DayOf(from)

	var anchor *pmc.Anchor
	anchorEntry, err := r.metrics.LatestAnchorOnOrBefore(ctx, tenantID, from)
	if err != nil {
		return err
	}
	var historyFrom time.Time
	if anchorEntry != nil {
		anchor = &pmc.Anchor{Date: anchorEntry.Date, CTL: anchorEntry.CTL, ATL: anchorEntry.ATL}
		historyFrom = anchorEntry.Date.AddDate(0, 0, 1)
	}

	records, _, err := r.records.ListByRange(ctx, tenantID, domain.RecordQuery{From: historyFrom}, nil, 0)
	if err != nil {
		return err
	}
	daily := pmc.Aggregate(records)
	if len(daily) == 0 {
		observeRecomputeDone(start, 0)
		return nil
	}
	last := daily[len(daily)-1].Date

	// Later anchors re-seed the decay mid-series.
	laterAnchors := make(map[time.Time]domain.DailyMetrics)
	if existing, err := r.metrics.Range(ctx, tenantID, from, last); err != nil {
		return err
	} else {
		for _, entry := range existing {
			if entry.Anchored && entry.Date.After(from) {
				laterAnchors[entry.Date] = entry
			}
		}
	}

	series := pmc.Recompute(tenantID, daily, anchor, r.clock())
	for i := range series {
		if pinned, ok := laterAnchors[series[i].Date]; ok {
			series[i].CTL = pinned.CTL
			series[i].ATL = pinned.ATL
			series[i].TSB = pinned.CTL - pinned.ATL
			series[i].Anchored = true
			// Recompute the tail from the pinned seed.
			tail := pmc.Recompute(tenantID, daily, &pmc.Anchor{
				Date: series[i].Date, CTL: pinned.CTL, ATL: pinned.ATL,
			}, r.clock())
			copy(series[i+1:], tail)
		}
	}

	if err := r.metrics.ReplaceRange(ctx, tenantID, series); err != nil {
		return err
	}
	observeRecomputeDone(start, len(series))
	return nil
}
