// Package matching decides whether an inbound activity duplicates an
// existing workout record. The engine is deterministic: identical inputs
// always produce identical results, with no randomness and no
// locale-dependent comparisons.
package matching

import (
	"math"
	"sort"

	"example.com/trainload/internal/domain"
)

// Config holds the acceptance tolerances for distance-first matching.
type Config struct {
	// SameCategoryDistanceTolerance is the relative distance delta allowed
	// when candidate and record share a category.
	SameCategoryDistanceTolerance float64
	// CrossCategoryDistanceTolerance applies when the categories differ;
	// different sources label the same session differently, so category is
	// not a hard filter, but the distance gate tightens.
	CrossCategoryDistanceTolerance float64
	// DurationTolerance is the relative duration delta allowed alongside a
	// distance match.
	DurationTolerance float64
	// FallbackDurationTolerance is the tighter duration gate used when no
	// distance is available on one side of the pair.
	FallbackDurationTolerance float64
	// AcceptConfidence is the minimum confidence for accepting a match.
	// Below it the candidate is treated as new: an occasional benign
	// duplicate beats a silent bad merge.
	AcceptConfidence float64
}

// DefaultConfig returns the production tolerances.
func DefaultConfig() Config {
	return Config{
		SameCategoryDistanceTolerance:  0.10,
		CrossCategoryDistanceTolerance: 0.05,
		DurationTolerance:              0.25,
		FallbackDurationTolerance:      0.10,
		AcceptConfidence:               0.5,
	}
}

// Decision classifies the outcome of a match attempt.
type Decision string

const (
	// DecisionMatched means the candidate duplicates an existing record.
	DecisionMatched Decision = "matched"
	// DecisionNew means no existing record matched; insert a new one.
	DecisionNew Decision = "new"
	// DecisionAmbiguous means a tolerance match existed but confidence was
	// below the acceptance threshold; the candidate is inserted as new.
	DecisionAmbiguous Decision = "ambiguous"
	// DecisionUnmatchable means the candidate has neither distance nor
	// duration; it can never be matched and needs manual review.
	DecisionUnmatchable Decision = "unmatchable"
	// DecisionReplay means a record already carries this exact
	// (source, external id) link; the ingestion is a no-op.
	DecisionReplay Decision = "replay"
)

// Result is the outcome of matching one candidate against the record set.
type Result struct {
	Decision   Decision
	Record     *domain.WorkoutRecord
	Confidence float64
}

// Engine implements distance-first matching.
type Engine struct {
	cfg Config
}

// NewEngine constructs an Engine with the provided tolerances.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

type scored struct {
	record       domain.WorkoutRecord
	sameCategory bool
	distDelta    float64 // relative; math.MaxFloat64 for fallback matches
	durDelta     float64
	confidence   float64
}

// Match evaluates a candidate against the existing records of its calendar
// day and reports whether it duplicates one of them.
func (e *Engine) Match(candidate domain.NormalizedActivity, existing []domain.WorkoutRecord) Result {
	day := candidate.Day()

	survivors := make([]domain.WorkoutRecord, 0, len(existing))
	for _, record := range existing {
		if !record.Day().Equal(day) {
			continue
		}
		if id, ok := record.LinkFor(candidate.Source); ok {
			if id == candidate.ExternalID {
				r := record
				return Result{Decision: DecisionReplay, Record: &r, Confidence: 1}
			}
			// Already linked to a different session from this source;
			// never re-match an already-linked pair.
			continue
		}
		survivors = append(survivors, record)
	}

	if !candidate.Distance.IsKnown() && !candidate.HasDuration() {
		return Result{Decision: DecisionUnmatchable}
	}

	candidates := make([]scored, 0, len(survivors))
	for _, record := range survivors {
		if s, ok := e.score(candidate, record); ok {
			candidates = append(candidates, s)
		}
	}
	if len(candidates) == 0 {
		return Result{Decision: DecisionNew}
	}

	// Prefer same category, then the smallest relative delta. Record ID is
	// the final tie-break to keep ordering stable.
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.sameCategory != b.sameCategory {
			return a.sameCategory
		}
		if a.distDelta != b.distDelta {
			return a.distDelta < b.distDelta
		}
		if a.durDelta != b.durDelta {
			return a.durDelta < b.durDelta
		}
		return a.record.ID < b.record.ID
	})

	best := candidates[0]
	if best.confidence < e.cfg.AcceptConfidence {
		r := best.record
		return Result{Decision: DecisionAmbiguous, Record: &r, Confidence: best.confidence}
	}
	r := best.record
	return Result{Decision: DecisionMatched, Record: &r, Confidence: best.confidence}
}

// score applies the tolerance rules to one candidate/record pair.
func (e *Engine) score(candidate domain.NormalizedActivity, record domain.WorkoutRecord) (scored, bool) {
	sameCategory := candidate.Category == record.Category

	candDist, candHasDist := candidate.Distance.Get()
	recDist, recHasDist := record.DistanceMeters.Get()

	if candHasDist && recHasDist {
		if !candidate.HasDuration() || record.DurationSeconds <= 0 {
			return scored{}, false
		}
		distDelta := relativeDelta(candDist, recDist)
		durDelta := relativeDelta(float64(candidate.DurationSeconds), float64(record.DurationSeconds))

		distTolerance := e.cfg.CrossCategoryDistanceTolerance
		if sameCategory {
			distTolerance = e.cfg.SameCategoryDistanceTolerance
		}
		if distDelta > distTolerance || durDelta > e.cfg.DurationTolerance {
			return scored{}, false
		}

		confidence := 1 - 0.5*(distDelta/distTolerance+durDelta/e.cfg.DurationTolerance)
		if !sameCategory {
			confidence *= 0.85
		}
		return scored{
			record:       record,
			sameCategory: sameCategory,
			distDelta:    distDelta,
			durDelta:     durDelta,
			confidence:   confidence,
		}, true
	}

	// Duration-only fallback: tighter tolerance, and category and indoor
	// flag must agree exactly.
	if !candidate.HasDuration() || record.DurationSeconds <= 0 {
		return scored{}, false
	}
	if !sameCategory || candidate.Indoor != record.Indoor {
		return scored{}, false
	}
	durDelta := relativeDelta(float64(candidate.DurationSeconds), float64(record.DurationSeconds))
	if durDelta > e.cfg.FallbackDurationTolerance {
		return scored{}, false
	}
	return scored{
		record:       record,
		sameCategory: true,
		distDelta:    math.MaxFloat64,
		durDelta:     durDelta,
		confidence:   1 - durDelta/e.cfg.FallbackDurationTolerance*0.5,
	}, true
}

// relativeDelta is |a-b| relative to the larger magnitude, so the check is
// symmetric in its arguments.
func relativeDelta(a, b float64) float64 {
	larger := math.Max(math.Abs(a), math.Abs(b))
	if larger == 0 {
		return 0
	}
	return math.Abs(a-b) / larger
}
