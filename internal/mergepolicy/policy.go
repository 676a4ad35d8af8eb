// Package mergepolicy reconciles a matched activity into an existing
// workout record using field-level precedence rules. Merge is a pure
// function; the caller owns persistence of the result.
package mergepolicy

import (
	"time"

	"example.com/trainload/internal/domain"
)

// Merge folds the candidate into the existing record.
//
// Precedence, per field group:
//   - linking key: always added (never replaces other sources' keys);
//   - title, start/end time, route: overwritten only when the candidate's
//     source has strictly higher fidelity than anything already merged in;
//     a date-only bulk import must not clobber device timestamps, but a
//     device sync corrects a midnight-stamped import without being asked;
//   - stress score, its provenance, and the origin source marker: never
//     touched, whatever the candidate carries;
//   - telemetry (heart rate, power, cadence, pace, ascent, calories,
//     distance): filled only where the existing value is unknown.
func Merge(existing domain.WorkoutRecord, candidate domain.NormalizedActivity, now time.Time) domain.WorkoutRecord {
	merged := existing

	if !merged.HasLinkFor(candidate.Source) {
		merged.LinkingKeys = append(append([]domain.LinkingKey(nil), merged.LinkingKeys...), domain.LinkingKey{
			Source:     candidate.Source,
			ExternalID: candidate.ExternalID,
		})
	}

	if candidate.Source.Fidelity() > existing.HighestFidelity() {
		if candidate.Title != "" {
			merged.Title = candidate.Title
		}
		merged.StartDate = candidate.StartDate
		merged.EndDate = candidate.EndDate()
		if candidate.HasDuration() {
			merged.DurationSeconds = candidate.DurationSeconds
		}
		if candidate.Route != "" {
			merged.Route = candidate.Route
			merged.HasRoute = true
		}
	}

	merged.DistanceMeters = merged.DistanceMeters.Or(candidate.Distance)
	merged.HeartRate = merged.HeartRate.Or(candidate.HeartRate)
	merged.Power = merged.Power.Or(candidate.Power)
	merged.Cadence = merged.Cadence.Or(candidate.Cadence)
	merged.Pace = merged.Pace.Or(candidate.Pace)
	merged.AscentMeters = merged.AscentMeters.Or(candidate.AscentMeters)
	merged.Calories = merged.Calories.Or(candidate.Calories)

	// A record that was unreviewable on first insert becomes reviewable
	// once a source contributes a discriminator.
	if merged.NeedsReview && (merged.DistanceMeters.IsKnown() || merged.DurationSeconds > 0) {
		merged.NeedsReview = false
	}

	merged.UpdatedAt = now.UTC()
	return merged
}

// NewRecord builds a fresh canonical record from an unmatched activity.
func NewRecord(id, tenantID, userID string, candidate domain.NormalizedActivity, needsReview bool, now time.Time) domain.WorkoutRecord {
	now = now.UTC()
	record := domain.WorkoutRecord{
		ID:       id,
		TenantID: tenantID,
		UserID:   userID,
		Source:   candidate.Source,
		LinkingKeys: []domain.LinkingKey{{
			Source:     candidate.Source,
			ExternalID: candidate.ExternalID,
		}},
		Title:            candidate.Title,
		StartDate:        candidate.StartDate,
		EndDate:          candidate.EndDate(),
		DurationSeconds:  candidate.DurationSeconds,
		DistanceMeters:   candidate.Distance,
		Category:         candidate.Category,
		Indoor:           candidate.Indoor,
		Stress:           candidate.CalculatedStress.Value(),
		CalculatedStress: candidate.CalculatedStress,
		Verification:     domain.VerificationPending,
		Route:            candidate.Route,
		HasRoute:         candidate.Route != "",
		HeartRate:        candidate.HeartRate,
		Power:            candidate.Power,
		Cadence:          candidate.Cadence,
		Pace:             candidate.Pace,
		AscentMeters:     candidate.AscentMeters,
		Calories:         candidate.Calories,
		NeedsReview:      needsReview,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	return record
}
