package domain

import "time"

// Source identifies the feed an activity was ingested from.
type Source string

const (
	SourceDeviceSync Source = "device-sync"
	SourceBulkImport Source = "bulk-import"
	SourceThirdParty Source = "third-party-service"
)

// Fidelity ranks sources by timestamp/route quality. A bulk import carries
// date-only precision and no GPS, so it sits at the bottom; a device sync
// carries second-level timestamps and raw routes.
func (s Source) Fidelity() int {
	switch s {
	case SourceDeviceSync:
		return 3
	case SourceThirdParty:
		return 2
	case SourceBulkImport:
		return 1
	default:
		return 0
	}
}

// Category is the activity category normalized across sources.
type Category string

const (
	CategoryRun      Category = "run"
	CategoryRide     Category = "ride"
	CategorySwim     Category = "swim"
	CategoryWalk     Category = "walk"
	CategoryHike     Category = "hike"
	CategoryRow      Category = "row"
	CategoryStrength Category = "strength"
	CategoryOther    Category = "other"
)

// VerificationStatus tracks whether a record's stress score has been
// confirmed or corrected by the user.
type VerificationStatus string

const (
	VerificationPending   VerificationStatus = "pending"
	VerificationConfirmed VerificationStatus = "confirmed"
	VerificationCorrected VerificationStatus = "corrected"
)

// LinkingKey ties a record to its identifier in one upstream source.
type LinkingKey struct {
	Source     Source `json:"source"`
	ExternalID string `json:"external_id"`
}

// WorkoutRecord is the canonical representation of one real-world training
// session. At most one record exists per session; the matching engine
// enforces that before insert and the merge policy mutates the record in
// place when later sources contribute.
type WorkoutRecord struct {
	ID              string
	TenantID        string
	UserID          string
	Source          Source // origin marker, never changed by merges
	LinkingKeys     []LinkingKey
	Title           string
	StartDate       time.Time
	EndDate         time.Time
	DurationSeconds int
	DistanceMeters  Metric
	Category        Category
	Indoor          bool

	// Stress is the authoritative per-session stress score consumed by the
	// PMC calculator. CalculatedStress preserves the model output even after
	// a user correction; UserEnteredStress holds the ground truth if any.
	Stress            float64
	CalculatedStress  Metric
	UserEnteredStress Metric
	Verification      VerificationStatus

	Route    string
	HasRoute bool

	HeartRate    Metric
	Power        Metric
	Cadence      Metric
	Pace         Metric
	AscentMeters Metric
	Calories     Metric

	// NeedsReview marks records inserted without any usable match
	// discriminator (no distance, no duration).
	NeedsReview bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasLinkFor reports whether the record already carries a linking key for
// the given source.
func (r *WorkoutRecord) HasLinkFor(source Source) bool {
	for _, key := range r.LinkingKeys {
		if key.Source == source {
			return true
		}
	}
	return false
}

// LinkFor returns the external identifier contributed by the given source.
func (r *WorkoutRecord) LinkFor(source Source) (string, bool) {
	for _, key := range r.LinkingKeys {
		if key.Source == source {
			return key.ExternalID, true
		}
	}
	return "", false
}

// HighestFidelity returns the best fidelity rank among the sources that have
// contributed to this record.
func (r *WorkoutRecord) HighestFidelity() int {
	best := r.Source.Fidelity()
	for _, key := range r.LinkingKeys {
		if f := key.Source.Fidelity(); f > best {
			best = f
		}
	}
	return best
}

// Day returns the UTC calendar day of the record's start time.
func (r *WorkoutRecord) Day() time.Time {
	return DayOf(r.StartDate)
}

// DayOf truncates a timestamp to its UTC calendar day.
func DayOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
