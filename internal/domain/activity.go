package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// NormalizedActivity is the collaborator-facing ingestion payload: one
// activity as produced by a sync, import, or fetch client, already reduced
// to the shared shape. The core does not know or care how it was obtained.
type NormalizedActivity struct {
	Source          Source
	ExternalID      string
	Title           string
	Category        Category
	Indoor          bool
	StartDate       time.Time
	DurationSeconds int
	Distance        Metric

	// CalculatedStress is the stress-score calculator's output for this
	// activity, already adjusted by the caller's scaling profile.
	CalculatedStress Metric

	HeartRate    Metric
	Power        Metric
	Cadence      Metric
	Pace         Metric
	AscentMeters Metric
	Calories     Metric

	Route string
}

// EndDate derives the end timestamp from start and duration.
func (a NormalizedActivity) EndDate() time.Time {
	return a.StartDate.Add(time.Duration(a.DurationSeconds) * time.Second)
}

// Day returns the UTC calendar day the activity started on.
func (a NormalizedActivity) Day() time.Time {
	return DayOf(a.StartDate)
}

// HasDuration reports whether a usable duration is present.
func (a NormalizedActivity) HasDuration() bool {
	return a.DurationSeconds > 0
}

// Validate rejects malformed collaborator input before it reaches the
// matching engine. Failures are recoverable: ingestion skips the activity
// and continues with the rest of the batch.
func (a NormalizedActivity) Validate() error {
	if a.Source.Fidelity() == 0 {
		return fmt.Errorf("%w: unknown source %q", ErrMalformedActivity, a.Source)
	}
	if strings.TrimSpace(a.ExternalID) == "" {
		return fmt.Errorf("%w: missing external id", ErrMalformedActivity)
	}
	if a.StartDate.IsZero() {
		return fmt.Errorf("%w: missing start date", ErrMalformedActivity)
	}
	if a.DurationSeconds < 0 {
		return fmt.Errorf("%w: negative duration", ErrMalformedActivity)
	}
	if d, ok := a.Distance.Get(); ok && d < 0 {
		return fmt.Errorf("%w: negative distance", ErrMalformedActivity)
	}
	return nil
}

// ErrMalformedActivity marks ingestion payloads that cannot be processed.
var ErrMalformedActivity = errors.New("malformed activity")
