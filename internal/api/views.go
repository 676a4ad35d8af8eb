package api

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"example.com/trainload/internal/domain"
)

// IngestRequest is the payload for POST /v1/workouts.
type IngestRequest struct {
	UserID     string          `json:"user_id"`
	Activities []ActivityInput `json:"activities"`
}

// Validate ensures request correctness.
func (r IngestRequest) Validate() error {
	if strings.TrimSpace(r.UserID) == "" {
		return errors.New("user_id is required")
	}
	if len(r.Activities) == 0 {
		return errors.New("activities must not be empty")
	}
	for i, a := range r.Activities {
		if strings.TrimSpace(a.Source) == "" {
			return fmt.Errorf("activities[%d]: source is required", i)
		}
		if strings.TrimSpace(a.ExternalID) == "" {
			return fmt.Errorf("activities[%d]: external_id is required", i)
		}
	}
	return nil
}

// ActivityInput is one normalized activity in an ingest batch.
type ActivityInput struct {
	Source           string    `json:"source"`
	ExternalID       string    `json:"external_id"`
	Title            string    `json:"title"`
	Category         string    `json:"category"`
	Indoor           bool      `json:"indoor"`
	StartDate        time.Time `json:"start_date"`
	DurationSeconds  int       `json:"duration_seconds"`
	DistanceMeters   *float64  `json:"distance_meters"`
	CalculatedStress *float64  `json:"calculated_stress"`
	HeartRate        *float64  `json:"heart_rate"`
	Power            *float64  `json:"power"`
	Cadence          *float64  `json:"cadence"`
	Pace             *float64  `json:"pace"`
	AscentMeters     *float64  `json:"ascent_meters"`
	Calories         *float64  `json:"calories"`
	Route            string    `json:"route"`
}

func (a ActivityInput) toDomain() domain.NormalizedActivity {
	return domain.NormalizedActivity{
		Source:           domain.Source(a.Source),
		ExternalID:       a.ExternalID,
		Title:            a.Title,
		Category:         domain.Category(a.Category),
		Indoor:           a.Indoor,
		StartDate:        a.StartDate,
		DurationSeconds:  a.DurationSeconds,
		Distance:         domain.MetricFromPtr(a.DistanceMeters),
		CalculatedStress: domain.MetricFromPtr(a.CalculatedStress),
		HeartRate:        domain.MetricFromPtr(a.HeartRate),
		Power:            domain.MetricFromPtr(a.Power),
		Cadence:          domain.MetricFromPtr(a.Cadence),
		Pace:             domain.MetricFromPtr(a.Pace),
		AscentMeters:     domain.MetricFromPtr(a.AscentMeters),
		Calories:         domain.MetricFromPtr(a.Calories),
		Route:            a.Route,
	}
}

// IngestResponse summarises what happened to a batch.
type IngestResponse struct {
	Created     int `json:"created"`
	Merged      int `json:"merged"`
	Replayed    int `json:"replayed"`
	Skipped     int `json:"skipped"`
	NeedsReview int `json:"needs_review"`
}

// CorrectStressRequest is the payload for POST /v1/workouts/{id}/correct.
type CorrectStressRequest struct {
	Stress float64 `json:"stress"`
}

// AnchorRequest is the payload for POST /v1/metrics/daily/{date}/anchor.
type AnchorRequest struct {
	CTL float64 `json:"ctl"`
	ATL float64 `json:"atl"`
}

// WorkoutView exposes full details about a workout record.
type WorkoutView struct {
	WorkoutID         string           `json:"workout_id"`
	TenantID          string           `json:"tenant_id"`
	UserID            string           `json:"user_id"`
	Source            string           `json:"source"`
	LinkingKeys       []LinkingKeyView `json:"linking_keys"`
	Title             string           `json:"title,omitempty"`
	StartDate         time.Time        `json:"start_date"`
	EndDate           time.Time        `json:"end_date"`
	DurationSeconds   int              `json:"duration_seconds"`
	DistanceMeters    *float64         `json:"distance_meters,omitempty"`
	Category          string           `json:"category"`
	Indoor            bool             `json:"indoor"`
	Stress            float64          `json:"stress"`
	CalculatedStress  *float64         `json:"calculated_stress,omitempty"`
	UserEnteredStress *float64         `json:"user_entered_stress,omitempty"`
	Verification      string           `json:"verification_status"`
	Route             string           `json:"route,omitempty"`
	HeartRate         *float64         `json:"heart_rate,omitempty"`
	Power             *float64         `json:"power,omitempty"`
	Cadence           *float64         `json:"cadence,omitempty"`
	Pace              *float64         `json:"pace,omitempty"`
	AscentMeters      *float64         `json:"ascent_meters,omitempty"`
	Calories          *float64         `json:"calories,omitempty"`
	NeedsReview       bool             `json:"needs_review"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// LinkingKeyView is one source attribution on a record.
type LinkingKeyView struct {
	Source     string `json:"source"`
	ExternalID string `json:"external_id"`
}

// ListWorkoutsResponse packages list results.
type ListWorkoutsResponse struct {
	Items      []WorkoutView `json:"items"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

// DailyMetricsView is one day of the PMC series.
type DailyMetricsView struct {
	Date        string    `json:"date"`
	TotalStress float64   `json:"total_stress"`
	CTL         float64   `json:"ctl"`
	ATL         float64   `json:"atl"`
	TSB         float64   `json:"tsb"`
	Anchored    bool      `json:"anchored"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// DailySeriesResponse packages the metrics range.
type DailySeriesResponse struct {
	Items []DailyMetricsView `json:"items"`
}

// ScalingProfileView is the calibration snapshot for one category.
type ScalingProfileView struct {
	Category    string    `json:"category"`
	Scale       float64   `json:"scale"`
	Bias        float64   `json:"bias"`
	Confidence  float64   `json:"confidence"`
	SampleCount int       `json:"sample_count"`
	Complete    bool      `json:"complete"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ProfilesResponse packages calibration profiles.
type ProfilesResponse struct {
	Items []ScalingProfileView `json:"items"`
}

func toWorkoutView(record domain.WorkoutRecord) WorkoutView {
	keys := make([]LinkingKeyView, 0, len(record.LinkingKeys))
	for _, key := range record.LinkingKeys {
		keys = append(keys, LinkingKeyView{Source: string(key.Source), ExternalID: key.ExternalID})
	}
	return WorkoutView{
		WorkoutID:         record.ID,
		TenantID:          record.TenantID,
		UserID:            record.UserID,
		Source:            string(record.Source),
		LinkingKeys:       keys,
		Title:             record.Title,
		StartDate:         record.StartDate,
		EndDate:           record.EndDate,
		DurationSeconds:   record.DurationSeconds,
		DistanceMeters:    record.DistanceMeters.Ptr(),
		Category:          string(record.Category),
		Indoor:            record.Indoor,
		Stress:            record.Stress,
		CalculatedStress:  record.CalculatedStress.Ptr(),
		UserEnteredStress: record.UserEnteredStress.Ptr(),
		Verification:      string(record.Verification),
		Route:             record.Route,
		HeartRate:         record.HeartRate.Ptr(),
		Power:             record.Power.Ptr(),
		Cadence:           record.Cadence.Ptr(),
		Pace:              record.Pace.Ptr(),
		AscentMeters:      record.AscentMeters.Ptr(),
		Calories:          record.Calories.Ptr(),
		NeedsReview:       record.NeedsReview,
		CreatedAt:         record.CreatedAt,
		UpdatedAt:         record.UpdatedAt,
	}
}

func toDailyMetricsView(entry domain.DailyMetrics) DailyMetricsView {
	return DailyMetricsView{
		Date:        entry.Date.Format("2006-01-02"),
		TotalStress: entry.TotalStress,
		CTL:         entry.CTL,
		ATL:         entry.ATL,
		TSB:         entry.TSB,
		Anchored:    entry.Anchored,
		UpdatedAt:   entry.UpdatedAt,
	}
}

func toScalingProfileView(profile domain.ScalingProfile) ScalingProfileView {
	return ScalingProfileView{
		Category:    string(profile.Category),
		Scale:       profile.Scale,
		Bias:        profile.Bias,
		Confidence:  profile.Confidence,
		SampleCount: profile.SampleCount,
		Complete:    profile.Complete,
		UpdatedAt:   profile.UpdatedAt,
	}
}
