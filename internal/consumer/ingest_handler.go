package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"example.com/trainload/internal/domain"
	"example.com/trainload/internal/ingest"
)

type batchIngestor interface {
	IngestBatch(ctx context.Context, tenantID, userID string, activities []domain.NormalizedActivity) (ingest.BatchResult, error)
}

// IngestHandler decodes activity feed payloads and runs them through the
// reconciliation pipeline.
type IngestHandler struct {
	pipeline batchIngestor
}

// NewIngestHandler constructs a handler around the given pipeline.
func NewIngestHandler(pipeline batchIngestor) *IngestHandler {
	return &IngestHandler{pipeline: pipeline}
}

type activityPayload struct {
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

type batchPayload struct {
	Activities []activityPayload `json:"activities"`
}

// Handle decodes one feed message and ingests its batch.
func (h *IngestHandler) Handle(ctx context.Context, msg Message) error {
	var batch batchPayload
	if err := json.Unmarshal(msg.Payload, &batch); err != nil {
		return fmt.Errorf("decode activity batch: %w", err)
	}

	activities := make([]domain.NormalizedActivity, 0, len(batch.Activities))
	for _, a := range batch.Activities {
		activities = append(activities, domain.NormalizedActivity{
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
		})
	}

	_, err := h.pipeline.IngestBatch(ctx, msg.TenantID, msg.UserID, activities)
	return err
}
