package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"example.com/trainload/internal/domain"
)

// EventMetadata describes how to route an outbox event.
type EventMetadata struct {
	Topic         string
	SchemaSubject string
}

var eventCatalog = map[string]EventMetadata{
	"workout.updated": {
		Topic:         "workout_updated",
		SchemaSubject: "workout_updated-value",
	},
	"metrics.recomputed": {
		Topic:         "metrics_recomputed",
		SchemaSubject: "metrics_recomputed-value",
	},
}

type workoutEventPayload struct {
	RecordID    string    `json:"record_id"`
	TenantID    string    `json:"tenant_id"`
	UserID      string    `json:"user_id"`
	Category    string    `json:"category"`
	StartDate   time.Time `json:"start_date"`
	Stress      float64   `json:"stress"`
	NeedsReview bool      `json:"needs_review"`
	OccurredAt  time.Time `json:"occurred_at"`
}

type metricsEventPayload struct {
	TenantID   string    `json:"tenant_id"`
	From       time.Time `json:"from"`
	Through    time.Time `json:"through"`
	Days       int       `json:"days"`
	OccurredAt time.Time `json:"occurred_at"`
}

func insertOutbox(ctx context.Context, tx pgx.Tx, record domain.WorkoutRecord, eventType string) error {
	payload := workoutEventPayload{
		RecordID:    record.ID,
		TenantID:    record.TenantID,
		UserID:      record.UserID,
		Category:    string(record.Category),
		StartDate:   record.StartDate,
		Stress:      record.Stress,
		NeedsReview: record.NeedsReview,
		OccurredAt:  record.UpdatedAt,
	}
	partitionKey := fmt.Sprintf("%s:%s", record.TenantID, record.UserID)
	dedupeKey := fmt.Sprintf("%s:%s:%d", record.ID, eventType, record.UpdatedAt.UnixNano())
	return stageEvent(ctx, tx, record.TenantID, "workout", record.ID, eventType, partitionKey, dedupeKey, payload)
}

func insertMetricsOutbox(ctx context.Context, tx pgx.Tx, tenantID string, from, through time.Time, days int, now time.Time) error {
	payload := metricsEventPayload{
		TenantID:   tenantID,
		From:       from,
		Through:    through,
		Days:       days,
		OccurredAt: now,
	}
	aggregateID := fmt.Sprintf("%s:%s", tenantID, from.Format("2006-01-02"))
	dedupeKey := fmt.Sprintf("%s:metrics.recomputed:%d", aggregateID, now.UnixNano())
	return stageEvent(ctx, tx, tenantID, "daily_metrics", aggregateID, "metrics.recomputed", tenantID, dedupeKey, payload)
}

func stageEvent(ctx context.Context, tx pgx.Tx, tenantID, aggregateType, aggregateID, eventType, partitionKey, dedupeKey string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	meta := eventCatalog[eventType]
	if meta.Topic == "" {
		return fmt.Errorf("unknown event type: %s", eventType)
	}

	const stmt = `INSERT INTO outbox (tenant_id, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`

	_, err = tx.Exec(ctx, stmt,
		tenantID,
		aggregateType,
		aggregateID,
		eventType,
		meta.Topic,
		meta.SchemaSubject,
		partitionKey,
		body,
		dedupeKey,
	)
	return err
}
