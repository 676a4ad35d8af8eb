package outbox

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DLQWriter parks undeliverable events in outbox_dlq for the replay
// daemon to pick up.
type DLQWriter struct {
	pool *pgxpool.Pool
}

// NewDLQWriter builds a writer over the given pool.
func NewDLQWriter(pool *pgxpool.Pool) *DLQWriter {
	return &DLQWriter{pool: pool}
}

// Write stores one failed event with the delivery failure reason. The row
// is immediately eligible for retry; backoff only starts once the replay
// daemon fails again.
func (w *DLQWriter) Write(ctx context.Context, msg Message, reason string) error {
	tx, err := w.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT set_config('app.tenant_id', $1, true)", msg.TenantID); err != nil {
		return err
	}

	const stmt = `INSERT INTO outbox_dlq
		(tenant_id, event_id, event_type, topic, payload, reason, aggregate_type, aggregate_id, schema_subject, partition_key, next_retry_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())`
	if _, err := tx.Exec(ctx, stmt,
		msg.TenantID, msg.EventID, msg.EventType, msg.Topic, msg.Payload,
		reason, msg.AggregateType, msg.AggregateID, msg.SchemaSubject, msg.PartitionKey,
	); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
