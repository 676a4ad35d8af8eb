package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DLQManager replays parked events back into the outbox. Entries retry on
// an exponential schedule; an entry that exhausts its retries is
// quarantined and left for manual inspection.
type DLQManager struct {
	pool       *pgxpool.Pool
	maxRetries int
	baseDelay  time.Duration
}

// NewDLQManager constructs a manager. Non-positive arguments fall back to
// five retries on a one-minute base delay.
func NewDLQManager(pool *pgxpool.Pool, maxRetries int, baseDelay time.Duration) *DLQManager {
	if maxRetries <= 0 {
		maxRetries = 5
	}
	if baseDelay <= 0 {
		baseDelay = time.Minute
	}
	return &DLQManager{pool: pool, maxRetries: maxRetries, baseDelay: baseDelay}
}

// RunOnce replays up to batchSize due entries and reports how many were
// handled. Per-entry failures are joined and returned; the batch keeps
// going past them.
func (m *DLQManager) RunOnce(ctx context.Context, batchSize int) (int, error) {
	const due = `SELECT dlq_id, tenant_id, event_id, event_type, topic, payload, reason, aggregate_type, aggregate_id, schema_subject, partition_key, retry_count
		FROM outbox_dlq
		WHERE quarantined_at IS NULL AND (next_retry_at IS NULL OR next_retry_at <= NOW())
		ORDER BY created_at
		LIMIT $1`

	rows, err := m.pool.Query(ctx, due, batchSize)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	var errs error
	handled := 0
	for rows.Next() {
		entry, scanErr := scanDLQEntry(rows)
		if scanErr != nil {
			errs = errors.Join(errs, scanErr)
			continue
		}
		if replayErr := m.replay(ctx, entry); replayErr != nil {
			errs = errors.Join(errs, replayErr)
			continue
		}
		handled++
	}
	errs = errors.Join(errs, rows.Err())

	updateBacklogGauge(ctx, m.pool)
	return handled, errs
}

// replay runs one entry through quarantine / requeue / reschedule inside a
// single tenant-scoped transaction.
func (m *DLQManager) replay(ctx context.Context, entry dlqEntry) error {
	tx, err := m.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT set_config('app.tenant_id', $1, true)", entry.TenantID); err != nil {
		return err
	}

	switch {
	case entry.RetryCount >= m.maxRetries:
		err = m.quarantine(ctx, tx, entry)
	default:
		if requeueErr := requeueOutbox(ctx, tx, entry); requeueErr != nil {
			err = m.reschedule(ctx, tx, entry, requeueErr)
		} else {
			err = m.finish(ctx, tx, entry)
		}
	}
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (m *DLQManager) quarantine(ctx context.Context, tx pgx.Tx, entry dlqEntry) error {
	_, err := tx.Exec(ctx,
		`UPDATE outbox_dlq SET quarantined_at = NOW(), quarantine_reason = $1 WHERE dlq_id = $2`,
		"retry limit reached", entry.ID)
	if err == nil {
		recordDLQQuarantined(entry)
	}
	return err
}

func (m *DLQManager) reschedule(ctx context.Context, tx pgx.Tx, entry dlqEntry, cause error) error {
	_, err := tx.Exec(ctx,
		`UPDATE outbox_dlq
			SET retry_count = retry_count + 1,
				last_attempt_at = NOW(),
				next_retry_at = NOW() + $1::interval,
				reason = $2
			WHERE dlq_id = $3`,
		m.backoffDelay(entry.RetryCount+1), cause.Error(), entry.ID)
	if err == nil {
		recordDLQRetry(entry)
	}
	return err
}

func (m *DLQManager) finish(ctx context.Context, tx pgx.Tx, entry dlqEntry) error {
	if _, err := tx.Exec(ctx, `DELETE FROM outbox_dlq WHERE dlq_id = $1`, entry.ID); err != nil {
		return err
	}
	recordDLQRequeued(entry)
	recordDLQProcessed(entry)
	return nil
}

// backoffDelay doubles per attempt, capped at one hour.
func (m *DLQManager) backoffDelay(attempt int) time.Duration {
	delay := time.Duration(1<<uint(attempt-1)) * m.baseDelay
	if delay > time.Hour {
		delay = time.Hour
	}
	return delay
}

// requeueOutbox reinserts the event into the outbox for a fresh delivery
// attempt.
func requeueOutbox(ctx context.Context, tx pgx.Tx, entry dlqEntry) error {
	if entry.SchemaSubject == "" {
		return fmt.Errorf("missing schema_subject for dlq entry %d", entry.ID)
	}

	const stmt = `INSERT INTO outbox (tenant_id, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := tx.Exec(ctx, stmt,
		entry.TenantID, entry.AggregateType, entry.AggregateID, entry.EventType,
		entry.Topic, entry.SchemaSubject, entry.PartitionKey, entry.Payload)
	return err
}

// dlqEntry is one outbox_dlq row selected for replay.
type dlqEntry struct {
	ID            int64
	TenantID      string
	EventID       int64
	EventType     string
	Topic         string
	Payload       []byte
	Reason        string
	AggregateType string
	AggregateID   string
	SchemaSubject string
	PartitionKey  string
	RetryCount    int
}

func scanDLQEntry(rows pgx.Rows) (dlqEntry, error) {
	var entry dlqEntry
	err := rows.Scan(&entry.ID, &entry.TenantID, &entry.EventID, &entry.EventType,
		&entry.Topic, &entry.Payload, &entry.Reason, &entry.AggregateType,
		&entry.AggregateID, &entry.SchemaSubject, &entry.PartitionKey, &entry.RetryCount)
	if err != nil {
		return dlqEntry{}, err
	}
	return entry, nil
}
