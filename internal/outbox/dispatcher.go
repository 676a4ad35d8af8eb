// Package outbox stages domain events in Postgres and delivers them to
// Kafka. Events are written in the same transaction as the data change
// they describe, so a consumer never observes an event for a write that
// rolled back.
package outbox

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type messageWriter interface {
	WriteMessages(context.Context, string, ...kafka.Message) error
}

type schemaRegistrar interface {
	EnsureSchema(context.Context, string, string) (int, error)
}

// Message is one staged outbox row.
type Message struct {
	EventID       int64
	TenantID      string
	AggregateType string
	AggregateID   string
	EventType     string
	Topic         string
	SchemaSubject string
	PartitionKey  string
	Payload       json.RawMessage
}

// Dispatcher polls the outbox table and publishes claimed rows to Kafka.
// Rows are claimed with SKIP LOCKED so multiple dispatcher replicas never
// deliver the same event twice; a failed batch lands in the DLQ and the
// rows are still marked published, keeping the hot path moving.
type Dispatcher struct {
	pool         *pgxpool.Pool
	producer     messageWriter
	registry     schemaRegistrar
	dlq          *DLQWriter
	log          *zap.SugaredLogger
	pollInterval time.Duration
	batchSize    int

	mu        sync.Mutex
	schemaIDs map[string]int

	done chan struct{}
}

// NewDispatcher constructs a Dispatcher over the given pool and producer.
func NewDispatcher(pool *pgxpool.Pool, producer messageWriter, registry schemaRegistrar, log *zap.SugaredLogger, pollInterval time.Duration, batchSize int) *Dispatcher {
	return &Dispatcher{
		pool:         pool,
		producer:     producer,
		registry:     registry,
		dlq:          NewDLQWriter(pool),
		log:          log,
		pollInterval: pollInterval,
		batchSize:    batchSize,
		schemaIDs:    make(map[string]int),
		done:         make(chan struct{}),
	}
}

// Start runs the polling loop until the context is cancelled. Call it in
// a goroutine and use Wait to block on shutdown.
func (d *Dispatcher) Start(ctx context.Context) {
	ticker := time.NewTicker(d.pollInterval)
	defer func() {
		ticker.Stop()
		close(d.done)
	}()

	for {
		if err := d.drainOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			d.log.Errorw("outbox drain failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Wait blocks until the polling loop has exited.
func (d *Dispatcher) Wait() {
	<-d.done
}

func (d *Dispatcher) drainOnce(ctx context.Context) error {
	start := time.Now()

	batch, err := d.claimBatch(ctx)
	if err != nil {
		return err
	}
	if len(batch) == 0 {
		return nil
	}
	defer func() { batchDuration.Observe(time.Since(start).Seconds()) }()

	if err := d.publish(ctx, batch); err != nil {
		d.log.Errorw("outbox publish failed, routing batch to dlq",
			"error", err, "events", len(batch))
		failedCounter.Add(float64(len(batch)))
		if dlqErr := d.parkBatch(ctx, batch, err.Error()); dlqErr != nil {
			return dlqErr
		}
		return d.confirmDelivery(ctx, batch)
	}

	deliveredCounter.Add(float64(len(batch)))
	return d.confirmDelivery(ctx, batch)
}

const claimQuery = `SELECT event_id, tenant_id, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload
	FROM outbox
	WHERE published_at IS NULL
	ORDER BY event_id
	LIMIT $1
	FOR UPDATE SKIP LOCKED`

// claimBatch selects unpublished rows and stamps claimed_at inside one
// transaction, so a crashed dispatcher leaves no row half-claimed.
func (d *Dispatcher) claimBatch(ctx context.Context) ([]Message, error) {
	tx, err := d.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	rows, err := tx.Query(ctx, claimQuery, d.batchSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var batch []Message
	var ids []int64
	for rows.Next() {
		var msg Message
		if err = rows.Scan(&msg.EventID, &msg.TenantID, &msg.AggregateType, &msg.AggregateID,
			&msg.EventType, &msg.Topic, &msg.SchemaSubject, &msg.PartitionKey, &msg.Payload); err != nil {
			return nil, err
		}
		batch = append(batch, msg)
		ids = append(ids, msg.EventID)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	if len(batch) == 0 {
		tx.Rollback(ctx)
		return nil, nil
	}

	if _, err = tx.Exec(ctx, `UPDATE outbox SET claimed_at = NOW() WHERE event_id = ANY($1)`, ids); err != nil {
		return nil, err
	}
	if err = tx.Commit(ctx); err != nil {
		return nil, err
	}
	return batch, nil
}

// publish frames each payload with its registered schema ID and writes the
// batch grouped per topic.
func (d *Dispatcher) publish(ctx context.Context, batch []Message) error {
	byTopic := make(map[string][]kafka.Message)

	for _, msg := range batch {
		meta, ok := schemaCatalog[msg.EventType]
		if !ok {
			return fmt.Errorf("no schema registered for event_type=%s", msg.EventType)
		}

		schemaID, err := d.schemaIDFor(ctx, msg.SchemaSubject, meta.Schema)
		if err != nil {
			return err
		}

		byTopic[msg.Topic] = append(byTopic[msg.Topic], kafka.Message{
			Key:   []byte(msg.PartitionKey),
			Value: frameWithSchema(schemaID, msg.Payload),
			Time:  time.Now().UTC(),
		})
	}

	for topic, records := range byTopic {
		if err := d.producer.WriteMessages(ctx, topic, records...); err != nil {
			return err
		}
	}
	return nil
}

// schemaIDFor resolves a subject's schema ID, registering the schema on
// first use and caching the result for the life of the process.
func (d *Dispatcher) schemaIDFor(ctx context.Context, subject, schema string) (int, error) {
	d.mu.Lock()
	id, ok := d.schemaIDs[subject]
	d.mu.Unlock()
	if ok {
		return id, nil
	}

	id, err := d.registry.EnsureSchema(ctx, subject, schema)
	if err != nil {
		return 0, err
	}
	d.mu.Lock()
	d.schemaIDs[subject] = id
	d.mu.Unlock()
	return id, nil
}

// confirmDelivery stamps published_at per tenant. The outbox table is under
// RLS, so each tenant's rows are updated in their own transaction with the
// tenant GUC set.
func (d *Dispatcher) confirmDelivery(ctx context.Context, batch []Message) error {
	byTenant := make(map[string][]int64)
	for _, msg := range batch {
		byTenant[msg.TenantID] = append(byTenant[msg.TenantID], msg.EventID)
	}

	for tenantID, ids := range byTenant {
		if err := d.confirmTenant(ctx, tenantID, ids); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) confirmTenant(ctx context.Context, tenantID string, ids []int64) error {
	tx, err := d.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT set_config('app.tenant_id', $1, true)", tenantID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `UPDATE outbox SET published_at = NOW() WHERE event_id = ANY($1)`, ids); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (d *Dispatcher) parkBatch(ctx context.Context, batch []Message, reason string) error {
	for _, msg := range batch {
		if err := d.dlq.Write(ctx, msg, fmt.Sprintf("%s (topic=%s)", reason, msg.Topic)); err != nil {
			return err
		}
		dlqCounter.WithLabelValues(msg.Topic).Inc()
	}
	return nil
}

// frameWithSchema applies the Confluent wire format: a zero magic byte,
// four bytes of big-endian schema ID, then the JSON payload.
func frameWithSchema(schemaID int, payload []byte) []byte {
	frame := make([]byte, 5+len(payload))
	frame[0] = 0
	binary.BigEndian.PutUint32(frame[1:5], uint32(schemaID))
	copy(frame[5:], payload)
	return frame
}

type schemaCatalogEntry struct {
	Schema string
}

var schemaCatalog = map[string]schemaCatalogEntry{
	"workout.updated":    {Schema: workoutUpdatedSchema},
	"metrics.recomputed": {Schema: metricsRecomputedSchema},
}
