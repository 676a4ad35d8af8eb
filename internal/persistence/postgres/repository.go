// Package postgres provides pgx-backed persistence for workout records,
// daily metrics, calibration state, and the event outbox.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/trainload/internal/domain"
	"example.com/trainload/internal/observability"
)

const recordColumns = `record_id, tenant_id, user_id, source, linking_keys, title, start_date, end_date,
        duration_seconds, distance_meters, category, indoor, stress, calculated_stress, user_entered_stress,
        verification_status, route, has_route, heart_rate, power, cadence, pace, ascent_meters, calories,
        needs_review, created_at, updated_at`

// Repository provides Postgres-backed persistence for workout records.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Reconcile runs fn inside a transaction that holds the advisory lock for
// the (tenant, calendar day) matching window, then upserts the returned
// record and stages a workout.updated outbox event in the same transaction.
// Two concurrent feeds ingesting the same session serialize here.
func (r *Repository) Reconcile(ctx context.Context, tenantID string, day time.Time, fn domain.ReconcileFunc) error {
	day = domain.DayOf(day)

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, "SELECT set_config('app.tenant_id', $1, true)", tenantID); err != nil {
		return err
	}
	if _, err = tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", dayLockKey(tenantID, day)); err != nil {
		return err
	}

	query := `SELECT ` + recordColumns + ` FROM workout_records
        WHERE tenant_id=$1 AND start_date >= $2 AND start_date < $3
        ORDER BY record_id`

	rows, err := tx.Query(ctx, query, tenantID, day, day.AddDate(0, 0, 1))
	if err != nil {
		return err
	}
	existing, err := scanRecords(rows)
	if err != nil {
		return err
	}

	record, err := fn(ctx, existing)
	if err != nil {
		return err
	}
	if record == nil {
		return tx.Commit(ctx)
	}

	if err = upsertRecord(ctx, tx, *record); err != nil {
		return err
	}
	if err = insertOutbox(ctx, tx, *record, "workout.updated"); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return err
	}
	observability.RecordPersisted(record.UpdatedAt)
	return nil
}

// Get retrieves a record by ID, returning nil when absent.
func (r *Repository) Get(ctx context.Context, tenantID, recordID string) (*domain.WorkoutRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM workout_records WHERE tenant_id=$1 AND record_id=$2`

	row := r.pool.QueryRow(ctx, query, tenantID, recordID)
	record, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// ListByDay returns the records of one UTC calendar day.
func (r *Repository) ListByDay(ctx context.Context, tenantID string, day time.Time) ([]domain.WorkoutRecord, error) {
	day = domain.DayOf(day)
	query := `SELECT ` + recordColumns + ` FROM workout_records
        WHERE tenant_id=$1 AND start_date >= $2 AND start_date < $3
        ORDER BY record_id`

	rows, err := r.pool.Query(ctx, query, tenantID, day, day.AddDate(0, 0, 1))
	if err != nil {
		return nil, err
	}
	return scanRecords(rows)
}

// ListByRange returns records in [From, To], newest first, with cursor
// pagination. A zero To is unbounded; limit 0 disables paging.
func (r *Repository) ListByRange(ctx context.Context, tenantID string, q domain.RecordQuery, cursor *domain.Cursor, limit int) ([]domain.WorkoutRecord, *domain.Cursor, error) {
	query := `SELECT ` + recordColumns + ` FROM workout_records WHERE tenant_id=$1`
	args := []interface{}{tenantID}

	if !q.From.IsZero() {
		args = append(args, q.From)
		query += fmt.Sprintf(` AND start_date >= $%d`, len(args))
	}
	if !q.To.IsZero() {
		args = append(args, domain.DayOf(q.To).AddDate(0, 0, 1))
		query += fmt.Sprintf(` AND start_date < $%d`, len(args))
	}
	if q.Category != "" {
		args = append(args, string(q.Category))
		query += fmt.Sprintf(` AND category = $%d`, len(args))
	}
	if cursor != nil {
		args = append(args, cursor.StartDate, cursor.ID)
		query += fmt.Sprintf(` AND (start_date, record_id) < ($%d, $%d)`, len(args)-1, len(args))
	}

	query += ` ORDER BY start_date DESC, record_id DESC`
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	records, err := scanRecords(rows)
	if err != nil {
		return nil, nil, err
	}

	var next *domain.Cursor
	if limit > 0 && len(records) == limit {
		last := records[len(records)-1]
		next = &domain.Cursor{StartDate: last.StartDate, ID: last.ID}
	}
	return records, next, nil
}

// ListNeedsReview returns records flagged for manual review, oldest first.
func (r *Repository) ListNeedsReview(ctx context.Context, tenantID string, limit int) ([]domain.WorkoutRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM workout_records
        WHERE tenant_id=$1 AND needs_review
        ORDER BY start_date`
	args := []interface{}{tenantID}
	if limit > 0 {
		args = append(args, limit)
		query += ` LIMIT $2`
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanRecords(rows)
}

// Update overwrites an existing record and stages a workout.updated event.
func (r *Repository) Update(ctx context.Context, record domain.WorkoutRecord) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, "SELECT set_config('app.tenant_id', $1, true)", record.TenantID); err != nil {
		return err
	}
	if err = upsertRecord(ctx, tx, record); err != nil {
		return err
	}
	if err = insertOutbox(ctx, tx, record, "workout.updated"); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return err
	}
	observability.RecordPersisted(record.UpdatedAt)
	return nil
}

// DeleteAll removes every record of a tenant (explicit user data-reset).
func (r *Repository) DeleteAll(ctx context.Context, tenantID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM workout_records WHERE tenant_id=$1`, tenantID)
	return err
}

func upsertRecord(ctx context.Context, tx pgx.Tx, record domain.WorkoutRecord) error {
	keys, err := json.Marshal(record.LinkingKeys)
	if err != nil {
		return err
	}

	const stmt = `INSERT INTO workout_records (` + recordColumns + `)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27)
        ON CONFLICT (tenant_id, record_id) DO UPDATE SET
            linking_keys=EXCLUDED.linking_keys, title=EXCLUDED.title,
            start_date=EXCLUDED.start_date, end_date=EXCLUDED.end_date,
            duration_seconds=EXCLUDED.duration_seconds, distance_meters=EXCLUDED.distance_meters,
            category=EXCLUDED.category, indoor=EXCLUDED.indoor,
            stress=EXCLUDED.stress, calculated_stress=EXCLUDED.calculated_stress,
            user_entered_stress=EXCLUDED.user_entered_stress, verification_status=EXCLUDED.verification_status,
            route=EXCLUDED.route, has_route=EXCLUDED.has_route,
            heart_rate=EXCLUDED.heart_rate, power=EXCLUDED.power, cadence=EXCLUDED.cadence,
            pace=EXCLUDED.pace, ascent_meters=EXCLUDED.ascent_meters, calories=EXCLUDED.calories,
            needs_review=EXCLUDED.needs_review, updated_at=EXCLUDED.updated_at`

	_, err = tx.Exec(ctx, stmt,
		record.ID,
		record.TenantID,
		record.UserID,
		string(record.Source),
		keys,
		nullIfEmpty(record.Title),
		record.StartDate,
		record.EndDate,
		record.DurationSeconds,
		record.DistanceMeters.Ptr(),
		string(record.Category),
		record.Indoor,
		record.Stress,
		record.CalculatedStress.Ptr(),
		record.UserEnteredStress.Ptr(),
		string(record.Verification),
		nullIfEmpty(record.Route),
		record.HasRoute,
		record.HeartRate.Ptr(),
		record.Power.Ptr(),
		record.Cadence.Ptr(),
		record.Pace.Ptr(),
		record.AscentMeters.Ptr(),
		record.Calories.Ptr(),
		record.NeedsReview,
		record.CreatedAt,
		record.UpdatedAt,
	)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (domain.WorkoutRecord, error) {
	var (
		record                                       domain.WorkoutRecord
		source, category, verification               string
		keys                                         []byte
		title, route                                 *string
		distance, calc, user                         *float64
		heartRate, power, cadence, pace, ascent, cal *float64
	)
	if err := row.Scan(
		&record.ID, &record.TenantID, &record.UserID, &source, &keys, &title,
		&record.StartDate, &record.EndDate, &record.DurationSeconds, &distance,
		&category, &record.Indoor, &record.Stress, &calc, &user, &verification,
		&route, &record.HasRoute, &heartRate, &power, &cadence, &pace, &ascent,
		&cal, &record.NeedsReview, &record.CreatedAt, &record.UpdatedAt,
	); err != nil {
		return domain.WorkoutRecord{}, err
	}

	record.Source = domain.Source(source)
	record.Category = domain.Category(category)
	record.Verification = domain.VerificationStatus(verification)
	if title != nil {
		record.Title = *title
	}
	if route != nil {
		record.Route = *route
	}
	if len(keys) > 0 {
		if err := json.Unmarshal(keys, &record.LinkingKeys); err != nil {
			return domain.WorkoutRecord{}, err
		}
	}
	record.DistanceMeters = domain.MetricFromPtr(distance)
	record.CalculatedStress = domain.MetricFromPtr(calc)
	record.UserEnteredStress = domain.MetricFromPtr(user)
	record.HeartRate = domain.MetricFromPtr(heartRate)
	record.Power = domain.MetricFromPtr(power)
	record.Cadence = domain.MetricFromPtr(cadence)
	record.Pace = domain.MetricFromPtr(pace)
	record.AscentMeters = domain.MetricFromPtr(ascent)
	record.Calories = domain.MetricFromPtr(cal)
	return record, nil
}

func scanRecords(rows pgx.Rows) ([]domain.WorkoutRecord, error) {
	defer rows.Close()

	records := make([]domain.WorkoutRecord, 0)
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}
