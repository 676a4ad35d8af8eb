package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/trainload/internal/domain"
	"example.com/trainload/internal/observability"
)

const metricsColumns = `tenant_id, date, total_stress, ctl, atl, tsb, anchored, updated_at`

// MetricsRepository provides Postgres-backed persistence for daily metrics.
type MetricsRepository struct {
	pool *pgxpool.Pool
}

// NewMetricsRepository constructs a MetricsRepository.
func NewMetricsRepository(pool *pgxpool.Pool) *MetricsRepository {
	return &MetricsRepository{pool: pool}
}

// Get retrieves one day's metrics, returning nil when absent.
func (r *MetricsRepository) Get(ctx context.Context, tenantID string, day time.Time) (*domain.DailyMetrics, error) {
	const query = `SELECT ` + metricsColumns + ` FROM daily_metrics WHERE tenant_id=$1 AND date=$2`

	row := r.pool.QueryRow(ctx, query, tenantID, domain.DayOf(day))
	entry, err := scanMetrics(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

// Range returns the metrics of [from, through], ascending by day.
func (r *MetricsRepository) Range(ctx context.Context, tenantID string, from, through time.Time) ([]domain.DailyMetrics, error) {
	const query = `SELECT ` + metricsColumns + ` FROM daily_metrics
        WHERE tenant_id=$1 AND date >= $2 AND date <= $3
        ORDER BY date`

	rows, err := r.pool.Query(ctx, query, tenantID, domain.DayOf(from), domain.DayOf(through))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.DailyMetrics, 0)
	for rows.Next() {
		entry, err := scanMetrics(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// ReplaceRange upserts a recomputed series one day per transaction, so a
// cancelled recompute leaves a prefix of committed days rather than a torn
// write. The metrics.recomputed event is staged with the final day.
func (r *MetricsRepository) ReplaceRange(ctx context.Context, tenantID string, entries []domain.DailyMetrics) error {
	if len(entries) == 0 {
		return nil
	}

	for i, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		last := i == len(entries)-1
		if err := r.writeDay(ctx, tenantID, entry, last, entries); err != nil {
			return err
		}
	}
	observability.MetricsWritten(entries[len(entries)-1].UpdatedAt)
	return nil
}

func (r *MetricsRepository) writeDay(ctx context.Context, tenantID string, entry domain.DailyMetrics, last bool, series []domain.DailyMetrics) error {
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

	// Single writer per (tenant, day): serializes against concurrent
	// recompute passes upserting the same row.
	if _, err = tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", dayLockKey(tenantID, entry.Date)); err != nil {
		return err
	}

	const stmt = `INSERT INTO daily_metrics (` + metricsColumns + `)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
        ON CONFLICT (tenant_id, date) DO UPDATE SET
            total_stress=EXCLUDED.total_stress, ctl=EXCLUDED.ctl, atl=EXCLUDED.atl,
            tsb=EXCLUDED.tsb, anchored=EXCLUDED.anchored, updated_at=EXCLUDED.updated_at`

	if _, err = tx.Exec(ctx, stmt,
		tenantID, entry.Date, entry.TotalStress, entry.CTL, entry.ATL, entry.TSB,
		entry.Anchored, entry.UpdatedAt,
	); err != nil {
		return err
	}

	if last {
		if err = insertMetricsOutbox(ctx, tx, tenantID, series[0].Date, entry.Date, len(series), entry.UpdatedAt); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// LatestAnchorOnOrBefore returns the most recent anchored day at or before
// the given day, or nil when the tenant has none.
func (r *MetricsRepository) LatestAnchorOnOrBefore(ctx context.Context, tenantID string, day time.Time) (*domain.DailyMetrics, error) {
	const query = `SELECT ` + metricsColumns + ` FROM daily_metrics
        WHERE tenant_id=$1 AND date <= $2 AND anchored
        ORDER BY date DESC LIMIT 1`

	row := r.pool.QueryRow(ctx, query, tenantID, domain.DayOf(day))
	entry, err := scanMetrics(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

// DeleteAll removes every daily metric of a tenant.
func (r *MetricsRepository) DeleteAll(ctx context.Context, tenantID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM daily_metrics WHERE tenant_id=$1`, tenantID)
	return err
}

func scanMetrics(row rowScanner) (domain.DailyMetrics, error) {
	var entry domain.DailyMetrics
	if err := row.Scan(
		&entry.TenantID, &entry.Date, &entry.TotalStress, &entry.CTL, &entry.ATL,
		&entry.TSB, &entry.Anchored, &entry.UpdatedAt,
	); err != nil {
		return domain.DailyMetrics{}, err
	}
	return entry, nil
}
