package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/trainload/internal/domain"
)

// CalibrationRepository provides Postgres-backed persistence for calibration
// data points and per-category scaling profiles.
type CalibrationRepository struct {
	pool *pgxpool.Pool
}

// NewCalibrationRepository constructs a CalibrationRepository.
func NewCalibrationRepository(pool *pgxpool.Pool) *CalibrationRepository {
	return &CalibrationRepository{pool: pool}
}

// AppendPoint stores one calibration data point.
func (r *CalibrationRepository) AppendPoint(ctx context.Context, point domain.CalibrationDataPoint) error {
	const stmt = `INSERT INTO calibration_points (tenant_id, ts, category, calculated, ground_truth, confidence, pmc_delta)
        VALUES ($1,$2,$3,$4,$5,$6,$7)`

	_, err := r.pool.Exec(ctx, stmt,
		point.TenantID, point.Timestamp, string(point.Category), point.Calculated,
		point.GroundTruth, point.Confidence, point.PMCDelta.Ptr(),
	)
	return err
}

// GetProfile retrieves the scaling profile for one category, returning nil
// when the tenant has never calibrated it.
func (r *CalibrationRepository) GetProfile(ctx context.Context, tenantID string, category domain.Category) (*domain.ScalingProfile, error) {
	const query = `SELECT tenant_id, category, scale, bias, confidence, sample_count, complete, updated_at
        FROM scaling_profiles WHERE tenant_id=$1 AND category=$2`

	row := r.pool.QueryRow(ctx, query, tenantID, string(category))
	profile, err := scanProfile(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &profile, nil
}

// UpsertProfile stores the scaling profile for one category.
func (r *CalibrationRepository) UpsertProfile(ctx context.Context, profile domain.ScalingProfile) error {
	const stmt = `INSERT INTO scaling_profiles (tenant_id, category, scale, bias, confidence, sample_count, complete, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
        ON CONFLICT (tenant_id, category) DO UPDATE SET
            scale=EXCLUDED.scale, bias=EXCLUDED.bias, confidence=EXCLUDED.confidence,
            sample_count=EXCLUDED.sample_count, complete=EXCLUDED.complete, updated_at=EXCLUDED.updated_at`

	_, err := r.pool.Exec(ctx, stmt,
		profile.TenantID, string(profile.Category), profile.Scale, profile.Bias,
		profile.Confidence, profile.SampleCount, profile.Complete, profile.UpdatedAt,
	)
	return err
}

// ListProfiles returns every scaling profile of a tenant.
func (r *CalibrationRepository) ListProfiles(ctx context.Context, tenantID string) ([]domain.ScalingProfile, error) {
	const query = `SELECT tenant_id, category, scale, bias, confidence, sample_count, complete, updated_at
        FROM scaling_profiles WHERE tenant_id=$1 ORDER BY category`

	rows, err := r.pool.Query(ctx, query, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	profiles := make([]domain.ScalingProfile, 0)
	for rows.Next() {
		profile, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, profile)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return profiles, nil
}

// DeleteAll removes a tenant's calibration points and scaling profiles.
func (r *CalibrationRepository) DeleteAll(ctx context.Context, tenantID string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM calibration_points WHERE tenant_id=$1`, tenantID); err != nil {
		return err
	}
	_, err := r.pool.Exec(ctx, `DELETE FROM scaling_profiles WHERE tenant_id=$1`, tenantID)
	return err
}

func scanProfile(row rowScanner) (domain.ScalingProfile, error) {
	var (
		profile  domain.ScalingProfile
		category string
	)
	if err := row.Scan(
		&profile.TenantID, &category, &profile.Scale, &profile.Bias,
		&profile.Confidence, &profile.SampleCount, &profile.Complete, &profile.UpdatedAt,
	); err != nil {
		return domain.ScalingProfile{}, err
	}
	profile.Category = domain.Category(category)
	return profile, nil
}
