package domain

import (
	"context"
	"time"
)

// Cursor models the pagination token for record listings.
type Cursor struct {
	StartDate time.Time
	ID        string
}

// RecordQuery narrows record listings.
type RecordQuery struct {
	From     time.Time
	To       time.Time
	Category Category // empty matches all
}

// ReconcileFunc inspects the existing records of one calendar day and
// returns the record to upsert. Returning nil skips the write.
type ReconcileFunc func(ctx context.Context, existing []WorkoutRecord) (*WorkoutRecord, error)

// WorkoutRepository captures persistence for canonical workout records.
//
// Reconcile is the single-writer critical section required for ingestion:
// the implementation serializes concurrent callers on the same
// (tenant, calendar day) window, so two sources cannot race to create two
// records for the same session. Plain reads proceed without locking.
type WorkoutRepository interface {
	Reconcile(ctx context.Context, tenantID string, day time.Time, fn ReconcileFunc) error
	Get(ctx context.Context, tenantID, recordID string) (*WorkoutRecord, error)
	ListByDay(ctx context.Context, tenantID string, day time.Time) ([]WorkoutRecord, error)
	ListByRange(ctx context.Context, tenantID string, q RecordQuery, cursor *Cursor, limit int) ([]WorkoutRecord, *Cursor, error)
	ListNeedsReview(ctx context.Context, tenantID string, limit int) ([]WorkoutRecord, error)
	Update(ctx context.Context, record WorkoutRecord) error
	DeleteAll(ctx context.Context, tenantID string) error
}

// MetricsRepository captures persistence for the daily CTL/ATL/TSB series.
//
// ReplaceRange commits day by day in date order and honours context
// cancellation between days; a failure mid-pass leaves already-committed
// days valid, which is safe because recompute is idempotent per day.
type MetricsRepository interface {
	Get(ctx context.Context, tenantID string, date time.Time) (*DailyMetrics, error)
	Range(ctx context.Context, tenantID string, from, to time.Time) ([]DailyMetrics, error)
	ReplaceRange(ctx context.Context, tenantID string, entries []DailyMetrics) error
	LatestAnchorOnOrBefore(ctx context.Context, tenantID string, date time.Time) (*DailyMetrics, error)
	DeleteAll(ctx context.Context, tenantID string) error
}

// CalibrationRepository stores ground-truth comparison points and the
// per-category profiles aggregated from them.
type CalibrationRepository interface {
	AppendPoint(ctx context.Context, point CalibrationDataPoint) error
	GetProfile(ctx context.Context, tenantID string, category Category) (*ScalingProfile, error)
	UpsertProfile(ctx context.Context, profile ScalingProfile) error
	ListProfiles(ctx context.Context, tenantID string) ([]ScalingProfile, error)
	DeleteAll(ctx context.Context, tenantID string) error
}

// Recomputer recomputes the daily metrics series forward from the given
// day, seeding from the latest anchor at or before it.
type Recomputer interface {
	RecomputeFrom(ctx context.Context, tenantID string, from time.Time) error
}

// Calibrator folds ground-truth evidence into per-category scaling profiles.
type Calibrator interface {
	Record(ctx context.Context, point CalibrationDataPoint) (ScalingProfile, error)
	Profile(ctx context.Context, tenantID string, category Category) (ScalingProfile, error)
	Profiles(ctx context.Context, tenantID string) ([]ScalingProfile, error)
	Reset(ctx context.Context, tenantID string) error
}
