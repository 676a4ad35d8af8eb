package memory

import (
	"context"
	"time"

	"example.com/trainload/internal/domain"
)

// Metrics returns the store viewed as a domain.MetricsRepository.
func (s *Store) Metrics() *MetricsStore {
	return &MetricsStore{s: s}
}

// Calibration returns the store viewed as a domain.CalibrationRepository.
func (s *Store) Calibration() *CalibrationStore {
	return &CalibrationStore{s: s}
}

// MetricsStore adapts Store to domain.MetricsRepository.
type MetricsStore struct {
	s *Store
}

func (m *MetricsStore) Get(ctx context.Context, tenantID string, date time.Time) (*domain.DailyMetrics, error) {
	return m.s.GetMetrics(ctx, tenantID, date)
}

func (m *MetricsStore) Range(ctx context.Context, tenantID string, from, to time.Time) ([]domain.DailyMetrics, error) {
	return m.s.RangeMetrics(ctx, tenantID, from, to)
}

func (m *MetricsStore) ReplaceRange(ctx context.Context, tenantID string, entries []domain.DailyMetrics) error {
	return m.s.ReplaceRange(ctx, tenantID, entries)
}

func (m *MetricsStore) LatestAnchorOnOrBefore(ctx context.Context, tenantID string, date time.Time) (*domain.DailyMetrics, error) {
	return m.s.LatestAnchorOnOrBefore(ctx, tenantID, date)
}

func (m *MetricsStore) DeleteAll(ctx context.Context, tenantID string) error {
	return m.s.DeleteAllMetrics(ctx, tenantID)
}

// CalibrationStore adapts Store to domain.CalibrationRepository.
type CalibrationStore struct {
	s *Store
}

func (c *CalibrationStore) AppendPoint(ctx context.Context, point domain.CalibrationDataPoint) error {
	return c.s.AppendPoint(ctx, point)
}

func (c *CalibrationStore) GetProfile(ctx context.Context, tenantID string, category domain.Category) (*domain.ScalingProfile, error) {
	return c.s.GetProfile(ctx, tenantID, category)
}

func (c *CalibrationStore) UpsertProfile(ctx context.Context, profile domain.ScalingProfile) error {
	return c.s.UpsertProfile(ctx, profile)
}

func (c *CalibrationStore) ListProfiles(ctx context.Context, tenantID string) ([]domain.ScalingProfile, error) {
	return c.s.ListProfiles(ctx, tenantID)
}

func (c *CalibrationStore) DeleteAll(ctx context.Context, tenantID string) error {
	return c.s.DeleteAllCalibration(ctx, tenantID)
}
