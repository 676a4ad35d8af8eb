// Package domain defines the data model and business logic of the
// training-load core: canonical workout records, the daily CTL/ATL/TSB
// series, and stress-score calibration state.
package domain

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrRecordNotFound is returned when a workout record cannot be located.
	ErrRecordNotFound = errors.New("workout record not found")
	// ErrInvalidCorrection is returned when a user-entered value is outside
	// the sane physiological range. The correction is rejected at the
	// boundary and never partially applied.
	ErrInvalidCorrection = errors.New("invalid correction value")
)

// ServiceConfig bounds user-supplied corrections.
type ServiceConfig struct {
	// MaxSessionStress is the upper bound for a single-session stress score.
	MaxSessionStress float64
	// MaxLoad is the upper bound for anchored CTL/ATL values.
	MaxLoad float64
	// DriftLookbackDays is how far back to look for categories trained
	// before an anchor correction when attributing PMC drift.
	DriftLookbackDays int
}

// DefaultServiceConfig returns the production limits.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		MaxSessionStress:  600,
		MaxLoad:           300,
		DriftLookbackDays: 7,
	}
}

// Service orchestrates correction, anchoring, and query flows over the
// repositories. Ingestion lives in the pipeline; the service owns the
// user-facing mutations and the reads the presentation layer consumes.
type Service struct {
	cfg        ServiceConfig
	records    WorkoutRepository
	metrics    MetricsRepository
	calibrator Calibrator
	recomputer Recomputer
	clock      func() time.Time
}

// NewService constructs a Service. A nil clock defaults to time.Now.
func NewService(cfg ServiceConfig, records WorkoutRepository, metrics MetricsRepository, calibrator Calibrator, recomputer Recomputer, clock func() time.Time) *Service {
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		cfg:        cfg,
		records:    records,
		metrics:    metrics,
		calibrator: calibrator,
		recomputer: recomputer,
		clock:      clock,
	}
}

// ConfirmStress marks a record's calculated stress score as ground truth.
// The confirmation feeds the calibration engine at full confidence.
func (s *Service) ConfirmStress(ctx context.Context, tenantID, recordID string) (*WorkoutRecord, error) {
	record, err := s.records.Get(ctx, tenantID, recordID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, ErrRecordNotFound
	}

	now := s.clock().UTC()
	record.UserEnteredStress = Known(record.Stress)
	record.Verification = VerificationConfirmed
	record.UpdatedAt = now
	if err := s.records.Update(ctx, *record); err != nil {
		return nil, err
	}

	if _, err := s.calibrator.Record(ctx, CalibrationDataPoint{
		Timestamp:   now,
		TenantID:    tenantID,
		Category:    record.Category,
		Calculated:  record.CalculatedStress.Or(Known(record.Stress)).Value(),
		GroundTruth: record.Stress,
		Confidence:  1.0,
	}); err != nil {
		return nil, err
	}
	return record, nil
}

// CorrectStress replaces a record's stress score with a user-entered value,
// preserves the calculated value as a calibration signal, and recomputes the
// daily series forward from the record's day.
func (s *Service) CorrectStress(ctx context.Context, tenantID, recordID string, value float64) (*WorkoutRecord, error) {
	if !s.validSessionStress(value) {
		return nil, fmt.Errorf("%w: stress %.1f outside [0, %.0f]", ErrInvalidCorrection, value, s.cfg.MaxSessionStress)
	}

	record, err := s.records.Get(ctx, tenantID, recordID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, ErrRecordNotFound
	}

	now := s.clock().UTC()
	calculated := record.CalculatedStress.Or(Known(record.Stress)).Value()
	record.CalculatedStress = Known(calculated)
	record.UserEnteredStress = Known(value)
	record.Stress = value
	record.Verification = VerificationCorrected
	record.UpdatedAt = now
	if err := s.records.Update(ctx, *record); err != nil {
		return nil, err
	}

	if _, err := s.calibrator.Record(ctx, CalibrationDataPoint{
		Timestamp:   now,
		TenantID:    tenantID,
		Category:    record.Category,
		Calculated:  calculated,
		GroundTruth: value,
		Confidence:  1.0,
	}); err != nil {
		return nil, err
	}

	if err := s.recomputer.RecomputeFrom(ctx, tenantID, record.Day()); err != nil {
		return nil, err
	}
	return record, nil
}

// AnchorDay pins a day's CTL/ATL to user-supplied values, recomputes all
// later days from the new seed, and folds the observed drift back into the
// calibration engine as indirect evidence for the categories trained in the
// preceding days. Days before the anchor are left untouched.
func (s *Service) AnchorDay(ctx context.Context, tenantID string, date time.Time, ctl, atl float64) (*DailyMetrics, error) {
	if !s.validLoad(ctl) || !s.validLoad(atl) {
		return nil, fmt.Errorf("%w: ctl/atl outside [0, %.0f]", ErrInvalidCorrection, s.cfg.MaxLoad)
	}

	day := DayOf(date)
	now := s.clock().UTC()

	previous, err := s.metrics.Get(ctx, tenantID, day)
	if err != nil {
		return nil, err
	}

	anchored := DailyMetrics{
		TenantID:  tenantID,
		Date:      day,
		CTL:       ctl,
		ATL:       atl,
		TSB:       ctl - atl,
		Anchored:  true,
		UpdatedAt: now,
	}
	if previous != nil {
		anchored.TotalStress = previous.TotalStress
	}
	if err := s.metrics.ReplaceRange(ctx, tenantID, []DailyMetrics{anchored}); err != nil {
		return nil, err
	}

	if err := s.recomputer.RecomputeFrom(ctx, tenantID, day.AddDate(0, 0, 1)); err != nil {
		return nil, err
	}

	if previous != nil && previous.CTL > 0 {
		if err := s.recordDrift(ctx, tenantID, day, previous.CTL, ctl, now); err != nil {
			return nil, err
		}
	}
	return &anchored, nil
}

// recordDrift attributes a CTL correction delta to the categories trained
// in the lookback window before the anchor.
func (s *Service) recordDrift(ctx context.Context, tenantID string, day time.Time, previousCTL, correctedCTL float64, now time.Time) error {
	from := day.AddDate(0, 0, -s.cfg.DriftLookbackDays)
	records, _, err := s.records.ListByRange(ctx, tenantID, RecordQuery{From: from, To: day}, nil, 0)
	if err != nil {
		return err
	}

	categories := make(map[Category]struct{})
	for _, record := range records {
		categories[record.Category] = struct{}{}
	}

	delta := correctedCTL - previousCTL
	for category := range categories {
		if _, err := s.calibrator.Record(ctx, CalibrationDataPoint{
			Timestamp:   now,
			TenantID:    tenantID,
			Category:    category,
			Calculated:  previousCTL,
			GroundTruth: correctedCTL,
			Confidence:  0.25,
			PMCDelta:    Known(delta),
		}); err != nil {
			return err
		}
	}
	return nil
}

// Records lists canonical workout records for a date range and optional
// category, with cursor pagination.
func (s *Service) Records(ctx context.Context, tenantID string, q RecordQuery, cursor *Cursor, limit int) ([]WorkoutRecord, *Cursor, error) {
	return s.records.ListByRange(ctx, tenantID, q, cursor, limit)
}

// Record fetches one record by ID.
func (s *Service) Record(ctx context.Context, tenantID, recordID string) (*WorkoutRecord, error) {
	record, err := s.records.Get(ctx, tenantID, recordID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, ErrRecordNotFound
	}
	return record, nil
}

// ReviewQueue lists records flagged for manual review.
func (s *Service) ReviewQueue(ctx context.Context, tenantID string, limit int) ([]WorkoutRecord, error) {
	return s.records.ListNeedsReview(ctx, tenantID, limit)
}

// DailySeries returns the CTL/ATL/TSB series for a date range.
func (s *Service) DailySeries(ctx context.Context, tenantID string, from, to time.Time) ([]DailyMetrics, error) {
	return s.metrics.Range(ctx, tenantID, DayOf(from), DayOf(to))
}

// ScalingProfiles returns the per-category calibration snapshots.
func (s *Service) ScalingProfiles(ctx context.Context, tenantID string) ([]ScalingProfile, error) {
	return s.calibrator.Profiles(ctx, tenantID)
}

// ResetData deletes all of a tenant's records, metrics, and calibration
// state. This is the only path that deletes workout records.
func (s *Service) ResetData(ctx context.Context, tenantID string) error {
	if err := s.records.DeleteAll(ctx, tenantID); err != nil {
		return err
	}
	if err := s.metrics.DeleteAll(ctx, tenantID); err != nil {
		return err
	}
	return s.calibrator.Reset(ctx, tenantID)
}

func (s *Service) validSessionStress(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0 && v <= s.cfg.MaxSessionStress
}

func (s *Service) validLoad(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0 && v <= s.cfg.MaxLoad
}
