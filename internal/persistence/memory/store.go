// Package memory provides map-backed implementations of the domain
// repositories for unit tests and local development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"example.com/trainload/internal/domain"
)

// Store implements domain.WorkoutRepository, domain.MetricsRepository, and
// domain.CalibrationRepository over in-memory maps. One mutex covers all
// collections: the serialization it gives Reconcile and ReplaceRange is the
// point, not a shortcut.
type Store struct {
	mu       sync.RWMutex
	records  map[string]map[string]domain.WorkoutRecord  // tenant -> id -> record
	metrics  map[string]map[time.Time]domain.DailyMetrics // tenant -> day -> metrics
	points   map[string][]domain.CalibrationDataPoint
	profiles map[string]map[domain.Category]domain.ScalingProfile
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		records:  make(map[string]map[string]domain.WorkoutRecord),
		metrics:  make(map[string]map[time.Time]domain.DailyMetrics),
		points:   make(map[string][]domain.CalibrationDataPoint),
		profiles: make(map[string]map[domain.Category]domain.ScalingProfile),
	}
}

// Reconcile runs fn under the store lock with the day's records and upserts
// the returned record.
func (s *Store) Reconcile(ctx context.Context, tenantID string, day time.Time, fn domain.ReconcileFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	day = domain.DayOf(day)
	existing := make([]domain.WorkoutRecord, 0)
	for _, record := range s.records[tenantID] {
		if record.Day().Equal(day) {
			existing = append(existing, record)
		}
	}
	sort.Slice(existing, func(i, j int) bool { return existing[i].ID < existing[j].ID })

	record, err := fn(ctx, existing)
	if err != nil {
		return err
	}
	if record == nil {
		return nil
	}
	if s.records[tenantID] == nil {
		s.records[tenantID] = make(map[string]domain.WorkoutRecord)
	}
	s.records[tenantID][record.ID] = *record
	return nil
}

// Get returns a record by ID, or nil when absent.
func (s *Store) Get(ctx context.Context, tenantID, recordID string) (*domain.WorkoutRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[tenantID][recordID]
	if !ok {
		return nil, nil
	}
	return &record, nil
}

// ListByDay returns the records starting on the given UTC day.
func (s *Store) ListByDay(ctx context.Context, tenantID string, day time.Time) ([]domain.WorkoutRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	day = domain.DayOf(day)
	out := make([]domain.WorkoutRecord, 0)
	for _, record := range s.records[tenantID] {
		if record.Day().Equal(day) {
			out = append(out, record)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListByRange returns records within [From, To], newest first, with cursor
// pagination. A zero To means unbounded; a zero limit disables paging.
func (s *Store) ListByRange(ctx context.Context, tenantID string, q domain.RecordQuery, cursor *domain.Cursor, limit int) ([]domain.WorkoutRecord, *domain.Cursor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]domain.WorkoutRecord, 0)
	for _, record := range s.records[tenantID] {
		if !q.From.IsZero() && record.StartDate.Before(q.From) {
			continue
		}
		if !q.To.IsZero() && record.StartDate.After(q.To.AddDate(0, 0, 1)) {
			continue
		}
		if q.Category != "" && record.Category != q.Category {
			continue
		}
		all = append(all, record)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].StartDate.Equal(all[j].StartDate) {
			return all[i].StartDate.After(all[j].StartDate)
		}
		return all[i].ID > all[j].ID
	})

	start := 0
	if cursor != nil {
		for i, record := range all {
			if record.StartDate.Before(cursor.StartDate) ||
				(record.StartDate.Equal(cursor.StartDate) && record.ID < cursor.ID) {
				start = i
				break
			}
			start = len(all)
		}
	}
	all = all[start:]

	if limit > 0 && len(all) > limit {
		page := all[:limit]
		last := page[len(page)-1]
		return page, &domain.Cursor{StartDate: last.StartDate, ID: last.ID}, nil
	}
	return all, nil, nil
}

// ListNeedsReview returns records flagged for manual review.
func (s *Store) ListNeedsReview(ctx context.Context, tenantID string, limit int) ([]domain.WorkoutRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.WorkoutRecord, 0)
	for _, record := range s.records[tenantID] {
		if record.NeedsReview {
			out = append(out, record)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartDate.Before(out[j].StartDate) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Update overwrites an existing record.
func (s *Store) Update(ctx context.Context, record domain.WorkoutRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.records[record.TenantID] == nil {
		s.records[record.TenantID] = make(map[string]domain.WorkoutRecord)
	}
	s.records[record.TenantID][record.ID] = record
	return nil
}

// DeleteAll removes all of a tenant's records.
func (s *Store) DeleteAll(ctx context.Context, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, tenantID)
	return nil
}

// GetMetrics returns one day's metrics, or nil.
func (s *Store) GetMetrics(ctx context.Context, tenantID string, date time.Time) (*domain.DailyMetrics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.metrics[tenantID][domain.DayOf(date)]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

// RangeMetrics returns the series within [from, to] in date order.
func (s *Store) RangeMetrics(ctx context.Context, tenantID string, from, to time.Time) ([]domain.DailyMetrics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	from, to = domain.DayOf(from), domain.DayOf(to)
	out := make([]domain.DailyMetrics, 0)
	for day, entry := range s.metrics[tenantID] {
		if day.Before(from) || day.After(to) {
			continue
		}
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

// ReplaceRange upserts the entries one day at a time, honouring context
// cancellation between days.
func (s *Store) ReplaceRange(ctx context.Context, tenantID string, entries []domain.DailyMetrics) error {
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.mu.Lock()
		if s.metrics[tenantID] == nil {
			s.metrics[tenantID] = make(map[time.Time]domain.DailyMetrics)
		}
		s.metrics[tenantID][domain.DayOf(entry.Date)] = entry
		s.mu.Unlock()
	}
	return nil
}

// LatestAnchorOnOrBefore returns the most recent anchored day at or before
// the given date, or nil.
func (s *Store) LatestAnchorOnOrBefore(ctx context.Context, tenantID string, date time.Time) (*domain.DailyMetrics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := domain.DayOf(date)
	var best *domain.DailyMetrics
	for day, entry := range s.metrics[tenantID] {
		if !entry.Anchored || day.After(limit) {
			continue
		}
		if best == nil || day.After(best.Date) {
			e := entry
			best = &e
		}
	}
	return best, nil
}

// DeleteAllMetrics removes a tenant's daily series.
func (s *Store) DeleteAllMetrics(ctx context.Context, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.metrics, tenantID)
	return nil
}

// AppendPoint stores one immutable comparison event.
func (s *Store) AppendPoint(ctx context.Context, point domain.CalibrationDataPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.points[point.TenantID] = append(s.points[point.TenantID], point)
	return nil
}

// GetProfile returns the category's profile, or nil.
func (s *Store) GetProfile(ctx context.Context, tenantID string, category domain.Category) (*domain.ScalingProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	profile, ok := s.profiles[tenantID][category]
	if !ok {
		return nil, nil
	}
	return &profile, nil
}

// UpsertProfile stores the profile.
func (s *Store) UpsertProfile(ctx context.Context, profile domain.ScalingProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.profiles[profile.TenantID] == nil {
		s.profiles[profile.TenantID] = make(map[domain.Category]domain.ScalingProfile)
	}
	s.profiles[profile.TenantID][profile.Category] = profile
	return nil
}

// ListProfiles returns all profiles for the tenant, ordered by category.
func (s *Store) ListProfiles(ctx context.Context, tenantID string) ([]domain.ScalingProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.ScalingProfile, 0, len(s.profiles[tenantID]))
	for _, profile := range s.profiles[tenantID] {
		out = append(out, profile)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	return out, nil
}

// DeleteAllCalibration removes a tenant's calibration state.
func (s *Store) DeleteAllCalibration(ctx context.Context, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.points, tenantID)
	delete(s.profiles, tenantID)
	return nil
}
