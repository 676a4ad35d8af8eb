// Package pmc computes the Performance Management Chart series: chronic
// training load, acute training load, and training stress balance per day.
package pmc

import (
	"math"
	"sort"
	"time"

	"example.com/trainload/internal/domain"
)

// Fixed exponential time constants of the model: fitness decays over 42
// days, fatigue over 7.
const (
	CTLTimeConstant = 42.0
	ATLTimeConstant = 7.0
)

var (
	ctlAlpha = 1 - math.Exp(-1/CTLTimeConstant)
	atlAlpha = 1 - math.Exp(-1/ATLTimeConstant)
)

// DailyStress is one day's summed stress input.
type DailyStress struct {
	Date   time.Time
	Stress float64
}

// Anchor seeds the recomputation: the anchor day's CTL/ATL are treated as
// ground truth and only days strictly after it are computed.
type Anchor struct {
	Date time.Time
	CTL  float64
	ATL  float64
}

// Recompute produces the CTL/ATL/TSB series for every day strictly after
// the anchor, through the last day with stress input. The sequence is
// gap-filled: a day with no workouts still advances the decay with zero
// stress. With a nil anchor the seed is zero the day before the first input.
//
// A non-finite stress total freezes the decay for that day: the day is
// emitted with zero total stress and the previous day's CTL/ATL unchanged,
// so a bad value cannot poison subsequent days' decay state.
func Recompute(tenantID string, daily []DailyStress, anchor *Anchor, now time.Time) []domain.DailyMetrics {
	if len(daily) == 0 && anchor == nil {
		return nil
	}

	stressByDay := make(map[time.Time]float64, len(daily))
	var first, last time.Time
	for _, d := range daily {
		day := domain.DayOf(d.Date)
		stressByDay[day] += d.Stress
		if first.IsZero() || day.Before(first) {
			first = day
		}
		if last.IsZero() || day.After(last) {
			last = day
		}
	}

	var ctl, atl float64
	var start time.Time
	if anchor != nil {
		ctl, atl = anchor.CTL, anchor.ATL
		start = domain.DayOf(anchor.Date).AddDate(0, 0, 1)
	} else {
		start = first
	}
	if last.IsZero() || last.Before(start) {
		return nil
	}

	out := make([]domain.DailyMetrics, 0, int(last.Sub(start).Hours()/24)+1)
	for day := start; !day.After(last); day = day.AddDate(0, 0, 1) {
		stress := stressByDay[day]
		if math.IsNaN(stress) || math.IsInf(stress, 0) {
			stress = 0
			out = append(out, domain.DailyMetrics{
				TenantID:    tenantID,
				Date:        day,
				TotalStress: stress,
				CTL:         ctl,
				ATL:         atl,
				TSB:         ctl - atl,
				UpdatedAt:   now.UTC(),
			})
			continue
		}
		ctl += (stress - ctl) * ctlAlpha
		atl += (stress - atl) * atlAlpha
		out = append(out, domain.DailyMetrics{
			TenantID:    tenantID,
			Date:        day,
			TotalStress: stress,
			CTL:         ctl,
			ATL:         atl,
			TSB:         ctl - atl,
			UpdatedAt:   now.UTC(),
		})
	}
	return out
}

// Aggregate groups canonical records by UTC calendar day and sums stress
// per day, in date order.
func Aggregate(records []domain.WorkoutRecord) []DailyStress {
	totals := make(map[time.Time]float64)
	for _, record := range records {
		day := record.Day()
		stress := record.Stress
		if math.IsNaN(stress) || math.IsInf(stress, 0) {
			continue
		}
		totals[day] += stress
	}

	out := make([]DailyStress, 0, len(totals))
	for day, stress := range totals {
		out = append(out, DailyStress{Date: day, Stress: stress})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}
