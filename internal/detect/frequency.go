package detect

import (
	"sort"

	"impegni/internal/core"
)

// Median-gap upper bounds, in days, per cadence. Inclusive.
const (
	weeklyMaxGap     = 10
	monthlyMaxGap    = 45
	quarterlyMaxGap  = 120
	semiAnnualMaxGap = 240
	yearlyMaxGap     = 400
)

// medianGapDays computes the median day-gap between consecutive distinct
// charge dates. The median of an even-length gap list is the average of the
// two middle values. Median rather than mean: a single skipped or doubled
// month must not shift an otherwise-monthly merchant into irregular.
func medianGapDays(dates []core.Date) float64 {
	if len(dates) < 2 {
		return 0
	}
	gaps := make([]int, 0, len(dates)-1)
	for i := 1; i < len(dates); i++ {
		gaps = append(gaps, dates[i-1].DaysUntil(dates[i]))
	}
	sort.Ints(gaps)
	mid := len(gaps) / 2
	if len(gaps)%2 == 1 {
		return float64(gaps[mid])
	}
	return float64(gaps[mid-1]+gaps[mid]) / 2
}

// classifyFrequency infers the billing cadence from the distribution of
// gaps between distinct charge dates.
func classifyFrequency(dates []core.Date) core.Frequency {
	if len(dates) < 2 {
		return core.Irregular
	}
	median := medianGapDays(dates)
	switch {
	case median <= weeklyMaxGap:
		return core.Weekly
	case median <= monthlyMaxGap:
		return core.Monthly
	case median <= quarterlyMaxGap:
		return core.Quarterly
	case median <= semiAnnualMaxGap:
		return core.SemiAnnual
	case median <= yearlyMaxGap:
		return core.Yearly
	default:
		return core.Irregular
	}
}
