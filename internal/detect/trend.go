package detect

import (
	"time"

	"github.com/shopspring/decimal"
)

// TrendPoint is one month of the projected commitment cost series.
type TrendPoint struct {
	Month  string          `json:"month"`
	Amount decimal.Decimal `json:"amount"`
}

// ComputeTrend projects the active groups onto a monthly timeline. The
// series covers every calendar month from the earliest first charge to the
// latest last charge, inclusive. A group contributes its flat
// monthly-equivalent figure to every month inside its own first-to-last
// range, not just months containing an actual charge. Empty input yields an
// empty series.
func ComputeTrend(active []CommitmentGroup) []TrendPoint {
	if len(active) == 0 {
		return []TrendPoint{}
	}

	type span struct {
		first, last time.Time
		amount      decimal.Decimal
	}
	spans := make([]span, 0, len(active))

	var minMonth, maxMonth time.Time
	for _, g := range active {
		first := monthFloor(g.FirstDate.Time)
		last := monthFloor(g.LastDate.Time)
		spans = append(spans, span{first: first, last: last, amount: g.EstimatedMonthlyAmount})
		if minMonth.IsZero() || first.Before(minMonth) {
			minMonth = first
		}
		if maxMonth.IsZero() || last.After(maxMonth) {
			maxMonth = last
		}
	}

	var points []TrendPoint
	for m := minMonth; !m.After(maxMonth); m = m.AddDate(0, 1, 0) {
		sum := decimal.Zero
		for _, s := range spans {
			if !m.Before(s.first) && !m.After(s.last) {
				sum = sum.Add(s.amount)
			}
		}
		points = append(points, TrendPoint{Month: m.Format("2006-01"), Amount: sum})
	}
	return points
}

func monthFloor(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
