package detect

import (
	"math"

	"github.com/shopspring/decimal"

	"impegni/internal/core"
)

// avgDaysPerMonth converts a day span into fractional months.
const avgDaysPerMonth = 30.44

var centsPerUnit = decimal.NewFromInt(100)

// spanMonths converts the first-to-last day span of a group into a rounded
// month count.
func spanMonths(spanDays int) int {
	return int(math.Round(float64(spanDays) / avgDaysPerMonth))
}

// countDistinctMonths counts the unique YYYY-MM values among the group's
// transaction dates.
func countDistinctMonths(txns []core.Transaction) int {
	seen := make(map[string]struct{}, len(txns))
	for _, t := range txns {
		seen[t.Date.MonthKey()] = struct{}{}
	}
	return len(seen)
}

// MonthlyFor computes the monthly-equivalent amount of the group as if it
// were billed at cadence f, rounded to cents only here, at the reporting
// boundary. It is meaningful only on groups produced by Detect.
//
// Low-frequency cadences divide the average per-charge amount by the number
// of months per billing cycle; using the average rather than the total
// avoids overweighting merchants with more historical charges.
// High-frequency cadences divide total spend by
// max(1, distinct calendar months, span months): distinct months alone
// under-divide when billing-date drift pushes a charge across a month
// boundary, span months alone under-divide when a merchant bills several
// times within one calendar month.
func (g CommitmentGroup) MonthlyFor(f core.Frequency) decimal.Decimal {
	total := decimal.NewFromInt(g.totalCents).Div(centsPerUnit)
	if g.Occurrences == 0 {
		return decimal.Zero
	}

	var cycleMonths int64
	switch f {
	case core.Quarterly:
		cycleMonths = 3
	case core.SemiAnnual:
		cycleMonths = 6
	case core.Yearly:
		cycleMonths = 12
	case core.Weekly, core.Monthly, core.Irregular:
		// span-based divisor below
	}
	if cycleMonths > 0 {
		avg := total.Div(decimal.NewFromInt(int64(g.Occurrences)))
		return avg.Div(decimal.NewFromInt(cycleMonths)).Round(2)
	}

	months := 1
	if g.distinctMonths > months {
		months = g.distinctMonths
	}
	if g.spanMonths > months {
		months = g.spanMonths
	}
	return total.Div(decimal.NewFromInt(int64(months))).Round(2)
}
