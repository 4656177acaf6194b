// Package detect implements the recurring-charge detection pipeline:
// merchant grouping, eligibility filtering, cadence classification,
// monthly-cost estimation and trend aggregation.
//
// Detection is pure and stateless. It recomputes everything from the raw
// transaction rows on every call and persists nothing, so there is no
// cache-invalidation problem in the engine itself.
package detect

import (
	"github.com/shopspring/decimal"

	"impegni/internal/core"
)

// Options narrows the detection input. Zero dates mean unbounded.
type Options struct {
	From        core.Date
	To          core.Date
	ExcludedIDs map[string]struct{}
}

// CommitmentGroup is one detected recurring-charge pattern. It is ephemeral:
// recomputed on every detection run, never stored, with no identity beyond
// the merchant name.
type CommitmentGroup struct {
	Merchant               string          `json:"merchant"`
	Occurrences            int             `json:"occurrences"`
	TotalAmount            decimal.Decimal `json:"totalAmount"`
	AvgAmount              decimal.Decimal `json:"avgAmount"`
	EstimatedMonthlyAmount decimal.Decimal `json:"estimatedMonthlyAmount"`
	Frequency              core.Frequency  `json:"frequency"`
	FirstDate              core.Date       `json:"firstDate"`
	LastDate               core.Date       `json:"lastDate"`
	Category               string          `json:"category,omitempty"`
	CategoryColor          string          `json:"categoryColor,omitempty"`
	TransactionIDs         []string        `json:"transactionIds"`

	totalCents     int64
	distinctMonths int
	spanMonths     int
}

// Detect runs the full pipeline over the given transactions and returns
// the detected commitment groups ordered by lowercase merchant key.
// Only debit transactions with a normalized merchant participate; excluded
// ids and out-of-range dates are filtered first. Buckets that fail
// eligibility are dropped silently.
func Detect(txns []core.Transaction, opts Options) []CommitmentGroup {
	eligible := make([]core.Transaction, 0, len(txns))
	for _, t := range txns {
		if t.Direction != core.DirectionDebit || t.Merchant == "" {
			continue
		}
		if _, excluded := opts.ExcludedIDs[t.ID]; excluded {
			continue
		}
		if !opts.From.IsZero() && t.Date.Before(opts.From.Time) {
			continue
		}
		if !opts.To.IsZero() && t.Date.After(opts.To.Time) {
			continue
		}
		eligible = append(eligible, t)
	}

	groups := make([]CommitmentGroup, 0)
	for _, b := range groupByMerchant(eligible) {
		dates := distinctDates(b.txns)
		if !isEligible(b.txns, dates) {
			continue
		}
		groups = append(groups, buildGroup(b, dates))
	}
	return groups
}

func buildGroup(b bucket, dates []core.Date) CommitmentGroup {
	first := dates[0]
	last := dates[len(dates)-1]

	var totalCents int64
	ids := make([]string, 0, len(b.txns))
	for _, t := range b.txns {
		totalCents += t.Amount.Cents
		ids = append(ids, t.ID)
	}

	category, color := dominantCategory(b.txns)

	g := CommitmentGroup{
		Merchant:       canonicalName(b.txns),
		Occurrences:    len(b.txns),
		Frequency:      classifyFrequency(dates),
		FirstDate:      first,
		LastDate:       last,
		Category:       category,
		CategoryColor:  color,
		TransactionIDs: ids,
		totalCents:     totalCents,
		distinctMonths: countDistinctMonths(b.txns),
		spanMonths:     spanMonths(first.DaysUntil(last)),
	}

	total := decimal.NewFromInt(totalCents).Div(centsPerUnit)
	g.TotalAmount = total.Round(2)
	g.AvgAmount = total.Div(decimal.NewFromInt(int64(g.Occurrences))).Round(2)
	g.EstimatedMonthlyAmount = g.MonthlyFor(g.Frequency)
	return g
}
