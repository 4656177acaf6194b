package detect

import (
	"sort"
	"strings"

	"impegni/internal/core"
)

// Eligibility thresholds for a merchant bucket to count as recurring.
const (
	minOccurrences    = 2
	strictOccurrences = 3
	minSpanDays       = 14
	relaxedSpanDays   = 150
)

// bucket holds all eligible transactions of one merchant, keyed by the
// lowercase normalized merchant name.
type bucket struct {
	key  string
	txns []core.Transaction
}

// groupByMerchant buckets transactions by lowercase merchant key. Buckets
// come back sorted by key, and transactions within a bucket sorted by date
// then id, so repeated runs over the same data produce identical output.
func groupByMerchant(txns []core.Transaction) []bucket {
	byKey := make(map[string][]core.Transaction)
	for _, t := range txns {
		key := strings.ToLower(t.Merchant)
		byKey[key] = append(byKey[key], t)
	}

	keys := make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buckets := make([]bucket, 0, len(keys))
	for _, k := range keys {
		group := byKey[k]
		sort.SliceStable(group, func(i, j int) bool {
			if !group[i].Date.Equal(group[j].Date.Time) {
				return group[i].Date.Before(group[j].Date.Time)
			}
			return group[i].ID < group[j].ID
		})
		buckets = append(buckets, bucket{key: k, txns: group})
	}
	return buckets
}

// canonicalName picks the display name for a bucket: the exact-cased
// variant with the highest occurrence count, ties broken by first
// encounter. This absorbs inconsistent casing ("netflix" vs "Netflix")
// without losing the human-preferred form.
func canonicalName(txns []core.Transaction) string {
	counts := make(map[string]int)
	var order []string
	for _, t := range txns {
		if _, seen := counts[t.Merchant]; !seen {
			order = append(order, t.Merchant)
		}
		counts[t.Merchant]++
	}
	best := ""
	bestCount := 0
	for _, name := range order {
		if counts[name] > bestCount {
			best = name
			bestCount = counts[name]
		}
	}
	return best
}

// dominantCategory picks the most frequent non-empty category of a bucket
// (ties broken by first encounter) and the first color seen with it.
func dominantCategory(txns []core.Transaction) (name, color string) {
	counts := make(map[string]int)
	colors := make(map[string]string)
	var order []string
	for _, t := range txns {
		if t.Category == "" {
			continue
		}
		if _, seen := counts[t.Category]; !seen {
			order = append(order, t.Category)
		}
		counts[t.Category]++
		if colors[t.Category] == "" && t.CategoryColor != "" {
			colors[t.Category] = t.CategoryColor
		}
	}
	bestCount := 0
	for _, c := range order {
		if counts[c] > bestCount {
			name = c
			bestCount = counts[c]
		}
	}
	return name, colors[name]
}

// distinctDates returns the sorted unique calendar dates of a bucket.
// Same-day charges (split payments) collapse to one date.
func distinctDates(txns []core.Transaction) []core.Date {
	seen := make(map[string]struct{}, len(txns))
	var out []core.Date
	for _, t := range txns {
		key := t.Date.String()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, t.Date)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j].Time) })
	return out
}

// isEligible decides whether a bucket qualifies as a recurring candidate.
// A single charge cannot establish a pattern, multiple same-day charges do
// not count as recurrence, and charges within one statement cycle are not
// recurring. Two-occurrence buckets qualify only when the span is long
// enough to plausibly be semi-annual or annual billing.
func isEligible(txns []core.Transaction, dates []core.Date) bool {
	if len(txns) < minOccurrences {
		return false
	}
	if len(dates) < 2 {
		return false
	}
	span := dates[0].DaysUntil(dates[len(dates)-1])
	if span < minSpanDays {
		return false
	}
	return len(txns) >= strictOccurrences || span >= relaxedSpanDays
}
