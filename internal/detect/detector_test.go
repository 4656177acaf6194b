package detect

import (
	"reflect"
	"testing"

	"impegni/internal/core"
)

func tx(id string, date core.Date, merchant string, cents int64) core.Transaction {
	return core.Transaction{
		ID:        id,
		Date:      date,
		Merchant:  merchant,
		Amount:    core.Money{Cents: cents},
		Direction: core.DirectionDebit,
	}
}

func TestDetectEligibility(t *testing.T) {
	tests := []struct {
		name string
		txns []core.Transaction
		want int // detected groups
	}{
		{
			name: "single charge never qualifies",
			txns: []core.Transaction{
				tx("a", core.NewDate(2025, 1, 1), "Netflix", 1299),
			},
			want: 0,
		},
		{
			name: "three charges within 13 days fail the span floor",
			txns: []core.Transaction{
				tx("a", core.NewDate(2025, 1, 1), "Cafe", 500),
				tx("b", core.NewDate(2025, 1, 7), "Cafe", 500),
				tx("c", core.NewDate(2025, 1, 14), "Cafe", 500),
			},
			want: 0,
		},
		{
			name: "three charges spanning exactly 14 days qualify",
			txns: []core.Transaction{
				tx("a", core.NewDate(2025, 1, 1), "Gym", 3000),
				tx("b", core.NewDate(2025, 1, 8), "Gym", 3000),
				tx("c", core.NewDate(2025, 1, 15), "Gym", 3000),
			},
			want: 1,
		},
		{
			name: "two charges 100 days apart fail the relaxed span",
			txns: []core.Transaction{
				tx("a", core.NewDate(2025, 1, 1), "Insurance", 9000),
				tx("b", core.NewDate(2025, 4, 11), "Insurance", 9000),
			},
			want: 0,
		},
		{
			name: "two charges 180 days apart qualify as semi-annual candidates",
			txns: []core.Transaction{
				tx("a", core.NewDate(2025, 1, 1), "Insurance", 9000),
				tx("b", core.NewDate(2025, 6, 30), "Insurance", 9000),
			},
			want: 1,
		},
		{
			name: "same-day charges collapse to one date",
			txns: []core.Transaction{
				tx("a", core.NewDate(2025, 1, 1), "Split", 500),
				tx("b", core.NewDate(2025, 1, 1), "Split", 500),
				tx("c", core.NewDate(2025, 1, 1), "Split", 500),
			},
			want: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Detect(tt.txns, Options{})
			if len(got) != tt.want {
				t.Errorf("Detect() returned %d groups, want %d", len(got), tt.want)
			}
		})
	}
}

func TestDetectFiltersInput(t *testing.T) {
	base := []core.Transaction{
		tx("a", core.NewDate(2025, 1, 1), "Gym", 3000),
		tx("b", core.NewDate(2025, 2, 1), "Gym", 3000),
		tx("c", core.NewDate(2025, 3, 1), "Gym", 3000),
	}

	t.Run("credit transactions are ignored", func(t *testing.T) {
		txns := append([]core.Transaction{}, base...)
		credit := tx("d", core.NewDate(2025, 4, 1), "Gym", 3000)
		credit.Direction = core.DirectionCredit
		txns = append(txns, credit)

		groups := Detect(txns, Options{})
		if len(groups) != 1 || groups[0].Occurrences != 3 {
			t.Fatalf("expected 3 debit occurrences, got %+v", groups)
		}
	})

	t.Run("unmerchanted transactions are ignored", func(t *testing.T) {
		txns := append([]core.Transaction{}, base...)
		txns = append(txns, tx("d", core.NewDate(2025, 4, 1), "", 3000))

		groups := Detect(txns, Options{})
		if len(groups) != 1 || groups[0].Occurrences != 3 {
			t.Fatalf("expected 3 occurrences, got %+v", groups)
		}
	})

	t.Run("excluded ids are dropped before grouping", func(t *testing.T) {
		groups := Detect(base, Options{ExcludedIDs: map[string]struct{}{"c": {}}})
		if len(groups) != 0 {
			t.Fatalf("expected no groups after exclusion, got %+v", groups)
		}
	})

	t.Run("date range bounds the input", func(t *testing.T) {
		groups := Detect(base, Options{From: core.NewDate(2025, 2, 1)})
		if len(groups) != 0 {
			t.Fatalf("expected no groups inside the window, got %+v", groups)
		}
	})
}

func TestDetectCanonicalCasing(t *testing.T) {
	txns := []core.Transaction{
		tx("a", core.NewDate(2025, 1, 10), "Netflix", 1299),
		tx("b", core.NewDate(2025, 2, 10), "netflix", 1299),
		tx("c", core.NewDate(2025, 3, 10), "Netflix", 1299),
	}
	groups := Detect(txns, Options{})
	if len(groups) != 1 {
		t.Fatalf("expected one merged group, got %d", len(groups))
	}
	if groups[0].Merchant != "Netflix" {
		t.Errorf("canonical name = %q, want Netflix", groups[0].Merchant)
	}
	if groups[0].Occurrences != 3 {
		t.Errorf("occurrences = %d, want 3", groups[0].Occurrences)
	}
}

func TestDetectDeterminism(t *testing.T) {
	txns := []core.Transaction{
		tx("b", core.NewDate(2025, 2, 10), "Spotify", 999),
		tx("a", core.NewDate(2025, 1, 10), "Spotify", 999),
		tx("c", core.NewDate(2025, 3, 10), "Spotify", 999),
		tx("z", core.NewDate(2025, 1, 5), "Gym", 3000),
		tx("y", core.NewDate(2025, 2, 5), "Gym", 3000),
		tx("x", core.NewDate(2025, 3, 5), "Gym", 3000),
	}

	first := Detect(txns, Options{})

	reversed := make([]core.Transaction, len(txns))
	for i, tr := range txns {
		reversed[len(txns)-1-i] = tr
	}
	second := Detect(reversed, Options{})

	if !reflect.DeepEqual(first, second) {
		t.Errorf("detection depends on input order:\nfirst:  %+v\nsecond: %+v", first, second)
	}
	if len(first) != 2 || first[0].Merchant != "Gym" || first[1].Merchant != "Spotify" {
		t.Errorf("groups not ordered by merchant key: %+v", first)
	}
	if got := first[1].TransactionIDs; !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Errorf("transaction ids not date-ordered: %v", got)
	}
}

func TestDetectYearlyAmortization(t *testing.T) {
	txns := []core.Transaction{
		tx("a", core.NewDate(2024, 1, 10), "Domain Registrar", 12000),
		tx("b", core.NewDate(2025, 1, 10), "Domain Registrar", 12000),
	}
	groups := Detect(txns, Options{})
	if len(groups) != 1 {
		t.Fatalf("expected one group, got %d", len(groups))
	}
	g := groups[0]
	if g.Frequency != core.Yearly {
		t.Errorf("frequency = %s, want yearly", g.Frequency)
	}
	if got := g.AvgAmount.StringFixed(2); got != "120.00" {
		t.Errorf("avgAmount = %s, want 120.00", got)
	}
	if got := g.EstimatedMonthlyAmount.StringFixed(2); got != "10.00" {
		t.Errorf("estimatedMonthlyAmount = %s, want 10.00", got)
	}
}

func TestDetectMonthlyDrift(t *testing.T) {
	// A monthly charge whose February billing slipped past the month
	// boundary: gaps of 30 and 60 days, three distinct months, span of
	// three months. The estimate must stay at the per-cycle amount.
	txns := []core.Transaction{
		tx("a", core.NewDate(2025, 1, 30), "Cloud Storage", 1500),
		tx("b", core.NewDate(2025, 3, 1), "Cloud Storage", 1500),
		tx("c", core.NewDate(2025, 4, 30), "Cloud Storage", 1500),
	}
	groups := Detect(txns, Options{})
	if len(groups) != 1 {
		t.Fatalf("expected one group, got %d", len(groups))
	}
	g := groups[0]
	if g.Frequency != core.Monthly {
		t.Errorf("frequency = %s, want monthly", g.Frequency)
	}
	if got := g.EstimatedMonthlyAmount.StringFixed(2); got != "15.00" {
		t.Errorf("estimatedMonthlyAmount = %s, want 15.00", got)
	}
}
