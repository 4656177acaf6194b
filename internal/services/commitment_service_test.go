package services

import (
	"context"
	"testing"
	"time"

	"impegni/internal/core"
	"impegni/internal/detect"
	"impegni/internal/storage/memory"
)

func monthlyTxns(merchant, idPrefix string, months int, cents int64) []core.Transaction {
	txns := make([]core.Transaction, 0, months)
	for i := 0; i < months; i++ {
		txns = append(txns, core.Transaction{
			ID:        idPrefix + string(rune('a'+i)),
			Date:      core.NewDate(2025, 1+i, 5),
			Merchant:  merchant,
			Amount:    core.Money{Cents: cents},
			Direction: core.DirectionDebit,
		})
	}
	return txns
}

func TestOverviewReconcilesStatuses(t *testing.T) {
	ctx := context.Background()
	store := memory.New().
		Seed(monthlyTxns("Gym", "g", 3, 3000)...).
		Seed(monthlyTxns("Netflix", "n", 3, 1299)...).
		Seed(monthlyTxns("Paper", "p", 3, 500)...)

	svc := NewCommitmentService(store)
	if err := svc.SetStatus(ctx, "Netflix", core.StatusEnded, "cancelled", core.NewDate(2025, 4, 1)); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if err := svc.SetStatus(ctx, "Paper", core.StatusNotRecurring, "", core.NewDate(2025, 4, 1)); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}

	ov, err := svc.Overview(ctx, detect.Options{})
	if err != nil {
		t.Fatalf("Overview: %v", err)
	}
	if len(ov.Active) != 1 || ov.Active[0].Merchant != "Gym" {
		t.Errorf("active = %+v, want only Gym", ov.Active)
	}
	if len(ov.Ended) != 1 || ov.Ended[0].Merchant != "Netflix" {
		t.Errorf("ended = %+v, want only Netflix", ov.Ended)
	}
	if ov.Ended[0].Notes != "cancelled" {
		t.Errorf("ended notes = %q, want cancelled", ov.Ended[0].Notes)
	}
	if len(ov.ExcludedMerchants) != 1 || ov.ExcludedMerchants[0].Merchant != "Paper" {
		t.Errorf("excluded = %+v, want only Paper", ov.ExcludedMerchants)
	}
}

func TestOverviewUnexpectedActivity(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		endedAt core.Date
		want    bool
	}{
		{"charge after declared end", core.NewDate(2025, 1, 1), true},
		{"no charge after declared end", core.NewDate(2025, 3, 1), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.New().Seed(
				core.Transaction{ID: "a", Date: core.NewDate(2024, 12, 15), Merchant: "Gym", Amount: core.Money{Cents: 3000}, Direction: core.DirectionDebit},
				core.Transaction{ID: "b", Date: core.NewDate(2025, 1, 15), Merchant: "Gym", Amount: core.Money{Cents: 3000}, Direction: core.DirectionDebit},
				core.Transaction{ID: "c", Date: core.NewDate(2025, 2, 15), Merchant: "Gym", Amount: core.Money{Cents: 3000}, Direction: core.DirectionDebit},
			)
			svc := NewCommitmentService(store)
			if err := svc.SetStatus(ctx, "Gym", core.StatusEnded, "", tt.endedAt); err != nil {
				t.Fatalf("SetStatus: %v", err)
			}

			ov, err := svc.Overview(ctx, detect.Options{})
			if err != nil {
				t.Fatalf("Overview: %v", err)
			}
			if len(ov.Ended) != 1 {
				t.Fatalf("ended = %+v, want one entry", ov.Ended)
			}
			if ov.Ended[0].UnexpectedActivity != tt.want {
				t.Errorf("unexpectedActivity = %v, want %v", ov.Ended[0].UnexpectedActivity, tt.want)
			}
		})
	}
}

func TestOverviewOverridePrecedence(t *testing.T) {
	ctx := context.Background()
	quarterly := core.Quarterly

	t.Run("frequency override recomputes the monthly amount", func(t *testing.T) {
		store := memory.New().Seed(monthlyTxns("Gym", "g", 3, 3000)...)
		svc := NewCommitmentService(store)
		if err := svc.SetOverride(ctx, "Gym", &quarterly, nil); err != nil {
			t.Fatalf("SetOverride: %v", err)
		}

		ov, err := svc.Overview(ctx, detect.Options{})
		if err != nil {
			t.Fatalf("Overview: %v", err)
		}
		c := ov.Active[0]
		if c.Frequency != core.Quarterly || !c.FrequencyOverridden {
			t.Errorf("frequency = %s overridden=%v, want quarterly override", c.Frequency, c.FrequencyOverridden)
		}
		if got := c.EstimatedMonthlyAmount.StringFixed(2); got != "10.00" {
			t.Errorf("estimatedMonthlyAmount = %s, want 10.00", got)
		}
	})

	t.Run("monthly amount override always wins", func(t *testing.T) {
		store := memory.New().Seed(monthlyTxns("Gym", "g", 3, 3000)...)
		svc := NewCommitmentService(store)
		cents := int64(2500)
		if err := svc.SetOverride(ctx, "Gym", &quarterly, &cents); err != nil {
			t.Fatalf("SetOverride: %v", err)
		}

		ov, err := svc.Overview(ctx, detect.Options{})
		if err != nil {
			t.Fatalf("Overview: %v", err)
		}
		c := ov.Active[0]
		if got := c.EstimatedMonthlyAmount.StringFixed(2); got != "25.00" {
			t.Errorf("estimatedMonthlyAmount = %s, want 25.00", got)
		}
		if !c.MonthlyAmountOverridden || !c.FrequencyOverridden {
			t.Errorf("override flags = freq:%v amount:%v, want both", c.FrequencyOverridden, c.MonthlyAmountOverridden)
		}
	})
}

func TestOverviewCacheNeverServesStaleData(t *testing.T) {
	ctx := context.Background()
	store := memory.New().Seed(monthlyTxns("Gym", "g", 3, 3000)...)
	svc := NewCommitmentService(store)

	first, err := svc.Overview(ctx, detect.Options{})
	if err != nil {
		t.Fatalf("Overview: %v", err)
	}
	if first.Active[0].Occurrences != 3 {
		t.Fatalf("occurrences = %d, want 3", first.Active[0].Occurrences)
	}

	// Repeated call with identical data hits the cache and matches.
	again, err := svc.Overview(ctx, detect.Options{})
	if err != nil {
		t.Fatalf("Overview: %v", err)
	}
	if again.Active[0].Occurrences != 3 {
		t.Fatalf("cached occurrences = %d, want 3", again.Active[0].Occurrences)
	}

	// New data changes the fingerprint, so the stale entry cannot be served.
	if _, err := store.InsertTransactions(ctx, []core.Transaction{{
		ID: "g-new", Date: core.NewDate(2025, 4, 5), Merchant: "Gym",
		Amount: core.Money{Cents: 3000}, Direction: core.DirectionDebit,
	}}); err != nil {
		t.Fatalf("InsertTransactions: %v", err)
	}

	fresh, err := svc.Overview(ctx, detect.Options{})
	if err != nil {
		t.Fatalf("Overview: %v", err)
	}
	if fresh.Active[0].Occurrences != 4 {
		t.Errorf("occurrences after insert = %d, want 4", fresh.Active[0].Occurrences)
	}
}

func TestOverviewCacheKeyedByCallerExclusions(t *testing.T) {
	ctx := context.Background()
	store := memory.New().Seed(monthlyTxns("Gym", "g", 4, 3000)...)
	svc := NewCommitmentService(store)

	// Warm the cache with the unfiltered view.
	first, err := svc.Overview(ctx, detect.Options{})
	if err != nil {
		t.Fatalf("Overview: %v", err)
	}
	if first.Active[0].Occurrences != 4 {
		t.Fatalf("occurrences = %d, want 4", first.Active[0].Occurrences)
	}

	// A caller-supplied exclusion set is part of the input and must not
	// collide with the warmed entry.
	filtered, err := svc.Overview(ctx, detect.Options{ExcludedIDs: map[string]struct{}{"gd": {}}})
	if err != nil {
		t.Fatalf("Overview with exclusions: %v", err)
	}
	if filtered.Active[0].Occurrences != 3 {
		t.Errorf("occurrences with gd excluded = %d, want 3", filtered.Active[0].Occurrences)
	}

	// The unfiltered entry is still served intact afterwards.
	again, err := svc.Overview(ctx, detect.Options{})
	if err != nil {
		t.Fatalf("Overview: %v", err)
	}
	if again.Active[0].Occurrences != 4 {
		t.Errorf("unfiltered occurrences = %d, want 4", again.Active[0].Occurrences)
	}
}

func TestSetStatusRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := memory.New().Seed(monthlyTxns("Gym", "g", 3, 3000)...)
	svc := NewCommitmentService(store)

	if err := svc.SetStatus(ctx, "Gym", core.StatusEnded, "", core.NewDate(2025, 4, 1)); err != nil {
		t.Fatalf("SetStatus(ended): %v", err)
	}
	if store.StatusCount() != 1 {
		t.Fatalf("status rows = %d, want 1", store.StatusCount())
	}

	if err := svc.SetStatus(ctx, "Gym", core.StatusActive, "", core.Date{}); err != nil {
		t.Fatalf("SetStatus(active): %v", err)
	}
	if store.StatusCount() != 0 {
		t.Errorf("status rows after reactivation = %d, want 0", store.StatusCount())
	}

	ov, err := svc.Overview(ctx, detect.Options{})
	if err != nil {
		t.Fatalf("Overview: %v", err)
	}
	if len(ov.Active) != 1 || len(ov.Ended) != 0 {
		t.Errorf("after round trip: active=%d ended=%d, want 1/0", len(ov.Active), len(ov.Ended))
	}
}

func TestSetStatusDefaultsChangedAt(t *testing.T) {
	ctx := context.Background()
	store := memory.New().Seed(monthlyTxns("Gym", "g", 3, 3000)...)
	svc := NewCommitmentService(store)
	svc.now = func() time.Time { return time.Date(2025, 6, 1, 10, 30, 0, 0, time.UTC) }

	if err := svc.SetStatus(ctx, "Gym", core.StatusEnded, "", core.Date{}); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	entries, err := store.ListStatusEntries(ctx)
	if err != nil {
		t.Fatalf("ListStatusEntries: %v", err)
	}
	entry, ok := entries["Gym"]
	if !ok {
		t.Fatalf("no status entry for Gym: %v", entries)
	}
	if entry.ChangedAt.String() != "2025-06-01" {
		t.Errorf("changedAt = %s, want 2025-06-01", entry.ChangedAt.String())
	}
}

func TestSetStatusUnknownMerchant(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc := NewCommitmentService(store)

	err := svc.SetStatus(ctx, "Nobody", core.StatusEnded, "", core.NewDate(2025, 1, 1))
	if !core.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if store.StatusCount() != 0 {
		t.Errorf("status rows = %d, want 0", store.StatusCount())
	}
}

func TestSetOverrideRemove(t *testing.T) {
	ctx := context.Background()
	store := memory.New().Seed(monthlyTxns("Gym", "g", 3, 3000)...)
	svc := NewCommitmentService(store)

	freq := core.Monthly
	if err := svc.SetOverride(ctx, "Gym", &freq, nil); err != nil {
		t.Fatalf("SetOverride: %v", err)
	}
	if store.OverrideCount() != 1 {
		t.Fatalf("override rows = %d, want 1", store.OverrideCount())
	}

	if err := svc.SetOverride(ctx, "Gym", nil, nil); err != nil {
		t.Fatalf("SetOverride(nil, nil): %v", err)
	}
	if store.OverrideCount() != 0 {
		t.Errorf("override rows after removal = %d, want 0", store.OverrideCount())
	}
}

func TestMergeMerchantsCleanup(t *testing.T) {
	ctx := context.Background()
	store := memory.New().
		Seed(monthlyTxns("Amazon", "a", 3, 1000)...).
		Seed(monthlyTxns("AMZN Marketplace", "m", 3, 1000)...)
	svc := NewCommitmentService(store)

	if err := svc.SetStatus(ctx, "AMZN Marketplace", core.StatusEnded, "", core.NewDate(2025, 4, 1)); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}

	updated, err := svc.MergeMerchants(ctx, []string{"Amazon", "AMZN Marketplace"}, "Amazon")
	if err != nil {
		t.Fatalf("MergeMerchants: %v", err)
	}
	if updated != 6 {
		t.Errorf("reassigned = %d, want 6", updated)
	}
	if store.StatusCount() != 0 {
		t.Errorf("status rows after merge = %d, want 0 (merged-away row deleted)", store.StatusCount())
	}

	ov, err := svc.Overview(ctx, detect.Options{})
	if err != nil {
		t.Fatalf("Overview: %v", err)
	}
	if len(ov.Active) != 1 || ov.Active[0].Merchant != "Amazon" {
		t.Fatalf("active = %+v, want single Amazon group", ov.Active)
	}
	if ov.Active[0].Occurrences != 6 {
		t.Errorf("combined occurrences = %d, want 6", ov.Active[0].Occurrences)
	}
	if len(ov.Ended) != 0 {
		t.Errorf("ended = %+v, want empty (no ended marker carried over)", ov.Ended)
	}
}

func TestMergeMerchantsValidation(t *testing.T) {
	ctx := context.Background()
	store := memory.New().Seed(monthlyTxns("Amazon", "a", 3, 1000)...)
	svc := NewCommitmentService(store)

	if _, err := svc.MergeMerchants(ctx, []string{"Amazon"}, "Amazon"); !core.IsValidation(err) {
		t.Errorf("single source: expected validation error, got %v", err)
	}
	if _, err := svc.MergeMerchants(ctx, []string{"Amazon", "Nobody"}, "Amazon"); !core.IsValidation(err) {
		t.Errorf("unknown source: expected validation error, got %v", err)
	}

	// Failed validation must leave the transactions untouched.
	ov, err := svc.Overview(ctx, detect.Options{})
	if err != nil {
		t.Fatalf("Overview: %v", err)
	}
	if len(ov.Active) != 1 || ov.Active[0].Occurrences != 3 {
		t.Errorf("active = %+v, want untouched Amazon group", ov.Active)
	}
}

func TestSplitMerchant(t *testing.T) {
	ctx := context.Background()
	store := memory.New().
		Seed(monthlyTxns("Amazon", "shop", 3, 4500)...).
		Seed(monthlyTxns("Amazon", "prime", 3, 499)...)
	svc := NewCommitmentService(store)

	updated, err := svc.SplitMerchant(ctx, []string{"primea", "primeb", "primec"}, "Amazon Prime")
	if err != nil {
		t.Fatalf("SplitMerchant: %v", err)
	}
	if updated != 3 {
		t.Errorf("reassigned = %d, want 3", updated)
	}

	ov, err := svc.Overview(ctx, detect.Options{})
	if err != nil {
		t.Fatalf("Overview: %v", err)
	}
	if len(ov.Active) != 2 {
		t.Fatalf("active = %+v, want two groups after split", ov.Active)
	}
	if ov.Active[0].Merchant != "Amazon" || ov.Active[1].Merchant != "Amazon Prime" {
		t.Errorf("merchants = %s, %s, want Amazon and Amazon Prime", ov.Active[0].Merchant, ov.Active[1].Merchant)
	}

	if _, err := svc.SplitMerchant(ctx, []string{"missing"}, "X"); !core.IsValidation(err) {
		t.Errorf("unknown id: expected validation error, got %v", err)
	}
}

func TestExcludeRestoreTransaction(t *testing.T) {
	ctx := context.Background()
	store := memory.New().Seed(monthlyTxns("Gym", "g", 3, 3000)...)
	svc := NewCommitmentService(store)

	if err := svc.ExcludeTransaction(ctx, "gc"); err != nil {
		t.Fatalf("ExcludeTransaction: %v", err)
	}
	ov, err := svc.Overview(ctx, detect.Options{})
	if err != nil {
		t.Fatalf("Overview: %v", err)
	}
	// Two remaining charges a month apart no longer qualify.
	if len(ov.Active) != 0 {
		t.Errorf("active after exclusion = %+v, want empty", ov.Active)
	}

	if err := svc.RestoreTransaction(ctx, "gc"); err != nil {
		t.Fatalf("RestoreTransaction: %v", err)
	}
	ov, err = svc.Overview(ctx, detect.Options{})
	if err != nil {
		t.Fatalf("Overview: %v", err)
	}
	if len(ov.Active) != 1 || ov.Active[0].Occurrences != 3 {
		t.Errorf("active after restore = %+v, want restored Gym group", ov.Active)
	}

	if err := svc.ExcludeTransaction(ctx, "missing"); !core.IsValidation(err) {
		t.Errorf("unknown id: expected validation error, got %v", err)
	}
}
