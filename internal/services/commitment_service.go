// Package services provides the commitment lifecycle manager: it reconciles
// freshly detected commitment groups against persisted status, override and
// exclusion records, and validates every user mutation of that state.
package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"impegni/internal/cache"
	"impegni/internal/core"
	"impegni/internal/detect"
	"impegni/internal/log"
)

// Store is the persistence collaborator of the lifecycle manager. Merge and
// transaction reassignment must be applied atomically by implementations.
type Store interface {
	ListDebitTransactions(ctx context.Context) ([]core.Transaction, error)
	ListStatusEntries(ctx context.Context) (map[string]core.StatusEntry, error)
	ListOverrides(ctx context.Context) (map[string]core.Override, error)
	ListExcludedTransactionIDs(ctx context.Context) (map[string]struct{}, error)

	MerchantExists(ctx context.Context, merchant string) (bool, error)
	// MissingTransactionIDs returns the subset of ids with no stored row.
	MissingTransactionIDs(ctx context.Context, ids []string) ([]string, error)

	UpsertStatus(ctx context.Context, entry core.StatusEntry) error
	DeleteStatus(ctx context.Context, merchant string) error
	UpsertOverride(ctx context.Context, ov core.Override) error
	DeleteOverride(ctx context.Context, merchant string) error

	// MergeMerchants rewrites the merchant of every transaction under the
	// source names to the target name and deletes status/override rows of
	// every source except the target, as one atomic unit.
	MergeMerchants(ctx context.Context, sources []string, target string) (int64, error)
	ReassignTransactions(ctx context.Context, ids []string, merchant string) (int64, error)

	AddExcludedTransaction(ctx context.Context, id string) error
	RemoveExcludedTransaction(ctx context.Context, id string) error
}

// Commitment is a detected group enriched with its reconciled lifecycle
// state and any applied overrides.
type Commitment struct {
	detect.CommitmentGroup
	Status                  core.CommitmentStatus `json:"status"`
	StatusChangedAt         *core.Date            `json:"statusChangedAt,omitempty"`
	Notes                   string                `json:"notes,omitempty"`
	UnexpectedActivity      bool                  `json:"unexpectedActivity,omitempty"`
	FrequencyOverridden     bool                  `json:"frequencyOverridden,omitempty"`
	MonthlyAmountOverridden bool                  `json:"monthlyAmountOverridden,omitempty"`
}

// Overview is the reconciled view of all detected commitments.
type Overview struct {
	Active            []Commitment `json:"active"`
	Ended             []Commitment `json:"ended"`
	ExcludedMerchants []Commitment `json:"excludedMerchants"`
}

// CommitmentService runs detection over the stored transactions and owns
// every lifecycle mutation.
type CommitmentService struct {
	store Store
	cache *cache.LRUCache[Overview]
	now   func() time.Time
}

const (
	overviewCacheSize = 16
	overviewCacheTTL  = 5 * time.Minute
)

func NewCommitmentService(store Store) *CommitmentService {
	return &CommitmentService{
		store: store,
		cache: cache.NewLRUCache[Overview](overviewCacheSize, overviewCacheTTL),
		now:   time.Now,
	}
}

// Overview loads the current transaction and lifecycle state, runs detection
// and returns the reconciled view. Results are cached keyed by a content
// hash of the inputs, so a stale entry can never be served: any change to
// the underlying data changes the key.
func (s *CommitmentService) Overview(ctx context.Context, opts detect.Options) (Overview, error) {
	txns, err := s.store.ListDebitTransactions(ctx)
	if err != nil {
		return Overview{}, fmt.Errorf("list transactions: %w", err)
	}
	statuses, err := s.store.ListStatusEntries(ctx)
	if err != nil {
		return Overview{}, fmt.Errorf("list status entries: %w", err)
	}
	overrides, err := s.store.ListOverrides(ctx)
	if err != nil {
		return Overview{}, fmt.Errorf("list overrides: %w", err)
	}
	excluded, err := s.store.ListExcludedTransactionIDs(ctx)
	if err != nil {
		return Overview{}, fmt.Errorf("list excluded transactions: %w", err)
	}

	key := fingerprintInputs(txns, statuses, overrides, excluded, opts)
	if cached, ok := s.cache.Get(key); ok {
		slog.DebugContext(ctx, "Serving commitments overview from cache", "fingerprint", key[:12])
		return cached, nil
	}

	if opts.ExcludedIDs == nil {
		opts.ExcludedIDs = excluded
	} else {
		merged := make(map[string]struct{}, len(excluded)+len(opts.ExcludedIDs))
		for id := range excluded {
			merged[id] = struct{}{}
		}
		for id := range opts.ExcludedIDs {
			merged[id] = struct{}{}
		}
		opts.ExcludedIDs = merged
	}

	groups := detect.Detect(txns, opts)
	overview := Reconcile(groups, statuses, overrides)

	s.cache.Set(key, overview)
	slog.InfoContext(ctx, "Commitments overview computed",
		"transactions", len(txns),
		"active", len(overview.Active),
		"ended", len(overview.Ended),
		"excluded_merchants", len(overview.ExcludedMerchants))
	return overview, nil
}

// Trend projects the active, post-override commitments onto a monthly
// timeline.
func (s *CommitmentService) Trend(ctx context.Context, opts detect.Options) ([]detect.TrendPoint, error) {
	overview, err := s.Overview(ctx, opts)
	if err != nil {
		return nil, err
	}
	groups := make([]detect.CommitmentGroup, 0, len(overview.Active))
	for _, c := range overview.Active {
		groups = append(groups, c.CommitmentGroup)
	}
	return detect.ComputeTrend(groups), nil
}

// Reconcile merges freshly detected groups with persisted lifecycle state.
// A not_recurring merchant moves to the excluded list, an ended merchant to
// the ended list (flagging charges after the declared end date as unexpected
// activity), everything else is active. Overrides apply after
// reconciliation: a monthly-amount override always wins; a frequency
// override alone recomputes the monthly amount with the overridden cadence
// substituted into the estimator. Overrides referencing merchants with no
// detected group are simply absent from the output.
//
// The function is pure and exported for callers that already hold the data;
// groups must come from detect.Detect.
func Reconcile(groups []detect.CommitmentGroup, statuses map[string]core.StatusEntry, overrides map[string]core.Override) Overview {
	statusByKey := lowerKeys(statuses)
	overrideByKey := lowerKeys(overrides)

	overview := Overview{
		Active:            []Commitment{},
		Ended:             []Commitment{},
		ExcludedMerchants: []Commitment{},
	}

	for _, g := range groups {
		key := strings.ToLower(g.Merchant)
		c := Commitment{CommitmentGroup: g, Status: core.StatusActive}

		if entry, ok := statusByKey[key]; ok {
			changedAt := entry.ChangedAt
			c.StatusChangedAt = &changedAt
			c.Notes = entry.Notes
			c.Status = entry.Status
		}

		if c.Status == core.StatusNotRecurring {
			overview.ExcludedMerchants = append(overview.ExcludedMerchants, c)
			continue
		}

		applyOverride(&c, overrideByKey[key])

		if c.Status == core.StatusEnded {
			if c.StatusChangedAt != nil && c.LastDate.After(c.StatusChangedAt.Time) {
				c.UnexpectedActivity = true
			}
			overview.Ended = append(overview.Ended, c)
			continue
		}
		overview.Active = append(overview.Active, c)
	}
	return overview
}

func applyOverride(c *Commitment, ov core.Override) {
	if ov.Frequency != nil {
		c.Frequency = *ov.Frequency
		c.EstimatedMonthlyAmount = c.MonthlyFor(*ov.Frequency)
		c.FrequencyOverridden = true
	}
	if ov.MonthlyAmountCents != nil {
		c.EstimatedMonthlyAmount = decimal.NewFromInt(*ov.MonthlyAmountCents).Div(decimal.NewFromInt(100)).Round(2)
		c.MonthlyAmountOverridden = true
	}
}

// SetStatus records the user-declared lifecycle state of a merchant.
// Setting active deletes the persisted entry, so a round trip through ended
// and back leaves no residual record.
func (s *CommitmentService) SetStatus(ctx context.Context, merchant string, status core.CommitmentStatus, notes string, changedAt core.Date) error {
	merchant = strings.TrimSpace(merchant)
	if merchant == "" {
		return core.Invalidf("empty merchant name")
	}
	if !status.Valid() {
		return core.Invalidf("invalid status %q", status)
	}
	if err := s.requireMerchant(ctx, merchant); err != nil {
		return err
	}

	if status == core.StatusActive {
		if err := s.store.DeleteStatus(ctx, merchant); err != nil {
			return fmt.Errorf("delete status: %w", err)
		}
		slog.InfoContext(ctx, "Commitment reactivated",
			log.FieldComponent, log.ComponentService, log.FieldMerchant, merchant)
		return nil
	}

	if changedAt.IsZero() {
		now := s.now()
		changedAt = core.NewDate(now.Year(), int(now.Month()), now.Day())
	}
	entry := core.StatusEntry{Merchant: merchant, Status: status, ChangedAt: changedAt, Notes: notes}
	if err := entry.Validate(); err != nil {
		return err
	}
	if err := s.store.UpsertStatus(ctx, entry); err != nil {
		return fmt.Errorf("upsert status: %w", err)
	}
	slog.InfoContext(ctx, "Commitment status updated",
		log.FieldComponent, log.ComponentService,
		log.FieldMerchant, merchant,
		log.FieldStatus, string(status),
		"changed_at", changedAt.String())
	return nil
}

// SetOverride stores a cadence and/or monthly-amount correction for a
// merchant. Passing both as nil removes any stored override.
func (s *CommitmentService) SetOverride(ctx context.Context, merchant string, frequency *core.Frequency, monthlyCents *int64) error {
	merchant = strings.TrimSpace(merchant)
	if merchant == "" {
		return core.Invalidf("empty merchant name")
	}
	if err := s.requireMerchant(ctx, merchant); err != nil {
		return err
	}

	if frequency == nil && monthlyCents == nil {
		if err := s.store.DeleteOverride(ctx, merchant); err != nil {
			return fmt.Errorf("delete override: %w", err)
		}
		slog.InfoContext(ctx, "Commitment override removed", "merchant", merchant)
		return nil
	}

	ov := core.Override{Merchant: merchant, Frequency: frequency, MonthlyAmountCents: monthlyCents}
	if err := ov.Validate(); err != nil {
		return err
	}
	if err := s.store.UpsertOverride(ctx, ov); err != nil {
		return fmt.Errorf("upsert override: %w", err)
	}
	slog.InfoContext(ctx, "Commitment override stored",
		"merchant", merchant,
		"has_frequency", frequency != nil,
		"has_monthly_amount", monthlyCents != nil)
	return nil
}

// MergeMerchants rewrites all transactions of the source merchants to the
// target name and deletes lifecycle rows of merged-away names. The store
// applies reassignment and cleanup as one atomic unit; a validation failure
// leaves everything untouched.
func (s *CommitmentService) MergeMerchants(ctx context.Context, sources []string, target string) (int64, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return 0, core.Invalidf("empty target merchant name")
	}
	cleaned := make([]string, 0, len(sources))
	for _, src := range sources {
		if src = strings.TrimSpace(src); src != "" {
			cleaned = append(cleaned, src)
		}
	}
	if len(cleaned) < 2 {
		return 0, core.Invalidf("merge requires at least 2 source merchants, got %d", len(cleaned))
	}
	for _, src := range cleaned {
		if err := s.requireMerchant(ctx, src); err != nil {
			return 0, err
		}
	}

	updated, err := s.store.MergeMerchants(ctx, cleaned, target)
	if err != nil {
		return 0, fmt.Errorf("merge merchants: %w", err)
	}
	slog.InfoContext(ctx, "Merchants merged",
		"sources", strings.Join(cleaned, ","), "target", target, "transactions", updated)
	return updated, nil
}

// SplitMerchant reassigns the given transactions to a new merchant name,
// leaving the original merchant's remaining transactions and lifecycle rows
// untouched.
func (s *CommitmentService) SplitMerchant(ctx context.Context, ids []string, newName string) (int64, error) {
	newName = strings.TrimSpace(newName)
	if newName == "" {
		return 0, core.Invalidf("empty merchant name")
	}
	cleaned := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			cleaned = append(cleaned, id)
		}
	}
	if len(cleaned) == 0 {
		return 0, core.Invalidf("split requires at least 1 transaction id")
	}
	if err := s.requireTransactions(ctx, cleaned); err != nil {
		return 0, err
	}

	updated, err := s.store.ReassignTransactions(ctx, cleaned, newName)
	if err != nil {
		return 0, fmt.Errorf("reassign transactions: %w", err)
	}
	slog.InfoContext(ctx, "Merchant split", "new_merchant", newName, "transactions", updated)
	return updated, nil
}

// ExcludeTransaction removes one transaction from all future detection runs
// without touching its merchant's status or override.
func (s *CommitmentService) ExcludeTransaction(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return core.Invalidf("empty transaction id")
	}
	if err := s.requireTransactions(ctx, []string{id}); err != nil {
		return err
	}
	if err := s.store.AddExcludedTransaction(ctx, id); err != nil {
		return fmt.Errorf("exclude transaction: %w", err)
	}
	slog.InfoContext(ctx, "Transaction excluded from detection", "transaction_id", id)
	return nil
}

// RestoreTransaction returns a previously excluded transaction to the
// detection input.
func (s *CommitmentService) RestoreTransaction(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return core.Invalidf("empty transaction id")
	}
	if err := s.requireTransactions(ctx, []string{id}); err != nil {
		return err
	}
	if err := s.store.RemoveExcludedTransaction(ctx, id); err != nil {
		return fmt.Errorf("restore transaction: %w", err)
	}
	slog.InfoContext(ctx, "Transaction restored to detection", "transaction_id", id)
	return nil
}

func (s *CommitmentService) requireMerchant(ctx context.Context, merchant string) error {
	exists, err := s.store.MerchantExists(ctx, merchant)
	if err != nil {
		return fmt.Errorf("look up merchant: %w", err)
	}
	if !exists {
		return core.Invalidf("unknown merchant %q", merchant)
	}
	return nil
}

func (s *CommitmentService) requireTransactions(ctx context.Context, ids []string) error {
	missing, err := s.store.MissingTransactionIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("look up transactions: %w", err)
	}
	if len(missing) > 0 {
		return core.Invalidf("unknown transaction id %q", missing[0])
	}
	return nil
}

// fingerprintInputs builds the content-hash cache key over everything the
// overview depends on: transaction identity rows, lifecycle state and the
// request's date bounds and exclusion set.
func fingerprintInputs(txns []core.Transaction, statuses map[string]core.StatusEntry, overrides map[string]core.Override, excluded map[string]struct{}, opts detect.Options) string {
	lines := make([]string, 0, len(txns)+len(statuses)+len(overrides)+len(excluded)+1)
	for _, t := range txns {
		lines = append(lines, fmt.Sprintf("tx|%s|%s|%d|%s", t.ID, t.Date.String(), t.Amount.Cents, t.Merchant))
	}
	for _, k := range sortedKeys(statuses) {
		e := statuses[k]
		lines = append(lines, fmt.Sprintf("st|%s|%s|%s|%s", k, e.Status, e.ChangedAt.String(), e.Notes))
	}
	for _, k := range sortedKeys(overrides) {
		ov := overrides[k]
		freq := ""
		if ov.Frequency != nil {
			freq = string(*ov.Frequency)
		}
		cents := ""
		if ov.MonthlyAmountCents != nil {
			cents = fmt.Sprintf("%d", *ov.MonthlyAmountCents)
		}
		lines = append(lines, fmt.Sprintf("ov|%s|%s|%s", k, freq, cents))
	}
	for _, k := range sortedKeys(excluded) {
		lines = append(lines, "ex|"+k)
	}
	for _, k := range sortedKeys(opts.ExcludedIDs) {
		lines = append(lines, "reqex|"+k)
	}
	lines = append(lines, fmt.Sprintf("range|%s|%s", opts.From.String(), opts.To.String()))
	return cache.Fingerprint(lines)
}

func lowerKeys[V any](m map[string]V) map[string]V {
	out := make(map[string]V, len(m))
	for k, v := range m {
		out[strings.ToLower(k)] = v
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
