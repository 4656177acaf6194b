// Package memory provides an in-memory Store implementation with the same
// semantics as the SQLite repository, used in tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"impegni/internal/core"
)

type Store struct {
	mu        sync.Mutex
	txns      map[string]core.Transaction
	statuses  map[string]core.StatusEntry // keyed by lowercase merchant
	overrides map[string]core.Override    // keyed by lowercase merchant
	excluded  map[string]struct{}
}

func New() *Store {
	return &Store{
		txns:      make(map[string]core.Transaction),
		statuses:  make(map[string]core.StatusEntry),
		overrides: make(map[string]core.Override),
		excluded:  make(map[string]struct{}),
	}
}

// Seed inserts transactions without validation bookkeeping, for test setup.
func (s *Store) Seed(txns ...core.Transaction) *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range txns {
		s.txns[t.ID] = t
	}
	return s
}

func (s *Store) InsertTransactions(_ context.Context, txns []core.Transaction) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var inserted int64
	for _, t := range txns {
		if err := t.Validate(); err != nil {
			return 0, err
		}
		if _, ok := s.txns[t.ID]; ok {
			continue
		}
		s.txns[t.ID] = t
		inserted++
	}
	return inserted, nil
}

func (s *Store) ListDebitTransactions(_ context.Context) ([]core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Transaction
	for _, t := range s.txns {
		if t.Direction == core.DirectionDebit && t.Merchant != "" {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date.Time) {
			return out[i].Date.Before(out[j].Date.Time)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) ListStatusEntries(_ context.Context) (map[string]core.StatusEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]core.StatusEntry, len(s.statuses))
	for _, e := range s.statuses {
		out[e.Merchant] = e
	}
	return out, nil
}

func (s *Store) ListOverrides(_ context.Context) (map[string]core.Override, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]core.Override, len(s.overrides))
	for _, ov := range s.overrides {
		out[ov.Merchant] = ov
	}
	return out, nil
}

func (s *Store) ListExcludedTransactionIDs(_ context.Context) (map[string]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]struct{}, len(s.excluded))
	for id := range s.excluded {
		out[id] = struct{}{}
	}
	return out, nil
}

func (s *Store) MerchantExists(_ context.Context, merchant string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(merchant)
	for _, t := range s.txns {
		if strings.ToLower(t.Merchant) == key {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) MissingTransactionIDs(_ context.Context, ids []string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var missing []string
	for _, id := range ids {
		if _, ok := s.txns[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

func (s *Store) UpsertStatus(_ context.Context, entry core.StatusEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[strings.ToLower(entry.Merchant)] = entry
	return nil
}

func (s *Store) DeleteStatus(_ context.Context, merchant string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.statuses, strings.ToLower(merchant))
	return nil
}

func (s *Store) UpsertOverride(_ context.Context, ov core.Override) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides[strings.ToLower(ov.Merchant)] = ov
	return nil
}

func (s *Store) DeleteOverride(_ context.Context, merchant string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.overrides, strings.ToLower(merchant))
	return nil
}

func (s *Store) MergeMerchants(_ context.Context, sources []string, target string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sourceKeys := make(map[string]struct{}, len(sources))
	for _, src := range sources {
		sourceKeys[strings.ToLower(src)] = struct{}{}
	}

	var updated int64
	for id, t := range s.txns {
		if _, ok := sourceKeys[strings.ToLower(t.Merchant)]; ok {
			t.Merchant = target
			s.txns[id] = t
			updated++
		}
	}

	targetKey := strings.ToLower(target)
	for key := range sourceKeys {
		if key == targetKey {
			continue
		}
		delete(s.statuses, key)
		delete(s.overrides, key)
	}
	return updated, nil
}

func (s *Store) ReassignTransactions(_ context.Context, ids []string, merchant string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var updated int64
	for _, id := range ids {
		t, ok := s.txns[id]
		if !ok {
			continue
		}
		t.Merchant = merchant
		s.txns[id] = t
		updated++
	}
	return updated, nil
}

func (s *Store) AddExcludedTransaction(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.excluded[id] = struct{}{}
	return nil
}

func (s *Store) RemoveExcludedTransaction(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.excluded, id)
	return nil
}

// StatusCount reports persisted status rows, for assertions in tests.
func (s *Store) StatusCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.statuses)
}

// OverrideCount reports persisted override rows, for assertions in tests.
func (s *Store) OverrideCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.overrides)
}
