// Package storage persists transactions and commitment lifecycle records in
// SQLite. Detection output is never stored: groups are recomputed from the
// transaction rows on every run.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"impegni/internal/core"

	_ "modernc.org/sqlite"
)

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// InsertTransactions stores a batch of imported transactions, skipping ids
// that already exist (statement re-imports are idempotent). Returns the
// number of new rows.
func (r *SQLiteRepository) InsertTransactions(ctx context.Context, txns []core.Transaction) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO transactions (id, date, description, merchant, amount_cents, direction, category, category_color)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`)
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	var inserted int64
	for _, t := range txns {
		if err := t.Validate(); err != nil {
			return 0, fmt.Errorf("invalid transaction %q: %w", t.ID, err)
		}
		res, err := stmt.ExecContext(ctx,
			t.ID,
			t.Date.String(),
			t.Description,
			nullable(t.Merchant),
			t.Amount.Cents,
			string(t.Direction),
			nullable(t.Category),
			nullable(t.CategoryColor),
		)
		if err != nil {
			return 0, fmt.Errorf("insert transaction %q: %w", t.ID, err)
		}
		n, _ := res.RowsAffected()
		inserted += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}

	slog.InfoContext(ctx, "Transactions stored", "received", len(txns), "inserted", inserted)
	return inserted, nil
}

// ListDebitTransactions returns the detection input: every debit with a
// normalized merchant, ordered by date then id so detection is
// deterministic.
func (r *SQLiteRepository) ListDebitTransactions(ctx context.Context) ([]core.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, date, description, merchant, amount_cents, direction, category, category_color
		FROM transactions
		WHERE direction = 'debit' AND merchant IS NOT NULL AND merchant <> ''
		ORDER BY date, id`)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var txns []core.Transaction
	for rows.Next() {
		var (
			t                         core.Transaction
			dateStr, direction        string
			merchant, category, color sql.NullString
		)
		if err := rows.Scan(&t.ID, &dateStr, &t.Description, &merchant, &t.Amount.Cents, &direction, &category, &color); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		date, err := core.ParseDate(dateStr)
		if err != nil {
			return nil, fmt.Errorf("transaction %q: %w", t.ID, err)
		}
		t.Date = date
		t.Direction = core.Direction(direction)
		t.Merchant = merchant.String
		t.Category = category.String
		t.CategoryColor = color.String
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

func (r *SQLiteRepository) ListStatusEntries(ctx context.Context) (map[string]core.StatusEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT merchant, status, status_changed_at, notes FROM commitment_status`)
	if err != nil {
		return nil, fmt.Errorf("query status entries: %w", err)
	}
	defer rows.Close()

	entries := make(map[string]core.StatusEntry)
	for rows.Next() {
		var (
			e               core.StatusEntry
			status, dateStr string
			notes           sql.NullString
		)
		if err := rows.Scan(&e.Merchant, &status, &dateStr, &notes); err != nil {
			return nil, fmt.Errorf("scan status entry: %w", err)
		}
		changedAt, err := core.ParseDate(dateStr)
		if err != nil {
			return nil, fmt.Errorf("status entry %q: %w", e.Merchant, err)
		}
		e.Status = core.CommitmentStatus(status)
		e.ChangedAt = changedAt
		e.Notes = notes.String
		entries[e.Merchant] = e
	}
	return entries, rows.Err()
}

func (r *SQLiteRepository) ListOverrides(ctx context.Context) (map[string]core.Override, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT merchant, frequency, monthly_amount_cents FROM commitment_overrides`)
	if err != nil {
		return nil, fmt.Errorf("query overrides: %w", err)
	}
	defer rows.Close()

	overrides := make(map[string]core.Override)
	for rows.Next() {
		var (
			ov    core.Override
			freq  sql.NullString
			cents sql.NullInt64
		)
		if err := rows.Scan(&ov.Merchant, &freq, &cents); err != nil {
			return nil, fmt.Errorf("scan override: %w", err)
		}
		if freq.Valid {
			f := core.Frequency(freq.String)
			ov.Frequency = &f
		}
		if cents.Valid {
			v := cents.Int64
			ov.MonthlyAmountCents = &v
		}
		overrides[ov.Merchant] = ov
	}
	return overrides, rows.Err()
}

func (r *SQLiteRepository) ListExcludedTransactionIDs(ctx context.Context) (map[string]struct{}, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT transaction_id FROM excluded_commitment_transactions`)
	if err != nil {
		return nil, fmt.Errorf("query excluded transactions: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan excluded transaction: %w", err)
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

// MerchantExists reports whether any transaction carries the merchant name,
// compared case-insensitively.
func (r *SQLiteRepository) MerchantExists(ctx context.Context, merchant string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM transactions WHERE merchant = ?)`, merchant).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query merchant: %w", err)
	}
	return exists, nil
}

func (r *SQLiteRepository) MissingTransactionIDs(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`SELECT id FROM transactions WHERE id IN (%s)`, placeholders(len(ids)))
	rows, err := r.db.QueryContext(ctx, query, toArgs(ids)...)
	if err != nil {
		return nil, fmt.Errorf("query transaction ids: %w", err)
	}
	defer rows.Close()

	found := make(map[string]struct{}, len(ids))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan transaction id: %w", err)
		}
		found[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var missing []string
	for _, id := range ids {
		if _, ok := found[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

func (r *SQLiteRepository) UpsertStatus(ctx context.Context, entry core.StatusEntry) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO commitment_status (merchant, status, status_changed_at, notes)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (merchant) DO UPDATE SET
			status = excluded.status,
			status_changed_at = excluded.status_changed_at,
			notes = excluded.notes`,
		entry.Merchant, string(entry.Status), entry.ChangedAt.String(), nullable(entry.Notes))
	if err != nil {
		return fmt.Errorf("upsert status: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) DeleteStatus(ctx context.Context, merchant string) error {
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM commitment_status WHERE merchant = ?`, merchant); err != nil {
		return fmt.Errorf("delete status: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) UpsertOverride(ctx context.Context, ov core.Override) error {
	var freq any
	if ov.Frequency != nil {
		freq = string(*ov.Frequency)
	}
	var cents any
	if ov.MonthlyAmountCents != nil {
		cents = *ov.MonthlyAmountCents
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO commitment_overrides (merchant, frequency, monthly_amount_cents)
		VALUES (?, ?, ?)
		ON CONFLICT (merchant) DO UPDATE SET
			frequency = excluded.frequency,
			monthly_amount_cents = excluded.monthly_amount_cents`,
		ov.Merchant, freq, cents)
	if err != nil {
		return fmt.Errorf("upsert override: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) DeleteOverride(ctx context.Context, merchant string) error {
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM commitment_overrides WHERE merchant = ?`, merchant); err != nil {
		return fmt.Errorf("delete override: %w", err)
	}
	return nil
}

// MergeMerchants reattributes every transaction of the source merchants to
// the target name (exact casing) and deletes lifecycle rows of every source
// other than the target. Reassignment and cleanup commit together: a merge
// can never leave orphaned status rows behind.
func (r *SQLiteRepository) MergeMerchants(ctx context.Context, sources []string, target string) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	in := placeholders(len(sources))
	args := append([]any{target}, toArgs(sources)...)
	res, err := tx.ExecContext(ctx,
		fmt.Sprintf(`UPDATE transactions SET merchant = ? WHERE merchant IN (%s)`, in), args...)
	if err != nil {
		return 0, fmt.Errorf("reassign transactions: %w", err)
	}
	updated, _ := res.RowsAffected()

	cleanupArgs := append(toArgs(sources), target)
	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM commitment_status WHERE merchant IN (%s) AND merchant <> ?`, in), cleanupArgs...); err != nil {
		return 0, fmt.Errorf("clean up status rows: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM commitment_overrides WHERE merchant IN (%s) AND merchant <> ?`, in), cleanupArgs...); err != nil {
		return 0, fmt.Errorf("clean up override rows: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}

	slog.InfoContext(ctx, "Merchants merged in storage",
		"sources", strings.Join(sources, ","), "target", target, "transactions", updated)
	return updated, nil
}

// ReassignTransactions moves the given transactions to a new merchant name
// in one statement.
func (r *SQLiteRepository) ReassignTransactions(ctx context.Context, ids []string, merchant string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := append([]any{merchant}, toArgs(ids)...)
	res, err := r.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE transactions SET merchant = ? WHERE id IN (%s)`, placeholders(len(ids))), args...)
	if err != nil {
		return 0, fmt.Errorf("reassign transactions: %w", err)
	}
	updated, _ := res.RowsAffected()
	return updated, nil
}

func (r *SQLiteRepository) AddExcludedTransaction(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO excluded_commitment_transactions (transaction_id)
		VALUES (?) ON CONFLICT (transaction_id) DO NOTHING`, id); err != nil {
		return fmt.Errorf("add excluded transaction: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) RemoveExcludedTransaction(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM excluded_commitment_transactions WHERE transaction_id = ?`, id); err != nil {
		return fmt.Errorf("remove excluded transaction: %w", err)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func toArgs(values []string) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}
