// Package worker runs the background side of the engine: consuming parsed
// statements from the import queue and periodically exporting a snapshot of
// active commitments.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"impegni/internal/amqp"
	"impegni/internal/core"
	"impegni/internal/detect"
	"impegni/internal/log"
	"impegni/internal/services"
)

// TransactionStore persists imported transactions.
type TransactionStore interface {
	InsertTransactions(ctx context.Context, txns []core.Transaction) (int64, error)
}

// Consumer delivers statement import messages.
type Consumer interface {
	ConsumeStatementImports(ctx context.Context, handler func(*amqp.StatementImportMessage) error) error
}

// SnapshotExporter receives the reconciled commitment overview.
type SnapshotExporter interface {
	ExportSnapshot(ctx context.Context, overview services.Overview) error
}

type IngestWorker struct {
	store          TransactionStore
	consumer       Consumer
	service        *services.CommitmentService
	exporter       SnapshotExporter // nil disables export
	exportInterval time.Duration
}

func NewIngestWorker(store TransactionStore, consumer Consumer, service *services.CommitmentService, exporter SnapshotExporter, exportInterval time.Duration) *IngestWorker {
	return &IngestWorker{
		store:          store,
		consumer:       consumer,
		service:        service,
		exporter:       exporter,
		exportInterval: exportInterval,
	}
}

// Run consumes the import queue and, when an exporter is configured, runs
// the export ticker alongside it. It returns when ctx is cancelled or
// either loop fails.
func (w *IngestWorker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := w.consumer.ConsumeStatementImports(ctx, w.HandleImport)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if w.exporter != nil {
		g.Go(func() error {
			ticker := time.NewTicker(w.exportInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					if err := w.exportSnapshot(ctx); err != nil {
						slog.ErrorContext(ctx, "Snapshot export failed", "error", err)
					}
				}
			}
		})
	}

	return g.Wait()
}

// HandleImport converts and stores the transactions of one statement.
// Payloads without an id get one assigned so re-deliveries of the same
// message stay idempotent downstream of that point.
func (w *IngestWorker) HandleImport(msg *amqp.StatementImportMessage) error {
	ctx := context.Background()

	txns := make([]core.Transaction, 0, len(msg.Transactions))
	for i, p := range msg.Transactions {
		t, err := ConvertPayload(p)
		if err != nil {
			return fmt.Errorf("statement %q transaction %d: %w", msg.StatementID, i, err)
		}
		txns = append(txns, t)
	}

	inserted, err := w.store.InsertTransactions(ctx, txns)
	if err != nil {
		return fmt.Errorf("store statement %q: %w", msg.StatementID, err)
	}

	slog.InfoContext(ctx, "Statement ingested",
		log.FieldComponent, log.ComponentWorker,
		log.FieldStatementID, msg.StatementID,
		log.FieldTxnCount, len(txns),
		"inserted", inserted)
	return nil
}

// ConvertPayload maps a queue payload to a domain transaction.
func ConvertPayload(p amqp.TransactionPayload) (core.Transaction, error) {
	date, err := core.ParseDate(p.Date)
	if err != nil {
		return core.Transaction{}, err
	}

	id := p.ID
	if id == "" {
		id = uuid.NewString()
	}

	t := core.Transaction{
		ID:            id,
		Date:          date,
		Description:   p.Description,
		Merchant:      p.Merchant,
		Amount:        core.Money{Cents: p.AmountCents},
		Direction:     core.Direction(p.Direction),
		Category:      p.Category,
		CategoryColor: p.CategoryColor,
	}
	if err := t.Validate(); err != nil {
		return core.Transaction{}, err
	}
	return t, nil
}

func (w *IngestWorker) exportSnapshot(ctx context.Context) error {
	overview, err := w.service.Overview(ctx, detect.Options{})
	if err != nil {
		return fmt.Errorf("compute overview: %w", err)
	}
	return w.exporter.ExportSnapshot(ctx, overview)
}
