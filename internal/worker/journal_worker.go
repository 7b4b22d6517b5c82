// Package worker turns expense change events into journal entries.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"familybudget/internal/amqp"
	"familybudget/internal/cache"
	"familybudget/internal/log"
	"familybudget/internal/storage"
)

const dedupeCapacity = 10_000

// Journal persists activity entries.
type Journal interface {
	Record(ctx context.Context, a storage.Activity) (bool, error)
}

// Stats counts what the worker did since it started.
type Stats struct {
	Recorded   int64
	Duplicates int64
	Failed     int64
}

// JournalWorker records each change event once. Redeliveries seen within
// the dedupe window are acknowledged without touching the journal.
type JournalWorker struct {
	journal Journal
	seen    *cache.LRUCache[struct{}]
	logger  *log.Logger

	recorded   atomic.Int64
	duplicates atomic.Int64
	failed     atomic.Int64
}

func NewJournalWorker(journal Journal, dedupeTTL time.Duration, logger *log.Logger) *JournalWorker {
	if logger == nil {
		logger = log.Discard()
	}
	return &JournalWorker{
		journal: journal,
		seen:    cache.NewLRUCache[struct{}](dedupeCapacity, dedupeTTL),
		logger:  logger.WithComponent(log.ComponentWorker),
	}
}

// HandleExpenseChanged processes a single change message from AMQP. A
// returned error makes the consumer requeue the message.
func (w *JournalWorker) HandleExpenseChanged(ctx context.Context, msg *amqp.ExpenseChangedMessage) error {
	if msg == nil || msg.EventID == "" {
		return errors.New("message has no event id")
	}

	if !w.seen.Add(msg.EventID, struct{}{}) {
		w.duplicates.Add(1)
		w.logger.DebugContext(ctx, "Skipping duplicate event", log.FieldEventID, msg.EventID)
		return nil
	}

	inserted, err := w.journal.Record(ctx, storage.Activity{
		EventID:    msg.EventID,
		Operation:  msg.Operation,
		ExpenseID:  msg.ExpenseID,
		Status:     msg.Status,
		OccurredAt: msg.OccurredAt,
	})
	if err != nil {
		// Forget the event so the redelivery is attempted again.
		w.seen.Delete(msg.EventID)
		w.failed.Add(1)
		if errors.Is(err, storage.ErrInvalidActivity) {
			w.logger.WarnContext(ctx, "Dropping invalid event", log.FieldEventID, msg.EventID, log.FieldError, err)
			return nil
		}
		return fmt.Errorf("record event %s: %w", msg.EventID, err)
	}

	if !inserted {
		// Already journaled, e.g. a redelivery after the dedupe window.
		w.duplicates.Add(1)
		w.logger.DebugContext(ctx, "Event already in journal", log.FieldEventID, msg.EventID)
		return nil
	}

	w.recorded.Add(1)
	w.logger.InfoContext(ctx, "Expense change journaled",
		log.FieldEventID, msg.EventID,
		log.FieldOperation, msg.Operation,
		log.FieldExpenseID, msg.ExpenseID)
	return nil
}

// DedupeCache exposes the dedupe window for periodic cleanup.
func (w *JournalWorker) DedupeCache() cache.Cleaner {
	return w.seen
}

// Stats returns the current counters.
func (w *JournalWorker) Stats() Stats {
	return Stats{
		Recorded:   w.recorded.Load(),
		Duplicates: w.duplicates.Load(),
		Failed:     w.failed.Load(),
	}
}
