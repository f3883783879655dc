package ledger

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// MemoryLedger keeps records in process memory. It is used for dry runs and
// tests; everything is lost on exit.
type MemoryLedger struct {
	// executionID -> records in write order. Slices are replaced, never
	// mutated in place, so readers can hold them without locking.
	executions *xsync.MapOf[string, []StageRecord]
	closed     atomic.Bool
}

// NewMemoryLedger creates an empty ledger
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		executions: xsync.NewMapOf[string, []StageRecord](),
	}
}

// RecordStage implements Ledger
func (l *MemoryLedger) RecordStage(ctx context.Context, rec StageRecord) error {
	if l.closed.Load() {
		return ErrClosed
	}
	if err := rec.Validate(); err != nil {
		return err
	}
	stamp(&rec)
	rec.Details = copyDetails(rec.Details)

	l.executions.Compute(rec.ExecutionID, func(old []StageRecord, loaded bool) ([]StageRecord, bool) {
		next := make([]StageRecord, len(old), len(old)+1)
		copy(next, old)
		return append(next, rec), false
	})
	return nil
}

// Records implements Ledger
func (l *MemoryLedger) Records(ctx context.Context, executionID string) ([]StageRecord, error) {
	if l.closed.Load() {
		return nil, ErrClosed
	}

	records, _ := l.executions.Load(executionID)
	out := make([]StageRecord, len(records))
	copy(out, records)
	return out, nil
}

// FilesToDelete implements Ledger
func (l *MemoryLedger) FilesToDelete(ctx context.Context, executionID string) ([]DeletionCandidate, error) {
	records, err := l.Records(ctx, executionID)
	if err != nil {
		return nil, err
	}
	return Aggregate(executionID, records), nil
}

// Purge implements Ledger
func (l *MemoryLedger) Purge(ctx context.Context, executionID, fileName string) error {
	if l.closed.Load() {
		return ErrClosed
	}

	l.filter(executionID, func(rec StageRecord) bool { return rec.FileName != fileName })
	return nil
}

// Prune implements Ledger
func (l *MemoryLedger) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	if l.closed.Load() {
		return 0, ErrClosed
	}

	var keys []string
	l.executions.Range(func(key string, _ []StageRecord) bool {
		keys = append(keys, key)
		return true
	})

	removed := 0
	for _, key := range keys {
		removed += l.filter(key, func(rec StageRecord) bool { return !rec.Timestamp.Before(cutoff) })
	}
	return removed, nil
}

// filter keeps the records of executionID for which keep is true and returns
// the number dropped. Empty executions are removed.
func (l *MemoryLedger) filter(executionID string, keep func(StageRecord) bool) int {
	dropped := 0
	l.executions.Compute(executionID, func(old []StageRecord, loaded bool) ([]StageRecord, bool) {
		next := make([]StageRecord, 0, len(old))
		for _, rec := range old {
			if keep(rec) {
				next = append(next, rec)
			}
		}
		dropped = len(old) - len(next)
		return next, len(next) == 0
	})
	return dropped
}

// Close implements Ledger
func (l *MemoryLedger) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	l.executions.Clear()
	return nil
}

func copyDetails(details map[string]string) map[string]string {
	out := make(map[string]string, len(details))
	for k, v := range details {
		out[k] = v
	}
	return out
}
