package ledger

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/rs/zerolog"
	"github.com/selk/catalogpub/encoding"
	"gitlab.com/tozd/go/errors"
)

// Key layout
const (
	prefixRecord = "/ledger/"   // /ledger/{executionID}/{16-digit-hex-seq}
	keySeq       = "/ledgerseq" // uint64, last assigned sequence
)

// Pebble tuning. The ledger sees a few writes per file per run, so the
// defaults are sized well below a write-heavy log.
const (
	memTableSize             = 4 << 20
	l0CompactionThreshold    = 2
	maxConcurrentCompactions = 1
)

// PebbleLedger stores records in an embedded Pebble database. Keys are
// grouped by execution and ordered by a monotonic sequence so records come
// back in write order.
type PebbleLedger struct {
	db     *pebble.DB
	path   string
	logger zerolog.Logger

	// Serializes sequence reservation with the batch that persists it
	writeMu sync.Mutex
	lastSeq atomic.Uint64

	closed atomic.Bool
}

// NewPebbleLedger opens or creates a ledger under dataDir/ledger
func NewPebbleLedger(dataDir string, logger zerolog.Logger) (*PebbleLedger, error) {
	path := filepath.Join(dataDir, "ledger")

	opts := &pebble.Options{
		MemTableSize:             memTableSize,
		L0CompactionThreshold:    l0CompactionThreshold,
		MaxConcurrentCompactions: func() int { return maxConcurrentCompactions },
	}

	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, errors.Errorf("opening ledger at %s: %w", path, err)
	}

	l := &PebbleLedger{
		db:     db,
		path:   path,
		logger: logger.With().Str("component", "ledger").Str("backend", "pebble").Logger(),
	}

	if err := l.loadLastSeq(); err != nil {
		db.Close()
		return nil, errors.Errorf("loading ledger sequence: %w", err)
	}

	return l, nil
}

func (l *PebbleLedger) loadLastSeq() error {
	val, closer, err := l.db.Get([]byte(keySeq))
	if err == pebble.ErrNotFound {
		l.lastSeq.Store(0)
		return nil
	}
	if err != nil {
		return err
	}
	defer closer.Close()

	if len(val) != 8 {
		return errors.Errorf("invalid sequence value length: %d", len(val))
	}
	l.lastSeq.Store(binary.LittleEndian.Uint64(val))
	return nil
}

// RecordStage implements Ledger
func (l *PebbleLedger) RecordStage(ctx context.Context, rec StageRecord) error {
	if l.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := rec.Validate(); err != nil {
		return err
	}
	stamp(&rec)

	val, err := encoding.Marshal(&rec)
	if err != nil {
		return errors.Errorf("encoding stage record: %w", err)
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	seq := l.lastSeq.Load() + 1

	batch := l.db.NewBatch()
	defer batch.Close()

	if err := batch.Set(recordKey(rec.ExecutionID, seq), val, nil); err != nil {
		return errors.Errorf("writing stage record: %w", err)
	}
	seqBuf := make([]byte, 8)
	binary.LittleEndian.PutUint64(seqBuf, seq)
	if err := batch.Set([]byte(keySeq), seqBuf, nil); err != nil {
		return errors.Errorf("writing ledger sequence: %w", err)
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return errors.Errorf("committing stage record: %w", err)
	}

	// Advance only after the batch is durable
	l.lastSeq.Store(seq)
	return nil
}

// Records implements Ledger
func (l *PebbleLedger) Records(ctx context.Context, executionID string) ([]StageRecord, error) {
	if l.closed.Load() {
		return nil, ErrClosed
	}

	records := make([]StageRecord, 0)
	err := l.scan(ctx, executionPrefix(executionID), func(key []byte, rec StageRecord) error {
		records = append(records, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// FilesToDelete implements Ledger
func (l *PebbleLedger) FilesToDelete(ctx context.Context, executionID string) ([]DeletionCandidate, error) {
	records, err := l.Records(ctx, executionID)
	if err != nil {
		return nil, err
	}
	return Aggregate(executionID, records), nil
}

// Purge implements Ledger
func (l *PebbleLedger) Purge(ctx context.Context, executionID, fileName string) error {
	if l.closed.Load() {
		return ErrClosed
	}

	return l.deleteWhere(ctx, executionPrefix(executionID), func(rec StageRecord) bool {
		return rec.FileName == fileName
	}, nil)
}

// Prune implements Ledger
func (l *PebbleLedger) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	if l.closed.Load() {
		return 0, ErrClosed
	}

	removed := 0
	err := l.deleteWhere(ctx, []byte(prefixRecord), func(rec StageRecord) bool {
		return rec.Timestamp.Before(cutoff)
	}, &removed)
	if err != nil {
		return 0, err
	}

	if removed > 0 {
		l.logger.Debug().Int("removed", removed).Time("cutoff", cutoff).Msg("Pruned ledger records")
	}
	return removed, nil
}

// deleteWhere removes records under prefix matching fn in a single batch
func (l *PebbleLedger) deleteWhere(ctx context.Context, prefix []byte, fn func(StageRecord) bool, count *int) error {
	batch := l.db.NewBatch()
	defer batch.Close()

	n := 0
	err := l.scan(ctx, prefix, func(key []byte, rec StageRecord) error {
		if !fn(rec) {
			return nil
		}
		n++
		return batch.Delete(bytes.Clone(key), nil)
	})
	if err != nil {
		return err
	}
	if count != nil {
		*count = n
	}
	if n == 0 {
		return nil
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return errors.Errorf("committing ledger delete: %w", err)
	}
	return nil
}

func (l *PebbleLedger) scan(ctx context.Context, prefix []byte, fn func(key []byte, rec StageRecord) error) error {
	iter, err := l.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}

		val, err := iter.ValueAndErr()
		if err != nil {
			return err
		}

		var rec StageRecord
		if err := encoding.Unmarshal(val, &rec); err != nil {
			// Skip corrupted entries rather than failing the whole execution
			l.logger.Warn().Err(err).Str("key", string(iter.Key())).Msg("Failed to decode stage record")
			continue
		}

		if err := fn(iter.Key(), rec); err != nil {
			return err
		}
	}

	return iter.Error()
}

// Close implements Ledger
func (l *PebbleLedger) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	return l.db.Close()
}

func executionPrefix(executionID string) []byte {
	return []byte(prefixRecord + executionID + "/")
}

func recordKey(executionID string, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s/%016x", prefixRecord, executionID, seq))
}

// prefixUpperBound returns the exclusive upper bound for a prefix scan
func prefixUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end
		}
	}
	return nil
}
