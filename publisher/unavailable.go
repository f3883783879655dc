package publisher

import (
	"context"
	"time"

	"github.com/selk/catalogpub/ledger"
	"gitlab.com/tozd/go/errors"
)

// UnavailableSink stands in for a destination whose client could not be
// built. Every attempt fails so the stage is recorded as an error and the
// file stays in the source folder.
type UnavailableSink struct {
	stage  ledger.Stage
	reason error
}

// NewUnavailableSink returns a sink for stage that always fails with reason
func NewUnavailableSink(stage ledger.Stage, reason error) *UnavailableSink {
	return &UnavailableSink{stage: stage, reason: reason}
}

func (s *UnavailableSink) Stage() ledger.Stage {
	return s.stage
}

func (s *UnavailableSink) Publish(context.Context, Item) (Receipt, error) {
	if s.reason == nil {
		return Receipt{}, ErrTransportUnavailable
	}
	return Receipt{}, errors.Errorf("%w: %w", ErrTransportUnavailable, s.reason)
}

func (s *UnavailableSink) Close() error {
	return nil
}

// UnavailableLedger stands in for a ledger backend that could not be opened.
// Runs still publish, but no outcome is recorded so nothing is deleted.
type UnavailableLedger struct {
	reason error
}

var _ ledger.Ledger = (*UnavailableLedger)(nil)

// NewUnavailableLedger returns a ledger whose every call fails with reason
func NewUnavailableLedger(reason error) *UnavailableLedger {
	return &UnavailableLedger{reason: reason}
}

func (l *UnavailableLedger) err() error {
	if l.reason == nil {
		return ErrLedgerUnavailable
	}
	return errors.Errorf("%w: %w", ErrLedgerUnavailable, l.reason)
}

func (l *UnavailableLedger) RecordStage(context.Context, ledger.StageRecord) error {
	return l.err()
}

func (l *UnavailableLedger) Records(context.Context, string) ([]ledger.StageRecord, error) {
	return nil, l.err()
}

func (l *UnavailableLedger) FilesToDelete(context.Context, string) ([]ledger.DeletionCandidate, error) {
	return nil, l.err()
}

func (l *UnavailableLedger) Purge(context.Context, string, string) error {
	return l.err()
}

func (l *UnavailableLedger) Prune(context.Context, time.Time) (int, error) {
	return 0, l.err()
}

func (l *UnavailableLedger) Close() error {
	return nil
}
