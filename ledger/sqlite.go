package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/selk/catalogpub/encoding"
	"gitlab.com/tozd/go/errors"
)

const recordsTable = "stage_records"

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS stage_records (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	execution_id TEXT    NOT NULL,
	file_name    TEXT    NOT NULL,
	stage        TEXT    NOT NULL,
	status       TEXT    NOT NULL,
	recorded_at  INTEGER NOT NULL,
	details      BLOB
);
CREATE INDEX IF NOT EXISTS idx_stage_records_execution ON stage_records (execution_id, id);
CREATE INDEX IF NOT EXISTS idx_stage_records_recorded_at ON stage_records (recorded_at);
`

// SQLiteLedger stores records in a single SQLite table. Details are msgpack
// encoded and timestamps are Unix nanoseconds.
type SQLiteLedger struct {
	db      *sql.DB
	dialect goqu.DialectWrapper
	logger  zerolog.Logger
	closed  atomic.Bool
}

// NewSQLiteLedger opens or creates the database at path
func NewSQLiteLedger(path string, busyTimeoutMS int, logger zerolog.Logger) (*SQLiteLedger, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=%d", path, busyTimeoutMS)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Errorf("opening ledger database: %w", err)
	}
	// One writer; readers from the admin API share it
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, errors.Errorf("creating ledger schema: %w", err)
	}

	return &SQLiteLedger{
		db:      db,
		dialect: goqu.Dialect("sqlite3"),
		logger:  logger.With().Str("component", "ledger").Str("backend", "sqlite").Logger(),
	}, nil
}

// RecordStage implements Ledger
func (l *SQLiteLedger) RecordStage(ctx context.Context, rec StageRecord) error {
	if l.closed.Load() {
		return ErrClosed
	}
	if err := rec.Validate(); err != nil {
		return err
	}
	stamp(&rec)

	details, err := encoding.MarshalDetails(rec.Details)
	if err != nil {
		return errors.Errorf("encoding details: %w", err)
	}

	query, args, err := l.dialect.Insert(recordsTable).Rows(goqu.Record{
		"execution_id": rec.ExecutionID,
		"file_name":    rec.FileName,
		"stage":        string(rec.Stage),
		"status":       string(rec.Status),
		"recorded_at":  rec.Timestamp.UnixNano(),
		"details":      details,
	}).Prepared(true).ToSQL()
	if err != nil {
		return errors.Errorf("building insert: %w", err)
	}

	if _, err := l.db.ExecContext(ctx, query, args...); err != nil {
		return errors.Errorf("inserting stage record: %w", err)
	}
	return nil
}

// Records implements Ledger
func (l *SQLiteLedger) Records(ctx context.Context, executionID string) ([]StageRecord, error) {
	if l.closed.Load() {
		return nil, ErrClosed
	}

	query, args, err := l.dialect.From(recordsTable).
		Select("execution_id", "file_name", "stage", "status", "recorded_at", "details").
		Where(goqu.C("execution_id").Eq(executionID)).
		Order(goqu.C("id").Asc()).
		Prepared(true).ToSQL()
	if err != nil {
		return nil, errors.Errorf("building select: %w", err)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Errorf("querying stage records: %w", err)
	}
	defer rows.Close()

	records := make([]StageRecord, 0)
	for rows.Next() {
		var (
			rec        StageRecord
			stage      string
			status     string
			recordedAt int64
			details    []byte
		)
		if err := rows.Scan(&rec.ExecutionID, &rec.FileName, &stage, &status, &recordedAt, &details); err != nil {
			return nil, errors.Errorf("scanning stage record: %w", err)
		}

		rec.Stage = Stage(stage)
		rec.Status = Status(status)
		rec.Timestamp = time.Unix(0, recordedAt).UTC()
		rec.Details, err = encoding.UnmarshalDetails(details)
		if err != nil {
			l.logger.Warn().Err(err).Str("file", rec.FileName).Msg("Failed to decode stage details")
			rec.Details = map[string]string{}
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Errorf("reading stage records: %w", err)
	}
	return records, nil
}

// FilesToDelete implements Ledger
func (l *SQLiteLedger) FilesToDelete(ctx context.Context, executionID string) ([]DeletionCandidate, error) {
	records, err := l.Records(ctx, executionID)
	if err != nil {
		return nil, err
	}
	return Aggregate(executionID, records), nil
}

// Purge implements Ledger
func (l *SQLiteLedger) Purge(ctx context.Context, executionID, fileName string) error {
	if l.closed.Load() {
		return ErrClosed
	}

	query, args, err := l.dialect.Delete(recordsTable).
		Where(goqu.Ex{"execution_id": executionID, "file_name": fileName}).
		Prepared(true).ToSQL()
	if err != nil {
		return errors.Errorf("building delete: %w", err)
	}

	if _, err := l.db.ExecContext(ctx, query, args...); err != nil {
		return errors.Errorf("purging stage records: %w", err)
	}
	return nil
}

// Prune implements Ledger
func (l *SQLiteLedger) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	if l.closed.Load() {
		return 0, ErrClosed
	}

	query, args, err := l.dialect.Delete(recordsTable).
		Where(goqu.C("recorded_at").Lt(cutoff.UnixNano())).
		Prepared(true).ToSQL()
	if err != nil {
		return 0, errors.Errorf("building delete: %w", err)
	}

	res, err := l.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, errors.Errorf("pruning stage records: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Errorf("pruning stage records: %w", err)
	}
	return int(n), nil
}

// Close implements Ledger
func (l *SQLiteLedger) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	return l.db.Close()
}
