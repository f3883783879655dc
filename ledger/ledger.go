// Package ledger persists per-file, per-stage publication outcomes and
// answers which files of an execution are safe to delete from the source.
//
// Records are append-only. A file is deletable for an execution only when a
// success record exists for every stage under that execution ID. Records from
// other executions never count.
package ledger

import (
	"context"
	"strings"
	"time"

	"gitlab.com/tozd/go/errors"
)

// Stage identifies a publication destination
type Stage string

// Publication stages
const (
	StageLocal  Stage = "local"  // Mirror folder on the file share
	StageCloud  Stage = "cloud"  // Cloud storage folder
	StageRemote Stage = "remote" // FTP server
)

// AllStages is every stage a file must pass, in pipeline order
var AllStages = []Stage{StageLocal, StageCloud, StageRemote}

// Valid reports whether s is a known stage
func (s Stage) Valid() bool {
	switch s {
	case StageLocal, StageCloud, StageRemote:
		return true
	}
	return false
}

// Status is the outcome of one stage attempt
type Status string

// Stage outcomes
const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

var (
	// ErrClosed is returned by every operation after Close
	ErrClosed = errors.Base("ledger is closed")

	// ErrInvalidRecord is returned when a record is missing identifying fields
	ErrInvalidRecord = errors.Base("invalid stage record")
)

// StageRecord is one stage attempt for one file in one execution
type StageRecord struct {
	ExecutionID string            `msgpack:"exec" json:"execution_id"`
	FileName    string            `msgpack:"file" json:"file_name"`
	Stage       Stage             `msgpack:"stage" json:"stage"`
	Status      Status            `msgpack:"status" json:"status"`
	Timestamp   time.Time         `msgpack:"ts" json:"timestamp"`
	Details     map[string]string `msgpack:"details,omitempty" json:"details,omitempty"`
}

// Validate checks that the record can be stored
func (r *StageRecord) Validate() error {
	switch {
	case r.ExecutionID == "":
		return errors.Errorf("%w: missing execution id", ErrInvalidRecord)
	case strings.Contains(r.ExecutionID, "/"):
		return errors.Errorf("%w: execution id %q contains '/'", ErrInvalidRecord, r.ExecutionID)
	case r.FileName == "":
		return errors.Errorf("%w: missing file name", ErrInvalidRecord)
	case !r.Stage.Valid():
		return errors.Errorf("%w: unknown stage %q", ErrInvalidRecord, r.Stage)
	case r.Status != StatusSuccess && r.Status != StatusError:
		return errors.Errorf("%w: unknown status %q", ErrInvalidRecord, r.Status)
	}
	return nil
}

// DeletionCandidate says whether a file seen in an execution may be removed
type DeletionCandidate struct {
	FileName  string `json:"file_name"`
	CanDelete bool   `json:"can_delete"`
}

// Ledger is implemented by every storage backend. Implementations are safe
// for concurrent use.
type Ledger interface {
	// RecordStage appends a record. Timestamp defaults to now when zero.
	RecordStage(ctx context.Context, rec StageRecord) error

	// Records returns every record of an execution in the order written
	Records(ctx context.Context, executionID string) ([]StageRecord, error)

	// FilesToDelete lists each file recorded under executionID, in first-seen
	// order, with CanDelete set when all stages succeeded.
	FilesToDelete(ctx context.Context, executionID string) ([]DeletionCandidate, error)

	// Purge removes every record of fileName under executionID
	Purge(ctx context.Context, executionID, fileName string) error

	// Prune removes records older than cutoff across all executions and
	// returns how many were removed.
	Prune(ctx context.Context, cutoff time.Time) (int, error)

	Close() error
}

// Aggregate folds records into deletion candidates. Only records carrying
// executionID are considered. A stage is satisfied by any success record for
// it, regardless of earlier or later failures.
func Aggregate(executionID string, records []StageRecord) []DeletionCandidate {
	order := make([]string, 0)
	passed := make(map[string]map[Stage]bool)

	for _, rec := range records {
		if rec.ExecutionID != executionID {
			continue
		}
		stages, seen := passed[rec.FileName]
		if !seen {
			stages = make(map[Stage]bool, len(AllStages))
			passed[rec.FileName] = stages
			order = append(order, rec.FileName)
		}
		if rec.Status == StatusSuccess {
			stages[rec.Stage] = true
		}
	}

	candidates := make([]DeletionCandidate, 0, len(order))
	for _, name := range order {
		stages := passed[name]
		canDelete := true
		for _, stage := range AllStages {
			if !stages[stage] {
				canDelete = false
				break
			}
		}
		candidates = append(candidates, DeletionCandidate{FileName: name, CanDelete: canDelete})
	}
	return candidates
}

func stamp(rec *StageRecord) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	rec.Timestamp = rec.Timestamp.UTC()
}
