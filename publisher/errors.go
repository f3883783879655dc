package publisher

import (
	"fmt"

	"github.com/selk/catalogpub/ledger"
	"gitlab.com/tozd/go/errors"
)

var (
	// ErrMappingNotFound excludes a file whose name has no published name
	ErrMappingNotFound = errors.Base("catalog name mapping not found")

	// ErrReadFailure excludes a file whose content could not be read
	ErrReadFailure = errors.Base("catalog file could not be read")

	errEmptyFile = errors.Base("file is empty")

	// ErrStageFailure is wrapped by every StageError
	ErrStageFailure = errors.Base("publication stage failed")

	// ErrDeletionFailure keeps a fully published file in the source folder
	ErrDeletionFailure = errors.Base("source file could not be deleted")

	// ErrLedgerUnavailable means outcomes could not be recorded or read back
	ErrLedgerUnavailable = errors.Base("ledger unavailable")

	// ErrTransportUnavailable is returned by sinks whose client never initialized
	ErrTransportUnavailable = errors.Base("transport unavailable")

	// ErrRunInProgress rejects a run while another is executing
	ErrRunInProgress = errors.Base("a publication run is already in progress")

	// ErrRunFault wraps an unexpected failure of the run loop itself
	ErrRunFault = errors.Base("publication run failed")
)

// StageError is a failed attempt at one stage. It matches both
// ErrStageFailure and the underlying cause with errors.Is.
type StageError struct {
	Stage ledger.Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() []error {
	return []error{ErrStageFailure, e.Err}
}
