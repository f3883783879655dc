// Package publisher runs catalog publication.
//
// A run scans the source folder, resolves every catalog's published name,
// and pushes the content through three stages in order: a local archive
// copy, a cloud drive upload and an FTP upload under the published name.
// Every stage attempt is appended to the ledger. Only files with a success
// recorded for all three stages in the same execution are deleted from the
// source folder; everything else stays for the next run.
//
// Stages are always attempted, a failed stage does not stop the next one.
// Failures never abort the run: they are logged, recorded and sent through
// the notifier.
//
// # Execution IDs
//
// Each run gets an ID of the form
//
//	exec_{12 hex chars}_{unix seconds}
//
// which scopes ledger queries, so a stale success from an earlier run never
// makes a file deletable.
//
// # Scheduling
//
// Scheduler runs the orchestrator once at start and then on a fixed
// interval, optionally limited to an hour window on selected weekdays. Runs
// never overlap: a run requested while another executes gets
// ErrRunInProgress.
package publisher
