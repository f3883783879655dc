package telemetry

// Histogram bucket definitions
var (
	// RunBuckets covers a run over a handful of catalogs on a slow FTP link
	RunBuckets = []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600}

	// StageBuckets for a single destination upload
	StageBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}
)

// Label values
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultPartial = "partial"
	ResultDropped = "dropped"
)

// Metrics is the set of instruments shared by the publisher components
type Metrics struct {
	// RunsTotal counts runs by result (success, partial, error)
	RunsTotal CounterVec

	// RunDurationSeconds measures a full run including cleanup
	RunDurationSeconds Histogram

	// LastRunTimestamp is the Unix time the last run finished
	LastRunTimestamp Gauge

	// FilesProcessedTotal counts files picked up by a scan
	FilesProcessedTotal Counter

	// StageAttemptsTotal counts stage attempts by stage and status
	StageAttemptsTotal CounterVec

	// StageDurationSeconds measures stage attempts by stage
	StageDurationSeconds HistogramVec

	// FilesDeletedTotal counts source files removed after full publication
	FilesDeletedTotal Counter

	// DeletionFailuresTotal counts eligible files that could not be removed
	DeletionFailuresTotal Counter

	// LedgerPrunedTotal counts records removed by retention
	LedgerPrunedTotal Counter

	// NotificationsTotal counts deliveries by transport and result
	NotificationsTotal CounterVec

	// SourcePendingFiles is the number of catalogs waiting in the source folder
	SourcePendingFiles Gauge
}

// NewMetrics registers every instrument on r. A nil or disabled registry
// yields no-op instruments.
func NewMetrics(r *Registry) *Metrics {
	return &Metrics{
		RunsTotal:             r.NewCounterVec("runs_total", "Publication runs by result", []string{"result"}),
		RunDurationSeconds:    r.NewHistogram("run_duration_seconds", "Publication run duration", RunBuckets),
		LastRunTimestamp:      r.NewGauge("last_run_timestamp_seconds", "Unix time of the last finished run"),
		FilesProcessedTotal:   r.NewCounter("files_processed_total", "Catalog files picked up by a scan"),
		StageAttemptsTotal:    r.NewCounterVec("stage_attempts_total", "Stage attempts by stage and status", []string{"stage", "status"}),
		StageDurationSeconds:  r.NewHistogramVec("stage_duration_seconds", "Stage attempt duration", []string{"stage"}, StageBuckets),
		FilesDeletedTotal:     r.NewCounter("files_deleted_total", "Source files deleted after publication"),
		DeletionFailuresTotal: r.NewCounter("deletion_failures_total", "Eligible source files that could not be deleted"),
		LedgerPrunedTotal:     r.NewCounter("ledger_pruned_total", "Ledger records removed by retention"),
		NotificationsTotal:    r.NewCounterVec("notifications_total", "Notification deliveries by transport and result", []string{"transport", "result"}),
		SourcePendingFiles:    r.NewGauge("source_pending_files", "Catalog files waiting in the source folder"),
	}
}

// NoopMetrics returns instruments that record nothing
func NoopMetrics() *Metrics {
	return NewMetrics(nil)
}
