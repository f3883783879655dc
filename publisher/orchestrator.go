package publisher

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog"
	"github.com/selk/catalogpub/ledger"
	"github.com/selk/catalogpub/notify"
	"github.com/selk/catalogpub/source"
	"github.com/selk/catalogpub/telemetry"
	"gitlab.com/tozd/go/errors"
)

// Notification titles and messages shown to the marketing team
const (
	titleMapping  = "Normalización de nombre"
	titleRead     = "Lectura de archivo"
	titleLedger   = "Registro de operaciones"
	titleDeletion = "Eliminación de archivo"
	titleCleanup  = "Limpieza de archivos"
	titleStart    = "Iniciando publicación de catálogos"
	titleDone     = "Publicación completada"
	titleFailed   = "Catálogos con errores"
	titleRunFault = "Flujo principal"
)

var stageTitles = map[ledger.Stage]string{
	ledger.StageLocal:  "Copia local",
	ledger.StageCloud:  "Google Drive",
	ledger.StageRemote: "FTP",
}

var stageMessages = map[ledger.Stage]string{
	ledger.StageLocal:  "Error al copiar archivo localmente",
	ledger.StageCloud:  "Error al subir a Drive",
	ledger.StageRemote: "Error al subir a FTP",
}

// Config wires the orchestrator's collaborators
type Config struct {
	Mapper   NameNormalizer
	Source   Source
	Sinks    []Sink // Exactly one per stage
	Ledger   ledger.Ledger
	Notifier notify.Notifier
	Metrics  *telemetry.Metrics

	// Retention prunes ledger records older than this at the end of every
	// run. Zero keeps records forever.
	Retention time.Duration

	Now            func() time.Time
	NewExecutionID func(now time.Time) string
}

// Orchestrator drives publication runs. Runs never overlap: a Run while
// another is executing returns ErrRunInProgress.
type Orchestrator struct {
	config Config
	sinks  map[ledger.Stage]Sink
	logger zerolog.Logger

	running atomic.Bool
	last    atomic.Pointer[RunSummary]
}

// NewOrchestrator validates config and creates an orchestrator
func NewOrchestrator(config Config, logger zerolog.Logger) (*Orchestrator, error) {
	if config.Mapper == nil {
		return nil, errors.New("name mapper is required")
	}
	if config.Source == nil {
		return nil, errors.New("source is required")
	}
	if config.Ledger == nil {
		return nil, errors.New("ledger is required")
	}

	sinks := make(map[ledger.Stage]Sink, len(ledger.AllStages))
	for _, s := range config.Sinks {
		if s == nil {
			return nil, errors.New("nil sink")
		}
		if _, dup := sinks[s.Stage()]; dup {
			return nil, errors.Errorf("duplicate sink for stage %s", s.Stage())
		}
		sinks[s.Stage()] = s
	}
	for _, stage := range ledger.AllStages {
		if _, ok := sinks[stage]; !ok {
			return nil, errors.Errorf("missing sink for stage %s", stage)
		}
	}

	if config.Notifier == nil {
		config.Notifier = notify.NotifierFunc(func(notify.Notification) {})
	}
	if config.Metrics == nil {
		config.Metrics = telemetry.NoopMetrics()
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.NewExecutionID == nil {
		config.NewExecutionID = NewExecutionID
	}

	return &Orchestrator{
		config: config,
		sinks:  sinks,
		logger: logger.With().Str("component", "orchestrator").Logger(),
	}, nil
}

// Running reports whether a run is executing
func (o *Orchestrator) Running() bool {
	return o.running.Load()
}

// LastRun returns the summary of the most recent finished run
func (o *Orchestrator) LastRun() (RunSummary, bool) {
	s := o.last.Load()
	if s == nil {
		return RunSummary{}, false
	}
	return *s, true
}

// Run executes one publication pass: scan, per-file pipeline, cleanup,
// summary. Once started a run is not interrupted by ctx cancellation; the
// current pass finishes so the ledger and the source folder stay consistent.
//
// The returned error is non-nil only when the run itself failed (scan
// aborted, panic) or another run is in progress. Per-file and per-stage
// failures are reported in the summary.
func (o *Orchestrator) Run(ctx context.Context) (summary RunSummary, err error) {
	if !o.running.CompareAndSwap(false, true) {
		return RunSummary{}, ErrRunInProgress
	}
	defer o.running.Store(false)

	ctx = context.WithoutCancel(ctx)

	exec := Execution{StartedAt: o.config.Now()}
	exec.ID = o.config.NewExecutionID(exec.StartedAt)
	summary = RunSummary{ExecutionID: exec.ID, StartedAt: exec.StartedAt}
	logger := o.logger.With().Str("execution_id", exec.ID).Logger()

	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("%w: panic: %v", ErrRunFault, r)
			logger.Error().Str("stack", string(debug.Stack())).Msg("Recovered from panic in publication run")
		}
		o.finish(exec, &summary, err, logger)
	}()

	logger.Info().Msg("Starting publication run")

	files, err := o.config.Source.Scan(ctx)
	if err != nil {
		return summary, errors.Errorf("%w: scanning source: %w", ErrRunFault, err)
	}
	o.config.Metrics.SourcePendingFiles.Set(float64(len(files)))

	if len(files) == 0 {
		logger.Warn().Msg("No catalogs found to process")
		o.prune(ctx, logger)
		return summary, nil
	}

	logger.Info().Int("files", len(files)).Msg("Catalogs found")
	o.notify(exec, notify.SeverityInfo, titleStart, fmt.Sprintf("Catálogos detectados: %d", len(files)), nil)

	ledgerWarned := false
	for _, file := range files {
		o.config.Metrics.FilesProcessedTotal.Inc()
		result := o.processFile(ctx, exec, file, logger, &ledgerWarned)
		summary.Results = append(summary.Results, result)
	}

	deleted, cleanupErr := o.cleanup(ctx, exec, logger)
	if cleanupErr != nil {
		logger.Error().Err(cleanupErr).Msg("Cleanup skipped, no source files deleted")
		o.notify(exec, notify.SeverityCritical, titleCleanup,
			"No se pudo consultar el registro de operaciones; no se eliminó ningún archivo",
			map[string]string{"error": cleanupErr.Error()})
	}

	summary.Published = deleted
	summary.Failed = failedFiles(summary.Results, deleted)
	o.report(exec, summary)
	o.prune(ctx, logger)

	return summary, nil
}

// finish records metrics, the last summary and reports a run fault
func (o *Orchestrator) finish(exec Execution, summary *RunSummary, err error, logger zerolog.Logger) {
	summary.FinishedAt = o.config.Now()

	result := telemetry.ResultSuccess
	switch {
	case err != nil:
		result = telemetry.ResultError
		summary.Error = err.Error()
		logger.Error().Err(err).Msg("Publication run failed")
		o.notify(exec, notify.SeverityCritical, titleRunFault,
			"Error crítico en el flujo: "+err.Error(),
			map[string]string{"error": err.Error()})
	case len(summary.Failed) > 0:
		result = telemetry.ResultPartial
	}

	o.config.Metrics.RunsTotal.With(result).Inc()
	o.config.Metrics.RunDurationSeconds.Observe(summary.Duration().Seconds())
	o.config.Metrics.LastRunTimestamp.Set(float64(summary.FinishedAt.Unix()))

	stored := *summary
	o.last.Store(&stored)

	logger.Info().
		Int("processed", summary.Processed()).
		Int("published", len(summary.Published)).
		Int("failed", len(summary.Failed)).
		Dur("duration", summary.Duration()).
		Msg("Publication run finished")
}

// processFile runs the pipeline for one file. Nothing escapes it: every
// outcome lands in the result and, for stages, in the ledger.
func (o *Orchestrator) processFile(ctx context.Context, exec Execution, file source.CatalogFile, logger zerolog.Logger, ledgerWarned *bool) PublicationResult {
	result := PublicationResult{FileName: file.FileName}
	logger = logger.With().Str("file", file.FileName).Logger()

	canonical, found := o.config.Mapper.Normalize(file.FileName)
	if !found {
		msg := "No se encontró mapeo para el archivo: " + file.FileName
		result.Err = errors.Errorf("%w: %s", ErrMappingNotFound, file.FileName)
		result.Errors = append(result.Errors, msg)
		logger.Error().Msg("No name mapping for catalog")
		o.notify(exec, notify.SeverityCritical, titleMapping, msg, map[string]string{"archivo": file.FileName})
		return result
	}
	result.CanonicalName = canonical
	logger.Info().Str("canonical", canonical).Msg("Catalog name normalized")

	content, err := o.config.Source.Read(file)
	if err == nil && len(content) == 0 {
		// a file still being copied onto the share reads as empty
		err = errEmptyFile
	}
	if err != nil {
		msg := "No se pudo leer el archivo: " + file.FullPath
		result.Err = errors.Errorf("%w: %v", ErrReadFailure, err)
		result.Errors = append(result.Errors, msg)
		logger.Error().Err(err).Msg("Failed to read catalog")
		o.notify(exec, notify.SeverityCritical, titleRead, msg,
			map[string]string{"archivo": file.FileName, "error": err.Error()})
		return result
	}
	checksum := fmt.Sprintf("%016x", xxhash.Sum64(content))

	for _, stage := range ledger.AllStages {
		item := Item{Name: file.FileName, Content: content, Source: file}
		if stage == ledger.StageRemote {
			item.Name = canonical
		}

		details, stageErr := o.attempt(ctx, stage, item)
		status := ledger.StatusSuccess
		if stageErr != nil {
			status = ledger.StatusError
			details["error"] = stageErr.Err.Error()
			result.Errors = append(result.Errors, stageMessages[stage]+": "+stageErr.Err.Error())
			logger.Error().Err(stageErr.Err).Str("stage", string(stage)).Msg("Stage failed")

			notifyDetails := map[string]string{"archivo": file.FileName, "error": stageErr.Err.Error()}
			if stage == ledger.StageRemote {
				notifyDetails["nombre_normalizado"] = canonical
			}
			o.notify(exec, notify.SeverityCritical, stageTitle(stage, details["action"]), stageMessages[stage], notifyDetails)
		} else {
			result.setStage(stage, true)
			details["checksum"] = checksum
			logger.Info().Str("stage", string(stage)).Msg("Stage succeeded")
		}
		if stage == ledger.StageRemote {
			details["normalized_name"] = canonical
		}

		o.config.Metrics.StageAttemptsTotal.With(string(stage), string(status)).Inc()
		o.record(ctx, exec, ledger.StageRecord{
			ExecutionID: exec.ID,
			FileName:    file.FileName,
			Stage:       stage,
			Status:      status,
			Details:     details,
		}, &result, logger, ledgerWarned)
	}

	if result.Complete() {
		logger.Info().Msg("Catalog published to every destination")
	} else {
		logger.Warn().
			Bool("local", result.LocalOK).
			Bool("cloud", result.CloudOK).
			Bool("remote", result.RemoteOK).
			Msg("Catalog partially published")
	}
	return result
}

// attempt runs one stage and returns the details to record. A sink panic is
// treated as a stage failure.
func (o *Orchestrator) attempt(ctx context.Context, stage ledger.Stage, item Item) (details map[string]string, stageErr *StageError) {
	details = make(map[string]string)
	start := time.Now()
	defer func() {
		o.config.Metrics.StageDurationSeconds.With(string(stage)).Observe(time.Since(start).Seconds())
		if r := recover(); r != nil {
			stageErr = &StageError{Stage: stage, Err: errors.Errorf("sink panicked: %v", r)}
		}
	}()

	receipt, err := o.sinks[stage].Publish(ctx, item)
	for k, v := range receipt.Details {
		details[k] = v
	}
	if err != nil {
		return details, &StageError{Stage: stage, Err: err}
	}
	return details, nil
}

// record appends to the ledger. A write failure leaves the stage without a
// success record, which keeps the file out of cleanup.
func (o *Orchestrator) record(ctx context.Context, exec Execution, rec ledger.StageRecord, result *PublicationResult, logger zerolog.Logger, warned *bool) {
	err := o.config.Ledger.RecordStage(ctx, rec)
	if err == nil {
		return
	}

	err = errors.Errorf("%w: %w", ErrLedgerUnavailable, err)
	result.Errors = append(result.Errors, err.Error())
	logger.Error().Err(err).Str("stage", string(rec.Stage)).Msg("Failed to record stage outcome")

	if !*warned {
		*warned = true
		o.notify(exec, notify.SeverityCritical, titleLedger,
			"No se pudo registrar el resultado de una etapa; los archivos afectados no se eliminarán",
			map[string]string{"archivo": rec.FileName, "error": err.Error()})
	}
}

// cleanup deletes fully published files of this execution and purges their
// ledger rows. Files that are not deletable keep their rows.
func (o *Orchestrator) cleanup(ctx context.Context, exec Execution, logger zerolog.Logger) ([]string, error) {
	logger.Info().Msg("Starting source cleanup")

	candidates, err := o.config.Ledger.FilesToDelete(ctx, exec.ID)
	if err != nil {
		return nil, errors.Errorf("%w: %w", ErrLedgerUnavailable, err)
	}

	deleted := make([]string, 0, len(candidates))
	for _, c := range candidates {
		fileLogger := logger.With().Str("file", c.FileName).Logger()

		if !c.CanDelete {
			fileLogger.Info().Msg("Catalog kept, publication incomplete")
			continue
		}

		if err := o.config.Source.Delete(c.FileName); err != nil {
			err = errors.Errorf("%w: %w", ErrDeletionFailure, err)
			o.config.Metrics.DeletionFailuresTotal.Inc()
			fileLogger.Warn().Err(err).Msg("Failed to delete published catalog from source")
			o.notify(exec, notify.SeverityWarning, titleDeletion, "No se pudo eliminar el archivo del origen",
				map[string]string{"archivo": c.FileName, "error": err.Error()})
			continue
		}

		deleted = append(deleted, c.FileName)
		o.config.Metrics.FilesDeletedTotal.Inc()
		fileLogger.Info().Msg("Catalog removed from source")

		if err := o.config.Ledger.Purge(ctx, exec.ID, c.FileName); err != nil {
			fileLogger.Warn().Err(err).Msg("Failed to purge ledger records")
		}
	}

	logger.Info().Int("deleted", len(deleted)).Int("candidates", len(candidates)).Msg("Cleanup complete")
	return deleted, nil
}

// report sends the end-of-run summary notifications
func (o *Orchestrator) report(exec Execution, summary RunSummary) {
	if len(summary.Published) > 0 {
		o.notify(exec, notify.SeveritySuccess, titleDone,
			fmt.Sprintf("Se publicaron %d catálogos exitosamente: %s", len(summary.Published), strings.Join(summary.Published, ", ")),
			map[string]string{"archivos": strings.Join(summary.Published, ", ")})
	}

	if len(summary.Failed) > 0 {
		o.notify(exec, notify.SeverityWarning, titleFailed,
			fmt.Sprintf("%d catálogos con errores: %s", len(summary.Failed), strings.Join(summary.Failed, ", ")),
			map[string]string{"archivos_con_error": strings.Join(summary.Failed, ", ")})
	}
}

func (o *Orchestrator) prune(ctx context.Context, logger zerolog.Logger) {
	if o.config.Retention <= 0 {
		return
	}

	cutoff := o.config.Now().Add(-o.config.Retention)
	n, err := o.config.Ledger.Prune(ctx, cutoff)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to prune ledger")
		return
	}
	if n > 0 {
		o.config.Metrics.LedgerPrunedTotal.Add(float64(n))
		logger.Info().Int("records", n).Time("cutoff", cutoff).Msg("Pruned expired ledger records")
	}
}

func (o *Orchestrator) notify(exec Execution, severity notify.Severity, title, message string, details map[string]string) {
	o.config.Notifier.Notify(notify.Notification{
		Severity:    severity,
		Title:       title,
		Message:     message,
		Details:     details,
		ExecutionID: exec.ID,
		Timestamp:   o.config.Now(),
	})
}

func stageTitle(stage ledger.Stage, action string) string {
	title := stageTitles[stage]
	if stage == ledger.StageCloud {
		if action == "" {
			action = "upload"
		}
		title = fmt.Sprintf("%s (%s)", title, action)
	}
	return title
}

// failedFiles lists processed files that are still in the source, in scan order
func failedFiles(results []PublicationResult, deleted []string) []string {
	gone := make(map[string]struct{}, len(deleted))
	for _, name := range deleted {
		gone[name] = struct{}{}
	}

	failed := make([]string, 0)
	for _, r := range results {
		if _, ok := gone[r.FileName]; !ok {
			failed = append(failed, r.FileName)
		}
	}
	return failed
}
