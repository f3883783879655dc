package publisher

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/selk/catalogpub/ledger"
	"github.com/selk/catalogpub/source"
)

// Item is what a sink receives for one stage attempt
type Item struct {
	Name    string             // Target name at the destination
	Content []byte             // Full file content, captured once per run
	Source  source.CatalogFile // File as found by the scan
}

// Receipt carries stage details recorded in the ledger. Sinks fill it on
// failure too when they know how far they got.
type Receipt struct {
	Details map[string]string
}

// Sink publishes catalog content to one destination
type Sink interface {
	// Stage identifies the destination
	Stage() ledger.Stage
	// Publish performs one idempotent publish action
	Publish(ctx context.Context, item Item) (Receipt, error)
	// Close releases any resources held by the sink
	Close() error
}

// Source is the catalog folder the orchestrator works on
type Source interface {
	Scan(ctx context.Context) ([]source.CatalogFile, error)
	Read(file source.CatalogFile) ([]byte, error)
	Delete(fileName string) error
}

// NameNormalizer resolves published names
type NameNormalizer interface {
	Normalize(raw string) (canonical string, found bool)
}

// Execution scopes one run
type Execution struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"started_at"`
}

// NewExecutionID returns exec_<12 hex>_<unix seconds>
func NewExecutionID(now time.Time) string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "exec_" + hex[:12] + "_" + strconv.FormatInt(now.Unix(), 10)
}

// PublicationResult is the outcome of the pipeline for one file
type PublicationResult struct {
	FileName      string   `json:"file_name"`
	CanonicalName string   `json:"canonical_name,omitempty"`
	LocalOK       bool     `json:"local_ok"`
	CloudOK       bool     `json:"cloud_ok"`
	RemoteOK      bool     `json:"remote_ok"`
	Errors        []string `json:"errors,omitempty"`

	// Err is set when the file was excluded before any stage ran
	Err error `json:"-"`
}

// StageOK reports the outcome of stage
func (r *PublicationResult) StageOK(stage ledger.Stage) bool {
	switch stage {
	case ledger.StageLocal:
		return r.LocalOK
	case ledger.StageCloud:
		return r.CloudOK
	case ledger.StageRemote:
		return r.RemoteOK
	}
	return false
}

func (r *PublicationResult) setStage(stage ledger.Stage, ok bool) {
	switch stage {
	case ledger.StageLocal:
		r.LocalOK = ok
	case ledger.StageCloud:
		r.CloudOK = ok
	case ledger.StageRemote:
		r.RemoteOK = ok
	}
}

// Complete reports whether every stage succeeded
func (r *PublicationResult) Complete() bool {
	return r.LocalOK && r.CloudOK && r.RemoteOK
}

// RunSummary describes a finished run
type RunSummary struct {
	ExecutionID string              `json:"execution_id"`
	StartedAt   time.Time           `json:"started_at"`
	FinishedAt  time.Time           `json:"finished_at"`
	Results     []PublicationResult `json:"results"`
	Published   []string            `json:"published"` // Deleted from source after full publication
	Failed      []string            `json:"failed"`    // Left in source
	Error       string              `json:"error,omitempty"`
}

// Processed is the number of files the run attempted
func (s RunSummary) Processed() int {
	return len(s.Results)
}

// Duration of the run
func (s RunSummary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}
