package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/selk/catalogpub/cfg"
	"github.com/selk/catalogpub/ledger"
	"github.com/selk/catalogpub/publisher"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduleWindow(t *testing.T) {
	w := scheduleWindow(cfg.ScheduleConfiguration{StartHour: 8, EndHour: 16, Weekdays: []int{1, 5}})
	assert.Equal(t, publisher.Window{
		StartHour: 8,
		EndHour:   16,
		Weekdays:  []time.Weekday{time.Monday, time.Friday},
	}, w)
}

func TestNewLoggerWritesDailyFile(t *testing.T) {
	c := cfg.Default()
	c.PublisherID = "pub-1"
	c.Logging.Format = "json"
	c.Logging.Dir = filepath.Join(t.TempDir(), "logs")

	logger, closer, err := newLogger(c, time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	logger.Info().Msg("hello")
	logger.Debug().Msg("hidden")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(filepath.Join(c.Logging.Dir, "catalog_20240603.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"hello"`)
	assert.Contains(t, string(data), `"publisher_id":"pub-1"`)
	assert.NotContains(t, string(data), "hidden")
}

func TestAppRunKeepsFilesWhenStagesUnavailable(t *testing.T) {
	root := t.TempDir()
	c := cfg.Default()
	c.PublisherID = "pub-1"
	c.DataDir = filepath.Join(root, "data")
	c.Source.Path = filepath.Join(root, "in")
	c.Local.Path = filepath.Join(root, "mirror")
	c.Drive.Enabled = false
	c.Ledger.Backend = cfg.LedgerMemory
	c.Prometheus.Enabled = false
	c.Mapping = cfg.DefaultMapping()

	require.NoError(t, os.MkdirAll(c.Source.Path, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(c.Source.Path, "QUIMICOS.pdf"), []byte("pdf"), 0o644))

	ctx := context.Background()
	a, err := newApp(ctx, c, zerolog.Nop())
	require.NoError(t, err)
	defer a.Close(ctx)

	summary, err := a.orch.Run(ctx)
	require.NoError(t, err)

	require.Len(t, summary.Results, 1)
	result := summary.Results[0]
	assert.Equal(t, "QUIMICOS.pdf", result.CanonicalName)
	assert.True(t, result.LocalOK)
	assert.False(t, result.CloudOK)
	assert.False(t, result.RemoteOK)
	assert.Equal(t, []string{"QUIMICOS.pdf"}, summary.Failed)

	_, err = os.Stat(filepath.Join(c.Source.Path, "QUIMICOS.pdf"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(c.Local.Path, "QUIMICOS.pdf"))
	assert.NoError(t, err)

	records, err := a.ledger.Records(ctx, summary.ExecutionID)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, ledger.StatusSuccess, records[0].Status)
	assert.Equal(t, ledger.StatusError, records[1].Status)
	assert.Equal(t, ledger.StatusError, records[2].Status)
}

func TestAppDegradesWhenLedgerCannotOpen(t *testing.T) {
	root := t.TempDir()
	blocker := filepath.Join(root, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	c := cfg.Default()
	c.PublisherID = "pub-1"
	c.DataDir = filepath.Join(root, "data")
	c.Source.Path = filepath.Join(root, "in")
	c.Local.Path = filepath.Join(root, "mirror")
	c.Drive.Enabled = false
	c.Ledger.Backend = cfg.LedgerSQLite
	c.Ledger.Path = filepath.Join(blocker, "ledger.db")
	c.Prometheus.Enabled = false
	c.Mapping = cfg.DefaultMapping()

	require.NoError(t, os.MkdirAll(c.Source.Path, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(c.Source.Path, "QUIMICOS.pdf"), []byte("pdf"), 0o644))

	ctx := context.Background()
	a, err := newApp(ctx, c, zerolog.Nop())
	require.NoError(t, err)
	defer a.Close(ctx)
	assert.IsType(t, &publisher.UnavailableLedger{}, a.ledger)

	summary, err := a.orch.Run(ctx)
	require.NoError(t, err)

	require.Len(t, summary.Results, 1)
	assert.True(t, summary.Results[0].LocalOK)
	assert.Empty(t, summary.Published)

	_, err = os.Stat(filepath.Join(c.Source.Path, "QUIMICOS.pdf"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(c.Local.Path, "QUIMICOS.pdf"))
	assert.NoError(t, err)
}
