package main

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/selk/catalogpub/cfg"
	"gitlab.com/tozd/go/errors"
)

// newLogger writes to stdout (console or json) and, when a log directory is
// configured, to a daily catalog_YYYYMMDD.log file. The returned closer
// closes the file.
func newLogger(c *cfg.Configuration, now time.Time) (zerolog.Logger, io.Closer, error) {
	var console io.Writer = zerolog.NewConsoleWriter()
	if c.Logging.Format == "json" {
		console = os.Stdout
	}

	writer := console
	var closer io.Closer = nopCloser{}

	if c.Logging.Dir != "" {
		if err := os.MkdirAll(c.Logging.Dir, 0o755); err != nil {
			return zerolog.Nop(), nil, errors.Errorf("creating log directory: %w", err)
		}
		name := filepath.Join(c.Logging.Dir, "catalog_"+now.Format("20060102")+".log")
		file, err := os.OpenFile(name, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return zerolog.Nop(), nil, errors.Errorf("opening log file: %w", err)
		}
		writer = zerolog.MultiLevelWriter(console, file)
		closer = file
	}

	logger := zerolog.New(writer).
		With().
		Timestamp().
		Str("publisher_id", c.PublisherID).
		Logger()

	if c.Logging.Verbose {
		logger = logger.Level(zerolog.DebugLevel)
	} else {
		logger = logger.Level(zerolog.InfoLevel)
	}
	return logger, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
