package main

import (
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/selk/catalogpub/cfg"
	"github.com/spf13/cobra"
	"gitlab.com/tozd/go/errors"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one publication pass and exit",
	RunE:  runOnce,
}

// setup loads and validates the configuration and builds the logger
func setup() (*cfg.Configuration, zerolog.Logger, io.Closer, error) {
	c, err := cfg.Load(configPath, envFile)
	if err != nil {
		return nil, zerolog.Nop(), nil, err
	}
	if verbose {
		c.Logging.Verbose = true
	}
	if err := c.Validate(); err != nil {
		return nil, zerolog.Nop(), nil, errors.Errorf("invalid configuration: %w", err)
	}

	logger, closer, err := newLogger(c, time.Now())
	if err != nil {
		return nil, zerolog.Nop(), nil, err
	}

	if c.LoadedFrom != "" {
		logger.Info().Str("path", c.LoadedFrom).Msg("Configuration loaded")
	}
	for _, w := range c.Warnings() {
		logger.Warn().Msg("Limited functionality: " + w)
	}
	return c, logger, closer, nil
}

func runOnce(cmd *cobra.Command, _ []string) error {
	c, logger, closer, err := setup()
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx := cmd.Context()
	a, err := newApp(ctx, c, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(ctx); err != nil {
			logger.Warn().Err(err).Msg("Shutdown incomplete")
		}
	}()

	logger.Info().Msg("Running single publication pass")
	summary, err := a.orch.Run(ctx)
	if err != nil {
		return err
	}

	logger.Info().
		Str("execution_id", summary.ExecutionID).
		Int("published", len(summary.Published)).
		Int("failed", len(summary.Failed)).
		Msg("Publication pass complete")
	return nil
}
