package main

import (
	"context"
	"time"

	"github.com/selk/catalogpub/ledger"
	"github.com/selk/catalogpub/publisher/sink"
	"github.com/spf13/cobra"
	"gitlab.com/tozd/go/errors"
)

const checkTimeout = 30 * time.Second

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate configuration and test FTP, Drive and ledger connectivity",
	RunE:  runCheck,
}

func runCheck(cmd *cobra.Command, _ []string) error {
	c, logger, closer, err := setup()
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), checkTimeout)
	defer cancel()

	var failed []error
	report := func(name string, err error) {
		if err != nil {
			logger.Error().Err(err).Str("check", name).Msg("Check failed")
			failed = append(failed, errors.Errorf("%s: %w", name, err))
			return
		}
		logger.Info().Str("check", name).Msg("Check passed")
	}

	l, err := ledger.Open(ctx, c, logger)
	if err == nil {
		_, err = l.Records(ctx, "check")
		if cerr := l.Close(); err == nil {
			err = cerr
		}
	}
	report("ledger", err)

	set := sink.Build(ctx, c, logger)
	defer set.Close()

	if set.FTP == nil {
		report("ftp", errors.New("not configured"))
	} else {
		report("ftp", set.FTP.TestConnection(ctx))
	}

	switch {
	case !c.Drive.Enabled:
		logger.Info().Str("check", "drive").Msg("Check skipped, drive disabled")
	case set.Drive == nil:
		report("drive", errors.New("client could not be created"))
	default:
		report("drive", set.Drive.Probe(ctx))
	}

	return errors.Join(failed...)
}
