// Package sink holds the three publication destinations.
package sink

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/selk/catalogpub/cfg"
	"github.com/selk/catalogpub/ledger"
	"github.com/selk/catalogpub/publisher"
	"gitlab.com/tozd/go/errors"
)

// Compile-time interface verification
var (
	_ publisher.Sink = (*LocalSink)(nil)
	_ publisher.Sink = (*DriveSink)(nil)
	_ publisher.Sink = (*FTPSink)(nil)
	_ publisher.Sink = (*MockSink)(nil)
	_ publisher.Sink = (*publisher.UnavailableSink)(nil)
	_ DriveAPI       = (*GoogleDrive)(nil)
)

// Set is one sink per stage plus the concrete clients the check command probes
type Set struct {
	Sinks []publisher.Sink
	Drive *GoogleDrive // nil when unavailable
	FTP   *FTPSink     // nil when unavailable
}

// Build creates the sinks described by c. A destination that cannot be set
// up is replaced by an UnavailableSink so its stage fails on every attempt
// and files stay in the source folder.
func Build(ctx context.Context, c *cfg.Configuration, logger zerolog.Logger) Set {
	var set Set

	local, err := NewLocalSink(c.Local.Path, logger)
	if err != nil {
		set.Sinks = append(set.Sinks, unavailable(ledger.StageLocal, err, logger))
	} else {
		set.Sinks = append(set.Sinks, local)
	}

	switch {
	case !c.Drive.Enabled:
		set.Sinks = append(set.Sinks, unavailable(ledger.StageCloud, errors.New("drive upload disabled"), logger))
	default:
		gd, err := NewGoogleDrive(ctx, c.Drive.ServiceAccountFile, c.Drive.FolderID)
		if err != nil {
			set.Sinks = append(set.Sinks, unavailable(ledger.StageCloud, err, logger))
		} else {
			set.Drive = gd
			set.Sinks = append(set.Sinks, NewDriveSink(gd, logger))
		}
	}

	ftpSink, err := NewFTPSink(FTPConfig{
		Address:    c.FTP.Address(),
		User:       c.FTP.User,
		Password:   c.FTP.Password,
		UploadPath: c.FTP.UploadPath,
		Timeout:    time.Duration(c.FTP.TimeoutSeconds) * time.Second,
	}, logger)
	if err != nil {
		set.Sinks = append(set.Sinks, unavailable(ledger.StageRemote, err, logger))
	} else {
		set.FTP = ftpSink
		set.Sinks = append(set.Sinks, ftpSink)
	}

	return set
}

// Close closes every sink
func (s Set) Close() error {
	var errs []error
	for _, sink := range s.Sinks {
		if err := sink.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func unavailable(stage ledger.Stage, reason error, logger zerolog.Logger) publisher.Sink {
	logger.Error().Err(reason).Str("stage", string(stage)).Msg("Destination unavailable, stage will fail")
	return publisher.NewUnavailableSink(stage, reason)
}
