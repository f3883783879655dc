package main

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/selk/catalogpub/cfg"
	"github.com/selk/catalogpub/ledger"
	"github.com/selk/catalogpub/mapper"
	"github.com/selk/catalogpub/notify"
	"github.com/selk/catalogpub/publisher"
	"github.com/selk/catalogpub/publisher/sink"
	"github.com/selk/catalogpub/source"
	"github.com/selk/catalogpub/telemetry"
	"gitlab.com/tozd/go/errors"
)

// app holds the wired publisher components
type app struct {
	config   *cfg.Configuration
	logger   zerolog.Logger
	registry *telemetry.Registry
	metrics  *telemetry.Metrics
	mapper   *mapper.NameMapper
	scanner  *source.Scanner
	ledger   ledger.Ledger
	notifier *notify.Manager
	sinks    sink.Set
	orch     *publisher.Orchestrator
}

func newApp(ctx context.Context, c *cfg.Configuration, logger zerolog.Logger) (*app, error) {
	a := &app{config: c, logger: logger}

	a.registry = telemetry.NewRegistry(c.Prometheus.Enabled, c.PublisherID)
	a.metrics = telemetry.NewMetrics(a.registry)

	a.mapper = mapper.New(c.Mapping)
	logger.Info().Int("entries", a.mapper.Len()).Msg("Name mapping loaded")

	filter, err := source.NewGlobFilter(c.Source.Patterns, c.Source.Exclude)
	if err != nil {
		return nil, errors.Errorf("source patterns: %w", err)
	}
	a.scanner = source.NewScanner(c.Source.Path, filter, logger)

	a.ledger, err = ledger.Open(ctx, c, logger)
	if err != nil {
		logger.Error().Err(err).Str("backend", c.Ledger.Backend).
			Msg("Ledger unavailable, catalogs will be published but never deleted")
		a.ledger = publisher.NewUnavailableLedger(err)
	}

	transports, err := notify.BuildTransports(c, logger)
	if err != nil {
		a.ledger.Close()
		return nil, errors.Errorf("notification transports: %w", err)
	}
	a.notifier = notify.NewManager(transports, notify.ManagerConfig{
		QueueSize:       c.Notify.QueueSize,
		DeliveryTimeout: time.Duration(c.Notify.TimeoutSeconds) * time.Second,
	}, logger, a.metrics)
	logger.Info().Strs("transports", a.notifier.Transports()).Msg("Notifications ready")

	a.sinks = sink.Build(ctx, c, logger)

	a.orch, err = publisher.NewOrchestrator(publisher.Config{
		Mapper:    a.mapper,
		Source:    a.scanner,
		Sinks:     a.sinks.Sinks,
		Ledger:    a.ledger,
		Notifier:  a.notifier,
		Metrics:   a.metrics,
		Retention: time.Duration(c.Ledger.RetentionHours) * time.Hour,
	}, logger)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	return a, nil
}

// Close flushes pending notifications and releases every resource
func (a *app) Close(ctx context.Context) error {
	var errs []error

	if a.notifier != nil {
		flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		if err := a.notifier.Close(flushCtx); err != nil {
			errs = append(errs, err)
		}
		cancel()
	}
	if err := a.sinks.Close(); err != nil {
		errs = append(errs, err)
	}
	if a.ledger != nil {
		if err := a.ledger.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func scheduleWindow(s cfg.ScheduleConfiguration) publisher.Window {
	w := publisher.Window{StartHour: s.StartHour, EndHour: s.EndHour}
	for _, d := range s.Weekdays {
		w.Weekdays = append(w.Weekdays, time.Weekday(d))
	}
	return w
}
