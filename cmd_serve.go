package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/selk/catalogpub/admin"
	"github.com/selk/catalogpub/publisher"
	"github.com/selk/catalogpub/telemetry"
	"github.com/spf13/cobra"
	"gitlab.com/tozd/go/errors"
	"golang.org/x/sync/errgroup"
)

// pendingSampleInterval between source folder samples for the pending gauge
const pendingSampleInterval = time.Minute

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run immediately, then on every schedule interval until interrupted",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	c, logger, closer, err := setup()
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, c, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(ctx); err != nil {
			logger.Warn().Err(err).Msg("Shutdown incomplete")
		}
	}()

	scheduler, err := publisher.NewScheduler(publisher.SchedulerConfig{
		Runner:   a.orch,
		Interval: time.Duration(c.Schedule.IntervalMinutes) * time.Minute,
		Window:   scheduleWindow(c.Schedule),
	}, logger)
	if err != nil {
		return err
	}

	if a.registry.Enabled() {
		collector := telemetry.NewSourceCollector(a.scanner, a.metrics.SourcePendingFiles, pendingSampleInterval)
		collector.Start()
		defer collector.Stop()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return scheduler.Run(gctx)
	})

	if c.Admin.Enabled {
		var metricsHandler http.Handler
		if a.registry.Enabled() {
			metricsHandler = a.registry.Handler()
		}
		handlers := admin.NewHandlers(a.orch, a.ledger, a.mapper, metricsHandler, logger)
		srv := &http.Server{
			Addr:              fmt.Sprintf("%s:%d", c.Admin.Address, c.Admin.Port),
			Handler:           admin.NewRouter(handlers, c.Admin.Secret),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g.Go(func() error {
			logger.Info().Str("address", srv.Addr).Msg("Admin API listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return errors.Errorf("admin server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	logger.Info().
		Int("interval_minutes", c.Schedule.IntervalMinutes).
		Str("source", c.Source.Path).
		Msg("Catalog publisher started")

	err = g.Wait()
	logger.Info().Msg("Catalog publisher stopped")
	return err
}
