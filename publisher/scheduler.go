package publisher

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"
)

// DefaultInterval between scheduled runs
const DefaultInterval = 15 * time.Minute

// Runner executes one publication run
type Runner interface {
	Run(ctx context.Context) (RunSummary, error)
}

// Window restricts scheduled runs to an hour range on selected weekdays.
// Hours are inclusive and in local time. A window with EndHour <= StartHour
// is open all day; empty Weekdays means every day.
type Window struct {
	StartHour int
	EndHour   int
	Weekdays  []time.Weekday
}

// Contains reports whether t falls inside the window
func (w Window) Contains(t time.Time) bool {
	if len(w.Weekdays) > 0 && !slices.Contains(w.Weekdays, t.Weekday()) {
		return false
	}
	if w.EndHour <= w.StartHour {
		return true
	}
	h := t.Hour()
	return h >= w.StartHour && h <= w.EndHour
}

// SchedulerConfig configures the periodic run loop
type SchedulerConfig struct {
	Runner   Runner
	Interval time.Duration
	Window   Window
	Now      func() time.Time
}

// Scheduler runs once at start and then on every interval tick inside the
// window. A tick that finds a run still executing is skipped.
type Scheduler struct {
	config      SchedulerConfig
	logger      zerolog.Logger
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     atomic.Bool
	lifecycleMu sync.Mutex
}

// NewScheduler creates a scheduler
func NewScheduler(config SchedulerConfig, logger zerolog.Logger) (*Scheduler, error) {
	if config.Runner == nil {
		return nil, errors.New("runner is required")
	}
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &Scheduler{
		config: config,
		logger: logger.With().Str("component", "scheduler").Logger(),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}, nil
}

// Start launches the loop in a goroutine
func (s *Scheduler) Start(ctx context.Context) {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.running.Load() {
		return
	}

	s.running.Store(true)
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	s.logger.Info().Dur("interval", s.config.Interval).Msg("Starting scheduler")

	go s.loop(ctx)
}

// Stop signals the loop and waits for the current run to finish
func (s *Scheduler) Stop() {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if !s.running.Load() {
		return
	}

	s.logger.Info().Msg("Stopping scheduler")

	close(s.stopCh)
	<-s.doneCh
	s.running.Store(false)

	s.logger.Info().Msg("Scheduler stopped")
}

// Run blocks until ctx is cancelled, then stops the loop
func (s *Scheduler) Run(ctx context.Context) error {
	s.Start(ctx)
	<-ctx.Done()
	s.Stop()
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.doneCh)

	s.tick(ctx, true)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, false)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, startup bool) {
	now := s.config.Now()
	if !startup && !s.config.Window.Contains(now) {
		s.logger.Debug().Time("now", now).Msg("Outside schedule window, skipping run")
		return
	}

	summary, err := s.config.Runner.Run(ctx)
	switch {
	case errors.Is(err, ErrRunInProgress):
		s.logger.Warn().Msg("Previous run still in progress, skipping tick")
	case err != nil:
		s.logger.Error().Err(err).Str("execution_id", summary.ExecutionID).Msg("Scheduled run failed")
	default:
		s.logger.Debug().
			Str("execution_id", summary.ExecutionID).
			Int("published", len(summary.Published)).
			Msg("Scheduled run complete")
	}
}
