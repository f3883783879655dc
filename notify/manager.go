package notify

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/selk/catalogpub/telemetry"
	"gitlab.com/tozd/go/errors"
)

// Defaults for ManagerConfig
const (
	DefaultQueueSize       = 64
	DefaultDeliveryTimeout = 15 * time.Second
)

// Transport delivers notifications to one destination
type Transport interface {
	// Name identifies the transport in logs and metrics
	Name() string
	// Send delivers n, honoring ctx for cancellation and timeout
	Send(ctx context.Context, n Notification) error
	// Close releases any resources held by the transport
	Close() error
}

// ManagerConfig configures a Manager
type ManagerConfig struct {
	QueueSize       int           // Pending notifications; further ones are dropped
	DeliveryTimeout time.Duration // Per transport, per notification
	Now             func() time.Time
}

// Manager queues notifications and delivers them in the background
type Manager struct {
	transports []Transport
	queue      chan Notification
	timeout    time.Duration
	now        func() time.Time
	logger     zerolog.Logger
	metrics    *telemetry.Metrics

	// Guards queue send against close
	mu     sync.RWMutex
	closed bool

	dropped atomic.Uint64
	done    chan struct{}
}

// NewManager starts the dispatcher. The manager owns the transports and
// closes them on Close.
func NewManager(transports []Transport, config ManagerConfig, logger zerolog.Logger, metrics *telemetry.Metrics) *Manager {
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultQueueSize
	}
	if config.DeliveryTimeout <= 0 {
		config.DeliveryTimeout = DefaultDeliveryTimeout
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if metrics == nil {
		metrics = telemetry.NoopMetrics()
	}

	m := &Manager{
		transports: transports,
		queue:      make(chan Notification, config.QueueSize),
		timeout:    config.DeliveryTimeout,
		now:        config.Now,
		logger:     logger.With().Str("component", "notify").Logger(),
		metrics:    metrics,
		done:       make(chan struct{}),
	}

	go m.dispatch()
	return m
}

// Notify queues n without blocking. When the queue is full or the manager
// is closed the notification is dropped.
func (m *Manager) Notify(n Notification) {
	if n.Timestamp.IsZero() {
		n.Timestamp = m.now()
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		m.drop(n, "closed")
		return
	}

	select {
	case m.queue <- n:
	default:
		m.drop(n, "queue full")
	}
}

func (m *Manager) drop(n Notification, reason string) {
	m.dropped.Add(1)
	m.metrics.NotificationsTotal.With("queue", telemetry.ResultDropped).Inc()
	m.logger.Warn().
		Str("reason", reason).
		Str("severity", string(n.Severity)).
		Str("title", n.Title).
		Msg("Notification dropped")
}

// Dropped is the number of notifications discarded so far
func (m *Manager) Dropped() uint64 {
	return m.dropped.Load()
}

// Transports returns the names of the configured transports
func (m *Manager) Transports() []string {
	names := make([]string, 0, len(m.transports))
	for _, t := range m.transports {
		names = append(names, t.Name())
	}
	return names
}

func (m *Manager) dispatch() {
	defer close(m.done)

	for n := range m.queue {
		for _, t := range m.transports {
			m.deliver(t, n)
		}
	}
}

func (m *Manager) deliver(t Transport, n Notification) {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	err := safeSend(ctx, t, n)
	if err != nil {
		m.metrics.NotificationsTotal.With(t.Name(), telemetry.ResultError).Inc()
		m.logger.Warn().
			Err(err).
			Str("transport", t.Name()).
			Str("title", n.Title).
			Msg("Notification delivery failed")
		return
	}

	m.metrics.NotificationsTotal.With(t.Name(), telemetry.ResultSuccess).Inc()
}

// safeSend turns a transport panic into an error so one bad transport
// cannot stop the dispatcher.
func safeSend(ctx context.Context, t Transport, n Notification) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("transport %s panicked: %v", t.Name(), r)
		}
	}()
	return t.Send(ctx, n)
}

// Close stops accepting notifications, delivers what is already queued and
// closes every transport. ctx bounds the wait for the queue to drain. When it
// expires the transports are closed only after the dispatcher returns.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.queue)
	m.mu.Unlock()

	select {
	case <-m.done:
	case <-ctx.Done():
		m.logger.Warn().Int("pending", len(m.queue)).Msg("Notification queue not drained, closing transports later")
		go func() {
			<-m.done
			m.closeTransports()
		}()
		return errors.Errorf("notifications not drained: %w", ctx.Err())
	}

	return m.closeTransports()
}

func (m *Manager) closeTransports() error {
	var errs []error
	for _, t := range m.transports {
		if err := t.Close(); err != nil {
			m.logger.Warn().Err(err).Str("transport", t.Name()).Msg("Failed to close transport")
			errs = append(errs, errors.Errorf("closing %s transport: %w", t.Name(), err))
		}
	}
	return errors.Join(errs...)
}
