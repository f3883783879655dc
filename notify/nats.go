package notify

import (
	"context"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/selk/catalogpub/cfg"
	"gitlab.com/tozd/go/errors"
)

func init() {
	RegisterTransport("nats", func(c *cfg.Configuration, logger zerolog.Logger) (Transport, error) {
		if !c.Notify.NATS.Enabled {
			return nil, nil
		}
		if c.Notify.NATS.URL == "" {
			return nil, errors.New("nats transport requires a url")
		}
		conn, err := nats.Connect(c.Notify.NATS.URL,
			nats.Name("catalogpub-"+c.PublisherID),
			nats.RetryOnFailedConnect(true),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(time.Second),
		)
		if err != nil {
			return nil, errors.Errorf("connecting to nats: %w", err)
		}
		return NewNATSTransport(conn, c.Notify.NATS.Subject, JSONFormatter{Source: c.PublisherID}), nil
	})
}

// NATSPublisher is the subset of *nats.Conn used by the transport
type NATSPublisher interface {
	PublishMsg(m *nats.Msg) error
	FlushWithContext(ctx context.Context) error
	Close()
}

// NATSTransport publishes JSON notifications on a core NATS subject. The
// severity is appended to the subject so subscribers can filter with
// "<subject>.critical" or "<subject>.>".
type NATSTransport struct {
	conn      NATSPublisher
	subject   string
	formatter Formatter
}

// NewNATSTransport creates a NATS transport over an existing connection. The
// transport owns conn and closes it.
func NewNATSTransport(conn NATSPublisher, subject string, formatter Formatter) *NATSTransport {
	return &NATSTransport{conn: conn, subject: subject, formatter: formatter}
}

// Name implements Transport
func (t *NATSTransport) Name() string { return "nats" }

// Send implements Transport
func (t *NATSTransport) Send(ctx context.Context, n Notification) error {
	payload, err := t.formatter.Format(n)
	if err != nil {
		return errors.Errorf("formatting notification: %w", err)
	}

	msg := &nats.Msg{
		Subject: t.subject + "." + string(n.Severity),
		Data:    payload,
		Header:  nats.Header{"Content-Type": []string{t.formatter.ContentType()}},
	}
	if n.ExecutionID != "" {
		msg.Header.Set("Execution-Id", n.ExecutionID)
	}

	if err := t.conn.PublishMsg(msg); err != nil {
		return errors.Errorf("publishing to %s: %w", msg.Subject, err)
	}
	// Publish is buffered; flush so failures surface here
	if err := t.conn.FlushWithContext(ctx); err != nil {
		return errors.Errorf("flushing nats connection: %w", err)
	}
	return nil
}

// Close implements Transport
func (t *NATSTransport) Close() error {
	if t.conn != nil {
		t.conn.Close()
	}
	return nil
}
