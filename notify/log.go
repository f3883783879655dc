package notify

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/selk/catalogpub/cfg"
)

func init() {
	RegisterTransport("log", func(c *cfg.Configuration, logger zerolog.Logger) (Transport, error) {
		return NewLogTransport(logger), nil
	})
}

// LogTransport writes notifications to the application log. It is always
// enabled so alerts survive when every remote transport is down.
type LogTransport struct {
	logger zerolog.Logger
}

// NewLogTransport creates a log transport
func NewLogTransport(logger zerolog.Logger) *LogTransport {
	return &LogTransport{logger: logger.With().Str("transport", "log").Logger()}
}

// Name implements Transport
func (l *LogTransport) Name() string { return "log" }

// Send implements Transport
func (l *LogTransport) Send(ctx context.Context, n Notification) error {
	var event *zerolog.Event
	switch n.Severity {
	case SeverityCritical:
		event = l.logger.Error()
	case SeverityWarning:
		event = l.logger.Warn()
	default:
		event = l.logger.Info()
	}

	if n.ExecutionID != "" {
		event = event.Str("execution_id", n.ExecutionID)
	}
	if len(n.Details) > 0 {
		details := zerolog.Dict()
		for _, k := range n.DetailKeys() {
			details.Str(k, n.Details[k])
		}
		event = event.Dict("details", details)
	}

	event.
		Str("severity", string(n.Severity)).
		Str("title", n.Title).
		Msg(n.Message)
	return nil
}

// Close implements Transport
func (l *LogTransport) Close() error { return nil }
