package notify

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/selk/catalogpub/cfg"
	"github.com/slack-go/slack"
	"gitlab.com/tozd/go/errors"
)

func init() {
	RegisterTransport("slack", func(c *cfg.Configuration, logger zerolog.Logger) (Transport, error) {
		if !c.Notify.Slack.Enabled {
			return nil, nil
		}
		return NewSlackTransport(SlackConfig{
			WebhookURL: c.Notify.Slack.WebhookURL,
			Channel:    c.Notify.Slack.Channel,
			Username:   c.Notify.Slack.Username,
		})
	})
}

// SlackConfig holds incoming-webhook settings
type SlackConfig struct {
	WebhookURL string
	Channel    string
	Username   string
}

// SlackTransport posts notifications to a Slack incoming webhook
type SlackTransport struct {
	config SlackConfig
	post   func(ctx context.Context, url string, msg *slack.WebhookMessage) error
}

// NewSlackTransport creates a Slack transport
func NewSlackTransport(config SlackConfig) (*SlackTransport, error) {
	if config.WebhookURL == "" {
		return nil, errors.New("slack transport requires a webhook url")
	}
	return &SlackTransport{
		config: config,
		post:   slack.PostWebhookContext,
	}, nil
}

// Name implements Transport
func (s *SlackTransport) Name() string { return "slack" }

// Send implements Transport
func (s *SlackTransport) Send(ctx context.Context, n Notification) error {
	if err := s.post(ctx, s.config.WebhookURL, s.message(n)); err != nil {
		return errors.Errorf("posting to slack: %w", err)
	}
	return nil
}

func (s *SlackTransport) message(n Notification) *slack.WebhookMessage {
	fields := make([]slack.AttachmentField, 0, len(n.Details)+1)
	for _, k := range n.DetailKeys() {
		fields = append(fields, slack.AttachmentField{
			Title: k,
			Value: n.Details[k],
			Short: len(n.Details[k]) < 40,
		})
	}
	if n.ExecutionID != "" {
		fields = append(fields, slack.AttachmentField{Title: "Ejecución", Value: n.ExecutionID})
	}

	return &slack.WebhookMessage{
		Channel:  s.config.Channel,
		Username: s.config.Username,
		Text:     n.Severity.Icon() + " *" + n.Title + "*",
		Attachments: []slack.Attachment{{
			Color:  severityColors[n.Severity],
			Text:   n.Message,
			Fields: fields,
			Footer: "catalogpub",
			Ts:     json.Number(strconv.FormatInt(n.Timestamp.Unix(), 10)),
		}},
	}
}

// Close implements Transport
func (s *SlackTransport) Close() error { return nil }
