package notify

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/selk/catalogpub/cfg"
	"github.com/wneessen/go-mail"
	"gitlab.com/tozd/go/errors"
)

func init() {
	RegisterTransport("email", func(c *cfg.Configuration, logger zerolog.Logger) (Transport, error) {
		e := c.Notify.Email
		if !e.Enabled {
			return nil, nil
		}
		return NewEmailTransport(EmailConfig{
			Server:     e.SMTPServer,
			Port:       e.SMTPPort,
			Sender:     e.Sender,
			Password:   e.Password,
			Recipients: e.Recipients,
			Timeout:    time.Duration(c.Notify.TimeoutSeconds) * time.Second,
		})
	})
}

// EmailConfig holds SMTP settings
type EmailConfig struct {
	Server     string
	Port       int
	Sender     string
	Password   string
	Recipients []string
	Timeout    time.Duration
}

// EmailTransport sends each notification as a multipart email over SMTP
// with STARTTLS.
type EmailTransport struct {
	config EmailConfig
	client *mail.Client
}

// NewEmailTransport creates an email transport. No connection is opened
// until the first Send.
func NewEmailTransport(config EmailConfig) (*EmailTransport, error) {
	if config.Server == "" {
		return nil, errors.New("email transport requires an smtp server")
	}
	if config.Sender == "" {
		return nil, errors.New("email transport requires a sender")
	}
	if len(config.Recipients) == 0 {
		return nil, errors.New("email transport requires at least one recipient")
	}

	opts := []mail.Option{
		mail.WithPort(config.Port),
		mail.WithTLSPortPolicy(mail.TLSMandatory),
	}
	if config.Timeout > 0 {
		opts = append(opts, mail.WithTimeout(config.Timeout))
	}
	if config.Password != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthLogin),
			mail.WithUsername(config.Sender),
			mail.WithPassword(config.Password),
		)
	}

	client, err := mail.NewClient(config.Server, opts...)
	if err != nil {
		return nil, errors.Errorf("creating smtp client: %w", err)
	}

	return &EmailTransport{config: config, client: client}, nil
}

// Name implements Transport
func (e *EmailTransport) Name() string { return "email" }

// Send implements Transport
func (e *EmailTransport) Send(ctx context.Context, n Notification) error {
	msg, err := e.message(n)
	if err != nil {
		return err
	}
	if err := e.client.DialAndSendWithContext(ctx, msg); err != nil {
		return errors.Errorf("sending email: %w", err)
	}
	return nil
}

func (e *EmailTransport) message(n Notification) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(e.config.Sender); err != nil {
		return nil, errors.Errorf("invalid sender: %w", err)
	}
	if err := msg.To(e.config.Recipients...); err != nil {
		return nil, errors.Errorf("invalid recipients: %w", err)
	}
	msg.Subject(n.Subject())
	msg.SetDate()

	text, _ := TextFormatter{}.Format(n)
	body, _ := HTMLFormatter{}.Format(n)
	msg.SetBodyString(mail.TypeTextPlain, string(text))
	msg.AddAlternativeString(mail.TypeTextHTML, string(body))
	return msg, nil
}

// Close implements Transport
func (e *EmailTransport) Close() error {
	return nil
}
