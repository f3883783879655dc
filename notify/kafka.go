package notify

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/selk/catalogpub/cfg"
	"gitlab.com/tozd/go/errors"
)

func init() {
	RegisterTransport("kafka", func(c *cfg.Configuration, logger zerolog.Logger) (Transport, error) {
		k := c.Notify.Kafka
		if !k.Enabled {
			return nil, nil
		}
		return NewKafkaTransport(KafkaConfig{
			Brokers: k.Brokers,
			Topic:   k.Topic,
			Source:  c.PublisherID,
		})
	})
}

// KafkaMessageWriter is the subset of *kafka.Writer used by the transport
type KafkaMessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig holds configuration for KafkaTransport
type KafkaConfig struct {
	Brokers []string
	Topic   string
	Source  string // Message key and envelope source
}

// KafkaTransport writes JSON notifications to a topic, keyed by publisher so
// one publisher's alerts stay ordered on one partition.
type KafkaTransport struct {
	writer    KafkaMessageWriter
	key       []byte
	formatter Formatter
}

// NewKafkaTransport creates a Kafka transport
func NewKafkaTransport(config KafkaConfig) (*KafkaTransport, error) {
	if len(config.Brokers) == 0 {
		return nil, errors.New("kafka transport requires at least one broker address")
	}
	if config.Topic == "" {
		return nil, errors.New("kafka transport requires a topic")
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(config.Brokers...),
		Topic:                  config.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		Async:                  false,
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
	}

	return newKafkaTransport(writer, config.Source), nil
}

func newKafkaTransport(writer KafkaMessageWriter, source string) *KafkaTransport {
	return &KafkaTransport{
		writer:    writer,
		key:       []byte(source),
		formatter: JSONFormatter{Source: source},
	}
}

// Name implements Transport
func (k *KafkaTransport) Name() string { return "kafka" }

// Send implements Transport
func (k *KafkaTransport) Send(ctx context.Context, n Notification) error {
	payload, err := k.formatter.Format(n)
	if err != nil {
		return errors.Errorf("formatting notification: %w", err)
	}

	msg := kafka.Message{
		Key:   k.key,
		Value: payload,
		Headers: []kafka.Header{
			{Key: "severity", Value: []byte(n.Severity)},
			{Key: "content-type", Value: []byte(k.formatter.ContentType())},
		},
		Time: n.Timestamp,
	}

	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return errors.Errorf("writing to kafka: %w", err)
	}
	return nil
}

// Close implements Transport
func (k *KafkaTransport) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
