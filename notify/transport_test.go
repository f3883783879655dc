package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/selk/catalogpub/cfg"
	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample() Notification {
	return Notification{
		Severity:    SeverityCritical,
		Title:       "FTP",
		Message:     "Error al subir a FTP",
		Details:     map[string]string{"archivo": "ROPA LABORAL.pdf", "nombre_normalizado": "ROPA_LABORAL.pdf"},
		ExecutionID: "exec_0123456789ab_1700000000",
		Timestamp:   time.Date(2024, 6, 3, 8, 15, 0, 0, time.UTC),
	}
}

func TestNotificationText(t *testing.T) {
	text := sample().Text()

	assert.True(t, strings.HasPrefix(text, "[ERROR CRÍTICO] FTP\n"))
	assert.Contains(t, text, "Error al subir a FTP")
	assert.Contains(t, text, "archivo: ROPA LABORAL.pdf\nnombre_normalizado: ROPA_LABORAL.pdf\n")
	assert.Contains(t, text, "Ejecución: exec_0123456789ab_1700000000")
	assert.Contains(t, text, "Fecha: 2024-06-03 08:15:00")
}

func TestJSONFormatter(t *testing.T) {
	data, err := JSONFormatter{Source: "pub-1"}.Format(sample())
	require.NoError(t, err)

	var decoded struct {
		Type    string       `json:"type"`
		Source  string       `json:"source"`
		Payload Notification `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "catalogpub.notification.critical", decoded.Type)
	assert.Equal(t, "pub-1", decoded.Source)
	assert.Equal(t, "ROPA_LABORAL.pdf", decoded.Payload.Details["nombre_normalizado"])
}

func TestHTMLFormatterEscapes(t *testing.T) {
	n := sample()
	n.Message = "<script>alert(1)</script>"
	data, err := HTMLFormatter{}.Format(n)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "<script>")
	assert.Contains(t, string(data), "&lt;script&gt;")
}

func TestLogTransport(t *testing.T) {
	var buf bytes.Buffer
	lt := NewLogTransport(zerolog.New(&buf))

	require.NoError(t, lt.Send(context.Background(), sample()))

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "error", line["level"])
	assert.Equal(t, "FTP", line["title"])
	assert.Equal(t, "exec_0123456789ab_1700000000", line["execution_id"])
	details, ok := line["details"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "ROPA LABORAL.pdf", details["archivo"])
}

func TestSlackTransport(t *testing.T) {
	var received slack.WebhookMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &received)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	st, err := NewSlackTransport(SlackConfig{WebhookURL: srv.URL, Channel: "#catalog-publication", Username: "Catalog-Bot"})
	require.NoError(t, err)

	require.NoError(t, st.Send(context.Background(), sample()))
	assert.Equal(t, "#catalog-publication", received.Channel)
	assert.Equal(t, "Catalog-Bot", received.Username)
	assert.Contains(t, received.Text, "FTP")
	require.Len(t, received.Attachments, 1)
	assert.Equal(t, "Error al subir a FTP", received.Attachments[0].Text)
	assert.Len(t, received.Attachments[0].Fields, 3)
}

func TestSlackTransportHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	st, err := NewSlackTransport(SlackConfig{WebhookURL: srv.URL})
	require.NoError(t, err)
	assert.Error(t, st.Send(context.Background(), sample()))

	_, err = NewSlackTransport(SlackConfig{})
	assert.Error(t, err)
}

func TestEmailTransportMessage(t *testing.T) {
	et, err := NewEmailTransport(EmailConfig{
		Server:     "smtp.example.com",
		Port:       587,
		Sender:     "bot@example.com",
		Recipients: []string{"marketing@example.com", "it@example.com"},
	})
	require.NoError(t, err)

	msg, err := et.message(sample())
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = msg.WriteTo(&buf)
	require.NoError(t, err)
	raw := buf.String()
	assert.Contains(t, raw, "marketing@example.com")
	assert.Contains(t, raw, "it@example.com")
	assert.Contains(t, raw, "Content-Type: text/plain")
	assert.Contains(t, raw, "Content-Type: text/html")

	_, err = NewEmailTransport(EmailConfig{Server: "smtp.example.com", Sender: "bot@example.com"})
	assert.Error(t, err)
}

type fakeNATS struct {
	msgs    []*nats.Msg
	flushed int
	closed  bool
}

func (f *fakeNATS) PublishMsg(m *nats.Msg) error {
	f.msgs = append(f.msgs, m)
	return nil
}

func (f *fakeNATS) FlushWithContext(ctx context.Context) error {
	f.flushed++
	return nil
}

func (f *fakeNATS) Close() { f.closed = true }

func TestNATSTransport(t *testing.T) {
	conn := &fakeNATS{}
	nt := NewNATSTransport(conn, "catalogpub.notifications", JSONFormatter{Source: "pub-1"})

	require.NoError(t, nt.Send(context.Background(), sample()))
	require.Len(t, conn.msgs, 1)
	assert.Equal(t, "catalogpub.notifications.critical", conn.msgs[0].Subject)
	assert.Equal(t, "application/json", conn.msgs[0].Header.Get("Content-Type"))
	assert.Equal(t, "exec_0123456789ab_1700000000", conn.msgs[0].Header.Get("Execution-Id"))
	assert.Equal(t, 1, conn.flushed)

	require.NoError(t, nt.Close())
	assert.True(t, conn.closed)
}

type fakeKafkaWriter struct {
	msgs   []kafka.Message
	closed bool
}

func (f *fakeKafkaWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeKafkaWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafkaTransport(t *testing.T) {
	w := &fakeKafkaWriter{}
	kt := newKafkaTransport(w, "pub-1")

	n := sample()
	require.NoError(t, kt.Send(context.Background(), n))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, []byte("pub-1"), w.msgs[0].Key)
	assert.True(t, w.msgs[0].Time.Equal(n.Timestamp))
	assert.Equal(t, "severity", w.msgs[0].Headers[0].Key)
	assert.Equal(t, []byte("critical"), w.msgs[0].Headers[0].Value)

	require.NoError(t, kt.Close())
	assert.True(t, w.closed)

	_, err := NewKafkaTransport(KafkaConfig{Topic: "t"})
	assert.Error(t, err)
	_, err = NewKafkaTransport(KafkaConfig{Brokers: []string{"localhost:9092"}})
	assert.Error(t, err)
}

func TestBuildTransportsDefaults(t *testing.T) {
	c := cfg.Default()
	transports, err := BuildTransports(c, zerolog.Nop())
	require.NoError(t, err)
	require.Len(t, transports, 1)
	assert.Equal(t, "log", transports[0].Name())
}

func TestBuildTransportsSlackMisconfigured(t *testing.T) {
	c := cfg.Default()
	c.Notify.Slack.Enabled = true
	c.Notify.Slack.WebhookURL = ""
	_, err := BuildTransports(c, zerolog.Nop())
	assert.Error(t, err)
}

func TestRegisteredTransports(t *testing.T) {
	assert.Equal(t, []string{"email", "kafka", "log", "nats", "slack"}, RegisteredTransports())
}
