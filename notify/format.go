package notify

import (
	"encoding/json"
	"html"
	"strings"
)

// Formatter turns a notification into a transport payload
type Formatter interface {
	Format(n Notification) ([]byte, error)
	ContentType() string
}

// JSONFormatter renders the event envelope used on message brokers
type JSONFormatter struct {
	Source string // Identifies the publisher instance
}

type jsonEnvelope struct {
	Type    string       `json:"type"`
	Source  string       `json:"source,omitempty"`
	Payload Notification `json:"payload"`
}

// Format implements Formatter
func (f JSONFormatter) Format(n Notification) ([]byte, error) {
	return json.Marshal(jsonEnvelope{
		Type:    "catalogpub.notification." + string(n.Severity),
		Source:  f.Source,
		Payload: n,
	})
}

// ContentType implements Formatter
func (f JSONFormatter) ContentType() string { return "application/json" }

// TextFormatter renders Notification.Text
type TextFormatter struct{}

// Format implements Formatter
func (TextFormatter) Format(n Notification) ([]byte, error) {
	return []byte(n.Text()), nil
}

// ContentType implements Formatter
func (TextFormatter) ContentType() string { return "text/plain; charset=utf-8" }

// HTMLFormatter renders a small HTML document for email clients
type HTMLFormatter struct{}

var severityColors = map[Severity]string{
	SeverityInfo:     "#439FE0",
	SeveritySuccess:  "#2EB67D",
	SeverityWarning:  "#ECB22E",
	SeverityCritical: "#E01E5A",
}

// Format implements Formatter
func (HTMLFormatter) Format(n Notification) ([]byte, error) {
	var b strings.Builder
	b.WriteString(`<html><body style="font-family:Arial,sans-serif">`)
	b.WriteString(`<h2 style="color:` + severityColors[n.Severity] + `">`)
	b.WriteString(html.EscapeString(n.Severity.Icon() + " " + n.Title))
	b.WriteString(`</h2><p>` + html.EscapeString(n.Message) + `</p>`)

	if len(n.Details) > 0 {
		b.WriteString(`<table cellpadding="4">`)
		for _, k := range n.DetailKeys() {
			b.WriteString(`<tr><td><b>` + html.EscapeString(k) + `</b></td><td>` + html.EscapeString(n.Details[k]) + `</td></tr>`)
		}
		b.WriteString(`</table>`)
	}

	if n.ExecutionID != "" {
		b.WriteString(`<p style="color:#888">Ejecución: ` + html.EscapeString(n.ExecutionID) + `</p>`)
	}
	b.WriteString(`<p style="color:#888">` + n.Timestamp.Format("2006-01-02 15:04:05") + `</p>`)
	b.WriteString(`</body></html>`)
	return []byte(b.String()), nil
}

// ContentType implements Formatter
func (HTMLFormatter) ContentType() string { return "text/html; charset=utf-8" }
