// Package notify delivers human-readable alerts about publication runs.
//
// Delivery is fire-and-forget: callers hand a Notification to a Manager,
// which queues it and returns immediately. A single dispatcher goroutine
// delivers queued notifications to every configured transport in issue
// order. Transport failures are logged and counted, never returned.
package notify

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Severity of a notification
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeveritySuccess  Severity = "success"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Label is the human-facing severity tag used in message subjects
func (s Severity) Label() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeveritySuccess:
		return "OK"
	case SeverityWarning:
		return "AVISO"
	case SeverityCritical:
		return "ERROR CRÍTICO"
	}
	return strings.ToUpper(string(s))
}

// Icon is the emoji prefix used by chat transports
func (s Severity) Icon() string {
	switch s {
	case SeverityInfo:
		return "ℹ️"
	case SeveritySuccess:
		return "✅"
	case SeverityWarning:
		return "⚠️"
	case SeverityCritical:
		return "🚨"
	}
	return ""
}

// Notification is a single alert
type Notification struct {
	Severity    Severity          `json:"severity"`
	Title       string            `json:"title"`
	Message     string            `json:"message"`
	Details     map[string]string `json:"details,omitempty"`
	ExecutionID string            `json:"execution_id,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
}

// Subject is a one-line summary suitable for an email subject
func (n Notification) Subject() string {
	return fmt.Sprintf("[%s] %s", n.Severity.Label(), n.Title)
}

// DetailKeys returns the detail keys in sorted order
func (n Notification) DetailKeys() []string {
	keys := make([]string, 0, len(n.Details))
	for k := range n.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Text renders the notification as plain text
func (n Notification) Text() string {
	var b strings.Builder
	b.WriteString(n.Subject())
	b.WriteString("\n\n")
	b.WriteString(n.Message)
	b.WriteString("\n")

	if len(n.Details) > 0 {
		b.WriteString("\n")
		for _, k := range n.DetailKeys() {
			fmt.Fprintf(&b, "%s: %s\n", k, n.Details[k])
		}
	}

	if n.ExecutionID != "" {
		fmt.Fprintf(&b, "\nEjecución: %s\n", n.ExecutionID)
	}
	fmt.Fprintf(&b, "Fecha: %s\n", n.Timestamp.Format("2006-01-02 15:04:05"))
	return b.String()
}

// Notifier is what publishing code depends on
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to Notifier
type NotifierFunc func(n Notification)

// Notify implements Notifier
func (f NotifierFunc) Notify(n Notification) { f(n) }
