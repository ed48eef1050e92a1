// Package audit records administrative and consent-affecting actions as
// structured log entries.
package audit

import (
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Entry is a single audit record.
type Entry struct {
	Timestamp    time.Time         `json:"timestamp"`
	Action       string            `json:"action"`
	Actor        string            `json:"actor"`
	ResourceType string            `json:"resource_type,omitempty"`
	ResourceID   string            `json:"resource_id,omitempty"`
	IPAddress    string            `json:"ip_address,omitempty"`
	Status       string            `json:"status"`
	Details      map[string]string `json:"details,omitempty"`
}

func (e Entry) MarshalZerologObject(ev *zerolog.Event) {
	ev.Time("timestamp", e.Timestamp).
		Str("action", e.Action).
		Str("actor", e.Actor).
		Str("status", e.Status)
	if e.ResourceType != "" {
		ev.Str("resource_type", e.ResourceType)
	}
	if e.ResourceID != "" {
		ev.Str("resource_id", e.ResourceID)
	}
	if e.IPAddress != "" {
		ev.Str("ip_address", e.IPAddress)
	}
	if len(e.Details) > 0 {
		d := zerolog.Dict()
		for k, v := range e.Details {
			d.Str(k, v)
		}
		ev.Dict("details", d)
	}
}

type Logger struct {
	logger zerolog.Logger
}

func NewLogger(logger zerolog.Logger) *Logger {
	return &Logger{logger: logger.With().Str("component", "audit").Logger()}
}

func (l *Logger) Log(entry Entry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if entry.Status == "" {
		entry.Status = StatusSuccess
	}
	l.logger.Info().Object("audit", entry).Msg("audit")
}

// Subscription records a consent change for a subscriber. The email is
// masked before it reaches the log.
func (l *Logger) Subscription(action, email, ip, status string, details map[string]string) {
	l.Log(Entry{
		Action:       action,
		Actor:        "subscriber",
		ResourceType: "subscriber",
		ResourceID:   MaskEmail(email),
		IPAddress:    ip,
		Status:       status,
		Details:      details,
	})
}

// Admin records an operation performed with an admin API key.
func (l *Logger) Admin(action, keyID, resourceType, resourceID, ip, status string) {
	l.Log(Entry{
		Action:       action,
		Actor:        keyID,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		IPAddress:    ip,
		Status:       status,
	})
}

// MaskEmail keeps the first character of the local part and the domain:
// "jane@example.com" becomes "j***@example.com".
func MaskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		if email == "" {
			return ""
		}
		return "***"
	}
	return email[:1] + "***" + email[at:]
}
