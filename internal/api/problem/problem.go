package problem

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"
)

const contentType = "application/json"

// FieldError names one rejected input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Envelope is the error body every funnel endpoint returns.
type Envelope struct {
	Success bool         `json:"success"`
	Error   string       `json:"error"`
	Message string       `json:"message,omitempty"`
	Field   string       `json:"field,omitempty"`
	Errors  []FieldError `json:"errors,omitempty"`
}

type Option func(*Envelope)

func WithMessage(message string) Option {
	return func(e *Envelope) {
		e.Message = message
	}
}

func WithField(field string) Option {
	return func(e *Envelope) {
		e.Field = field
	}
}

func WithErrors(errs []FieldError) Option {
	return func(e *Envelope) {
		e.Errors = errs
	}
}

// Write logs err and sends the envelope with the given status. Outside
// development and test, server error detail is replaced with the status text.
func Write(w http.ResponseWriter, r *http.Request, status int, title string, err error, env string, opts ...Option) {
	envelope := Envelope{Error: title}
	for _, opt := range opts {
		opt(&envelope)
	}

	if envelope.Message == "" && err != nil {
		if status < 500 || env == "development" || env == "test" {
			envelope.Message = err.Error()
		} else {
			envelope.Message = http.StatusText(status)
		}
	}

	if err != nil && r != nil {
		logger := zerolog.Ctx(r.Context())
		var ev *zerolog.Event
		if status >= 500 {
			ev = logger.Error()
		} else {
			ev = logger.Warn()
		}
		ev.Err(err).
			Int("status", status).
			Str("path", r.URL.Path).
			Str("method", r.Method).
			Msg(title)
	}

	WriteEnvelope(w, status, envelope)
}

func WriteEnvelope(w http.ResponseWriter, status int, envelope Envelope) {
	payload, err := json.Marshal(envelope)
	if err != nil {
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"success":false,"error":"Internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}
