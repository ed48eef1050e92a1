package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/ignite-health/funnel/internal/api/middleware"
	"github.com/ignite-health/funnel/internal/api/problem"
	"github.com/ignite-health/funnel/internal/domain/subscribers"
)

const maxFormBytes = 64 << 10

// titles names the envelope error for each failure class of one endpoint.
type titles struct {
	validation string
	suspicious string
	upstream   string
}

var defaultTitles = titles{
	validation: "Validation failed",
	suspicious: "Invalid input",
	upstream:   "Service unavailable",
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// decodeJSON reads a single JSON document of at most maxFormBytes.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxFormBytes))
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("unexpected data after JSON body")
	}
	return nil
}

func requestMeta(r *http.Request, trustedProxyCIDRs []string) subscribers.Meta {
	return subscribers.Meta{
		IP:        middleware.ClientIP(r, trustedProxyCIDRs),
		UserAgent: strings.TrimSpace(r.UserAgent()),
		Referer:   strings.TrimSpace(r.Referer()),
	}
}

func writeBadJSON(w http.ResponseWriter, r *http.Request, err error, env string) {
	problem.Write(w, r, http.StatusBadRequest, "Invalid request", err, env,
		problem.WithMessage("Request body must be valid JSON"))
}

// writeServiceError maps subscriber service errors onto the envelope.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error, env string, t titles) {
	var (
		verrs subscribers.ValidationErrors
		verr  subscribers.ValidationError
	)
	switch {
	case errors.As(err, &verrs):
		fields := make([]problem.FieldError, 0, len(verrs))
		for _, v := range verrs {
			fields = append(fields, problem.FieldError{Field: v.Field, Message: v.Message})
		}
		opts := []problem.Option{problem.WithErrors(fields)}
		if len(verrs) > 0 {
			opts = append(opts, problem.WithMessage(verrs[0].Message), problem.WithField(verrs[0].Field))
		}
		problem.Write(w, r, http.StatusBadRequest, t.validation, err, env, opts...)
	case errors.As(err, &verr):
		problem.Write(w, r, http.StatusBadRequest, t.validation, err, env,
			problem.WithMessage(verr.Message), problem.WithField(verr.Field))
	case errors.Is(err, subscribers.ErrSuspiciousInput):
		problem.Write(w, r, http.StatusBadRequest, t.suspicious, err, env,
			problem.WithMessage("Input contains disallowed content"))
	case errors.Is(err, subscribers.ErrAlreadySubscribed):
		problem.Write(w, r, http.StatusConflict, "Already subscribed", err, env,
			problem.WithMessage("This email is already subscribed to the newsletter"))
	case errors.Is(err, subscribers.ErrNotFound):
		problem.Write(w, r, http.StatusNotFound, "Not found", err, env)
	case errors.Is(err, subscribers.ErrUpstreamUnavailable):
		problem.Write(w, r, http.StatusServiceUnavailable, t.upstream, err, env)
	case errors.Is(err, subscribers.ErrMirrorDisabled):
		problem.Write(w, r, http.StatusServiceUnavailable, "Service unavailable", err, env,
			problem.WithMessage("Storage is not configured"))
	default:
		problem.Write(w, r, http.StatusInternalServerError, "Internal server error", err, env)
	}
}
