package middleware

import (
	"context"
	"net/http"
	"regexp"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

type contextKey int

const (
	requestIDKey contextKey = iota
	clientIPKey
	apiKeyIDKey
)

const requestIDHeader = "X-Request-ID"

// Caller-supplied IDs are kept only if they are short and header-safe.
var validRequestID = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// CorrelationID tags each request with an ID, taken from X-Request-ID when
// the caller sent a usable one and a fresh ULID otherwise. The ID is echoed
// in the response and carried by the request-scoped zerolog logger.
func CorrelationID(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(requestIDHeader)
			if !validRequestID.MatchString(id) {
				id = ulid.Make().String()
			}
			w.Header().Set(requestIDHeader, id)

			l := logger.With().Str("request_id", id).Logger()
			ctx := l.WithContext(context.WithValue(r.Context(), requestIDKey, id))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetRequestID returns the ID assigned by CorrelationID, or "".
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// LoggerFromContext returns the request logger. Outside CorrelationID it
// returns a disabled logger rather than zerolog's global default.
func LoggerFromContext(ctx context.Context) *zerolog.Logger {
	return zerolog.Ctx(ctx)
}
