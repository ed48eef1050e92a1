package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// loggedResponse captures what RequestLogging reports about a response.
type loggedResponse struct {
	http.ResponseWriter
	status int
	size   int
}

func (lr *loggedResponse) WriteHeader(code int) {
	if lr.status == 0 {
		lr.status = code
	}
	lr.ResponseWriter.WriteHeader(code)
}

func (lr *loggedResponse) Write(p []byte) (int, error) {
	if lr.status == 0 {
		lr.status = http.StatusOK
	}
	n, err := lr.ResponseWriter.Write(p)
	lr.size += n
	return n, err
}

func (lr *loggedResponse) Unwrap() http.ResponseWriter { return lr.ResponseWriter }

func levelFor(status int) zerolog.Level {
	switch {
	case status >= 500:
		return zerolog.ErrorLevel
	case status >= 400:
		return zerolog.WarnLevel
	}
	return zerolog.InfoLevel
}

// RequestLogging writes one access log line per request through the
// request-scoped logger. Bodies and query strings are never logged since
// they carry subscriber addresses.
func RequestLogging(trustedProxyCIDRs []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lr := &loggedResponse{ResponseWriter: w}
			next.ServeHTTP(lr, r)

			if lr.status == 0 {
				lr.status = http.StatusOK
			}
			ev := LoggerFromContext(r.Context()).WithLevel(levelFor(lr.status)).
				Str("method", r.Method).
				Str("path", r.URL.Path)
			if r.Pattern != "" {
				_, route, _ := strings.Cut(r.Pattern, " ")
				if route == "" {
					route = r.Pattern
				}
				ev = ev.Str("route", route)
			}
			ev.Int("status", lr.status).
				Int("bytes", lr.size).
				Dur("duration", time.Since(start)).
				Str("client_ip", ClientIP(r, trustedProxyCIDRs)).
				Msg("request")
		})
	}
}
