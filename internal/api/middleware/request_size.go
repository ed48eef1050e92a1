package middleware

import (
	"net/http"

	"github.com/ignite-health/funnel/internal/api/problem"
)

// DefaultMaxBodySize is used when no limit is configured.
const DefaultMaxBodySize int64 = 1 << 20

// RequestSize caps request bodies at maxBytes. Requests that declare a larger
// Content-Length are rejected with 413 before the handler runs; bodies that
// only turn out to be larger fail on read.
func RequestSize(maxBytes int64, env string) func(http.Handler) http.Handler {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBodySize
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				problem.Write(w, r, http.StatusRequestEntityTooLarge, "Request too large", nil, env,
					problem.WithMessage("Request body exceeds the allowed size"))
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}
