package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/ignite-health/funnel/internal/api/problem"
)

// Recover turns a handler panic into a 500 envelope.
func Recover(env string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				LoggerFromContext(r.Context()).Error().
					Str("panic", fmt.Sprint(rec)).
					Bytes("stack", debug.Stack()).
					Str("path", r.URL.Path).
					Msg("handler panic")
				problem.Write(w, r, http.StatusInternalServerError, "Internal server error", nil, env,
					problem.WithMessage("An unexpected error occurred"))
			}()
			next.ServeHTTP(w, r)
		})
	}
}
