package middleware

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ignite-health/funnel/internal/config"
)

const (
	corsAllowMethods  = "GET, POST, PUT, DELETE, OPTIONS"
	corsAllowHeaders  = "Content-Type, X-API-Key, X-Request-ID"
	corsExposeHeaders = "X-Request-ID, Retry-After"
	corsMaxAge        = "86400"
)

// CORS admits browser requests from the marketing site origins listed in
// cfg, or from anywhere when AllowAllOrigins is set. Requests whose path
// starts with one of publicPrefixes pass through untouched; those handlers
// answer embedded forms on third-party sites with their own wildcard
// headers. A preflight from any origin ends here with 204.
func CORS(cfg config.CORSConfig, logger zerolog.Logger, publicPrefixes ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		allowed[normalizeOrigin(o)] = struct{}{}
	}
	admit := func(origin string) bool {
		if cfg.AllowAllOrigins {
			return true
		}
		_, ok := allowed[normalizeOrigin(origin)]
		return ok
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" || isPublicPath(r.URL.Path, publicPrefixes) {
				next.ServeHTTP(w, r)
				return
			}

			if admit(origin) {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
				h.Set("Access-Control-Allow-Methods", corsAllowMethods)
				h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
				h.Set("Access-Control-Expose-Headers", corsExposeHeaders)
				h.Set("Access-Control-Max-Age", corsMaxAge)
			} else {
				logger.Warn().Str("origin", origin).Str("method", r.Method).Str("path", r.URL.Path).
					Msg("cross-origin request from unlisted origin")
			}

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func isPublicPath(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func normalizeOrigin(o string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(o)), "/")
}
