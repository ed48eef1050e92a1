package middleware

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/ignite-health/funnel/internal/api/problem"
)

// APIKey guards admin routes with the X-API-Key header. A missing key is 401
// and an unknown key 403. Keys are compared in constant time.
func APIKey(keys []string, env string) func(http.Handler) http.Handler {
	digests := make([][32]byte, 0, len(keys))
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			digests = append(digests, sha256.Sum256([]byte(k)))
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented := strings.TrimSpace(r.Header.Get("X-API-Key"))
			if presented == "" {
				problem.Write(w, r, http.StatusUnauthorized, "Unauthorized", nil, env,
					problem.WithMessage("X-API-Key header is required"))
				return
			}

			digest := sha256.Sum256([]byte(presented))
			matched := 0
			for _, d := range digests {
				matched |= subtle.ConstantTimeCompare(digest[:], d[:])
			}
			if matched != 1 {
				LoggerFromContext(r.Context()).Warn().Str("path", r.URL.Path).Msg("rejected api key")
				problem.Write(w, r, http.StatusForbidden, "Forbidden", nil, env,
					problem.WithMessage("Invalid API key"))
				return
			}

			ctx := context.WithValue(r.Context(), apiKeyIDKey, keyID(digest))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// APIKeyID returns a short non-secret identifier of the key that
// authenticated the request.
func APIKeyID(ctx context.Context) string {
	id, _ := ctx.Value(apiKeyIDKey).(string)
	return id
}

func keyID(digest [32]byte) string {
	return hex.EncodeToString(digest[:4])
}
