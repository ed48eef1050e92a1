package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/ignite-health/funnel/internal/config"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestCORS_DevelopmentMode(t *testing.T) {
	handler := CORS(config.CORSConfig{AllowAllOrigins: true}, zerolog.Nop())(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_ProductionMode(t *testing.T) {
	cfg := config.CORSConfig{AllowedOrigins: []string{"https://ignitehealthsystems.com"}}
	handler := CORS(cfg, zerolog.Nop())(okHandler())

	tests := []struct {
		origin string
		want   string
	}{
		{origin: "https://ignitehealthsystems.com", want: "https://ignitehealthsystems.com"},
		{origin: "HTTPS://IGNITEHEALTHSYSTEMS.COM", want: "HTTPS://IGNITEHEALTHSYSTEMS.COM"},
		{origin: "https://evil.example", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/interest", nil)
			req.Header.Set("Origin", tt.origin)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}

func TestCORS_Preflight(t *testing.T) {
	handler := CORS(config.CORSConfig{AllowAllOrigins: true}, zerolog.Nop())(okHandler())

	req := httptest.NewRequest(http.MethodOptions, "/api/interest", nil)
	req.Header.Set("Origin", "https://ignitehealthsystems.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "X-API-Key")
}

func TestCORS_PublicPrefixPassesThrough(t *testing.T) {
	handler := CORS(config.CORSConfig{}, zerolog.Nop(), "/api/newsletter")(okHandler())

	req := httptest.NewRequest(http.MethodOptions, "/api/newsletter", nil)
	req.Header.Set("Origin", "https://partner.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
