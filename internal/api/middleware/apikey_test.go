package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestAPIKey(t *testing.T) {
	var gotID string
	handler := APIKey([]string{"alpha-key", " beta-key "}, "test")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID = APIKeyID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name string
		key  string
		want int
	}{
		{name: "missing", key: "", want: http.StatusUnauthorized},
		{name: "invalid", key: "nope", want: http.StatusForbidden},
		{name: "valid", key: "alpha-key", want: http.StatusOK},
		{name: "valid trimmed", key: "beta-key", want: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotID = ""
			req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
			if tt.key != "" {
				req.Header.Set("X-API-Key", tt.key)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusOK {
				assert.Len(t, gotID, 8)
			}
		})
	}
}

func TestAPIKey_NoKeysConfiguredRejectsAll(t *testing.T) {
	handler := APIKey(nil, "test")(okHandler())
	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	req.Header.Set("X-API-Key", "anything")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAPIKeyID_KeptApartFromRequestID(t *testing.T) {
	var keyID, requestID string
	inner := APIKey([]string{"alpha-key"}, "test")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		keyID = APIKeyID(r.Context())
		requestID = GetRequestID(r.Context())
	}))
	handler := CorrelationID(zerolog.Nop())(inner)

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	req.Header.Set("X-API-Key", "alpha-key")
	req.Header.Set("X-Request-ID", "req-42")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "req-42", requestID)
	assert.Len(t, keyID, 8)
	assert.NotEqual(t, requestID, keyID)
}
