package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProbeHealth(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		body       any
		strict     bool
		wantExit   int
		wantStatus string
		wantErr    bool
	}{
		{
			name:       "healthy",
			statusCode: http.StatusOK,
			body:       HealthResponse{Status: "healthy", Checks: map[string]CheckResult{"database": {Status: "pass"}}},
			wantStatus: "healthy",
		},
		{
			name:       "relay-only mode is degraded but serving",
			statusCode: http.StatusOK,
			body:       HealthResponse{Status: "degraded", Checks: map[string]CheckResult{"database": {Status: "warn"}}},
			wantStatus: "degraded",
		},
		{
			name:       "degraded under strict",
			statusCode: http.StatusOK,
			body:       HealthResponse{Status: "degraded"},
			strict:     true,
			wantExit:   exitUnhealthy,
			wantStatus: "degraded",
		},
		{
			name:       "unhealthy",
			statusCode: http.StatusServiceUnavailable,
			body:       HealthResponse{Status: "unhealthy"},
			wantExit:   exitUnhealthy,
			wantStatus: "unhealthy",
		},
		{
			name:       "not a health report",
			statusCode: http.StatusOK,
			body:       "<html>proxy error</html>",
			wantExit:   exitInvalidResponse,
			wantErr:    true,
		},
		{
			name:       "json without status",
			statusCode: http.StatusOK,
			body:       map[string]string{"hello": "world"},
			wantExit:   exitInvalidResponse,
			wantErr:    true,
		},
		{
			name:       "broken body on 503",
			statusCode: http.StatusServiceUnavailable,
			body:       "upstream connect error",
			wantExit:   exitUnhealthy,
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
				if s, ok := tt.body.(string); ok {
					fmt.Fprint(w, s)
					return
				}
				_ = json.NewEncoder(w).Encode(tt.body)
			}))
			defer srv.Close()

			res := probeHealth(context.Background(), srv.URL, 2*time.Second, tt.strict)

			assert.Equal(t, tt.wantExit, res.exit)
			assert.Equal(t, tt.statusCode, res.HTTPStatus)
			if tt.wantErr {
				assert.Error(t, res.Err)
				return
			}
			assert.NoError(t, res.Err)
			assert.Equal(t, tt.wantStatus, res.Report.Status)
		})
	}
}

func TestProbeHealth_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	res := probeHealth(context.Background(), srv.URL, 100*time.Millisecond, false)
	assert.Error(t, res.Err)
	assert.Equal(t, exitUnhealthy, res.exit)
}

func TestProbeResult_FailingChecks(t *testing.T) {
	res := probeResult{Report: HealthResponse{Checks: map[string]CheckResult{
		"webhook":   {Status: "warn", Message: "No webhook endpoints configured"},
		"database":  {Status: "fail", Message: "Database connection refused"},
		"mailchimp": {Status: "pass"},
	}}}
	assert.Equal(t, []string{
		"database (fail): Database connection refused",
		"webhook (warn): No webhook endpoints configured",
	}, res.failingChecks())
}

func TestHealthcheckCommand_ExitCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(HealthResponse{Status: "unhealthy", Checks: map[string]CheckResult{
			"migrations": {Status: "fail", Message: "Migrations table not found"},
		}})
	}))
	defer srv.Close()
	t.Cleanup(func() { healthcheckURL = "" })

	output, err := executeRoot(t, "healthcheck", "--url", srv.URL)

	var exit *exitError
	require.ErrorAs(t, err, &exit)
	assert.Equal(t, exitUnhealthy, exit.code)
	assert.Contains(t, output, "server is unhealthy (HTTP 503)")
	assert.Contains(t, output, "migrations (fail): Migrations table not found")
}

func TestDefaultHealthURL(t *testing.T) {
	t.Setenv("SERVER_PORT", "")
	assert.Equal(t, "http://localhost:8080/health", defaultHealthURL())

	t.Setenv("SERVER_PORT", "9090")
	assert.Equal(t, "http://localhost:9090/health", defaultHealthURL())
}
