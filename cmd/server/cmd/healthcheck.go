package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"
)

const (
	exitUnhealthy       = 1
	exitInvalidResponse = 2
)

var (
	healthcheckTimeout time.Duration
	healthcheckURL     string
	healthcheckStrict  bool
)

var healthcheckCmd = &cobra.Command{
	Use:   "healthcheck",
	Short: "Probe a running server's /health endpoint",
	Long: `Call GET /health on a running funnel and exit with its verdict, for use
as a container HEALTHCHECK.

A degraded server (relay-only mode, Mailchimp unreachable) still counts
as healthy unless --strict is given.

Exit codes:
  0  healthy
  1  unhealthy or unreachable
  2  the endpoint answered with something other than a health report`,
	Args: cobra.NoArgs,
	RunE: runHealthcheck,
}

func init() {
	healthcheckCmd.Flags().DurationVar(&healthcheckTimeout, "timeout", 5*time.Second, "request timeout")
	healthcheckCmd.Flags().StringVar(&healthcheckURL, "url", "", "health URL (default http://localhost:$SERVER_PORT/health)")
	healthcheckCmd.Flags().BoolVar(&healthcheckStrict, "strict", false, "treat a degraded server as unhealthy")
}

// HealthResponse is the subset of the /health body the probe reads.
type HealthResponse struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

type CheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// probeResult is the outcome of one /health call. exit is the process exit
// code the outcome maps to.
type probeResult struct {
	Report     HealthResponse
	HTTPStatus int
	Latency    time.Duration
	Err        error
	exit       int
}

func probeHealth(ctx context.Context, url string, timeout time.Duration, strict bool) probeResult {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return probeResult{Err: err, exit: exitUnhealthy}
	}
	start := time.Now()
	resp, err := http.DefaultClient.Do(req)
	res := probeResult{Latency: time.Since(start)}
	if err != nil {
		res.Err, res.exit = err, exitUnhealthy
		return res
	}
	defer resp.Body.Close()
	res.HTTPStatus = resp.StatusCode

	if err := json.NewDecoder(resp.Body).Decode(&res.Report); err != nil || res.Report.Status == "" {
		if err == nil {
			err = errors.New("missing status field")
		}
		res.Err = fmt.Errorf("decode health report: %w", err)
		// A 503 with a broken body is still a clear "unhealthy".
		res.exit = exitInvalidResponse
		if resp.StatusCode != http.StatusOK {
			res.exit = exitUnhealthy
		}
		return res
	}

	switch {
	case resp.StatusCode != http.StatusOK, res.Report.Status == "unhealthy":
		res.exit = exitUnhealthy
	case res.Report.Status == "degraded" && strict:
		res.exit = exitUnhealthy
	}
	return res
}

// failingChecks lists non-passing checks as "name: message", sorted by name.
func (r probeResult) failingChecks() []string {
	var out []string
	for name, c := range r.Report.Checks {
		if c.Status != "pass" {
			out = append(out, fmt.Sprintf("%s (%s): %s", name, c.Status, c.Message))
		}
	}
	sort.Strings(out)
	return out
}

func defaultHealthURL() string {
	port := os.Getenv("SERVER_PORT")
	if port == "" {
		port = "8080"
	}
	return "http://localhost:" + port + "/health"
}

func runHealthcheck(cmd *cobra.Command, args []string) error {
	url := healthcheckURL
	if url == "" {
		url = defaultHealthURL()
	}

	res := probeHealth(cmd.Context(), url, healthcheckTimeout, healthcheckStrict)
	if res.exit == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "%s (%dms)\n", res.Report.Status, res.Latency.Milliseconds())
		return nil
	}

	errOut := cmd.ErrOrStderr()
	if res.Err != nil {
		fmt.Fprintf(errOut, "health check failed: %v\n", res.Err)
	} else {
		fmt.Fprintf(errOut, "server is %s (HTTP %d)\n", res.Report.Status, res.HTTPStatus)
		for _, line := range res.failingChecks() {
			fmt.Fprintf(errOut, "  %s\n", line)
		}
	}
	return &exitError{code: res.exit}
}

// exitError asks Execute to exit with code without printing anything more.
type exitError struct {
	code int
}

func (e *exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }
