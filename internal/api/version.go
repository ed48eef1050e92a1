package api

import (
	"encoding/json"
	"net/http"
	"runtime"
)

// BuildInfo is the payload of GET /version. Fields come from -ldflags at
// build time; unset values fall back to "dev" and "unknown".
type BuildInfo struct {
	Service   string `json:"service"`
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
}

func newBuildInfo(version, gitCommit, buildDate string) BuildInfo {
	or := func(v, fallback string) string {
		if v == "" {
			return fallback
		}
		return v
	}
	return BuildInfo{
		Service:   "funnel",
		Version:   or(version, "dev"),
		GitCommit: or(gitCommit, "unknown"),
		BuildDate: or(buildDate, "unknown"),
		GoVersion: runtime.Version(),
	}
}

// VersionHandler serves build metadata. The body is encoded once.
func VersionHandler(version, gitCommit, buildDate string) http.Handler {
	body, _ := json.Marshal(newBuildInfo(version, gitCommit, buildDate))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			_, _ = w.Write(body)
		}
	})
}
