package handlers

import (
	"net/http"
	"time"

	"github.com/ignite-health/funnel/internal/api/middleware"
	"github.com/ignite-health/funnel/internal/api/problem"
	"github.com/ignite-health/funnel/internal/audit"
	"github.com/ignite-health/funnel/internal/domain/subscribers"
)

// StatsHandler serves the admin dashboard summary.
type StatsHandler struct {
	Service        *subscribers.Service
	Audit          *audit.Logger
	Env            string
	TrustedProxies []string
	Now            func() time.Time
}

type statsResponse struct {
	*subscribers.Stats
	GeneratedAt string `json:"generatedAt"`
}

// GetStats handles GET /api/stats.
func (h *StatsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Service == nil {
		problem.Write(w, r, http.StatusInternalServerError, "Internal server error", nil, "")
		return
	}
	ip := middleware.ClientIP(r, h.TrustedProxies)
	keyID := middleware.APIKeyID(r.Context())

	stats, err := h.Service.Stats(r.Context())
	if err != nil {
		h.audit().Admin("stats.read", keyID, "stats", "", ip, audit.StatusFailure)
		writeServiceError(w, r, err, h.Env, titles{upstream: "Failed to retrieve statistics"})
		return
	}
	h.audit().Admin("stats.read", keyID, "stats", "", ip, audit.StatusSuccess)

	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	w.Header().Set("Cache-Control", "private, no-store")
	writeJSON(w, http.StatusOK, statsResponse{Stats: stats, GeneratedAt: now().UTC().Format(time.RFC3339)})
}

func (h *StatsHandler) audit() *audit.Logger {
	if h.Audit != nil {
		return h.Audit
	}
	return audit.NewLogger(nopLogger)
}
