package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ignite-health/funnel/internal/api/middleware"
	"github.com/ignite-health/funnel/internal/api/problem"
	"github.com/ignite-health/funnel/internal/audit"
	"github.com/ignite-health/funnel/internal/domain/subscribers"
	"github.com/rs/zerolog"
)

var nopLogger = zerolog.Nop()

// AdminHandler serves segment distribution lists and subscriber preferences.
type AdminHandler struct {
	Service        *subscribers.Service
	Audit          *audit.Logger
	Env            string
	TrustedProxies []string
}

type distributionItem struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	UserType  string `json:"userType"`
	Specialty string `json:"specialty,omitempty"`
	Source    string `json:"source,omitempty"`
	CreatedAt string `json:"createdAt"`
}

type distributionResponse struct {
	Segments    []string           `json:"segments"`
	Subscribers []distributionItem `json:"subscribers"`
	Limit       int                `json:"limit"`
	Offset      int                `json:"offset"`
}

type preferencesResponse struct {
	Success     bool                     `json:"success"`
	Email       string                   `json:"email"`
	Preferences *subscribers.Preferences `json:"preferences"`
}

// Distribution handles GET /api/admin/segments/{segment}/subscribers. The
// segment value may name several segments separated by commas.
func (h *AdminHandler) Distribution(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Service == nil {
		problem.Write(w, r, http.StatusInternalServerError, "Internal server error", nil, "")
		return
	}

	var names []string
	for _, part := range strings.Split(r.PathValue("segment"), ",") {
		if part = strings.TrimSpace(part); part != "" {
			names = append(names, part)
		}
	}
	if len(names) == 0 {
		problem.Write(w, r, http.StatusBadRequest, "Validation failed", nil, h.Env,
			problem.WithField("segment"), problem.WithMessage("Segment is required"))
		return
	}

	limit, err := queryInt(r, "limit", 100)
	if err != nil {
		problem.Write(w, r, http.StatusBadRequest, "Validation failed", err, h.Env,
			problem.WithField("limit"), problem.WithMessage("Must be a number"))
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		problem.Write(w, r, http.StatusBadRequest, "Validation failed", err, h.Env,
			problem.WithField("offset"), problem.WithMessage("Must be a number"))
		return
	}

	subs, err := h.Service.Distribution(r.Context(), names, limit, offset)
	ip := middleware.ClientIP(r, h.TrustedProxies)
	keyID := middleware.APIKeyID(r.Context())
	resource := strings.Join(names, ",")
	if err != nil {
		h.audit().Admin("segments.distribution", keyID, "segment", resource, ip, audit.StatusFailure)
		writeServiceError(w, r, err, h.Env, defaultTitles)
		return
	}
	h.audit().Admin("segments.distribution", keyID, "segment", resource, ip, audit.StatusSuccess)

	items := make([]distributionItem, 0, len(subs))
	for _, s := range subs {
		items = append(items, distributionItem{
			ID:        s.ID,
			Email:     s.Email,
			FirstName: s.FirstName,
			LastName:  s.LastName,
			UserType:  string(s.UserType),
			Specialty: s.Specialty,
			Source:    s.Source,
			CreatedAt: s.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	writeJSON(w, http.StatusOK, distributionResponse{Segments: names, Subscribers: items, Limit: limit, Offset: offset})
}

// UpdatePreferences handles PUT /api/admin/subscribers/{email}/preferences.
func (h *AdminHandler) UpdatePreferences(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Service == nil {
		problem.Write(w, r, http.StatusInternalServerError, "Internal server error", nil, "")
		return
	}

	var prefs subscribers.Preferences
	if err := decodeJSON(r, &prefs); err != nil {
		writeBadJSON(w, r, err, h.Env)
		return
	}

	addr := r.PathValue("email")
	updated, err := h.Service.UpdatePreferences(r.Context(), addr, prefs)
	ip := middleware.ClientIP(r, h.TrustedProxies)
	keyID := middleware.APIKeyID(r.Context())
	if err != nil {
		h.audit().Admin("preferences.update", keyID, "subscriber", audit.MaskEmail(addr), ip, audit.StatusFailure)
		writeServiceError(w, r, err, h.Env, defaultTitles)
		return
	}
	h.audit().Admin("preferences.update", keyID, "subscriber", audit.MaskEmail(addr), ip, audit.StatusSuccess)

	writeJSON(w, http.StatusOK, preferencesResponse{Success: true, Email: strings.ToLower(strings.TrimSpace(addr)), Preferences: updated})
}

func (h *AdminHandler) audit() *audit.Logger {
	if h.Audit != nil {
		return h.Audit
	}
	return audit.NewLogger(nopLogger)
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}
