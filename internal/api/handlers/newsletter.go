package handlers

import (
	"errors"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/ignite-health/funnel/internal/api/problem"
	"github.com/ignite-health/funnel/internal/domain/subscribers"
	"github.com/rs/zerolog"
)

const newsletterMethods = "POST, GET, DELETE, OPTIONS"

var newsletterTitles = titles{
	validation: "Validation failed",
	suspicious: "Invalid email",
	upstream:   "Subscription failed",
}

// NewsletterHandler serves /api/newsletter and the one-click unsubscribe page.
type NewsletterHandler struct {
	Service        *subscribers.Service
	Pages          *template.Template
	Env            string
	SignupURL      string
	SiteURL        string
	TrustedProxies []string
	Now            func() time.Time
}

type newsletterResponse struct {
	Success bool                         `json:"success"`
	Message string                       `json:"message"`
	Data    *subscribers.SubscribeResult `json:"data,omitempty"`
	Email   string                       `json:"email,omitempty"`
}

type newsletterHealth struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Timestamp string `json:"timestamp"`
	Mailchimp struct {
		Configured bool   `json:"configured"`
		URL        string `json:"url"`
	} `json:"mailchimp"`
}

// PublicHeaders marks newsletter responses as callable from any origin.
func PublicHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			h.Set("Access-Control-Allow-Methods", newsletterMethods)
		} else {
			h.Set("Access-Control-Allow-Methods", r.Method)
		}
		next.ServeHTTP(w, r)
	})
}

func (h *NewsletterHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Service == nil {
		problem.Write(w, r, http.StatusInternalServerError, "Internal server error", nil, envOf(h))
		return
	}

	var req subscribers.NewsletterRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadJSON(w, r, err, h.Env)
		return
	}

	result, err := h.Service.Subscribe(r.Context(), req, requestMeta(r, h.TrustedProxies))
	if err != nil {
		writeServiceError(w, r, err, h.Env, newsletterTitles)
		return
	}

	writeJSON(w, http.StatusCreated, newsletterResponse{
		Success: true,
		Message: "Successfully subscribed to newsletter",
		Data:    result,
	})
}

func (h *NewsletterHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Service == nil {
		problem.Write(w, r, http.StatusInternalServerError, "Internal server error", nil, envOf(h))
		return
	}

	query := r.URL.Query()
	addr := strings.TrimSpace(query.Get("email"))
	if addr == "" {
		problem.Write(w, r, http.StatusBadRequest, "Missing email", nil, h.Env,
			problem.WithMessage("The email query parameter is required"), problem.WithField("email"))
		return
	}

	unsubscribed, err := h.Service.Unsubscribe(r.Context(), addr, query.Get("reason"), requestMeta(r, h.TrustedProxies))
	if err != nil {
		var verr subscribers.ValidationError
		if errors.As(err, &verr) || errors.Is(err, subscribers.ErrSuspiciousInput) {
			problem.Write(w, r, http.StatusBadRequest, "Invalid email", err, h.Env,
				problem.WithMessage("Invalid email address"), problem.WithField("email"))
			return
		}
		writeServiceError(w, r, err, h.Env, titles{upstream: "Unsubscribe failed"})
		return
	}

	writeJSON(w, http.StatusOK, newsletterResponse{
		Success: true,
		Message: "Successfully unsubscribed from newsletter",
		Email:   unsubscribed,
	})
}

func (h *NewsletterHandler) Health(w http.ResponseWriter, r *http.Request) {
	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	var resp newsletterHealth
	resp.Status = "healthy"
	resp.Service = "newsletter-api"
	resp.Timestamp = now().UTC().Format(time.RFC3339)
	resp.Mailchimp.Configured = h.Service != nil && h.Service.MailchimpConfigured()
	resp.Mailchimp.URL = h.SignupURL
	writeJSON(w, http.StatusOK, resp)
}

func (h *NewsletterHandler) Preflight(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

type unsubscribePage struct {
	Title   string
	Message string
	Email   string
	SiteURL string
	// Token is set on the confirmation page, which posts it back.
	Token string
}

// ConfirmUnsubscribe shows the address behind a newsletter unsubscribe link
// and a button that posts it back. Link scanners that follow the GET change
// nothing.
func (h *NewsletterHandler) ConfirmUnsubscribe(w http.ResponseWriter, r *http.Request) {
	page := unsubscribePage{SiteURL: h.SiteURL}
	status := http.StatusOK

	token := strings.TrimSpace(r.URL.Query().Get("token"))
	addr, err := h.Service.CheckUnsubscribeToken(token)
	if err != nil {
		status = http.StatusBadRequest
		page.Title = "Link not valid"
		page.Message = "This unsubscribe link is invalid or has expired."
	} else {
		page.Title = "Unsubscribe from the newsletter?"
		page.Message = "Confirm to stop receiving the Ignite Health newsletter at this address."
		page.Email = addr
		page.Token = token
	}
	h.renderUnsubscribe(w, r, status, page)
}

// OneClickUnsubscribe unsubscribes the address behind a signed token. Mail
// clients POST here with "List-Unsubscribe=One-Click" and the token in the
// query string; the confirmation page sends the token as a form field.
func (h *NewsletterHandler) OneClickUnsubscribe(w http.ResponseWriter, r *http.Request) {
	page := unsubscribePage{SiteURL: h.SiteURL}
	status := http.StatusOK

	token := strings.TrimSpace(r.FormValue("token"))
	addr, err := h.Service.UnsubscribeWithToken(r.Context(), token, requestMeta(r, h.TrustedProxies))
	var verr subscribers.ValidationError
	switch {
	case err == nil:
		page.Title = "You have been unsubscribed"
		page.Message = "You will no longer receive the Ignite Health newsletter."
		page.Email = addr
	case errors.As(err, &verr) || errors.Is(err, subscribers.ErrSuspiciousInput):
		status = http.StatusBadRequest
		page.Title = "Link not valid"
		page.Message = "This unsubscribe link is invalid or has expired."
	default:
		status = http.StatusServiceUnavailable
		page.Title = "Please try again"
		page.Message = "We could not process your request right now."
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("one-click unsubscribe failed")
	}
	h.renderUnsubscribe(w, r, status, page)
}

func (h *NewsletterHandler) renderUnsubscribe(w http.ResponseWriter, r *http.Request, status int, page unsubscribePage) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if h.Pages == nil {
		return
	}
	if err := h.Pages.ExecuteTemplate(w, "unsubscribe.html", page); err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("render unsubscribe page")
	}
}

func envOf(h *NewsletterHandler) string {
	if h == nil {
		return ""
	}
	return h.Env
}
