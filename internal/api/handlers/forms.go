package handlers

import (
	"errors"
	"net/http"

	"github.com/ignite-health/funnel/internal/api/problem"
	"github.com/ignite-health/funnel/internal/domain/subscribers"
)

var nextSteps = []string{
	"Check your email for confirmation details",
	"Expect follow-up within 24-48 hours",
	"Join our community updates for the latest news",
}

var formTitles = titles{
	validation: "Validation failed",
	suspicious: "Invalid input",
	upstream:   "Submission failed",
}

// FormsHandler serves the site's lead capture forms.
type FormsHandler struct {
	Service        *subscribers.Service
	Env            string
	TrustedProxies []string
}

type signupResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	RedirectURL string `json:"redirectUrl"`
}

type interestResponse struct {
	Success bool                        `json:"success"`
	Message string                      `json:"message"`
	Data    *subscribers.InterestResult `json:"data"`
}

type submitResponse struct {
	Success      bool     `json:"success"`
	Message      string   `json:"message"`
	SubmissionID string   `json:"submissionId"`
	NextSteps    []string `json:"nextSteps"`
}

// Signup handles POST /api/subscribe.
func (h *FormsHandler) Signup(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Service == nil {
		problem.Write(w, r, http.StatusInternalServerError, "Internal server error", nil, "")
		return
	}

	var req subscribers.SignupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadJSON(w, r, err, h.Env)
		return
	}

	if err := h.Service.Signup(r.Context(), req, requestMeta(r, h.TrustedProxies)); err != nil {
		var verr subscribers.ValidationError
		if errors.As(err, &verr) {
			// The short form reports the failure itself as the error title.
			problem.Write(w, r, http.StatusBadRequest, verr.Message, err, h.Env, problem.WithField(verr.Field))
			return
		}
		writeServiceError(w, r, err, h.Env, formTitles)
		return
	}

	writeJSON(w, http.StatusOK, signupResponse{
		Success:     true,
		Message:     "Thank you for your interest! We'll be in touch soon.",
		RedirectURL: "/thank-you",
	})
}

// Interest handles POST /api/interest.
func (h *FormsHandler) Interest(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Service == nil {
		problem.Write(w, r, http.StatusInternalServerError, "Internal server error", nil, "")
		return
	}

	var form subscribers.InterestForm
	if err := decodeJSON(r, &form); err != nil {
		writeBadJSON(w, r, err, h.Env)
		return
	}

	result, err := h.Service.SubmitInterest(r.Context(), form, requestMeta(r, h.TrustedProxies))
	if err != nil {
		writeServiceError(w, r, err, h.Env, formTitles)
		return
	}

	writeJSON(w, http.StatusCreated, interestResponse{
		Success: true,
		Message: "Thank you for your interest in Ignite Health Systems!",
		Data:    result,
	})
}

// Submit handles POST /api/submit, the waitlist application.
func (h *FormsHandler) Submit(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Service == nil {
		problem.Write(w, r, http.StatusInternalServerError, "Internal server error", nil, "")
		return
	}

	var app subscribers.Application
	if err := decodeJSON(r, &app); err != nil {
		writeBadJSON(w, r, err, h.Env)
		return
	}

	sub, err := h.Service.SubmitApplication(r.Context(), app, requestMeta(r, h.TrustedProxies))
	if err != nil {
		var verr subscribers.ValidationError
		if errors.As(err, &verr) || errors.Is(err, subscribers.ErrSuspiciousInput) || errors.Is(err, subscribers.ErrMirrorDisabled) {
			writeServiceError(w, r, err, h.Env, formTitles)
			return
		}
		problem.Write(w, r, http.StatusInternalServerError, "Submission failed", err, h.Env,
			problem.WithMessage("There was an error processing your submission. Please try again."))
		return
	}

	writeJSON(w, http.StatusOK, submitResponse{
		Success:      true,
		Message:      "Thank you for joining the 10-Minute Revolution! Check your email for confirmation.",
		SubmissionID: sub.ID,
		NextSteps:    nextSteps,
	})
}
