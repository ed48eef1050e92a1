package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ignite-health/funnel/internal/domain/subscribers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignup(t *testing.T) {
	relay := &stubRelay{}
	h := &FormsHandler{Service: newTestService(t, func(d *subscribers.Deps) { d.Relay = relay }), Env: "test"}

	tests := []struct {
		name       string
		body       map[string]any
		wantStatus int
		wantError  string
	}{
		{
			name:       "missing role",
			body:       map[string]any{"name": "Jane", "email": "jane@example.com"},
			wantStatus: http.StatusBadRequest,
			wantError:  "Missing required fields",
		},
		{
			name:       "bad email",
			body:       map[string]any{"name": "Jane", "email": "jane", "role": "physician"},
			wantStatus: http.StatusBadRequest,
			wantError:  "Invalid email format",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.Signup(rec, jsonRequest(t, http.MethodPost, "/api/subscribe", tt.body))
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantError, decodeEnvelope(t, rec).Error)
		})
	}

	rec := httptest.NewRecorder()
	h.Signup(rec, jsonRequest(t, http.MethodPost, "/api/subscribe", map[string]any{
		"name": "Jane Doe", "email": "Jane@Example.com", "role": "physician", "note": "hello",
	}))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeMap(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "/thank-you", body["redirectUrl"])
	assert.Equal(t, "Thank you for your interest! We'll be in touch soon.", body["message"])

	require.Len(t, relay.payloads, 1)
	assert.Equal(t, "jane@example.com", relay.payloads[0]["email"])
	assert.Equal(t, "website", relay.payloads[0]["source"])
	assert.Equal(t, "203.0.113.7", relay.payloads[0]["ip"])
}

func TestInterest(t *testing.T) {
	repo := newStubRepo()
	h := &FormsHandler{Service: newTestService(t, func(d *subscribers.Deps) { d.Repo = repo }), Env: "test"}

	rec := httptest.NewRecorder()
	h.Interest(rec, jsonRequest(t, http.MethodPost, "/api/interest", map[string]any{
		"userType":          "investor",
		"firstName":         "Sam",
		"lastName":          "Lee",
		"email":             "sam@example.com",
		"linkedinProfile":   "https://www.linkedin.com/in/samlee",
		"coFounderInterest": "yes",
		"consent":           true,
	}))

	require.Equal(t, http.StatusCreated, rec.Code)
	body := decodeMap(t, rec)
	assert.Equal(t, true, body["success"])
	data := body["data"].(map[string]any)
	assert.Equal(t, "sub-sam@example.com", data["subscriberId"])
	assert.Equal(t, true, data["isNew"])
	assert.Contains(t, data["segments"], "investors")
	assert.Contains(t, data["segments"], "cofounder_interest")
}

func TestInterest_CollectsFieldErrors(t *testing.T) {
	h := &FormsHandler{Service: newTestService(t, func(d *subscribers.Deps) { d.Repo = newStubRepo() }), Env: "test"}

	rec := httptest.NewRecorder()
	h.Interest(rec, jsonRequest(t, http.MethodPost, "/api/interest", map[string]any{
		"userType": "physician",
		"email":    "doc@example.com",
	}))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.Equal(t, "Validation failed", env.Error)
	fields := make([]string, 0, len(env.Errors))
	for _, e := range env.Errors {
		fields = append(fields, e.Field)
	}
	assert.Subset(t, fields, []string{"firstName", "lastName", "medicalSpecialty", "practiceModel", "involvement"})
}

func TestInterest_NothingCaptured(t *testing.T) {
	relay := &stubRelay{err: errors.New("down")}
	h := &FormsHandler{Service: newTestService(t, func(d *subscribers.Deps) { d.Relay = relay }), Env: "production"}

	rec := httptest.NewRecorder()
	h.Interest(rec, jsonRequest(t, http.MethodPost, "/api/interest", map[string]any{
		"userType": "specialist", "firstName": "A", "lastName": "B",
		"email": "ab@example.com", "linkedinProfile": "https://linkedin.com/in/ab",
	}))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "Submission failed", decodeEnvelope(t, rec).Error)
}

func validApplication() map[string]any {
	return map[string]any{
		"fullName":      "Dr. Jane Doe",
		"email":         "jane@example.com",
		"specialty":     "Cardiology",
		"practice":      "Heart Clinic",
		"practiceModel": "Solo Practice",
		"challenge":     "Documentation takes longer than patient care.",
		"council":       "true",
	}
}

func TestSubmit(t *testing.T) {
	submissions := &stubSubmissions{}
	h := &FormsHandler{Service: newTestService(t, func(d *subscribers.Deps) { d.Submissions = submissions }), Env: "test"}

	rec := httptest.NewRecorder()
	h.Submit(rec, jsonRequest(t, http.MethodPost, "/api/submit", validApplication()))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeMap(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "01HZYXWVUTSRQPONMLKJIHGFED", body["submissionId"])
	assert.Len(t, body["nextSteps"], 3)
	require.Len(t, submissions.created, 1)
	assert.True(t, submissions.created[0].CouncilInterest)
	assert.Equal(t, "203.0.113.7", submissions.created[0].IP)
}

func TestSubmit_Errors(t *testing.T) {
	short := validApplication()
	short["challenge"] = "short"
	badModel := validApplication()
	badModel["practiceModel"] = "spaceship"

	tests := []struct {
		name       string
		body       map[string]any
		subs       *stubSubmissions
		wantStatus int
		wantField  string
	}{
		{name: "short challenge", body: short, subs: &stubSubmissions{}, wantStatus: http.StatusBadRequest, wantField: "challenge"},
		{name: "unknown practice model", body: badModel, subs: &stubSubmissions{}, wantStatus: http.StatusBadRequest, wantField: "practiceModel"},
		{name: "no storage", body: validApplication(), wantStatus: http.StatusServiceUnavailable},
		{name: "store failure", body: validApplication(), subs: &stubSubmissions{err: errors.New("insert failed")}, wantStatus: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(t, func(d *subscribers.Deps) {
				if tt.subs != nil {
					d.Submissions = tt.subs
				}
			})
			h := &FormsHandler{Service: svc, Env: "test"}

			rec := httptest.NewRecorder()
			h.Submit(rec, jsonRequest(t, http.MethodPost, "/api/submit", tt.body))
			assert.Equal(t, tt.wantStatus, rec.Code)
			env := decodeEnvelope(t, rec)
			assert.False(t, env.Success)
			if tt.wantField != "" {
				assert.Equal(t, tt.wantField, env.Field)
			}
		})
	}
}
