package email

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/ignite-health/funnel/internal/config"
	"github.com/resend/resend-go/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const templatesDir = "../../web/email/templates"

func newTestService(t *testing.T, cfg config.EmailConfig) *Service {
	t.Helper()
	svc, err := NewService(cfg, templatesDir, "https://ignitehealthsystems.com", zerolog.Nop())
	require.NoError(t, err)
	return svc
}

// withResend points the service at a fake Resend API and returns the
// captured requests.
func withResend(t *testing.T, svc *Service, status int) *[]resend.SendEmailRequest {
	t.Helper()
	var captured []resend.SendEmailRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req resend.SendEmailRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		captured = append(captured, req)
		w.Header().Set("Content-Type", "application/json")
		if status == http.StatusTooManyRequests {
			w.Header().Set("X-RateLimit-Limit", "100")
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.Header().Set("X-RateLimit-Reset", "60")
		}
		w.WriteHeader(status)
		if status == http.StatusOK {
			_ = json.NewEncoder(w).Encode(map[string]string{"id": "mock-email-id"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"message": http.StatusText(status)})
	}))
	t.Cleanup(srv.Close)

	client := resend.NewClient("test-api-key")
	baseURL, _ := url.Parse(srv.URL)
	client.BaseURL = baseURL
	svc.sender = newResendSender(client, svc.config.From, zerolog.Nop())
	return &captured
}

func enabledConfig() config.EmailConfig {
	return config.EmailConfig{
		Enabled:      true,
		ResendAPIKey: "test-api-key",
		From:         "Ignite <hello@ignitehealthsystems.com>",
		AdminEmail:   "team@ignitehealthsystems.com",
	}
}

func TestNewService_InvalidSender(t *testing.T) {
	cfg := enabledConfig()
	cfg.From = "not an address"
	_, err := NewService(cfg, templatesDir, "", zerolog.Nop())
	require.Error(t, err)
}

func TestNewService_MissingTemplates(t *testing.T) {
	_, err := NewService(config.EmailConfig{}, t.TempDir(), "", zerolog.Nop())
	require.Error(t, err)
}

func TestSendNewsletterWelcome(t *testing.T) {
	svc := newTestService(t, enabledConfig())
	captured := withResend(t, svc, http.StatusOK)

	err := svc.SendNewsletterWelcome(context.Background(), "jane@example.com", "Jane", "https://api.example.com/api/newsletter/unsubscribe?token=abc")
	require.NoError(t, err)

	require.Len(t, *captured, 1)
	req := (*captured)[0]
	assert.Equal(t, []string{"jane@example.com"}, req.To)
	assert.Contains(t, req.Html, "Welcome, Jane!")
	assert.Contains(t, req.Html, "https://api.example.com/api/newsletter/unsubscribe?token=abc")
	assert.Equal(t, "<https://api.example.com/api/newsletter/unsubscribe?token=abc>", req.Headers["List-Unsubscribe"])
	assert.Equal(t, "List-Unsubscribe=One-Click", req.Headers["List-Unsubscribe-Post"])
	assert.Equal(t, []resend.Tag{{Name: "template", Value: "newsletter_welcome"}}, req.Tags)
	assert.Equal(t, "Ignite <hello@ignitehealthsystems.com>", req.From)
}

func TestSendNewsletterWelcome_RejectsScriptLink(t *testing.T) {
	svc := newTestService(t, enabledConfig())
	captured := withResend(t, svc, http.StatusOK)

	err := svc.SendNewsletterWelcome(context.Background(), "jane@example.com", "Jane", "javascript:alert(1)")
	require.Error(t, err)
	assert.Empty(t, *captured)
}

func TestSendSubmission_ConfirmationAndAdmin(t *testing.T) {
	svc := newTestService(t, enabledConfig())
	captured := withResend(t, svc, http.StatusOK)

	data := SubmissionData{
		SubmissionID:    "01HZX",
		FullName:        "Dr. Jane Doe",
		Email:           "jane@example.com",
		Specialty:       "Cardiology",
		Practice:        "Heart Clinic",
		PracticeModel:   "Group Practice",
		Challenge:       "Too much <b>charting</b> after hours",
		CouncilInterest: true,
		SubmittedAt:     time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC),
	}
	require.NoError(t, svc.SendSubmissionConfirmation(context.Background(), data))
	require.NoError(t, svc.SendSubmissionAdmin(context.Background(), data))

	require.Len(t, *captured, 2)
	assert.Contains(t, (*captured)[0].Html, "clinical advisory council")
	assert.Equal(t, []string{"team@ignitehealthsystems.com"}, (*captured)[1].To)
	assert.Contains(t, (*captured)[1].Subject, "Dr. Jane Doe")
	assert.Contains(t, (*captured)[1].Html, "&lt;b&gt;charting&lt;/b&gt;")
}

func TestSendSubmissionAdmin_NoAdminAddress(t *testing.T) {
	cfg := enabledConfig()
	cfg.AdminEmail = ""
	svc := newTestService(t, cfg)
	captured := withResend(t, svc, http.StatusOK)

	require.NoError(t, svc.SendSubmissionAdmin(context.Background(), SubmissionData{FullName: "x"}))
	assert.Empty(t, *captured)
}

func TestSend_RateLimited(t *testing.T) {
	svc := newTestService(t, enabledConfig())
	withResend(t, svc, http.StatusTooManyRequests)

	err := svc.SendNewsletterWelcome(context.Background(), "jane@example.com", "", "https://example.com/u")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestSend_Disabled(t *testing.T) {
	svc := newTestService(t, config.EmailConfig{Enabled: false})
	assert.False(t, svc.Enabled())

	err := svc.SendNewsletterWelcome(context.Background(), "jane@example.com", "Jane", "https://example.com/u")
	assert.NoError(t, err)
}

func TestSend_InvalidRecipient(t *testing.T) {
	svc := newTestService(t, config.EmailConfig{Enabled: false})
	err := svc.SendSubmissionConfirmation(context.Background(), SubmissionData{Email: "bad\r\nBcc: x@y.z"})
	require.Error(t, err)
}

type recordingSender struct {
	sent []Message
	err  error
}

func (r *recordingSender) Send(_ context.Context, msg Message) (string, error) {
	r.sent = append(r.sent, msg)
	return "id-1", r.err
}

func TestDeliver_UsesSender(t *testing.T) {
	svc := newTestService(t, enabledConfig())
	sender := &recordingSender{}
	svc.sender = sender

	require.NoError(t, svc.SendSubmissionConfirmation(context.Background(), SubmissionData{FullName: "Dr. A", Email: "a@example.com"}))
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "submission_confirmation", sender.sent[0].Template)
	assert.Nil(t, sender.sent[0].Headers)

	sender.err = errors.New("provider down")
	err := svc.SendSubmissionConfirmation(context.Background(), SubmissionData{FullName: "Dr. A", Email: "a@example.com"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "submission_confirmation.html")
}
