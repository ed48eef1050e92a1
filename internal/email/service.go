package email

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/mail"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/ignite-health/funnel/internal/config"
	"github.com/ignite-health/funnel/internal/metrics"
	"github.com/resend/resend-go/v2"
	"github.com/rs/zerolog"
)

// Template names
const (
	TemplateNewsletterWelcome      = "newsletter_welcome.html"
	TemplateSubmissionConfirmation = "submission_confirmation.html"
	TemplateSubmissionAdmin        = "submission_admin.html"
)

// ErrRateLimited marks a send rejected by the provider's rate limit. Callers
// may retry later.
var ErrRateLimited = errors.New("email rate limit exceeded")

// Service renders and sends transactional email through Resend
type Service struct {
	config    config.EmailConfig
	templates *template.Template
	sender    Sender
	siteURL   string
	logger    zerolog.Logger
}

// WelcomeData holds data for the newsletter welcome template
type WelcomeData struct {
	FirstName      string
	UnsubscribeURL string
	SiteURL        string
	CurrentYear    int
}

// SubmissionData holds data for the application templates
type SubmissionData struct {
	SubmissionID    string
	FullName        string
	Email           string
	Specialty       string
	Practice        string
	PracticeModel   string
	Challenge       string
	CouncilInterest bool
	SubmittedAt     time.Time
	SiteURL         string
	CurrentYear     int
}

// NewService creates a new email service instance.
// templatesDir should point to the directory containing HTML email templates (e.g., "web/email/templates")
func NewService(cfg config.EmailConfig, templatesDir, siteURL string, logger zerolog.Logger) (*Service, error) {
	if cfg.Enabled {
		if err := validateEmailAddress(cfg.From); err != nil {
			return nil, fmt.Errorf("invalid sender email in config: %w", err)
		}
	}

	pattern := filepath.Join(templatesDir, "*.html")
	templates, err := template.ParseGlob(pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to parse email templates: %w", err)
	}

	svc := &Service{
		config:    cfg,
		templates: templates,
		siteURL:   siteURL,
		logger:    logger.With().Str("component", "email").Logger(),
	}
	if cfg.Enabled {
		svc.sender = newResendSender(resend.NewClient(cfg.ResendAPIKey), cfg.From, svc.logger)
	}
	return svc, nil
}

// Enabled reports whether mail is actually sent.
func (s *Service) Enabled() bool {
	return s != nil && s.config.Enabled
}

// SendNewsletterWelcome confirms a newsletter subscription and carries the
// one-click unsubscribe link.
func (s *Service) SendNewsletterWelcome(ctx context.Context, to, firstName, unsubscribeURL string) error {
	if err := validateLinkURL(unsubscribeURL); err != nil {
		return fmt.Errorf("invalid unsubscribe link: %w", err)
	}
	data := WelcomeData{
		FirstName:      firstName,
		UnsubscribeURL: unsubscribeURL,
		SiteURL:        s.siteURL,
		CurrentYear:    time.Now().Year(),
	}
	// RFC 8058 one-click unsubscribe for mail clients.
	headers := map[string]string{
		"List-Unsubscribe":      "<" + unsubscribeURL + ">",
		"List-Unsubscribe-Post": "List-Unsubscribe=One-Click",
	}
	return s.deliver(ctx, TemplateNewsletterWelcome, to, "Welcome to the Ignite Health Systems newsletter", data, headers)
}

// SendSubmissionConfirmation thanks an applicant and describes next steps.
func (s *Service) SendSubmissionConfirmation(ctx context.Context, d SubmissionData) error {
	d.SiteURL = s.siteURL
	d.CurrentYear = time.Now().Year()
	return s.deliver(ctx, TemplateSubmissionConfirmation, d.Email, "We received your application - Ignite Health Systems", d, nil)
}

// SendSubmissionAdmin notifies the team of a new application. It is a
// no-op without an admin address.
func (s *Service) SendSubmissionAdmin(ctx context.Context, d SubmissionData) error {
	if s.config.AdminEmail == "" {
		return nil
	}
	d.SiteURL = s.siteURL
	d.CurrentYear = time.Now().Year()
	subject := fmt.Sprintf("New application: %s (%s)", d.FullName, d.Specialty)
	return s.deliver(ctx, TemplateSubmissionAdmin, s.config.AdminEmail, subject, d, nil)
}

func (s *Service) deliver(ctx context.Context, name, to, subject string, data any, headers map[string]string) (err error) {
	defer func() {
		metrics.EmailsSentTotal.WithLabelValues(strings.TrimSuffix(name, ".html"), metrics.Outcome(err)).Inc()
	}()

	if err := validateEmailAddress(to); err != nil {
		return fmt.Errorf("invalid recipient email: %w", err)
	}
	html, err := s.renderTemplate(name, data)
	if err != nil {
		return err
	}
	if s.sender == nil {
		s.logger.Info().Str("template", name).Msg("email disabled, not sending")
		return nil
	}

	id, err := s.sender.Send(ctx, Message{
		To:       to,
		Subject:  subject,
		HTML:     html,
		Template: strings.TrimSuffix(name, ".html"),
		Headers:  headers,
	})
	if err != nil {
		return fmt.Errorf("send %s: %w", name, err)
	}
	s.logger.Info().Str("template", name).Str("email_id", id).Msg("email sent")
	return nil
}

// validateEmailAddress validates an email address for format and header injection attempts
func validateEmailAddress(email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return fmt.Errorf("invalid email format: %w", err)
	}
	if strings.ContainsAny(addr.Address, "\r\n") {
		return fmt.Errorf("invalid email address: contains newline characters")
	}
	return nil
}

// validateLinkURL rejects javascript:, data: and other non-HTTP links
func validateLinkURL(link string) error {
	u, err := url.Parse(link)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid URL scheme: %s (must be http or https)", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}

// renderTemplate renders an email template with the given data
func (s *Service) renderTemplate(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("failed to execute template %s: %w", name, err)
	}
	return buf.String(), nil
}
