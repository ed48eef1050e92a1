package subscribers

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ignite-health/funnel/internal/audit"
	"github.com/ignite-health/funnel/internal/domain/segments"
	"github.com/ignite-health/funnel/internal/email"
	"github.com/ignite-health/funnel/internal/mailchimp"
	"github.com/ignite-health/funnel/internal/metrics"
	"github.com/ignite-health/funnel/internal/sanitize"
	"github.com/ignite-health/funnel/internal/telegram"
	"github.com/ignite-health/funnel/internal/validation"
	"github.com/ignite-health/funnel/internal/webhook"
)

// Subscription methods reported to the newsletter form.
const (
	MethodDirect    = "direct"
	MethodMailchimp = "mailchimp"
)

const (
	defaultNewsletterSource = "website"
	signupSource            = "website"
	interestFormType        = "interest-form"
	recentWindow            = 7 * 24 * time.Hour
)

// Audience is the Mailchimp surface the service uses.
type Audience interface {
	Configured() bool
	AddMember(ctx context.Context, m mailchimp.Member) (*mailchimp.MemberInfo, error)
	UpsertMember(ctx context.Context, m mailchimp.Member) (*mailchimp.MemberInfo, error)
	UpdateStatus(ctx context.Context, email, status string) (*mailchimp.MemberInfo, error)
	GetMember(ctx context.Context, email string) (*mailchimp.MemberInfo, error)
	UpdateTags(ctx context.Context, email string, tags []mailchimp.Tag) error
	QueueAutomation(ctx context.Context, workflowID, emailID, email string) error
}

// Relay forwards form payloads to the n8n workflows.
type Relay interface {
	Configured() bool
	Deliver(ctx context.Context, payload webhook.Payload) (string, error)
}

type Notifier interface {
	Enabled() bool
	Send(ctx context.Context, text string) error
}

type Mailer interface {
	Enabled() bool
	SendNewsletterWelcome(ctx context.Context, to, firstName, unsubscribeURL string) error
	SendSubmissionConfirmation(ctx context.Context, d email.SubmissionData) error
	SendSubmissionAdmin(ctx context.Context, d email.SubmissionData) error
}

// Enqueuer hands work to the background job queue.
type Enqueuer interface {
	EnqueueWebhook(ctx context.Context, payload map[string]any, source string) error
	EnqueueMailchimpSync(ctx context.Context, email string) error
	EnqueueTelegram(ctx context.Context, text string) error
}

// Tokens issues and checks one-click unsubscribe tokens.
type Tokens interface {
	Generate(email string) (string, error)
	Validate(token string) (string, error)
}

// Deps wires a Service. Every collaborator except Logger is optional; a nil
// value disables the feature it backs.
type Deps struct {
	Repo              Repository
	Submissions       SubmissionRepository
	Audience          Audience
	Relay             Relay
	Notifier          Notifier
	Mailer            Mailer
	Queue             Enqueuer
	Tokens            Tokens
	Audit             *audit.Logger
	Logger            zerolog.Logger
	BaseURL           string
	WelcomeWorkflowID string
	WelcomeEmailID    string
	Now               func() time.Time
}

type Service struct {
	repo        Repository
	submissions SubmissionRepository
	audience    Audience
	relay       Relay
	notifier    Notifier
	mailer      Mailer
	queue       Enqueuer
	tokens      Tokens
	audit       *audit.Logger
	logger      zerolog.Logger
	baseURL     string
	workflowID  string
	workflowEID string
	now         func() time.Time
}

func NewService(d Deps) *Service {
	now := d.Now
	if now == nil {
		now = time.Now
	}
	auditLogger := d.Audit
	if auditLogger == nil {
		auditLogger = audit.NewLogger(zerolog.Nop())
	}
	return &Service{
		repo:        d.Repo,
		submissions: d.Submissions,
		audience:    d.Audience,
		relay:       d.Relay,
		notifier:    d.Notifier,
		mailer:      d.Mailer,
		queue:       d.Queue,
		tokens:      d.Tokens,
		audit:       auditLogger,
		logger:      d.Logger.With().Str("component", "subscribers").Logger(),
		baseURL:     strings.TrimRight(d.BaseURL, "/"),
		workflowID:  d.WelcomeWorkflowID,
		workflowEID: d.WelcomeEmailID,
		now:         now,
	}
}

// MailchimpConfigured reports whether subscriptions go to the audience.
func (s *Service) MailchimpConfigured() bool {
	return s.audience != nil && s.audience.Configured()
}

// MirrorEnabled reports whether a local subscriber mirror is wired.
func (s *Service) MirrorEnabled() bool {
	return s.repo != nil
}

type SubscribeResult struct {
	Email  string `json:"email"`
	Method string `json:"method"`
}

// Subscribe adds an address to the newsletter. Checks run in order: presence,
// injection markers, address syntax, consent.
func (s *Service) Subscribe(ctx context.Context, req NewsletterRequest, meta Meta) (*SubscribeResult, error) {
	if strings.TrimSpace(req.Email) == "" {
		return nil, s.reject("newsletter", ValidationError{Field: "email", Message: "Email is required", Err: ErrInvalidEmail})
	}
	if req.suspicious() {
		return nil, s.reject("newsletter", ErrSuspiciousInput)
	}
	addr := sanitize.Email(req.Email)
	if err := validation.ValidateEmail(addr); err != nil {
		return nil, s.reject("newsletter", emailError(err))
	}
	if !req.Consent {
		return nil, s.reject("newsletter", ValidationError{Field: "consent", Message: "GDPR consent is required", Err: ErrConsentRequired})
	}

	now := s.now().UTC()
	source := sanitize.TextMax(req.Source, maxSourceLength)
	if source == "" {
		source = defaultNewsletterSource
	}
	sub := Subscriber{
		Email:     addr,
		FirstName: sanitize.Name(req.FirstName),
		LastName:  sanitize.Name(req.LastName),
		Consent:   true,
		ConsentAt: &now,
		ConsentIP: meta.IP,
		Source:    source,
		Status:    StatusSubscribed,
	}

	method := MethodDirect
	if s.MailchimpConfigured() {
		method = MethodMailchimp
		info, err := s.addToAudience(ctx, sub, now)
		if err != nil {
			if errors.Is(err, ErrAlreadySubscribed) {
				metrics.SubscriptionsTotal.WithLabelValues("newsletter", "duplicate").Inc()
				s.audit.Subscription("newsletter.subscribe", addr, meta.IP, audit.StatusFailure, map[string]string{"reason": "already_subscribed"})
				return nil, err
			}
			metrics.SubscriptionsTotal.WithLabelValues("newsletter", "error").Inc()
			s.logger.Error().Err(err).Str("email", audit.MaskEmail(addr)).Msg("mailchimp subscribe failed")
			s.audit.Subscription("newsletter.subscribe", addr, meta.IP, audit.StatusFailure, map[string]string{"reason": "upstream"})
			return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
		}
		sub.MailchimpID = info.ID
	}

	metrics.SubscriptionsTotal.WithLabelValues("newsletter", "success").Inc()
	s.audit.Subscription("newsletter.subscribe", addr, meta.IP, audit.StatusSuccess, map[string]string{"method": method, "source": source})

	s.afterSubscribe(ctx, sub)
	return &SubscribeResult{Email: addr, Method: method}, nil
}

// addToAudience creates the member, or resubscribes a member that exists but
// is no longer subscribed.
func (s *Service) addToAudience(ctx context.Context, sub Subscriber, now time.Time) (*mailchimp.MemberInfo, error) {
	member := mailchimp.Member{
		EmailAddress:    sub.Email,
		Status:          mailchimp.StatusSubscribed,
		MergeFields:     sub.MergeFields(),
		Tags:            []string{segments.TagNewsletter, sub.Source},
		IPSignup:        sub.ConsentIP,
		TimestampSignup: now.Format(time.RFC3339),
	}
	info, err := s.audience.AddMember(ctx, member)
	if err == nil {
		return info, nil
	}
	if !errors.Is(err, mailchimp.ErrMemberExists) {
		return nil, err
	}

	existing, err := s.audience.GetMember(ctx, sub.Email)
	if err != nil {
		return nil, err
	}
	if existing.Status == mailchimp.StatusSubscribed {
		return nil, ErrAlreadySubscribed
	}
	member.Tags = nil
	info, err = s.audience.UpsertMember(ctx, member)
	if err != nil {
		return nil, err
	}
	if err := s.audience.UpdateTags(ctx, sub.Email, mailchimp.ActiveTags(segments.TagNewsletter, sub.Source)); err != nil {
		s.logger.Warn().Err(err).Str("email", audit.MaskEmail(sub.Email)).Msg("retagging resubscribed member failed")
	}
	return info, nil
}

// afterSubscribe runs the side effects of a newsletter signup. None of them
// can fail the request.
func (s *Service) afterSubscribe(ctx context.Context, sub Subscriber) {
	var g errgroup.Group

	if s.repo != nil {
		g.Go(func() error {
			if _, _, err := s.repo.Upsert(ctx, &sub); err != nil {
				s.logger.Warn().Err(err).Str("email", audit.MaskEmail(sub.Email)).Msg("mirror upsert failed")
			}
			return nil
		})
	}
	if s.mailer != nil && s.mailer.Enabled() {
		g.Go(func() error {
			if err := s.mailer.SendNewsletterWelcome(ctx, sub.Email, sub.FirstName, s.UnsubscribeURL(sub.Email)); err != nil {
				s.logger.Warn().Err(err).Str("email", audit.MaskEmail(sub.Email)).Msg("welcome email failed")
			}
			return nil
		})
	}
	if s.MailchimpConfigured() && s.workflowID != "" && s.workflowEID != "" {
		g.Go(func() error {
			if err := s.audience.QueueAutomation(ctx, s.workflowID, s.workflowEID, sub.Email); err != nil {
				s.logger.Warn().Err(err).Str("email", audit.MaskEmail(sub.Email)).Msg("welcome automation failed")
			}
			return nil
		})
	}
	g.Go(func() error {
		s.notify(ctx, telegram.NewsletterMessage(telegram.Lead{
			Name:   sub.FullName(),
			Email:  sub.Email,
			Source: sub.Source,
		}))
		return nil
	})

	_ = g.Wait()
}

// UnsubscribeURL returns the one-click unsubscribe link for email, or "" when
// no token issuer is configured.
func (s *Service) UnsubscribeURL(addr string) string {
	if s.tokens == nil {
		return ""
	}
	token, err := s.tokens.Generate(addr)
	if err != nil {
		s.logger.Warn().Err(err).Msg("unsubscribe token generation failed")
		return ""
	}
	return s.baseURL + "/api/newsletter/unsubscribe?token=" + url.QueryEscape(token)
}

// Unsubscribe removes an address from the audience and the mirror.
func (s *Service) Unsubscribe(ctx context.Context, addr, reason string, meta Meta) (string, error) {
	if anySuspicious(addr) {
		return "", ErrSuspiciousInput
	}
	addr = sanitize.Email(addr)
	if err := validation.ValidateEmail(addr); err != nil {
		return "", emailError(err)
	}
	reason = sanitize.TextMax(reason, maxFieldLength)

	if s.MailchimpConfigured() {
		if _, err := s.audience.UpdateStatus(ctx, addr, mailchimp.StatusUnsubscribed); err != nil && !errors.Is(err, mailchimp.ErrNotFound) {
			metrics.SubscriptionsTotal.WithLabelValues("unsubscribe", "error").Inc()
			s.audit.Subscription("newsletter.unsubscribe", addr, meta.IP, audit.StatusFailure, map[string]string{"reason": "upstream"})
			return "", fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
		}
	}
	if s.repo != nil {
		if err := s.repo.MarkUnsubscribed(ctx, addr, reason); err != nil && !errors.Is(err, ErrNotFound) {
			s.logger.Warn().Err(err).Str("email", audit.MaskEmail(addr)).Msg("mirror unsubscribe failed")
		}
	}

	metrics.SubscriptionsTotal.WithLabelValues("unsubscribe", "success").Inc()
	s.audit.Subscription("newsletter.unsubscribe", addr, meta.IP, audit.StatusSuccess, map[string]string{"reason": reason})
	return addr, nil
}

// CheckUnsubscribeToken returns the address a one-click token was issued
// for without changing anything.
func (s *Service) CheckUnsubscribeToken(token string) (string, error) {
	if s.tokens == nil {
		return "", ValidationError{Field: "token", Message: "Unsubscribe links are disabled"}
	}
	addr, err := s.tokens.Validate(token)
	if err != nil {
		return "", ValidationError{Field: "token", Message: "Invalid or expired unsubscribe link", Err: err}
	}
	return addr, nil
}

// UnsubscribeWithToken resolves a one-click token and unsubscribes its
// address.
func (s *Service) UnsubscribeWithToken(ctx context.Context, token string, meta Meta) (string, error) {
	addr, err := s.CheckUnsubscribeToken(token)
	if err != nil {
		return "", err
	}
	return s.Unsubscribe(ctx, addr, "one-click", meta)
}

type InterestResult struct {
	SubscriberID string   `json:"subscriberId,omitempty"`
	IsNew        bool     `json:"isNew"`
	Segments     []string `json:"segments"`
	Tags         []string `json:"tags"`
}

// SubmitInterest records an interest form. The lead is accepted when at
// least one of mirror, audience, relay or job queue captured it.
func (s *Service) SubmitInterest(ctx context.Context, form InterestForm, meta Meta) (*InterestResult, error) {
	if form.suspicious() {
		return nil, s.reject("interest", ErrSuspiciousInput)
	}
	if err := form.Validate(); err != nil {
		return nil, s.reject("interest", err)
	}

	now := s.now().UTC()
	sub := form.ToSubscriber()
	if sub.Consent {
		sub.ConsentAt = &now
		sub.ConsentIP = meta.IP
	}
	mirrorSegs := segments.MirrorSegments(string(sub.UserType), sub.CofounderInterest)
	tags := segments.Tags(string(sub.UserType), sub.CofounderInterest)
	result := &InterestResult{IsNew: true, Segments: mirrorSegs, Tags: tags}
	if result.Segments == nil {
		result.Segments = []string{}
	}

	captured := false
	mirrored := false
	if s.repo != nil {
		id, isNew, err := s.repo.Upsert(ctx, &sub)
		if err != nil {
			s.logger.Error().Err(err).Str("email", audit.MaskEmail(sub.Email)).Msg("mirror upsert failed")
		} else {
			captured, mirrored = true, true
			result.SubscriberID, result.IsNew = id, isNew
			if err := s.repo.SetSegments(ctx, id, mirrorSegs); err != nil {
				s.logger.Warn().Err(err).Str("subscriber_id", id).Msg("segment membership update failed")
			}
		}
	}

	if s.MailchimpConfigured() {
		err := s.syncAudience(ctx, sub, tags)
		switch {
		case err == nil:
			captured = true
		case mailchimp.IsTemporary(err) && mirrored && s.queue != nil:
			s.logger.Warn().Err(err).Str("email", audit.MaskEmail(sub.Email)).Msg("mailchimp sync failed, scheduling retry")
			if err := s.queue.EnqueueMailchimpSync(ctx, sub.Email); err != nil {
				s.logger.Error().Err(err).Msg("enqueue mailchimp sync failed")
			}
		default:
			s.logger.Error().Err(err).Str("email", audit.MaskEmail(sub.Email)).Msg("mailchimp sync failed")
		}
	}

	if s.relay != nil && s.relay.Configured() {
		if s.relayOrEnqueue(ctx, interestPayload(sub, meta, now), interestFormType) {
			captured = true
		}
	}

	if !captured {
		metrics.SubscriptionsTotal.WithLabelValues("interest", "error").Inc()
		s.audit.Subscription("interest.submit", sub.Email, meta.IP, audit.StatusFailure, map[string]string{"user_type": string(sub.UserType)})
		return nil, ErrUpstreamUnavailable
	}

	metrics.SubscriptionsTotal.WithLabelValues("interest", "success").Inc()
	s.audit.Subscription("interest.submit", sub.Email, meta.IP, audit.StatusSuccess, map[string]string{
		"user_type": string(sub.UserType),
		"is_new":    strconv.FormatBool(result.IsNew),
	})
	s.notify(ctx, telegram.InterestMessage(telegram.Lead{
		Name:        sub.FullName(),
		Email:       sub.Email,
		UserType:    string(sub.UserType),
		Specialty:   sub.Specialty,
		Practice:    sub.PracticeModel,
		Source:      sub.Source,
		Cofounder:   sub.CofounderInterest,
		Note:        sub.Challenge,
		SubmittedAt: now,
	}, result.IsNew))
	return result, nil
}

// syncAudience upserts the member and applies its tags.
func (s *Service) syncAudience(ctx context.Context, sub Subscriber, tags []string) error {
	_, err := s.audience.UpsertMember(ctx, mailchimp.Member{
		EmailAddress: sub.Email,
		StatusIfNew:  mailchimp.StatusSubscribed,
		MergeFields:  sub.MergeFields(),
		IPSignup:     sub.ConsentIP,
	})
	if err != nil {
		return err
	}
	return s.audience.UpdateTags(ctx, sub.Email, mailchimp.ActiveTags(tags...))
}

func interestPayload(sub Subscriber, meta Meta, now time.Time) webhook.Payload {
	return webhook.Payload{
		"userType":      string(sub.UserType),
		"firstName":     sub.FirstName,
		"lastName":      sub.LastName,
		"email":         sub.Email,
		"specialty":     sub.Specialty,
		"practiceModel": sub.PracticeModel,
		"emrSystem":     sub.EMRSystem,
		"linkedin":      sub.LinkedInURL,
		"involvement":   sub.Involvement,
		"challenge":     sub.Challenge,
		"cofounder":     sub.CofounderInterest,
		"timestamp":     now.Format(time.RFC3339),
		"source":        "ignite-health-systems-website",
		"formType":      interestFormType,
		"formSource":    sub.Source,
		"ip":            orUnknown(meta.IP),
		"userAgent":     orUnknown(meta.UserAgent),
	}
}

// relayOrEnqueue delivers payload synchronously and falls back to the job
// queue. It reports whether either path accepted the payload.
func (s *Service) relayOrEnqueue(ctx context.Context, payload webhook.Payload, source string) bool {
	_, err := s.relay.Deliver(ctx, payload)
	if err == nil {
		return true
	}
	s.logger.Warn().Err(err).Str("source", source).Msg("webhook delivery failed")
	if s.queue == nil {
		return false
	}
	if err := s.queue.EnqueueWebhook(ctx, payload, source); err != nil {
		s.logger.Error().Err(err).Str("source", source).Msg("enqueue webhook retry failed")
		return false
	}
	return true
}

// Signup relays the short signup form. Relay failures are retried in the
// background and never surface to the visitor.
func (s *Service) Signup(ctx context.Context, req SignupRequest, meta Meta) error {
	if err := req.Validate(); err != nil {
		return s.reject("signup", err)
	}

	now := s.now().UTC()
	name := sanitize.Name(req.Name)
	addr := sanitize.Email(req.Email)
	role := sanitize.TextMax(req.Role, maxFieldLength)
	note := sanitize.TextMax(req.Note, maxNoteLength)

	if s.relay != nil && s.relay.Configured() {
		payload := webhook.Payload{
			"name":      name,
			"email":     addr,
			"role":      role,
			"note":      note,
			"timestamp": now.Format(time.RFC3339),
			"source":    signupSource,
			"ip":        orUnknown(meta.IP),
			"userAgent": orUnknown(meta.UserAgent),
		}
		s.relayOrEnqueue(ctx, payload, "signup")
	}

	metrics.SubscriptionsTotal.WithLabelValues("signup", "success").Inc()
	s.audit.Subscription("signup.submit", addr, meta.IP, audit.StatusSuccess, map[string]string{"role": role})
	s.notify(ctx, telegram.SignupMessage(telegram.Lead{
		Name:        name,
		Email:       addr,
		UserType:    role,
		Note:        note,
		Source:      signupSource,
		SubmittedAt: now,
	}))
	return nil
}

// SubmitApplication stores a waitlist application and sends the
// confirmation emails.
func (s *Service) SubmitApplication(ctx context.Context, app Application, meta Meta) (*Submission, error) {
	if err := app.Validate(); err != nil {
		return nil, s.reject("application", err)
	}
	if s.submissions == nil {
		return nil, ErrMirrorDisabled
	}

	sub := app.ToSubmission(meta)
	sub.CreatedAt = s.now().UTC()
	if err := s.submissions.Create(ctx, &sub); err != nil {
		metrics.SubscriptionsTotal.WithLabelValues("application", "error").Inc()
		return nil, fmt.Errorf("store submission: %w", err)
	}
	metrics.SubscriptionsTotal.WithLabelValues("application", "success").Inc()
	s.audit.Subscription("application.submit", sub.Email, meta.IP, audit.StatusSuccess, map[string]string{
		"submission_id": sub.ID,
		"council":       strconv.FormatBool(sub.CouncilInterest),
	})

	var g errgroup.Group
	if s.mailer != nil && s.mailer.Enabled() {
		data := email.SubmissionData{
			SubmissionID:    sub.ID,
			FullName:        sub.FullName,
			Email:           sub.Email,
			Specialty:       sub.Specialty,
			Practice:        sub.Practice,
			PracticeModel:   sub.PracticeModel,
			Challenge:       sub.Challenge,
			CouncilInterest: sub.CouncilInterest,
			SubmittedAt:     sub.CreatedAt,
		}
		g.Go(func() error {
			if err := s.mailer.SendSubmissionConfirmation(ctx, data); err != nil {
				s.logger.Warn().Err(err).Str("submission_id", sub.ID).Msg("confirmation email failed")
			}
			return nil
		})
		g.Go(func() error {
			if err := s.mailer.SendSubmissionAdmin(ctx, data); err != nil {
				s.logger.Warn().Err(err).Str("submission_id", sub.ID).Msg("admin notification email failed")
			}
			return nil
		})
	}
	g.Go(func() error {
		s.notify(ctx, telegram.SubmissionMessage(telegram.Lead{
			Name:        sub.FullName,
			Email:       sub.Email,
			Specialty:   sub.Specialty,
			Practice:    sub.Practice,
			Cofounder:   sub.CouncilInterest,
			Note:        sub.Challenge,
			Source:      sub.Source,
			SubmittedAt: sub.CreatedAt,
		}))
		return nil
	})
	_ = g.Wait()

	return &sub, nil
}

// Stats is the admin dashboard summary.
type Stats struct {
	SubmissionStats
	Subscribers Counts `json:"subscribers"`
	Trends      Trends `json:"trends"`
}

type Trends struct {
	ConversionRate      string `json:"conversionRate"`
	AvgChallengeLength  int    `json:"avgChallengeLength"`
	SubscribersThisWeek int    `json:"subscribersThisWeek,omitempty"`
}

func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	if s.submissions == nil || s.repo == nil {
		return nil, ErrMirrorDisabled
	}
	since := s.now().UTC().Add(-recentWindow)

	var (
		subStats SubmissionStats
		counts   Counts
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		subStats, err = s.submissions.Stats(gctx, since)
		return err
	})
	g.Go(func() error {
		var err error
		counts, err = s.repo.CountsByType(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &Stats{
		SubmissionStats: subStats,
		Subscribers:     counts,
		Trends: Trends{
			ConversionRate:     ConversionRate(subStats.CouncilInterest, subStats.Total),
			AvgChallengeLength: subStats.AvgChallengeLength,
		},
	}, nil
}

// ConversionRate formats council/total as a percentage with one decimal.
func ConversionRate(council, total int) string {
	if total == 0 {
		return "0.0"
	}
	rate := float64(council) / float64(total) * 100
	return fmt.Sprintf("%.1f", math.Round(rate*10)/10)
}

// Distribution pages through subscribed members of the named segments.
func (s *Service) Distribution(ctx context.Context, segmentNames []string, limit, offset int) ([]Subscriber, error) {
	if s.repo == nil {
		return nil, ErrMirrorDisabled
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListForDistribution(ctx, segmentNames, limit, offset)
}

func (s *Service) UpdatePreferences(ctx context.Context, addr string, p Preferences) (*Preferences, error) {
	if s.repo == nil {
		return nil, ErrMirrorDisabled
	}
	addr = sanitize.Email(addr)
	if err := validation.ValidateEmail(addr); err != nil {
		return nil, emailError(err)
	}
	if p.EmailFrequency == "" {
		p.EmailFrequency = DefaultPreferences().EmailFrequency
	}
	if p.Categories == nil {
		p.Categories = []string{}
	}
	for i, c := range p.Categories {
		p.Categories[i] = sanitize.Text(c)
	}
	if err := validation.Struct(p); err != nil {
		var fe validation.FieldError
		if errors.As(err, &fe) {
			return nil, ValidationError{Field: fe.Field, Message: fe.Message}
		}
		return nil, err
	}
	if err := s.repo.UpdatePreferences(ctx, addr, p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Service) Preferences(ctx context.Context, addr string) (*Preferences, error) {
	if s.repo == nil {
		return nil, ErrMirrorDisabled
	}
	return s.repo.Preferences(ctx, sanitize.Email(addr))
}

// notify queues a Telegram message when a job queue is wired and sends it
// inline otherwise.
func (s *Service) notify(ctx context.Context, text string) {
	if s.notifier == nil || !s.notifier.Enabled() {
		return
	}
	if s.queue != nil {
		err := s.queue.EnqueueTelegram(ctx, text)
		if err == nil {
			return
		}
		s.logger.Warn().Err(err).Msg("enqueue telegram notification failed, sending inline")
	}
	if err := s.notifier.Send(ctx, text); err != nil {
		s.logger.Warn().Err(err).Msg("telegram notification failed")
	}
}

func (s *Service) reject(flow string, err error) error {
	metrics.SubscriptionsTotal.WithLabelValues(flow, "invalid").Inc()
	return err
}

func orUnknown(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
