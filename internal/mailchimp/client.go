// Package mailchimp is a client for the subset of the Mailchimp Marketing
// API the funnel uses: list members, tags, segments and automations.
package mailchimp

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ignite-health/funnel/internal/config"
	"github.com/ignite-health/funnel/internal/domain/segments"
	"github.com/ignite-health/funnel/internal/metrics"
	"github.com/ignite-health/funnel/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
)

const (
	// DefaultTimeout for HTTP requests
	DefaultTimeout = 10 * time.Second
	// DefaultRateLimit stays under Mailchimp's 10 concurrent connection cap
	DefaultRateLimit = rate.Limit(10)
	// MaxAttempts for transient errors
	MaxAttempts = 3
	// RetryBaseDelay is the initial backoff delay
	RetryBaseDelay = 1 * time.Second
	// maxRetryAfter caps server-provided Retry-After waits
	maxRetryAfter = 30 * time.Second
)

// Client talks to one Mailchimp audience.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	audienceID string
	limiter    *rate.Limiter
	retryBase  time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithBaseURL overrides the datacenter URL, including the /3.0 suffix.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithRetryBaseDelay sets the first backoff delay. Zero disables waiting.
func WithRetryBaseDelay(d time.Duration) Option {
	return func(c *Client) {
		c.retryBase = d
	}
}

// WithRateLimit sets a custom rate limit (requests per second).
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

// New creates a client for cfg's audience.
func New(cfg config.MailchimpConfig, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	client := &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    fmt.Sprintf("https://%s.api.mailchimp.com/3.0", cfg.ServerPrefix),
		apiKey:     cfg.APIKey,
		audienceID: cfg.AudienceID,
		limiter:    rate.NewLimiter(DefaultRateLimit, 1),
		retryBase:  RetryBaseDelay,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Configured reports whether the client has credentials and an audience.
func (c *Client) Configured() bool {
	return c != nil && c.apiKey != "" && c.audienceID != ""
}

// SubscriberHash is the member id Mailchimp derives from an email address.
func SubscriberHash(email string) string {
	sum := md5.Sum([]byte(strings.ToLower(strings.TrimSpace(email))))
	return hex.EncodeToString(sum[:])
}

func (c *Client) memberPath(email string) string {
	return fmt.Sprintf("/lists/%s/members/%s", url.PathEscape(c.audienceID), SubscriberHash(email))
}

// AddMember creates a member. An existing email yields ErrMemberExists.
func (c *Client) AddMember(ctx context.Context, m Member) (*MemberInfo, error) {
	var out MemberInfo
	path := fmt.Sprintf("/lists/%s/members", url.PathEscape(c.audienceID))
	if err := c.call(ctx, "AddMember", http.MethodPost, path, m, &out); err != nil {
		return nil, fmt.Errorf("add member: %w", err)
	}
	return &out, nil
}

// UpsertMember creates or updates a member keyed by email. StatusIfNew
// defaults to subscribed.
func (c *Client) UpsertMember(ctx context.Context, m Member) (*MemberInfo, error) {
	if m.StatusIfNew == "" {
		m.StatusIfNew = StatusSubscribed
	}
	var out MemberInfo
	if err := c.call(ctx, "UpsertMember", http.MethodPut, c.memberPath(m.EmailAddress), m, &out); err != nil {
		return nil, fmt.Errorf("upsert member: %w", err)
	}
	return &out, nil
}

// UpdateStatus changes an existing member's status.
func (c *Client) UpdateStatus(ctx context.Context, email, status string) (*MemberInfo, error) {
	var out MemberInfo
	body := map[string]string{"status": status}
	if err := c.call(ctx, "UpdateStatus", http.MethodPatch, c.memberPath(email), body, &out); err != nil {
		return nil, fmt.Errorf("update member status: %w", err)
	}
	return &out, nil
}

// GetMember fetches a member by email.
func (c *Client) GetMember(ctx context.Context, email string) (*MemberInfo, error) {
	var out MemberInfo
	if err := c.call(ctx, "GetMember", http.MethodGet, c.memberPath(email), nil, &out); err != nil {
		return nil, fmt.Errorf("get member: %w", err)
	}
	return &out, nil
}

// UpdateTags activates or deactivates tags on a member.
func (c *Client) UpdateTags(ctx context.Context, email string, tags []Tag) error {
	if len(tags) == 0 {
		return nil
	}
	body := struct {
		Tags      []Tag `json:"tags"`
		IsSyncing bool  `json:"is_syncing"`
	}{Tags: tags}
	if err := c.call(ctx, "UpdateTags", http.MethodPost, c.memberPath(email)+"/tags", body, nil); err != nil {
		return fmt.Errorf("update tags: %w", err)
	}
	return nil
}

// ActiveTags converts names into active tag assignments.
func ActiveTags(names ...string) []Tag {
	tags := make([]Tag, 0, len(names))
	for _, n := range names {
		if n != "" {
			tags = append(tags, Tag{Name: n, Status: TagActive})
		}
	}
	return tags
}

// CreateSegment saves a segment definition on the audience.
func (c *Client) CreateSegment(ctx context.Context, seg segments.Segment) (*SegmentInfo, error) {
	var out SegmentInfo
	path := fmt.Sprintf("/lists/%s/segments", url.PathEscape(c.audienceID))
	body := struct {
		Name    string           `json:"name"`
		Options segments.Options `json:"options"`
	}{Name: seg.Name, Options: seg.Options}
	if err := c.call(ctx, "CreateSegment", http.MethodPost, path, body, &out); err != nil {
		return nil, fmt.Errorf("create segment %q: %w", seg.Name, err)
	}
	return &out, nil
}

// ListSegments returns the saved segments on the audience.
func (c *Client) ListSegments(ctx context.Context) ([]SegmentInfo, error) {
	var out struct {
		Segments   []SegmentInfo `json:"segments"`
		TotalItems int           `json:"total_items"`
	}
	path := fmt.Sprintf("/lists/%s/segments?type=saved&count=1000", url.PathEscape(c.audienceID))
	if err := c.call(ctx, "ListSegments", http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}
	return out.Segments, nil
}

// QueueAutomation adds a subscriber to an automation email queue.
func (c *Client) QueueAutomation(ctx context.Context, workflowID, emailID, email string) error {
	path := fmt.Sprintf("/automations/%s/emails/%s/queue", url.PathEscape(workflowID), url.PathEscape(emailID))
	body := map[string]string{"email_address": email}
	if err := c.call(ctx, "QueueAutomation", http.MethodPost, path, body, nil); err != nil {
		return fmt.Errorf("queue automation: %w", err)
	}
	return nil
}

// Ping checks credentials and API availability.
func (c *Client) Ping(ctx context.Context) error {
	if c.apiKey == "" {
		return ErrNotConfigured
	}
	return c.call(ctx, "Ping", http.MethodGet, "/ping", nil, nil)
}

func (c *Client) call(ctx context.Context, op, method, path string, body, out any) (err error) {
	if c.apiKey == "" || (c.audienceID == "" && path != "/ping") {
		return ErrNotConfigured
	}

	start := time.Now()
	ctx, finish := telemetry.StartSpan(ctx, "mailchimp", "mailchimp."+op,
		attribute.String("http.method", method))
	defer func() {
		finish(err)
		metrics.ObserveUpstream("mailchimp", start, err)
	}()

	return c.doWithRetry(ctx, method, path, body, out)
}

// doWithRetry executes a request with exponential backoff on network
// errors, 429 and 5xx responses.
func (c *Client) doWithRetry(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	var lastErr error
	var retryAfter time.Duration

	for attempt := 0; attempt < MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := c.retryBase * time.Duration(1<<uint(attempt-1))
			if retryAfter > delay {
				delay = retryAfter
			}
			if delay > 0 {
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("funnel:"+c.apiKey)))
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if out != nil && len(respBody) > 0 {
				if err := json.Unmarshal(respBody, out); err != nil {
					return fmt.Errorf("parse json: %w", err)
				}
			}
			return nil
		}

		apiErr := decodeError(resp.StatusCode, respBody)
		if !apiErr.Temporary() {
			return apiErr
		}
		lastErr = apiErr
		retryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

func decodeError(status int, body []byte) *APIError {
	apiErr := &APIError{}
	if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Title == "" {
		apiErr.Title = http.StatusText(status)
		if apiErr.Detail == "" {
			apiErr.Detail = strings.TrimSpace(string(body))
		}
	}
	apiErr.Status = status
	return apiErr
}

func parseRetryAfter(value string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || secs <= 0 {
		return 0
	}
	d := time.Duration(secs) * time.Second
	if d > maxRetryAfter {
		d = maxRetryAfter
	}
	return d
}

// IsTemporary reports whether err is a retryable Mailchimp failure: a
// transport error or a 429/5xx response.
func IsTemporary(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	return !errors.Is(err, ErrNotConfigured) && !errors.Is(err, context.Canceled)
}
