// Package webhook relays form submissions to n8n workflow webhooks with
// per-endpoint retries and failover from the primary to a backup endpoint.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/ignite-health/funnel/internal/config"
	"github.com/ignite-health/funnel/internal/metrics"
	"github.com/ignite-health/funnel/internal/telemetry"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

const (
	DefaultTimeout   = 5 * time.Second
	DefaultRetries   = 3
	DefaultHealthTTL = 5 * time.Minute
	RetryBaseDelay   = 500 * time.Millisecond
	userAgent        = "ignite-funnel/1.0"
)

var (
	// ErrAllEndpointsFailed is returned when no endpoint accepted the payload.
	ErrAllEndpointsFailed = errors.New("webhook: all endpoints failed")
	// ErrNoEndpoints is returned when no webhook URL is configured.
	ErrNoEndpoints = errors.New("webhook: no endpoints configured")
)

// Payload is the flat JSON object posted to n8n.
type Payload map[string]any

// Endpoint is one webhook target. Lower Priority is tried first.
type Endpoint struct {
	Name     string
	URL      string
	Priority int
	Timeout  time.Duration
}

// EndpointStatus is a health cache entry.
type EndpointStatus struct {
	Name      string    `json:"name"`
	Healthy   bool      `json:"healthy"`
	CheckedAt time.Time `json:"checked_at"`
	LastError string    `json:"last_error,omitempty"`
}

type statusError struct {
	code int
}

func (e statusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.code)
}

// permanent reports whether retrying the same endpoint is pointless.
func (e statusError) permanent() bool {
	return e.code >= 400 && e.code < 500 &&
		e.code != http.StatusRequestTimeout && e.code != http.StatusTooManyRequests
}

// Relay delivers payloads to the configured endpoints.
type Relay struct {
	endpoints []Endpoint
	client    *http.Client
	retries   int
	retryBase time.Duration
	healthTTL time.Duration
	now       func() time.Time
	logger    zerolog.Logger

	mu     sync.Mutex
	health map[string]EndpointStatus
}

// Option configures a Relay.
type Option func(*Relay)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(r *Relay) {
		r.client = client
	}
}

// WithRetryBaseDelay sets the first backoff delay. Zero disables waiting.
func WithRetryBaseDelay(d time.Duration) Option {
	return func(r *Relay) {
		r.retryBase = d
	}
}

// WithClock replaces time.Now for health cache expiry.
func WithClock(now func() time.Time) Option {
	return func(r *Relay) {
		r.now = now
	}
}

// New builds a relay from configuration: the primary URL first, then the
// optional backup.
func New(cfg config.WebhookConfig, logger zerolog.Logger, opts ...Option) *Relay {
	var endpoints []Endpoint
	if cfg.PrimaryURL != "" {
		endpoints = append(endpoints, Endpoint{Name: "primary", URL: cfg.PrimaryURL, Priority: 1, Timeout: cfg.Timeout})
	}
	if cfg.BackupURL != "" {
		endpoints = append(endpoints, Endpoint{Name: "backup", URL: cfg.BackupURL, Priority: 2, Timeout: cfg.Timeout})
	}
	opts = append([]Option{func(r *Relay) {
		if cfg.Retries > 0 {
			r.retries = cfg.Retries
		}
		if cfg.HealthTTL > 0 {
			r.healthTTL = cfg.HealthTTL
		}
	}}, opts...)
	return NewRelay(endpoints, logger, opts...)
}

// NewRelay builds a relay over explicit endpoints.
func NewRelay(endpoints []Endpoint, logger zerolog.Logger, opts ...Option) *Relay {
	eps := append([]Endpoint(nil), endpoints...)
	sort.SliceStable(eps, func(i, j int) bool { return eps[i].Priority < eps[j].Priority })
	for i := range eps {
		if eps[i].Timeout <= 0 {
			eps[i].Timeout = DefaultTimeout
		}
	}

	r := &Relay{
		endpoints: eps,
		client:    &http.Client{},
		retries:   DefaultRetries,
		retryBase: RetryBaseDelay,
		healthTTL: DefaultHealthTTL,
		now:       time.Now,
		logger:    logger.With().Str("component", "webhook").Logger(),
		health:    make(map[string]EndpointStatus),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Configured reports whether at least one endpoint exists.
func (r *Relay) Configured() bool {
	return r != nil && len(r.endpoints) > 0
}

// Deliver posts payload to the first endpoint that accepts it and returns
// that endpoint's name. Endpoints that failed within the health TTL are
// skipped while a healthy one remains.
func (r *Relay) Deliver(ctx context.Context, payload Payload) (endpoint string, err error) {
	if !r.Configured() {
		return "", ErrNoEndpoints
	}

	start := time.Now()
	ctx, finish := telemetry.StartSpan(ctx, "webhook", "webhook.deliver")
	defer func() {
		finish(err)
		metrics.ObserveUpstream("webhook", start, err)
	}()

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}

	var errs []error
	for _, ep := range r.candidates() {
		err := r.deliverTo(ctx, ep, body)
		r.record(ep, err)
		metrics.WebhookDeliveriesTotal.WithLabelValues(ep.Name, metrics.Outcome(err)).Inc()
		if err == nil {
			return ep.Name, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		r.logger.Warn().Err(err).Str("endpoint", ep.Name).Msg("webhook endpoint failed")
		errs = append(errs, fmt.Errorf("%s: %w", ep.Name, err))
	}
	return "", fmt.Errorf("%w: %w", ErrAllEndpointsFailed, errors.Join(errs...))
}

// Health returns the cached status of each endpoint. Endpoints never tried
// are reported healthy.
func (r *Relay) Health() []EndpointStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EndpointStatus, 0, len(r.endpoints))
	for _, ep := range r.endpoints {
		st, ok := r.health[ep.Name]
		if !ok {
			st = EndpointStatus{Name: ep.Name, Healthy: true}
		}
		out = append(out, st)
	}
	return out
}

func (r *Relay) candidates() []Endpoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	var healthy, unhealthy []Endpoint
	for _, ep := range r.endpoints {
		st, ok := r.health[ep.Name]
		if ok && !st.Healthy && now.Sub(st.CheckedAt) < r.healthTTL {
			unhealthy = append(unhealthy, ep)
			continue
		}
		healthy = append(healthy, ep)
	}
	if len(healthy) == 0 {
		return unhealthy
	}
	return healthy
}

func (r *Relay) record(ep Endpoint, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := EndpointStatus{Name: ep.Name, Healthy: err == nil, CheckedAt: r.now()}
	if err != nil {
		st.LastError = err.Error()
	}
	r.health[ep.Name] = st
}

func (r *Relay) deliverTo(ctx context.Context, ep Endpoint, body []byte) error {
	var lastErr error
	for attempt := 0; attempt < r.retries; attempt++ {
		if attempt > 0 && r.retryBase > 0 {
			delay := r.retryBase * time.Duration(1<<uint(attempt-1))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := r.post(ctx, ep, body)
		if err == nil {
			return nil
		}
		lastErr = err

		var se statusError
		if errors.As(err, &se) && se.permanent() {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return fmt.Errorf("after %d attempts: %w", r.retries, lastErr)
}

func (r *Relay) post(ctx context.Context, ep Endpoint, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, ep.Timeout)
	defer cancel()

	ctx, finish := telemetry.StartSpan(ctx, "webhook", "webhook.post",
		attribute.String("webhook.endpoint", ep.Name))
	var err error
	defer func() { finish(err) }()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err = statusError{code: resp.StatusCode}
		return err
	}
	return nil
}
