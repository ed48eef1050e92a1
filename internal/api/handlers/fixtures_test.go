package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ignite-health/funnel/internal/api/problem"
	"github.com/ignite-health/funnel/internal/config"
	"github.com/ignite-health/funnel/internal/domain/subscribers"
	"github.com/ignite-health/funnel/internal/mailchimp"
	"github.com/ignite-health/funnel/internal/mailchimp/mailchimptest"
	"github.com/ignite-health/funnel/internal/unsubscribe"
	"github.com/ignite-health/funnel/internal/webhook"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 2, 15, 4, 5, 0, time.UTC)

type stubRepo struct {
	mu     sync.Mutex
	rows   map[string]subscribers.Subscriber
	prefs  map[string]subscribers.Preferences
	counts subscribers.Counts
	lastQ  []string
}

func newStubRepo() *stubRepo {
	return &stubRepo{rows: map[string]subscribers.Subscriber{}, prefs: map[string]subscribers.Preferences{}}
}

func (r *stubRepo) Upsert(_ context.Context, s *subscribers.Subscriber) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, exists := r.rows[s.Email]
	cp := *s
	cp.ID = "sub-" + s.Email
	cp.CreatedAt = fixedNow
	r.rows[s.Email] = cp
	return cp.ID, !exists, nil
}

func (r *stubRepo) SetSegments(context.Context, string, []string) error { return nil }
func (r *stubRepo) Segments(context.Context, string) ([]string, error)  { return nil, nil }

func (r *stubRepo) GetByEmail(_ context.Context, addr string) (*subscribers.Subscriber, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.rows[addr]
	if !ok {
		return nil, subscribers.ErrNotFound
	}
	return &s, nil
}

func (r *stubRepo) MarkUnsubscribed(_ context.Context, addr, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.rows[addr]
	if !ok {
		return subscribers.ErrNotFound
	}
	s.Status = subscribers.StatusUnsubscribed
	r.rows[addr] = s
	return nil
}

func (r *stubRepo) UpdatePreferences(_ context.Context, addr string, p subscribers.Preferences) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[addr]; !ok {
		return subscribers.ErrNotFound
	}
	r.prefs[addr] = p
	return nil
}

func (r *stubRepo) Preferences(_ context.Context, addr string) (*subscribers.Preferences, error) {
	p := subscribers.DefaultPreferences()
	return &p, nil
}

func (r *stubRepo) ListForDistribution(_ context.Context, segs []string, limit, offset int) ([]subscribers.Subscriber, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastQ = segs
	var out []subscribers.Subscriber
	for _, s := range r.rows {
		out = append(out, s)
	}
	return out, nil
}

func (r *stubRepo) CountsByType(context.Context) (subscribers.Counts, error)  { return r.counts, nil }
func (r *stubRepo) ListAll(context.Context) ([]subscribers.Subscriber, error) { return nil, nil }
func (r *stubRepo) DeleteUnsubscribedBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}
func (r *stubRepo) DeleteUnsubscribeLogBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}

type stubSubmissions struct {
	created []subscribers.Submission
	stats   subscribers.SubmissionStats
	err     error
}

func (s *stubSubmissions) Create(_ context.Context, sub *subscribers.Submission) error {
	if s.err != nil {
		return s.err
	}
	sub.ID = "01HZYXWVUTSRQPONMLKJIHGFED"
	s.created = append(s.created, *sub)
	return nil
}

func (s *stubSubmissions) Stats(context.Context, time.Time) (subscribers.SubmissionStats, error) {
	return s.stats, nil
}

func (s *stubSubmissions) DeleteBefore(context.Context, time.Time) (int64, error) { return 0, nil }

type stubRelay struct {
	mu       sync.Mutex
	err      error
	payloads []webhook.Payload
}

func (r *stubRelay) Configured() bool { return true }

func (r *stubRelay) Deliver(_ context.Context, p webhook.Payload) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payloads = append(r.payloads, p)
	if r.err != nil {
		return "", r.err
	}
	return "primary", nil
}

func newFakeAudience(t *testing.T) (*mailchimptest.Server, *mailchimp.Client) {
	t.Helper()
	srv := mailchimptest.NewServer(t)
	client := mailchimp.New(config.MailchimpConfig{
		APIKey:     mailchimptest.APIKey,
		AudienceID: mailchimptest.AudienceID,
	}, mailchimp.WithBaseURL(srv.BaseURL()), mailchimp.WithRetryBaseDelay(0), mailchimp.WithRateLimit(1000))
	return srv, client
}

var testTokens = unsubscribe.NewManager("handler-test-secret", time.Hour)

func newTestService(t *testing.T, mutate func(*subscribers.Deps)) *subscribers.Service {
	t.Helper()
	d := subscribers.Deps{
		Logger:  zerolog.Nop(),
		BaseURL: "https://api.example.com",
		Tokens:  testTokens,
		Now:     func() time.Time { return fixedNow },
	}
	if mutate != nil {
		mutate(&d)
	}
	return subscribers.NewService(d)
}

func jsonRequest(t *testing.T, method, target string, body any) *http.Request {
	t.Helper()
	var r io.Reader = http.NoBody
	switch v := body.(type) {
	case nil:
	case string:
		r = bytes.NewBufferString(v)
	default:
		raw, err := json.Marshal(v)
		require.NoError(t, err)
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, r)
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "203.0.113.7:51234"
	return req
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) problem.Envelope {
	t.Helper()
	var env problem.Envelope
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
	return env
}

func decodeMap(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}
