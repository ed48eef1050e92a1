package mailchimp_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/ignite-health/funnel/internal/config"
	"github.com/ignite-health/funnel/internal/domain/segments"
	"github.com/ignite-health/funnel/internal/mailchimp"
	"github.com/ignite-health/funnel/internal/mailchimp/mailchimptest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T, srv *mailchimptest.Server) *mailchimp.Client {
	t.Helper()
	return mailchimp.New(config.MailchimpConfig{
		APIKey:       mailchimptest.APIKey,
		AudienceID:   mailchimptest.AudienceID,
		ServerPrefix: "us1",
	}, mailchimp.WithBaseURL(srv.BaseURL()), mailchimp.WithRetryBaseDelay(0), mailchimp.WithRateLimit(1000))
}

func TestSubscriberHash(t *testing.T) {
	// md5("test@example.com")
	assert.Equal(t, "55502f40dc8b7c769880b10874abc9d0", mailchimp.SubscriberHash("test@example.com"))
	assert.Equal(t, mailchimp.SubscriberHash("test@example.com"), mailchimp.SubscriberHash("  Test@Example.COM "))
}

func TestNew_DatacenterURL(t *testing.T) {
	var gotHost string
	transport := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		gotHost = r.URL.Host
		return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody, Header: http.Header{}}, nil
	})
	c := mailchimp.New(config.MailchimpConfig{APIKey: "k-us6", AudienceID: "a", ServerPrefix: "us6"},
		mailchimp.WithHTTPClient(&http.Client{Transport: transport}))

	require.NoError(t, c.Ping(context.Background()))
	assert.Equal(t, "us6.api.mailchimp.com", gotHost)
}

func TestConfigured(t *testing.T) {
	assert.False(t, mailchimp.New(config.MailchimpConfig{}).Configured())
	assert.False(t, mailchimp.New(config.MailchimpConfig{APIKey: "k"}).Configured())
	assert.True(t, mailchimp.New(config.MailchimpConfig{APIKey: "k", AudienceID: "a"}).Configured())

	_, err := mailchimp.New(config.MailchimpConfig{}).AddMember(context.Background(), mailchimp.Member{EmailAddress: "a@b.co"})
	assert.ErrorIs(t, err, mailchimp.ErrNotConfigured)
}

func TestAddMember_ThenDuplicate(t *testing.T) {
	srv := mailchimptest.NewServer(t)
	c := newClient(t, srv)
	ctx := context.Background()

	info, err := c.AddMember(ctx, mailchimp.Member{
		EmailAddress: "jane@example.com",
		Status:       mailchimp.StatusSubscribed,
		MergeFields:  map[string]string{"FNAME": "Jane"},
		Tags:         []string{"newsletter"},
	})
	require.NoError(t, err)
	assert.Equal(t, mailchimp.StatusSubscribed, info.Status)
	assert.Equal(t, mailchimp.SubscriberHash("jane@example.com"), info.ID)

	_, err = c.AddMember(ctx, mailchimp.Member{EmailAddress: "Jane@Example.com", Status: mailchimp.StatusSubscribed})
	require.Error(t, err)
	assert.ErrorIs(t, err, mailchimp.ErrMemberExists)

	var apiErr *mailchimp.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, 1, srv.MemberCount())
}

func TestUpsertMember_UpdatesInsteadOfDuplicating(t *testing.T) {
	srv := mailchimptest.NewServer(t)
	c := newClient(t, srv)
	ctx := context.Background()

	_, err := c.UpsertMember(ctx, mailchimp.Member{
		EmailAddress: "dr.lee@example.com",
		MergeFields:  map[string]string{"USERTYPE": "physician", "SPECIALTY": "Cardiology"},
	})
	require.NoError(t, err)

	_, err = c.UpsertMember(ctx, mailchimp.Member{
		EmailAddress: "DR.LEE@example.com",
		MergeFields:  map[string]string{"SPECIALTY": "Oncology"},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, srv.MemberCount())
	m, ok := srv.Member("dr.lee@example.com")
	require.True(t, ok)
	assert.Equal(t, mailchimp.StatusSubscribed, m.Status)
	assert.Equal(t, "Oncology", m.MergeFields["SPECIALTY"])
	assert.Equal(t, "physician", m.MergeFields["USERTYPE"])
}

func TestUpdateStatus_NotFound(t *testing.T) {
	srv := mailchimptest.NewServer(t)
	c := newClient(t, srv)

	_, err := c.UpdateStatus(context.Background(), "ghost@example.com", mailchimp.StatusUnsubscribed)
	assert.ErrorIs(t, err, mailchimp.ErrNotFound)
}

func TestUpdateStatus_Unsubscribes(t *testing.T) {
	srv := mailchimptest.NewServer(t)
	srv.Seed(mailchimptest.Member{Email: "jane@example.com", Status: mailchimp.StatusSubscribed})
	c := newClient(t, srv)

	info, err := c.UpdateStatus(context.Background(), "jane@example.com", mailchimp.StatusUnsubscribed)
	require.NoError(t, err)
	assert.Equal(t, mailchimp.StatusUnsubscribed, info.Status)
}

func TestUpdateTags(t *testing.T) {
	srv := mailchimptest.NewServer(t)
	srv.Seed(mailchimptest.Member{Email: "jane@example.com", Status: mailchimp.StatusSubscribed, Tags: map[string]bool{"standard": true}})
	c := newClient(t, srv)

	err := c.UpdateTags(context.Background(), "jane@example.com", append(
		mailchimp.ActiveTags("physician", "cofounder-interest"),
		mailchimp.Tag{Name: "standard", Status: mailchimp.TagInactive},
	))
	require.NoError(t, err)

	m, _ := srv.Member("jane@example.com")
	assert.Equal(t, []string{"cofounder-interest", "physician"}, m.TagNames())

	require.NoError(t, c.UpdateTags(context.Background(), "jane@example.com", nil))
}

func TestRetry_TransientThenSuccess(t *testing.T) {
	srv := mailchimptest.NewServer(t)
	srv.FailNext(2, http.StatusServiceUnavailable)
	c := newClient(t, srv)

	_, err := c.UpsertMember(context.Background(), mailchimp.Member{EmailAddress: "jane@example.com"})
	require.NoError(t, err)
	assert.Len(t, srv.Requests(), 3)
}

func TestRetry_ExhaustedKeepsAPIError(t *testing.T) {
	srv := mailchimptest.NewServer(t)
	srv.FailNext(3, http.StatusTooManyRequests)
	c := newClient(t, srv)

	_, err := c.AddMember(context.Background(), mailchimp.Member{EmailAddress: "jane@example.com"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max retries exceeded")
	assert.True(t, mailchimp.IsTemporary(err))
	assert.Len(t, srv.Requests(), 3)
}

func TestNoRetryOnClientError(t *testing.T) {
	srv := mailchimptest.NewServer(t)
	srv.FailNext(1, http.StatusBadRequest)
	c := newClient(t, srv)

	_, err := c.UpsertMember(context.Background(), mailchimp.Member{EmailAddress: "jane@example.com"})
	require.Error(t, err)
	assert.False(t, mailchimp.IsTemporary(err))
	assert.Len(t, srv.Requests(), 1)
}

func TestRetry_NetworkError(t *testing.T) {
	var calls atomic.Int32
	transport := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("connection reset")
		}
		return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody, Header: http.Header{}}, nil
	})
	c := mailchimp.New(config.MailchimpConfig{APIKey: "k-us1", AudienceID: "a", ServerPrefix: "us1"},
		mailchimp.WithHTTPClient(&http.Client{Transport: transport}), mailchimp.WithRetryBaseDelay(0))

	require.NoError(t, c.Ping(context.Background()))
	assert.Equal(t, int32(2), calls.Load())
}

func TestCreateSegment_CountsMatchingMembers(t *testing.T) {
	srv := mailchimptest.NewServer(t)
	srv.Seed(mailchimptest.Member{Email: "a@example.com", MergeFields: map[string]string{"USERTYPE": "physician", "COFOUNDER": "Yes"}})
	srv.Seed(mailchimptest.Member{Email: "b@example.com", MergeFields: map[string]string{"USERTYPE": "physician", "COFOUNDER": "No"}})
	srv.Seed(mailchimptest.Member{Email: "c@example.com", MergeFields: map[string]string{"USERTYPE": "investor", "COFOUNDER": "Yes"}})
	c := newClient(t, srv)
	ctx := context.Background()

	for _, seg := range segments.Default() {
		_, err := c.CreateSegment(ctx, seg)
		require.NoError(t, err)
	}

	list, err := c.ListSegments(ctx)
	require.NoError(t, err)
	counts := map[string]int{}
	for _, s := range list {
		counts[s.Name] = s.MemberCount
	}
	assert.Equal(t, 2, counts["Physicians"])
	assert.Equal(t, 1, counts["Investors"])
	assert.Equal(t, 0, counts["AI Specialists"])
	assert.Equal(t, 2, counts["Co-founder Interest"])
	assert.Equal(t, 1, counts["High Priority Physicians"])
	assert.Equal(t, []string{"a@example.com"}, srv.SegmentMembers("High Priority Physicians"))
}

func TestCreateSegment_RequestShape(t *testing.T) {
	var body map[string]any
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/3.0/lists/aud/segments", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, _ = w.Write([]byte(`{"id":42,"name":"Physicians","member_count":0}`))
	}))
	defer api.Close()

	c := mailchimp.New(config.MailchimpConfig{APIKey: "k", AudienceID: "aud"}, mailchimp.WithBaseURL(api.URL+"/3.0"))
	info, err := c.CreateSegment(context.Background(), segments.Default()[0])
	require.NoError(t, err)
	assert.Equal(t, 42, info.ID)

	opts := body["options"].(map[string]any)
	assert.Equal(t, "all", opts["match"])
	cond := opts["conditions"].([]any)[0].(map[string]any)
	assert.Equal(t, "TextMerge", cond["condition_type"])
	assert.Equal(t, "USERTYPE", cond["field"])
	assert.Equal(t, "is", cond["op"])
	assert.Equal(t, "physician", cond["value"])
}

func TestQueueAutomation(t *testing.T) {
	srv := mailchimptest.NewServer(t)
	c := newClient(t, srv)

	require.NoError(t, c.QueueAutomation(context.Background(), "wf1", "em1", "Jane@Example.com"))
	assert.Equal(t, []string{"jane@example.com"}, srv.Queued("wf1", "em1"))
}

func TestAuthorizationHeader(t *testing.T) {
	var auth string
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer api.Close()

	c := mailchimp.New(config.MailchimpConfig{APIKey: "secret-us1", AudienceID: "a"}, mailchimp.WithBaseURL(api.URL))
	require.NoError(t, c.Ping(context.Background()))
	assert.True(t, strings.HasPrefix(auth, "Basic "))
	assert.NotContains(t, auth, "secret-us1")
}

func TestAPIError_UnknownBody(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("forbidden"))
	}))
	defer api.Close()

	c := mailchimp.New(config.MailchimpConfig{APIKey: "k", AudienceID: "a"}, mailchimp.WithBaseURL(api.URL))
	_, err := c.GetMember(context.Background(), "a@b.co")
	var apiErr *mailchimp.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
	assert.Equal(t, "Forbidden", apiErr.Title)
	assert.Equal(t, "forbidden", apiErr.Detail)
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }
