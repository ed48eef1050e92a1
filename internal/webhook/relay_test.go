package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ignite-health/funnel/internal/config"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu       sync.Mutex
	payloads []Payload
	status   atomic.Int32
	calls    atomic.Int32
}

func newRecorder(t *testing.T, status int) (*recorder, *httptest.Server) {
	t.Helper()
	rec := &recorder{}
	rec.status.Store(int32(status))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.calls.Add(1)
		var p Payload
		_ = json.NewDecoder(r.Body).Decode(&p)
		rec.mu.Lock()
		rec.payloads = append(rec.payloads, p)
		rec.mu.Unlock()
		w.WriteHeader(int(rec.status.Load()))
	}))
	t.Cleanup(srv.Close)
	return rec, srv
}

func TestDeliver_Primary(t *testing.T) {
	primary, primarySrv := newRecorder(t, http.StatusOK)
	backup, backupSrv := newRecorder(t, http.StatusOK)

	relay := New(config.WebhookConfig{PrimaryURL: primarySrv.URL, BackupURL: backupSrv.URL}, zerolog.Nop(), WithRetryBaseDelay(0))

	name, err := relay.Deliver(context.Background(), Payload{"email": "jane@example.com", "role": "physician"})
	require.NoError(t, err)
	assert.Equal(t, "primary", name)
	assert.Equal(t, int32(1), primary.calls.Load())
	assert.Equal(t, int32(0), backup.calls.Load())
	assert.Equal(t, "jane@example.com", primary.payloads[0]["email"])
}

func TestDeliver_FailsOverToBackup(t *testing.T) {
	primary, primarySrv := newRecorder(t, http.StatusBadGateway)
	backup, backupSrv := newRecorder(t, http.StatusOK)

	relay := New(config.WebhookConfig{PrimaryURL: primarySrv.URL, BackupURL: backupSrv.URL, Retries: 3}, zerolog.Nop(), WithRetryBaseDelay(0))

	name, err := relay.Deliver(context.Background(), Payload{"email": "jane@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "backup", name)
	assert.Equal(t, int32(3), primary.calls.Load())
	assert.Equal(t, int32(1), backup.calls.Load())
}

func TestDeliver_PermanentClientErrorNotRetried(t *testing.T) {
	primary, primarySrv := newRecorder(t, http.StatusNotFound)

	relay := New(config.WebhookConfig{PrimaryURL: primarySrv.URL, Retries: 3}, zerolog.Nop(), WithRetryBaseDelay(0))

	_, err := relay.Deliver(context.Background(), Payload{"email": "jane@example.com"})
	require.ErrorIs(t, err, ErrAllEndpointsFailed)
	assert.Equal(t, int32(1), primary.calls.Load())
}

func TestDeliver_TooManyRequestsRetried(t *testing.T) {
	primary, primarySrv := newRecorder(t, http.StatusTooManyRequests)

	relay := New(config.WebhookConfig{PrimaryURL: primarySrv.URL, Retries: 2}, zerolog.Nop(), WithRetryBaseDelay(0))

	_, err := relay.Deliver(context.Background(), Payload{})
	require.ErrorIs(t, err, ErrAllEndpointsFailed)
	assert.Equal(t, int32(2), primary.calls.Load())
}

func TestDeliver_SkipsUnhealthyWithinTTL(t *testing.T) {
	primary, primarySrv := newRecorder(t, http.StatusInternalServerError)
	backup, backupSrv := newRecorder(t, http.StatusOK)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	relay := New(config.WebhookConfig{PrimaryURL: primarySrv.URL, BackupURL: backupSrv.URL, Retries: 1, HealthTTL: 5 * time.Minute},
		zerolog.Nop(), WithRetryBaseDelay(0), WithClock(func() time.Time { return now }))

	_, err := relay.Deliver(context.Background(), Payload{})
	require.NoError(t, err)
	assert.Equal(t, int32(1), primary.calls.Load())

	// Primary is marked unhealthy, so the next delivery goes straight to backup.
	name, err := relay.Deliver(context.Background(), Payload{})
	require.NoError(t, err)
	assert.Equal(t, "backup", name)
	assert.Equal(t, int32(1), primary.calls.Load())
	assert.Equal(t, int32(2), backup.calls.Load())

	// After the TTL the primary is tried again and recovers.
	primary.status.Store(http.StatusOK)
	now = now.Add(6 * time.Minute)
	name, err = relay.Deliver(context.Background(), Payload{})
	require.NoError(t, err)
	assert.Equal(t, "primary", name)
}

func TestDeliver_AllUnhealthyStillTried(t *testing.T) {
	primary, primarySrv := newRecorder(t, http.StatusInternalServerError)

	relay := New(config.WebhookConfig{PrimaryURL: primarySrv.URL, Retries: 1}, zerolog.Nop(), WithRetryBaseDelay(0))

	_, err := relay.Deliver(context.Background(), Payload{})
	require.Error(t, err)

	primary.status.Store(http.StatusOK)
	name, err := relay.Deliver(context.Background(), Payload{})
	require.NoError(t, err)
	assert.Equal(t, "primary", name)
}

func TestDeliver_NoEndpoints(t *testing.T) {
	relay := New(config.WebhookConfig{}, zerolog.Nop())
	assert.False(t, relay.Configured())

	_, err := relay.Deliver(context.Background(), Payload{})
	assert.ErrorIs(t, err, ErrNoEndpoints)
}

func TestHealth(t *testing.T) {
	_, primarySrv := newRecorder(t, http.StatusServiceUnavailable)
	_, backupSrv := newRecorder(t, http.StatusOK)

	relay := New(config.WebhookConfig{PrimaryURL: primarySrv.URL, BackupURL: backupSrv.URL, Retries: 1}, zerolog.Nop(), WithRetryBaseDelay(0))

	health := relay.Health()
	require.Len(t, health, 2)
	assert.True(t, health[0].Healthy)

	_, err := relay.Deliver(context.Background(), Payload{})
	require.NoError(t, err)

	health = relay.Health()
	assert.Equal(t, "primary", health[0].Name)
	assert.False(t, health[0].Healthy)
	assert.Contains(t, health[0].LastError, "503")
	assert.True(t, health[1].Healthy)
}

func TestNewRelay_OrdersByPriority(t *testing.T) {
	relay := NewRelay([]Endpoint{
		{Name: "b", URL: "http://b", Priority: 2},
		{Name: "a", URL: "http://a", Priority: 1},
	}, zerolog.Nop())

	require.Len(t, relay.endpoints, 2)
	assert.Equal(t, "a", relay.endpoints[0].Name)
	assert.Equal(t, DefaultTimeout, relay.endpoints[0].Timeout)
}
