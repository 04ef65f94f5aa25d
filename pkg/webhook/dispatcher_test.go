package webhook_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reprove-ai/reprove/pkg/contracts"
	"github.com/reprove-ai/reprove/pkg/webhook"
)

func subscription(url, secret string, events ...string) *contracts.Subscription {
	return &contracts.Subscription{
		ID:        "sub-" + secret,
		URL:       url,
		Secret:    secret,
		Events:    events,
		CreatedAt: time.Now().UTC(),
	}
}

// TestNotify_SignedDelivery verifies the envelope shape and that the
// signature header verifies against the subscriber's secret.
func TestNotify_SignedDelivery(t *testing.T) {
	var (
		body      []byte
		event     string
		signature string
		ctype     string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		event = r.Header.Get("X-Event-Name")
		signature = r.Header.Get("X-Signature")
		ctype = r.Header.Get("Content-Type")
	}))
	defer server.Close()

	d := webhook.NewDispatcher(100)
	delivered := d.Notify(context.Background(),
		[]*contracts.Subscription{subscription(server.URL, "s3cr3t-key", contracts.EventConfirmedClaim)},
		contracts.EventConfirmedClaim,
		map[string]any{"claim_id": "c-1", "severity": "HIGH"},
	)

	assert.Equal(t, 1, delivered)
	assert.Equal(t, contracts.EventConfirmedClaim, event)
	assert.Equal(t, "application/json", ctype)

	mac := hmac.New(sha256.New, []byte("s3cr3t-key"))
	mac.Write(body)
	assert.Equal(t, "sha256="+hex.EncodeToString(mac.Sum(nil)), signature)

	var envelope webhook.Envelope
	require.NoError(t, json.Unmarshal(body, &envelope))
	assert.Equal(t, contracts.EventConfirmedClaim, envelope.Event)
	payload := envelope.Payload.(map[string]any)
	assert.Equal(t, "c-1", payload["claim_id"])
}

// TestNotify_FailureIsolation verifies one dead subscriber never blocks
// the rest, and that a non-2xx response counts as a failure.
func TestNotify_FailureIsolation(t *testing.T) {
	var healthyCalls atomic.Int32
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		healthyCalls.Add(1)
	}))
	defer healthy.Close()
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer broken.Close()

	d := webhook.NewDispatcher(100)
	delivered := d.Notify(context.Background(),
		[]*contracts.Subscription{
			subscription("http://127.0.0.1:1/unreachable", "dead-secret", contracts.EventConfirmedClaim),
			subscription(broken.URL, "broken-secret", contracts.EventConfirmedClaim),
			subscription(healthy.URL, "live-secret", contracts.EventConfirmedClaim),
		},
		contracts.EventConfirmedClaim,
		map[string]any{"claim_id": "c-2"},
	)

	assert.Equal(t, 1, delivered)
	assert.Equal(t, int32(1), healthyCalls.Load())
}

// TestNotify_EventFilter verifies subscribers not registered for the event
// are skipped entirely.
func TestNotify_EventFilter(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	d := webhook.NewDispatcher(100)
	delivered := d.Notify(context.Background(),
		[]*contracts.Subscription{subscription(server.URL, "other-secret", "unrelated_event")},
		contracts.EventConfirmedClaim,
		map[string]any{},
	)

	assert.Zero(t, delivered)
	assert.Zero(t, calls.Load())
}

// TestNotify_CancelledContextStopsPacing verifies a cancelled context ends
// the fan-out without attempting delivery.
func TestNotify_CancelledContextStopsPacing(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// limiter rate of one per hour forces Wait to consult the context
	d := webhook.NewDispatcher(1.0 / 3600.0)
	delivered := d.Notify(ctx,
		[]*contracts.Subscription{subscription(server.URL, "slow-secret", contracts.EventConfirmedClaim)},
		contracts.EventConfirmedClaim,
		map[string]any{},
	)

	assert.Zero(t, delivered)
	assert.Zero(t, calls.Load())
}

// TestSign_MatchesReferenceHMAC pins the signature scheme.
func TestSign_MatchesReferenceHMAC(t *testing.T) {
	got := webhook.Sign([]byte(`{"event":"confirmed_claim"}`), "key")
	mac := hmac.New(sha256.New, []byte("key"))
	mac.Write([]byte(`{"event":"confirmed_claim"}`))
	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), got)
	assert.Len(t, got, 64)
}
