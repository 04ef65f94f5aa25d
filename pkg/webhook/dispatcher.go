// Package webhook delivers signed event notifications to registered
// subscriber endpoints. Delivery is at-most-one-attempt: no retry, no
// delivery guarantee. A failed call is logged per subscriber and never
// affects the claim that triggered it.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/reprove-ai/reprove/pkg/contracts"
)

// Envelope is the delivered body: {event, payload}.
type Envelope struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

// Dispatcher posts signed envelopes to subscribers, pacing outbound
// requests with a shared limiter.
type Dispatcher struct {
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewDispatcher creates a dispatcher sending at most perSec requests per
// second.
func NewDispatcher(perSec float64) *Dispatcher {
	return &Dispatcher{
		client:  &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(perSec), 1),
		logger:  slog.Default().With("component", "webhook"),
	}
}

// WithClient overrides the HTTP client for testing.
func (d *Dispatcher) WithClient(client *http.Client) *Dispatcher {
	d.client = client
	return d
}

// Notify delivers the event to every subscription registered for it.
// Each subscriber gets exactly one attempt; failures are logged and do not
// block delivery to the others. The returned count is the number of
// successful deliveries.
func (d *Dispatcher) Notify(ctx context.Context, subs []*contracts.Subscription, event string, payload any) int {
	body, err := json.Marshal(Envelope{Event: event, Payload: payload})
	if err != nil {
		d.logger.Error("marshal webhook envelope", "event", event, "error", err)
		return 0
	}

	delivered := 0
	for _, sub := range subs {
		if !sub.SubscribedTo(event) {
			continue
		}
		if err := d.limiter.Wait(ctx); err != nil {
			d.logger.Warn("webhook pacing interrupted", "event", event, "error", err)
			return delivered
		}
		if err := d.deliver(ctx, sub, event, body); err != nil {
			d.logger.Warn("webhook delivery failed",
				"event", event, "subscription", sub.ID, "url", sub.URL, "error", err)
			continue
		}
		delivered++
	}
	return delivered
}

func (d *Dispatcher) deliver(ctx context.Context, sub *contracts.Subscription, event string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Name", event)
	req.Header.Set("X-Signature", "sha256="+Sign(body, sub.Secret))

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("subscriber returned %s", resp.Status)
	}
	return nil
}

// Sign computes the hex HMAC-SHA256 of body keyed by secret.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
