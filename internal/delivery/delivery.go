// Package delivery supplies a concrete transport for actual notification
// delivery, kept outside the scheduler core. WebhookTransport is the one
// this repo ships: it POSTs a signed JSON
// payload to a configured URL, standing in for whatever filter-evaluation
// and template-rendering pipeline a full configuration-object system would
// run before handing off to email/SMS/chat transports.
package delivery

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

	"github.com/snehjoshi/notifyq/internal/types"
)

// Transport is the boundary the scheduler's concrete NotificationHandle
// implementation calls into from BeginExecute.
type Transport interface {
	Send(ctx context.Context, p Payload) error
}

// Payload is the JSON body POSTed to the webhook URL.
type Payload struct {
	Notification string `json:"notification"`
	Checkable    string `json:"checkable"`
	Type         string `json:"type"`
	State        int    `json:"state"`
	Output       string `json:"output"`
	Forced       bool   `json:"forced"`
	Reminder     bool   `json:"reminder"`
	Author       string `json:"author,omitempty"`
	Text         string `json:"text,omitempty"`
	ExecutionEnd int64  `json:"execution_end"` // UTC milliseconds
}

// WebhookTransport POSTs payloads to a single configured URL, optionally
// HMAC-SHA256-signing the body when a secret is set. One limiter per
// transport instance rate-limits outbound sends so a flapping checkable
// cannot saturate the endpoint.
type WebhookTransport struct {
	URL     string
	Secret  string
	Client  *http.Client
	Limiter *rate.Limiter
}

// NewWebhookTransport builds a WebhookTransport with the given timeout and
// rate limit. A nil or zero-value limiter configuration disables limiting.
func NewWebhookTransport(url, secret string, timeout time.Duration, ratePerSecond float64, burst int) *WebhookTransport {
	var lim *rate.Limiter
	if ratePerSecond > 0 {
		lim = rate.NewLimiter(rate.Limit(ratePerSecond), burst)
	}
	return &WebhookTransport{
		URL:     url,
		Secret:  secret,
		Client:  &http.Client{Timeout: timeout},
		Limiter: lim,
	}
}

// Send delivers p to t.URL. Returns nil when the endpoint responds with
// HTTP 200 OK, or without sending anything when no URL is configured.
func (t *WebhookTransport) Send(ctx context.Context, p Payload) error {
	if t.URL == "" {
		// No transport configured; treat as a successful no-op so tests and
		// local runs that never set a webhook URL don't fail delivery.
		slog.Debug("delivery: no webhook url configured, dropping", "notification", p.Notification)
		return nil
	}

	if t.Limiter != nil {
		if err := t.Limiter.Wait(ctx); err != nil {
			return fmt.Errorf("delivery: rate limiter: %w", err)
		}
	}

	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("delivery: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("delivery: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if t.Secret != "" {
		mac := hmac.New(sha256.New, []byte(t.Secret))
		mac.Write(body)
		sig := hex.EncodeToString(mac.Sum(nil))
		req.Header.Set("X-Notifyq-Signature", "sha256="+sig)
	}

	resp, err := t.Client.Do(req)
	if err != nil {
		return fmt.Errorf("delivery: POST to %s: %w", t.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("delivery: endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// PayloadFrom builds a Payload from the arguments BeginExecute receives.
func PayloadFrom(notification, checkable string, ntype types.NotificationType, cr types.CheckResult, forced, reminder bool, author, text string) Payload {
	return Payload{
		Notification: notification,
		Checkable:    checkable,
		Type:         ntype.String(),
		State:        cr.State,
		Output:       cr.Output,
		Forced:       forced,
		Reminder:     reminder,
		Author:       author,
		Text:         text,
		ExecutionEnd: int64(cr.ExecutionEnd * 1000),
	}
}
