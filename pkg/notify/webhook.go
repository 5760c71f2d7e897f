package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/harvestly/warden/pkg/model"
)

// WebhookChannel posts alerts to an HTTP endpoint as JSON.
type WebhookChannel struct {
	url     string
	secret  string
	headers map[string]string
	client  *http.Client
}

// WebhookOptions configures a webhook channel.
type WebhookOptions struct {
	URL     string
	Secret  string
	Headers map[string]string
	Timeout time.Duration
}

// NewWebhookChannel creates a webhook channel. If Secret is non-empty,
// request bodies are signed with HMAC-SHA256.
func NewWebhookChannel(opts WebhookOptions) (*WebhookChannel, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("%w: webhook requires a url", ErrChannelConfig)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &WebhookChannel{
		url:     opts.URL,
		secret:  opts.Secret,
		headers: opts.Headers,
		client: &http.Client{
			Timeout: opts.Timeout,
		},
	}, nil
}

func (w *WebhookChannel) Name() string { return "webhook" }

func (w *WebhookChannel) Send(ctx context.Context, alert model.Alert) error {
	body, err := json.Marshal(NewPayload(alert))
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "warden/1.0")
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}

	if w.secret != "" {
		sig := computeHMAC(body, []byte(w.secret))
		req.Header.Set("X-Signature-256", "sha256="+sig)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook alert: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func computeHMAC(message, key []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(message)
	return hex.EncodeToString(mac.Sum(nil))
}
