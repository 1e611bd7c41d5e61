// Package chat implements the Messenger port: a JSON webhook for a chat
// bridge, and a log-only messenger for running without one.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/ericfisherdev/repowatch/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.Messenger = (*WebhookMessenger)(nil)

const defaultTimeout = 10 * time.Second

// message is the webhook payload.
type message struct {
	Channel string `json:"channel"`
	Text    string `json:"text"`
}

// WebhookMessenger posts each message as JSON to a chat bridge.
type WebhookMessenger struct {
	url    string
	client *http.Client
}

// WebhookOptions configures a WebhookMessenger.
type WebhookOptions struct {
	URL   string
	Token string // Sent as a bearer token when set.

	// Transport defaults to http.DefaultTransport.
	Transport http.RoundTripper
	Timeout   time.Duration
}

// NewWebhookMessenger creates a WebhookMessenger.
func NewWebhookMessenger(opts WebhookOptions) *WebhookMessenger {
	transport := opts.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	if opts.Token != "" {
		transport = &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.Token}),
			Base:   transport,
		}
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}

	return &WebhookMessenger{
		url:    opts.URL,
		client: &http.Client{Transport: transport, Timeout: timeout},
	}
}

// SendMessage delivers text to channel. Any non-2xx response is an error.
func (m *WebhookMessenger) SendMessage(ctx context.Context, channel, text string) error {
	body, err := json.Marshal(message{Channel: channel, Text: text})
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
