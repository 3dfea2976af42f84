package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// chatPayload is the JSON body posted to the chat webhook. The "text" field
// is what Slack- and Mattermost-style incoming webhooks render.
type chatPayload struct {
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// WebhookOption configures a WebhookChatSender.
type WebhookOption func(*WebhookChatSender)

// WithHTTPClient overrides the default HTTP client used for deliveries.
func WithHTTPClient(c *http.Client) WebhookOption {
	return func(s *WebhookChatSender) { s.httpClient = c }
}

// WithSecret enables HMAC-SHA256 signing of the payload. The signature is
// carried in the X-Webhook-Signature header.
func WithSecret(secret string) WebhookOption {
	return func(s *WebhookChatSender) { s.secret = secret }
}

// WebhookChatSender delivers chat messages by POSTing JSON to a configured
// webhook URL.
type WebhookChatSender struct {
	url        string
	secret     string
	httpClient *http.Client
}

// NewWebhookChatSender validates the URL and builds a sender with a 10s
// client timeout by default.
func NewWebhookChatSender(rawURL string, opts ...WebhookOption) (*WebhookChatSender, error) {
	if err := validateWebhookURL(rawURL); err != nil {
		return nil, err
	}
	s := &WebhookChatSender{
		url: rawURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// SendChat posts the message to the webhook. A non-2xx response is an error.
func (s *WebhookChatSender) SendChat(ctx context.Context, message string) error {
	payload, err := json.Marshal(chatPayload{Text: message, Timestamp: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal chat payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.secret != "" {
		req.Header.Set("X-Webhook-Signature", "sha256="+SignPayload(payload, s.secret))
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post chat webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Read at most 1KB of response body for error context.
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("chat webhook returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// validateWebhookURL checks that the URL is non-empty and uses http or https.
func validateWebhookURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("url is required")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("url scheme must be http or https, got %q", u.Scheme)
	}
	return nil
}

// SignPayload computes an HMAC-SHA256 signature of the payload using the given
// secret, returning the hex-encoded result.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature returns true when the hex-encoded signature matches the
// HMAC-SHA256 of payload under the given secret.
func VerifySignature(payload []byte, secret, signature string) bool {
	expected := SignPayload(payload, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}
