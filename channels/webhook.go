package channels

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
	"time"
)

// SignatureHeader carries the HMAC-SHA256 signature of the raw request
// body, hex-encoded with a "sha256=" prefix. Receivers must recompute
// it with the shared secret before trusting the payload.
const SignatureHeader = "X-Notify-Signature"

// WebhookChannel POSTs the structured payload to the subscriber's URL,
// signed with the subscription's shared secret.
type WebhookChannel struct {
	httpClient *http.Client
}

func NewWebhookChannel(timeout time.Duration) *WebhookChannel {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookChannel{httpClient: &http.Client{Timeout: timeout}}
}

func (w *WebhookChannel) ValidateDestination(destination string) error {
	u, err := url.Parse(destination)
	if err != nil {
		return fmt.Errorf("invalid webhook URL %q: %w", destination, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid webhook URL %q: must be absolute http(s)", destination)
	}
	return nil
}

// Sign computes the signature header value for a raw body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func (w *WebhookChannel) Send(ctx context.Context, req SendRequest) DeliveryResult {
	if err := w.ValidateDestination(req.Destination); err != nil {
		return failure(KindInvalidAddress, err.Error())
	}

	body, err := json.Marshal(req.Message.Payload)
	if err != nil {
		return failure(KindProviderRejected, err.Error())
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.Destination, bytes.NewReader(body))
	if err != nil {
		return failure(KindConnectionError, err.Error())
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(SignatureHeader, Sign(req.Secret, body))

	resp, err := w.httpClient.Do(httpReq)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return success(fmt.Sprintf("webhook-%d", resp.StatusCode))
	case resp.StatusCode >= 500:
		return failure(KindProviderUnavailable, fmt.Sprintf("%s: %s", resp.Status, respBody))
	default:
		// A 4xx from the receiver will not heal on retry.
		return failure(KindProviderRejected, fmt.Sprintf("%s: %s", resp.Status, respBody))
	}
}
