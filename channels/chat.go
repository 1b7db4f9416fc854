package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ChatChannel delivers notifications through a push-style chat-bot
// messaging API: JSON POST with a bearer token, recipient addressed by
// an opaque ID handed out when the user linked the integration.
type ChatChannel struct {
	apiURL     string
	botToken   string
	httpClient *http.Client
}

func NewChatChannel(apiURL, botToken string) (*ChatChannel, error) {
	if apiURL == "" {
		return nil, fmt.Errorf("CHAT_API_URL not set")
	}
	if botToken == "" {
		return nil, fmt.Errorf("CHAT_BOT_TOKEN not set")
	}
	return &ChatChannel{
		apiURL:     apiURL,
		botToken:   botToken,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

func (c *ChatChannel) ValidateDestination(destination string) error {
	if strings.TrimSpace(destination) == "" {
		return fmt.Errorf("chat recipient id is empty")
	}
	return nil
}

type chatSendRequest struct {
	RecipientID string `json:"recipient_id"`
	Text        string `json:"text"`
}

type chatSendResponse struct {
	MessageID string `json:"message_id"`
}

func (c *ChatChannel) Send(ctx context.Context, req SendRequest) DeliveryResult {
	if err := c.ValidateDestination(req.Destination); err != nil {
		return failure(KindInvalidAddress, err.Error())
	}

	body, err := json.Marshal(chatSendRequest{
		RecipientID: req.Destination,
		Text:        req.Message.Body,
	})
	if err != nil {
		return failure(KindProviderRejected, err.Error())
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return failure(KindConnectionError, err.Error())
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.botToken)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusGone:
		// Recipient revoked the integration.
		return failure(KindRecipientRevoked, string(respBody))
	case resp.StatusCode == http.StatusNotFound:
		return failure(KindInvalidAddress, string(respBody))
	case resp.StatusCode == http.StatusTooManyRequests:
		return failure(KindCarrierThrottled, string(respBody))
	case resp.StatusCode >= 500:
		return failure(KindProviderUnavailable, string(respBody))
	case resp.StatusCode >= 300:
		return failure(KindProviderRejected, fmt.Sprintf("chat API %s: %s", resp.Status, respBody))
	}

	var out chatSendResponse
	if err := json.Unmarshal(respBody, &out); err == nil && out.MessageID != "" {
		return success(out.MessageID)
	}
	return success(fmt.Sprintf("chat-%d", time.Now().UnixNano()))
}
