package channels

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

const twilioBaseURL = "https://api.twilio.com"

var phonePattern = regexp.MustCompile(`^\+[1-9]\d{6,14}$`)

// TwilioChannel delivers SMS notifications via the Twilio REST API.
type TwilioChannel struct {
	accountSID string
	authToken  string
	fromNumber string
	baseURL    string
	httpClient *http.Client
}

func NewTwilioChannel(accountSID, authToken, fromNumber string) (*TwilioChannel, error) {
	if accountSID == "" {
		return nil, fmt.Errorf("TWILIO_ACCOUNT_SID not set")
	}
	if authToken == "" {
		return nil, fmt.Errorf("TWILIO_AUTH_TOKEN not set")
	}
	if fromNumber == "" {
		return nil, fmt.Errorf("TWILIO_FROM_NUMBER not set")
	}
	return &TwilioChannel{
		accountSID: accountSID,
		authToken:  authToken,
		fromNumber: fromNumber,
		baseURL:    twilioBaseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

func (t *TwilioChannel) ValidateDestination(destination string) error {
	if !phonePattern.MatchString(destination) {
		return fmt.Errorf("invalid phone number %q: must be E.164", destination)
	}
	return nil
}

func (t *TwilioChannel) Send(ctx context.Context, req SendRequest) DeliveryResult {
	if err := t.ValidateDestination(req.Destination); err != nil {
		return failure(KindInvalidAddress, err.Error())
	}

	apiURL := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", t.baseURL, t.accountSID)

	formData := url.Values{}
	formData.Set("To", req.Destination)
	formData.Set("From", t.fromNumber)
	formData.Set("Body", req.Message.Body)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL,
		strings.NewReader(formData.Encode()))
	if err != nil {
		return failure(KindConnectionError, err.Error())
	}
	httpReq.SetBasicAuth(t.accountSID, t.authToken)
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return failure(KindCarrierThrottled, string(respBody))
	case resp.StatusCode == http.StatusBadRequest:
		return failure(KindInvalidAddress, string(respBody))
	case resp.StatusCode >= 500:
		return failure(KindProviderUnavailable, string(respBody))
	case resp.StatusCode >= 300:
		return failure(KindProviderRejected, fmt.Sprintf("twilio %s: %s", resp.Status, respBody))
	}

	var body struct {
		SID string `json:"sid"`
	}
	if err := json.Unmarshal(respBody, &body); err == nil && body.SID != "" {
		return success(body.SID)
	}
	return success(fmt.Sprintf("twilio-%d", time.Now().UnixNano()))
}

// classifyTransportError maps a client-side HTTP error onto the kind
// taxonomy: timeouts vs DNS/connection failures.
func classifyTransportError(err error) DeliveryResult {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return failure(KindTransportTimeout, err.Error())
	}
	return failure(KindConnectionError, err.Error())
}
