package channels

import (
	"context"
)

// ErrorKind classifies a failed send. The retry scheduler decides
// retry-vs-give-up from the kind alone, never from message text.
type ErrorKind string

const (
	// Permanent kinds, never retried.
	KindInvalidAddress   ErrorKind = "invalid_address"
	KindProviderRejected ErrorKind = "provider_rejected"
	KindRecipientRevoked ErrorKind = "recipient_revoked"

	// Transient kinds, retryable with backoff.
	KindTransportTimeout    ErrorKind = "transport_timeout"
	KindConnectionError     ErrorKind = "connection_error"
	KindCarrierThrottled    ErrorKind = "carrier_throttled"
	KindProviderUnavailable ErrorKind = "provider_unavailable"
)

// Transient reports whether the kind is worth retrying.
func (k ErrorKind) Transient() bool {
	switch k {
	case KindTransportTimeout, KindConnectionError, KindCarrierThrottled, KindProviderUnavailable:
		return true
	}
	return false
}

// Message is a rendered notification. Subject applies to email only;
// Payload is the structured body used by the webhook channel.
type Message struct {
	Subject string
	Body    string
	Payload map[string]string
}

// SendRequest carries everything a channel needs for one delivery.
// Secret is the per-integration signing secret (webhook only).
type SendRequest struct {
	Destination string
	Secret      string
	Message     Message
}

// DeliveryResult is the outcome of a single channel invocation.
type DeliveryResult struct {
	Success     bool
	ProviderRef string
	ErrorKind   ErrorKind
	Detail      string
}

// Channel is the transport capability. NotificationService depends only
// on this interface, never on a concrete variant.
type Channel interface {
	Send(ctx context.Context, req SendRequest) DeliveryResult
	ValidateDestination(destination string) error
}

func success(providerRef string) DeliveryResult {
	return DeliveryResult{Success: true, ProviderRef: providerRef}
}

func failure(kind ErrorKind, detail string) DeliveryResult {
	return DeliveryResult{ErrorKind: kind, Detail: detail}
}
