package services

import (
	"fmt"

	"github.com/google/uuid"
)

// ServiceError is a typed error with an HTTP status code.
type ServiceError struct {
	StatusCode int
	Message    string
}

func (e *ServiceError) Error() string { return e.Message }

// ConsentRequiredError means a send was requested for a subscription
// that never gave (or has withdrawn) consent. Permanent, never retried.
type ConsentRequiredError struct {
	SubscriptionID uuid.UUID
}

func (e *ConsentRequiredError) Error() string {
	return fmt.Sprintf("subscription %s has not given consent", e.SubscriptionID)
}

// Failure kinds recorded on the ledger for non-channel failures. All
// are permanent: a missing or broken template is a configuration gap
// and missing consent cannot be fixed by retrying.
const (
	KindTemplateNotFound     = "template_not_found"
	KindTemplateRenderFailed = "template_render_failed"
	KindConsentRequired      = "consent_required"
)

// Outcome statuses for one (subscription, event) dispatch.
const (
	OutcomeSent    = "sent"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
)

// DispatchOutcome is the per-subscription result of a dispatch. Skipped
// is the expected idempotence outcome, not an error.
type DispatchOutcome struct {
	SubscriptionID   uuid.UUID `json:"subscription_id"`
	EventID          uuid.UUID `json:"event_id"`
	DeliveryRecordID uuid.UUID `json:"delivery_record_id,omitempty"`
	Channel          string    `json:"channel"`
	Status           string    `json:"status"`
	Attempt          int       `json:"attempt,omitempty"`
	ErrorKind        string    `json:"error_kind,omitempty"`
	Retryable        bool      `json:"retryable,omitempty"`
	Detail           string    `json:"detail,omitempty"`
}
