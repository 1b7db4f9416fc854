package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	ChannelEmail   = "email"
	ChannelSMS     = "sms"
	ChannelChat    = "chat"
	ChannelWebhook = "webhook"

	StatusPending   = "pending"
	StatusSent      = "sent"
	StatusFailed    = "failed"
	StatusDelivered = "delivered"

	EventDelivered       = "Delivered"
	EventOutForDelivery  = "OutForDelivery"
	EventInTransit       = "InTransit"
	EventPickedUp        = "PickedUp"
	EventDeliveryFailed  = "DeliveryFailed"
	EventReturnToSender  = "ReturnToSender"
	EventCustom          = "Custom"

	// EventFilterAll is the wildcard filter value matching every event code.
	EventFilterAll = "all"

	DefaultLocale = "en"
)

// Channels lists every supported delivery channel.
var Channels = []string{ChannelEmail, ChannelSMS, ChannelChat, ChannelWebhook}

// Event is an immutable shipment fact produced by the ingestion pipeline.
// Facility and ETA are optional details used only as template variables.
type Event struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ShipmentID  string    `gorm:"type:varchar(128);not null;index" json:"shipment_id"`
	EventCode   string    `gorm:"type:varchar(64);not null" json:"event_code"`
	Description string    `gorm:"type:varchar(1024)" json:"description"`
	Facility    string    `gorm:"type:varchar(256)" json:"facility,omitempty"`
	ETA         string    `gorm:"type:varchar(64)" json:"eta,omitempty"`
	OccurredAt  time.Time `gorm:"not null" json:"occurred_at"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// EventPayload is the wire shape consumed from the ingestion queue and
// the POST /events endpoint.
type EventPayload struct {
	ID          string    `json:"id"`
	ShipmentID  string    `json:"shipment_id" binding:"required"`
	EventCode   string    `json:"event_code" binding:"required"`
	Description string    `json:"description"`
	Facility    string    `json:"facility,omitempty"`
	ETA         string    `json:"eta,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// ToEvent converts the payload into an Event record, minting an ID and
// timestamp where the producer left them empty.
func (p *EventPayload) ToEvent() (*Event, error) {
	id := uuid.New()
	if p.ID != "" {
		parsed, err := uuid.Parse(p.ID)
		if err != nil {
			return nil, err
		}
		id = parsed
	}
	occurredAt := p.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}
	return &Event{
		ID:          id,
		ShipmentID:  p.ShipmentID,
		EventCode:   p.EventCode,
		Description: p.Description,
		Facility:    p.Facility,
		ETA:         p.ETA,
		OccurredAt:  occurredAt,
	}, nil
}

// Subscription is a subscriber's interest registration for one shipment.
type Subscription struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ShipmentID      string    `gorm:"type:varchar(128);not null;index" json:"shipment_id"`
	Channel         string    `gorm:"type:varchar(16);not null" json:"channel"`
	Destination     string    `gorm:"type:varchar(1024);not null" json:"destination"`
	Locale          string    `gorm:"type:varchar(16);not null;default:'en'" json:"locale"`
	EventFilterJSON string    `gorm:"type:jsonb;column:event_filter" json:"-"`
	Active          bool      `gorm:"not null;default:true" json:"active"`
	ConsentGiven    bool      `gorm:"not null;default:false" json:"consent_given"`
	ConsentAt       *time.Time `json:"consent_at,omitempty"`
	ConsentSourceIP string    `gorm:"type:varchar(64)" json:"-"`
	UnsubscribeToken string   `gorm:"type:varchar(64);uniqueIndex" json:"-"`
	// WebhookSecret is the per-integration HMAC secret; set only for
	// webhook subscriptions.
	WebhookSecret string         `gorm:"type:varchar(128)" json:"-"`
	CreatedAt     time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// EventFilter decodes the stored filter. An empty or unparseable column
// behaves as the wildcard.
func (s *Subscription) EventFilter() []string {
	if s.EventFilterJSON == "" {
		return []string{EventFilterAll}
	}
	var codes []string
	if err := json.Unmarshal([]byte(s.EventFilterJSON), &codes); err != nil || len(codes) == 0 {
		return []string{EventFilterAll}
	}
	return codes
}

// SetEventFilter stores the filter; nil/empty means wildcard.
func (s *Subscription) SetEventFilter(codes []string) {
	if len(codes) == 0 {
		codes = []string{EventFilterAll}
	}
	b, _ := json.Marshal(codes)
	s.EventFilterJSON = string(b)
}

// MatchesEvent reports whether the filter covers the given event code.
// Custom events always match: they are ad-hoc messages addressed to the
// shipment's subscribers regardless of filter.
func (s *Subscription) MatchesEvent(eventCode string) bool {
	if eventCode == EventCustom {
		return true
	}
	for _, code := range s.EventFilter() {
		if code == EventFilterAll || code == eventCode {
			return true
		}
	}
	return false
}

// EligibleFor is the dispatch eligibility invariant:
// active AND consent given AND the event code matches the filter.
func (s *Subscription) EligibleFor(eventCode string) bool {
	return s.Active && s.ConsentGiven && s.MatchesEvent(eventCode)
}

// DeliveryRecord is the dispatch ledger entry. The unique index on
// (subscription_id, event_id) is the idempotence boundary: at most one
// record may exist per pair, and the insert-before-send protocol makes
// concurrent dispatches of the same pair safe.
type DeliveryRecord struct {
	ID               uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	SubscriptionID   uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_subscription_event" json:"subscription_id"`
	EventID          uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_subscription_event" json:"event_id"`
	Channel          string     `gorm:"type:varchar(16);not null" json:"channel"`
	Status           string     `gorm:"type:varchar(16);not null;default:'pending';index" json:"status"`
	Attempt          int        `gorm:"not null;default:0" json:"attempt"`
	ProviderResponse string     `gorm:"type:varchar(2048)" json:"provider_response,omitempty"`
	ErrorKind        string     `gorm:"type:varchar(32)" json:"error_kind,omitempty"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	LastAttemptAt    *time.Time `json:"last_attempt_at,omitempty"`
}

// DeliveryFilter narrows ledger listings.
type DeliveryFilter struct {
	SubscriptionID uuid.UUID
	Status         string
	Channel        string
	Page           int
	PageSize       int
}
