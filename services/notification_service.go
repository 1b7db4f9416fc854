package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"shipment-notification-service/channels"
	"shipment-notification-service/models"
	"shipment-notification-service/repository"
	"shipment-notification-service/templates"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// NotificationService orchestrates dispatch: subscription matching,
// template rendering, channel invocation and the delivery ledger.
type NotificationService interface {
	// NotifyForEvent dispatches to every eligible subscription of the
	// event's shipment. One subscription's failure never aborts the
	// others; per-subscription results come back as outcomes.
	NotifyForEvent(ctx context.Context, event *models.Event) ([]DispatchOutcome, error)
	// SendNotification dispatches to one subscription directly,
	// bypassing matching but honoring the ledger and the consent check.
	SendNotification(ctx context.Context, sub *models.Subscription, event *models.Event) (DispatchOutcome, error)
	// RetryDelivery re-attempts a previously failed (subscription,
	// event) pair. Used by the retry scheduler only.
	RetryDelivery(ctx context.Context, subscriptionID uuid.UUID, event *models.Event) (DispatchOutcome, error)
	// ConfirmDelivery transitions a sent record to delivered.
	ConfirmDelivery(ctx context.Context, deliveryRecordID uuid.UUID) (bool, error)
	ListDeliveries(ctx context.Context, filter models.DeliveryFilter) ([]models.DeliveryRecord, int64, error)
}

type notificationService struct {
	subs           repository.SubscriptionRepository
	deliveries     repository.DeliveryRepository
	channels       map[string]channels.Channel
	templates      *templates.Manager
	publicBaseURL  string
	channelTimeout time.Duration
	logger         *zap.Logger
}

func NewNotificationService(
	subs repository.SubscriptionRepository,
	deliveries repository.DeliveryRepository,
	channelSet map[string]channels.Channel,
	tm *templates.Manager,
	publicBaseURL string,
	channelTimeout time.Duration,
	logger *zap.Logger,
) (NotificationService, error) {
	for _, name := range models.Channels {
		if _, ok := channelSet[name]; !ok {
			return nil, fmt.Errorf("missing channel implementation: %s", name)
		}
	}
	if channelTimeout <= 0 {
		channelTimeout = 15 * time.Second
	}
	return &notificationService{
		subs:           subs,
		deliveries:     deliveries,
		channels:       channelSet,
		templates:      tm,
		publicBaseURL:  publicBaseURL,
		channelTimeout: channelTimeout,
		logger:         logger,
	}, nil
}

func (s *notificationService) NotifyForEvent(ctx context.Context, event *models.Event) ([]DispatchOutcome, error) {
	subs, err := s.subs.FindByShipmentID(ctx, event.ShipmentID)
	if err != nil {
		return nil, fmt.Errorf("load subscriptions for shipment %s: %w", event.ShipmentID, err)
	}

	outcomes := make([]DispatchOutcome, 0, len(subs))
	for i := range subs {
		sub := &subs[i]
		if !sub.EligibleFor(event.EventCode) {
			continue
		}
		outcome := s.dispatchOne(ctx, sub, event)
		outcomes = append(outcomes, outcome)

		s.logger.Info("dispatch outcome",
			zap.String("event_id", event.ID.String()),
			zap.String("subscription_id", sub.ID.String()),
			zap.String("channel", sub.Channel),
			zap.String("status", outcome.Status),
			zap.String("error_kind", outcome.ErrorKind),
		)
	}
	return outcomes, nil
}

func (s *notificationService) SendNotification(ctx context.Context, sub *models.Subscription, event *models.Event) (DispatchOutcome, error) {
	if !sub.ConsentGiven {
		return DispatchOutcome{}, &ConsentRequiredError{SubscriptionID: sub.ID}
	}
	return s.dispatchOne(ctx, sub, event), nil
}

func (s *notificationService) RetryDelivery(ctx context.Context, subscriptionID uuid.UUID, event *models.Event) (DispatchOutcome, error) {
	sub, err := s.subs.FindByID(ctx, subscriptionID)
	if err != nil {
		return DispatchOutcome{}, fmt.Errorf("load subscription %s: %w", subscriptionID, err)
	}
	// The subscriber may have unsubscribed between attempts.
	if !sub.EligibleFor(event.EventCode) {
		return s.skipped(sub, event, "subscription no longer eligible"), nil
	}

	rec, err := s.deliveries.FindBySubscriptionAndEvent(ctx, sub.ID, event.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// The original dispatch never got its ledger record in (the
			// pending insert itself failed). Run the insert-before-send
			// protocol from scratch rather than dropping the pair.
			return s.dispatchOne(ctx, sub, event), nil
		}
		return DispatchOutcome{}, err
	}
	if rec.Status == models.StatusSent || rec.Status == models.StatusDelivered {
		return s.skipped(sub, event, "already sent"), nil
	}
	return s.attempt(ctx, sub, event, rec), nil
}

func (s *notificationService) ConfirmDelivery(ctx context.Context, deliveryRecordID uuid.UUID) (bool, error) {
	return s.deliveries.MarkDelivered(ctx, deliveryRecordID)
}

func (s *notificationService) ListDeliveries(ctx context.Context, filter models.DeliveryFilter) ([]models.DeliveryRecord, int64, error) {
	return s.deliveries.List(ctx, filter)
}

// dispatchOne runs the insert-before-send protocol for one pair:
// win the pending insert (or exit as already handled), render, send,
// record the result.
func (s *notificationService) dispatchOne(ctx context.Context, sub *models.Subscription, event *models.Event) DispatchOutcome {
	rec := &models.DeliveryRecord{
		ID:             uuid.New(),
		SubscriptionID: sub.ID,
		EventID:        event.ID,
		Channel:        sub.Channel,
	}
	inserted, existing, err := s.deliveries.InsertPending(ctx, rec)
	if err != nil {
		return DispatchOutcome{
			SubscriptionID: sub.ID,
			EventID:        event.ID,
			Channel:        sub.Channel,
			Status:         OutcomeFailed,
			ErrorKind:      string(channels.KindProviderUnavailable),
			Retryable:      true,
			Detail:         fmt.Sprintf("ledger insert: %v", err),
		}
	}
	if !inserted {
		// Another worker owns this pair, or it was already sent.
		out := s.skipped(sub, event, "duplicate dispatch")
		out.DeliveryRecordID = existing.ID
		return out
	}
	return s.attempt(ctx, sub, event, rec)
}

// attempt renders and sends against an owned ledger record, then
// persists the attempt result.
func (s *notificationService) attempt(ctx context.Context, sub *models.Subscription, event *models.Event, rec *models.DeliveryRecord) DispatchOutcome {
	now := time.Now().UTC()
	rec.Attempt++
	rec.LastAttemptAt = &now

	tmpl, err := s.templates.Resolve(sub.Channel, event.EventCode, sub.Locale)
	if err != nil {
		return s.recordFailure(ctx, sub, event, rec, KindTemplateNotFound, false, err.Error())
	}
	msg, err := s.templates.Render(tmpl, s.templateVars(sub, event))
	if err != nil {
		return s.recordFailure(ctx, sub, event, rec, KindTemplateRenderFailed, false, err.Error())
	}

	channel := s.channels[sub.Channel]

	sendCtx, cancel := context.WithTimeout(ctx, s.channelTimeout)
	defer cancel()
	result := channel.Send(sendCtx, channels.SendRequest{
		Destination: sub.Destination,
		Secret:      sub.WebhookSecret,
		Message:     msg,
	})

	if !result.Success {
		return s.recordFailure(ctx, sub, event, rec, string(result.ErrorKind), result.ErrorKind.Transient(), result.Detail)
	}

	rec.Status = models.StatusSent
	rec.ProviderResponse = result.ProviderRef
	rec.ErrorKind = ""
	if err := s.deliveries.Update(ctx, rec); err != nil {
		// The send went out; losing the ledger write must not trigger a
		// duplicate send later, so log loudly instead of failing.
		s.logger.Error("failed to persist sent delivery record",
			zap.String("delivery_record_id", rec.ID.String()),
			zap.Error(err),
		)
	}
	return DispatchOutcome{
		SubscriptionID:   sub.ID,
		EventID:          event.ID,
		DeliveryRecordID: rec.ID,
		Channel:          sub.Channel,
		Status:           OutcomeSent,
		Attempt:          rec.Attempt,
	}
}

func (s *notificationService) recordFailure(ctx context.Context, sub *models.Subscription, event *models.Event, rec *models.DeliveryRecord, kind string, retryable bool, detail string) DispatchOutcome {
	rec.Status = models.StatusFailed
	rec.ErrorKind = kind
	rec.ProviderResponse = detail
	if err := s.deliveries.Update(ctx, rec); err != nil {
		s.logger.Error("failed to persist failed delivery record",
			zap.String("delivery_record_id", rec.ID.String()),
			zap.Error(err),
		)
	}
	return DispatchOutcome{
		SubscriptionID:   sub.ID,
		EventID:          event.ID,
		DeliveryRecordID: rec.ID,
		Channel:          sub.Channel,
		Status:           OutcomeFailed,
		Attempt:          rec.Attempt,
		ErrorKind:        kind,
		Retryable:        retryable,
		Detail:           detail,
	}
}

func (s *notificationService) skipped(sub *models.Subscription, event *models.Event, detail string) DispatchOutcome {
	return DispatchOutcome{
		SubscriptionID: sub.ID,
		EventID:        event.ID,
		Channel:        sub.Channel,
		Status:         OutcomeSkipped,
		Detail:         detail,
	}
}

func (s *notificationService) templateVars(sub *models.Subscription, event *models.Event) map[string]string {
	return map[string]string{
		"trackingNumber":   event.ShipmentID,
		"currentStatus":    event.EventCode,
		"eventDescription": event.Description,
		"eventTime":        event.OccurredAt.Format(time.RFC1123),
		"facility":         event.Facility,
		"eta":              event.ETA,
		"eventId":          event.ID.String(),
		"unsubscribeUrl":   fmt.Sprintf("%s/unsubscribe/%s", s.publicBaseURL, sub.UnsubscribeToken),
	}
}
