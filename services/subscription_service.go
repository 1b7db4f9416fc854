package services

import (
	"context"
	"errors"
	"net/http"
	"time"

	"shipment-notification-service/channels"
	"shipment-notification-service/models"
	"shipment-notification-service/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CreateSubscriptionRequest is the opt-in payload.
type CreateSubscriptionRequest struct {
	ShipmentID  string   `json:"shipment_id" binding:"required"`
	Channel     string   `json:"channel" binding:"required"`
	Destination string   `json:"destination" binding:"required"`
	EventFilter []string `json:"event_filter"`
	Locale      string   `json:"locale"`
	Consent     bool     `json:"consent"`
	// WebhookSecret may be supplied by the integrator; minted when
	// absent on a webhook subscription.
	WebhookSecret string `json:"webhook_secret,omitempty"`
}

// UpdateSubscriptionRequest is a preference update. Reactivation of an
// inactive subscription requires fresh consent; it is never implicit.
type UpdateSubscriptionRequest struct {
	Destination *string   `json:"destination,omitempty"`
	EventFilter []string  `json:"event_filter,omitempty"`
	Locale      *string   `json:"locale,omitempty"`
	Reactivate  bool      `json:"reactivate,omitempty"`
	Consent     bool      `json:"consent,omitempty"`
}

// SubscriptionService owns subscription CRUD and the consent /
// unsubscribe state machine: pendingConsent → active → inactive.
type SubscriptionService interface {
	Create(ctx context.Context, req *CreateSubscriptionRequest, sourceIP string) (*models.Subscription, *ServiceError)
	Update(ctx context.Context, id uuid.UUID, req *UpdateSubscriptionRequest, sourceIP string) (*models.Subscription, *ServiceError)
	Get(ctx context.Context, id uuid.UUID) (*models.Subscription, *ServiceError)
	List(ctx context.Context, page, limit int) ([]models.Subscription, int64, *ServiceError)
	// UnsubscribeByToken deactivates the matching subscription.
	// Idempotent; returns found=false for an unknown token instead of
	// an error, since a stale link is an expected user-facing case.
	UnsubscribeByToken(ctx context.Context, token string) (bool, error)
}

type subscriptionService struct {
	repo     repository.SubscriptionRepository
	channels map[string]channels.Channel
	logger   *zap.Logger
}

func NewSubscriptionService(
	repo repository.SubscriptionRepository,
	channelSet map[string]channels.Channel,
	logger *zap.Logger,
) SubscriptionService {
	return &subscriptionService{repo: repo, channels: channelSet, logger: logger}
}

func (s *subscriptionService) Create(ctx context.Context, req *CreateSubscriptionRequest, sourceIP string) (*models.Subscription, *ServiceError) {
	channel, ok := s.channels[req.Channel]
	if !ok {
		return nil, &ServiceError{StatusCode: http.StatusBadRequest, Message: "unknown channel: " + req.Channel}
	}
	if err := channel.ValidateDestination(req.Destination); err != nil {
		return nil, &ServiceError{StatusCode: http.StatusBadRequest, Message: err.Error()}
	}

	locale := req.Locale
	if locale == "" {
		locale = models.DefaultLocale
	}

	sub := &models.Subscription{
		ID:               uuid.New(),
		ShipmentID:       req.ShipmentID,
		Channel:          req.Channel,
		Destination:      req.Destination,
		Locale:           locale,
		Active:           true,
		UnsubscribeToken: uuid.NewString(),
	}
	sub.SetEventFilter(req.EventFilter)

	if req.Consent {
		now := time.Now().UTC()
		sub.ConsentGiven = true
		sub.ConsentAt = &now
		sub.ConsentSourceIP = sourceIP
	}

	if req.Channel == models.ChannelWebhook {
		sub.WebhookSecret = req.WebhookSecret
		if sub.WebhookSecret == "" {
			sub.WebhookSecret = uuid.NewString()
		}
	}

	if err := s.repo.Create(ctx, sub); err != nil {
		s.logger.Error("failed to create subscription", zap.Error(err))
		return nil, &ServiceError{StatusCode: http.StatusInternalServerError, Message: "failed to save subscription"}
	}

	s.logger.Info("subscription created",
		zap.String("subscription_id", sub.ID.String()),
		zap.String("shipment_id", sub.ShipmentID),
		zap.String("channel", sub.Channel),
		zap.Bool("consent_given", sub.ConsentGiven),
	)
	return sub, nil
}

func (s *subscriptionService) Update(ctx context.Context, id uuid.UUID, req *UpdateSubscriptionRequest, sourceIP string) (*models.Subscription, *ServiceError) {
	sub, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &ServiceError{StatusCode: http.StatusNotFound, Message: "subscription not found"}
		}
		return nil, &ServiceError{StatusCode: http.StatusInternalServerError, Message: "failed to load subscription"}
	}

	if req.Destination != nil {
		channel := s.channels[sub.Channel]
		if err := channel.ValidateDestination(*req.Destination); err != nil {
			return nil, &ServiceError{StatusCode: http.StatusBadRequest, Message: err.Error()}
		}
		sub.Destination = *req.Destination
	}
	if req.EventFilter != nil {
		sub.SetEventFilter(req.EventFilter)
	}
	if req.Locale != nil {
		sub.Locale = *req.Locale
	}

	if req.Reactivate && !sub.Active {
		if !req.Consent {
			return nil, &ServiceError{StatusCode: http.StatusBadRequest, Message: "reactivation requires fresh consent"}
		}
		now := time.Now().UTC()
		sub.Active = true
		sub.ConsentGiven = true
		sub.ConsentAt = &now
		sub.ConsentSourceIP = sourceIP
	}

	if err := s.repo.Update(ctx, sub); err != nil {
		s.logger.Error("failed to update subscription", zap.Error(err))
		return nil, &ServiceError{StatusCode: http.StatusInternalServerError, Message: "failed to save subscription"}
	}
	return sub, nil
}

func (s *subscriptionService) Get(ctx context.Context, id uuid.UUID) (*models.Subscription, *ServiceError) {
	sub, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &ServiceError{StatusCode: http.StatusNotFound, Message: "subscription not found"}
		}
		return nil, &ServiceError{StatusCode: http.StatusInternalServerError, Message: "failed to load subscription"}
	}
	return sub, nil
}

func (s *subscriptionService) List(ctx context.Context, page, limit int) ([]models.Subscription, int64, *ServiceError) {
	subs, total, err := s.repo.FindAll(ctx, page, limit)
	if err != nil {
		return nil, 0, &ServiceError{StatusCode: http.StatusInternalServerError, Message: "failed to list subscriptions"}
	}
	return subs, total, nil
}

func (s *subscriptionService) UnsubscribeByToken(ctx context.Context, token string) (bool, error) {
	sub, err := s.repo.FindByToken(ctx, token)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	if !sub.Active {
		// Already unsubscribed; repeated clicks are a no-op success.
		return true, nil
	}
	sub.Active = false
	if err := s.repo.Update(ctx, sub); err != nil {
		return false, err
	}
	s.logger.Info("subscription deactivated",
		zap.String("subscription_id", sub.ID.String()),
		zap.String("shipment_id", sub.ShipmentID),
	)
	return true, nil
}
