package controllers

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"shipment-notification-service/dispatch"
	"shipment-notification-service/middleware"
	"shipment-notification-service/models"
	"shipment-notification-service/repository"
	"shipment-notification-service/services"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type NotificationController struct {
	notificationService services.NotificationService
	subscriptionService services.SubscriptionService
	events              repository.EventRepository
	dispatcher          *dispatch.Dispatcher
	logger              *zap.Logger
}

func NewNotificationController(
	notificationService services.NotificationService,
	subscriptionService services.SubscriptionService,
	events repository.EventRepository,
	dispatcher *dispatch.Dispatcher,
	logger *zap.Logger,
) *NotificationController {
	return &NotificationController{
		notificationService: notificationService,
		subscriptionService: subscriptionService,
		events:              events,
		dispatcher:          dispatcher,
		logger:              logger,
	}
}

const (
	maxPageSize     = 100
	defaultPage     = 1
	defaultPageSize = 20
)

func parsePaginationParams(ctx *gin.Context) (int, int) {
	page := defaultPage
	pageSize := defaultPageSize

	if p, err := strconv.Atoi(ctx.DefaultQuery("page", "1")); err == nil && p > 0 {
		page = p
	}
	if l, err := strconv.Atoi(ctx.DefaultQuery("page_size", "20")); err == nil && l > 0 {
		pageSize = l
		if pageSize > maxPageSize {
			pageSize = maxPageSize
		}
	}
	return page, pageSize
}

// IngestEvent accepts an event from the tracking pipeline over HTTP and
// enqueues its dispatch. The SQS consumer is the other intake for the
// same payload.
func (nc *NotificationController) IngestEvent(ctx *gin.Context) {
	var payload models.EventPayload
	if err := ctx.ShouldBindJSON(&payload); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	event, err := payload.ToEvent()
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
		return
	}
	if err := nc.events.Save(ctx.Request.Context(), event); err != nil {
		nc.logger.Error("failed to persist event", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save event"})
		return
	}
	if !nc.dispatcher.EnqueueEvent(event) {
		ctx.JSON(http.StatusServiceUnavailable, gin.H{"error": "dispatcher unavailable"})
		return
	}
	ctx.JSON(http.StatusAccepted, gin.H{"event_id": event.ID})
}

type adHocSendRequest struct {
	SubscriptionID string              `json:"subscription_id" binding:"required"`
	Event          models.EventPayload `json:"event" binding:"required"`
}

// SendNotification performs an ad-hoc send to one subscription,
// bypassing matching but honoring consent and the delivery ledger.
func (nc *NotificationController) SendNotification(ctx *gin.Context) {
	var req adHocSendRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	subID, err := uuid.Parse(req.SubscriptionID)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid subscription_id"})
		return
	}

	sub, svcErr := nc.subscriptionService.Get(ctx.Request.Context(), subID)
	if svcErr != nil {
		ctx.JSON(svcErr.StatusCode, gin.H{"error": svcErr.Message})
		return
	}

	event, err := req.Event.ToEvent()
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
		return
	}
	if err := nc.events.Save(ctx.Request.Context(), event); err != nil {
		nc.logger.Error("failed to persist event", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save event"})
		return
	}

	outcome, err := nc.notificationService.SendNotification(ctx.Request.Context(), sub, event)
	if err != nil {
		var consentErr *services.ConsentRequiredError
		if errors.As(err, &consentErr) {
			ctx.JSON(http.StatusForbidden, gin.H{"error": consentErr.Error()})
			return
		}
		nc.logger.Error("ad-hoc send failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	ctx.JSON(http.StatusOK, outcome)
}

type confirmDeliveryRequest struct {
	DeliveryRecordID string `json:"delivery_record_id" binding:"required"`
}

// ConfirmDelivery is the inbound delivery-confirmation callback:
// transitions sent → delivered, idempotent on repeats.
func (nc *NotificationController) ConfirmDelivery(ctx *gin.Context) {
	var req confirmDeliveryRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id, err := uuid.Parse(req.DeliveryRecordID)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid delivery_record_id"})
		return
	}

	confirmed, err := nc.notificationService.ConfirmDelivery(ctx.Request.Context(), id)
	if err != nil {
		nc.logger.Error("failed to confirm delivery", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	if !confirmed {
		ctx.JSON(http.StatusNotFound, gin.H{"error": "delivery record not found or not sent"})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": models.StatusDelivered})
}

// GetDeliveryLog lists ledger entries with optional filters.
func (nc *NotificationController) GetDeliveryLog(ctx *gin.Context) {
	var subscriptionID uuid.UUID
	if s := ctx.Query("subscription_id"); s != "" {
		parsed, err := uuid.Parse(s)
		if err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid subscription_id"})
			return
		}
		subscriptionID = parsed
	}

	page, pageSize := parsePaginationParams(ctx)

	filter := models.DeliveryFilter{
		SubscriptionID: subscriptionID,
		Status:         ctx.Query("status"),
		Channel:        ctx.Query("channel"),
		Page:           page,
		PageSize:       pageSize,
	}

	recs, total, err := nc.notificationService.ListDeliveries(ctx.Request.Context(), filter)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			ctx.JSON(http.StatusOK, gin.H{"data": []models.DeliveryRecord{}, "total": 0})
			return
		}
		nc.logger.Error("failed to list deliveries",
			zap.Error(err),
			zap.Int64("requested_by", middleware.GetUserIDInt(ctx)),
		)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	totalPages := int(math.Ceil(float64(total) / float64(pageSize)))

	ctx.JSON(http.StatusOK, gin.H{
		"data":        recs,
		"total":       total,
		"page":        page,
		"page_size":   pageSize,
		"total_pages": totalPages,
	})
}
