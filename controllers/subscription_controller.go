package controllers

import (
	"net/http"

	"shipment-notification-service/services"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type SubscriptionController struct {
	subscriptionService services.SubscriptionService
	logger              *zap.Logger
}

func NewSubscriptionController(svc services.SubscriptionService, logger *zap.Logger) *SubscriptionController {
	return &SubscriptionController{subscriptionService: svc, logger: logger}
}

// Create registers an opt-in subscription. The consent source IP is
// taken from the request, not the payload.
func (sc *SubscriptionController) Create(ctx *gin.Context) {
	var req services.CreateSubscriptionRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sub, svcErr := sc.subscriptionService.Create(ctx.Request.Context(), &req, ctx.ClientIP())
	if svcErr != nil {
		ctx.JSON(svcErr.StatusCode, gin.H{"error": svcErr.Message})
		return
	}

	// The token and webhook secret are returned exactly once, at
	// creation; they are never readable again through the API.
	resp := gin.H{
		"subscription":      sub,
		"unsubscribe_token": sub.UnsubscribeToken,
	}
	if sub.WebhookSecret != "" {
		resp["webhook_secret"] = sub.WebhookSecret
	}
	ctx.JSON(http.StatusCreated, resp)
}

func (sc *SubscriptionController) Update(ctx *gin.Context) {
	id, err := uuid.Parse(ctx.Param("id"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid subscription id"})
		return
	}
	var req services.UpdateSubscriptionRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sub, svcErr := sc.subscriptionService.Update(ctx.Request.Context(), id, &req, ctx.ClientIP())
	if svcErr != nil {
		ctx.JSON(svcErr.StatusCode, gin.H{"error": svcErr.Message})
		return
	}
	ctx.JSON(http.StatusOK, sub)
}

func (sc *SubscriptionController) Get(ctx *gin.Context) {
	id, err := uuid.Parse(ctx.Param("id"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid subscription id"})
		return
	}
	sub, svcErr := sc.subscriptionService.Get(ctx.Request.Context(), id)
	if svcErr != nil {
		ctx.JSON(svcErr.StatusCode, gin.H{"error": svcErr.Message})
		return
	}
	ctx.JSON(http.StatusOK, sub)
}

func (sc *SubscriptionController) List(ctx *gin.Context) {
	page, pageSize := parsePaginationParams(ctx)
	subs, total, svcErr := sc.subscriptionService.List(ctx.Request.Context(), page, pageSize)
	if svcErr != nil {
		ctx.JSON(svcErr.StatusCode, gin.H{"error": svcErr.Message})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"data":      subs,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// Unsubscribe deactivates by token. An unknown or expired token is an
// expected user-facing case: the response says not-found, the status
// is never a 5xx.
func (sc *SubscriptionController) Unsubscribe(ctx *gin.Context) {
	token := ctx.Param("token")

	found, err := sc.subscriptionService.UnsubscribeByToken(ctx.Request.Context(), token)
	if err != nil {
		sc.logger.Error("unsubscribe failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	if !found {
		ctx.JSON(http.StatusNotFound, gin.H{"success": false, "error": "unknown token"})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"success": true})
}
