package routes

import (
	"net/http"

	"shipment-notification-service/controllers"
	"shipment-notification-service/middleware"

	"github.com/gin-gonic/gin"
)

func RegisterRoutes(
	router *gin.Engine,
	notifications *controllers.NotificationController,
	subscriptions *controllers.SubscriptionController,
) {
	// Public
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "OK", "service": "shipment-notification-service"})
	})
	router.POST("/subscriptions", subscriptions.Create)
	router.GET("/unsubscribe/:token", subscriptions.Unsubscribe)
	// Called by delivery providers, not end users.
	router.POST("/deliveries/confirm", notifications.ConfirmDelivery)

	// Authenticated
	authed := router.Group("/subscriptions", middleware.AuthMiddleware())
	{
		authed.GET("/:id", subscriptions.Get)
		authed.PATCH("/:id", subscriptions.Update)
	}

	// Admin only
	admin := router.Group("/", middleware.AuthMiddleware(), middleware.AdminOnly())
	{
		admin.POST("/events", notifications.IngestEvent)
		admin.POST("/notifications/send", notifications.SendNotification)
		admin.GET("/notifications/log", notifications.GetDeliveryLog)
		admin.GET("/subscriptions", subscriptions.List)
	}
}
