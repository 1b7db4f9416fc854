package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"shipment-notification-service/awsclient"
	"shipment-notification-service/channels"
	"shipment-notification-service/consumer"
	"shipment-notification-service/controllers"
	"shipment-notification-service/database"
	"shipment-notification-service/dispatch"
	"shipment-notification-service/models"
	"shipment-notification-service/repository"
	"shipment-notification-service/routes"
	"shipment-notification-service/services"
	"shipment-notification-service/templates"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	defer logger.Sync()

	cfg, err := LoadConfig()
	if err != nil {
		logger.Fatal("Config load failed", zap.Error(err))
	}

	// Database
	if err := database.Connect(logger); err != nil {
		logger.Fatal("DB connection failed", zap.Error(err))
	}

	// Channels
	emailChannel, err := channels.NewSMTPChannel(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass)
	if err != nil {
		logger.Fatal("Failed to init SMTP channel", zap.Error(err))
	}
	smsChannel, err := channels.NewTwilioChannel(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber)
	if err != nil {
		logger.Fatal("Failed to init Twilio channel", zap.Error(err))
	}
	chatChannel, err := channels.NewChatChannel(cfg.ChatAPIURL, cfg.ChatBotToken)
	if err != nil {
		logger.Fatal("Failed to init chat channel", zap.Error(err))
	}
	channelSet := map[string]channels.Channel{
		models.ChannelEmail:   emailChannel,
		models.ChannelSMS:     smsChannel,
		models.ChannelChat:    chatChannel,
		models.ChannelWebhook: channels.NewWebhookChannel(cfg.ChannelTimeout),
	}

	// Templates
	templateManager := templates.NewManager()
	if cfg.TemplateDir != "" {
		if err := templateManager.LoadDir(cfg.TemplateDir); err != nil {
			logger.Fatal("Failed to load template dir", zap.Error(err))
		}
	}

	// Operator alerting (non-fatal when AWS is unavailable)
	var alerts awsclient.SNSPublisher
	if awsCfg, err := awsclient.LoadConfig(context.Background()); err == nil {
		alerts = awsclient.NewSNSClient(awsCfg)
	} else {
		logger.Warn("SNS alert client init failed (non-fatal)", zap.Error(err))
	}

	// Dependency injection
	subscriptionRepo := repository.NewGormSubscriptionRepository(database.DB)
	deliveryRepo := repository.NewGormDeliveryRepository(database.DB)
	eventRepo := repository.NewGormEventRepository(database.DB)

	notificationService, err := services.NewNotificationService(
		subscriptionRepo, deliveryRepo, channelSet, templateManager,
		cfg.PublicBaseURL, cfg.ChannelTimeout, logger,
	)
	if err != nil {
		logger.Fatal("Failed to initialize notification service", zap.Error(err))
	}
	subscriptionService := services.NewSubscriptionService(subscriptionRepo, channelSet, logger)

	dispatcher := dispatch.NewDispatcher(notificationService, alerts, dispatch.Config{
		Workers:       cfg.DispatchWorkers,
		QueueSize:     cfg.DispatchQueueSize,
		MaxAttempts:   cfg.MaxDeliveryAttempts,
		BaseDelay:     cfg.RetryBaseDelay,
		MaxDelay:      cfg.RetryMaxDelay,
		AlertTopicARN: cfg.AlertSNSTopicARN,
	}, logger)

	notificationController := controllers.NewNotificationController(
		notificationService, subscriptionService, eventRepo, dispatcher, logger,
	)
	subscriptionController := controllers.NewSubscriptionController(subscriptionService, logger)

	// SQS Consumer
	sqsConsumer, err := consumer.NewSQSConsumer(eventRepo, dispatcher, logger)
	if err != nil {
		logger.Fatal("Failed to init SQS consumer", zap.Error(err))
	}

	// Router
	r := gin.New()
	r.Use(gin.Recovery())

	// Request logging
	r.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("http_request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	})

	// Request timeout
	r.Use(func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	})

	routes.RegisterRoutes(r, notificationController, subscriptionController)

	// Start background workers
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	dispatcher.Start(workerCtx)
	go sqsConsumer.Start(workerCtx)

	// HTTP server
	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r}
	go func() {
		logger.Info("Notification service started", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Initiating graceful shutdown...")
	workerCancel()
	dispatcher.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", zap.Error(err))
	}

	if err := database.Close(); err != nil {
		logger.Error("Database close error", zap.Error(err))
	}

	logger.Info("Notification service stopped gracefully")
}
