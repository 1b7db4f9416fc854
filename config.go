package main

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the notification service.
type Config struct {
	Port          string
	PublicBaseURL string

	// SMTP (email channel)
	SMTPHost string
	SMTPPort string
	SMTPUser string
	SMTPPass string

	// Twilio (sms channel)
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string

	// Chat-bot messaging API (chat channel)
	ChatAPIURL   string
	ChatBotToken string

	// Dispatch / retry policy
	DispatchWorkers    int
	DispatchQueueSize  int
	MaxDeliveryAttempts int
	RetryBaseDelay     time.Duration
	RetryMaxDelay      time.Duration
	ChannelTimeout     time.Duration

	// Operator alerting
	AlertSNSTopicARN string

	// Optional template override directory
	TemplateDir string
}

// LoadConfig reads configuration from environment variables. Postgres
// settings are read by the database package directly.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Port:          getEnv("PORT", "8095"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", "http://localhost:8095"),

		SMTPHost: os.Getenv("SMTP_HOST"),
		SMTPPort: os.Getenv("SMTP_PORT"),
		SMTPUser: os.Getenv("SMTP_USER"),
		SMTPPass: os.Getenv("SMTP_PASS"),

		TwilioAccountSID: os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:  os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFromNumber: os.Getenv("TWILIO_FROM_NUMBER"),

		ChatAPIURL:   os.Getenv("CHAT_API_URL"),
		ChatBotToken: os.Getenv("CHAT_BOT_TOKEN"),

		DispatchWorkers:     getEnvInt("DISPATCH_WORKERS", 4),
		DispatchQueueSize:   getEnvInt("DISPATCH_QUEUE_SIZE", 256),
		MaxDeliveryAttempts: getEnvInt("MAX_DELIVERY_ATTEMPTS", 5),
		RetryBaseDelay:      getEnvDuration("RETRY_BASE_DELAY", 5*time.Second),
		RetryMaxDelay:       getEnvDuration("RETRY_MAX_DELAY", 10*time.Minute),
		ChannelTimeout:      getEnvDuration("CHANNEL_TIMEOUT", 15*time.Second),

		AlertSNSTopicARN: os.Getenv("ALERT_SNS_TOPIC_ARN"),
		TemplateDir:      os.Getenv("TEMPLATE_DIR"),
	}

	if cfg.SMTPHost == "" || cfg.SMTPPort == "" || cfg.SMTPUser == "" || cfg.SMTPPass == "" {
		return nil, fmt.Errorf("SMTP config incomplete")
	}
	if cfg.TwilioAccountSID == "" || cfg.TwilioAuthToken == "" || cfg.TwilioFromNumber == "" {
		return nil, fmt.Errorf("Twilio config incomplete")
	}
	if cfg.ChatAPIURL == "" || cfg.ChatBotToken == "" {
		return nil, fmt.Errorf("chat API config incomplete")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return fallback
}
