package consumer

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"shipment-notification-service/awsclient"
	"shipment-notification-service/dispatch"
	"shipment-notification-service/models"
	"shipment-notification-service/repository"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.uber.org/zap"
)

// sqsAPI is the slice of the SQS client the consumer uses.
type sqsAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// EventQueue hands persisted events to the dispatch workers.
type EventQueue interface {
	EnqueueEvent(event *models.Event) bool
}

// SQSConsumer ingests shipment events from the tracking pipeline's
// SNS→SQS fan-out and hands them to the dispatch queue.
type SQSConsumer struct {
	client     sqsAPI
	queueURL   string
	events     repository.EventRepository
	dispatcher EventQueue
	logger     *zap.Logger
}

func NewSQSConsumer(events repository.EventRepository, dispatcher *dispatch.Dispatcher, logger *zap.Logger) (*SQSConsumer, error) {
	queueURL := os.Getenv("SQS_QUEUE_URL")
	if queueURL == "" {
		queueURL = os.Getenv("EVENTS_SQS_QUEUE_URL")
	}

	cfg, err := awsclient.LoadConfig(context.Background())
	if err != nil {
		return nil, err
	}

	return &SQSConsumer{
		client:     sqs.NewFromConfig(cfg),
		queueURL:   queueURL,
		events:     events,
		dispatcher: dispatcher,
		logger:     logger,
	}, nil
}

func (c *SQSConsumer) Start(ctx context.Context) {
	c.logger.Info("SQS consumer started", zap.String("queue", c.queueURL))
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("SQS consumer shutting down")
			return
		default:
			c.poll(ctx)
		}
	}
}

func (c *SQSConsumer) poll(ctx context.Context) {
	output, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueURL),
		MaxNumberOfMessages: 10,
		WaitTimeSeconds:     5, // long polling
	})
	if err != nil {
		c.logger.Error("SQS receive error", zap.Error(err))
		time.Sleep(5 * time.Second)
		return
	}

	for _, msg := range output.Messages {
		c.processMessage(ctx, msg.Body, msg.ReceiptHandle)
	}
}

// snsEnvelope unwraps the SNS → SQS message wrapper
type snsEnvelope struct {
	Message string `json:"Message"`
}

func (c *SQSConsumer) processMessage(ctx context.Context, body *string, receiptHandle *string) {
	if body == nil || *body == "" {
		c.logger.Error("received empty SQS message body")
		// Don't delete; let it retry / get sent to DLQ if configured.
		return
	}
	if receiptHandle == nil || *receiptHandle == "" {
		c.logger.Error("received empty SQS receipt handle")
		return
	}

	// Step 1: unwrap SNS envelope
	var envelope snsEnvelope
	if err := json.Unmarshal([]byte(*body), &envelope); err != nil {
		c.logger.Error("failed to unmarshal SNS envelope", zap.Error(err))
		c.deleteMessage(ctx, receiptHandle) // unparseable, delete to avoid infinite loop
		return
	}

	// Step 2: decode the event payload
	var payload models.EventPayload
	if err := json.Unmarshal([]byte(envelope.Message), &payload); err != nil {
		c.logger.Error("failed to unmarshal event payload", zap.Error(err))
		c.deleteMessage(ctx, receiptHandle)
		return
	}
	event, err := payload.ToEvent()
	if err != nil {
		c.logger.Error("invalid event payload", zap.Error(err))
		c.deleteMessage(ctx, receiptHandle)
		return
	}

	// Step 3: persist the event. Save is idempotent, so a redelivered
	// message is harmless; the delivery ledger dedupes dispatch.
	if err := c.events.Save(ctx, event); err != nil {
		c.logger.Error("failed to persist event",
			zap.String("event_id", event.ID.String()),
			zap.Error(err),
		)
		return // SQS will retry after visibility timeout
	}

	// Step 4: enqueue dispatch, then delete only on success
	if !c.dispatcher.EnqueueEvent(event) {
		c.logger.Warn("dispatcher stopped, leaving message on queue",
			zap.String("event_id", event.ID.String()),
		)
		return
	}
	c.deleteMessage(ctx, receiptHandle)
}

func (c *SQSConsumer) deleteMessage(ctx context.Context, receiptHandle *string) {
	_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: receiptHandle,
	})
	if err != nil {
		c.logger.Error("failed to delete SQS message", zap.Error(err))
	}
}
