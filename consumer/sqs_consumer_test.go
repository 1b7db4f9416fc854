package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"shipment-notification-service/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakeSQSClient struct {
	mu      sync.Mutex
	deleted []string
}

func (f *fakeSQSClient) ReceiveMessage(context.Context, *sqs.ReceiveMessageInput, ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	return &sqs.ReceiveMessageOutput{}, nil
}

func (f *fakeSQSClient) DeleteMessage(_ context.Context, input *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, *input.ReceiptHandle)
	return &sqs.DeleteMessageOutput{}, nil
}

func (f *fakeSQSClient) deleteCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.deleted)
}

type fakeEventStore struct {
	saveErr error
	saved   []*models.Event
}

func (f *fakeEventStore) Save(_ context.Context, event *models.Event) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, event)
	return nil
}

func (f *fakeEventStore) FindByID(context.Context, uuid.UUID) (*models.Event, error) {
	return nil, gorm.ErrRecordNotFound
}

type fakeQueue struct {
	accept   bool
	enqueued []*models.Event
}

func (f *fakeQueue) EnqueueEvent(event *models.Event) bool {
	if !f.accept {
		return false
	}
	f.enqueued = append(f.enqueued, event)
	return true
}

func newTestConsumer(store *fakeEventStore, queue *fakeQueue) (*SQSConsumer, *fakeSQSClient) {
	logger, _ := zap.NewDevelopment()
	client := &fakeSQSClient{}
	return &SQSConsumer{
		client:     client,
		queueURL:   "http://localhost:4566/000000000000/shipment-events",
		events:     store,
		dispatcher: queue,
		logger:     logger,
	}, client
}

func envelopeBody(t *testing.T, payload models.EventPayload) string {
	t.Helper()
	inner, err := json.Marshal(payload)
	assert.NoError(t, err)
	outer, err := json.Marshal(snsEnvelope{Message: string(inner)})
	assert.NoError(t, err)
	return string(outer)
}

func TestProcessMessage_DeletesOnSuccess(t *testing.T) {
	store := &fakeEventStore{}
	queue := &fakeQueue{accept: true}
	consumer, client := newTestConsumer(store, queue)

	body := envelopeBody(t, models.EventPayload{
		ShipmentID: "SHIP-1",
		EventCode:  models.EventDelivered,
		OccurredAt: time.Now().UTC(),
	})
	consumer.processMessage(context.Background(), aws.String(body), aws.String("rh-1"))

	assert.Len(t, store.saved, 1)
	assert.Len(t, queue.enqueued, 1)
	assert.Equal(t, []string{"rh-1"}, client.deleted)
}

func TestProcessMessage_UnparseableIsDeleted(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"broken envelope", "not-json"},
		{"broken payload", `{"Message":"also-not-json"}`},
		{"bad event id", `{"Message":"{\"id\":\"not-a-uuid\",\"shipment_id\":\"SHIP-1\",\"event_code\":\"Delivered\"}"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeEventStore{}
			queue := &fakeQueue{accept: true}
			consumer, client := newTestConsumer(store, queue)

			consumer.processMessage(context.Background(), aws.String(tt.body), aws.String("rh-bad"))

			// Poison messages are removed so they cannot loop forever,
			// but nothing is stored or dispatched.
			assert.Empty(t, store.saved)
			assert.Empty(t, queue.enqueued)
			assert.Equal(t, 1, client.deleteCount())
		})
	}
}

func TestProcessMessage_SaveFailureKeepsMessage(t *testing.T) {
	store := &fakeEventStore{saveErr: errors.New("db down")}
	queue := &fakeQueue{accept: true}
	consumer, client := newTestConsumer(store, queue)

	body := envelopeBody(t, models.EventPayload{
		ShipmentID: "SHIP-2",
		EventCode:  models.EventInTransit,
	})
	consumer.processMessage(context.Background(), aws.String(body), aws.String("rh-2"))

	// Left on the queue for the visibility-timeout redelivery.
	assert.Empty(t, queue.enqueued)
	assert.Equal(t, 0, client.deleteCount())
}

func TestProcessMessage_EnqueueFailureKeepsMessage(t *testing.T) {
	store := &fakeEventStore{}
	queue := &fakeQueue{accept: false}
	consumer, client := newTestConsumer(store, queue)

	body := envelopeBody(t, models.EventPayload{
		ShipmentID: "SHIP-3",
		EventCode:  models.EventOutForDelivery,
	})
	consumer.processMessage(context.Background(), aws.String(body), aws.String("rh-3"))

	assert.Len(t, store.saved, 1)
	assert.Equal(t, 0, client.deleteCount())
}

func TestProcessMessage_EmptyBodyOrHandle(t *testing.T) {
	store := &fakeEventStore{}
	queue := &fakeQueue{accept: true}
	consumer, client := newTestConsumer(store, queue)

	consumer.processMessage(context.Background(), nil, aws.String("rh-4"))
	consumer.processMessage(context.Background(), aws.String(""), aws.String("rh-4"))
	consumer.processMessage(context.Background(), aws.String("{}"), nil)

	assert.Empty(t, store.saved)
	assert.Equal(t, 0, client.deleteCount())
}
