// Package dispatch runs notification work asynchronously: one queued
// task per event, a bounded worker pool, and time-delayed re-enqueues
// for transient failures. Retry-vs-give-up is decided here, from the
// failure kind alone.
package dispatch

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"shipment-notification-service/awsclient"
	"shipment-notification-service/models"
	"shipment-notification-service/services"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Config tunes the worker pool and retry policy.
type Config struct {
	Workers     int
	QueueSize   int
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// AlertTopicARN receives a message when a delivery exhausts its
	// retries; empty disables alerting.
	AlertTopicARN string
}

func (c *Config) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 5 * time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 10 * time.Minute
	}
}

// task is one unit of queued work. A zero subscriptionID means "dispatch
// the whole event"; otherwise it is a retry for one pair.
type task struct {
	event          *models.Event
	subscriptionID uuid.UUID
	attempt        int
}

// Dispatcher is the dispatch queue plus retry scheduler.
type Dispatcher struct {
	svc    services.NotificationService
	cfg    Config
	alerts awsclient.SNSPublisher
	logger *zap.Logger

	tasks  chan task
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewDispatcher(svc services.NotificationService, alerts awsclient.SNSPublisher, cfg Config, logger *zap.Logger) *Dispatcher {
	cfg.applyDefaults()
	d := &Dispatcher{
		svc:    svc,
		cfg:    cfg,
		alerts: alerts,
		logger: logger,
		tasks:  make(chan task, cfg.QueueSize),
	}
	// The lifetime context exists from construction on, so enqueues
	// before Start buffer instead of panicking.
	d.ctx, d.cancel = context.WithCancel(context.Background())
	return d
}

// Start launches the worker pool. Workers run until ctx is cancelled
// or Stop is called.
func (d *Dispatcher) Start(ctx context.Context) {
	go func() {
		select {
		case <-ctx.Done():
			d.cancel()
		case <-d.ctx.Done():
		}
	}()
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	d.logger.Info("dispatcher started",
		zap.Int("workers", d.cfg.Workers),
		zap.Int("max_attempts", d.cfg.MaxAttempts),
	)
}

// Stop cancels the workers and waits for in-flight tasks to finish.
// Pending delayed retries are dropped; their DeliveryRecords stay
// failed and will not be re-enqueued.
func (d *Dispatcher) Stop() {
	d.cancel()
	d.wg.Wait()
}

// EnqueueEvent queues one dispatch task for the event. Blocks when the
// queue is full; returns false once the dispatcher is stopped.
func (d *Dispatcher) EnqueueEvent(event *models.Event) bool {
	return d.enqueue(task{event: event})
}

func (d *Dispatcher) enqueue(t task) bool {
	select {
	case <-d.ctx.Done():
		return false
	case d.tasks <- t:
		return true
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case <-d.ctx.Done():
			return
		case t := <-d.tasks:
			d.process(t)
		}
	}
}

func (d *Dispatcher) process(t task) {
	if t.subscriptionID == uuid.Nil {
		d.processEvent(t)
		return
	}
	d.processRetry(t)
}

func (d *Dispatcher) processEvent(t task) {
	outcomes, err := d.svc.NotifyForEvent(d.ctx, t.event)
	if err != nil {
		// Infrastructure failure before any per-subscription work;
		// requeue the whole event.
		d.logger.Error("event dispatch failed",
			zap.String("event_id", t.event.ID.String()),
			zap.Int("attempt", t.attempt+1),
			zap.Error(err),
		)
		if t.attempt+1 < d.cfg.MaxAttempts {
			d.scheduleAfter(d.backoff(t.attempt), task{event: t.event, attempt: t.attempt + 1})
		}
		return
	}
	for _, outcome := range outcomes {
		d.handleOutcome(t.event, outcome, t.attempt+1)
	}
}

func (d *Dispatcher) processRetry(t task) {
	outcome, err := d.svc.RetryDelivery(d.ctx, t.subscriptionID, t.event)
	if err != nil {
		d.logger.Error("retry dispatch failed",
			zap.String("event_id", t.event.ID.String()),
			zap.String("subscription_id", t.subscriptionID.String()),
			zap.Error(err),
		)
		if t.attempt < d.cfg.MaxAttempts {
			d.scheduleAfter(d.backoff(t.attempt), t)
		}
		return
	}
	d.handleOutcome(t.event, outcome, t.attempt+1)
}

// handleOutcome schedules a retry or gives up. priorAttempts floors the
// attempt count: an outcome that never reached the ledger (the pending
// insert failed) reports attempt 0, but the pair must still walk toward
// the cap instead of retrying forever.
func (d *Dispatcher) handleOutcome(event *models.Event, outcome services.DispatchOutcome, priorAttempts int) {
	if outcome.Status != services.OutcomeFailed {
		return
	}
	if outcome.Attempt < priorAttempts {
		outcome.Attempt = priorAttempts
	}
	if !outcome.Retryable {
		d.logger.Warn("permanent delivery failure",
			zap.String("delivery_record_id", outcome.DeliveryRecordID.String()),
			zap.String("error_kind", outcome.ErrorKind),
		)
		return
	}
	if outcome.Attempt >= d.cfg.MaxAttempts {
		d.exhausted(event, outcome)
		return
	}
	d.scheduleAfter(d.backoff(outcome.Attempt), task{
		event:          event,
		subscriptionID: outcome.SubscriptionID,
		attempt:        outcome.Attempt,
	})
}

// backoff is base·2^attempt, capped.
func (d *Dispatcher) backoff(attempt int) time.Duration {
	delay := d.cfg.BaseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= d.cfg.MaxDelay {
			return d.cfg.MaxDelay
		}
	}
	return delay
}

func (d *Dispatcher) scheduleAfter(delay time.Duration, t task) {
	time.AfterFunc(delay, func() {
		d.enqueue(t)
	})
}

type exhaustedAlert struct {
	Type             string `json:"type"`
	DeliveryRecordID string `json:"delivery_record_id"`
	SubscriptionID   string `json:"subscription_id"`
	EventID          string `json:"event_id"`
	Channel          string `json:"channel"`
	ErrorKind        string `json:"error_kind"`
	Attempts         int    `json:"attempts"`
}

// exhausted surfaces a permanently failed delivery for operator
// visibility. The record stays failed; nothing retries it further.
func (d *Dispatcher) exhausted(event *models.Event, outcome services.DispatchOutcome) {
	d.logger.Error("delivery retries exhausted",
		zap.String("delivery_record_id", outcome.DeliveryRecordID.String()),
		zap.String("subscription_id", outcome.SubscriptionID.String()),
		zap.String("event_id", event.ID.String()),
		zap.String("error_kind", outcome.ErrorKind),
		zap.Int("attempts", outcome.Attempt),
	)
	if d.alerts == nil || d.cfg.AlertTopicARN == "" {
		return
	}
	body, err := json.Marshal(exhaustedAlert{
		Type:             "delivery_retries_exhausted",
		DeliveryRecordID: outcome.DeliveryRecordID.String(),
		SubscriptionID:   outcome.SubscriptionID.String(),
		EventID:          event.ID.String(),
		Channel:          outcome.Channel,
		ErrorKind:        outcome.ErrorKind,
		Attempts:         outcome.Attempt,
	})
	if err != nil {
		return
	}
	if err := d.alerts.Publish(d.ctx, d.cfg.AlertTopicARN, body); err != nil {
		d.logger.Error("failed to publish exhaustion alert", zap.Error(err))
	}
}
