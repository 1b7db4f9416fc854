package services_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"shipment-notification-service/channels"
	"shipment-notification-service/models"
	"shipment-notification-service/services"
	"shipment-notification-service/templates"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ---- mock subscription repository ----

type mockSubRepo struct {
	mu   sync.Mutex
	subs map[uuid.UUID]*models.Subscription
}

func newMockSubRepo(subs ...*models.Subscription) *mockSubRepo {
	m := &mockSubRepo{subs: make(map[uuid.UUID]*models.Subscription)}
	for _, s := range subs {
		m.subs[s.ID] = s
	}
	return m
}

func (m *mockSubRepo) Create(_ context.Context, sub *models.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[sub.ID] = sub
	return nil
}

func (m *mockSubRepo) FindByID(_ context.Context, id uuid.UUID) (*models.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.subs[id]; ok {
		return s, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockSubRepo) FindByShipmentID(_ context.Context, shipmentID string) ([]models.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Subscription
	for _, s := range m.subs {
		if s.ShipmentID == shipmentID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (m *mockSubRepo) FindByToken(_ context.Context, token string) (*models.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.subs {
		if s.UnsubscribeToken == token {
			return s, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockSubRepo) Update(_ context.Context, sub *models.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[sub.ID] = sub
	return nil
}

func (m *mockSubRepo) FindAll(_ context.Context, _, _ int) ([]models.Subscription, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Subscription
	for _, s := range m.subs {
		out = append(out, *s)
	}
	return out, int64(len(out)), nil
}

// ---- mock delivery repository (in-memory ledger) ----

type pairKey struct {
	sub   uuid.UUID
	event uuid.UUID
}

type mockDeliveryRepo struct {
	mu   sync.Mutex
	recs map[pairKey]*models.DeliveryRecord
	// insertFailures makes the next N pending inserts fail, simulating
	// a ledger outage.
	insertFailures int
}

func newMockDeliveryRepo() *mockDeliveryRepo {
	return &mockDeliveryRepo{recs: make(map[pairKey]*models.DeliveryRecord)}
}

func (m *mockDeliveryRepo) InsertPending(_ context.Context, rec *models.DeliveryRecord) (bool, *models.DeliveryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertFailures > 0 {
		m.insertFailures--
		return false, nil, errors.New("ledger unavailable")
	}
	key := pairKey{rec.SubscriptionID, rec.EventID}
	if existing, ok := m.recs[key]; ok {
		cp := *existing
		return false, &cp, nil
	}
	rec.Status = models.StatusPending
	cp := *rec
	m.recs[key] = &cp
	return true, rec, nil
}

func (m *mockDeliveryRepo) Update(_ context.Context, rec *models.DeliveryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.recs[pairKey{rec.SubscriptionID, rec.EventID}] = &cp
	return nil
}

func (m *mockDeliveryRepo) FindByID(_ context.Context, id uuid.UUID) (*models.DeliveryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.recs {
		if r.ID == id {
			cp := *r
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockDeliveryRepo) FindBySubscriptionAndEvent(_ context.Context, subID, eventID uuid.UUID) (*models.DeliveryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.recs[pairKey{subID, eventID}]; ok {
		cp := *r
		return &cp, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockDeliveryRepo) MarkDelivered(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.recs {
		if r.ID == id {
			switch r.Status {
			case models.StatusDelivered:
				return true, nil
			case models.StatusSent:
				r.Status = models.StatusDelivered
				return true, nil
			default:
				return false, nil
			}
		}
	}
	return false, nil
}

func (m *mockDeliveryRepo) List(_ context.Context, _ models.DeliveryFilter) ([]models.DeliveryRecord, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.DeliveryRecord
	for _, r := range m.recs {
		out = append(out, *r)
	}
	return out, int64(len(out)), nil
}

func (m *mockDeliveryRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.recs)
}

func (m *mockDeliveryRepo) get(subID, eventID uuid.UUID) *models.DeliveryRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recs[pairKey{subID, eventID}]
}

// ---- fake channel ----

type fakeChannel struct {
	mu          sync.Mutex
	result      channels.DeliveryResult
	calls       []channels.SendRequest
	validateErr error
}

func (f *fakeChannel) Send(_ context.Context, req channels.SendRequest) channels.DeliveryResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	return f.result
}

func (f *fakeChannel) ValidateDestination(string) error { return f.validateErr }

func (f *fakeChannel) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// ---- helpers ----

type testEnv struct {
	svc        services.NotificationService
	subs       *mockSubRepo
	deliveries *mockDeliveryRepo
	channelSet map[string]*fakeChannel
}

func newTestEnv(t *testing.T, subs ...*models.Subscription) *testEnv {
	t.Helper()
	env := &testEnv{
		subs:       newMockSubRepo(subs...),
		deliveries: newMockDeliveryRepo(),
		channelSet: map[string]*fakeChannel{},
	}
	set := map[string]channels.Channel{}
	for _, name := range models.Channels {
		fc := &fakeChannel{result: channels.DeliveryResult{Success: true, ProviderRef: "ref-1"}}
		env.channelSet[name] = fc
		set[name] = fc
	}
	logger, _ := zap.NewDevelopment()
	svc, err := services.NewNotificationService(
		env.subs, env.deliveries, set, templates.NewManager(),
		"https://track.example.com", time.Second, logger,
	)
	assert.NoError(t, err)
	env.svc = svc
	return env
}

func makeSubscription(shipmentID, channel string, filter []string) *models.Subscription {
	now := time.Now().UTC()
	sub := &models.Subscription{
		ID:               uuid.New(),
		ShipmentID:       shipmentID,
		Channel:          channel,
		Destination:      "dest",
		Locale:           models.DefaultLocale,
		Active:           true,
		ConsentGiven:     true,
		ConsentAt:        &now,
		UnsubscribeToken: uuid.NewString(),
	}
	sub.SetEventFilter(filter)
	return sub
}

func makeEvent(shipmentID, code string) *models.Event {
	return &models.Event{
		ID:          uuid.New(),
		ShipmentID:  shipmentID,
		EventCode:   code,
		Description: "package update",
		OccurredAt:  time.Now().UTC(),
	}
}

// ---- tests ----

func TestNotifyForEvent_FiltersByEventCode(t *testing.T) {
	emailSub := makeSubscription("SHIP-1", models.ChannelEmail, []string{models.EventDelivered})
	smsSub := makeSubscription("SHIP-1", models.ChannelSMS, []string{models.EventOutForDelivery})
	env := newTestEnv(t, emailSub, smsSub)

	outcomes, err := env.svc.NotifyForEvent(context.Background(), makeEvent("SHIP-1", models.EventDelivered))
	assert.NoError(t, err)
	assert.Len(t, outcomes, 1)
	assert.Equal(t, models.ChannelEmail, outcomes[0].Channel)
	assert.Equal(t, services.OutcomeSent, outcomes[0].Status)
	assert.Equal(t, 1, env.channelSet[models.ChannelEmail].callCount())
	assert.Equal(t, 0, env.channelSet[models.ChannelSMS].callCount())
}

func TestNotifyForEvent_SkipsWithoutConsent(t *testing.T) {
	sub := makeSubscription("SHIP-2", models.ChannelEmail, nil)
	sub.ConsentGiven = false
	env := newTestEnv(t, sub)

	outcomes, err := env.svc.NotifyForEvent(context.Background(), makeEvent("SHIP-2", models.EventDelivered))
	assert.NoError(t, err)
	assert.Empty(t, outcomes)
	assert.Equal(t, 0, env.channelSet[models.ChannelEmail].callCount())
	assert.Equal(t, 0, env.deliveries.count())
}

func TestNotifyForEvent_CustomEventBypassesFilter(t *testing.T) {
	sub := makeSubscription("SHIP-3", models.ChannelSMS, []string{models.EventDelivered})
	env := newTestEnv(t, sub)

	outcomes, err := env.svc.NotifyForEvent(context.Background(), makeEvent("SHIP-3", models.EventCustom))
	assert.NoError(t, err)
	assert.Len(t, outcomes, 1)
	assert.Equal(t, services.OutcomeSent, outcomes[0].Status)
}

func TestNotifyForEvent_IdempotentAcrossRuns(t *testing.T) {
	sub := makeSubscription("SHIP-4", models.ChannelEmail, nil)
	env := newTestEnv(t, sub)
	event := makeEvent("SHIP-4", models.EventDelivered)

	first, err := env.svc.NotifyForEvent(context.Background(), event)
	assert.NoError(t, err)
	second, err := env.svc.NotifyForEvent(context.Background(), event)
	assert.NoError(t, err)

	assert.Equal(t, services.OutcomeSent, first[0].Status)
	assert.Equal(t, services.OutcomeSkipped, second[0].Status)
	assert.Equal(t, 1, env.channelSet[models.ChannelEmail].callCount())
	assert.Equal(t, 1, env.deliveries.count())
}

func TestNotifyForEvent_ConcurrentDispatchSendsOnce(t *testing.T) {
	sub := makeSubscription("SHIP-5", models.ChannelEmail, nil)
	env := newTestEnv(t, sub)
	event := makeEvent("SHIP-5", models.EventDelivered)

	var wg sync.WaitGroup
	results := make([][]services.DispatchOutcome, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes, err := env.svc.NotifyForEvent(context.Background(), event)
			assert.NoError(t, err)
			results[i] = outcomes
		}(i)
	}
	wg.Wait()

	sent := 0
	for _, outcomes := range results {
		for _, o := range outcomes {
			if o.Status == services.OutcomeSent {
				sent++
			}
		}
	}
	assert.Equal(t, 1, sent)
	assert.Equal(t, 1, env.deliveries.count())
	assert.Equal(t, 1, env.channelSet[models.ChannelEmail].callCount())
}

func TestNotifyForEvent_FailureIsolation(t *testing.T) {
	emailSub := makeSubscription("SHIP-6", models.ChannelEmail, nil)
	chatSub := makeSubscription("SHIP-6", models.ChannelChat, nil)
	env := newTestEnv(t, emailSub, chatSub)
	env.channelSet[models.ChannelEmail].result = channels.DeliveryResult{
		ErrorKind: channels.KindTransportTimeout,
		Detail:    "smtp timed out",
	}

	outcomes, err := env.svc.NotifyForEvent(context.Background(), makeEvent("SHIP-6", models.EventDelivered))
	assert.NoError(t, err)
	assert.Len(t, outcomes, 2)

	byChannel := map[string]services.DispatchOutcome{}
	for _, o := range outcomes {
		byChannel[o.Channel] = o
	}
	assert.Equal(t, services.OutcomeFailed, byChannel[models.ChannelEmail].Status)
	assert.True(t, byChannel[models.ChannelEmail].Retryable)
	assert.Equal(t, services.OutcomeSent, byChannel[models.ChannelChat].Status)

	failedRec := env.deliveries.get(emailSub.ID, outcomes[0].EventID)
	assert.Equal(t, models.StatusFailed, failedRec.Status)
	assert.Equal(t, string(channels.KindTransportTimeout), failedRec.ErrorKind)
}

func TestNotifyForEvent_TemplateNotFoundIsPermanent(t *testing.T) {
	sub := makeSubscription("SHIP-7", models.ChannelEmail, nil)
	sub.Channel = "fax" // no templates registered for this channel
	env := newTestEnv(t, sub)

	// the constructor only requires the four built-in channels, but the
	// channel map can carry extras
	faxChannel := &fakeChannel{result: channels.DeliveryResult{Success: true}}
	set := map[string]channels.Channel{}
	for name, fc := range env.channelSet {
		set[name] = fc
	}
	set["fax"] = faxChannel
	logger, _ := zap.NewDevelopment()
	svc, err := services.NewNotificationService(
		env.subs, env.deliveries, set, templates.NewManager(),
		"https://track.example.com", time.Second, logger,
	)
	assert.NoError(t, err)

	outcomes, err := svc.NotifyForEvent(context.Background(), makeEvent("SHIP-7", models.EventDelivered))
	assert.NoError(t, err)
	assert.Len(t, outcomes, 1)
	assert.Equal(t, services.OutcomeFailed, outcomes[0].Status)
	assert.Equal(t, services.KindTemplateNotFound, outcomes[0].ErrorKind)
	assert.False(t, outcomes[0].Retryable)
	assert.Equal(t, 0, faxChannel.callCount())
}

func TestSendNotification_ConsentRequired(t *testing.T) {
	sub := makeSubscription("SHIP-8", models.ChannelEmail, nil)
	sub.ConsentGiven = false
	env := newTestEnv(t, sub)

	_, err := env.svc.SendNotification(context.Background(), sub, makeEvent("SHIP-8", models.EventCustom))
	var consentErr *services.ConsentRequiredError
	assert.True(t, errors.As(err, &consentErr))
	assert.Equal(t, sub.ID, consentErr.SubscriptionID)
	assert.Equal(t, 0, env.deliveries.count())
}

func TestSendNotification_HonorsLedger(t *testing.T) {
	sub := makeSubscription("SHIP-9", models.ChannelEmail, nil)
	env := newTestEnv(t, sub)
	event := makeEvent("SHIP-9", models.EventCustom)

	first, err := env.svc.SendNotification(context.Background(), sub, event)
	assert.NoError(t, err)
	assert.Equal(t, services.OutcomeSent, first.Status)

	second, err := env.svc.SendNotification(context.Background(), sub, event)
	assert.NoError(t, err)
	assert.Equal(t, services.OutcomeSkipped, second.Status)
	assert.Equal(t, 1, env.channelSet[models.ChannelEmail].callCount())
}

func TestRetryDelivery_SucceedsAndIncrementsAttempt(t *testing.T) {
	sub := makeSubscription("SHIP-10", models.ChannelEmail, nil)
	env := newTestEnv(t, sub)
	event := makeEvent("SHIP-10", models.EventDelivered)

	env.channelSet[models.ChannelEmail].result = channels.DeliveryResult{
		ErrorKind: channels.KindTransportTimeout,
	}
	outcomes, err := env.svc.NotifyForEvent(context.Background(), event)
	assert.NoError(t, err)
	assert.Equal(t, services.OutcomeFailed, outcomes[0].Status)
	assert.Equal(t, 1, outcomes[0].Attempt)

	env.channelSet[models.ChannelEmail].result = channels.DeliveryResult{Success: true, ProviderRef: "ref-2"}
	outcome, err := env.svc.RetryDelivery(context.Background(), sub.ID, event)
	assert.NoError(t, err)
	assert.Equal(t, services.OutcomeSent, outcome.Status)
	assert.Equal(t, 2, outcome.Attempt)

	rec := env.deliveries.get(sub.ID, event.ID)
	assert.Equal(t, models.StatusSent, rec.Status)
	assert.Equal(t, 2, rec.Attempt)
	assert.Equal(t, "ref-2", rec.ProviderResponse)
}

func TestRetryDelivery_SkipsAfterUnsubscribe(t *testing.T) {
	sub := makeSubscription("SHIP-11", models.ChannelEmail, nil)
	env := newTestEnv(t, sub)
	event := makeEvent("SHIP-11", models.EventDelivered)

	env.channelSet[models.ChannelEmail].result = channels.DeliveryResult{
		ErrorKind: channels.KindTransportTimeout,
	}
	_, err := env.svc.NotifyForEvent(context.Background(), event)
	assert.NoError(t, err)

	sub.Active = false
	outcome, err := env.svc.RetryDelivery(context.Background(), sub.ID, event)
	assert.NoError(t, err)
	assert.Equal(t, services.OutcomeSkipped, outcome.Status)
	assert.Equal(t, 1, env.channelSet[models.ChannelEmail].callCount())
}

func TestRetryDelivery_SkipsWhenAlreadySent(t *testing.T) {
	sub := makeSubscription("SHIP-12", models.ChannelEmail, nil)
	env := newTestEnv(t, sub)
	event := makeEvent("SHIP-12", models.EventDelivered)

	_, err := env.svc.NotifyForEvent(context.Background(), event)
	assert.NoError(t, err)

	outcome, err := env.svc.RetryDelivery(context.Background(), sub.ID, event)
	assert.NoError(t, err)
	assert.Equal(t, services.OutcomeSkipped, outcome.Status)
	assert.Equal(t, 1, env.channelSet[models.ChannelEmail].callCount())
}

func TestRetryDelivery_RecoversFromLedgerInsertFailure(t *testing.T) {
	sub := makeSubscription("SHIP-15", models.ChannelEmail, nil)
	env := newTestEnv(t, sub)
	event := makeEvent("SHIP-15", models.EventDelivered)

	env.deliveries.insertFailures = 1
	outcomes, err := env.svc.NotifyForEvent(context.Background(), event)
	assert.NoError(t, err)
	assert.Equal(t, services.OutcomeFailed, outcomes[0].Status)
	assert.True(t, outcomes[0].Retryable)
	assert.Equal(t, 0, env.deliveries.count())
	assert.Equal(t, 0, env.channelSet[models.ChannelEmail].callCount())

	// The retry must re-run insert-before-send, not skip on the
	// missing record.
	outcome, err := env.svc.RetryDelivery(context.Background(), sub.ID, event)
	assert.NoError(t, err)
	assert.Equal(t, services.OutcomeSent, outcome.Status)
	assert.Equal(t, 1, outcome.Attempt)
	assert.Equal(t, 1, env.deliveries.count())
	assert.Equal(t, 1, env.channelSet[models.ChannelEmail].callCount())
	assert.Equal(t, models.StatusSent, env.deliveries.get(sub.ID, event.ID).Status)
}

func TestDispatch_RenderFailureIsPermanent(t *testing.T) {
	sub := makeSubscription("SHIP-16", models.ChannelEmail, nil)
	sub.Locale = "zz"
	env := newTestEnv(t, sub)

	m := templates.NewManager()
	// index is not defined on strings, so this fails at execution, not
	// at parse.
	assert.NoError(t, m.Register(templates.Template{
		Channel: models.ChannelEmail, EventCode: models.EventCustom, Locale: "zz",
		Body: "{{index .trackingNumber 99}}",
	}))
	set := map[string]channels.Channel{}
	for name, fc := range env.channelSet {
		set[name] = fc
	}
	logger, _ := zap.NewDevelopment()
	svc, err := services.NewNotificationService(
		env.subs, env.deliveries, set, m,
		"https://track.example.com", time.Second, logger,
	)
	assert.NoError(t, err)

	outcomes, err := svc.NotifyForEvent(context.Background(), makeEvent("SHIP-16", models.EventReturnToSender))
	assert.NoError(t, err)
	assert.Len(t, outcomes, 1)
	assert.Equal(t, services.OutcomeFailed, outcomes[0].Status)
	assert.Equal(t, services.KindTemplateRenderFailed, outcomes[0].ErrorKind)
	assert.False(t, outcomes[0].Retryable)
	assert.Equal(t, 0, env.channelSet[models.ChannelEmail].callCount())
}

func TestConfirmDelivery_Idempotent(t *testing.T) {
	sub := makeSubscription("SHIP-13", models.ChannelEmail, nil)
	env := newTestEnv(t, sub)
	event := makeEvent("SHIP-13", models.EventDelivered)

	outcomes, err := env.svc.NotifyForEvent(context.Background(), event)
	assert.NoError(t, err)
	recID := outcomes[0].DeliveryRecordID

	ok, err := env.svc.ConfirmDelivery(context.Background(), recID)
	assert.NoError(t, err)
	assert.True(t, ok)

	ok, err = env.svc.ConfirmDelivery(context.Background(), recID)
	assert.NoError(t, err)
	assert.True(t, ok)

	rec := env.deliveries.get(sub.ID, event.ID)
	assert.Equal(t, models.StatusDelivered, rec.Status)
}

func TestSendNotification_WebhookCarriesSecret(t *testing.T) {
	sub := makeSubscription("SHIP-14", models.ChannelWebhook, nil)
	sub.WebhookSecret = "whsec-1"
	env := newTestEnv(t, sub)

	_, err := env.svc.SendNotification(context.Background(), sub, makeEvent("SHIP-14", models.EventCustom))
	assert.NoError(t, err)

	wh := env.channelSet[models.ChannelWebhook]
	assert.Equal(t, 1, wh.callCount())
	assert.Equal(t, "whsec-1", wh.calls[0].Secret)
	assert.NotEmpty(t, wh.calls[0].Message.Payload)
}
