package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/farmflow/notify/internal/domain/delivery"
	"github.com/farmflow/notify/internal/domain/event"
	"github.com/farmflow/notify/internal/domain/webhook"
)

type fakeWebhookRepo struct {
	regs    []*webhook.Registration
	listErr error
}

func (r *fakeWebhookRepo) Create(context.Context, *webhook.Registration) error { return nil }
func (r *fakeWebhookRepo) GetByID(context.Context, uuid.UUID) (*webhook.Registration, error) {
	return nil, nil
}
func (r *fakeWebhookRepo) List(context.Context) ([]*webhook.Registration, error) { return r.regs, nil }
func (r *fakeWebhookRepo) Update(context.Context, *webhook.Registration) error   { return nil }
func (r *fakeWebhookRepo) Deactivate(context.Context, uuid.UUID) error           { return nil }
func (r *fakeWebhookRepo) Delete(context.Context, uuid.UUID) error               { return nil }

func (r *fakeWebhookRepo) ListActiveByEvent(_ context.Context, ev string) ([]*webhook.Registration, error) {
	if r.listErr != nil {
		return nil, r.listErr
	}
	var out []*webhook.Registration
	for _, reg := range r.regs {
		if reg.Active && reg.SubscribedTo(ev) {
			out = append(out, reg)
		}
	}
	return out, nil
}

type enqueueRecorder struct {
	webhooks []*delivery.WebhookDelivery
	err      error
}

func (q *enqueueRecorder) Enqueue(_ context.Context, d *delivery.WebhookDelivery) error {
	if q.err != nil {
		return q.err
	}
	d.ID = uuid.New()
	q.webhooks = append(q.webhooks, d)
	return nil
}

func (q *enqueueRecorder) ClaimBatch(context.Context, int) ([]*delivery.WebhookDelivery, error) {
	return nil, nil
}
func (q *enqueueRecorder) MarkSuccess(context.Context, uuid.UUID, int, string) error { return nil }
func (q *enqueueRecorder) MarkFailure(context.Context, uuid.UUID, *int, string, bool, time.Time) error {
	return nil
}
func (q *enqueueRecorder) Cancel(context.Context, uuid.UUID) error { return nil }

type emailRecorder struct {
	emails []*delivery.EmailDelivery
	err    error
}

func (q *emailRecorder) Enqueue(_ context.Context, d *delivery.EmailDelivery) error {
	if q.err != nil {
		return q.err
	}
	d.ID = uuid.New()
	q.emails = append(q.emails, d)
	return nil
}

func (q *emailRecorder) ClaimBatch(context.Context, int) ([]*delivery.EmailDelivery, error) {
	return nil, nil
}
func (q *emailRecorder) MarkSuccess(context.Context, uuid.UUID) error                { return nil }
func (q *emailRecorder) MarkFailure(context.Context, uuid.UUID, string, bool) error  { return nil }
func (q *emailRecorder) Cancel(context.Context, uuid.UUID) error                     { return nil }

type staticRecipients map[string][]string

func (s staticRecipients) ListByEvent(_ context.Context, ev string) ([]string, error) {
	return s[ev], nil
}

type fakeBroadcaster struct {
	frames   [][]byte
	excluded []string
	direct   map[string][][]byte
}

func (b *fakeBroadcaster) Broadcast(data []byte, excludeUser string) {
	b.frames = append(b.frames, data)
	b.excluded = append(b.excluded, excludeUser)
}

func (b *fakeBroadcaster) SendToUser(userID string, data []byte) {
	if b.direct == nil {
		b.direct = make(map[string][][]byte)
	}
	b.direct[userID] = append(b.direct[userID], data)
}

func activeReg(events ...string) *webhook.Registration {
	return &webhook.Registration{
		ID:     uuid.New(),
		Name:   "hook",
		URL:    "https://example.com/hook",
		Secret: "s",
		Events: events,
		Active: true,
	}
}

type fixture struct {
	repo       *fakeWebhookRepo
	webhookQ   *enqueueRecorder
	emailQ     *emailRecorder
	recipients staticRecipients
	rt         *fakeBroadcaster
	trig       *Trigger
}

func newFixture() *fixture {
	f := &fixture{
		repo:       &fakeWebhookRepo{},
		webhookQ:   &enqueueRecorder{},
		emailQ:     &emailRecorder{},
		recipients: staticRecipients{},
		rt:         &fakeBroadcaster{},
	}
	f.trig = New(zap.NewNop(), event.DefaultCatalog(), f.repo, f.webhookQ, f.emailQ,
		f.recipients, f.rt, Config{})
	return f
}

func TestFireUnknownEventDropped(t *testing.T) {
	f := newFixture()
	err := f.trig.Fire(context.Background(), &event.Event{Name: "no.such.event"})
	require.NoError(t, err)
	assert.Empty(t, f.webhookQ.webhooks)
	assert.Empty(t, f.emailQ.emails)
	assert.Empty(t, f.rt.frames)
}

func TestFireEnqueuesSubscribedWebhooksOnly(t *testing.T) {
	f := newFixture()
	subscribed := activeReg("ticket.created", "ticket.closed")
	other := activeReg("inventory.low_stock")
	inactive := activeReg("ticket.created")
	inactive.Active = false
	f.repo.regs = []*webhook.Registration{subscribed, other, inactive}

	err := f.trig.Fire(context.Background(), &event.Event{
		Name:    "ticket.created",
		Payload: json.RawMessage(`{"ticket_id":9}`),
	})
	require.NoError(t, err)

	require.Len(t, f.webhookQ.webhooks, 1)
	d := f.webhookQ.webhooks[0]
	assert.Equal(t, subscribed.ID, d.RegistrationID)
	assert.Equal(t, "ticket.created", d.Event)
	assert.JSONEq(t, `{"ticket_id":9}`, string(d.Payload))
	assert.Equal(t, 3, d.MaxAttempts, "default ceiling when registration has none")
}

func TestFireHonorsRegistrationAttemptCeiling(t *testing.T) {
	f := newFixture()
	reg := activeReg("ticket.created")
	reg.MaxAttempts = 7
	f.repo.regs = []*webhook.Registration{reg}

	require.NoError(t, f.trig.Fire(context.Background(), &event.Event{Name: "ticket.created"}))
	require.Len(t, f.webhookQ.webhooks, 1)
	assert.Equal(t, 7, f.webhookQ.webhooks[0].MaxAttempts)
}

func TestFireEnqueuesEmailPerRecipient(t *testing.T) {
	f := newFixture()
	f.recipients["inventory.low_stock"] = []string{"a@example.com", "b@example.com"}

	err := f.trig.Fire(context.Background(), &event.Event{
		Name:    "inventory.low_stock",
		Payload: json.RawMessage(`{"item":"feed pellets","qty":3}`),
	})
	require.NoError(t, err)

	require.Len(t, f.emailQ.emails, 2)
	for _, d := range f.emailQ.emails {
		assert.Equal(t, "low_stock_alert", d.TemplateKey)
		assert.Equal(t, "feed pellets", d.TemplateVars["item"])
		assert.Equal(t, "inventory.low_stock", d.TemplateVars["event"])
	}
	assert.Equal(t, "a@example.com", f.emailQ.emails[0].To)
	assert.Equal(t, "b@example.com", f.emailQ.emails[1].To)
}

func TestFireSkipsEmailWithoutTemplate(t *testing.T) {
	// ticket.updated is realtime-only in the catalog
	f := newFixture()
	f.recipients["ticket.updated"] = []string{"a@example.com"}

	require.NoError(t, f.trig.Fire(context.Background(), &event.Event{Name: "ticket.updated"}))
	assert.Empty(t, f.emailQ.emails)
	assert.Len(t, f.rt.frames, 1)
}

func TestFirePushesRealtimeExcludingOriginator(t *testing.T) {
	f := newFixture()
	err := f.trig.Fire(context.Background(), &event.Event{
		Name:    "tank.updated",
		Payload: json.RawMessage(`{"tank_id":3}`),
		UserID:  "user-1",
	})
	require.NoError(t, err)

	require.Len(t, f.rt.frames, 1)
	var fr realtimeFrame
	require.NoError(t, json.Unmarshal(f.rt.frames[0], &fr))
	assert.Equal(t, "tank.updated", fr.Event)
	assert.JSONEq(t, `{"tank_id":3}`, string(fr.Data))
	assert.Equal(t, []string{"user-1"}, f.rt.excluded)
	assert.Empty(t, f.rt.direct)
}

func TestFirePushesToSingleUserAudience(t *testing.T) {
	f := newFixture()
	err := f.trig.Fire(context.Background(), &event.Event{
		Name:     "ticket.updated",
		Payload:  json.RawMessage(`{"ticket_id":4,"assignee":"user-7"}`),
		UserID:   "user-1",
		Audience: event.Audience{UserID: "user-7"},
	})
	require.NoError(t, err)

	assert.Empty(t, f.rt.frames, "a targeted event must not be broadcast")
	require.Len(t, f.rt.direct["user-7"], 1)
	var fr realtimeFrame
	require.NoError(t, json.Unmarshal(f.rt.direct["user-7"][0], &fr))
	assert.Equal(t, "ticket.updated", fr.Event)
	assert.JSONEq(t, `{"ticket_id":4,"assignee":"user-7"}`, string(fr.Data))
	assert.Equal(t, "user-1", fr.UserID)
}

func TestFireNoRealtimeForQuietEvents(t *testing.T) {
	// feeding.logged has neither email template nor realtime flag
	f := newFixture()
	require.NoError(t, f.trig.Fire(context.Background(), &event.Event{Name: "feeding.logged"}))
	assert.Empty(t, f.rt.frames)
	assert.Empty(t, f.emailQ.emails)
}

func TestFireReportsEnqueueFailuresButKeepsGoing(t *testing.T) {
	f := newFixture()
	f.repo.regs = []*webhook.Registration{activeReg("inventory.low_stock")}
	f.webhookQ.err = errors.New("db down")
	f.recipients["inventory.low_stock"] = []string{"a@example.com"}

	err := f.trig.Fire(context.Background(), &event.Event{Name: "inventory.low_stock"})
	require.Error(t, err)
	// the email channel still went through
	assert.Len(t, f.emailQ.emails, 1)
	assert.Len(t, f.rt.frames, 1)
}
