package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/farmflow/notify/internal/domain/delivery"
	"github.com/farmflow/notify/internal/domain/event"
	"github.com/farmflow/notify/internal/domain/webhook"
	"github.com/farmflow/notify/internal/obs"
)

var (
	mFired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trigger_events_total", Help: "Recognized events fanned out.",
	})
	mUnknown = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trigger_unknown_events_total", Help: "Events dropped for an unrecognized name.",
	})
	mWebhooksEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trigger_webhook_enqueued_total", Help: "Webhook deliveries enqueued.",
	})
	mEmailsEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trigger_email_enqueued_total", Help: "Email deliveries enqueued.",
	})
)

// Broadcaster is the realtime push surface the trigger needs. The hub
// satisfies it; a nil Broadcaster disables the channel.
type Broadcaster interface {
	Broadcast(data []byte, excludeUser string)
	SendToUser(userID string, data []byte)
}

type Config struct {
	WebhookMaxAttempts int `mapstructure:"webhook_max_attempts"`
	EmailMaxAttempts   int `mapstructure:"email_max_attempts"`
}

// Trigger fans one business event out to every configured channel:
// durable webhook and email rows for the workers, and a best-effort
// realtime push to open sockets. Fire itself keeps whatever was
// enqueued when a channel fails; callers wanting all-or-nothing wrap it
// in a Transactor (the repos honor a ctx-injected tx).
type Trigger struct {
	log        *zap.Logger
	catalog    event.Catalog
	webhooks   webhook.Repo
	webhookQ   delivery.WebhookQueue
	emailQ     delivery.EmailQueue
	recipients event.RecipientSource
	rt         Broadcaster
	cfg        Config
	now        func() time.Time
}

func New(
	log *zap.Logger,
	catalog event.Catalog,
	webhooks webhook.Repo,
	webhookQ delivery.WebhookQueue,
	emailQ delivery.EmailQueue,
	recipients event.RecipientSource,
	rt Broadcaster,
	cfg Config,
) *Trigger {
	if cfg.WebhookMaxAttempts <= 0 {
		cfg.WebhookMaxAttempts = 3
	}
	if cfg.EmailMaxAttempts <= 0 {
		cfg.EmailMaxAttempts = 3
	}
	return &Trigger{
		log:        log.With(zap.String("component", "trigger")),
		catalog:    catalog,
		webhooks:   webhooks,
		webhookQ:   webhookQ,
		emailQ:     emailQ,
		recipients: recipients,
		rt:         rt,
		cfg:        cfg,
		now:        time.Now,
	}
}

type realtimeFrame struct {
	Event  string          `json:"event"`
	Data   json.RawMessage `json:"data"`
	UserID string          `json:"user_id,omitempty"`
}

// Fire fans out one event. An unrecognized name is logged and dropped
// without error so a stale producer cannot wedge the ingest pipeline.
func (t *Trigger) Fire(ctx context.Context, ev *event.Event) error {
	tr := otel.Tracer("trigger")
	ctx, span := tr.Start(ctx, "trigger.fire")
	span.SetAttributes(attribute.String("event.name", ev.Name))
	defer span.End()

	log := obs.WithTrace(ctx, t.log).With(zap.String("event", ev.Name))

	def, ok := t.catalog.Lookup(ev.Name)
	if !ok {
		mUnknown.Inc()
		log.Warn("unknown event name, dropping")
		return nil
	}
	mFired.Inc()
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = t.now()
	}

	var errs []error
	if err := t.fanOutWebhooks(ctx, log, ev); err != nil {
		errs = append(errs, err)
	}
	if def.EmailTemplate != "" {
		if err := t.fanOutEmail(ctx, log, ev, def.EmailTemplate); err != nil {
			errs = append(errs, err)
		}
	}
	if def.Realtime && t.rt != nil {
		t.push(ev)
	}
	return errors.Join(errs...)
}

func (t *Trigger) fanOutWebhooks(ctx context.Context, log *zap.Logger, ev *event.Event) error {
	regs, err := t.webhooks.ListActiveByEvent(ctx, ev.Name)
	if err != nil {
		return fmt.Errorf("list webhook registrations: %w", err)
	}

	var errs []error
	for _, reg := range regs {
		d := &delivery.WebhookDelivery{
			RegistrationID: reg.ID,
			Event:          ev.Name,
			Payload:        ev.Payload,
			MaxAttempts:    reg.AttemptCeiling(t.cfg.WebhookMaxAttempts),
		}
		if err := t.webhookQ.Enqueue(ctx, d); err != nil {
			errs = append(errs, fmt.Errorf("enqueue webhook %s: %w", reg.ID, err))
			continue
		}
		mWebhooksEnqueued.Inc()
		log.Debug("webhook delivery enqueued",
			zap.String("registration", reg.Name), zap.String("delivery_id", d.ID.String()))
	}
	return errors.Join(errs...)
}

func (t *Trigger) fanOutEmail(ctx context.Context, log *zap.Logger, ev *event.Event, templateKey string) error {
	addrs, err := t.recipients.ListByEvent(ctx, ev.Name)
	if err != nil {
		return fmt.Errorf("list recipients: %w", err)
	}
	if len(addrs) == 0 {
		log.Debug("no recipients configured, skipping email channel")
		return nil
	}

	vars := templateVars(ev)
	var errs []error
	for _, addr := range addrs {
		d := &delivery.EmailDelivery{
			To:           addr,
			TemplateKey:  templateKey,
			TemplateVars: vars,
			MaxAttempts:  t.cfg.EmailMaxAttempts,
		}
		if err := t.emailQ.Enqueue(ctx, d); err != nil {
			errs = append(errs, fmt.Errorf("enqueue email to %s: %w", addr, err))
			continue
		}
		mEmailsEnqueued.Inc()
	}
	log.Debug("email deliveries enqueued", zap.Int("recipients", len(addrs)))
	return errors.Join(errs...)
}

// push is best effort: sockets are an accelerant, never the system of
// record. An everyone audience excludes the originating user, who
// already saw the action happen; a single-user audience goes to that
// user's sessions only.
func (t *Trigger) push(ev *event.Event) {
	b, err := json.Marshal(realtimeFrame{Event: ev.Name, Data: ev.Payload, UserID: ev.UserID})
	if err != nil {
		return
	}
	if ev.Audience.Everyone() {
		t.rt.Broadcast(b, ev.UserID)
		return
	}
	t.rt.SendToUser(ev.Audience.UserID, b)
}

// templateVars exposes the payload's top-level object fields to the
// email template, plus the event name and occurrence time.
func templateVars(ev *event.Event) map[string]any {
	vars := make(map[string]any)
	if len(ev.Payload) > 0 {
		_ = json.Unmarshal(ev.Payload, &vars)
	}
	vars["event"] = ev.Name
	vars["occurred_at"] = ev.OccurredAt.UTC().Format(time.RFC3339)
	return vars
}
