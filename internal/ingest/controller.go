package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/farmflow/notify/internal/domain/event"
	"github.com/farmflow/notify/internal/obs/retry"
	"github.com/farmflow/notify/internal/repository/kafka"
)

var (
	mConsumed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ingest_events_consumed_total", Help: "Domain events consumed from the bus.",
	})
	mDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ingest_events_dropped_total", Help: "Events dropped after exhausting fan-out retries.",
	})
)

// Firer is the fan-out entry point the controller feeds. The trigger
// satisfies it.
type Firer interface {
	Fire(ctx context.Context, ev *event.Event) error
}

// Transactor scopes one fan-out to a database transaction, so a retried
// attempt never duplicates rows enqueued by a failed earlier one.
type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type passthroughTx struct{}

func (passthroughTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// envelope is the wire shape producers put on the events topic.
type envelope struct {
	Event      string          `json:"event"`
	Payload    json.RawMessage `json:"payload"`
	UserID     string          `json:"user_id,omitempty"`
	Audience   event.Audience  `json:"audience"`
	OccurredAt time.Time       `json:"occurred_at,omitempty"`
}

// Controller bridges the Kafka topic to the trigger. Transient fan-out
// errors are retried in place; an exhausted event is logged and dropped
// so one poisoned row cannot stall the partition.
type Controller struct {
	log      *zap.Logger
	consumer *kafka.Consumer
	firer    Firer
	tx       Transactor
	policy   retry.Policy
}

func NewController(log *zap.Logger, consumer *kafka.Consumer, firer Firer, tx Transactor) *Controller {
	log = log.With(zap.String("component", "ingest"))
	if tx == nil {
		tx = passthroughTx{}
	}
	return &Controller{
		log:      log,
		consumer: consumer,
		firer:    firer,
		tx:       tx,
		policy:   retry.DefaultIngestPolicy(log),
	}
}

// Run consumes until ctx is done.
func (c *Controller) Run(ctx context.Context) error {
	return c.consumer.Consume(ctx, kafka.JSONHandler(c.handle))
}

func (c *Controller) handle(ctx context.Context, _ []byte, msg *envelope) error {
	mConsumed.Inc()
	ev := &event.Event{
		Name:       msg.Event,
		Payload:    msg.Payload,
		UserID:     msg.UserID,
		Audience:   msg.Audience,
		OccurredAt: msg.OccurredAt,
	}

	err := retry.Do(ctx, func() error {
		return c.tx.WithTx(ctx, func(ctx context.Context) error {
			return c.firer.Fire(ctx, ev)
		})
	}, c.policy)
	if err != nil && ctx.Err() == nil {
		mDropped.Inc()
		c.log.Error("event dropped after retries", zap.String("event", ev.Name), zap.Error(err))
	}
	// commit regardless: redelivering a poisoned event would only repeat
	// the same failure
	return ctx.Err()
}

func (c *Controller) Close() error { return c.consumer.Close() }
