package webhookworker

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/farmflow/notify/internal/domain/delivery"
	"github.com/farmflow/notify/internal/obs"
)

var (
	mClaimed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webhook_worker_claimed_total", Help: "Deliveries claimed into processing.",
	})
	mDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webhook_worker_delivered_total", Help: "Deliveries acknowledged with 2xx.",
	})
	mRetried = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webhook_worker_retried_total", Help: "Attempts that failed transiently and went back to pending.",
	})
	mFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webhook_worker_failed_total", Help: "Deliveries terminally failed.",
	})
	mErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webhook_worker_errors_total", Help: "Claim/bookkeeping errors.",
	})
	mTickDur = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "webhook_worker_tick_duration_seconds", Help: "Tick duration.",
		Buckets: prometheus.DefBuckets,
	})
)

type RunnerConfig struct {
	Tick              time.Duration `mapstructure:"tick"`
	BatchSize         int           `mapstructure:"batch_size"`
	DefaultRetryDelay time.Duration `mapstructure:"default_retry_delay"`
}

// Runner drains the webhook queue on a fixed interval. Rows are
// processed sequentially within a batch; each row's bookkeeping is
// independent, so one bad destination cannot abort the rest.
type Runner struct {
	log   *zap.Logger
	queue delivery.WebhookQueue
	disp  *Dispatcher
	cfg   RunnerConfig
	now   func() time.Time
}

func NewRunner(log *zap.Logger, queue delivery.WebhookQueue, disp *Dispatcher, cfg RunnerConfig) *Runner {
	if cfg.Tick <= 0 {
		cfg.Tick = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 25
	}
	if cfg.DefaultRetryDelay <= 0 {
		cfg.DefaultRetryDelay = time.Minute
	}
	return &Runner{
		log:   log.With(zap.String("component", "webhook.worker")),
		queue: queue,
		disp:  disp,
		cfg:   cfg,
		now:   time.Now,
	}
}

func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Tick)
	defer ticker.Stop()

	r.log.Info("webhook worker started",
		zap.Duration("tick", r.cfg.Tick), zap.Int("batch_size", r.cfg.BatchSize))

	r.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			r.log.Info("webhook worker stop")
			return ctx.Err()
		case <-ticker.C:
			r.Tick(ctx)
		}
	}
}

// Tick claims one batch and dispatches it.
func (r *Runner) Tick(ctx context.Context) {
	start := time.Now()
	tr := otel.Tracer("webhookworker")
	ctx, span := tr.Start(ctx, "webhook.tick")
	span.SetAttributes(attribute.Int("batch.limit", r.cfg.BatchSize))
	defer span.End()

	rows, err := r.queue.ClaimBatch(ctx, r.cfg.BatchSize)
	if err != nil {
		span.RecordError(err)
		mErrors.Inc()
		obs.WithTrace(ctx, r.log).Error("claim error", zap.Error(err))
		return
	}
	mClaimed.Add(float64(len(rows)))
	span.SetAttributes(attribute.Int("batch.claimed", len(rows)))

	for _, row := range rows {
		r.process(ctx, row)
	}
	mTickDur.Observe(time.Since(start).Seconds())
}

func (r *Runner) process(ctx context.Context, row *delivery.WebhookDelivery) {
	log := obs.WithTrace(ctx, r.log).With(
		zap.String("delivery_id", row.ID.String()),
		zap.String("event", row.Event),
		zap.Int("attempt", row.Attempts),
	)

	res := r.disp.Dispatch(ctx, row.Registration, row.Event, row.Payload)

	if res.Success() {
		if err := r.queue.MarkSuccess(ctx, row.ID, res.StatusCode, res.Body); err != nil {
			mErrors.Inc()
			log.Error("mark success", zap.Error(err))
			return
		}
		mDelivered.Inc()
		log.Info("delivered", zap.Int("status", res.StatusCode))
		return
	}

	// Permanent responses fail immediately; transient ones fail only
	// once the post-increment attempt count hits the ceiling.
	terminal := !res.Transient() || row.Exhausted()
	var statusPtr *int
	if res.StatusCode != 0 {
		sc := res.StatusCode
		statusPtr = &sc
	}
	nextAt := r.now().Add(row.Registration.RetryDelay(r.cfg.DefaultRetryDelay))

	if err := r.queue.MarkFailure(ctx, row.ID, statusPtr, res.ErrorString(), terminal, nextAt); err != nil {
		mErrors.Inc()
		log.Error("mark failure", zap.Error(err))
		return
	}
	if terminal {
		mFailed.Inc()
		log.Warn("delivery failed terminally", zap.String("error", res.ErrorString()))
	} else {
		mRetried.Inc()
		log.Debug("delivery failed, will retry",
			zap.String("error", res.ErrorString()), zap.Time("next_attempt_at", nextAt))
	}
}
