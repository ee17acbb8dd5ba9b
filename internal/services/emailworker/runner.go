package emailworker

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/farmflow/notify/internal/domain/delivery"
	"github.com/farmflow/notify/internal/domain/sendlog"
	tmpl "github.com/farmflow/notify/internal/domain/template"
	"github.com/farmflow/notify/internal/obs"
	"github.com/farmflow/notify/internal/settings"
)

// SettingSMTPEnabled gates the whole worker. When false, no rows are
// claimed and queued mail waits untouched.
const SettingSMTPEnabled = "email.smtp_enabled"

var (
	mEmailClaimed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "email_worker_claimed_total", Help: "Deliveries claimed into processing.",
	})
	mEmailSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "email_worker_sent_total", Help: "Deliveries handed to the SMTP server.",
	})
	mEmailRetried = promauto.NewCounter(prometheus.CounterOpts{
		Name: "email_worker_retried_total", Help: "Attempts that failed and went back to pending.",
	})
	mEmailFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "email_worker_failed_total", Help: "Deliveries terminally failed.",
	})
	mEmailErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "email_worker_errors_total", Help: "Claim/bookkeeping errors.",
	})
	mEmailTickDur = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "email_worker_tick_duration_seconds", Help: "Tick duration.",
		Buckets: prometheus.DefBuckets,
	})
)

type RunnerConfig struct {
	Tick      time.Duration `mapstructure:"tick"`
	BatchSize int           `mapstructure:"batch_size"`
}

// Runner drains the email queue on a fixed interval. Template-backed
// rows are rendered at claim time, so template edits apply to everything
// still queued.
type Runner struct {
	log      *zap.Logger
	queue    delivery.EmailQueue
	sender   Sender
	renderer tmpl.Renderer
	sendLog  sendlog.Repo
	settings *settings.Provider
	cfg      RunnerConfig
	now      func() time.Time
}

func NewRunner(
	log *zap.Logger,
	queue delivery.EmailQueue,
	sender Sender,
	renderer tmpl.Renderer,
	sendLog sendlog.Repo,
	st *settings.Provider,
	cfg RunnerConfig,
) *Runner {
	if cfg.Tick <= 0 {
		cfg.Tick = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 25
	}
	return &Runner{
		log:      log.With(zap.String("component", "email.worker")),
		queue:    queue,
		sender:   sender,
		renderer: renderer,
		sendLog:  sendLog,
		settings: st,
		cfg:      cfg,
		now:      time.Now,
	}
}

func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Tick)
	defer ticker.Stop()

	r.log.Info("email worker started",
		zap.Duration("tick", r.cfg.Tick), zap.Int("batch_size", r.cfg.BatchSize))

	r.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			r.log.Info("email worker stop")
			return ctx.Err()
		case <-ticker.C:
			r.Tick(ctx)
		}
	}
}

// Tick claims one batch and sends it, unless the channel is disabled.
func (r *Runner) Tick(ctx context.Context) {
	start := time.Now()
	tr := otel.Tracer("emailworker")
	ctx, span := tr.Start(ctx, "email.tick")
	defer span.End()

	if !r.settings.GetBool(ctx, SettingSMTPEnabled, true) {
		span.SetAttributes(attribute.Bool("channel.disabled", true))
		r.log.Debug("email channel disabled, skipping tick")
		return
	}

	rows, err := r.queue.ClaimBatch(ctx, r.cfg.BatchSize)
	if err != nil {
		span.RecordError(err)
		mEmailErrors.Inc()
		obs.WithTrace(ctx, r.log).Error("claim error", zap.Error(err))
		return
	}
	mEmailClaimed.Add(float64(len(rows)))
	span.SetAttributes(attribute.Int("batch.claimed", len(rows)))

	for _, row := range rows {
		r.process(ctx, row)
	}
	mEmailTickDur.Observe(time.Since(start).Seconds())
}

func (r *Runner) process(ctx context.Context, row *delivery.EmailDelivery) {
	log := obs.WithTrace(ctx, r.log).With(
		zap.String("delivery_id", row.ID.String()),
		zap.String("to", row.To),
		zap.Int("attempt", row.Attempts),
	)

	msg, err := r.compose(ctx, row)
	if err != nil {
		// A broken or missing template never fixes itself through
		// retrying, so the row fails on the spot.
		r.finishFailure(ctx, log, row, "", err, true)
		return
	}

	if err := r.sender.Send(ctx, msg); err != nil {
		r.finishFailure(ctx, log, row, msg.Subject, err, row.Exhausted())
		return
	}

	r.appendLog(ctx, log, row, msg.Subject, true, "")
	if err := r.queue.MarkSuccess(ctx, row.ID); err != nil {
		mEmailErrors.Inc()
		log.Error("mark success", zap.Error(err))
		return
	}
	mEmailSent.Inc()
	log.Info("email sent", zap.String("subject", msg.Subject))
}

func (r *Runner) compose(ctx context.Context, row *delivery.EmailDelivery) (*Message, error) {
	msg := &Message{
		To:       row.To,
		CC:       row.CC,
		BCC:      row.BCC,
		Subject:  row.Subject,
		HTMLBody: row.HTMLBody,
		TextBody: row.TextBody,
	}
	if row.TemplateKey == "" {
		return msg, nil
	}
	rendered, err := r.renderer.Render(ctx, row.TemplateKey, row.TemplateVars)
	if err != nil {
		return nil, err
	}
	msg.Subject = rendered.Subject
	msg.HTMLBody = rendered.HTMLBody
	msg.TextBody = rendered.TextBody
	return msg, nil
}

func (r *Runner) finishFailure(ctx context.Context, log *zap.Logger, row *delivery.EmailDelivery, subject string, sendErr error, terminal bool) {
	r.appendLog(ctx, log, row, subject, false, sendErr.Error())

	if err := r.queue.MarkFailure(ctx, row.ID, sendErr.Error(), terminal); err != nil {
		mEmailErrors.Inc()
		log.Error("mark failure", zap.Error(err))
		return
	}
	if terminal {
		mEmailFailed.Inc()
		log.Warn("email failed terminally", zap.Error(sendErr))
	} else {
		mEmailRetried.Inc()
		log.Debug("email failed, will retry", zap.Error(sendErr))
	}
}

// appendLog records the attempt for audit. A failed append is logged but
// never blocks delivery bookkeeping.
func (r *Runner) appendLog(ctx context.Context, log *zap.Logger, row *delivery.EmailDelivery, subject string, ok bool, errMsg string) {
	e := &sendlog.Entry{
		DeliveryID: row.ID,
		To:         row.To,
		Subject:    subject,
		OK:         ok,
		Error:      errMsg,
		SentAt:     r.now(),
	}
	if err := r.sendLog.Append(ctx, e); err != nil {
		mEmailErrors.Inc()
		log.Error("send log append", zap.Error(err))
	}
}
