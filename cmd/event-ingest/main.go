package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	config "github.com/farmflow/notify/internal/config/event-ingest"
	"github.com/farmflow/notify/internal/domain/event"
	"github.com/farmflow/notify/internal/ingest"
	"github.com/farmflow/notify/internal/obs"
	"github.com/farmflow/notify/internal/repository/kafka"
	pg "github.com/farmflow/notify/internal/repository/postgres"
	"github.com/farmflow/notify/internal/services/trigger"
)

// wiring: the ingest service fans out to the durable channels only. The
// realtime registry is process-local to the gateway, so no Broadcaster
// here.
func wiring(db *pg.DB, cfg *config.Config, cons *kafka.Consumer, l *zap.Logger) *ingest.Controller {
	trig := trigger.New(l, event.DefaultCatalog(),
		pg.NewWebhookRepo(db),
		pg.NewWebhookDeliveryRepo(db),
		pg.NewEmailDeliveryRepo(db),
		pg.NewRecipientRepo(db),
		nil,
		cfg.Trigger,
	)
	return ingest.NewController(l, cons, trig, pg.NewTransactor(db, l))
}

func main() {
	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath())
	if err != nil {
		log.Fatal(err)
	}

	l, err := obs.NewLogger(obs.LogConfig{Level: cfg.LogLevel, App: "event-ingest"})
	if err != nil {
		log.Fatal(err)
	}

	l.Info("starting event-ingest",
		zap.Strings("brokers", cfg.In.Brokers),
		zap.String("topic", cfg.In.Topic),
		zap.String("group_id", cfg.In.GroupID),
		zap.String("metrics_addr", cfg.Server.MetricsAddr),
	)

	otelCloser, err := obs.SetupOTel(rootCtx, cfg.OTEL.AsOTELConfig())
	if err != nil {
		l.Warn("otel init", zap.Error(err))
	}
	defer func() { _ = otelCloser.Shutdown(context.Background()) }()

	db, err := pg.NewDB(rootCtx, cfg.DB)
	if err != nil {
		l.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()
	l.Info("db connected")

	ms := obs.BootstrapMetricsServer(cfg.Server.MetricsAddr, func(ctx context.Context) error {
		hctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
		defer cancel()
		return db.Pool.Ping(hctx)
	}, l)

	cons := kafka.BootstrapConsumer(rootCtx, cfg.In.AsConsumerConfig(), l).WithLogger(l)
	defer func() { _ = cons.Close() }()

	ctrl := wiring(db, cfg, cons, l)

	errCh := make(chan error, 1)
	go func() {
		l.Info("controller starting")
		errCh <- ctrl.Run(rootCtx)
	}()

	var runErr error
	select {
	case <-rootCtx.Done():
		l.Info("shutdown signal")
	case runErr = <-errCh:
		if runErr != nil && !errors.Is(runErr, context.Canceled) {
			l.Error("controller error", zap.Error(runErr))
		}
	}

	shCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = ms.Shutdown(shCtx)
	l.Info("bye")
}

func configPath() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "config/event-ingest.yaml"
}
