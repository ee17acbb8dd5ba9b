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

	config "github.com/farmflow/notify/internal/config/webhook-worker"
	"github.com/farmflow/notify/internal/obs"
	pg "github.com/farmflow/notify/internal/repository/postgres"
	"github.com/farmflow/notify/internal/services/webhookworker"
)

func main() {
	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath())
	if err != nil {
		log.Fatal(err)
	}

	l, err := obs.NewLogger(obs.LogConfig{Level: cfg.LogLevel, App: "webhook-worker"})
	if err != nil {
		log.Fatal(err)
	}

	l.Info("starting webhook-worker",
		zap.Duration("tick", cfg.Worker.Tick),
		zap.Int("batch_size", cfg.Worker.BatchSize),
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

	queue := pg.NewWebhookDeliveryRepo(db).WithClaimTTL(cfg.Queue.ClaimTTL)
	disp := webhookworker.NewDispatcher(
		webhookworker.NewHTTPClient(cfg.HTTP.DialTimeout), cfg.Dispatch, l)
	runner := webhookworker.NewRunner(l, queue, disp, cfg.Worker)

	errCh := make(chan error, 1)
	go func() { errCh <- runner.Run(rootCtx) }()

	var runErr error
	select {
	case <-rootCtx.Done():
		l.Info("shutdown signal")
	case runErr = <-errCh:
		if runErr != nil && !errors.Is(runErr, context.Canceled) {
			l.Error("runner error", zap.Error(runErr))
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
	return "config/webhook-worker.yaml"
}
