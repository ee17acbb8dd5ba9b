package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	config "github.com/farmflow/notify/internal/config/realtime-gateway"
	"github.com/farmflow/notify/internal/domain/event"
	"github.com/farmflow/notify/internal/obs"
	pg "github.com/farmflow/notify/internal/repository/postgres"
	"github.com/farmflow/notify/internal/realtime"
	"github.com/farmflow/notify/internal/services/trigger"
	"github.com/farmflow/notify/internal/services/webhookworker"
)

func main() {
	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath())
	if err != nil {
		log.Fatal(err)
	}

	l, err := obs.NewLogger(obs.LogConfig{Level: cfg.LogLevel, App: "realtime-gateway"})
	if err != nil {
		log.Fatal(err)
	}

	l.Info("starting realtime-gateway",
		zap.String("http_addr", cfg.HTTP.Addr),
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

	pool := realtime.NewTaskPool(cfg.Realtime.PoolWorkers, cfg.Realtime.PoolQueue, l)
	hub := realtime.NewHub(l, pool, cfg.Realtime.WriteTimeout)
	defer hub.Close()

	webhooks := pg.NewWebhookRepo(db)
	trig := trigger.New(l, event.DefaultCatalog(),
		webhooks,
		pg.NewWebhookDeliveryRepo(db),
		pg.NewEmailDeliveryRepo(db),
		pg.NewRecipientRepo(db),
		hub,
		cfg.Trigger,
	)
	disp := webhookworker.NewDispatcher(
		webhookworker.NewHTTPClient(cfg.Dispatch.DialTimeout),
		webhookworker.DispatcherConfig{DefaultTimeout: cfg.Dispatch.DefaultTimeout}, l)

	gw := &gateway{log: l, trig: trig, tx: pg.NewTransactor(db, l), webhooks: webhooks, disp: disp}
	srv := buildHTTPServer(cfg, l, gw, realtime.NewWSHandler(hub, l))

	errCh := make(chan error, 1)
	go func() {
		l.Info("http listening", zap.String("addr", cfg.HTTP.Addr))
		errCh <- srv.ListenAndServe()
	}()

	var runErr error
	select {
	case <-rootCtx.Done():
		l.Info("shutdown signal")
	case runErr = <-errCh:
		if runErr != nil && !errors.Is(runErr, http.ErrServerClosed) {
			l.Error("http server error", zap.Error(runErr))
		}
	}

	shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shCtx)
	_ = ms.Shutdown(shCtx)
	l.Info("bye")
}

func configPath() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "config/realtime-gateway.yaml"
}
