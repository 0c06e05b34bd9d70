// DataNexus Reconciler — reconciliation sweep.
//
// Reconciler:
//   - Периодически ищет pending run'ы без подтверждённой публикации
//   - Переотправляет их в RabbitMQ из снапшота в строке run
//   - С Postgres работает только лидер (advisory lock), остальные ждут
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/shaiso/datanexus/internal/config"
	"github.com/shaiso/datanexus/internal/mq"
	"github.com/shaiso/datanexus/internal/orchestrator"
	"github.com/shaiso/datanexus/internal/storage"
	"github.com/shaiso/datanexus/internal/telemetry"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		telemetry.SetupLogger("INFO", "json").Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := telemetry.SetupLogger(cfg.Log.Level, cfg.Log.Format)
	logger.Info("starting datanexus-reconciler",
		"interval", cfg.Sweep.Interval,
		"threshold", cfg.Sweep.Threshold,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	metrics := telemetry.NewMetrics(reg)

	stores, err := storage.Open(ctx, cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer stores.Close()

	// Без брокера sweep бессмыслен: падаем и ждём рестарта.
	mqConn, err := mq.Dial(cfg.RabbitMQ.URL, logger, mq.WithTopology())
	if err != nil {
		logger.Error("failed to connect to RabbitMQ", "error", err)
		os.Exit(1)
	}
	defer mqConn.Close()

	manager := orchestrator.New(orchestrator.Config{
		Pipelines:      stores.Pipelines,
		Runs:           stores.Runs,
		Publisher:      mq.NewPublisher(mqConn, logger),
		PublishTimeout: cfg.Dispatch.PublishTimeout,
		Logger:         logger,
		Metrics:        metrics,
	})

	locker := stores.Locker(cfg.Sweep.LockKey)
	if locker == nil {
		logger.Warn("no leader lock for this driver, run a single reconciler", "driver", stores.Driver)
	}

	sweeper := orchestrator.NewSweeper(orchestrator.SweeperConfig{
		Manager:   manager,
		Interval:  cfg.Sweep.Interval,
		Threshold: cfg.Sweep.Threshold,
		BatchSize: cfg.Sweep.BatchSize,
		Locker:    locker,
		Logger:    logger,
		Metrics:   metrics,
	})
	sweeper.Start(ctx)

	mux := http.NewServeMux()
	telemetry.RegisterOps(mux, reg, stores.Health, func(context.Context) error {
		if !mqConn.IsConnected() {
			return errors.New("rabbitmq disconnected")
		}
		return nil
	})

	server := &http.Server{Addr: ":" + cfg.Sweep.MetricsPort, Handler: mux}
	go func() {
		logger.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()

	sweeper.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	logger.Info("datanexus-reconciler stopped")
}
