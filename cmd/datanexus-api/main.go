// DataNexus API — control plane.
//
// API:
//   - Принимает определения pipeline и проверяет граф
//   - Создаёт run'ы и публикует их в RabbitMQ
//   - Принимает отчёты воркеров о статусе
//
// Run'ы, публикация которых не подтвердилась, доставляет datanexus-reconciler.
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

	"github.com/shaiso/datanexus/internal/api"
	"github.com/shaiso/datanexus/internal/config"
	"github.com/shaiso/datanexus/internal/mq"
	"github.com/shaiso/datanexus/internal/orchestrator"
	"github.com/shaiso/datanexus/internal/pipeline"
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
	logger.Info("starting datanexus-api")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := telemetry.NewMetrics(reg)

	stores, err := storage.Open(ctx, cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer stores.Close()

	managerCfg := orchestrator.Config{
		Pipelines:      stores.Pipelines,
		Runs:           stores.Runs,
		PublishTimeout: cfg.Dispatch.PublishTimeout,
		Logger:         logger,
		Metrics:        metrics,
	}

	// Брокер может подняться позже API: соединение дозванивается в фоне,
	// а run'ы, созданные без него, доставит reconciler.
	mqConn := mq.DialBackground(cfg.RabbitMQ.URL, logger, mq.WithTopology())
	defer mqConn.Close()
	managerCfg.Publisher = mq.NewPublisher(mqConn, logger)

	manager := orchestrator.New(managerCfg)

	handler := api.NewHandler(api.Config{
		Registry:  pipeline.NewRegistry(stores.Pipelines, logger),
		Runs:      manager,
		RateLimit: cfg.RateLimit.RPS,
		RateBurst: cfg.RateLimit.Burst,
		Logger:    logger,
		Metrics:   metrics,
	})

	mux := http.NewServeMux()
	telemetry.RegisterOps(mux, reg, stores.Health)
	handler.RegisterRoutes(mux)

	server := &http.Server{
		Addr:    cfg.HTTP.Addr(),
		Handler: mux,
	}

	go func() {
		logger.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	// Дожидаемся фоновых публикаций, чтобы не закрыть соединение под ними.
	manager.Wait()

	logger.Info("datanexus-api stopped")
}
