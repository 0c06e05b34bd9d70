// DataNexus Worker — исполняет run'ы.
//
// Worker:
//   - Получает DispatchMessage из RabbitMQ
//   - Забирает run отчётом processing (дубликаты доставки отбрасываются)
//   - Исполняет узлы графа в топологическом порядке с retry
//   - Сообщает completed/failed в API control plane
//
// Workers масштабируются горизонтально.
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
	"github.com/shaiso/datanexus/internal/telemetry"
	"github.com/shaiso/datanexus/internal/worker"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		telemetry.SetupLogger("INFO", "json").Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := telemetry.SetupLogger(cfg.Log.Level, cfg.Log.Format)
	logger.Info("starting datanexus-worker", "api_url", cfg.Worker.APIURL)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	metrics := telemetry.NewMetrics(reg)

	mqConn, err := mq.Dial(cfg.RabbitMQ.URL, logger, mq.WithTopology())
	if err != nil {
		logger.Error("failed to connect to RabbitMQ", "error", err)
		os.Exit(1)
	}
	defer mqConn.Close()
	logger.Info("RabbitMQ connected")

	w := worker.New(worker.Config{
		Conn: mqConn,
		Reporter: worker.NewHTTPReporter(worker.ReporterConfig{
			BaseURL: cfg.Worker.APIURL,
			Retries: cfg.Worker.ReportRetries,
			Logger:  logger,
		}),
		Prefetch: cfg.Worker.Prefetch,
		Logger:   logger,
		Metrics:  metrics,
	})

	if err := w.Start(ctx); err != nil {
		logger.Error("failed to start worker", "error", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	telemetry.RegisterOps(mux, reg, func(context.Context) error {
		if !mqConn.IsConnected() {
			return errors.New("rabbitmq disconnected")
		}
		return nil
	})

	server := &http.Server{Addr: ":" + cfg.Worker.MetricsPort, Handler: mux}
	go func() {
		logger.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()

	w.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	logger.Info("datanexus-worker stopped")
}
