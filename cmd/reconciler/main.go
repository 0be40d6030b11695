// Command reconciler applies verified payment gateway events queued by the
// API to payment records and their orders.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-marketplace-core/internal/app"
	"github.com/ariefcatur/go-marketplace-core/internal/config"
	"github.com/ariefcatur/go-marketplace-core/internal/kafka"
	"github.com/ariefcatur/go-marketplace-core/internal/observability"
	"github.com/ariefcatur/go-marketplace-core/internal/payments"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	cfg.ServiceName += "-reconciler"

	logger, err := observability.NewLogger(cfg.LogLevel, cfg.ServiceName)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()
	if cfg.Storage != config.StoragePostgres {
		logger.Fatal("the reconciler shares state with the API and needs STORAGE=postgres")
	}
	if len(cfg.KafkaBrokers) == 0 {
		logger.Fatal("KAFKA_BROKERS is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := prometheus.NewRegistry()
	a, err := app.New(ctx, cfg, logger, reg)
	if err != nil {
		logger.Fatal("startup failed", zap.Error(err))
	}
	defer a.Close()
	a.Start(ctx)

	metricsSrv := &http.Server{Addr: getenv("RECONCILER_METRICS_ADDR", ":9091"), Handler: a.Metrics.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics listener", zap.Error(err))
		}
	}()

	cons := kafka.NewConsumer(cfg.KafkaBrokers, cfg.ReconcilerGroup, payments.TopicGatewayEvents, cfg.ReconcilerWorkers, logger)
	go func() {
		logger.Info("reconciler consumer started",
			zap.String("group", cfg.ReconcilerGroup),
			zap.String("topic", payments.TopicGatewayEvents),
			zap.Int("workers", cfg.ReconcilerWorkers))
		if err := cons.Start(ctx, a.Payments.HandleGatewayMessage); err != nil {
			logger.Error("consumer exit", zap.Error(err))
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	logger.Info("shutting down consumer")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
	if err := a.Drain(5 * time.Second); err != nil {
		logger.Warn("kafka drain", zap.Error(err))
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
