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
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-marketplace-core/internal/app"
	"github.com/ariefcatur/go-marketplace-core/internal/auth"
	"github.com/ariefcatur/go-marketplace-core/internal/config"
	"github.com/ariefcatur/go-marketplace-core/internal/httpx"
	"github.com/ariefcatur/go-marketplace-core/internal/observability"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	logger, err := observability.NewLogger(cfg.LogLevel, cfg.ServiceName)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()
	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a, err := app.New(ctx, cfg, logger, reg)
	if err != nil {
		logger.Fatal("startup failed", zap.Error(err))
	}
	defer a.Close()
	a.Start(ctx)

	verifier, err := auth.NewVerifier(cfg.JWTSecret)
	if err != nil {
		logger.Fatal("auth", zap.Error(err))
	}
	webhooks := &httpx.WebhookHandler{
		Secret:     cfg.StripeWebhookSecret,
		Reconciler: a.Payments,
		Service:    cfg.ServiceName,
	}
	if a.GatewayEvents != nil {
		webhooks.Publisher = a.GatewayEvents
	}
	deps := httpx.Deps{
		Verifier:  verifier,
		Cart:      &httpx.CartHandler{Carts: a.Carts},
		Orders:    &httpx.OrdersHandler{Orders: a.Orders, Carts: a.Carts, Payments: a.Payments},
		Wishlists: &httpx.WishlistHandler{Wishlists: a.Wishlists},
		Payments:  &httpx.PaymentsHandler{Payments: a.Payments},
		Metrics:   a.Metrics,
		Logger:    logger,
	}
	if a.Idempotency != nil {
		deps.Orders.Idem = a.Idempotency
	}
	if cfg.StripeWebhookSecret != "" {
		deps.Webhooks = webhooks
	} else {
		logger.Warn("STRIPE_WEBHOOK_SECRET not set, webhook endpoint disabled")
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpx.NewRouter(deps),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr), zap.String("storage", cfg.Storage))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	cancel()
	if err := a.Drain(5 * time.Second); err != nil {
		logger.Warn("kafka drain", zap.Error(err))
	}
}
