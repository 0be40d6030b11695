// Package app assembles the marketplace core from configuration. The API,
// the reconciler worker and the admin CLI share it.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-marketplace-core/internal/cart"
	"github.com/ariefcatur/go-marketplace-core/internal/catalog"
	"github.com/ariefcatur/go-marketplace-core/internal/config"
	"github.com/ariefcatur/go-marketplace-core/internal/inventory"
	"github.com/ariefcatur/go-marketplace-core/internal/kafka"
	"github.com/ariefcatur/go-marketplace-core/internal/metrics"
	"github.com/ariefcatur/go-marketplace-core/internal/notify"
	"github.com/ariefcatur/go-marketplace-core/internal/observability"
	"github.com/ariefcatur/go-marketplace-core/internal/orders"
	"github.com/ariefcatur/go-marketplace-core/internal/payments"
	"github.com/ariefcatur/go-marketplace-core/internal/postgres"
	"github.com/ariefcatur/go-marketplace-core/internal/pricing"
	"github.com/ariefcatur/go-marketplace-core/internal/redisx"
	"github.com/ariefcatur/go-marketplace-core/internal/sequence"
	"github.com/ariefcatur/go-marketplace-core/internal/wishlist"
)

// Catalog is the catalog surface the binaries need beyond lookups.
type Catalog interface {
	catalog.Catalog
	Upsert(ctx context.Context, p catalog.Product) error
	List(ctx context.Context) ([]catalog.Product, error)
}

// App holds the wired services. Fields backed by optional infrastructure are
// nil when that infrastructure is not configured: Redis in memory mode and
// the Kafka producers without brokers.
type App struct {
	Config  config.Config
	Logger  *zap.Logger
	Metrics *metrics.Metrics

	DB    *pgxpool.Pool
	Redis *redis.Client

	Catalog   Catalog
	Ledger    *inventory.Ledger
	Carts     *cart.Service
	Orders    *orders.Service
	Payments  *payments.Reconciler
	Wishlists *wishlist.Service

	Idempotency   *redisx.Idempotency
	OrderEvents   *kafka.Producer
	GatewayEvents *kafka.Producer

	closers []func()
}

// New connects to the configured backends and builds every service.
// Producers are created but not started; call Start.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, reg *prometheus.Registry) (*App, error) {
	a := &App{Config: cfg, Logger: observability.OrNop(logger), Metrics: metrics.New(reg)}
	if err := a.build(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.Config

	pcfg, err := pricing.LoadConfig(cfg.PricingConfigPath)
	if err != nil {
		return err
	}
	engine, err := pricing.New(pcfg)
	if err != nil {
		return err
	}

	var (
		store      inventory.Store
		orderRepo  orders.Repository
		payRepo    payments.Repository
		wishRepo   wishlist.Repository
		cartRepo   cart.Repository
		seq        sequence.Generator
		tx         orders.Transactor
		statusSink orders.StatusCache
		dedup      payments.Deduper
	)
	switch cfg.Storage {
	case config.StoragePostgres:
		db, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		a.DB = db
		a.closers = append(a.closers, db.Close)
		if err := postgres.MigrateUp(cfg.PostgresDSN); err != nil {
			return err
		}

		a.Redis = redisx.New(cfg.RedisAddr)
		a.closers = append(a.closers, func() { _ = a.Redis.Close() })
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}

		a.Catalog = &catalog.Repo{DB: db}
		store = inventory.NewPostgresStore(db)
		orderRepo = &orders.Repo{DB: db}
		payRepo = &payments.Repo{DB: db}
		wishRepo = &wishlist.Repo{DB: db}
		cartRepo = cart.NewRedisRepository(a.Redis)
		seq = sequence.NewPostgres(db)
		tx = &postgres.UnitOfWork{Pool: db}
		statusSink = redisx.NewStatusCache(a.Redis)
		dedup = redisx.NewDeduper(a.Redis, "payments")
		a.Idempotency = redisx.NewIdempotency(a.Redis)
	case config.StorageMemory:
		a.Catalog = catalog.NewMemory()
		store = inventory.NewMemoryStore()
		orderRepo = orders.NewMemoryRepository()
		payRepo = payments.NewMemoryRepository()
		wishRepo = wishlist.NewMemoryRepository()
		cartRepo = cart.NewMemoryRepository()
		seq = sequence.NewMemory(0)
	default:
		return fmt.Errorf("app: unknown storage %q", cfg.Storage)
	}

	a.Ledger = inventory.NewLedger(store, a.Metrics, a.Logger)
	if cfg.CatalogSeedPath != "" {
		products, err := LoadSeed(cfg.CatalogSeedPath)
		if err != nil {
			return err
		}
		if err := ApplySeed(ctx, products, engine.Currency(), a.Catalog, a.Ledger); err != nil {
			return err
		}
		a.Logger.Info("catalog seeded", zap.Int("products", len(products)))
	}

	var notifier notify.Notifier = notify.Log{Logger: a.Logger}
	if len(cfg.KafkaBrokers) > 0 {
		a.OrderEvents = kafka.NewProducer(cfg.KafkaBrokers, orders.TopicOrderEvents, 1024, a.Logger)
		a.GatewayEvents = kafka.NewProducer(cfg.KafkaBrokers, payments.TopicGatewayEvents, 256, a.Logger)
		notifier = notify.NewKafka(a.OrderEvents, cfg.ServiceName, a.Logger)
	}

	if a.Carts, err = cart.NewService(cart.Deps{
		Repo:           cartRepo,
		Catalog:        a.Catalog,
		Stock:          a.Ledger,
		Pricing:        engine,
		PaymentMethods: cfg.PaymentMethods,
		Logger:         a.Logger,
	}); err != nil {
		return err
	}
	if a.Orders, err = orders.NewService(orders.Deps{
		Repo:        orderRepo,
		Ledger:      a.Ledger,
		Catalog:     a.Catalog,
		Pricing:     engine,
		Sequence:    seq,
		Cart:        a.Carts,
		Notifier:    notifier,
		StatusCache: statusSink,
		Tx:          tx,
		Metrics:     a.Metrics,
		Logger:      a.Logger,
	}); err != nil {
		return err
	}

	gw, err := a.gateway()
	if err != nil {
		return err
	}
	if a.Payments, err = payments.NewReconciler(payments.Deps{
		Repo:    payRepo,
		Orders:  a.Orders,
		Gateway: gw,
		Dedup:   dedup,
		Methods: cfg.PaymentMethods,
		Timeout: cfg.GatewayTimeout,
		Metrics: a.Metrics,
		Logger:  a.Logger,
	}); err != nil {
		return err
	}
	a.Wishlists, err = wishlist.NewService(wishlist.Deps{
		Repo:    wishRepo,
		Catalog: a.Catalog,
		Stock:   a.Ledger,
		Cart:    a.Carts,
		Logger:  a.Logger,
	})
	return err
}

// gateway picks Stripe when a key is configured and the sandbox otherwise.
func (a *App) gateway() (payments.Gateway, error) {
	if a.Config.StripeAPIKey == "" {
		if a.Config.Storage == config.StoragePostgres {
			a.Logger.Warn("STRIPE_API_KEY not set, using the sandbox payment gateway")
		}
		return payments.NewSandboxGateway(), nil
	}
	return payments.NewStripeGateway(payments.StripeConfig{APIKey: a.Config.StripeAPIKey, Logger: a.Logger})
}

// Start runs the Kafka producers until ctx is done.
func (a *App) Start(ctx context.Context) {
	for _, p := range a.producers() {
		p.Start(ctx)
	}
}

// Drain waits for started producers to flush after their context ended.
func (a *App) Drain(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		for _, p := range a.producers() {
			p.WaitClosed()
		}
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.New("app: producers did not flush in time")
	}
}

func (a *App) producers() []*kafka.Producer {
	var out []*kafka.Producer
	for _, p := range []*kafka.Producer{a.OrderEvents, a.GatewayEvents} {
		if p != nil {
			out = append(out, p)
		}
	}
	return out
}

// Close releases connections in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
