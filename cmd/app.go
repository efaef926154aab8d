package cmd

import (
	"context"
	"fmt"
	"log/slog"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/frahmantamala/purchase-core/internal"
	"github.com/frahmantamala/purchase-core/internal/core/cache"
	"github.com/frahmantamala/purchase-core/internal/core/clock"
	"github.com/frahmantamala/purchase-core/internal/core/events"
	"github.com/frahmantamala/purchase-core/internal/core/storage"
	"github.com/frahmantamala/purchase-core/internal/loyalty"
	loyaltyPostgres "github.com/frahmantamala/purchase-core/internal/loyalty/postgres"
	"github.com/frahmantamala/purchase-core/internal/payment"
	paymentPostgres "github.com/frahmantamala/purchase-core/internal/payment/postgres"
	"github.com/frahmantamala/purchase-core/internal/product"
	productPostgres "github.com/frahmantamala/purchase-core/internal/product/postgres"
	"github.com/frahmantamala/purchase-core/internal/purchase"
	"github.com/frahmantamala/purchase-core/internal/risk"
	riskPostgres "github.com/frahmantamala/purchase-core/internal/risk/postgres"
	"github.com/frahmantamala/purchase-core/pkg/logger"
)

// application holds the wired services shared by the server and the worker.
type application struct {
	Config    *internal.Config
	DB        *sqlx.DB
	Gorm      *gorm.DB
	Redis     *redis.Client
	Cache     cache.Store
	Bus       *events.EventBus
	Clock     clock.Clock
	Logger    *slog.Logger
	Directory *riskPostgres.DirectoryRepository
	Products  *product.Service
	Risk      *risk.Engine
	Payments  *payment.Service
	Ledger    *loyalty.Service
	Purchases *purchase.Service
}

func newApplication(ctx context.Context, cfg *internal.Config) (*application, error) {
	lg := logger.LoggerWrapper()

	db, err := initDB(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	gdb, err := initGorm(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	app := &application{
		Config: cfg,
		DB:     db,
		Gorm:   gdb,
		Bus:    events.NewEventBus(lg),
		Clock:  clock.System{},
		Logger: lg,
	}

	if cfg.Cache.RedisAddr != "" {
		client, err := cache.NewRedisClient(ctx, cfg.Cache.RedisAddr, cfg.Cache.RedisPassword, cfg.Cache.RedisDB)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		app.Redis = client
		app.Cache = cache.NewRedisStore(client)
		lg.Info("using redis cache", "addr", cfg.Cache.RedisAddr)
	} else {
		app.Cache = cache.NewMemoryStore(app.Clock)
		lg.Info("using in-process cache")
	}

	policy := storage.PolicyFromConfig(cfg.Purchase)

	app.Directory = riskPostgres.NewDirectoryRepository(gdb, app.Clock)
	app.Products = product.NewService(productPostgres.NewProductRepository(gdb), app.Cache, cfg.Cache.ProductTTL, policy, lg)
	app.Risk = risk.NewEngine(app.Directory, app.Cache, risk.PolicyFromConfig(cfg.Risk), app.Clock, lg)
	app.Payments = payment.NewService(paymentPostgres.NewPaymentRepository(gdb), app.Bus, payment.ServiceConfig{
		Timeout: cfg.Purchase.PaymentTimeout,
		Policy:  policy,
	}, app.Clock, lg)
	app.Ledger = loyalty.NewService(loyaltyPostgres.NewLedgerRepository(gdb), loyalty.ServiceConfig{
		CreditExpiry: cfg.Loyalty.CreditExpiry,
		Policy:       policy,
	}, app.Clock, lg)

	purchaseCfg, err := purchase.ConfigFrom(cfg.Purchase, cfg.Loyalty)
	if err != nil {
		_ = app.Close()
		return nil, fmt.Errorf("invalid purchase config: %w", err)
	}
	app.Purchases = purchase.NewService(purchase.Dependencies{
		Catalog:   app.Products,
		Risk:      app.Risk,
		Payments:  app.Payments,
		Ledger:    app.Ledger,
		Customers: app.Directory,
		Publisher: app.Bus,
	}, purchaseCfg, app.Clock, lg)

	app.Products.RegisterInvalidation(app.Bus)
	app.Risk.RegisterInvalidation(app.Bus)

	return app, nil
}

func (a *application) Close() error {
	a.Bus.Drain()
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Logger.Error("redis close error", "error", err)
		}
	}
	return a.DB.Close()
}

// initDB initializes the database connection
func initDB(cfg internal.DatabaseConfig) (*sqlx.DB, error) {
	const driver = "pgx"

	dbConn, err := sqlx.Connect(driver, cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	dbConn.SetMaxIdleConns(cfg.MaxIdleConns)
	dbConn.SetMaxOpenConns(cfg.MaxOpenConns)
	dbConn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	dbConn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := dbConn.Ping(); err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return dbConn, nil
}

// initGorm shares the sqlx pool with gorm so both see the same limits.
func initGorm(db *sqlx.DB) (*gorm.DB, error) {
	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: db.DB}), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open gorm: %w", err)
	}
	return gdb, nil
}
