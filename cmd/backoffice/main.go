package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/mpfootwear/backoffice/internal/app"
	"github.com/mpfootwear/backoffice/internal/customers"
	"github.com/mpfootwear/backoffice/internal/giftcard"
	"github.com/mpfootwear/backoffice/internal/inventory"
	"github.com/mpfootwear/backoffice/internal/loyalty"
	"github.com/mpfootwear/backoffice/internal/orders"
	"github.com/mpfootwear/backoffice/internal/platform/cache"
	"github.com/mpfootwear/backoffice/internal/sales"
	"github.com/mpfootwear/backoffice/internal/sequence"
	"github.com/mpfootwear/backoffice/internal/shared"
	"github.com/mpfootwear/backoffice/internal/vendors"
	"github.com/mpfootwear/backoffice/internal/wallet"
	"github.com/mpfootwear/backoffice/jobs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := pgxpool.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(pool)
	idemStore := shared.NewIdempotencyStore(pool)

	walletRepo := wallet.NewRepository(pool)
	walletService := wallet.NewService(walletRepo, auditLogger)
	walletHandler := wallet.NewHandler(logger, walletService)

	giftCardRepo := giftcard.NewRepository(pool)
	giftCardService := giftcard.NewService(giftCardRepo, func(ctx context.Context, exists func(context.Context, string) (bool, error)) (string, error) {
		return sequence.RandomCode(ctx, sequence.GiftCardCodeLength, sequence.ExistsFunc(exists))
	})
	giftCardHandler := giftcard.NewHandler(logger, giftCardService)

	loyaltyRepo := loyalty.NewRepository(pool)
	loyaltyService := loyalty.NewService(loyaltyRepo)
	loyaltyHandler := loyalty.NewHandler(logger, loyaltyService)

	customersRepo := customers.NewRepository(pool)
	customersService := customers.NewService(customersRepo, walletService, loyaltyService, logger)
	customersHandler := customers.NewHandler(logger, customersService)

	inventoryRepo := inventory.NewRepository(pool)
	inventoryService := inventory.NewService(inventoryRepo)
	inventoryHandler := inventory.NewHandler(logger, inventoryService)

	vendorsRepo := vendors.NewRepository(pool)
	vendorsService := vendors.NewService(vendorsRepo)
	vendorsHandler := vendors.NewHandler(logger, vendorsService)

	ordersRepo := orders.NewRepository(pool)
	ordersService := orders.NewService(ordersRepo, walletService, giftCardService, loyaltyService).
		WithIdempotency(idemStore)
	ordersHandler := orders.NewHandler(logger, ordersService)

	salesRepo := sales.NewRepository(pool)
	salesService := sales.NewService(salesRepo, walletService, giftCardService, inventoryService).
		WithIdempotency(idemStore)
	salesHandler := sales.NewHandler(logger, salesService).
		WithSummaryCache(cache.NewCache(redisClient, 5*time.Minute))

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("jobs client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, jobClient, logger)

	router := app.NewRouter(app.RouterParams{
		Logger: logger,
		Config: cfg,
		Pool:   pool,

		CustomersHandler: customersHandler,
		WalletHandler:    walletHandler,
		GiftCardHandler:  giftCardHandler,
		LoyaltyHandler:   loyaltyHandler,
		InventoryHandler: inventoryHandler,
		VendorsHandler:   vendorsHandler,
		OrdersHandler:    ordersHandler,
		SalesHandler:     salesHandler,

		JobHandler: jobHandler,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
