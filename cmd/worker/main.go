package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mpfootwear/backoffice/internal/app"
	"github.com/mpfootwear/backoffice/internal/giftcard"
	"github.com/mpfootwear/backoffice/internal/loyalty"
	"github.com/mpfootwear/backoffice/internal/sequence"
	"github.com/mpfootwear/backoffice/internal/shared"
	"github.com/mpfootwear/backoffice/internal/vendors"
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
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	giftCardRepo := giftcard.NewRepository(pool)
	giftCardService := giftcard.NewService(giftCardRepo, func(ctx context.Context, exists func(context.Context, string) (bool, error)) (string, error) {
		return sequence.RandomCode(ctx, sequence.GiftCardCodeLength, sequence.ExistsFunc(exists))
	})

	loyaltyRepo := loyalty.NewRepository(pool)
	loyaltyService := loyalty.NewService(loyaltyRepo)

	vendorsRepo := vendors.NewRepository(pool)
	vendorsService := vendors.NewService(vendorsRepo)

	idempotencyStore := shared.NewIdempotencyStore(pool)

	now := time.Now().UTC()
	giftCardTask, err := jobs.NewGiftCardExpiryTask(now, cfg.ExpirySweepLimit)
	if err != nil {
		logger.Error("build giftcard expiry task", slog.Any("error", err))
		os.Exit(1)
	}
	loyaltyTask, err := jobs.NewLoyaltyExpiryTask(now, cfg.ExpirySweepLimit)
	if err != nil {
		logger.Error("build loyalty expiry task", slog.Any("error", err))
		os.Exit(1)
	}
	billsTask, err := jobs.NewBillsOverdueTask(now)
	if err != nil {
		logger.Error("build overdue bill task", slog.Any("error", err))
		os.Exit(1)
	}
	cleanupTask, err := jobs.NewIdempotencyCleanupTask(now)
	if err != nil {
		logger.Error("build cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			jobs.NewGiftCardExpiryHandler(logger, giftCardService),
			jobs.NewLoyaltyExpiryHandler(logger, loyaltyService),
			jobs.NewBillsOverdueHandler(logger, vendorsService),
			jobs.NewIdempotencyCleanupHandler(logger, idempotencyStore),
		},
		Cron: []jobs.CronRegistration{
			{Spec: "0 1 * * *", Task: giftCardTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "30 1 * * *", Task: loyaltyTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "0 2 * * *", Task: billsTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "15 3 * * *", Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(1)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
