package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/mpfootwear/backoffice/internal/giftcard"
	"github.com/mpfootwear/backoffice/internal/loyalty"
	"github.com/mpfootwear/backoffice/internal/shared"
	"github.com/mpfootwear/backoffice/internal/vendors"
)

// NewGiftCardExpiryHandler builds the handler voiding expired gift cards.
func NewGiftCardExpiryHandler(logger *slog.Logger, svc *giftcard.Service) TaskHandler {
	return TaskHandler{
		Type: TaskGiftCardExpiry,
		Handler: func(ctx context.Context, t *asynq.Task) error {
			var payload SweepPayload
			if err := json.Unmarshal(t.Payload(), &payload); err != nil {
				return asynq.SkipRetry
			}
			expired, err := svc.ExpireDue(ctx, payload.Limit)
			if err != nil {
				logger.Error("giftcard expiry sweep", slog.Any("error", err), slog.Int("expired", expired))
				return err
			}
			logger.Info("giftcard expiry sweep", slog.Int("expired", expired))
			return nil
		},
	}
}

// NewLoyaltyExpiryHandler builds the handler voiding idle loyalty balances.
func NewLoyaltyExpiryHandler(logger *slog.Logger, svc *loyalty.Service) TaskHandler {
	return TaskHandler{
		Type: TaskLoyaltyExpiry,
		Handler: func(ctx context.Context, t *asynq.Task) error {
			var payload SweepPayload
			if err := json.Unmarshal(t.Payload(), &payload); err != nil {
				return asynq.SkipRetry
			}
			expired, err := svc.ExpireDue(ctx, payload.Limit)
			if err != nil {
				logger.Error("loyalty expiry sweep", slog.Any("error", err), slog.Int("expired", expired))
				return err
			}
			logger.Info("loyalty expiry sweep", slog.Int("expired", expired))
			return nil
		},
	}
}

// NewBillsOverdueHandler builds the handler flagging vendor bills past due.
// The sweep runs per entity because bills are tenant scoped.
func NewBillsOverdueHandler(logger *slog.Logger, svc *vendors.Service) TaskHandler {
	return TaskHandler{
		Type: TaskBillsOverdue,
		Handler: func(ctx context.Context, t *asynq.Task) error {
			var payload SweepPayload
			if err := json.Unmarshal(t.Payload(), &payload); err != nil {
				return asynq.SkipRetry
			}
			for _, tenant := range []shared.Tenant{shared.TenantMPShoes, shared.TenantMPFootwear} {
				flagged, err := svc.MarkOverdue(ctx, tenant)
				if err != nil {
					logger.Error("bills overdue sweep", slog.String("tenant", tenant.String()), slog.Any("error", err))
					return err
				}
				logger.Info("bills overdue sweep", slog.String("tenant", tenant.String()), slog.Int("flagged", flagged))
			}
			return nil
		},
	}
}

// NewIdempotencyCleanupHandler builds the handler pruning idempotency keys
// older than a day.
func NewIdempotencyCleanupHandler(logger *slog.Logger, store *shared.IdempotencyStore) TaskHandler {
	return TaskHandler{
		Type: TaskIdempotencyCleanup,
		Handler: func(ctx context.Context, t *asynq.Task) error {
			if err := store.Cleanup(ctx, 24*time.Hour); err != nil {
				logger.Error("idempotency cleanup", slog.Any("error", err))
				return err
			}
			logger.Info("idempotency cleanup done")
			return nil
		},
	}
}
