package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskGiftCardExpiry sweeps expired gift cards and voids their balance.
	TaskGiftCardExpiry = "giftcard:expire_due"
	// TaskLoyaltyExpiry voids points on accounts idle past their program window.
	TaskLoyaltyExpiry = "loyalty:expire_due"
	// TaskBillsOverdue flags vendor bills past their due date.
	TaskBillsOverdue = "vendors:mark_overdue"
	// TaskIdempotencyCleanup prunes stale idempotency keys.
	TaskIdempotencyCleanup = "housekeeping:idempotency_cleanup"
)

// SweepPayload carries scheduling metadata shared by the periodic sweeps.
type SweepPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
	Limit        int       `json:"limit,omitempty"`
}

func newSweepTask(taskType string, at time.Time, limit int) (*asynq.Task, error) {
	body, err := json.Marshal(SweepPayload{ScheduledFor: at, Limit: limit})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskType, body, asynq.Queue(QueueDefault)), nil
}

// NewGiftCardExpiryTask constructs the gift card expiry sweep task.
func NewGiftCardExpiryTask(at time.Time, limit int) (*asynq.Task, error) {
	return newSweepTask(TaskGiftCardExpiry, at, limit)
}

// NewLoyaltyExpiryTask constructs the loyalty point expiry sweep task.
func NewLoyaltyExpiryTask(at time.Time, limit int) (*asynq.Task, error) {
	return newSweepTask(TaskLoyaltyExpiry, at, limit)
}

// NewBillsOverdueTask constructs the vendor bill overdue sweep task.
func NewBillsOverdueTask(at time.Time) (*asynq.Task, error) {
	return newSweepTask(TaskBillsOverdue, at, 0)
}

// NewIdempotencyCleanupTask constructs the idempotency key cleanup task.
func NewIdempotencyCleanupTask(at time.Time) (*asynq.Task, error) {
	return newSweepTask(TaskIdempotencyCleanup, at, 0)
}
