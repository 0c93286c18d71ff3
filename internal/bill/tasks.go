package bill

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-kasir/internal/obs"
)

const (
	// TypeSettle is the asynq task type for post-commit bill settlement.
	TypeSettle = "bill:settle"
	// SettleQueue is the asynq queue settlement tasks run on.
	SettleQueue = "settlement"
)

// SettlePayload names a committed bill whose customer's cached loyalty count
// could not be dropped in line. The ledgers themselves are written by the bill
// transaction.
type SettlePayload struct {
	BillID     uuid.UUID  `json:"bill_id"`
	CustomerID *uuid.UUID `json:"customer_id,omitempty"`
}

// NewSettleTask builds the task. Its ID is the bill ID, so a bill is only ever
// enqueued once.
func NewSettleTask(p SettlePayload, maxRetry int) (*asynq.Task, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	opts := []asynq.Option{asynq.TaskID(p.BillID.String()), asynq.Queue(SettleQueue), asynq.Timeout(30 * time.Second)}
	if maxRetry > 0 {
		opts = append(opts, asynq.MaxRetry(maxRetry))
	}
	return asynq.NewTask(TypeSettle, data, opts...), nil
}

// AsynqEnqueuer enqueues settlement tasks with an asynq client.
type AsynqEnqueuer struct {
	Client   *asynq.Client
	MaxRetry int
}

func (e AsynqEnqueuer) EnqueueSettlement(ctx context.Context, p SettlePayload) error {
	if e.Client == nil {
		return errors.New("bill: task client not configured")
	}
	task, err := NewSettleTask(p, e.MaxRetry)
	if err != nil {
		return err
	}
	_, err = e.Client.EnqueueContext(ctx, task)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	return err
}

// CountForgetter drops a customer's cached purchase count.
type CountForgetter interface {
	Forget(ctx context.Context, customerID uuid.UUID) error
}

// SettleHandler processes TypeSettle tasks by retrying the cache invalidation
// that failed after commit. Dropping a key twice is harmless.
type SettleHandler struct {
	Loyalty CountForgetter
	Logger  zerolog.Logger
}

// ProcessTask implements asynq.Handler.
func (h *SettleHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p SettlePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil || p.BillID == uuid.Nil {
		h.count("invalid")
		return fmt.Errorf("decode settle payload: %v: %w", err, asynq.SkipRetry)
	}
	log := h.Logger.With().Str("bill_id", p.BillID.String()).Logger()

	if err := h.settle(ctx, p, log); err != nil {
		h.count("error")
		retry, _ := asynq.GetRetryCount(ctx)
		log.Warn().Err(err).Int("retry", retry).Msg("bill settlement failed")
		return err
	}
	h.count("ok")
	return nil
}

func (h *SettleHandler) settle(ctx context.Context, p SettlePayload, log zerolog.Logger) error {
	if p.CustomerID == nil || h.Loyalty == nil {
		return nil
	}
	if err := h.Loyalty.Forget(ctx, *p.CustomerID); err != nil {
		return err
	}
	log.Debug().Str("customer_id", p.CustomerID.String()).Msg("loyalty count invalidated")
	return nil
}

func (h *SettleHandler) count(result string) {
	if obs.SettlementTasksTotal != nil {
		obs.SettlementTasksTotal.WithLabelValues(result).Inc()
	}
}
