package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

// TypeRecalculate is the asynq task type that refreshes one order snapshot.
const TypeRecalculate = "snapshot:recalculate"

// QueueName is the asynq queue recalculation tasks are sent to.
const QueueName = "pricing"

// RecalculatePayload is the task body.
type RecalculatePayload struct {
	OrderID string `json:"orderId"`
	Force   bool   `json:"force,omitempty"`
}

// NewRecalculateTask builds a recalculation task for orderID.
func NewRecalculateTask(orderID string, force bool) (*asynq.Task, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, errors.New("batch: order id is required")
	}
	data, err := json.Marshal(RecalculatePayload{OrderID: orderID, Force: force})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeRecalculate, data), nil
}

// TaskClient is the subset of *asynq.Client used by TaskEnqueuer.
type TaskClient interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// TaskEnqueuer schedules background recalculation after an order changes.
type TaskEnqueuer struct {
	Client TaskClient
	// Unique collapses repeated enqueues for the same order within the window.
	Unique   time.Duration
	MaxRetry int
}

// Enqueue schedules a recalculation. A duplicate of a pending task is not an
// error.
func (e TaskEnqueuer) Enqueue(ctx context.Context, orderID string, force bool) error {
	if e.Client == nil {
		return errors.New("batch: task client not configured")
	}
	task, err := NewRecalculateTask(orderID, force)
	if err != nil {
		return err
	}
	opts := []asynq.Option{asynq.Queue(QueueName)}
	if e.Unique > 0 {
		opts = append(opts, asynq.Unique(e.Unique))
	}
	if e.MaxRetry > 0 {
		opts = append(opts, asynq.MaxRetry(e.MaxRetry))
	}
	if _, err := e.Client.EnqueueContext(ctx, task, opts...); err != nil {
		if errors.Is(err, asynq.ErrDuplicateTask) {
			return nil
		}
		return fmt.Errorf("batch: enqueue %s: %w", orderID, err)
	}
	return nil
}

// TaskHandler processes recalculation tasks on the worker.
type TaskHandler struct {
	Resolver TotalResolver
	Logger   *zerolog.Logger
}

// ProcessTask implements asynq.Handler.
func (h TaskHandler) ProcessTask(ctx context.Context, task *asynq.Task) error {
	var payload RecalculatePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("batch: decode payload: %v: %w", err, asynq.SkipRetry)
	}
	if strings.TrimSpace(payload.OrderID) == "" {
		return fmt.Errorf("batch: payload missing order id: %w", asynq.SkipRetry)
	}
	if h.Resolver == nil {
		return errors.New("batch: resolver not configured")
	}

	var err error
	if payload.Force {
		_, err = h.Resolver.Recalculate(ctx, payload.OrderID)
	} else {
		_, err = h.Resolver.GetTotal(ctx, payload.OrderID)
	}
	if err != nil {
		if h.Logger != nil {
			h.Logger.Warn().Err(err).Str("order_id", payload.OrderID).Msg("recalculation task failed")
		}
		return err
	}
	return nil
}

// NewServeMux routes recalculation tasks to h.
func NewServeMux(h TaskHandler) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Handle(TypeRecalculate, h)
	return mux
}
