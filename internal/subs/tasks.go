package subs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// TaskTypeProvision is the asynq task type for subscription provisioning.
const TaskTypeProvision = "subscription:provision"

// ProvisionPayload is the JSON payload of a provisioning task.
type ProvisionPayload struct {
	OrderID string `json:"orderId"`
}

// NewProvisionTask builds a provisioning task for the given order.
func NewProvisionTask(orderID string) (*asynq.Task, error) {
	payload, err := json.Marshal(ProvisionPayload{OrderID: orderID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeProvision, payload), nil
}

// Enqueuer pushes provisioning tasks onto the subscription queue.
type Enqueuer struct {
	Client *asynq.Client
	Queue  string
}

// EnqueueProvision schedules subscription provisioning for an order.
func (e *Enqueuer) EnqueueProvision(ctx context.Context, orderID string) error {
	task, err := NewProvisionTask(orderID)
	if err != nil {
		return err
	}
	_, err = e.Client.EnqueueContext(ctx, task,
		asynq.Queue(e.Queue),
		asynq.MaxRetry(5),
		asynq.Timeout(time.Minute),
	)
	return err
}

// HandleProvisionTask is the asynq handler for TaskTypeProvision. Orders
// without reusable opaque data cannot be retried into success, so those
// failures skip the retry schedule.
func (s *Service) HandleProvisionTask(ctx context.Context, t *asynq.Task) error {
	var payload ProvisionPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	var err error
	if s.Locks != nil {
		err = s.Locks.WithLock(ctx, "lock:subscription:"+payload.OrderID, time.Minute, func(ctx context.Context) error {
			_, provErr := s.Provision(ctx, payload.OrderID)
			return provErr
		})
	} else {
		_, err = s.Provision(ctx, payload.OrderID)
	}
	if errors.Is(err, ErrNoStoredToken) || errors.Is(err, ErrNoSubscriptionID) {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	return err
}
