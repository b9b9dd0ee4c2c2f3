package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/noah-isme/storefront-gateway/internal/common"
	"github.com/noah-isme/storefront-gateway/internal/subscription"
)

// Enqueuer schedules background tasks. *asynq.Client satisfies it.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Notifier reacts to successful changes in process.
type Notifier interface {
	Notify(ctx context.Context, payload ChangedPayload) error
}

// ChangedPayload is the body of a subscription:changed task.
type ChangedPayload struct {
	ChangeID   string             `json:"changeId"`
	Topic      string             `json:"topic"`
	CustomerID string             `json:"customerId"`
	Email      string             `json:"email,omitempty"`
	ROID       string             `json:"roId"`
	Patch      subscription.Patch `json:"patch"`
	OccurredAt time.Time          `json:"occurredAt"`
}

// Bus journals every change attempt and fans successful ones out to the
// notification queue. It implements subscription.ChangeRecorder.
type Bus struct {
	Journal     subscription.ChangeRecorder
	Enqueuer    Enqueuer
	Notifiers   []Notifier
	MaxAttempts int
}

// Record journals change and, when it reached the ERP successfully, enqueues a
// customer notification.
func (b *Bus) Record(ctx context.Context, change subscription.Change) error {
	if b == nil {
		return errors.New("events: bus not configured")
	}
	var joined error
	if b.Journal != nil {
		if err := b.Journal.Record(ctx, change); err != nil {
			joined = errors.Join(joined, fmt.Errorf("events: journal: %w", err))
		}
	}
	topic := topicFor(change)
	if topic == "" {
		return joined
	}
	payload := ChangedPayload{
		ChangeID:   change.ID,
		Topic:      topic,
		CustomerID: change.CustomerID,
		ROID:       change.ROID,
		Patch:      change.Patch,
		OccurredAt: change.At,
	}
	if email, ok := common.CustomerEmail(ctx); ok {
		payload.Email = email
	}
	if b.Enqueuer != nil {
		if err := b.enqueue(ctx, payload); err != nil {
			joined = errors.Join(joined, fmt.Errorf("events: enqueue: %w", err))
		}
	}
	for _, notifier := range b.Notifiers {
		if notifier == nil {
			continue
		}
		if err := notifier.Notify(ctx, payload); err != nil {
			joined = errors.Join(joined, fmt.Errorf("events: notifier: %w", err))
		}
	}
	return joined
}

func (b *Bus) enqueue(ctx context.Context, payload ChangedPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	maxAttempts := b.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 6
	}
	opts := []asynq.Option{asynq.Queue(QueueNotifications), asynq.MaxRetry(maxAttempts)}
	if payload.ChangeID != "" {
		opts = append(opts, asynq.TaskID(payload.ChangeID))
	}
	_, err = b.Enqueuer.EnqueueContext(ctx, asynq.NewTask(TaskSubscriptionChanged, data), opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	return err
}

func topicFor(change subscription.Change) string {
	switch change.Outcome {
	case subscription.OutcomeSaved:
		return TopicSubscriptionUpdated
	case subscription.OutcomeCanceled:
		return TopicSubscriptionCanceled
	}
	return ""
}

// DecodeChanged parses a subscription:changed task payload.
func DecodeChanged(data []byte) (ChangedPayload, error) {
	var payload ChangedPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return ChangedPayload{}, fmt.Errorf("events: decode payload: %w", err)
	}
	return payload, nil
}
