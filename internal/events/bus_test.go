package events_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/storefront-gateway/internal/common"
	"github.com/noah-isme/storefront-gateway/internal/events"
	"github.com/noah-isme/storefront-gateway/internal/subscription"
)

type captureJournal struct {
	changes []subscription.Change
	err     error
}

func (c *captureJournal) Record(_ context.Context, change subscription.Change) error {
	c.changes = append(c.changes, change)
	return c.err
}

type captureEnqueuer struct {
	tasks []*asynq.Task
	opts  [][]asynq.Option
	err   error
}

func (c *captureEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	c.tasks = append(c.tasks, task)
	c.opts = append(c.opts, opts)
	if c.err != nil {
		return nil, c.err
	}
	return &asynq.TaskInfo{ID: "t-1", Type: task.Type()}, nil
}

type captureNotifier struct {
	payloads []events.ChangedPayload
}

func (c *captureNotifier) Notify(_ context.Context, payload events.ChangedPayload) error {
	c.payloads = append(c.payloads, payload)
	return nil
}

func change(outcome subscription.Outcome) subscription.Change {
	interval := "2"
	return subscription.Change{
		ID:         "8f1d7c2e-7a53-4c1b-9d5e-0f6b2a9c1e11",
		CustomerID: "C-1",
		ROID:       "RO-1",
		Kind:       subscription.ChangeSave,
		Patch:      subscription.Patch{Interval: &interval, PreferredDeliveryDays: subscription.DeliveryDays{Items: []subscription.IDRef{}}},
		Outcome:    outcome,
		At:         time.Date(2024, time.May, 10, 9, 0, 0, 0, time.UTC),
	}
}

func TestBusJournalsAndEnqueuesSuccessfulChanges(t *testing.T) {
	journal := &captureJournal{}
	enq := &captureEnqueuer{}
	notifier := &captureNotifier{}
	bus := &events.Bus{Journal: journal, Enqueuer: enq, Notifiers: []events.Notifier{notifier}}

	ctx := common.WithCustomerEmail(context.Background(), "dr.lee@example.com")
	require.NoError(t, bus.Record(ctx, change(subscription.OutcomeSaved)))

	require.Len(t, journal.changes, 1)
	require.Len(t, enq.tasks, 1)
	require.Equal(t, events.TaskSubscriptionChanged, enq.tasks[0].Type())
	require.Len(t, enq.opts[0], 3)

	payload, err := events.DecodeChanged(enq.tasks[0].Payload())
	require.NoError(t, err)
	require.Equal(t, events.TopicSubscriptionUpdated, payload.Topic)
	require.Equal(t, "dr.lee@example.com", payload.Email)
	require.Equal(t, "2", *payload.Patch.Interval)
	require.Len(t, notifier.payloads, 1)
}

func TestBusOnlyJournalsFailedChanges(t *testing.T) {
	journal := &captureJournal{}
	enq := &captureEnqueuer{}
	bus := &events.Bus{Journal: journal, Enqueuer: enq}

	require.NoError(t, bus.Record(context.Background(), change(subscription.OutcomeFailed)))
	require.NoError(t, bus.Record(context.Background(), change(subscription.OutcomeStale)))
	require.Len(t, journal.changes, 2)
	require.Empty(t, enq.tasks)
}

func TestBusJoinsErrorsButStillEnqueues(t *testing.T) {
	journal := &captureJournal{err: errors.New("db down")}
	enq := &captureEnqueuer{}
	bus := &events.Bus{Journal: journal, Enqueuer: enq}

	err := bus.Record(context.Background(), change(subscription.OutcomeCanceled))
	require.ErrorContains(t, err, "db down")
	require.Len(t, enq.tasks, 1)

	enq.err = asynq.ErrTaskIDConflict
	journal.err = nil
	require.NoError(t, bus.Record(context.Background(), change(subscription.OutcomeCanceled)))
}
