package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/storefront-gateway/internal/common"
	"github.com/noah-isme/storefront-gateway/internal/events"
	"github.com/noah-isme/storefront-gateway/internal/subscription"
)

func updatedPayload() events.ChangedPayload {
	interval := "2"
	next := "2024-09-02"
	return events.ChangedPayload{
		ChangeID:   "c-1",
		Topic:      events.TopicSubscriptionUpdated,
		CustomerID: "C-1",
		Email:      "dr.lee@example.com",
		ROID:       "RO-1",
		Patch: subscription.Patch{
			Interval:              &interval,
			NextRunDate:           &next,
			PreferredDeliveryDays: subscription.DeliveryDays{Items: []subscription.IDRef{{ID: 2}, {ID: 4}}},
		},
		OccurredAt: time.Date(2024, time.May, 10, 9, 0, 0, 0, time.UTC),
	}
}

func TestChangeMailerProcessesTask(t *testing.T) {
	outbox := &common.InMemoryEmail{}
	mailer := ChangeMailer{Mail: outbox, Enabled: true, From: "orders@example.com", Logger: zerolog.Nop()}

	data, err := json.Marshal(updatedPayload())
	require.NoError(t, err)
	require.NoError(t, mailer.ProcessTask(context.Background(), asynq.NewTask(events.TaskSubscriptionChanged, data)))

	sent := outbox.Sent()
	require.Len(t, sent, 1)
	require.Equal(t, "dr.lee@example.com", sent[0].To)
	require.Equal(t, "orders@example.com", sent[0].From)
	require.Equal(t, "Your recurring order was updated", sent[0].Subject)
	require.Contains(t, sent[0].Text, "Frequency: every 2 months")
	require.Contains(t, sent[0].Text, "Next shipment: Monday, September 2, 2024")
	require.Contains(t, sent[0].Text, "Preferred delivery days: Monday, Wednesday")
}

func TestChangeMailerCancelBody(t *testing.T) {
	outbox := &common.InMemoryEmail{}
	mailer := ChangeMailer{Mail: outbox, Enabled: true, Logger: zerolog.Nop()}
	payload := updatedPayload()
	payload.Topic = events.TopicSubscriptionCanceled

	require.NoError(t, mailer.Notify(context.Background(), payload))
	sent := outbox.Sent()
	require.Len(t, sent, 1)
	require.Equal(t, "Your recurring order was canceled", sent[0].Subject)
	require.Contains(t, sent[0].Text, "RO-1 was canceled on May 10, 2024")
}

func TestChangeMailerSkips(t *testing.T) {
	outbox := &common.InMemoryEmail{}
	ctx := context.Background()

	require.NoError(t, ChangeMailer{Mail: outbox}.Notify(ctx, updatedPayload()))

	toggled := ChangeMailer{Mail: outbox, Enabled: true, TopicToggles: map[string]bool{events.TopicSubscriptionUpdated: false}}
	require.NoError(t, toggled.Notify(ctx, updatedPayload()))

	noRecipient := updatedPayload()
	noRecipient.Email = ""
	require.NoError(t, ChangeMailer{Mail: outbox, Enabled: true, Logger: zerolog.Nop()}.Notify(ctx, noRecipient))

	require.Empty(t, outbox.Sent())
}

func TestChangeMailerDoesNotRetryBadPayload(t *testing.T) {
	mailer := ChangeMailer{Mail: &common.InMemoryEmail{}, Enabled: true}
	err := mailer.ProcessTask(context.Background(), asynq.NewTask(events.TaskSubscriptionChanged, []byte("{")))
	require.True(t, errors.Is(err, asynq.SkipRetry))
}
