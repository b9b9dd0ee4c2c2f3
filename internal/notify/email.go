package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/storefront-gateway/internal/common"
	"github.com/noah-isme/storefront-gateway/internal/events"
	"github.com/noah-isme/storefront-gateway/internal/subscription"
)

var weekdayNames = map[int]string{
	1: "Sunday", 2: "Monday", 3: "Tuesday", 4: "Wednesday",
	5: "Thursday", 6: "Friday", 7: "Saturday",
}

// ChangeMailer emails customers about recurring-order changes. It handles
// subscription:changed tasks and also implements events.Notifier.
type ChangeMailer struct {
	Mail         common.EmailSender
	Enabled      bool
	From         string
	TopicToggles map[string]bool
	Logger       zerolog.Logger
}

// ProcessTask implements asynq.Handler. Undecodable payloads are not retried.
func (m ChangeMailer) ProcessTask(ctx context.Context, task *asynq.Task) error {
	payload, err := events.DecodeChanged(task.Payload())
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return m.Notify(ctx, payload)
}

// Notify renders and sends the email for payload.
func (m ChangeMailer) Notify(ctx context.Context, payload events.ChangedPayload) error {
	if !m.Enabled || m.Mail == nil {
		return nil
	}
	if m.TopicToggles != nil {
		if enabled, ok := m.TopicToggles[payload.Topic]; ok && !enabled {
			return nil
		}
	}
	to := strings.TrimSpace(payload.Email)
	if to == "" {
		m.Logger.Debug().Str("customer_id", payload.CustomerID).Str("ro_id", payload.ROID).Msg("no recipient for change notice")
		return nil
	}
	msg := common.Email{
		To:      to,
		From:    m.From,
		Subject: subjectFor(payload.Topic),
		Text:    bodyFor(payload),
	}
	if err := m.Mail.Send(ctx, msg); err != nil {
		return fmt.Errorf("change mailer: send: %w", err)
	}
	m.Logger.Info().Str("customer_id", payload.CustomerID).Str("ro_id", payload.ROID).Str("topic", payload.Topic).Msg("change notice sent")
	return nil
}

func subjectFor(topic string) string {
	switch topic {
	case events.TopicSubscriptionUpdated:
		return "Your recurring order was updated"
	case events.TopicSubscriptionCanceled:
		return "Your recurring order was canceled"
	default:
		return fmt.Sprintf("Recurring order notice: %s", topic)
	}
}

func bodyFor(payload events.ChangedPayload) string {
	var b strings.Builder
	switch payload.Topic {
	case events.TopicSubscriptionCanceled:
		fmt.Fprintf(&b, "Recurring order %s was canceled on %s.", payload.ROID, payload.OccurredAt.Format("January 2, 2006"))
		b.WriteString("\nNo further shipments will be scheduled.")
		return b.String()
	default:
		fmt.Fprintf(&b, "Recurring order %s was updated on %s.", payload.ROID, payload.OccurredAt.Format("January 2, 2006"))
	}
	p := payload.Patch
	if p.Interval != nil {
		fmt.Fprintf(&b, "\nFrequency: %s", describeInterval(*p.Interval))
	}
	if p.NextRunDate != nil {
		if date, err := time.Parse("2006-01-02", *p.NextRunDate); err == nil {
			fmt.Fprintf(&b, "\nNext shipment: %s", date.Format("Monday, January 2, 2006"))
		}
	}
	if p.Status != nil {
		fmt.Fprintf(&b, "\nStatus: %s", *p.Status)
	}
	if days := describeDays(p.PreferredDeliveryDays); days != "" {
		fmt.Fprintf(&b, "\nPreferred delivery days: %s", days)
	}
	return b.String()
}

func describeInterval(months string) string {
	if months == "1" {
		return "every month"
	}
	return "every " + months + " months"
}

func describeDays(days subscription.DeliveryDays) string {
	names := make([]string, 0, len(days.Items))
	for _, item := range days.Items {
		if name, ok := weekdayNames[item.ID]; ok {
			names = append(names, name)
		}
	}
	return strings.Join(names, ", ")
}
