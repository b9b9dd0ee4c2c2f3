package events

// Topic constants for recurring-order change events.
const (
	TopicSubscriptionUpdated  = "subscription.updated"
	TopicSubscriptionCanceled = "subscription.canceled"
)

// TaskSubscriptionChanged is the asynq task type carrying a ChangedPayload.
const TaskSubscriptionChanged = "subscription:changed"

// QueueNotifications is the asynq queue customer notices are delivered on.
const QueueNotifications = "notifications"

// DefaultTopics returns the canonical list of topics that support notifications.
func DefaultTopics() []string {
	return []string{
		TopicSubscriptionUpdated,
		TopicSubscriptionCanceled,
	}
}
