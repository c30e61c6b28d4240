// Package entity defines domain types shared across the application.

package entity

// Notification topics used to categorize bot messages.
// Log calls can tag messages with slog.String("tg_topic", entity.TopicXxx).
const (
	TopicIssuance   = "issuance"
	TopicOrder      = "order"
	TopicReseller   = "reseller"
	TopicReconcile  = "reconcile"
	TopicController = "controller"
	TopicError      = "error"
	TopicSystem     = "system"
)

var allTopics = []string{
	TopicIssuance,
	TopicOrder,
	TopicReseller,
	TopicReconcile,
	TopicController,
	TopicError,
	TopicSystem,
}

func AllTopics() []string {
	result := make([]string, len(allTopics))
	copy(result, allTopics)
	return result
}

func IsValidTopic(topic string) bool {
	for _, t := range allTopics {
		if t == topic {
			return true
		}
	}
	return false
}
