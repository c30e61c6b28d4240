package entity

import (
	"time"
)

// Role controls which API routes a token may call
type Role string

const (
	RoleOperator Role = "operator"
	RoleReseller Role = "reseller"
)

// User represents both an API user (Token-based auth) and a Telegram bot subscriber.
// Telegram fields are set by an operator and toggled through /start and /stop.
type User struct {
	Username         string    `json:"username" bson:"username"`
	Name             string    `json:"name" bson:"name"`
	Token            string    `json:"-" bson:"token"`
	Role             Role      `json:"role" bson:"role"`
	ResellerId       int64     `json:"reseller_id,omitempty" bson:"reseller_id,omitempty"`
	TelegramId       int64     `json:"telegram_id" bson:"telegram_id"`
	TelegramUsername string    `json:"telegram_username" bson:"telegram_username"`
	TelegramEnabled  bool      `json:"telegram_enabled" bson:"telegram_enabled"`
	TelegramTopics   []string  `json:"telegram_topics" bson:"telegram_topics"`
	TelegramDigest   bool      `json:"telegram_digest" bson:"telegram_digest"`
	LogLevel         int       `json:"log_level" bson:"log_level"`
	RegisteredAt     time.Time `json:"registered_at" bson:"registered_at"`
}

func (u *User) IsOperator() bool {
	return u.Role == RoleOperator
}

func (u *User) IsReseller() bool {
	return u.Role == RoleReseller && u.ResellerId > 0
}

// HasTopic checks if the user is subscribed to a given notification topic.
// Empty TelegramTopics means subscribed to all; "none" unsubscribes from everything.
func (u *User) HasTopic(topic string) bool {
	if len(u.TelegramTopics) == 0 {
		return true
	}
	for _, t := range u.TelegramTopics {
		if t == "none" {
			return false
		}
		if t == topic {
			return true
		}
	}
	return false
}
