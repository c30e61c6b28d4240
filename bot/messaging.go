package bot

import (
	"log/slog"

	"hsync/entity"
)

func (t *TgBot) SendMessage(msg string) {
	t.SendMessageWithLevel(msg, t.minLogLevel)
}

// SendMessageWithLevel routes a log line: errors go to the error topic,
// everything else to system
func (t *TgBot) SendMessageWithLevel(msg string, level slog.Level) {
	topic := entity.TopicSystem
	if level >= slog.LevelError {
		topic = entity.TopicError
	}
	t.SendMessageWithTopic(msg, level, topic)
}

// SendMessageWithTopic delivers to every enabled subscriber whose level and
// topics match. Digest subscribers get everything below error batched.
func (t *TgBot) SendMessageWithTopic(msg string, level slog.Level, topic string) {
	for _, chatId := range t.recipients(level, topic) {
		user := t.findUser(chatId)
		if user != nil && user.TelegramDigest && level < slog.LevelError && t.digest != nil {
			t.digest.Add(chatId, msg, topic, level)
			continue
		}
		id := chatId
		t.background(func() { t.plainResponse(id, msg) })
	}
}

func (t *TgBot) recipients(level slog.Level, topic string) []int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var ids []int64
	for _, user := range t.users {
		if !user.TelegramEnabled {
			continue
		}
		if int(level) < user.LogLevel {
			continue
		}
		if !user.HasTopic(topic) {
			continue
		}
		ids = append(ids, user.TelegramId)
	}
	return ids
}
