package bot

import (
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/PaulSonOfLars/gotgbot/v2"
	"hsync/lib/sl"
)

const maxTelegramMessageLen = 4096

// plainResponse sends MarkdownV2 text, retrying as plain text when
// Telegram rejects the markup
func (t *TgBot) plainResponse(chatId int64, text string) {
	if text == "" {
		t.log.With("id", chatId).Debug("empty message")
		return
	}
	if t.send == nil {
		return
	}

	for _, part := range splitMessage(text, maxTelegramMessageLen) {
		err := t.send(chatId, part, &tgbotapi.SendMessageOpts{
			ParseMode: "MarkdownV2",
		})
		if err == nil {
			continue
		}
		t.log.With(slog.Int64("id", chatId)).Warn("sending message", sl.Err(err))
		if err = t.send(chatId, part, &tgbotapi.SendMessageOpts{}); err != nil {
			t.log.With(slog.Int64("id", chatId)).Error("sending safe message", sl.Err(err))
		}
	}
}

// Sanitize escapes MarkdownV2 reserved characters
func Sanitize(input string) string {
	const reserved = "\\_*[]()~`>#+-=|{}.!"
	var sb strings.Builder
	sb.Grow(len(input))
	for _, char := range input {
		if strings.ContainsRune(reserved, char) {
			sb.WriteByte('\\')
		}
		sb.WriteRune(char)
	}
	return sb.String()
}

func (t *TgBot) notifyOperators(msg string) {
	t.mu.RLock()
	ids := make([]int64, len(t.operatorIds))
	copy(ids, t.operatorIds)
	t.mu.RUnlock()

	for _, id := range ids {
		t.plainResponse(id, msg)
	}
}

func splitMessage(text string, maxLen int) []string {
	if len(text) <= maxLen {
		return []string{text}
	}
	var parts []string
	for len(text) > 0 {
		if len(text) <= maxLen {
			parts = append(parts, text)
			break
		}
		cutAt := maxLen
		if nl := strings.LastIndex(text[:maxLen], "\n"); nl > 0 {
			cutAt = nl + 1
		}
		parts = append(parts, text[:cutAt])
		text = text[cutAt:]
	}
	return parts
}

func formatAmount(amount int64, currency string) string {
	return fmt.Sprintf("%d.%02d %s", amount/100, amount%100, strings.ToUpper(currency))
}

// reportError logs a failed command and answers the user neutrally
func (t *TgBot) reportError(chatId int64, command string, err error) {
	t.log.Error("bot command failed",
		slog.String("command", command),
		slog.Int64("user_id", chatId),
		sl.Err(err),
	)
	t.plainResponse(chatId, "Something went wrong\\. Please try again later\\.")
}
