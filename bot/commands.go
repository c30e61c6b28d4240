package bot

import (
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"
	"hsync/entity"
)

func (t *TgBot) start(_ *tgbotapi.Bot, ctx *ext.Context) error {
	if t.db == nil {
		return nil
	}
	chatId := ctx.EffectiveUser.Id
	user := t.findUser(chatId)
	if user == nil {
		// accounts are linked by an operator; tell the user what to hand over
		t.plainResponse(chatId, fmt.Sprintf("This chat is not linked to an account\\. Your id: `%d`", chatId))
		return nil
	}

	err := t.db.SetTelegramEnabled(chatId, true, user.LogLevel)
	if err != nil {
		t.reportError(chatId, "/start", err)
		return nil
	}
	t.plainResponse(chatId, "Notifications ENABLED")
	t.loadUsers()
	return nil
}

func (t *TgBot) stop(_ *tgbotapi.Bot, ctx *ext.Context) error {
	if t.db == nil {
		return nil
	}
	chatId := ctx.EffectiveUser.Id
	user := t.findUser(chatId)
	if user == nil {
		return nil
	}

	err := t.db.SetTelegramEnabled(chatId, false, user.LogLevel)
	if err != nil {
		t.reportError(chatId, "/stop", err)
		return nil
	}
	t.plainResponse(chatId, "Notifications DISABLED")
	t.loadUsers()
	return nil
}

func (t *TgBot) level(_ *tgbotapi.Bot, ctx *ext.Context) error {
	if t.db == nil {
		return nil
	}
	chatId := ctx.EffectiveUser.Id
	user := t.findUser(chatId)
	if user == nil {
		return nil
	}

	args := strings.Fields(ctx.EffectiveMessage.Text)
	if len(args) < 2 {
		current := slog.Level(user.LogLevel).String()
		t.plainResponse(chatId, fmt.Sprintf("Your current log level: %s\nAvailable levels: debug, info, warn, error", Sanitize(current)))
		return nil
	}

	level, ok := parseLevel(args[1])
	if !ok {
		t.plainResponse(chatId, fmt.Sprintf("Invalid level: %s\nAvailable levels: debug, info, warn, error", Sanitize(args[1])))
		return nil
	}

	err := t.db.SetTelegramEnabled(chatId, user.TelegramEnabled, int(level))
	if err != nil {
		t.reportError(chatId, "/level", err)
		return nil
	}
	t.plainResponse(chatId, fmt.Sprintf("Log level set to: %s", Sanitize(level.String())))
	t.loadUsers()
	return nil
}

func parseLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	}
	return 0, false
}

// topics shows subscriptions without arguments; "/topics all", "/topics none"
// or a list of topic names replaces them
func (t *TgBot) topics(_ *tgbotapi.Bot, ctx *ext.Context) error {
	if t.db == nil {
		return nil
	}
	chatId := ctx.EffectiveUser.Id
	user := t.findUser(chatId)
	if user == nil {
		return nil
	}

	args := strings.Fields(strings.ToLower(ctx.EffectiveMessage.Text))
	if len(args) < 2 {
		t.plainResponse(chatId, describeTopics(user))
		return nil
	}

	selected, err := parseTopics(args[1:])
	if err != nil {
		t.plainResponse(chatId, Sanitize(err.Error()))
		return nil
	}
	if err = t.db.SetTelegramTopics(chatId, selected); err != nil {
		t.reportError(chatId, "/topics", err)
		return nil
	}
	t.loadUsers()
	if user = t.findUser(chatId); user != nil {
		t.plainResponse(chatId, describeTopics(user))
	}
	return nil
}

func parseTopics(args []string) ([]string, error) {
	if len(args) == 1 {
		switch args[0] {
		case "all":
			return nil, nil
		case "none":
			return []string{"none"}, nil
		}
	}
	selected := make([]string, 0, len(args))
	for _, arg := range args {
		if !entity.IsValidTopic(arg) {
			return nil, fmt.Errorf("invalid topic: %s; available: %s", arg, strings.Join(entity.AllTopics(), ", "))
		}
		selected = append(selected, arg)
	}
	return selected, nil
}

func describeTopics(user *entity.User) string {
	var sb strings.Builder
	sb.WriteString("*Topics:*\n")
	for _, topic := range entity.AllTopics() {
		marker := "  "
		if user.HasTopic(topic) {
			marker = "\\+ "
		}
		sb.WriteString(fmt.Sprintf("%s`%s`\n", marker, topic))
	}
	sb.WriteString("\nUse `/topics <topic\\.\\.\\.|all|none>`")
	return sb.String()
}
