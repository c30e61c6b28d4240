package logger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"hsync/bot"
	"hsync/entity"
)

// TopicKey tags a log call with a notification topic
const TopicKey = "tg_topic"

type Sender interface {
	SendMessageWithTopic(msg string, level slog.Level, topic string)
}

// TelegramHandler forwards records at or above minLevel to Telegram
// subscribers while passing everything to the wrapped handler
type TelegramHandler struct {
	handler  slog.Handler
	sender   Sender
	minLevel slog.Level
	attrs    []slog.Attr
	group    string
}

func NewTelegramHandler(handler slog.Handler, sender Sender, minLevel slog.Level) *TelegramHandler {
	return &TelegramHandler{
		handler:  handler,
		sender:   sender,
		minLevel: minLevel,
	}
}

func (h *TelegramHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

func (h *TelegramHandler) Handle(ctx context.Context, record slog.Record) error {
	if err := h.handler.Handle(ctx, record); err != nil {
		return err
	}
	if record.Level < h.minLevel || h.sender == nil {
		return nil
	}

	topic := entity.TopicSystem
	if record.Level >= slog.LevelError {
		topic = entity.TopicError
	}

	var sb strings.Builder
	if h.group != "" {
		sb.WriteString(fmt.Sprintf("*%s* `%s.%s`", record.Level.String(), h.group, record.Message))
	} else {
		sb.WriteString(fmt.Sprintf("*%s* `%s`", record.Level.String(), record.Message))
	}
	write := func(attr slog.Attr) {
		switch attr.Key {
		case TopicKey:
			if t := attr.Value.String(); entity.IsValidTopic(t) {
				topic = t
			}
		case "error":
			sb.WriteString(fmt.Sprintf("\nerror: ```error %v ```", attr.Value))
		default:
			sb.WriteString(bot.Sanitize(fmt.Sprintf("\n%s: %v", attr.Key, attr.Value)))
		}
	}
	for _, attr := range h.attrs {
		write(attr)
	}
	record.Attrs(func(attr slog.Attr) bool {
		write(attr)
		return true
	})

	h.sender.SendMessageWithTopic(sb.String(), record.Level, topic)
	return nil
}

func (h *TelegramHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	copy(newAttrs[len(h.attrs):], attrs)

	return &TelegramHandler{
		handler:  h.handler.WithAttrs(attrs),
		sender:   h.sender,
		minLevel: h.minLevel,
		attrs:    newAttrs,
		group:    h.group,
	}
}

func (h *TelegramHandler) WithGroup(name string) slog.Handler {
	group := name
	if h.group != "" {
		group = h.group + "." + name
	}
	return &TelegramHandler{
		handler:  h.handler.WithGroup(name),
		sender:   h.sender,
		minLevel: h.minLevel,
		attrs:    h.attrs,
		group:    group,
	}
}
