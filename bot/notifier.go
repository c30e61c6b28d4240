package bot

import (
	"fmt"
	"log/slog"
	"strings"

	"hsync/entity"
	"hsync/lib/clock"
)

// NotifyIssued sends the code to its recipient, when known, and a masked
// line to issuance subscribers
func (t *TgBot) NotifyIssued(event *entity.IssuanceEvent) {
	if event == nil {
		return
	}
	if event.Recipient > 0 {
		msg := fmt.Sprintf("*Your voucher*\nCode: `%s`\nProfile: %s\nValid until: %s",
			Sanitize(event.Code),
			Sanitize(event.ProfileName),
			Sanitize(clock.Format(event.ExpiresAt)),
		)
		t.background(func() { t.plainResponse(event.Recipient, msg) })
	}

	var source string
	switch {
	case event.OrderId != "":
		source = "order " + event.OrderId
	case event.ResellerId > 0:
		source = fmt.Sprintf("reseller %d", event.ResellerId)
	default:
		source = "operator"
	}
	t.SendMessageWithTopic(
		Sanitize(fmt.Sprintf("Voucher %s issued: %s, %s", maskCode(event.Code), event.ProfileName, source)),
		slog.LevelInfo,
		entity.TopicIssuance,
	)
}

// NotifyRejected tells the customer and order subscribers that a payment failed
func (t *TgBot) NotifyRejected(order *entity.Order, status string) {
	if order == nil {
		return
	}
	if order.Customer.TelegramId > 0 {
		msg := fmt.Sprintf("Payment for order `%s` was not completed \\(%s\\)\\. No voucher was issued\\.",
			Sanitize(order.OrderId), Sanitize(status))
		t.background(func() { t.plainResponse(order.Customer.TelegramId, msg) })
	}
	t.SendMessageWithTopic(
		Sanitize(fmt.Sprintf("Order %s failed: %s", order.OrderId, status)),
		slog.LevelWarn,
		entity.TopicOrder,
	)
}

// NotifyTopUp confirms a balance credit to the reseller
func (t *TgBot) NotifyTopUp(reseller *entity.Reseller, amount int64) {
	if reseller == nil {
		return
	}
	currency := t.config.Currency
	if reseller.TelegramId > 0 {
		msg := fmt.Sprintf("Balance credited: %s\nNew balance: %s",
			Sanitize(formatAmount(amount, currency)),
			Sanitize(formatAmount(reseller.Balance, currency)))
		t.background(func() { t.plainResponse(reseller.TelegramId, msg) })
	}
	t.SendMessageWithTopic(
		Sanitize(fmt.Sprintf("Reseller %s credited %s", reseller.Name, formatAmount(amount, currency))),
		slog.LevelInfo,
		entity.TopicReseller,
	)
}

// NotifyOperators alerts enabled operators regardless of their topics
func (t *TgBot) NotifyOperators(msg string) {
	text := "*Alert*\n" + Sanitize(msg)
	t.background(func() { t.notifyOperators(text) })
}

func maskCode(code string) string {
	if len(code) <= 2 {
		return "**"
	}
	return strings.Repeat("*", len(code)-2) + code[len(code)-2:]
}
