package core

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"hsync/entity"
	"hsync/internal/issuance"
	"hsync/lib/sl"
)

// CreateOrder records a pending purchase of one voucher and, for Stripe,
// opens the checkout the customer pays through
func (c *Core) CreateOrder(ctx context.Context, req *entity.OrderRequest) (*entity.Checkout, error) {
	profile, err := c.ledger.GetProfile(ctx, req.ProfileId)
	if err != nil {
		return nil, fmt.Errorf("profile: %w", err)
	}
	if !profile.Active {
		return nil, entity.ErrProfileInactive
	}
	if req.Method == entity.MethodStripe && c.payments == nil {
		return nil, fmt.Errorf("stripe: %w", entity.ErrUnavailable)
	}

	order := &entity.Order{
		OrderId:   uuid.NewString(),
		ProfileId: profile.Id,
		Customer:  *req.Customer,
		Amount:    profile.RetailPrice,
		Currency:  c.currency,
		Method:    req.Method,
		Status:    entity.OrderPending,
		CreatedAt: c.clock.Now(),
	}
	log := c.log.With(
		slog.String("order_id", order.OrderId),
		slog.String("profile", profile.Name),
		slog.String("method", string(order.Method)),
	)
	if err = c.ledger.CreateOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	if order.Method != entity.MethodStripe {
		log.Info("order created")
		return &entity.Checkout{OrderId: order.OrderId, Amount: order.Amount}, nil
	}

	checkout, err := c.payments.CreateCheckout(order, profile)
	if err != nil {
		log.Error("checkout not created", sl.Err(err))
		return nil, fmt.Errorf("checkout: %w", err)
	}
	if err = c.ledger.SetCheckout(ctx, order.OrderId, checkout.Link, checkout.SessionId); err != nil {
		log.Warn("checkout link not saved", sl.Err(err))
	}
	log.Info("order created")
	return checkout, nil
}

// GetOrderStatus shows the order and, once paid, its voucher
func (c *Core) GetOrderStatus(ctx context.Context, orderId string) (*entity.OrderStatusView, error) {
	order, err := c.ledger.GetOrder(ctx, orderId)
	if err != nil {
		return nil, err
	}
	view := &entity.OrderStatusView{Order: order}
	if order.Status == entity.OrderCompleted {
		view.Voucher, err = c.ledger.GetVoucherByOrder(ctx, orderId)
		if err != nil && !errors.Is(err, entity.ErrNotFound) {
			return nil, err
		}
	}
	return view, nil
}

// ConfirmPayment applies a verified provider notification. A paid order
// gets exactly one voucher; repeats return that voucher as a replay.
func (c *Core) ConfirmPayment(ctx context.Context, n *entity.PaymentNotification) (*entity.PaymentResult, error) {
	log := c.log.With(
		slog.String("order_id", n.OrderId),
		slog.String("transaction_status", n.TransactionStatus),
		slog.String("provider", n.Provider),
	)
	if c.events != nil {
		if err := c.events.SavePaymentEvent(n); err != nil {
			log.Warn("payment event not saved", sl.Err(err))
		}
	}

	order, err := c.ledger.GetOrder(ctx, n.OrderId)
	if err != nil {
		return nil, fmt.Errorf("order %s: %w", n.OrderId, err)
	}
	result := &entity.PaymentResult{OrderId: order.OrderId, Status: string(order.Status)}

	switch {
	case n.IsPaid():
		return c.fulfil(ctx, order, n, result, log)
	case n.IsFailed():
		return c.reject(ctx, order, n, result, log)
	}
	log.Debug("notification ignored")
	return result, nil
}

func (c *Core) fulfil(ctx context.Context, order *entity.Order, n *entity.PaymentNotification, result *entity.PaymentResult, log *slog.Logger) (*entity.PaymentResult, error) {
	switch order.Status {
	case entity.OrderCompleted:
		return c.replay(ctx, order, result, log)
	case entity.OrderFailed:
		log.Warn("payment for a failed order")
		return nil, entity.ErrOrderNotPending
	}

	profile, err := c.ledger.GetProfile(ctx, order.ProfileId)
	if err != nil {
		return nil, fmt.Errorf("profile: %w", err)
	}
	// the order was accepted while the profile was active
	paid := *profile
	paid.Active = true

	v, err := c.issuer.Issue(ctx, issuance.Request{
		Profile:          &paid,
		OrderId:          &order.OrderId,
		PaymentReference: n.TransactionId,
		Amount:           order.Amount,
		Recipient:        order.Customer.TelegramId,
	})
	if errors.Is(err, entity.ErrDuplicateOrder) {
		return c.replay(ctx, order, result, log)
	}
	if err != nil {
		return nil, err
	}
	result.Status = string(entity.OrderCompleted)
	result.Voucher = v
	log.Info("order completed")
	return result, nil
}

func (c *Core) replay(ctx context.Context, order *entity.Order, result *entity.PaymentResult, log *slog.Logger) (*entity.PaymentResult, error) {
	v, err := c.ledger.GetVoucherByOrder(ctx, order.OrderId)
	if err != nil {
		return nil, fmt.Errorf("voucher of completed order: %w", err)
	}
	result.Status = string(entity.OrderCompleted)
	result.Replay = true
	result.Voucher = v
	log.Debug("payment replay")
	return result, nil
}

func (c *Core) reject(ctx context.Context, order *entity.Order, n *entity.PaymentNotification, result *entity.PaymentResult, log *slog.Logger) (*entity.PaymentResult, error) {
	switch order.Status {
	case entity.OrderFailed:
		result.Replay = true
		return result, nil
	case entity.OrderCompleted:
		log.Warn("failure notice for a completed order")
		return result, nil
	}

	err := c.ledger.FailOrder(ctx, order.OrderId, n.TransactionId, c.clock.Now())
	if errors.Is(err, entity.ErrOrderNotPending) {
		// completed concurrently
		result.Status = string(entity.OrderCompleted)
		return result, nil
	}
	if err != nil {
		return nil, err
	}
	result.Status = string(entity.OrderFailed)
	log.Info("order failed")
	if c.notifier != nil {
		c.notifier.NotifyRejected(order, n.TransactionStatus)
	}
	return result, nil
}

func (c *Core) StripeVerifySignature(payload []byte, header string, tolerance time.Duration) bool {
	if c.payments == nil {
		return false
	}
	return c.payments.VerifySignature(payload, header, tolerance)
}

// StripeEvent handles a verified webhook body; events that settle nothing
// return a nil result
func (c *Core) StripeEvent(ctx context.Context, payload []byte) (*entity.PaymentResult, error) {
	if c.payments == nil {
		return nil, entity.ErrUnavailable
	}
	evt, err := c.payments.ParseEvent(payload)
	if err != nil {
		return nil, err
	}
	if c.events != nil {
		if err = c.events.SaveStripeEvent(evt.ID, evt); err != nil {
			c.log.With(slog.String("event_id", evt.ID)).Warn("stripe event not saved", sl.Err(err))
		}
	}
	n := c.payments.Notification(evt)
	if n == nil {
		return nil, nil
	}
	return c.ConfirmPayment(ctx, n)
}

// VerifyCallback checks the hex HMAC-SHA256 of the body under the callback secret
func (c *Core) VerifyCallback(payload []byte, signature string) bool {
	if c.callbackSecret == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(c.callbackSecret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature)))
}
