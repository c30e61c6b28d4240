package entity

import (
	"net/http"
	"strings"
	"time"

	"hsync/lib/validate"
)

// PaymentNotification is a verified statement from a payment provider
// about one order
type PaymentNotification struct {
	OrderId           string    `json:"order_id" bson:"order_id" validate:"required,min=1,max=64"`
	TransactionStatus string    `json:"transaction_status" bson:"transaction_status" validate:"required"`
	TransactionId     string    `json:"transaction_id" bson:"transaction_id"`
	Provider          string    `json:"provider,omitempty" bson:"provider"`
	ReceivedAt        time.Time `json:"-" bson:"received_at"`
}

func (p *PaymentNotification) Bind(_ *http.Request) error {
	p.ReceivedAt = time.Now()
	if p.Provider == "" {
		p.Provider = string(MethodCallback)
	}
	return validate.Struct(p)
}

func (p *PaymentNotification) IsPaid() bool {
	switch strings.ToLower(p.TransactionStatus) {
	case "settlement", "capture", "success", "paid":
		return true
	}
	return false
}

func (p *PaymentNotification) IsFailed() bool {
	switch strings.ToLower(p.TransactionStatus) {
	case "deny", "cancel", "expire", "failure":
		return true
	}
	return false
}

// PaymentResult is returned to the payment provider callback
type PaymentResult struct {
	OrderId string   `json:"order_id"`
	Status  string   `json:"status"`
	Replay  bool     `json:"replay,omitempty"`
	Voucher *Voucher `json:"voucher,omitempty"`
}

// Checkout is returned to the customer after an order is placed
type Checkout struct {
	OrderId   string `json:"order_id"`
	Amount    int64  `json:"amount"`
	Link      string `json:"link,omitempty"`
	SessionId string `json:"-"`
}
