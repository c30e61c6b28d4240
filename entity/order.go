package entity

import (
	"net/http"
	"time"

	"github.com/biter777/countries"
	"hsync/lib/validate"
)

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderCompleted OrderStatus = "completed"
	OrderFailed    OrderStatus = "failed"
)

type PaymentMethod string

const (
	MethodStripe   PaymentMethod = "stripe"
	MethodCallback PaymentMethod = "callback"
)

type Customer struct {
	Name       string `json:"name" bson:"name" validate:"required,max=128"`
	Email      string `json:"email" bson:"email" validate:"required,email"`
	Phone      string `json:"phone,omitempty" bson:"phone"`
	Country    string `json:"country,omitempty" bson:"country" validate:"omitempty,country"`
	TelegramId int64  `json:"telegram_id,omitempty" bson:"telegram_id"`
}

func (c *Customer) CountryCode() string {
	if c.Country == "" {
		return ""
	}
	if len(c.Country) == 2 {
		return c.Country
	}
	country := countries.ByName(c.Country)
	code := country.Alpha2()
	if len(code) == 2 {
		return code
	}
	return ""
}

// Order is an end-customer purchase; OrderId is the payment idempotency key
type Order struct {
	OrderId          string        `json:"order_id"`
	ProfileId        int64         `json:"profile_id"`
	Customer         Customer      `json:"customer"`
	Amount           int64         `json:"amount"`
	Currency         string        `json:"currency"`
	Method           PaymentMethod `json:"method"`
	Status           OrderStatus   `json:"status"`
	PaymentReference string        `json:"payment_reference,omitempty"`
	CheckoutUrl      string        `json:"checkout_url,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	ProcessedAt      *time.Time    `json:"processed_at,omitempty"`
}

func (o *Order) IsPending() bool {
	return o.Status == OrderPending
}

type OrderRequest struct {
	ProfileId int64         `json:"profile_id" validate:"required,min=1"`
	Customer  *Customer     `json:"customer" validate:"required"`
	Method    PaymentMethod `json:"method" validate:"omitempty,oneof=stripe callback"`
}

func (o *OrderRequest) Bind(_ *http.Request) error {
	if o.Method == "" {
		o.Method = MethodStripe
	}
	return validate.Struct(o)
}

// OrderStatusView is what a customer sees when polling an order
type OrderStatusView struct {
	Order   *Order   `json:"order"`
	Voucher *Voucher `json:"voucher,omitempty"`
}
