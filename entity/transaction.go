package entity

import "time"

type TransactionKind string

const (
	TxSale  TransactionKind = "sale"
	TxOrder TransactionKind = "order"
	TxIssue TransactionKind = "issue"
	TxTopUp TransactionKind = "top-up"
)

// Transaction is an audit entry for reporting; it never drives state
type Transaction struct {
	Id         string          `json:"id" bson:"id"`
	Kind       TransactionKind `json:"kind" bson:"kind"`
	VoucherId  int64           `json:"voucher_id,omitempty" bson:"voucher_id,omitempty"`
	Code       string          `json:"code,omitempty" bson:"code,omitempty"`
	OrderId    string          `json:"order_id,omitempty" bson:"order_id,omitempty"`
	ResellerId int64           `json:"reseller_id,omitempty" bson:"reseller_id,omitempty"`
	Amount     int64           `json:"amount" bson:"amount"`
	CreatedAt  time.Time       `json:"created_at" bson:"created_at"`
}
