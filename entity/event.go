package entity

import "time"

// IssuanceEvent is sent to the notification sink after a voucher is issued
type IssuanceEvent struct {
	Code        string
	ProfileName string
	ExpiresAt   time.Time
	Recipient   int64
	OrderId     string
	ResellerId  int64
}
