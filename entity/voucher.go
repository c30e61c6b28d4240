package entity

import (
	"net/http"
	"time"

	"hsync/lib/validate"
)

// Voucher is a single hotspot credential; the code serves as both
// username and password on the controller
type Voucher struct {
	Id          int64      `json:"id"`
	Code        string     `json:"code"`
	ProfileId   int64      `json:"profile_id"`
	ProfileName string     `json:"profile_name"`
	Price       int64      `json:"price"`
	Duration    Duration   `json:"duration"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	Used        bool       `json:"used"`
	UsedAt      *time.Time `json:"used_at,omitempty"`
	ResellerId  *int64     `json:"reseller_id,omitempty"`
	OrderId     *string    `json:"order_id,omitempty"`
}

func (v *Voucher) IsExpired(now time.Time) bool {
	return now.After(v.ExpiresAt)
}

// Funding tells the ledger how a voucher insert is paid for. Exactly one of
// the fields is set for paid vouchers; both nil means operator issuance.
type Funding struct {
	OrderId          *string
	PaymentReference string
	ResellerId       *int64
	Amount           int64
}

// SaleRequest is a reseller asking for one or more vouchers
type SaleRequest struct {
	ProfileId int64 `json:"profile_id" validate:"required,min=1"`
	Count     int   `json:"count" validate:"omitempty,min=1"`
}

func (s *SaleRequest) Bind(_ *http.Request) error {
	if s.Count == 0 {
		s.Count = 1
	}
	return validate.Struct(s)
}

// IssueRequest is an operator issuing vouchers without funding
type IssueRequest struct {
	ProfileId int64 `json:"profile_id" validate:"required,min=1"`
	Count     int   `json:"count" validate:"omitempty,min=1,max=500"`
}

func (i *IssueRequest) Bind(_ *http.Request) error {
	if i.Count == 0 {
		i.Count = 1
	}
	return validate.Struct(i)
}
