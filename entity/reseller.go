package entity

import (
	"net/http"

	"hsync/lib/validate"
)

// Reseller is a prepaid account; Balance is in minor currency units
type Reseller struct {
	Id         int64  `json:"id"`
	Name       string `json:"name"`
	Balance    int64  `json:"balance"`
	TelegramId int64  `json:"telegram_id,omitempty"`
	Active     bool   `json:"active"`
}

type ResellerRequest struct {
	Name       string `json:"name" validate:"required,min=1,max=128"`
	TelegramId int64  `json:"telegram_id" validate:"omitempty,min=1"`
}

func (r *ResellerRequest) Bind(_ *http.Request) error {
	return validate.Struct(r)
}

type TopUpRequest struct {
	Amount int64 `json:"amount" validate:"required,min=1"`
}

func (t *TopUpRequest) Bind(_ *http.Request) error {
	return validate.Struct(t)
}
