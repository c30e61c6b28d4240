package entity

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrDuplicateCode       = errors.New("voucher code already in use")
	ErrDuplicateOrder      = errors.New("order already completed")
	ErrOrderNotPending     = errors.New("order is not pending")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrCodeExhausted       = errors.New("unable to allocate a unique voucher code")
	ErrProfileInactive     = errors.New("profile is disabled")
	ErrResellerInactive    = errors.New("reseller is disabled")
	ErrForbidden           = errors.New("forbidden")
	ErrBatchLimit          = errors.New("batch size over limit")
	ErrUnavailable         = errors.New("service not available")
)
